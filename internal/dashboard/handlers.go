package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/fraudscope/internal/logging"
	"github.com/mbd888/fraudscope/internal/pagination"
	"github.com/mbd888/fraudscope/internal/transactions"
	"github.com/mbd888/fraudscope/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// Handler provides dashboard API endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new dashboard handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the page data endpoint at the root.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/dashboard-data", h.Data)
}

// RegisterAPIRoutes sets up dashboard routes under the versioned API group.
func (h *Handler) RegisterAPIRoutes(r gin.IRoutes) {
	r.GET("/dashboard/kpis", h.KPIs)
	r.GET("/dashboard/fraud-vs-non-fraud", h.FraudVsNonFraud)
	r.GET("/dashboard/fraud-by-network", h.FraudByNetwork)
	r.GET("/dashboard/fraud-by-transaction-type", h.FraudByTransactionType)
	r.GET("/dashboard/transactions-over-time", h.TransactionsOverTime)
	r.GET("/transactions", h.Transactions)
}

// Data returns every dashboard section in one response.
func (h *Handler) Data(c *gin.Context) {
	freq, ok := freqParam(c)
	if !ok {
		return
	}
	data, err := h.service.SummaryJSON(c.Request.Context(), freq)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// KPIs returns the headline numbers.
func (h *Handler) KPIs(c *gin.Context) {
	h.section(c, FreqDaily, func(s *Summary) any { return s.KPIs })
}

// FraudVsNonFraud returns flagged and unflagged counts.
func (h *Handler) FraudVsNonFraud(c *gin.Context) {
	h.section(c, FreqDaily, func(s *Summary) any { return s.FraudVsNonFraud })
}

// FraudByNetwork returns flagged counts per network type.
func (h *Handler) FraudByNetwork(c *gin.Context) {
	h.section(c, FreqDaily, func(s *Summary) any { return s.FraudByNetwork })
}

// FraudByTransactionType returns flagged counts per transaction type.
func (h *Handler) FraudByTransactionType(c *gin.Context) {
	h.section(c, FreqDaily, func(s *Summary) any { return s.FraudByTransactionType })
}

// TransactionsOverTime returns the bucketed transaction count.
func (h *Handler) TransactionsOverTime(c *gin.Context) {
	freq, ok := freqParam(c)
	if !ok {
		return
	}
	sum, err := h.service.Summary(c.Request.Context(), freq)
	if err != nil {
		h.fail(c, err)
		return
	}
	if sum.SeriesError != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": sum.SeriesError})
		return
	}
	c.JSON(http.StatusOK, sum.TransactionsOverTime)
}

// Transactions lists recent rows, optionally filtered by source and decision.
func (h *Handler) Transactions(c *gin.Context) {
	source := c.Query("source")
	decision := c.Query("decision")
	limit := c.Query("limit")
	cursor := c.Query("cursor")

	if errs := validation.Validate(
		validation.OneOf("source", source, string(transactions.SourceHistorical), string(transactions.SourcePredicted)),
		validation.OneOf("decision", decision, transactions.DecisionFlagged, transactions.DecisionSafe),
		validation.IntRange("limit", limit, 1, maxListLimit),
		validation.MaxLength("cursor", cursor, validation.MaxStringLength),
	); len(errs) > 0 {
		validation.Abort(c, errs)
		return
	}

	n := defaultListLimit
	if limit != "" {
		n, _ = strconv.Atoi(limit)
	}
	after, err := pagination.Decode(cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := h.service.Transactions(c.Request.Context(), transactions.Filter{
		Source:   transactions.Source(source),
		Decision: decision,
		Limit:    n,
		After:    after,
	})
	if errors.Is(err, transactions.ErrStaleCursor) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	rows := page.Records
	if rows == nil {
		rows = []*transactions.Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": rows,
		"count":        len(rows),
		"next_cursor":  page.NextCursor,
		"has_more":     page.HasMore,
	})
}

func (h *Handler) section(c *gin.Context, freq string, pick func(*Summary) any) {
	sum, err := h.service.Summary(c.Request.Context(), freq)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pick(sum))
}

func freqParam(c *gin.Context) (string, bool) {
	freq, err := ParseFreq(c.DefaultQuery("freq", FreqDaily))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return freq, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidFreq):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		c.Status(499)
	default:
		logging.L(c.Request.Context()).Error("dashboard query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
