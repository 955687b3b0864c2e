package predictor

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/fraudscope/internal/features"
	"github.com/mbd888/fraudscope/internal/logging"
)

// Handler provides HTTP endpoints for scoring
type Handler struct {
	service *Service
}

// NewHandler creates a new scoring handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up scoring routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/predict", h.Predict)
	r.POST("/predict/batch", h.PredictBatch)
}

// RegisterAPIRoutes sets up routes under the versioned API group
func (h *Handler) RegisterAPIRoutes(r gin.IRoutes) {
	r.GET("/model", h.ModelInfo)
}

// Predict handles POST /predict
func (h *Handler) Predict(c *gin.Context) {
	var raw map[string]any
	if !decodeBody(c, &raw) {
		return
	}

	res, err := h.service.Score(c.Request.Context(), raw)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// BatchRequest is the body of POST /predict/batch
type BatchRequest struct {
	Transactions []map[string]any `json:"transactions"`
}

// PredictBatch handles POST /predict/batch
func (h *Handler) PredictBatch(c *gin.Context) {
	var req BatchRequest
	if !decodeBody(c, &req) {
		return
	}

	res, err := h.service.ScoreBatch(c.Request.Context(), req.Transactions)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ModelInfo handles GET /api/v1/model
func (h *Handler) ModelInfo(c *gin.Context) {
	info, err := h.service.Predictor().Info()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Model not loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": info})
}

// decodeBody reads a JSON body keeping numbers as json.Number. It writes the
// error response and returns false when the body is unusable.
func decodeBody(c *gin.Context, v any) bool {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read request body"})
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": features.MsgNoInput})
		return false
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return false
	}
	return true
}

// writeError maps err onto a response. Field problems are listed under
// "fields"; "error" carries the first one.
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *features.ValidationError
	switch {
	case errors.As(err, &verr):
		body := gin.H{"error": verr.Error()}
		if len(verr.Fields) > 0 {
			body["fields"] = verr.Fields
		}
		c.JSON(http.StatusBadRequest, body)
		return
	case errors.Is(err, features.ErrNoInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": features.MsgNoInput})
		return
	case IsInputError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logging.L(c.Request.Context()).Error("prediction failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
