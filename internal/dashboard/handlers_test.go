package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/mbd888/fraudscope/internal/features"
	"github.com/mbd888/fraudscope/internal/metrics"
	"github.com/mbd888/fraudscope/internal/pagination"
	"github.com/mbd888/fraudscope/internal/transactions"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func day(d, h int) time.Time {
	return time.Date(2024, time.June, d, h, 30, 0, 0, time.UTC)
}

func rec(flag int, network, txType string, amount float64, at time.Time) *transactions.Record {
	return &transactions.Record{
		Transaction: features.Transaction{
			TransactionType: txType,
			NetworkType:     network,
			Amount:          amount,
		},
		FraudFlag: flag,
		Decision:  transactions.DecisionFor(flag),
		Timestamp: at.Format(transactions.TimestampLayout),
		Time:      at,
		Source:    transactions.SourceHistorical,
	}
}

type staticSource struct {
	rows []*transactions.Record
	err  error
	hits int
}

func (s *staticSource) List(context.Context) ([]*transactions.Record, error) {
	s.hits++
	return s.rows, s.err
}

func sampleRows() []*transactions.Record {
	return []*transactions.Record{
		rec(1, "4G", "P2P", 100.10, day(4, 10)),
		rec(0, "4G", "P2M", 50.05, day(4, 11)),
		rec(1, "WiFi", "P2P", 2000, day(6, 1)),
		rec(1, "4G", "Recharge", 10, day(6, 2)),
		rec(1, "", "", 5, day(6, 3)),
	}
}

// ---------------------------------------------------------------------------
// Aggregates
// ---------------------------------------------------------------------------

func TestComputeKPIs(t *testing.T) {
	k := ComputeKPIs(sampleRows())
	assert.Equal(t, 5, k.TotalTransactions)
	assert.Equal(t, 4, k.FraudTransactions)
	assert.Equal(t, 80.0, k.FraudRate)
	assert.True(t, decimal.RequireFromString("2165.15").Equal(k.TotalAmount), k.TotalAmount.String())
	assert.True(t, decimal.RequireFromString("2115.1").Equal(k.FlaggedAmount), k.FlaggedAmount.String())

	rows := []*transactions.Record{rec(1, "", "", 1, day(1, 1)), rec(0, "", "", 1, day(1, 1)), rec(0, "", "", 1, day(1, 1))}
	assert.Equal(t, 33.33, ComputeKPIs(rows).FraudRate)
}

func TestComputeKPIs_Empty(t *testing.T) {
	k := ComputeKPIs(nil)
	assert.Zero(t, k.TotalTransactions)
	assert.Zero(t, k.FraudRate)

	data, err := json.Marshal(k)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_transactions":0,"fraud_transactions":0,"fraud_rate":0,"total_amount":"0","flagged_amount":"0"}`, string(data))
}

func TestComputeFraudSplit(t *testing.T) {
	assert.Equal(t, FraudSplit{Fraud: 4, NonFraud: 1}, ComputeFraudSplit(sampleRows()))
	assert.Equal(t, FraudSplit{}, ComputeFraudSplit(nil))
}

func TestFraudBy(t *testing.T) {
	byNetwork := FraudBy(sampleRows(), Network)
	want := Breakdown{{Key: "4G", Count: 2}, {Key: "WiFi", Count: 1}}
	if diff := cmp.Diff(want, byNetwork); diff != "" {
		t.Errorf("FraudBy(Network) mismatch (-want +got):\n%s", diff)
	}

	// Ties are ordered by name.
	byType := FraudBy(sampleRows(), TransactionType)
	want = Breakdown{{Key: "P2P", Count: 2}, {Key: "Recharge", Count: 1}}
	if diff := cmp.Diff(want, byType); diff != "" {
		t.Errorf("FraudBy(TransactionType) mismatch (-want +got):\n%s", diff)
	}
}

func TestBreakdownJSONKeepsOrder(t *testing.T) {
	b := Breakdown{{Key: "WiFi", Count: 9}, {Key: "4G", Count: 2}, {Key: `odd "name"`, Count: 1}}
	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, `{"WiFi":9,"4G":2,"odd \"name\"":1}`, string(data))

	var back Breakdown
	require.NoError(t, json.Unmarshal(data, &back))
	if diff := cmp.Diff(b, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	data, err = json.Marshal(Breakdown{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}

func TestTransactionsOverTime_Daily(t *testing.T) {
	rows := sampleRows()
	rows = append(rows,
		&transactions.Record{Timestamp: "2024-06-06T23:59:59.000000"},
		&transactions.Record{Timestamp: "not a date"},
	)

	series, err := TransactionsOverTime(rows, "D")
	require.NoError(t, err)

	data, err := json.Marshal(series)
	require.NoError(t, err)
	assert.Equal(t, `{"2024-06-04 00:00:00":2,"2024-06-05 00:00:00":0,"2024-06-06 00:00:00":4}`, string(data))
}

func TestTransactionsOverTime_Hourly(t *testing.T) {
	rows := []*transactions.Record{
		rec(0, "", "", 1, day(4, 22)),
		rec(0, "", "", 1, day(5, 1)),
		rec(0, "", "", 1, day(5, 1)),
	}
	series, err := TransactionsOverTime(rows, "h")
	require.NoError(t, err)
	require.Len(t, series, 4)
	assert.Equal(t, day(4, 22).Truncate(time.Hour), series[0].Bucket)
	assert.Equal(t, []int{1, 0, 0, 2}, []int{series[0].Count, series[1].Count, series[2].Count, series[3].Count})
}

func TestTransactionsOverTime_Errors(t *testing.T) {
	_, err := TransactionsOverTime(sampleRows(), "W")
	assert.ErrorIs(t, err, ErrInvalidFreq)

	wide := []*transactions.Record{
		rec(0, "", "", 1, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)),
		rec(0, "", "", 1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	_, err = TransactionsOverTime(wide, "H")
	assert.ErrorIs(t, err, ErrRangeTooWide)

	series, err := TransactionsOverTime(nil, "D")
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestSeriesRoundTrip(t *testing.T) {
	in := Series{{Bucket: day(4, 0).Truncate(24 * time.Hour), Count: 3}, {Bucket: day(5, 0).Truncate(24 * time.Hour), Count: 0}}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Series
	require.NoError(t, json.Unmarshal(data, &out))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func TestMemoryCache_TTL(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok, "entry expires at ttl")
}

func TestMemoryCache_Invalidate(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1")))
	require.NoError(t, c.Set(ctx, "b", []byte("2")))

	c.Invalidate(ctx)

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)
}

func TestMemoryCache_ZeroTTLDisables(t *testing.T) {
	c := NewMemoryCache(0)
	require.NoError(t, c.Set(context.Background(), "k", []byte("v")))
	_, ok, _ := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

func TestService_CachesUntilInvalidated(t *testing.T) {
	hist := &staticSource{rows: sampleRows()}
	store := transactions.NewMemoryStore()
	cache := NewMemoryCache(time.Minute)
	svc := NewService(hist, store).WithCache(cache)
	ctx := context.Background()

	hitsBefore := promtest.ToFloat64(metrics.DashboardCacheTotal.WithLabelValues("hit"))

	sum, err := svc.Summary(ctx, "D")
	require.NoError(t, err)
	assert.Equal(t, 5, sum.KPIs.TotalTransactions)

	_, err = svc.Summary(ctx, "D")
	require.NoError(t, err)
	assert.Equal(t, 1, hist.hits, "second call served from cache")
	assert.Equal(t, hitsBefore+1, promtest.ToFloat64(metrics.DashboardCacheTotal.WithLabelValues("hit")))

	p := 0.9
	require.NoError(t, store.Append(ctx, &transactions.Record{
		TransactionID:    "tx-1",
		Transaction:      features.Transaction{NetworkType: "5G", TransactionType: "P2P", Amount: 1},
		FraudProbability: &p,
		FraudFlag:        1,
		Decision:         transactions.DecisionFlagged,
		Time:             day(7, 9),
		Timestamp:        day(7, 9).Format(transactions.TimestampLayout),
		Source:           transactions.SourcePredicted,
	}))
	cache.Invalidate(ctx)

	sum, err = svc.Summary(ctx, "D")
	require.NoError(t, err)
	assert.Equal(t, 2, hist.hits)
	assert.Equal(t, 6, sum.KPIs.TotalTransactions)
	assert.Equal(t, 5, sum.KPIs.FraudTransactions)
	assert.Len(t, sum.TransactionsOverTime, 4)
}

func TestService_SourceError(t *testing.T) {
	svc := NewService(&staticSource{err: errors.New("boom")}, nil)
	_, err := svc.Summary(context.Background(), "D")
	assert.ErrorContains(t, err, "boom")
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func setupRouter(hist transactions.HistoricalSource, store transactions.Store) *gin.Engine {
	h := NewHandler(NewService(hist, store).WithCache(NewMemoryCache(time.Minute)))
	r := gin.New()
	h.RegisterRoutes(r)
	h.RegisterAPIRoutes(r.Group("/api/v1"))
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestDashboardData(t *testing.T) {
	r := setupRouter(&staticSource{rows: sampleRows()}, transactions.NewMemoryStore())

	w := get(r, "/dashboard-data")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	for _, key := range []string{"kpis", "fraud_vs_non_fraud", "fraud_by_network", "fraud_by_transaction_type", "transactions_over_time"} {
		assert.Contains(t, body, key)
	}
	assert.Equal(t, `{"4G":2,"WiFi":1}`, string(body["fraud_by_network"]))
	assert.JSONEq(t, `{"fraud":4,"non_fraud":1}`, string(body["fraud_vs_non_fraud"]))
}

func TestDashboardData_Empty(t *testing.T) {
	r := setupRouter(nil, transactions.NewMemoryStore())

	w := get(r, "/dashboard-data")
	require.Equal(t, http.StatusOK, w.Code)

	var sum Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Zero(t, sum.KPIs.TotalTransactions)
	assert.Empty(t, sum.FraudByNetwork)
	assert.Empty(t, sum.TransactionsOverTime)
}

func TestSectionEndpoints(t *testing.T) {
	r := setupRouter(&staticSource{rows: sampleRows()}, nil)

	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/dashboard/fraud-vs-non-fraud", `{"fraud":4,"non_fraud":1}`},
		{"/api/v1/dashboard/fraud-by-network", `{"4G":2,"WiFi":1}`},
		{"/api/v1/dashboard/fraud-by-transaction-type", `{"P2P":2,"Recharge":1}`},
		{"/api/v1/dashboard/transactions-over-time", `{"2024-06-04 00:00:00":2,"2024-06-05 00:00:00":0,"2024-06-06 00:00:00":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(r, tt.path)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}

	w := get(r, "/api/v1/dashboard/kpis")
	require.Equal(t, http.StatusOK, w.Code)
	var k KPIs
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &k))
	assert.Equal(t, 80.0, k.FraudRate)
}

func TestTransactionsOverTime_HourlyAndBadFreq(t *testing.T) {
	r := setupRouter(&staticSource{rows: sampleRows()}, nil)

	w := get(r, "/api/v1/dashboard/transactions-over-time?freq=H")
	require.Equal(t, http.StatusOK, w.Code)
	var s Series
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, day(4, 10).Truncate(time.Hour), s[0].Bucket)

	for _, path := range []string{
		"/api/v1/dashboard/transactions-over-time?freq=W",
		"/dashboard-data?freq=M",
	} {
		w := get(r, path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.JSONEq(t, `{"error":"freq must be D or H"}`, w.Body.String())
	}
}

func TestTransactionsList(t *testing.T) {
	store := transactions.NewMemoryStore()
	p := 0.81
	require.NoError(t, store.Append(context.Background(), &transactions.Record{
		TransactionID:    "tx-pred",
		FraudProbability: &p,
		FraudFlag:        1,
		Decision:         transactions.DecisionFlagged,
		Source:           transactions.SourcePredicted,
	}))
	r := setupRouter(&staticSource{rows: sampleRows()}, store)

	w := get(r, "/api/v1/transactions?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Transactions []transactions.Record `json:"transactions"`
		Count        int                   `json:"count"`
		NextCursor   string                `json:"next_cursor"`
		HasMore      bool                  `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "tx-pred", body.Transactions[0].TransactionID, "newest first")
	require.True(t, body.HasMore)
	require.NotEmpty(t, body.NextCursor)

	w = get(r, "/api/v1/transactions?limit=10&cursor="+body.NextCursor)
	require.Equal(t, http.StatusOK, w.Code)
	body.NextCursor = ""
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, len(sampleRows())-1, body.Count)
	assert.False(t, body.HasMore)
	assert.Empty(t, body.NextCursor)

	w = get(r, "/api/v1/transactions?cursor="+pagination.Encode(99, "gone"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get(r, "/api/v1/transactions?source=historical&decision=safe")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	for _, q := range []string{"?limit=0", "?limit=x", "?cursor=bm9waXBl", "?source=other", "?decision=maybe"} {
		w := get(r, "/api/v1/transactions"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestTransactionsList_NonFiniteProbability(t *testing.T) {
	store := transactions.NewMemoryStore()
	nan := math.NaN()
	require.NoError(t, store.Append(context.Background(), &transactions.Record{
		TransactionID:    "tx-nan",
		FraudProbability: &nan,
		Decision:         transactions.DecisionSafe,
		Source:           transactions.SourcePredicted,
	}))
	r := setupRouter(&staticSource{rows: sampleRows()}, store)

	w := get(r, "/api/v1/transactions?limit=50")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Transactions []map[string]any `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Transactions)
	assert.Equal(t, "tx-nan", body.Transactions[0]["transaction_id"])
	assert.Nil(t, body.Transactions[0]["fraud_probability"])
}

func TestWideTimeRangeOnlyFailsSeries(t *testing.T) {
	rows := append(sampleRows(), rec(0, "5G", "P2P", 1, time.Date(1800, 1, 1, 0, 0, 0, 0, time.UTC)))
	r := setupRouter(&staticSource{rows: rows}, nil)

	w := get(r, "/api/v1/dashboard/kpis")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var k KPIs
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &k))
	assert.Equal(t, 6, k.TotalTransactions)

	for _, path := range []string{
		"/api/v1/dashboard/fraud-vs-non-fraud",
		"/api/v1/dashboard/fraud-by-network",
		"/api/v1/dashboard/fraud-by-transaction-type",
	} {
		assert.Equal(t, http.StatusOK, get(r, path).Code, path)
	}

	w = get(r, "/api/v1/dashboard/transactions-over-time?freq=D")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"time range exceeds 50000 buckets"}`, w.Body.String())

	w = get(r, "/dashboard-data")
	require.Equal(t, http.StatusOK, w.Code)
	var sum Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 6, sum.KPIs.TotalTransactions)
	assert.Empty(t, sum.TransactionsOverTime)
	assert.Equal(t, ErrRangeTooWide.Error(), sum.SeriesError)
}

func TestHandlerSourceFailure(t *testing.T) {
	r := setupRouter(&staticSource{err: errors.New("disk")}, nil)

	w := get(r, "/dashboard-data")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
}
