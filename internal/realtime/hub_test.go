package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func flagged(prob, amount float64) *Event {
	return &Event{Type: EventPrediction, Data: Prediction{
		TransactionID:    "tx-1",
		Amount:           amount,
		FraudProbability: prob,
		FraudFlag:        1,
		Decision:         "FLAGGED",
	}}
}

func safe(prob float64) *Event {
	return &Event{Type: EventPrediction, Data: Prediction{
		TransactionID:    "tx-2",
		Amount:           100,
		FraudProbability: prob,
		Decision:         "SAFE",
	}}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	client := &Client{sub: Subscription{AllEvents: true, MinProbability: 0.99}}
	assert.True(t, shouldSend(client, safe(0.1)), "AllEvents ignores other filters")
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	client := &Client{sub: Subscription{EventTypes: []EventType{EventModelReloaded}}}

	assert.False(t, shouldSend(client, safe(0.1)))
	assert.True(t, shouldSend(client, &Event{Type: EventModelReloaded, Data: map[string]any{"version": "2"}}))
}

func TestShouldSend_DecisionFilter(t *testing.T) {
	client := &Client{sub: Subscription{Decisions: []string{"FLAGGED"}}}

	assert.True(t, shouldSend(client, flagged(0.9, 20000)))
	assert.False(t, shouldSend(client, safe(0.1)))
}

func TestShouldSend_ThresholdFilters(t *testing.T) {
	client := &Client{sub: Subscription{MinProbability: 0.8, MinAmount: 10000}}

	assert.True(t, shouldSend(client, flagged(0.9, 20000)))
	assert.False(t, shouldSend(client, flagged(0.7, 20000)))
	assert.False(t, shouldSend(client, flagged(0.9, 500)))
}

func TestShouldSend_NonPredictionData(t *testing.T) {
	client := &Client{sub: Subscription{Decisions: []string{"FLAGGED"}, MinAmount: 10}}
	event := &Event{Type: EventModelReloaded, Data: "v2"}
	assert.True(t, shouldSend(client, event), "prediction filters only apply to predictions")
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	assert.Equal(t, 0, stats["connectedClients"])
	assert.Equal(t, int64(0), stats["totalEvents"])
}

func TestHub_RegisterUnregister(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { h.Run(ctx); close(done) }()

	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{AllEvents: true}}
	h.register <- client
	assert.Eventually(t, func() bool { return h.Stats()["connectedClients"] == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats()["peakClients"])

	h.unregister <- client
	assert.Eventually(t, func() bool { return h.Stats()["connectedClients"] == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats()["peakClients"], "peak survives disconnect")

	cancel()
	<-done
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{Decisions: []string{"FLAGGED"}}}
	h.register <- client

	h.Broadcast(safe(0.2))
	h.BroadcastPrediction(Prediction{TransactionID: "tx-9", FraudProbability: 0.93, FraudFlag: 1, Decision: "FLAGGED"})

	select {
	case msg := <-client.send:
		var ev struct {
			Type EventType  `json:"type"`
			Data Prediction `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, EventPrediction, ev.Type)
		assert.Equal(t, "tx-9", ev.Data.TransactionID)
	case <-time.After(time.Second):
		t.Fatal("flagged prediction was not delivered")
	}

	select {
	case <-client.send:
		t.Error("safe prediction should have been filtered")
	default:
	}
}

func TestHub_WebSocketRoundTrip(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { h.Run(ctx); close(done) }()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return h.Stats()["connectedClients"] == 1 }, 2*time.Second, 10*time.Millisecond)

	h.BroadcastPrediction(Prediction{TransactionID: "tx-ws", Decision: "SAFE", FraudProbability: 0.01})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"transaction_id":"tx-ws"`)

	cancel()
	<-done
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}

	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "upgrades are refused after shutdown")
}
