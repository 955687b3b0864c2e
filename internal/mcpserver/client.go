package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to a fraudscope server.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // optional bearer token for a fronting proxy
}

// FraudscopeClient is a pure HTTP client for the fraudscope API.
type FraudscopeClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewFraudscopeClient creates a new client for a fraudscope server.
func NewFraudscopeClient(cfg Config) *FraudscopeClient {
	return &FraudscopeClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the server.
type apiError struct {
	Error   string   `json:"error"`
	Details []string `json:"details"`
}

// doRequest makes an HTTP request to the server and returns the response body.
func (c *FraudscopeClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Predict scores one transaction.
func (c *FraudscopeClient) Predict(ctx context.Context, tx map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/predict", nil, tx)
}

// Summary returns every dashboard section.
func (c *FraudscopeClient) Summary(ctx context.Context, freq string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/dashboard-data", freqQuery(freq), nil)
}

// FraudBy returns flagged counts per "network" or "transaction_type".
func (c *FraudscopeClient) FraudBy(ctx context.Context, dimension string) (json.RawMessage, error) {
	switch dimension {
	case "network":
		return c.doRequest(ctx, http.MethodGet, "/api/v1/dashboard/fraud-by-network", nil, nil)
	case "transaction_type":
		return c.doRequest(ctx, http.MethodGet, "/api/v1/dashboard/fraud-by-transaction-type", nil, nil)
	default:
		return nil, fmt.Errorf("unknown breakdown %q (want network or transaction_type)", dimension)
	}
}

// TransactionsOverTime returns bucketed transaction counts.
func (c *FraudscopeClient) TransactionsOverTime(ctx context.Context, freq string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/dashboard/transactions-over-time", freqQuery(freq), nil)
}

// ModelInfo returns the active bundle metadata.
func (c *FraudscopeClient) ModelInfo(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/model", nil, nil)
}

func freqQuery(freq string) url.Values {
	if freq == "" {
		return nil
	}
	return url.Values{"freq": {freq}}
}
