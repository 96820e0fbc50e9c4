// Package gateway is the HTTP client for the brokerage order-placement
// API. It classifies failures into retryable and fatal so the executor
// knows whether another attempt can help.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Config holds gateway connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Outbound request budget; 0 disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

// Client talks to the order gateway.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New builds a gateway client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return c
}

// OrderRequest is the order intent sent to the gateway. Fired triggers
// always place market orders.
type OrderRequest struct {
	InstrumentToken uint32  `json:"instrument"`
	Direction       string  `json:"direction"`
	Quantity        float64 `json:"quantity"`
	OrderType       string  `json:"order_type"`
	Product         string  `json:"product_type"`
	ClientID        string  `json:"client_id,omitempty"`
}

// OrderResponse is the gateway ack.
type OrderResponse struct {
	OrderID string `json:"order_id"`
}

// Error is a structured gateway failure. Retryable failures (timeouts,
// rate limits, transient 5xx) may succeed on another attempt; fatal ones
// (business-rule rejections) never will.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: %s: %s (http %d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("gateway: %s (http %d)", e.Message, e.StatusCode)
}

// Business-rule rejections that must never be retried, regardless of the
// HTTP status they arrive with.
var fatalCodes = map[string]struct{}{
	"insufficient_funds": {},
	"invalid_instrument": {},
	"market_closed":      {},
	"order_rejected":     {},
}

// IsRetryable reports whether another attempt at the same request could
// succeed. Network-level failures and timeouts count as retryable.
func IsRetryable(err error) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Retryable
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// PlaceOrder submits a market order and returns the gateway order id.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return OrderResponse{}, err
		}
	}
	if req.OrderType == "" {
		req.OrderType = "market"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("encode order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return OrderResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Transport failure: nothing reached the venue, retry is safe.
		return OrderResponse{}, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return OrderResponse{}, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out OrderResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return OrderResponse{}, fmt.Errorf("decode order response: %w", err)
		}
		if out.OrderID == "" {
			return OrderResponse{}, &Error{StatusCode: resp.StatusCode, Message: "missing order_id in response"}
		}
		return out, nil
	}

	return OrderResponse{}, classify(resp.StatusCode, raw)
}

func classify(status int, raw []byte) *Error {
	var env errorEnvelope
	_ = json.Unmarshal(raw, &env)

	gerr := &Error{
		StatusCode: status,
		Code:       env.Error.Code,
		Message:    env.Error.Message,
	}
	if gerr.Message == "" {
		gerr.Message = http.StatusText(status)
	}

	if _, fatal := fatalCodes[gerr.Code]; fatal {
		return gerr
	}
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		gerr.Retryable = true
	}
	return gerr
}
