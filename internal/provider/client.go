package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Cypherspark/shopsense/internal/logging"
	"github.com/Cypherspark/shopsense/internal/metrics"
)

// Client talks to the messaging provider's REST API. It does not retry; the
// delivery engine decides when to try again.
type Client struct {
	baseURL    string
	apiKey     string
	fromNumber string
	http       *http.Client
	log        *zap.Logger
}

type ClientOptions struct {
	BaseURL    string
	APIKey     string
	FromNumber string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func NewClient(opt ClientOptions) *Client {
	hc := opt.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opt.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(opt.BaseURL, "/"),
		apiKey:     opt.APIKey,
		fromNumber: opt.FromNumber,
		http:       hc,
		log:        logging.OrNop(opt.Logger).Named("provider"),
	}
}

type sendRequest struct {
	To   []string `json:"to"`
	Text string   `json:"text"`
	From string   `json:"from"`
}

type sendResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type listResponse struct {
	Data []RawMessage `json:"data"`
}

// SendSMS sends message to the given number. Any 2xx counts as success.
func (c *Client) SendSMS(ctx context.Context, to, message string) (bool, error) {
	_, err := c.send(ctx, to, message)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Send implements Provider and returns the provider's message id when it reports one.
func (c *Client) Send(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, to, body)
}

func (c *Client) send(ctx context.Context, to, message string) (string, error) {
	start := time.Now()
	payload, err := json.Marshal(sendRequest{To: []string{to}, Text: message, From: c.fromNumber})
	if err != nil {
		return "", c.fail("send", ErrSendFailed, err)
	}
	status, body, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	metrics.ProviderCallDuration.WithLabelValues("send").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", c.fail("send", ErrSendFailed, err)
	}
	if status < 200 || status > 299 {
		return "", c.fail("send", ErrSendFailed, fmt.Errorf("status %d: %s", status, truncate(body, 256)))
	}
	metrics.ProviderCalls.WithLabelValues("send", "ok").Inc()

	var out sendResponse
	// an unparseable success body still means the provider accepted the message
	_ = json.Unmarshal(body, &out)
	return out.Data.ID, nil
}

// GetMessages lists up to limit recent messages. A response without a data array yields an empty slice.
func (c *Client) GetMessages(ctx context.Context, limit int) ([]RawMessage, error) {
	start := time.Now()
	q := url.Values{"limit": []string{strconv.Itoa(limit)}}
	status, body, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/messages?"+q.Encode(), nil)
	metrics.ProviderCallDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.fail("fetch", ErrFetchFailed, err)
	}
	if status < 200 || status > 299 {
		return nil, c.fail("fetch", ErrFetchFailed, fmt.Errorf("status %d: %s", status, truncate(body, 256)))
	}
	var out listResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, c.fail("fetch", ErrFetchFailed, err)
	}
	metrics.ProviderCalls.WithLabelValues("fetch", "ok").Inc()
	if out.Data == nil {
		return []RawMessage{}, nil
	}
	return out.Data, nil
}

// Fetch implements Provider.
func (c *Client) Fetch(ctx context.Context, limit int) ([]RawMessage, error) {
	return c.GetMessages(ctx, limit)
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

// fail logs the underlying cause and returns only the generic error.
func (c *Client) fail(op string, kind, cause error) error {
	metrics.ProviderCalls.WithLabelValues(op, "error").Inc()
	c.log.Warn("provider call failed", zap.String("op", op), zap.Error(cause))
	return fmt.Errorf("%w: %w", kind, ErrTransport)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
