package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Cypherspark/shopsense/internal/core"
)

var ErrRequestFailed = errors.New("backend request failed")

// ListLimit is the page size requested from the backend, its largest accepted
// value. Without it the backend returns only its default 200.
const ListLimit = 1000

// Client calls the ShopSense backend message API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) ListMessages(ctx context.Context) ([]core.Message, error) {
	var out struct {
		Messages []core.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages?limit="+strconv.Itoa(ListLimit), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) Reply(ctx context.Context, phoneNumber, message string) error {
	in := map[string]string{"phoneNumber": phoneNumber, "message": message}
	return c.do(ctx, http.MethodPost, "/api/messages/reply", in, nil)
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkNotified(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(id)+"/notified", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s %s: status %d", ErrRequestFailed, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrRequestFailed, path, err)
	}
	return nil
}
