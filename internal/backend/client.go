// Package backend is the client panels use to read the data API.
//
// Every endpoint answers with an envelope carrying a status discriminator:
//
//	{"status": "success", "data": {...}}
//	{"status": "error", "message": "sem dados para o período"}
//
// A non-2xx response or a non-success discriminator is a soft failure:
// the caller renders a placeholder and moves on.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ErrSoftFailure wraps every failure a panel should degrade on.
var ErrSoftFailure = errors.New("backend: soft failure")

const maxResponseSize = 8 << 20 // 8 MB

// Envelope is the wire shape of every data endpoint.
type Envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// OK reports whether the discriminator signals success.
func (e Envelope) OK() bool {
	return e.Status == "success" || e.Status == "ok"
}

// Client reads JSON endpoints relative to a base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. A zero timeout leaves requests bounded only by
// their context.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get fetches path and decodes the envelope's data into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	env, err := c.fetch(ctx, path)
	if err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decoding %s data: %v", ErrSoftFailure, path, err)
	}
	return nil
}

// Ping checks that path answers with a success envelope.
func (c *Client) Ping(ctx context.Context, path string) error {
	_, err := c.fetch(ctx, path)
	return err
}

func (c *Client) fetch(ctx context.Context, path string) (Envelope, error) {
	var env Envelope
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return env, fmt.Errorf("%w: building request for %s: %v", ErrSoftFailure, path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return env, fmt.Errorf("%w: GET %s: %v", ErrSoftFailure, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return env, fmt.Errorf("%w: reading %s: %v", ErrSoftFailure, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return env, fmt.Errorf("%w: GET %s: HTTP %d", ErrSoftFailure, path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: decoding %s: %v", ErrSoftFailure, path, err)
	}
	if !env.OK() {
		msg := env.Message
		if msg == "" {
			msg = "status " + env.Status
		}
		return env, fmt.Errorf("%w: %s: %s", ErrSoftFailure, path, msg)
	}
	return env, nil
}
