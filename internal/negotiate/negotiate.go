// Package negotiate obtains the live connection URL and access token.
package negotiate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Negotiation is the handshake result. It is valid for one connection attempt.
type Negotiation struct {
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
}

var (
	ErrMissingURL         = errors.New("negotiation response has no url")
	ErrMissingAccessToken = errors.New("negotiation response has no accessToken")
)

// Validate reports a missing field. The negotiation is otherwise opaque.
func (n Negotiation) Validate() error {
	if n.URL == "" {
		return &Error{Op: "validate", Err: ErrMissingURL}
	}
	if n.AccessToken == "" {
		return &Error{Op: "validate", Err: ErrMissingAccessToken}
	}
	return nil
}

// Error is a negotiation failure. It is fatal for the session being started.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("negotiate %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("negotiate %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// maxResponseSize caps how much of the negotiation response is read.
const maxResponseSize = 64 << 10

type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a client for endpoint. A nil httpClient gets one with timeout.
func NewClient(endpoint string, httpClient *http.Client, timeout time.Duration, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{endpoint: endpoint, httpClient: httpClient, logger: logger}
}

// Negotiate posts an empty JSON body and decodes {url, accessToken}.
func (c *Client) Negotiate(ctx context.Context) (Negotiation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return Negotiation{}, &Error{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Negotiation{}, &Error{Op: "post", Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("close negotiation response body", "error", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Negotiation{}, &Error{Op: "read", StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Negotiation{}, &Error{Op: "post", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response %q", truncate(body, 200))}
	}

	var n Negotiation
	if err := json.Unmarshal(body, &n); err != nil {
		return Negotiation{}, &Error{Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Info("negotiated live connection", "url", RedactURL(n.URL), "has_token", n.AccessToken != "")
	return n, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// RedactURL drops credentials and query parameters, which may carry tokens,
// for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
