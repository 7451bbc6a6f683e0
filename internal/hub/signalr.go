package hub

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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cloudpico-viewer/internal/negotiate"
)

// SignalR JSON hub protocol framing.
const (
	recordSeparator = 0x1e

	msgInvocation = 1
	msgPing       = 6
	msgClose      = 7

	maxNegotiateRedirects = 5
)

var (
	handshakeRequest = []byte(`{"protocol":"json","version":1}` + "\x1e")
	pingRecord       = []byte(`{"type":6}` + "\x1e")

	ErrServerClosed = errors.New("server closed the connection")
)

// SignalRTransport speaks the SignalR JSON hub protocol over a websocket.
type SignalRTransport struct {
	Dialer     *websocket.Dialer
	HTTPClient *http.Client
	Logger     *slog.Logger

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	// ServerTimeout is how long the server may stay silent before the connection is considered dead.
	ServerTimeout time.Duration
	CloseTimeout  time.Duration
}

func NewSignalRTransport(logger *slog.Logger) *SignalRTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalRTransport{
		Dialer:           &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 15 * time.Second},
		HTTPClient:       &http.Client{Timeout: 15 * time.Second},
		Logger:           logger,
		HandshakeTimeout: 15 * time.Second,
		PingInterval:     15 * time.Second,
		ServerTimeout:    30 * time.Second,
		CloseTimeout:     2 * time.Second,
	}
}

// hubMessage covers the fields of the message types the viewer handles.
type hubMessage struct {
	Type      int               `json:"type"`
	Target    string            `json:"target"`
	Arguments []json.RawMessage `json:"arguments"`
	Error     string            `json:"error"`
}

type negotiateResponse struct {
	ConnectionID     string `json:"connectionId"`
	ConnectionToken  string `json:"connectionToken"`
	NegotiateVersion int    `json:"negotiateVersion"`
	URL              string `json:"url"`
	AccessToken      string `json:"accessToken"`
	Error            string `json:"error"`
}

func (t *SignalRTransport) Connect(ctx context.Context, d Dial, deliver DeliverFunc) (Conn, error) {
	token, err := d.Token()
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}

	wsURL, token, err := t.resolve(ctx, d.URL, token)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
		q := wsURL.Query()
		q.Set("access_token", token)
		wsURL.RawQuery = q.Encode()
	}

	ws, resp, err := t.Dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	leftover, err := t.handshake(ws)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	t.Logger.Info("signalr handshake complete", "url", negotiate.RedactURL(wsURL.String()))

	c := &signalRConn{
		ws:            ws,
		event:         d.Event,
		deliver:       deliver,
		logger:        t.Logger,
		serverTimeout: t.ServerTimeout,
		closeTimeout:  t.CloseTimeout,
		done:          make(chan struct{}),
	}
	go c.readLoop(leftover)
	go c.keepAlive(ctx, t.PingInterval)
	return c, nil
}

// resolve turns the negotiated URL into a websocket URL. http(s) URLs go
// through the service negotiate round first, following redirects.
func (t *SignalRTransport) resolve(ctx context.Context, raw string, token string) (*url.URL, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse url: %w", err)
	}

	for i := 0; ; i++ {
		switch strings.ToLower(u.Scheme) {
		case "ws", "wss":
			return u, token, nil
		case "http", "https":
		default:
			return nil, "", fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)
		}
		if i > maxNegotiateRedirects {
			return nil, "", errors.New("negotiate: too many redirects")
		}

		nr, err := t.negotiate(ctx, u, token)
		if err != nil {
			return nil, "", err
		}
		if nr.URL != "" {
			if u, err = url.Parse(nr.URL); err != nil {
				return nil, "", fmt.Errorf("negotiate redirect url: %w", err)
			}
			if nr.AccessToken != "" {
				token = nr.AccessToken
			}
			continue
		}

		id := nr.ConnectionToken
		if nr.NegotiateVersion == 0 || id == "" {
			id = nr.ConnectionID
		}
		ws := *u
		if strings.EqualFold(u.Scheme, "https") {
			ws.Scheme = "wss"
		} else {
			ws.Scheme = "ws"
		}
		if id != "" {
			q := ws.Query()
			q.Set("id", id)
			ws.RawQuery = q.Encode()
		}
		return &ws, token, nil
	}
}

func (t *SignalRTransport) negotiate(ctx context.Context, u *url.URL, token string) (negotiateResponse, error) {
	nu := *u
	nu.Path = strings.TrimSuffix(nu.Path, "/") + "/negotiate"
	q := nu.Query()
	q.Set("negotiateVersion", "1")
	nu.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nu.String(), nil)
	if err != nil {
		return negotiateResponse{}, fmt.Errorf("negotiate request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return negotiateResponse{}, fmt.Errorf("negotiate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return negotiateResponse{}, fmt.Errorf("negotiate read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return negotiateResponse{}, fmt.Errorf("negotiate: status %d", resp.StatusCode)
	}

	var nr negotiateResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		return negotiateResponse{}, fmt.Errorf("negotiate decode: %w", err)
	}
	if nr.Error != "" {
		return negotiateResponse{}, fmt.Errorf("negotiate: %s", nr.Error)
	}
	return nr, nil
}

// handshake sends the protocol selection and checks the reply. Records that
// arrived in the same frame after the reply are returned for processing.
func (t *SignalRTransport) handshake(ws *websocket.Conn) ([]byte, error) {
	_ = ws.SetWriteDeadline(time.Now().Add(t.HandshakeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, handshakeRequest); err != nil {
		return nil, fmt.Errorf("handshake write: %w", err)
	}
	_ = ws.SetWriteDeadline(time.Time{})

	_ = ws.SetReadDeadline(time.Now().Add(t.HandshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("handshake read: %w", err)
	}

	idx := bytes.IndexByte(data, recordSeparator)
	if idx < 0 {
		return nil, errors.New("handshake: reply is not a complete record")
	}
	var reply struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data[:idx], &reply); err != nil {
		return nil, fmt.Errorf("handshake decode: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("handshake rejected: %s", reply.Error)
	}
	return data[idx+1:], nil
}

type signalRConn struct {
	ws            *websocket.Conn
	event         string
	deliver       DeliverFunc
	logger        *slog.Logger
	serverTimeout time.Duration
	closeTimeout  time.Duration

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

func (c *signalRConn) Done() <-chan struct{} { return c.done }

func (c *signalRConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close sends a normal closure and waits for the read loop to end, forcing
// the socket shut after CloseTimeout.
func (c *signalRConn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.closeTimeout))
		select {
		case <-c.done:
		case <-time.After(c.closeTimeout):
			_ = c.ws.Close()
			<-c.done
		}
	})
	return nil
}

func (c *signalRConn) readLoop(leftover []byte) {
	var err error
	defer func() {
		if c.closing.Load() {
			err = nil
		}
		_ = c.ws.Close()
		c.err = err
		close(c.done)
	}()

	if err = c.handleFrame(leftover); err != nil {
		return
	}
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.serverTimeout))
		var data []byte
		_, data, err = c.ws.ReadMessage()
		if err != nil {
			return
		}
		if err = c.handleFrame(data); err != nil {
			return
		}
	}
}

func (c *signalRConn) handleFrame(data []byte) error {
	for len(data) > 0 {
		idx := bytes.IndexByte(data, recordSeparator)
		if idx < 0 {
			return errors.New("incomplete record in frame")
		}
		record := data[:idx]
		data = data[idx+1:]
		if err := c.handleRecord(record); err != nil {
			return err
		}
	}
	return nil
}

func (c *signalRConn) handleRecord(record []byte) error {
	var m hubMessage
	if err := json.Unmarshal(record, &m); err != nil {
		c.logger.Warn("ignoring malformed hub message", "error", err)
		return nil
	}

	switch m.Type {
	case msgInvocation:
		if !strings.EqualFold(m.Target, c.event) {
			c.logger.Debug("ignoring hub invocation", "target", m.Target)
			return nil
		}
		if len(m.Arguments) == 0 {
			c.logger.Warn("hub invocation without arguments", "target", m.Target)
			return nil
		}
		c.deliver(argumentPayload(m.Arguments[0]))
	case msgPing:
	case msgClose:
		if m.Error != "" {
			return fmt.Errorf("%w: %s", ErrServerClosed, m.Error)
		}
		return ErrServerClosed
	default:
		c.logger.Debug("ignoring hub message", "type", m.Type)
	}
	return nil
}

// argumentPayload unwraps a JSON string argument to its text; any other
// argument is passed on as raw JSON.
func argumentPayload(arg json.RawMessage) []byte {
	if len(arg) > 0 && arg[0] == '"' {
		var s string
		if err := json.Unmarshal(arg, &s); err == nil {
			return []byte(s)
		}
	}
	return arg
}

func (c *signalRConn) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			_ = c.Close()
			return
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(interval))
			if err := c.ws.WriteMessage(websocket.TextMessage, pingRecord); err != nil {
				c.logger.Debug("hub ping failed", "error", err)
			}
		}
	}
}
