// Package hub owns the lifecycle of the live telemetry connection.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"cloudpico-viewer/internal/negotiate"
)

const DefaultEvent = "newMessage"

var (
	ErrAlreadyStarted = errors.New("supervisor already has an active connection")
	ErrStopped        = errors.New("supervisor stopped")
	ErrNotStarted     = errors.New("supervisor was never started")
)

// Observer is told about every state transition.
type Observer interface {
	StateChanged(State)
}

type Options struct {
	// Event is the inbound event name; defaults to DefaultEvent.
	Event string
	// Handler is called once per inbound event, on the transport's delivery goroutine.
	Handler  func(payload []byte)
	Logger   *slog.Logger
	Observer Observer
}

// Supervisor runs at most one live session at a time and never retries on
// its own: a failed or dropped session ends in Disconnected.
type Supervisor struct {
	transport Transport
	event     string
	handler   func(payload []byte)
	logger    *slog.Logger
	observer  Observer

	mu    sync.Mutex
	state State
	sess  *session
}

type session struct {
	url    string
	token  string
	cancel context.CancelFunc
	conn   Conn

	done chan struct{}
	err  error
}

func New(transport Transport, opts Options) *Supervisor {
	if opts.Event == "" {
		opts.Event = DefaultEvent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		transport: transport,
		event:     opts.Event,
		handler:   opts.Handler,
		logger:    opts.Logger,
		observer:  opts.Observer,
		state:     Disconnected,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a session from a negotiation result and returns without
// waiting for the transport. A negotiation without url or accessToken fails
// immediately; transport failures are logged and reported through Wait.
func (s *Supervisor) Start(ctx context.Context, n negotiate.Negotiation) error {
	if err := n.Validate(); err != nil {
		s.logger.Error("cannot construct live connection", "error", err)
		return err
	}

	s.mu.Lock()
	switch s.state {
	case Stopped:
		s.mu.Unlock()
		return ErrStopped
	case Connecting, Connected:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	connCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		url:    n.URL,
		token:  n.AccessToken,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.sess = sess
	s.setStateLocked(Connecting)
	s.mu.Unlock()

	s.logger.Info("starting live connection", "url", negotiate.RedactURL(n.URL), "event", s.event)
	go s.run(connCtx, sess)
	return nil
}

func (s *Supervisor) run(ctx context.Context, sess *session) {
	d := Dial{
		URL:   sess.url,
		Event: s.event,
		Token: func() (string, error) { return sess.token, nil },
	}

	conn, err := s.transport.Connect(ctx, d, s.deliver)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Info("live connection attempt cancelled", "url", negotiate.RedactURL(sess.url))
			s.finish(sess, nil)
			return
		}
		terr := &TransportError{Op: "start", URL: negotiate.RedactURL(sess.url), Err: err}
		s.logger.Error("live connection failed to start", "error", terr)
		s.finish(sess, terr)
		return
	}

	s.mu.Lock()
	if ctx.Err() != nil || s.state == Stopped {
		s.mu.Unlock()
		_ = conn.Close()
		s.finish(sess, nil)
		return
	}
	sess.conn = conn
	s.setStateLocked(Connected)
	s.mu.Unlock()
	s.logger.Info("live connection established", "url", negotiate.RedactURL(sess.url))

	<-conn.Done()
	if err := conn.Err(); err != nil {
		terr := &TransportError{Op: "receive", URL: negotiate.RedactURL(sess.url), Err: err}
		s.logger.Error("live connection lost", "error", terr)
		s.finish(sess, terr)
		return
	}
	s.finish(sess, nil)
}

func (s *Supervisor) finish(sess *session, err error) {
	s.mu.Lock()
	sess.err = err
	if s.sess == sess && s.state != Stopped {
		s.setStateLocked(Disconnected)
	}
	s.mu.Unlock()
	sess.cancel()
	close(sess.done)
}

func (s *Supervisor) deliver(payload []byte) {
	if s.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("message handler panicked", "panic", r)
		}
	}()
	s.handler(payload)
}

// Stop ends the current session and waits for the transport to close.
// A pending connection attempt is cancelled. Stop is a no-op when nothing is
// running, including before the first Start, so it may be called repeatedly.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	sess, state := s.sess, s.state
	if sess == nil || state == Disconnected || state == Stopped {
		s.mu.Unlock()
		return nil
	}
	conn := sess.conn
	s.mu.Unlock()

	return s.stopSession(ctx, sess, conn, state)
}

// Close moves to the terminal Stopped state and then stops the session that
// was running, so no Start can slip in between.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	sess, state := s.sess, s.state
	var conn Conn
	if sess != nil {
		conn = sess.conn
	}
	s.setStateLocked(Stopped)
	s.mu.Unlock()

	if sess == nil || state == Disconnected || state == Stopped {
		return nil
	}
	return s.stopSession(ctx, sess, conn, state)
}

func (s *Supervisor) stopSession(ctx context.Context, sess *session, conn Conn, from State) error {
	s.logger.Info("stopping live connection", "state", from.String())
	sess.cancel()
	var closeErr error
	if conn != nil {
		closeErr = conn.Close()
	}

	select {
	case <-sess.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return closeErr
}

// Wait blocks until the current session ends. It returns nil for a session
// ended by Stop and a *TransportError for one that failed.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return ErrNotStarted
	}

	select {
	case <-sess.done:
		return sess.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("connection state changed", "from", s.state.String(), "to", next.String())
	s.state = next
	if s.observer != nil {
		s.observer.StateChanged(next)
	}
}
