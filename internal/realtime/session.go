package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nulzo/refract/pkg/api"
)

const (
	writeWait      = 10 * time.Second
	closeGraceWait = 100 * time.Millisecond
)

var errClosed = errors.New("session closed")

// Options configures a session dial.
type Options struct {
	URL        string
	Header     http.Header
	Translator Translator
	Config     api.SessionConfig
	Provider   string
	Logger     *zap.Logger
}

// Session is one live realtime connection. Outbound messages go through
// Send; inbound results arrive on Receive. The session moves through
// connecting, connected, active, closing and closed, and never goes
// backwards.
type Session struct {
	conn       *websocket.Conn
	translator Translator
	provider   string
	log        *zap.Logger

	mu    sync.Mutex
	state api.SessionState

	sendMu sync.Mutex // gorilla allows a single concurrent writer

	recv      chan api.RealtimeResult
	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the socket, applies the session configuration, and starts the
// read pump. The caller owns the returned session and must Close it.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Session{
		translator: opts.Translator,
		provider:   opts.Provider,
		log:        opts.Logger,
		state:      api.SessionConnecting,
		recv:       make(chan api.RealtimeResult, 16),
		done:       make(chan struct{}),
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, opts.Header)
	if err != nil {
		if ctxErr := api.FromContext(ctx, opts.Provider, "realtime"); ctxErr != nil {
			return nil, ctxErr
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, api.CommunicationError(opts.Provider, "realtime", status, err)
	}
	s.conn = conn
	s.setState(api.SessionConnected)

	// Apply the negotiated configuration before any traffic flows.
	update, err := opts.Translator.SessionUpdate(opts.Config)
	if err != nil {
		_ = conn.Close()
		s.setState(api.SessionClosed)
		return nil, err
	}
	if update != nil {
		if err := s.writeWire(update); err != nil {
			_ = conn.Close()
			s.setState(api.SessionClosed)
			return nil, err
		}
	}

	go s.readPump()

	s.log.Debug("realtime session opened",
		zap.String("provider", opts.Provider),
		zap.String("url", opts.URL),
	)
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() api.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Provider returns the provider id the session was dialed against.
func (s *Session) Provider() string {
	return s.provider
}

func (s *Session) setState(next api.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The lifecycle only moves forward.
	order := map[api.SessionState]int{
		api.SessionConnecting: 0,
		api.SessionConnected:  1,
		api.SessionActive:     2,
		api.SessionClosing:    3,
		api.SessionClosed:     4,
	}
	if order[next] > order[s.state] {
		s.state = next
	}
}

// Send translates and writes one outbound message. Messages the
// translator maps to nothing are dropped silently.
func (s *Session) Send(ctx context.Context, msg api.RealtimeMessage) error {
	select {
	case <-s.done:
		return api.CommunicationError(s.provider, "realtime", 0, errClosed)
	case <-ctx.Done():
		return api.FromContext(ctx, s.provider, "realtime")
	default:
	}

	frames, err := s.translator.ToWire(msg)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := s.writeWire(frame); err != nil {
			return err
		}
	}
	if len(frames) > 0 {
		s.setState(api.SessionActive)
	}
	return nil
}

// Complete signals end-of-input without touching the read side, so the
// upstream can finish responding to what was already sent.
func (s *Session) Complete(ctx context.Context) error {
	select {
	case <-s.done:
		return api.CommunicationError(s.provider, "realtime", 0, errClosed)
	case <-ctx.Done():
		return api.FromContext(ctx, s.provider, "realtime")
	default:
	}

	frames, err := s.translator.Complete()
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := s.writeWire(frame); err != nil {
			return err
		}
	}
	return nil
}

// Update renegotiates the session configuration mid-stream, where the
// upstream dialect allows it.
func (s *Session) Update(ctx context.Context, cfg api.SessionConfig) error {
	select {
	case <-s.done:
		return api.CommunicationError(s.provider, "realtime", 0, errClosed)
	case <-ctx.Done():
		return api.FromContext(ctx, s.provider, "realtime")
	default:
	}

	update, err := s.translator.SessionUpdate(cfg)
	if err != nil {
		return err
	}
	if update == nil {
		return nil
	}
	return s.writeWire(update)
}

func (s *Session) writeWire(frame interface{}) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(frame); err != nil {
		return api.CommunicationError(s.provider, "realtime", 0, err)
	}
	return nil
}

// Receive returns the inbound result channel. It closes when the session
// ends; a terminal error result, when one exists, is the last element.
func (s *Session) Receive() <-chan api.RealtimeResult {
	return s.recv
}

// readPump relays inbound frames through the translator until the socket
// ends or a terminal error event arrives.
func (s *Session) readPump() {
	defer func() {
		s.setState(api.SessionClosed)
		close(s.recv)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Local close in progress; not an error.
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.deliver(api.RealtimeResult{Err: api.CommunicationError(s.provider, "realtime", 0, err)})
			return
		}

		results, err := s.translator.FromWire(data)
		if err != nil {
			s.log.Warn("undecodable realtime frame",
				zap.String("provider", s.provider),
				zap.Error(err),
			)
			continue
		}

		for _, res := range results {
			s.deliver(res)
			if errMsg, ok := res.Message.(api.ErrorMessage); ok && errMsg.Terminal {
				s.setState(api.SessionClosing)
				s.Close()
				return
			}
		}
		if len(results) > 0 {
			s.setState(api.SessionActive)
		}
	}
}

func (s *Session) deliver(res api.RealtimeResult) {
	select {
	case s.recv <- res:
	case <-s.done:
	}
}

// Close performs a graceful shutdown: close frame, short grace period,
// then the underlying socket. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.setState(api.SessionClosing)
		close(s.done)

		s.sendMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.sendMu.Unlock()

		time.Sleep(closeGraceWait)
		err = s.conn.Close()
		s.setState(api.SessionClosed)
	})
	return err
}
