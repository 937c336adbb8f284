// Package bridge carries scripts to the live client over a websocket.
//
// The client dials in and keeps one connection open. Each Execute sends
// {"id", "script"} and waits for the {"id", "result"|"error"} answer with
// the same id. Answers may arrive in any order.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConnected is returned when no client is attached.
	ErrNotConnected = errors.New("bridge: no client connected")

	// ErrDisconnected is returned to calls pending when the client drops.
	ErrDisconnected = errors.New("bridge: client disconnected")
)

// Config tunes the bridge.
type Config struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	Rate    float64       `yaml:"rate" json:"rate" env:"RATE"`
	Burst   int           `yaml:"burst" json:"burst" env:"BURST"`
}

// DefaultConfig allows 50 scripts per second with a 2s answer timeout.
func DefaultConfig() Config {
	return Config{Timeout: 2 * time.Second, Rate: 50, Burst: 10}
}

// ScriptError is an error raised by the script inside the client.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return "script error: " + e.Message
}

// Request is the server→client frame.
type Request struct {
	ID     uint64 `json:"id"`
	Script string `json:"script"`
}

// Response is the client→server frame.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type link struct {
	conn    *websocket.Conn
	pending map[uint64]chan Response
}

// Server is an http.Handler accepting the client and an executor.Bridge.
type Server struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	nextID  atomic.Uint64

	mu   sync.Mutex
	link *link
}

// NewServer creates a bridge with no client attached.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Server{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// ServeHTTP upgrades the client connection. A new client replaces the
// previous one; calls pending on the old connection fail.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("bridge accept failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	l := &link{conn: conn, pending: make(map[uint64]chan Response)}
	s.mu.Lock()
	old := s.link
	s.link = l
	s.mu.Unlock()

	if old != nil {
		s.detach(old)
		go old.conn.Close(websocket.StatusGoingAway, "replaced by a new client")
	}
	s.logger.Info("bridge client connected", "remote", r.RemoteAddr)

	err = s.readLoop(r.Context(), l)
	s.detach(l)
	conn.Close(websocket.StatusNormalClosure, "")

	if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		s.logger.Info("bridge client disconnected")
		return
	}
	s.logger.Warn("bridge client dropped", "error", err)
}

func (s *Server) readLoop(ctx context.Context, l *link) error {
	for {
		var resp Response
		if err := wsjson.Read(ctx, l.conn, &resp); err != nil {
			return err
		}
		s.mu.Lock()
		ch, ok := l.pending[resp.ID]
		delete(l.pending, resp.ID)
		s.mu.Unlock()

		if !ok {
			s.logger.Debug("bridge response without caller", "id", resp.ID)
			continue
		}
		ch <- resp
	}
}

// detach fails every call pending on l and unregisters it.
func (s *Server) detach(l *link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == l {
		s.link = nil
	}
	for id, ch := range l.pending {
		close(ch)
		delete(l.pending, id)
	}
}

// Connected reports whether a client is attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil
}

// Execute sends script to the client and returns its result.
func (s *Server) Execute(ctx context.Context, script string) (json.RawMessage, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("bridge rate limit: %w", err)
	}

	id := s.nextID.Add(1)
	ch := make(chan Response, 1)

	s.mu.Lock()
	l := s.link
	if l == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	l.pending[id] = ch
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := wsjson.Write(ctx, l.conn, Request{ID: id, Script: script}); err != nil {
		s.forget(l, id)
		return nil, fmt.Errorf("bridge send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrDisconnected
		}
		if resp.Error != "" {
			return nil, &ScriptError{Message: resp.Error}
		}
		return resp.Result, nil
	case <-ctx.Done():
		s.forget(l, id)
		return nil, fmt.Errorf("bridge call %d: %w", id, ctx.Err())
	}
}

func (s *Server) forget(l *link, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(l.pending, id)
}
