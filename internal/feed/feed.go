// Package feed ingests game events from the interception layer.
//
// Events arrive one JSON object per websocket text message, or one per line
// from a .jsonl file. Malformed events are logged and skipped.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/roach88/tsumo/internal/event"
)

// ControlReset is the message type that ends the current session.
const ControlReset = "reset"

// Ingester receives events and connection lifecycle. *pipeline.Pipeline
// implements it.
type Ingester interface {
	Ingest(ev event.Event)
	Reset()
	Resume(ctx context.Context) error
	Suspend()
}

// Stats counts feed traffic.
type Stats struct {
	Connected bool  `json:"connected"`
	Accepted  int64 `json:"accepted"`
	Rejected  int64 `json:"rejected"`
}

// Server is the websocket feed endpoint. One producer is served at a time;
// a new connection replaces the previous one.
type Server struct {
	in     Ingester
	base   context.Context
	logger *slog.Logger

	accepted atomic.Int64
	rejected atomic.Int64

	mu     sync.Mutex
	active *websocket.Conn
}

// NewServer creates the endpoint. Consumption started on connect runs under
// base, not under the request.
func NewServer(base context.Context, in Ingester, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{in: in, base: base, logger: logger}
}

// ServeHTTP accepts the producer and ingests until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("feed accept failed", "error", err)
		return
	}
	conn.SetReadLimit(4 << 20)

	s.mu.Lock()
	old := s.active
	s.active = conn
	s.mu.Unlock()
	if old != nil {
		go old.Close(websocket.StatusGoingAway, "replaced by a new producer")
	}

	s.logger.Info("feed connected", "remote", r.RemoteAddr)
	if err := s.in.Resume(s.base); err != nil {
		s.logger.Warn("resume failed", "error", err)
	}

	err = s.readLoop(r.Context(), conn)

	s.mu.Lock()
	current := s.active == conn
	if current {
		s.active = nil
	}
	s.mu.Unlock()

	// A replaced connection leaves the consumer to its successor.
	if current {
		s.in.Suspend()
	}
	conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("feed disconnected", "reason", err)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			s.rejected.Add(1)
			continue
		}
		s.Handle(data)
	}
}

// Handle ingests one raw message.
func (s *Server) Handle(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err == nil && head.Type == ControlReset {
		s.logger.Info("feed reset")
		s.in.Reset()
		return
	}

	ev, err := event.Decode(data)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Warn("malformed event skipped", "error", err, "size", len(data))
		return
	}
	s.accepted.Add(1)
	s.in.Ingest(ev)
}

// Stats returns traffic counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	connected := s.active != nil
	s.mu.Unlock()
	return Stats{Connected: connected, Accepted: s.accepted.Load(), Rejected: s.rejected.Load()}
}

// ReadEvents decodes a JSON-lines event log. Blank lines are ignored and
// malformed lines are reported to skip, which may be nil.
func ReadEvents(r io.Reader, skip func(line int, err error)) ([]event.Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)

	events := []event.Event{}
	n := 0
	for sc.Scan() {
		n++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := event.Decode(line)
		if err != nil {
			if skip != nil {
				skip(n, err)
			}
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// ReadFile loads a .jsonl event log.
func ReadFile(path string, skip func(line int, err error)) ([]event.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	return ReadEvents(f, skip)
}
