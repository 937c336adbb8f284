// Package stream holds the in-memory event log for one game session and
// drains it to a single consumer in arrival order.
//
// Producers call Append and never block on consumer pace. The consumer
// awaits each handler call before claiming the next event. The cursor only
// moves forward: stopping and restarting the consumer resumes exactly where
// it left off.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tsumo/internal/event"
)

// Delivery is one event handed to the consumer.
type Delivery struct {
	SessionID string
	Seq       int
	Event     event.Event

	// Replay marks history re-delivered to a fresh handler during resync.
	Replay bool
}

// Handler reacts to one delivered event. Errors are logged and delivery
// continues with the next event.
type Handler func(ctx context.Context, d Delivery) error

// Status is a point-in-time view of the stream.
type Status struct {
	SessionID string `json:"session_id,omitempty"`
	Length    int    `json:"length"`
	Cursor    int    `json:"cursor"`
	Running   bool   `json:"running"`
	Seat      *int   `json:"seat,omitempty"`
	Players   int    `json:"players,omitempty"`
}

type session struct {
	id      string
	events  []event.Event
	cursor  int
	seat    *int
	players int
	started time.Time
}

type consumer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stream owns the current session and its consumer.
type Stream struct {
	mu       sync.Mutex
	session  *session
	consumer *consumer
	last     *consumer // most recently started; new consumers wait for it to exit
	signal   chan struct{}

	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the logger used for handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) {
		s.logger = l
	}
}

// WithSessionIDs overrides session id generation.
func WithSessionIDs(gen func() string) Option {
	return func(s *Stream) {
		s.newID = gen
	}
}

// New creates a stream with no open session.
func New(opts ...Option) *Stream {
	s := &Stream{
		signal: make(chan struct{}, 1),
		logger: slog.Default(),
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession discards any previous history and opens an empty log.
// Called once per start_game, before that event is appended.
func (s *Stream) StartSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = s.openLocked()
	s.notifyLocked()
	return s.session.id
}

func (s *Stream) openLocked() *session {
	return &session{
		id:      s.newID(),
		events:  make([]event.Event, 0, 256),
		started: s.now(),
	}
}

// Append adds ev to the tail of the current session. Events that arrive
// with no open session start an anonymous one, which can never resync.
func (s *Stream) Append(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		s.session = s.openLocked()
	}
	if seat, ok := ev.Seat(); ok && s.session.seat == nil {
		s.session.seat = &seat
		s.session.players = ev.PlayerCount()
	}
	s.session.events = append(s.session.events, ev)
	s.notifyLocked()
}

// notifyLocked signals the consumer. The buffer of 1 coalesces signals.
func (s *Stream) notifyLocked() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// EndSession discards history and cursor. Calling it with no open session
// is a no-op.
func (s *Stream) EndSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
}

// EndSessionIf ends the session only while id is still the open one. The
// consumer uses it on end_game so a newer session is never discarded.
func (s *Stream) EndSessionIf(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.id != id {
		return false
	}
	s.session = nil
	return true
}

// CanResync reports whether an open session has recorded a start_game event
// carrying the local seat.
func (s *Stream) CanResync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil && s.session.seat != nil
}

// StartConsumer begins draining from the cursor to h. It returns false and
// does nothing if a consumer is already running.
func (s *Stream) StartConsumer(ctx context.Context, h Handler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumer != nil {
		return false
	}
	s.startLocked(ctx, h, nil)
	return true
}

// StopConsumer halts delivery without touching history or cursor. An
// in-flight handler call finishes on its own; nothing further is claimed.
func (s *Stream) StopConsumer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Stream) stopLocked() {
	if s.consumer == nil {
		return
	}
	s.consumer.cancel()
	s.consumer = nil
}

// Resync replaces the consumer with h. Already-consumed history is first
// re-delivered to h with Replay set, then delivery continues at the cursor.
// The cursor does not move during the replay.
func (s *Stream) Resync(ctx context.Context, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.session.seat == nil {
		return fmt.Errorf("no resumable session")
	}

	sess := s.session
	replay := make([]Delivery, sess.cursor)
	for i := 0; i < sess.cursor; i++ {
		replay[i] = Delivery{SessionID: sess.id, Seq: i, Event: sess.events[i], Replay: true}
	}

	s.stopLocked()
	s.startLocked(ctx, h, replay)
	return nil
}

func (s *Stream) startLocked(ctx context.Context, h Handler, replay []Delivery) {
	cctx, cancel := context.WithCancel(ctx)
	c := &consumer{cancel: cancel, done: make(chan struct{})}

	var prev <-chan struct{}
	if s.last != nil {
		prev = s.last.done
	}
	s.consumer = c
	s.last = c

	go s.run(cctx, c, prev, h, replay)
}

// run is the consumer loop. It waits for the previous consumer to exit so
// two handlers never overlap.
func (s *Stream) run(ctx context.Context, c *consumer, prev <-chan struct{}, h Handler, replay []Delivery) {
	defer close(c.done)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	for _, d := range replay {
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, h, d)
	}

	for {
		d, ok, stopped := s.claim(ctx)
		if stopped {
			return
		}
		if ok {
			s.deliver(ctx, h, d)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.signal:
		}
	}
}

// claim takes the event at the cursor and advances it. Cancellation is
// checked under the lock so that nothing is claimed after StopConsumer returns.
func (s *Stream) claim(ctx context.Context) (d Delivery, ok bool, stopped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return Delivery{}, false, true
	}
	sess := s.session
	if sess == nil || sess.cursor >= len(sess.events) {
		return Delivery{}, false, false
	}

	d = Delivery{SessionID: sess.id, Seq: sess.cursor, Event: sess.events[sess.cursor]}
	sess.cursor++
	return d, true, false
}

func (s *Stream) deliver(ctx context.Context, h Handler, d Delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panicked",
				"session", d.SessionID, "seq", d.Seq, "kind", d.Event.Kind, "panic", r)
		}
	}()

	if err := h(ctx, d); err != nil {
		s.logger.Warn("event handler failed",
			"session", d.SessionID, "seq", d.Seq, "kind", d.Event.Kind, "replay", d.Replay, "error", err)
	}
}

// Status reports session length, cursor and whether a consumer runs.
func (s *Stream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.consumer != nil}
	if s.session != nil {
		st.SessionID = s.session.id
		st.Length = len(s.session.events)
		st.Cursor = s.session.cursor
		st.Players = s.session.players
		if s.session.seat != nil {
			seat := *s.session.seat
			st.Seat = &seat
		}
	}
	return st
}

// Events returns a copy of the current session's history.
func (s *Stream) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return []event.Event{}
	}
	out := make([]event.Event, len(s.session.events))
	copy(out, s.session.events)
	return out
}
