// Package pipeline is the event consumer. It feeds every delivered event to
// the session's oracle, hands recommendations to the coordinator and closes
// the session on end_game.
//
// The oracle is rebuilt from the factory on every start_game, including the
// start_game re-delivered at the head of a resync replay. Replayed events
// rebuild oracle state only: they are not journaled and raise no triggers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tsumo/internal/coordinator"
	"github.com/roach88/tsumo/internal/event"
	"github.com/roach88/tsumo/internal/oracle"
	"github.com/roach88/tsumo/internal/stream"
	"github.com/roach88/tsumo/internal/token"
)

// ErrNoOracle is returned for events that arrive before any start_game
// built an oracle.
var ErrNoOracle = errors.New("no oracle for session")

// Recommender receives oracle output. *coordinator.Coordinator implements it.
type Recommender interface {
	Recommend(rec coordinator.Recommendation) *token.Token
	Reset()
}

// Journal persists live events. *store.Store implements it.
type Journal interface {
	RecordEvent(ctx context.Context, sessionID string, seq int, ev event.Event) error
	EndSession(ctx context.Context, sessionID string) error
}

// Status describes the pipeline's oracle.
type Status struct {
	SessionID   string `json:"session_id,omitempty"`
	Seat        *int   `json:"seat,omitempty"`
	OracleReady bool   `json:"oracle_ready"`
	Handled     int64  `json:"handled"`
}

// Pipeline wires the stream to the oracle and coordinator.
type Pipeline struct {
	stream  *stream.Stream
	factory oracle.Factory
	coord   Recommender
	journal Journal
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	oracle    oracle.Oracle
	seat      int
	sessionID string
	handled   int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithJournal records live events.
func WithJournal(j Journal) Option {
	return func(p *Pipeline) {
		p.journal = j
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates a pipeline over s.
func New(s *stream.Stream, factory oracle.Factory, coord Recommender, opts ...Option) *Pipeline {
	p := &Pipeline{
		stream:  s,
		factory: factory,
		coord:   coord,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest appends one event from the feed. start_game opens a new session
// before it is appended.
func (p *Pipeline) Ingest(ev event.Event) {
	if ev.Kind == event.KindStartGame {
		id := p.stream.StartSession()
		p.logger.Info("session started", "session", id)
	}
	p.stream.Append(ev)
}

// Reset drops the session and the last recommendation.
func (p *Pipeline) Reset() {
	p.stream.EndSession()
	p.coord.Reset()
}

// Resume (re)starts consumption after the feed connects. A session that
// knows its seat is resynced onto a fresh oracle; anything else is reset
// and the pipeline waits for the next start_game.
func (p *Pipeline) Resume(ctx context.Context) error {
	if p.stream.CanResync() {
		p.logger.Info("resyncing session", "session", p.stream.Status().SessionID)
		return p.stream.Resync(ctx, p.Handle)
	}
	p.Reset()
	p.stream.StartConsumer(ctx, p.Handle)
	return nil
}

// Suspend stops consumption, keeping history and cursor.
func (p *Pipeline) Suspend() {
	p.stream.StopConsumer()
}

// Handle is the stream handler.
func (p *Pipeline) Handle(ctx context.Context, d stream.Delivery) error {
	ev := d.Event

	if !d.Replay && p.journal != nil {
		if err := p.journal.RecordEvent(ctx, d.SessionID, d.Seq, ev); err != nil {
			p.logger.Warn("journal event failed", "session", d.SessionID, "seq", d.Seq, "error", err)
		}
	}

	if seat, ok := ev.Seat(); ok {
		if !d.Replay {
			p.coord.Reset()
		}
		if err := p.open(ctx, d.SessionID, seat); err != nil {
			return err
		}
	}

	err := p.react(ctx, d)

	if ev.IsSessionEnd() && !d.Replay {
		p.finish(ctx, d.SessionID)
	}

	p.mu.Lock()
	p.handled++
	p.mu.Unlock()
	return err
}

func (p *Pipeline) react(ctx context.Context, d stream.Delivery) error {
	p.mu.Lock()
	o := p.oracle
	p.mu.Unlock()

	if o == nil {
		if d.Event.IsSessionEnd() {
			return nil
		}
		return fmt.Errorf("%s at seq %d: %w", d.Event.Kind, d.Seq, ErrNoOracle)
	}

	act, err := o.React(ctx, d.Event)
	if err != nil {
		return fmt.Errorf("oracle react %s: %w", d.Event.Kind, err)
	}
	if act == nil || d.Replay {
		return nil
	}

	p.logger.Info("oracle recommends", "session", d.SessionID, "seq", d.Seq, "action", act.String())
	p.coord.Recommend(coordinator.Recommendation{
		Action:    *act,
		SessionID: d.SessionID,
		Seq:       d.Seq,
		At:        p.now(),
	})
	return nil
}

// open replaces the oracle with a fresh one for seat.
func (p *Pipeline) open(ctx context.Context, sessionID string, seat int) error {
	p.closeOracle()

	o, err := p.factory(ctx, seat)
	if err != nil {
		return fmt.Errorf("create oracle for seat %d: %w", seat, err)
	}

	p.mu.Lock()
	p.oracle = o
	p.seat = seat
	p.sessionID = sessionID
	p.mu.Unlock()

	p.logger.Info("oracle ready", "session", sessionID, "seat", seat)
	return nil
}

func (p *Pipeline) finish(ctx context.Context, sessionID string) {
	p.coord.Reset()
	p.closeOracle()
	if p.stream.EndSessionIf(sessionID) {
		p.logger.Info("session ended", "session", sessionID)
	}
	if p.journal != nil {
		if err := p.journal.EndSession(ctx, sessionID); err != nil {
			p.logger.Warn("journal session end failed", "session", sessionID, "error", err)
		}
	}
}

func (p *Pipeline) closeOracle() {
	p.mu.Lock()
	o := p.oracle
	p.oracle = nil
	p.sessionID = ""
	p.mu.Unlock()

	if o == nil {
		return
	}
	if err := o.Close(); err != nil {
		p.logger.Warn("oracle close failed", "error", err)
	}
}

// Close stops the consumer and releases the oracle.
func (p *Pipeline) Close() error {
	p.stream.StopConsumer()
	p.closeOracle()
	return nil
}

// Status reports the oracle state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{OracleReady: p.oracle != nil, Handled: p.handled, SessionID: p.sessionID}
	if p.oracle != nil {
		seat := p.seat
		st.Seat = &seat
	}
	return st
}
