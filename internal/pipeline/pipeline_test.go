package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/coordinator"
	"github.com/roach88/tsumo/internal/event"
	"github.com/roach88/tsumo/internal/oracle"
	"github.com/roach88/tsumo/internal/stream"
	"github.com/roach88/tsumo/internal/testutil"
	"github.com/roach88/tsumo/internal/token"
)

type fakeCoordinator struct {
	mu     sync.Mutex
	recs   []coordinator.Recommendation
	resets int
}

func (c *fakeCoordinator) Recommend(rec coordinator.Recommendation) *token.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func (c *fakeCoordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
}

func (c *fakeCoordinator) recommendations() []coordinator.Recommendation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]coordinator.Recommendation(nil), c.recs...)
}

type memJournal struct {
	mu     sync.Mutex
	events []event.Kind
	ended  []string
}

func (j *memJournal) RecordEvent(_ context.Context, _ string, _ int, ev event.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev.Kind)
	return nil
}

func (j *memJournal) EndSession(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ended = append(j.ended, id)
	return nil
}

func (j *memJournal) endedSessions() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.ended...)
}

func (j *memJournal) kinds() []event.Kind {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]event.Kind(nil), j.events...)
}

type fixture struct {
	stream  *stream.Stream
	oracles *testutil.OracleFactory
	coord   *fakeCoordinator
	journal *memJournal
	p       *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		stream:  stream.New(stream.WithLogger(logger)),
		oracles: testutil.NewOracleFactory(testutil.DiscardDrawn),
		coord:   &fakeCoordinator{},
		journal: &memJournal{},
	}
	f.p = New(f.stream, f.oracles.Factory, f.coord, WithJournal(f.journal), WithLogger(logger))
	t.Cleanup(func() { _ = f.p.Close() })
	return f
}

func (f *fixture) waitCursor(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.stream.Status().Cursor == n }, time.Second, time.Millisecond)
}

func startGame(seat int) event.Event {
	return event.Event{Kind: event.KindStartGame, ID: event.SeatRef(seat), Names: []string{"a", "b", "c", "d"}}
}

func draw(actor int, pai string) event.Event {
	return event.Event{Kind: event.KindTsumo, Actor: event.SeatRef(actor), Pai: pai}
}

func TestLiveEventsReachOracleAndCoordinator(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.p.Resume(context.Background()))

	f.p.Ingest(startGame(1))
	f.p.Ingest(draw(0, "1m"))
	f.p.Ingest(draw(1, "7z"))
	f.waitCursor(t, 3)

	require.Eventually(t, func() bool { return len(f.coord.recommendations()) == 1 }, time.Second, time.Millisecond)
	rec := f.coord.recommendations()[0]
	assert.Equal(t, action.KindDiscard, rec.Action.Kind)
	assert.Equal(t, "C", rec.Action.Tile.String())
	assert.Equal(t, 2, rec.Seq)
	assert.NotEmpty(t, rec.SessionID)

	require.Len(t, f.oracles.Created(), 1)
	assert.Equal(t, 1, f.oracles.Latest().Seat())
	assert.Equal(t, []event.Kind{event.KindStartGame, event.KindTsumo, event.KindTsumo}, f.journal.kinds())
}

func TestStartGameRebuildsOracle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.p.Resume(context.Background()))

	f.p.Ingest(startGame(0))
	f.p.Ingest(draw(0, "1m"))
	f.waitCursor(t, 2)
	first := f.oracles.Latest()

	f.p.Ingest(startGame(2))
	f.waitCursor(t, 1)

	require.Eventually(t, func() bool { return len(f.oracles.Created()) == 2 }, time.Second, time.Millisecond)
	assert.True(t, first.Closed())
	assert.Equal(t, 2, f.oracles.Latest().Seat())
}

func TestEndGameClosesSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.p.Resume(context.Background()))

	f.p.Ingest(startGame(0))
	f.p.Ingest(event.Event{Kind: event.KindEndGame})

	require.Eventually(t, func() bool { return len(f.journal.endedSessions()) == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, f.stream.Status().SessionID)
	assert.True(t, f.oracles.Latest().Closed())
	assert.False(t, f.p.Status().OracleReady)
}

func TestEventsWithoutOracleAreSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.p.Handle(ctx, stream.Delivery{Seq: 0, Event: draw(0, "1m")})
	assert.True(t, errors.Is(err, ErrNoOracle))

	assert.NoError(t, f.p.Handle(ctx, stream.Delivery{Seq: 1, Event: event.Event{Kind: event.KindEndGame}}))
	assert.Empty(t, f.coord.recommendations())
}

func TestResumeResyncsOntoFreshOracle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.p.Resume(ctx))

	f.p.Ingest(startGame(0))
	f.p.Ingest(draw(0, "1m"))
	f.waitCursor(t, 2)
	require.Eventually(t, func() bool { return len(f.coord.recommendations()) == 1 }, time.Second, time.Millisecond)
	before := f.oracles.Latest()

	f.p.Suspend()
	f.p.Ingest(draw(1, "2m"))
	f.p.Ingest(draw(0, "3m"))
	require.NoError(t, f.p.Resume(ctx))
	f.waitCursor(t, 4)

	require.Eventually(t, func() bool { return len(f.coord.recommendations()) == 2 }, time.Second, time.Millisecond)
	after := f.oracles.Latest()
	assert.NotSame(t, before, after)
	assert.True(t, before.Closed())
	assert.Equal(t, []event.Kind{event.KindStartGame, event.KindTsumo, event.KindTsumo, event.KindTsumo}, after.Kinds(),
		"fresh oracle sees the whole session")

	recs := f.coord.recommendations()
	assert.Equal(t, "3m", recs[1].Action.Tile.String(), "replayed draw raised no trigger")
	assert.Len(t, f.journal.kinds(), 4, "replay is not journaled twice")
}

func TestResumeWithoutSeatResets(t *testing.T) {
	f := newFixture(t)
	f.p.Ingest(draw(0, "1m"))
	require.NotEmpty(t, f.stream.Status().SessionID)

	require.NoError(t, f.p.Resume(context.Background()))

	assert.Empty(t, f.stream.Status().SessionID)
	assert.Equal(t, 1, f.coord.resets)
	assert.True(t, f.stream.Status().Running)
}

func TestOracleFactoryFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	failing := func(context.Context, int) (oracle.Oracle, error) { return nil, errors.New("bot missing") }
	p := New(stream.New(stream.WithLogger(logger)), failing, &fakeCoordinator{}, WithLogger(logger))

	err := p.Handle(context.Background(), stream.Delivery{Event: startGame(0)})
	assert.ErrorContains(t, err, "bot missing")
	assert.False(t, p.Status().OracleReady)
}
