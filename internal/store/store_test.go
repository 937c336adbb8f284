package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/event"
	"github.com/roach88/tsumo/internal/executor"
	"github.com/roach88/tsumo/internal/testutil"
	"github.com/roach88/tsumo/internal/tile"
)

// createTestStore opens a journal in a temp dir with a fixed clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	s.now = testutil.NewStepClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Second).Now
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"sessions", "events", "executions"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q missing", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	for name, want := range map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
		"user_version": "1",
	} {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	s.Close()

	_, err = Open(path)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestRecordEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	start := event.Event{Kind: event.KindStartGame, ID: event.SeatRef(2), Names: []string{"a", "b", "c"}}
	draw := event.Event{Kind: event.KindTsumo, Actor: event.SeatRef(2), Pai: "5pr"}

	require.NoError(t, s.RecordEvent(ctx, "s1", 0, start))
	require.NoError(t, s.RecordEvent(ctx, "s1", 1, draw))
	require.NoError(t, s.RecordEvent(ctx, "s1", 1, draw), "duplicate is ignored")

	events, err := s.ReadEvents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, event.KindStartGame, events[0].Event.Kind)
	assert.Equal(t, "5pr", events[1].Event.Pai)
	assert.Len(t, events[1].Hash, 64)

	sess, err := s.ReadSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sess.Seat)
	assert.Equal(t, 2, *sess.Seat)
	assert.Equal(t, 3, sess.Players)
	assert.Equal(t, 2, sess.Events)
	assert.Nil(t, sess.EndedAt)
}

func TestReadEventsEmpty(t *testing.T) {
	s := createTestStore(t)
	events, err := s.ReadEvents(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestEndSession(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordEvent(ctx, "s1", 0, event.Event{Kind: event.KindStartGame, ID: event.SeatRef(0)}))

	require.NoError(t, s.EndSession(ctx, "s1"))
	first, err := s.ReadSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, first.EndedAt)

	require.NoError(t, s.EndSession(ctx, "s1"))
	second, err := s.ReadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, first.EndedAt, second.EndedAt, "end time is stamped once")

	assert.NoError(t, s.EndSession(ctx, "unknown"))
}

func TestSessionsNewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.RecordEvent(ctx, id, 0, event.Event{Kind: event.KindStartGame, ID: event.SeatRef(0)}))
	}

	sessions, err := s.ReadSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "c", sessions[0].ID)

	latest, err := s.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)

	limited, err := s.ReadSessions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMissingSession(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadSession(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.LatestSession(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRecordOutcome(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ok := executor.Outcome{
		TokenID:     "tok-1",
		Action:      action.Discard(tile.MustParse("5pr"), false),
		State:       executor.StateCompleted,
		Commands:    1,
		LastCommand: "perform()",
		Started:     started,
		Finished:    started.Add(400 * time.Millisecond),
	}
	failed := executor.Outcome{
		TokenID:       "tok-2",
		Action:        action.Action{Kind: action.KindPon},
		State:         executor.StateFailed,
		WaitAttempts:  50,
		Err:           &executor.ExecutionError{Code: executor.ErrCodeNoOpportunity, Message: "gone"},
		Started:       started.Add(time.Second),
		Finished:      started.Add(6 * time.Second),
		RetryAttempts: 0,
	}
	require.NoError(t, s.RecordOutcome(ctx, "s1", ok))
	require.NoError(t, s.RecordOutcome(ctx, "", failed))
	require.NoError(t, s.RecordOutcome(ctx, "s1", ok), "duplicate token is ignored")

	all, err := s.ReadExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "tok-1", all[0].Token)
	assert.Equal(t, "s1", all[0].SessionID)
	assert.Equal(t, "completed", all[0].State)
	assert.True(t, all[0].Action.Tile.Red)
	assert.Equal(t, 400*time.Millisecond, all[0].FinishedAt.Sub(all[0].StartedAt))

	assert.Empty(t, all[1].SessionID)
	assert.Contains(t, all[1].Error, "NO_OPPORTUNITY")

	failures, err := s.ReadExecutions(ctx, ExecutionFilter{State: "failed"})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "tok-2", failures[0].Token)

	bySession, err := s.ReadExecutions(ctx, ExecutionFilter{SessionID: "s1", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, bySession, 1)
}
