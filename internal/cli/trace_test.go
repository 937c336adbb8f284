package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/event"
	"github.com/roach88/tsumo/internal/executor"
	"github.com/roach88/tsumo/internal/store"
	"github.com/roach88/tsumo/internal/tile"
)

// seedJournal writes two sessions; only the second has a failure.
func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	base := time.Date(2026, 4, 2, 20, 0, 0, 0, time.UTC)

	start := event.Event{Kind: event.KindStartGame, ID: event.SeatRef(0), Names: []string{"a", "b", "c", "d"}}
	require.NoError(t, st.RecordEvent(ctx, "s1", 0, start))
	require.NoError(t, st.RecordEvent(ctx, "s1", 1, event.Event{Kind: event.KindTsumo, Actor: event.SeatRef(0), Pai: "3s"}))
	require.NoError(t, st.RecordOutcome(ctx, "s1", executor.Outcome{
		TokenID:  "t-1",
		Action:   action.Discard(tile.MustParse("3s"), true),
		State:    executor.StateCompleted,
		Commands: 1,
		Started:  base,
		Finished: base.Add(300 * time.Millisecond),
	}))

	// A later session: store ordering is by started_at, which is wall time.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, st.RecordEvent(ctx, "s2", 0, start))
	require.NoError(t, st.RecordOutcome(ctx, "s2", executor.Outcome{
		TokenID:      "t-2",
		Action:       action.Action{Kind: action.KindPon},
		State:        executor.StateFailed,
		WaitAttempts: 50,
		Err:          &executor.ExecutionError{Code: executor.ErrCodeNoOpportunity, Message: "never offered"},
		Started:      base.Add(time.Minute),
		Finished:     base.Add(time.Minute + 5*time.Second),
	}))
	require.NoError(t, st.RecordOutcome(ctx, "s2", executor.Outcome{
		TokenID:  "t-3",
		Action:   action.Pass(),
		State:    executor.StateCancelled,
		Started:  base.Add(2 * time.Minute),
		Finished: base.Add(2 * time.Minute),
	}))
	return path
}

func TestTrace_AllExecutions(t *testing.T) {
	path := seedJournal(t)

	out, err := execute(t, "trace", "--journal", path, "--format", "json")
	require.NoError(t, err)

	var res TraceResult
	decodeResponse(t, out, &res)
	require.Len(t, res.Executions, 3)
	assert.Nil(t, res.Session)
	assert.Equal(t, []string{"t-1", "t-2", "t-3"}, []string{
		res.Executions[0].Token, res.Executions[1].Token, res.Executions[2].Token,
	})
	assert.Equal(t, TraceSummary{Total: 3, Completed: 1, Failed: 1, Cancelled: 1}, res.Summary)
}

func TestTrace_LatestSessionFailures(t *testing.T) {
	path := seedJournal(t)

	out, err := execute(t, "trace", "--journal", path, "--latest", "--state", "failed", "--format", "json")
	require.NoError(t, err)

	var res TraceResult
	decodeResponse(t, out, &res)
	require.NotNil(t, res.Session)
	assert.Equal(t, "s2", res.Session.ID)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, "t-2", res.Executions[0].Token)
	assert.Contains(t, res.Executions[0].Error, "NO_OPPORTUNITY")
}

func TestTrace_TextTable(t *testing.T) {
	path := seedJournal(t)

	out, err := execute(t, "trace", "--journal", path, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Session s1 (2 events)")
	assert.Contains(t, out, "TOKEN")
	assert.Contains(t, out, "discard(3s, tsumogiri)")
	assert.Contains(t, out, "300ms")
	assert.Contains(t, out, "1 executions: 1 completed, 0 failed, 0 cancelled")
}

func TestTrace_EmptyJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "trace", "--journal", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No executions recorded.")
}

func TestTrace_Errors(t *testing.T) {
	path := seedJournal(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"missing journal", []string{"trace", "--journal", filepath.Join(t.TempDir(), "none.db")}, ExitCommandError},
		{"bad state", []string{"trace", "--journal", path, "--state", "pending"}, ExitCommandError},
		{"unknown session", []string{"trace", "--journal", path, "--session", "nope"}, ExitFailure},
		{"session and latest", []string{"trace", "--journal", path, "--session", "s1", "--latest"}, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append(tt.args, "--format", "json")...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
		})
	}
}
