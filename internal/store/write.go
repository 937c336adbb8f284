package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/tsumo/internal/canon"
	"github.com/roach88/tsumo/internal/event"
	"github.com/roach88/tsumo/internal/executor"
)

// RecordEvent journals one live event. The session row is created on first
// sight and gets its seat from start_game.
// Uses ON CONFLICT DO NOTHING: re-recording (session, seq) is ignored.
func (s *Store) RecordEvent(ctx context.Context, sessionID string, seq int, ev event.Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	hash, err := canon.Hash(canon.DomainEvent, ev)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	now := millis(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sessionID, now); err != nil {
		return fmt.Errorf("record session: %w", err)
	}

	if seat, ok := ev.Seat(); ok {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET seat = ?, players = ? WHERE id = ? AND seat IS NULL
		`, seat, ev.PlayerCount(), sessionID); err != nil {
			return fmt.Errorf("record session seat: %w", err)
		}
	}

	var actor any
	if ev.Actor != nil {
		actor = *ev.Actor
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (session_id, seq, kind, actor, payload, hash, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, sessionID, seq, string(ev.Kind), actor, string(payload), hash, now); err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// EndSession stamps the session's end time. Ending an unknown or already
// ended session is a no-op.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, millis(s.now()), sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// RecordOutcome journals a terminal execution outcome under sessionID,
// which may be empty.
// Uses ON CONFLICT DO NOTHING: a token is recorded once.
func (s *Store) RecordOutcome(ctx context.Context, sessionID string, out executor.Outcome) error {
	act, err := json.Marshal(out.Action)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	var session any
	if sessionID != "" {
		session = sessionID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions
		(token, session_id, action_kind, action, state, wait_attempts, retry_attempts, commands, last_command, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		out.TokenID,
		session,
		string(out.Action.Kind),
		string(act),
		out.State.String(),
		out.WaitAttempts,
		out.RetryAttempts,
		out.Commands,
		out.LastCommand,
		out.Reason(),
		millis(out.Started),
		millis(out.Finished),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}
