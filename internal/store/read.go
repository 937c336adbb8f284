package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/event"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("not found")

// Session is a journaled game.
type Session struct {
	ID        string     `json:"id"`
	Seat      *int       `json:"seat,omitempty"`
	Players   int        `json:"players"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Events    int        `json:"events"`
}

// EventRecord is a journaled event.
type EventRecord struct {
	SessionID  string      `json:"session_id"`
	Seq        int         `json:"seq"`
	Event      event.Event `json:"event"`
	Hash       string      `json:"hash"`
	ReceivedAt time.Time   `json:"received_at"`
}

// Execution is a journaled execution outcome.
type Execution struct {
	Token         string        `json:"token"`
	SessionID     string        `json:"session_id,omitempty"`
	Action        action.Action `json:"action"`
	State         string        `json:"state"`
	WaitAttempts  int           `json:"wait_attempts"`
	RetryAttempts int           `json:"retry_attempts"`
	Commands      int           `json:"commands"`
	LastCommand   string        `json:"last_command,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// ExecutionFilter narrows ReadExecutions. Zero fields match everything.
type ExecutionFilter struct {
	SessionID string
	State     string
	Limit     int
}

const sessionColumns = `
	s.id, s.seat, s.players, s.started_at, s.ended_at,
	(SELECT COUNT(*) FROM events e WHERE e.session_id = s.id)
`

// ReadSessions returns sessions newest first. A limit of zero returns all.
func (s *Store) ReadSessions(ctx context.Context, limit int) ([]Session, error) {
	query := `SELECT` + sessionColumns + `FROM sessions s ORDER BY s.started_at DESC, s.id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadSession returns one session, or ErrNotFound.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+sessionColumns+`FROM sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

// LatestSession returns the most recently started session, or ErrNotFound.
func (s *Store) LatestSession(ctx context.Context) (Session, error) {
	sessions, err := s.ReadSessions(ctx, 1)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, fmt.Errorf("latest session: %w", ErrNotFound)
	}
	return sessions[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var (
		sess    Session
		seat    sql.NullInt64
		started int64
		ended   sql.NullInt64
	)
	if err := sc.Scan(&sess.ID, &seat, &sess.Players, &started, &ended, &sess.Events); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	if seat.Valid {
		v := int(seat.Int64)
		sess.Seat = &v
	}
	sess.StartedAt = fromMillis(started)
	if ended.Valid {
		t := fromMillis(ended.Int64)
		sess.EndedAt = &t
	}
	return sess, nil
}

// ReadEvents returns a session's events ordered by seq.
func (s *Store) ReadEvents(ctx context.Context, sessionID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, payload, hash, received_at
		FROM events
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []EventRecord{}
	for rows.Next() {
		var (
			rec      EventRecord
			payload  string
			received int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.Seq, &payload, &rec.Hash, &received); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Event); err != nil {
			return nil, fmt.Errorf("decode event %s/%d: %w", rec.SessionID, rec.Seq, err)
		}
		rec.ReceivedAt = fromMillis(received)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// ReadExecutions returns outcomes ordered by start time.
func (s *Store) ReadExecutions(ctx context.Context, f ExecutionFilter) ([]Execution, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}

	query := `
		SELECT token, session_id, action, state, wait_attempts, retry_attempts,
		       commands, last_command, error, started_at, finished_at
		FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at ASC, token COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	execs := []Execution{}
	for rows.Next() {
		var (
			x                 Execution
			session           sql.NullString
			act               string
			started, finished int64
		)
		if err := rows.Scan(&x.Token, &session, &act, &x.State, &x.WaitAttempts, &x.RetryAttempts,
			&x.Commands, &x.LastCommand, &x.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if err := json.Unmarshal([]byte(act), &x.Action); err != nil {
			return nil, fmt.Errorf("decode action for %s: %w", x.Token, err)
		}
		x.SessionID = session.String
		x.StartedAt = fromMillis(started)
		x.FinishedAt = fromMillis(finished)
		execs = append(execs, x)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return execs, nil
}
