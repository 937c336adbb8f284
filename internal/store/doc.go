// Package store provides the SQLite journal of game sessions.
//
// The journal is append-only:
//   - Sessions: one row per game, closed when end_game arrives
//   - Events: every live event in arrival order, keyed by (session, seq)
//   - Executions: the terminal outcome of every non-cancelled execution
//
// Writes are idempotent: re-recording an existing (session, seq) or token is
// silently ignored. Reads order by seq or start time and return empty
// slices, never nil.
//
// Event rows carry a content hash of the canonical event JSON (package
// canon) so identical events are recognizable across sessions.
package store
