// Package logsink holds the process log sinks: a bounded line buffer the
// control plane reads and clears, a fan-out handler and a redis stream
// forwarder.
package logsink

import (
	"log/slog"
	"strings"
	"sync"
)

// DefaultCapacity is the number of lines Buffer keeps.
const DefaultCapacity = 1000

// Buffer is a ring of formatted log lines. It is an io.Writer: every Write
// is one line, which is how slog's built-in handlers emit records.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	start int
	size  int
	total int64
}

// NewBuffer creates a ring holding up to capacity lines.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{lines: make([]string, capacity)}
}

// Write appends p as one line, dropping the oldest when full.
func (b *Buffer) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.start + b.size) % len(b.lines)
	b.lines[idx] = line
	if b.size < len(b.lines) {
		b.size++
	} else {
		b.start = (b.start + 1) % len(b.lines)
	}
	b.total++
	return len(p), nil
}

// Lines returns up to limit of the newest lines, oldest first. A limit of
// zero or less returns everything held.
func (b *Buffer) Lines(limit int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]string, 0, n)
	for i := b.size - n; i < b.size; i++ {
		out = append(out, b.lines[(b.start+i)%len(b.lines)])
	}
	return out
}

// Clear drops every held line and returns how many there were.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.size
	for i := range b.lines {
		b.lines[i] = ""
	}
	b.start, b.size = 0, 0
	return n
}

// Len is the number of lines held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Total counts every line ever written, including dropped ones.
func (b *Buffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Handler returns a text handler writing into b.
func (b *Buffer) Handler(level slog.Leveler) slog.Handler {
	return slog.NewTextHandler(b, &slog.HandlerOptions{Level: level})
}
