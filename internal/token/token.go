// Package token implements the execution token authority.
//
// Every trigger mints a fresh token; only the most recently minted one is
// current. Executions check IsCurrent at each checkpoint and stop once they
// observe they were superseded. Tokens compare by pointer identity, so two
// tokens that happen to carry the same id are still distinct.
package token

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator produces token ids.
type Generator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable token ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Token identifies one trigger's right to act.
type Token struct {
	id     string
	seq    int64
	minted time.Time
}

// ID is the opaque id, used for logs and the journal.
func (t *Token) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// Seq is the mint order within one authority, starting at 1.
func (t *Token) Seq() int64 {
	if t == nil {
		return 0
	}
	return t.seq
}

// Minted is the wall-clock mint time.
func (t *Token) Minted() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.minted
}

func (t *Token) String() string {
	if t == nil {
		return "<none>"
	}
	return t.id
}

// Authority holds the current token.
//
// All three operations are lock-free; Begin is linearizable, so a token is
// superseded the instant a later Begin returns.
type Authority struct {
	gen     Generator
	seq     atomic.Int64
	current atomic.Pointer[Token]
	now     func() time.Time
}

// NewAuthority creates an authority; a nil generator defaults to UUIDv7.
func NewAuthority(gen Generator) *Authority {
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	return &Authority{gen: gen, now: time.Now}
}

// Begin mints and stores a new current token.
func (a *Authority) Begin() *Token {
	t := &Token{
		id:     a.gen.Generate(),
		seq:    a.seq.Add(1),
		minted: a.now(),
	}
	a.current.Store(t)
	return t
}

// IsCurrent reports whether t is still the current token.
func (a *Authority) IsCurrent(t *Token) bool {
	return t != nil && a.current.Load() == t
}

// Cancel clears the current token; nothing is accepted until the next Begin.
func (a *Authority) Cancel() {
	a.current.Store(nil)
}

// Current returns the current token or nil.
func (a *Authority) Current() *Token {
	return a.current.Load()
}

// Minted is the number of tokens issued so far.
func (a *Authority) Minted() int64 {
	return a.seq.Load()
}
