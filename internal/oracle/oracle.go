// Package oracle defines the decision oracle capability and adapts external
// mjai bots to it.
package oracle

import (
	"context"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/event"
)

// Oracle reacts to game events for one seat. It is stateful: it must see
// every event of a session in order, starting at start_game.
type Oracle interface {
	// React feeds ev and returns the recommendation it produced, or nil.
	React(ctx context.Context, ev event.Event) (*action.Action, error)

	// Close releases the oracle. It is not reused afterwards.
	Close() error
}

// Factory builds a fresh oracle for seat.
type Factory func(ctx context.Context, seat int) (Oracle, error)

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, ev event.Event) (*action.Action, error)

// React calls f.
func (f Func) React(ctx context.Context, ev event.Event) (*action.Action, error) {
	return f(ctx, ev)
}

// Close is a no-op.
func (f Func) Close() error { return nil }

// OpensCallWindow reports whether ev lets seat call or skip: another seat's
// discard or added kan.
func OpensCallWindow(ev event.Event, seat int) bool {
	switch ev.Kind {
	case event.KindDahai, event.KindKakan:
		return ev.Actor != nil && *ev.Actor != seat
	}
	return false
}

// Normalize applies the recommendation rules shared by all oracles. A pass
// is only meaningful when ev opened a call window; elsewhere it means
// "nothing to do".
func Normalize(ev event.Event, seat int, act *action.Action) *action.Action {
	if act == nil {
		return nil
	}
	if act.Kind == action.KindPass && !OpensCallWindow(ev, seat) {
		return nil
	}
	return act
}
