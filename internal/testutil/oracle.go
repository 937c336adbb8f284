package testutil

import (
	"context"
	"sync"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/event"
	"github.com/roach88/tsumo/internal/oracle"
	"github.com/roach88/tsumo/internal/tile"
)

// Respond decides a scripted oracle's answer to one event.
type Respond func(seat int, ev event.Event) *action.Action

// DiscardDrawn answers the local seat's draws with a tsumogiri discard.
func DiscardDrawn(seat int, ev event.Event) *action.Action {
	if ev.Kind != event.KindTsumo || !ev.ActorIs(seat) {
		return nil
	}
	t, err := tile.Parse(ev.Pai)
	if err != nil {
		return nil
	}
	act := action.Discard(t, true)
	return &act
}

// ScriptedOracle records the events it sees and answers via Respond.
type ScriptedOracle struct {
	mu      sync.Mutex
	seat    int
	respond Respond
	events  []event.Event
	closed  bool
}

// React implements oracle.Oracle.
func (o *ScriptedOracle) React(_ context.Context, ev event.Event) (*action.Action, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
	if o.respond == nil {
		return nil, nil
	}
	return o.respond(o.seat, ev), nil
}

// Close implements oracle.Oracle.
func (o *ScriptedOracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// Seat is the seat the oracle was built for.
func (o *ScriptedOracle) Seat() int { return o.seat }

// Kinds lists the kinds of events seen, in order.
func (o *ScriptedOracle) Kinds() []event.Kind {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]event.Kind, len(o.events))
	for i, ev := range o.events {
		out[i] = ev.Kind
	}
	return out
}

// Closed reports whether Close was called.
func (o *ScriptedOracle) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// OracleFactory builds ScriptedOracles and remembers each one.
type OracleFactory struct {
	mu      sync.Mutex
	respond Respond
	created []*ScriptedOracle
}

// NewOracleFactory creates a factory whose oracles answer via respond.
func NewOracleFactory(respond Respond) *OracleFactory {
	return &OracleFactory{respond: respond}
}

// Factory implements oracle.Factory.
func (f *OracleFactory) Factory(_ context.Context, seat int) (oracle.Oracle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := &ScriptedOracle{seat: seat, respond: f.respond}
	f.created = append(f.created, o)
	return o, nil
}

// Created returns every oracle built so far.
func (f *OracleFactory) Created() []*ScriptedOracle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ScriptedOracle(nil), f.created...)
}

// Latest returns the most recent oracle, or nil.
func (f *OracleFactory) Latest() *ScriptedOracle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}
