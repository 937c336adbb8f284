package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/roach88/tsumo/internal/command"
)

// NoOps is the snapshot of a client offering nothing.
const NoOps = `{"hasOp":false}`

// BridgeCall is one recorded bridge round trip.
type BridgeCall struct {
	Script  string
	Perform bool
	At      time.Time
}

// ScriptedBridge answers snapshot queries from a scripted sequence and
// records every perform command.
//
// Snapshots are served in order; the last one repeats. After the first
// perform, the AfterPerform sequence (when set) replaces the remainder.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedBridge struct {
	mu           sync.Mutex
	connected    bool
	snapshots    []string
	afterPerform []string
	switched     bool
	queryErrors  int
	calls        []BridgeCall
	onPerform    func(script string)
}

// NewScriptedBridge creates a connected bridge serving snapshots.
func NewScriptedBridge(snapshots ...string) *ScriptedBridge {
	if len(snapshots) == 0 {
		snapshots = []string{NoOps}
	}
	return &ScriptedBridge{connected: true, snapshots: snapshots}
}

// AfterPerform sets the snapshots served once a perform command arrives.
func (b *ScriptedBridge) AfterPerform(snapshots ...string) *ScriptedBridge {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.afterPerform = snapshots
	return b
}

// FailQueries makes the next n snapshot queries return an error.
func (b *ScriptedBridge) FailQueries(n int) *ScriptedBridge {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queryErrors = n
	return b
}

// OnPerform registers a hook run after each perform is recorded.
func (b *ScriptedBridge) OnPerform(fn func(script string)) *ScriptedBridge {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPerform = fn
	return b
}

// SetConnected toggles Connected.
func (b *ScriptedBridge) SetConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = v
}

// Connected implements executor.Bridge.
func (b *ScriptedBridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Execute implements executor.Bridge.
func (b *ScriptedBridge) Execute(_ context.Context, script string) (json.RawMessage, error) {
	b.mu.Lock()

	if script == command.SnapshotQuery {
		b.calls = append(b.calls, BridgeCall{Script: script, At: time.Now()})
		if b.queryErrors > 0 {
			b.queryErrors--
			b.mu.Unlock()
			return nil, errors.New("scripted query failure")
		}
		snap := b.snapshots[0]
		if len(b.snapshots) > 1 {
			b.snapshots = b.snapshots[1:]
		}
		b.mu.Unlock()
		return json.RawMessage(snap), nil
	}

	b.calls = append(b.calls, BridgeCall{Script: script, Perform: true, At: time.Now()})
	if !b.switched && len(b.afterPerform) > 0 {
		b.snapshots = b.afterPerform
		b.switched = true
	}
	hook := b.onPerform
	b.mu.Unlock()

	if hook != nil {
		hook(script)
	}
	return json.RawMessage(`true`), nil
}

// Calls returns every recorded round trip in order.
func (b *ScriptedBridge) Calls() []BridgeCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BridgeCall, len(b.calls))
	copy(out, b.calls)
	return out
}

// Performs returns the perform scripts in order.
func (b *ScriptedBridge) Performs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []string{}
	for _, c := range b.calls {
		if c.Perform {
			out = append(out, c.Script)
		}
	}
	return out
}

// Queries counts snapshot queries.
func (b *ScriptedBridge) Queries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if !c.Perform {
			n++
		}
	}
	return n
}
