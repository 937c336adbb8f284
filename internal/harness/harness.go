package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tsumo/internal/command"
	"github.com/roach88/tsumo/internal/executor"
	"github.com/roach88/tsumo/internal/testutil"
	"github.com/roach88/tsumo/internal/token"
)

// TokenPrefix prefixes harness token ids: h-1, h-2, ...
const TokenPrefix = "h"

// recorder collects the trace. Bridge calls and transitions land in one
// sequence in the order they happen.
type recorder struct {
	mu    sync.Mutex
	trace Trace
}

func (r *recorder) add(e TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Seq = len(r.trace)
	r.trace = append(r.trace, e)
}

func (r *recorder) snapshot() Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(Trace{}, r.trace...)
}

// tracingBridge records every call and supersedes the running token after
// a configured number of calls.
type tracingBridge struct {
	inner *testutil.ScriptedBridge
	rec   *recorder
	auth  *token.Authority
	after int

	mu    sync.Mutex
	calls int
}

func (b *tracingBridge) Connected() bool {
	return b.inner.Connected()
}

func (b *tracingBridge) Execute(ctx context.Context, script string) (json.RawMessage, error) {
	if script == command.SnapshotQuery {
		b.rec.add(TraceEvent{Type: EventQuery})
	} else {
		b.rec.add(TraceEvent{Type: EventPerform, Script: script})
	}
	res, err := b.inner.Execute(ctx, script)

	b.mu.Lock()
	b.calls++
	supersede := b.after > 0 && b.calls == b.after
	b.mu.Unlock()
	if supersede {
		b.auth.Begin()
	}
	return res, err
}

// transitionHandler turns the executor's transition log records into trace
// events. Records without from/to attributes are ignored.
type transitionHandler struct {
	rec *recorder
}

func (h transitionHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h transitionHandler) Handle(_ context.Context, r slog.Record) error {
	var from, to string
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "from":
			from = a.Value.String()
		case "to":
			to = a.Value.String()
		}
		return true
	})
	if from != "" && to != "" {
		h.rec.add(TraceEvent{Type: EventTransition, From: from, To: to})
	}
	return nil
}

func (h transitionHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h transitionHandler) WithGroup(string) slog.Handler      { return h }

// Run executes a scenario and returns the result.
//
// Each run uses a fresh token authority with sequential ids and a scripted
// bridge, and never sleeps. Failed expectations are reported in the result;
// the error return is for scenarios that cannot run at all.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	act, err := scenario.DecodeAction()
	if err != nil {
		return nil, err
	}
	snaps, err := encodeSnapshots(scenario.Snapshots)
	if err != nil {
		return nil, err
	}
	after, err := encodeSnapshots(scenario.AfterPerform)
	if err != nil {
		return nil, err
	}

	rec := &recorder{}
	auth := token.NewAuthority(testutil.NewSequenceGenerator(TokenPrefix))

	scripted := testutil.NewScriptedBridge(snaps...)
	if len(after) > 0 {
		scripted.AfterPerform(after...)
	}
	if scenario.FailQueries > 0 {
		scripted.FailQueries(scenario.FailQueries)
	}
	if scenario.Connected != nil {
		scripted.SetConnected(*scenario.Connected)
	}
	bridge := &tracingBridge{inner: scripted, rec: rec, auth: auth, after: scenario.SupersedeAfter}

	eng := executor.New(bridge, auth,
		executor.WithConfig(scenario.Executor.Apply(executor.DefaultConfig())),
		executor.WithLogger(slog.New(transitionHandler{rec: rec})),
		executor.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)

	out := eng.Run(ctx, auth.Begin(), act, 0)

	result := NewResult()
	result.Outcome = out
	result.Trace = rec.snapshot()
	checkExpect(result, scenario.Expect)
	for _, msg := range EvaluateAssertions(result.Trace, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func checkExpect(r *Result, want Expect) {
	out := r.Outcome
	if got := out.State.String(); got != want.State {
		r.AddError(fmt.Sprintf("state: expected %s, got %s (%s)", want.State, got, out.Reason()))
	}
	if got := errorCode(out); got != want.Error {
		r.AddError(fmt.Sprintf("error: expected %q, got %q", want.Error, got))
	}
	checkCount(r, "wait_attempts", want.WaitAttempts, out.WaitAttempts)
	checkCount(r, "retry_attempts", want.RetryAttempts, out.RetryAttempts)
	checkCount(r, "commands", want.Commands, out.Commands)
}

func checkCount(r *Result, name string, want *int, got int) {
	if want != nil && *want != got {
		r.AddError(fmt.Sprintf("%s: expected %d, got %d", name, *want, got))
	}
}
