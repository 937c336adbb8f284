package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/tsumo/internal/executor"
)

// Trace event types.
const (
	EventQuery      = "query"
	EventPerform    = "perform"
	EventTransition = "transition"
)

// TraceEvent is one bridge call or state transition, in the order it
// happened.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Type   string `json:"type"`
	Script string `json:"script,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

func (e TraceEvent) String() string {
	switch e.Type {
	case EventPerform:
		return fmt.Sprintf("%d perform %s", e.Seq, e.Script)
	case EventTransition:
		return fmt.Sprintf("%d %s -> %s", e.Seq, e.From, e.To)
	default:
		return fmt.Sprintf("%d %s", e.Seq, e.Type)
	}
}

// Trace is the ordered record of one run.
type Trace []TraceEvent

// Performs returns the perform scripts in order.
func (t Trace) Performs() []string {
	out := []string{}
	for _, e := range t {
		if e.Type == EventPerform {
			out = append(out, e.Script)
		}
	}
	return out
}

// Count returns how many events have type typ.
func (t Trace) Count(typ string) int {
	n := 0
	for _, e := range t {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// States returns the state entered by each transition.
func (t Trace) States() []string {
	out := []string{}
	for _, e := range t {
		if e.Type == EventTransition {
			out = append(out, e.To)
		}
	}
	return out
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when the outcome matched expect and every assertion held.
	Pass bool `json:"pass"`

	Outcome executor.Outcome `json:"-"`
	Trace   Trace            `json:"trace"`
	Errors  []string         `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  Trace{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Render formats the outcome and trace for golden comparison.
func (r *Result) Render(name string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	fmt.Fprintf(&b, "outcome: %s\n", outcomeLine(r.Outcome))
	for _, e := range r.Trace {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func outcomeLine(o executor.Outcome) string {
	line := fmt.Sprintf("%s wait=%d retry=%d commands=%d",
		o.State, o.WaitAttempts, o.RetryAttempts, o.Commands)
	if code := errorCode(o); code != "" {
		line += " error=" + code
	}
	return line
}

func errorCode(o executor.Outcome) string {
	var xe *executor.ExecutionError
	if errors.As(o.Err, &xe) {
		return string(xe.Code)
	}
	return ""
}
