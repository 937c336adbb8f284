package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It carries the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    Trace
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  %s\n", event)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty slice means all passed.
func EvaluateAssertions(trace Trace, assertions []Assertion) []string {
	errs := []string{}
	for i, a := range assertions {
		if err := evaluate(trace, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i, err))
		}
	}
	return errs
}

func evaluate(trace Trace, a Assertion) error {
	switch a.Type {
	case AssertPerformed:
		return assertPerformed(trace, a)
	case AssertPerformCount:
		return assertCount(trace, a, EventPerform)
	case AssertQueryCount:
		return assertCount(trace, a, EventQuery)
	case AssertStateOrder:
		return assertStateOrder(trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertPerformed(trace Trace, a Assertion) error {
	for _, script := range trace.Performs() {
		if strings.Contains(script, a.Contains) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertPerformed,
		Expected: fmt.Sprintf("a perform script containing %q", a.Contains),
		Actual:   fmt.Sprintf("%d perform scripts, none matching", len(trace.Performs())),
		Trace:    trace,
	}
}

func assertCount(trace Trace, a Assertion, typ string) error {
	got := trace.Count(typ)
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d %s events", a.Count, typ),
		Actual:   fmt.Sprintf("%d %s events", got, typ),
		Trace:    trace,
	}
}

// assertStateOrder checks that the states are entered in order. Other
// states may come in between.
func assertStateOrder(trace Trace, a Assertion) error {
	states := trace.States()
	next := 0
	for _, s := range states {
		if next < len(a.States) && s == a.States[next] {
			next++
		}
	}
	if next == len(a.States) {
		return nil
	}
	return &AssertionError{
		Type:     AssertStateOrder,
		Expected: strings.Join(a.States, " -> "),
		Actual:   strings.Join(states, " -> "),
		Trace:    trace,
	}
}
