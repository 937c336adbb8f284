package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "file name matches scenario name")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunReportsExpectationMismatch(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectation
description: "Expects a completion that cannot happen"
action: {type: dahai, pai: 3s}
connected: false
expect:
  state: completed
  commands: 2
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expected completed, got failed")
	assert.Contains(t, result.Errors[1], `expected "", got "NO_BRIDGE"`)
	assert.Contains(t, result.Errors[2], "commands: expected 2, got 0")
}

func TestRunTokensAreSequential(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: token
description: "token ids"
action: {type: hora}
snapshots:
  - {hasOp: true, ops: [{type: 8}]}
expect:
  state: completed
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.Equal(t, "h-1", result.Outcome.TokenID)
	assert.Equal(t, []string{`app.NetAgent.sendReq2MJ("FastTest","inputOperation",{"type":8})`}, result.Trace.Performs())
}

func TestParseScenarioRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\naction: {type: none}\nexpect: {state: completed}\nassertion: []\n",
			want: "assertion",
		},
		{
			name: "missing name",
			yaml: "description: d\naction: {type: none}\nexpect: {state: completed}\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\naction: {type: none}\nexpect: {state: completed}\n",
			want: "description is required",
		},
		{
			name: "missing action",
			yaml: "name: x\ndescription: d\nexpect: {state: completed}\n",
			want: "action is required",
		},
		{
			name: "bad action",
			yaml: "name: x\ndescription: d\naction: {type: dahai}\nexpect: {state: completed}\n",
			want: "dahai without pai",
		},
		{
			name: "bad state",
			yaml: "name: x\ndescription: d\naction: {type: none}\nexpect: {state: executing}\n",
			want: "expect.state",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: d\naction: {type: none}\nexpect: {state: completed}\nassertions: [{type: trace_contains}]\n",
			want: "unknown assertion type",
		},
		{
			name: "short state order",
			yaml: "name: x\ndescription: d\naction: {type: none}\nexpect: {state: completed}\nassertions: [{type: state_order, states: [completed]}]\n",
			want: "at least 2 states",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario")
}

func TestEvaluateAssertions(t *testing.T) {
	trace := Trace{
		{Seq: 0, Type: EventTransition, From: "triggered", To: "checking_ops"},
		{Seq: 1, Type: EventQuery},
		{Seq: 2, Type: EventTransition, From: "checking_ops", To: "executing"},
		{Seq: 3, Type: EventPerform, Script: `send({"type":1})`},
		{Seq: 4, Type: EventTransition, From: "executing", To: "verifying"},
		{Seq: 5, Type: EventQuery},
		{Seq: 6, Type: EventTransition, From: "verifying", To: "completed"},
	}

	passing := []Assertion{
		{Type: AssertPerformed, Contains: `"type":1`},
		{Type: AssertPerformCount, Count: 1},
		{Type: AssertQueryCount, Count: 2},
		{Type: AssertStateOrder, States: []string{"checking_ops", "completed"}},
	}
	assert.Empty(t, EvaluateAssertions(trace, passing))

	failing := []Assertion{
		{Type: AssertPerformed, Contains: "cancel_operation"},
		{Type: AssertQueryCount, Count: 3},
		{Type: AssertStateOrder, States: []string{"verifying", "executing"}},
	}
	errs := EvaluateAssertions(trace, failing)
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "cancel_operation")
	assert.Contains(t, errs[1], "Expected: 3 query events")
	assert.Contains(t, errs[2], "checking_ops -> executing -> verifying -> completed")
}

func TestTraceRender(t *testing.T) {
	r := NewResult()
	r.Trace = Trace{
		{Seq: 0, Type: EventTransition, From: "triggered", To: "failed"},
	}
	assert.Equal(t, "scenario: x\noutcome: triggered wait=0 retry=0 commands=0\n0 triggered -> failed\n", string(r.Render("x")))
}
