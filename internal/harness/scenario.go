package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/executor"
)

// Scenario defines one execution to drive and what it must produce.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	// Description is required; it shows up in failure reports.
	Description string `yaml:"description"`

	// Action is the recommendation in oracle wire form.
	Action map[string]any `yaml:"action"`

	// Connected defaults to true. False runs with a detached bridge.
	Connected *bool `yaml:"connected,omitempty"`

	// Snapshots are the client's answers to snapshot queries.
	Snapshots []map[string]any `yaml:"snapshots,omitempty"`

	// AfterPerform replaces the remaining snapshots once a command is sent.
	AfterPerform []map[string]any `yaml:"after_perform,omitempty"`

	// FailQueries makes the first n snapshot queries fail.
	FailQueries int `yaml:"fail_queries,omitempty"`

	// SupersedeAfter mints a newer token once this many bridge calls have
	// returned. Zero never supersedes.
	SupersedeAfter int `yaml:"supersede_after,omitempty"`

	// Executor overrides attempt budgets. Intervals are ignored: the harness
	// never sleeps.
	Executor Budget `yaml:"executor,omitempty"`

	Expect     Expect      `yaml:"expect"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Budget overrides executor attempt counts. Nil fields keep the defaults.
type Budget struct {
	MaxWaitAttempts           *int `yaml:"max_wait_attempts,omitempty"`
	MaxRetryAttempts          *int `yaml:"max_retry_attempts,omitempty"`
	MaxRetryAttemptsAfterWait *int `yaml:"max_retry_attempts_after_wait,omitempty"`
	PassMaxRetryAttempts      *int `yaml:"pass_max_retry_attempts,omitempty"`
}

// Apply overlays b onto cfg.
func (b Budget) Apply(cfg executor.Config) executor.Config {
	if b.MaxWaitAttempts != nil {
		cfg.MaxWaitAttempts = *b.MaxWaitAttempts
	}
	if b.MaxRetryAttempts != nil {
		cfg.MaxRetryAttempts = *b.MaxRetryAttempts
	}
	if b.MaxRetryAttemptsAfterWait != nil {
		cfg.MaxRetryAttemptsAfterWait = *b.MaxRetryAttemptsAfterWait
	}
	if b.PassMaxRetryAttempts != nil {
		cfg.PassMaxRetryAttempts = *b.PassMaxRetryAttempts
	}
	return cfg
}

// Expect is the required outcome. Nil counters are not checked.
type Expect struct {
	// State is the terminal state name: completed, failed or cancelled.
	State string `yaml:"state"`

	// Error is the expected error code, empty for none.
	Error string `yaml:"error,omitempty"`

	WaitAttempts  *int `yaml:"wait_attempts,omitempty"`
	RetryAttempts *int `yaml:"retry_attempts,omitempty"`
	Commands      *int `yaml:"commands,omitempty"`
}

// Assertion checks the trace.
type Assertion struct {
	// Type is one of performed, perform_count, query_count, state_order.
	Type string `yaml:"type"`

	// Contains is the text a perform script must include (performed).
	Contains string `yaml:"contains,omitempty"`

	// Count is the exact number expected (perform_count, query_count).
	Count int `yaml:"count,omitempty"`

	// States are the states in required order (state_order).
	States []string `yaml:"states,omitempty"`
}

// Assertion types.
const (
	AssertPerformed    = "performed"
	AssertPerformCount = "perform_count"
	AssertQueryCount   = "query_count"
	AssertStateOrder   = "state_order"
)

var terminalStates = map[string]bool{"completed": true, "failed": true, "cancelled": true}

// LoadScenario reads a scenario file. Unknown keys are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Action) == 0 {
		return fmt.Errorf("action is required")
	}
	if _, err := s.DecodeAction(); err != nil {
		return err
	}
	if !terminalStates[s.Expect.State] {
		return fmt.Errorf("expect.state must be completed, failed or cancelled, got %q", s.Expect.State)
	}
	if s.FailQueries < 0 || s.SupersedeAfter < 0 {
		return fmt.Errorf("fail_queries and supersede_after must not be negative")
	}
	if _, err := encodeSnapshots(s.Snapshots); err != nil {
		return err
	}
	if _, err := encodeSnapshots(s.AfterPerform); err != nil {
		return err
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertPerformed:
		if a.Contains == "" {
			return fmt.Errorf("performed requires 'contains'")
		}
	case AssertPerformCount, AssertQueryCount:
		if a.Count < 0 {
			return fmt.Errorf("%s requires a non-negative 'count'", a.Type)
		}
	case AssertStateOrder:
		if len(a.States) < 2 {
			return fmt.Errorf("state_order requires at least 2 states")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// DecodeAction converts the wire-form action.
func (s *Scenario) DecodeAction() (action.Action, error) {
	data, err := json.Marshal(s.Action)
	if err != nil {
		return action.Action{}, fmt.Errorf("encode action: %w", err)
	}
	return action.FromWire(data)
}

// encodeSnapshots renders YAML snapshots as the JSON the bridge returns.
func encodeSnapshots(snaps []map[string]any) ([]string, error) {
	out := make([]string, 0, len(snaps))
	for i, s := range snaps {
		b, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", i, err)
		}
		out = append(out, string(b))
	}
	return out, nil
}
