package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tsumo/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario filter (glob on the file name without extension)
	Golden string // directory of <scenario>.golden traces
	Update bool   // rewrite golden files instead of comparing
}

// ScenarioResult holds the result of a single scenario.
type ScenarioResult struct {
	Name    string   `json:"name"`
	Pass    bool     `json:"pass"`
	Outcome string   `json:"outcome,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// Text renders one line per scenario and a summary.
func (r TestResult) Text() string {
	if r.Total == 0 {
		return "No scenarios found.\n"
	}
	var b strings.Builder
	for _, s := range r.Scenarios {
		if s.Pass {
			fmt.Fprintf(&b, "✓ %s (%s)\n", s.Name, s.Outcome)
			continue
		}
		fmt.Fprintf(&b, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	fmt.Fprintf(&b, "\n%d/%d scenarios passed\n", r.Passed, r.Total)
	return b.String()
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run executor scenarios",
		Long: `Run YAML scenarios through the executor against a scripted client.

Each scenario names an action, the snapshots the client reports and the
expected terminal state. With --golden the recorded trace of bridge calls
and transitions is compared against <golden>/<scenario>.golden.

Exit codes:
  0 - all scenarios passed
  1 - one or more scenarios failed
  2 - command error (invalid paths, bad filter)

Examples:
  tsumo test ./scenarios
  tsumo test ./scenarios --filter "pon_*" --golden ./golden
  tsumo test ./scenarios --golden ./golden --update`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "directory of golden traces")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return out.Fail(ExitCommandError, CodeInput, fmt.Sprintf("scenarios directory not found: %s", dir), err)
	}
	if opts.Update && opts.Golden == "" {
		return out.Fail(ExitCommandError, CodeInput, "--update needs --golden", nil)
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "cannot list scenarios", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, f := range files {
		out.VerboseLog("running %s", f)
		sr := runScenarioFile(ctx, f, opts)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
	}

	if err := out.Success(result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

// findScenarioFiles lists .yaml/.yml files under dir in lexical order.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func runScenarioFile(ctx context.Context, path string, opts *TestOptions) ScenarioResult {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return ScenarioResult{Name: base, Errors: []string{err.Error()}}
	}

	res, err := harness.Run(ctx, scenario)
	if err != nil {
		return ScenarioResult{Name: scenario.Name, Errors: []string{fmt.Sprintf("execution failed: %v", err)}}
	}

	sr := ScenarioResult{
		Name:    scenario.Name,
		Pass:    res.Pass,
		Outcome: res.Outcome.State.String(),
		Errors:  res.Errors,
	}
	if opts.Golden == "" {
		return sr
	}

	golden := filepath.Join(opts.Golden, scenario.Name+".golden")
	rendered := res.Render(scenario.Name)
	if opts.Update {
		if err := os.MkdirAll(opts.Golden, 0o755); err == nil {
			err = os.WriteFile(golden, rendered, 0o644)
		}
		if err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("write golden: %v", err))
		}
		return sr
	}

	want, err := os.ReadFile(golden)
	switch {
	case err != nil:
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("read golden: %v", err))
	case !bytes.Equal(want, rendered):
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("trace differs from %s:\n%s", golden, rendered))
	}
	return sr
}
