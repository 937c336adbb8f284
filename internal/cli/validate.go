package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tsumo/internal/config"
)

// ValidateResult reports a config check.
type ValidateResult struct {
	File     string   `json:"file,omitempty"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// Text renders the result for humans.
func (r ValidateResult) Text() string {
	name := r.File
	if name == "" {
		name = "defaults"
	}
	if r.Valid {
		return fmt.Sprintf("✓ %s: config valid\n", name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ %s: %d problem(s)\n", name, len(r.Problems))
	for _, p := range r.Problems {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config.yaml]",
		Short: "Validate a config file",
		Long: `Load a config file through the same layers serve uses (defaults, file,
.env, TSUMO_* environment) and check the result against the schema.

With no argument the --config flag is used; with neither, the defaults
plus environment are checked.

Exit codes:
  0 - config valid
  1 - schema violations
  2 - file missing or not parseable

Examples:
  tsumo validate ./tsumo.yaml
  tsumo validate --env-file .env --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := rootOpts.Config
			if len(args) == 1 {
				file = args[0]
			}
			return runValidate(rootOpts, file, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, file string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	out.VerboseLog("validating %q", file)

	_, err := config.Load(config.Options{File: file, DotEnv: opts.EnvFile})

	var verr *config.ValidationError
	switch {
	case err == nil:
		return out.Success(ValidateResult{File: file, Valid: true})
	case errors.As(err, &verr):
		if werr := out.Success(ValidateResult{File: file, Problems: verr.Problems}); werr != nil {
			return werr
		}
		return WrapExitError(ExitFailure, "config invalid", err)
	default:
		return out.Fail(ExitCommandError, CodeConfig, "cannot load config", err)
	}
}
