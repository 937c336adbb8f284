package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tsumo/internal/config"
)

// Version is stamped at build time.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // YAML config file
	EnvFile string // .env overlay
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tsumo CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tsumo",
		Short: "tsumo - action executor for an externally controlled mahjong client",
		Long: `tsumo ingests game events from the client feed, asks a decision oracle
what to do, and drives the live client until the action has taken effect.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", ".env file applied before the environment")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewTranslateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig runs the full config pipeline for the global flags.
func (o *RootOptions) loadConfig() (config.Config, error) {
	return config.Load(config.Options{File: o.Config, DotEnv: o.EnvFile})
}
