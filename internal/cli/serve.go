package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tsumo/internal/config"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen  string
	Journal string
	Auto    bool

	// ready is called with the bound address once listening (for testing).
	ready func(addr net.Addr)

	// extra wiring overrides (for testing).
	wiring []serviceOption
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the executor service",
		Long: `Start the event feed, the client bridge and the control plane on one
HTTP listener:

  /feed     websocket; the interception layer pushes one event per message
  /bridge   websocket; the live client executes scripts sent here
  /mcp      control-plane tools over streamable HTTP
  /healthz  JSON status

Flags override the loaded config.

Examples:
  tsumo serve --config tsumo.yaml
  tsumo serve --listen 127.0.0.1:7788 --journal ./tsumo.db --auto`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "SQLite journal path (overrides config)")
	cmd.Flags().BoolVar(&opts.Auto, "auto", false, "start in auto mode (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return configFailure(out, err)
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.Journal != "" {
		cfg.Journal = opts.Journal
	}
	if cmd.Flags().Changed("auto") {
		cfg.Auto = opts.Auto
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	svc, err := newService(ctx, cfg, cmd.ErrOrStderr(), opts.wiring...)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "cannot start service", err)
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			svc.logger.Error("error during shutdown", "error", closeErr)
		}
	}()

	go func() {
		select {
		case sig := <-sigChan:
			svc.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "cannot listen", err)
	}
	svc.logger.Info("service starting",
		slog.String("listen", ln.Addr().String()),
		slog.Bool("auto", cfg.Auto),
		slog.String("journal", cfg.Journal),
		slog.String("oracle", cfg.Oracle.Path),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "tsumo listening on %s. Press Ctrl-C to stop.\n", ln.Addr())
	if opts.ready != nil {
		opts.ready(ln.Addr())
	}

	if err := svc.Serve(ctx, ln); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "service error", err)
	}
	svc.logger.Info("service stopped")
	return nil
}

// configFailure reports a config load error: schema violations exit 1,
// unreadable input exits 2.
func configFailure(out *OutputFormatter, err error) error {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		if werr := out.Error(CodeConfig, "config invalid", verr.Problems); werr != nil {
			return werr
		}
		return WrapExitError(ExitFailure, "config invalid", err)
	}
	return out.Fail(ExitCommandError, CodeConfig, "cannot load config", err)
}
