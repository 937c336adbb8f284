package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/coordinator"
	"github.com/roach88/tsumo/internal/event"
	"github.com/roach88/tsumo/internal/feed"
	"github.com/roach88/tsumo/internal/oracle"
	"github.com/roach88/tsumo/internal/pipeline"
	"github.com/roach88/tsumo/internal/store"
	"github.com/roach88/tsumo/internal/stream"
	"github.com/roach88/tsumo/internal/token"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Journal    string
	Session    string
	Oracle     string
	OracleArgs []string

	// factory overrides the oracle process (for testing).
	factory oracle.Factory
}

// ReplayStep is one recommendation produced during replay.
type ReplayStep struct {
	Seq    int           `json:"seq"`
	Event  event.Kind    `json:"event"`
	Action action.Action `json:"action"`
}

// ReplayResult is the output of the replay command.
type ReplayResult struct {
	Source          string       `json:"source"`
	Events          int          `json:"events"`
	Recommendations []ReplayStep `json:"recommendations"`
	Errors          []string     `json:"errors,omitempty"`
}

// Text renders one line per recommendation.
func (r ReplayResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Replayed %d events from %s\n", r.Events, r.Source)
	for _, s := range r.Recommendations {
		fmt.Fprintf(&b, "  #%-4d %-10s -> %s\n", s.Seq, s.Event, s.Action.String())
	}
	fmt.Fprintf(&b, "%d recommendations", len(r.Recommendations))
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, ", %d errors", len(r.Errors))
	}
	b.WriteString("\n")
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  ! %s\n", e)
	}
	return b.String()
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [events.jsonl]",
		Short: "Feed recorded events through an oracle offline",
		Long: `Feed a recorded game through the oracle and print what it recommends at
each step. Nothing is executed.

Events come from a JSON-lines file, or from a journaled session when no
file is given (--session, or the latest session).

Exit codes:
  0 - replay finished without oracle errors
  1 - the oracle failed on one or more events
  2 - command error (no events, no oracle, unreadable input)

Examples:
  tsumo replay ./game.jsonl --oracle ./bot --oracle-arg=--seed=1
  tsumo replay --journal ./tsumo.db --session 0190c7a2-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 1 {
				file = args[0]
			}
			return runReplay(opts, file, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "SQLite journal path (defaults to config)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "journaled session to replay (default latest)")
	cmd.Flags().StringVar(&opts.Oracle, "oracle", "", "oracle executable (overrides config)")
	cmd.Flags().StringArrayVar(&opts.OracleArgs, "oracle-arg", nil, "oracle argument, repeatable")

	return cmd
}

func runReplay(opts *ReplayOptions, file string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		events []event.Event
		source string
		err    error
	)
	if file != "" {
		source = file
		events, err = feed.ReadFile(file, func(line int, err error) {
			out.VerboseLog("skipping line %d: %v", line, err)
		})
		if err != nil {
			return out.Fail(ExitCommandError, CodeInput, "cannot read events", err)
		}
	} else {
		source, events, err = journalEvents(ctx, opts)
		if err != nil {
			return out.Fail(ExitCommandError, CodeJournal, "cannot load session", err)
		}
	}
	if len(events) == 0 {
		return out.Fail(ExitCommandError, CodeInput, "no events to replay", nil)
	}

	logger := opts.logger(out)
	factory, err := opts.oracleFactory(logger)
	if err != nil {
		return out.Fail(ExitCommandError, CodeOracle, "no oracle", err)
	}

	result := replayEvents(ctx, events, factory, logger)
	result.Source = source

	if err := out.Success(result); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("oracle failed on %d events", len(result.Errors)))
	}
	return nil
}

func journalEvents(ctx context.Context, opts *ReplayOptions) (string, []event.Event, error) {
	st, err := openJournal(opts.RootOptions, opts.Journal)
	if err != nil {
		return "", nil, err
	}
	defer st.Close()

	id := opts.Session
	if id == "" {
		sess, err := st.LatestSession(ctx)
		if err != nil {
			return "", nil, err
		}
		id = sess.ID
	}
	records, err := st.ReadEvents(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if len(records) == 0 {
		return "", nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	events := make([]event.Event, len(records))
	for i, r := range records {
		events[i] = r.Event
	}
	return "session " + id, events, nil
}

func (o *ReplayOptions) oracleFactory(logger *slog.Logger) (oracle.Factory, error) {
	if o.factory != nil {
		return o.factory, nil
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	cmd := cfg.Oracle
	if o.Oracle != "" {
		cmd.Path = o.Oracle
		cmd.Args = o.OracleArgs
	}
	if cmd.Path == "" {
		return nil, errors.New("no oracle configured; pass --oracle")
	}
	return oracle.ProcessFactory(cmd, logger), nil
}

func (o *ReplayOptions) logger(out *OutputFormatter) *slog.Logger {
	if !o.Verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(out.GetErrWriter(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// collector stands in for the coordinator: it keeps every recommendation
// and never executes.
type collector struct {
	mu   sync.Mutex
	recs []coordinator.Recommendation
}

func (c *collector) Recommend(rec coordinator.Recommendation) *token.Token {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
	return nil
}

func (c *collector) Reset() {}

// replayEvents runs events through the live pipeline path with a collector
// in place of the coordinator. Oracle errors are collected per event.
func replayEvents(ctx context.Context, events []event.Event, factory oracle.Factory, logger *slog.Logger) ReplayResult {
	col := &collector{}
	p := pipeline.New(stream.New(stream.WithLogger(logger)), factory, col, pipeline.WithLogger(logger))
	defer p.Close()

	result := ReplayResult{Events: len(events), Recommendations: []ReplayStep{}}
	const sessionID = "replay"

	for seq, ev := range events {
		err := p.Handle(ctx, stream.Delivery{SessionID: sessionID, Seq: seq, Event: ev})
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			if errors.Is(err, oracle.ErrExited) || ctx.Err() != nil {
				break
			}
		}
	}

	for _, rec := range col.recs {
		result.Recommendations = append(result.Recommendations, ReplayStep{
			Seq:    rec.Seq,
			Event:  events[rec.Seq].Kind,
			Action: rec.Action,
		})
	}
	return result
}
