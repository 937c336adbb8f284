package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tsumo/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal string
	Session string
	Latest  bool
	State   string
	Limit   int
}

// TraceSummary counts executions by terminal state.
type TraceSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// TraceResult is the output of the trace command.
type TraceResult struct {
	Session    *store.Session    `json:"session,omitempty"`
	Executions []store.Execution `json:"executions"`
	Summary    TraceSummary      `json:"summary"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List journaled executions",
		Long: `List the execution outcomes recorded in the journal, oldest first.

Each row shows the token, the action, the terminal state, the wait and
retry attempts spent and the error, if any.

Examples:
  tsumo trace --journal ./tsumo.db
  tsumo trace --journal ./tsumo.db --latest --state failed
  tsumo trace --journal ./tsumo.db --session 0190c7a2-... --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "SQLite journal path (defaults to config)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "only executions of this session")
	cmd.Flags().BoolVar(&opts.Latest, "latest", false, "only executions of the most recent session")
	cmd.Flags().StringVar(&opts.State, "state", "", "only executions ending in this state (completed|failed|cancelled)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of executions (0 = all)")
	cmd.MarkFlagsMutuallyExclusive("session", "latest")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	switch opts.State {
	case "", "completed", "failed", "cancelled":
	default:
		return out.Fail(ExitCommandError, CodeInput, fmt.Sprintf("unknown state %q", opts.State), nil)
	}

	st, err := openJournal(opts.RootOptions, opts.Journal)
	if err != nil {
		return out.Fail(ExitCommandError, CodeJournal, "cannot open journal", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := TraceResult{}
	filter := store.ExecutionFilter{SessionID: opts.Session, State: opts.State, Limit: opts.Limit}

	if opts.Latest || opts.Session != "" {
		var sess store.Session
		if opts.Latest {
			sess, err = st.LatestSession(ctx)
		} else {
			sess, err = st.ReadSession(ctx, opts.Session)
		}
		if err != nil {
			code := ExitFailure
			if !errors.Is(err, store.ErrNotFound) {
				code = ExitCommandError
			}
			return out.Fail(code, CodeJournal, "session lookup failed", err)
		}
		result.Session = &sess
		filter.SessionID = sess.ID
	}

	result.Executions, err = st.ReadExecutions(ctx, filter)
	if err != nil {
		return out.Fail(ExitCommandError, CodeJournal, "cannot read executions", err)
	}
	result.Summary = summarize(result.Executions)
	out.VerboseLog("read %d executions", len(result.Executions))

	return out.Success(result)
}

func summarize(execs []store.Execution) TraceSummary {
	s := TraceSummary{Total: len(execs)}
	for _, x := range execs {
		switch x.State {
		case "completed":
			s.Completed++
		case "failed":
			s.Failed++
		case "cancelled":
			s.Cancelled++
		}
	}
	return s
}

// Text renders the executions as a table.
func (r TraceResult) Text() string {
	var b strings.Builder
	if r.Session != nil {
		fmt.Fprintf(&b, "Session %s (%d events)\n", r.Session.ID, r.Session.Events)
	}
	if len(r.Executions) == 0 {
		b.WriteString("No executions recorded.\n")
		return b.String()
	}

	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tACTION\tSTATE\tWAIT\tRETRY\tTOOK\tERROR")
	for _, x := range r.Executions {
		took := x.FinishedAt.Sub(x.StartedAt).Round(time.Millisecond)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			x.Token, x.Action.String(), x.State, x.WaitAttempts, x.RetryAttempts, took, x.Error)
	}
	w.Flush()

	fmt.Fprintf(&b, "\n%d executions: %d completed, %d failed, %d cancelled\n",
		r.Summary.Total, r.Summary.Completed, r.Summary.Failed, r.Summary.Cancelled)
	return b.String()
}

// openJournal opens an existing journal. The path comes from the flag or,
// when empty, from the loaded config.
func openJournal(opts *RootOptions, path string) (*store.Store, error) {
	if path == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Journal
	}
	if path == "" {
		return nil, errors.New("no journal configured; pass --journal")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	return store.Open(path)
}
