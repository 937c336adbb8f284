package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/command"
	"github.com/roach88/tsumo/internal/oplist"
)

// TranslateOptions holds flags for the translate command.
type TranslateOptions struct {
	*RootOptions
	Action   string
	Snapshot string
}

// TranslateResult describes how an action would be driven against a
// snapshot.
type TranslateResult struct {
	Action     string   `json:"action"`
	Relevant   []string `json:"relevant"`
	Direct     bool     `json:"direct"`
	SingleShot bool     `json:"single_shot"`

	// Set only when a snapshot was given.
	Snapshot    *SnapshotView `json:"snapshot,omitempty"`
	Opportunity *bool         `json:"opportunity,omitempty"`
	Verified    *bool         `json:"verified,omitempty"`
	Script      string        `json:"script,omitempty"`
	Index       *int          `json:"index,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// SnapshotView summarizes the snapshot the action was translated against.
type SnapshotView struct {
	HasOp bool     `json:"has_op"`
	Codes []string `json:"codes"`
	Hand  []string `json:"hand"`
}

// Text renders the plan and, when present, the command.
func (r TranslateResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "action:      %s\n", r.Action)
	fmt.Fprintf(&b, "relevant:    %s\n", strings.Join(r.Relevant, ","))
	fmt.Fprintf(&b, "direct:      %t\n", r.Direct)
	fmt.Fprintf(&b, "single shot: %t\n", r.SingleShot)
	if r.Snapshot == nil {
		return b.String()
	}
	fmt.Fprintf(&b, "pending:     %s\n", strings.Join(r.Snapshot.Codes, ","))
	fmt.Fprintf(&b, "opportunity: %t\n", *r.Opportunity)
	fmt.Fprintf(&b, "verified:    %t\n", *r.Verified)
	if r.Error != "" {
		fmt.Fprintf(&b, "error:       %s\n", r.Error)
		return b.String()
	}
	if r.Index != nil {
		fmt.Fprintf(&b, "index:       %d\n", *r.Index)
	}
	fmt.Fprintf(&b, "script:      %s\n", r.Script)
	return b.String()
}

// NewTranslateCommand creates the translate command.
func NewTranslateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TranslateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Show the command an action translates to",
		Long: `Translate an oracle action into the client command the executor would
send. Without a snapshot only the plan is shown: which pending operations
count as an opportunity and whether the action runs directly or once.

With a snapshot (a file, - for stdin, or inline JSON) the perform script is
built against it, exactly as the executor would.

Examples:
  tsumo translate --action '{"type":"dahai","pai":"3s","tsumogiri":false}'
  tsumo translate --action '{"type":"pon","pai":"5m","consumed":["5m","5m"]}' --snapshot snap.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Action, "action", "a", "", "action in oracle wire form (required)")
	cmd.Flags().StringVarP(&opts.Snapshot, "snapshot", "s", "", "pending-operation snapshot: path, - or inline JSON")
	_ = cmd.MarkFlagRequired("action")

	return cmd
}

func runTranslate(opts *TranslateOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	act, err := action.FromWire([]byte(opts.Action))
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "invalid action", err)
	}
	plan, err := command.PlanFor(act)
	if err != nil {
		return out.Fail(ExitFailure, CodeInput, "action cannot be executed", err)
	}

	result := TranslateResult{
		Action:     act.String(),
		Relevant:   codeNames(plan.Relevant),
		Direct:     plan.Direct,
		SingleShot: plan.SingleShot,
	}

	if opts.Snapshot != "" {
		data, err := readSnapshot(opts.Snapshot, cmd.InOrStdin())
		if err != nil {
			return out.Fail(ExitCommandError, CodeInput, "cannot read snapshot", err)
		}
		snap, err := oplist.Decode(data)
		if err != nil {
			return out.Fail(ExitCommandError, CodeInput, "invalid snapshot", err)
		}
		translateAgainst(&result, plan, snap)
	}

	if err := out.Success(result); err != nil {
		return err
	}
	if result.Error != "" {
		return NewExitError(ExitFailure, result.Error)
	}
	return nil
}

func translateAgainst(r *TranslateResult, plan command.Plan, snap oplist.Snapshot) {
	opportunity := plan.Opportunity(snap)
	verified := plan.Verified(snap)
	r.Snapshot = &SnapshotView{HasOp: snap.HasOp, Codes: codeNames(snap.Codes()), Hand: snap.Hand}
	if r.Snapshot.Hand == nil {
		r.Snapshot.Hand = []string{}
	}
	r.Opportunity = &opportunity
	r.Verified = &verified

	c, err := plan.Perform(snap)
	if err != nil {
		r.Error = err.Error()
		return
	}
	r.Script = c.Script
	if plan.Action.Kind == action.KindDiscard || plan.Action.Kind == action.KindRiichi {
		idx := c.Index
		r.Index = &idx
	}
}

func codeNames(codes []oplist.Code) []string {
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = c.String()
	}
	return names
}

func readSnapshot(arg string, stdin io.Reader) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(strings.TrimSpace(arg), "{"):
		return []byte(arg), nil
	default:
		return os.ReadFile(arg)
	}
}
