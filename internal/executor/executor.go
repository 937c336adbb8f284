// Package executor drives a recommended action to completion against the
// live client.
//
// Each execution is one driver loop over State. It inspects the pending
// operations, performs the action's command, then polls until the operation
// clears or a budget runs out. Before every bridge call and after every
// suspension point the loop checks its token; a superseded execution stops
// without issuing further commands.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/command"
	"github.com/roach88/tsumo/internal/oplist"
	"github.com/roach88/tsumo/internal/token"
)

const instrumentationName = "github.com/roach88/tsumo/internal/executor"

// Bridge sends scripts to the live client.
type Bridge interface {
	// Execute runs script and returns its result. Completion order across
	// concurrent calls is not guaranteed.
	Execute(ctx context.Context, script string) (json.RawMessage, error)

	// Connected reports whether a client is attached.
	Connected() bool
}

// Config holds the wait and retry budgets.
type Config struct {
	MaxWaitAttempts           int           `yaml:"max_wait_attempts" json:"max_wait_attempts" env:"MAX_WAIT_ATTEMPTS"`
	WaitInterval              time.Duration `yaml:"wait_interval" json:"wait_interval" env:"WAIT_INTERVAL"`
	ExecuteInterval           time.Duration `yaml:"execute_interval" json:"execute_interval" env:"EXECUTE_INTERVAL"`
	PassInterval              time.Duration `yaml:"pass_interval" json:"pass_interval" env:"PASS_INTERVAL"`
	MaxRetryAttempts          int           `yaml:"max_retry_attempts" json:"max_retry_attempts" env:"MAX_RETRY_ATTEMPTS"`
	MaxRetryAttemptsAfterWait int           `yaml:"max_retry_attempts_after_wait" json:"max_retry_attempts_after_wait" env:"MAX_RETRY_ATTEMPTS_AFTER_WAIT"`
	PassMaxRetryAttempts      int           `yaml:"pass_max_retry_attempts" json:"pass_max_retry_attempts" env:"PASS_MAX_RETRY_ATTEMPTS"`
}

// DefaultConfig returns the production budgets.
func DefaultConfig() Config {
	return Config{
		MaxWaitAttempts:           50,
		WaitInterval:              100 * time.Millisecond,
		ExecuteInterval:           100 * time.Millisecond,
		PassInterval:              500 * time.Millisecond,
		MaxRetryAttempts:          30,
		MaxRetryAttemptsAfterWait: 50,
		PassMaxRetryAttempts:      5,
	}
}

// Outcome is the terminal report of one execution.
type Outcome struct {
	Token         *token.Token  `json:"-"`
	TokenID       string        `json:"token"`
	Action        action.Action `json:"action"`
	State         State         `json:"state"`
	WaitAttempts  int           `json:"wait_attempts"`
	RetryAttempts int           `json:"retry_attempts"`
	Commands      int           `json:"commands"`
	LastCommand   string        `json:"last_command,omitempty"`
	Err           error         `json:"-"`
	Started       time.Time     `json:"started"`
	Finished      time.Time     `json:"finished"`
}

// Succeeded reports a COMPLETED outcome.
func (o Outcome) Succeeded() bool {
	return o.State == StateCompleted
}

// Reason is the error text, or "" on a clean outcome.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Engine runs executions. It is safe for concurrent use; each Run is
// independent and only the token decides which may act.
type Engine struct {
	bridge Bridge
	auth   *token.Authority
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	tracer   trace.Tracer
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the budgets.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithLogger sets the transition logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithSleeper replaces the context-aware sleep.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// WithTracer sets the tracer; defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithMeter sets the meter for outcome counters; defaults to the global provider.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) {
		e.initMetrics(m)
	}
}

// New creates an engine. bridge may be nil; executions then fail with
// NO_BRIDGE.
func New(bridge Bridge, auth *token.Authority, opts ...Option) *Engine {
	e := &Engine{
		bridge: bridge,
		auth:   auth,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		sleep:  sleepContext,
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
	}
	e.initMetrics(otel.Meter(instrumentationName))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) initMetrics(m metric.Meter) {
	var err error
	e.outcomes, err = m.Int64Counter("tsumo.executions",
		metric.WithDescription("Executions by terminal state"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		e.logger.Warn("execution counter unavailable", "error", err)
	}
	e.duration, err = m.Float64Histogram("tsumo.execution.duration",
		metric.WithDescription("Execution wall-clock duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		e.logger.Warn("execution histogram unavailable", "error", err)
	}
}

// Config returns the active budgets.
func (e *Engine) Config() Config {
	return e.cfg
}

// Snapshot queries the pending-operation snapshot once.
func (e *Engine) Snapshot(ctx context.Context) (oplist.Snapshot, error) {
	if e.bridge == nil || !e.bridge.Connected() {
		return oplist.Snapshot{}, ErrNoBridge
	}
	raw, err := e.bridge.Execute(ctx, command.SnapshotQuery)
	if err != nil {
		return oplist.Snapshot{}, fmt.Errorf("snapshot query: %w", err)
	}
	return oplist.Decode(raw)
}

// Start runs the execution in its own goroutine. done, when non-nil, is
// called for COMPLETED and FAILED outcomes; cancellations are silent.
func (e *Engine) Start(ctx context.Context, tok *token.Token, act action.Action, delay time.Duration, done func(Outcome)) {
	go func() {
		out := e.Run(ctx, tok, act, delay)
		if done != nil && out.State != StateCancelled {
			done(out)
		}
	}()
}

// execution is the mutable record of one Run.
type execution struct {
	tok     *token.Token
	act     action.Action
	plan    command.Plan
	state   State
	snap    oplist.Snapshot
	waited  bool
	wait    int
	retry   int
	cmds    int
	lastCmd string
	err     error
	started time.Time
}

// Run drives one execution to a terminal state and returns its outcome.
func (e *Engine) Run(ctx context.Context, tok *token.Token, act action.Action, delay time.Duration) Outcome {
	x := &execution{tok: tok, act: act, state: StateTriggered, started: e.now()}

	ctx, span := e.tracer.Start(ctx, "executor.run", trace.WithAttributes(
		attribute.String("tsumo.token", tok.ID()),
		attribute.String("tsumo.action", string(act.Kind)),
	))
	defer span.End()

	e.drive(ctx, x, delay)

	out := Outcome{
		Token:         tok,
		TokenID:       tok.ID(),
		Action:        act,
		State:         x.state,
		WaitAttempts:  x.wait,
		RetryAttempts: x.retry,
		Commands:      x.cmds,
		LastCommand:   x.lastCmd,
		Err:           x.err,
		Started:       x.started,
		Finished:      e.now(),
	}

	span.SetAttributes(
		attribute.String("tsumo.state", out.State.String()),
		attribute.Int("tsumo.wait_attempts", out.WaitAttempts),
		attribute.Int("tsumo.retry_attempts", out.RetryAttempts),
	)
	if out.State == StateFailed {
		span.SetStatus(codes.Error, out.Reason())
	}
	attrs := metric.WithAttributes(
		attribute.String("state", out.State.String()),
		attribute.String("action", string(act.Kind)),
	)
	if e.outcomes != nil {
		e.outcomes.Add(ctx, 1, attrs)
	}
	if e.duration != nil {
		e.duration.Record(ctx, out.Finished.Sub(out.Started).Seconds(), attrs)
	}
	return out
}

func (e *Engine) drive(ctx context.Context, x *execution, delay time.Duration) {
	plan, err := command.PlanFor(x.act)
	if err != nil {
		e.logger.Warn("unrecognized action kind, nothing to do",
			"token", x.tok.ID(), "action", string(x.act.Kind))
		x.err = e.fail(x, ErrCodeUnrecognizedAction, err.Error(), 0)
		e.transition(x, StateCompleted)
		return
	}
	x.plan = plan

	if e.bridge == nil || !e.bridge.Connected() {
		x.err = e.fail(x, ErrCodeNoBridge, "no bridge available", 0)
		e.transition(x, StateFailed)
		return
	}

	for !x.state.Terminal() {
		switch x.state {
		case StateTriggered:
			e.stepTriggered(ctx, x, delay)
		case StateCheckingOps:
			e.stepChecking(ctx, x)
		case StateExecuting:
			e.stepExecuting(ctx, x)
		case StateVerifying:
			e.stepVerifying(ctx, x)
		}
	}
}

func (e *Engine) stepTriggered(ctx context.Context, x *execution, delay time.Duration) {
	if delay > 0 {
		if err := e.sleep(ctx, delay); err != nil {
			e.transition(x, StateCancelled)
			return
		}
	}
	if !e.current(ctx, x) {
		e.transition(x, StateCancelled)
		return
	}
	e.transition(x, StateCheckingOps)
}

func (e *Engine) stepChecking(ctx context.Context, x *execution) {
	snap, err := e.Snapshot(ctx)
	if !e.current(ctx, x) {
		e.transition(x, StateCancelled)
		return
	}
	if err != nil {
		e.logger.Warn("snapshot query failed",
			"token", x.tok.ID(), "action", x.act.String(), "state", x.state.String(), "wait", x.wait, "error", err)
	} else {
		x.snap = snap
		if x.plan.Opportunity(snap) || x.plan.Direct {
			e.transition(x, StateExecuting)
			return
		}
	}

	if x.wait < e.cfg.MaxWaitAttempts {
		x.wait++
		x.waited = true
		if err := e.sleep(ctx, e.cfg.WaitInterval); err != nil || !e.current(ctx, x) {
			e.transition(x, StateCancelled)
			return
		}
		e.logger.Debug("waiting for operation",
			"token", x.tok.ID(), "action", x.act.String(), "wait", x.wait, "ops", codeList(x.snap))
		return
	}

	if x.act.Kind == action.KindPass {
		e.logger.Info("no call window appeared, pass is moot",
			"token", x.tok.ID(), "wait", x.wait)
		e.transition(x, StateCompleted)
		return
	}
	x.err = e.fail(x, ErrCodeNoOpportunity, "no opportunity within wait budget", x.wait)
	e.transition(x, StateFailed)
}

func (e *Engine) stepExecuting(ctx context.Context, x *execution) {
	if !e.current(ctx, x) {
		e.transition(x, StateCancelled)
		return
	}

	cmd, err := x.plan.Perform(x.snap)
	if err != nil {
		e.logger.Warn("cannot build command",
			"token", x.tok.ID(), "action", x.act.String(), "retry", x.retry, "ops", codeList(x.snap), "error", err)
	} else {
		x.cmds++
		x.lastCmd = cmd.Script
		if _, err := e.bridge.Execute(ctx, cmd.Script); err != nil {
			e.logger.Warn("perform command failed",
				"token", x.tok.ID(), "action", x.act.String(), "retry", x.retry, "error", err)
		}
	}

	if x.plan.SingleShot {
		e.transition(x, StateCompleted)
		return
	}

	interval := e.cfg.ExecuteInterval
	if x.act.Kind == action.KindPass {
		interval = e.cfg.PassInterval
	}
	if err := e.sleep(ctx, interval); err != nil {
		e.transition(x, StateCancelled)
		return
	}
	e.transition(x, StateVerifying)
}

func (e *Engine) stepVerifying(ctx context.Context, x *execution) {
	if !e.current(ctx, x) {
		e.transition(x, StateCancelled)
		return
	}

	snap, err := e.Snapshot(ctx)
	if err != nil {
		e.logger.Warn("verify query failed",
			"token", x.tok.ID(), "action", x.act.String(), "retry", x.retry, "error", err)
	} else {
		x.snap = snap
		switch {
		case !x.plan.Verified(snap):
		case x.cmds == 0:
			// Nothing was sent yet, so the cleared state is not ours.
			e.logger.Warn("verified without a command, retrying perform",
				"token", x.tok.ID(), "action", x.act.String(), "retry", x.retry, "ops", codeList(snap))
		default:
			e.transition(x, StateCompleted)
			return
		}
	}

	budget := e.retryBudget(x)
	if x.retry < budget {
		x.retry++
		e.transition(x, StateExecuting)
		return
	}
	msg := "max retries reached"
	if x.cmds == 0 {
		msg = "max retries reached without building a command"
	}
	x.err = e.fail(x, ErrCodeMaxRetries, msg, x.retry)
	e.transition(x, StateFailed)
}

func (e *Engine) retryBudget(x *execution) int {
	switch {
	case x.act.Kind == action.KindPass:
		return e.cfg.PassMaxRetryAttempts
	case x.waited:
		return e.cfg.MaxRetryAttemptsAfterWait
	default:
		return e.cfg.MaxRetryAttempts
	}
}

// current is the supersession checkpoint.
func (e *Engine) current(ctx context.Context, x *execution) bool {
	return ctx.Err() == nil && e.auth.IsCurrent(x.tok)
}

func (e *Engine) transition(x *execution, to State) {
	from := x.state
	x.state = to

	attrs := []any{
		"token", x.tok.ID(),
		"action", x.act.String(),
		"from", from.String(),
		"to", to.String(),
		"wait", x.wait,
		"retry", x.retry,
		"ops", codeList(x.snap),
	}
	switch to {
	case StateFailed:
		e.logger.Warn("execution failed", append(attrs, "reason", errText(x.err))...)
	case StateCancelled:
		e.logger.Info("execution superseded", attrs...)
	case StateCompleted:
		e.logger.Info("execution completed", attrs...)
	default:
		e.logger.Info("execution transition", attrs...)
	}
}

func (e *Engine) fail(x *execution, code ErrorCode, msg string, attempts int) error {
	return &ExecutionError{
		Code:     code,
		Message:  msg,
		Token:    x.tok.ID(),
		Action:   x.act.String(),
		Attempts: attempts,
	}
}

func codeList(s oplist.Snapshot) []int {
	cs := s.Codes()
	out := make([]int, len(cs))
	for i, c := range cs {
		out[i] = int(c)
	}
	return out
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
