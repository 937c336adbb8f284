// Package coordinator turns recommendations into executions.
//
// It remembers the last recommendation, mints a fresh token for every
// trigger and hands the action to the runner with a per-kind initial delay.
// Rapid repeated triggers are expected; only the newest token may act.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/executor"
	"github.com/roach88/tsumo/internal/token"
)

// ErrNoRecommendation is returned by Trigger when nothing has been recommended
// in the current session.
var ErrNoRecommendation = errors.New("no recommendation available")

// Runner starts executions. *executor.Engine implements it.
type Runner interface {
	Start(ctx context.Context, tok *token.Token, act action.Action, delay time.Duration, done func(executor.Outcome))
}

// Recommendation is the most recent oracle output the coordinator holds.
type Recommendation struct {
	Action    action.Action `json:"action"`
	SessionID string        `json:"session_id,omitempty"`
	Seq       int           `json:"seq"`
	At        time.Time     `json:"at"`
}

// Delays are the initial delays before the first check, per action kind.
// Discard has no entry: it waits for the configured step delay.
type Delays struct {
	Riichi time.Duration `yaml:"riichi" json:"riichi" env:"RIICHI"`
	Call   time.Duration `yaml:"call" json:"call" env:"CALL"`
	Pass   time.Duration `yaml:"pass" json:"pass" env:"PASS"`
	Win    time.Duration `yaml:"win" json:"win" env:"WIN"`
}

// DefaultDelays gives calls time for the live UI to settle and keeps pass
// and win short.
func DefaultDelays() Delays {
	return Delays{
		Riichi: 500 * time.Millisecond,
		Call:   800 * time.Millisecond,
		Pass:   150 * time.Millisecond,
		Win:    0,
	}
}

// DefaultStepDelay is the initial delay for discards.
const DefaultStepDelay = 300 * time.Millisecond

// Status is a snapshot of the coordinator's switches.
type Status struct {
	Auto      bool            `json:"auto"`
	StepDelay time.Duration   `json:"step_delay"`
	Last      *Recommendation `json:"last,omitempty"`
	Triggers  int64           `json:"triggers"`
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	auth   *token.Authority
	runner Runner
	base   context.Context
	logger *slog.Logger
	report func(Recommendation, executor.Outcome)

	mu       sync.Mutex
	last     *Recommendation
	auto     bool
	step     time.Duration
	delays   Delays
	triggers int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDelays overrides the per-kind initial delays.
func WithDelays(d Delays) Option {
	return func(c *Coordinator) {
		c.delays = d
	}
}

// WithStepDelay sets the discard delay.
func WithStepDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.step = d
	}
}

// WithAuto sets the initial full-auto flag.
func WithAuto(on bool) Option {
	return func(c *Coordinator) {
		c.auto = on
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithOutcomeHandler registers fn for every COMPLETED or FAILED outcome,
// along with the recommendation that triggered it.
func WithOutcomeHandler(fn func(Recommendation, executor.Outcome)) Option {
	return func(c *Coordinator) {
		c.report = fn
	}
}

// WithContext sets the context executions run under. Executions outlive the
// event delivery that triggered them, so they do not use its context.
func WithContext(ctx context.Context) Option {
	return func(c *Coordinator) {
		c.base = ctx
	}
}

// New creates a coordinator with auto mode off.
func New(auth *token.Authority, runner Runner, opts ...Option) *Coordinator {
	c := &Coordinator{
		auth:   auth,
		runner: runner,
		base:   context.Background(),
		logger: slog.Default(),
		step:   DefaultStepDelay,
		delays: DefaultDelays(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recommend stores rec as the last recommendation. In auto mode it also
// triggers an execution and returns its token; otherwise it returns nil.
func (c *Coordinator) Recommend(rec Recommendation) *token.Token {
	c.mu.Lock()
	c.last = &rec
	auto := c.auto
	c.mu.Unlock()

	c.logger.Debug("recommendation", "action", rec.Action.String(), "seq", rec.Seq, "auto", auto)
	if !auto {
		return nil
	}
	return c.trigger(rec)
}

// Trigger re-runs the last recommendation under a new token.
func (c *Coordinator) Trigger() (*token.Token, error) {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()

	if last == nil {
		return nil, ErrNoRecommendation
	}
	return c.trigger(*last), nil
}

func (c *Coordinator) trigger(rec Recommendation) *token.Token {
	delay := c.InitialDelay(rec.Action.Kind)
	tok := c.auth.Begin()

	c.mu.Lock()
	c.triggers++
	c.mu.Unlock()

	c.logger.Info("execution triggered",
		"token", tok.ID(), "action", rec.Action.String(), "delay", delay)
	c.runner.Start(c.base, tok, rec.Action, delay, func(out executor.Outcome) {
		c.done(rec, out)
	})
	return tok
}

func (c *Coordinator) done(rec Recommendation, out executor.Outcome) {
	if out.Succeeded() {
		c.logger.Info("execution completed",
			"token", out.TokenID, "action", out.Action.String(), "retry", out.RetryAttempts)
	} else {
		c.logger.Warn("execution failed",
			"token", out.TokenID, "action", out.Action.String(), "reason", out.Reason())
	}
	if c.report != nil {
		c.report(rec, out)
	}
}

// SetAuto switches full-auto mode. Turning it on triggers the last
// recommendation, if any. Turning it off cancels the current execution.
func (c *Coordinator) SetAuto(on bool) *token.Token {
	c.mu.Lock()
	c.auto = on
	last := c.last
	c.mu.Unlock()

	c.logger.Info("auto mode", "enabled", on)
	if !on {
		c.auth.Cancel()
		return nil
	}
	if last == nil {
		return nil
	}
	return c.trigger(*last)
}

// Auto reports the full-auto flag.
func (c *Coordinator) Auto() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auto
}

// SetStepDelay changes the discard delay.
func (c *Coordinator) SetStepDelay(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("step delay must not be negative: %s", d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
	return nil
}

// StepDelay returns the discard delay.
func (c *Coordinator) StepDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Last returns the last recommendation.
func (c *Coordinator) Last() (Recommendation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Recommendation{}, false
	}
	return *c.last, true
}

// Reset forgets the last recommendation and cancels the current execution.
// Called when a session ends or restarts.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
	c.auth.Cancel()
}

// Status returns the switches and the last recommendation.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Auto: c.auto, StepDelay: c.step, Triggers: c.triggers}
	if c.last != nil {
		last := *c.last
		st.Last = &last
	}
	return st
}

// InitialDelay is the wait before the first check for an action of kind k.
func (c *Coordinator) InitialDelay(k action.Kind) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch k {
	case action.KindDiscard:
		return c.step
	case action.KindRiichi:
		return c.delays.Riichi
	case action.KindChi, action.KindPon, action.KindKan:
		return c.delays.Call
	case action.KindPass:
		return c.delays.Pass
	case action.KindWin:
		return c.delays.Win
	default:
		return 0
	}
}
