package oracle

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/event"
)

// ErrExited is returned when the bot process is gone.
var ErrExited = errors.New("oracle process exited")

// Command describes how to launch an mjai bot.
type Command struct {
	Path    string        `yaml:"path" json:"path" env:"PATH"`
	Args    []string      `yaml:"args" json:"args" env:"ARGS" envSeparator:" "`
	Dir     string        `yaml:"dir" json:"dir" env:"DIR"`
	Env     []string      `yaml:"env" json:"env" env:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// Process is an mjai bot running as a child process. Each event is written
// as one JSON line to stdin; the bot answers every line with one JSON line
// on stdout.
type Process struct {
	seat    int
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex // serializes request/response pairs
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan []byte
	// owed counts answers to abandoned requests still to come off stdout.
	owed int

	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

// ProcessFactory returns a Factory that launches cmd per session.
func ProcessFactory(cmd Command, logger *slog.Logger) Factory {
	return func(ctx context.Context, seat int) (Oracle, error) {
		return StartProcess(ctx, cmd, seat, logger)
	}
}

// StartProcess launches the bot for seat. The process is not bound to ctx;
// Close stops it.
func StartProcess(ctx context.Context, c Command, seat int, logger *slog.Logger) (*Process, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("oracle command path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("oracle stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("oracle stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("oracle stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start oracle %s: %w", c.Path, err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &Process{
		seat:    seat,
		timeout: timeout,
		logger:  logger.With("oracle", c.Path, "seat", seat),
		cmd:     cmd,
		stdin:   stdin,
		lines:   make(chan []byte, 16),
		exited:  make(chan struct{}),
	}

	go p.readStdout(stdout)
	go p.readStderr(stderr)

	p.logger.Info("oracle started", "pid", cmd.Process.Pid)
	return p, nil
}

func (p *Process) readStdout(r io.Reader) {
	defer close(p.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		if len(line) == 0 {
			continue
		}
		p.lines <- line
	}
	p.wait()
}

func (p *Process) readStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.logger.Debug("oracle stderr", "line", sc.Text())
	}
}

func (p *Process) wait() {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	})
}

// React sends ev and waits for the bot's answer. The bot answers lines in
// order, so when an earlier call gave up, its late answer is dropped before
// this event's answer is read.
func (p *Process) React(ctx context.Context, ev event.Event) (*action.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := ev.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write event: %w", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	var line []byte
	for line == nil {
		select {
		case l, ok := <-p.lines:
			if !ok {
				return nil, ErrExited
			}
			if p.owed > 0 {
				p.owed--
				p.logger.Warn("dropping late oracle answer", "line", string(l), "still_owed", p.owed)
				continue
			}
			line = l
		case <-ctx.Done():
			p.owed++
			return nil, ctx.Err()
		case <-timer.C:
			p.owed++
			return nil, fmt.Errorf("oracle did not answer %s within %s", ev.Kind, p.timeout)
		}
	}

	act, err := decodeResponse(line, p.seat)
	if err != nil {
		p.logger.Warn("oracle response rejected", "kind", ev.Kind, "line", string(line), "error", err)
		return nil, err
	}
	return Normalize(ev, p.seat, act), nil
}

// response is the envelope of a bot answer; the action fields are decoded
// separately by action.FromWire.
type response struct {
	Type  string `json:"type"`
	Actor *int   `json:"actor"`
}

func decodeResponse(line []byte, seat int) (*action.Action, error) {
	var r response
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if r.Actor != nil && *r.Actor != seat {
		return nil, fmt.Errorf("response for seat %d, want %d", *r.Actor, seat)
	}
	act, err := action.FromWire(line)
	if err != nil {
		return nil, err
	}
	return &act, nil
}

// Close ends the bot. It closes stdin and kills the process if it has not
// exited shortly after.
func (p *Process) Close() error {
	_ = p.stdin.Close()
	go func() {
		for range p.lines {
		}
	}()
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	var exitErr *exec.ExitError
	if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
		return p.waitErr
	}
	return nil
}
