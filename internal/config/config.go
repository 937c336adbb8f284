// Package config loads tsumo's settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then an
// optional .env file, then TSUMO_* environment variables. The result is
// checked against an embedded CUE schema before it is returned.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tsumo/internal/bridge"
	"github.com/roach88/tsumo/internal/coordinator"
	"github.com/roach88/tsumo/internal/executor"
	"github.com/roach88/tsumo/internal/logsink"
	"github.com/roach88/tsumo/internal/oracle"
	"github.com/roach88/tsumo/internal/telemetry"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "TSUMO_"

//go:embed schema.cue
var schemaCUE string

// Config is the full process configuration.
type Config struct {
	Listen    string        `yaml:"listen" json:"listen" env:"LISTEN"`
	Journal   string        `yaml:"journal" json:"journal" env:"JOURNAL"`
	Auto      bool          `yaml:"auto" json:"auto" env:"AUTO"`
	StepDelay time.Duration `yaml:"step_delay" json:"step_delay" env:"STEP_DELAY"`

	Executor  executor.Config     `yaml:"executor" json:"executor" envPrefix:"EXECUTOR_"`
	Delays    coordinator.Delays  `yaml:"delays" json:"delays" envPrefix:"DELAY_"`
	Oracle    oracle.Command      `yaml:"oracle" json:"oracle" envPrefix:"ORACLE_"`
	Bridge    bridge.Config       `yaml:"bridge" json:"bridge" envPrefix:"BRIDGE_"`
	Redis     logsink.RedisConfig `yaml:"redis" json:"redis" envPrefix:"REDIS_"`
	Telemetry telemetry.Config    `yaml:"telemetry" json:"telemetry" envPrefix:"OTEL_"`
	Log       Log                 `yaml:"log" json:"log" envPrefix:"LOG_"`
}

// Log configures the process log handlers.
type Log struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL"`
	Format string `yaml:"format" json:"format" env:"FORMAT"`
	Buffer int    `yaml:"buffer" json:"buffer" env:"BUFFER"`
}

// SlogLevel maps Level onto slog. Unknown names read as info.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:    "127.0.0.1:7788",
		StepDelay: coordinator.DefaultStepDelay,
		Executor:  executor.DefaultConfig(),
		Delays:    coordinator.DefaultDelays(),
		Oracle:    oracle.Command{Timeout: 10 * time.Second},
		Bridge:    bridge.DefaultConfig(),
		Redis:     logsink.RedisConfig{Stream: "tsumo:logs", MaxLen: 10000},
		Telemetry: telemetry.DefaultConfig(),
		Log: Log{
			Level:  "info",
			Format: "text",
			Buffer: logsink.DefaultCapacity,
		},
	}
}

// Options selects the optional layers for Load. Empty paths are skipped.
type Options struct {
	File   string
	DotEnv string
}

// Load builds a Config from defaults and the layers named in opts, then
// validates it.
func Load(opts Options) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", opts.File, err)
		}
	}

	if opts.DotEnv != "" {
		// Variables already present in the environment win over the file.
		if err := godotenv.Load(opts.DotEnv); err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML overlays data onto cfg. Unknown keys are rejected.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ValidationError lists the schema violations found in a Config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks cfg against the embedded schema.
func Validate(cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("compile config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Problems: problems(err)}
	}
	return nil
}

func problems(err error) []string {
	var out []string
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := e.Path(); len(path) > 0 {
			msg = strings.Join(path, ".") + ": " + msg
		}
		out = append(out, msg)
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}
