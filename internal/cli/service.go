package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tsumo/internal/bridge"
	"github.com/roach88/tsumo/internal/config"
	"github.com/roach88/tsumo/internal/controlplane"
	"github.com/roach88/tsumo/internal/coordinator"
	"github.com/roach88/tsumo/internal/executor"
	"github.com/roach88/tsumo/internal/feed"
	"github.com/roach88/tsumo/internal/logsink"
	"github.com/roach88/tsumo/internal/oracle"
	"github.com/roach88/tsumo/internal/pipeline"
	"github.com/roach88/tsumo/internal/store"
	"github.com/roach88/tsumo/internal/stream"
	"github.com/roach88/tsumo/internal/telemetry"
	"github.com/roach88/tsumo/internal/token"
)

// HTTP routes served by a running service.
const (
	RouteFeed    = "/feed"
	RouteBridge  = "/bridge"
	RouteMCP     = "/mcp"
	RouteHealthz = "/healthz"
)

const shutdownTimeout = 5 * time.Second

// service is the wired process behind `tsumo serve`.
type service struct {
	cfg    config.Config
	logger *slog.Logger

	logs        *logsink.Buffer
	redisClient *redis.Client
	redisSink   *logsink.Redis
	journal     *store.Store
	otelDown    func(context.Context) error

	auth     *token.Authority
	engine   *executor.Engine
	coord    *coordinator.Coordinator
	stream   *stream.Stream
	pipeline *pipeline.Pipeline
	feed     *feed.Server
	bridge   *bridge.Server
	control  *mcp.Server
}

// serviceOption adjusts wiring, mainly for tests.
type serviceOption func(*serviceParts)

type serviceParts struct {
	factory oracle.Factory
	tokens  token.Generator
}

func withOracleFactory(f oracle.Factory) serviceOption {
	return func(p *serviceParts) { p.factory = f }
}

func withTokenGenerator(g token.Generator) serviceOption {
	return func(p *serviceParts) { p.tokens = g }
}

// newService wires every component from cfg. Executions and feed
// consumption run under ctx.
func newService(ctx context.Context, cfg config.Config, stderr io.Writer, opts ...serviceOption) (*service, error) {
	parts := serviceParts{tokens: token.UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&parts)
	}

	s := &service{cfg: cfg}
	s.logger = s.buildLogger(stderr)

	down, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	s.otelDown = down

	if cfg.Journal != "" {
		s.journal, err = store.Open(cfg.Journal)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		s.logger.Info("journal ready", "path", cfg.Journal)
	}

	if parts.factory == nil {
		parts.factory = oracle.ProcessFactory(cfg.Oracle, s.logger.With("component", "oracle"))
	}

	s.auth = token.NewAuthority(parts.tokens)
	s.bridge = bridge.NewServer(cfg.Bridge, s.logger.With("component", "bridge"))
	s.engine = executor.New(s.bridge, s.auth,
		executor.WithConfig(cfg.Executor),
		executor.WithLogger(s.logger.With("component", "executor")),
	)
	s.stream = stream.New(stream.WithLogger(s.logger.With("component", "stream")))

	coordOpts := []coordinator.Option{
		coordinator.WithDelays(cfg.Delays),
		coordinator.WithStepDelay(cfg.StepDelay),
		coordinator.WithAuto(cfg.Auto),
		coordinator.WithLogger(s.logger.With("component", "coordinator")),
		coordinator.WithContext(ctx),
	}
	if s.journal != nil {
		coordOpts = append(coordOpts, coordinator.WithOutcomeHandler(s.recordOutcome(ctx)))
	}
	s.coord = coordinator.New(s.auth, s.engine, coordOpts...)

	pipeOpts := []pipeline.Option{pipeline.WithLogger(s.logger.With("component", "pipeline"))}
	if s.journal != nil {
		pipeOpts = append(pipeOpts, pipeline.WithJournal(s.journal))
	}
	s.pipeline = pipeline.New(s.stream, parts.factory, s.coord, pipeOpts...)
	s.feed = feed.NewServer(ctx, s.pipeline, s.logger.With("component", "feed"))

	s.control, err = controlplane.NewServer(controlplane.Deps{
		Engine:      s.engine,
		Coordinator: s.coord,
		Logs:        s.logs,
		Stream:      s.stream.Status,
		Pipeline:    s.pipeline.Status,
		Bridge:      s.bridge.Connected,
	}, Version)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// buildLogger fans records out to stderr, the control-plane buffer and,
// when configured, a redis stream.
func (s *service) buildLogger(stderr io.Writer) *slog.Logger {
	level := s.cfg.Log.SlogLevel()
	hopts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	if s.cfg.Log.Format == "json" {
		console = slog.NewJSONHandler(stderr, hopts)
	} else {
		console = slog.NewTextHandler(stderr, hopts)
	}

	s.logs = logsink.NewBuffer(s.cfg.Log.Buffer)
	handlers := []slog.Handler{console, s.logs.Handler(level)}

	if s.cfg.Redis.Enabled() {
		s.redisClient = logsink.NewRedisClient(s.cfg.Redis)
		s.redisSink = logsink.NewRedis(s.redisClient, s.cfg.Redis.Stream, s.cfg.Redis.MaxLen)
		handlers = append(handlers, s.redisSink.Handler(level))
	}
	return slog.New(logsink.NewFanout(handlers...))
}

// recordOutcome journals terminal outcomes under the session whose event
// produced the recommendation.
func (s *service) recordOutcome(ctx context.Context) func(coordinator.Recommendation, executor.Outcome) {
	bg := context.WithoutCancel(ctx)
	return func(rec coordinator.Recommendation, out executor.Outcome) {
		if err := s.journal.RecordOutcome(bg, rec.SessionID, out); err != nil {
			s.logger.Warn("journal outcome failed", "token", out.TokenID, "error", err)
		}
	}
}

// Handler routes the feed, bridge and control-plane endpoints.
func (s *service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(RouteFeed, s.feed)
	mux.Handle(RouteBridge, s.bridge)
	mux.Handle(RouteMCP, controlplane.Handler(s.control))
	mux.HandleFunc("GET "+RouteHealthz, s.healthz)
	return mux
}

// Health is the /healthz body.
type Health struct {
	Version         string          `json:"version"`
	BridgeConnected bool            `json:"bridge_connected"`
	Feed            feed.Stats      `json:"feed"`
	Stream          stream.Status   `json:"stream"`
	Pipeline        pipeline.Status `json:"pipeline"`
	Auto            bool            `json:"auto"`
}

func (s *service) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Health{
		Version:         Version,
		BridgeConnected: s.bridge.Connected(),
		Feed:            s.feed.Stats(),
		Stream:          s.stream.Status(),
		Pipeline:        s.pipeline.Status(),
		Auto:            s.coord.Auto(),
	})
}

// Serve accepts on ln until ctx is done, then shuts the server down.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
		return nil
	})
	return g.Wait()
}

// Close stops executions and releases every resource that was opened.
// It is safe on a partially built service.
func (s *service) Close() error {
	var errs []error
	if s.auth != nil {
		s.auth.Cancel()
	}
	if s.pipeline != nil {
		errs = append(errs, s.pipeline.Close())
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if s.otelDown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		errs = append(errs, s.otelDown(ctx))
		cancel()
	}
	if s.redisSink != nil {
		errs = append(errs, s.redisSink.Close())
	}
	if s.redisClient != nil {
		errs = append(errs, s.redisClient.Close())
	}
	return errors.Join(errs...)
}
