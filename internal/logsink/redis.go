package logsink

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the stream log lines are forwarded to.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr" env:"ADDR"`
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" json:"db" env:"DB"`
	Stream   string `yaml:"stream" json:"stream" env:"STREAM"`
	MaxLen   int64  `yaml:"max_len" json:"max_len" env:"MAX_LEN"`
}

// Enabled reports whether an address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Publisher is the redis call the forwarder needs. *redis.Client implements it.
type Publisher interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// NewRedisClient connects a client for cfg.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Redis forwards log lines to a redis stream from a background goroutine.
// Writes never block: when the queue is full the line is dropped.
type Redis struct {
	pub    Publisher
	stream string
	maxLen int64

	mu      sync.RWMutex
	closed  bool
	queue   chan string
	dropped atomic.Int64
	failed  atomic.Int64

	done chan struct{}
}

// NewRedis starts the forwarder. Close flushes and stops it.
func NewRedis(pub Publisher, stream string, maxLen int64) *Redis {
	if stream == "" {
		stream = "tsumo:logs"
	}
	r := &Redis{
		pub:    pub,
		stream: stream,
		maxLen: maxLen,
		queue:  make(chan string, 256),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Redis) run() {
	defer close(r.done)
	for line := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := r.pub.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			MaxLen: r.maxLen,
			Approx: r.maxLen > 0,
			Values: map[string]any{"line": line},
		}).Err()
		cancel()
		if err != nil {
			r.failed.Add(1)
		}
	}
}

// Write queues p as one line. Lines written after Close are dropped.
func (r *Redis) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return len(p), nil
	}
	select {
	case r.queue <- line:
	default:
		r.dropped.Add(1)
	}
	return len(p), nil
}

// Handler returns a JSON handler writing into r.
func (r *Redis) Handler(level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(r, &slog.HandlerOptions{Level: level})
}

// Dropped counts lines lost to a full queue.
func (r *Redis) Dropped() int64 { return r.dropped.Load() }

// Failed counts lines redis rejected.
func (r *Redis) Failed() int64 { return r.failed.Load() }

// Close drains the queue and stops the forwarder.
func (r *Redis) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}
