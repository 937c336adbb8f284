package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	s := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	hs := httptest.NewServer(s)
	t.Cleanup(hs.Close)
	return s, "ws" + strings.TrimPrefix(hs.URL, "http")
}

// dialClient connects a fake live client that answers with answer.
func dialClient(t *testing.T, url string, answer func(Request) Response) *websocket.Conn {
	t.Helper()
	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	go func() {
		for {
			var req Request
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			if err := wsjson.Write(ctx, conn, answer(req)); err != nil {
				return
			}
		}
	}()
	return conn
}

func waitConnected(t *testing.T, s *Server, want bool) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Connected() == want }, time.Second, time.Millisecond)
}

func TestExecuteWithoutClient(t *testing.T) {
	s, _ := newServer(t, DefaultConfig())
	assert.False(t, s.Connected())

	_, err := s.Execute(context.Background(), "1+1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestExecuteRoundTrip(t *testing.T) {
	s, url := newServer(t, DefaultConfig())
	dialClient(t, url, func(req Request) Response {
		return Response{ID: req.ID, Result: json.RawMessage(`{"echo":` + mustQuote(req.Script) + `}`)}
	})
	waitConnected(t, s, true)

	res, err := s.Execute(context.Background(), "hello")
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"hello"}`, string(res))
}

func TestScriptErrorsSurface(t *testing.T) {
	s, url := newServer(t, DefaultConfig())
	dialClient(t, url, func(req Request) Response {
		return Response{ID: req.ID, Error: "app is not defined"}
	})
	waitConnected(t, s, true)

	_, err := s.Execute(context.Background(), "app.x()")
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "app is not defined", se.Message)
}

func TestAnswersMatchedByID(t *testing.T) {
	s, url := newServer(t, DefaultConfig())

	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	waitConnected(t, s, true)

	// Hold both requests, then answer in reverse order.
	go func() {
		var reqs []Request
		for len(reqs) < 2 {
			var req Request
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			reqs = append(reqs, req)
		}
		for i := len(reqs) - 1; i >= 0; i-- {
			_ = wsjson.Write(ctx, conn, Response{ID: reqs[i].ID, Result: json.RawMessage(mustQuote(reqs[i].Script))})
		}
	}()

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i, script := range []string{"first", "second"} {
		wg.Add(1)
		go func(i int, script string) {
			defer wg.Done()
			res, err := s.Execute(ctx, script)
			if assert.NoError(t, err) {
				results[i] = string(res)
			}
		}(i, script)
	}
	wg.Wait()

	assert.Equal(t, []string{`"first"`, `"second"`}, results)
}

func TestTimeoutWhenClientIsSilent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Millisecond
	s, url := newServer(t, cfg)

	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	go func() {
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	}()
	waitConnected(t, s, true)

	_, err = s.Execute(context.Background(), "slow()")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDisconnectFailsPendingCalls(t *testing.T) {
	s, url := newServer(t, DefaultConfig())

	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	waitConnected(t, s, true)

	go func() {
		var req Request
		_ = wsjson.Read(ctx, conn, &req)
		conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	_, err = s.Execute(ctx, "never answered")
	assert.ErrorIs(t, err, ErrDisconnected)
	waitConnected(t, s, false)
}

func TestNewClientReplacesOld(t *testing.T) {
	s, url := newServer(t, DefaultConfig())
	dialClient(t, url, func(req Request) Response {
		return Response{ID: req.ID, Result: json.RawMessage(`"old"`)}
	})
	waitConnected(t, s, true)

	dialClient(t, url, func(req Request) Response {
		return Response{ID: req.ID, Result: json.RawMessage(`"new"`)}
	})

	require.Eventually(t, func() bool {
		res, err := s.Execute(context.Background(), "who")
		return err == nil && string(res) == `"new"`
	}, time.Second, 5*time.Millisecond)
}

func mustQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
