// Package controlplane exposes the operator tools over MCP: query the
// pending operations and the last recommendation, re-trigger it, read or
// clear the log buffer, and flip the auto and delay switches.
package controlplane

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/coordinator"
	"github.com/roach88/tsumo/internal/oplist"
	"github.com/roach88/tsumo/internal/pipeline"
	"github.com/roach88/tsumo/internal/stream"
	"github.com/roach88/tsumo/internal/token"
)

const serverName = "tsumo"

// Snapshotter reads the live pending-operation snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context) (oplist.Snapshot, error)
}

// Coordinator is the trigger surface the tools drive.
type Coordinator interface {
	Last() (coordinator.Recommendation, bool)
	Trigger() (*token.Token, error)
	SetAuto(on bool) *token.Token
	SetStepDelay(d time.Duration) error
	Status() coordinator.Status
	InitialDelay(k action.Kind) time.Duration
}

// Logs is the queryable log-line buffer.
type Logs interface {
	Lines(limit int) []string
	Clear() int
	Total() int64
}

// Deps are the components behind the tools. Stream, Pipeline and Bridge are
// optional and only feed get_status.
type Deps struct {
	Engine      Snapshotter
	Coordinator Coordinator
	Logs        Logs
	Stream      func() stream.Status
	Pipeline    func() pipeline.Status
	Bridge      func() bool
}

// NewServer builds an MCP server with every tool registered.
func NewServer(d Deps, version string) (*mcp.Server, error) {
	if d.Engine == nil || d.Coordinator == nil || d.Logs == nil {
		return nil, fmt.Errorf("controlplane: engine, coordinator and logs are required")
	}
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil)

	mcp.AddTool(server, PendingOperationsTool(), PendingOperationsHandler(d.Engine))
	mcp.AddTool(server, RecommendationTool(), RecommendationHandler(d.Coordinator))
	mcp.AddTool(server, ExecuteTool(), ExecuteHandler(d.Coordinator))
	mcp.AddTool(server, LogsTool(), LogsHandler(d.Logs))
	mcp.AddTool(server, ClearLogsTool(), ClearLogsHandler(d.Logs))
	mcp.AddTool(server, AutoModeTool(), AutoModeHandler(d.Coordinator))
	mcp.AddTool(server, StepDelayTool(), StepDelayHandler(d.Coordinator))
	mcp.AddTool(server, StatusTool(), StatusHandler(d))
	return server, nil
}

// Handler serves server over the streamable HTTP transport.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}
