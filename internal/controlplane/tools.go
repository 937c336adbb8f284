package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roach88/tsumo/internal/coordinator"
)

// Empty is the input of tools that take no arguments.
type Empty struct{}

// OperationResult is one offered operation.
type OperationResult struct {
	Code        int      `json:"code" jsonschema:"operation code"`
	Name        string   `json:"name" jsonschema:"operation name, e.g. discard, chi, ron"`
	Combination []string `json:"combination,omitempty" jsonschema:"selectable options as |-joined tiles"`
}

// PendingOperationsResult is the live pending-operation snapshot.
type PendingOperationsResult struct {
	HasOp      bool              `json:"has_op" jsonschema:"whether the client offers any operation"`
	Operations []OperationResult `json:"operations" jsonschema:"offered operations"`
	Hand       []string          `json:"hand" jsonschema:"local hand in client notation"`
	Drawn      int               `json:"drawn" jsonschema:"index of the drawn tile in hand, -1 when none"`
}

// PendingOperationsTool defines get_pending_operations.
func PendingOperationsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_pending_operations",
		Description: "Reads the operations the live client currently offers, with the local hand.",
	}
}

// PendingOperationsHandler queries the snapshot through the bridge.
func PendingOperationsHandler(engine Snapshotter) mcp.ToolHandlerFor[Empty, PendingOperationsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, PendingOperationsResult, error) {
		snap, err := engine.Snapshot(ctx)
		if err != nil {
			return nil, PendingOperationsResult{}, fmt.Errorf("pending operations: %w", err)
		}

		result := PendingOperationsResult{
			HasOp:      snap.HasOp,
			Operations: []OperationResult{},
			Hand:       []string{},
			Drawn:      -1,
		}
		for _, op := range snap.Ops {
			result.Operations = append(result.Operations, OperationResult{
				Code:        int(op.Code),
				Name:        op.Code.String(),
				Combination: op.Combination,
			})
		}
		result.Hand = append(result.Hand, snap.Hand...)
		if snap.Drawn != nil {
			result.Drawn = *snap.Drawn
		}
		return nil, result, nil
	}
}

// RecommendationResult is the last recommendation.
type RecommendationResult struct {
	Available bool   `json:"available" jsonschema:"whether a recommendation is held"`
	Kind      string `json:"kind,omitempty" jsonschema:"action kind"`
	Action    string `json:"action,omitempty" jsonschema:"human readable action"`
	SessionID string `json:"session_id,omitempty" jsonschema:"session the recommendation belongs to"`
	Seq       int    `json:"seq" jsonschema:"position of the triggering event in the session"`
	At        string `json:"at,omitempty" jsonschema:"RFC3339 time the recommendation arrived"`
}

// RecommendationTool defines get_recommendation.
func RecommendationTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_recommendation",
		Description: "Returns the last recommendation produced in the current session.",
	}
}

// RecommendationHandler reads the coordinator's last recommendation.
func RecommendationHandler(c Coordinator) mcp.ToolHandlerFor[Empty, RecommendationResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, RecommendationResult, error) {
		rec, ok := c.Last()
		if !ok {
			return nil, RecommendationResult{}, nil
		}
		return nil, recommendationResult(rec), nil
	}
}

func recommendationResult(rec coordinator.Recommendation) RecommendationResult {
	r := RecommendationResult{
		Available: true,
		Kind:      string(rec.Action.Kind),
		Action:    rec.Action.String(),
		SessionID: rec.SessionID,
		Seq:       rec.Seq,
	}
	if !rec.At.IsZero() {
		r.At = rec.At.UTC().Format(time.RFC3339Nano)
	}
	return r
}

// ExecuteResult identifies the execution a trigger started.
type ExecuteResult struct {
	Token   string `json:"token" jsonschema:"execution token"`
	Action  string `json:"action" jsonschema:"action being executed"`
	DelayMS int64  `json:"delay_ms" jsonschema:"initial delay before the first check"`
}

// ExecuteTool defines execute_recommendation.
func ExecuteTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "execute_recommendation",
		Description: "Starts a new execution of the last recommendation, superseding any in flight.",
	}
}

// ExecuteHandler re-triggers the last recommendation.
func ExecuteHandler(c Coordinator) mcp.ToolHandlerFor[Empty, ExecuteResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, ExecuteResult, error) {
		rec, ok := c.Last()
		if !ok {
			return nil, ExecuteResult{}, coordinator.ErrNoRecommendation
		}
		tok, err := c.Trigger()
		if err != nil {
			return nil, ExecuteResult{}, err
		}
		return nil, ExecuteResult{
			Token:   tok.ID(),
			Action:  rec.Action.String(),
			DelayMS: c.InitialDelay(rec.Action.Kind).Milliseconds(),
		}, nil
	}
}

// LogsInput limits get_logs.
type LogsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"newest lines to return, 0 for all"`
}

// LogsResult holds buffered log lines, oldest first.
type LogsResult struct {
	Lines []string `json:"lines" jsonschema:"log lines, oldest first"`
	Total int64    `json:"total" jsonschema:"lines written since start, including evicted ones"`
}

// LogsTool defines get_logs.
func LogsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_logs",
		Description: "Returns buffered log lines.",
	}
}

// LogsHandler reads the buffer.
func LogsHandler(logs Logs) mcp.ToolHandlerFor[LogsInput, LogsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, in LogsInput) (*mcp.CallToolResult, LogsResult, error) {
		if in.Limit < 0 {
			return nil, LogsResult{}, errors.New("limit must not be negative")
		}
		lines := logs.Lines(in.Limit)
		if lines == nil {
			lines = []string{}
		}
		return nil, LogsResult{Lines: lines, Total: logs.Total()}, nil
	}
}

// ClearLogsResult reports how many lines were dropped.
type ClearLogsResult struct {
	Cleared int `json:"cleared" jsonschema:"lines removed"`
}

// ClearLogsTool defines clear_logs.
func ClearLogsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "clear_logs",
		Description: "Drops every buffered log line.",
	}
}

// ClearLogsHandler empties the buffer.
func ClearLogsHandler(logs Logs) mcp.ToolHandlerFor[Empty, ClearLogsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, ClearLogsResult, error) {
		return nil, ClearLogsResult{Cleared: logs.Clear()}, nil
	}
}

// AutoModeInput switches full-auto mode.
type AutoModeInput struct {
	Enabled bool `json:"enabled" jsonschema:"true to execute every recommendation as it arrives"`
}

// AutoModeResult reports the new mode and any execution it started.
type AutoModeResult struct {
	Auto  bool   `json:"auto" jsonschema:"full-auto mode"`
	Token string `json:"token,omitempty" jsonschema:"token of the execution started by enabling"`
}

// AutoModeTool defines set_auto_mode.
func AutoModeTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "set_auto_mode",
		Description: "Enables or disables full-auto mode. Enabling runs the last recommendation; disabling cancels the current execution.",
	}
}

// AutoModeHandler flips the coordinator's auto flag.
func AutoModeHandler(c Coordinator) mcp.ToolHandlerFor[AutoModeInput, AutoModeResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, in AutoModeInput) (*mcp.CallToolResult, AutoModeResult, error) {
		result := AutoModeResult{Auto: in.Enabled}
		if tok := c.SetAuto(in.Enabled); tok != nil {
			result.Token = tok.ID()
		}
		return nil, result, nil
	}
}

// StepDelayInput sets the discard delay.
type StepDelayInput struct {
	DelayMS int64 `json:"delay_ms" jsonschema:"delay before a discard is checked, in milliseconds"`
}

// StepDelayResult echoes the applied delay.
type StepDelayResult struct {
	StepDelayMS int64 `json:"step_delay_ms" jsonschema:"current discard delay in milliseconds"`
}

// StepDelayTool defines set_step_delay.
func StepDelayTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "set_step_delay",
		Description: "Sets the inter-step delay applied before discards.",
	}
}

// StepDelayHandler updates the coordinator's step delay.
func StepDelayHandler(c Coordinator) mcp.ToolHandlerFor[StepDelayInput, StepDelayResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, in StepDelayInput) (*mcp.CallToolResult, StepDelayResult, error) {
		if err := c.SetStepDelay(time.Duration(in.DelayMS) * time.Millisecond); err != nil {
			return nil, StepDelayResult{}, err
		}
		return nil, StepDelayResult{StepDelayMS: in.DelayMS}, nil
	}
}

// StatusResult summarises the running engine.
type StatusResult struct {
	Auto            bool   `json:"auto" jsonschema:"full-auto mode"`
	StepDelayMS     int64  `json:"step_delay_ms" jsonschema:"discard delay in milliseconds"`
	Triggers        int64  `json:"triggers" jsonschema:"executions started since launch"`
	BridgeConnected bool   `json:"bridge_connected" jsonschema:"whether the live client is attached"`
	SessionID       string `json:"session_id,omitempty" jsonschema:"current session"`
	Seat            int    `json:"seat" jsonschema:"local seat, -1 when unknown"`
	Events          int    `json:"events" jsonschema:"events logged in the session"`
	Cursor          int    `json:"cursor" jsonschema:"events delivered to the oracle"`
	ConsumerRunning bool   `json:"consumer_running" jsonschema:"whether delivery is active"`
	OracleReady     bool   `json:"oracle_ready" jsonschema:"whether an oracle is attached to the session"`
	Handled         int64  `json:"handled" jsonschema:"events the oracle has processed"`
	Recommendation  string `json:"recommendation,omitempty" jsonschema:"last recommendation"`
}

// StatusTool defines get_status.
func StatusTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_status",
		Description: "Reports the switches, the session and the oracle state.",
	}
}

// StatusHandler collects status from every component in d.
func StatusHandler(d Deps) mcp.ToolHandlerFor[Empty, StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, StatusResult, error) {
		cs := d.Coordinator.Status()
		result := StatusResult{
			Auto:        cs.Auto,
			StepDelayMS: cs.StepDelay.Milliseconds(),
			Triggers:    cs.Triggers,
			Seat:        -1,
		}
		if cs.Last != nil {
			result.Recommendation = cs.Last.Action.String()
		}
		if d.Bridge != nil {
			result.BridgeConnected = d.Bridge()
		}
		if d.Stream != nil {
			ss := d.Stream()
			result.SessionID = ss.SessionID
			result.Events = ss.Length
			result.Cursor = ss.Cursor
			result.ConsumerRunning = ss.Running
			if ss.Seat != nil {
				result.Seat = *ss.Seat
			}
		}
		if d.Pipeline != nil {
			ps := d.Pipeline()
			result.OracleReady = ps.OracleReady
			result.Handled = ps.Handled
		}
		return nil, result, nil
	}
}
