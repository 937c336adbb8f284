package executor

import (
	"errors"
	"fmt"
)

// ExecutionError describes why an execution did not complete normally.
//
// Errors include:
//   - No bridge: nothing is wired to send commands through
//   - No opportunity: the wait budget ran out before the client offered the operation
//   - Max retries: the operation never cleared within the retry budget
//   - Unrecognized action: the action kind has no command (reported on a successful no-op)
//
// Supersession is not an error; a cancelled execution carries no ExecutionError.
type ExecutionError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Token identifies the affected execution.
	Token string

	// Action is the action being executed, rendered for logs.
	Action string

	// Attempts is the wait or retry count at the time of failure.
	Attempts int
}

// ErrorCode categorizes execution errors.
type ErrorCode string

const (
	// ErrCodeNoBridge indicates no scripting bridge is available.
	ErrCodeNoBridge ErrorCode = "NO_BRIDGE"

	// ErrCodeNoOpportunity indicates the wait budget ran out.
	ErrCodeNoOpportunity ErrorCode = "NO_OPPORTUNITY"

	// ErrCodeMaxRetries indicates the retry budget ran out.
	ErrCodeMaxRetries ErrorCode = "MAX_RETRIES"

	// ErrCodeUnrecognizedAction indicates the action kind has no command.
	ErrCodeUnrecognizedAction ErrorCode = "UNRECOGNIZED_ACTION"
)

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%s: %s (token=%s, action=%s, attempts=%d)", e.Code, e.Message, e.Token, e.Action, e.Attempts)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, codes ...ErrorCode) bool {
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		return false
	}
	for _, c := range codes {
		if ee.Code == c {
			return true
		}
	}
	return false
}

// IsNoBridge returns true if the execution failed for lack of a bridge.
// Uses errors.As to handle wrapped errors.
func IsNoBridge(err error) bool {
	return hasCode(err, ErrCodeNoBridge)
}

// IsExhausted returns true if a wait or retry budget ran out.
func IsExhausted(err error) bool {
	return hasCode(err, ErrCodeNoOpportunity, ErrCodeMaxRetries)
}

// IsUnrecognized returns true if the action kind had no command.
func IsUnrecognized(err error) bool {
	return hasCode(err, ErrCodeUnrecognizedAction)
}

// ErrNoBridge is returned by Snapshot when no bridge is connected.
var ErrNoBridge = &ExecutionError{Code: ErrCodeNoBridge, Message: "no bridge available"}
