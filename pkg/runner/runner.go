// Package runner executes one agent-task prompt and returns the response.
// Two strategies implement the same interface: SubprocessRunner drives the
// external code-assistant CLI, and FallbackResponder produces a
// deterministic response when the subprocess fails or is unavailable.
package runner

import (
	"context"
	"errors"

	"github.com/maestro-sh/maestro/pkg/models"
)

// Sentinel errors categorizing runner failures. The engine treats
// ErrSubprocess as recoverable (it falls back) and ErrTimeout as terminal.
var (
	// ErrSubprocess is returned when the code assistant exits non-zero or
	// its output cannot be consumed.
	ErrSubprocess = errors.New("subprocess failure")

	// ErrTimeout is returned when the per-call deadline elapses before the
	// subprocess finishes.
	ErrTimeout = errors.New("subprocess timeout")
)

// maxResponseChars bounds the response stored as agent_response.
const maxResponseChars = 1000

// Result is the outcome of one strategy invocation.
type Result struct {
	// Response is the aggregated assistant text, truncated to 1000 chars.
	Response string

	// Analysis is a short summary of how the result was produced.
	Analysis string

	// MessagesCount is the number of output chunks received.
	MessagesCount int

	// WorkDirectory is where the strategy ran.
	WorkDirectory string

	// ExecutionMethod is "subprocess" or "fallback".
	ExecutionMethod string
}

// Strategy runs one agent-task attempt to completion.
type Strategy interface {
	Execute(ctx context.Context, agent *models.Agent, task *models.Task, workDir string) (*Result, error)
}

// truncateResponse caps text at the agent_response bound.
func truncateResponse(text string) string {
	if len(text) > maxResponseChars {
		return text[:maxResponseChars]
	}
	return text
}
