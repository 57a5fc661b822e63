package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the Agent Runner and its collaborators (§7, §4.9).
var (
	// ErrTaskConcurrency is returned by RunTask when a task is already running
	// on this Runner (§4.5 step 1, §4.8).
	ErrTaskConcurrency = errors.New("agent: a task is already running")

	// ErrCancelled marks a task that stopped because its composite signal
	// fired. Per §7 this is never propagated as a bus error; the runner
	// translates it into a cancelled event instead.
	ErrCancelled = errors.New("agent: task cancelled")

	// ErrMaxIterations indicates the task algorithm's step 7 loop exhausted
	// maxIterations without the interceptor chain returning complete.
	ErrMaxIterations = errors.New("agent: max iterations exceeded")

	// ErrNoProvider indicates no model provider collaborator is configured.
	ErrNoProvider = errors.New("agent: no model provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist.
	ErrToolNotFound = errors.New("agent: tool not found")

	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("agent: tool execution timed out")

	// ErrConnectionFailed wraps a model provider or MCP connection failure
	// that the runner could not recover from within its retry budget.
	ErrConnectionFailed = errors.New("agent: connection failed")

	// ErrOAuthRequired surfaces a stalled MCP client awaiting an OAuth
	// authorization callback beyond its connect timeout.
	ErrOAuthRequired = errors.New("agent: oauth authorization required")
)

// ToolErrorType categorizes tool execution errors for retry logic and error
// classification, grounded on the teacher's tool_exec.go dispatch path.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorRateLimit    ToolErrorType = "rate_limit"
	ToolErrorRejected     ToolErrorType = "rejected"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// IsRetryable returns true if this error type suggests retrying the
// operation may succeed.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// ToolError is a structured, classified error from one tool dispatch,
// surfaced on a tool_use_error task event.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Retryable  bool
}

func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError classifies cause and wraps it for a specific tool.
func NewToolError(toolName string, cause error) *ToolError {
	e := &ToolError{ToolName: toolName, Cause: cause, Type: ToolErrorUnknown}
	if cause != nil {
		e.Message = cause.Error()
		e.Type = classifyToolError(cause)
		e.Retryable = e.Type.IsRetryable()
	}
	return e
}

func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}
	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return ToolErrorTimeout
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(errStr, "connection"), strings.Contains(errStr, "network"), strings.Contains(errStr, "refused"), strings.Contains(errStr, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "429"), strings.Contains(errStr, "too many requests"):
		return ToolErrorRateLimit
	case strings.Contains(errStr, "rejected"), strings.Contains(errStr, "declined"):
		return ToolErrorRejected
	case strings.Contains(errStr, "permission"), strings.Contains(errStr, "forbidden"), strings.Contains(errStr, "unauthorized"):
		return ToolErrorPermission
	case strings.Contains(errStr, "invalid"), strings.Contains(errStr, "validation"), strings.Contains(errStr, "missing"):
		return ToolErrorInvalidInput
	default:
		return ToolErrorExecution
	}
}

// IsToolError reports whether err is or wraps a *ToolError.
func IsToolError(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}
