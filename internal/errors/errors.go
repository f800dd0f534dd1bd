package errors

import "fmt"

// ErrorCode represents an engine error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrApprovalCancelled  ErrorCode = "APPROVAL_CANCELLED"
	ErrExecution          ErrorCode = "EXECUTION_ERROR"
	ErrExecutionTimeout   ErrorCode = "EXECUTION_TIMEOUT"
	ErrDeliveryFailure    ErrorCode = "DELIVERY_FAILURE"
	ErrChunkTimeout       ErrorCode = "CHUNK_TIMEOUT"
	ErrPersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"
	ErrBridgeUnavailable  ErrorCode = "BRIDGE_UNAVAILABLE"
	ErrIllegalTransition  ErrorCode = "ILLEGAL_TRANSITION"
	ErrInternal           ErrorCode = "INTERNAL"
)

// EngineError represents a structured error with code, message, and details.
//
// Parse misses and dedup rejections are deliberately not represented here:
// those are ordinary control-flow outcomes, not errors.
type EngineError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates an error for invalid caller input.
func NewInvalidRequest(msg string) *EngineError {
	return &EngineError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewApprovalCancelled creates the terminal error recorded on a tool call the
// user declined. The cancellation notice sent back to the model is built from
// this error's message.
func NewApprovalCancelled(server, tool string) *EngineError {
	return &EngineError{
		Code:    ErrApprovalCancelled,
		Message: fmt.Sprintf("tool call %s/%s was cancelled by the user before execution", server, tool),
		Details: map[string]any{"server": server, "tool": tool},
	}
}

// NewExecution creates an error for a bridge-reported execution failure.
func NewExecution(server, tool string, err error) *EngineError {
	msg := "tool execution failed"
	if err != nil {
		msg = err.Error()
	}
	return &EngineError{
		Code:    ErrExecution,
		Message: msg,
		Details: map[string]any{"server": server, "tool": tool},
	}
}

// NewExecutionTimeout creates an error for a bridge call that exceeded the
// engine-imposed deadline.
func NewExecutionTimeout(server, tool string, seconds int) *EngineError {
	return &EngineError{
		Code:    ErrExecutionTimeout,
		Message: fmt.Sprintf("tool %s/%s did not finish within %ds", server, tool, seconds),
		Details: map[string]any{"server": server, "tool": tool, "timeout_seconds": seconds},
	}
}

// NewDeliveryFailure creates an error for a result that could not be submitted
// back into the conversation. Distinct from ErrExecution: the tool itself may
// have succeeded even though delivery failed.
func NewDeliveryFailure(err error) *EngineError {
	msg := "failed to deliver result to the conversation"
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &EngineError{
		Code:    ErrDeliveryFailure,
		Message: msg,
	}
}

// NewChunkTimeout creates an error for a chunked submission whose host
// response never completed.
func NewChunkTimeout(index, total int) *EngineError {
	return &EngineError{
		Code:    ErrChunkTimeout,
		Message: fmt.Sprintf("host did not finish responding to chunk %d/%d", index, total),
		Details: map[string]any{"chunk_index": index, "total_chunks": total},
	}
}

// NewPersistenceFailure creates an error for a thread-state load/save failure.
// The engine keeps running in non-persistent mode for the affected thread.
func NewPersistenceFailure(op, threadID string, err error) *EngineError {
	msg := fmt.Sprintf("thread state %s failed", op)
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &EngineError{
		Code:    ErrPersistenceFailure,
		Message: msg,
		Details: map[string]any{"op": op, "thread_id": threadID},
	}
}

// NewBridgeUnavailable creates an error for a bridge server that cannot be
// reached at all, as opposed to one that ran the tool and reported failure.
func NewBridgeUnavailable(server string, err error) *EngineError {
	msg := fmt.Sprintf("bridge server %q is unavailable", server)
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &EngineError{
		Code:    ErrBridgeUnavailable,
		Message: msg,
		Details: map[string]any{"server": server},
	}
}

// NewIllegalTransition creates an error for a state-machine transition that
// violates the lifecycle graph.
func NewIllegalTransition(from, to string) *EngineError {
	return &EngineError{
		Code:    ErrIllegalTransition,
		Message: fmt.Sprintf("illegal transition %s -> %s", from, to),
		Details: map[string]any{"from": from, "to": to},
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *EngineError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &EngineError{
		Code:    ErrInternal,
		Message: msg,
	}
}

// Is checks if an error is an EngineError with the given code.
func Is(err error, code ErrorCode) bool {
	if eErr, ok := err.(*EngineError); ok {
		return eErr.Code == code
	}
	return false
}
