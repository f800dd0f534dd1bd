package toolcall

import (
	"time"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/errors"
)

// Transition moves the call to the given state, enforcing the lifecycle
// graph. Terminal states are never left; backward moves are rejected.
func (t *ToolCall) Transition(to State) error {
	for _, legal := range transitions[t.State] {
		if legal == to {
			t.State = to
			return nil
		}
	}
	return errors.NewIllegalTransition(string(t.State), string(to))
}

// transitionDelivery moves the delivery track forward, never backward.
func (t *ToolCall) transitionDelivery(to DeliveryState) error {
	for _, legal := range deliveryTransitions[t.Delivery] {
		if legal == to {
			t.Delivery = to
			return nil
		}
	}
	return errors.NewIllegalTransition(string(t.Delivery), string(to))
}

// RequireApproval moves a freshly detected call into pending_approval.
func (t *ToolCall) RequireApproval() error {
	return t.Transition(StatePendingApproval)
}

// Approve records the user's approval of a pending call.
func (t *ToolCall) Approve() error {
	return t.Transition(StateApproved)
}

// Cancel records the user declining a pending call. The resulting state is
// terminal and carries the cancellation message delivered back to the model.
func (t *ToolCall) Cancel() error {
	if err := t.Transition(StateCancelled); err != nil {
		return err
	}
	t.ErrorMessage = errors.NewApprovalCancelled(t.Server, t.Tool).Message
	return nil
}

// BeginExecution marks the start of the bridge call and records the
// wall-clock start used for duration reporting.
func (t *ToolCall) BeginExecution() error {
	if err := t.Transition(StateExecuting); err != nil {
		return err
	}
	t.ExecutionStartedAt = time.Now().UnixMilli()
	return nil
}

// Succeed records a successful bridge result.
func (t *ToolCall) Succeed(result string) error {
	if err := t.Transition(StateSucceeded); err != nil {
		return err
	}
	t.Result = result
	t.ExecutionEndedAt = time.Now().UnixMilli()
	return nil
}

// Fail records a bridge failure or engine-imposed timeout.
func (t *ToolCall) Fail(message string) error {
	if err := t.Transition(StateFailed); err != nil {
		return err
	}
	t.ErrorMessage = message
	t.ExecutionEndedAt = time.Now().UnixMilli()
	return nil
}

// BeginDelivery reserves the delivery track. Returns an error if delivery was
// already attempted, which is what guarantees the outcome is relayed at most
// once.
func (t *ToolCall) BeginDelivery() error {
	return t.transitionDelivery(DeliverySending)
}

// DeliverySucceeded marks the outcome as relayed into the conversation.
func (t *ToolCall) DeliverySucceeded() error {
	return t.transitionDelivery(DeliverySent)
}

// DeliveryFailed marks the delivery attempt as failed. Not retried
// automatically; surfaced as a distinct error condition.
func (t *ToolCall) DeliveryFailed() error {
	return t.transitionDelivery(DeliverySendFailed)
}

// ExecutionDuration returns how long the bridge call ran, or zero if it
// hasn't finished.
func (t *ToolCall) ExecutionDuration() time.Duration {
	if t.ExecutionStartedAt == 0 || t.ExecutionEndedAt == 0 {
		return 0
	}
	return time.Duration(t.ExecutionEndedAt-t.ExecutionStartedAt) * time.Millisecond
}

// Age returns the UI-visible time since detection.
func (t *ToolCall) Age() time.Duration {
	return time.Duration(time.Now().UnixMilli()-t.CreatedAt) * time.Millisecond
}
