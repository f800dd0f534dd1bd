// Package toolcall defines the ToolCall model and its lifecycle state
// machine: detection through optional approval to execution and a terminal
// outcome, with a separate forward-only delivery track for relaying the
// outcome back into the conversation.
package toolcall

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// State represents a ToolCall's position in the lifecycle graph.
type State string

const (
	StateDetected        State = "detected"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateCancelled       State = "cancelled"
	StateExecuting       State = "executing"
	StateSucceeded       State = "succeeded"
	StateFailed          State = "failed"
)

// DeliveryState tracks whether the outcome has been relayed back into the
// conversation. Independent of State: delivery can fail even after the tool
// itself succeeded.
type DeliveryState string

const (
	DeliveryUnsent     DeliveryState = "unsent"
	DeliverySending    DeliveryState = "sending"
	DeliverySent       DeliveryState = "sent"
	DeliverySendFailed DeliveryState = "send_failed"
)

// transitions is the legal lifecycle graph. Terminal states have no entry.
var transitions = map[State][]State{
	StateDetected:        {StateExecuting, StatePendingApproval},
	StatePendingApproval: {StateApproved, StateExecuting, StateCancelled},
	StateApproved:        {StateExecuting},
	StateExecuting:       {StateSucceeded, StateFailed},
}

// deliveryTransitions is the forward-only delivery graph.
var deliveryTransitions = map[DeliveryState][]DeliveryState{
	DeliveryUnsent:  {DeliverySending},
	DeliverySending: {DeliverySent, DeliverySendFailed},
}

// Terminal reports whether s is a terminal lifecycle state.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateSucceeded || s == StateFailed
}

// Param is one tool parameter. Parameters are kept as an ordered slice, not a
// map, so they round-trip in the order the marker listed them.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ToolCall is one detected invocation.
type ToolCall struct {
	// ID uniquely identifies this invocation attempt (ULID).
	ID string `json:"id"`

	// Server and Tool identify the target bridge server and tool.
	Server string `json:"server"`
	Tool   string `json:"tool"`

	// Parameters are the decoded marker parameters, in marker order.
	Parameters []Param `json:"parameters,omitempty"`

	// RawMarker is the exact source substring recognized as the invocation.
	// Used both for removal from displayed text and as a restoration anchor.
	RawMarker string `json:"raw_marker"`

	// ContainerSnapshot is the full text of the containing response block at
	// extraction time, the anchor for re-matching this call after a reload.
	ContainerSnapshot string `json:"container_snapshot,omitempty"`

	// DedupKey is the derived identity of this invocation.
	DedupKey string `json:"dedup_key"`

	// ExecutionWindow is the coarse time bucket (Unix seconds, rounded down)
	// the call was first observed in.
	ExecutionWindow int64 `json:"execution_window"`

	State    State         `json:"state"`
	Delivery DeliveryState `json:"result_delivery_state"`

	// Result and ErrorMessage are populated on terminal execution states.
	Result       string `json:"result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Timestamps in Unix milliseconds. ExecutionStartedAt/EndedAt bracket the
	// bridge call only; "time since detection" is CreatedAt-relative.
	CreatedAt          int64 `json:"created_at"`
	ExecutionStartedAt int64 `json:"execution_started_at,omitempty"`
	ExecutionEndedAt   int64 `json:"execution_ended_at,omitempty"`
}

// New creates a ToolCall in StateDetected.
func New(server, tool string, params []Param, rawMarker, containerSnapshot, dedupKey string, window int64) *ToolCall {
	return &ToolCall{
		ID:                newULID(),
		Server:            server,
		Tool:              tool,
		Parameters:        params,
		RawMarker:         rawMarker,
		ContainerSnapshot: containerSnapshot,
		DedupKey:          dedupKey,
		ExecutionWindow:   window,
		State:             StateDetected,
		Delivery:          DeliveryUnsent,
		CreatedAt:         time.Now().UnixMilli(),
	}
}

// newULID generates a new ULID.
func newULID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Param returns the value of the named parameter and whether it was present.
func (t *ToolCall) Param(name string) (string, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// ParamMap returns the parameters as a map for callers that don't care about
// ordering (e.g. bridge argument encoding).
func (t *ToolCall) ParamMap() map[string]any {
	if len(t.Parameters) == 0 {
		return nil
	}
	m := make(map[string]any, len(t.Parameters))
	for _, p := range t.Parameters {
		m[p.Name] = p.Value
	}
	return m
}

// Clone returns a deep copy, used for event snapshots so observers never see
// later mutations.
func (t *ToolCall) Clone() *ToolCall {
	c := *t
	if t.Parameters != nil {
		c.Parameters = make([]Param, len(t.Parameters))
		copy(c.Parameters, t.Parameters)
	}
	return &c
}
