package chunk

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// PayloadKind says what a chunked submission carries.
type PayloadKind string

const (
	PayloadEnhancedPrompt PayloadKind = "enhanced_prompt"
	PayloadToolResult     PayloadKind = "tool_result"
)

// Session is one in-progress or completed split submission. At most one
// session is active per thread at a time; CurrentIndex only advances after
// the host has finished responding to the previous chunk.
type Session struct {
	ID          string `json:"id"`
	TotalChunks int    `json:"total_chunks"`

	// CurrentIndex is the 1-based index of the chunk most recently submitted.
	CurrentIndex int `json:"current_index"`

	PayloadKind PayloadKind `json:"payload_kind"`

	// AssociatedToolCall is the id of the tool call whose result this session
	// carries, empty for prompt submissions.
	AssociatedToolCall string `json:"associated_tool_call,omitempty"`

	StartedAt  int64 `json:"started_at"`
	IsComplete bool  `json:"is_complete"`

	// InterstitialHashes records a content hash of the host's throwaway reply
	// to each non-final chunk, so a presentation collaborator can recognize
	// and suppress those replies. The transport itself never touches page
	// content.
	InterstitialHashes []string `json:"interstitial_hashes,omitempty"`

	// WaitStrategies records which completion-detection strategy observed the
	// end of each chunk's response, in chunk order.
	WaitStrategies []string `json:"wait_strategies,omitempty"`
}

// NewSession creates a session at index 0 (nothing submitted yet).
func NewSession(total int, kind PayloadKind, toolCallID string) *Session {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return &Session{
		ID:                 ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String(),
		TotalChunks:        total,
		PayloadKind:        kind,
		AssociatedToolCall: toolCallID,
		StartedAt:          time.Now().UnixMilli(),
	}
}
