package engine

import (
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/chunk"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/toolcall"
)

// Observer receives engine events for presentation collaborators: widget
// rendering, notifications, transcript suppression. Snapshots passed here are
// copies; observers never see later mutations.
type Observer interface {
	// ToolCallChanged fires on every lifecycle or delivery transition.
	ToolCallChanged(tc *toolcall.ToolCall)

	// ChunkProgress fires as a chunked submission advances.
	ChunkProgress(s *chunk.Session)

	// ThreadEntered fires when the engine starts tracking a thread.
	ThreadEntered(threadID string)

	// ThreadLeft fires when the engine stops tracking a thread.
	ThreadLeft(threadID string)

	// EngineError surfaces failures that do not terminate the event loop:
	// delivery failures, chunk timeouts, persistence failures.
	EngineError(err error)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) ToolCallChanged(*toolcall.ToolCall) {}
func (NopObserver) ChunkProgress(*chunk.Session)       {}
func (NopObserver) ThreadEntered(string)               {}
func (NopObserver) ThreadLeft(string)                  {}
func (NopObserver) EngineError(error)                  {}
