package engine

import (
	"fmt"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/toolcall"
)

// outcomeMessage formats the delivery message for a terminal tool call: the
// tool's output, its error, or a cancellation notice. Cancellation is not
// silent; the model must learn the tool did not run.
func outcomeMessage(tc *toolcall.ToolCall) string {
	switch tc.State {
	case toolcall.StateSucceeded:
		return fmt.Sprintf("Result of the %s/%s tool call:\n\n%s", tc.Server, tc.Tool, tc.Result)
	case toolcall.StateFailed:
		return fmt.Sprintf("The %s/%s tool call failed and produced no result. Error: %s", tc.Server, tc.Tool, tc.ErrorMessage)
	case toolcall.StateCancelled:
		return fmt.Sprintf("The user declined the %s/%s tool call, so it was not executed. Continue without its output.", tc.Server, tc.Tool)
	default:
		return ""
	}
}
