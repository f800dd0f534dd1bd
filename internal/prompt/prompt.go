// Package prompt builds the enhancement block injected into user prompts:
// the tool catalog and the marker wire format the model must emit to request
// a tool invocation.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/bridge"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/scanner"
)

// delimiter separates the user's own text from the injected instructions.
// Also the anchor used to re-strip the enhancement when the host re-renders
// an enhanced prompt.
const delimiter = "\n\n----- [tool access instructions] -----\n"

// BuildEnhancement appends tool instructions to the user's prompt text.
// toolsByServer maps server id to its descriptors, typically gathered via the
// bridge's ListTools at prompt-construction time.
func BuildEnhancement(original string, toolsByServer map[string][]bridge.ToolDescriptor) string {
	if len(toolsByServer) == 0 {
		return original
	}

	var b strings.Builder
	b.WriteString(original)
	b.WriteString(delimiter)
	b.WriteString("You have access to external tools. To use one, emit exactly this markup anywhere in your reply:\n\n")
	// The example uses the scanner's placeholder identifiers, which the
	// scanner refuses to extract, so a re-rendered enhanced prompt can never
	// look like a real invocation.
	fmt.Fprintf(&b, "<tool server=%q tool=%q>\n<param_name>value</param_name>\n</tool>\n\n",
		scanner.PlaceholderServer, scanner.PlaceholderTool)
	b.WriteString("Escape <, >, &, \" and ' inside parameter values as &lt; &gt; &amp; &quot; &apos;. ")
	b.WriteString("Request at most one tool per reply and wait for its result before continuing.\n\nAvailable tools:\n")

	servers := make([]string, 0, len(toolsByServer))
	for server := range toolsByServer {
		servers = append(servers, server)
	}
	sort.Strings(servers)

	for _, server := range servers {
		for _, tool := range toolsByServer[server] {
			desc := tool.Description
			if desc == "" {
				desc = "(no description)"
			}
			fmt.Fprintf(&b, "- %s/%s: %s\n", server, tool.Name, desc)
			if len(tool.InputSchema) > 0 {
				fmt.Fprintf(&b, "  parameters schema: %s\n", string(tool.InputSchema))
			}
		}
	}

	return b.String()
}

// IsEnhanced reports whether displayed text carries an enhancement block.
func IsEnhanced(displayed string) bool {
	return strings.Contains(displayed, strings.TrimLeft(delimiter, "\n"))
}

// StripEnhancement removes the injected instruction block from a displayed
// prompt, returning the original text and whether anything was stripped.
func StripEnhancement(displayed string) (string, bool) {
	idx := strings.Index(displayed, strings.TrimLeft(delimiter, "\n"))
	if idx < 0 {
		return displayed, false
	}
	return strings.TrimRight(displayed[:idx], "\n"), true
}
