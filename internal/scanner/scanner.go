// Package scanner extracts tool-invocation markers from arbitrary, possibly
// partial, untrusted text. It is stateless: the same text scanned twice
// yields the same result, and deduplication is someone else's job.
package scanner

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/toolcall"
)

// Invocation is one extracted tool invocation.
type Invocation struct {
	Server string
	Tool   string
	Params []toolcall.Param

	// RawMarker is the exact substring recognized as the invocation, from
	// opening to closing delimiter inclusive.
	RawMarker string
}

// Param returns the value of the named parameter and whether it was present.
func (i *Invocation) Param(name string) (string, bool) {
	for _, p := range i.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

const (
	openPrefix = "<tool "
	closeTag   = "</tool>"
)

// Placeholder identifiers used when the engine's own injected instructions
// document the marker format. A marker carrying either one is documentation,
// never a real invocation, so the scanner refuses to extract it.
const (
	PlaceholderServer = "SERVER_ID"
	PlaceholderTool   = "TOOL_NAME"
)

// placeholderIdentifiers reports whether the pair names the documented
// example rather than an actual server and tool.
func placeholderIdentifiers(server, tool string) bool {
	return server == PlaceholderServer || tool == PlaceholderTool
}

// Scan finds the first well-formed tool invocation in text.
// Returns nil when no structurally complete marker is present; in particular
// a marker whose closing tag has not streamed in yet is not reported.
//
// Formats are tried in order: the primary tag-delimited marker, then an
// invoke(server, tool, args) call expression, then a minimal JSON object
// carrying server/tool keys.
func Scan(text string) *Invocation {
	if inv, partial := scanTagMarker(text); inv != nil || partial {
		// A structurally started but unclosed primary marker suppresses the
		// fallbacks: mid-stream text must not match a weaker format that
		// happens to appear inside the incomplete marker body.
		return inv
	}
	if inv := scanCallExpression(text); inv != nil {
		return inv
	}
	return scanJSONObject(text)
}

// scanTagMarker handles the primary format:
//
//	<tool server="SERVER" tool="NAME">
//	<param>value</param>
//	</tool>
//
// The closing tag is located by literal substring search rather than a greedy
// regexp, so braces, quotes, and markup-looking content inside parameter
// values cannot prematurely terminate extraction.
// The second return value reports an opening marker with no close yet.
func scanTagMarker(text string) (*Invocation, bool) {
	searchFrom := 0
	for {
		openStart := indexFrom(text, openPrefix, searchFrom)
		if openStart < 0 {
			return nil, false
		}

		openEnd := indexFrom(text, ">", openStart)
		if openEnd < 0 {
			// Opening tag itself still streaming.
			return nil, true
		}

		attrs := text[openStart+len(openPrefix) : openEnd]
		server := attrValue(attrs, "server")
		tool := attrValue(attrs, "tool")
		if server == "" || tool == "" || placeholderIdentifiers(server, tool) {
			// Looks like our tag but isn't a real marker: prose quoting the
			// instructions, or the instructions' own example. Keep looking
			// past it.
			searchFrom = openStart + len(openPrefix)
			continue
		}

		closeStart := indexFrom(text, closeTag, openEnd+1)
		if closeStart < 0 {
			return nil, true
		}

		body := text[openEnd+1 : closeStart]
		return &Invocation{
			Server:    server,
			Tool:      tool,
			Params:    parseParams(body),
			RawMarker: text[openStart : closeStart+len(closeTag)],
		}, false
	}
}

// attrValue extracts a quoted attribute value, tolerating single or double
// quotes and either attribute order.
func attrValue(attrs, name string) string {
	idx := strings.Index(attrs, name+"=")
	if idx < 0 {
		return ""
	}
	rest := attrs[idx+len(name)+1:]
	if rest == "" {
		return ""
	}
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return ""
	}
	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return ""
	}
	return rest[1 : 1+end]
}

// parseParams extracts immediate child tags from the marker body. Each
// parameter is a <name>value</name> pair; the closing tag is found by literal
// search so arbitrary payload content (code, JSON, nested quotes) survives.
func parseParams(body string) []toolcall.Param {
	var params []toolcall.Param
	pos := 0
	for {
		tagStart := indexFrom(body, "<", pos)
		if tagStart < 0 {
			return params
		}
		tagEnd := indexFrom(body, ">", tagStart)
		if tagEnd < 0 {
			return params
		}

		name := body[tagStart+1 : tagEnd]
		if !validParamName(name) {
			pos = tagStart + 1
			continue
		}

		closing := "</" + name + ">"
		closeStart := indexFrom(body, closing, tagEnd+1)
		if closeStart < 0 {
			pos = tagStart + 1
			continue
		}

		params = append(params, toolcall.Param{
			Name:  name,
			Value: UnescapeEntities(body[tagEnd+1 : closeStart]),
		})
		pos = closeStart + len(closing)
	}
}

// validParamName accepts identifier-like tag names only; anything else is
// treated as payload content, not a parameter boundary.
func validParamName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// scanCallExpression handles the invoke(server, tool, args) fallback with
// tolerant quoting: identifiers may be bare, single-, or double-quoted, and
// args is an optional JSON object.
func scanCallExpression(text string) *Invocation {
	start := strings.Index(text, "invoke(")
	if start < 0 {
		return nil
	}
	rest := text[start+len("invoke("):]

	server, rest, ok := readCallArg(rest)
	if !ok {
		return nil
	}
	tool, rest, ok := readCallArg(rest)
	if !ok {
		return nil
	}

	rest = strings.TrimLeft(rest, " \t\r\n")
	var params []toolcall.Param
	consumed := len(text) - start - len(rest)

	if strings.HasPrefix(rest, "{") {
		objLen := balancedObjectLen(rest)
		if objLen < 0 {
			return nil
		}
		params = jsonParams(rest[:objLen])
		rest = strings.TrimLeft(rest[objLen:], " \t\r\n")
		consumed = len(text) - start - len(rest)
	}

	if !strings.HasPrefix(rest, ")") {
		return nil
	}
	consumed++

	if placeholderIdentifiers(server, tool) {
		return nil
	}

	return &Invocation{
		Server:    server,
		Tool:      tool,
		Params:    params,
		RawMarker: text[start : start+consumed],
	}
}

// readCallArg reads one comma-terminated call argument, stripping optional
// quotes. Returns the remainder after the comma.
func readCallArg(s string) (string, string, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	if s == "" {
		return "", "", false
	}

	if s[0] == '"' || s[0] == '\'' {
		quote := s[0]
		end := strings.IndexByte(s[1:], quote)
		if end < 0 {
			return "", "", false
		}
		val := s[1 : 1+end]
		rest := strings.TrimLeft(s[2+end:], " \t\r\n")
		if !strings.HasPrefix(rest, ",") {
			return "", "", false
		}
		return val, rest[1:], true
	}

	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return "", "", false
	}
	val := strings.TrimSpace(s[:comma])
	if val == "" {
		return "", "", false
	}
	return val, s[comma+1:], true
}

// scanJSONObject handles the last-resort fallback: a minimal JSON object with
// tool and server keys, e.g. {"server": "fs", "tool": "list_dir", "args": {}}.
func scanJSONObject(text string) *Invocation {
	pos := 0
	for {
		objStart := indexFrom(text, "{", pos)
		if objStart < 0 {
			return nil
		}
		objLen := balancedObjectLen(text[objStart:])
		if objLen < 0 {
			return nil
		}

		candidate := text[objStart : objStart+objLen]
		parsed := gjson.Parse(candidate)
		server := parsed.Get("server").String()
		tool := parsed.Get("tool").String()
		if parsed.IsObject() && server != "" && tool != "" && !placeholderIdentifiers(server, tool) {
			return &Invocation{
				Server:    server,
				Tool:      tool,
				Params:    jsonParamsFromResult(parsed),
				RawMarker: candidate,
			}
		}
		pos = objStart + 1
	}
}

// jsonParams decodes a JSON object into ordered parameters.
func jsonParams(obj string) []toolcall.Param {
	return orderedParams(gjson.Parse(obj))
}

// jsonParamsFromResult pulls parameters out of whichever key the object used.
func jsonParamsFromResult(parsed gjson.Result) []toolcall.Param {
	for _, key := range []string{"parameters", "arguments", "args", "params"} {
		if sub := parsed.Get(key); sub.IsObject() {
			return orderedParams(sub)
		}
	}
	return nil
}

// orderedParams converts a gjson object to params in document order, which
// gjson's ForEach preserves.
func orderedParams(obj gjson.Result) []toolcall.Param {
	var params []toolcall.Param
	obj.ForEach(func(key, value gjson.Result) bool {
		params = append(params, toolcall.Param{Name: key.String(), Value: value.String()})
		return true
	})
	return params
}

// balancedObjectLen returns the length of the brace-balanced JSON object at
// the start of s, respecting string literals and escapes, or -1 if unclosed.
func balancedObjectLen(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// entityReplacer unescapes the five standard markup entities. A single
// left-to-right pass means already-escaped sequences like &amp;lt; decode to
// the literal &lt; rather than double-unescaping.
var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// UnescapeEntities decodes the five standard markup entity escapes.
func UnescapeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return entityReplacer.Replace(s)
}

// EscapeEntities encodes the five standard markup entities, used when the
// engine itself writes parameter values into marker form.
func EscapeEntities(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}

// indexFrom is strings.Index with a starting offset.
func indexFrom(s, substr string, from int) int {
	if from >= len(s) {
		return -1
	}
	idx := strings.Index(s[from:], substr)
	if idx < 0 {
		return -1
	}
	return from + idx
}
