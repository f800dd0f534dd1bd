package web

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
}

// threadRow summarizes one persisted thread for the list page.
type threadRow struct {
	ThreadID       string
	ToolCalls      int
	ChunkSessions  int
	HasActiveChunk bool
}

// listPageData is the template data for the thread list page.
type listPageData struct {
	PageData
	Threads []threadRow
}

// toolCallView is one completed tool call on the detail page.
type toolCallView struct {
	ID           string
	Server       string
	Tool         string
	State        string
	Delivery     string
	DurationMS   int64
	ErrorMessage string
	ResultHTML   template.HTML
}

// sessionView is one chunk session on the detail page.
type sessionView struct {
	ID           string
	Kind         string
	TotalChunks  int
	CurrentIndex int
	IsComplete   bool
}

// detailPageData is the template data for the thread detail page.
type detailPageData struct {
	PageData
	ThreadID       string
	ToolCalls      []toolCallView
	Sessions       []sessionView
	ActiveSession  *sessionView
	CleanedPrompts int
	DeletedMarkers int
}

// renderMarkdown converts markdown tool output to HTML for display.
func renderMarkdown(source string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

const basePage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2rem; max-width: 60rem; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 0.4rem 0.8rem; border-bottom: 1px solid #ddd; }
.state { font-family: monospace; }
.result { background: #f6f6f6; padding: 0.8rem; overflow-x: auto; }
.error { color: #a00; }
footer { margin-top: 2rem; color: #888; font-size: 0.8rem; }
</style>
</head>
<body>
{{template "content" .}}
<footer>webmcp {{.Version}}</footer>
</body>
</html>`

const listTemplate = `{{define "content"}}
<h1>Threads</h1>
{{if not .Threads}}<p>No persisted threads.</p>{{end}}
<table>
<tr><th>Thread</th><th>Tool calls</th><th>Chunk sessions</th><th></th></tr>
{{range .Threads}}
<tr>
<td><a href="/threads/{{.ThreadID}}">{{.ThreadID}}</a></td>
<td>{{.ToolCalls}}</td>
<td>{{.ChunkSessions}}</td>
<td>{{if .HasActiveChunk}}interrupted chunk session{{end}}</td>
</tr>
{{end}}
</table>
{{end}}`

const detailTemplate = `{{define "content"}}
<h1>Thread {{.ThreadID}}</h1>
<p>{{.CleanedPrompts}} cleaned prompt(s), {{.DeletedMarkers}} suppressed result turn(s)</p>
{{if .ActiveSession}}
<p class="error">Interrupted chunk session {{.ActiveSession.ID}}:
stopped at chunk {{.ActiveSession.CurrentIndex}}/{{.ActiveSession.TotalChunks}}</p>
{{end}}
<h2>Completed tool calls</h2>
{{range .ToolCalls}}
<h3>{{.Server}}/{{.Tool}} <span class="state">{{.State}} · {{.Delivery}}</span></h3>
<p>{{.ID}}{{if .DurationMS}} · {{.DurationMS}}ms{{end}}</p>
{{if .ErrorMessage}}<p class="error">{{.ErrorMessage}}</p>{{end}}
{{if .ResultHTML}}<div class="result">{{.ResultHTML}}</div>{{end}}
{{end}}
<h2>Chunk sessions</h2>
<table>
<tr><th>ID</th><th>Kind</th><th>Progress</th><th>Complete</th></tr>
{{range .Sessions}}
<tr><td>{{.ID}}</td><td>{{.Kind}}</td><td>{{.CurrentIndex}}/{{.TotalChunks}}</td><td>{{.IsComplete}}</td></tr>
{{end}}
</table>
<p><a href="/threads">back</a></p>
{{end}}`

// mustParse builds a page template from the base layout and a content block.
func mustParse(content string) *template.Template {
	return template.Must(template.Must(template.New("page").Parse(basePage)).Parse(content))
}
