// Package web serves a localhost inspector over persisted thread states:
// which threads the engine has tracked, their completed tool calls (results
// rendered from markdown), and their chunking history. Debug tooling only;
// it is neither the host UI nor the settings surface.
package web

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/storage"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/thread"
)

// Handlers holds dependencies for the inspector pages.
type Handlers struct {
	kv      *storage.SQLiteKV
	store   *thread.Store
	version string

	listTmpl   *template.Template
	detailTmpl *template.Template
}

// NewServer creates the HTTP server for the thread-state inspector.
func NewServer(kv *storage.SQLiteKV, version, bind string, port int) *http.Server {
	h := &Handlers{
		kv:         kv,
		store:      thread.NewStore(kv),
		version:    version,
		listTmpl:   mustParse(listTemplate),
		detailTmpl: mustParse(detailTemplate),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/threads", http.StatusFound)
	})
	mux.HandleFunc("GET /threads", h.HandleList)
	mux.HandleFunc("GET /threads/{id}", h.HandleDetail)

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// HandleList renders the persisted-thread list.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	keys, err := h.kv.Keys(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := listPageData{
		PageData: PageData{Title: "Threads", Version: h.version},
	}
	for _, key := range keys {
		threadID, ok := thread.ThreadIDFromKey(key)
		if !ok {
			continue
		}
		state, err := h.loadState(r.Context(), threadID)
		if err != nil {
			slog.Error("inspector: loading thread failed", "thread_id", threadID, "error", err)
			continue
		}
		data.Threads = append(data.Threads, threadRow{
			ThreadID:       threadID,
			ToolCalls:      len(state.CompletedToolCalls),
			ChunkSessions:  len(state.ChunkHistory),
			HasActiveChunk: state.ActiveChunkSession != nil,
		})
	}

	h.render(w, h.listTmpl, data)
}

// HandleDetail renders one thread's persisted state.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	state, err := h.loadState(r.Context(), threadID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := detailPageData{
		PageData:       PageData{Title: "Thread " + threadID, Version: h.version},
		ThreadID:       threadID,
		CleanedPrompts: len(state.CleanedPromptOriginals),
		DeletedMarkers: len(state.DeletedResultMarkers),
	}

	for _, tc := range state.CompletedToolCalls {
		view := toolCallView{
			ID:           tc.ID,
			Server:       tc.Server,
			Tool:         tc.Tool,
			State:        string(tc.State),
			Delivery:     string(tc.Delivery),
			DurationMS:   tc.ExecutionDuration().Milliseconds(),
			ErrorMessage: tc.ErrorMessage,
		}
		if tc.Result != "" {
			html, err := renderMarkdown(tc.Result)
			if err == nil {
				view.ResultHTML = html
			}
		}
		data.ToolCalls = append(data.ToolCalls, view)
	}

	for _, s := range state.ChunkHistory {
		data.Sessions = append(data.Sessions, sessionView{
			ID:           s.ID,
			Kind:         string(s.PayloadKind),
			TotalChunks:  s.TotalChunks,
			CurrentIndex: s.CurrentIndex,
			IsComplete:   s.IsComplete,
		})
	}
	if s := state.ActiveChunkSession; s != nil {
		data.ActiveSession = &sessionView{
			ID:           s.ID,
			Kind:         string(s.PayloadKind),
			TotalChunks:  s.TotalChunks,
			CurrentIndex: s.CurrentIndex,
		}
	}

	h.render(w, h.detailTmpl, data)
}

func (h *Handlers) loadState(ctx context.Context, threadID string) (*thread.State, error) {
	return h.store.Load(ctx, threadID)
}

func (h *Handlers) render(w http.ResponseWriter, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		slog.Error("inspector: template render failed", "error", err)
	}
}
