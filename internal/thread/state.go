// Package thread persists and restores per-conversation engine state: the
// completed tool calls, prompt-cleanup bookkeeping, and chunking history that
// must survive navigation and reloads.
package thread

import (
	"encoding/json"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/chunk"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/toolcall"
)

// ResultMarker identifies a host-rendered turn that was suppressed from the
// visible transcript (a turn that merely carried a tool result back to the
// model) and must be re-suppressed if the host re-inserts it.
type ResultMarker struct {
	Server string `json:"server"`
	Tool   string `json:"tool"`
}

// State is the persisted record for one conversation thread.
type State struct {
	// CompletedToolCalls holds snapshots of tool calls in terminal states,
	// used to restore widgets after a reload without re-executing anything.
	CompletedToolCalls []*toolcall.ToolCall `json:"completed_tool_calls,omitempty"`

	// CleanedPromptOriginals lists original (pre-enhancement) prompt texts
	// whose displayed form was replaced, needed to re-strip enhancement text
	// if the host re-renders it.
	CleanedPromptOriginals []string `json:"cleaned_prompt_originals,omitempty"`

	// DeletedResultMarkers lists suppressed result-carrying turns.
	DeletedResultMarkers []ResultMarker `json:"deleted_result_markers,omitempty"`

	// ChunkHistory holds completed chunk sessions.
	ChunkHistory []*chunk.Session `json:"chunk_history,omitempty"`

	// ActiveChunkSession is a chunked submission that was interrupted
	// mid-sequence, discoverable on thread re-entry. It is not auto-resumed;
	// resumption policy belongs to the orchestrator.
	ActiveChunkSession *chunk.Session `json:"active_chunk_session,omitempty"`
}

// NewState returns an empty thread state.
func NewState() *State {
	return &State{}
}

// AddCompletedToolCall appends a terminal tool-call snapshot. Non-terminal
// calls are ignored: only outcomes are restorable.
func (s *State) AddCompletedToolCall(tc *toolcall.ToolCall) {
	if tc == nil || !tc.State.Terminal() {
		return
	}
	s.CompletedToolCalls = append(s.CompletedToolCalls, tc.Clone())
}

// AddCleanedPrompt records an original prompt text whose enhanced form was
// replaced in the transcript.
func (s *State) AddCleanedPrompt(original string) {
	if original == "" {
		return
	}
	s.CleanedPromptOriginals = append(s.CleanedPromptOriginals, original)
}

// AddDeletedResultMarker records a suppressed result-carrying turn.
func (s *State) AddDeletedResultMarker(server, tool string) {
	s.DeletedResultMarkers = append(s.DeletedResultMarkers, ResultMarker{Server: server, Tool: tool})
}

// RecordSession files a finished session into history, or parks an
// unfinished one as the active session.
func (s *State) RecordSession(session *chunk.Session) {
	if session == nil {
		return
	}
	if session.IsComplete {
		s.ChunkHistory = append(s.ChunkHistory, session)
		if s.ActiveChunkSession != nil && s.ActiveChunkSession.ID == session.ID {
			s.ActiveChunkSession = nil
		}
		return
	}
	s.ActiveChunkSession = session
}

// DedupKeys returns the dedup keys of all persisted tool calls, for
// pre-reserving before any live scanning begins.
func (s *State) DedupKeys() []string {
	keys := make([]string, 0, len(s.CompletedToolCalls))
	for _, tc := range s.CompletedToolCalls {
		if tc.DedupKey != "" {
			keys = append(keys, tc.DedupKey)
		}
	}
	return keys
}

// Marshal serializes the state to its persisted JSON form.
func (s *State) Marshal() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Unmarshal parses a persisted record. An empty value yields an empty state.
func Unmarshal(value string) (*State, error) {
	if value == "" {
		return NewState(), nil
	}
	s := NewState()
	if err := json.Unmarshal([]byte(value), s); err != nil {
		return nil, err
	}
	return s, nil
}
