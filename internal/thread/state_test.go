package thread

import (
	"testing"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/chunk"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/toolcall"
)

func completedCall(server, tool, dedupKey string) *toolcall.ToolCall {
	tc := toolcall.New(server, tool, nil, "<tool/>", "", dedupKey, 1700000000)
	_ = tc.BeginExecution()
	_ = tc.Succeed("ok")
	return tc
}

func TestAddCompletedToolCall_RejectsNonTerminal(t *testing.T) {
	s := NewState()

	pending := toolcall.New("fs", "list_dir", nil, "<tool/>", "", "k1", 0)
	s.AddCompletedToolCall(pending)
	if len(s.CompletedToolCalls) != 0 {
		t.Error("a detected call must not be persisted")
	}

	s.AddCompletedToolCall(completedCall("fs", "list_dir", "k1"))
	if len(s.CompletedToolCalls) != 1 {
		t.Errorf("got %d completed calls, want 1", len(s.CompletedToolCalls))
	}
}

func TestAddCompletedToolCall_SnapshotsIndependentCopy(t *testing.T) {
	s := NewState()
	tc := completedCall("fs", "read_file", "k1")
	s.AddCompletedToolCall(tc)

	tc.Result = "mutated after persisting"
	if s.CompletedToolCalls[0].Result != "ok" {
		t.Error("persisted snapshot should not alias the live call")
	}
}

func TestRecordSession_CompleteGoesToHistory(t *testing.T) {
	s := NewState()

	active := chunk.NewSession(3, chunk.PayloadToolResult, "tc-1")
	s.RecordSession(active)
	if s.ActiveChunkSession != active {
		t.Fatal("unfinished session should be parked as active")
	}
	if len(s.ChunkHistory) != 0 {
		t.Fatal("unfinished session must not enter history")
	}

	active.IsComplete = true
	s.RecordSession(active)
	if s.ActiveChunkSession != nil {
		t.Error("completing the active session should clear it")
	}
	if len(s.ChunkHistory) != 1 {
		t.Errorf("history has %d sessions, want 1", len(s.ChunkHistory))
	}
}

func TestDedupKeys(t *testing.T) {
	s := NewState()
	s.AddCompletedToolCall(completedCall("fs", "a", "key-a"))
	s.AddCompletedToolCall(completedCall("fs", "b", "key-b"))
	s.AddCompletedToolCall(completedCall("fs", "c", ""))

	keys := s.DedupKeys()
	if len(keys) != 2 || keys[0] != "key-a" || keys[1] != "key-b" {
		t.Errorf("DedupKeys = %v, want [key-a key-b]", keys)
	}
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	s := NewState()
	s.AddCompletedToolCall(completedCall("fs", "list_dir", "key-1"))
	s.AddCleanedPrompt("original prompt text")
	s.AddDeletedResultMarker("fs", "list_dir")
	done := chunk.NewSession(2, chunk.PayloadEnhancedPrompt, "")
	done.IsComplete = true
	s.RecordSession(done)
	s.RecordSession(chunk.NewSession(4, chunk.PayloadToolResult, "tc-9"))

	encoded, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(encoded)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.CompletedToolCalls) != 1 || got.CompletedToolCalls[0].DedupKey != "key-1" {
		t.Errorf("completed calls = %+v", got.CompletedToolCalls)
	}
	if got.CompletedToolCalls[0].State != toolcall.StateSucceeded {
		t.Errorf("restored state = %q, want succeeded", got.CompletedToolCalls[0].State)
	}
	if len(got.CleanedPromptOriginals) != 1 || got.CleanedPromptOriginals[0] != "original prompt text" {
		t.Errorf("cleaned prompts = %v", got.CleanedPromptOriginals)
	}
	if len(got.DeletedResultMarkers) != 1 || got.DeletedResultMarkers[0].Tool != "list_dir" {
		t.Errorf("deleted markers = %v", got.DeletedResultMarkers)
	}
	if len(got.ChunkHistory) != 1 || got.ChunkHistory[0].TotalChunks != 2 {
		t.Errorf("chunk history = %+v", got.ChunkHistory)
	}
	if got.ActiveChunkSession == nil || got.ActiveChunkSession.TotalChunks != 4 {
		t.Errorf("active session = %+v", got.ActiveChunkSession)
	}
}

func TestUnmarshal_EmptyValue(t *testing.T) {
	s, err := Unmarshal("")
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(s.CompletedToolCalls) != 0 || s.ActiveChunkSession != nil {
		t.Errorf("empty value should yield an empty state, got %+v", s)
	}
}

func TestUnmarshal_CorruptValue(t *testing.T) {
	if _, err := Unmarshal("{not json"); err == nil {
		t.Error("corrupt record should be an error")
	}
}
