// Package engine wires the tool-call orchestration core: observed text flows
// through the scanner, past the dedup guard, into the lifecycle state
// machine; outcomes flow back into the conversation through the chunk
// transport; and everything that must survive a reload flows through the
// thread state store.
//
// The engine is single-threaded by contract: all entry points must be called
// from one event-driving goroutine. Shared state (the dedup guard, the
// current thread state) is therefore mutated without locks; a mutation
// completes before the next event is processed.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/bridge"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/chunk"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/config"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/dedup"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/errors"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/prompt"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/scanner"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/thread"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/toolcall"
)

// Host is the consumed host-surface contract: everything the engine needs
// from the rendered page, behind an interface so any observation mechanism
// (event subscription, polling) satisfies it.
type Host interface {
	// Submit posts one bounded text block as a new conversational turn.
	Submit(ctx context.Context, text string) error

	// ResponseComplete reports whether the current turn's response has
	// finished generating. Errors when the host exposes no such signal.
	ResponseComplete(ctx context.Context) (bool, error)

	// ResponseLength returns the current length of the response being
	// generated, for the content-stability fallback.
	ResponseLength(ctx context.Context) (int, error)

	// SubmitAvailable reports whether the submission control is usable, the
	// last-resort completion proxy.
	SubmitAvailable(ctx context.Context) (bool, error)

	// LastResponse reads the most recent response text.
	LastResponse(ctx context.Context) (string, error)

	// ReadInput and SetInput read and replace the text in the input region.
	ReadInput(ctx context.Context) (string, error)
	SetInput(ctx context.Context, text string) error

	// Location returns the host's current location string.
	Location(ctx context.Context) (string, error)
}

// Engine is the orchestrator.
type Engine struct {
	cfg       *config.Config
	bridge    bridge.Bridge
	host      Host
	store     *thread.Store
	guard     *dedup.Guard
	transport *chunk.Transport
	observer  Observer

	threadID    string
	threadState *thread.State
	persistent  bool

	// calls tracks live (non-restored) tool calls by id, including pending
	// approvals waiting on the user.
	calls map[string]*toolcall.ToolCall
}

// New creates an engine over its collaborators. observer may be nil.
func New(cfg *config.Config, br bridge.Bridge, host Host, store *thread.Store, observer Observer) *Engine {
	if observer == nil {
		observer = NopObserver{}
	}

	e := &Engine{
		cfg:      cfg,
		bridge:   br,
		host:     host,
		store:    store,
		observer: observer,
		guard: dedup.NewGuard(
			dedup.WithWindow(time.Duration(cfg.DedupWindowSecs) * time.Second),
		),
		calls: make(map[string]*toolcall.ToolCall),
	}

	detectors := []chunk.CompletionDetector{
		chunk.DetectorFunc("completion_signal", host.ResponseComplete),
		chunk.NewStabilityDetector(host.ResponseLength, 3),
		chunk.DetectorFunc("submit_control", host.SubmitAvailable),
	}
	e.transport = chunk.NewTransport(host, detectors, cfg.ChunkCharLimit,
		chunk.WithChunkTimeout(time.Duration(cfg.ChunkResponseTimeoutSecs)*time.Second),
		chunk.WithResponseReader(host),
		chunk.WithProgress(func(s *chunk.Session) {
			e.observer.ChunkProgress(s)
		}),
	)

	return e
}

// Guard exposes the dedup guard, mainly for tests and diagnostics.
func (e *Engine) Guard() *dedup.Guard { return e.guard }

// ThreadID returns the thread currently being tracked, or empty.
func (e *Engine) ThreadID() string { return e.threadID }

// ThreadState returns the in-memory state for the current thread, or nil.
func (e *Engine) ThreadState() *thread.State { return e.threadState }

// EnterThread points the engine at the conversation the given location
// addresses. Restores persisted state and pre-reserves every restored tool
// call's dedup key before any live scanning, so restored calls never
// re-execute. A location that addresses no restorable thread detaches the
// engine. Safe to call on every navigation.
func (e *Engine) EnterThread(ctx context.Context, location string) error {
	threadID, ok := thread.ExtractThreadID(location)
	if !ok {
		e.LeaveThread(ctx)
		return nil
	}
	if threadID == e.threadID {
		return nil
	}
	e.LeaveThread(ctx)

	state, err := e.store.Load(ctx, threadID)
	e.threadID = threadID
	e.threadState = state
	e.persistent = err == nil
	if err != nil {
		// Degraded, non-persistent mode for this thread: keep orchestrating
		// in memory, report the failure, don't crash.
		slog.Error("thread state load failed; continuing non-persistent",
			"thread_id", threadID, "error", err)
		e.observer.EngineError(err)
	}

	for _, key := range state.DedupKeys() {
		e.guard.Reserve(key)
	}

	slog.Info("thread entered", "thread_id", threadID,
		"restored_tool_calls", len(state.CompletedToolCalls), "persistent", e.persistent)
	e.observer.ThreadEntered(threadID)
	for _, tc := range state.CompletedToolCalls {
		e.observer.ToolCallChanged(tc.Clone())
	}
	return nil
}

// LeaveThread persists and discards the current thread's state. The
// persisted record remains in storage.
func (e *Engine) LeaveThread(ctx context.Context) {
	if e.threadID == "" {
		return
	}
	e.persist(ctx)
	left := e.threadID
	e.threadID = ""
	e.threadState = nil
	e.calls = make(map[string]*toolcall.ToolCall)
	slog.Info("thread left", "thread_id", left)
	e.observer.ThreadLeft(left)
}

// HandleTextUpdate processes one change notification carrying the full text
// of a response block. At most one new tool call results; duplicates and
// parse misses are normal no-ops.
func (e *Engine) HandleTextUpdate(ctx context.Context, containerText string) *toolcall.ToolCall {
	if e.threadID == "" {
		return nil
	}

	inv := scanner.Scan(containerText)
	if inv == nil {
		return nil
	}
	if e.cfg.ServerDisabled(inv.Server) {
		slog.Debug("ignoring tool call for disabled server",
			"server", inv.Server, "tool", inv.Tool)
		return nil
	}

	key := dedup.Key(inv.RawMarker, e.threadID)
	if !e.guard.CheckAndReserve(key) {
		slog.Debug("duplicate invocation ignored",
			"dedup_key", key, "server", inv.Server, "tool", inv.Tool)
		return nil
	}

	tc := toolcall.New(inv.Server, inv.Tool, inv.Params, inv.RawMarker,
		containerText, key, e.guard.CurrentWindow())
	e.calls[tc.ID] = tc
	slog.Info("tool call detected", "tool_call_id", tc.ID,
		"server", tc.Server, "tool", tc.Tool, "thread_id", e.threadID)
	e.observer.ToolCallChanged(tc.Clone())

	if e.cfg.ToolAutoApproved(tc.Server, tc.Tool) {
		e.execute(ctx, tc)
		return tc
	}

	if err := tc.RequireApproval(); err != nil {
		e.observer.EngineError(err)
		return tc
	}
	e.observer.ToolCallChanged(tc.Clone())
	return tc
}

// Approve executes a tool call waiting on user approval.
func (e *Engine) Approve(ctx context.Context, toolCallID string) error {
	tc, ok := e.calls[toolCallID]
	if !ok {
		return errors.NewInvalidRequest("unknown tool call: " + toolCallID)
	}
	if err := tc.Approve(); err != nil {
		return err
	}
	e.observer.ToolCallChanged(tc.Clone())
	e.execute(ctx, tc)
	return nil
}

// Cancel declines a tool call waiting on user approval. The call becomes
// terminal with no result, and a cancellation notice is delivered back into
// the conversation so the model knows the tool did not run.
func (e *Engine) Cancel(ctx context.Context, toolCallID string) error {
	tc, ok := e.calls[toolCallID]
	if !ok {
		return errors.NewInvalidRequest("unknown tool call: " + toolCallID)
	}
	if err := tc.Cancel(); err != nil {
		return err
	}
	slog.Info("tool call cancelled", "tool_call_id", tc.ID,
		"server", tc.Server, "tool", tc.Tool)
	e.observer.ToolCallChanged(tc.Clone())
	e.deliverOutcome(ctx, tc)
	e.recordTerminal(ctx, tc)
	return nil
}

// execute drives an approved call through the bridge and then through result
// delivery. Failures land in the call's terminal fields and the event
// stream; they never propagate out of the orchestrator.
func (e *Engine) execute(ctx context.Context, tc *toolcall.ToolCall) {
	if err := tc.BeginExecution(); err != nil {
		e.observer.EngineError(err)
		return
	}
	e.observer.ToolCallChanged(tc.Clone())

	result, err := e.bridge.Execute(ctx, tc.Server, tc.Tool, tc.ParamMap())
	if err != nil {
		_ = tc.Fail(err.Error())
		slog.Error("tool execution failed", "tool_call_id", tc.ID,
			"server", tc.Server, "tool", tc.Tool, "error", err)
	} else {
		_ = tc.Succeed(result)
		slog.Info("tool execution succeeded", "tool_call_id", tc.ID,
			"server", tc.Server, "tool", tc.Tool,
			"duration_ms", tc.ExecutionDuration().Milliseconds())
	}
	e.observer.ToolCallChanged(tc.Clone())

	e.deliverOutcome(ctx, tc)
	e.recordTerminal(ctx, tc)
}

// deliverOutcome relays a terminal call's outcome into the conversation,
// exactly once: the delivery state machine rejects re-entry.
func (e *Engine) deliverOutcome(ctx context.Context, tc *toolcall.ToolCall) {
	if err := tc.BeginDelivery(); err != nil {
		// Delivery already attempted for this call.
		return
	}
	e.observer.ToolCallChanged(tc.Clone())

	message := outcomeMessage(tc)
	session, err := e.transport.Send(ctx, message, chunk.PayloadToolResult, tc.ID)
	if e.threadState != nil {
		e.threadState.RecordSession(session)
	}

	if err != nil {
		_ = tc.DeliveryFailed()
		slog.Error("result delivery failed", "tool_call_id", tc.ID, "error", err)
		e.observer.EngineError(errors.NewDeliveryFailure(err))
	} else {
		_ = tc.DeliverySucceeded()
		if e.threadState != nil {
			// The turn that carried this result will be suppressed from the
			// visible transcript; remember it for re-suppression.
			e.threadState.AddDeletedResultMarker(tc.Server, tc.Tool)
		}
	}
	e.observer.ToolCallChanged(tc.Clone())
}

// recordTerminal snapshots a finished call into thread state and persists.
func (e *Engine) recordTerminal(ctx context.Context, tc *toolcall.ToolCall) {
	if e.threadState != nil {
		e.threadState.AddCompletedToolCall(tc)
	}
	delete(e.calls, tc.ID)
	e.persist(ctx)
}

// SubmitPrompt enhances the user's prompt with tool instructions for the
// given servers and submits it, chunking when it exceeds the host limit. The
// original text is recorded so the displayed prompt can be re-stripped later.
func (e *Engine) SubmitPrompt(ctx context.Context, text string, servers []string) error {
	toolsByServer := make(map[string][]bridge.ToolDescriptor)
	for _, server := range servers {
		if e.cfg.ServerDisabled(server) {
			continue
		}
		tools, err := e.bridge.ListTools(ctx, server)
		if err != nil {
			slog.Error("listing tools failed; enhancing without server",
				"server", server, "error", err)
			e.observer.EngineError(err)
			continue
		}
		toolsByServer[server] = tools
	}

	enhanced := prompt.BuildEnhancement(text, toolsByServer)
	if enhanced != text && e.threadState != nil {
		e.threadState.AddCleanedPrompt(text)
	}

	session, err := e.transport.Send(ctx, enhanced, chunk.PayloadEnhancedPrompt, "")
	if e.threadState != nil {
		e.threadState.RecordSession(session)
	}
	e.persist(ctx)
	if err != nil {
		return err
	}
	return nil
}

// persist flushes the current thread state. A failure switches the thread to
// non-persistent mode and is reported, never thrown into unrelated paths.
func (e *Engine) persist(ctx context.Context) {
	if e.threadID == "" || e.threadState == nil || !e.persistent {
		return
	}
	if err := e.store.Save(ctx, e.threadID, e.threadState); err != nil {
		e.persistent = false
		slog.Error("thread state save failed; continuing non-persistent",
			"thread_id", e.threadID, "error", err)
		e.observer.EngineError(err)
	}
}
