package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/bridge"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/chunk"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/config"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/errors"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/storage"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/thread"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/toolcall"
)

const (
	testLocation = "https://host.example/search/test-thread-abc"
	testMarker   = `<tool server="fs" tool="list_dir"><path>.</path></tool>`
)

// fakeHost is a host surface whose responses complete instantly.
type fakeHost struct {
	submissions []string
	location    string
	input       string
}

func (f *fakeHost) Submit(_ context.Context, text string) error {
	f.submissions = append(f.submissions, text)
	return nil
}

func (f *fakeHost) ResponseComplete(context.Context) (bool, error) { return true, nil }
func (f *fakeHost) ResponseLength(context.Context) (int, error)    { return 0, nil }
func (f *fakeHost) SubmitAvailable(context.Context) (bool, error)  { return true, nil }
func (f *fakeHost) LastResponse(context.Context) (string, error)   { return "ack", nil }
func (f *fakeHost) ReadInput(context.Context) (string, error)      { return f.input, nil }

func (f *fakeHost) SetInput(_ context.Context, text string) error {
	f.input = text
	return nil
}

func (f *fakeHost) Location(context.Context) (string, error) { return f.location, nil }

// fakeBridge counts executions and serves a canned tool catalog.
type fakeBridge struct {
	executions int
	result     string
	execErr    error
}

func (f *fakeBridge) Execute(_ context.Context, server, tool string, _ map[string]any) (string, error) {
	f.executions++
	if f.execErr != nil {
		return "", f.execErr
	}
	if f.result != "" {
		return f.result, nil
	}
	return "result of " + server + "/" + tool, nil
}

func (f *fakeBridge) ListTools(_ context.Context, server string) ([]bridge.ToolDescriptor, error) {
	return []bridge.ToolDescriptor{
		{Name: "list_dir", Description: "List a directory"},
	}, nil
}

// recordingObserver captures the event stream for assertions.
type recordingObserver struct {
	states []toolcall.State
	errs   []error
}

func (r *recordingObserver) ToolCallChanged(tc *toolcall.ToolCall) {
	r.states = append(r.states, tc.State)
}
func (r *recordingObserver) ChunkProgress(*chunk.Session) {}
func (r *recordingObserver) ThreadEntered(string)         {}
func (r *recordingObserver) ThreadLeft(string)            {}
func (r *recordingObserver) EngineError(err error)        { r.errs = append(r.errs, err) }

type fixture struct {
	engine   *Engine
	host     *fakeHost
	bridge   *fakeBridge
	store    *thread.Store
	observer *recordingObserver
	cfg      *config.Config
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	db, err := storage.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	cfg.ChunkCharLimit = 1000
	if mutate != nil {
		mutate(cfg)
	}

	host := &fakeHost{location: testLocation}
	br := &fakeBridge{}
	store := thread.NewStore(storage.NewSQLiteKV(db))
	obs := &recordingObserver{}

	return &fixture{
		engine:   New(cfg, br, host, store, obs),
		host:     host,
		bridge:   br,
		store:    store,
		observer: obs,
		cfg:      cfg,
	}
}

func TestEngine_AutoApprovedExecutionAndDelivery(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.AutoApproveServers = []string{"fs"}
	})
	ctx := context.Background()

	require.NoError(t, f.engine.EnterThread(ctx, testLocation))
	require.Equal(t, "test-thread-abc", f.engine.ThreadID())

	tc := f.engine.HandleTextUpdate(ctx, "Let me check.\n\n"+testMarker)
	require.NotNil(t, tc)
	require.Equal(t, toolcall.StateSucceeded, tc.State)
	require.Equal(t, toolcall.DeliverySent, tc.Delivery)
	require.Equal(t, 1, f.bridge.executions)

	require.Len(t, f.host.submissions, 1)
	require.Contains(t, f.host.submissions[0], "Result of the fs/list_dir tool call:")
	require.Contains(t, f.host.submissions[0], "result of fs/list_dir")

	// The terminal snapshot and the suppressed result turn are persisted.
	state, err := f.store.Load(ctx, "test-thread-abc")
	require.NoError(t, err)
	require.Len(t, state.CompletedToolCalls, 1)
	require.Equal(t, toolcall.StateSucceeded, state.CompletedToolCalls[0].State)
	require.Len(t, state.DeletedResultMarkers, 1)
	require.Len(t, state.ChunkHistory, 1)
}

func TestEngine_DuplicateUpdateExecutesOnce(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.AutoApproveServers = []string{"fs"}
	})
	ctx := context.Background()
	require.NoError(t, f.engine.EnterThread(ctx, testLocation))

	first := f.engine.HandleTextUpdate(ctx, testMarker)
	require.NotNil(t, first)

	// The host re-renders the same response text.
	second := f.engine.HandleTextUpdate(ctx, testMarker)
	require.Nil(t, second)
	require.Equal(t, 1, f.bridge.executions)

	// Same marker embedded in longer text is still the same invocation.
	third := f.engine.HandleTextUpdate(ctx, "streamed prefix then "+testMarker)
	require.Nil(t, third)
	require.Equal(t, 1, f.bridge.executions)
}

func TestEngine_ApprovalFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.EnterThread(ctx, testLocation))

	tc := f.engine.HandleTextUpdate(ctx, testMarker)
	require.NotNil(t, tc)
	require.Equal(t, toolcall.StatePendingApproval, tc.State)
	require.Zero(t, f.bridge.executions)
	require.Empty(t, f.host.submissions)

	require.NoError(t, f.engine.Approve(ctx, tc.ID))
	require.Equal(t, toolcall.StateSucceeded, tc.State)
	require.Equal(t, 1, f.bridge.executions)
	require.Len(t, f.host.submissions, 1)
}

func TestEngine_CancelDeliversNoticeOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.EnterThread(ctx, testLocation))

	tc := f.engine.HandleTextUpdate(ctx, testMarker)
	require.Equal(t, toolcall.StatePendingApproval, tc.State)

	require.NoError(t, f.engine.Cancel(ctx, tc.ID))
	require.Equal(t, toolcall.StateCancelled, tc.State)
	require.Zero(t, f.bridge.executions)

	require.Len(t, f.host.submissions, 1)
	require.Contains(t, f.host.submissions[0], "declined")
	require.Contains(t, f.host.submissions[0], "fs/list_dir")

	// The call left the live set; a second cancel is an invalid request.
	err := f.engine.Cancel(ctx, tc.ID)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
	require.Len(t, f.host.submissions, 1)
}

func TestEngine_ApproveUnknownCall(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.EnterThread(ctx, testLocation))

	err := f.engine.Approve(ctx, "no-such-id")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestEngine_ExecutionFailureDelivered(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.AutoApproveServers = []string{"fs"}
	})
	f.bridge.execErr = fmt.Errorf("tool blew up")
	ctx := context.Background()
	require.NoError(t, f.engine.EnterThread(ctx, testLocation))

	tc := f.engine.HandleTextUpdate(ctx, testMarker)
	require.NotNil(t, tc)
	require.Equal(t, toolcall.StateFailed, tc.State)
	require.Equal(t, "tool blew up", tc.ErrorMessage)

	require.Len(t, f.host.submissions, 1)
	require.Contains(t, f.host.submissions[0], "failed")
	require.Contains(t, f.host.submissions[0], "tool blew up")
}

func TestEngine_DisabledServerIgnored(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.DisabledServers = []string{"fs"}
	})
	ctx := context.Background()
	require.NoError(t, f.engine.EnterThread(ctx, testLocation))

	require.Nil(t, f.engine.HandleTextUpdate(ctx, testMarker))
	require.Zero(t, f.bridge.executions)
	require.Zero(t, f.engine.Guard().Len())
}

func TestEngine_RestoredCallNeverReExecutes(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.AutoApproveServers = []string{"fs"}
	})
	ctx := context.Background()

	require.NoError(t, f.engine.EnterThread(ctx, testLocation))
	require.NotNil(t, f.engine.HandleTextUpdate(ctx, testMarker))
	require.Equal(t, 1, f.bridge.executions)
	f.engine.LeaveThread(ctx)

	// A fresh engine over the same store simulates a reload: the guard is
	// empty until restoration pre-reserves the persisted keys.
	host2 := &fakeHost{location: testLocation}
	bridge2 := &fakeBridge{}
	engine2 := New(f.cfg, bridge2, host2, f.store, &recordingObserver{})

	require.NoError(t, engine2.EnterThread(ctx, testLocation))
	require.Len(t, engine2.ThreadState().CompletedToolCalls, 1)

	// The host re-renders the old response containing the old marker.
	require.Nil(t, engine2.HandleTextUpdate(ctx, testMarker))
	require.Zero(t, bridge2.executions)
}

func TestEngine_NonThreadLocationDetaches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.engine.EnterThread(ctx, testLocation))
	require.Equal(t, "test-thread-abc", f.engine.ThreadID())

	require.NoError(t, f.engine.EnterThread(ctx, "https://host.example/settings/account"))
	require.Empty(t, f.engine.ThreadID())
	require.Nil(t, f.engine.HandleTextUpdate(ctx, testMarker))
}

func TestEngine_ReEnteringSameThreadIsNoOp(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.AutoApproveServers = []string{"fs"}
	})
	ctx := context.Background()

	require.NoError(t, f.engine.EnterThread(ctx, testLocation))
	tc := f.engine.HandleTextUpdate(ctx, testMarker)
	require.NotNil(t, tc)

	// Navigation events for the current thread must not reset live state.
	require.NoError(t, f.engine.EnterThread(ctx, testLocation))
	require.Nil(t, f.engine.HandleTextUpdate(ctx, testMarker))
	require.Equal(t, 1, f.bridge.executions)
}

func TestEngine_SubmitPromptEnhancesAndRecords(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.EnterThread(ctx, testLocation))

	require.NoError(t, f.engine.SubmitPrompt(ctx, "what files do I have?", []string{"fs"}))

	require.Len(t, f.host.submissions, 1)
	require.True(t, strings.HasPrefix(f.host.submissions[0], "what files do I have?"))
	require.Contains(t, f.host.submissions[0], "fs/list_dir")

	state, err := f.store.Load(ctx, "test-thread-abc")
	require.NoError(t, err)
	require.Equal(t, []string{"what files do I have?"}, state.CleanedPromptOriginals)
	require.Len(t, state.ChunkHistory, 1)
}

func TestEngine_SubmitPromptWithoutServers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.EnterThread(ctx, testLocation))

	require.NoError(t, f.engine.SubmitPrompt(ctx, "plain question", nil))
	require.Equal(t, []string{"plain question"}, f.host.submissions)

	// An unenhanced prompt needs no cleanup record.
	state, err := f.store.Load(ctx, "test-thread-abc")
	require.NoError(t, err)
	require.Empty(t, state.CleanedPromptOriginals)
}

// failingKV loads fine but refuses writes, forcing degraded mode.
type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (failingKV) Set(context.Context, string, string) error {
	return fmt.Errorf("disk gone")
}

func TestEngine_PersistFailureDegradesGracefully(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ChunkCharLimit = 1000
	cfg.AutoApproveServers = []string{"fs"}

	host := &fakeHost{location: testLocation}
	br := &fakeBridge{}
	obs := &recordingObserver{}
	eng := New(cfg, br, host, thread.NewStore(failingKV{}), obs)
	ctx := context.Background()

	require.NoError(t, eng.EnterThread(ctx, testLocation))

	// Orchestration continues in memory even though the save fails.
	tc := eng.HandleTextUpdate(ctx, testMarker)
	require.NotNil(t, tc)
	require.Equal(t, toolcall.StateSucceeded, tc.State)
	require.Equal(t, 1, br.executions)

	require.NotEmpty(t, obs.errs)
	require.True(t, errors.Is(obs.errs[0], errors.ErrPersistenceFailure))
	require.Len(t, eng.ThreadState().CompletedToolCalls, 1)
}

func TestEngine_ObserverSeesLifecycleProgression(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.AutoApproveServers = []string{"fs"}
	})
	ctx := context.Background()
	require.NoError(t, f.engine.EnterThread(ctx, testLocation))

	require.NotNil(t, f.engine.HandleTextUpdate(ctx, testMarker))

	require.Contains(t, f.observer.states, toolcall.StateDetected)
	require.Contains(t, f.observer.states, toolcall.StateExecuting)
	require.Equal(t, toolcall.StateSucceeded, f.observer.states[len(f.observer.states)-1])
}
