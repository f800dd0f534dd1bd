package chunk

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/errors"
)

// fakeHost plays both the submitter and the response surface. Each submission
// produces a canned response immediately, so the completion-signal detector
// fires on the first poll.
type fakeHost struct {
	submissions []string
	responses   []string
	submitErr   error
	responding  bool
}

func (f *fakeHost) Submit(_ context.Context, text string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submissions = append(f.submissions, text)
	f.responses = append(f.responses, "ack for chunk "+strconv.Itoa(len(f.submissions)))
	f.responding = false
	return nil
}

func (f *fakeHost) responseComplete(_ context.Context) (bool, error) {
	return !f.responding, nil
}

func (f *fakeHost) LastResponse(_ context.Context) (string, error) {
	if len(f.responses) == 0 {
		return "", nil
	}
	return f.responses[len(f.responses)-1], nil
}

func newTestTransport(host *fakeHost, limit int, opts ...TransportOption) *Transport {
	detectors := []CompletionDetector{
		DetectorFunc("completion_signal", host.responseComplete),
	}
	base := []TransportOption{
		WithPollInterval(time.Millisecond),
		WithChunkTimeout(time.Second),
	}
	return NewTransport(host, detectors, limit, append(base, opts...)...)
}

func TestSend_SinglePart(t *testing.T) {
	host := &fakeHost{}
	tr := newTestTransport(host, 39500)

	session, err := tr.Send(context.Background(), "small payload", PayloadToolResult, "tc-1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(host.submissions) != 1 {
		t.Fatalf("got %d submissions, want 1", len(host.submissions))
	}
	if host.submissions[0] != "small payload" {
		t.Errorf("submission = %q, want the raw payload without a part header", host.submissions[0])
	}
	if !session.IsComplete {
		t.Error("session should be complete")
	}
	if session.AssociatedToolCall != "tc-1" {
		t.Errorf("AssociatedToolCall = %q, want tc-1", session.AssociatedToolCall)
	}
}

func TestSend_SequentialMultiPart(t *testing.T) {
	host := &fakeHost{}
	tr := newTestTransport(host, 1000)
	payload := strings.Repeat("a", 2000)

	session, err := tr.Send(context.Background(), payload, PayloadEnhancedPrompt, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if session.TotalChunks != 3 {
		t.Fatalf("TotalChunks = %d, want 3", session.TotalChunks)
	}
	if len(host.submissions) != 3 {
		t.Fatalf("got %d submissions, want 3", len(host.submissions))
	}
	for i, sub := range host.submissions {
		if !strings.HasPrefix(sub, "[Part ") {
			t.Errorf("submission %d lacks a part header: %q", i+1, sub[:20])
		}
	}
	if session.CurrentIndex != 3 {
		t.Errorf("CurrentIndex = %d, want 3", session.CurrentIndex)
	}
	if !session.IsComplete {
		t.Error("session should be complete after the final chunk")
	}
	if got := Join(host.submissions); got != payload {
		t.Error("submitted chunks do not reassemble into the payload")
	}
}

func TestSend_RecordsWaitStrategies(t *testing.T) {
	host := &fakeHost{}
	tr := newTestTransport(host, 1000)

	session, err := tr.Send(context.Background(), strings.Repeat("b", 1500), PayloadToolResult, "tc-2")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(session.WaitStrategies) != session.TotalChunks {
		t.Fatalf("recorded %d strategies for %d chunks", len(session.WaitStrategies), session.TotalChunks)
	}
	for _, s := range session.WaitStrategies {
		if s != "completion_signal" {
			t.Errorf("strategy = %q, want completion_signal", s)
		}
	}
}

func TestSend_RecordsInterstitialHashes(t *testing.T) {
	host := &fakeHost{}
	tr := newTestTransport(host, 1000, WithResponseReader(host))

	session, err := tr.Send(context.Background(), strings.Repeat("c", 2000), PayloadToolResult, "tc-3")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Replies to non-final chunks are hashed; the final response is the real one.
	if want := session.TotalChunks - 1; len(session.InterstitialHashes) != want {
		t.Errorf("got %d interstitial hashes, want %d", len(session.InterstitialHashes), want)
	}
}

func TestSend_TimeoutAbortsSession(t *testing.T) {
	host := &fakeHost{}
	never := []CompletionDetector{
		DetectorFunc("completion_signal", func(context.Context) (bool, error) {
			return false, nil
		}),
	}
	tr := NewTransport(host, never, 1000,
		WithPollInterval(time.Millisecond),
		WithChunkTimeout(20*time.Millisecond))

	session, err := tr.Send(context.Background(), strings.Repeat("d", 2000), PayloadToolResult, "tc-4")
	if !errors.Is(err, errors.ErrChunkTimeout) {
		t.Fatalf("err = %v, want CHUNK_TIMEOUT", err)
	}
	if session.IsComplete {
		t.Error("timed-out session must not be marked complete")
	}
	if len(host.submissions) != 1 {
		t.Errorf("got %d submissions, want the sequence to stop after the first", len(host.submissions))
	}
	if session.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want 1", session.CurrentIndex)
	}
}

func TestSend_SlowFinalResponseStillDelivers(t *testing.T) {
	host := &fakeHost{}
	never := []CompletionDetector{
		DetectorFunc("completion_signal", func(context.Context) (bool, error) {
			return false, nil
		}),
	}
	tr := NewTransport(host, never, 39500,
		WithPollInterval(time.Millisecond),
		WithChunkTimeout(20*time.Millisecond))

	// The single chunk has already landed; a host that never signals
	// completion must not turn the delivery into a failure.
	session, err := tr.Send(context.Background(), "small payload", PayloadToolResult, "tc-6")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !session.IsComplete {
		t.Error("session should be complete once every chunk is submitted")
	}
	if len(host.submissions) != 1 {
		t.Errorf("got %d submissions, want 1", len(host.submissions))
	}
}

func TestSend_SubmitFailure(t *testing.T) {
	host := &fakeHost{submitErr: context.Canceled}
	tr := newTestTransport(host, 1000)

	session, err := tr.Send(context.Background(), "payload", PayloadToolResult, "tc-5")
	if !errors.Is(err, errors.ErrDeliveryFailure) {
		t.Fatalf("err = %v, want DELIVERY_FAILURE", err)
	}
	if session.IsComplete {
		t.Error("failed session must not be marked complete")
	}
}

func TestSend_ProgressObserver(t *testing.T) {
	host := &fakeHost{}
	var updates int
	tr := newTestTransport(host, 1000, WithProgress(func(*Session) { updates++ }))

	if _, err := tr.Send(context.Background(), strings.Repeat("e", 1500), PayloadToolResult, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if updates == 0 {
		t.Error("progress observer never invoked")
	}
}

func TestStabilityDetector(t *testing.T) {
	length := 0
	d := NewStabilityDetector(func(context.Context) (int, error) {
		return length, nil
	}, 2)

	ctx := context.Background()

	// Zero length never counts as done.
	for i := 0; i < 5; i++ {
		if done, _ := d.Poll(ctx); done {
			t.Fatal("empty response should not count as stable")
		}
	}

	// Growing content resets the streak.
	length = 10
	if done, _ := d.Poll(ctx); done {
		t.Fatal("first observation of new length should not be done")
	}
	length = 20
	if done, _ := d.Poll(ctx); done {
		t.Fatal("changed length should not be done")
	}

	if done, _ := d.Poll(ctx); done {
		t.Fatal("one stable poll is below the requirement")
	}
	if done, _ := d.Poll(ctx); !done {
		t.Fatal("two stable polls should report done")
	}

	// Reset starts the streak over.
	d.Reset()
	if done, _ := d.Poll(ctx); done {
		t.Fatal("post-reset first poll should not be done")
	}
}
