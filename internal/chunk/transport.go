package chunk

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/errors"
)

// Submitter submits one bounded text block as a new conversational turn.
type Submitter interface {
	Submit(ctx context.Context, text string) error
}

// CompletionDetector is one strategy for deciding whether the host has
// finished generating its response to the current turn. The host has no
// public completion API, so detection is a fallback chain of heuristics; the
// strategy that observed completion is recorded per wait rather than being
// silently first-match.
type CompletionDetector interface {
	// Name identifies the strategy in session records and logs.
	Name() string

	// Poll reports whether the response is finished. An error means the
	// strategy cannot answer right now; the next detector in the chain is
	// consulted.
	Poll(ctx context.Context) (bool, error)
}

// Resettable is implemented by detectors that carry state between polls
// (e.g. content-length stability) and must start fresh for each wait.
type Resettable interface {
	Reset()
}

// ResponseReader reads the host's most recent response text, used to hash
// interstitial replies. Optional.
type ResponseReader interface {
	LastResponse(ctx context.Context) (string, error)
}

// ProgressFunc observes session mutations (chunk submitted, wait finished).
type ProgressFunc func(s *Session)

// Transport drives a split submission: each chunk is submitted only after the
// host has finished responding to the previous one.
type Transport struct {
	submitter Submitter
	detectors []CompletionDetector
	reader    ResponseReader

	limit        int
	chunkTimeout time.Duration
	pollInterval time.Duration
	onProgress   ProgressFunc
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithResponseReader enables interstitial-response hashing.
func WithResponseReader(r ResponseReader) TransportOption {
	return func(t *Transport) { t.reader = r }
}

// WithChunkTimeout overrides the per-chunk response timeout.
func WithChunkTimeout(d time.Duration) TransportOption {
	return func(t *Transport) { t.chunkTimeout = d }
}

// WithPollInterval overrides how often the detector chain is consulted.
func WithPollInterval(d time.Duration) TransportOption {
	return func(t *Transport) { t.pollInterval = d }
}

// WithProgress registers a progress observer.
func WithProgress(fn ProgressFunc) TransportOption {
	return func(t *Transport) { t.onProgress = fn }
}

// NewTransport creates a transport over the given submitter and detector
// chain. limit is the host's single-submission character limit.
func NewTransport(submitter Submitter, detectors []CompletionDetector, limit int, opts ...TransportOption) *Transport {
	t := &Transport{
		submitter:    submitter,
		detectors:    detectors,
		limit:        limit,
		chunkTimeout: 2 * time.Minute,
		pollInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send splits payload as needed and submits every chunk in order. The
// returned session reflects progress even on error. A non-final chunk whose
// response never completes aborts the session with ErrChunkTimeout rather
// than blindly submitting further chunks. The wait after the final chunk is
// best-effort: by then every chunk has landed, so a host that is merely slow
// to answer does not turn a completed delivery into a failure.
func (t *Transport) Send(ctx context.Context, payload string, kind PayloadKind, toolCallID string) (*Session, error) {
	chunks := WrapParts(Split(payload, t.limit))
	session := NewSession(len(chunks), kind, toolCallID)

	slog.Debug("chunked submission starting",
		"session_id", session.ID, "total_chunks", session.TotalChunks,
		"payload_kind", string(kind), "payload_chars", len(payload))

	for i, chunk := range chunks {
		if err := t.submitter.Submit(ctx, chunk); err != nil {
			return session, errors.NewDeliveryFailure(err)
		}
		session.CurrentIndex = i + 1
		t.progress(session)

		final := i == len(chunks)-1
		strategy, err := t.waitForResponse(ctx)
		if err != nil {
			if !final {
				slog.Error("chunk response wait failed",
					"session_id", session.ID, "chunk_index", session.CurrentIndex, "error", err)
				return session, errors.NewChunkTimeout(session.CurrentIndex, session.TotalChunks)
			}
			slog.Warn("gave up waiting for the final chunk's response",
				"session_id", session.ID, "chunk_index", session.CurrentIndex, "error", err)
			break
		}
		session.WaitStrategies = append(session.WaitStrategies, strategy)

		if !final {
			t.recordInterstitial(ctx, session)
		}
		t.progress(session)
	}

	session.IsComplete = true
	t.progress(session)
	slog.Debug("chunked submission complete", "session_id", session.ID)
	return session, nil
}

// waitForResponse blocks until some detector reports the response finished,
// returning the winning strategy's name.
func (t *Transport) waitForResponse(ctx context.Context) (string, error) {
	for _, d := range t.detectors {
		if r, ok := d.(Resettable); ok {
			r.Reset()
		}
	}

	deadline := time.NewTimer(t.chunkTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		for _, d := range t.detectors {
			done, err := d.Poll(ctx)
			if err != nil {
				continue
			}
			if done {
				return d.Name(), nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", context.DeadlineExceeded
		case <-ticker.C:
		}
	}
}

// recordInterstitial hashes the host's throwaway reply to a non-final chunk.
func (t *Transport) recordInterstitial(ctx context.Context, session *Session) {
	if t.reader == nil {
		return
	}
	resp, err := t.reader.LastResponse(ctx)
	if err != nil || resp == "" {
		return
	}
	hash := strconv.FormatUint(xxhash.Sum64String(resp), 16)
	session.InterstitialHashes = append(session.InterstitialHashes, hash)
}

func (t *Transport) progress(s *Session) {
	if t.onProgress != nil {
		t.onProgress(s)
	}
}

// detectorFunc adapts a plain function to CompletionDetector.
type detectorFunc struct {
	name string
	fn   func(ctx context.Context) (bool, error)
}

func (d detectorFunc) Name() string                           { return d.name }
func (d detectorFunc) Poll(ctx context.Context) (bool, error) { return d.fn(ctx) }

// DetectorFunc wraps a polling function as a named detector. Used for the
// "response complete" signal and the submission-control-availability
// fallbacks, which are simple host queries.
func DetectorFunc(name string, fn func(ctx context.Context) (bool, error)) CompletionDetector {
	return detectorFunc{name: name, fn: fn}
}

// StabilityDetector reports completion once the host's response length has
// stopped changing across a number of consecutive polls. The middle rung of
// the fallback chain, for hosts with no completion signal.
type StabilityDetector struct {
	read     func(ctx context.Context) (int, error)
	required int

	lastLen int
	stable  int
	primed  bool
}

// NewStabilityDetector creates a detector over a content-length reader.
// required is the number of consecutive unchanged polls that count as done.
func NewStabilityDetector(read func(ctx context.Context) (int, error), required int) *StabilityDetector {
	if required <= 0 {
		required = 3
	}
	return &StabilityDetector{read: read, required: required}
}

// Name implements CompletionDetector.
func (s *StabilityDetector) Name() string { return "content_stability" }

// Reset implements Resettable: each wait starts with fresh stability state.
func (s *StabilityDetector) Reset() {
	s.lastLen = 0
	s.stable = 0
	s.primed = false
}

// Poll implements CompletionDetector.
func (s *StabilityDetector) Poll(ctx context.Context) (bool, error) {
	n, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	if !s.primed || n != s.lastLen {
		s.primed = true
		s.lastLen = n
		s.stable = 0
		return false, nil
	}
	s.stable++
	return s.stable >= s.required && n > 0, nil
}
