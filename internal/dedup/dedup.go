// Package dedup recognizes that two observations of tool-invocation text
// refer to the same logical invocation. The host re-renders response text
// freely (streaming updates, navigation, restoration) and the scanner is
// stateless, so this guard is the only thing standing between an observed
// marker and a duplicate side effect.
package dedup

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultWindow is the width of the coarse execution-window bucket.
const DefaultWindow = 10 * time.Second

// Key derives the stable identity of an invocation: the exact marker text
// plus the owning thread. Different content virtually always yields a
// different key. Fast and order-sensitive, not cryptographic.
func Key(rawMarker, threadID string) string {
	h := xxhash.New()
	_, _ = h.WriteString(rawMarker)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(threadID)
	return strconv.FormatUint(h.Sum64(), 16)
}

// Window returns the execution-window bucket for t: the Unix time rounded
// down to the bucket width. Stored alongside the key so a restored call can
// prove it already executed in this window without re-running side effects.
func Window(t time.Time, width time.Duration) int64 {
	if width <= 0 {
		width = DefaultWindow
	}
	secs := int64(width / time.Second)
	return (t.Unix() / secs) * secs
}

// Guard holds the set of previously seen dedup keys.
//
// All methods are called from the single orchestrator goroutine, so there is
// no locking; reservations are unconditional and immediate, leaving no
// check-to-use gap. Keys are bucketed by the window they were reserved in so
// stale buckets can be evicted instead of growing forever.
type Guard struct {
	width    time.Duration
	retain   int // buckets kept beyond the current one; 0 keeps everything
	seen     map[string]int64
	byBucket map[int64][]string
	now      func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithWindow overrides the bucket width.
func WithWindow(width time.Duration) Option {
	return func(g *Guard) { g.width = width }
}

// WithRetention keeps only the given number of buckets behind the current
// one. Restored keys are always re-reserved into the current bucket on thread
// entry, so eviction cannot resurrect a persisted call.
func WithRetention(buckets int) Option {
	return func(g *Guard) { g.retain = buckets }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates an empty guard.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		width:    DefaultWindow,
		seen:     make(map[string]int64),
		byBucket: make(map[int64][]string),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckAndReserve reports whether the key is new. A true return reserves the
// key immediately: the caller owns execution. A false return means the
// invocation was already seen and must not execute again.
func (g *Guard) CheckAndReserve(key string) bool {
	if _, dup := g.seen[key]; dup {
		return false
	}
	g.reserve(key)
	return true
}

// Reserve unconditionally marks a key as seen. Used when restoring persisted
// tool calls: every restored key is reserved before any live scanning begins,
// so a restored widget never re-executes its tool.
func (g *Guard) Reserve(key string) {
	if _, dup := g.seen[key]; dup {
		return
	}
	g.reserve(key)
}

// Seen reports whether the key has been reserved, without reserving it.
func (g *Guard) Seen(key string) bool {
	_, dup := g.seen[key]
	return dup
}

// Len returns the number of reserved keys.
func (g *Guard) Len() int {
	return len(g.seen)
}

// CurrentWindow returns the bucket the guard's clock is currently in.
func (g *Guard) CurrentWindow() int64 {
	return Window(g.now(), g.width)
}

func (g *Guard) reserve(key string) {
	bucket := g.CurrentWindow()
	g.seen[key] = bucket
	g.byBucket[bucket] = append(g.byBucket[bucket], key)
	g.evict(bucket)
}

// evict drops buckets older than the retention horizon. With retain == 0
// nothing is ever evicted, matching the unbounded behavior some callers still
// want for short-lived processes.
func (g *Guard) evict(current int64) {
	if g.retain <= 0 {
		return
	}
	horizon := current - int64(g.retain)*int64(g.width/time.Second)
	for bucket, keys := range g.byBucket {
		if bucket >= horizon {
			continue
		}
		for _, key := range keys {
			delete(g.seen, key)
		}
		delete(g.byBucket, bucket)
	}
}
