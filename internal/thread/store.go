package thread

import (
	"context"
	"net/url"
	"strings"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/errors"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/storage"
)

// keyPrefix namespaces thread-state records inside the shared KV collaborator.
const keyPrefix = "thread_state:"

// Key derives the persistence key for a thread identifier.
func Key(threadID string) string {
	return keyPrefix + threadID
}

// ThreadIDFromKey inverts Key. Returns false for keys outside the namespace.
func ThreadIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", false
	}
	return key[len(keyPrefix):], true
}

// Store loads and saves thread states through an injected KV collaborator.
type Store struct {
	kv storage.KV
}

// NewStore creates a store over the given persistence collaborator.
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// Load returns the persisted state for a thread, or an empty state if none
// exists. Loading a never-saved thread is not an error; a storage or decode
// failure is, and the caller decides whether to continue degraded.
func (s *Store) Load(ctx context.Context, threadID string) (*State, error) {
	value, ok, err := s.kv.Get(ctx, Key(threadID))
	if err != nil {
		return NewState(), errors.NewPersistenceFailure("load", threadID, err)
	}
	if !ok {
		return NewState(), nil
	}

	state, err := Unmarshal(value)
	if err != nil {
		// A corrupt record is reported but does not poison the thread: the
		// engine proceeds from an empty state.
		return NewState(), errors.NewPersistenceFailure("decode", threadID, err)
	}
	return state, nil
}

// Save persists the state for a thread.
func (s *Store) Save(ctx context.Context, threadID string, state *State) error {
	value, err := state.Marshal()
	if err != nil {
		return errors.NewPersistenceFailure("encode", threadID, err)
	}
	if err := s.kv.Set(ctx, Key(threadID), value); err != nil {
		return errors.NewPersistenceFailure("save", threadID, err)
	}
	return nil
}

// threadPathPrefixes are the location path segments that address a persisted,
// restorable conversation on the host.
var threadPathPrefixes = []string{"search", "chat"}

// ExtractThreadID derives the conversation-thread identifier from the host's
// location string. Returns false when the location does not address a
// restorable thread (home page, new-thread composer, settings, and so on).
// Pure function of the location string.
func ExtractThreadID(location string) (string, bool) {
	path := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		path = u.Path
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		for _, prefix := range threadPathPrefixes {
			if seg != prefix {
				continue
			}
			if i+1 < len(segments) && segments[i+1] != "" {
				return segments[i+1], true
			}
			return "", false
		}
	}
	return "", false
}
