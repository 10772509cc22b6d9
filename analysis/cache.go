// Package analysis provides the text analysis contract and a memoizing
// cache in front of it.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Op is the kind of analysis a cache entry belongs to.
type Op string

const (
	OpSentiment Op = "sentiment"
	OpEntities  Op = "entities"
	OpTranslate Op = "translate"
)

// A Key identifies a cached analysis result. Language is only set for
// translations.
type Key struct {
	Op       Op
	Text     string
	Language string
}

// String encodes the key as op|language|text.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Op, k.Language, k.Text)
}

// ParseKey decodes a key produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("malformed cache key %q", s)
	}
	return Key{Op: Op(parts[0]), Language: parts[1], Text: parts[2]}, nil
}

// A Cache memoizes encoded analysis results. Implementations must allow
// concurrent Put of the same key.
type Cache interface {
	Get(key Key) ([]byte, bool)
	Put(ctx context.Context, key Key, value []byte)
}

// A Persister stores cache entries beyond the process, for example in Redis.
type Persister interface {
	Persist(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context) (map[string][]byte, error)
}

// Memory is a process local Cache. Entries never expire. When a Persister
// is set, writes are forwarded to it on a best-effort basis and Warm loads
// previously persisted entries.
type Memory struct {
	Logger         *slog.Logger
	Persister      Persister
	PersistTimeout time.Duration

	entries sync.Map // Key -> []byte
}

// Get returns the cached value for key. It never performs I/O.
func (m *Memory) Get(key Key) ([]byte, bool) {
	v, ok := m.entries.Load(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Put stores value under key. Persistence failures are logged and dropped.
func (m *Memory) Put(ctx context.Context, key Key, value []byte) {
	m.entries.Store(key, append([]byte(nil), value...))
	if m.Persister == nil {
		return
	}
	if m.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.PersistTimeout)
		defer cancel()
	}
	if err := m.Persister.Persist(ctx, key.String(), value); err != nil && m.Logger != nil {
		m.Logger.Debug("Could not persist analysis result", "op", key.Op, "error", err.Error())
	}
}

// Warm loads persisted entries into memory. It returns the number of
// entries loaded.
func (m *Memory) Warm(ctx context.Context) (int, error) {
	if m.Persister == nil {
		return 0, nil
	}
	vals, err := m.Persister.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cache: %w", err)
	}
	n := 0
	for k, v := range vals {
		key, err := ParseKey(k)
		if err != nil {
			continue
		}
		m.entries.Store(key, v)
		n++
	}
	return n, nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
