package suppress

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// KV is the narrow storage port the store and janitor operate on.
// Implementations: MemoryKV here, storage.VisitorKV for durable postgres.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// ErrQuotaExceeded is returned by Set when the backing store is full.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// MemoryKV is a quota-bounded in-memory KV. It backs session-scoped state
// and stands in for browser storage limits in tests (MaxEntries == quota).
// A visitor's KV may be shared by concurrent page views, hence the lock.
type MemoryKV struct {
	MaxEntries int // 0 = unbounded

	mu sync.Mutex
	m  map[string]string
}

func NewMemoryKV(maxEntries int) *MemoryKV {
	return &MemoryKV{MaxEntries: maxEntries, m: map[string]string{}}
}

func (s *MemoryKV) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemoryKV) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m[key]; !exists && s.MaxEntries > 0 && len(s.m) >= s.MaxEntries {
		return ErrQuotaExceeded
	}
	s.m[key] = value
	return nil
}

func (s *MemoryKV) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MemoryKV) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryKV) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
