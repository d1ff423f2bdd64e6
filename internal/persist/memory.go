package persist

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps snapshots in process memory. A non-zero quota bounds
// the total stored bytes the way a browser origin store does.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	quota  int
	closed bool
}

// NewMemoryStore creates an unbounded MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// NewMemoryStoreWithQuota creates a MemoryStore holding at most quota bytes.
func NewMemoryStoreWithQuota(quota int) *MemoryStore {
	s := NewMemoryStore()
	s.quota = quota
	return s
}

func (s *MemoryStore) Read(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrStoreClosed
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Write(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.quota > 0 {
		used := len(key) + len(value)
		for k, v := range s.values {
			if k != key {
				used += len(k) + len(v)
			}
		}
		if used > s.quota {
			return fmt.Errorf("write %q (%d bytes): %w", key, len(value), ErrQuotaExceeded)
		}
	}
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.values, key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
