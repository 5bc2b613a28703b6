package challenge

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore keeps challenge slots in a process-local map with a periodic
// sweeper for expired entries. State is not shared between processes, so it
// must not be used behind a load balancer without sticky routing.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates a [MemoryStore] and starts its sweeper. Callers own
// the store's lifecycle and must Close it to stop the sweeper goroutine.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}

	go s.sweep(sweepInterval)

	return s
}

// Put stores the user's pending challenge, replacing any previous one.
func (s *MemoryStore) Put(_ context.Context, userID string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("invalid challenge ttl")
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.entries[userID] = memoryEntry{data: buf, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()

	return nil
}

// TakeAndDelete consumes the user's pending challenge. Expired entries are
// treated as absent even before the sweeper reaps them.
func (s *MemoryStore) TakeAndDelete(_ context.Context, userID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	delete(s.entries, userID)

	if time.Now().After(entry.expiresAt) {
		return nil, ErrChallengeNotFound
	}

	return entry.data, nil
}

// Close stops the sweeper goroutine. Safe to call more than once.
func (s *MemoryStore) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for userID, entry := range s.entries {
				if now.After(entry.expiresAt) {
					delete(s.entries, userID)
				}
			}
			s.mu.Unlock()
		}
	}
}
