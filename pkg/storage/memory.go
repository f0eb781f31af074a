package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/HatiCode/chondrosurv/pkg/session"
)

// DefaultMaxSessions bounds a MemoryStore created with maxSessions <= 0.
const DefaultMaxSessions = 10000

// MemoryStore keeps sessions in a bounded LRU cache.
// It is safe for concurrent use by multiple goroutines.
//
// When the cache is full the least recently used session is evicted. If TTL is
// configured, a background goroutine also removes sessions that have not been
// updated within the TTL. Sessions are copied on the way in and out, so callers
// never share memory with the store.
type MemoryStore struct {
	sessions      *lru.Cache[string, *session.Session]
	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopped       bool
	stopMu        sync.Mutex
}

// NewMemoryStore creates a store holding at most maxSessions sessions, with no TTL.
func NewMemoryStore(maxSessions int) *MemoryStore {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	cache, err := lru.New[string, *session.Session](maxSessions)
	if err != nil {
		// Only returned for a non-positive size, which is handled above.
		panic(err)
	}

	return &MemoryStore{sessions: cache}
}

// NewMemoryStoreWithTTL creates a bounded store that also expires idle sessions.
// cleanupInterval determines how often expired sessions are swept (default 1 minute).
//
// The cleanup goroutine must be stopped by calling Stop() when the store
// is no longer needed to prevent goroutine leaks.
func NewMemoryStoreWithTTL(maxSessions int, ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	store := NewMemoryStore(maxSessions)
	store.ttl = ttl
	store.cleanupTicker = time.NewTicker(cleanupInterval)
	store.stopCleanup = make(chan struct{})
	store.cleanupDone = make(chan struct{})

	go store.runCleanup()

	return store
}

// Stop shuts down the background cleanup goroutine and blocks until it exits.
// Calling Stop multiple times or on a store without TTL is safe and does nothing.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return
	}

	close(s.stopCleanup)
	<-s.cleanupDone
	s.cleanupTicker.Stop()
	s.stopped = true
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes sessions idle for longer than the TTL.
func (s *MemoryStore) cleanup(now time.Time) int {
	if s.ttl == 0 {
		return 0
	}

	removed := 0
	for _, id := range s.sessions.Keys() {
		sess, ok := s.sessions.Peek(id)
		if ok && s.expired(sess, now) {
			s.sessions.Remove(id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) expired(sess *session.Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.UpdatedAt) > s.ttl
}

// Get returns a copy of the session with the given id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*session.Session, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, false, nil
	}
	if s.expired(sess, time.Now()) {
		s.sessions.Remove(id)
		return nil, false, nil
	}

	return sess.Clone(), true, nil
}

// Put stores a copy of sess, replacing any existing version.
func (s *MemoryStore) Put(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return errors.New("session cannot be nil")
	}
	if err := ValidateID(sess.ID); err != nil {
		return fmt.Errorf("put session: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.sessions.Add(sess.ID, sess.Clone())
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.sessions.Remove(id)
	return nil
}

// Len returns the number of sessions currently stored.
func (s *MemoryStore) Len() int {
	return s.sessions.Len()
}
