package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FetchFunc pulls the current session list from the backend.
type FetchFunc func(ctx context.Context) ([]Session, error)

// Store holds the last fetched snapshot of helpdesk sessions. The backend
// stays the source of truth: push notifications only mark the snapshot stale
// via Invalidate, and a mutation that fails leaves the snapshot untouched.
type Store struct {
	fetch        FetchFunc
	pendingAfter time.Duration
	logger       zerolog.Logger

	mu       sync.RWMutex
	sessions []Session
	stale    bool
}

func NewStore(fetch FetchFunc, pendingAfter time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		fetch:        fetch,
		pendingAfter: pendingAfter,
		logger:       logger,
		stale:        true,
	}
}

// Refresh replaces the snapshot with a fresh fetch. On error the previous
// snapshot is kept as-is.
func (s *Store) Refresh(ctx context.Context) error {
	sessions, err := s.fetch(ctx)
	if err != nil {
		return fmt.Errorf("session: refresh: %w", err)
	}

	s.mu.Lock()
	s.sessions = sessions
	s.stale = false
	s.mu.Unlock()

	s.logger.Debug().Int("sessions", len(sessions)).Msg("session list refreshed")
	return nil
}

// Invalidate marks the snapshot stale. Push notifications are a hint to
// re-fetch, never a direct mutation.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
}

func (s *Store) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// Sessions returns a copy of the current snapshot.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Get looks a session up by its channel/session id.
func (s *Store) Get(sessionID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.SessionID == sessionID {
			return sess, true
		}
	}
	return Session{}, false
}

// Buckets groups the snapshot into display buckets, reclassifying stale
// queue entries on every call.
func (s *Store) Buckets(now time.Time) map[Bucket][]Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Bucket][]Session)
	for _, sess := range s.sessions {
		b := sess.Bucket(now, s.pendingAfter)
		out[b] = append(out[b], sess)
	}
	return out
}
