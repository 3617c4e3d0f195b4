package session

import (
	"expense-categories/models"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a session stays valid without being deleted.
const DefaultTTL = 30 * 24 * time.Hour

// EndFunc is called after the last session of a user expires or is deleted.
type EndFunc func(userID string)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	ttl      time.Duration
	now      func() time.Time
	onEnd    []EndFunc
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions: make(map[string]*models.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// OnEnd registers fn to run when a user no longer has any session.
func (s *Store) OnEnd(fn EndFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnd = append(s.onEnd, fn)
}

func (s *Store) Create(user models.User) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	session := &models.Session{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.Name,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
		LastUsedAt: now,
	}

	s.sessions[session.ID] = session
	return session, nil
}

// Get returns a copy of a live session, or nil when it is unknown or expired.
func (s *Store) Get(sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, nil
	}

	if s.now().After(session.ExpiresAt) {
		return nil, nil
	}

	copied := *session
	return &copied, nil
}

// Touch records use of a session.
func (s *Store) Touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		session.LastUsedAt = s.now()
	}
}

func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	ended := ok && !s.hasUserLocked(session.UserID)
	hooks := s.onEnd
	s.mu.Unlock()

	if ended {
		for _, fn := range hooks {
			fn(session.UserID)
		}
	}
	return nil
}

// HasUser reports whether userID has at least one live session.
func (s *Store) HasUser(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasUserLocked(userID)
}

func (s *Store) hasUserLocked(userID string) bool {
	now := s.now()
	for _, session := range s.sessions {
		if session.UserID == userID && !now.After(session.ExpiresAt) {
			return true
		}
	}
	return false
}

// Count returns the number of stored sessions, expired ones included.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CleanupExpired drops expired sessions and returns how many were removed.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	now := s.now()
	users := make(map[string]struct{})
	removed := 0
	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, id)
			users[session.UserID] = struct{}{}
			removed++
		}
	}

	var ended []string
	for userID := range users {
		if !s.hasUserLocked(userID) {
			ended = append(ended, userID)
		}
	}
	hooks := s.onEnd
	s.mu.Unlock()

	for _, userID := range ended {
		for _, fn := range hooks {
			fn(userID)
		}
	}
	return removed
}

// StartCleanupRoutine removes expired sessions every interval until stop is closed.
func (s *Store) StartCleanupRoutine(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := s.CleanupExpired(); n > 0 {
					slog.Info("expired sessions removed", "count", n)
				}
			case <-stop:
				return
			}
		}
	}()
}
