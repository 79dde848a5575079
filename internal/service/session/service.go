package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mlevan/parley/internal/model/chat"
)

// ErrInvalidIdentity rejects display names that fail sanitization or the
// pattern/length constraints.
var ErrInvalidIdentity = errors.New("invalid identity")

// Service is the connection registry: the authoritative map from connection id
// to live session state. Room membership is always derived from it by scan so
// there is no second structure to drift out of sync.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
}

// NewService bootstraps an empty in-memory registry.
func NewService() *Service {
	return &Service{sessions: make(map[string]chat.Session)}
}

// Register validates the identity and inserts a session for connID. A second
// register for the same connection overwrites the first (last join wins).
func (s *Service) Register(connID, identity, room, avatar, role string) (chat.Session, error) {
	cleaned := chat.Sanitize(identity)
	if !chat.ValidIdentity(cleaned) {
		return chat.Session{}, ErrInvalidIdentity
	}

	if room == "" {
		room = chat.DefaultRoom
	}
	if avatar == "" {
		avatar = chat.DefaultAvatar
	}

	sess := chat.Session{
		ConnectionID: connID,
		Identity:     cleaned,
		Room:         room,
		Avatar:       avatar,
		Role:         chat.NormalizeRole(role),
		Status:       chat.StatusOnline,
		JoinedAt:     time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[connID] = sess
	s.mu.Unlock()

	return sess, nil
}

// Get returns the session for connID, if registered.
func (s *Service) Get(connID string) (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[connID]
	return sess, ok
}

// UpdateRoom moves the session to a new room. A no-op for unregistered
// connections; disconnect races must not fail.
func (s *Service) UpdateRoom(connID, newRoom string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[connID]
	if !ok {
		return
	}
	sess.Room = newRoom
	s.sessions[connID] = sess
}

// UpdateStatus sets the session's presence state. A no-op for unregistered
// connections.
func (s *Service) UpdateStatus(connID string, status chat.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[connID]
	if !ok {
		return
	}
	sess.Status = status
	s.sessions[connID] = sess
}

// Remove deletes and returns the session for connID. Removing an unregistered
// connection reports ok=false; repeat removals are no-ops.
func (s *Service) Remove(connID string) (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[connID]
	if ok {
		delete(s.sessions, connID)
	}
	return sess, ok
}

// InRoom snapshots the sessions currently in room, ordered by join time and
// then identity so repeated roster broadcasts are stable.
func (s *Service) InRoom(room string) []chat.Session {
	s.mu.RLock()
	members := make([]chat.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.Room == room {
			members = append(members, sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].Identity < members[j].Identity
	})
	return members
}

// FindByIdentity resolves an identity to a session. Identities are not unique,
// so the earliest-joined match wins to keep private routing deterministic.
func (s *Service) FindByIdentity(identity string) (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found chat.Session
	var ok bool
	for _, sess := range s.sessions {
		if sess.Identity != identity {
			continue
		}
		if !ok || sess.JoinedAt.Before(found.JoinedAt) ||
			(sess.JoinedAt.Equal(found.JoinedAt) && sess.ConnectionID < found.ConnectionID) {
			found = sess
			ok = true
		}
	}
	return found, ok
}

// Rooms reports live room names with occupant counts.
func (s *Service) Rooms() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, sess := range s.sessions {
		counts[sess.Room]++
	}
	return counts
}

// Len reports the number of registered sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
