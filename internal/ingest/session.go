package ingest

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/fieldlink-core/internal/device"
)

// Session is what is known about a client that has published since start-up.
type Session struct {
	ClientID  string    `json:"client_id"`
	Type      string    `json:"type,omitempty"`
	Entities  []string  `json:"entities"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

type session struct {
	typ       string
	entities  []string
	seen      map[string]struct{}
	firstSeen time.Time
	lastSeen  time.Time
}

func (s *session) export(clientID string) Session {
	return Session{
		ClientID:  clientID,
		Type:      s.typ,
		Entities:  append([]string{}, s.entities...),
		FirstSeen: s.firstSeen,
		LastSeen:  s.lastSeen,
	}
}

// SessionRegistry tracks clients currently emitting data.
// All methods are safe for concurrent use.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Touch records activity for clientID, creating the session on first sight.
// A known type is never overwritten; an empty type never clears one.
func (r *SessionRegistry) Touch(clientID, inferredType string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s, ok := r.sessions[clientID]
	if !ok {
		s = &session{seen: make(map[string]struct{}), firstSeen: now}
		r.sessions[clientID] = s
	}
	if s.typ == "" {
		s.typ = inferredType
	}
	s.lastSeen = now
	return s.export(clientID)
}

// RecordEntity adds entity to the client's session and reports whether it
// was new. Entities keep the order in which they were first observed.
func (r *SessionRegistry) RecordEntity(clientID, entity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[clientID]
	if !ok {
		now := r.now()
		s = &session{seen: make(map[string]struct{}), firstSeen: now, lastSeen: now}
		r.sessions[clientID] = s
	}
	if _, dup := s.seen[entity]; dup {
		return false
	}
	s.seen[entity] = struct{}{}
	s.entities = append(s.entities, entity)
	return true
}

// PrimaryEntity returns the first entity observed for clientID, or
// device.PlaceholderEntity when none has been.
func (r *SessionRegistry) PrimaryEntity(clientID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[clientID]; ok && len(s.entities) > 0 {
		return s.entities[0]
	}
	return device.PlaceholderEntity
}

// Snapshot returns every session, ordered by client ID.
func (r *SessionRegistry) Snapshot() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, s.export(id))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// Len returns the number of tracked sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions silent for longer than ttl and returns how many
// were removed. A non-positive ttl disables eviction.
func (r *SessionRegistry) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-ttl)
	removed := 0
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
