package transport

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is how a connection receives events.
type Kind string

const (
	KindPush Kind = "push"
	KindPoll Kind = "poll"
)

// Record is one (session, player) connection attempt. Records are
// superseded on reconnect, never mutated back: the stale record stays
// addressable so an in-flight request against it fails cleanly instead
// of acting on the wrong connection.
type Record struct {
	ConnectionID string
	SessionID    string
	PlayerID     string
	Kind         Kind
	CreatedAt    time.Time
	LastSeenAt   time.Time
	AckedSeq     int64
	Stale        bool
}

// Registry tracks connection records across all sessions. It is the
// only mutable state shared between sessions and is safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Record
	current map[string]*Record // sessionID|playerID -> live record
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[string]*Record),
		current: make(map[string]*Record),
		now:     time.Now,
	}
}

// Register creates a fresh record for the pair and marks any prior one
// stale.
func (r *Registry) Register(sessionID, playerID string, kind Kind) *Record {
	now := r.now()
	rec := &Record{
		ConnectionID: uuid.NewString(),
		SessionID:    sessionID,
		PlayerID:     playerID,
		Kind:         kind,
		CreatedAt:    now,
		LastSeenAt:   now,
	}
	key := pairKey(sessionID, playerID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.current[key]; ok {
		prev.Stale = true
	}
	r.byID[rec.ConnectionID] = rec
	r.current[key] = rec
	return rec
}

// Get returns the record for a connection id, stale or live.
func (r *Registry) Get(connectionID string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[strings.TrimSpace(connectionID)]
}

// Current returns the live record for a (session, player) pair.
func (r *Registry) Current(sessionID, playerID string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current[pairKey(sessionID, playerID)]
}

// Touch refreshes liveness on a poll or ping.
func (r *Registry) Touch(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[connectionID]; ok {
		rec.LastSeenAt = r.now()
	}
}

// Ack records the highest event sequence the client confirmed.
// Acks never move backwards.
func (r *Registry) Ack(connectionID string, seq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[connectionID]; ok && seq > rec.AckedSeq {
		rec.AckedSeq = seq
		rec.LastSeenAt = r.now()
	}
}

// DropSession forgets every record of a session once it is archived.
func (r *Registry) DropSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.byID {
		if rec.SessionID == sessionID {
			delete(r.byID, id)
		}
	}
	for key, rec := range r.current {
		if rec.SessionID == sessionID {
			delete(r.current, key)
		}
	}
}

func pairKey(sessionID, playerID string) string {
	return strings.TrimSpace(sessionID) + "|" + strings.TrimSpace(playerID)
}
