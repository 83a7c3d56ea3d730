package wizard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStore keeps wizards by session id and drops idle ones.
type SessionStore struct {
	sessions map[string]*Wizard
	mu       sync.RWMutex
	timeout  time.Duration
	slots    SlotLister
	booker   Booker
}

// NewSessionStore creates a new session store.
func NewSessionStore(timeout time.Duration, lister SlotLister, booker Booker) *SessionStore {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[string]*Wizard),
		timeout:  timeout,
		slots:    lister,
		booker:   booker,
	}
}

// Create starts a new wizard for providerID under a fresh id.
func (ss *SessionStore) Create(providerID string) *Wizard {
	w := New(uuid.NewString(), providerID, ss.slots, ss.booker)

	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.sessions[w.ID()] = w
	return w
}

// Get returns a live session.
func (ss *SessionStore) Get(id string) (*Wizard, bool) {
	ss.mu.RLock()
	w, ok := ss.sessions[id]
	ss.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if w.IsExpired(ss.timeout) {
		ss.Delete(id)
		return nil, false
	}
	return w, true
}

// Delete removes a session.
func (ss *SessionStore) Delete(id string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, id)
}

// Len returns the number of stored sessions, expired or not.
func (ss *SessionStore) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// Cleanup removes expired sessions. The write lock is taken only for the deletes.
func (ss *SessionStore) Cleanup() int {
	ss.mu.RLock()
	var expired []string
	for id, w := range ss.sessions {
		if w.IsExpired(ss.timeout) {
			expired = append(expired, id)
		}
	}
	ss.mu.RUnlock()
	if len(expired) == 0 {
		return 0
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	removed := 0
	for _, id := range expired {
		// Re-check: the session may have been used since the scan.
		if w, ok := ss.sessions[id]; ok && w.IsExpired(ss.timeout) {
			delete(ss.sessions, id)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is done.
func (ss *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ss.Cleanup()
		}
	}
}
