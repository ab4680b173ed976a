package services

import "sync"

// SessionLocks hands out one mutex per session ID so turns within a session
// are serialized: at most one automated turn may be reading and writing
// current_price and the ledger at a time. Sessions are independent, so there
// is no cross-session locking.
//
// Entries are created on demand and never evicted; the map is bounded by the
// number of sessions a single process touches, and a mutex is 8 bytes.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSessionLocks returns an empty lock registry.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for a session, creating it if absent.
func (s *SessionLocks) Get(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[sessionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[sessionID] = l
	return l
}
