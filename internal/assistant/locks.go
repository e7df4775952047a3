package assistant

import "sync"

// clientLocks serializes client lifecycle changes against the operations
// that read or write a client's index. Entries are never removed, so a lock
// outlives a delete and guards the re-created client too.
type clientLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func (l *clientLocks) get(clientID string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.RWMutex)
	}
	m, ok := l.locks[clientID]
	if !ok {
		m = &sync.RWMutex{}
		l.locks[clientID] = m
	}
	return m
}

// shared locks clientID for an index operation and returns the unlock func.
func (l *clientLocks) shared(clientID string) func() {
	m := l.get(clientID)
	m.RLock()
	return m.RUnlock
}

// exclusive locks clientID for a lifecycle change and returns the unlock func.
func (l *clientLocks) exclusive(clientID string) func() {
	m := l.get(clientID)
	m.Lock()
	return m.Unlock
}
