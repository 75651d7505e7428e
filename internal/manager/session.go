package manager

import (
	"sync"
	"time"

	"github.com/campusgrid/campusgrid/internal/types"
	"github.com/campusgrid/campusgrid/internal/wire"
)

// sessionState is the manager's live, in-memory view of one connected
// worker. It is a soft cache over the durable worker row: online/busy only
// ever reflect a socket that is actually open right now.
type sessionState struct {
	workerID      string
	specs         types.Specs
	lastHeartbeat time.Time
	busy          bool
	currentJobID  string
	conn          *wire.Conn
}

// sessionTable is the RWMutex-protected map of live sessions, keyed
// by worker ID. Only manager code mutates it.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*sessionState)}
}

func (t *sessionTable) put(s *sessionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.workerID] = s
}

func (t *sessionTable) get(workerID string) (*sessionState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[workerID]
	return s, ok
}

func (t *sessionTable) remove(workerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, workerID)
}

func (t *sessionTable) touchHeartbeat(workerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[workerID]; ok {
		s.lastHeartbeat = time.Now()
	}
}

func (t *sessionTable) setBusy(workerID, jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[workerID]; ok {
		s.busy = true
		s.currentJobID = jobID
	}
}

func (t *sessionTable) setIdle(workerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[workerID]; ok {
		s.busy = false
		s.currentJobID = ""
	}
}

// staleWorkers returns the IDs of sessions whose last heartbeat is older
// than timeout. Their in-flight job IDs are looked up separately via jobFor.
func (t *sessionTable) staleWorkers(timeout time.Duration) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cutoff := time.Now().Add(-timeout)
	var stale []string
	for id, s := range t.sessions {
		if s.lastHeartbeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

func (t *sessionTable) jobFor(workerID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[workerID]
	if !ok || !s.busy {
		return "", false
	}
	return s.currentJobID, true
}

// closeConn closes the live socket backing workerID's session, if any. Used
// by the health monitor to force a silently-dead connection's blocked read
// to return immediately instead of waiting out the read deadline.
func (t *sessionTable) closeConn(workerID string) {
	t.mu.RLock()
	s, ok := t.sessions[workerID]
	t.mu.RUnlock()
	if ok && s.conn != nil {
		s.conn.Close()
	}
}
