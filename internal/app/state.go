package app

import (
	"sort"
	"sync"

	"quizroom-service/internal/domain"
)

// liveState is the volatile game state for one session: live scores, the
// response set for the current question, bonus state, and a roster mirror.
// The embedded mutex is the session's serialization point: it is held for
// the whole of every coordinator operation, including durable write-throughs,
// so intents for one session apply strictly in arrival order. Sessions never
// share a lock.
type liveState struct {
	mu        sync.Mutex
	roster    map[string]struct{}
	scores    map[string]domain.ScoreRow
	bonuses   map[string]domain.BonusState
	responded map[string]struct{}
}

func newLiveState() *liveState {
	return &liveState{
		roster:    make(map[string]struct{}),
		scores:    make(map[string]domain.ScoreRow),
		bonuses:   make(map[string]domain.BonusState),
		responded: make(map[string]struct{}),
	}
}

// scoreSnapshotLocked copies the score map for broadcasting. Callers hold mu.
func (st *liveState) scoreSnapshotLocked() map[string]domain.ScoreRow {
	out := make(map[string]domain.ScoreRow, len(st.scores))
	for id, row := range st.scores {
		out[id] = row
	}
	return out
}

// rosterLocked returns the member list, sorted for stable broadcasts.
// Callers hold mu.
func (st *liveState) rosterLocked() []string {
	members := make([]string, 0, len(st.roster))
	for id := range st.roster {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// allRespondedLocked reports whether every rostered account has answered the
// current question. An empty roster never counts as complete.
func (st *liveState) allRespondedLocked() bool {
	if len(st.roster) == 0 {
		return false
	}
	for id := range st.roster {
		if _, ok := st.responded[id]; !ok {
			return false
		}
	}
	return true
}

// stateTable maps session IDs to their live state. It is the single
// ownership boundary for volatile session state; nothing outside the
// coordinator mutates the contained maps.
type stateTable struct {
	mu       sync.RWMutex
	sessions map[string]*liveState
}

func newStateTable() *stateTable {
	return &stateTable{sessions: make(map[string]*liveState)}
}

func (t *stateTable) getOrCreate(sessionID string) (*liveState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.sessions[sessionID]; ok {
		return st, false
	}
	st := newLiveState()
	t.sessions[sessionID] = st
	return st, true
}

func (t *stateTable) get(sessionID string) (*liveState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.sessions[sessionID]
	return st, ok
}

func (t *stateTable) drop(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

func (t *stateTable) ids() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	return ids
}
