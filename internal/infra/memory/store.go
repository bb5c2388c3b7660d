package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

type memberKey struct {
	sessionID string
	accountID string
}

// ActionEntry is one audit-trail row.
type ActionEntry struct {
	ID        string
	AccountID string
	Action    string
	At        time.Time
}

type storeData struct {
	sessions map[string]domain.Session
	members  map[string]map[string]struct{}
	scores   map[memberKey]domain.ScoreRow
	bonuses  map[memberKey]domain.BonusState
	actions  []ActionEntry
}

func newStoreData() *storeData {
	return &storeData{
		sessions: make(map[string]domain.Session),
		members:  make(map[string]map[string]struct{}),
		scores:   make(map[memberKey]domain.ScoreRow),
		bonuses:  make(map[memberKey]domain.BonusState),
	}
}

func (d *storeData) clone() *storeData {
	out := newStoreData()
	for id, s := range d.sessions {
		out.sessions[id] = s
	}
	for id, set := range d.members {
		copied := make(map[string]struct{}, len(set))
		for m := range set {
			copied[m] = struct{}{}
		}
		out.members[id] = copied
	}
	for k, v := range d.scores {
		out.scores[k] = v
	}
	for k, v := range d.bonuses {
		out.bonuses[k] = v
	}
	out.actions = append(out.actions, d.actions...)
	return out
}

// Store is an in-memory implementation of app.Store, used for tests and for
// running the server without Postgres. RunInTx stages writes on a clone and
// swaps it in on success, so transactional batches are all-or-nothing.
type Store struct {
	mu   sync.Mutex
	data *storeData
}

var _ app.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{data: newStoreData()}
}

// SeedSession inserts or replaces a session record (demo/test setup).
func (s *Store) SeedSession(sess domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.sessions[sess.ID] = sess
}

func (s *Store) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.data.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Store) UpsertRosterMember(_ context.Context, sessionID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.members[sessionID] == nil {
		s.data.members[sessionID] = make(map[string]struct{})
	}
	s.data.members[sessionID][accountID] = struct{}{}
	return nil
}

func (s *Store) RemoveRosterMember(_ context.Context, sessionID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.members[sessionID], accountID)
	return nil
}

func (s *Store) ListRosterMembers(_ context.Context, sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]string, 0, len(s.data.members[sessionID]))
	for id := range s.data.members[sessionID] {
		members = append(members, id)
	}
	return members, nil
}

func (s *Store) GetScore(_ context.Context, sessionID, accountID string) (domain.ScoreRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.data.scores[memberKey{sessionID, accountID}]
	return row, ok, nil
}

func (s *Store) UpsertScore(_ context.Context, sessionID, accountID string, row domain.ScoreRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.scores[memberKey{sessionID, accountID}] = row
	return nil
}

func (s *Store) GetBonusState(_ context.Context, sessionID, accountID string) (domain.BonusState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.data.bonuses[memberKey{sessionID, accountID}]
	return st, ok, nil
}

func (s *Store) UpsertBonusState(_ context.Context, sessionID, accountID string, st domain.BonusState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.bonuses[memberKey{sessionID, accountID}] = st
	return nil
}

func (s *Store) SetSessionStatus(_ context.Context, id string, status domain.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.data.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.Status = status
	s.data.sessions[id] = sess
	return nil
}

func (s *Store) SetCurrentQuestion(_ context.Context, id string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.data.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.CurrentQuestion = index
	s.data.sessions[id] = sess
	return nil
}

// RunInTx runs fn against a staged clone; the clone replaces the live data
// only when fn succeeds. The store lock is held for the whole transaction so
// writes from other sessions cannot land inside the stage window and be lost
// by the commit swap.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &Store{data: s.data.clone()}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	s.data = staged.data
	return nil
}

func (s *Store) AppendActionLog(_ context.Context, accountID, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.actions = append(s.data.actions, ActionEntry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Action:    action,
		At:        time.Now(),
	})
	return nil
}

// Actions returns a copy of the audit trail (test helper).
func (s *Store) Actions() []ActionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActionEntry, len(s.data.actions))
	copy(out, s.data.actions)
	return out
}
