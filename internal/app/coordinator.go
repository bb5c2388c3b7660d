package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/room"
)

// Store is the durable backing store consumed by the coordinator. The
// in-memory copy is authoritative while this process is alive; the store is
// the source of truth across restarts and rejoins.
type Store interface {
	GetSession(ctx context.Context, id string) (domain.Session, error)
	UpsertRosterMember(ctx context.Context, sessionID, accountID string) error
	RemoveRosterMember(ctx context.Context, sessionID, accountID string) error
	ListRosterMembers(ctx context.Context, sessionID string) ([]string, error)
	GetScore(ctx context.Context, sessionID, accountID string) (domain.ScoreRow, bool, error)
	UpsertScore(ctx context.Context, sessionID, accountID string, row domain.ScoreRow) error
	GetBonusState(ctx context.Context, sessionID, accountID string) (domain.BonusState, bool, error)
	UpsertBonusState(ctx context.Context, sessionID, accountID string, st domain.BonusState) error
	SetSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error
	SetCurrentQuestion(ctx context.Context, id string, index int) error
	// RunInTx executes fn against a transactional view of the store;
	// everything fn writes commits atomically or not at all.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	// AppendActionLog is a best-effort audit trail write.
	AppendActionLog(ctx context.Context, accountID, action string) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Coordinator is the single authority over live session state. It validates
// every game-progression intent, applies it to the state table, writes
// through to the durable store, and publishes the resulting events on the
// session's room channel. Every intent for one session runs under that
// session's lock from validation through broadcast, so intents apply
// strictly in arrival order; sessions never block each other.
type Coordinator struct {
	store   Store
	quizzes QuizRepository
	rooms   *room.Channel
	log     zerolog.Logger
	table   *stateTable
}

func NewCoordinator(store Store, quizzes QuizRepository, rooms *room.Channel, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		quizzes: quizzes,
		rooms:   rooms,
		log:     log.With().Str("component", "coordinator").Logger(),
		table:   newStateTable(),
	}
}

// JoinResult is returned to the joining connection. Resume is non-nil when
// the session was already in progress.
type JoinResult struct {
	Session domain.Session
	Resume  *domain.ResumePayload
}

// lockSession acquires the session's serialization point and loads the
// durable session row under it, so an intent is validated against the same
// state it is applied to. On success the caller owns st.mu. Live state
// created for a session that turns out to be gone or finished is discarded.
func (c *Coordinator) lockSession(ctx context.Context, sessionID string) (*liveState, domain.Session, error) {
	st, created := c.table.getOrCreate(sessionID)
	st.mu.Lock()
	if created {
		c.rehydrateRosterLocked(ctx, st, sessionID)
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		if created {
			c.table.drop(sessionID)
		}
		st.mu.Unlock()
		return nil, domain.Session{}, err
	}
	if created && sess.Status == domain.StatusFinished {
		// Finished sessions keep no live state; every operation on one
		// is rejected below anyway.
		c.table.drop(sessionID)
	}
	return st, sess, nil
}

// lockHostSession is lockSession plus host authority.
func (c *Coordinator) lockHostSession(ctx context.Context, sessionID, accountID string) (*liveState, domain.Session, error) {
	st, sess, err := c.lockSession(ctx, sessionID)
	if err != nil {
		return nil, domain.Session{}, err
	}
	if sess.HostID != accountID {
		st.mu.Unlock()
		return nil, domain.Session{}, domain.ErrUnauthorized
	}
	return st, sess, nil
}

// rehydrateRosterLocked mirrors the durable roster into freshly created live
// state (first touch after a restart). Callers hold st.mu.
func (c *Coordinator) rehydrateRosterLocked(ctx context.Context, st *liveState, sessionID string) {
	members, err := c.store.ListRosterMembers(ctx, sessionID)
	if err != nil {
		c.log.Warn().Err(err).Str("session", sessionID).Msg("roster rehydrate failed")
		return
	}
	for _, id := range members {
		st.roster[id] = struct{}{}
	}
}

// Join adds an account to a session's roster. Rejoining is idempotent: the
// roster entry is not duplicated and recorded responses survive. Joining an
// in-progress session rehydrates the account's persisted score and bonus
// state and returns a resume payload.
func (c *Coordinator) Join(ctx context.Context, sessionID, accountID string) (JoinResult, error) {
	st, sess, err := c.lockSession(ctx, sessionID)
	if err != nil {
		return JoinResult{}, err
	}
	defer st.mu.Unlock()
	if sess.Status == domain.StatusFinished {
		return JoinResult{}, domain.ErrInvalidState
	}

	if _, member := st.roster[accountID]; !member {
		if err := c.store.UpsertRosterMember(ctx, sessionID, accountID); err != nil {
			return JoinResult{}, fmt.Errorf("roster write-through: %w", err)
		}
		st.roster[accountID] = struct{}{}
	}

	result := JoinResult{Session: sess}
	if sess.Status == domain.StatusInProgress {
		resume, err := c.resumeLocked(ctx, sess, st, accountID)
		if err != nil {
			return JoinResult{}, err
		}
		result.Resume = resume
	} else {
		c.hydrateRowsLocked(ctx, st, sessionID, accountID)
	}

	c.audit(ctx, accountID, "join")
	c.rooms.Publish(sessionID, domain.RosterEvent(sessionID, st.rosterLocked()))
	return result, nil
}

// resumeLocked builds the resume payload for a mid-game join, pulling
// persisted score/bonus rows into memory when they are not already there.
func (c *Coordinator) resumeLocked(ctx context.Context, sess domain.Session, st *liveState, accountID string) (*domain.ResumePayload, error) {
	quiz, err := c.quizzes.GetQuiz(ctx, sess.QuizID)
	if err != nil {
		return nil, err
	}

	restored := c.hydrateRowsLocked(ctx, st, sess.ID, accountID)

	var question domain.QuestionView
	if sess.CurrentQuestion >= 0 && sess.CurrentQuestion < len(quiz.Questions) {
		question = quiz.Questions[sess.CurrentQuestion].View()
	}
	return &domain.ResumePayload{
		SessionID: sess.ID,
		Index:     sess.CurrentQuestion,
		Total:     len(quiz.Questions),
		Question:  question,
		Score:     st.scores[accountID],
		Restored:  restored,
	}, nil
}

// hydrateRowsLocked ensures score and bonus rows exist in memory for the
// account, loading persisted rows if present. Reports whether a persisted or
// pre-existing score row was found. Store read failures degrade to fresh
// zero rows; the durable copy still wins on the next restart.
func (c *Coordinator) hydrateRowsLocked(ctx context.Context, st *liveState, sessionID, accountID string) bool {
	restored := false
	if _, ok := st.scores[accountID]; ok {
		restored = true
	} else {
		row, found, err := c.store.GetScore(ctx, sessionID, accountID)
		if err != nil {
			c.log.Warn().Err(err).Str("session", sessionID).Str("account", accountID).Msg("score rehydrate failed")
		} else if found {
			st.scores[accountID] = row
			restored = true
		} else {
			st.scores[accountID] = domain.ScoreRow{}
		}
	}
	if _, ok := st.bonuses[accountID]; !ok {
		bonus, found, err := c.store.GetBonusState(ctx, sessionID, accountID)
		if err != nil {
			c.log.Warn().Err(err).Str("session", sessionID).Str("account", accountID).Msg("bonus rehydrate failed")
		} else if found {
			st.bonuses[accountID] = bonus
		} else {
			st.bonuses[accountID] = domain.BonusState{}
		}
	}
	return restored
}

// Leave removes an account from the roster. Leaving a session one is not a
// member of is a no-op without error.
func (c *Coordinator) Leave(ctx context.Context, sessionID, accountID string) error {
	st, _, err := c.lockSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			// No durable session; clear any stale membership row quietly.
			if rmErr := c.store.RemoveRosterMember(ctx, sessionID, accountID); rmErr != nil {
				c.log.Warn().Err(rmErr).Str("session", sessionID).Str("account", accountID).Msg("stale roster removal failed")
			}
			return nil
		}
		return err
	}
	defer st.mu.Unlock()

	if _, member := st.roster[accountID]; !member {
		return nil
	}
	if err := c.store.RemoveRosterMember(ctx, sessionID, accountID); err != nil {
		return fmt.Errorf("roster write-through: %w", err)
	}
	delete(st.roster, accountID)

	c.audit(ctx, accountID, "leave")
	c.rooms.Publish(sessionID, domain.RosterEvent(sessionID, st.rosterLocked()))
	return nil
}

// Start transitions a waiting session to in_progress. Host-only. Question
// content is not revealed here.
func (c *Coordinator) Start(ctx context.Context, sessionID, accountID string) error {
	st, sess, err := c.lockHostSession(ctx, sessionID, accountID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()
	if sess.Status != domain.StatusWaiting {
		return domain.ErrInvalidState
	}

	quiz, err := c.quizzes.GetQuiz(ctx, sess.QuizID)
	if err != nil {
		return err
	}

	if err := c.store.SetSessionStatus(ctx, sessionID, domain.StatusInProgress); err != nil {
		return fmt.Errorf("status write-through: %w", err)
	}

	c.audit(ctx, accountID, "start")
	c.rooms.Publish(sessionID, domain.QuizStartedEvent(sessionID, len(quiz.Questions)))
	return nil
}

// StartQuestion marks the current question live by resetting its response
// set to a fresh empty set. Host-only.
func (c *Coordinator) StartQuestion(ctx context.Context, sessionID, accountID string) error {
	st, sess, err := c.lockHostSession(ctx, sessionID, accountID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()
	if sess.Status != domain.StatusInProgress {
		return domain.ErrInvalidState
	}

	st.responded = make(map[string]struct{})

	c.audit(ctx, accountID, "start_question")
	c.rooms.Publish(sessionID, domain.QuestionStartedEvent(sessionID, sess.CurrentQuestion))
	return nil
}

// SubmitAnswer records an answer for the current question. The whole intent,
// validation included, runs under the session lock, so a submit racing a
// question advance applies to whichever question is live when its turn at
// the lock comes. Lookup and bounds failures are logged and swallowed: a
// stray submission must never crash the session. Presence in the response
// set is recorded regardless of correctness; score is only ever incremented
// once per live question per account. An armed bonus doubles the award and
// is consumed with the score inside one transaction.
func (c *Coordinator) SubmitAnswer(ctx context.Context, sessionID, accountID, answer string) {
	log := c.log.With().Str("session", sessionID).Str("account", accountID).Logger()

	st, sess, err := c.lockSession(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("answer dropped: session lookup failed")
		return
	}
	defer st.mu.Unlock()

	if sess.Status != domain.StatusInProgress {
		log.Warn().Str("status", string(sess.Status)).Msg("answer dropped: session not in progress")
		return
	}
	quiz, err := c.quizzes.GetQuiz(ctx, sess.QuizID)
	if err != nil {
		log.Warn().Err(err).Msg("answer dropped: quiz lookup failed")
		return
	}
	idx := sess.CurrentQuestion
	if idx < 0 || idx >= len(quiz.Questions) {
		log.Warn().Int("question", idx).Msg("answer dropped: question index out of bounds")
		return
	}
	question := quiz.Questions[idx]
	if question.Answer == "" {
		log.Warn().Int("question", idx).Msg("answer dropped: question has no correct answer")
		return
	}

	alreadyAnswered := false
	if _, ok := st.responded[accountID]; ok {
		alreadyAnswered = true
	}
	st.responded[accountID] = struct{}{}

	if !alreadyAnswered && answer == question.Answer {
		if err := c.scoreLocked(ctx, st, sessionID, accountID); err != nil {
			log.Error().Err(err).Msg("score write-through failed")
			delete(st.responded, accountID) // allow a retry to score
			return
		}
	}

	c.audit(ctx, accountID, "submit_answer")
	c.rooms.Publish(sessionID, domain.ScoreEvent(sessionID, st.scoreSnapshotLocked()))

	if !alreadyAnswered && st.allRespondedLocked() {
		c.rooms.Publish(sessionID, domain.AllRespondedEvent(sessionID, idx))
	}
}

// scoreLocked awards points for a correct first answer, consuming an armed
// bonus. The durable writes land before the in-memory rows change, so a
// store failure leaves memory untouched.
func (c *Coordinator) scoreLocked(ctx context.Context, st *liveState, sessionID, accountID string) error {
	points := domain.BasePoints
	bonus := st.bonuses[accountID]
	consumeBonus := bonus.Armed
	if consumeBonus {
		points *= 2
		bonus.Armed = false
		bonus.Consumed++
	}

	row := st.scores[accountID]
	row.Score += points
	row.Correct++

	if consumeBonus {
		err := c.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
			if err := tx.UpsertScore(ctx, sessionID, accountID, row); err != nil {
				return err
			}
			return tx.UpsertBonusState(ctx, sessionID, accountID, bonus)
		})
		if err != nil {
			return err
		}
		st.bonuses[accountID] = bonus
	} else if err := c.store.UpsertScore(ctx, sessionID, accountID, row); err != nil {
		return err
	}

	st.scores[accountID] = row
	return nil
}

// NextQuestion advances the current question index. Host-only. Advancing
// past the last question is an ordinary rejection, not a failure, and
// nothing is broadcast.
func (c *Coordinator) NextQuestion(ctx context.Context, sessionID, accountID string) error {
	st, sess, err := c.lockHostSession(ctx, sessionID, accountID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()
	if sess.Status != domain.StatusInProgress {
		return domain.ErrInvalidState
	}
	quiz, err := c.quizzes.GetQuiz(ctx, sess.QuizID)
	if err != nil {
		return err
	}

	next := sess.CurrentQuestion + 1
	if next >= len(quiz.Questions) {
		return domain.ErrNoMoreQuestions
	}

	if err := c.store.SetCurrentQuestion(ctx, sessionID, next); err != nil {
		return fmt.Errorf("question index write-through: %w", err)
	}

	c.audit(ctx, accountID, "next_question")
	c.rooms.Publish(sessionID, domain.QuestionAdvancedEvent(sessionID, next, len(quiz.Questions), quiz.Questions[next].View()))
	return nil
}

// EndQuiz finishes a session: the status change and a full flush of every
// in-memory score commit in one transaction, final scores are broadcast, and
// the volatile state is dropped. The durable store keeps the results.
func (c *Coordinator) EndQuiz(ctx context.Context, sessionID, accountID string) error {
	st, sess, err := c.lockHostSession(ctx, sessionID, accountID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()
	if sess.Status != domain.StatusInProgress {
		return domain.ErrInvalidState
	}

	final := st.scoreSnapshotLocked()
	err = c.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.SetSessionStatus(ctx, sessionID, domain.StatusFinished); err != nil {
			return err
		}
		for id, row := range final {
			if err := tx.UpsertScore(ctx, sessionID, id, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	c.audit(ctx, accountID, "end_quiz")
	c.rooms.Publish(sessionID, domain.QuizEndedEvent(sessionID, final))
	c.table.drop(sessionID)
	return nil
}

// ActivateBonus arms a score bonus for the requesting account. Rejected when
// already armed or when the per-session limit is spent. The remaining count
// is reported to the requester only.
func (c *Coordinator) ActivateBonus(ctx context.Context, sessionID, accountID string) (domain.BonusStatusPayload, error) {
	st, sess, err := c.lockSession(ctx, sessionID)
	if err != nil {
		return domain.BonusStatusPayload{}, err
	}
	defer st.mu.Unlock()
	if sess.Status == domain.StatusFinished {
		return domain.BonusStatusPayload{}, domain.ErrInvalidState
	}

	bonus := st.bonuses[accountID]
	if bonus.Armed {
		return domain.BonusStatusPayload{}, domain.ErrBonusArmed
	}
	if bonus.Consumed >= domain.MaxBonuses {
		return domain.BonusStatusPayload{}, domain.ErrBonusExhausted
	}

	bonus.Armed = true
	if err := c.store.UpsertBonusState(ctx, sessionID, accountID, bonus); err != nil {
		return domain.BonusStatusPayload{}, fmt.Errorf("bonus write-through: %w", err)
	}
	st.bonuses[accountID] = bonus

	c.audit(ctx, accountID, "activate_bonus")
	return domain.BonusStatusPayload{
		SessionID: sessionID,
		Remaining: domain.MaxBonuses - bonus.Consumed,
		Armed:     true,
	}, nil
}

// FlushScores writes every in-memory score row through to the durable store.
// Rows are written while holding the session lock so a sweep cannot clobber
// a newer write-through with a stale snapshot. Row failures are logged and
// skipped; one bad row never aborts the sweep.
func (c *Coordinator) FlushScores(ctx context.Context) {
	for _, sessionID := range c.table.ids() {
		st, ok := c.table.get(sessionID)
		if !ok {
			continue
		}
		st.mu.Lock()
		for accountID, row := range st.scores {
			if err := c.store.UpsertScore(ctx, sessionID, accountID, row); err != nil {
				c.log.Error().Err(err).Str("session", sessionID).Str("account", accountID).Msg("score flush failed")
			}
		}
		st.mu.Unlock()
	}
}

// audit appends to the action log; failures are logged, never propagated.
func (c *Coordinator) audit(ctx context.Context, accountID, action string) {
	if err := c.store.AppendActionLog(ctx, accountID, action); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug().Err(err).Str("account", accountID).Str("action", action).Msg("action log write failed")
	}
}
