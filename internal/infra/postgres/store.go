package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID              string `bun:"id,pk"`
	QuizID          string `bun:"quiz_id"`
	HostID          string `bun:"host_id"`
	Status          string `bun:"status"`
	CurrentQuestion int    `bun:"current_question"`
}

type memberRow struct {
	bun.BaseModel `bun:"table:session_members,alias:m"`

	SessionID string `bun:"session_id,pk"`
	AccountID string `bun:"account_id,pk"`
}

type scoreRow struct {
	bun.BaseModel `bun:"table:scores,alias:sc"`

	SessionID string `bun:"session_id,pk"`
	AccountID string `bun:"account_id,pk"`
	Score     int    `bun:"score"`
	Correct   int    `bun:"correct"`
}

type bonusRow struct {
	bun.BaseModel `bun:"table:bonus_states,alias:b"`

	SessionID string `bun:"session_id,pk"`
	AccountID string `bun:"account_id,pk"`
	Consumed  int    `bun:"consumed"`
	Armed     bool   `bun:"armed"`
}

type actionRow struct {
	bun.BaseModel `bun:"table:action_log,alias:a"`

	ID        string    `bun:"id,pk"`
	AccountID string    `bun:"account_id"`
	Action    string    `bun:"action"`
	CreatedAt time.Time `bun:"created_at"`
}

// Store is the Postgres implementation of app.Store, backed by bun. The same
// type serves both the root connection and transactional views: RunInTx hands
// fn a Store bound to the open bun.Tx.
type Store struct {
	db   bun.IDB
	root *bun.DB // nil inside a transaction
}

var _ app.Store = (*Store)(nil)

func NewStore(db *bun.DB) *Store {
	return &Store{db: db, root: db}
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("s.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("select session: %w", err)
	}
	return domain.Session{
		ID:              row.ID,
		QuizID:          row.QuizID,
		HostID:          row.HostID,
		Status:          domain.SessionStatus(row.Status),
		CurrentQuestion: row.CurrentQuestion,
	}, nil
}

func (s *Store) UpsertRosterMember(ctx context.Context, sessionID, accountID string) error {
	_, err := s.db.NewInsert().
		Model(&memberRow{SessionID: sessionID, AccountID: accountID}).
		On("CONFLICT (session_id, account_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert roster member: %w", err)
	}
	return nil
}

func (s *Store) RemoveRosterMember(ctx context.Context, sessionID, accountID string) error {
	_, err := s.db.NewDelete().
		Model((*memberRow)(nil)).
		Where("session_id = ?", sessionID).
		Where("account_id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("remove roster member: %w", err)
	}
	return nil
}

func (s *Store) ListRosterMembers(ctx context.Context, sessionID string) ([]string, error) {
	var rows []memberRow
	err := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roster members: %w", err)
	}
	members := make([]string, 0, len(rows))
	for _, r := range rows {
		members = append(members, r.AccountID)
	}
	return members, nil
}

func (s *Store) GetScore(ctx context.Context, sessionID, accountID string) (domain.ScoreRow, bool, error) {
	var row scoreRow
	err := s.db.NewSelect().Model(&row).
		Where("session_id = ?", sessionID).
		Where("account_id = ?", accountID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScoreRow{}, false, nil
	}
	if err != nil {
		return domain.ScoreRow{}, false, fmt.Errorf("select score: %w", err)
	}
	return domain.ScoreRow{Score: row.Score, Correct: row.Correct}, true, nil
}

func (s *Store) UpsertScore(ctx context.Context, sessionID, accountID string, row domain.ScoreRow) error {
	_, err := s.db.NewInsert().
		Model(&scoreRow{SessionID: sessionID, AccountID: accountID, Score: row.Score, Correct: row.Correct}).
		On("CONFLICT (session_id, account_id) DO UPDATE").
		Set("score = EXCLUDED.score").
		Set("correct = EXCLUDED.correct").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

func (s *Store) GetBonusState(ctx context.Context, sessionID, accountID string) (domain.BonusState, bool, error) {
	var row bonusRow
	err := s.db.NewSelect().Model(&row).
		Where("session_id = ?", sessionID).
		Where("account_id = ?", accountID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BonusState{}, false, nil
	}
	if err != nil {
		return domain.BonusState{}, false, fmt.Errorf("select bonus state: %w", err)
	}
	return domain.BonusState{Consumed: row.Consumed, Armed: row.Armed}, true, nil
}

func (s *Store) UpsertBonusState(ctx context.Context, sessionID, accountID string, st domain.BonusState) error {
	_, err := s.db.NewInsert().
		Model(&bonusRow{SessionID: sessionID, AccountID: accountID, Consumed: st.Consumed, Armed: st.Armed}).
		On("CONFLICT (session_id, account_id) DO UPDATE").
		Set("consumed = EXCLUDED.consumed").
		Set("armed = EXCLUDED.armed").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert bonus state: %w", err)
	}
	return nil
}

func (s *Store) SetSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	res, err := s.db.NewUpdate().
		Model((*sessionRow)(nil)).
		Set("status = ?", string(status)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) SetCurrentQuestion(ctx context.Context, id string, index int) error {
	res, err := s.db.NewUpdate().
		Model((*sessionRow)(nil)).
		Set("current_question = ?", index).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set current question: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Store) error) error {
	if s.root == nil {
		// Already inside a transaction; run against the same view.
		return fn(ctx, s)
	}
	return s.root.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Store{db: tx})
	})
}

func (s *Store) AppendActionLog(ctx context.Context, accountID, action string) error {
	_, err := s.db.NewInsert().
		Model(&actionRow{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Action:    action,
			CreatedAt: time.Now().UTC(),
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("append action log: %w", err)
	}
	return nil
}
