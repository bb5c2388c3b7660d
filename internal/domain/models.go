package domain

// SessionStatus is the lifecycle state of a live session. Transitions are
// one-directional: waiting -> in_progress -> finished.
type SessionStatus string

const (
	StatusWaiting    SessionStatus = "waiting"
	StatusInProgress SessionStatus = "in_progress"
	StatusFinished   SessionStatus = "finished"
)

const (
	// MaxBonuses caps how many score bonuses one account may consume per session.
	MaxBonuses = 3
	// BasePoints is awarded for a correct answer; an armed bonus doubles it.
	BasePoints = 10
)

// Account holds the durable identity of a registered user. Credential
// issuance happens outside this service; the hash is stored, never checked here.
type Account struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	DisplayPref  string `json:"displayPref,omitempty"`
}

// Question is one prompt in a quiz. Options may be empty, in which case the
// client submits free text. Answer is the single correct value.
type Question struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
	Answer  string   `json:"answer"`
}

// Quiz is an ordered collection of questions owned by one account.
type Quiz struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"ownerId"`
	Category   string     `json:"category,omitempty"`
	Difficulty string     `json:"difficulty,omitempty"`
	Questions  []Question `json:"questions"`
}

// Session is one live playthrough of a quiz. The host (creator) is the sole
// authority over game progression. CurrentQuestion is 0-based and never
// decreases while the session is in progress.
type Session struct {
	ID              string        `json:"id"`
	QuizID          string        `json:"quizId"`
	HostID          string        `json:"hostId"`
	Status          SessionStatus `json:"status"`
	CurrentQuestion int           `json:"currentQuestion"`
}

// ScoreRow is the accumulated score for one account in one session.
type ScoreRow struct {
	Score   int `json:"score"`
	Correct int `json:"correct"`
}

// BonusState tracks bonus usage for one account in one session. An armed
// bonus doubles the next correct answer and is consumed by it.
type BonusState struct {
	Consumed int  `json:"consumed"`
	Armed    bool `json:"armed"`
}

// QuestionView is a question with its answer stripped, safe to send to clients.
type QuestionView struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// View returns the client-safe projection of q.
func (q Question) View() QuestionView {
	return QuestionView{Prompt: q.Prompt, Options: q.Options}
}
