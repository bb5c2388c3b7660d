package domain

// EventType tags every message published to a room or sent back to a
// requesting connection. The set is closed; transports switch on it.
type EventType string

const (
	EventRoster           EventType = "roster"
	EventQuizStarted      EventType = "quiz_started"
	EventQuestionStarted  EventType = "question_started"
	EventScore            EventType = "score"
	EventQuestionAdvanced EventType = "question_advanced"
	EventAllResponded     EventType = "all_responded"
	EventQuizEnded        EventType = "quiz_ended"

	// Requester-only event types, never published to a room.
	EventJoined      EventType = "joined"
	EventResumed     EventType = "resumed"
	EventBonusStatus EventType = "bonus_status"
	EventError       EventType = "error"
)

// Event is the wire envelope for room broadcasts and requester replies.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// RosterPayload lists the accounts currently joined to a session.
type RosterPayload struct {
	SessionID string   `json:"sessionId"`
	Members   []string `json:"members"`
}

// QuestionStartedPayload announces that a question is live. It deliberately
// carries no question content; clients already hold it from resume/advance.
type QuestionStartedPayload struct {
	SessionID string `json:"sessionId"`
	Index     int    `json:"index"`
}

// ScorePayload is a full score snapshot for a session, keyed by account.
type ScorePayload struct {
	SessionID string              `json:"sessionId"`
	Scores    map[string]ScoreRow `json:"scores"`
}

// QuestionAdvancedPayload announces the new current question index.
type QuestionAdvancedPayload struct {
	SessionID string       `json:"sessionId"`
	Index     int          `json:"index"`
	Total     int          `json:"total"`
	Question  QuestionView `json:"question"`
}

// QuizStartedPayload signals the waiting -> in_progress transition. Question
// content is revealed only by later question events.
type QuizStartedPayload struct {
	SessionID string `json:"sessionId"`
	Total     int    `json:"total"`
}

// ResumePayload restores a rejoining client to the live game position.
type ResumePayload struct {
	SessionID string       `json:"sessionId"`
	Index     int          `json:"index"`
	Total     int          `json:"total"`
	Question  QuestionView `json:"question"`
	Score     ScoreRow     `json:"score"`
	Restored  bool         `json:"restored"`
}

// BonusStatusPayload reports remaining bonuses to the requesting account only.
type BonusStatusPayload struct {
	SessionID string `json:"sessionId"`
	Remaining int    `json:"remaining"`
	Armed     bool   `json:"armed"`
}

// ErrorPayload carries a requester-directed failure message.
type ErrorPayload struct {
	Message string `json:"message"`
}

func RosterEvent(sessionID string, members []string) Event {
	return Event{Type: EventRoster, Payload: RosterPayload{SessionID: sessionID, Members: members}}
}

func QuizStartedEvent(sessionID string, total int) Event {
	return Event{Type: EventQuizStarted, Payload: QuizStartedPayload{SessionID: sessionID, Total: total}}
}

func QuestionStartedEvent(sessionID string, index int) Event {
	return Event{Type: EventQuestionStarted, Payload: QuestionStartedPayload{SessionID: sessionID, Index: index}}
}

func ScoreEvent(sessionID string, scores map[string]ScoreRow) Event {
	return Event{Type: EventScore, Payload: ScorePayload{SessionID: sessionID, Scores: scores}}
}

func QuestionAdvancedEvent(sessionID string, index, total int, q QuestionView) Event {
	return Event{Type: EventQuestionAdvanced, Payload: QuestionAdvancedPayload{SessionID: sessionID, Index: index, Total: total, Question: q}}
}

func AllRespondedEvent(sessionID string, index int) Event {
	return Event{Type: EventAllResponded, Payload: QuestionStartedPayload{SessionID: sessionID, Index: index}}
}

func QuizEndedEvent(sessionID string, scores map[string]ScoreRow) Event {
	return Event{Type: EventQuizEnded, Payload: ScorePayload{SessionID: sessionID, Scores: scores}}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Message: message}}
}
