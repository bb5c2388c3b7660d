package domain

import "errors"

var (
	// ErrSessionNotFound is returned when the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrUnauthorized is returned when a non-host invokes a host-only operation.
	ErrUnauthorized = errors.New("only the session host may do that")
	// ErrInvalidState is returned when an operation does not apply to the
	// session's current lifecycle status.
	ErrInvalidState = errors.New("operation not valid for session status")
	// ErrBonusArmed rejects arming a bonus that is already armed.
	ErrBonusArmed = errors.New("bonus already armed")
	// ErrBonusExhausted rejects arming once the per-session bonus limit is spent.
	ErrBonusExhausted = errors.New("bonus limit reached")
	// ErrNoMoreQuestions signals the normal end-of-quiz condition on advance.
	ErrNoMoreQuestions = errors.New("no more questions")
)

// IsRejection reports whether err is a business-rule refusal rather than a
// system failure. Rejections are surfaced to the requester only.
func IsRejection(err error) bool {
	return errors.Is(err, ErrBonusArmed) ||
		errors.Is(err, ErrBonusExhausted) ||
		errors.Is(err, ErrNoMoreQuestions)
}
