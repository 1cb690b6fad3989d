package domain

import (
	"errors"
	"time"
)

var (
	ErrEmailInvalid     = errors.New("email is invalid")
	ErrEmailSuspicious  = errors.New("email matches a suspicious pattern")
	ErrEmailSendFailed  = errors.New("magic link email could not be sent")
	ErrTokenInvalid     = errors.New("token is invalid or expired")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionMismatch  = errors.New("resume token does not match session")
	ErrEmailMismatch    = errors.New("email hash does not match session")
	ErrQuestionMismatch = errors.New("question index is not answerable")
	ErrAnswerTooLong    = errors.New("answer exceeds maximum length")
)

// MagicLinkToken gates a single email-delivery round trip. Only a keyless
// hash of the raw token is stored; the row is claimed atomically on first
// verification and never reused.
type MagicLinkToken struct {
	ID        string
	TokenHash string
	EmailHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Session is the durable questionnaire state for one pseudonymous visitor.
// SessionID is always the keyed hash of the opaque resume token held by the
// client; it is never chosen by the client and never derivable without the
// server secret.
type Session struct {
	SessionID         string
	EmailHash         string
	GateToken         *string
	QuestionOrder     []int
	CurrentIndex      int
	AnsweredQuestions []int
	Completed         bool
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// Answered reports whether questionIndex is already in AnsweredQuestions.
func (s *Session) Answered(questionIndex int) bool {
	for _, q := range s.AnsweredQuestions {
		if q == questionIndex {
			return true
		}
	}
	return false
}

// Expired reports whether the session has passed its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// EncryptedValue is one AES-256-GCM sealed payload. All fields are base64.
// The (iv, salt) pair is fresh for every encryption, so identical plaintexts
// never produce identical records.
type EncryptedValue struct {
	Ciphertext string
	IV         string
	Tag        string
	Salt       string
}

// EncryptedAnswer is the stored answer for one (session, question) identity,
// upserted on resubmission.
type EncryptedAnswer struct {
	SessionID     string
	QuestionIndex int
	Value         EncryptedValue
	UpdatedAt     time.Time
}

// GateResponse holds pre-authentication answers to the gate questions, keyed
// by a random gate token until the surrounding login attempt links or
// discards it.
type GateResponse struct {
	GateToken string
	Answer1   *EncryptedValue
	Answer2   *EncryptedValue
	CreatedAt time.Time
}
