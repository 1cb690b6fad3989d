package repository

import (
	"context"
	"time"

	"github.com/aformulationoftruth/questionnaire/internal/domain"
)

// SessionStore is the single source of truth for sessions, magic-link
// tokens, gate responses, and encrypted answers. All writes keyed by unique
// identity use the database's conflict semantics, not application locks, to
// absorb races between concurrent stateless handlers.
type SessionStore interface {
	// Magic-link tokens.
	CreateMagicLinkToken(ctx context.Context, t *domain.MagicLinkToken) error
	// ClaimMagicLinkToken atomically marks an unexpired, unused token as
	// used and returns it. A second claim for the same hash fails with
	// domain.ErrTokenInvalid.
	ClaimMagicLinkToken(ctx context.Context, tokenHash string, now time.Time) (*domain.MagicLinkToken, error)
	DeleteMagicLinkToken(ctx context.Context, tokenHash string) error
	DeleteExpiredMagicLinkTokens(ctx context.Context, before time.Time) (int64, error)

	// Sessions.
	// CreateSession inserts a new session. If an active session for the same
	// email hash already exists (a lost race with a concurrent mint), the
	// existing row is re-keyed to the new session id instead; either way
	// exactly one active row per email hash remains.
	CreateSession(ctx context.Context, s *domain.Session) error
	FindSession(ctx context.Context, sessionID string) (*domain.Session, error)
	FindActiveSessionByEmailHash(ctx context.Context, emailHash string, now time.Time) (*domain.Session, error)
	// RekeySession moves a session and its answers under a new session id,
	// extending expiry. Used when an existing session is resumed through a
	// fresh magic link.
	RekeySession(ctx context.Context, oldID, newID string, expiresAt time.Time) error
	SetGateToken(ctx context.Context, sessionID string, gateToken *string) error
	UpdateProgress(ctx context.Context, sessionID string, currentIndex int, answered []int, completed bool) error
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	// Encrypted answers.
	// RecordAnswer upserts the answer and updates session progress in one
	// transaction, so a partial failure never leaves an answer the session
	// does not account for.
	RecordAnswer(ctx context.Context, a *domain.EncryptedAnswer, currentIndex int, answered []int, completed bool) error
	UpsertAnswer(ctx context.Context, a *domain.EncryptedAnswer) error

	// Gate responses.
	SaveGateResponse(ctx context.Context, g *domain.GateResponse) error
	FindGateResponse(ctx context.Context, gateToken string) (*domain.GateResponse, error)
	DeleteGateResponse(ctx context.Context, gateToken string) error
	DeleteOrphanGateResponses(ctx context.Context, before time.Time) (int64, error)
}
