package usecase

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aformulationoftruth/questionnaire/internal/crypto"
	"github.com/aformulationoftruth/questionnaire/internal/domain"
	"github.com/aformulationoftruth/questionnaire/internal/metrics"
	"github.com/aformulationoftruth/questionnaire/internal/question"
	"github.com/aformulationoftruth/questionnaire/internal/repository"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultCookieJWTTTL = 24 * time.Hour
	defaultResumeTTL    = 21 * 24 * time.Hour
)

// VerifyCode identifies why a magic-link verification was rejected. The
// codes are rendered on the callback error page.
type VerifyCode string

const (
	CodeMissingTokens   VerifyCode = "MISSING_TOKENS"
	CodeInvalidJWT      VerifyCode = "INVALID_JWT"
	CodeTokenMismatch   VerifyCode = "TOKEN_MISMATCH"
	CodeSessionNotFound VerifyCode = "SESSION_NOT_FOUND"
	CodeEmailMismatch   VerifyCode = "EMAIL_MISMATCH"
	CodeInternal        VerifyCode = "INTERNAL_ERROR"
)

// VerifyError is a rejected verification. The client-facing text is always
// the code; the cause stays in the logs.
type VerifyError struct {
	Code  VerifyCode
	cause error
}

func (e *VerifyError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("verification rejected (%s): %v", e.Code, e.cause)
	}
	return fmt.Sprintf("verification rejected (%s)", e.Code)
}

func (e *VerifyError) Unwrap() error { return e.cause }

// VerificationGate checks a (session token, resume token) pair presented at
// callback time and issues the long-lived cookie pair. It also re-verifies
// the same pair on every authenticated questionnaire request; no request
// trusts an earlier one.
type VerificationGate struct {
	store  repository.SessionStore
	hasher *crypto.Hasher
	sink   metrics.Sink
	logger *slog.Logger

	jwtKey []byte

	cookieJWTTTL time.Duration
	resumeTTL    time.Duration
}

func NewVerificationGate(
	store repository.SessionStore,
	hasher *crypto.Hasher,
	sink metrics.Sink,
	logger *slog.Logger,
	jwtKey []byte,
) *VerificationGate {
	return &VerificationGate{
		store:        store,
		hasher:       hasher,
		sink:         sink,
		logger:       logger.With("component", "verification_gate"),
		jwtKey:       jwtKey,
		cookieJWTTTL: defaultCookieJWTTTL,
		resumeTTL:    defaultResumeTTL,
	}
}

// VerifyResult carries what the callback handler needs to set cookies and
// redirect into the questionnaire.
type VerifyResult struct {
	JWT          string
	ResumeToken  string
	SessionID    string
	JWTMaxAge    time.Duration
	ResumeMaxAge time.Duration
}

// Verify validates the pair from the magic link, consumes the one-time
// magic token, promotes any pre-auth gate answers into the session, and
// returns fresh cookie material. Failures come back as *VerifyError.
func (g *VerificationGate) Verify(ctx context.Context, rawJWT, resumeToken string) (*VerifyResult, error) {
	if rawJWT == "" || resumeToken == "" {
		return nil, g.reject(&VerifyError{Code: CodeMissingTokens})
	}

	session, verr := g.check(ctx, rawJWT, resumeToken, time.Now())
	if verr != nil {
		return nil, g.reject(verr)
	}

	// One-time use: the same link can never authenticate twice. Claim
	// failures are reported exactly like a mismatched token so callers
	// cannot probe which tokens ever existed.
	if _, err := g.store.ClaimMagicLinkToken(ctx, crypto.HashMagicToken(resumeToken), time.Now()); err != nil {
		if errors.Is(err, domain.ErrTokenInvalid) {
			return nil, g.reject(&VerifyError{Code: CodeTokenMismatch, cause: err})
		}
		return nil, g.reject(&VerifyError{Code: CodeInternal, cause: err})
	}

	g.promoteGateAnswers(ctx, session)

	signed, err := g.signCookieJWT(session, time.Now())
	if err != nil {
		return nil, g.reject(&VerifyError{Code: CodeInternal, cause: err})
	}

	g.sink.Increment("auth.magiclink.verified")
	if session.CurrentIndex <= question.GateCount {
		g.sink.Increment("questionnaire.started")
	}
	metrics.VerificationsTotal.WithLabelValues("ok").Inc()
	g.logger.InfoContext(ctx, "magic link verified",
		"session_prefix", tokenPrefix(session.SessionID))

	return &VerifyResult{
		JWT:          signed,
		ResumeToken:  resumeToken,
		SessionID:    session.SessionID,
		JWTMaxAge:    g.cookieJWTTTL,
		ResumeMaxAge: g.resumeTTL,
	}, nil
}

// Authenticate re-verifies a (JWT, resume token) pair on an ordinary
// questionnaire request and loads the session. It does not consume the
// magic token and issues nothing.
func (g *VerificationGate) Authenticate(ctx context.Context, rawJWT, resumeToken string) (*domain.Session, error) {
	if rawJWT == "" || resumeToken == "" {
		return nil, &VerifyError{Code: CodeMissingTokens}
	}
	session, verr := g.check(ctx, rawJWT, resumeToken, time.Now())
	if verr != nil {
		return nil, verr
	}
	return session, nil
}

// ResolveByResume loads the session addressed by a resume token alone, for
// read-only progression lookups.
func (g *VerificationGate) ResolveByResume(ctx context.Context, resumeToken string) (*domain.Session, error) {
	sessionID := g.hasher.HashResumeToken(resumeToken)
	session, err := g.store.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Expired(time.Now()) {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// check runs rejection steps 1-4: JWT signature and expiry, token-to-claim
// match, session lookup, email-hash match.
func (g *VerificationGate) check(ctx context.Context, rawJWT, resumeToken string, now time.Time) (*domain.Session, *VerifyError) {
	claims, err := g.parseJWT(rawJWT)
	if err != nil {
		return nil, &VerifyError{Code: CodeInvalidJWT, cause: err}
	}

	sessionID := g.hasher.HashResumeToken(resumeToken)
	if !hmac.Equal([]byte(sessionID), []byte(claims.sessionID)) {
		return nil, &VerifyError{Code: CodeTokenMismatch, cause: domain.ErrSessionMismatch}
	}

	session, err := g.store.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, &VerifyError{Code: CodeSessionNotFound, cause: err}
		}
		return nil, &VerifyError{Code: CodeInternal, cause: err}
	}
	if session.Expired(now) {
		return nil, &VerifyError{Code: CodeSessionNotFound, cause: domain.ErrSessionNotFound}
	}

	// Defense in depth: a JWT forged for the right session id but the wrong
	// identity still fails.
	if !hmac.Equal([]byte(session.EmailHash), []byte(claims.emailHash)) {
		return nil, &VerifyError{Code: CodeEmailMismatch, cause: domain.ErrEmailMismatch}
	}
	return session, nil
}

type sessionClaims struct {
	emailHash string
	sessionID string
}

func (g *VerificationGate) parseJWT(rawJWT string) (*sessionClaims, error) {
	token, err := jwt.Parse(rawJWT, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return g.jwtKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	emailHash, _ := claims["email_hash"].(string)
	sessionID, _ := claims["session_id"].(string)
	if emailHash == "" || sessionID == "" {
		return nil, errors.New("missing claims")
	}
	return &sessionClaims{emailHash: emailHash, sessionID: sessionID}, nil
}

func (g *VerificationGate) signCookieJWT(session *domain.Session, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"email_hash": session.EmailHash,
		"session_id": session.SessionID,
		"iat":        now.Unix(),
		"exp":        now.Add(g.cookieJWTTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.jwtKey)
}

// promoteGateAnswers copies pre-auth gate answers into the session's
// encrypted answers and unlinks the gate response. Best effort: a failure
// here is logged but never blocks the login the user just proved.
func (g *VerificationGate) promoteGateAnswers(ctx context.Context, session *domain.Session) {
	if session.GateToken == nil {
		return
	}

	gr, err := g.store.FindGateResponse(ctx, *session.GateToken)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			g.logger.ErrorContext(ctx, "load gate response", "error", err)
		}
		return
	}

	for idx, value := range []*domain.EncryptedValue{gr.Answer1, gr.Answer2} {
		if value == nil || session.Answered(idx) {
			continue
		}
		if err := g.store.UpsertAnswer(ctx, &domain.EncryptedAnswer{
			SessionID:     session.SessionID,
			QuestionIndex: idx,
			Value:         *value,
		}); err != nil {
			g.logger.ErrorContext(ctx, "promote gate answer", "question_index", idx, "error", err)
			return
		}
		session.AnsweredQuestions = append(session.AnsweredQuestions, idx)
	}

	for session.CurrentIndex < len(session.QuestionOrder) &&
		session.Answered(session.QuestionOrder[session.CurrentIndex]) {
		session.CurrentIndex++
	}
	session.Completed = session.CurrentIndex >= len(session.QuestionOrder)

	if err := g.store.UpdateProgress(ctx, session.SessionID,
		session.CurrentIndex, session.AnsweredQuestions, session.Completed); err != nil {
		g.logger.ErrorContext(ctx, "advance past gate answers", "error", err)
		return
	}

	if err := g.store.DeleteGateResponse(ctx, *session.GateToken); err != nil {
		g.logger.ErrorContext(ctx, "delete promoted gate response", "error", err)
	}
	if err := g.store.SetGateToken(ctx, session.SessionID, nil); err != nil {
		g.logger.ErrorContext(ctx, "unlink gate token", "error", err)
	}
	session.GateToken = nil
}

func (g *VerificationGate) reject(verr *VerifyError) *VerifyError {
	metrics.VerificationsTotal.WithLabelValues(string(verr.Code)).Inc()
	return verr
}
