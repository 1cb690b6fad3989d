package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aformulationoftruth/questionnaire/internal/crypto"
	"github.com/aformulationoftruth/questionnaire/internal/domain"
	"github.com/aformulationoftruth/questionnaire/internal/email"
	"github.com/aformulationoftruth/questionnaire/internal/metrics"
	"github.com/aformulationoftruth/questionnaire/internal/question"
	"github.com/aformulationoftruth/questionnaire/internal/repository"
	"github.com/aformulationoftruth/questionnaire/internal/validate"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultMagicTokenTTL = 15 * time.Minute
	defaultLinkJWTTTL    = 15 * time.Minute
	defaultSessionTTL    = 30 * 24 * time.Hour
)

// TokenMinter runs the whole "request a magic link" flow: validation,
// session creation or resume, token derivation, JWT signing, and the email
// send, with compensating deletes when a later step fails. The plaintext
// email never outlives the call.
type TokenMinter struct {
	store   repository.SessionStore
	email   email.Sender
	hasher  *crypto.Hasher
	vault   *crypto.Vault
	orderer *question.Orderer
	sink    metrics.Sink
	logger  *slog.Logger

	jwtKey        []byte
	env           string
	magicLinkBase string

	tokenTTL   time.Duration
	jwtTTL     time.Duration
	sessionTTL time.Duration
}

func NewTokenMinter(
	store repository.SessionStore,
	sender email.Sender,
	hasher *crypto.Hasher,
	vault *crypto.Vault,
	orderer *question.Orderer,
	sink metrics.Sink,
	logger *slog.Logger,
	jwtKey []byte,
	env, magicLinkBase string,
) *TokenMinter {
	return &TokenMinter{
		store:         store,
		email:         sender,
		hasher:        hasher,
		vault:         vault,
		orderer:       orderer,
		sink:          sink,
		logger:        logger.With("component", "token_minter"),
		jwtKey:        jwtKey,
		env:           env,
		magicLinkBase: magicLinkBase,
		tokenTTL:      defaultMagicTokenTTL,
		jwtTTL:        defaultLinkJWTTTL,
		sessionTTL:    defaultSessionTTL,
	}
}

// GateAnswers carries the optional pre-authentication answers to the two
// gate questions.
type GateAnswers struct {
	Answer1 *string
	Answer2 *string
}

// MintResult is returned on a successful mint. MagicLinkURL is populated
// only outside production, for diagnostics; production clients get the
// expiry alone.
type MintResult struct {
	ExpiresAt    time.Time
	MagicLinkURL string
}

// Mint validates the email, finds or creates the session, derives the
// session id from a fresh resume token, signs the link JWT, and sends the
// magic link. Any failure after state has been created rolls that state
// back before returning.
func (m *TokenMinter) Mint(ctx context.Context, rawEmail string, gate *GateAnswers) (*MintResult, error) {
	res := validate.Email(rawEmail)
	if !res.Valid {
		metrics.EmailRejectionsTotal.WithLabelValues(string(res.Reason)).Inc()
		if res.Reason == validate.ReasonSuspicious {
			m.sink.Increment("auth.email.rejected.suspicious")
			return nil, domain.ErrEmailSuspicious
		}
		m.sink.Increment("auth.email.rejected.malformed")
		return nil, domain.ErrEmailInvalid
	}
	emailHash := crypto.HashEmail(res.Normalized)

	resumeToken, err := crypto.NewResumeToken()
	if err != nil {
		return nil, err
	}
	sessionID := m.hasher.HashResumeToken(resumeToken)

	now := time.Now()
	expiresAt := now.Add(m.tokenTTL)

	// Everything created from here on must be undone if a later step fails.
	var undo []func(context.Context)
	rollback := func(ctx context.Context) {
		metrics.MintRollbacksTotal.Inc()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i](ctx)
		}
	}

	tokenHash := crypto.HashMagicToken(resumeToken)
	if err := m.store.CreateMagicLinkToken(ctx, &domain.MagicLinkToken{
		ID:        uuid.NewString(),
		TokenHash: tokenHash,
		EmailHash: emailHash,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("store magic link token: %w", err)
	}
	undo = append(undo, func(ctx context.Context) {
		if err := m.store.DeleteMagicLinkToken(ctx, tokenHash); err != nil {
			m.logger.ErrorContext(ctx, "rollback magic link token", "error", err)
		}
	})

	gateToken, undoGate, err := m.storeGateAnswers(ctx, gate)
	if err != nil {
		rollback(ctx)
		return nil, err
	}
	if undoGate != nil {
		undo = append(undo, undoGate)
	}

	if err := m.attachSession(ctx, sessionID, emailHash, gateToken, now, &undo); err != nil {
		rollback(ctx)
		return nil, err
	}

	signed, err := m.signLinkJWT(emailHash, sessionID, now)
	if err != nil {
		rollback(ctx)
		return nil, fmt.Errorf("sign jwt: %w", err)
	}

	link := m.buildLink(signed, resumeToken)
	subject := "Your sign-in link"
	body := fmt.Sprintf(
		`<p>Click the link below to continue your questionnaire (expires in 15 minutes):</p><p><a href="%s">%s</a></p>`,
		link, link,
	)
	if err := m.email.Send(ctx, res.Normalized, subject, body); err != nil {
		m.logger.ErrorContext(ctx, "send magic link",
			"token_prefix", tokenPrefix(resumeToken), "error", err)
		rollback(ctx)
		return nil, fmt.Errorf("%w: %w", domain.ErrEmailSendFailed, err)
	}

	m.sink.Increment("auth.magiclink.sent")
	metrics.MagicLinksSentTotal.Inc()
	m.logger.InfoContext(ctx, "magic link sent",
		"session_prefix", tokenPrefix(sessionID), "expires_at", expiresAt)

	out := &MintResult{ExpiresAt: expiresAt}
	if m.env != "production" {
		out.MagicLinkURL = link
	}
	return out, nil
}

// storeGateAnswers encrypts and persists pre-auth gate answers, returning
// the gate token to link and an undo step. Nil answers store nothing.
func (m *TokenMinter) storeGateAnswers(ctx context.Context, gate *GateAnswers) (*string, func(context.Context), error) {
	if gate == nil || (gate.Answer1 == nil && gate.Answer2 == nil) {
		return nil, nil, nil
	}

	g := &domain.GateResponse{GateToken: uuid.NewString()}
	for _, pair := range []struct {
		text string
		dst  **domain.EncryptedValue
		name string
	}{
		{deref(gate.Answer1), &g.Answer1, "funnel.gate.q1_answered"},
		{deref(gate.Answer2), &g.Answer2, "funnel.gate.q2_answered"},
	} {
		if pair.text == "" {
			continue
		}
		if len(pair.text) > maxAnswerLength {
			return nil, nil, domain.ErrAnswerTooLong
		}
		sealed, err := m.vault.Encrypt(pair.text)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt gate answer: %w", err)
		}
		*pair.dst = &sealed
		m.sink.Increment(pair.name)
	}

	if err := m.store.SaveGateResponse(ctx, g); err != nil {
		return nil, nil, fmt.Errorf("save gate response: %w", err)
	}
	undo := func(ctx context.Context) {
		if err := m.store.DeleteGateResponse(ctx, g.GateToken); err != nil {
			m.logger.ErrorContext(ctx, "rollback gate response", "error", err)
		}
	}
	return &g.GateToken, undo, nil
}

// attachSession resumes the active session for emailHash under the new
// session id, or creates one with a freshly derived question order. Only a
// session created in this call gets an undo step; rolling back a resumed
// session would destroy prior progress.
func (m *TokenMinter) attachSession(ctx context.Context, sessionID, emailHash string, gateToken *string, now time.Time, undo *[]func(context.Context)) error {
	existing, err := m.store.FindActiveSessionByEmailHash(ctx, emailHash, now)
	switch {
	case err == nil:
		if err := m.store.RekeySession(ctx, existing.SessionID, sessionID, now.Add(m.sessionTTL)); err != nil {
			return fmt.Errorf("rekey session: %w", err)
		}
		if gateToken != nil {
			if err := m.store.SetGateToken(ctx, sessionID, gateToken); err != nil {
				return fmt.Errorf("link gate response: %w", err)
			}
		}
		return nil

	case errors.Is(err, domain.ErrSessionNotFound):
		s := &domain.Session{
			SessionID:     sessionID,
			EmailHash:     emailHash,
			GateToken:     gateToken,
			QuestionOrder: m.orderer.BuildOrder(emailHash),
			ExpiresAt:     now.Add(m.sessionTTL),
		}
		if err := m.store.CreateSession(ctx, s); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		*undo = append(*undo, func(ctx context.Context) {
			if err := m.store.DeleteSession(ctx, sessionID); err != nil {
				m.logger.ErrorContext(ctx, "rollback session", "error", err)
			}
		})
		return nil

	default:
		return fmt.Errorf("find active session: %w", err)
	}
}

func (m *TokenMinter) signLinkJWT(emailHash, sessionID string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"email_hash": emailHash,
		"session_id": sessionID,
		"iat":        now.Unix(),
		"exp":        now.Add(m.jwtTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtKey)
}

func (m *TokenMinter) buildLink(signedJWT, resumeToken string) string {
	q := url.Values{}
	q.Set("token", signedJWT)
	q.Set("resume", resumeToken)
	return m.magicLinkBase + "/auth/verify?" + q.Encode()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// tokenPrefix keeps log lines correlatable without ever logging a usable
// token.
func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
