package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aformulationoftruth/questionnaire/internal/domain"
	"github.com/aformulationoftruth/questionnaire/internal/question"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository is the canonical SessionStore implementation.
//
// Tables:
//
//	magic_link_tokens      (id, token_hash UNIQUE, email_hash, expires_at, used_at, created_at)
//	questionnaire_sessions (session_id PK, email_hash, gate_token, question_order jsonb,
//	                        current_index, answered_questions jsonb, completed, created_at, expires_at)
//	                       with a partial UNIQUE index on email_hash WHERE NOT completed
//	encrypted_answers      (session_id, question_index, ciphertext, iv, tag, salt, updated_at,
//	                        PRIMARY KEY (session_id, question_index))
//	gate_responses         (gate_token PK, a1_ciphertext, a1_iv, a1_tag, a1_salt,
//	                        a2_ciphertext, a2_iv, a2_tag, a2_salt, session_linked, created_at)
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// ---- magic-link tokens ----

func (r *SessionRepository) CreateMagicLinkToken(ctx context.Context, t *domain.MagicLinkToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO magic_link_tokens (id, token_hash, email_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		t.ID, t.TokenHash, t.EmailHash, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create magic link token: %w", err)
	}
	return nil
}

func (r *SessionRepository) ClaimMagicLinkToken(ctx context.Context, tokenHash string, now time.Time) (*domain.MagicLinkToken, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE magic_link_tokens
		SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING id, token_hash, email_hash, expires_at, used_at, created_at`,
		tokenHash, now,
	)

	var t domain.MagicLinkToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.EmailHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTokenInvalid
		}
		return nil, fmt.Errorf("claim magic link token: %w", err)
	}
	return &t, nil
}

func (r *SessionRepository) DeleteMagicLinkToken(ctx context.Context, tokenHash string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM magic_link_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete magic link token: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteExpiredMagicLinkTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM magic_link_tokens WHERE expires_at < $1 OR used_at IS NOT NULL`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired magic link tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ---- sessions ----

func (r *SessionRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	orderJSON, err := json.Marshal(s.QuestionOrder)
	if err != nil {
		return fmt.Errorf("marshal question order: %w", err)
	}
	answeredJSON, err := json.Marshal(answeredOrEmpty(s.AnsweredQuestions))
	if err != nil {
		return fmt.Errorf("marshal answered questions: %w", err)
	}

	// The partial unique index on active email hashes absorbs the race
	// between two concurrent first-time mints: the loser re-keys the row the
	// winner just created instead of inserting a duplicate.
	_, err = r.pool.Exec(ctx, `
		INSERT INTO questionnaire_sessions
			(session_id, email_hash, gate_token, question_order, current_index,
			 answered_questions, completed, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), $8)
		ON CONFLICT (email_hash) WHERE NOT completed
		DO UPDATE SET session_id = EXCLUDED.session_id,
		              expires_at = EXCLUDED.expires_at`,
		s.SessionID, s.EmailHash, s.GateToken, orderJSON, s.CurrentIndex,
		answeredJSON, s.Completed, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) FindSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT session_id, email_hash, gate_token, question_order, current_index,
		       answered_questions, completed, created_at, expires_at
		FROM questionnaire_sessions
		WHERE session_id = $1`,
		sessionID,
	)
	return scanSession(row)
}

func (r *SessionRepository) FindActiveSessionByEmailHash(ctx context.Context, emailHash string, now time.Time) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT session_id, email_hash, gate_token, question_order, current_index,
		       answered_questions, completed, created_at, expires_at
		FROM questionnaire_sessions
		WHERE email_hash = $1 AND NOT completed AND expires_at > $2`,
		emailHash, now,
	)
	return scanSession(row)
}

func (r *SessionRepository) RekeySession(ctx context.Context, oldID, newID string, expiresAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rekey: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE questionnaire_sessions
		SET session_id = $2, expires_at = $3
		WHERE session_id = $1`,
		oldID, newID, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("rekey session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE encrypted_answers SET session_id = $2 WHERE session_id = $1`,
		oldID, newID,
	); err != nil {
		return fmt.Errorf("rekey answers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rekey: %w", err)
	}
	return nil
}

func (r *SessionRepository) SetGateToken(ctx context.Context, sessionID string, gateToken *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE questionnaire_sessions SET gate_token = $2 WHERE session_id = $1`,
		sessionID, gateToken,
	)
	if err != nil {
		return fmt.Errorf("set gate token: %w", err)
	}
	return nil
}

func (r *SessionRepository) UpdateProgress(ctx context.Context, sessionID string, currentIndex int, answered []int, completed bool) error {
	answeredJSON, err := json.Marshal(answeredOrEmpty(answered))
	if err != nil {
		return fmt.Errorf("marshal answered questions: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE questionnaire_sessions
		SET current_index = $2, answered_questions = $3, completed = $4
		WHERE session_id = $1`,
		sessionID, currentIndex, answeredJSON, completed,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM encrypted_answers WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session answers: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM questionnaire_sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM questionnaire_sessions
		WHERE expires_at < $1 AND NOT completed`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ---- encrypted answers ----

func (r *SessionRepository) RecordAnswer(ctx context.Context, a *domain.EncryptedAnswer, currentIndex int, answered []int, completed bool) error {
	answeredJSON, err := json.Marshal(answeredOrEmpty(answered))
	if err != nil {
		return fmt.Errorf("marshal answered questions: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record answer: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := upsertAnswer(ctx, tx, a); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE questionnaire_sessions
		SET current_index = $2, answered_questions = $3, completed = $4
		WHERE session_id = $1`,
		a.SessionID, currentIndex, answeredJSON, completed,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record answer: %w", err)
	}
	return nil
}

func (r *SessionRepository) UpsertAnswer(ctx context.Context, a *domain.EncryptedAnswer) error {
	return upsertAnswer(ctx, r.pool, a)
}

// execer is satisfied by *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertAnswer(ctx context.Context, db execer, a *domain.EncryptedAnswer) error {
	_, err := db.Exec(ctx, `
		INSERT INTO encrypted_answers
			(session_id, question_index, ciphertext, iv, tag, salt, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (session_id, question_index)
		DO UPDATE SET ciphertext = EXCLUDED.ciphertext,
		              iv         = EXCLUDED.iv,
		              tag        = EXCLUDED.tag,
		              salt       = EXCLUDED.salt,
		              updated_at = now()`,
		a.SessionID, a.QuestionIndex,
		a.Value.Ciphertext, a.Value.IV, a.Value.Tag, a.Value.Salt,
	)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

// ---- gate responses ----

func (r *SessionRepository) SaveGateResponse(ctx context.Context, g *domain.GateResponse) error {
	var a1, a2 [4]*string
	if g.Answer1 != nil {
		a1 = [4]*string{&g.Answer1.Ciphertext, &g.Answer1.IV, &g.Answer1.Tag, &g.Answer1.Salt}
	}
	if g.Answer2 != nil {
		a2 = [4]*string{&g.Answer2.Ciphertext, &g.Answer2.IV, &g.Answer2.Tag, &g.Answer2.Salt}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO gate_responses
			(gate_token, a1_ciphertext, a1_iv, a1_tag, a1_salt,
			 a2_ciphertext, a2_iv, a2_tag, a2_salt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		g.GateToken,
		a1[0], a1[1], a1[2], a1[3],
		a2[0], a2[1], a2[2], a2[3],
	)
	if err != nil {
		return fmt.Errorf("save gate response: %w", err)
	}
	return nil
}

func (r *SessionRepository) FindGateResponse(ctx context.Context, gateToken string) (*domain.GateResponse, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT gate_token, a1_ciphertext, a1_iv, a1_tag, a1_salt,
		       a2_ciphertext, a2_iv, a2_tag, a2_salt, created_at
		FROM gate_responses
		WHERE gate_token = $1`,
		gateToken,
	)

	var g domain.GateResponse
	var a1, a2 [4]*string
	err := row.Scan(&g.GateToken,
		&a1[0], &a1[1], &a1[2], &a1[3],
		&a2[0], &a2[1], &a2[2], &a2[3],
		&g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("find gate response: %w", err)
	}
	if a1[0] != nil {
		g.Answer1 = &domain.EncryptedValue{Ciphertext: *a1[0], IV: *a1[1], Tag: *a1[2], Salt: *a1[3]}
	}
	if a2[0] != nil {
		g.Answer2 = &domain.EncryptedValue{Ciphertext: *a2[0], IV: *a2[1], Tag: *a2[2], Salt: *a2[3]}
	}
	return &g, nil
}

func (r *SessionRepository) DeleteGateResponse(ctx context.Context, gateToken string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM gate_responses WHERE gate_token = $1`, gateToken)
	if err != nil {
		return fmt.Errorf("delete gate response: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteOrphanGateResponses(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM gate_responses g
		WHERE g.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM questionnaire_sessions s WHERE s.gate_token = g.gate_token
		  )`, before)
	if err != nil {
		return 0, fmt.Errorf("delete orphan gate responses: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ---- scanning ----

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var orderJSON, answeredJSON []byte
	err := row.Scan(&s.SessionID, &s.EmailHash, &s.GateToken, &orderJSON,
		&s.CurrentIndex, &answeredJSON, &s.Completed, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if err := json.Unmarshal(orderJSON, &s.QuestionOrder); err != nil {
		return nil, fmt.Errorf("decode question order: %w", err)
	}
	if err := validateOrder(s.QuestionOrder); err != nil {
		return nil, fmt.Errorf("session %.8s: %w", s.SessionID, err)
	}
	if err := json.Unmarshal(answeredJSON, &s.AnsweredQuestions); err != nil {
		return nil, fmt.Errorf("decode answered questions: %w", err)
	}
	for _, q := range s.AnsweredQuestions {
		if q < 0 || q >= question.Total {
			return nil, fmt.Errorf("session %.8s: answered index %d out of range", s.SessionID, q)
		}
	}
	if s.CurrentIndex < 0 || s.CurrentIndex > len(s.QuestionOrder) {
		return nil, fmt.Errorf("session %.8s: current index %d out of range", s.SessionID, s.CurrentIndex)
	}
	return &s, nil
}

// validateOrder rejects stored blobs that are not a permutation of the
// canonical indices. A row that fails here is corrupt, not merely stale.
func validateOrder(order []int) error {
	if len(order) != question.Total {
		return fmt.Errorf("question order has %d entries, want %d", len(order), question.Total)
	}
	var seen [question.Total]bool
	for _, idx := range order {
		if idx < 0 || idx >= question.Total {
			return fmt.Errorf("question order index %d out of range", idx)
		}
		if seen[idx] {
			return fmt.Errorf("question order repeats index %d", idx)
		}
		seen[idx] = true
	}
	return nil
}

func answeredOrEmpty(answered []int) []int {
	if answered == nil {
		return []int{}
	}
	return answered
}
