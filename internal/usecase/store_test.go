package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/aformulationoftruth/questionnaire/internal/domain"
)

// memStore is an in-memory SessionStore with per-method error hooks, so
// tests can assert both happy paths and compensation behavior by direct
// lookup afterwards.
type memStore struct {
	mu       sync.Mutex
	tokens   map[string]*domain.MagicLinkToken // by token hash
	sessions map[string]*domain.Session        // by session id
	answers  map[string]map[int]*domain.EncryptedAnswer
	gates    map[string]*domain.GateResponse

	failCreateToken   error
	failCreateSession error
	failRecordAnswer  error
}

func newMemStore() *memStore {
	return &memStore{
		tokens:   make(map[string]*domain.MagicLinkToken),
		sessions: make(map[string]*domain.Session),
		answers:  make(map[string]map[int]*domain.EncryptedAnswer),
		gates:    make(map[string]*domain.GateResponse),
	}
}

func cloneSession(s *domain.Session) *domain.Session {
	c := *s
	c.QuestionOrder = append([]int(nil), s.QuestionOrder...)
	c.AnsweredQuestions = append([]int(nil), s.AnsweredQuestions...)
	return &c
}

func (m *memStore) CreateMagicLinkToken(_ context.Context, t *domain.MagicLinkToken) error {
	if m.failCreateToken != nil {
		return m.failCreateToken
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tokens[t.TokenHash] = &cp
	return nil
}

func (m *memStore) ClaimMagicLinkToken(_ context.Context, tokenHash string, now time.Time) (*domain.MagicLinkToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenHash]
	if !ok || t.UsedAt != nil || !t.ExpiresAt.After(now) {
		return nil, domain.ErrTokenInvalid
	}
	used := now
	t.UsedAt = &used
	cp := *t
	return &cp, nil
}

func (m *memStore) DeleteMagicLinkToken(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenHash)
	return nil
}

func (m *memStore) DeleteExpiredMagicLinkTokens(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, t := range m.tokens {
		if t.ExpiresAt.Before(before) || t.UsedAt != nil {
			delete(m.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateSession(_ context.Context, s *domain.Session) error {
	if m.failCreateSession != nil {
		return m.failCreateSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.sessions {
		if existing.EmailHash == s.EmailHash && !existing.Completed {
			// Same conflict semantics as the partial unique index: re-key
			// the surviving row instead of inserting a duplicate.
			rekeyed := cloneSession(existing)
			rekeyed.SessionID = s.SessionID
			rekeyed.ExpiresAt = s.ExpiresAt
			delete(m.sessions, id)
			m.sessions[s.SessionID] = rekeyed
			return nil
		}
	}
	m.sessions[s.SessionID] = cloneSession(s)
	return nil
}

func (m *memStore) FindSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (m *memStore) FindActiveSessionByEmailHash(_ context.Context, emailHash string, now time.Time) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.EmailHash == emailHash && !s.Completed && s.ExpiresAt.After(now) {
			return cloneSession(s), nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (m *memStore) RekeySession(_ context.Context, oldID, newID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[oldID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.SessionID = newID
	s.ExpiresAt = expiresAt
	delete(m.sessions, oldID)
	m.sessions[newID] = s
	if byIdx, ok := m.answers[oldID]; ok {
		delete(m.answers, oldID)
		m.answers[newID] = byIdx
	}
	return nil
}

func (m *memStore) SetGateToken(_ context.Context, sessionID string, gateToken *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.GateToken = gateToken
	return nil
}

func (m *memStore) UpdateProgress(_ context.Context, sessionID string, currentIndex int, answered []int, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.CurrentIndex = currentIndex
	s.AnsweredQuestions = append([]int(nil), answered...)
	s.Completed = completed
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.answers, sessionID)
	return nil
}

func (m *memStore) DeleteExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(before) && !s.Completed {
			delete(m.sessions, id)
			delete(m.answers, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) RecordAnswer(ctx context.Context, a *domain.EncryptedAnswer, currentIndex int, answered []int, completed bool) error {
	if m.failRecordAnswer != nil {
		return m.failRecordAnswer
	}
	if err := m.UpsertAnswer(ctx, a); err != nil {
		return err
	}
	return m.UpdateProgress(ctx, a.SessionID, currentIndex, answered, completed)
}

func (m *memStore) UpsertAnswer(_ context.Context, a *domain.EncryptedAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIdx, ok := m.answers[a.SessionID]
	if !ok {
		byIdx = make(map[int]*domain.EncryptedAnswer)
		m.answers[a.SessionID] = byIdx
	}
	cp := *a
	byIdx[a.QuestionIndex] = &cp
	return nil
}

func (m *memStore) SaveGateResponse(_ context.Context, g *domain.GateResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.gates[g.GateToken] = &cp
	return nil
}

func (m *memStore) FindGateResponse(_ context.Context, gateToken string) (*domain.GateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gates[gateToken]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memStore) DeleteGateResponse(_ context.Context, gateToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.gates, gateToken)
	return nil
}

func (m *memStore) DeleteOrphanGateResponses(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	linked := make(map[string]bool)
	for _, s := range m.sessions {
		if s.GateToken != nil {
			linked[*s.GateToken] = true
		}
	}
	var n int64
	for token, g := range m.gates {
		if g.CreatedAt.Before(before) && !linked[token] {
			delete(m.gates, token)
			n++
		}
	}
	return n, nil
}
