package handler_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/aformulationoftruth/questionnaire/internal/domain"
	"github.com/aformulationoftruth/questionnaire/internal/transport/http/handler"
	"github.com/aformulationoftruth/questionnaire/internal/transport/http/middleware"
	"github.com/aformulationoftruth/questionnaire/internal/usecase"
	"github.com/gin-gonic/gin"
)

type fakeResolver struct {
	resolve func(ctx context.Context, resumeToken string) (*domain.Session, error)
}

func (f *fakeResolver) ResolveByResume(ctx context.Context, resumeToken string) (*domain.Session, error) {
	return f.resolve(ctx, resumeToken)
}

type fakeFlow struct {
	next   func(session *domain.Session) (*usecase.NextResult, error)
	answer func(ctx context.Context, session *domain.Session, questionIndex int, answerText string, skipped bool) (*usecase.AnswerResult, error)
}

func (f *fakeFlow) Next(session *domain.Session) (*usecase.NextResult, error) {
	return f.next(session)
}

func (f *fakeFlow) Answer(ctx context.Context, session *domain.Session, questionIndex int, answerText string, skipped bool) (*usecase.AnswerResult, error) {
	return f.answer(ctx, session, questionIndex, answerText, skipped)
}

type fakeGate struct {
	authenticate func(ctx context.Context, rawJWT, resumeToken string) (*domain.Session, error)
}

func (f *fakeGate) Authenticate(ctx context.Context, rawJWT, resumeToken string) (*domain.Session, error) {
	return f.authenticate(ctx, rawJWT, resumeToken)
}

func newQuestionEngine(resolver *fakeResolver, flow *fakeFlow, gate *fakeGate) *gin.Engine {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	h := handler.NewQuestionHandler(resolver, flow, logger)

	r := gin.New()
	r.GET("/api/questions/next", h.Next)
	r.POST("/api/questions/answer", middleware.Auth(gate), h.Answer)
	return r
}

func allowGate(session *domain.Session) *fakeGate {
	return &fakeGate{
		authenticate: func(_ context.Context, _, _ string) (*domain.Session, error) {
			return session, nil
		},
	}
}

// ---- next ----

func TestNext_MissingResumeToken_Returns401(t *testing.T) {
	r := newQuestionEngine(&fakeResolver{}, &fakeFlow{}, allowGate(nil))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/questions/next", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestNext_UnknownSession_Returns404(t *testing.T) {
	resolver := &fakeResolver{
		resolve: func(_ context.Context, _ string) (*domain.Session, error) {
			return nil, domain.ErrSessionNotFound
		},
	}
	r := newQuestionEngine(resolver, &fakeFlow{}, allowGate(nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/questions/next", nil)
	req.Header.Set("X-Resume-Token", "some-token")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestNext_ReturnsQuestionPayload(t *testing.T) {
	session := &domain.Session{SessionID: "s"}
	resolver := &fakeResolver{
		resolve: func(_ context.Context, token string) (*domain.Session, error) {
			if token != "good-token" {
				t.Errorf("resolver saw token %q", token)
			}
			return session, nil
		},
	}
	flow := &fakeFlow{
		next: func(_ *domain.Session) (*usecase.NextResult, error) {
			return &usecase.NextResult{
				QuestionIndex: 7,
				QuestionText:  "A question.",
				CurrentIndex:  3,
				Total:         35,
				Progress:      3.0 / 35.0,
				Answered:      []int{0, 1, 4},
			}, nil
		},
	}
	r := newQuestionEngine(resolver, flow, allowGate(session))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/questions/next", nil)
	req.Header.Set("X-Resume-Token", "good-token")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		QuestionIndex     int     `json:"questionIndex"`
		QuestionText      string  `json:"questionText"`
		CurrentIndex      int     `json:"currentIndex"`
		TotalQuestions    int     `json:"totalQuestions"`
		Progress          float64 `json:"progress"`
		AnsweredQuestions []int   `json:"answeredQuestions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.QuestionIndex != 7 || body.QuestionText == "" || body.TotalQuestions != 35 {
		t.Errorf("unexpected payload: %+v", body)
	}
	if len(body.AnsweredQuestions) != 3 {
		t.Errorf("answeredQuestions = %v", body.AnsweredQuestions)
	}
}

func TestNext_CookieFallbackWorks(t *testing.T) {
	resolver := &fakeResolver{
		resolve: func(_ context.Context, token string) (*domain.Session, error) {
			if token != "cookie-token" {
				t.Errorf("resolver saw token %q", token)
			}
			return &domain.Session{}, nil
		},
	}
	flow := &fakeFlow{
		next: func(_ *domain.Session) (*usecase.NextResult, error) {
			return &usecase.NextResult{Completed: true}, nil
		},
	}
	r := newQuestionEngine(resolver, flow, allowGate(nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/questions/next", nil)
	req.AddCookie(&http.Cookie{Name: "resume_token", Value: "cookie-token"})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"completed":true`) {
		t.Errorf("body = %q, want completed marker", w.Body.String())
	}
}

// ---- answer ----

func answerRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/questions/answer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer some-jwt")
	req.Header.Set("X-Resume-Token", "some-resume")
	return req
}

func TestAnswer_NoAuthHeader_Returns401(t *testing.T) {
	r := newQuestionEngine(&fakeResolver{}, &fakeFlow{}, allowGate(nil))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/questions/answer",
		strings.NewReader(`{"questionIndex":0,"answer":"x","skipped":false}`))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAnswer_Success(t *testing.T) {
	session := &domain.Session{SessionID: "s"}
	flow := &fakeFlow{
		answer: func(_ context.Context, got *domain.Session, questionIndex int, answerText string, skipped bool) (*usecase.AnswerResult, error) {
			if got != session || questionIndex != 4 || answerText != "my answer" || skipped {
				t.Errorf("flow saw session=%v index=%d answer=%q skipped=%v", got, questionIndex, answerText, skipped)
			}
			return &usecase.AnswerResult{NextIndex: 5}, nil
		},
	}
	r := newQuestionEngine(&fakeResolver{}, flow, allowGate(session))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, answerRequest(`{"questionIndex":4,"answer":"my answer","skipped":false}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var body struct {
		Success   bool `json:"success"`
		Completed bool `json:"completed"`
		NextIndex int  `json:"nextIndex"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Completed || body.NextIndex != 5 {
		t.Errorf("unexpected payload: %+v", body)
	}
}

func TestAnswer_MissingQuestionIndex_Returns400(t *testing.T) {
	r := newQuestionEngine(&fakeResolver{}, &fakeFlow{}, allowGate(&domain.Session{}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, answerRequest(`{"answer":"x","skipped":false}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAnswer_QuestionMismatch_Returns400(t *testing.T) {
	flow := &fakeFlow{
		answer: func(_ context.Context, _ *domain.Session, _ int, _ string, _ bool) (*usecase.AnswerResult, error) {
			return nil, domain.ErrQuestionMismatch
		},
	}
	r := newQuestionEngine(&fakeResolver{}, flow, allowGate(&domain.Session{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, answerRequest(`{"questionIndex":9,"answer":"x","skipped":false}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid_question_index") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestAnswer_SessionMismatch_Returns403(t *testing.T) {
	gate := &fakeGate{
		authenticate: func(_ context.Context, _, _ string) (*domain.Session, error) {
			return nil, &usecase.VerifyError{Code: usecase.CodeTokenMismatch}
		},
	}
	r := newQuestionEngine(&fakeResolver{}, &fakeFlow{}, gate)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, answerRequest(`{"questionIndex":0,"answer":"x","skipped":false}`))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	if !strings.Contains(w.Body.String(), "session_mismatch") {
		t.Errorf("body = %q", w.Body.String())
	}
}
