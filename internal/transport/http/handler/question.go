package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aformulationoftruth/questionnaire/internal/domain"
	"github.com/aformulationoftruth/questionnaire/internal/transport/http/middleware"
	"github.com/aformulationoftruth/questionnaire/internal/usecase"
	"github.com/gin-gonic/gin"
)

type sessionResolver interface {
	ResolveByResume(ctx context.Context, resumeToken string) (*domain.Session, error)
}

type questionFlow interface {
	Next(session *domain.Session) (*usecase.NextResult, error)
	Answer(ctx context.Context, session *domain.Session, questionIndex int, answerText string, skipped bool) (*usecase.AnswerResult, error)
}

type QuestionHandler struct {
	resolver sessionResolver
	flow     questionFlow
	logger   *slog.Logger
}

func NewQuestionHandler(resolver sessionResolver, flow questionFlow, logger *slog.Logger) *QuestionHandler {
	return &QuestionHandler{
		resolver: resolver,
		flow:     flow,
		logger:   logger.With("component", "question_handler"),
	}
}

// GET /api/questions/next
// Read-only progression lookup, addressed by the resume token alone.
func (h *QuestionHandler) Next(c *gin.Context) {
	resumeToken := middleware.ResumeToken(c)
	if resumeToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		return
	}

	session, err := h.resolver.ResolveByResume(c.Request.Context(), resumeToken)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errSessionNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "resolve session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	res, err := h.flow.Next(session)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "next question", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	if res.Completed {
		c.JSON(http.StatusOK, gin.H{"completed": true})
		return
	}

	answered := res.Answered
	if answered == nil {
		answered = []int{}
	}
	c.JSON(http.StatusOK, gin.H{
		"questionIndex":     res.QuestionIndex,
		"questionText":      res.QuestionText,
		"currentIndex":      res.CurrentIndex,
		"totalQuestions":    res.Total,
		"progress":          res.Progress,
		"answeredQuestions": answered,
	})
}

type answerRequest struct {
	QuestionIndex *int   `json:"questionIndex"`
	Answer        string `json:"answer"`
	Skipped       bool   `json:"skipped"`
}

// POST /api/questions/answer
// Requires the full JWT plus resume token pair; the auth middleware has
// already loaded the session into the request context.
func (h *QuestionHandler) Answer(c *gin.Context) {
	session := middleware.Session(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		return
	}

	var req answerRequest
	if err := decodeStrict(c, &req); err != nil || req.QuestionIndex == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidJSON})
		return
	}

	res, err := h.flow.Answer(c.Request.Context(), session, *req.QuestionIndex, req.Answer, req.Skipped)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrQuestionMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"error": errQuestionIndex})
		case errors.Is(err, domain.ErrAnswerTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": errAnswerTooLong})
		case errors.Is(err, domain.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": errSessionNotFound})
		default:
			h.logger.ErrorContext(c.Request.Context(), "record answer", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"completed": res.Completed,
		"nextIndex": res.NextIndex,
	})
}
