package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aformulationoftruth/questionnaire/internal/completion"
	"github.com/aformulationoftruth/questionnaire/internal/crypto"
	"github.com/aformulationoftruth/questionnaire/internal/domain"
	"github.com/aformulationoftruth/questionnaire/internal/metrics"
	"github.com/aformulationoftruth/questionnaire/internal/question"
	"github.com/aformulationoftruth/questionnaire/internal/repository"
)

const maxAnswerLength = 10_000

// QuestionFlow advances a session through its personal question order: next
// unanswered question out, encrypted answer in, completion detected when the
// index reaches the end.
type QuestionFlow struct {
	store    repository.SessionStore
	vault    *crypto.Vault
	sink     metrics.Sink
	notifier completion.Notifier
	logger   *slog.Logger
}

func NewQuestionFlow(
	store repository.SessionStore,
	vault *crypto.Vault,
	sink metrics.Sink,
	notifier completion.Notifier,
	logger *slog.Logger,
) *QuestionFlow {
	return &QuestionFlow{
		store:    store,
		vault:    vault,
		sink:     sink,
		notifier: notifier,
		logger:   logger.With("component", "question_flow"),
	}
}

// NextResult describes the question a session should see now.
type NextResult struct {
	Completed     bool
	QuestionIndex int
	QuestionText  string
	CurrentIndex  int
	Total         int
	Progress      float64
	Answered      []int
}

// Next returns the question at the session's current position, or a
// completed marker. It never mutates the session.
func (f *QuestionFlow) Next(session *domain.Session) (*NextResult, error) {
	total := len(session.QuestionOrder)
	if session.CurrentIndex >= total {
		return &NextResult{Completed: true, CurrentIndex: total, Total: total, Progress: 1}, nil
	}

	idx := session.QuestionOrder[session.CurrentIndex]
	text, ok := question.Text(idx)
	if !ok {
		return nil, fmt.Errorf("session %.8s: order points at unknown question %d", session.SessionID, idx)
	}

	return &NextResult{
		QuestionIndex: idx,
		QuestionText:  text,
		CurrentIndex:  session.CurrentIndex,
		Total:         total,
		Progress:      float64(session.CurrentIndex) / float64(total),
		Answered:      session.AnsweredQuestions,
	}, nil
}

// AnswerResult reports where the session stands after an answer.
type AnswerResult struct {
	NextIndex int
	Completed bool
}

// Answer records or skips one answer and advances progress. Resubmitting an
// already-answered index re-encrypts and upserts in place without moving the
// cursor. Reaching the end marks the session completed and signals the
// external completion pipeline.
func (f *QuestionFlow) Answer(ctx context.Context, session *domain.Session, questionIndex int, answerText string, skipped bool) (*AnswerResult, error) {
	total := len(session.QuestionOrder)
	if questionIndex < 0 || questionIndex >= question.Total {
		return nil, domain.ErrQuestionMismatch
	}
	if len(answerText) > maxAnswerLength {
		return nil, domain.ErrAnswerTooLong
	}

	// Resubmission: overwrite the stored answer, keep the cursor put.
	if session.Answered(questionIndex) && !skipped {
		sealed, err := f.vault.Encrypt(answerText)
		if err != nil {
			return nil, fmt.Errorf("encrypt answer: %w", err)
		}
		if err := f.store.UpsertAnswer(ctx, &domain.EncryptedAnswer{
			SessionID:     session.SessionID,
			QuestionIndex: questionIndex,
			Value:         sealed,
		}); err != nil {
			return nil, err
		}
		return &AnswerResult{NextIndex: session.CurrentIndex, Completed: session.Completed}, nil
	}

	if session.CurrentIndex >= total {
		return &AnswerResult{NextIndex: total, Completed: true}, nil
	}
	if session.QuestionOrder[session.CurrentIndex] != questionIndex {
		return nil, domain.ErrQuestionMismatch
	}

	answered := session.AnsweredQuestions
	nextIndex := advance(session, session.CurrentIndex+1)
	completed := nextIndex >= total

	if skipped {
		if err := f.store.UpdateProgress(ctx, session.SessionID, nextIndex, answered, completed); err != nil {
			return nil, err
		}
		f.sink.Increment("feature.skip_used")
		metrics.AnswersRecordedTotal.WithLabelValues("skipped").Inc()
	} else {
		sealed, err := f.vault.Encrypt(answerText)
		if err != nil {
			return nil, fmt.Errorf("encrypt answer: %w", err)
		}
		answered = append(answered, questionIndex)
		if err := f.store.RecordAnswer(ctx, &domain.EncryptedAnswer{
			SessionID:     session.SessionID,
			QuestionIndex: questionIndex,
			Value:         sealed,
		}, nextIndex, answered, completed); err != nil {
			return nil, err
		}
		f.sink.Increment("questionnaire.answered")
		metrics.AnswersRecordedTotal.WithLabelValues("answered").Inc()
	}

	session.CurrentIndex = nextIndex
	session.AnsweredQuestions = answered
	session.Completed = completed

	if completed {
		f.sink.Increment("questionnaire.completed")
		metrics.CompletionsTotal.Inc()
		f.logger.InfoContext(ctx, "questionnaire completed",
			"session_prefix", tokenPrefix(session.SessionID))
		go f.notifier.Trigger(context.WithoutCancel(ctx), session.SessionID)
	}

	return &AnswerResult{NextIndex: nextIndex, Completed: completed}, nil
}

// advance moves the cursor forward past positions whose questions are
// already answered (gate answers promoted at login sit mid-order for
// resumed sessions).
func advance(session *domain.Session, from int) int {
	i := from
	for i < len(session.QuestionOrder) && session.Answered(session.QuestionOrder[i]) {
		i++
	}
	return i
}
