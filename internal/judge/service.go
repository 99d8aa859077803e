package judge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/store"
)

// Store is the persistence needed to record submissions.
type Store interface {
	AttemptQuestion(ctx context.Context, attemptID string, questionID int64) (model.TestAttempt, model.Question, error)
	AppendSubmission(ctx context.Context, attemptID string, questionID int64, fn func(r *model.QuestionAttemptRecord) model.Submission) (*model.QuestionAttemptRecord, error)
}

// Service judges submissions and appends them to the attempt's history.
type Service struct {
	store Store
	judge *AnswerJudge
	now   func() time.Time
}

// NewService creates a submission service.
func NewService(s Store, j *AnswerJudge) *Service {
	return &Service{store: s, judge: j, now: func() time.Time { return time.Now().UTC() }}
}

// SubmitResult is returned to the caller for immediate feedback.
type SubmitResult struct {
	Verdict model.Verdict               `json:"verdict"`
	Record  model.QuestionAttemptRecord `json:"record"`
}

// Submit judges an answer for a question of an in-progress attempt and records it.
// elapsedSeconds is the time spent on the question since the previous action.
func (s *Service) Submit(ctx context.Context, attemptID string, questionID int64, answer string, elapsedSeconds int) (*SubmitResult, error) {
	attempt, q, err := s.store.AttemptQuestion(ctx, attemptID, questionID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.StatusInProgress {
		return nil, store.ErrAttemptNotInProgress
	}

	// The record is loaded only after judging, under the store's lock.
	verdict := s.judge.Evaluate(ctx, q, answer)
	at := s.now()
	rec, err := s.store.AppendSubmission(ctx, attemptID, questionID, func(r *model.QuestionAttemptRecord) model.Submission {
		return ApplySubmission(r, answer, verdict, elapsedSeconds, at)
	})
	if err != nil {
		return nil, fmt.Errorf("append submission: %w", err)
	}

	slog.Debug("submission recorded",
		"attempt_id", attemptID, "question_id", questionID,
		"strict_correct", verdict.StrictCorrect, "attempts", rec.AttemptsCount)
	return &SubmitResult{Verdict: verdict, Record: *rec}, nil
}
