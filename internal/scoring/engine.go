package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/assessor/internal/metrics"
	"github.com/pavelanni/assessor/internal/model"
)

// Store is the persistence needed to finish attempts.
type Store interface {
	GetAttempt(ctx context.Context, id string) (model.TestAttempt, error)
	GetTest(ctx context.Context, id int64) (model.Test, error)
	TestQuestions(ctx context.Context, testID int64) ([]model.Question, error)
	ListRecords(ctx context.Context, attemptID string) ([]model.QuestionAttemptRecord, error)
	CompleteAttempt(ctx context.Context, id string, result model.AttemptResult, completedAt time.Time) (bool, error)
	AbandonAttempt(ctx context.Context, id string) error
}

// Engine finishes attempts and triggers performance aggregation.
type Engine struct {
	store Store
	agg   *Aggregator
	cfg   Config
	now   func() time.Time
}

// NewEngine creates an Engine. agg may be nil to skip aggregation.
func NewEngine(s Store, agg *Aggregator, cfg Config) *Engine {
	return &Engine{store: s, agg: agg, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Config returns the scoring constants in use.
func (e *Engine) Config() Config { return e.cfg }

// Finish scores an in-progress attempt, stores the result and recomputes the
// student's performance metrics. Finishing a completed attempt returns it
// unchanged.
func (e *Engine) Finish(ctx context.Context, attemptID string) (model.TestAttempt, error) {
	a, err := e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return a, err
	}
	switch a.Status {
	case model.StatusCompleted:
		return a, nil
	case model.StatusAbandoned:
		return a, ErrAttemptNotInProgress
	}

	test, err := e.store.GetTest(ctx, a.TestID)
	if err != nil {
		return a, fmt.Errorf("get test: %w", err)
	}
	questions, err := e.store.TestQuestions(ctx, a.TestID)
	if err != nil {
		return a, fmt.Errorf("get test questions: %w", err)
	}
	records, err := e.store.ListRecords(ctx, attemptID)
	if err != nil {
		return a, fmt.Errorf("list records: %w", err)
	}

	result, err := e.cfg.Compute(test, questions, records)
	if err != nil {
		return a, err
	}

	completedAt := e.now()
	done, err := e.store.CompleteAttempt(ctx, attemptID, result, completedAt)
	if err != nil {
		return a, fmt.Errorf("complete attempt: %w", err)
	}
	if !done {
		// Lost a race with another finish or abandon.
		current, err := e.store.GetAttempt(ctx, attemptID)
		if err != nil {
			return a, err
		}
		if current.Status == model.StatusCompleted {
			return current, nil
		}
		return current, ErrAttemptNotInProgress
	}
	metrics.AttemptsCompleted.Inc()

	a.Status = model.StatusCompleted
	a.CompletedAt = &completedAt
	a.Result = &result
	slog.Info("attempt completed",
		"attempt_id", a.ID, "student_id", a.StudentID, "test_id", a.TestID,
		"final_score", result.FinalScore, "basic_score", result.BasicScore)

	if e.agg != nil {
		if _, err := e.agg.Recompute(ctx, a.StudentID, a.TestID); err != nil {
			metrics.AggregationFailures.Inc()
			slog.Error("performance aggregation failed",
				"student_id", a.StudentID, "test_id", a.TestID, "error", err)
		}
	}
	return a, nil
}

// Abandon terminates an in-progress attempt without scoring it.
func (e *Engine) Abandon(ctx context.Context, attemptID string) error {
	if err := e.store.AbandonAttempt(ctx, attemptID); err != nil {
		return err
	}
	slog.Info("attempt abandoned", "attempt_id", attemptID)
	return nil
}
