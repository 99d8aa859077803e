// Package tutor serves hints and simplified explanations, escalating from
// authored content to generated content cached per attempt.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/metrics"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/store"
)

// ErrHintOutOfOrder is returned when a hint beyond the next unseen one is requested.
var ErrHintOutOfOrder = errors.New("hint requested out of order")

// Sources reported with a hint or explanation.
const (
	SourceStatic    = "static"
	SourceCached    = "cached"
	SourceGenerated = "generated"
	SourceFallback  = "fallback"
)

// Generator is the external free-text generation service.
type Generator interface {
	GenerateHint(ctx context.Context, req model.HintRequest) (string, error)
	GenerateExplanation(ctx context.Context, req model.ExplanationRequest) (string, error)
}

// Store is the persistence needed by the tutor.
type Store interface {
	AttemptQuestion(ctx context.Context, attemptID string, questionID int64) (model.TestAttempt, model.Question, error)
	GetQuestion(ctx context.Context, id int64) (model.Question, error)
	GetRecord(ctx context.Context, attemptID string, questionID int64) (*model.QuestionAttemptRecord, error)
	UpdateRecord(ctx context.Context, attemptID string, questionID int64, fn func(r *model.QuestionAttemptRecord) error) (*model.QuestionAttemptRecord, error)
}

// Tutor serves hints and explanations.
type Tutor struct {
	store   Store
	gen     Generator
	timeout time.Duration
}

// New creates a Tutor. A nil generator makes every generation fall back.
func New(s Store, g Generator, timeout time.Duration) *Tutor {
	return &Tutor{store: s, gen: g, timeout: timeout}
}

// HintResult is one hint shown to the student.
type HintResult struct {
	Index     int    `json:"index"`
	Hint      string `json:"hint"`
	Source    string `json:"source"`
	HintsUsed int    `json:"hints_used"`
}

// Hint returns the hint at the zero-based index for a question of an
// in-progress attempt. Static hints come first, then generated hints cached
// on the attempt's record. wrongAnswer personalizes generation; when empty the
// record's last answer is used.
func (t *Tutor) Hint(ctx context.Context, attemptID string, questionID int64, index int, wrongAnswer string) (*HintResult, error) {
	attempt, q, err := t.store.AttemptQuestion(ctx, attemptID, questionID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.StatusInProgress {
		return nil, store.ErrAttemptNotInProgress
	}
	rec, err := t.record(ctx, attemptID, questionID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index > rec.HintsUsed {
		return nil, fmt.Errorf("hint %d with %d shown: %w", index, rec.HintsUsed, ErrHintOutOfOrder)
	}

	res := &HintResult{Index: index}
	gi := index - len(q.Hints)
	var generated string
	switch {
	case gi < 0:
		res.Hint, res.Source = q.Hints[index], SourceStatic
	case gi < len(rec.GeneratedHints):
		res.Hint, res.Source = rec.GeneratedHints[gi], SourceCached
	case gi == len(rec.GeneratedHints):
		if wrongAnswer == "" && !rec.StrictCorrect {
			wrongAnswer = rec.Answer
		}
		hint, ok := t.generateHint(ctx, q, wrongAnswer)
		if !ok {
			metrics.Generations.WithLabelValues("hint", SourceFallback).Inc()
			res.Hint, res.Source, res.HintsUsed = i18n.T(ctx, "HintFallback"), SourceFallback, rec.HintsUsed
			return res, nil
		}
		generated = hint
		res.Hint, res.Source = hint, SourceGenerated
	default:
		return nil, fmt.Errorf("generated hint %d with %d cached: %w", gi, len(rec.GeneratedHints), ErrHintOutOfOrder)
	}

	saved, err := t.store.UpdateRecord(ctx, attemptID, questionID, func(r *model.QuestionAttemptRecord) error {
		if generated != "" {
			switch {
			case gi == len(r.GeneratedHints):
				r.GeneratedHints = append(r.GeneratedHints, generated)
			case gi < len(r.GeneratedHints):
				// A concurrent request cached this position first.
				res.Hint, res.Source = r.GeneratedHints[gi], SourceCached
			default:
				return fmt.Errorf("generated hint %d with %d cached: %w", gi, len(r.GeneratedHints), ErrHintOutOfOrder)
			}
		}
		r.HintsUsed = max(r.HintsUsed, index+1)
		r.UsedNoHints = false
		r.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save record: %w", err)
	}
	metrics.Generations.WithLabelValues("hint", res.Source).Inc()
	res.HintsUsed = saved.HintsUsed
	return res, nil
}

func (t *Tutor) generateHint(ctx context.Context, q model.Question, wrongAnswer string) (string, bool) {
	if t.gen == nil {
		return "", false
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	hint, err := t.gen.GenerateHint(ctx, model.HintRequest{
		QuestionText:    q.Text,
		ReferenceAnswer: q.CorrectAnswer,
		WrongAnswer:     wrongAnswer,
	})
	if err != nil || strings.TrimSpace(hint) == "" {
		slog.Warn("hint generation failed, using fallback", "question_id", q.ID, "error", err)
		return "", false
	}
	return hint, true
}

// ExplanationResult is a simplified explanation shown to the student.
type ExplanationResult struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Explanation returns a simplified explanation for a question. attemptID may be
// empty; when it names an in-progress attempt the default explanation is cached
// on the record and the record is marked as having viewed it. A follow-up
// question always generates a fresh, uncached answer.
func (t *Tutor) Explanation(ctx context.Context, questionID int64, attemptID, followUp string) (*ExplanationResult, error) {
	var (
		q        model.Question
		rec      *model.QuestionAttemptRecord
		writable bool
		err      error
	)
	if attemptID == "" {
		if q, err = t.store.GetQuestion(ctx, questionID); err != nil {
			return nil, err
		}
	} else {
		var attempt model.TestAttempt
		if attempt, q, err = t.store.AttemptQuestion(ctx, attemptID, questionID); err != nil {
			return nil, err
		}
		if rec, err = t.record(ctx, attemptID, questionID); err != nil {
			return nil, err
		}
		writable = attempt.Status == model.StatusInProgress
	}
	followUp = strings.TrimSpace(followUp)

	res := &ExplanationResult{}
	var generated string
	switch {
	case q.Explanation != "" && followUp == "":
		res.Content, res.Source = q.Explanation, SourceStatic
	case followUp == "" && rec != nil && rec.GeneratedExplanation != "":
		res.Content, res.Source = rec.GeneratedExplanation, SourceCached
	default:
		content, ok := t.generateExplanation(ctx, q, followUp)
		if !ok {
			metrics.Generations.WithLabelValues("explanation", SourceFallback).Inc()
			return &ExplanationResult{Content: i18n.T(ctx, "ExplanationFallback"), Source: SourceFallback}, nil
		}
		res.Content, res.Source = content, SourceGenerated
		if followUp == "" {
			generated = content
		}
	}

	if writable {
		_, err := t.store.UpdateRecord(ctx, attemptID, questionID, func(r *model.QuestionAttemptRecord) error {
			r.ExplanationViewed = true
			switch {
			case generated == "":
			case r.GeneratedExplanation == "":
				r.GeneratedExplanation = generated
			default:
				res.Content, res.Source = r.GeneratedExplanation, SourceCached
			}
			r.UpdatedAt = time.Now().UTC()
			return nil
		})
		switch {
		case errors.Is(err, store.ErrAttemptNotInProgress):
			slog.Debug("attempt finished during explanation, not recording view",
				"attempt_id", attemptID, "question_id", questionID)
		case err != nil:
			return nil, fmt.Errorf("save record: %w", err)
		}
	}
	metrics.Generations.WithLabelValues("explanation", res.Source).Inc()
	return res, nil
}

func (t *Tutor) generateExplanation(ctx context.Context, q model.Question, followUp string) (string, bool) {
	if t.gen == nil {
		return "", false
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	content, err := t.gen.GenerateExplanation(ctx, model.ExplanationRequest{
		QuestionText:     q.Text,
		ReferenceAnswer:  q.CorrectAnswer,
		FollowUpQuestion: followUp,
	})
	if err != nil || strings.TrimSpace(content) == "" {
		slog.Warn("explanation generation failed, using fallback", "question_id", q.ID, "error", err)
		return "", false
	}
	return content, true
}

// StudyMaterialDownloaded marks that the student downloaded study material for a question.
func (t *Tutor) StudyMaterialDownloaded(ctx context.Context, attemptID string, questionID int64) error {
	attempt, _, err := t.store.AttemptQuestion(ctx, attemptID, questionID)
	if err != nil {
		return err
	}
	if attempt.Status != model.StatusInProgress {
		return store.ErrAttemptNotInProgress
	}
	_, err = t.store.UpdateRecord(ctx, attemptID, questionID, func(r *model.QuestionAttemptRecord) error {
		if !r.StudyMaterialDownloaded {
			r.StudyMaterialDownloaded = true
			r.UpdatedAt = time.Now().UTC()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// record loads the record for the pair or starts a new one.
func (t *Tutor) record(ctx context.Context, attemptID string, questionID int64) (*model.QuestionAttemptRecord, error) {
	rec, err := t.store.GetRecord(ctx, attemptID, questionID)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if rec == nil {
		rec = &model.QuestionAttemptRecord{AttemptID: attemptID, QuestionID: questionID, UsedNoHints: true}
	}
	return rec, nil
}

func (t *Tutor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}
