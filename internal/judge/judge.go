// Package judge decides the correctness of submitted answers and keeps the
// per-question submission history of an attempt.
package judge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/metrics"
	"github.com/pavelanni/assessor/internal/model"
)

// Judge is the external free-text judgment service.
type Judge interface {
	JudgeAnswer(ctx context.Context, req model.JudgeRequest) (*model.JudgeResult, error)
}

// AnswerJudge combines exact-match comparison with the external judge.
type AnswerJudge struct {
	judge   Judge
	timeout time.Duration
}

// NewAnswerJudge creates an AnswerJudge. A nil judge disables external
// judgment; timeout <= 0 means no deadline beyond the caller's context.
func NewAnswerJudge(j Judge, timeout time.Duration) *AnswerJudge {
	return &AnswerJudge{judge: j, timeout: timeout}
}

// Normalize lowercases and trims an answer for exact comparison.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Evaluate returns the verdict for one submitted answer. It never fails:
// an unavailable judge yields a non-correct verdict without score or feedback.
func (a *AnswerJudge) Evaluate(ctx context.Context, q model.Question, answer string) model.Verdict {
	if Normalize(answer) == Normalize(q.CorrectAnswer) {
		metrics.Verdicts.WithLabelValues(metrics.OutcomeExact).Inc()
		return model.Verdict{StrictCorrect: true, Score: score(100), Feedback: i18n.T(ctx, "Correct")}
	}
	if strings.TrimSpace(answer) == "" {
		metrics.Verdicts.WithLabelValues(metrics.OutcomeEmpty).Inc()
		return model.Verdict{}
	}
	if a.judge == nil {
		metrics.Verdicts.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		return model.Verdict{}
	}

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	res, err := a.judge.JudgeAnswer(callCtx, model.JudgeRequest{
		QuestionText:    q.Text,
		ReferenceAnswer: q.CorrectAnswer,
		SubmittedAnswer: answer,
	})
	if err != nil || res == nil {
		slog.Warn("answer judge unavailable, recording unscored submission",
			"question_id", q.ID, "error", err)
		metrics.Verdicts.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		return model.Verdict{}
	}

	if res.IsCorrect {
		metrics.Verdicts.WithLabelValues(metrics.OutcomeJudgeCorrect).Inc()
		return model.Verdict{StrictCorrect: true, Score: score(100), Feedback: res.Feedback}
	}
	metrics.Verdicts.WithLabelValues(metrics.OutcomePartial).Inc()
	return model.Verdict{Score: score(res.Score), Feedback: res.Feedback}
}

func score(v float64) *float64 { return &v }
