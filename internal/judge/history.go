package judge

import (
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// BestScore returns the highest judge score in a history, or nil if no entry was scored.
func BestScore(history []model.Submission) *float64 {
	var best *float64
	for _, s := range history {
		if s.JudgeScore == nil {
			continue
		}
		if best == nil || *s.JudgeScore > *best {
			v := *s.JudgeScore
			best = &v
		}
	}
	return best
}

// ApplySubmission appends a judged submission to the record and recomputes
// its derived fields. The best judge score never decreases.
func ApplySubmission(r *model.QuestionAttemptRecord, answer string, v model.Verdict, elapsedSeconds int, at time.Time) model.Submission {
	sub := model.Submission{
		Answer:        answer,
		StrictCorrect: v.StrictCorrect,
		JudgeScore:    v.Score,
		Feedback:      v.Feedback,
		At:            at,
	}
	r.History = append(r.History, sub)

	best := BestScore(r.History)
	if r.BestJudgeScore != nil && (best == nil || *r.BestJudgeScore > *best) {
		prev := *r.BestJudgeScore
		best = &prev
	}
	r.BestJudgeScore = best

	r.Answer = answer
	r.StrictCorrect = v.StrictCorrect
	r.AttemptsCount++
	if elapsedSeconds > 0 {
		r.ElapsedSeconds += elapsedSeconds
	}
	r.AnsweredOnFirstAttempt = r.StrictCorrect && r.AttemptsCount == 1
	r.UsedNoHints = r.HintsUsed == 0
	r.ShowedPersistence = r.StrictCorrect && r.AttemptsCount > 1
	r.UpdatedAt = at
	return sub
}
