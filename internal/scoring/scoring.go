// Package scoring computes the final result of a test attempt and the
// performance trends across a student's attempts.
package scoring

import (
	"errors"
	"math"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/store"
)

var (
	// ErrEmptyTest is returned when finishing an attempt on a test with no questions.
	ErrEmptyTest = errors.New("test has no questions")
	// ErrAttemptNotInProgress is returned when finishing or abandoning a terminated attempt.
	ErrAttemptNotInProgress = store.ErrAttemptNotInProgress
)

// Config holds the constants of the scoring formula.
type Config struct {
	HintPenalty          float64 // per hint used
	ExplanationPenalty   float64
	StudyMaterialPenalty float64
	// CorrectThreshold is the raw score at which a question counts as correct.
	CorrectThreshold float64
	// StudyThreshold is the final question score below which a question needs study.
	StudyThreshold float64

	MasteryFinalScore       int
	MasteryFirstAttemptRate float64

	// ConfidenceSeconds is the time under which a correct answer counts as confident.
	ConfidenceSeconds int

	// DifficultyMultipliers scales support penalties by question difficulty.
	DifficultyMultipliers map[int]float64

	TimePenaltyPerMinute int
	OvertimeGraceMinutes int
	OvertimeFlatPenalty  int
}

// DefaultConfig returns the standard scoring constants.
func DefaultConfig() Config {
	return Config{
		HintPenalty:             10,
		ExplanationPenalty:      20,
		StudyMaterialPenalty:    20,
		CorrectThreshold:        60,
		StudyThreshold:          60,
		MasteryFinalScore:       90,
		MasteryFirstAttemptRate: 80,
		ConfidenceSeconds:       30,
		DifficultyMultipliers: map[int]float64{
			1: 1.0,
			2: 0.9,
			3: 0.75,
			4: 0.6,
			5: 0.5,
		},
		TimePenaltyPerMinute: 1,
		OvertimeGraceMinutes: 5,
		OvertimeFlatPenalty:  10,
	}
}

// DifficultyMultiplier returns the penalty multiplier for a difficulty level.
// Levels outside the known range are clamped.
func (c Config) DifficultyMultiplier(difficulty int) float64 {
	difficulty = max(model.MinDifficulty, min(model.MaxDifficulty, difficulty))
	if m, ok := c.DifficultyMultipliers[difficulty]; ok {
		return m
	}
	return 1
}

// RawScore is the mean of the scored submissions in the history, or 100/0 by
// strict correctness when none was scored.
func RawScore(r model.QuestionAttemptRecord) float64 {
	var sum float64
	n := 0
	for _, s := range r.History {
		if s.JudgeScore != nil {
			sum += *s.JudgeScore
			n++
		}
	}
	if n > 0 {
		return sum / float64(n)
	}
	if r.StrictCorrect {
		return 100
	}
	return 0
}

// QuestionScore scores one question of an attempt.
func (c Config) QuestionScore(q model.Question, r model.QuestionAttemptRecord) model.QuestionBreakdown {
	raw := clamp(RawScore(r), 0, 100)

	support := float64(r.HintsUsed) * c.HintPenalty
	if r.ExplanationViewed {
		support += c.ExplanationPenalty
	}
	if r.StudyMaterialDownloaded {
		support += c.StudyMaterialPenalty
	}
	penalty := support * c.DifficultyMultiplier(q.Difficulty)
	final := clamp(raw-penalty, 0, 100)

	return model.QuestionBreakdown{
		QuestionID:         q.ID,
		RawScore:           raw,
		Penalty:            penalty,
		FinalQuestionScore: final,
		WeightedMark:       final / 100 * q.Mark,
		Mark:               q.Mark,
		IsCorrect:          raw >= c.CorrectThreshold,
	}
}

// TimePenalty returns the points deducted for exceeding the duration limit.
func (c Config) TimePenalty(durationMinutes, elapsedSeconds int) int {
	if durationMinutes <= 0 {
		return 0
	}
	extra := int(math.Floor(float64(elapsedSeconds)/60 - float64(durationMinutes)))
	if extra <= 0 {
		return 0
	}
	penalty := extra * c.TimePenaltyPerMinute
	if extra > c.OvertimeGraceMinutes {
		penalty += c.OvertimeFlatPenalty
	}
	return penalty
}

// Compute builds the result of an attempt from its test, the test's questions
// and the attempt's records. Questions without a record count as unanswered.
func (c Config) Compute(test model.Test, questions []model.Question, records []model.QuestionAttemptRecord) (model.AttemptResult, error) {
	if len(questions) == 0 {
		return model.AttemptResult{}, ErrEmptyTest
	}

	byQuestion := make(map[int64]model.QuestionAttemptRecord, len(records))
	for _, r := range records {
		byQuestion[r.QuestionID] = r
	}

	var res model.AttemptResult
	var engaged, firstAttempt, correct, confident int
	var retried, persisted, correctWithHints int
	res.Breakdown = make([]model.QuestionBreakdown, 0, len(questions))

	for _, q := range questions {
		r := byQuestion[q.ID]
		b := c.QuestionScore(q, r)
		res.Breakdown = append(res.Breakdown, b)

		res.TotalWeightedMarks += b.WeightedMark
		res.TotalTestMarks += q.Mark
		res.TotalElapsedSeconds += r.ElapsedSeconds
		res.TotalHintsUsed += r.HintsUsed

		if r.HintsUsed > 0 || r.ExplanationViewed {
			engaged++
		}
		if r.AnsweredOnFirstAttempt {
			firstAttempt++
		}
		if r.AttemptsCount > 1 {
			retried++
			if b.IsCorrect {
				persisted++
			}
		}
		if b.IsCorrect {
			correct++
			if r.ElapsedSeconds < c.ConfidenceSeconds {
				confident++
			}
			if r.HintsUsed > 0 {
				correctWithHints++
			}
		}
		if b.FinalQuestionScore < c.StudyThreshold {
			res.QuestionsRequiringStudy++
		}
	}

	n := len(questions)
	totalMarks := res.TotalTestMarks
	if totalMarks <= 0 {
		totalMarks = 1
	}
	res.BasicScore = int(math.Round(res.TotalWeightedMarks / totalMarks * 100))
	res.BasicScore = max(0, min(100, res.BasicScore))
	res.TimePenalty = c.TimePenalty(test.DurationMinutes, res.TotalElapsedSeconds)
	res.FinalScore = max(0, res.BasicScore-res.TimePenalty)

	res.LearningEngagementRate = percent(engaged, n)
	res.AverageTimePerQuestion = float64(res.TotalElapsedSeconds) / float64(n)
	res.FirstAttemptSuccessRate = percent(firstAttempt, n)
	res.PersistenceScore = 100
	if retried > 0 {
		res.PersistenceScore = percent(persisted, retried)
	}
	res.ConfidenceIndicator = percent(confident, correct)
	res.HintDependencyRate = percent(correctWithHints, correct)
	res.MasteryAchieved = res.FinalScore >= c.MasteryFinalScore && res.FirstAttemptSuccessRate >= c.MasteryFirstAttemptRate
	return res, nil
}

// percent returns part/whole as a whole-number percentage, 0 when whole is 0.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part) / float64(whole) * 100)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
