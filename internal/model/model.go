package model

import (
	"time"
)

// AttemptStatus represents the lifecycle status of a test attempt.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusCompleted  AttemptStatus = "completed"
	StatusAbandoned  AttemptStatus = "abandoned"
)

const (
	// MaxStaticHints is the number of authored hints a question may carry.
	MaxStaticHints = 3
	// MinDifficulty and MaxDifficulty bound Question.Difficulty.
	MinDifficulty = 1
	MaxDifficulty = 5
)

// Question represents authored question content.
type Question struct {
	ID            int64    `json:"id"`
	Text          string   `json:"text"`
	CorrectAnswer string   `json:"correct_answer"`
	Hints         []string `json:"hints"`
	Explanation   string   `json:"explanation"`
	Tags          []string `json:"tags"`
	Mark          float64  `json:"mark"`
	Difficulty    int      `json:"difficulty"`
}

// Test groups questions under an optional duration limit.
type Test struct {
	ID              int64   `json:"id"`
	Title           string  `json:"title"`
	DurationMinutes int     `json:"duration_minutes"` // 0 means no limit
	QuestionIDs     []int64 `json:"question_ids"`
}

// TestAttempt is one student's run through one test.
type TestAttempt struct {
	ID          string         `json:"id"`
	TestID      int64          `json:"test_id"`
	StudentID   string         `json:"student_id"`
	Status      AttemptStatus  `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      *AttemptResult `json:"result,omitempty"`
}

// Submission is one entry of a question's submission history.
type Submission struct {
	Answer        string    `json:"answer"`
	StrictCorrect bool      `json:"strict_correct"`
	JudgeScore    *float64  `json:"judge_score,omitempty"`
	Feedback      string    `json:"feedback,omitempty"`
	At            time.Time `json:"at"`
}

// Verdict is the outcome of judging a single submitted answer.
type Verdict struct {
	StrictCorrect bool     `json:"strict_correct"`
	Score         *float64 `json:"score,omitempty"`
	Feedback      string   `json:"feedback,omitempty"`
}

// QuestionAttemptRecord holds a student's state for one question within one attempt.
type QuestionAttemptRecord struct {
	AttemptID               string       `json:"attempt_id"`
	QuestionID              int64        `json:"question_id"`
	Answer                  string       `json:"answer"`
	StrictCorrect           bool         `json:"strict_correct"`
	HintsUsed               int          `json:"hints_used"`
	ExplanationViewed       bool         `json:"explanation_viewed"`
	StudyMaterialDownloaded bool         `json:"study_material_downloaded"`
	AttemptsCount           int          `json:"attempts_count"`
	ElapsedSeconds          int          `json:"elapsed_seconds"`
	GeneratedHints          []string     `json:"generated_hints"`
	GeneratedExplanation    string       `json:"generated_explanation"`
	AnsweredOnFirstAttempt  bool         `json:"answered_on_first_attempt"`
	UsedNoHints             bool         `json:"used_no_hints"`
	ShowedPersistence       bool         `json:"showed_persistence"`
	BestJudgeScore          *float64     `json:"best_judge_score,omitempty"`
	History                 []Submission `json:"history"`
	UpdatedAt               time.Time    `json:"updated_at"`
}

// QuestionBreakdown explains how a single question contributed to the final score.
type QuestionBreakdown struct {
	QuestionID         int64   `json:"question_id"`
	RawScore           float64 `json:"raw_score"`
	Penalty            float64 `json:"penalty"`
	FinalQuestionScore float64 `json:"final_question_score"`
	WeightedMark       float64 `json:"weighted_mark"`
	Mark               float64 `json:"mark"`
	IsCorrect          bool    `json:"is_correct"`
}

// AttemptResult is the metrics bundle stored on a completed attempt.
type AttemptResult struct {
	FinalScore              int                 `json:"final_score"`
	BasicScore              int                 `json:"basic_score"`
	TotalWeightedMarks      float64             `json:"total_weighted_marks"`
	TotalTestMarks          float64             `json:"total_test_marks"`
	TimePenalty             int                 `json:"time_penalty"`
	TotalElapsedSeconds     int                 `json:"total_elapsed_seconds"`
	TotalHintsUsed          int                 `json:"total_hints_used"`
	LearningEngagementRate  float64             `json:"learning_engagement_rate"`
	AverageTimePerQuestion  float64             `json:"average_time_per_question"`
	FirstAttemptSuccessRate float64             `json:"first_attempt_success_rate"`
	PersistenceScore        float64             `json:"persistence_score"`
	ConfidenceIndicator     float64             `json:"confidence_indicator"`
	HintDependencyRate      float64             `json:"hint_dependency_rate"`
	QuestionsRequiringStudy int                 `json:"questions_requiring_study"`
	MasteryAchieved         bool                `json:"mastery_achieved"`
	Breakdown               []QuestionBreakdown `json:"breakdown"`
}

// PerformanceMetrics is the derived trend record for a (student, test) pair.
type PerformanceMetrics struct {
	StudentID          string    `json:"student_id"`
	TestID             int64     `json:"test_id"`
	AttemptCount       int       `json:"attempt_count"`
	AverageFinalScore  float64   `json:"average_final_score"`
	AverageBasicScore  float64   `json:"average_basic_score"`
	ImprovementRate    float64   `json:"improvement_rate"`
	ConsistencyScore   float64   `json:"consistency_score"`
	AverageHintUsage   float64   `json:"average_hint_usage"`
	AverageEngagement  float64   `json:"average_engagement"`
	AverageTimeSeconds float64   `json:"average_time_seconds"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// JudgeRequest is sent to the free-text judgment service.
type JudgeRequest struct {
	QuestionText    string
	ReferenceAnswer string
	SubmittedAnswer string
}

// JudgeResult is the judgment service's answer. IsCorrect counts only when explicitly true.
type JudgeResult struct {
	IsCorrect bool    `json:"is_correct"`
	Score     float64 `json:"score"`
	Feedback  string  `json:"feedback"`
}

// HintRequest asks the generation service for one more hint.
type HintRequest struct {
	QuestionText    string
	ReferenceAnswer string
	WrongAnswer     string
}

// ExplanationRequest asks the generation service for a simplified explanation.
type ExplanationRequest struct {
	QuestionText     string
	ReferenceAnswer  string
	FollowUpQuestion string
}

// TestImport is used for loading a test and its questions from JSON.
type TestImport struct {
	Title           string           `json:"title"`
	DurationMinutes int              `json:"duration_minutes"`
	Questions       []QuestionImport `json:"questions"`
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	Text          string   `json:"text"`
	CorrectAnswer string   `json:"correct_answer"`
	Hints         []string `json:"hints"`
	Explanation   string   `json:"explanation"`
	Tags          []string `json:"tags"`
	Mark          float64  `json:"mark"`
	Difficulty    int      `json:"difficulty"`
}
