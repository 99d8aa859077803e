package model

import "time"

// AttemptsExport is the top-level JSON structure for completed attempt export.
type AttemptsExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	TestID     int64           `json:"test_id,omitempty"`
	Attempts   []AttemptExport `json:"attempts"`
}

// AttemptExport holds one completed attempt with its per-question records.
type AttemptExport struct {
	AttemptID     string                  `json:"attempt_id"`
	StudentID     string                  `json:"student_id"`
	TestID        int64                   `json:"test_id"`
	AttemptNumber int                     `json:"attempt_number"`
	StartedAt     time.Time               `json:"started_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	Result        *AttemptResult          `json:"result"`
	Records       []QuestionAttemptRecord `json:"records"`
}
