package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// ExportCompletedAttempts builds export-ready data for all completed attempts,
// optionally limited to one test (testID 0 means all tests).
func (s *Store) ExportCompletedAttempts(ctx context.Context, testID int64) (model.AttemptsExport, error) {
	out := model.AttemptsExport{ExportedAt: time.Now().UTC(), TestID: testID}

	attempts, err := s.ListAllCompletedAttempts(ctx, testID)
	if err != nil {
		return out, fmt.Errorf("list attempts: %w", err)
	}

	// Track attempt count per (student, test) for attempt_number.
	type pair struct {
		student string
		test    int64
	}
	attemptCount := make(map[pair]int)

	for _, a := range attempts {
		key := pair{a.StudentID, a.TestID}
		attemptCount[key]++

		records, err := s.ListRecords(ctx, a.ID)
		if err != nil {
			return out, fmt.Errorf("list records for attempt %s: %w", a.ID, err)
		}
		out.Attempts = append(out.Attempts, model.AttemptExport{
			AttemptID:     a.ID,
			StudentID:     a.StudentID,
			TestID:        a.TestID,
			AttemptNumber: attemptCount[key],
			StartedAt:     a.StartedAt,
			CompletedAt:   a.CompletedAt,
			Result:        a.Result,
			Records:       records,
		})
	}
	return out, nil
}
