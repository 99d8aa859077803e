package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// UpsertPerformanceMetrics inserts or replaces the metrics row for a (student, test) pair.
func (s *Store) UpsertPerformanceMetrics(ctx context.Context, m model.PerformanceMetrics) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, s.db,
		`INSERT INTO performance_metrics (student_id, test_id, attempt_count, average_final_score,
			average_basic_score, improvement_rate, consistency_score, average_hint_usage,
			average_engagement, average_time_seconds, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (student_id, test_id) DO UPDATE SET
			attempt_count = excluded.attempt_count,
			average_final_score = excluded.average_final_score,
			average_basic_score = excluded.average_basic_score,
			improvement_rate = excluded.improvement_rate,
			consistency_score = excluded.consistency_score,
			average_hint_usage = excluded.average_hint_usage,
			average_engagement = excluded.average_engagement,
			average_time_seconds = excluded.average_time_seconds,
			updated_at = excluded.updated_at`,
		m.StudentID, m.TestID, m.AttemptCount, m.AverageFinalScore, m.AverageBasicScore,
		m.ImprovementRate, m.ConsistencyScore, m.AverageHintUsage, m.AverageEngagement,
		m.AverageTimeSeconds, m.UpdatedAt,
	)
	return err
}

// GetPerformanceMetrics returns the metrics for a (student, test) pair, or nil if none exist.
func (s *Store) GetPerformanceMetrics(ctx context.Context, studentID string, testID int64) (*model.PerformanceMetrics, error) {
	var m model.PerformanceMetrics
	err := s.queryRow(ctx, s.db,
		`SELECT student_id, test_id, attempt_count, average_final_score, average_basic_score,
			improvement_rate, consistency_score, average_hint_usage, average_engagement,
			average_time_seconds, updated_at
		 FROM performance_metrics WHERE student_id = ? AND test_id = ?`, studentID, testID,
	).Scan(&m.StudentID, &m.TestID, &m.AttemptCount, &m.AverageFinalScore, &m.AverageBasicScore,
		&m.ImprovementRate, &m.ConsistencyScore, &m.AverageHintUsage, &m.AverageEngagement,
		&m.AverageTimeSeconds, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
