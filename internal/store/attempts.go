package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/assessor/internal/model"
)

const attemptColumns = `id, test_id, student_id, status, started_at, completed_at, result_json`

func scanAttempt(row rowScanner) (model.TestAttempt, error) {
	var a model.TestAttempt
	var result string
	if err := row.Scan(&a.ID, &a.TestID, &a.StudentID, &a.Status, &a.StartedAt, &a.CompletedAt, &result); err != nil {
		return a, err
	}
	if result != "" {
		a.Result = &model.AttemptResult{}
		if err := json.Unmarshal([]byte(result), a.Result); err != nil {
			return a, fmt.Errorf("decode result: %w", err)
		}
	}
	return a, nil
}

// StartAttempt returns the student's in-progress attempt for the test, creating one
// if none exists. The boolean reports whether a new attempt was created.
func (s *Store) StartAttempt(ctx context.Context, studentID string, testID int64) (model.TestAttempt, bool, error) {
	if _, err := s.GetTest(ctx, testID); err != nil {
		return model.TestAttempt{}, false, err
	}

	a, err := s.inProgressAttempt(ctx, studentID, testID)
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return a, false, err
	}

	a = model.TestAttempt{
		ID:        uuid.NewString(),
		TestID:    testID,
		StudentID: studentID,
		Status:    model.StatusInProgress,
		StartedAt: time.Now().UTC(),
	}
	_, err = s.exec(ctx, s.db,
		`INSERT INTO test_attempts (id, test_id, student_id, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.TestID, a.StudentID, a.Status, a.StartedAt,
	)
	if err != nil {
		// A concurrent start may have won the unique in-progress index.
		if existing, gerr := s.inProgressAttempt(ctx, studentID, testID); gerr == nil {
			return existing, false, nil
		}
		return model.TestAttempt{}, false, fmt.Errorf("insert attempt: %w", err)
	}
	return a, true, nil
}

func (s *Store) inProgressAttempt(ctx context.Context, studentID string, testID int64) (model.TestAttempt, error) {
	a, err := scanAttempt(s.queryRow(ctx, s.db,
		`SELECT `+attemptColumns+` FROM test_attempts
		 WHERE student_id = ? AND test_id = ? AND status = 'in_progress'`, studentID, testID))
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, id string) (model.TestAttempt, error) {
	a, err := scanAttempt(s.queryRow(ctx, s.db,
		`SELECT `+attemptColumns+` FROM test_attempts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return a, err
}

// CompleteAttempt stores the result and marks the attempt completed. It only
// transitions attempts that are still in progress and reports whether it did.
func (s *Store) CompleteAttempt(ctx context.Context, id string, result model.AttemptResult, completedAt time.Time) (bool, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("encode result: %w", err)
	}
	res, err := s.exec(ctx, s.db,
		`UPDATE test_attempts
		 SET status = 'completed', completed_at = ?, final_score = ?, basic_score = ?, result_json = ?
		 WHERE id = ? AND status = 'in_progress'`,
		completedAt, result.FinalScore, result.BasicScore, string(raw), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AbandonAttempt moves an in-progress attempt to the abandoned state.
func (s *Store) AbandonAttempt(ctx context.Context, id string) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE test_attempts SET status = 'abandoned' WHERE id = ? AND status = 'in_progress'`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetAttempt(ctx, id); err != nil {
		return err
	}
	return ErrAttemptNotInProgress
}

// ListCompletedAttempts returns the completed attempts of a student on a test,
// oldest completion first.
func (s *Store) ListCompletedAttempts(ctx context.Context, studentID string, testID int64) ([]model.TestAttempt, error) {
	return s.listAttempts(ctx,
		`SELECT `+attemptColumns+` FROM test_attempts
		 WHERE student_id = ? AND test_id = ? AND status = 'completed'
		 ORDER BY completed_at, id`, studentID, testID)
}

// ListAllCompletedAttempts returns every completed attempt, optionally limited
// to one test (testID 0 means all tests).
func (s *Store) ListAllCompletedAttempts(ctx context.Context, testID int64) ([]model.TestAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM test_attempts WHERE status = 'completed'`
	var args []any
	if testID != 0 {
		query += ` AND test_id = ?`
		args = append(args, testID)
	}
	query += ` ORDER BY completed_at, id`
	return s.listAttempts(ctx, query, args...)
}

func (s *Store) listAttempts(ctx context.Context, query string, args ...any) ([]model.TestAttempt, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.TestAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
