package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

const recordColumns = `attempt_id, question_id, answer, strict_correct, hints_used, explanation_viewed,
	study_material_downloaded, attempts_count, elapsed_seconds, generated_hints_json, generated_explanation,
	answered_on_first_attempt, used_no_hints, showed_persistence, best_judge_score, updated_at`

// upsertRecordSQL never lowers best_judge_score: an incoming NULL or smaller
// value keeps the stored one.
const upsertRecordSQL = `INSERT INTO question_attempts (` + recordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (attempt_id, question_id) DO UPDATE SET
		answer = excluded.answer,
		strict_correct = excluded.strict_correct,
		hints_used = excluded.hints_used,
		explanation_viewed = excluded.explanation_viewed,
		study_material_downloaded = excluded.study_material_downloaded,
		attempts_count = excluded.attempts_count,
		elapsed_seconds = excluded.elapsed_seconds,
		generated_hints_json = excluded.generated_hints_json,
		generated_explanation = excluded.generated_explanation,
		answered_on_first_attempt = excluded.answered_on_first_attempt,
		used_no_hints = excluded.used_no_hints,
		showed_persistence = excluded.showed_persistence,
		best_judge_score = CASE
			WHEN excluded.best_judge_score IS NULL THEN question_attempts.best_judge_score
			WHEN question_attempts.best_judge_score IS NULL THEN excluded.best_judge_score
			WHEN excluded.best_judge_score > question_attempts.best_judge_score THEN excluded.best_judge_score
			ELSE question_attempts.best_judge_score
		END,
		updated_at = excluded.updated_at`

func scanRecord(row rowScanner) (model.QuestionAttemptRecord, error) {
	var r model.QuestionAttemptRecord
	var hints string
	err := row.Scan(&r.AttemptID, &r.QuestionID, &r.Answer, &r.StrictCorrect, &r.HintsUsed, &r.ExplanationViewed,
		&r.StudyMaterialDownloaded, &r.AttemptsCount, &r.ElapsedSeconds, &hints, &r.GeneratedExplanation,
		&r.AnsweredOnFirstAttempt, &r.UsedNoHints, &r.ShowedPersistence, &r.BestJudgeScore, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	if r.GeneratedHints, err = decodeStrings(hints); err != nil {
		return r, fmt.Errorf("decode generated hints: %w", err)
	}
	return r, nil
}

// GetRecord returns the record for an (attempt, question) pair with its full
// submission history, or nil if none exists yet.
func (s *Store) GetRecord(ctx context.Context, attemptID string, questionID int64) (*model.QuestionAttemptRecord, error) {
	return s.getRecord(ctx, s.db, attemptID, questionID)
}

func (s *Store) getRecord(ctx context.Context, q querier, attemptID string, questionID int64) (*model.QuestionAttemptRecord, error) {
	r, err := scanRecord(s.queryRow(ctx, q,
		`SELECT `+recordColumns+` FROM question_attempts WHERE attempt_id = ? AND question_id = ?`,
		attemptID, questionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	history, err := s.submissions(ctx, q, attemptID, &questionID)
	if err != nil {
		return nil, err
	}
	r.History = history[questionID]
	return &r, nil
}

// ListRecords returns every record of an attempt ordered by question ID.
func (s *Store) ListRecords(ctx context.Context, attemptID string) ([]model.QuestionAttemptRecord, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT `+recordColumns+` FROM question_attempts WHERE attempt_id = ? ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	var records []model.QuestionAttemptRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	history, err := s.submissions(ctx, s.db, attemptID, nil)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].History = history[records[i].QuestionID]
	}
	return records, nil
}

func (s *Store) submissions(ctx context.Context, q querier, attemptID string, questionID *int64) (map[int64][]model.Submission, error) {
	query := `SELECT question_id, answer, strict_correct, judge_score, feedback, created_at
		FROM submissions WHERE attempt_id = ?`
	args := []any{attemptID}
	if questionID != nil {
		query += ` AND question_id = ?`
		args = append(args, *questionID)
	}
	query += ` ORDER BY id`

	rows, err := s.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]model.Submission)
	for rows.Next() {
		var qID int64
		var sub model.Submission
		if err := rows.Scan(&qID, &sub.Answer, &sub.StrictCorrect, &sub.JudgeScore, &sub.Feedback, &sub.At); err != nil {
			return nil, err
		}
		out[qID] = append(out[qID], sub)
	}
	return out, rows.Err()
}

// UpdateRecord applies fn to the current record of an (attempt, question)
// pair and saves it. The read, fn and the write happen in one transaction
// holding the attempt's lock, so concurrent updates of the same attempt are
// serialized. fn receives a new record with UsedNoHints set when none exists
// and must not block. An error from fn aborts the update.
func (s *Store) UpdateRecord(ctx context.Context, attemptID string, questionID int64, fn func(r *model.QuestionAttemptRecord) error) (*model.QuestionAttemptRecord, error) {
	var out *model.QuestionAttemptRecord
	err := s.withRecord(ctx, attemptID, questionID, func(tx *sql.Tx, r *model.QuestionAttemptRecord) error {
		if err := fn(r); err != nil {
			return err
		}
		out = r
		return s.upsertRecord(ctx, tx, *r)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendSubmission is UpdateRecord for a new submission: fn updates the record
// and returns the submission, which is appended to the record's history in the
// same transaction.
func (s *Store) AppendSubmission(ctx context.Context, attemptID string, questionID int64, fn func(r *model.QuestionAttemptRecord) model.Submission) (*model.QuestionAttemptRecord, error) {
	var out *model.QuestionAttemptRecord
	err := s.withRecord(ctx, attemptID, questionID, func(tx *sql.Tx, r *model.QuestionAttemptRecord) error {
		sub := fn(r)
		if err := s.upsertRecord(ctx, tx, *r); err != nil {
			return err
		}
		out = r
		_, err := s.exec(ctx, tx,
			`INSERT INTO submissions (attempt_id, question_id, answer, strict_correct, judge_score, feedback, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			attemptID, questionID, sub.Answer, sub.StrictCorrect, sub.JudgeScore, sub.Feedback, sub.At,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withRecord locks the attempt, checks it is in progress and loads the record
// for fn inside one transaction.
func (s *Store) withRecord(ctx context.Context, attemptID string, questionID int64, fn func(tx *sql.Tx, r *model.QuestionAttemptRecord) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockAttempt(ctx, tx, attemptID); err != nil {
			return err
		}
		if err := s.requireInProgress(ctx, tx, attemptID); err != nil {
			return err
		}
		r, err := s.getRecord(ctx, tx, attemptID, questionID)
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		if r == nil {
			r = &model.QuestionAttemptRecord{AttemptID: attemptID, QuestionID: questionID, UsedNoHints: true}
		}
		return fn(tx, r)
	})
}

// lockAttempt opens the transaction with a write on the attempt row: postgres
// takes the row lock and sqlite takes its database write lock before any read.
func (s *Store) lockAttempt(ctx context.Context, tx *sql.Tx, attemptID string) error {
	_, err := s.exec(ctx, tx, `UPDATE test_attempts SET status = status WHERE id = ?`, attemptID)
	return err
}

func (s *Store) upsertRecord(ctx context.Context, q querier, r model.QuestionAttemptRecord) error {
	hints, err := encodeJSON(nonNil(r.GeneratedHints))
	if err != nil {
		return err
	}
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err = s.exec(ctx, q, upsertRecordSQL,
		r.AttemptID, r.QuestionID, r.Answer, r.StrictCorrect, r.HintsUsed, r.ExplanationViewed,
		r.StudyMaterialDownloaded, r.AttemptsCount, r.ElapsedSeconds, hints, r.GeneratedExplanation,
		r.AnsweredOnFirstAttempt, r.UsedNoHints, r.ShowedPersistence, r.BestJudgeScore, updated,
	)
	return err
}

func (s *Store) requireInProgress(ctx context.Context, q querier, attemptID string) error {
	var status model.AttemptStatus
	err := s.queryRow(ctx, q, `SELECT status FROM test_attempts WHERE id = ?`, attemptID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attempt %s: %w", attemptID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if status != model.StatusInProgress {
		return ErrAttemptNotInProgress
	}
	return nil
}
