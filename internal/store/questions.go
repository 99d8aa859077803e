package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

const questionColumns = `id, text, correct_answer, hints_json, explanation, tags_json, mark, difficulty`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (model.Question, error) {
	var q model.Question
	var hints, tags string
	if err := row.Scan(&q.ID, &q.Text, &q.CorrectAnswer, &hints, &q.Explanation, &tags, &q.Mark, &q.Difficulty); err != nil {
		return q, err
	}
	var err error
	if q.Hints, err = decodeStrings(hints); err != nil {
		return q, fmt.Errorf("decode hints: %w", err)
	}
	if q.Tags, err = decodeStrings(tags); err != nil {
		return q, fmt.Errorf("decode tags: %w", err)
	}
	return q, nil
}

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	return s.insertQuestion(ctx, s.db, q)
}

func (s *Store) insertQuestion(ctx context.Context, db querier, q model.Question) (int64, error) {
	hints, err := encodeJSON(nonNil(q.Hints))
	if err != nil {
		return 0, err
	}
	tags, err := encodeJSON(nonNil(q.Tags))
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.queryRow(ctx, db,
		`INSERT INTO questions (text, correct_answer, hints_json, explanation, tags_json, mark, difficulty)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		q.Text, q.CorrectAnswer, hints, q.Explanation, tags, q.Mark, q.Difficulty,
	).Scan(&id)
	return id, err
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	q, err := scanQuestion(s.queryRow(ctx, s.db,
		`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return q, fmt.Errorf("question %d: %w", id, ErrNotFound)
	}
	return q, err
}

// ListQuestions returns all questions.
func (s *Store) ListQuestions(ctx context.Context) ([]model.Question, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+questionColumns+` FROM questions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// CreateTest creates a test referencing existing questions in the given order.
func (s *Store) CreateTest(ctx context.Context, t model.Test) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.createTest(ctx, tx, t)
		return err
	})
	return id, err
}

// ImportTest stores the questions, a test over them in the given order and the
// source file's content hash in one transaction.
func (s *Store) ImportTest(ctx context.Context, t model.Test, questions []model.Question, path, hash string) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t.QuestionIDs = make([]int64, 0, len(questions))
		for _, q := range questions {
			qID, err := s.insertQuestion(ctx, tx, q)
			if err != nil {
				return fmt.Errorf("insert question: %w", err)
			}
			t.QuestionIDs = append(t.QuestionIDs, qID)
		}
		var err error
		if id, err = s.createTest(ctx, tx, t); err != nil {
			return fmt.Errorf("create test: %w", err)
		}
		return s.setMetadata(ctx, tx, importHashPrefix+path, hash)
	})
	return id, err
}

func (s *Store) createTest(ctx context.Context, tx *sql.Tx, t model.Test) (int64, error) {
	var id int64
	if err := s.queryRow(ctx, tx,
		`INSERT INTO tests (title, duration_minutes) VALUES (?, ?) RETURNING id`,
		t.Title, t.DurationMinutes,
	).Scan(&id); err != nil {
		return 0, err
	}
	for i, qID := range t.QuestionIDs {
		if _, err := s.exec(ctx, tx,
			`INSERT INTO test_questions (test_id, question_id, position) VALUES (?, ?, ?)`,
			id, qID, i,
		); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetTest returns a test with its ordered question IDs.
func (s *Store) GetTest(ctx context.Context, id int64) (model.Test, error) {
	var t model.Test
	err := s.queryRow(ctx, s.db,
		`SELECT id, title, duration_minutes FROM tests WHERE id = ?`, id,
	).Scan(&t.ID, &t.Title, &t.DurationMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("test %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return t, err
	}

	rows, err := s.query(ctx, s.db,
		`SELECT question_id FROM test_questions WHERE test_id = ? ORDER BY position`, id)
	if err != nil {
		return t, err
	}
	defer rows.Close()
	for rows.Next() {
		var qID int64
		if err := rows.Scan(&qID); err != nil {
			return t, err
		}
		t.QuestionIDs = append(t.QuestionIDs, qID)
	}
	return t, rows.Err()
}

// TestQuestions returns the questions of a test in test order.
func (s *Store) TestQuestions(ctx context.Context, testID int64) ([]model.Question, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT q.id, q.text, q.correct_answer, q.hints_json, q.explanation, q.tags_json, q.mark, q.difficulty
		 FROM questions q JOIN test_questions tq ON tq.question_id = q.id
		 WHERE tq.test_id = ? ORDER BY tq.position`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// AttemptQuestion returns an attempt together with one of its test's questions.
// A question outside the attempt's test is reported as ErrNotFound.
func (s *Store) AttemptQuestion(ctx context.Context, attemptID string, questionID int64) (model.TestAttempt, model.Question, error) {
	a, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return a, model.Question{}, err
	}
	q, err := scanQuestion(s.queryRow(ctx, s.db,
		`SELECT q.id, q.text, q.correct_answer, q.hints_json, q.explanation, q.tags_json, q.mark, q.difficulty
		 FROM questions q JOIN test_questions tq ON tq.question_id = q.id
		 WHERE tq.test_id = ? AND q.id = ?`, a.TestID, questionID))
	if errors.Is(err, sql.ErrNoRows) {
		return a, q, fmt.Errorf("question %d in test %d: %w", questionID, a.TestID, ErrNotFound)
	}
	return a, q, err
}
