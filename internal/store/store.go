package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

// Driver names a supported database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

var (
	// ErrNotFound is returned when a question, test or attempt does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAttemptNotInProgress is returned when a mutation targets a finished attempt.
	ErrAttemptNotInProgress = errors.New("attempt is not in progress")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db     *sql.DB
	driver Driver
}

// New opens the database and ensures the schema exists.
// For sqlite, dsn is a file path (":memory:" for tests).
func New(driver Driver, dsn string) (*Store, error) {
	var drvName string
	inMemory := dsn == ":memory:"
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		drvName = "sqlite"
		if dsn == "" {
			dsn = "assessor.db"
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/assessor?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if inMemory {
		// Each :memory: connection is its own database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.Exec(schema)
	return err
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS questions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	correct_answer TEXT NOT NULL,
	hints_json TEXT NOT NULL DEFAULT '[]',
	explanation TEXT NOT NULL DEFAULT '',
	tags_json TEXT NOT NULL DEFAULT '[]',
	mark REAL NOT NULL DEFAULT 1,
	difficulty INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS tests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS test_questions (
	test_id INTEGER NOT NULL,
	question_id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (test_id, question_id),
	FOREIGN KEY (test_id) REFERENCES tests(id) ON DELETE CASCADE,
	FOREIGN KEY (question_id) REFERENCES questions(id)
);

CREATE TABLE IF NOT EXISTS test_attempts (
	id TEXT PRIMARY KEY,
	test_id INTEGER NOT NULL,
	student_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'in_progress',
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	final_score INTEGER,
	basic_score INTEGER,
	result_json TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (test_id) REFERENCES tests(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_test_attempts_in_progress
	ON test_attempts (student_id, test_id) WHERE status = 'in_progress';

CREATE TABLE IF NOT EXISTS question_attempts (
	attempt_id TEXT NOT NULL,
	question_id INTEGER NOT NULL,
	answer TEXT NOT NULL DEFAULT '',
	strict_correct INTEGER NOT NULL DEFAULT 0,
	hints_used INTEGER NOT NULL DEFAULT 0,
	explanation_viewed INTEGER NOT NULL DEFAULT 0,
	study_material_downloaded INTEGER NOT NULL DEFAULT 0,
	attempts_count INTEGER NOT NULL DEFAULT 0,
	elapsed_seconds INTEGER NOT NULL DEFAULT 0,
	generated_hints_json TEXT NOT NULL DEFAULT '[]',
	generated_explanation TEXT NOT NULL DEFAULT '',
	answered_on_first_attempt INTEGER NOT NULL DEFAULT 0,
	used_no_hints INTEGER NOT NULL DEFAULT 1,
	showed_persistence INTEGER NOT NULL DEFAULT 0,
	best_judge_score REAL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (attempt_id, question_id),
	FOREIGN KEY (attempt_id) REFERENCES test_attempts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS submissions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	attempt_id TEXT NOT NULL,
	question_id INTEGER NOT NULL,
	answer TEXT NOT NULL,
	strict_correct INTEGER NOT NULL DEFAULT 0,
	judge_score REAL,
	feedback TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	FOREIGN KEY (attempt_id, question_id) REFERENCES question_attempts(attempt_id, question_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS performance_metrics (
	student_id TEXT NOT NULL,
	test_id INTEGER NOT NULL,
	attempt_count INTEGER NOT NULL,
	average_final_score REAL NOT NULL,
	average_basic_score REAL NOT NULL,
	improvement_rate REAL NOT NULL,
	consistency_score REAL NOT NULL,
	average_hint_usage REAL NOT NULL,
	average_engagement REAL NOT NULL,
	average_time_seconds REAL NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (student_id, test_id)
);

CREATE TABLE IF NOT EXISTS exam_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS questions (
	id BIGSERIAL PRIMARY KEY,
	text TEXT NOT NULL,
	correct_answer TEXT NOT NULL,
	hints_json TEXT NOT NULL DEFAULT '[]',
	explanation TEXT NOT NULL DEFAULT '',
	tags_json TEXT NOT NULL DEFAULT '[]',
	mark DOUBLE PRECISION NOT NULL DEFAULT 1,
	difficulty INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS tests (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS test_questions (
	test_id BIGINT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	question_id BIGINT NOT NULL REFERENCES questions(id),
	position INTEGER NOT NULL,
	PRIMARY KEY (test_id, question_id)
);

CREATE TABLE IF NOT EXISTS test_attempts (
	id TEXT PRIMARY KEY,
	test_id BIGINT NOT NULL REFERENCES tests(id),
	student_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'in_progress',
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	final_score INTEGER,
	basic_score INTEGER,
	result_json TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_test_attempts_in_progress
	ON test_attempts (student_id, test_id) WHERE status = 'in_progress';

CREATE TABLE IF NOT EXISTS question_attempts (
	attempt_id TEXT NOT NULL REFERENCES test_attempts(id) ON DELETE CASCADE,
	question_id BIGINT NOT NULL,
	answer TEXT NOT NULL DEFAULT '',
	strict_correct BOOLEAN NOT NULL DEFAULT FALSE,
	hints_used INTEGER NOT NULL DEFAULT 0,
	explanation_viewed BOOLEAN NOT NULL DEFAULT FALSE,
	study_material_downloaded BOOLEAN NOT NULL DEFAULT FALSE,
	attempts_count INTEGER NOT NULL DEFAULT 0,
	elapsed_seconds INTEGER NOT NULL DEFAULT 0,
	generated_hints_json TEXT NOT NULL DEFAULT '[]',
	generated_explanation TEXT NOT NULL DEFAULT '',
	answered_on_first_attempt BOOLEAN NOT NULL DEFAULT FALSE,
	used_no_hints BOOLEAN NOT NULL DEFAULT TRUE,
	showed_persistence BOOLEAN NOT NULL DEFAULT FALSE,
	best_judge_score DOUBLE PRECISION,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS submissions (
	id BIGSERIAL PRIMARY KEY,
	attempt_id TEXT NOT NULL,
	question_id BIGINT NOT NULL,
	answer TEXT NOT NULL,
	strict_correct BOOLEAN NOT NULL DEFAULT FALSE,
	judge_score DOUBLE PRECISION,
	feedback TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	FOREIGN KEY (attempt_id, question_id) REFERENCES question_attempts(attempt_id, question_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS performance_metrics (
	student_id TEXT NOT NULL,
	test_id BIGINT NOT NULL,
	attempt_count INTEGER NOT NULL,
	average_final_score DOUBLE PRECISION NOT NULL,
	average_basic_score DOUBLE PRECISION NOT NULL,
	improvement_rate DOUBLE PRECISION NOT NULL,
	consistency_score DOUBLE PRECISION NOT NULL,
	average_hint_usage DOUBLE PRECISION NOT NULL,
	average_engagement DOUBLE PRECISION NOT NULL,
	average_time_seconds DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (student_id, test_id)
);

CREATE TABLE IF NOT EXISTS exam_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
