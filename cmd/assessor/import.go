package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/store"
)

// importTests loads test files into the database. Each file is imported once;
// a file changed after import is skipped so running attempts keep their questions.
func importTests(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("test file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("test file changed since last import, skipping to avoid altering existing attempts",
				"path", path)
			continue
		}

		var ti model.TestImport
		if err := json.Unmarshal(data, &ti); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := validateImport(ti); err != nil {
			return fmt.Errorf("validate %s: %w", path, err)
		}

		testID, err := importTest(ctx, db, ti, path, hash)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		slog.Info("imported test", "path", path, "test_id", testID, "questions", len(ti.Questions))
	}
	return nil
}

// importTest stores one parsed file and records its hash in one transaction.
func importTest(ctx context.Context, db *store.Store, ti model.TestImport, path, hash string) (int64, error) {
	questions := make([]model.Question, 0, len(ti.Questions))
	for _, qi := range ti.Questions {
		mark := qi.Mark
		if mark == 0 {
			mark = 1
		}
		difficulty := qi.Difficulty
		if difficulty == 0 {
			difficulty = model.MinDifficulty
		}
		questions = append(questions, model.Question{
			Text:          qi.Text,
			CorrectAnswer: qi.CorrectAnswer,
			Hints:         qi.Hints,
			Explanation:   qi.Explanation,
			Tags:          qi.Tags,
			Mark:          mark,
			Difficulty:    difficulty,
		})
	}
	return db.ImportTest(ctx, model.Test{Title: ti.Title, DurationMinutes: ti.DurationMinutes}, questions, path, hash)
}

func validateImport(ti model.TestImport) error {
	if strings.TrimSpace(ti.Title) == "" {
		return errors.New("test title is required")
	}
	if ti.DurationMinutes < 0 {
		return errors.New("duration_minutes must not be negative")
	}
	if len(ti.Questions) == 0 {
		return fmt.Errorf("test %q has no questions", ti.Title)
	}
	for i, q := range ti.Questions {
		switch {
		case strings.TrimSpace(q.Text) == "":
			return fmt.Errorf("question %d: text is required", i+1)
		case strings.TrimSpace(q.CorrectAnswer) == "":
			return fmt.Errorf("question %d: correct_answer is required", i+1)
		case len(q.Hints) > model.MaxStaticHints:
			return fmt.Errorf("question %d: at most %d hints allowed, got %d", i+1, model.MaxStaticHints, len(q.Hints))
		case q.Mark < 0:
			return fmt.Errorf("question %d: mark must not be negative", i+1)
		case q.Difficulty != 0 && (q.Difficulty < model.MinDifficulty || q.Difficulty > model.MaxDifficulty):
			return fmt.Errorf("question %d: difficulty must be between %d and %d", i+1, model.MinDifficulty, model.MaxDifficulty)
		}
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
