package tutor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/judge"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/store"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeGenerator struct {
	fail         bool
	hintCalls    int
	explCalls    int
	lastWrong    string
	lastFollowUp string
}

func (f *fakeGenerator) GenerateHint(ctx context.Context, req model.HintRequest) (string, error) {
	f.hintCalls++
	f.lastWrong = req.WrongAnswer
	if f.fail {
		return "", errors.New("generation unavailable")
	}
	return fmt.Sprintf("generated hint %d", f.hintCalls), nil
}

func (f *fakeGenerator) GenerateExplanation(ctx context.Context, req model.ExplanationRequest) (string, error) {
	f.explCalls++
	f.lastFollowUp = req.FollowUpQuestion
	if f.fail {
		return "", errors.New("generation unavailable")
	}
	if req.FollowUpQuestion != "" {
		return "answer to: " + req.FollowUpQuestion, nil
	}
	return fmt.Sprintf("generated explanation %d", f.explCalls), nil
}

type fixture struct {
	store   *store.Store
	attempt model.TestAttempt
	// plain has two static hints and no explanation; authored has an explanation.
	plain, authored int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	plain, err := s.InsertQuestion(ctx, model.Question{
		Text: "H2O is ___.", CorrectAnswer: "water", Hints: []string{"It is a liquid.", "You drink it."}, Mark: 1, Difficulty: 1,
	})
	if err != nil {
		t.Fatalf("InsertQuestion: %v", err)
	}
	authored, err := s.InsertQuestion(ctx, model.Question{
		Text: "NaCl is ___.", CorrectAnswer: "salt", Explanation: "Sodium plus chlorine.", Mark: 1, Difficulty: 2,
	})
	if err != nil {
		t.Fatalf("InsertQuestion: %v", err)
	}
	testID, err := s.CreateTest(ctx, model.Test{Title: "Chemistry", QuestionIDs: []int64{plain, authored}})
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	a, _, err := s.StartAttempt(ctx, "student-1", testID)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	return fixture{store: s, attempt: a, plain: plain, authored: authored}
}

func TestHintEscalation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gen := &fakeGenerator{}
	tu := New(f.store, gen, time.Second)

	want := []struct {
		hint, source string
	}{
		{"It is a liquid.", SourceStatic},
		{"You drink it.", SourceStatic},
		{"generated hint 1", SourceGenerated},
		{"generated hint 2", SourceGenerated},
	}
	for i, w := range want {
		res, err := tu.Hint(ctx, f.attempt.ID, f.plain, i, "sand")
		if err != nil {
			t.Fatalf("Hint(%d): %v", i, err)
		}
		if res.Hint != w.hint || res.Source != w.source {
			t.Errorf("Hint(%d) = %q (%s), want %q (%s)", i, res.Hint, res.Source, w.hint, w.source)
		}
		if res.HintsUsed != i+1 {
			t.Errorf("Hint(%d) HintsUsed = %d, want %d", i, res.HintsUsed, i+1)
		}
	}
	if gen.lastWrong != "sand" {
		t.Errorf("wrong answer passed to generator = %q", gen.lastWrong)
	}

	// Re-requesting returns the cached hint without generating.
	res, err := tu.Hint(ctx, f.attempt.ID, f.plain, 2, "")
	if err != nil {
		t.Fatalf("Hint(2) again: %v", err)
	}
	if res.Hint != "generated hint 1" || res.Source != SourceCached {
		t.Errorf("cached hint = %q (%s)", res.Hint, res.Source)
	}
	if gen.hintCalls != 2 {
		t.Errorf("generator calls = %d, want 2", gen.hintCalls)
	}

	rec, err := f.store.GetRecord(ctx, f.attempt.ID, f.plain)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.HintsUsed != 4 || len(rec.GeneratedHints) != 2 || rec.UsedNoHints {
		t.Errorf("record = %+v", rec)
	}
}

func TestHintOutOfOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tu := New(f.store, &fakeGenerator{}, time.Second)

	for _, idx := range []int{-1, 1, 5} {
		if _, err := tu.Hint(ctx, f.attempt.ID, f.plain, idx, ""); !errors.Is(err, ErrHintOutOfOrder) {
			t.Errorf("Hint(%d) error = %v, want ErrHintOutOfOrder", idx, err)
		}
	}
}

func TestHintFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tu := New(f.store, &fakeGenerator{fail: true}, time.Second)

	// The authored question has no static hints, so index 0 needs generation.
	res, err := tu.Hint(ctx, f.attempt.ID, f.authored, 0, "")
	if err != nil {
		t.Fatalf("Hint: %v", err)
	}
	if res.Source != SourceFallback || res.Hint != i18n.T(ctx, "HintFallback") {
		t.Errorf("fallback hint = %+v", res)
	}
	if res.HintsUsed != 0 {
		t.Errorf("fallback should not count as a hint used, got %d", res.HintsUsed)
	}
	rec, err := f.store.GetRecord(ctx, f.attempt.ID, f.authored)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec != nil {
		t.Errorf("fallback should not persist a record, got %+v", rec)
	}
}

func TestExplanation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gen := &fakeGenerator{}
	tu := New(f.store, gen, time.Second)

	t.Run("static", func(t *testing.T) {
		res, err := tu.Explanation(ctx, f.authored, f.attempt.ID, "")
		if err != nil {
			t.Fatalf("Explanation: %v", err)
		}
		if res.Content != "Sodium plus chlorine." || res.Source != SourceStatic {
			t.Errorf("explanation = %+v", res)
		}
	})

	t.Run("generated then cached", func(t *testing.T) {
		res, err := tu.Explanation(ctx, f.plain, f.attempt.ID, "")
		if err != nil {
			t.Fatalf("Explanation: %v", err)
		}
		if res.Source != SourceGenerated {
			t.Errorf("first explanation source = %s", res.Source)
		}
		again, err := tu.Explanation(ctx, f.plain, f.attempt.ID, "")
		if err != nil {
			t.Fatalf("Explanation: %v", err)
		}
		if again.Source != SourceCached || again.Content != res.Content {
			t.Errorf("second explanation = %+v, want cached %q", again, res.Content)
		}
	})

	t.Run("follow-up bypasses cache", func(t *testing.T) {
		calls := gen.explCalls
		res, err := tu.Explanation(ctx, f.authored, f.attempt.ID, "why salty?")
		if err != nil {
			t.Fatalf("Explanation: %v", err)
		}
		if res.Content != "answer to: why salty?" || gen.explCalls != calls+1 {
			t.Errorf("follow-up explanation = %+v", res)
		}
		rec, err := f.store.GetRecord(ctx, f.attempt.ID, f.authored)
		if err != nil {
			t.Fatalf("GetRecord: %v", err)
		}
		if rec.GeneratedExplanation != "" {
			t.Errorf("follow-up answer should not be cached, got %q", rec.GeneratedExplanation)
		}
		if !rec.ExplanationViewed {
			t.Error("ExplanationViewed should be set")
		}
	})

	t.Run("without attempt", func(t *testing.T) {
		calls := gen.explCalls
		res, err := tu.Explanation(ctx, f.plain, "", "")
		if err != nil {
			t.Fatalf("Explanation: %v", err)
		}
		if res.Source != SourceGenerated || gen.explCalls != calls+1 {
			t.Errorf("explanation without attempt = %+v", res)
		}
	})

	t.Run("unknown question", func(t *testing.T) {
		if _, err := tu.Explanation(ctx, 9999, "", ""); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestExplanationFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tu := New(f.store, &fakeGenerator{fail: true}, time.Second)

	res, err := tu.Explanation(ctx, f.plain, f.attempt.ID, "")
	if err != nil {
		t.Fatalf("Explanation: %v", err)
	}
	if res.Source != SourceFallback || res.Content != i18n.T(ctx, "ExplanationFallback") {
		t.Errorf("fallback explanation = %+v", res)
	}
	rec, err := f.store.GetRecord(ctx, f.attempt.ID, f.plain)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec != nil && rec.GeneratedExplanation != "" {
		t.Error("fallback should not be cached")
	}
}

func TestStudyMaterialDownloaded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tu := New(f.store, nil, 0)

	if err := tu.StudyMaterialDownloaded(ctx, f.attempt.ID, f.plain); err != nil {
		t.Fatalf("StudyMaterialDownloaded: %v", err)
	}
	rec, err := f.store.GetRecord(ctx, f.attempt.ID, f.plain)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if !rec.StudyMaterialDownloaded {
		t.Error("StudyMaterialDownloaded should be set")
	}

	if err := f.store.AbandonAttempt(ctx, f.attempt.ID); err != nil {
		t.Fatalf("AbandonAttempt: %v", err)
	}
	if err := tu.StudyMaterialDownloaded(ctx, f.attempt.ID, f.authored); !errors.Is(err, store.ErrAttemptNotInProgress) {
		t.Errorf("error = %v, want ErrAttemptNotInProgress", err)
	}
	if _, err := tu.Hint(ctx, f.attempt.ID, f.plain, 0, ""); !errors.Is(err, store.ErrAttemptNotInProgress) {
		t.Errorf("Hint error = %v, want ErrAttemptNotInProgress", err)
	}
}

// gatedGenerator blocks each generation until released.
type gatedGenerator struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGatedGenerator() *gatedGenerator {
	return &gatedGenerator{started: make(chan struct{}, 2), release: make(chan struct{})}
}

func (g *gatedGenerator) GenerateHint(ctx context.Context, req model.HintRequest) (string, error) {
	n := g.calls.Add(1)
	g.started <- struct{}{}
	<-g.release
	return fmt.Sprintf("gated hint %d", n), nil
}

func (g *gatedGenerator) GenerateExplanation(ctx context.Context, req model.ExplanationRequest) (string, error) {
	g.started <- struct{}{}
	<-g.release
	return "gated explanation", nil
}

type gatedJudge struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedJudge) JudgeAnswer(ctx context.Context, req model.JudgeRequest) (*model.JudgeResult, error) {
	g.started <- struct{}{}
	<-g.release
	return &model.JudgeResult{Score: 40, Feedback: "close"}, nil
}

func checkSubmissionKept(t *testing.T, rec *model.QuestionAttemptRecord, answer string, elapsed int) {
	t.Helper()
	if rec.AttemptsCount != 1 || len(rec.History) != 1 {
		t.Errorf("attempts=%d history=%d, want 1/1", rec.AttemptsCount, len(rec.History))
	}
	if rec.Answer != answer || rec.ElapsedSeconds != elapsed {
		t.Errorf("answer=%q elapsed=%d, want %q/%d", rec.Answer, rec.ElapsedSeconds, answer, elapsed)
	}
}

func TestHintDuringSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gen := newGatedGenerator()
	tu := New(f.store, gen, time.Second)
	svc := judge.NewService(f.store, judge.NewAnswerJudge(nil, 0))

	done := make(chan error, 1)
	go func() {
		// No static hints on this question, so index 0 is generated.
		_, err := tu.Hint(ctx, f.attempt.ID, f.authored, 0, "")
		done <- err
	}()
	<-gen.started
	if _, err := svc.Submit(ctx, f.attempt.ID, f.authored, "salt", 12); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	close(gen.release)
	if err := <-done; err != nil {
		t.Fatalf("Hint: %v", err)
	}

	rec, err := f.store.GetRecord(ctx, f.attempt.ID, f.authored)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	checkSubmissionKept(t, rec, "salt", 12)
	if !rec.StrictCorrect || !rec.AnsweredOnFirstAttempt {
		t.Errorf("correct first answer lost: %+v", rec)
	}
	if rec.HintsUsed != 1 || len(rec.GeneratedHints) != 1 || rec.UsedNoHints {
		t.Errorf("hint lost: used=%d cached=%v noHints=%v", rec.HintsUsed, rec.GeneratedHints, rec.UsedNoHints)
	}
}

func TestSubmissionDuringHint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tu := New(f.store, &fakeGenerator{}, time.Second)
	j := &gatedJudge{started: make(chan struct{}, 1), release: make(chan struct{})}
	svc := judge.NewService(f.store, judge.NewAnswerJudge(j, time.Second))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit(ctx, f.attempt.ID, f.authored, "sugar", 7)
		done <- err
	}()
	<-j.started
	res, err := tu.Hint(ctx, f.attempt.ID, f.authored, 0, "")
	if err != nil {
		t.Fatalf("Hint: %v", err)
	}
	close(j.release)
	if err := <-done; err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec, err := f.store.GetRecord(ctx, f.attempt.ID, f.authored)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	checkSubmissionKept(t, rec, "sugar", 7)
	if rec.StrictCorrect || rec.BestJudgeScore == nil || *rec.BestJudgeScore != 40 {
		t.Errorf("judged submission = %+v", rec)
	}
	if rec.HintsUsed != 1 || len(rec.GeneratedHints) != 1 || rec.GeneratedHints[0] != res.Hint || rec.UsedNoHints {
		t.Errorf("hint lost: used=%d cached=%v noHints=%v", rec.HintsUsed, rec.GeneratedHints, rec.UsedNoHints)
	}
}

func TestExplanationDuringSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gen := newGatedGenerator()
	tu := New(f.store, gen, time.Second)
	svc := judge.NewService(f.store, judge.NewAnswerJudge(nil, 0))

	done := make(chan error, 1)
	go func() {
		_, err := tu.Explanation(ctx, f.plain, f.attempt.ID, "")
		done <- err
	}()
	<-gen.started
	if _, err := svc.Submit(ctx, f.attempt.ID, f.plain, "water", 9); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	close(gen.release)
	if err := <-done; err != nil {
		t.Fatalf("Explanation: %v", err)
	}

	rec, err := f.store.GetRecord(ctx, f.attempt.ID, f.plain)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	checkSubmissionKept(t, rec, "water", 9)
	if !rec.StrictCorrect {
		t.Error("correct answer lost")
	}
	if !rec.ExplanationViewed || rec.GeneratedExplanation != "gated explanation" {
		t.Errorf("explanation lost: viewed=%v cached=%q", rec.ExplanationViewed, rec.GeneratedExplanation)
	}
}

func TestConcurrentHintGeneration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gen := newGatedGenerator()
	tu := New(f.store, gen, time.Second)

	var wg sync.WaitGroup
	results := make([]*HintResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = tu.Hint(ctx, f.attempt.ID, f.authored, 0, "")
		}()
	}
	<-gen.started
	<-gen.started
	close(gen.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Hint %d: %v", i, err)
		}
	}
	// Both requests see the same first hint, whichever generation was saved first.
	if results[0].Hint != results[1].Hint {
		t.Errorf("hints differ: %q vs %q", results[0].Hint, results[1].Hint)
	}
	rec, err := f.store.GetRecord(ctx, f.attempt.ID, f.authored)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.HintsUsed != 1 || len(rec.GeneratedHints) != 1 || rec.GeneratedHints[0] != results[0].Hint {
		t.Errorf("record hints: used=%d cached=%v", rec.HintsUsed, rec.GeneratedHints)
	}
}
