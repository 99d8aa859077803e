package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// MetricsStore is the persistence needed to aggregate performance.
type MetricsStore interface {
	ListCompletedAttempts(ctx context.Context, studentID string, testID int64) ([]model.TestAttempt, error)
	UpsertPerformanceMetrics(ctx context.Context, m model.PerformanceMetrics) error
}

// Aggregator recomputes performance trends from completed attempts.
type Aggregator struct {
	store MetricsStore
}

// NewAggregator creates an Aggregator.
func NewAggregator(s MetricsStore) *Aggregator {
	return &Aggregator{store: s}
}

// Recompute rebuilds the performance metrics of a student on a test from every
// completed attempt. It returns nil without writing when there are none.
func (a *Aggregator) Recompute(ctx context.Context, studentID string, testID int64) (*model.PerformanceMetrics, error) {
	attempts, err := a.store.ListCompletedAttempts(ctx, studentID, testID)
	if err != nil {
		return nil, fmt.Errorf("list completed attempts: %w", err)
	}

	results := make([]model.AttemptResult, 0, len(attempts))
	for _, at := range attempts {
		if at.Result != nil {
			results = append(results, *at.Result)
		}
	}
	if len(results) == 0 {
		return nil, nil
	}

	m := Aggregate(results)
	m.StudentID = studentID
	m.TestID = testID
	m.UpdatedAt = time.Now().UTC()
	if err := a.store.UpsertPerformanceMetrics(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert performance metrics: %w", err)
	}
	return &m, nil
}

// Aggregate computes trend statistics over results ordered by completion time.
func Aggregate(results []model.AttemptResult) model.PerformanceMetrics {
	m := model.PerformanceMetrics{AttemptCount: len(results)}
	if len(results) == 0 {
		return m
	}

	finals := make([]float64, len(results))
	var basic, hints, engagement, elapsed float64
	for i, r := range results {
		finals[i] = float64(r.FinalScore)
		basic += float64(r.BasicScore)
		hints += float64(r.TotalHintsUsed)
		engagement += r.LearningEngagementRate
		elapsed += float64(r.TotalElapsedSeconds)
	}
	n := float64(len(results))

	m.AverageFinalScore = mean(finals)
	m.AverageBasicScore = basic / n
	m.ImprovementRate = finals[len(finals)-1] - finals[0]
	m.ConsistencyScore = math.Max(0, math.Round(100-stddev(finals)))
	m.AverageHintUsage = hints / n
	m.AverageEngagement = engagement / n
	m.AverageTimeSeconds = elapsed / n
	return m
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	mu := mean(xs)
	var sq float64
	for _, x := range xs {
		sq += (x - mu) * (x - mu)
	}
	return math.Sqrt(sq / float64(len(xs)))
}
