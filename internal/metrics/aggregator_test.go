package metrics

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/md-riaz/NIZAM-sub001/internal/models"
	"github.com/md-riaz/NIZAM-sub001/internal/store"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(logger.Config{Level: "error", Format: "text"})
	m.Run()
}

func seedQueue(threshold int) (*store.MemoryStore, *models.Queue) {
	s := store.NewMemoryStore()
	q := &models.Queue{
		ID: 1, TenantID: 1, Name: "support", Extension: "7000",
		Strategy: models.StrategyRoundRobin, ServiceLevelThreshold: threshold,
	}
	s.Queues[1] = q
	return s, q
}

func addEntry(s *store.MemoryStore, status models.EntryStatus, joinedAt time.Time, wait int) {
	entry := &models.QueueEntry{
		TenantID: 1, QueueID: 1, Status: status, JoinTime: joinedAt,
	}
	if status == models.EntryStatusAnswered || status == models.EntryStatusAbandoned {
		entry.WaitDuration = &wait
	}
	s.CreateEntry(context.Background(), entry)
}

func TestRealTimeWaitStatistics(t *testing.T) {
	s, q := seedQueue(20)
	now := time.Now()

	addEntry(s, models.EntryStatusAnswered, now, 10)
	addEntry(s, models.EntryStatusAnswered, now, 20)
	addEntry(s, models.EntryStatusAbandoned, now, 30)

	stats, err := NewAggregator(s).GetRealTimeMetrics(context.Background(), q)
	if err != nil {
		t.Fatalf("GetRealTimeMetrics: %v", err)
	}

	if stats.AverageWaitTime != 20.0 {
		t.Errorf("average wait = %v, want 20.0", stats.AverageWaitTime)
	}
	if stats.MaxWaitTime != 30.0 {
		t.Errorf("max wait = %v, want 30.0", stats.MaxWaitTime)
	}
	if stats.TotalCalls != 3 || stats.AnsweredCalls != 2 || stats.AbandonedCalls != 1 {
		t.Errorf("counts = %d/%d/%d", stats.TotalCalls, stats.AnsweredCalls, stats.AbandonedCalls)
	}
}

func TestAbandonRate(t *testing.T) {
	s, q := seedQueue(20)
	now := time.Now()

	for i := 0; i < 3; i++ {
		addEntry(s, models.EntryStatusAnswered, now, 5)
	}
	for i := 0; i < 2; i++ {
		addEntry(s, models.EntryStatusAbandoned, now, 5)
	}
	// Waiting and overflowed entries stay out of the denominator.
	addEntry(s, models.EntryStatusWaiting, now, 0)
	addEntry(s, models.EntryStatusOverflowed, now, 0)

	stats, err := NewAggregator(s).GetRealTimeMetrics(context.Background(), q)
	if err != nil {
		t.Fatalf("GetRealTimeMetrics: %v", err)
	}

	if stats.AbandonRate != 40.0 {
		t.Errorf("abandon rate = %v, want 40.0", stats.AbandonRate)
	}
	if stats.WaitingCalls != 1 || stats.OverflowedCalls != 1 {
		t.Errorf("waiting/overflowed = %d/%d", stats.WaitingCalls, stats.OverflowedCalls)
	}
}

func TestServiceLevel(t *testing.T) {
	s, q := seedQueue(20)
	now := time.Now()

	for _, wait := range []int{15, 18, 30, 45} {
		addEntry(s, models.EntryStatusAnswered, now, wait)
	}

	stats, err := NewAggregator(s).GetRealTimeMetrics(context.Background(), q)
	if err != nil {
		t.Fatalf("GetRealTimeMetrics: %v", err)
	}

	if stats.ServiceLevel != 50.0 {
		t.Errorf("service level = %v, want 50.0", stats.ServiceLevel)
	}
}

func TestAgentOccupancy(t *testing.T) {
	s, q := seedQueue(20)

	states := []models.AgentState{
		models.AgentStateBusy,
		models.AgentStateAvailable,
		models.AgentStatePaused,
		models.AgentStateOffline, // not part of the occupancy base
	}
	for i, state := range states {
		id := int64(i + 1)
		s.Agents[id] = &models.Agent{
			ID: id, TenantID: 1, Extension: "100" + strconv.Itoa(i),
			State: state, StateChangedAt: time.Now(),
		}
		s.Memberships = append(s.Memberships, models.QueueMember{
			QueueID: 1, AgentID: id, Priority: 1, Active: true,
		})
	}

	stats, err := NewAggregator(s).GetRealTimeMetrics(context.Background(), q)
	if err != nil {
		t.Fatalf("GetRealTimeMetrics: %v", err)
	}

	if stats.AgentOccupancy != 33.33 {
		t.Errorf("occupancy = %v, want 33.33", stats.AgentOccupancy)
	}
}

func TestAggregateMetricsWindowAndIdempotency(t *testing.T) {
	s, q := seedQueue(20)
	ctx := context.Background()

	periodStart := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	addEntry(s, models.EntryStatusAnswered, periodStart.Add(5*time.Minute), 10)
	addEntry(s, models.EntryStatusAbandoned, periodStart.Add(30*time.Minute), 40)
	// Outside the hour on both sides.
	addEntry(s, models.EntryStatusAnswered, periodStart.Add(-time.Minute), 99)
	addEntry(s, models.EntryStatusAnswered, periodStart.Add(time.Hour), 99)

	aggregator := NewAggregator(s)
	metric, err := aggregator.AggregateMetrics(ctx, q, models.PeriodHourly, periodStart)
	if err != nil {
		t.Fatalf("AggregateMetrics: %v", err)
	}

	if metric.TotalCalls != 2 {
		t.Errorf("total calls = %d, want 2 inside the hour", metric.TotalCalls)
	}
	if metric.AbandonRate != 50.0 {
		t.Errorf("abandon rate = %v, want 50.0", metric.AbandonRate)
	}
	if metric.AverageWaitTime != 25.0 {
		t.Errorf("average wait = %v, want 25.0", metric.AverageWaitTime)
	}

	// Re-running the same period replaces the snapshot in place.
	if _, err := aggregator.AggregateMetrics(ctx, q, models.PeriodHourly, periodStart); err != nil {
		t.Fatalf("AggregateMetrics rerun: %v", err)
	}
	if len(s.Metrics) != 1 {
		t.Errorf("stored snapshots = %d, want 1", len(s.Metrics))
	}

	stored, err := s.GetQueueMetric(ctx, q.ID, models.PeriodHourly, periodStart)
	if err != nil || stored == nil {
		t.Fatalf("GetQueueMetric: %v, %v", stored, err)
	}
	if stored.TotalCalls != 2 {
		t.Errorf("stored total = %d, want 2", stored.TotalCalls)
	}
}
