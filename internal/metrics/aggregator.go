package metrics

import (
	"context"
	"math"
	"time"

	"github.com/md-riaz/NIZAM-sub001/internal/models"
	"github.com/md-riaz/NIZAM-sub001/internal/store"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

// QueueStats is one computed statistics view of a queue.
type QueueStats struct {
	QueueID         int64   `json:"queue_id"`
	TotalCalls      int     `json:"total_calls"`
	WaitingCalls    int     `json:"waiting_calls"`
	AnsweredCalls   int     `json:"answered_calls"`
	AbandonedCalls  int     `json:"abandoned_calls"`
	OverflowedCalls int     `json:"overflowed_calls"`
	AverageWaitTime float64 `json:"average_wait_time"`
	MaxWaitTime     float64 `json:"max_wait_time"`
	AbandonRate     float64 `json:"abandon_rate"`
	ServiceLevel    float64 `json:"service_level"`
	AgentOccupancy  float64 `json:"agent_occupancy"`
}

// Aggregator computes queue statistics from distribution-engine state.
// It never mutates queue entries or agents.
type Aggregator struct {
	store   store.Store
	metrics *PrometheusMetrics
}

func NewAggregator(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// WithGauges exports per-queue gauges on every real-time computation.
func (a *Aggregator) WithGauges(m *PrometheusMetrics) *Aggregator {
	a.metrics = m
	return a
}

// GetRealTimeMetrics computes the live view over all of the queue's
// entries and current member states.
func (a *Aggregator) GetRealTimeMetrics(ctx context.Context, queue *models.Queue) (*QueueStats, error) {
	entries, err := a.store.EntriesForQueue(ctx, queue.ID)
	if err != nil {
		return nil, err
	}

	stats := computeEntryStats(queue, entries)

	members, err := a.store.Members(ctx, queue.ID)
	if err != nil {
		return nil, err
	}
	stats.AgentOccupancy = agentOccupancy(members)

	if a.metrics != nil {
		labels := map[string]string{"queue": queue.Name}
		a.metrics.SetGauge("queue_waiting_calls", float64(stats.WaitingCalls), labels)

		available := 0
		for _, m := range members {
			if m.State == models.AgentStateAvailable {
				available++
			}
		}
		a.metrics.SetGauge("queue_available_agents", float64(available), labels)
	}

	return stats, nil
}

// AggregateMetrics computes the statistics for one period and persists
// them. The upsert key (queue, period, period start) makes repeated
// aggregation of the same period idempotent.
func (a *Aggregator) AggregateMetrics(ctx context.Context, queue *models.Queue, period models.MetricPeriod, periodStart time.Time) (*models.QueueMetric, error) {
	entries, err := a.store.EntriesJoinedBetween(ctx, queue.ID, periodStart, periodStart.Add(period.Length()))
	if err != nil {
		return nil, err
	}

	stats := computeEntryStats(queue, entries)

	metric := &models.QueueMetric{
		QueueID:         queue.ID,
		TenantID:        queue.TenantID,
		Period:          period,
		PeriodStart:     periodStart,
		TotalCalls:      stats.TotalCalls,
		AnsweredCalls:   stats.AnsweredCalls,
		AbandonedCalls:  stats.AbandonedCalls,
		OverflowedCalls: stats.OverflowedCalls,
		AverageWaitTime: stats.AverageWaitTime,
		MaxWaitTime:     stats.MaxWaitTime,
		AbandonRate:     stats.AbandonRate,
		ServiceLevel:    stats.ServiceLevel,
	}

	if err := a.store.UpsertQueueMetric(ctx, metric); err != nil {
		return nil, err
	}

	logger.WithContext(ctx).WithFields(map[string]interface{}{
		"queue_id":     queue.ID,
		"period":       string(period),
		"period_start": periodStart.Format(time.RFC3339),
	}).Info("Queue metrics aggregated")

	return metric, nil
}

// computeEntryStats evaluates the wait-time formulas over the
// answered-or-abandoned population.
func computeEntryStats(queue *models.Queue, entries []models.QueueEntry) *QueueStats {
	stats := &QueueStats{QueueID: queue.ID, TotalCalls: len(entries)}

	var waits []int
	withinThreshold := 0

	for _, entry := range entries {
		switch entry.Status {
		case models.EntryStatusWaiting, models.EntryStatusRinging:
			stats.WaitingCalls++
			continue
		case models.EntryStatusAnswered:
			stats.AnsweredCalls++
		case models.EntryStatusAbandoned:
			stats.AbandonedCalls++
		case models.EntryStatusOverflowed:
			stats.OverflowedCalls++
			continue
		}

		if entry.WaitDuration == nil {
			continue
		}
		waits = append(waits, *entry.WaitDuration)
		if *entry.WaitDuration <= queue.ServiceLevelThreshold {
			withinThreshold++
		}
	}

	if len(waits) > 0 {
		sum := 0
		max := waits[0]
		for _, w := range waits {
			sum += w
			if w > max {
				max = w
			}
		}
		stats.AverageWaitTime = round2(float64(sum) / float64(len(waits)))
		stats.MaxWaitTime = float64(max)
		stats.ServiceLevel = round2(100 * float64(withinThreshold) / float64(len(waits)))
	}

	if terminated := stats.AnsweredCalls + stats.AbandonedCalls; terminated > 0 {
		stats.AbandonRate = round2(100 * float64(stats.AbandonedCalls) / float64(terminated))
	}

	return stats
}

// agentOccupancy is busy members over non-offline members.
func agentOccupancy(members []models.Agent) float64 {
	busy, active := 0, 0
	for _, m := range members {
		switch m.State {
		case models.AgentStateBusy:
			busy++
			active++
		case models.AgentStateAvailable, models.AgentStateRinging, models.AgentStatePaused:
			active++
		}
	}
	if active == 0 {
		return 0
	}
	return round2(100 * float64(busy) / float64(active))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
