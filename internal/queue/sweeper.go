package queue

import (
	"context"
	"time"

	"github.com/md-riaz/NIZAM-sub001/internal/store"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

const sweepLockKey = "queue:overflow-sweep"

// Locker coordinates work across processes. Lock returns an unlock
// function, or an error when another holder has the key.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Sweeper periodically overflows queue entries that have outlived
// their queue's max wait time. The distributed lock keeps concurrent
// processor instances from double-sweeping; a nil locker means the
// process sweeps unconditionally.
type Sweeper struct {
	store    store.Store
	engine   *Engine
	locker   Locker
	interval time.Duration
}

func NewSweeper(s store.Store, engine *Engine, locker Locker, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Sweeper{store: s, engine: engine, locker: locker, interval: interval}
}

// Run sweeps on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, sweepLockKey, s.interval)
		if err != nil {
			logger.WithContext(ctx).Debug("Overflow sweep held elsewhere, skipping")
			return
		}
		defer unlock()
	}

	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Warn("Overflow sweep could not list tenants")
		return
	}

	for _, tenant := range tenants {
		if !tenant.Status.IsRoutable() {
			continue
		}

		queues, err := s.store.ListQueues(ctx, tenant.ID)
		if err != nil {
			logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenant.ID).
				Warn("Overflow sweep could not list queues")
			continue
		}

		for i := range queues {
			q := &queues[i]
			outcomes, err := s.engine.SweepOverflow(ctx, q)
			if err != nil {
				logger.WithContext(ctx).WithError(err).WithField("queue_id", q.ID).
					Warn("Overflow sweep failed")
				continue
			}
			for _, outcome := range outcomes {
				logger.WithContext(ctx).WithFields(map[string]interface{}{
					"queue_id":    q.ID,
					"entry_id":    outcome.Entry.ID,
					"action":      string(outcome.Action),
					"destination": outcome.Destination,
				}).Info("Queue entry overflowed")
			}
		}
	}
}
