package listener

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/md-riaz/NIZAM-sub001/internal/esl"
	"github.com/md-riaz/NIZAM-sub001/pkg/errors"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

const (
	// readTick bounds how long a single ReadEvent call may block, so
	// the stop flag is observed at least this often.
	readTick = time.Second

	// maxConsecutiveErrors forces a reconnect when the processor keeps
	// failing, even if the transport itself looks healthy. Guards
	// against poison-event loops.
	maxConsecutiveErrors = 10

	// backoffCap is the ceiling on the reconnect delay.
	backoffCap = 30 * time.Second
)

// Client is the slice of the event-socket client the listener drives.
type Client interface {
	Connect(ctx context.Context) error
	SubscribeEvents(names []string) error
	ReadEvent(timeout time.Duration) (esl.Event, error)
	IsConnected() bool
	Disconnect()
}

// Sink consumes parsed switch events. Errors it returns are counted
// toward loop fatigue; policy drops must not surface as errors.
type Sink interface {
	Process(ctx context.Context, event esl.Event) error
}

// MetricsInterface mirrors the Prometheus facade.
type MetricsInterface interface {
	IncrementCounter(name string, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// Listener owns the outer reconnect loop and the inner read loop of
// one event-socket session.
type Listener struct {
	client     Client
	sink       Sink
	metrics    MetricsInterface
	eventNames []string

	// MaxRetries bounds consecutive failed connection attempts;
	// zero means retry forever.
	MaxRetries int

	stopped atomic.Bool
	stopCh  chan struct{}
}

func New(client Client, sink Sink, metrics MetricsInterface, eventNames []string) *Listener {
	return &Listener{
		client:     client,
		sink:       sink,
		metrics:    metrics,
		eventNames: eventNames,
		stopCh:     make(chan struct{}),
	}
}

// Stop requests a cooperative shutdown. The in-flight event, if any,
// finishes processing before the loop exits.
func (l *Listener) Stop() {
	if l.stopped.CompareAndSwap(false, true) {
		close(l.stopCh)
	}
}

// Backoff returns the delay owed before the given connection attempt.
// The first attempt is immediate; attempts after that wait
// min(30, 2^(attempt-2)) seconds: 1s, 2s, 4s, 8s, 16s, then capped at
// 30s.
func Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(attempt-2))) * time.Second
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// Run executes the reconnect loop until Stop is called or the retry
// bound is exhausted. Returns nil on graceful stop.
func (l *Listener) Run(ctx context.Context) error {
	attempt := 0

	for !l.stopped.Load() {
		attempt++

		if l.MaxRetries > 0 && attempt > l.MaxRetries {
			logger.Error("Connection retries exhausted", "attempts", l.MaxRetries)
			return errors.New(errors.ErrExhaustedRetries, "event socket connection retries exhausted")
		}

		if delay := Backoff(attempt); delay > 0 {
			logger.Info("Waiting before reconnect", "attempt", attempt, "delay", delay.String())
			select {
			case <-l.stopCh:
				return nil
			case <-time.After(delay):
			}
		}

		if err := l.client.Connect(ctx); err != nil {
			logger.WithError(err).Warn("Event socket connect failed")
			l.count("listener_reconnects_total", map[string]string{"result": "connect_failed"})
			continue
		}

		if err := l.client.SubscribeEvents(l.eventNames); err != nil {
			logger.WithError(err).Warn("Event subscription failed")
			l.count("listener_reconnects_total", map[string]string{"result": "subscribe_failed"})
			l.client.Disconnect()
			continue
		}

		// Successful session: the next reconnect owes no backoff.
		attempt = 0
		l.count("listener_reconnects_total", map[string]string{"result": "connected"})
		l.gauge("listener_connected", 1)

		l.readLoop(ctx)
		l.client.Disconnect()
		l.gauge("listener_connected", 0)
	}

	return nil
}

// readLoop polls the session once per tick until the stop flag is
// set, the transport fails, or processing errors hit the fatigue
// bound.
func (l *Listener) readLoop(ctx context.Context) {
	consecutiveErrors := 0

	for !l.stopped.Load() {
		event, err := l.client.ReadEvent(readTick)
		if err != nil {
			logger.WithError(err).Warn("Event socket read failed, reconnecting")
			return
		}

		if event == nil {
			// No event this tick; loop back to check the stop flag.
			continue
		}

		l.count("listener_events_total", map[string]string{"event": event.Name()})

		started := time.Now()
		err = l.sink.Process(ctx, event)
		if l.metrics != nil {
			l.metrics.ObserveHistogram("event_processing_seconds",
				time.Since(started).Seconds(), map[string]string{"event": event.Name()})
		}
		if err != nil {
			consecutiveErrors++
			logger.WithError(err).WithField("consecutive", consecutiveErrors).Error("Event processing failed")
			l.count("listener_processing_errors_total", nil)

			if consecutiveErrors >= maxConsecutiveErrors {
				logger.Error("Too many consecutive processing errors, forcing reconnect",
					"count", consecutiveErrors)
				l.count("listener_reconnects_total", map[string]string{"result": "loop_fatigue"})
				return
			}
			continue
		}

		consecutiveErrors = 0
	}
}

func (l *Listener) count(name string, labels map[string]string) {
	if l.metrics == nil {
		return
	}
	if labels == nil {
		labels = map[string]string{}
	}
	l.metrics.IncrementCounter(name, labels)
}

func (l *Listener) gauge(name string, value float64) {
	if l.metrics == nil {
		return
	}
	l.metrics.SetGauge(name, value, map[string]string{})
}
