package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/md-riaz/NIZAM-sub001/internal/models"
	"github.com/md-riaz/NIZAM-sub001/internal/store"
	"github.com/md-riaz/NIZAM-sub001/pkg/errors"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

const (
	attemptTimeout = 30 * time.Second

	signatureHeader = "X-Webhook-Signature"
)

// retryDelays holds the wait before each retry. The first attempt is
// immediate, so a delivery gets one attempt per delay plus the first.
var retryDelays = []time.Duration{10 * time.Second, 60 * time.Second, 300 * time.Second}

// Envelope is the JSON body posted to tenant webhooks.
type Envelope struct {
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	Data      models.JSON `json:"data"`
}

// Job is one queued delivery.
type Job struct {
	DeliveryID string
	TenantID   int64
	URL        string
	Secret     string
	EventType  string
	Payload    models.JSON
	OccurredAt time.Time
}

// MetricsInterface mirrors the Prometheus facade.
type MetricsInterface interface {
	IncrementCounter(name string, labels map[string]string)
}

// Dispatcher delivers webhooks with bounded retries. Enqueue is
// fire-and-forget; callers get at-least-one-attempt semantics, never
// a delivery outcome.
type Dispatcher struct {
	deliveries store.DeliveryStore
	metrics    MetricsInterface
	client     *http.Client

	jobs     chan Job
	shutdown chan struct{}
	wg       sync.WaitGroup

	delays []time.Duration
	now    func() time.Time
}

type Config struct {
	Workers   int
	QueueSize int
}

func NewDispatcher(deliveries store.DeliveryStore, metrics MetricsInterface, cfg Config) *Dispatcher {
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1000
	}

	d := &Dispatcher{
		deliveries: deliveries,
		metrics:    metrics,
		client:     &http.Client{Timeout: attemptTimeout},
		jobs:       make(chan Job, cfg.QueueSize),
		shutdown:   make(chan struct{}),
		delays:     retryDelays,
		now:        time.Now,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Enqueue schedules one delivery. A tenant without a webhook URL is a
// silent no-op. A full queue drops the job with a warning rather than
// blocking the event loop.
func (d *Dispatcher) Enqueue(ctx context.Context, tenant *models.Tenant, eventType string, payload models.JSON) {
	if tenant.WebhookURL == "" {
		return
	}

	job := Job{
		DeliveryID: uuid.NewString(),
		TenantID:   tenant.ID,
		URL:        tenant.WebhookURL,
		Secret:     tenant.WebhookSecret,
		EventType:  eventType,
		Payload:    payload,
		OccurredAt: d.now(),
	}

	if err := d.deliveries.RecordDelivery(ctx, &models.WebhookDelivery{
		ID:        job.DeliveryID,
		TenantID:  job.TenantID,
		EventType: job.EventType,
		URL:       job.URL,
		Status:    "pending",
	}); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("Failed to record webhook delivery")
	}

	select {
	case d.jobs <- job:
	default:
		logger.WithContext(ctx).WithField("tenant_id", tenant.ID).Warn("Webhook queue full, dropping delivery")
		d.count("webhook_dropped_total")
	}
}

// Close stops the workers after draining in-flight jobs.
func (d *Dispatcher) Close() {
	close(d.shutdown)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			// Drain what is already queued; retry waits are cut short
			// by the closed shutdown channel.
			for {
				select {
				case job := <-d.jobs:
					d.deliver(job)
				default:
					return
				}
			}
		case job := <-d.jobs:
			d.deliver(job)
		}
	}
}

func (d *Dispatcher) deliver(job Job) {
	ctx := context.Background()

	record := &models.WebhookDelivery{
		ID:        job.DeliveryID,
		TenantID:  job.TenantID,
		EventType: job.EventType,
		URL:       job.URL,
	}

	body, err := json.Marshal(Envelope{
		Event:     job.EventType,
		Timestamp: job.OccurredAt.UTC().Format(time.RFC3339),
		Data:      job.Payload,
	})
	if err != nil {
		record.Status = "failed"
		record.LastError = err.Error()
		d.deliveries.UpdateDelivery(ctx, record)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= len(d.delays)+1; attempt++ {
		if attempt > 1 {
			select {
			case <-d.shutdown:
				record.Status = "failed"
				record.LastError = lastErr.Error()
				d.deliveries.UpdateDelivery(ctx, record)
				return
			case <-time.After(d.delays[attempt-2]):
			}
		}

		record.Attempts = attempt
		lastErr = d.post(job.URL, body, Sign(job.Secret, body))
		if lastErr == nil {
			now := d.now()
			record.Status = "delivered"
			record.LastError = ""
			record.DeliveredAt = &now
			d.deliveries.UpdateDelivery(ctx, record)
			d.count("webhook_delivered_total")
			return
		}

		logger.WithError(lastErr).WithFields(map[string]interface{}{
			"tenant_id": job.TenantID,
			"event":     job.EventType,
			"attempt":   attempt,
		}).Warn("Webhook delivery attempt failed")
	}

	record.Status = "failed"
	record.LastError = lastErr.Error()
	d.deliveries.UpdateDelivery(ctx, record)
	d.count("webhook_failed_total")
}

func (d *Dispatcher) post(url string, body []byte, signature string) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrDeliveryFailure, "failed to build webhook request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, signature)

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrDeliveryFailure, "webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New(errors.ErrDeliveryFailure,
			fmt.Sprintf("webhook endpoint returned %d", resp.StatusCode))
	}

	return nil
}

func (d *Dispatcher) count(name string) {
	if d.metrics != nil {
		d.metrics.IncrementCounter(name, map[string]string{})
	}
}

// Sign computes the hex HMAC-SHA256 of the body under the tenant's
// webhook secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
