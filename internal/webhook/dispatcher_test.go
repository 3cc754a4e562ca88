package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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

func TestSignKnownVector(t *testing.T) {
	got := Sign("key", []byte("The quick brown fox jumps over the lazy dog"))
	want := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got != want {
		t.Errorf("Sign() = %s, want %s", got, want)
	}
}

func TestEnqueueSkipsTenantsWithoutURL(t *testing.T) {
	s := store.NewMemoryStore()
	d := NewDispatcher(s, nil, Config{Workers: 1, QueueSize: 4})
	defer d.Close()

	d.Enqueue(context.Background(), &models.Tenant{ID: 1}, "call.created", models.JSON{})

	if len(s.Deliveries) != 0 {
		t.Errorf("recorded %d deliveries for tenant without URL", len(s.Deliveries))
	}
}

func TestDeliverySignsAndRecords(t *testing.T) {
	type received struct {
		body        []byte
		signature   string
		contentType string
	}
	got := make(chan received, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{
			body:        body,
			signature:   r.Header.Get("X-Webhook-Signature"),
			contentType: r.Header.Get("Content-Type"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := store.NewMemoryStore()
	d := NewDispatcher(s, nil, Config{Workers: 1, QueueSize: 4})

	tenant := &models.Tenant{
		ID: 1, WebhookURL: server.URL, WebhookSecret: "topsecret",
	}
	payload := models.JSON{"Unique-ID": "call-1", "Hangup-Cause": "NORMAL_CLEARING"}

	d.Enqueue(context.Background(), tenant, "call.hangup", payload)

	var r received
	select {
	case r = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook never delivered")
	}

	// Close drains the in-flight job, so the record has settled after.
	d.Close()

	if r.contentType != "application/json" {
		t.Errorf("content type = %s", r.contentType)
	}
	if want := Sign("topsecret", r.body); r.signature != want {
		t.Errorf("signature = %s, want %s", r.signature, want)
	}

	var envelope Envelope
	if err := json.Unmarshal(r.body, &envelope); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if envelope.Event != "call.hangup" {
		t.Errorf("envelope event = %s", envelope.Event)
	}
	if envelope.Data["Unique-ID"] != "call-1" {
		t.Errorf("envelope data = %v", envelope.Data)
	}
	if _, err := time.Parse(time.RFC3339, envelope.Timestamp); err != nil {
		t.Errorf("envelope timestamp %q: %v", envelope.Timestamp, err)
	}

	record := firstDelivery(s)
	if record == nil || record.Status != "delivered" {
		t.Fatalf("record = %+v, want delivered", record)
	}
	if record.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", record.Attempts)
	}
	if record.DeliveredAt == nil {
		t.Error("delivered record has no delivery time")
	}
}

func TestEnqueueRecordsPending(t *testing.T) {
	s := store.NewMemoryStore()

	// No workers, so the record stays in its initial state.
	d := &Dispatcher{
		deliveries: s,
		client:     &http.Client{},
		jobs:       make(chan Job, 4),
		shutdown:   make(chan struct{}),
		now:        time.Now,
	}

	tenant := &models.Tenant{ID: 1, WebhookURL: "https://hooks.example.com", WebhookSecret: "s"}
	d.Enqueue(context.Background(), tenant, "call.created", models.JSON{})

	record := firstDelivery(s)
	if record == nil || record.Status != "pending" {
		t.Fatalf("record = %+v, want pending", record)
	}
	if record.EventType != "call.created" || record.URL != "https://hooks.example.com" {
		t.Errorf("record = %+v", record)
	}
}

// testDispatcher builds a dispatcher with no workers and a compressed
// retry schedule, so deliver can run synchronously in tests.
func testDispatcher(s *store.MemoryStore) *Dispatcher {
	return &Dispatcher{
		deliveries: s,
		client:     &http.Client{Timeout: time.Second},
		jobs:       make(chan Job, 4),
		shutdown:   make(chan struct{}),
		delays:     []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		now:        time.Now,
	}
}

func TestDeliveryRetriesUntilSuccess(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := store.NewMemoryStore()
	d := testDispatcher(s)

	d.deliver(Job{
		DeliveryID: "d-1", TenantID: 1, URL: server.URL, Secret: "s",
		EventType: "call.created", Payload: models.JSON{}, OccurredAt: time.Now(),
	})

	record := s.Deliveries["d-1"]
	if record == nil || record.Status != "delivered" {
		t.Fatalf("record = %+v, want delivered", record)
	}
	if record.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", record.Attempts)
	}
}

func TestDeliveryFailsAfterScheduleExhausted(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := store.NewMemoryStore()
	d := testDispatcher(s)

	d.deliver(Job{
		DeliveryID: "d-1", TenantID: 1, URL: server.URL, Secret: "s",
		EventType: "call.created", Payload: models.JSON{}, OccurredAt: time.Now(),
	})

	// One immediate attempt plus one per delay in the schedule.
	if want := int32(len(d.delays) + 1); atomic.LoadInt32(&hits) != want {
		t.Errorf("endpoint hit %d times, want %d", hits, want)
	}

	record := s.Deliveries["d-1"]
	if record == nil || record.Status != "failed" {
		t.Fatalf("record = %+v, want failed", record)
	}
	if record.Attempts != len(d.delays)+1 {
		t.Errorf("attempts = %d, want %d", record.Attempts, len(d.delays)+1)
	}
	if record.LastError == "" {
		t.Error("failed record has no last error")
	}
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := store.NewMemoryStore()
	d := testDispatcher(s)

	for _, id := range []string{"d-1", "d-2"} {
		d.jobs <- Job{
			DeliveryID: id, TenantID: 1, URL: server.URL, Secret: "s",
			EventType: "call.hangup", Payload: models.JSON{}, OccurredAt: time.Now(),
		}
	}

	// Shutdown is already signalled when the worker starts; the queued
	// jobs must still go out.
	close(d.shutdown)
	d.wg.Add(1)
	d.worker()

	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("endpoint hit %d times, want 2", got)
	}
	for _, id := range []string{"d-1", "d-2"} {
		record := s.Deliveries[id]
		if record == nil || record.Status != "delivered" {
			t.Errorf("record %s = %+v, want delivered", id, record)
		}
	}
}

func firstDelivery(s *store.MemoryStore) *models.WebhookDelivery {
	for _, record := range s.Deliveries {
		return record
	}
	return nil
}
