package events

import (
	"context"
	"testing"
	"time"

	"github.com/md-riaz/NIZAM-sub001/internal/esl"
	"github.com/md-riaz/NIZAM-sub001/internal/models"
	"github.com/md-riaz/NIZAM-sub001/internal/modules"
	"github.com/md-riaz/NIZAM-sub001/internal/queue"
	"github.com/md-riaz/NIZAM-sub001/internal/store"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(logger.Config{Level: "error", Format: "text"})
	m.Run()
}

type capturingDispatcher struct {
	enqueued []string
}

func (d *capturingDispatcher) Enqueue(_ context.Context, _ *models.Tenant, eventType string, _ models.JSON) {
	d.enqueued = append(d.enqueued, eventType)
}

func newFixture(t *testing.T) (*store.MemoryStore, *Processor, *capturingDispatcher) {
	t.Helper()

	s := store.NewMemoryStore()
	s.Tenants[1] = &models.Tenant{
		ID:         1,
		Domain:     "acme.example.com",
		Status:     models.TenantStatusActive,
		WebhookURL: "https://hooks.acme.example.com/pbx",
	}
	s.Tenants[2] = &models.Tenant{ID: 2, Domain: "frozen.example.com", Status: models.TenantStatusSuspended}

	s.Queues[1] = &models.Queue{
		ID: 1, TenantID: 1, Name: "support", Extension: "7000",
		Strategy: models.StrategyRoundRobin, MaxWaitTime: 60, ServiceLevelThreshold: 20,
	}
	s.Agents[1] = &models.Agent{
		ID: 1, TenantID: 1, Name: "alice", Extension: "1001",
		State: models.AgentStateAvailable, StateChangedAt: time.Now(),
	}
	s.Memberships = append(s.Memberships, models.QueueMember{QueueID: 1, AgentID: 1, Priority: 1, Active: true})

	dispatcher := &capturingDispatcher{}
	processor := NewProcessor(s, queue.NewEngine(s), dispatcher, modules.NewBus(), nil)

	return s, processor, dispatcher
}

func channelEvent(name, uuid, domain string, extra map[string]string) esl.Event {
	event := esl.Event{
		"Event-Name":           name,
		"Unique-ID":            uuid,
		"variable_domain_name": domain,
	}
	for k, v := range extra {
		event[k] = v
	}
	return event
}

func TestProcessClassifiesLifecycle(t *testing.T) {
	s, processor, dispatcher := newFixture(t)
	ctx := context.Background()

	create := channelEvent("CHANNEL_CREATE", "call-1", "acme.example.com", map[string]string{
		"Caller-Caller-ID-Number":   "15550001111",
		"Caller-Destination-Number": "1001",
	})
	if err := processor.Process(ctx, create); err != nil {
		t.Fatalf("Process create: %v", err)
	}

	answer := channelEvent("CHANNEL_ANSWER", "call-1", "acme.example.com", nil)
	if err := processor.Process(ctx, answer); err != nil {
		t.Fatalf("Process answer: %v", err)
	}

	hangup := channelEvent("CHANNEL_HANGUP_COMPLETE", "call-1", "acme.example.com", map[string]string{
		"Hangup-Cause":          "NORMAL_CLEARING",
		"variable_duration":     "65",
		"variable_billsec":      "60",
		"variable_answer_epoch": "1700000000",
	})
	if err := processor.Process(ctx, hangup); err != nil {
		t.Fatalf("Process hangup: %v", err)
	}

	want := []string{"call.created", "call.answered", "call.hangup"}
	if len(s.Events) != len(want) {
		t.Fatalf("appended %d events, want %d", len(s.Events), len(want))
	}
	for i, event := range s.Events {
		if event.EventType != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, event.EventType, want[i])
		}
		if event.SchemaVersion != models.EventSchemaVersion {
			t.Errorf("event[%d] schema version = %q", i, event.SchemaVersion)
		}
		if event.TenantID != 1 {
			t.Errorf("event[%d] tenant = %d, want 1", i, event.TenantID)
		}
	}

	detail := s.Details["call-1"]
	if detail == nil {
		t.Fatal("no call detail aggregate")
	}
	if detail.CallerNumber != "15550001111" || detail.CalleeNumber != "1001" {
		t.Errorf("detail parties = %s -> %s", detail.CallerNumber, detail.CalleeNumber)
	}
	if detail.Duration != 65 || detail.BillSec != 60 {
		t.Errorf("detail duration/billsec = %d/%d", detail.Duration, detail.BillSec)
	}
	if detail.StartTime == nil || detail.AnswerTime == nil || detail.EndTime == nil {
		t.Error("detail timestamps incomplete")
	}

	if len(dispatcher.enqueued) != 3 {
		t.Errorf("webhooks enqueued = %d, want 3", len(dispatcher.enqueued))
	}
}

func TestProcessMissedCall(t *testing.T) {
	s, processor, _ := newFixture(t)
	ctx := context.Background()

	hangup := channelEvent("CHANNEL_HANGUP_COMPLETE", "call-2", "acme.example.com", map[string]string{
		"Hangup-Cause": "NO_ANSWER",
	})
	if err := processor.Process(ctx, hangup); err != nil {
		t.Fatalf("Process: %v", err)
	}

	var types []string
	for _, event := range s.Events {
		types = append(types, event.EventType)
	}
	if len(types) != 2 || types[0] != "call.hangup" || types[1] != "call.missed" {
		t.Errorf("event types = %v, want [call.hangup call.missed]", types)
	}
}

func TestProcessAnsweredHangupNotMissed(t *testing.T) {
	s, processor, _ := newFixture(t)

	hangup := channelEvent("CHANNEL_HANGUP_COMPLETE", "call-3", "acme.example.com", map[string]string{
		"Hangup-Cause":          "NO_ANSWER",
		"variable_answer_epoch": "1700000000",
	})
	if err := processor.Process(context.Background(), hangup); err != nil {
		t.Fatalf("Process: %v", err)
	}

	for _, event := range s.Events {
		if event.EventType == "call.missed" {
			t.Error("answered call classified as missed")
		}
	}
}

func TestPolicyDropIsSilent(t *testing.T) {
	s, processor, dispatcher := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		domain string
	}{
		{"unknown domain", "ghost.example.com"},
		{"suspended tenant", "frozen.example.com"},
		{"no domain", ""},
	}

	for _, tt := range tests {
		event := channelEvent("CHANNEL_CREATE", "call-x", tt.domain, nil)
		if err := processor.Process(ctx, event); err != nil {
			t.Errorf("%s: Process = %v, want silent drop", tt.name, err)
		}
	}

	if len(s.Events) != 0 {
		t.Errorf("dropped events persisted %d records", len(s.Events))
	}
	if len(s.Details) != 0 {
		t.Errorf("dropped events wrote %d call details", len(s.Details))
	}
	if len(dispatcher.enqueued) != 0 {
		t.Errorf("dropped events enqueued %d webhooks", len(dispatcher.enqueued))
	}
}

func TestDuplicateHangupKeepsFirstEndTime(t *testing.T) {
	s, processor, _ := newFixture(t)
	ctx := context.Background()

	first := channelEvent("CHANNEL_HANGUP_COMPLETE", "call-4", "acme.example.com", map[string]string{
		"Hangup-Cause":         "NORMAL_CLEARING",
		"variable_duration":    "30",
		"variable_billsec":     "25",
		"Event-Date-Timestamp": "1700000000000000",
	})
	if err := processor.Process(ctx, first); err != nil {
		t.Fatalf("Process first hangup: %v", err)
	}

	firstEnd := *s.Details["call-4"].EndTime

	dup := channelEvent("CHANNEL_HANGUP_COMPLETE", "call-4", "acme.example.com", map[string]string{
		"Hangup-Cause":         "ORIGINATOR_CANCEL",
		"variable_duration":    "999",
		"variable_billsec":     "999",
		"Event-Date-Timestamp": "1700000600000000",
	})
	if err := processor.Process(ctx, dup); err != nil {
		t.Fatalf("Process duplicate hangup: %v", err)
	}

	detail := s.Details["call-4"]
	if !detail.EndTime.Equal(firstEnd) {
		t.Errorf("end time overwritten: %v -> %v", firstEnd, detail.EndTime)
	}
	if detail.Duration != 30 || detail.BillSec != 25 {
		t.Errorf("duration/billsec overwritten: %d/%d", detail.Duration, detail.BillSec)
	}
	if detail.HangupCause != "NORMAL_CLEARING" {
		t.Errorf("hangup cause overwritten: %s", detail.HangupCause)
	}
}

func TestQueueLifecycleViaCustomEvents(t *testing.T) {
	s, processor, _ := newFixture(t)
	ctx := context.Background()

	join := channelEvent("CUSTOM", "call-5", "acme.example.com", map[string]string{
		"Event-Subclass":         "callcenter::info",
		"CC-Action":              "member-queue-start",
		"CC-Queue":               "7000",
		"CC-Member-Session-UUID": "call-5",
		"CC-Member-CID-Number":   "15550002222",
	})
	if err := processor.Process(ctx, join); err != nil {
		t.Fatalf("Process join: %v", err)
	}

	entry, err := s.GetActiveEntryByCall(ctx, "call-5")
	if err != nil || entry == nil {
		t.Fatalf("no waiting entry after queue join (err=%v)", err)
	}
	if entry.CallerNumber != "15550002222" {
		t.Errorf("caller = %s", entry.CallerNumber)
	}

	answer := channelEvent("CUSTOM", "call-5", "acme.example.com", map[string]string{
		"Event-Subclass":         "callcenter::info",
		"CC-Action":              "bridge-agent-start",
		"CC-Queue":               "7000",
		"CC-Agent":               "1001",
		"CC-Member-Session-UUID": "call-5",
	})
	if err := processor.Process(ctx, answer); err != nil {
		t.Fatalf("Process answer: %v", err)
	}

	updated, _ := s.GetEntry(ctx, entry.ID)
	if updated.Status != models.EntryStatusAnswered {
		t.Errorf("entry status = %s, want answered", updated.Status)
	}
	if s.Agents[1].State != models.AgentStateBusy {
		t.Errorf("agent state = %s, want busy", s.Agents[1].State)
	}

	var types []string
	for _, event := range s.Events {
		types = append(types, event.EventType)
	}
	if len(types) != 2 || types[0] != "queue.joined" || types[1] != "queue.answered" {
		t.Errorf("event types = %v", types)
	}
}

func TestQueueAbandonViaCustomEvent(t *testing.T) {
	s, processor, _ := newFixture(t)
	ctx := context.Background()

	join := channelEvent("CUSTOM", "call-6", "acme.example.com", map[string]string{
		"Event-Subclass":         "callcenter::info",
		"CC-Action":              "member-queue-start",
		"CC-Queue":               "7000",
		"CC-Member-Session-UUID": "call-6",
	})
	if err := processor.Process(ctx, join); err != nil {
		t.Fatalf("Process join: %v", err)
	}

	end := channelEvent("CUSTOM", "call-6", "acme.example.com", map[string]string{
		"Event-Subclass":         "callcenter::info",
		"CC-Action":              "member-queue-end",
		"CC-Cause":               "Cancel",
		"CC-Cancel-Reason":       "BREAK_OUT",
		"CC-Member-Session-UUID": "call-6",
	})
	if err := processor.Process(ctx, end); err != nil {
		t.Fatalf("Process end: %v", err)
	}

	entry, _ := s.GetActiveEntryByCall(ctx, "call-6")
	if entry != nil {
		t.Error("entry still active after abandon")
	}

	var abandoned *models.QueueEntry
	for _, e := range s.Entries {
		if e.CallUUID == "call-6" {
			abandoned = e
		}
	}
	if abandoned == nil || abandoned.Status != models.EntryStatusAbandoned {
		t.Fatalf("entry not abandoned: %+v", abandoned)
	}
	if abandoned.AbandonReason != "BREAK_OUT" {
		t.Errorf("abandon reason = %s", abandoned.AbandonReason)
	}
}

func TestAgentStateChangeViaCustomEvent(t *testing.T) {
	s, processor, _ := newFixture(t)

	event := channelEvent("CUSTOM", "", "acme.example.com", map[string]string{
		"Event-Subclass":        "callcenter::info",
		"CC-Action":             "agent-state-change",
		"CC-Agent":              "1001",
		"CC-Agent-State":        "paused",
		"CC-Agent-Pause-Reason": "coffee",
	})
	if err := processor.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if s.Agents[1].State != models.AgentStatePaused {
		t.Errorf("agent state = %s, want paused", s.Agents[1].State)
	}
	if s.Agents[1].PauseReason != "coffee" {
		t.Errorf("pause reason = %s", s.Agents[1].PauseReason)
	}
}

func TestOccurredAtUsesSwitchTimestamp(t *testing.T) {
	s, processor, _ := newFixture(t)

	event := channelEvent("CHANNEL_CREATE", "call-7", "acme.example.com", map[string]string{
		"Event-Date-Timestamp": "1700000000000000",
	})
	if err := processor.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := time.UnixMicro(1700000000000000).UTC()
	if !s.Events[0].OccurredAt.Equal(want) {
		t.Errorf("occurred at = %v, want %v", s.Events[0].OccurredAt, want)
	}
}
