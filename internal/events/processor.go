package events

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/md-riaz/NIZAM-sub001/internal/esl"
	"github.com/md-riaz/NIZAM-sub001/internal/models"
	"github.com/md-riaz/NIZAM-sub001/internal/modules"
	"github.com/md-riaz/NIZAM-sub001/internal/queue"
	"github.com/md-riaz/NIZAM-sub001/internal/store"
	"github.com/md-riaz/NIZAM-sub001/pkg/errors"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

// missedCauses are the hangup causes that turn an unanswered hangup
// into an additional call.missed event.
var missedCauses = map[string]bool{
	"NO_ANSWER":         true,
	"ORIGINATOR_CANCEL": true,
	"USER_BUSY":         true,
	"NO_USER_RESPONSE":  true,
}

// Dispatcher is the webhook hand-off; delivery outcome is not awaited.
type Dispatcher interface {
	Enqueue(ctx context.Context, tenant *models.Tenant, eventType string, payload models.JSON)
}

// MetricsInterface mirrors the Prometheus facade.
type MetricsInterface interface {
	IncrementCounter(name string, labels map[string]string)
}

// Processor turns raw switch events into canonical history and drives
// the distribution engine. It runs synchronously inside the listener's
// read loop, one event at a time.
type Processor struct {
	store      store.Store
	engine     *queue.Engine
	dispatcher Dispatcher
	bus        *modules.Bus
	metrics    MetricsInterface

	now func() time.Time
}

func NewProcessor(s store.Store, engine *queue.Engine, dispatcher Dispatcher, bus *modules.Bus, metrics MetricsInterface) *Processor {
	return &Processor{
		store:      s,
		engine:     engine,
		dispatcher: dispatcher,
		bus:        bus,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Process handles one switch event. Unmatched or non-routable tenants
// are silent no-ops; only unexpected faults are returned, so the
// listener's fatigue counter reacts to real trouble and nothing else.
func (p *Processor) Process(ctx context.Context, event esl.Event) error {
	tenant, drop, err := p.resolveTenant(ctx, event)
	if err != nil {
		return err
	}
	if drop {
		p.count("events_dropped_total", map[string]string{"reason": "policy"})
		return nil
	}

	ctx = context.WithValue(ctx, "tenant_id", tenant.ID)
	if callUUID := event.CallUUID(); callUUID != "" {
		ctx = context.WithValue(ctx, "call_uuid", callUUID)
	}

	switch event.Name() {
	case "CHANNEL_CREATE":
		return p.handleCreate(ctx, tenant, event)
	case "CHANNEL_ANSWER":
		return p.handleAnswer(ctx, tenant, event)
	case "CHANNEL_BRIDGE":
		return p.handleBridge(ctx, tenant, event)
	case "CHANNEL_HANGUP_COMPLETE":
		return p.handleHangup(ctx, tenant, event)
	case "CUSTOM":
		return p.handleCustom(ctx, tenant, event)
	default:
		logger.WithContext(ctx).Debug("Ignoring unclassified switch event", "event", event.Name())
		return nil
	}
}

// resolveTenant extracts the domain and applies tenant policy. drop is
// true when the event must be discarded with no side effects.
func (p *Processor) resolveTenant(ctx context.Context, event esl.Event) (*models.Tenant, bool, error) {
	domain := event["variable_domain_name"]
	if domain == "" {
		domain = event["variable_sip_auth_realm"]
	}
	if domain == "" {
		logger.Debug("Event carries no tenant domain", "event", event.Name())
		return nil, true, nil
	}

	tenant, err := p.store.GetTenantByDomain(ctx, domain)
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.ErrTenantNotFound {
			logger.Debug("No tenant for event domain", "domain", domain)
			return nil, true, nil
		}
		return nil, false, err
	}

	if !tenant.Status.IsRoutable() {
		logger.Debug("Dropping event for non-routable tenant",
			"domain", domain, "status", string(tenant.Status))
		return nil, true, nil
	}

	return tenant, false, nil
}

func (p *Processor) handleCreate(ctx context.Context, tenant *models.Tenant, event esl.Event) error {
	occurredAt := p.occurredAt(event)
	start := occurredAt

	if err := p.store.UpsertCallDetail(ctx, &models.CallDetailAggregate{
		TenantID:     tenant.ID,
		CallUUID:     event.CallUUID(),
		CallerNumber: event["Caller-Caller-ID-Number"],
		CalleeNumber: event["Caller-Destination-Number"],
		Direction:    event["Call-Direction"],
		StartTime:    &start,
	}); err != nil {
		return err
	}

	return p.emit(ctx, tenant, modules.EventCallCreated, event, occurredAt)
}

func (p *Processor) handleAnswer(ctx context.Context, tenant *models.Tenant, event esl.Event) error {
	occurredAt := p.occurredAt(event)
	answer := occurredAt

	if err := p.store.UpsertCallDetail(ctx, &models.CallDetailAggregate{
		TenantID:     tenant.ID,
		CallUUID:     event.CallUUID(),
		CallerNumber: event["Caller-Caller-ID-Number"],
		CalleeNumber: event["Caller-Destination-Number"],
		AnswerTime:   &answer,
	}); err != nil {
		return err
	}

	return p.emit(ctx, tenant, modules.EventCallAnswered, event, occurredAt)
}

func (p *Processor) handleBridge(ctx context.Context, tenant *models.Tenant, event esl.Event) error {
	return p.emit(ctx, tenant, modules.EventCallBridged, event, p.occurredAt(event))
}

func (p *Processor) handleHangup(ctx context.Context, tenant *models.Tenant, event esl.Event) error {
	occurredAt := p.occurredAt(event)
	end := occurredAt
	cause := event["Hangup-Cause"]

	detail := &models.CallDetailAggregate{
		TenantID:     tenant.ID,
		CallUUID:     event.CallUUID(),
		CallerNumber: event["Caller-Caller-ID-Number"],
		CalleeNumber: event["Caller-Destination-Number"],
		EndTime:      &end,
		Duration:     atoi(event["variable_duration"]),
		BillSec:      atoi(event["variable_billsec"]),
		HangupCause:  cause,
	}
	if err := p.store.UpsertCallDetail(ctx, detail); err != nil {
		return err
	}

	if err := p.emit(ctx, tenant, modules.EventCallHangup, event, occurredAt); err != nil {
		return err
	}

	answered := atoi(event["variable_answer_epoch"]) > 0 || event["variable_answer_stamp"] != ""
	if !answered && missedCauses[cause] {
		if err := p.emit(ctx, tenant, modules.EventCallMissed, event, occurredAt); err != nil {
			return err
		}
	}

	return nil
}

// handleCustom routes contact-center subtype events into the
// distribution engine.
func (p *Processor) handleCustom(ctx context.Context, tenant *models.Tenant, event esl.Event) error {
	if event["Event-Subclass"] != "callcenter::info" {
		return nil
	}

	switch event["CC-Action"] {
	case "member-queue-start":
		return p.handleQueueJoin(ctx, tenant, event)
	case "bridge-agent-start":
		return p.handleQueueAnswer(ctx, tenant, event)
	case "member-queue-end":
		return p.handleQueueEnd(ctx, tenant, event)
	case "agent-state-change":
		return p.handleAgentState(ctx, tenant, event)
	default:
		logger.WithContext(ctx).Debug("Ignoring contact-center action", "action", event["CC-Action"])
		return nil
	}
}

func (p *Processor) handleQueueJoin(ctx context.Context, tenant *models.Tenant, event esl.Event) error {
	q, err := p.store.GetQueueByExtension(ctx, tenant.ID, event["CC-Queue"])
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.ErrQueueNotFound {
			logger.WithContext(ctx).Warn("Queue event for unknown queue", "queue", event["CC-Queue"])
			return nil
		}
		return err
	}

	callUUID := event["CC-Member-Session-UUID"]
	if callUUID == "" {
		callUUID = event.CallUUID()
	}

	if _, err := p.engine.AddToQueue(ctx, q, callUUID, event["CC-Member-CID-Number"]); err != nil {
		return err
	}

	return p.emit(ctx, tenant, modules.EventQueueJoined, event, p.occurredAt(event))
}

func (p *Processor) handleQueueAnswer(ctx context.Context, tenant *models.Tenant, event esl.Event) error {
	callUUID := event["CC-Member-Session-UUID"]
	if callUUID == "" {
		callUUID = event.CallUUID()
	}

	entry, err := p.store.GetActiveEntryByCall(ctx, callUUID)
	if err != nil {
		return err
	}
	if entry == nil {
		logger.WithContext(ctx).Warn("Queue answer without active entry")
		return nil
	}

	agent, err := p.store.GetAgentByExtension(ctx, tenant.ID, event["CC-Agent"])
	if err != nil {
		return p.ignoreNotFound(ctx, err, "queue answer by unknown agent")
	}

	if _, err := p.engine.AnswerEntry(ctx, entry.ID, agent.ID); err != nil {
		return p.ignoreStateViolation(ctx, err, "duplicate queue answer")
	}

	return p.emit(ctx, tenant, modules.EventQueueAnswer, event, p.occurredAt(event))
}

func (p *Processor) handleQueueEnd(ctx context.Context, tenant *models.Tenant, event esl.Event) error {
	if event["CC-Cause"] != "Cancel" && event["CC-Cause"] != "abandoned" {
		// Normal terminations were already settled by bridge-agent-start.
		return nil
	}

	callUUID := event["CC-Member-Session-UUID"]
	if callUUID == "" {
		callUUID = event.CallUUID()
	}

	entry, err := p.store.GetActiveEntryByCall(ctx, callUUID)
	if err != nil {
		return err
	}
	if entry == nil {
		logger.WithContext(ctx).Warn("Queue abandon without active entry")
		return nil
	}

	reason := event["CC-Cancel-Reason"]
	if reason == "" {
		reason = "caller_hangup"
	}

	if _, err := p.engine.AbandonEntry(ctx, entry.ID, reason); err != nil {
		return p.ignoreStateViolation(ctx, err, "duplicate queue abandon")
	}

	return p.emit(ctx, tenant, modules.EventQueueAbandon, event, p.occurredAt(event))
}

func (p *Processor) handleAgentState(ctx context.Context, tenant *models.Tenant, event esl.Event) error {
	agent, err := p.store.GetAgentByExtension(ctx, tenant.ID, event["CC-Agent"])
	if err != nil {
		return p.ignoreNotFound(ctx, err, "state change for unknown agent")
	}

	state := models.AgentState(event["CC-Agent-State"])
	if err := p.engine.TransitionState(ctx, agent.ID, state, event["CC-Agent-Pause-Reason"]); err != nil {
		return p.ignoreStateViolation(ctx, err, "rejected agent state change")
	}

	return p.emit(ctx, tenant, modules.EventAgentState, event, p.occurredAt(event))
}

// emit appends one canonical event and fans it out to the webhook
// dispatcher and the module bus. The fan-out is fire-and-forget.
func (p *Processor) emit(ctx context.Context, tenant *models.Tenant, eventType modules.EventType, event esl.Event, occurredAt time.Time) error {
	payload := canonicalPayload(event)

	if err := p.store.AppendEvent(ctx, &models.CanonicalCallEvent{
		ID:            uuid.NewString(),
		TenantID:      tenant.ID,
		CallUUID:      event.CallUUID(),
		EventType:     string(eventType),
		SchemaVersion: models.EventSchemaVersion,
		Payload:       payload,
		OccurredAt:    occurredAt,
	}); err != nil {
		return err
	}

	p.count("events_processed_total", map[string]string{"event": string(eventType)})

	if p.dispatcher != nil {
		p.dispatcher.Enqueue(ctx, tenant, string(eventType), payload)
	}
	if p.bus != nil {
		p.bus.Publish(ctx, modules.ModuleEvent{
			Type:     eventType,
			TenantID: tenant.ID,
			CallUUID: event.CallUUID(),
			Payload:  payload,
		})
	}

	return nil
}

// occurredAt reads the switch's microsecond timestamp, falling back to
// the local clock when it is absent or garbled.
func (p *Processor) occurredAt(event esl.Event) time.Time {
	if micros, err := strconv.ParseInt(event["Event-Date-Timestamp"], 10, 64); err == nil && micros > 0 {
		return time.UnixMicro(micros).UTC()
	}
	return p.now()
}

func (p *Processor) ignoreNotFound(ctx context.Context, err error, msg string) error {
	if appErr, ok := err.(*errors.AppError); ok {
		switch appErr.Code {
		case errors.ErrQueueNotFound, errors.ErrAgentNotFound, errors.ErrTenantNotFound:
			logger.WithContext(ctx).Warn(msg)
			return nil
		}
	}
	return err
}

func (p *Processor) ignoreStateViolation(ctx context.Context, err error, msg string) error {
	if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.ErrStateViolation {
		logger.WithContext(ctx).WithError(err).Warn(msg)
		return nil
	}
	return err
}

func (p *Processor) count(name string, labels map[string]string) {
	if p.metrics != nil {
		p.metrics.IncrementCounter(name, labels)
	}
}

// canonicalPayload keeps the subset of headers worth carrying into the
// durable log; the raw event has hundreds.
func canonicalPayload(event esl.Event) models.JSON {
	payload := make(models.JSON)
	for _, key := range []string{
		"Event-Name", "Event-Subclass", "Unique-ID",
		"Caller-Caller-ID-Number", "Caller-Caller-ID-Name",
		"Caller-Destination-Number", "Call-Direction",
		"Hangup-Cause", "variable_duration", "variable_billsec",
		"variable_domain_name",
		"CC-Action", "CC-Queue", "CC-Agent", "CC-Agent-State",
		"CC-Member-Session-UUID", "CC-Member-CID-Number",
		"CC-Cause", "CC-Cancel-Reason",
		"Other-Leg-Unique-ID",
	} {
		if value, ok := event[key]; ok && value != "" {
			payload[key] = value
		}
	}
	return payload
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
