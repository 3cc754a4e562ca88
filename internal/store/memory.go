package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-riaz/NIZAM-sub001/internal/models"
	"github.com/md-riaz/NIZAM-sub001/pkg/errors"
)

// MemoryStore is an in-memory Store used by tests and local
// development. The per-tenant assignment lock is a plain mutex since a
// single process owns the data.
type MemoryStore struct {
	mu sync.RWMutex

	Tenants    map[int64]*models.Tenant
	Extensions []*models.Extension
	DIDs       []*models.DID
	RingGroups []*models.RingGroup
	Queues     map[int64]*models.Queue
	Entries    map[int64]*models.QueueEntry
	Agents     map[int64]*models.Agent
	Memberships []models.QueueMember
	Events     []*models.CanonicalCallEvent
	Details    map[string]*models.CallDetailAggregate
	Metrics    map[string]*models.QueueMetric
	Deliveries map[string]*models.WebhookDelivery

	rotations map[int64]int

	nextEntryID int64

	tenantLocks sync.Map // tenantID -> *sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Tenants:    make(map[int64]*models.Tenant),
		Queues:     make(map[int64]*models.Queue),
		Entries:    make(map[int64]*models.QueueEntry),
		Agents:     make(map[int64]*models.Agent),
		Details:    make(map[string]*models.CallDetailAggregate),
		Metrics:    make(map[string]*models.QueueMetric),
		Deliveries: make(map[string]*models.WebhookDelivery),
		rotations:  make(map[int64]int),
	}
}

// Tenants

func (m *MemoryStore) GetTenantByDomain(_ context.Context, domain string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.Tenants {
		if t.Domain == domain {
			copied := *t
			return &copied, nil
		}
	}
	return nil, errors.New(errors.ErrTenantNotFound, "no tenant for domain").WithContext("domain", domain)
}

func (m *MemoryStore) UpdateTenantStatus(_ context.Context, tenantID int64, status models.TenantStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tenants[tenantID]
	if !ok {
		return errors.New(errors.ErrTenantNotFound, "tenant not found")
	}
	t.Status = status
	return nil
}

func (m *MemoryStore) ListTenants(_ context.Context) ([]models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Tenant, 0, len(m.Tenants))
	for _, t := range m.Tenants {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

// Directory

func (m *MemoryStore) ActiveExtensions(_ context.Context, tenantID int64) ([]models.Extension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Extension
	for _, e := range m.Extensions {
		if e.TenantID == tenantID && e.Active {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *MemoryStore) FindExtension(_ context.Context, tenantID int64, number string) (*models.Extension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.Extensions {
		if e.TenantID == tenantID && e.Number == number && e.Active {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindExtensionByID(_ context.Context, tenantID, extensionID int64) (*models.Extension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.Extensions {
		if e.TenantID == tenantID && e.ID == extensionID && e.Active {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindDID(_ context.Context, tenantID int64, number string) (*models.DID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.DIDs {
		if d.TenantID == tenantID && d.Number == number && d.Active {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindRingGroup(_ context.Context, tenantID int64, number string) (*models.RingGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.RingGroups {
		if g.TenantID == tenantID && g.Number == number {
			copied := *g
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindRingGroupByID(_ context.Context, tenantID, groupID int64) (*models.RingGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.RingGroups {
		if g.TenantID == tenantID && g.ID == groupID {
			copied := *g
			return &copied, nil
		}
	}
	return nil, nil
}

// Call history

func (m *MemoryStore) AppendEvent(_ context.Context, event *models.CanonicalCallEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *event
	m.Events = append(m.Events, &copied)
	return nil
}

func (m *MemoryStore) UpsertCallDetail(_ context.Context, detail *models.CallDetailAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.Details[detail.CallUUID]
	if !ok {
		copied := *detail
		m.Details[detail.CallUUID] = &copied
		return nil
	}

	if detail.CallerNumber != "" {
		existing.CallerNumber = detail.CallerNumber
	}
	if detail.CalleeNumber != "" {
		existing.CalleeNumber = detail.CalleeNumber
	}
	if detail.Direction != "" {
		existing.Direction = detail.Direction
	}
	if existing.StartTime == nil {
		existing.StartTime = detail.StartTime
	}
	if existing.AnswerTime == nil {
		existing.AnswerTime = detail.AnswerTime
	}
	// End time is terminal, first writer wins.
	if existing.EndTime == nil && detail.EndTime != nil {
		existing.EndTime = detail.EndTime
		existing.Duration = detail.Duration
		existing.BillSec = detail.BillSec
		existing.HangupCause = detail.HangupCause
	}
	return nil
}

func (m *MemoryStore) GetCallDetail(_ context.Context, callUUID string) (*models.CallDetailAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.Details[callUUID]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

// Queues

func (m *MemoryStore) GetQueue(_ context.Context, queueID int64) (*models.Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.Queues[queueID]
	if !ok {
		return nil, errors.New(errors.ErrQueueNotFound, "queue not found")
	}
	copied := *q
	return &copied, nil
}

func (m *MemoryStore) GetQueueByExtension(_ context.Context, tenantID int64, extension string) (*models.Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.Queues {
		if q.TenantID == tenantID && q.Extension == extension {
			copied := *q
			return &copied, nil
		}
	}
	return nil, errors.New(errors.ErrQueueNotFound, "queue not found")
}

func (m *MemoryStore) ListQueues(_ context.Context, tenantID int64) ([]models.Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Queue
	for _, q := range m.Queues {
		if q.TenantID == tenantID {
			out = append(out, *q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreateEntry(_ context.Context, entry *models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEntryID++
	entry.ID = m.nextEntryID
	copied := *entry
	m.Entries[entry.ID] = &copied
	return nil
}

func (m *MemoryStore) UpdateEntry(_ context.Context, entry *models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *entry
	m.Entries[entry.ID] = &copied
	return nil
}

func (m *MemoryStore) GetEntry(_ context.Context, entryID int64) (*models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.Entries[entryID]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (m *MemoryStore) GetActiveEntryByCall(_ context.Context, callUUID string) (*models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.QueueEntry
	for _, e := range m.Entries {
		if e.CallUUID != callUUID {
			continue
		}
		if e.Status != models.EntryStatusWaiting && e.Status != models.EntryStatusRinging {
			continue
		}
		if latest == nil || e.ID > latest.ID {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *MemoryStore) entriesWhere(pred func(*models.QueueEntry) bool) []models.QueueEntry {
	var out []models.QueueEntry
	for _, e := range m.Entries {
		if pred(e) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinTime.Equal(out[j].JoinTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinTime.Before(out[j].JoinTime)
	})
	return out
}

func (m *MemoryStore) EntriesForQueue(_ context.Context, queueID int64) ([]models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesWhere(func(e *models.QueueEntry) bool {
		return e.QueueID == queueID
	}), nil
}

func (m *MemoryStore) WaitingEntries(_ context.Context, queueID int64) ([]models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesWhere(func(e *models.QueueEntry) bool {
		return e.QueueID == queueID && e.Status == models.EntryStatusWaiting
	}), nil
}

func (m *MemoryStore) EntriesJoinedBetween(_ context.Context, queueID int64, from, to time.Time) ([]models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesWhere(func(e *models.QueueEntry) bool {
		return e.QueueID == queueID && !e.JoinTime.Before(from) && e.JoinTime.Before(to)
	}), nil
}

func (m *MemoryStore) AdvanceRotation(_ context.Context, queueID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotations[queueID]++
	return m.rotations[queueID], nil
}

// Agents

func (m *MemoryStore) GetAgent(_ context.Context, agentID int64) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.Agents[agentID]
	if !ok {
		return nil, errors.New(errors.ErrAgentNotFound, "agent not found")
	}
	copied := *a
	return &copied, nil
}

func (m *MemoryStore) GetAgentByExtension(_ context.Context, tenantID int64, extension string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.Agents {
		if a.TenantID == tenantID && a.Extension == extension {
			copied := *a
			return &copied, nil
		}
	}
	return nil, errors.New(errors.ErrAgentNotFound, "agent not found")
}

func (m *MemoryStore) ListAgents(_ context.Context, tenantID int64) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Agent
	for _, a := range m.Agents {
		if a.TenantID == tenantID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) members(queueID int64, availableOnly bool) []models.Agent {
	type member struct {
		agent    *models.Agent
		priority int
	}
	var selected []member
	for _, ms := range m.Memberships {
		if ms.QueueID != queueID || !ms.Active {
			continue
		}
		a, ok := m.Agents[ms.AgentID]
		if !ok {
			continue
		}
		if availableOnly && a.State != models.AgentStateAvailable {
			continue
		}
		selected = append(selected, member{agent: a, priority: ms.Priority})
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].priority == selected[j].priority {
			return selected[i].agent.ID < selected[j].agent.ID
		}
		return selected[i].priority < selected[j].priority
	})
	out := make([]models.Agent, 0, len(selected))
	for _, s := range selected {
		out = append(out, *s.agent)
	}
	return out
}

func (m *MemoryStore) AvailableMembers(_ context.Context, queueID int64) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members(queueID, true), nil
}

func (m *MemoryStore) Members(_ context.Context, queueID int64) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members(queueID, false), nil
}

func (m *MemoryStore) MemberPriority(_ context.Context, queueID, agentID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ms := range m.Memberships {
		if ms.QueueID == queueID && ms.AgentID == agentID {
			return ms.Priority, nil
		}
	}
	return 0, errors.New(errors.ErrAgentNotFound, "agent is not a queue member")
}

func (m *MemoryStore) UpdateAgentState(_ context.Context, agentID int64, state models.AgentState, pauseReason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Agents[agentID]
	if !ok {
		return errors.New(errors.ErrAgentNotFound, "agent not found")
	}
	a.State = state
	a.PauseReason = pauseReason
	a.StateChangedAt = at
	return nil
}

// Metrics

func metricKey(queueID int64, period models.MetricPeriod, periodStart time.Time) string {
	return fmt.Sprintf("%d|%s|%s", queueID, period, periodStart.UTC().Format(time.RFC3339))
}

func (m *MemoryStore) UpsertQueueMetric(_ context.Context, metric *models.QueueMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *metric
	m.Metrics[metricKey(metric.QueueID, metric.Period, metric.PeriodStart)] = &copied
	return nil
}

func (m *MemoryStore) GetQueueMetric(_ context.Context, queueID int64, period models.MetricPeriod, periodStart time.Time) (*models.QueueMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metric, ok := m.Metrics[metricKey(queueID, period, periodStart)]
	if !ok {
		return nil, nil
	}
	copied := *metric
	return &copied, nil
}

// Webhook deliveries

func (m *MemoryStore) RecordDelivery(_ context.Context, delivery *models.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *delivery
	m.Deliveries[delivery.ID] = &copied
	return nil
}

func (m *MemoryStore) UpdateDelivery(_ context.Context, delivery *models.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *delivery
	m.Deliveries[delivery.ID] = &copied
	return nil
}

// Locked serializes per-tenant agent assignment with a mutex.
func (m *MemoryStore) Locked(_ context.Context, tenantID int64, fn func(Store) error) error {
	lock, _ := m.tenantLocks.LoadOrStore(tenantID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return fn(m)
}
