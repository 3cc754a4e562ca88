package store

import (
	"context"
	"time"

	"github.com/md-riaz/NIZAM-sub001/internal/models"
)

// TenantStore reads tenant records and drives their lifecycle status.
// All other tenant fields are owned by the administrative layer.
type TenantStore interface {
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	UpdateTenantStatus(ctx context.Context, tenantID int64, status models.TenantStatus) error
}

// DirectoryStore reads the routing configuration projected into the
// switch's directory and dialplan documents.
type DirectoryStore interface {
	ActiveExtensions(ctx context.Context, tenantID int64) ([]models.Extension, error)
	FindExtension(ctx context.Context, tenantID int64, number string) (*models.Extension, error)
	FindExtensionByID(ctx context.Context, tenantID, extensionID int64) (*models.Extension, error)
	FindDID(ctx context.Context, tenantID int64, number string) (*models.DID, error)
	FindRingGroup(ctx context.Context, tenantID int64, number string) (*models.RingGroup, error)
	FindRingGroupByID(ctx context.Context, tenantID, groupID int64) (*models.RingGroup, error)
}

// EventStore persists canonical call history.
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.CanonicalCallEvent) error
	UpsertCallDetail(ctx context.Context, detail *models.CallDetailAggregate) error
	GetCallDetail(ctx context.Context, callUUID string) (*models.CallDetailAggregate, error)
}

// QueueStore manages queues and queue entries.
type QueueStore interface {
	GetQueue(ctx context.Context, queueID int64) (*models.Queue, error)
	GetQueueByExtension(ctx context.Context, tenantID int64, extension string) (*models.Queue, error)
	ListQueues(ctx context.Context, tenantID int64) ([]models.Queue, error)
	CreateEntry(ctx context.Context, entry *models.QueueEntry) error
	UpdateEntry(ctx context.Context, entry *models.QueueEntry) error
	GetEntry(ctx context.Context, entryID int64) (*models.QueueEntry, error)
	GetActiveEntryByCall(ctx context.Context, callUUID string) (*models.QueueEntry, error)
	EntriesForQueue(ctx context.Context, queueID int64) ([]models.QueueEntry, error)
	WaitingEntries(ctx context.Context, queueID int64) ([]models.QueueEntry, error)
	EntriesJoinedBetween(ctx context.Context, queueID int64, from, to time.Time) ([]models.QueueEntry, error)
	AdvanceRotation(ctx context.Context, queueID int64) (int, error)
}

// AgentStore manages agents and queue membership.
type AgentStore interface {
	GetAgent(ctx context.Context, agentID int64) (*models.Agent, error)
	GetAgentByExtension(ctx context.Context, tenantID int64, extension string) (*models.Agent, error)
	ListAgents(ctx context.Context, tenantID int64) ([]models.Agent, error)
	// AvailableMembers returns active queue members whose agent state is
	// available, ordered by ascending membership priority then agent id.
	AvailableMembers(ctx context.Context, queueID int64) ([]models.Agent, error)
	// Members returns every active queue member regardless of state.
	Members(ctx context.Context, queueID int64) ([]models.Agent, error)
	MemberPriority(ctx context.Context, queueID, agentID int64) (int, error)
	UpdateAgentState(ctx context.Context, agentID int64, state models.AgentState, pauseReason string, at time.Time) error
}

// MetricStore persists per-period queue statistics snapshots.
type MetricStore interface {
	UpsertQueueMetric(ctx context.Context, metric *models.QueueMetric) error
	GetQueueMetric(ctx context.Context, queueID int64, period models.MetricPeriod, periodStart time.Time) (*models.QueueMetric, error)
}

// DeliveryStore records webhook delivery attempts and outcomes.
type DeliveryStore interface {
	RecordDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	UpdateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
}

// Store is the full persistence port.
//
// Locked runs fn against a view of the store that holds the tenant's
// agent rows under an exclusive critical section. Agent selection and
// assignment must happen inside it so that two concurrent distribution
// operations, possibly in different processes, can never hand the same
// agent to two queue entries. The MySQL implementation takes row-level
// locks inside a transaction; the in-memory implementation uses a
// per-tenant mutex.
type Store interface {
	TenantStore
	DirectoryStore
	EventStore
	QueueStore
	AgentStore
	MetricStore
	DeliveryStore

	Locked(ctx context.Context, tenantID int64, fn func(Store) error) error
}
