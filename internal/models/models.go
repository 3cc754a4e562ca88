package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Tenant lifecycle status
type TenantStatus string

const (
	TenantStatusActive     TenantStatus = "active"
	TenantStatusTrial      TenantStatus = "trial"
	TenantStatusSuspended  TenantStatus = "suspended"
	TenantStatusTerminated TenantStatus = "terminated"
)

// IsRoutable reports whether the tenant may produce call history or dialplan output.
func (s TenantStatus) IsRoutable() bool {
	return s == TenantStatusActive || s == TenantStatusTrial
}

// Valid reports whether s is a known tenant status.
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantStatusActive, TenantStatusTrial, TenantStatusSuspended, TenantStatusTerminated:
		return true
	}
	return false
}

// Queue distribution strategies
type QueueStrategy string

const (
	StrategyRingAll     QueueStrategy = "ring_all"
	StrategyRoundRobin  QueueStrategy = "round_robin"
	StrategyLeastRecent QueueStrategy = "least_recent"
)

// Queue overflow actions
type OverflowAction string

const (
	OverflowVoicemail OverflowAction = "voicemail"
	OverflowHangup    OverflowAction = "hangup"
	OverflowExtension OverflowAction = "extension"
)

// Queue entry status
type EntryStatus string

const (
	EntryStatusWaiting    EntryStatus = "waiting"
	EntryStatusRinging    EntryStatus = "ringing"
	EntryStatusAnswered   EntryStatus = "answered"
	EntryStatusAbandoned  EntryStatus = "abandoned"
	EntryStatusOverflowed EntryStatus = "overflowed"
)

// IsTerminal reports whether the entry has reached a final status.
func (s EntryStatus) IsTerminal() bool {
	return s == EntryStatusAnswered || s == EntryStatusAbandoned || s == EntryStatusOverflowed
}

// Agent states
type AgentState string

const (
	AgentStateAvailable AgentState = "available"
	AgentStateBusy      AgentState = "busy"
	AgentStateRinging   AgentState = "ringing"
	AgentStatePaused    AgentState = "paused"
	AgentStateOffline   AgentState = "offline"
)

// Valid reports whether the state is one of the known agent states.
func (s AgentState) Valid() bool {
	switch s {
	case AgentStateAvailable, AgentStateBusy, AgentStateRinging, AgentStatePaused, AgentStateOffline:
		return true
	}
	return false
}

// Routing destination types
type DestinationType string

const (
	DestinationExtension     DestinationType = "extension"
	DestinationDID           DestinationType = "did"
	DestinationRingGroup     DestinationType = "ring_group"
	DestinationIVR           DestinationType = "ivr"
	DestinationTimeCondition DestinationType = "time_condition"
	DestinationCallRouting   DestinationType = "call_routing"
	DestinationCallFlow      DestinationType = "call_flow"
)

// Metric aggregation periods
type MetricPeriod string

const (
	PeriodHourly MetricPeriod = "hourly"
	PeriodDaily  MetricPeriod = "daily"
)

// Length returns the wall-clock span of one period.
func (p MetricPeriod) Length() time.Duration {
	if p == PeriodDaily {
		return 24 * time.Hour
	}
	return time.Hour
}

// EventSchemaVersion tags every canonical call event row.
const EventSchemaVersion = "1.0"

// JSON field for database storage
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSON)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Tenant is a PBX customer. Owned by the administrative layer; the
// control plane only ever reads it.
type Tenant struct {
	ID            int64        `json:"id" db:"id"`
	Name          string       `json:"name" db:"name"`
	Domain        string       `json:"domain" db:"domain"`
	Status        TenantStatus `json:"status" db:"status"`
	WebhookURL    string       `json:"webhook_url,omitempty" db:"webhook_url"`
	WebhookSecret string       `json:"-" db:"webhook_secret"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

// Extension is a tenant subscriber emitted into the switch directory.
type Extension struct {
	ID                int64     `json:"id" db:"id"`
	TenantID          int64     `json:"tenant_id" db:"tenant_id"`
	Number            string    `json:"number" db:"number"`
	DisplayName       string    `json:"display_name" db:"display_name"`
	Password          string    `json:"-" db:"password"`
	VoicemailEnabled  bool      `json:"voicemail_enabled" db:"voicemail_enabled"`
	VoicemailPassword string    `json:"-" db:"voicemail_password"`
	Active            bool      `json:"active" db:"active"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// DestinationRef points at a routing destination. Both sides of the
// reference must belong to the same tenant.
type DestinationRef struct {
	Type DestinationType `json:"type"`
	ID   int64           `json:"id"`
}

// DID maps a public number to a tenant destination.
type DID struct {
	ID              int64           `json:"id" db:"id"`
	TenantID        int64           `json:"tenant_id" db:"tenant_id"`
	Number          string          `json:"number" db:"number"`
	DestinationType DestinationType `json:"destination_type" db:"destination_type"`
	DestinationID   int64           `json:"destination_id" db:"destination_id"`
	Active          bool            `json:"active" db:"active"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// RingGroup rings a set of extensions together.
type RingGroup struct {
	ID         int64     `json:"id" db:"id"`
	TenantID   int64     `json:"tenant_id" db:"tenant_id"`
	Name       string    `json:"name" db:"name"`
	Number     string    `json:"number" db:"number"`
	Extensions []string  `json:"extensions" db:"-"`
	Timeout    int       `json:"timeout" db:"timeout"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// CanonicalCallEvent is the append-only, versioned record of one
// classified switch event. Rows are never mutated or deleted.
type CanonicalCallEvent struct {
	ID            string    `json:"id" db:"id"`
	TenantID      int64     `json:"tenant_id" db:"tenant_id"`
	CallUUID      string    `json:"call_uuid" db:"call_uuid"`
	EventType     string    `json:"event_type" db:"event_type"`
	SchemaVersion string    `json:"schema_version" db:"schema_version"`
	Payload       JSON      `json:"payload" db:"payload"`
	OccurredAt    time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// CallDetailAggregate is the one-row-per-call rollup. Only the event
// processor writes it; once EndTime is set a duplicate hangup must not
// overwrite it.
type CallDetailAggregate struct {
	ID           int64      `json:"id" db:"id"`
	TenantID     int64      `json:"tenant_id" db:"tenant_id"`
	CallUUID     string     `json:"call_uuid" db:"call_uuid"`
	CallerNumber string     `json:"caller_number" db:"caller_number"`
	CalleeNumber string     `json:"callee_number" db:"callee_number"`
	Direction    string     `json:"direction,omitempty" db:"direction"`
	StartTime    *time.Time `json:"start_time,omitempty" db:"start_time"`
	AnswerTime   *time.Time `json:"answer_time,omitempty" db:"answer_time"`
	EndTime      *time.Time `json:"end_time,omitempty" db:"end_time"`
	Duration     int        `json:"duration" db:"duration"`
	BillSec      int        `json:"billsec" db:"billsec"`
	HangupCause  string     `json:"hangup_cause,omitempty" db:"hangup_cause"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Queue holds the tenant-scoped distribution configuration.
type Queue struct {
	ID                    int64          `json:"id" db:"id"`
	TenantID              int64          `json:"tenant_id" db:"tenant_id"`
	Name                  string         `json:"name" db:"name"`
	Extension             string         `json:"extension" db:"extension"`
	Strategy              QueueStrategy  `json:"strategy" db:"strategy"`
	MaxWaitTime           int            `json:"max_wait_time" db:"max_wait_time"`
	OverflowAction        OverflowAction `json:"overflow_action" db:"overflow_action"`
	OverflowDestination   string         `json:"overflow_destination,omitempty" db:"overflow_destination"`
	ServiceLevelThreshold int            `json:"service_level_threshold" db:"service_level_threshold"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

// QueueEntry is one call's membership in a queue.
type QueueEntry struct {
	ID            int64       `json:"id" db:"id"`
	QueueID       int64       `json:"queue_id" db:"queue_id"`
	TenantID      int64       `json:"tenant_id" db:"tenant_id"`
	CallUUID      string      `json:"call_uuid" db:"call_uuid"`
	CallerNumber  string      `json:"caller_number,omitempty" db:"caller_number"`
	Status        EntryStatus `json:"status" db:"status"`
	JoinTime      time.Time   `json:"join_time" db:"join_time"`
	AnswerTime    *time.Time  `json:"answer_time,omitempty" db:"answer_time"`
	AbandonTime   *time.Time  `json:"abandon_time,omitempty" db:"abandon_time"`
	WaitDuration  *int        `json:"wait_duration,omitempty" db:"wait_duration"`
	AgentID       *int64      `json:"agent_id,omitempty" db:"agent_id"`
	AbandonReason string      `json:"abandon_reason,omitempty" db:"abandon_reason"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// Agent is a contact-center operator.
type Agent struct {
	ID             int64      `json:"id" db:"id"`
	TenantID       int64      `json:"tenant_id" db:"tenant_id"`
	Name           string     `json:"name" db:"name"`
	Extension      string     `json:"extension" db:"extension"`
	State          AgentState `json:"state" db:"state"`
	PauseReason    string     `json:"pause_reason,omitempty" db:"pause_reason"`
	StateChangedAt time.Time  `json:"state_changed_at" db:"state_changed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// QueueMember ties an agent to a queue with a selection priority.
type QueueMember struct {
	QueueID  int64 `json:"queue_id" db:"queue_id"`
	AgentID  int64 `json:"agent_id" db:"agent_id"`
	Priority int   `json:"priority" db:"priority"`
	Active   bool  `json:"active" db:"active"`
}

// QueueMetric is an immutable per-period statistics snapshot.
type QueueMetric struct {
	ID              int64        `json:"id" db:"id"`
	QueueID         int64        `json:"queue_id" db:"queue_id"`
	TenantID        int64        `json:"tenant_id" db:"tenant_id"`
	Period          MetricPeriod `json:"period" db:"period"`
	PeriodStart     time.Time    `json:"period_start" db:"period_start"`
	TotalCalls      int          `json:"total_calls" db:"total_calls"`
	AnsweredCalls   int          `json:"answered_calls" db:"answered_calls"`
	AbandonedCalls  int          `json:"abandoned_calls" db:"abandoned_calls"`
	OverflowedCalls int          `json:"overflowed_calls" db:"overflowed_calls"`
	AverageWaitTime float64      `json:"average_wait_time" db:"average_wait_time"`
	MaxWaitTime     float64      `json:"max_wait_time" db:"max_wait_time"`
	AbandonRate     float64      `json:"abandon_rate" db:"abandon_rate"`
	ServiceLevel    float64      `json:"service_level" db:"service_level"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// WebhookDelivery records one webhook dispatch and its outcome.
type WebhookDelivery struct {
	ID          string     `json:"id" db:"id"`
	TenantID    int64      `json:"tenant_id" db:"tenant_id"`
	EventType   string     `json:"event_type" db:"event_type"`
	URL         string     `json:"url" db:"url"`
	Attempts    int        `json:"attempts" db:"attempts"`
	Status      string     `json:"status" db:"status"`
	LastError   string     `json:"last_error,omitempty" db:"last_error"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
