package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/md-riaz/NIZAM-sub001/internal/models"
	"github.com/md-riaz/NIZAM-sub001/pkg/errors"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

// CacheInterface is the subset of the Redis cache the store uses for
// hot lookups. A nil cache disables caching.
type CacheInterface interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DBInterface is what the store needs from the database handle: plain
// queries plus transactions that retry transient failures.
type DBInterface interface {
	querier
	Transaction(ctx context.Context, fn func(*sql.Tx) error) error
}

// MySQLStore implements Store on top of MySQL.
type MySQLStore struct {
	db    DBInterface
	q     querier
	cache CacheInterface
}

func NewMySQLStore(db DBInterface, cache CacheInterface) *MySQLStore {
	return &MySQLStore{db: db, q: db, cache: cache}
}

// Tenants

func (s *MySQLStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	cacheKey := fmt.Sprintf("tenant:domain:%s", domain)
	if s.cache != nil {
		var cached models.Tenant
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil && cached.ID != 0 {
			return &cached, nil
		}
	}

	var t models.Tenant
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, domain, status, webhook_url, webhook_secret, created_at, updated_at
		FROM tenants WHERE domain = ?`, domain).Scan(
		&t.ID, &t.Name, &t.Domain, &t.Status, &t.WebhookURL, &t.WebhookSecret,
		&t.CreatedAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrTenantNotFound, "no tenant for domain").WithContext("domain", domain)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load tenant")
	}

	if s.cache != nil {
		s.cache.Set(ctx, cacheKey, &t, 30*time.Second)
	}

	return &t, nil
}

// UpdateTenantStatus changes the tenant's lifecycle status and drops
// the domain cache entry so routing decisions see the change at once
// rather than after the TTL.
func (s *MySQLStore) UpdateTenantStatus(ctx context.Context, tenantID int64, status models.TenantStatus) error {
	var domain string
	err := s.q.QueryRowContext(ctx,
		`SELECT domain FROM tenants WHERE id = ?`, tenantID).Scan(&domain)
	if err == sql.ErrNoRows {
		return errors.New(errors.ErrTenantNotFound, "tenant not found")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to load tenant")
	}

	if _, err := s.q.ExecContext(ctx,
		`UPDATE tenants SET status = ? WHERE id = ?`, status, tenantID); err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to update tenant status")
	}

	if s.cache != nil {
		s.cache.Delete(ctx, fmt.Sprintf("tenant:domain:%s", domain))
	}

	return nil
}

func (s *MySQLStore) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, domain, status, webhook_url, webhook_secret, created_at, updated_at
		FROM tenants ORDER BY domain`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list tenants")
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Domain, &t.Status, &t.WebhookURL,
			&t.WebhookSecret, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan tenant")
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Directory

func (s *MySQLStore) ActiveExtensions(ctx context.Context, tenantID int64) ([]models.Extension, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, tenant_id, number, display_name, password, voicemail_enabled,
		       voicemail_password, active, created_at, updated_at
		FROM extensions WHERE tenant_id = ? AND active = 1 ORDER BY number`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query extensions")
	}
	defer rows.Close()

	var exts []models.Extension
	for rows.Next() {
		var e models.Extension
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Number, &e.DisplayName, &e.Password,
			&e.VoicemailEnabled, &e.VoicemailPassword, &e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan extension")
		}
		exts = append(exts, e)
	}
	return exts, rows.Err()
}

func (s *MySQLStore) FindExtension(ctx context.Context, tenantID int64, number string) (*models.Extension, error) {
	var e models.Extension
	err := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, number, display_name, password, voicemail_enabled,
		       voicemail_password, active, created_at, updated_at
		FROM extensions WHERE tenant_id = ? AND number = ? AND active = 1`, tenantID, number).Scan(
		&e.ID, &e.TenantID, &e.Number, &e.DisplayName, &e.Password,
		&e.VoicemailEnabled, &e.VoicemailPassword, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to find extension")
	}
	return &e, nil
}

func (s *MySQLStore) FindExtensionByID(ctx context.Context, tenantID, extensionID int64) (*models.Extension, error) {
	var e models.Extension
	err := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, number, display_name, password, voicemail_enabled,
		       voicemail_password, active, created_at, updated_at
		FROM extensions WHERE tenant_id = ? AND id = ? AND active = 1`, tenantID, extensionID).Scan(
		&e.ID, &e.TenantID, &e.Number, &e.DisplayName, &e.Password,
		&e.VoicemailEnabled, &e.VoicemailPassword, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to find extension")
	}
	return &e, nil
}

func (s *MySQLStore) FindDID(ctx context.Context, tenantID int64, number string) (*models.DID, error) {
	var d models.DID
	err := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, number, destination_type, destination_id, active, created_at
		FROM dids WHERE tenant_id = ? AND number = ? AND active = 1`, tenantID, number).Scan(
		&d.ID, &d.TenantID, &d.Number, &d.DestinationType, &d.DestinationID, &d.Active, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to find DID")
	}
	return &d, nil
}

func (s *MySQLStore) FindRingGroup(ctx context.Context, tenantID int64, number string) (*models.RingGroup, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, number, timeout, created_at
		FROM ring_groups WHERE tenant_id = ? AND number = ?`, tenantID, number)
	return s.scanRingGroup(ctx, row)
}

func (s *MySQLStore) FindRingGroupByID(ctx context.Context, tenantID, groupID int64) (*models.RingGroup, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, number, timeout, created_at
		FROM ring_groups WHERE tenant_id = ? AND id = ?`, tenantID, groupID)
	return s.scanRingGroup(ctx, row)
}

func (s *MySQLStore) scanRingGroup(ctx context.Context, row *sql.Row) (*models.RingGroup, error) {
	var g models.RingGroup
	err := row.Scan(&g.ID, &g.TenantID, &g.Name, &g.Number, &g.Timeout, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to find ring group")
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT extension FROM ring_group_members WHERE ring_group_id = ? ORDER BY extension`, g.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query ring group members")
	}
	defer rows.Close()

	for rows.Next() {
		var ext string
		if err := rows.Scan(&ext); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan ring group member")
		}
		g.Extensions = append(g.Extensions, ext)
	}
	return &g, rows.Err()
}

// Call history

func (s *MySQLStore) AppendEvent(ctx context.Context, event *models.CanonicalCallEvent) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO call_events (id, tenant_id, call_uuid, event_type, schema_version, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.TenantID, event.CallUUID, event.EventType,
		event.SchemaVersion, event.Payload, event.OccurredAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to append call event")
	}
	return nil
}

func (s *MySQLStore) UpsertCallDetail(ctx context.Context, detail *models.CallDetailAggregate) error {
	// end_time is terminal: the duration/billsec/end_time assignments fire
	// only while the stored end_time is still NULL, so a duplicate hangup
	// for the same UUID cannot overwrite the first one. Assignment order
	// matters here, duration and billsec must be set before end_time.
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO call_details (tenant_id, call_uuid, caller_number, callee_number, direction,
		                          start_time, answer_time, end_time, duration, billsec, hangup_cause)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			caller_number = IF(VALUES(caller_number) <> '', VALUES(caller_number), caller_number),
			callee_number = IF(VALUES(callee_number) <> '', VALUES(callee_number), callee_number),
			direction     = IF(VALUES(direction) <> '', VALUES(direction), direction),
			start_time    = COALESCE(start_time, VALUES(start_time)),
			answer_time   = COALESCE(answer_time, VALUES(answer_time)),
			duration      = IF(end_time IS NULL, VALUES(duration), duration),
			billsec       = IF(end_time IS NULL, VALUES(billsec), billsec),
			hangup_cause  = IF(end_time IS NULL AND VALUES(hangup_cause) <> '', VALUES(hangup_cause), hangup_cause),
			end_time      = COALESCE(end_time, VALUES(end_time))`,
		detail.TenantID, detail.CallUUID, detail.CallerNumber, detail.CalleeNumber, detail.Direction,
		detail.StartTime, detail.AnswerTime, detail.EndTime, detail.Duration, detail.BillSec, detail.HangupCause)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to upsert call detail")
	}
	return nil
}

func (s *MySQLStore) GetCallDetail(ctx context.Context, callUUID string) (*models.CallDetailAggregate, error) {
	var d models.CallDetailAggregate
	err := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, call_uuid, caller_number, callee_number, direction,
		       start_time, answer_time, end_time, duration, billsec, hangup_cause,
		       created_at, updated_at
		FROM call_details WHERE call_uuid = ?`, callUUID).Scan(
		&d.ID, &d.TenantID, &d.CallUUID, &d.CallerNumber, &d.CalleeNumber, &d.Direction,
		&d.StartTime, &d.AnswerTime, &d.EndTime, &d.Duration, &d.BillSec, &d.HangupCause,
		&d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load call detail")
	}
	return &d, nil
}

// Queues

const queueColumns = `id, tenant_id, name, extension, strategy, max_wait_time,
	overflow_action, overflow_destination, service_level_threshold, created_at, updated_at`

func (s *MySQLStore) scanQueue(row *sql.Row) (*models.Queue, error) {
	var q models.Queue
	err := row.Scan(&q.ID, &q.TenantID, &q.Name, &q.Extension, &q.Strategy, &q.MaxWaitTime,
		&q.OverflowAction, &q.OverflowDestination, &q.ServiceLevelThreshold, &q.CreatedAt, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrQueueNotFound, "queue not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load queue")
	}
	return &q, nil
}

func (s *MySQLStore) GetQueue(ctx context.Context, queueID int64) (*models.Queue, error) {
	return s.scanQueue(s.q.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queues WHERE id = ?`, queueID))
}

func (s *MySQLStore) GetQueueByExtension(ctx context.Context, tenantID int64, extension string) (*models.Queue, error) {
	return s.scanQueue(s.q.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queues WHERE tenant_id = ? AND extension = ?`, tenantID, extension))
}

func (s *MySQLStore) ListQueues(ctx context.Context, tenantID int64) ([]models.Queue, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queues WHERE tenant_id = ? ORDER BY name`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list queues")
	}
	defer rows.Close()

	var queues []models.Queue
	for rows.Next() {
		var q models.Queue
		if err := rows.Scan(&q.ID, &q.TenantID, &q.Name, &q.Extension, &q.Strategy, &q.MaxWaitTime,
			&q.OverflowAction, &q.OverflowDestination, &q.ServiceLevelThreshold, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan queue")
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

func (s *MySQLStore) CreateEntry(ctx context.Context, entry *models.QueueEntry) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO queue_entries (queue_id, tenant_id, call_uuid, caller_number, status, join_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.QueueID, entry.TenantID, entry.CallUUID, entry.CallerNumber, entry.Status, entry.JoinTime)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to create queue entry")
	}
	entry.ID, _ = res.LastInsertId()
	return nil
}

func (s *MySQLStore) UpdateEntry(ctx context.Context, entry *models.QueueEntry) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = ?, answer_time = ?, abandon_time = ?, wait_duration = ?,
		    agent_id = ?, abandon_reason = ?
		WHERE id = ?`,
		entry.Status, entry.AnswerTime, entry.AbandonTime, entry.WaitDuration,
		entry.AgentID, entry.AbandonReason, entry.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to update queue entry")
	}
	return nil
}

const entryColumns = `id, queue_id, tenant_id, call_uuid, caller_number, status, join_time,
	answer_time, abandon_time, wait_duration, agent_id, abandon_reason, created_at, updated_at`

func scanEntries(rows *sql.Rows) ([]models.QueueEntry, error) {
	defer rows.Close()
	var entries []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(&e.ID, &e.QueueID, &e.TenantID, &e.CallUUID, &e.CallerNumber,
			&e.Status, &e.JoinTime, &e.AnswerTime, &e.AbandonTime, &e.WaitDuration,
			&e.AgentID, &e.AbandonReason, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan queue entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *MySQLStore) GetEntry(ctx context.Context, entryID int64) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := s.q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, entryID).Scan(
		&e.ID, &e.QueueID, &e.TenantID, &e.CallUUID, &e.CallerNumber,
		&e.Status, &e.JoinTime, &e.AnswerTime, &e.AbandonTime, &e.WaitDuration,
		&e.AgentID, &e.AbandonReason, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load queue entry")
	}
	return &e, nil
}

func (s *MySQLStore) GetActiveEntryByCall(ctx context.Context, callUUID string) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := s.q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		 WHERE call_uuid = ? AND status IN ('waiting', 'ringing')
		 ORDER BY id DESC LIMIT 1`, callUUID).Scan(
		&e.ID, &e.QueueID, &e.TenantID, &e.CallUUID, &e.CallerNumber,
		&e.Status, &e.JoinTime, &e.AnswerTime, &e.AbandonTime, &e.WaitDuration,
		&e.AgentID, &e.AbandonReason, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load active queue entry")
	}
	return &e, nil
}

func (s *MySQLStore) EntriesForQueue(ctx context.Context, queueID int64) ([]models.QueueEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE queue_id = ? ORDER BY join_time`, queueID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query queue entries")
	}
	return scanEntries(rows)
}

func (s *MySQLStore) WaitingEntries(ctx context.Context, queueID int64) ([]models.QueueEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		 WHERE queue_id = ? AND status = 'waiting' ORDER BY join_time`, queueID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query waiting entries")
	}
	return scanEntries(rows)
}

func (s *MySQLStore) EntriesJoinedBetween(ctx context.Context, queueID int64, from, to time.Time) ([]models.QueueEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		 WHERE queue_id = ? AND join_time >= ? AND join_time < ? ORDER BY join_time`,
		queueID, from, to)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query entries for period")
	}
	return scanEntries(rows)
}

func (s *MySQLStore) AdvanceRotation(ctx context.Context, queueID int64) (int, error) {
	_, err := s.q.ExecContext(ctx,
		`UPDATE queues SET rotation_pos = rotation_pos + 1 WHERE id = ?`, queueID)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrDatabase, "failed to advance rotation")
	}

	var pos int
	err = s.q.QueryRowContext(ctx,
		`SELECT rotation_pos FROM queues WHERE id = ?`, queueID).Scan(&pos)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrDatabase, "failed to read rotation")
	}
	return pos, nil
}

// Agents

const agentColumns = `id, tenant_id, name, extension, state, pause_reason,
	state_changed_at, created_at, updated_at`

func scanAgents(rows *sql.Rows) ([]models.Agent, error) {
	defer rows.Close()
	var agents []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Extension, &a.State,
			&a.PauseReason, &a.StateChangedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan agent")
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *MySQLStore) GetAgent(ctx context.Context, agentID int64) (*models.Agent, error) {
	var a models.Agent
	err := s.q.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, agentID).Scan(
		&a.ID, &a.TenantID, &a.Name, &a.Extension, &a.State,
		&a.PauseReason, &a.StateChangedAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrAgentNotFound, "agent not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load agent")
	}
	return &a, nil
}

func (s *MySQLStore) GetAgentByExtension(ctx context.Context, tenantID int64, extension string) (*models.Agent, error) {
	var a models.Agent
	err := s.q.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? AND extension = ?`,
		tenantID, extension).Scan(
		&a.ID, &a.TenantID, &a.Name, &a.Extension, &a.State,
		&a.PauseReason, &a.StateChangedAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrAgentNotFound, "agent not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load agent")
	}
	return &a, nil
}

func (s *MySQLStore) ListAgents(ctx context.Context, tenantID int64) ([]models.Agent, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? ORDER BY name`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list agents")
	}
	return scanAgents(rows)
}

func (s *MySQLStore) AvailableMembers(ctx context.Context, queueID int64) ([]models.Agent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT a.id, a.tenant_id, a.name, a.extension, a.state, a.pause_reason,
		       a.state_changed_at, a.created_at, a.updated_at
		FROM agents a
		JOIN queue_agents qa ON qa.agent_id = a.id
		WHERE qa.queue_id = ? AND qa.active = 1 AND a.state = 'available'
		ORDER BY qa.priority ASC, a.id ASC`, queueID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query available members")
	}
	return scanAgents(rows)
}

func (s *MySQLStore) Members(ctx context.Context, queueID int64) ([]models.Agent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT a.id, a.tenant_id, a.name, a.extension, a.state, a.pause_reason,
		       a.state_changed_at, a.created_at, a.updated_at
		FROM agents a
		JOIN queue_agents qa ON qa.agent_id = a.id
		WHERE qa.queue_id = ? AND qa.active = 1
		ORDER BY qa.priority ASC, a.id ASC`, queueID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query queue members")
	}
	return scanAgents(rows)
}

func (s *MySQLStore) MemberPriority(ctx context.Context, queueID, agentID int64) (int, error) {
	var priority int
	err := s.q.QueryRowContext(ctx,
		`SELECT priority FROM queue_agents WHERE queue_id = ? AND agent_id = ?`,
		queueID, agentID).Scan(&priority)
	if err == sql.ErrNoRows {
		return 0, errors.New(errors.ErrAgentNotFound, "agent is not a queue member")
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrDatabase, "failed to load member priority")
	}
	return priority, nil
}

func (s *MySQLStore) UpdateAgentState(ctx context.Context, agentID int64, state models.AgentState, pauseReason string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE agents SET state = ?, pause_reason = ?, state_changed_at = ? WHERE id = ?`,
		state, pauseReason, at, agentID)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to update agent state")
	}
	return nil
}

// Metrics

func (s *MySQLStore) UpsertQueueMetric(ctx context.Context, metric *models.QueueMetric) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO queue_metrics (queue_id, tenant_id, period, period_start, total_calls,
		                           answered_calls, abandoned_calls, overflowed_calls,
		                           average_wait_time, max_wait_time, abandon_rate, service_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			total_calls = VALUES(total_calls),
			answered_calls = VALUES(answered_calls),
			abandoned_calls = VALUES(abandoned_calls),
			overflowed_calls = VALUES(overflowed_calls),
			average_wait_time = VALUES(average_wait_time),
			max_wait_time = VALUES(max_wait_time),
			abandon_rate = VALUES(abandon_rate),
			service_level = VALUES(service_level)`,
		metric.QueueID, metric.TenantID, metric.Period, metric.PeriodStart, metric.TotalCalls,
		metric.AnsweredCalls, metric.AbandonedCalls, metric.OverflowedCalls,
		metric.AverageWaitTime, metric.MaxWaitTime, metric.AbandonRate, metric.ServiceLevel)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to upsert queue metric")
	}
	return nil
}

func (s *MySQLStore) GetQueueMetric(ctx context.Context, queueID int64, period models.MetricPeriod, periodStart time.Time) (*models.QueueMetric, error) {
	var m models.QueueMetric
	err := s.q.QueryRowContext(ctx, `
		SELECT id, queue_id, tenant_id, period, period_start, total_calls,
		       answered_calls, abandoned_calls, overflowed_calls,
		       average_wait_time, max_wait_time, abandon_rate, service_level, created_at
		FROM queue_metrics WHERE queue_id = ? AND period = ? AND period_start = ?`,
		queueID, period, periodStart).Scan(
		&m.ID, &m.QueueID, &m.TenantID, &m.Period, &m.PeriodStart, &m.TotalCalls,
		&m.AnsweredCalls, &m.AbandonedCalls, &m.OverflowedCalls,
		&m.AverageWaitTime, &m.MaxWaitTime, &m.AbandonRate, &m.ServiceLevel, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load queue metric")
	}
	return &m, nil
}

// Webhook deliveries

func (s *MySQLStore) RecordDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, tenant_id, event_type, url, attempts, status, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		delivery.ID, delivery.TenantID, delivery.EventType, delivery.URL,
		delivery.Attempts, delivery.Status, delivery.LastError)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to record webhook delivery")
	}
	return nil
}

func (s *MySQLStore) UpdateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET attempts = ?, status = ?, last_error = ?, delivered_at = ?
		WHERE id = ?`,
		delivery.Attempts, delivery.Status, delivery.LastError, delivery.DeliveredAt, delivery.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to update webhook delivery")
	}
	return nil
}

// Locked takes row-level locks on the tenant's agents inside a
// transaction and runs fn against a transaction-scoped store. Works
// across processes because the lock lives in MySQL, not in memory.
// Deadlocks between competing assignments roll back and retry through
// the transaction runner, so fn must tolerate re-execution.
func (s *MySQLStore) Locked(ctx context.Context, tenantID int64, fn func(Store) error) error {
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM agents WHERE tenant_id = ? FOR UPDATE`, tenantID)
		if err != nil {
			return errors.Wrap(err, errors.ErrDatabase, "failed to lock tenant agents")
		}
		for rows.Next() {
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return errors.Wrap(err, errors.ErrDatabase, "failed to lock tenant agents")
		}
		rows.Close()

		txStore := &MySQLStore{db: s.db, q: tx, cache: s.cache}
		return fn(txStore)
	})
	if err != nil {
		return err
	}

	logger.WithContext(ctx).WithField("tenant_id", tenantID).Debug("Agent assignment committed")
	return nil
}
