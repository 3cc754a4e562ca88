package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/md-riaz/NIZAM-sub001/internal/models"
	"github.com/md-riaz/NIZAM-sub001/internal/store"
	"github.com/md-riaz/NIZAM-sub001/pkg/errors"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

// Engine owns the queue-entry and agent state machines. Agent selection
// and assignment run inside store.Locked so that concurrent distribution
// attempts for the same tenant, possibly in different processes, can
// never hand one agent to two calls.
type Engine struct {
	store store.Store
	now   func() time.Time
}

func NewEngine(s store.Store) *Engine {
	return &Engine{store: s, now: time.Now}
}

// AddToQueue creates a waiting entry for the call.
func (e *Engine) AddToQueue(ctx context.Context, queue *models.Queue, callUUID, callerNumber string) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{
		QueueID:      queue.ID,
		TenantID:     queue.TenantID,
		CallUUID:     callUUID,
		CallerNumber: callerNumber,
		Status:       models.EntryStatusWaiting,
		JoinTime:     e.now(),
	}

	if err := e.store.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}

	logger.WithContext(ctx).WithFields(map[string]interface{}{
		"queue_id":  queue.ID,
		"call_uuid": callUUID,
	}).Info("Call joined queue")

	return entry, nil
}

// SelectAgent picks one available member by the queue's strategy and
// marks it ringing, atomically with respect to other selections for the
// same tenant. Returns (nil, nil) when no member is available. The
// ring_all strategy never selects a single agent; use
// GetAgentsForRingAll instead.
func (e *Engine) SelectAgent(ctx context.Context, queue *models.Queue) (*models.Agent, error) {
	if queue.Strategy == models.StrategyRingAll {
		return nil, errors.New(errors.ErrStateViolation,
			"ring_all queues offer to all members, not one")
	}

	var selected *models.Agent

	err := e.store.Locked(ctx, queue.TenantID, func(s store.Store) error {
		members, err := s.AvailableMembers(ctx, queue.ID)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}

		var agent models.Agent
		switch queue.Strategy {
		case models.StrategyRoundRobin:
			pos, err := s.AdvanceRotation(ctx, queue.ID)
			if err != nil {
				return err
			}
			agent = members[pos%len(members)]
		case models.StrategyLeastRecent:
			agent = members[0]
			for _, m := range members[1:] {
				if m.StateChangedAt.Before(agent.StateChangedAt) {
					agent = m
				}
			}
		default:
			return errors.New(errors.ErrStateViolation,
				fmt.Sprintf("unknown queue strategy: %s", queue.Strategy))
		}

		if err := s.UpdateAgentState(ctx, agent.ID, models.AgentStateRinging, "", e.now()); err != nil {
			return err
		}

		agent.State = models.AgentStateRinging
		agent.PauseReason = ""
		selected = &agent
		return nil
	})
	if err != nil {
		return nil, err
	}

	return selected, nil
}

// GetAgentsForRingAll returns every currently-available member for a
// simultaneous offer. Members are not marked ringing here; whichever
// answers first is claimed by AnswerEntry.
func (e *Engine) GetAgentsForRingAll(ctx context.Context, queue *models.Queue) ([]models.Agent, error) {
	return e.store.AvailableMembers(ctx, queue.ID)
}

// AnswerEntry moves the entry to answered and the agent to busy. The
// terminal timestamp and wait duration are set exactly once; answering
// an already-terminal entry is a state violation.
func (e *Engine) AnswerEntry(ctx context.Context, entryID, agentID int64) (*models.QueueEntry, error) {
	var answered *models.QueueEntry

	entry, err := e.getEntry(ctx, e.store, entryID)
	if err != nil {
		return nil, err
	}

	err = e.store.Locked(ctx, entry.TenantID, func(s store.Store) error {
		entry, err := e.getEntry(ctx, s, entryID)
		if err != nil {
			return err
		}
		if entry.Status.IsTerminal() {
			return errors.New(errors.ErrStateViolation,
				fmt.Sprintf("queue entry %d already %s", entry.ID, entry.Status))
		}

		now := e.now()
		wait := int(now.Sub(entry.JoinTime).Seconds())

		entry.Status = models.EntryStatusAnswered
		entry.AnswerTime = &now
		entry.WaitDuration = &wait
		entry.AgentID = &agentID

		if err := s.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		if err := s.UpdateAgentState(ctx, agentID, models.AgentStateBusy, "", now); err != nil {
			return err
		}

		answered = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx).WithFields(map[string]interface{}{
		"entry_id": entryID,
		"agent_id": agentID,
	}).Info("Queue entry answered")

	return answered, nil
}

// getEntry loads one entry, treating a missing row as a state
// violation so racing callers get a rejection instead of a nil.
func (e *Engine) getEntry(ctx context.Context, s store.Store, entryID int64) (*models.QueueEntry, error) {
	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errors.New(errors.ErrStateViolation,
			fmt.Sprintf("queue entry %d does not exist", entryID))
	}
	return entry, nil
}

// AbandonEntry moves the entry to abandoned, recording the reason. The
// terminal check and the write run under the tenant lock so a racing
// answer and abandon can never both commit.
func (e *Engine) AbandonEntry(ctx context.Context, entryID int64, reason string) (*models.QueueEntry, error) {
	entry, err := e.getEntry(ctx, e.store, entryID)
	if err != nil {
		return nil, err
	}

	var abandoned *models.QueueEntry

	err = e.store.Locked(ctx, entry.TenantID, func(s store.Store) error {
		entry, err := e.getEntry(ctx, s, entryID)
		if err != nil {
			return err
		}
		if entry.Status.IsTerminal() {
			return errors.New(errors.ErrStateViolation,
				fmt.Sprintf("queue entry %d already %s", entry.ID, entry.Status))
		}

		now := e.now()
		wait := int(now.Sub(entry.JoinTime).Seconds())

		entry.Status = models.EntryStatusAbandoned
		entry.AbandonTime = &now
		entry.WaitDuration = &wait
		entry.AbandonReason = reason

		if err := s.UpdateEntry(ctx, entry); err != nil {
			return err
		}

		abandoned = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx).WithFields(map[string]interface{}{
		"entry_id": entryID,
		"reason":   reason,
	}).Info("Queue entry abandoned")

	return abandoned, nil
}

// OverflowEntry moves the entry to overflowed. Executing the queue's
// configured overflow action for the caller is the caller's business.
// Runs under the tenant lock for the same reason AnswerEntry does: the
// sweep must lose cleanly against a concurrent answer.
func (e *Engine) OverflowEntry(ctx context.Context, entryID int64) (*models.QueueEntry, error) {
	entry, err := e.getEntry(ctx, e.store, entryID)
	if err != nil {
		return nil, err
	}

	var overflowed *models.QueueEntry

	err = e.store.Locked(ctx, entry.TenantID, func(s store.Store) error {
		entry, err := e.getEntry(ctx, s, entryID)
		if err != nil {
			return err
		}
		if entry.Status.IsTerminal() {
			return errors.New(errors.ErrStateViolation,
				fmt.Sprintf("queue entry %d already %s", entry.ID, entry.Status))
		}

		now := e.now()
		wait := int(now.Sub(entry.JoinTime).Seconds())

		entry.Status = models.EntryStatusOverflowed
		entry.WaitDuration = &wait

		if err := s.UpdateEntry(ctx, entry); err != nil {
			return err
		}

		overflowed = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	return overflowed, nil
}

// GetOverflowCandidates returns waiting entries that have outlived the
// queue's max wait time.
func (e *Engine) GetOverflowCandidates(ctx context.Context, queue *models.Queue) ([]models.QueueEntry, error) {
	if queue.MaxWaitTime <= 0 {
		return nil, nil
	}

	waiting, err := e.store.WaitingEntries(ctx, queue.ID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var candidates []models.QueueEntry
	for _, entry := range waiting {
		if now.Sub(entry.JoinTime) > time.Duration(queue.MaxWaitTime)*time.Second {
			candidates = append(candidates, entry)
		}
	}

	return candidates, nil
}

// OverflowOutcome pairs an overflowed entry with the action the caller
// should now execute for it.
type OverflowOutcome struct {
	Entry       *models.QueueEntry
	Action      models.OverflowAction
	Destination string
}

// SweepOverflow overflows every candidate and reports the configured
// action for each, so the caller can voicemail/transfer/hang up the
// stranded calls.
func (e *Engine) SweepOverflow(ctx context.Context, queue *models.Queue) ([]OverflowOutcome, error) {
	candidates, err := e.GetOverflowCandidates(ctx, queue)
	if err != nil {
		return nil, err
	}

	var outcomes []OverflowOutcome
	for _, candidate := range candidates {
		entry, err := e.OverflowEntry(ctx, candidate.ID)
		if err != nil {
			// Lost a race with an answer or abandon; the entry is no
			// longer stranded.
			if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.ErrStateViolation {
				continue
			}
			return outcomes, err
		}
		outcomes = append(outcomes, OverflowOutcome{
			Entry:       entry,
			Action:      queue.OverflowAction,
			Destination: queue.OverflowDestination,
		})
	}

	return outcomes, nil
}

// TransitionState applies one agent state transition. Every state is
// reachable from every other; pause_reason exists only while paused and
// state_changed_at refreshes on every transition.
func (e *Engine) TransitionState(ctx context.Context, agentID int64, newState models.AgentState, pauseReason string) error {
	if !newState.Valid() {
		return errors.New(errors.ErrStateViolation,
			fmt.Sprintf("unknown agent state: %s", newState))
	}
	if newState != models.AgentStatePaused && pauseReason != "" {
		return errors.New(errors.ErrStateViolation,
			fmt.Sprintf("pause reason only applies to the paused state, not %s", newState))
	}
	if newState != models.AgentStatePaused {
		pauseReason = ""
	}

	if err := e.store.UpdateAgentState(ctx, agentID, newState, pauseReason, e.now()); err != nil {
		return err
	}

	logger.WithContext(ctx).WithFields(map[string]interface{}{
		"agent_id": agentID,
		"state":    string(newState),
	}).Info("Agent state changed")

	return nil
}
