package modules

import (
	"context"
	"sort"
	"sync"

	"github.com/md-riaz/NIZAM-sub001/internal/models"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

// EventType enumerates the canonical event types modules can
// subscribe to.
type EventType string

const (
	EventCallCreated  EventType = "call.created"
	EventCallAnswered EventType = "call.answered"
	EventCallBridged  EventType = "call.bridged"
	EventCallHangup   EventType = "call.hangup"
	EventCallMissed   EventType = "call.missed"
	EventQueueJoined  EventType = "queue.joined"
	EventQueueAnswer  EventType = "queue.answered"
	EventQueueAbandon EventType = "queue.abandoned"
	EventAgentState   EventType = "agent.state_changed"
)

// ModuleEvent is the payload handed to subscribers.
type ModuleEvent struct {
	Type     EventType
	TenantID int64
	CallUUID string
	Payload  models.JSON
}

// Listener receives module events. Implementations must not block;
// the bus already runs them off the hot path.
type Listener interface {
	HandleEvent(ctx context.Context, event ModuleEvent)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, event ModuleEvent)

func (f ListenerFunc) HandleEvent(ctx context.Context, event ModuleEvent) { f(ctx, event) }

// Bus is the publish/subscribe boundary between the control plane and
// the module system. Delivery is fire-and-forget: Publish never
// reports subscriber outcomes.
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventType][]Listener
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[EventType][]Listener)}
}

func (b *Bus) Subscribe(eventType EventType, listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[eventType] = append(b.listeners[eventType], listener)
}

func (b *Bus) Publish(ctx context.Context, event ModuleEvent) {
	b.mu.RLock()
	listeners := b.listeners[event.Type]
	b.mu.RUnlock()

	for _, listener := range listeners {
		go func(l Listener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Module listener panic", "event", string(event.Type), "panic", r)
				}
			}()
			l.HandleEvent(ctx, event)
		}(listener)
	}
}

// DialplanAction is one action element a module contributes to a
// compiled dialplan.
type DialplanAction struct {
	Application string
	Data        string
}

// DialplanFragment is a priority-tagged group of actions. Lower
// priorities run first.
type DialplanFragment struct {
	Priority int
	Actions  []DialplanAction
}

// DialplanContributor lets a module inject actions for a
// domain+destination pair.
type DialplanContributor interface {
	DialplanFragments(ctx context.Context, domain, destination string) []DialplanFragment
}

// Registry collects dialplan contributors. Registration order is the
// tie-break between fragments at the same priority: first registered
// wins.
type Registry struct {
	mu           sync.RWMutex
	contributors []DialplanContributor
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(contributor DialplanContributor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contributors = append(r.contributors, contributor)
}

// Fragments gathers contributions from every registered module and
// returns them sorted by ascending priority, ties preserved in
// registration order.
func (r *Registry) Fragments(ctx context.Context, domain, destination string) []DialplanFragment {
	r.mu.RLock()
	contributors := make([]DialplanContributor, len(r.contributors))
	copy(contributors, r.contributors)
	r.mu.RUnlock()

	var fragments []DialplanFragment
	for _, c := range contributors {
		fragments = append(fragments, c.DialplanFragments(ctx, domain, destination)...)
	}

	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].Priority < fragments[j].Priority
	})

	return fragments
}
