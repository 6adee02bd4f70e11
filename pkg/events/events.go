package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventTaskCreated     EventType = "task.created"
	EventTaskAccepted    EventType = "task.accepted"
	EventTaskPaused      EventType = "task.paused"
	EventTaskResumed     EventType = "task.resumed"
	EventTaskPreempted   EventType = "task.preempted"
	EventTaskCompleted   EventType = "task.completed"
	EventTaskExhausted   EventType = "task.exhausted"
	EventTaskFailed      EventType = "task.failed"
	EventTaskAbandoned   EventType = "task.abandoned"
	EventTaskReassigned  EventType = "task.reassigned"
	EventAttackStarted   EventType = "attack.started"
	EventAttackCompleted EventType = "attack.completed"
	EventAttackExhausted EventType = "attack.exhausted"
	EventCampaignPaused  EventType = "campaign.paused"
	EventCampaignResumed EventType = "campaign.resumed"
	EventHashCracked     EventType = "hash.cracked"
	EventAgentRegistered EventType = "agent.registered"
	EventAgentActivated  EventType = "agent.activated"
	EventAgentOffline    EventType = "agent.offline"
	EventAgentRecovered  EventType = "agent.recovered"
	EventAgentErrored    EventType = "agent.errored"
)

// Event is one server event destined for UI or transport delivery.
// Entity ids travel in Metadata under their snake_case names.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// subscription pairs a subscriber channel with an optional type filter.
type subscription struct {
	types map[EventType]bool // nil means all types
}

// Broker fans lifecycle events out to subscribers. Delivery is
// best-effort: a subscriber that stops draining its channel loses
// events rather than stalling the publishers.
type Broker struct {
	mu            sync.RWMutex
	subscriptions map[Subscriber]*subscription

	eventCh chan *Event
	stopCh  chan struct{}
	dropped atomic.Int64
}

// NewBroker creates an idle broker; call Start to begin distribution.
func NewBroker() *Broker {
	return &Broker{
		subscriptions: make(map[Subscriber]*subscription),
		eventCh:       make(chan *Event, 100),
		stopCh:        make(chan struct{}),
	}
}

// Start begins the distribution loop.
func (b *Broker) Start() {
	go func() {
		for {
			select {
			case event := <-b.eventCh:
				b.broadcast(event)
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Stop shuts the broker down. Pending events are discarded.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a subscriber for every event type.
func (b *Broker) Subscribe() Subscriber {
	return b.subscribe(nil)
}

// SubscribeTypes registers a subscriber that only receives the given
// event types.
func (b *Broker) SubscribeTypes(types ...EventType) Subscriber {
	filter := make(map[EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	return b.subscribe(filter)
}

func (b *Broker) subscribe(filter map[EventType]bool) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscriptions[sub] = &subscription{types: filter}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscriptions[sub]; ok {
		delete(b.subscriptions, sub)
		close(sub)
	}
}

// Publish hands an event to the broker, stamping id and timestamp when
// unset. It never blocks: with the intake buffer full the event is
// dropped and counted.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		b.dropped.Add(1)
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, sn := range b.subscriptions {
		if sn.types != nil && !sn.types[event.Type] {
			continue
		}
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Dropped returns how many deliveries were skipped because a
// subscriber's buffer was full.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
