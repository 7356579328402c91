package events

import (
	"sync"
	"time"
)

// Event types emitted over the progress channel
const (
	TypeExecutionStarted   = "execution:started"
	TypeExecutionCompleted = "execution:completed"
	TypeExecutionFailed    = "execution:failed"
	TypeExecutionCancelled = "execution:cancelled"
	TypeNodeStarted        = "node:started"
	TypeNodeCompleted      = "node:completed"
	TypeNodeFailed         = "node:failed"
	TypeNodeSkipped        = "node:skipped"
)

// Event is one progress notification for an execution
type Event struct {
	Type        string                 `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	FlowID      string                 `json:"flow_id,omitempty"`
	OwnerID     string                 `json:"owner_id,omitempty"`
	NodeID      string                 `json:"node_id,omitempty"`
	NodeType    string                 `json:"node_type,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Sink receives progress events. Implementations must not block.
type Sink interface {
	Emit(event Event)
}

// Broadcaster fans events out to in-process subscribers. Slow subscribers
// lose events rather than stalling the engine.
type Broadcaster struct {
	subscribers map[int]chan Event
	nextID      int
	mu          sync.Mutex
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe registers a buffered event channel. The returned cancel func
// removes the subscription and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Emit delivers an event to every subscriber, dropping it for any whose
// buffer is full
func (b *Broadcaster) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Multi forwards each event to several sinks in order
type Multi []Sink

// Emit implements Sink
func (m Multi) Emit(event Event) {
	for _, s := range m {
		s.Emit(event)
	}
}
