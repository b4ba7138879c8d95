package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/tabreuse/internal/reuse"
)

const subscriberBufSize = 256

// Event is one SSE message. Kind becomes the SSE event name.
type Event struct {
	Kind    string
	Payload string
}

var _ reuse.Recorder = (*Broker)(nil)

// Broker fans out reuse outcomes to every subscribed SSE client.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends evt to all subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Record publishes o under its action name.
func (b *Broker) Record(o reuse.Outcome) {
	data, err := json.Marshal(o)
	if err != nil {
		slog.Error("events marshal outcome failed", "outcome_id", o.ID, "error", err)
		return
	}
	b.Publish(Event{Kind: string(o.Action), Payload: string(data)})
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped is the number of deliveries skipped because a client lagged.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }
