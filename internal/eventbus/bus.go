package eventbus

import (
	"context"
	"sync"

	"pkt.systems/moneta/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventTab carries tab lifecycle and state updates.
	EventTab EventType = "tab"
	// EventMessages carries the replaced message list of a tab.
	EventMessages EventType = "messages"
)

// Event represents a UI-facing event emitted by the core service.
type Event struct {
	Type     EventType
	Tab      schema.TabEvent
	Messages schema.MessageEvent
}

// Bus fans events out to subscribers. It replaces the window-level
// event listeners of the original UI with explicit subscriptions.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber and returns a channel + cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.Debug("eventbus subscribe", "subs", count)
	}
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
		if b.log != nil {
			b.log.Debug("eventbus unsubscribe")
		}
	}
}

// OnTabEvent publishes a tab event.
func (b *Bus) OnTabEvent(event schema.TabEvent) {
	b.publish(Event{Type: EventTab, Tab: event})
}

// OnMessageEvent publishes a message list event.
func (b *Bus) OnMessageEvent(event schema.MessageEvent) {
	b.publish(Event{Type: EventMessages, Messages: event})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	// Sends are non-blocking, so delivering under the lock keeps publish
	// ordered with unsubscribe's channel close.
	b.mu.Lock()
	dropped := 0
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.Trace("eventbus dropped", "count", dropped)
	}
}
