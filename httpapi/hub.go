package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/moneta/internal/logx"
	"pkt.systems/moneta/schema"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq       uint64              `json:"seq"`
	Type      string              `json:"type"`
	TabEvent  string              `json:"tab_event,omitempty"`
	Tab       *schema.TabSnapshot `json:"tab,omitempty"`
	ActiveTab schema.TabID        `json:"active_tab,omitempty"`
	TabID     schema.TabID        `json:"tab_id,omitempty"`
	Messages  []schema.Message    `json:"messages,omitempty"`
	Snapshot  *SnapshotPayload    `json:"snapshot,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// SnapshotPayload seeds client state on connect.
type SnapshotPayload struct {
	Tabs                []schema.TabSnapshot              `json:"tabs"`
	ActiveTab           schema.TabID                      `json:"active_tab"`
	CurrentConversation schema.ConversationID             `json:"current_conversation,omitempty"`
	Messages            map[schema.TabID][]schema.Message `json:"messages"`
}

// Hub broadcasts service events to stream subscribers and keeps a bounded
// replay history so reconnecting clients can catch up by Last-Event-ID.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	history     []StreamEvent
	subs        map[chan StreamEvent]struct{}
	historySize int
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 500
	}
	return &Hub{
		subs:        make(map[chan StreamEvent]struct{}),
		historySize: historySize,
	}
}

// OnTabEvent implements core.EventSink.
func (h *Hub) OnTabEvent(event schema.TabEvent) {
	log := logx.Ctx(context.Background())
	log.Trace("hub tab event", "type", event.Type, "tab", event.Tab.ID, "active", event.ActiveTab)
	tab := event.Tab
	h.publish(StreamEvent{
		Type:      "tab",
		TabEvent:  string(event.Type),
		Tab:       &tab,
		ActiveTab: event.ActiveTab,
		Timestamp: time.Now(),
	})
}

// OnMessageEvent implements core.EventSink.
func (h *Hub) OnMessageEvent(event schema.MessageEvent) {
	log := logx.Ctx(context.Background())
	log.Trace("hub message event", "tab", event.TabID, "messages", len(event.Messages))
	h.publish(StreamEvent{
		Type:      "messages",
		TabID:     event.TabID,
		Messages:  event.Messages,
		Timestamp: time.Now(),
	})
}

// Subscribe registers a stream subscriber.
func (h *Hub) Subscribe() (<-chan StreamEvent, func(), uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan StreamEvent, 256)
	h.subs[ch] = struct{}{}
	seq := h.seq
	log := logx.Ctx(context.Background())
	log.Info("hub subscribe", "subs", len(h.subs))
	unsub := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		remaining := len(h.subs)
		h.mu.Unlock()
		log.Info("hub unsubscribe", "subs", remaining)
	}
	return ch, unsub, seq
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]StreamEvent, 0, len(h.history))
	for _, event := range h.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	logx.Ctx(context.Background()).Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(event StreamEvent) {
	h.mu.Lock()
	h.seq++
	event.Seq = h.seq
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	// Sends are non-blocking, so delivering under the lock is safe and
	// keeps publish ordered with unsubscribe's channel close.
	dropped := 0
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		logx.Ctx(context.Background()).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}
