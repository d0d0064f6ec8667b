package schema

// TabEventType classifies tab lifecycle events.
type TabEventType string

const (
	// TabEventCreated indicates a tab was created.
	TabEventCreated TabEventType = "created"
	// TabEventClosed indicates a tab was closed.
	TabEventClosed TabEventType = "closed"
	// TabEventActivated indicates the active tab changed.
	TabEventActivated TabEventType = "activated"
	// TabEventUpdated indicates tab metadata or transient state changed.
	TabEventUpdated TabEventType = "updated"
)

// TabEvent notifies subscribers of a tab lifecycle or state change.
type TabEvent struct {
	Type      TabEventType
	Tab       TabSnapshot
	ActiveTab TabID
}

// MessageEvent carries the current message list of a tab after a
// change. The list is replaced wholesale; subscribers re-render from
// it.
type MessageEvent struct {
	TabID    TabID
	Messages []Message
}
