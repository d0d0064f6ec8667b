package core

import (
	"time"

	"github.com/google/uuid"

	"pkt.systems/moneta/schema"
)

// tab is the service-internal state of one conversation tab. All fields are
// guarded by the service mutex.
type tab struct {
	ID             schema.TabID
	ConversationID schema.ConversationID
	Title          string
	CreatedAt      time.Time

	messages     []schema.Message
	draft        string
	pendingFiles []schema.Attachment
	errMsg       string

	loading bool
	typing  bool

	// pending is the handle of the in-flight exchange; non-nil exactly
	// while typing is true. sending covers the window before the
	// provisional echo is appended (conversation creation), when the tab
	// must already reject a second send.
	pending *CancelHandle
	sending bool

	copiedMessage string
	copySeq       uint64
}

func timeNow() time.Time {
	return time.Now().UTC()
}

func newTabID() schema.TabID {
	return schema.TabID("tab-" + uuid.NewString())
}

func newLocalMessageID() string {
	return "local-" + uuid.NewString()
}

func (t *tab) snapshot(active schema.TabID) schema.TabSnapshot {
	return schema.TabSnapshot{
		ID:              t.ID,
		ConversationID:  t.ConversationID,
		Title:           t.Title,
		CreatedAt:       t.CreatedAt,
		Active:          t.ID == active,
		Typing:          t.typing,
		LoadingMessages: t.loading,
		Error:           t.errMsg,
		Draft:           t.draft,
		PendingFiles:    append([]schema.Attachment(nil), t.pendingFiles...),
		CopiedMessage:   t.copiedMessage,
	}
}

// beginLoad marks the tab loading for a history fetch and clears the error
// slot. Caller holds the service lock. Returns false when the tab is
// unbound or a load is already in flight, so at most one fetch runs per tab.
func (t *tab) beginLoad() bool {
	if t.ConversationID == 0 || t.loading {
		return false
	}
	t.loading = true
	t.errMsg = ""
	return true
}

func (t *tab) messagesCopy() []schema.Message {
	return append([]schema.Message(nil), t.messages...)
}

// messageIndex returns the position of the message with the given local id,
// or -1.
func (t *tab) messageIndex(id string) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// removeMessage drops the message with the given local id, if present.
func (t *tab) removeMessage(id string) {
	if i := t.messageIndex(id); i >= 0 {
		t.messages = append(t.messages[:i:i], t.messages[i+1:]...)
	}
}
