package schema

import (
	"fmt"
	"strings"
	"time"
)

// Message is the canonical shape of one exchanged utterance. Everything
// past the normalization boundary only ever sees this shape.
type Message struct {
	// ID is the local identifier used for list reconciliation. Derived
	// from the server message id when acknowledged, locally generated
	// for provisional messages.
	ID          string         `json:"id"`
	ServerID    MessageID      `json:"server_id,omitempty"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Actions     []ActionResult `json:"actions,omitempty"`
}

// Provisional reports whether the message lacks server acknowledgment.
func (m Message) Provisional() bool {
	return m.ServerID == 0
}

// RawMessage is a server message payload as it arrives on the wire.
// The backend has shipped two field-naming schemes over time; both are
// accepted here and nowhere else.
type RawMessage struct {
	MessageID *int64 `json:"message_id,omitempty"`
	LegacyID  *int64 `json:"id,omitempty"`

	Role string `json:"role,omitempty"`
	// LegacyType is the pre-role author flag: "ai" meant assistant,
	// anything else meant user.
	LegacyType string `json:"type,omitempty"`

	Content string `json:"content,omitempty"`
	Text    string `json:"text,omitempty"`

	CreatedAt *time.Time `json:"created_at,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	Attachments []Attachment   `json:"attachments,omitempty"`
	Actions     []ActionResult `json:"actions_executed,omitempty"`
}

// NormalizeMessage converts a raw server payload to the canonical
// Message. A nil input yields nil; callers filter that out instead of
// emitting it into a message list.
func NormalizeMessage(raw *RawMessage) *Message {
	if raw == nil {
		return nil
	}
	role := RoleUser
	switch {
	case strings.TrimSpace(raw.Role) != "":
		if strings.EqualFold(strings.TrimSpace(raw.Role), string(RoleAssistant)) {
			role = RoleAssistant
		}
	case strings.EqualFold(strings.TrimSpace(raw.LegacyType), "ai"):
		role = RoleAssistant
	}

	created := time.Now()
	switch {
	case raw.CreatedAt != nil:
		created = *raw.CreatedAt
	case raw.Timestamp != nil:
		created = *raw.Timestamp
	}

	var serverID MessageID
	switch {
	case raw.MessageID != nil:
		serverID = MessageID(*raw.MessageID)
	case raw.LegacyID != nil:
		serverID = MessageID(*raw.LegacyID)
	}
	id := MessageLocalID(serverID)
	if serverID == 0 {
		// Content-independent fallback so list reconciliation stays
		// stable across re-renders even for unacknowledged payloads.
		id = fmt.Sprintf("%s-%d", role, created.UnixNano())
	}

	content := raw.Content
	if content == "" {
		content = raw.Text
	}

	return &Message{
		ID:          id,
		ServerID:    serverID,
		Role:        role,
		Content:     content,
		CreatedAt:   created,
		UpdatedAt:   raw.UpdatedAt,
		Attachments: append([]Attachment(nil), raw.Attachments...),
		Actions:     append([]ActionResult(nil), raw.Actions...),
	}
}

// MessageLocalID returns the local id derived from a server message id.
func MessageLocalID(id MessageID) string {
	return fmt.Sprintf("msg-%d", id)
}

// NormalizeMessages maps a raw payload list through NormalizeMessage
// and drops nil entries.
func NormalizeMessages(raws []*RawMessage) []Message {
	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		if msg := NormalizeMessage(raw); msg != nil {
			out = append(out, *msg)
		}
	}
	return out
}
