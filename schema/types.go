package schema

// TabID identifies a conversation tab.
type TabID string

// ConversationID identifies a backend conversation. Zero means the tab
// has not been bound to a conversation yet.
type ConversationID int64

// MessageID identifies a server-acknowledged message. Zero means the
// message is provisional and has not been acknowledged.
type MessageID int64

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks a message written by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a message written by the assistant.
	RoleAssistant Role = "assistant"
)

// Attachment describes a file staged for upload or already sent.
type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	// Ref is an opaque handle to the file contents; the transport
	// resolves it when the message is sent.
	Ref string `json:"ref"`
}

// ActionResult records a side effect the assistant performed, for
// display only.
type ActionResult struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
}
