package schema

import "time"

// TabSnapshot is a read-only view of a tab and its transient state for
// transports.
type TabSnapshot struct {
	ID              TabID          `json:"id"`
	ConversationID  ConversationID `json:"conversation_id,omitempty"`
	Title           string         `json:"title"`
	CreatedAt       time.Time      `json:"created_at"`
	Active          bool           `json:"active"`
	Typing          bool           `json:"typing"`
	LoadingMessages bool           `json:"loading_messages"`
	Error           string         `json:"error,omitempty"`
	Draft           string         `json:"draft,omitempty"`
	PendingFiles    []Attachment   `json:"pending_files,omitempty"`
	// CopiedMessage holds the id of the message whose "copied"
	// indicator is currently showing, if any.
	CopiedMessage string `json:"copied_message,omitempty"`
}

// ConversationSummary is the backend's view of a conversation, used for
// the history list.
type ConversationSummary struct {
	ID           ConversationID `json:"conversation_id"`
	Title        string         `json:"title"`
	MessageCount int            `json:"message_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
