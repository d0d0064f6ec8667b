package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrTabBusy indicates the tab already has a send in flight.
	ErrTabBusy = errors.New("tab is busy")
	// ErrMessageNotFound indicates a message id does not exist in the tab.
	ErrMessageNotFound = errors.New("message not found")
	// ErrEmptyEdit indicates an edit was submitted with empty text.
	ErrEmptyEdit = errors.New("edited message cannot be empty")
	// ErrConversationNotFound indicates the backend does not know the conversation.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrChatAPIUnavailable indicates no chat API client is configured.
	ErrChatAPIUnavailable = errors.New("chat api not configured")
)
