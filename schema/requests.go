package schema

// Tab lifecycle.

// CreateTabRequest describes a request to create a tab.
type CreateTabRequest struct {
	// ConversationID binds the new tab to an existing conversation;
	// zero creates an unbound tab with the welcome message.
	ConversationID ConversationID
	Title          string
}

// CreateTabResponse reports the created (or reused) tab.
type CreateTabResponse struct {
	Tab TabSnapshot
	// Reused is true when an existing tab already owned the requested
	// conversation and was activated instead.
	Reused bool
}

// CloseTabRequest describes a request to close a tab.
type CloseTabRequest struct {
	TabID TabID
}

// CloseTabResponse reports the closed tab snapshot.
type CloseTabResponse struct {
	Tab TabSnapshot
}

// ListTabsRequest describes a request to list tabs.
type ListTabsRequest struct{}

// ListTabsResponse reports tabs in order plus the active pointers.
type ListTabsResponse struct {
	Tabs                []TabSnapshot
	ActiveTab           TabID
	CurrentConversation ConversationID
}

// ActivateTabRequest describes a request to switch the active tab.
type ActivateTabRequest struct {
	TabID TabID
}

// ActivateTabResponse reports the activated tab snapshot.
type ActivateTabResponse struct {
	Tab TabSnapshot
}

// Drafts and attachments.

// UpdateDraftRequest replaces the in-progress input text of a tab.
type UpdateDraftRequest struct {
	TabID TabID
	Draft string
}

// UpdateDraftResponse reports the updated tab snapshot.
type UpdateDraftResponse struct {
	Tab TabSnapshot
}

// AttachFileRequest stages a file on a tab for the next send.
type AttachFileRequest struct {
	TabID TabID
	File  Attachment
}

// AttachFileResponse reports the updated tab snapshot.
type AttachFileResponse struct {
	Tab TabSnapshot
}

// RemoveFileRequest unstages a pending attachment by its ref.
type RemoveFileRequest struct {
	TabID TabID
	Ref   string
}

// RemoveFileResponse reports the updated tab snapshot.
type RemoveFileResponse struct {
	Tab TabSnapshot
}

// ClearErrorRequest dismisses the error shown on a tab.
type ClearErrorRequest struct {
	TabID TabID
}

// ClearErrorResponse reports the updated tab snapshot.
type ClearErrorResponse struct {
	Tab TabSnapshot
}

// Messages.

// GetMessagesRequest describes a request to read a tab's messages.
type GetMessagesRequest struct {
	TabID TabID
}

// GetMessagesResponse reports the tab's current message list.
type GetMessagesResponse struct {
	Messages []Message
}

// LoadMessagesRequest asks for a history (re)load from the backend.
type LoadMessagesRequest struct {
	TabID TabID
}

// LoadMessagesResponse reports the tab snapshot after the load started.
type LoadMessagesResponse struct {
	Tab TabSnapshot
}

// SendMessageRequest submits a message on a tab. Empty Text falls back
// to the tab's draft.
type SendMessageRequest struct {
	TabID TabID
	Text  string
}

// SendMessageResponse reports whether the send was accepted.
type SendMessageResponse struct {
	Tab      TabSnapshot
	Accepted bool
}

// StopGenerationRequest cancels the tab's in-flight send, if any.
type StopGenerationRequest struct {
	TabID TabID
}

// StopGenerationResponse reports the tab snapshot after the stop.
type StopGenerationResponse struct {
	Tab TabSnapshot
}

// EditMessageRequest rewrites a previous turn. Everything from the
// message onward is discarded and the new text is re-sent.
type EditMessageRequest struct {
	TabID     TabID
	MessageID string
	Text      string
}

// EditMessageResponse reports whether the edit was accepted.
type EditMessageResponse struct {
	Tab      TabSnapshot
	Accepted bool
}

// CopyMessageRequest asks for a message's content for the clipboard.
type CopyMessageRequest struct {
	TabID     TabID
	MessageID string
}

// CopyMessageResponse carries the content to copy.
type CopyMessageResponse struct {
	Content string
}

// Conversations.

// OpenConversationRequest opens a conversation in a tab, reusing an
// existing tab when one already owns it.
type OpenConversationRequest struct {
	ConversationID ConversationID
	Title          string
}

// OpenConversationResponse reports the owning tab.
type OpenConversationResponse struct {
	Tab    TabSnapshot
	Reused bool
}

// RenameConversationRequest renames a tab and its bound conversation.
type RenameConversationRequest struct {
	TabID TabID
	Title string
}

// RenameConversationResponse reports the tab snapshot after the rename.
type RenameConversationResponse struct {
	Tab TabSnapshot
}

// DeleteConversationRequest deletes a conversation on the backend.
type DeleteConversationRequest struct {
	ConversationID ConversationID
}

// DeleteConversationResponse reports the tab that was closed locally,
// if the conversation was open.
type DeleteConversationResponse struct {
	ClosedTab TabID
}

// ListConversationsRequest pages through the conversation history.
type ListConversationsRequest struct {
	Skip  int
	Limit int
}

// ListConversationsResponse reports one page plus the total count.
type ListConversationsResponse struct {
	Conversations []ConversationSummary
	Total         int
}

// Activation.

// ActivateRequest opens the assistant from an external surface,
// optionally pre-filling or auto-sending a message.
type ActivateRequest struct {
	Message  string
	AutoSend bool
	// Context tags the activation with the dashboard surface it came
	// from (e.g. "budgets"); used to seed the message when Message is
	// empty.
	Context string
}

// ActivateResponse reports the tab that received the activation.
type ActivateResponse struct {
	Tab  TabSnapshot
	Sent bool
}
