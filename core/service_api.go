package core

import (
	"context"

	"pkt.systems/moneta/schema"
)

// Service is the assistant session manager: it owns the tab store, the
// active-tab and current-conversation pointers, and all in-flight message
// exchanges with the upstream chat API.
type Service interface {
	// Tab store.
	CreateTab(ctx context.Context, req schema.CreateTabRequest) (schema.CreateTabResponse, error)
	CloseTab(ctx context.Context, req schema.CloseTabRequest) (schema.CloseTabResponse, error)
	ListTabs(ctx context.Context, req schema.ListTabsRequest) (schema.ListTabsResponse, error)
	ActivateTab(ctx context.Context, req schema.ActivateTabRequest) (schema.ActivateTabResponse, error)
	UpdateDraft(ctx context.Context, req schema.UpdateDraftRequest) (schema.UpdateDraftResponse, error)
	AttachFile(ctx context.Context, req schema.AttachFileRequest) (schema.AttachFileResponse, error)
	RemoveFile(ctx context.Context, req schema.RemoveFileRequest) (schema.RemoveFileResponse, error)
	ClearError(ctx context.Context, req schema.ClearErrorRequest) (schema.ClearErrorResponse, error)
	GetMessages(ctx context.Context, req schema.GetMessagesRequest) (schema.GetMessagesResponse, error)

	// Message exchange.
	SendMessage(ctx context.Context, req schema.SendMessageRequest) (schema.SendMessageResponse, error)
	StopGeneration(ctx context.Context, req schema.StopGenerationRequest) (schema.StopGenerationResponse, error)
	EditMessage(ctx context.Context, req schema.EditMessageRequest) (schema.EditMessageResponse, error)
	CopyMessage(ctx context.Context, req schema.CopyMessageRequest) (schema.CopyMessageResponse, error)

	// Conversation lifecycle.
	OpenConversation(ctx context.Context, req schema.OpenConversationRequest) (schema.OpenConversationResponse, error)
	LoadMessages(ctx context.Context, req schema.LoadMessagesRequest) (schema.LoadMessagesResponse, error)
	RenameConversation(ctx context.Context, req schema.RenameConversationRequest) (schema.RenameConversationResponse, error)
	DeleteConversation(ctx context.Context, req schema.DeleteConversationRequest) (schema.DeleteConversationResponse, error)
	ListConversations(ctx context.Context, req schema.ListConversationsRequest) (schema.ListConversationsResponse, error)

	// External entry point (dashboard widgets deep-linking into the
	// assistant).
	Activate(ctx context.Context, req schema.ActivateRequest) (schema.ActivateResponse, error)
}
