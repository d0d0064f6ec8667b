package core

import (
	"context"

	"pkt.systems/moneta/schema"
)

// SendResult is what the upstream chat API returns for one completed
// exchange: the canonical persisted user message, the assistant reply,
// the updated conversation summary and any backend actions that ran.
type SendResult struct {
	UserMessage    *schema.RawMessage
	AssistantReply *schema.RawMessage
	Conversation   schema.ConversationSummary
	Actions        []schema.ActionResult
}

// ChatAPI is the upstream conversation backend. Implementations must honor
// context cancellation on SendMessage; an in-flight exchange aborted through
// the context is how StopGeneration works.
type ChatAPI interface {
	CreateConversation(ctx context.Context, title string) (schema.ConversationSummary, error)
	ListConversations(ctx context.Context, skip, limit int) ([]schema.ConversationSummary, int, error)
	RenameConversation(ctx context.Context, id schema.ConversationID, title string) error
	DeleteConversation(ctx context.Context, id schema.ConversationID) error
	Messages(ctx context.Context, id schema.ConversationID) ([]*schema.RawMessage, error)
	SendMessage(ctx context.Context, id schema.ConversationID, text string, files []schema.Attachment) (SendResult, error)
	DeleteMessage(ctx context.Context, id schema.MessageID) error
}
