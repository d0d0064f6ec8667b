// Package chatrest implements the upstream conversation API over REST.
package chatrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/moneta/core"
	"pkt.systems/moneta/schema"
)

const defaultTimeout = 60 * time.Second

// Config locates the upstream chat backend.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the chat backend. It implements core.ChatAPI.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     pslog.Logger
}

// New constructs a Client for the given backend.
func New(cfg Config, logger pslog.Logger) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("chat api base url required")
	}
	for strings.HasSuffix(base, "/") {
		base = strings.TrimSuffix(base, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: timeout},
		log:     logger.With("component", "chatrest"),
	}, nil
}

type conversationPayload struct {
	ConversationID int64      `json:"conversation_id"`
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	MessageCount   int        `json:"message_count"`
	CreatedAt      *time.Time `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

func (p conversationPayload) summary() schema.ConversationSummary {
	id := p.ConversationID
	if id == 0 {
		id = p.ID
	}
	summary := schema.ConversationSummary{
		ID:           schema.ConversationID(id),
		Title:        p.Title,
		MessageCount: p.MessageCount,
	}
	if p.CreatedAt != nil {
		summary.CreatedAt = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		summary.UpdatedAt = *p.UpdatedAt
	}
	return summary
}

type listPayload struct {
	Conversations []conversationPayload `json:"conversations"`
	Total         int                   `json:"total"`
}

type sendPayload struct {
	Message           *schema.RawMessage    `json:"message"`
	AssistantResponse *schema.RawMessage    `json:"assistant_response"`
	Conversation      conversationPayload   `json:"conversation"`
	ActionsExecuted   []schema.ActionResult `json:"actions_executed"`
}

type errorPayload struct {
	Detail string `json:"detail"`
}

// CreateConversation starts an empty conversation with the given title.
func (c *Client) CreateConversation(ctx context.Context, title string) (schema.ConversationSummary, error) {
	body, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return schema.ConversationSummary{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/conversations", bytes.NewReader(body))
	if err != nil {
		return schema.ConversationSummary{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var payload conversationPayload
	if err := c.do(req, &payload); err != nil {
		return schema.ConversationSummary{}, err
	}
	c.log.Debug("conversation created", "conversation", payload.ConversationID)
	return payload.summary(), nil
}

// ListConversations fetches one page of conversation summaries plus the
// total count.
func (c *Client) ListConversations(ctx context.Context, skip, limit int) ([]schema.ConversationSummary, int, error) {
	query := url.Values{}
	query.Set("skip", strconv.Itoa(skip))
	query.Set("limit", strconv.Itoa(limit))
	req, err := c.newRequest(ctx, http.MethodGet, "/conversations?"+query.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	var payload listPayload
	if err := c.do(req, &payload); err != nil {
		return nil, 0, err
	}
	summaries := make([]schema.ConversationSummary, 0, len(payload.Conversations))
	for _, conv := range payload.Conversations {
		summaries = append(summaries, conv.summary())
	}
	return summaries, payload.Total, nil
}

// RenameConversation updates the conversation title.
func (c *Client) RenameConversation(ctx context.Context, id schema.ConversationID, title string) error {
	query := url.Values{}
	query.Set("title", title)
	path := fmt.Sprintf("/conversations/%d?%s", id, query.Encode())
	req, err := c.newRequest(ctx, http.MethodPatch, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// DeleteConversation removes the conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id schema.ConversationID) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/conversations/%d", id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Messages fetches the full transcript of a conversation.
func (c *Client) Messages(ctx context.Context, id schema.ConversationID) ([]*schema.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d/messages", id), nil)
	if err != nil {
		return nil, err
	}
	var raws []*schema.RawMessage
	if err := c.do(req, &raws); err != nil {
		return nil, err
	}
	return raws, nil
}

// SendMessage submits a user message with any staged files and returns the
// persisted exchange. The attachment Ref is the staged file path.
func (c *Client) SendMessage(ctx context.Context, id schema.ConversationID, text string, files []schema.Attachment) (core.SendResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("message", text); err != nil {
		return core.SendResult{}, err
	}
	for _, file := range files {
		if err := appendFilePart(writer, file); err != nil {
			return core.SendResult{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return core.SendResult{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/messages", id), &body)
	if err != nil {
		return core.SendResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var payload sendPayload
	if err := c.do(req, &payload); err != nil {
		return core.SendResult{}, err
	}
	return core.SendResult{
		UserMessage:    payload.Message,
		AssistantReply: payload.AssistantResponse,
		Conversation:   payload.Conversation.summary(),
		Actions:        payload.ActionsExecuted,
	}, nil
}

// DeleteMessage removes one message from its conversation.
func (c *Client) DeleteMessage(ctx context.Context, id schema.MessageID) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/messages/%d", id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func appendFilePart(writer *multipart.Writer, file schema.Attachment) error {
	if strings.TrimSpace(file.Ref) == "" {
		return fmt.Errorf("attachment %s has no staged content", file.Name)
	}
	staged, err := os.Open(file.Ref)
	if err != nil {
		return fmt.Errorf("open staged attachment %s: %w", file.Name, err)
	}
	defer staged.Close()
	part, err := writer.CreateFormFile("files", file.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, staged); err != nil {
		return fmt.Errorf("read staged attachment %s: %w", file.Name, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do runs the request and decodes a JSON response into out when non-nil.
// Backend errors arrive as {"detail": "..."} payloads.
func (c *Client) do(req *http.Request, out any) error {
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("chat api request failed", "method", req.Method, "url", req.URL.Path, "err", err)
		return fmt.Errorf("request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.log.Warn("chat api request rejected", "method", req.Method, "url", req.URL.Path, "status", resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound && strings.Contains(req.URL.Path, "/conversations/") {
			return schema.ErrConversationNotFound
		}
		var payload errorPayload
		if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Detail) != "" {
			return fmt.Errorf("chat api: %s", payload.Detail)
		}
		return fmt.Errorf("chat api: %s %s failed: %s", req.Method, req.URL.Path, resp.Status)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	c.log.Trace("chat api request ok", "method", req.Method, "url", req.URL.Path, "duration_ms", time.Since(started).Milliseconds())
	return nil
}
