package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"pkt.systems/moneta/internal/persist"
	"pkt.systems/moneta/schema"
)

type renameCall struct {
	ID    schema.ConversationID
	Title string
}

// fakeChat is an in-memory ChatAPI. SendMessage blocks on release when set,
// so tests can observe the provisional state and drive cancellation.
type fakeChat struct {
	mu sync.Mutex

	createErr     error
	nextConvID    schema.ConversationID
	sendErr       error
	renameErr     error
	deleteConvErr error
	deleteMsgErr  error
	history       []*schema.RawMessage
	historyErr    error
	conversations []schema.ConversationSummary
	total         int
	actions       []schema.ActionResult

	started chan struct{}
	release chan struct{}

	historyStarted chan struct{}
	historyRelease chan struct{}
	historyCalls   int

	createCalls  int
	renames      []renameCall
	deletedConvs []schema.ConversationID
	deletedMsgs  []schema.MessageID
	sentTexts    []string
	sentFiles    [][]schema.Attachment
	listSkips    []int
	listLimits   []int

	nextMsgID int64
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		nextConvID:     7,
		nextMsgID:      100,
		started:        make(chan struct{}, 8),
		historyStarted: make(chan struct{}, 8),
	}
}

func (f *fakeChat) CreateConversation(ctx context.Context, title string) (schema.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return schema.ConversationSummary{}, f.createErr
	}
	return schema.ConversationSummary{ID: f.nextConvID, Title: title, CreatedAt: time.Now().UTC()}, nil
}

func (f *fakeChat) ListConversations(ctx context.Context, skip, limit int) ([]schema.ConversationSummary, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listSkips = append(f.listSkips, skip)
	f.listLimits = append(f.listLimits, limit)
	return f.conversations, f.total, nil
}

func (f *fakeChat) RenameConversation(ctx context.Context, id schema.ConversationID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames = append(f.renames, renameCall{ID: id, Title: title})
	return f.renameErr
}

func (f *fakeChat) DeleteConversation(ctx context.Context, id schema.ConversationID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteConvErr != nil {
		return f.deleteConvErr
	}
	f.deletedConvs = append(f.deletedConvs, id)
	return nil
}

func (f *fakeChat) Messages(ctx context.Context, id schema.ConversationID) ([]*schema.RawMessage, error) {
	f.mu.Lock()
	f.historyCalls++
	release := f.historyRelease
	historyErr := f.historyErr
	history := f.history
	f.mu.Unlock()
	select {
	case f.historyStarted <- struct{}{}:
	default:
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if historyErr != nil {
		return nil, historyErr
	}
	return history, nil
}

func (f *fakeChat) SendMessage(ctx context.Context, id schema.ConversationID, text string, files []schema.Attachment) (SendResult, error) {
	f.mu.Lock()
	f.sentTexts = append(f.sentTexts, text)
	f.sentFiles = append(f.sentFiles, files)
	release := f.release
	sendErr := f.sendErr
	actions := f.actions
	userID := f.nextMsgID
	f.nextMsgID += 2
	f.mu.Unlock()
	select {
	case f.started <- struct{}{}:
	default:
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return SendResult{}, ctx.Err()
		}
	}
	if sendErr != nil {
		return SendResult{}, sendErr
	}
	userRole := string(schema.RoleUser)
	assistantRole := string(schema.RoleAssistant)
	now := time.Now().UTC()
	assistantID := userID + 1
	return SendResult{
		UserMessage: &schema.RawMessage{
			MessageID: &userID,
			Role:      userRole,
			Content:   text,
			CreatedAt: &now,
		},
		AssistantReply: &schema.RawMessage{
			MessageID: &assistantID,
			Role:      assistantRole,
			Content:   "Reply to: " + text,
			CreatedAt: &now,
		},
		Conversation: schema.ConversationSummary{ID: id, Title: text},
		Actions:      actions,
	}, nil
}

func (f *fakeChat) DeleteMessage(ctx context.Context, id schema.MessageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteMsgErr != nil {
		return f.deleteMsgErr
	}
	f.deletedMsgs = append(f.deletedMsgs, id)
	return nil
}

func (f *fakeChat) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentTexts)
}

func (f *fakeChat) historyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls
}

func (f *fakeChat) renameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.renames)
}

// recordSink collects events for assertions.
type recordSink struct {
	mu       sync.Mutex
	tabs     []schema.TabEvent
	messages []schema.MessageEvent
}

func (r *recordSink) OnTabEvent(ev schema.TabEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs = append(r.tabs, ev)
}

func (r *recordSink) OnMessageEvent(ev schema.MessageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, ev)
}

func (r *recordSink) tabEvents() []schema.TabEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.TabEvent(nil), r.tabs...)
}

func newTestService(t *testing.T, chat ChatAPI) (Service, *recordSink, *persist.MemKV) {
	t.Helper()
	kv := persist.NewMemKV()
	sink := &recordSink{}
	svc, err := NewService(schema.ServiceConfig{
		StateDir:  t.TempDir(),
		CopyFlash: 30 * time.Millisecond,
	}, ServiceDeps{
		Chat:      chat,
		EventSink: sink,
		KV:        kv,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, sink, kv
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func onlyTab(t *testing.T, svc Service) schema.TabSnapshot {
	t.Helper()
	resp, err := svc.ListTabs(context.Background(), schema.ListTabsRequest{})
	if err != nil {
		t.Fatalf("list tabs: %v", err)
	}
	if len(resp.Tabs) != 1 {
		t.Fatalf("expected one tab, got %d", len(resp.Tabs))
	}
	return resp.Tabs[0]
}

func tabByID(t *testing.T, svc Service, id schema.TabID) (schema.TabSnapshot, bool) {
	t.Helper()
	resp, err := svc.ListTabs(context.Background(), schema.ListTabsRequest{})
	if err != nil {
		t.Fatalf("list tabs: %v", err)
	}
	for _, tab := range resp.Tabs {
		if tab.ID == id {
			return tab, true
		}
	}
	return schema.TabSnapshot{}, false
}

func tabMessages(t *testing.T, svc Service, id schema.TabID) []schema.Message {
	t.Helper()
	resp, err := svc.GetMessages(context.Background(), schema.GetMessagesRequest{TabID: id})
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	return resp.Messages
}
