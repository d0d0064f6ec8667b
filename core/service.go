package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"

	"pkt.systems/pslog"

	"pkt.systems/moneta/internal/logx"
	"pkt.systems/moneta/internal/persist"
	"pkt.systems/moneta/schema"
)

type service struct {
	cfg    schema.ServiceConfig
	chat   ChatAPI
	sink   EventSink
	store  *persist.Store
	logger pslog.Logger

	mu      sync.Mutex
	tabs    map[schema.TabID]*tab
	order   []schema.TabID
	active  schema.TabID
	current schema.ConversationID
}

// NewService constructs the core service implementation and restores the
// persisted session, creating a fresh welcome tab when nothing was saved.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	sink := deps.EventSink
	if sink == nil {
		sink = nopSink{}
	}
	kv := deps.KV
	if kv == nil {
		fileKV, err := persist.NewFileKV(cfg.StateDir, logger)
		if err != nil {
			return nil, err
		}
		kv = fileKV
	}
	s := &service{
		cfg:    cfg,
		chat:   deps.Chat,
		sink:   sink,
		store:  persist.NewStore(kv, logger),
		logger: logger,
		tabs:   make(map[schema.TabID]*tab),
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

// restore rebuilds the tab layout from storage. Messages are transient;
// bound tabs reload their history lazily on activation.
func (s *service) restore() error {
	snapshot, found, err := s.store.Load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	if found {
		for _, record := range snapshot.Tabs {
			if record.ID == "" {
				continue
			}
			t := &tab{
				ID:             record.ID,
				ConversationID: record.ConversationID,
				Title:          record.Title,
				CreatedAt:      record.CreatedAt,
			}
			if t.Title == "" {
				t.Title = s.cfg.DefaultTitle
			}
			if t.ConversationID == 0 {
				t.messages = []schema.Message{s.welcomeMessage()}
			}
			s.tabs[t.ID] = t
			s.order = append(s.order, t.ID)
		}
		if _, ok := s.tabs[snapshot.ActiveTab]; ok {
			s.active = snapshot.ActiveTab
		} else if len(s.order) > 0 {
			s.active = s.order[0]
		}
		s.current = snapshot.Conversation
		if active, ok := s.tabs[s.active]; ok {
			s.current = active.ConversationID
		}
	}
	created := false
	if len(s.order) == 0 {
		t := s.newWelcomeTab(s.cfg.DefaultTitle)
		s.tabs[t.ID] = t
		s.order = append(s.order, t.ID)
		s.active = t.ID
		s.current = 0
		created = true
	}
	activeTab := s.tabs[s.active]
	needsLoad := activeTab != nil && activeTab.beginLoad()
	var loadID schema.TabID
	var loadConv schema.ConversationID
	if needsLoad {
		loadID = activeTab.ID
		loadConv = activeTab.ConversationID
	}
	tabCount := len(s.order)
	s.mu.Unlock()
	s.logger.Info("service session restored", "tabs", tabCount, "fresh", created)
	if created {
		s.persist(s.logger)
	}
	if needsLoad {
		ctx := pslog.ContextWithLogger(context.Background(), s.logger)
		s.spawnHistoryLoad(ctx, loadID, loadConv)
	}
	return nil
}

func (s *service) CreateTab(ctx context.Context, req schema.CreateTabRequest) (schema.CreateTabResponse, error) {
	if ctx == nil {
		return schema.CreateTabResponse{}, errors.New("missing context")
	}
	log := logx.Ctx(ctx)
	log.Info("service tab create start", "conversation", req.ConversationID, "title", req.Title)
	if req.ConversationID != 0 {
		resp, err := s.OpenConversation(ctx, schema.OpenConversationRequest{
			ConversationID: req.ConversationID,
			Title:          req.Title,
		})
		if err != nil {
			return schema.CreateTabResponse{}, err
		}
		return schema.CreateTabResponse{Tab: resp.Tab, Reused: resp.Reused}, nil
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = s.cfg.DefaultTitle
	}
	s.mu.Lock()
	t := s.newWelcomeTab(title)
	s.tabs[t.ID] = t
	s.order = append(s.order, t.ID)
	s.active = t.ID
	s.current = 0
	snap := t.snapshot(s.active)
	s.mu.Unlock()
	s.emitTab(schema.TabEvent{Type: schema.TabEventCreated, Tab: snap, ActiveTab: snap.ID})
	s.persist(log)
	log.Info("service tab create ok", "tab", t.ID)
	return schema.CreateTabResponse{Tab: snap}, nil
}

func (s *service) CloseTab(ctx context.Context, req schema.CloseTabRequest) (schema.CloseTabResponse, error) {
	log := logx.WithTab(ctx, req.TabID)
	log.Info("service tab close start")
	s.mu.Lock()
	t, ok := s.tabs[req.TabID]
	if !ok {
		s.mu.Unlock()
		log.Warn("service tab close failed", "err", schema.ErrTabNotFound)
		return schema.CloseTabResponse{}, schema.ErrTabNotFound
	}
	handle := t.pending
	t.pending = nil
	t.typing = false
	delete(s.tabs, req.TabID)
	s.order = removeTabID(s.order, req.TabID)
	var loadTab schema.TabID
	var loadConv schema.ConversationID
	if s.active == req.TabID {
		s.active = ""
		s.current = 0
		if len(s.order) > 0 {
			s.active = s.order[0]
			next := s.tabs[s.active]
			s.current = next.ConversationID
			if len(next.messages) == 0 && next.beginLoad() {
				loadTab = next.ID
				loadConv = next.ConversationID
			}
		}
	}
	snap := t.snapshot("")
	active := s.active
	s.mu.Unlock()
	if handle != nil {
		handle.Cancel()
	}
	s.emitTab(schema.TabEvent{Type: schema.TabEventClosed, Tab: snap, ActiveTab: active})
	s.persist(log)
	if loadTab != "" {
		s.spawnHistoryLoad(ctx, loadTab, loadConv)
	}
	log.Info("service tab close ok", "active", active)
	return schema.CloseTabResponse{Tab: snap}, nil
}

func (s *service) ListTabs(ctx context.Context, _ schema.ListTabsRequest) (schema.ListTabsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := schema.ListTabsResponse{
		Tabs:                make([]schema.TabSnapshot, 0, len(s.order)),
		ActiveTab:           s.active,
		CurrentConversation: s.current,
	}
	for _, id := range s.order {
		if t, ok := s.tabs[id]; ok {
			resp.Tabs = append(resp.Tabs, t.snapshot(s.active))
		}
	}
	return resp, nil
}

func (s *service) ActivateTab(ctx context.Context, req schema.ActivateTabRequest) (schema.ActivateTabResponse, error) {
	log := logx.WithTab(ctx, req.TabID)
	s.mu.Lock()
	t, ok := s.tabs[req.TabID]
	if !ok {
		s.mu.Unlock()
		log.Warn("service tab activate failed", "err", schema.ErrTabNotFound)
		return schema.ActivateTabResponse{}, schema.ErrTabNotFound
	}
	s.active = t.ID
	s.current = t.ConversationID
	needsLoad := len(t.messages) == 0 && t.beginLoad()
	convID := t.ConversationID
	snap := t.snapshot(s.active)
	s.mu.Unlock()
	s.emitTab(schema.TabEvent{Type: schema.TabEventActivated, Tab: snap, ActiveTab: snap.ID})
	s.persist(log)
	if needsLoad {
		s.spawnHistoryLoad(ctx, t.ID, convID)
	}
	log.Debug("service tab activate ok", "conversation", t.ConversationID)
	return schema.ActivateTabResponse{Tab: snap}, nil
}

func (s *service) UpdateDraft(ctx context.Context, req schema.UpdateDraftRequest) (schema.UpdateDraftResponse, error) {
	snap, ok := s.mutateTab(req.TabID, func(t *tab) {
		t.draft = req.Draft
	})
	if !ok {
		return schema.UpdateDraftResponse{}, schema.ErrTabNotFound
	}
	return schema.UpdateDraftResponse{Tab: snap}, nil
}

func (s *service) AttachFile(ctx context.Context, req schema.AttachFileRequest) (schema.AttachFileResponse, error) {
	log := logx.WithTab(ctx, req.TabID)
	if strings.TrimSpace(req.File.Name) == "" {
		return schema.AttachFileResponse{}, schema.ErrInvalidRequest
	}
	snap, ok := s.mutateTab(req.TabID, func(t *tab) {
		t.pendingFiles = append(t.pendingFiles, req.File)
	})
	if !ok {
		log.Warn("service file attach failed", "err", schema.ErrTabNotFound)
		return schema.AttachFileResponse{}, schema.ErrTabNotFound
	}
	s.emitTab(schema.TabEvent{Type: schema.TabEventUpdated, Tab: snap, ActiveTab: s.activeTab()})
	log.Debug("service file attach ok", "file", req.File.Name, "size", req.File.Size)
	return schema.AttachFileResponse{Tab: snap}, nil
}

func (s *service) RemoveFile(ctx context.Context, req schema.RemoveFileRequest) (schema.RemoveFileResponse, error) {
	snap, ok := s.mutateTab(req.TabID, func(t *tab) {
		for i, file := range t.pendingFiles {
			if file.Ref == req.Ref {
				t.pendingFiles = append(t.pendingFiles[:i:i], t.pendingFiles[i+1:]...)
				return
			}
		}
	})
	if !ok {
		return schema.RemoveFileResponse{}, schema.ErrTabNotFound
	}
	s.emitTab(schema.TabEvent{Type: schema.TabEventUpdated, Tab: snap, ActiveTab: s.activeTab()})
	return schema.RemoveFileResponse{Tab: snap}, nil
}

func (s *service) ClearError(ctx context.Context, req schema.ClearErrorRequest) (schema.ClearErrorResponse, error) {
	snap, ok := s.mutateTab(req.TabID, func(t *tab) {
		t.errMsg = ""
	})
	if !ok {
		return schema.ClearErrorResponse{}, schema.ErrTabNotFound
	}
	s.emitTab(schema.TabEvent{Type: schema.TabEventUpdated, Tab: snap, ActiveTab: s.activeTab()})
	return schema.ClearErrorResponse{Tab: snap}, nil
}

func (s *service) GetMessages(ctx context.Context, req schema.GetMessagesRequest) (schema.GetMessagesResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[req.TabID]
	if !ok {
		return schema.GetMessagesResponse{}, schema.ErrTabNotFound
	}
	return schema.GetMessagesResponse{Messages: t.messagesCopy()}, nil
}

func (s *service) Activate(ctx context.Context, req schema.ActivateRequest) (schema.ActivateResponse, error) {
	log := logx.Ctx(ctx)
	log.Info("service activate start", "auto_send", req.AutoSend, "context", req.Context)
	message := strings.TrimSpace(req.Message)
	if message == "" && req.Context != "" {
		message = "Help me review my " + strings.TrimSpace(req.Context) + "."
	}
	s.mu.Lock()
	t, ok := s.tabs[s.active]
	created := false
	if !ok {
		t = s.newWelcomeTab(s.cfg.DefaultTitle)
		s.tabs[t.ID] = t
		s.order = append(s.order, t.ID)
		s.active = t.ID
		s.current = 0
		created = true
	}
	tabID := t.ID
	if message != "" && !req.AutoSend {
		t.draft = message
	}
	snap := t.snapshot(s.active)
	s.mu.Unlock()
	if created {
		s.emitTab(schema.TabEvent{Type: schema.TabEventCreated, Tab: snap, ActiveTab: snap.ID})
		s.persist(log)
	}
	if message != "" && req.AutoSend {
		sendResp, err := s.SendMessage(ctx, schema.SendMessageRequest{TabID: tabID, Text: message})
		if err != nil {
			log.Warn("service activate failed", "err", err)
			return schema.ActivateResponse{}, err
		}
		log.Info("service activate ok", "tab", tabID, "sent", sendResp.Accepted)
		return schema.ActivateResponse{Tab: sendResp.Tab, Sent: sendResp.Accepted}, nil
	}
	if message != "" && !created {
		s.emitTab(schema.TabEvent{Type: schema.TabEventUpdated, Tab: snap, ActiveTab: s.activeTab()})
	}
	log.Info("service activate ok", "tab", tabID, "sent", false)
	return schema.ActivateResponse{Tab: snap}, nil
}

func (s *service) welcomeMessage() schema.Message {
	return schema.Message{
		ID:        "welcome",
		Role:      schema.RoleAssistant,
		Content:   s.cfg.WelcomeText,
		CreatedAt: time.Now().UTC(),
	}
}

// newWelcomeTab builds an unbound tab seeded with the welcome message.
// Caller holds the lock.
func (s *service) newWelcomeTab(title string) *tab {
	return &tab{
		ID:        newTabID(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
		messages:  []schema.Message{s.welcomeMessage()},
	}
}

// mutateTab runs fn on the tab if it still exists and returns its snapshot.
// Async continuations use this so a closed tab becomes a silent no-op.
func (s *service) mutateTab(tabID schema.TabID, fn func(*tab)) (schema.TabSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[tabID]
	if !ok {
		return schema.TabSnapshot{}, false
	}
	fn(t)
	return t.snapshot(s.active), true
}

func (s *service) activeTab() schema.TabID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *service) emitTab(ev schema.TabEvent) {
	s.sink.OnTabEvent(ev)
}

func (s *service) emitMessages(tabID schema.TabID) {
	s.mu.Lock()
	t, ok := s.tabs[tabID]
	var messages []schema.Message
	if ok {
		messages = t.messagesCopy()
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.sink.OnMessageEvent(schema.MessageEvent{TabID: tabID, Messages: messages})
}

// emitTabUpdated snapshots the tab and publishes an update event, if the
// tab still exists.
func (s *service) emitTabUpdated(tabID schema.TabID) {
	s.mu.Lock()
	t, ok := s.tabs[tabID]
	var snap schema.TabSnapshot
	active := s.active
	if ok {
		snap = t.snapshot(active)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.emitTab(schema.TabEvent{Type: schema.TabEventUpdated, Tab: snap, ActiveTab: active})
}

// persist writes the durable session shape: tab layout plus the active
// pointers. Messages, drafts and flags are not persisted.
func (s *service) persist(log pslog.Logger) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	snapshot := persist.SessionSnapshot{
		ActiveTab:    s.active,
		Conversation: s.current,
		Tabs:         make([]persist.TabRecord, 0, len(s.order)),
	}
	for _, id := range s.order {
		if t, ok := s.tabs[id]; ok {
			snapshot.Tabs = append(snapshot.Tabs, persist.TabRecord{
				ID:             t.ID,
				ConversationID: t.ConversationID,
				Title:          t.Title,
				CreatedAt:      t.CreatedAt,
			})
		}
	}
	s.mu.Unlock()
	if err := s.store.Save(snapshot); err != nil && log != nil {
		log.Warn("service session persist failed", "err", err)
	}
}

// detachRunContext carries the logger and tab markers onto a background
// context so async continuations outlive the originating request.
func detachRunContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.Background()
	if ctx != nil {
		if logger := pslog.Ctx(ctx); logger != nil {
			base = logx.CopyContextFields(pslog.ContextWithLogger(base, logger), ctx)
		}
	}
	return context.WithCancel(base)
}

// deriveTitle trims the first message to a tab title.
func deriveTitle(text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimRightFunc(string(runes[:max]), unicode.IsSpace)
}

func removeTabID(order []schema.TabID, id schema.TabID) []schema.TabID {
	for i, current := range order {
		if current == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
