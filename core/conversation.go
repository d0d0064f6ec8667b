package core

import (
	"context"
	"strings"

	"pkt.systems/moneta/internal/logx"
	"pkt.systems/moneta/schema"
)

func (s *service) OpenConversation(ctx context.Context, req schema.OpenConversationRequest) (schema.OpenConversationResponse, error) {
	log := logx.WithConversation(logx.Ctx(ctx), req.ConversationID)
	log.Info("service conversation open start")
	if req.ConversationID == 0 {
		return schema.OpenConversationResponse{}, schema.ErrInvalidRequest
	}
	s.mu.Lock()
	for _, id := range s.order {
		t := s.tabs[id]
		if t == nil || t.ConversationID != req.ConversationID {
			continue
		}
		s.active = t.ID
		s.current = t.ConversationID
		needsLoad := len(t.messages) == 0 && t.beginLoad()
		snap := t.snapshot(s.active)
		s.mu.Unlock()
		s.emitTab(schema.TabEvent{Type: schema.TabEventActivated, Tab: snap, ActiveTab: snap.ID})
		s.persist(log)
		if needsLoad {
			s.spawnHistoryLoad(ctx, t.ID, req.ConversationID)
		}
		log.Info("service conversation open ok", "tab", t.ID, "reused", true)
		return schema.OpenConversationResponse{Tab: snap, Reused: true}, nil
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = s.cfg.DefaultTitle
	}
	t := &tab{
		ID:             newTabID(),
		ConversationID: req.ConversationID,
		Title:          title,
		CreatedAt:      timeNow(),
	}
	s.tabs[t.ID] = t
	s.order = append(s.order, t.ID)
	s.active = t.ID
	s.current = t.ConversationID
	t.beginLoad()
	snap := t.snapshot(s.active)
	s.mu.Unlock()
	s.emitTab(schema.TabEvent{Type: schema.TabEventCreated, Tab: snap, ActiveTab: snap.ID})
	s.persist(log)
	s.spawnHistoryLoad(ctx, t.ID, req.ConversationID)
	log.Info("service conversation open ok", "tab", t.ID, "reused", false)
	return schema.OpenConversationResponse{Tab: snap}, nil
}

func (s *service) LoadMessages(ctx context.Context, req schema.LoadMessagesRequest) (schema.LoadMessagesResponse, error) {
	log := logx.WithTab(ctx, req.TabID)
	s.mu.Lock()
	t, ok := s.tabs[req.TabID]
	if !ok {
		s.mu.Unlock()
		return schema.LoadMessagesResponse{}, schema.ErrTabNotFound
	}
	if !t.beginLoad() {
		snap := t.snapshot(s.active)
		s.mu.Unlock()
		return schema.LoadMessagesResponse{Tab: snap}, nil
	}
	convID := t.ConversationID
	snap := t.snapshot(s.active)
	s.mu.Unlock()
	s.spawnHistoryLoad(ctx, req.TabID, convID)
	log.Debug("service history load queued")
	return schema.LoadMessagesResponse{Tab: snap}, nil
}

// spawnHistoryLoad runs loadHistory on a detached context. The caller must
// already have marked the tab loading via beginLoad under the lock, so the
// dedup guard is in effect before this returns.
func (s *service) spawnHistoryLoad(ctx context.Context, tabID schema.TabID, convID schema.ConversationID) {
	runCtx, cancel := detachRunContext(ctx)
	go func() {
		defer cancel()
		s.loadHistory(runCtx, tabID, convID)
	}()
}

// loadHistory fetches the conversation transcript and replaces the tab's
// message list wholesale. The previous list stays visible on failure, and
// state set by later operations (a stop error, say) is left alone: only
// loading, messages and a fetch failure are written back.
func (s *service) loadHistory(ctx context.Context, tabID schema.TabID, convID schema.ConversationID) {
	log := logx.WithConversation(logx.WithTab(ctx, tabID), convID)
	s.emitTabUpdated(tabID)
	if s.chat == nil {
		_, ok := s.mutateTab(tabID, func(t *tab) {
			t.loading = false
			t.errMsg = schema.ErrChatAPIUnavailable.Error()
		})
		if ok {
			s.emitTabUpdated(tabID)
		}
		return
	}
	log.Debug("service history load start")
	raw, err := s.chat.Messages(ctx, convID)
	if err != nil {
		log.Warn("service history load failed", "err", err)
		s.mutateTab(tabID, func(t *tab) {
			t.loading = false
			t.errMsg = err.Error()
		})
		s.emitTabUpdated(tabID)
		return
	}
	messages := schema.NormalizeMessages(raw)
	_, ok := s.mutateTab(tabID, func(t *tab) {
		t.messages = messages
		t.loading = false
	})
	if !ok {
		return
	}
	s.emitMessages(tabID)
	s.emitTabUpdated(tabID)
	log.Info("service history load ok", "messages", len(messages))
}

func (s *service) RenameConversation(ctx context.Context, req schema.RenameConversationRequest) (schema.RenameConversationResponse, error) {
	log := logx.WithTab(ctx, req.TabID)
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return schema.RenameConversationResponse{}, schema.ErrInvalidRequest
	}
	var prev string
	var convID schema.ConversationID
	snap, ok := s.mutateTab(req.TabID, func(t *tab) {
		prev = t.Title
		convID = t.ConversationID
		t.Title = title
	})
	if !ok {
		log.Warn("service conversation rename failed", "err", schema.ErrTabNotFound)
		return schema.RenameConversationResponse{}, schema.ErrTabNotFound
	}
	s.emitTab(schema.TabEvent{Type: schema.TabEventUpdated, Tab: snap, ActiveTab: s.activeTab()})
	s.persist(log)
	if convID != 0 && s.chat != nil {
		runCtx, cancel := detachRunContext(ctx)
		go func() {
			defer cancel()
			s.renameRemote(runCtx, req.TabID, convID, title, prev)
		}()
	}
	log.Info("service conversation rename ok", "title", title)
	return schema.RenameConversationResponse{Tab: snap}, nil
}

// renameRemote pushes a title change upstream and rolls the local title
// back if the backend rejects it and nobody renamed again meanwhile.
func (s *service) renameRemote(ctx context.Context, tabID schema.TabID, convID schema.ConversationID, title, prev string) {
	log := logx.WithConversation(logx.WithTab(ctx, tabID), convID)
	if err := s.chat.RenameConversation(ctx, convID, title); err != nil {
		log.Warn("service conversation rename rollback", "err", err)
		rolledBack := false
		snap, ok := s.mutateTab(tabID, func(t *tab) {
			if t.Title == title {
				t.Title = prev
				rolledBack = true
			}
		})
		if ok && rolledBack {
			s.emitTab(schema.TabEvent{Type: schema.TabEventUpdated, Tab: snap, ActiveTab: s.activeTab()})
			s.persist(log)
		}
		return
	}
	log.Debug("service conversation rename pushed")
}

func (s *service) DeleteConversation(ctx context.Context, req schema.DeleteConversationRequest) (schema.DeleteConversationResponse, error) {
	log := logx.WithConversation(logx.Ctx(ctx), req.ConversationID)
	log.Info("service conversation delete start")
	if req.ConversationID == 0 {
		return schema.DeleteConversationResponse{}, schema.ErrInvalidRequest
	}
	if s.chat == nil {
		return schema.DeleteConversationResponse{}, schema.ErrChatAPIUnavailable
	}
	if err := s.chat.DeleteConversation(ctx, req.ConversationID); err != nil {
		log.Warn("service conversation delete failed", "err", err)
		return schema.DeleteConversationResponse{}, err
	}
	s.mu.Lock()
	var owner schema.TabID
	for _, id := range s.order {
		if t := s.tabs[id]; t != nil && t.ConversationID == req.ConversationID {
			owner = id
			break
		}
	}
	if owner == "" && s.current == req.ConversationID {
		s.current = 0
	}
	s.mu.Unlock()
	if owner != "" {
		if _, err := s.CloseTab(ctx, schema.CloseTabRequest{TabID: owner}); err != nil {
			log.Warn("service conversation delete tab close failed", "err", err)
		}
	} else {
		s.persist(log)
	}
	log.Info("service conversation delete ok", "tab", owner)
	return schema.DeleteConversationResponse{ClosedTab: owner}, nil
}

func (s *service) ListConversations(ctx context.Context, req schema.ListConversationsRequest) (schema.ListConversationsResponse, error) {
	log := logx.Ctx(ctx)
	if s.chat == nil {
		return schema.ListConversationsResponse{}, schema.ErrChatAPIUnavailable
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.HistoryPageLimit
	}
	skip := req.Skip
	if skip < 0 {
		skip = 0
	}
	conversations, total, err := s.chat.ListConversations(ctx, skip, limit)
	if err != nil {
		log.Warn("service conversation list failed", "err", err)
		return schema.ListConversationsResponse{}, err
	}
	log.Debug("service conversation list ok", "count", len(conversations), "total", total)
	return schema.ListConversationsResponse{Conversations: conversations, Total: total}, nil
}
