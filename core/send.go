package core

import (
	"context"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/moneta/internal/logx"
	"pkt.systems/moneta/schema"
)

func (s *service) SendMessage(ctx context.Context, req schema.SendMessageRequest) (schema.SendMessageResponse, error) {
	log := logx.WithTab(ctx, req.TabID)
	if s.chat == nil {
		return schema.SendMessageResponse{}, schema.ErrChatAPIUnavailable
	}
	s.mu.Lock()
	t, ok := s.tabs[req.TabID]
	if !ok {
		s.mu.Unlock()
		log.Warn("service send failed", "err", schema.ErrTabNotFound)
		return schema.SendMessageResponse{}, schema.ErrTabNotFound
	}
	if t.pending != nil || t.sending {
		snap := t.snapshot(s.active)
		s.mu.Unlock()
		log.Warn("service send failed", "err", schema.ErrTabBusy)
		return schema.SendMessageResponse{Tab: snap}, schema.ErrTabBusy
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = strings.TrimSpace(t.draft)
	}
	if text == "" && len(t.pendingFiles) == 0 {
		snap := t.snapshot(s.active)
		s.mu.Unlock()
		log.Debug("service send skipped empty")
		return schema.SendMessageResponse{Tab: snap}, nil
	}
	if text == "" {
		text = s.cfg.AttachmentText
	}
	t.sending = true
	convID := t.ConversationID
	files := append([]schema.Attachment(nil), t.pendingFiles...)
	snap := t.snapshot(s.active)
	s.mu.Unlock()
	runCtx, cancel := detachRunContext(logx.ContextWithTab(ctx, req.TabID))
	handle := newCancelHandle(cancel)
	go s.runSend(runCtx, req.TabID, convID, text, files, handle)
	log.Info("service send start", "conversation", convID, "files", len(files))
	return schema.SendMessageResponse{Tab: snap, Accepted: true}, nil
}

// runSend drives one exchange: lazily create the conversation, append the
// provisional echo, call the backend, then resolve. Every continuation
// checks the tab still exists and that its handle is still the pending one.
func (s *service) runSend(ctx context.Context, tabID schema.TabID, convID schema.ConversationID, text string, files []schema.Attachment, handle *CancelHandle) {
	log := logx.WithTab(ctx, tabID)
	if convID == 0 {
		conv, err := s.chat.CreateConversation(ctx, s.cfg.DefaultTitle)
		if err != nil {
			log.Warn("service send failed", "err", err)
			handle.release()
			_, ok := s.mutateTab(tabID, func(t *tab) {
				t.sending = false
				t.errMsg = err.Error()
			})
			if ok {
				s.emitTabUpdated(tabID)
			}
			return
		}
		convID = conv.ID
		bound, ok := s.mutateTab(tabID, func(t *tab) {
			t.ConversationID = convID
		})
		if !ok {
			handle.release()
			return
		}
		s.mu.Lock()
		if s.active == bound.ID {
			s.current = convID
		}
		s.mu.Unlock()
		s.persist(log)
		log.Info("service conversation created", "conversation", convID)
	}
	log = logx.WithConversation(log, convID)

	localID := newLocalMessageID()
	provisional := schema.Message{
		ID:          localID,
		Role:        schema.RoleUser,
		Content:     text,
		CreatedAt:   timeNow(),
		Attachments: files,
	}
	_, ok := s.mutateTab(tabID, func(t *tab) {
		t.messages = append(t.messages, provisional)
		t.draft = ""
		t.typing = true
		t.pending = handle
		t.sending = false
		t.errMsg = ""
	})
	if !ok {
		handle.release()
		return
	}
	s.emitMessages(tabID)
	s.emitTabUpdated(tabID)

	result, err := s.chat.SendMessage(ctx, convID, text, files)
	if err != nil {
		s.resolveSendFailure(tabID, localID, handle, err, log)
		return
	}
	handle.release()

	userMsg := schema.NormalizeMessage(result.UserMessage)
	assistantMsg := schema.NormalizeMessage(result.AssistantReply)
	if assistantMsg != nil && len(assistantMsg.Actions) == 0 && len(result.Actions) > 0 {
		assistantMsg.Actions = result.Actions
	}
	var renameTitle string
	var renameFrom string
	_, ok = s.mutateTab(tabID, func(t *tab) {
		t.removeMessage(localID)
		if userMsg != nil {
			t.messages = append(t.messages, *userMsg)
		}
		if assistantMsg != nil {
			t.messages = append(t.messages, *assistantMsg)
		}
		t.pendingFiles = nil
		if t.pending == handle {
			t.pending = nil
			t.typing = false
			t.errMsg = ""
		}
		if t.Title == s.cfg.DefaultTitle {
			if title := deriveTitle(text, s.cfg.TitleMax); title != "" && title != t.Title {
				renameFrom = t.Title
				t.Title = title
				renameTitle = title
			}
		}
	})
	if !ok {
		log.Debug("service send resolved after close")
		return
	}
	s.emitMessages(tabID)
	s.emitTabUpdated(tabID)
	s.persist(log)
	if renameTitle != "" {
		renameCtx, cancel := detachRunContext(ctx)
		go func() {
			defer cancel()
			s.renameRemote(renameCtx, tabID, convID, renameTitle, renameFrom)
		}()
	}
	log.Info("service send ok", "actions", len(result.Actions))
}

// resolveSendFailure removes the provisional echo and surfaces the error.
// A handle that lost its pending slot (stop, or a newer exchange) only
// cleans up its own provisional message.
func (s *service) resolveSendFailure(tabID schema.TabID, localID string, handle *CancelHandle, err error, log pslog.Logger) {
	handle.release()
	stopped := handle.Cancelled()
	_, ok := s.mutateTab(tabID, func(t *tab) {
		t.removeMessage(localID)
		if t.pending != handle {
			return
		}
		t.pending = nil
		t.typing = false
		if stopped {
			t.errMsg = s.cfg.StoppedText
		} else {
			t.errMsg = err.Error()
		}
	})
	if !ok {
		return
	}
	if !stopped {
		log.Warn("service send failed", "err", err)
	}
	s.emitMessages(tabID)
	s.emitTabUpdated(tabID)
}

func (s *service) StopGeneration(ctx context.Context, req schema.StopGenerationRequest) (schema.StopGenerationResponse, error) {
	log := logx.WithTab(ctx, req.TabID)
	s.mu.Lock()
	t, ok := s.tabs[req.TabID]
	if !ok {
		s.mu.Unlock()
		return schema.StopGenerationResponse{}, schema.ErrTabNotFound
	}
	handle := t.pending
	if handle == nil {
		snap := t.snapshot(s.active)
		s.mu.Unlock()
		log.Debug("service stop skipped idle")
		return schema.StopGenerationResponse{Tab: snap}, nil
	}
	t.pending = nil
	t.typing = false
	t.errMsg = s.cfg.StoppedText
	snap := t.snapshot(s.active)
	s.mu.Unlock()
	handle.Cancel()
	s.emitTab(schema.TabEvent{Type: schema.TabEventUpdated, Tab: snap, ActiveTab: s.activeTab()})
	log.Info("service stop ok")
	return schema.StopGenerationResponse{Tab: snap}, nil
}

func (s *service) EditMessage(ctx context.Context, req schema.EditMessageRequest) (schema.EditMessageResponse, error) {
	log := logx.WithTab(ctx, req.TabID)
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return schema.EditMessageResponse{}, schema.ErrEmptyEdit
	}
	if s.chat == nil {
		return schema.EditMessageResponse{}, schema.ErrChatAPIUnavailable
	}
	s.mu.Lock()
	t, ok := s.tabs[req.TabID]
	if !ok {
		s.mu.Unlock()
		return schema.EditMessageResponse{}, schema.ErrTabNotFound
	}
	if t.pending != nil || t.sending {
		snap := t.snapshot(s.active)
		s.mu.Unlock()
		log.Warn("service edit failed", "err", schema.ErrTabBusy)
		return schema.EditMessageResponse{Tab: snap}, schema.ErrTabBusy
	}
	idx := t.messageIndex(req.MessageID)
	if idx < 0 {
		s.mu.Unlock()
		log.Warn("service edit failed", "err", schema.ErrMessageNotFound)
		return schema.EditMessageResponse{}, schema.ErrMessageNotFound
	}
	var serverIDs []schema.MessageID
	for _, msg := range t.messages[idx:] {
		if msg.ServerID != 0 {
			serverIDs = append(serverIDs, msg.ServerID)
		}
	}
	t.sending = true
	snap := t.snapshot(s.active)
	s.mu.Unlock()
	runCtx, cancel := detachRunContext(logx.ContextWithTab(ctx, req.TabID))
	go func() {
		defer cancel()
		s.runEdit(runCtx, req.TabID, req.MessageID, text, serverIDs)
	}()
	log.Info("service edit start", "deletes", len(serverIDs))
	return schema.EditMessageResponse{Tab: snap, Accepted: true}, nil
}

// runEdit deletes the rewritten tail upstream, truncates the local list,
// then re-sends the new text. The first failed delete aborts the edit and
// leaves the transcript as it was.
func (s *service) runEdit(ctx context.Context, tabID schema.TabID, messageID, text string, serverIDs []schema.MessageID) {
	log := logx.WithTab(ctx, tabID)
	for _, id := range serverIDs {
		if err := s.chat.DeleteMessage(ctx, id); err != nil {
			log.Warn("service edit failed", "message", id, "err", err)
			_, ok := s.mutateTab(tabID, func(t *tab) {
				t.sending = false
				t.errMsg = err.Error()
			})
			if ok {
				s.emitTabUpdated(tabID)
			}
			return
		}
	}
	_, ok := s.mutateTab(tabID, func(t *tab) {
		if idx := t.messageIndex(messageID); idx >= 0 {
			t.messages = append([]schema.Message(nil), t.messages[:idx]...)
		}
		t.sending = false
	})
	if !ok {
		return
	}
	s.emitMessages(tabID)
	if _, err := s.SendMessage(ctx, schema.SendMessageRequest{TabID: tabID, Text: text}); err != nil {
		log.Warn("service edit resend failed", "err", err)
		_, ok := s.mutateTab(tabID, func(t *tab) {
			t.errMsg = err.Error()
		})
		if ok {
			s.emitTabUpdated(tabID)
		}
		return
	}
	log.Info("service edit ok")
}

func (s *service) CopyMessage(ctx context.Context, req schema.CopyMessageRequest) (schema.CopyMessageResponse, error) {
	log := logx.WithTab(ctx, req.TabID)
	s.mu.Lock()
	t, ok := s.tabs[req.TabID]
	if !ok {
		s.mu.Unlock()
		return schema.CopyMessageResponse{}, schema.ErrTabNotFound
	}
	idx := t.messageIndex(req.MessageID)
	if idx < 0 {
		s.mu.Unlock()
		return schema.CopyMessageResponse{}, schema.ErrMessageNotFound
	}
	content := t.messages[idx].Content
	t.copiedMessage = req.MessageID
	t.copySeq++
	seq := t.copySeq
	s.mu.Unlock()
	s.emitTabUpdated(req.TabID)
	time.AfterFunc(s.cfg.CopyFlash, func() {
		changed := false
		_, ok := s.mutateTab(req.TabID, func(t *tab) {
			if t.copySeq == seq && t.copiedMessage == req.MessageID {
				t.copiedMessage = ""
				changed = true
			}
		})
		if ok && changed {
			s.emitTabUpdated(req.TabID)
		}
	})
	log.Debug("service copy ok", "message", req.MessageID)
	return schema.CopyMessageResponse{Content: content}, nil
}
