package core

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/moneta/schema"
)

func TestSendCreatesConversationAndResolves(t *testing.T) {
	chat := newFakeChat()
	svc, _, _ := newTestService(t, chat)
	tab := onlyTab(t, svc)

	resp, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID, Text: "How much did I spend on groceries this month?"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("expected send to be accepted")
	}
	waitFor(t, "send to resolve", func() bool {
		snap, ok := tabByID(t, svc, tab.ID)
		return ok && !snap.Typing && snap.ConversationID != 0
	})
	snap, _ := tabByID(t, svc, tab.ID)
	if snap.ConversationID != 7 {
		t.Fatalf("expected lazily created conversation 7, got %d", snap.ConversationID)
	}
	if snap.Error != "" {
		t.Fatalf("unexpected error %q", snap.Error)
	}
	messages := tabMessages(t, svc, tab.ID)
	if len(messages) != 3 {
		t.Fatalf("expected welcome + user + assistant, got %d", len(messages))
	}
	for _, msg := range messages[1:] {
		if msg.Provisional() {
			t.Fatalf("expected canonical messages only, %q is provisional", msg.ID)
		}
	}
	if messages[1].Role != schema.RoleUser || messages[2].Role != schema.RoleAssistant {
		t.Fatalf("unexpected roles %q / %q", messages[1].Role, messages[2].Role)
	}
	if snap.Title != "How much did I spend on groceries this month?" {
		t.Fatalf("expected derived title, got %q", snap.Title)
	}
	waitFor(t, "rename push", func() bool { return chat.renameCount() == 1 })
	list, err := svc.ListTabs(context.Background(), schema.ListTabsRequest{})
	if err != nil {
		t.Fatalf("list tabs: %v", err)
	}
	if list.CurrentConversation != 7 {
		t.Fatalf("expected current conversation 7, got %d", list.CurrentConversation)
	}
}

func TestSendShowsProvisionalEchoWhileTyping(t *testing.T) {
	chat := newFakeChat()
	chat.release = make(chan struct{})
	svc, _, _ := newTestService(t, chat)
	tab := onlyTab(t, svc)

	if _, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID, Text: "pending question"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-chat.started
	waitFor(t, "provisional echo", func() bool {
		messages := tabMessages(t, svc, tab.ID)
		return len(messages) == 2 && messages[1].Provisional()
	})
	snap, _ := tabByID(t, svc, tab.ID)
	if !snap.Typing {
		t.Fatalf("expected typing while in flight")
	}
	close(chat.release)
	waitFor(t, "resolution", func() bool {
		messages := tabMessages(t, svc, tab.ID)
		return len(messages) == 3 && !messages[1].Provisional()
	})
}

func TestSendEmptyIsSilentNoop(t *testing.T) {
	chat := newFakeChat()
	svc, _, _ := newTestService(t, chat)
	tab := onlyTab(t, svc)
	resp, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID, Text: "   "})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Accepted {
		t.Fatalf("expected empty send to be ignored")
	}
	if chat.sentCount() != 0 {
		t.Fatalf("expected no backend call")
	}
	if resp.Tab.Error != "" {
		t.Fatalf("expected no error, got %q", resp.Tab.Error)
	}
}

func TestSendFallsBackToDraft(t *testing.T) {
	chat := newFakeChat()
	svc, _, _ := newTestService(t, chat)
	tab := onlyTab(t, svc)
	if _, err := svc.UpdateDraft(context.Background(), schema.UpdateDraftRequest{TabID: tab.ID, Draft: "draft text"}); err != nil {
		t.Fatalf("update draft: %v", err)
	}
	resp, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("expected draft send to be accepted")
	}
	waitFor(t, "draft sent", func() bool { return chat.sentCount() == 1 })
	chat.mu.Lock()
	sent := chat.sentTexts[0]
	chat.mu.Unlock()
	if sent != "draft text" {
		t.Fatalf("expected draft text sent, got %q", sent)
	}
	waitFor(t, "draft cleared", func() bool {
		snap, ok := tabByID(t, svc, tab.ID)
		return ok && snap.Draft == ""
	})
}

func TestSendBusyTab(t *testing.T) {
	chat := newFakeChat()
	chat.release = make(chan struct{})
	defer close(chat.release)
	svc, _, _ := newTestService(t, chat)
	tab := onlyTab(t, svc)
	if _, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID, Text: "first"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-chat.started
	_, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID, Text: "second"})
	if !errors.Is(err, schema.ErrTabBusy) {
		t.Fatalf("expected ErrTabBusy, got %v", err)
	}
}

func TestAttachmentOnlySendUsesPlaceholderText(t *testing.T) {
	chat := newFakeChat()
	svc, _, _ := newTestService(t, chat)
	tab := onlyTab(t, svc)
	if _, err := svc.AttachFile(context.Background(), schema.AttachFileRequest{
		TabID: tab.ID,
		File:  schema.Attachment{Name: "receipt.png", Ref: "ref-9"},
	}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	resp, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("expected attachment-only send to be accepted")
	}
	waitFor(t, "send", func() bool { return chat.sentCount() == 1 })
	chat.mu.Lock()
	sent := chat.sentTexts[0]
	files := chat.sentFiles[0]
	chat.mu.Unlock()
	if sent != schema.DefaultAttachmentText {
		t.Fatalf("expected placeholder text, got %q", sent)
	}
	if len(files) != 1 || files[0].Ref != "ref-9" {
		t.Fatalf("expected staged file forwarded, got %+v", files)
	}
	waitFor(t, "files cleared", func() bool {
		snap, ok := tabByID(t, svc, tab.ID)
		return ok && len(snap.PendingFiles) == 0
	})
}

func TestStopGenerationCancelsInFlightSend(t *testing.T) {
	chat := newFakeChat()
	chat.release = make(chan struct{})
	defer close(chat.release)
	svc, _, _ := newTestService(t, chat)
	tab := onlyTab(t, svc)
	if _, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID, Text: "long question"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-chat.started
	waitFor(t, "provisional echo", func() bool {
		return len(tabMessages(t, svc, tab.ID)) == 2
	})
	stop, err := svc.StopGeneration(context.Background(), schema.StopGenerationRequest{TabID: tab.ID})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stop.Tab.Typing {
		t.Fatalf("expected typing cleared on stop")
	}
	if stop.Tab.Error != schema.DefaultStoppedText {
		t.Fatalf("expected stopped text, got %q", stop.Tab.Error)
	}
	waitFor(t, "provisional removed", func() bool {
		messages := tabMessages(t, svc, tab.ID)
		return len(messages) == 1
	})
	// Stopping an idle tab is a no-op.
	again, err := svc.StopGeneration(context.Background(), schema.StopGenerationRequest{TabID: tab.ID})
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if again.Tab.Typing {
		t.Fatalf("expected idle tab to stay idle")
	}
}

func TestStoppedTabAcceptsNewSend(t *testing.T) {
	chat := newFakeChat()
	chat.release = make(chan struct{})
	svc, _, _ := newTestService(t, chat)
	tab := onlyTab(t, svc)
	if _, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID, Text: "first"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-chat.started
	waitFor(t, "provisional echo", func() bool {
		return len(tabMessages(t, svc, tab.ID)) == 2
	})
	if _, err := svc.StopGeneration(context.Background(), schema.StopGenerationRequest{TabID: tab.ID}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitFor(t, "provisional removed", func() bool {
		return len(tabMessages(t, svc, tab.ID)) == 1
	})
	chat.mu.Lock()
	chat.release = nil
	chat.mu.Unlock()
	resp, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID, Text: "second"})
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("expected stopped tab to accept a new send")
	}
	waitFor(t, "second exchange", func() bool {
		messages := tabMessages(t, svc, tab.ID)
		return len(messages) == 3 && messages[1].Content == "second"
	})
	snap, _ := tabByID(t, svc, tab.ID)
	if snap.Error != "" {
		t.Fatalf("expected stop error cleared by next send, got %q", snap.Error)
	}
}

func TestSendFailureKeepsDraftlessErrorState(t *testing.T) {
	chat := newFakeChat()
	chat.sendErr = errors.New("backend down")
	svc, _, _ := newTestService(t, chat)
	tab := onlyTab(t, svc)
	if _, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID, Text: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "failure surfaced", func() bool {
		snap, ok := tabByID(t, svc, tab.ID)
		return ok && snap.Error == "backend down" && !snap.Typing
	})
	messages := tabMessages(t, svc, tab.ID)
	if len(messages) != 1 {
		t.Fatalf("expected provisional echo removed on failure, got %d messages", len(messages))
	}
}

func TestCloseTabMidSendCancelsQuietly(t *testing.T) {
	chat := newFakeChat()
	chat.release = make(chan struct{})
	defer close(chat.release)
	svc, sink, _ := newTestService(t, chat)
	tab := onlyTab(t, svc)
	if _, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID, Text: "doomed"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-chat.started
	waitFor(t, "provisional echo", func() bool {
		return len(tabMessages(t, svc, tab.ID)) == 2
	})
	if _, err := svc.CloseTab(context.Background(), schema.CloseTabRequest{TabID: tab.ID}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.GetMessages(context.Background(), schema.GetMessagesRequest{TabID: tab.ID}); !errors.Is(err, schema.ErrTabNotFound) {
		t.Fatalf("expected tab gone, got %v", err)
	}
	// The cancelled continuation must not resurrect the tab.
	waitFor(t, "no resurrection", func() bool {
		list, err := svc.ListTabs(context.Background(), schema.ListTabsRequest{})
		if err != nil {
			return false
		}
		return len(list.Tabs) == 0
	})
	for _, ev := range sink.tabEvents() {
		if ev.Type == schema.TabEventCreated && ev.Tab.ID == tab.ID {
			t.Fatalf("closed tab reappeared in events")
		}
	}
}

func TestConcurrentSendsOnSeparateTabs(t *testing.T) {
	chat := newFakeChat()
	svc, _, _ := newTestService(t, chat)
	first := onlyTab(t, svc)
	second, err := svc.CreateTab(context.Background(), schema.CreateTabRequest{})
	if err != nil {
		t.Fatalf("create tab: %v", err)
	}
	if _, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: first.ID, Text: "first tab question"}); err != nil {
		t.Fatalf("send first: %v", err)
	}
	if _, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: second.Tab.ID, Text: "second tab question"}); err != nil {
		t.Fatalf("send second: %v", err)
	}
	waitFor(t, "both exchanges", func() bool {
		return len(tabMessages(t, svc, first.ID)) == 3 && len(tabMessages(t, svc, second.Tab.ID)) == 3
	})
	if tabMessages(t, svc, first.ID)[1].Content != "first tab question" {
		t.Fatalf("crosstalk between tabs")
	}
	if tabMessages(t, svc, second.Tab.ID)[1].Content != "second tab question" {
		t.Fatalf("crosstalk between tabs")
	}
}

func TestSendWithoutChatAPI(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	tab := onlyTab(t, svc)
	_, err := svc.SendMessage(context.Background(), schema.SendMessageRequest{TabID: tab.ID, Text: "hello"})
	if !errors.Is(err, schema.ErrChatAPIUnavailable) {
		t.Fatalf("expected ErrChatAPIUnavailable, got %v", err)
	}
}

func TestCopyMessageFlashClears(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	tab := onlyTab(t, svc)
	messages := tabMessages(t, svc, tab.ID)
	resp, err := svc.CopyMessage(context.Background(), schema.CopyMessageRequest{TabID: tab.ID, MessageID: messages[0].ID})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if resp.Content != schema.DefaultWelcomeText {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	snap, _ := tabByID(t, svc, tab.ID)
	if snap.CopiedMessage != messages[0].ID {
		t.Fatalf("expected copied marker set")
	}
	waitFor(t, "copy flash to clear", func() bool {
		snap, ok := tabByID(t, svc, tab.ID)
		return ok && snap.CopiedMessage == ""
	})
}

func TestCopyUnknownMessage(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	tab := onlyTab(t, svc)
	_, err := svc.CopyMessage(context.Background(), schema.CopyMessageRequest{TabID: tab.ID, MessageID: "nope"})
	if !errors.Is(err, schema.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}
