// Package httpapi is the JSON gateway the dashboard frontend talks to. It
// translates HTTP requests into core service operations and streams state
// changes back over SSE.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pkt.systems/moneta/core"
	"pkt.systems/moneta/internal/logx"
	"pkt.systems/moneta/internal/version"
	"pkt.systems/moneta/schema"
)

// Server serves the HTTP API.
type Server struct {
	cfg     Config
	service core.Service
	hub     *Hub
}

// NewServer constructs an HTTP server over the assistant service.
func NewServer(cfg Config, service core.Service, hub *Hub) *Server {
	return &Server{
		cfg:     cfg,
		service: service,
		hub:     hub,
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tabs", s.handleTabs)
	mux.HandleFunc("/api/tabs/activate", s.handleActivateTab)
	mux.HandleFunc("/api/tabs/close", s.handleCloseTab)
	mux.HandleFunc("/api/draft", s.handleDraft)
	mux.HandleFunc("/api/send", s.handleSend)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/edit", s.handleEdit)
	mux.HandleFunc("/api/copy", s.handleCopy)
	mux.HandleFunc("/api/errors/clear", s.handleClearError)
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/messages/reload", s.handleReloadMessages)
	mux.HandleFunc("/api/files", s.handleFileUpload)
	mux.HandleFunc("/api/files/remove", s.handleFileRemove)
	mux.HandleFunc("/api/conversations", s.handleConversations)
	mux.HandleFunc("/api/conversations/open", s.handleOpenConversation)
	mux.HandleFunc("/api/conversations/rename", s.handleRenameConversation)
	mux.HandleFunc("/api/conversations/delete", s.handleDeleteConversation)
	mux.HandleFunc("/api/activate", s.handleActivate)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/version", s.handleVersion)
	return withRequestLogging(mux)
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	switch r.Method {
	case http.MethodGet:
		resp, err := s.service.ListTabs(r.Context(), schema.ListTabsRequest{})
		if err != nil {
			log.Warn("http tabs list failed", "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Debug("http tabs list ok", "count", len(resp.Tabs))
	case http.MethodPost:
		var payload struct {
			ConversationID int64  `json:"conversation_id"`
			Title          string `json:"title"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http tabs decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := s.service.CreateTab(r.Context(), schema.CreateTabRequest{
			ConversationID: schema.ConversationID(payload.ConversationID),
			Title:          payload.Title,
		})
		if err != nil {
			log.Warn("http tabs create failed", "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Info("http tabs create ok", "tab", resp.Tab.ID, "reused", resp.Reused)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleActivateTab(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TabID string `json:"tab_id"`
	}
	s.postTabOp(w, r, "http tab activate", &payload, func() (any, error) {
		return s.service.ActivateTab(r.Context(), schema.ActivateTabRequest{TabID: schema.TabID(payload.TabID)})
	})
}

func (s *Server) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TabID string `json:"tab_id"`
	}
	s.postTabOp(w, r, "http tab close", &payload, func() (any, error) {
		return s.service.CloseTab(r.Context(), schema.CloseTabRequest{TabID: schema.TabID(payload.TabID)})
	})
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TabID string `json:"tab_id"`
		Draft string `json:"draft"`
	}
	s.postTabOp(w, r, "http draft", &payload, func() (any, error) {
		return s.service.UpdateDraft(r.Context(), schema.UpdateDraftRequest{
			TabID: schema.TabID(payload.TabID),
			Draft: payload.Draft,
		})
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TabID string `json:"tab_id"`
		Text  string `json:"text"`
	}
	s.postTabOp(w, r, "http send", &payload, func() (any, error) {
		return s.service.SendMessage(r.Context(), schema.SendMessageRequest{
			TabID: schema.TabID(payload.TabID),
			Text:  payload.Text,
		})
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TabID string `json:"tab_id"`
	}
	s.postTabOp(w, r, "http stop", &payload, func() (any, error) {
		return s.service.StopGeneration(r.Context(), schema.StopGenerationRequest{TabID: schema.TabID(payload.TabID)})
	})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TabID     string `json:"tab_id"`
		MessageID string `json:"message_id"`
		Text      string `json:"text"`
	}
	s.postTabOp(w, r, "http edit", &payload, func() (any, error) {
		return s.service.EditMessage(r.Context(), schema.EditMessageRequest{
			TabID:     schema.TabID(payload.TabID),
			MessageID: payload.MessageID,
			Text:      payload.Text,
		})
	})
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TabID     string `json:"tab_id"`
		MessageID string `json:"message_id"`
	}
	s.postTabOp(w, r, "http copy", &payload, func() (any, error) {
		return s.service.CopyMessage(r.Context(), schema.CopyMessageRequest{
			TabID:     schema.TabID(payload.TabID),
			MessageID: payload.MessageID,
		})
	})
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TabID string `json:"tab_id"`
	}
	s.postTabOp(w, r, "http error clear", &payload, func() (any, error) {
		return s.service.ClearError(r.Context(), schema.ClearErrorRequest{TabID: schema.TabID(payload.TabID)})
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	tabID := schema.TabID(r.URL.Query().Get("tab_id"))
	resp, err := s.service.GetMessages(r.Context(), schema.GetMessagesRequest{TabID: tabID})
	if err != nil {
		log.Warn("http messages failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http messages ok", "tab", tabID, "count", len(resp.Messages))
}

func (s *Server) handleReloadMessages(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TabID string `json:"tab_id"`
	}
	s.postTabOp(w, r, "http messages reload", &payload, func() (any, error) {
		return s.service.LoadMessages(r.Context(), schema.LoadMessagesRequest{TabID: schema.TabID(payload.TabID)})
	})
}

// handleFileUpload stages an attachment on disk and records it on the tab.
// The staged path travels as the attachment ref until the next send.
func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	maxBytes := s.cfg.UploadMaxBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		log.Warn("http file upload parse failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tabID := schema.TabID(r.FormValue("tab_id"))
	file, header, err := r.FormFile("file")
	if err != nil {
		log.Warn("http file upload missing file", "err", err)
		writeError(w, http.StatusBadRequest, errors.New("file field is required"))
		return
	}
	defer file.Close()
	staged, size, err := s.stageUpload(file, header.Filename)
	if err != nil {
		log.Warn("http file upload stage failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp, err := s.service.AttachFile(r.Context(), schema.AttachFileRequest{
		TabID: tabID,
		File: schema.Attachment{
			Name: filepath.Base(header.Filename),
			Size: size,
			Ref:  staged,
		},
	})
	if err != nil {
		os.Remove(staged)
		log.Warn("http file upload failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http file upload ok", "tab", tabID, "file", header.Filename, "bytes", size)
}

func (s *Server) handleFileRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	var payload struct {
		TabID string `json:"tab_id"`
		Ref   string `json:"ref"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http file remove decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.RemoveFile(r.Context(), schema.RemoveFileRequest{
		TabID: schema.TabID(payload.TabID),
		Ref:   payload.Ref,
	})
	if err != nil {
		log.Warn("http file remove failed", "err", err)
		writeServiceError(w, err)
		return
	}
	if s.ownsStagedFile(payload.Ref) {
		os.Remove(payload.Ref)
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http file remove ok", "tab", payload.TabID)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	resp, err := s.service.ListConversations(r.Context(), schema.ListConversationsRequest{
		Skip:  parseInt(r.URL.Query().Get("skip"), 0),
		Limit: parseInt(r.URL.Query().Get("limit"), 0),
	})
	if err != nil {
		log.Warn("http conversations list failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http conversations list ok", "count", len(resp.Conversations), "total", resp.Total)
}

func (s *Server) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID int64  `json:"conversation_id"`
		Title          string `json:"title"`
	}
	s.postTabOp(w, r, "http conversation open", &payload, func() (any, error) {
		return s.service.OpenConversation(r.Context(), schema.OpenConversationRequest{
			ConversationID: schema.ConversationID(payload.ConversationID),
			Title:          payload.Title,
		})
	})
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TabID string `json:"tab_id"`
		Title string `json:"title"`
	}
	s.postTabOp(w, r, "http conversation rename", &payload, func() (any, error) {
		return s.service.RenameConversation(r.Context(), schema.RenameConversationRequest{
			TabID: schema.TabID(payload.TabID),
			Title: payload.Title,
		})
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID int64 `json:"conversation_id"`
	}
	s.postTabOp(w, r, "http conversation delete", &payload, func() (any, error) {
		return s.service.DeleteConversation(r.Context(), schema.DeleteConversationRequest{
			ConversationID: schema.ConversationID(payload.ConversationID),
		})
	})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message  string `json:"message"`
		AutoSend bool   `json:"auto_send"`
		Context  string `json:"context"`
	}
	s.postTabOp(w, r, "http activate", &payload, func() (any, error) {
		return s.service.Activate(r.Context(), schema.ActivateRequest{
			Message:  payload.Message,
			AutoSend: payload.AutoSend,
			Context:  payload.Context,
		})
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": version.Current(),
		"module":  version.Module(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	// Subscribe before replaying so events published during the replay
	// land in the live channel instead of falling into a gap. The seq
	// guard below drops anything the replay already delivered.
	ch, unsubscribe, _ := s.hub.Subscribe()
	defer unsubscribe()

	snapshot := s.buildSnapshot(r)
	_ = writeSSEvent(w, StreamEvent{
		Type:      "snapshot",
		Snapshot:  &snapshot,
		Timestamp: time.Now(),
	})
	flusher.Flush()

	lastSeen := lastID
	replayCount := 0
	if lastID > 0 {
		replay := s.hub.Replay(lastID)
		replayCount = len(replay)
		for _, event := range replay {
			_ = writeSSEvent(w, event)
			if event.Seq > lastSeen {
				lastSeen = event.Seq
			}
		}
		flusher.Flush()
	}

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount, "tabs", len(snapshot.Tabs))
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event := <-ch:
			if event.Seq <= lastSeen {
				continue
			}
			lastSeen = event.Seq
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) buildSnapshot(r *http.Request) SnapshotPayload {
	resp, err := s.service.ListTabs(r.Context(), schema.ListTabsRequest{})
	if err != nil {
		return SnapshotPayload{}
	}
	messages := make(map[schema.TabID][]schema.Message)
	for _, tab := range resp.Tabs {
		msgResp, err := s.service.GetMessages(r.Context(), schema.GetMessagesRequest{TabID: tab.ID})
		if err != nil {
			continue
		}
		messages[tab.ID] = msgResp.Messages
	}
	return SnapshotPayload{
		Tabs:                resp.Tabs,
		ActiveTab:           resp.ActiveTab,
		CurrentConversation: resp.CurrentConversation,
		Messages:            messages,
	}
}

// postTabOp decodes a JSON POST payload and runs a service operation,
// mapping service errors to HTTP statuses.
func (s *Server) postTabOp(w http.ResponseWriter, r *http.Request, what string, payload any, op func() (any, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	if err := decodeJSON(r.Body, payload); err != nil {
		log.Warn(what+" decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := op()
	if err != nil {
		log.Warn(what+" failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info(what + " ok")
}

func (s *Server) stageUpload(file io.Reader, name string) (string, int64, error) {
	dir := s.cfg.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", 0, err
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", 0, err
	}
	ext := filepath.Ext(name)
	staged := filepath.Join(dir, hex.EncodeToString(buf)+ext)
	out, err := os.OpenFile(staged, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(staged)
		return "", 0, err
	}
	return staged, size, nil
}

func (s *Server) ownsStagedFile(ref string) bool {
	if s.cfg.UploadDir == "" || ref == "" {
		return false
	}
	rel, err := filepath.Rel(s.cfg.UploadDir, ref)
	if err != nil {
		return false
	}
	return rel != "" && !strings.HasPrefix(rel, "..")
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// writeServiceError maps the service sentinel errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schema.ErrTabNotFound),
		errors.Is(err, schema.ErrMessageNotFound),
		errors.Is(err, schema.ErrConversationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, schema.ErrTabBusy):
		status = http.StatusConflict
	case errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrEmptyEdit):
		status = http.StatusBadRequest
	case errors.Is(err, schema.ErrChatAPIUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err)
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
