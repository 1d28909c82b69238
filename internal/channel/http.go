package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/oakfieldlabs/advisorai/internal/bus"
	"github.com/oakfieldlabs/advisorai/internal/chat"
	"github.com/oakfieldlabs/advisorai/internal/config"
	"github.com/oakfieldlabs/advisorai/internal/store"
)

const httpChannelName = "http"

// Submitter is the chat entry point the HTTP API calls synchronously.
type Submitter interface {
	SubmitMessage(ctx context.Context, sessionID, userID, text string) (*chat.Reply, error)
}

// SessionReader serves the session listing and history endpoints.
type SessionReader interface {
	ListSessions(ownerID string) ([]store.Session, error)
	GetSession(id string) (store.Session, error)
	ReadHistory(sessionID string) ([]store.Turn, error)
}

type HTTPChannel struct {
	BaseChannel
	host      string
	port      int
	submitter Submitter
	sessions  SessionReader
	server    *http.Server
}

func NewHTTPChannel(gwCfg config.GatewayConfig, b *bus.MessageBus, submitter Submitter, sessions SessionReader) *HTTPChannel {
	host := gwCfg.Host
	if host == "" {
		host = config.DefaultHost
	}
	port := gwCfg.Port
	if port == 0 {
		port = config.DefaultPort
	}
	return &HTTPChannel{
		BaseChannel: NewBaseChannel(httpChannelName, b, nil),
		host:        host,
		port:        port,
		submitter:   submitter,
		sessions:    sessions,
	}
}

func (h *HTTPChannel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/messages", h.handleSubmit)
	mux.HandleFunc("GET /api/sessions", h.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}/turns", h.handleHistory)

	h.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", h.host, h.port),
		Handler: mux,
	}

	go func() {
		log.Printf("[http] listening on %s", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[http] server error: %v", err)
		}
	}()
	return nil
}

type submitRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
}

type submitResponse struct {
	SessionID        string   `json:"session_id"`
	SessionTitle     string   `json:"session_title"`
	AssistantText    string   `json:"assistant_text"`
	ResolvedContacts []string `json:"resolved_contacts"`
}

func (h *HTTPChannel) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	reply, err := h.submitter.SubmitMessage(r.Context(), req.SessionID, req.UserID, req.Text)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("[http] submit message error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		SessionID:        reply.SessionID,
		SessionTitle:     reply.SessionTitle,
		AssistantText:    reply.AssistantText,
		ResolvedContacts: reply.ResolvedContacts,
	})
}

type sessionItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *HTTPChannel) handleListSessions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	sessions, err := h.sessions.ListSessions(owner)
	if err != nil {
		log.Printf("[http] list sessions error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	items := make([]sessionItem, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionItem{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

type turnItem struct {
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	ResolvedContacts []string  `json:"resolved_contacts,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (h *HTTPChannel) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.sessions.GetSession(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("[http] load session error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	turns, err := h.sessions.ReadHistory(id)
	if err != nil {
		log.Printf("[http] read history error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	items := make([]turnItem, 0, len(turns))
	for _, t := range turns {
		items = append(items, turnItem{
			Role:             string(t.Role),
			Content:          t.Content,
			ResolvedContacts: t.ResolvedContacts,
			CreatedAt:        t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": items})
}

// Send is a no-op: HTTP replies are returned inline by handleSubmit.
func (h *HTTPChannel) Send(msg bus.OutboundMessage) error {
	return nil
}

func (h *HTTPChannel) Stop() error {
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			log.Printf("[http] shutdown error: %v", err)
		}
	}
	log.Printf("[http] stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[http] write response error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
