package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/bizchat/internal/pipeline"
	"github.com/kalambet/bizchat/internal/storage"
)

type createChatRequest struct {
	PersonaID string `json:"persona_id"`
	FolderID  string `json:"folder_id"`
	Title     string `json:"title" validate:"max=200"`
}

type attachmentBody struct {
	Kind string `json:"kind" validate:"required"`
	Name string `json:"name" validate:"required"`
}

type turnRequest struct {
	Message         string          `json:"message" validate:"required"`
	Attachment      *attachmentBody `json:"attachment"`
	WebSearch       bool            `json:"web_search"`
	Model           string          `json:"model"`
	PersonaOverride string          `json:"persona_override"`
}

type turnView struct {
	ID         string          `json:"id"`
	Seq        int             `json:"seq"`
	Question   string          `json:"question"`
	Answer     string          `json:"answer"`
	Attachment *attachmentBody `json:"attachment,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type sessionView struct {
	Topic        string    `json:"topic"`
	KeyDecisions []string  `json:"key_decisions"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type chatView struct {
	ID        string       `json:"id"`
	PersonaID string       `json:"persona_id,omitempty"`
	FolderID  string       `json:"folder_id,omitempty"`
	Title     string       `json:"title"`
	Turns     []turnView   `json:"turns,omitempty"`
	Session   *sessionView `json:"session,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func newChatView(c storage.Chat) chatView {
	v := chatView{
		ID:        c.ID,
		PersonaID: c.PersonaID,
		FolderID:  c.FolderID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	for _, t := range c.Turns {
		tv := turnView{ID: t.ID, Seq: t.Seq, Question: t.Question, Answer: t.Answer, CreatedAt: t.CreatedAt}
		if t.Attachment != nil {
			tv.Attachment = &attachmentBody{Kind: t.Attachment.Kind, Name: t.Attachment.Name}
		}
		v.Turns = append(v.Turns, tv)
	}
	if !c.Session.IsEmpty() {
		v.Session = &sessionView{Topic: c.Session.Topic, KeyDecisions: c.Session.KeyDecisions, UpdatedAt: c.Session.UpdatedAt}
	}
	return v
}

func (h *handlers) createChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PersonaID != "" && !h.ownsPersona(w, r, req.PersonaID) {
		return
	}

	chat, err := h.Store.CreateChat(r.Context(), storage.Chat{
		PrincipalID: principal(r),
		PersonaID:   req.PersonaID,
		FolderID:    req.FolderID,
		Title:       req.Title,
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to create chat: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, newChatView(chat))
}

func (h *handlers) getChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.Store.GetChat(r.Context(), chi.URLParam(r, "chatID"), principal(r))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get chat: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, newChatView(chat))
}

func (h *handlers) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.Store.ListChats(r.Context(), principal(r), parseIntParam(r, "limit", 20, 100))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list chats: %v", err)
		return
	}
	views := make([]chatView, 0, len(chats))
	for _, c := range chats {
		views = append(views, newChatView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) sendTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := pipeline.TurnRequest{
		PrincipalID:     principal(r),
		ChatID:          chi.URLParam(r, "chatID"),
		Message:         req.Message,
		WebSearch:       req.WebSearch,
		Model:           req.Model,
		PersonaOverride: req.PersonaOverride,
	}
	if req.Attachment != nil {
		in.Attachment = &storage.Attachment{Kind: req.Attachment.Kind, Name: req.Attachment.Name}
	}

	res, err := h.Turns.SendTurn(r.Context(), in)
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "chat not found")
	case errors.Is(err, pipeline.ErrInvalid):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case err != nil:
		httpError(w, http.StatusInternalServerError, "api_error", "turn failed")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// subscribe attaches a WebSocket client to the chat's event stream.
func (h *handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	_, err := h.Store.GetChat(r.Context(), chatID, principal(r))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get chat: %v", err)
		return
	}
	h.Hub.Serve(w, r, chatID)
}
