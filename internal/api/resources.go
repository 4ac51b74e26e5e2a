package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ledongthuc/pdf"

	"github.com/kalambet/bizchat/internal/ingest"
	"github.com/kalambet/bizchat/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB

type ingestRequest struct {
	Type      string `json:"type" validate:"omitempty,oneof=text pdf"`
	Title     string `json:"title"`
	Source    string `json:"source"`
	Content   string `json:"content" validate:"required"`
	PersonaID string `json:"persona_id"`
}

type resourceView struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"persona_id,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Source    string    `json:"source,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *handlers) ingestResource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
	defer r.Body.Close()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	if req.PersonaID != "" && !h.ownsPersona(w, r, req.PersonaID) {
		return
	}

	content := req.Content
	source := req.Source
	if req.Type == "pdf" {
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
			return
		}
		content, err = pdfText(decoded)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unreadable pdf: %v", err)
			return
		}
		if source == "" {
			source = "pdf"
		}
	}
	if strings.TrimSpace(content) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "resource has no text content")
		return
	}

	res, err := h.Store.SaveResource(r.Context(), storage.Resource{
		PrincipalID: principal(r),
		PersonaID:   req.PersonaID,
		Type:        storage.ResourceText,
		Title:       req.Title,
		Source:      source,
		Content:     content,
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to save resource: %v", err)
		return
	}

	job, err := ingest.NewIndexJob(res.ID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
		return
	}
	if err := h.Store.EnqueueJob(r.Context(), job); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     res.ID,
		"status": "queued",
	})
}

func (h *handlers) listResources(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListResources(r.Context(), principal(r), parseIntParam(r, "limit", 20, 100))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list resources: %v", err)
		return
	}
	views := make([]resourceView, 0, len(list))
	for _, res := range list {
		views = append(views, resourceView{
			ID:        res.ID,
			PersonaID: res.PersonaID,
			ChatID:    res.ChatID,
			Type:      res.Type,
			Title:     res.Title,
			Source:    res.Source,
			Content:   res.Content,
			CreatedAt: res.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) deleteResource(w http.ResponseWriter, r *http.Request) {
	err := h.Store.DeleteResource(r.Context(), chi.URLParam(r, "id"), principal(r))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to delete resource: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// pdfText extracts the plain text of every page.
func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	text, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	var b bytes.Buffer
	if _, err := io.Copy(&b, text); err != nil {
		return "", fmt.Errorf("reading text: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
