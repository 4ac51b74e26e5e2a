package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/kalambet/bizchat/internal/storage"
)

type personaRequest struct {
	ID                     string `json:"id"`
	Name                   string `json:"name" validate:"required,max=100"`
	Instructions           string `json:"instructions"`
	ExcludeBusinessContext bool   `json:"exclude_business_context"`
	IsolateRAGContext      bool   `json:"isolate_rag_context"`
}

type profileBody struct {
	Name        string    `json:"name" validate:"required"`
	Type        string    `json:"type"`
	Size        string    `json:"size"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

func (h *handlers) savePersona(w http.ResponseWriter, r *http.Request) {
	var req personaRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID != "" {
		// Upserts must not take over another principal's persona.
		if p, err := h.Store.GetPersona(r.Context(), req.ID); err == nil && p.PrincipalID != principal(r) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown persona %q", req.ID)
			return
		}
	}

	p, err := h.Store.SavePersona(r.Context(), storage.Persona{
		ID:                     req.ID,
		PrincipalID:            principal(r),
		Name:                   req.Name,
		Instructions:           req.Instructions,
		ExcludeBusinessContext: req.ExcludeBusinessContext,
		IsolateRAGContext:      req.IsolateRAGContext,
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to save persona: %v", err)
		return
	}
	req.ID = p.ID
	writeJSON(w, http.StatusOK, req)
}

// ownsPersona reports whether the persona exists and belongs to the caller,
// writing a 400 when it does not.
func (h *handlers) ownsPersona(w http.ResponseWriter, r *http.Request, id string) bool {
	p, err := h.Store.GetPersona(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && p.PrincipalID != principal(r)) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown persona %q", id)
		return false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get persona: %v", err)
		return false
	}
	return true
}

func (h *handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	b, found, err := h.Profile.Get(r.Context(), principal(r))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
		return
	}
	if !found {
		httpError(w, http.StatusNotFound, "not_found", "business profile not set")
		return
	}
	writeJSON(w, http.StatusOK, profileBody{
		Name:        b.Name,
		Type:        b.Type,
		Size:        b.Size,
		Description: b.Description,
		UpdatedAt:   b.UpdatedAt,
	})
}

func (h *handlers) putProfile(w http.ResponseWriter, r *http.Request) {
	var req profileBody
	if !h.decode(w, r, &req) {
		return
	}
	err := h.Profile.Save(r.Context(), storage.BusinessProfile{
		PrincipalID: principal(r),
		Name:        req.Name,
		Type:        req.Type,
		Size:        req.Size,
		Description: req.Description,
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to save profile: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
