// Package api exposes chats, turns and the knowledge base over HTTP, and
// the knowledge tools over MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kalambet/bizchat/internal/metrics"
	"github.com/kalambet/bizchat/internal/pipeline"
	"github.com/kalambet/bizchat/internal/profile"
	"github.com/kalambet/bizchat/internal/storage"
	"github.com/kalambet/bizchat/internal/transport"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TurnSender runs the turn pipeline. Implemented by pipeline.Executor.
type TurnSender interface {
	SendTurn(ctx context.Context, req pipeline.TurnRequest) (pipeline.Result, error)
}

type AppDeps struct {
	Store   *storage.Store
	Profile *profile.Manager
	Turns   TurnSender
	Hub     *transport.Hub
	Metrics *metrics.Metrics
	Token   string
}

type handlers struct {
	AppDeps
	validate *validator.Validate
}

func NewAppHandler(deps AppDeps) http.Handler {
	h := &handlers{AppDeps: deps, validate: validator.New()}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(RequirePrincipal)

		r.Get("/chats", h.listChats)
		r.Post("/chats", h.createChat)
		r.Get("/chats/{chatID}", h.getChat)
		r.Post("/chats/{chatID}/turns", h.sendTurn)
		r.Get("/chats/{chatID}/ws", h.subscribe)

		r.Get("/resources", h.listResources)
		r.Post("/resources", h.ingestResource)
		r.Delete("/resources/{id}", h.deleteResource)

		r.Post("/personas", h.savePersona)
		r.Get("/profile", h.getProfile)
		r.Put("/profile", h.putProfile)
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// decode reads a JSON body into v and validates it. On failure a 400 has
// already been written.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
