// Package api serves the missiond HTTP and MCP surfaces.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/missiond/internal/missions"
	"github.com/kalambet/missiond/internal/router"
	"github.com/kalambet/missiond/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Router routes inbound envelopes to missions.
type Router interface {
	Route(ctx context.Context, env router.Envelope) router.Result
}

type Deps struct {
	Store    *storage.Store
	Router   Router
	Digester *missions.Digester
	Token    string // when empty, authentication is disabled
}

// NewHandler returns the HTTP API. /health is always unauthenticated.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/v1/events", handleEvent(deps))
		r.Post("/v1/messages", handleMessage(deps))
		r.Get("/v1/missions", handleListMissions(deps))
		r.Get("/v1/notifications", handleListNotifications(deps))
		r.Get("/v1/leads", handleListLeads(deps))
		r.Get("/v1/drafts", handleListDrafts(deps))
		r.Post("/v1/drafts/{id}/dismiss", handleDismissDraft(deps))
		r.Get("/v1/digest", handleDigest(deps))
		r.Get("/v1/settings/{user_id}", handleGetSettings(deps))
		r.Put("/v1/settings/{user_id}", handlePutSettings(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// statusFor maps a routing result to the receipt's HTTP status.
func statusFor(res router.Result) int {
	switch {
	case res.Dispatched:
		return http.StatusOK
	case res.HandlerFailed():
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
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

// requireUser reads the user_id query parameter, writing a 400 when absent.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
		return "", false
	}
	return userID, true
}
