package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/missiond/internal/storage"
)

func handleListMissions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		offset := parseIntParam(r, "offset", 0, 0)

		logs, err := deps.Store.ListMissionLogs(r.Context(), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list missions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newMissionViews(logs))
	}
}

func handleListNotifications(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		ns, err := deps.Store.ListNotifications(r.Context(), userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list notifications: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newNotificationViews(ns))
	}
}

func handleListLeads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		leads, err := deps.Store.ListLeads(r.Context(), userID, r.URL.Query().Get("status"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list leads: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newLeadViews(leads))
	}
}

func handleListDrafts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		drafts, err := deps.Store.ListDrafts(r.Context(), userID, r.URL.Query().Get("status"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list drafts: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newDraftViews(drafts))
	}
}

// handleDismissDraft dismisses a pending draft. Dismissing an already
// dismissed draft succeeds; any other status is a conflict.
func handleDismissDraft(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx := r.Context()

		d, err := deps.Store.GetDraft(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "draft not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get draft: %v", err)
			return
		}

		switch d.Status {
		case storage.DraftDismissed:
		case storage.DraftPending:
			if err := deps.Store.SetDraftStatus(ctx, id, storage.DraftDismissed, ""); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to dismiss draft: %v", err)
				return
			}
			d.Status = storage.DraftDismissed
		default:
			httpError(w, http.StatusConflict, "invalid_state", "draft is %s", d.Status)
			return
		}
		writeJSON(w, http.StatusOK, newDraftView(d))
	}
}

// handleDigest returns a preview of the user's digest without notifying.
func handleDigest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		d, err := deps.Digester.Build(r.Context(), userID, time.Now())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build digest: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func handleGetSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "user_id")
		u, err := deps.Store.GetUserSettings(r.Context(), userID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no settings for user")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, settingsView{
			UserID:        u.UserID,
			MaxPushPerDay: u.MaxPushPerDay,
			QuietStart:    u.QuietStart,
			QuietEnd:      u.QuietEnd,
			Timezone:      u.Timezone,
		})
	}
}

func handlePutSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		userID := chi.URLParam(r, "user_id")
		current, err := deps.Store.GetUserSettings(r.Context(), userID)
		if errors.Is(err, storage.ErrNotFound) {
			current = storage.DefaultUserSettings(userID)
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get settings: %v", err)
			return
		}

		// Fields absent from the body keep their current values.
		v := settingsView{
			MaxPushPerDay: current.MaxPushPerDay,
			QuietStart:    current.QuietStart,
			QuietEnd:      current.QuietEnd,
			Timezone:      current.Timezone,
		}
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		v.UserID = userID

		if v.MaxPushPerDay < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "max_push_per_day must not be negative")
			return
		}
		if v.QuietStart < 0 || v.QuietStart > 23 || v.QuietEnd < 0 || v.QuietEnd > 23 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "quiet hours must be between 0 and 23")
			return
		}
		if v.Timezone != "" {
			if _, err := time.LoadLocation(v.Timezone); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown timezone %q", v.Timezone)
				return
			}
		}

		err = deps.Store.SetUserSettings(r.Context(), storage.UserSettings{
			UserID:        userID,
			MaxPushPerDay: v.MaxPushPerDay,
			QuietStart:    v.QuietStart,
			QuietEnd:      v.QuietEnd,
			Timezone:      v.Timezone,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
