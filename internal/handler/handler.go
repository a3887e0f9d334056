package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tamgam/diya/internal/assessment"
	appI18n "github.com/tamgam/diya/internal/i18n"
	"github.com/tamgam/diya/internal/indexer"
	"github.com/tamgam/diya/internal/level"
	"github.com/tamgam/diya/internal/llm"
	"github.com/tamgam/diya/internal/model"
	"github.com/tamgam/diya/internal/store"
	"github.com/tamgam/diya/internal/tutor"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	tutor   *tutor.Service
	assess  *assessment.Service
	indexer *indexer.Indexer
	leveler *level.Engine
	config  model.EngineConfig
}

// New creates a new Handler.
func New(s *store.Store, t *tutor.Service, a *assessment.Service, ix *indexer.Indexer, lv *level.Engine, cfg model.EngineConfig) *Handler {
	return &Handler{store: s, tutor: t, assess: a, indexer: ix, leveler: lv, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Post("/tutor/ask", h.handleAsk)
		r.Get("/tutor/sessions", h.handleListSessions)
		r.Get("/tutor/sessions/{sessionID}", h.handleSessionDetail)

		r.Post("/assessments/{classID}/generate", h.handleGenerateAssessment)
		r.Get("/assessments/{classID}", h.handleGetAssessment)
		r.Post("/assessments/{classID}/submit", h.handleSubmitAssessment)
		r.Get("/assessments/history", h.handleAssessmentHistory)

		r.Get("/profile/{subjectID}", h.handleProfile)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin, model.UserRoleTeacher))
			r.Post("/admin/classes/{classID}/index", h.handleIndexClass)
			r.Get("/admin/classes/{classID}/embeddings", h.handleEmbeddingStats)
			r.Get("/admin/users", h.handleListUsers)
			r.Post("/admin/users", h.handleCreateUser)
			r.Post("/admin/users/{userID}/toggle", h.handleToggleUser)
			r.Post("/admin/users/{userID}/subscriptions", h.handleAddSubscription)
		})
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

// respondServiceError maps domain errors onto HTTP statuses with
// localized messages. Anything unmapped is a 500.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, tutor.ErrNoEntitlement):
		respondError(w, http.StatusForbidden, appI18n.T(ctx, "NotEntitled"))
	case errors.Is(err, tutor.ErrSessionNotFound), errors.Is(err, errClassNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tutor.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrAlreadyIssued):
		respondError(w, http.StatusConflict, appI18n.T(ctx, "AssessmentAlreadyIssued"))
	case errors.Is(err, store.ErrAlreadySubmitted):
		respondError(w, http.StatusConflict, appI18n.T(ctx, "AssessmentAlreadySubmitted"))
	case errors.Is(err, assessment.ErrNotIssued):
		respondError(w, http.StatusNotFound, appI18n.T(ctx, "AssessmentNotIssued"))
	case errors.Is(err, llm.ErrBackendUnavailable), errors.Is(err, llm.ErrRateLimited):
		slog.Error("llm backend failure", "error", err)
		respondError(w, http.StatusServiceUnavailable, appI18n.T(ctx, "TutorUnavailable"))
	case errors.Is(err, llm.ErrContentFiltered):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
