package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/tamgam/diya/internal/i18n"
	"github.com/tamgam/diya/internal/indexer"
	"github.com/tamgam/diya/internal/model"
)

type indexRequest struct {
	SubjectID  string `json:"subject_id"`
	Title      string `json:"title,omitempty"`
	Transcript string `json:"transcript"`
}

func (h *Handler) handleIndexClass(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "classID")

	var req indexRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SubjectID == "" || req.Transcript == "" {
		respondError(w, http.StatusBadRequest, "subject_id and transcript are required")
		return
	}

	if err := h.store.UpsertClass(model.Class{ID: classID, SubjectID: req.SubjectID, Title: req.Title}); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	stats, err := h.indexer.IndexClass(r.Context(), classID, req.Transcript)
	var partial *indexer.PartialFailureError
	if err != nil && !errors.As(err, &partial) {
		h.respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if partial != nil {
		// Committed, but with gaps; the caller should re-index later.
		status = http.StatusAccepted
	}
	respondJSON(w, status, map[string]any{
		"class_id":     classID,
		"stats":        stats,
		"coverage_pct": stats.CoveragePct(),
		"ready":        stats.Ready(),
		"message":      appI18n.Tp(r.Context(), "ChunksIndexed", stats.EmbeddedChunks),
	})
}

func (h *Handler) handleEmbeddingStats(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "classID")

	class, err := h.store.GetClass(classID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if class == nil {
		respondError(w, http.StatusNotFound, "class not found")
		return
	}

	stats, err := h.store.EmbeddingStats(classID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"class_id":     classID,
		"subject_id":   class.SubjectID,
		"indexed_at":   class.IndexedAt,
		"stats":        stats,
		"coverage_pct": stats.CoveragePct(),
		"ready":        stats.Ready(),
	})
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(users))
	for _, u := range users {
		views = append(views, map[string]any{
			"id":           u.ID,
			"username":     u.Username,
			"display_name": u.DisplayName,
			"role":         u.Role,
			"active":       u.Active,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": views})
}

type createUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	role := model.UserRole(req.Role)
	switch role {
	case model.UserRoleStudent, model.UserRoleTeacher, model.UserRoleAdmin:
	case "":
		role = model.UserRoleStudent
	default:
		respondError(w, http.StatusBadRequest, "unknown role")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	user, err := h.store.CreateUser(req.Username, req.DisplayName, string(hash), role)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
	})
}

func (h *Handler) handleToggleUser(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	user, err := h.store.GetUserByID(userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err := h.store.SetUserActive(userID, !user.Active); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": userID, "active": !user.Active})
}

type subscriptionRequest struct {
	SubjectID string `json:"subject_id"`
}

func (h *Handler) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	var req subscriptionRequest
	if err := decodeBody(r, &req); err != nil || req.SubjectID == "" {
		respondError(w, http.StatusBadRequest, "subject_id is required")
		return
	}
	if err := h.store.AddSubscription(userID, req.SubjectID); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"student_id": userID, "subject_id": req.SubjectID})
}
