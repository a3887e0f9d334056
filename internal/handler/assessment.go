package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tamgam/diya/internal/model"
	"github.com/tamgam/diya/internal/tutor"
)

var errClassNotFound = errors.New("class not found")

func (h *Handler) handleGenerateAssessment(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	classID := chi.URLParam(r, "classID")

	if err := h.checkClassEntitlement(user.ID, classID); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	items, err := h.assess.Generate(r.Context(), user.ID, classID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"items": items})
}

func (h *Handler) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	classID := chi.URLParam(r, "classID")

	if err := h.checkClassEntitlement(user.ID, classID); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	items, err := h.store.ItemsForClass(classID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if len(items) == 0 {
		respondError(w, http.StatusNotFound, "no assessment issued for this class")
		return
	}
	// AssessmentItem's JSON shape already withholds answers and explanations.
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

type submitRequest struct {
	Answers []model.ItemAnswer `json:"answers"`
}

func (h *Handler) handleSubmitAssessment(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	classID := chi.URLParam(r, "classID")

	if err := h.checkClassEntitlement(user.ID, classID); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, profile, err := h.assess.Submit(r.Context(), user.ID, classID, req.Answers)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"submission_id": sub.ID,
		"raw_score":     sub.RawScore,
		"results":       sub.Results,
		"level":         profile.Level,
		"level_label":   model.LevelLabel(profile.Level),
	})
}

func (h *Handler) handleAssessmentHistory(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	subjectID := r.URL.Query().Get("subject_id")

	history, err := h.store.ListSubmissionsByStudent(user.ID, subjectID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"submissions": history})
}

// checkClassEntitlement verifies the student's subscription covers the
// class's subject. Teachers and admins pass unconditionally.
func (h *Handler) checkClassEntitlement(userID int64, classID string) error {
	user, err := h.store.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user != nil && user.Role != model.UserRoleStudent {
		return nil
	}
	class, err := h.store.GetClass(classID)
	if err != nil {
		return err
	}
	if class == nil {
		return errClassNotFound
	}
	entitled, err := h.store.EntitledClassIDs(userID, class.SubjectID)
	if err != nil {
		return err
	}
	for _, id := range entitled {
		if id == classID {
			return nil
		}
	}
	return tutor.ErrNoEntitlement
}
