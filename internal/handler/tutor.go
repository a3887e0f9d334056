package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/tamgam/diya/internal/i18n"
	"github.com/tamgam/diya/internal/model"
	"github.com/tamgam/diya/internal/tutor"
)

type askRequest struct {
	SessionID string `json:"session_id,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	ClassID   string `json:"class_id,omitempty"`
	Query     string `json:"query"`
}

type citedChunk struct {
	ID      int64   `json:"id"`
	ClassID string  `json:"class_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

type askResponse struct {
	SessionID string       `json:"session_id"`
	Answer    string       `json:"answer"`
	Grounded  bool         `json:"grounded"`
	Notice    string       `json:"notice,omitempty"`
	Level     int          `json:"level"`
	Label     string       `json:"level_label"`
	Sources   []citedChunk `json:"sources,omitempty"`
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	var req askRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	ans, err := h.tutor.Ask(r.Context(), tutor.AskRequest{
		StudentID: user.ID,
		SessionID: req.SessionID,
		SubjectID: req.SubjectID,
		ClassID:   req.ClassID,
		Query:     req.Query,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	resp := askResponse{
		SessionID: ans.SessionID,
		Answer:    ans.Turn.ResponseText,
		Grounded:  ans.Turn.Grounded,
		Level:     ans.Level,
		Label:     model.LevelLabel(ans.Level),
	}
	if !ans.Turn.Grounded {
		resp.Notice = appI18n.T(r.Context(), "UngroundedNotice")
	}
	for _, rc := range ans.Chunks {
		resp.Sources = append(resp.Sources, citedChunk{
			ID:      rc.Chunk.ID,
			ClassID: rc.Chunk.ClassID,
			Text:    rc.Chunk.Text,
			Score:   rc.Score,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sessions, err := h.store.ListTutorSessions(user.ID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type turnView struct {
	TurnIndex int     `json:"turn_index"`
	Query     string  `json:"query"`
	Answer    string  `json:"answer"`
	Grounded  bool    `json:"grounded"`
	Sources   []int64 `json:"sources,omitempty"`
}

func (h *Handler) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.store.GetTutorSession(sessionID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if sess == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.StudentID != user.ID {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	turns, err := h.store.ListTurns(sessionID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	views := make([]turnView, 0, len(turns))
	for _, t := range turns {
		views = append(views, turnView{
			TurnIndex: t.TurnIndex,
			Query:     t.QueryText,
			Answer:    t.ResponseText,
			Grounded:  t.Grounded,
			Sources:   t.RetrievedChunkIDs,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session": map[string]any{
			"id":         sess.ID,
			"class_id":   sess.ClassID,
			"subject_id": sess.SubjectID,
			"created_at": sess.CreatedAt,
		},
		"turns": views,
	})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	subjectID := chi.URLParam(r, "subjectID")

	p, err := h.store.GetOrCreateProfile(user.ID, subjectID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	areas, err := h.store.ListWeakAreas(user.ID, subjectID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	weak := make([]map[string]any, 0, len(areas))
	for _, a := range areas {
		weak = append(weak, map[string]any{
			"topic":      a.Topic,
			"miss_count": a.MissCount,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"subject_id":        p.SubjectID,
		"level":             p.Level,
		"level_label":       model.LevelLabel(p.Level),
		"window_count":      p.WindowCount,
		"rolling_score":     p.RollingScore,
		"last_evaluated_at": p.LastEvaluatedAt,
		"weak_areas":        weak,
	})
}
