package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/lunahub/agent-gateway/internal/db"
	"github.com/lunahub/agent-gateway/internal/db/models"
	"github.com/lunahub/agent-gateway/internal/proxy/middleware"
)

var feedbackTypes = map[string]bool{"suggestion": true, "bug": true, "question": true}

var feedbackStatuses = map[string]bool{
	models.FeedbackPending:  true,
	models.FeedbackRead:     true,
	models.FeedbackResolved: true,
}

type feedbackRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Contact string `json:"contact"`
	PageURL string `json:"page_url"`
}

type feedbackStatusRequest struct {
	Status string `json:"status"`
}

// SubmitFeedbackHandler stores feedback from the signed-in user.
func SubmitFeedbackHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feedbackRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		content := strings.TrimSpace(req.Content)
		if content == "" {
			writeError(w, http.StatusBadRequest, "feedback content must not be empty")
			return
		}
		kind := strings.TrimSpace(req.Type)
		if kind == "" {
			kind = "suggestion"
		}
		if !feedbackTypes[kind] {
			writeError(w, http.StatusBadRequest, "type must be suggestion, bug or question")
			return
		}

		user := middleware.UserFromContext(r.Context())
		fb := &models.Feedback{
			UserID:  &user.ID,
			Type:    kind,
			Content: content,
			Contact: strings.TrimSpace(req.Contact),
			PageURL: strings.TrimSpace(req.PageURL),
		}
		if err := store.CreateFeedback(r.Context(), fb); err != nil {
			internalError(w, r, err, "failed to store feedback")
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: "thanks for your feedback"})
	}
}

// AdminListFeedbackHandler lists feedback, optionally filtered by ?status=.
func AdminListFeedbackHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status != "" && !feedbackStatuses[status] {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		rows, err := store.ListFeedback(r.Context(), status)
		if err != nil {
			internalError(w, r, err, "failed to list feedback")
			return
		}
		if rows == nil {
			rows = []models.FeedbackView{}
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

// AdminUpdateFeedbackHandler moves feedback to a new triage state.
func AdminUpdateFeedbackHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req feedbackStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !feedbackStatuses[req.Status] {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		err := store.UpdateFeedbackStatus(r.Context(), id, req.Status)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "feedback not found")
			return
		}
		if err != nil {
			internalError(w, r, err, "failed to update feedback")
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: "status updated"})
	}
}
