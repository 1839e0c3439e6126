package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/unplugd/unplug/internal/domain"
	"github.com/unplugd/unplug/internal/identity"
	"github.com/unplugd/unplug/internal/lifecycle"
)

// SessionHandler handles challenge session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session, catalog, profile and ledger routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/templates", h.ListTemplates)
		r.Get("/profile", h.GetProfile)
		r.Get("/ledger", h.ListLedger)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/start", h.Start)
			r.Post("/activate", h.Activate)
			r.Post("/complete", h.Complete)
			r.Post("/fail", h.Fail)
			r.Post("/cancel", h.Cancel)
		})
	})
}

// sessionMetadataRequest is the client-supplied monitor report.
type sessionMetadataRequest struct {
	DurationSeconds int       `json:"duration_seconds"`
	Interruptions   int       `json:"interruptions"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Participants    int       `json:"participants,omitempty"`
}

func (m sessionMetadataRequest) input() lifecycle.CompletionInput {
	return lifecycle.CompletionInput{
		Report: domain.EngagementReport{
			DurationSeconds: m.DurationSeconds,
			Interruptions:   m.Interruptions,
			StartTime:       m.StartTime,
			EndTime:         m.EndTime,
		},
		Participants: m.Participants,
	}
}

type startRequest struct {
	TemplateID string `json:"template_id"`
	// Pointer so an explicit 0 is distinguishable from an absent field.
	CustomDurationMinutes *int `json:"custom_duration_minutes,omitempty"`
	Deferred              bool `json:"deferred,omitempty"`
}

// Start creates a new challenge session.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TemplateID == "" {
		Error(w, http.StatusBadRequest, "template_id required")
		return
	}

	sess, err := h.svc.Start(r.Context(), userID, req.TemplateID, req.CustomDurationMinutes, req.Deferred)
	if err != nil {
		DomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.SessionID,
		"status":     sess.Status,
		"started_at": sess.StartedAt,
	})
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// Activate starts the clock on a pending session.
func (h *SessionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id required")
		return
	}

	sess, err := h.svc.Activate(r.Context(), userID, req.SessionID)
	if err != nil {
		DomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.SessionID,
		"status":     sess.Status,
		"started_at": sess.StartedAt,
	})
}

type completeRequest struct {
	SessionID       string                 `json:"session_id"`
	SessionMetadata sessionMetadataRequest `json:"session_metadata"`
	ImageRef        string                 `json:"image_ref,omitempty"`
	Note            string                 `json:"note,omitempty"`
}

// Complete finishes an in-progress session and applies its reward.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id required")
		return
	}

	input := req.SessionMetadata.input()
	input.ImageRef = req.ImageRef
	input.Note = req.Note

	result, err := h.svc.Complete(r.Context(), userID, req.SessionID, input)
	if err != nil {
		DomainError(w, err)
		return
	}

	resp := map[string]interface{}{
		"session":      result.Session,
		"template":     result.Template,
		"coins_earned": result.Reward.CoinsEarned,
		"new_coins":    result.Reward.Coins,
		"new_streak":   result.Reward.Streak,
		"new_energy":   result.Reward.AvatarEnergy,
	}
	if result.FeedPost != nil {
		resp["feed_post"] = result.FeedPost
	}

	JSON(w, http.StatusOK, resp)
}

type failRequest struct {
	SessionID       string                 `json:"session_id"`
	Reason          string                 `json:"reason"`
	SessionMetadata sessionMetadataRequest `json:"session_metadata"`
}

// Fail marks an in-progress session as failed.
func (h *SessionHandler) Fail(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id required")
		return
	}
	if req.Reason == "" {
		req.Reason = "unspecified"
	}

	if err := h.svc.Fail(r.Context(), userID, req.SessionID, req.Reason, req.SessionMetadata.input()); err != nil {
		DomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Cancel aborts a pending or in-progress session.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id required")
		return
	}

	if err := h.svc.Cancel(r.Context(), userID, req.SessionID); err != nil {
		DomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListSessions returns the caller's session history, newest first.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.repo.ListSessions(r.Context(), userID)
	if err != nil {
		DomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// ListTemplates returns the active challenge catalog.
func (h *SessionHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.repo.ListActiveTemplates(r.Context())
	if err != nil {
		DomainError(w, err)
		return
	}
	if templates == nil {
		templates = []*domain.ChallengeTemplate{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{"templates": templates})
}

// GetProfile returns the caller's economy state.
func (h *SessionHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil {
		DomainError(w, err)
		return
	}
	if profile == nil {
		Error(w, http.StatusNotFound, "profile not found")
		return
	}

	JSON(w, http.StatusOK, profile)
}

// ListLedger returns the caller's transaction history, newest first.
func (h *SessionHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	entries, err := h.repo.ListLedgerEntries(r.Context(), userID)
	if err != nil {
		DomainError(w, err)
		return
	}
	if entries == nil {
		entries = []*domain.LedgerEntry{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// GetMe returns the current user's identity.
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"username": identity.UsernameFromContext(r.Context()),
	})
}
