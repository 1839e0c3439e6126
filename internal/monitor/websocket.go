package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/unplugd/unplug/internal/domain"
	"github.com/unplugd/unplug/internal/identity"
	"github.com/unplugd/unplug/internal/lifecycle"
	"github.com/unplugd/unplug/internal/store"
)

// GatewayHandler accepts a monitor connection per in-progress session and
// drives its countdown from client-reported tick and visibility events. On a
// terminal event it hands the accumulated engagement report to the lifecycle
// manager; it never touches the ledger directly.
type GatewayHandler struct {
	repo          store.Repository
	svc           *lifecycle.Service
	reg           *Registry
	allowedOrigin string
	isDev         bool
	now           func() time.Time
}

// NewGatewayHandler creates a monitor gateway.
func NewGatewayHandler(repo store.Repository, svc *lifecycle.Service, reg *Registry, allowedOrigin string, isDev bool) *GatewayHandler {
	return &GatewayHandler{
		repo:          repo,
		svc:           svc,
		reg:           reg,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		now:           time.Now,
	}
}

// monitorMessage is a client-to-server monitor event.
type monitorMessage struct {
	Type   string `json:"type"`
	Hidden bool   `json:"hidden,omitempty"`
}

// monitorResult is the server-to-client terminal outcome.
type monitorResult struct {
	Type            string `json:"type"`
	Reason          string `json:"reason,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
	Interruptions   int    `json:"interruptions"`
	CoinsEarned     int64  `json:"coins_earned,omitempty"`
	NewCoins        int64  `json:"new_coins,omitempty"`
	NewStreak       int64  `json:"new_streak,omitempty"`
	NewEnergy       int    `json:"new_energy,omitempty"`
}

// ServeHTTP implements http.Handler for the monitor WebSocket upgrade.
func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sess, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if sess.UserID != userID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if sess.Status != domain.StatusInProgress {
		http.Error(w, "session not in progress", http.StatusConflict)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept monitor WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "monitor ended"); closeErr != nil {
			slog.Debug("Failed to close monitor websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.reg.Register(userID, sessionID, ws)
	defer h.reg.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// An already-running session resumes mid-countdown; the timer only
	// measures engagement observed over this connection.
	timer := NewTimer(sess.TargetDuration(), h.now())
	h.eventLoop(ctx, ws, timer, userID, sessionID)
}

func (h *GatewayHandler) eventLoop(ctx context.Context, ws *websocket.Conn, timer *Timer, userID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Monitor WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("Monitor WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg monitorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("Dropping malformed monitor message", "user_id", userID)
			continue
		}

		now := h.now()
		var ev Event
		var terminal bool

		switch msg.Type {
		case "tick":
			ev, terminal = timer.Tick(now)
		case "visibility":
			if msg.Hidden {
				ev, terminal = timer.Hide(now)
			}
		case "ping":
			if err := h.writeJSON(ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			slog.Debug("Unknown monitor message type", "type", msg.Type, "user_id", userID)
		}

		if !terminal {
			continue
		}

		h.finish(ctx, ws, ev, userID, sessionID)
		return
	}
}

// finish hands the terminal event to the lifecycle manager and reports the
// outcome to the client.
func (h *GatewayHandler) finish(ctx context.Context, ws *websocket.Conn, ev Event, userID, sessionID string) {
	input := lifecycle.CompletionInput{Report: ev.Report}

	switch ev.Type {
	case EventComplete:
		result, err := h.svc.Complete(ctx, userID, sessionID, input)
		if err != nil {
			h.reportError(ws, err, userID, sessionID)
			return
		}
		if err := h.writeJSON(ws, monitorResult{
			Type:            "completed",
			DurationSeconds: ev.Report.DurationSeconds,
			Interruptions:   ev.Report.Interruptions,
			CoinsEarned:     result.Reward.CoinsEarned,
			NewCoins:        result.Reward.Coins,
			NewStreak:       result.Reward.Streak,
			NewEnergy:       result.Reward.AvatarEnergy,
		}); err != nil {
			slog.Debug("Failed to send completion result", "error", err, "user_id", userID)
		}

	case EventFail:
		if err := h.svc.Fail(ctx, userID, sessionID, ev.Reason, input); err != nil {
			h.reportError(ws, err, userID, sessionID)
			return
		}
		if err := h.writeJSON(ws, monitorResult{
			Type:            "failed",
			Reason:          ev.Reason,
			DurationSeconds: ev.Report.DurationSeconds,
			Interruptions:   ev.Report.Interruptions,
		}); err != nil {
			slog.Debug("Failed to send failure result", "error", err, "user_id", userID)
		}
	}
}

func (h *GatewayHandler) reportError(ws *websocket.Conn, err error, userID, sessionID string) {
	if errors.Is(err, domain.ErrIllegalTransition) {
		// Another writer reached a terminal state first.
		slog.Info("Monitor lost terminal-write race", "user_id", userID, "session_id", sessionID)
	} else {
		slog.Error("Monitor failed to finish session",
			"error", err, "user_id", userID, "session_id", sessionID)
	}
	if werr := h.writeJSON(ws, map[string]string{"type": "error", "error": "session could not be finished"}); werr != nil {
		slog.Debug("Failed to send monitor error", "error", werr, "user_id", userID)
	}
}

func (h *GatewayHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Monitor WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *GatewayHandler) writeJSON(ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(context.Background(), websocket.MessageText, data)
}
