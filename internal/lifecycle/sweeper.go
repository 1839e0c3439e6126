package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/unplugd/unplug/internal/domain"
	"github.com/unplugd/unplug/internal/shared"
	"github.com/unplugd/unplug/internal/store"
)

// failSessionWithRetry attempts to fail a session with exponential backoff
// to handle SQLITE_BUSY errors.
func failSessionWithRetry(ctx context.Context, repo store.Repository, sessionID, reason string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := repo.FailSession(ctx, sessionID, reason, nil, time.Now())
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) {
			if i < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
				slog.Debug("Sweeper fail write hit SQLITE_BUSY, retrying",
					"session_id", sessionID,
					"attempt", i+1,
					"delay", delay)
				time.Sleep(delay)
				continue
			}
		}

		return err
	}

	return nil
}

// StartExpirySweeper runs a background goroutine that periodically fails
// in-progress sessions whose target duration plus grace has elapsed on the
// server clock. The client-reported timer stays advisory; this is the
// server-side backstop for abandoned sessions.
func StartExpirySweeper(ctx context.Context, repo store.Repository, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Expiry sweeper started", "interval", interval, "grace", grace)

		for {
			select {
			case <-ticker.C:
				sweepOverdueSessions(ctx, repo, grace)
			case <-ctx.Done():
				slog.Info("Expiry sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepOverdueSessions(ctx context.Context, repo store.Repository, grace time.Duration) {
	overdue, err := repo.ListOverdueSessions(ctx, time.Now(), grace)
	if err != nil {
		slog.Error("Sweeper failed to list overdue sessions", "error", err)
		return
	}

	if len(overdue) == 0 {
		return
	}

	slog.Info("Sweeper found overdue sessions", "count", len(overdue))

	failed := 0
	for _, sess := range overdue {
		err := failSessionWithRetry(ctx, repo, sess.SessionID, FailReasonExpired)
		if errors.Is(err, domain.ErrIllegalTransition) {
			// A user request reached a terminal state first; nothing to do.
			continue
		}
		if err != nil {
			slog.Warn("Sweeper failed to expire session",
				"error", err,
				"session_id", sess.SessionID,
				"user_id", sess.UserID)
			continue
		}
		failed++
	}

	slog.Info("Sweeper sweep completed", "expired", failed)
}
