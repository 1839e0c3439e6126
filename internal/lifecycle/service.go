// Package lifecycle enforces the challenge session state machine and hands
// successful completions to the reward ledger.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/unplugd/unplug/internal/config"
	"github.com/unplugd/unplug/internal/domain"
	"github.com/unplugd/unplug/internal/store"
)

// FailReasonHidden is the failure reason recorded when the monitor detects
// loss of foreground engagement.
const FailReasonHidden = "context hidden/minimized"

// FailReasonExpired is the failure reason recorded by the expiry sweeper.
const FailReasonExpired = "session expired"

// Service is the session lifecycle manager. All status transitions go
// through it; the store's conditional updates make the first terminal write
// win under concurrency.
type Service struct {
	repo store.Repository
	cfg  *config.Config
	now  func() time.Time
}

// NewService creates a lifecycle service.
func NewService(repo store.Repository, cfg *config.Config) *Service {
	return &Service{repo: repo, cfg: cfg, now: time.Now}
}

// CompletionInput carries the client-supplied payload of a Complete or Fail
// call. Report values are monitor-observed and advisory.
type CompletionInput struct {
	Report       domain.EngagementReport
	Participants int
	ImageRef     string
	Note         string
}

// CompletionResult is the outcome of a successful Complete call.
type CompletionResult struct {
	Session  *domain.Session
	Template *domain.ChallengeTemplate
	Reward   *store.RewardOutcome
	FeedPost *domain.FeedPost
}

// Start creates a session for the given template. Focus templates accept a
// caller-supplied duration override within the configured bounds; nil means
// no override, a supplied out-of-range value (including 0) is rejected. With
// deferred set the session is created pending (template selected, timer not
// yet running); otherwise it starts in progress immediately.
func (s *Service) Start(ctx context.Context, userID, templateID string, customMinutes *int, deferred bool) (*domain.Session, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}

	tmpl, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil || !tmpl.Active {
		return nil, domain.ErrNotFound
	}

	duration := tmpl.DurationMinutes
	if tmpl.Type == domain.ChallengeFocus && customMinutes != nil {
		if *customMinutes < s.cfg.MinFocusMinutes || *customMinutes > s.cfg.MaxFocusMinutes {
			return nil, fmt.Errorf("%w: %d minutes outside [%d, %d]",
				domain.ErrInvalidDuration, *customMinutes, s.cfg.MinFocusMinutes, s.cfg.MaxFocusMinutes)
		}
		duration = *customMinutes
	}

	if err := s.checkActiveLimit(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now()
	sess := &domain.Session{
		SessionID:       uuid.NewString(),
		UserID:          userID,
		TemplateID:      tmpl.TemplateID,
		Status:          domain.StatusInProgress,
		DurationMinutes: duration,
		StartedAt:       &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if deferred {
		sess.Status = domain.StatusPending
		sess.StartedAt = nil
	}

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	slog.Info("Session started",
		"session_id", sess.SessionID,
		"user_id", userID,
		"template_id", tmpl.TemplateID,
		"status", sess.Status,
		"duration_minutes", duration)

	return sess, nil
}

// Activate moves a pending session to in progress and starts its clock.
func (s *Service) Activate(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	sess, err := s.authorize(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ActivateSession(ctx, sess.SessionID, s.now()); err != nil {
		return nil, err
	}

	return s.repo.GetSession(ctx, sessionID)
}

// Complete finishes an in-progress session and applies its reward. The
// status transition and the ledger effects commit or roll back together; a
// session that loses the terminal-write race observes ErrIllegalTransition
// and no economic side effects. A feed post is created only when both an
// image ref and a note are supplied, strictly best-effort after the reward
// has committed.
func (s *Service) Complete(ctx context.Context, userID, sessionID string, input CompletionInput) (*CompletionResult, error) {
	sess, err := s.authorize(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.repo.GetTemplate(ctx, sess.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("session %s references unknown template %s", sessionID, sess.TemplateID)
	}

	meta, err := s.buildMetadata(tmpl.Type, sess, input)
	if err != nil {
		return nil, err
	}

	now := s.now()
	outcome, err := s.repo.CompleteAndReward(ctx, store.CompletionParams{
		SessionID:   sess.SessionID,
		UserID:      userID,
		Template:    tmpl,
		Metadata:    meta,
		CompletedAt: now,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Session completed",
		"session_id", sess.SessionID,
		"user_id", userID,
		"coins_earned", outcome.CoinsEarned,
		"new_streak", outcome.Streak)

	updated, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &CompletionResult{
		Session:  updated,
		Template: tmpl,
		Reward:   outcome,
	}

	if input.ImageRef != "" && input.Note != "" {
		post := &domain.FeedPost{
			PostID:    uuid.NewString(),
			UserID:    userID,
			SessionID: sess.SessionID,
			ImageRef:  input.ImageRef,
			Note:      input.Note,
			CreatedAt: now,
		}
		if err := s.repo.CreateFeedPost(ctx, post); err != nil {
			// The reward has committed; a lost share must not undo it.
			slog.Warn("Failed to create feed post",
				"error", err,
				"session_id", sess.SessionID,
				"user_id", userID)
		} else {
			result.FeedPost = post
		}
	}

	return result, nil
}

// Fail marks an in-progress session failed with a reason. No reward.
func (s *Service) Fail(ctx context.Context, userID, sessionID, reason string, input CompletionInput) error {
	sess, err := s.authorize(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	tmpl, err := s.repo.GetTemplate(ctx, sess.TemplateID)
	if err != nil {
		return err
	}

	var meta domain.SessionMetadata
	if tmpl != nil {
		meta, err = s.buildMetadata(tmpl.Type, sess, input)
		if err != nil {
			return err
		}
	}

	if err := s.repo.FailSession(ctx, sess.SessionID, reason, meta, s.now()); err != nil {
		return err
	}

	slog.Info("Session failed",
		"session_id", sess.SessionID,
		"user_id", userID,
		"reason", reason)
	return nil
}

// Cancel aborts a pending or in-progress session. No reward, no metadata.
func (s *Service) Cancel(ctx context.Context, userID, sessionID string) error {
	sess, err := s.authorize(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	if err := s.repo.CancelSession(ctx, sess.SessionID, s.now()); err != nil {
		return err
	}

	slog.Info("Session canceled", "session_id", sess.SessionID, "user_id", userID)
	return nil
}

// authorize resolves a session and checks ownership. NotFound and Forbidden
// stay distinct: the first means the id does not resolve, the second that it
// resolves to another owner.
func (s *Service) authorize(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.ErrNotFound
	}
	if sess.UserID != userID {
		// Possible probing of other users' sessions.
		slog.Warn("Session ownership check failed",
			"session_id", sessionID,
			"owner_id", sess.UserID,
			"caller_id", userID)
		return nil, domain.ErrForbidden
	}
	return sess, nil
}

func (s *Service) checkActiveLimit(ctx context.Context, userID string) error {
	limit := s.cfg.FreeActiveSessionLimit
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if profile != nil && profile.IsPremium {
		limit = s.cfg.PremiumActiveSessionLimit
	}

	count, err := s.repo.CountActiveSessions(ctx, userID)
	if err != nil {
		return err
	}
	if count >= limit {
		return fmt.Errorf("%w: %d active of %d allowed", domain.ErrSessionLimit, count, limit)
	}
	return nil
}

func (s *Service) buildMetadata(t domain.ChallengeType, sess *domain.Session, input CompletionInput) (domain.SessionMetadata, error) {
	meta, err := domain.NewMetadata(t, input.Report)
	if err != nil {
		return nil, err
	}
	switch m := meta.(type) {
	case *domain.FocusMetadata:
		m.TargetSeconds = int(sess.TargetDuration().Seconds())
	case *domain.SocialMetadata:
		m.Participants = input.Participants
	}
	return meta, nil
}
