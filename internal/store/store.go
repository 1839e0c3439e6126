// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/unplugd/unplug/internal/domain"
)

// CompletionParams carries everything the store needs to complete a session
// and apply its reward as one atomic unit.
type CompletionParams struct {
	SessionID   string
	UserID      string
	Template    *domain.ChallengeTemplate
	Metadata    domain.SessionMetadata
	CompletedAt time.Time
}

// RewardOutcome is the post-commit economy state after a completion.
type RewardOutcome struct {
	CoinsEarned  int64
	Coins        int64
	Streak       int64
	AvatarEnergy int
	Entry        *domain.LedgerEntry
}

// Repository defines the interface for persisting challenge sessions,
// profiles and the reward ledger.
type Repository interface {
	// GetTemplate retrieves a challenge template by id. Returns nil when
	// the id does not resolve.
	GetTemplate(ctx context.Context, templateID string) (*domain.ChallengeTemplate, error)

	// ListActiveTemplates retrieves the active challenge catalog.
	ListActiveTemplates(ctx context.Context) ([]*domain.ChallengeTemplate, error)

	// UpsertTemplate creates or updates a catalog entry. Catalog
	// collaborator surface; also used for seeding.
	UpsertTemplate(ctx context.Context, tmpl *domain.ChallengeTemplate) error

	// CreateSession inserts a new session row.
	CreateSession(ctx context.Context, sess *domain.Session) error

	// GetSession retrieves a session by id. Returns nil when the id does
	// not resolve.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions retrieves a user's sessions, newest first.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// CountActiveSessions counts a user's pending and in-progress sessions.
	CountActiveSessions(ctx context.Context, userID string) (int, error)

	// ActivateSession flips pending -> in_progress and stamps started_at.
	// Returns domain.ErrIllegalTransition if the session is not pending.
	ActivateSession(ctx context.Context, sessionID string, startedAt time.Time) error

	// FailSession flips in_progress -> failed and records the reason and
	// metadata. Returns domain.ErrIllegalTransition if the session is not
	// in progress.
	FailSession(ctx context.Context, sessionID, reason string, meta domain.SessionMetadata, failedAt time.Time) error

	// CancelSession flips pending or in_progress -> canceled. Returns
	// domain.ErrIllegalTransition from any other state.
	CancelSession(ctx context.Context, sessionID string, canceledAt time.Time) error

	// CompleteAndReward performs the completion transition and the reward
	// application in a single transaction: status in_progress -> completed,
	// coins += reward, streak += 1, avatar energy recomputed, one ledger
	// entry appended. The conditional status update is the guard; a losing
	// concurrent writer gets domain.ErrIllegalTransition and no ledger
	// side effects. Any sub-step failure rolls back the whole unit.
	CompleteAndReward(ctx context.Context, params CompletionParams) (*RewardOutcome, error)

	// GetProfile retrieves a user's profile. Returns nil when absent.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// EnsureProfile creates a default profile for the user if none exists.
	EnsureProfile(ctx context.Context, userID string) error

	// SetPremium updates only the premium flag. Billing collaborator
	// surface; never touches coins, streak or energy.
	SetPremium(ctx context.Context, userID string, premium bool) error

	// ListLedgerEntries retrieves a user's transactions, newest first.
	ListLedgerEntries(ctx context.Context, userID string) ([]*domain.LedgerEntry, error)

	// CreateFeedPost inserts a feed post. Best-effort follow-up to a
	// completion; never part of the reward transaction.
	CreateFeedPost(ctx context.Context, post *domain.FeedPost) error

	// ListOverdueSessions retrieves in-progress sessions whose target
	// duration plus grace elapsed before the given instant.
	ListOverdueSessions(ctx context.Context, now time.Time, grace time.Duration) ([]*domain.Session, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
