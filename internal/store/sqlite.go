package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/unplugd/unplug/internal/domain"
	"github.com/unplugd/unplug/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS templates (
		template_id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reward_coins INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		template_id TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		failed_at INTEGER,
		fail_reason TEXT,
		metadata_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_status ON sessions(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at) WHERE status = 'in_progress';

	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		coins INTEGER NOT NULL DEFAULT 0,
		streak INTEGER NOT NULL DEFAULT 0,
		avatar_energy INTEGER NOT NULL DEFAULT 50,
		is_premium INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		entry_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		template_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_user ON ledger_entries(user_id, created_at);

	CREATE TABLE IF NOT EXISTS feed_posts (
		post_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		image_ref TEXT NOT NULL,
		note TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetTemplate retrieves a challenge template by id.
func (s *SQLiteStore) GetTemplate(ctx context.Context, templateID string) (*domain.ChallengeTemplate, error) {
	query := `
		SELECT template_id, type, title, description, reward_coins, duration_minutes, active
		FROM templates WHERE template_id = ?`

	row := s.db.QueryRowContext(ctx, query, templateID)

	var tmpl domain.ChallengeTemplate
	err := row.Scan(
		&tmpl.TemplateID, &tmpl.Type, &tmpl.Title, &tmpl.Description,
		&tmpl.RewardCoins, &tmpl.DurationMinutes, &tmpl.Active,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan template row: %w", err)
	}

	return &tmpl, nil
}

// ListActiveTemplates retrieves the active challenge catalog.
func (s *SQLiteStore) ListActiveTemplates(ctx context.Context) ([]*domain.ChallengeTemplate, error) {
	query := `
		SELECT template_id, type, title, description, reward_coins, duration_minutes, active
		FROM templates WHERE active = 1 ORDER BY template_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active templates: %w", err)
	}
	defer closeRows(rows, "active templates")

	var templates []*domain.ChallengeTemplate
	for rows.Next() {
		var tmpl domain.ChallengeTemplate
		if err := rows.Scan(
			&tmpl.TemplateID, &tmpl.Type, &tmpl.Title, &tmpl.Description,
			&tmpl.RewardCoins, &tmpl.DurationMinutes, &tmpl.Active,
		); err != nil {
			return nil, fmt.Errorf("scan template row: %w", err)
		}
		templates = append(templates, &tmpl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}

	return templates, nil
}

// UpsertTemplate creates or updates a catalog entry.
func (s *SQLiteStore) UpsertTemplate(ctx context.Context, tmpl *domain.ChallengeTemplate) error {
	query := `
	INSERT INTO templates (template_id, type, title, description, reward_coins, duration_minutes, active)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(template_id) DO UPDATE SET
		type = excluded.type,
		title = excluded.title,
		description = excluded.description,
		reward_coins = excluded.reward_coins,
		duration_minutes = excluded.duration_minutes,
		active = excluded.active`

	_, err := s.db.ExecContext(ctx, query,
		tmpl.TemplateID, tmpl.Type, tmpl.Title, tmpl.Description,
		tmpl.RewardCoins, tmpl.DurationMinutes, tmpl.Active,
	)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	metadataJSON, err := domain.EncodeMetadata(sess.Metadata)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO sessions (
		session_id, user_id, template_id, status, duration_minutes,
		started_at, completed_at, failed_at, fail_reason, metadata_json,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		sess.SessionID, sess.UserID, sess.TemplateID, sess.Status, sess.DurationMinutes,
		unixOrNil(sess.StartedAt), unixOrNil(sess.CompletedAt), unixOrNil(sess.FailedAt),
		nullableString(sess.FailReason), nullableBytes(metadataJSON),
		sess.CreatedAt.Unix(), sess.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, user_id, template_id, status, duration_minutes,
	started_at, completed_at, failed_at, fail_reason, metadata_json, created_at, updated_at`

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// ListSessions retrieves a user's sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = ? ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "sessions")

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// CountActiveSessions counts a user's pending and in-progress sessions.
func (s *SQLiteStore) CountActiveSessions(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE user_id = ? AND status IN (?, ?)`

	var count int
	err := s.db.QueryRowContext(ctx, query, userID, domain.StatusPending, domain.StatusInProgress).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return count, nil
}

// ActivateSession flips pending -> in_progress and stamps started_at.
func (s *SQLiteStore) ActivateSession(ctx context.Context, sessionID string, startedAt time.Time) error {
	query := `
	UPDATE sessions SET status = ?, started_at = ?, updated_at = ?
	WHERE session_id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, query,
		domain.StatusInProgress, startedAt.Unix(), startedAt.Unix(),
		sessionID, domain.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("activate session: %w", err)
	}
	return requireTransition(result, sessionID, domain.StatusInProgress)
}

// FailSession flips in_progress -> failed and records the reason and metadata.
func (s *SQLiteStore) FailSession(ctx context.Context, sessionID, reason string, meta domain.SessionMetadata, failedAt time.Time) error {
	metadataJSON, err := domain.EncodeMetadata(meta)
	if err != nil {
		return err
	}

	query := `
	UPDATE sessions SET status = ?, failed_at = ?, fail_reason = ?,
		metadata_json = COALESCE(?, metadata_json), updated_at = ?
	WHERE session_id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, query,
		domain.StatusFailed, failedAt.Unix(), reason,
		nullableBytes(metadataJSON), failedAt.Unix(),
		sessionID, domain.StatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("fail session: %w", err)
	}
	return requireTransition(result, sessionID, domain.StatusFailed)
}

// CancelSession flips pending or in_progress -> canceled.
func (s *SQLiteStore) CancelSession(ctx context.Context, sessionID string, canceledAt time.Time) error {
	query := `
	UPDATE sessions SET status = ?, updated_at = ?
	WHERE session_id = ? AND status IN (?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		domain.StatusCanceled, canceledAt.Unix(),
		sessionID, domain.StatusPending, domain.StatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("cancel session: %w", err)
	}
	return requireTransition(result, sessionID, domain.StatusCanceled)
}

// CompleteAndReward performs the completion transition and the reward
// application in a single transaction. The conditional UPDATE on the session
// row is the status guard: zero rows affected means a concurrent writer won
// the first-terminal-write race and the whole unit rolls back.
// Retries with exponential backoff on SQLITE_BUSY so contending writers
// observe the status guard rather than a transient lock error.
func (s *SQLiteStore) CompleteAndReward(ctx context.Context, params CompletionParams) (*RewardOutcome, error) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var outcome *RewardOutcome
	var err error
	for i := 0; i < maxRetries; i++ {
		outcome, err = s.completeAndRewardOnce(ctx, params)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return outcome, err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("Completion tx hit SQLITE_BUSY, retrying",
				"session_id", params.SessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
		}
	}
	return outcome, err
}

func (s *SQLiteStore) completeAndRewardOnce(ctx context.Context, params CompletionParams) (*RewardOutcome, error) {
	metadataJSON, err := domain.EncodeMetadata(params.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin completion tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := params.CompletedAt.Unix()

	result, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, completed_at = ?,
			metadata_json = COALESCE(?, metadata_json), updated_at = ?
		WHERE session_id = ? AND status = ?`,
		domain.StatusCompleted, now, nullableBytes(metadataJSON), now,
		params.SessionID, domain.StatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if err := requireTransition(result, params.SessionID, domain.StatusCompleted); err != nil {
		return nil, err
	}

	var coins, streak int64
	var energy int
	err = tx.QueryRowContext(ctx,
		`SELECT coins, streak, avatar_energy FROM profiles WHERE user_id = ?`,
		params.UserID,
	).Scan(&coins, &streak, &energy)
	if err != nil {
		return nil, fmt.Errorf("read profile for reward: %w", err)
	}

	newCoins := coins + params.Template.RewardCoins
	newStreak := streak + 1
	newEnergy := domain.NextEnergy(energy, params.Template.Type)

	_, err = tx.ExecContext(ctx, `
		UPDATE profiles SET coins = ?, streak = ?, avatar_energy = ?, updated_at = ?
		WHERE user_id = ?`,
		newCoins, newStreak, newEnergy, now, params.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("apply reward to profile: %w", err)
	}

	entry := &domain.LedgerEntry{
		EntryID:     uuid.NewString(),
		UserID:      params.UserID,
		Amount:      params.Template.RewardCoins,
		Kind:        domain.EntryEarn,
		Description: fmt.Sprintf("Completed challenge: %s", params.Template.Title),
		TemplateID:  params.Template.TemplateID,
		CreatedAt:   params.CompletedAt,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (entry_id, user_id, amount, kind, description, template_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.EntryID, entry.UserID, entry.Amount, entry.Kind,
		entry.Description, nullableString(entry.TemplateID), now,
	)
	if err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit completion tx: %w", err)
	}

	return &RewardOutcome{
		CoinsEarned:  params.Template.RewardCoins,
		Coins:        newCoins,
		Streak:       newStreak,
		AvatarEnergy: newEnergy,
		Entry:        entry,
	}, nil
}

// GetProfile retrieves a user's profile.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	query := `
		SELECT user_id, coins, streak, avatar_energy, is_premium, created_at, updated_at
		FROM profiles WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var profile domain.Profile
	var createdAt, updatedAt int64

	err := row.Scan(
		&profile.UserID, &profile.Coins, &profile.Streak,
		&profile.AvatarEnergy, &profile.IsPremium, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	profile.CreatedAt = time.Unix(createdAt, 0)
	profile.UpdatedAt = time.Unix(updatedAt, 0)

	return &profile, nil
}

// EnsureProfile creates a default profile for the user if none exists.
func (s *SQLiteStore) EnsureProfile(ctx context.Context, userID string) error {
	now := time.Now().Unix()
	query := `
	INSERT INTO profiles (user_id, coins, streak, avatar_energy, is_premium, created_at, updated_at)
	VALUES (?, 0, 0, ?, 0, ?, ?)
	ON CONFLICT(user_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query, userID, domain.DefaultAvatarEnergy, now, now)
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

// SetPremium updates only the premium flag.
func (s *SQLiteStore) SetPremium(ctx context.Context, userID string, premium bool) error {
	query := `UPDATE profiles SET is_premium = ?, updated_at = ? WHERE user_id = ?`

	result, err := s.db.ExecContext(ctx, query, premium, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("set premium flag: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListLedgerEntries retrieves a user's transactions, newest first.
func (s *SQLiteStore) ListLedgerEntries(ctx context.Context, userID string) ([]*domain.LedgerEntry, error) {
	query := `
		SELECT entry_id, user_id, amount, kind, description, template_id, created_at
		FROM ledger_entries WHERE user_id = ? ORDER BY created_at DESC, entry_id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer closeRows(rows, "ledger entries")

	var entries []*domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		var templateID sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&entry.EntryID, &entry.UserID, &entry.Amount, &entry.Kind,
			&entry.Description, &templateID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}

		entry.TemplateID = templateID.String
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}

	return entries, nil
}

// CreateFeedPost inserts a feed post.
func (s *SQLiteStore) CreateFeedPost(ctx context.Context, post *domain.FeedPost) error {
	query := `
	INSERT INTO feed_posts (post_id, user_id, session_id, image_ref, note, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		post.PostID, post.UserID, post.SessionID, post.ImageRef, post.Note,
		post.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert feed post: %w", err)
	}
	return nil
}

// ListOverdueSessions retrieves in-progress sessions whose target duration
// plus grace elapsed before now.
func (s *SQLiteStore) ListOverdueSessions(ctx context.Context, now time.Time, grace time.Duration) ([]*domain.Session, error) {
	threshold := now.Add(-grace).Unix()
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = ? AND started_at IS NOT NULL
		AND started_at + duration_minutes * 60 < ?`

	rows, err := s.db.QueryContext(ctx, query, domain.StatusInProgress, threshold)
	if err != nil {
		return nil, fmt.Errorf("query overdue sessions: %w", err)
	}
	defer closeRows(rows, "overdue sessions")

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan overdue session row: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overdue sessions: %w", err)
	}

	return sessions, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanSession.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var startedAt, completedAt, failedAt sql.NullInt64
	var failReason, metadataJSON sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&sess.SessionID, &sess.UserID, &sess.TemplateID, &sess.Status,
		&sess.DurationMinutes, &startedAt, &completedAt, &failedAt,
		&failReason, &metadataJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.StartedAt = timeOrNil(startedAt)
	sess.CompletedAt = timeOrNil(completedAt)
	sess.FailedAt = timeOrNil(failedAt)
	sess.FailReason = failReason.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)

	if metadataJSON.Valid {
		meta, err := domain.DecodeMetadata([]byte(metadataJSON.String))
		if err != nil {
			return nil, err
		}
		sess.Metadata = meta
	}

	return &sess, nil
}

// requireTransition converts a zero-rows-affected conditional update into
// ErrIllegalTransition. First terminal write wins; losers must not overwrite.
func requireTransition(result sql.Result, sessionID string, to domain.SessionStatus) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Debug("Session transition guard rejected write",
			"session_id", sessionID, "to", to)
		return domain.ErrIllegalTransition
	}
	return nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "what", what, "error", err)
	}
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
