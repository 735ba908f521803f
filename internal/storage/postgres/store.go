// Package postgres implements storage on a PostgreSQL database.
package postgres

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil/internal/auth"
	"vigil/internal/monitor/models"
	"vigil/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    password_hash BYTEA NOT NULL,
    password_salt BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
    hash BYTEA PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    expiry TIMESTAMPTZ NOT NULL,
    scope TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS websites (
    id BIGSERIAL PRIMARY KEY,
    url TEXT NOT NULL,
    alias TEXT NOT NULL UNIQUE,
    created_by BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL
);

-- website_id carries no foreign key so log history survives website
-- deletion.
CREATE TABLE IF NOT EXISTS logs (
    id BIGSERIAL PRIMARY KEY,
    website_id BIGINT NOT NULL,
    status INTEGER,
    error_message TEXT,
    latency_ms BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE (website_id, created_at)
);

CREATE INDEX IF NOT EXISTS idx_logs_website_created ON logs (website_id, created_at);

CREATE TABLE IF NOT EXISTS permissions (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_permissions (
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    website_id BIGINT NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
    permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
    PRIMARY KEY (user_id, website_id, permission_id)
);

INSERT INTO permissions (name, description) VALUES
    ('read', 'View a website, its logs and its stats'),
    ('create_modify', 'Create, update and delete a website')
ON CONFLICT (name) DO NOTHING;
`

// Store is a PostgreSQL-backed store for websites, logs, users and grants
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and creates the schema as needed
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateWebsite inserts a website and grants the creator read and
// create_modify in the same transaction
func (s *Store) CreateWebsite(ctx context.Context, website *models.Website) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO websites (url, alias, created_by, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (alias) DO NOTHING
		RETURNING id`,
		website.URL, website.Alias, website.CreatedBy, website.CreatedAt.UTC(),
	).Scan(&website.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrDuplicateAlias
		}
		return fmt.Errorf("failed to insert website: %w", err)
	}

	if website.CreatedBy != 0 {
		for _, permission := range []auth.Permission{auth.PermissionRead, auth.PermissionCreateModify} {
			_, err := tx.Exec(ctx, `
				INSERT INTO user_permissions (user_id, website_id, permission_id)
				SELECT $1, $2, id FROM permissions WHERE name = $3`,
				website.CreatedBy, website.ID, string(permission))
			if err != nil {
				return fmt.Errorf("failed to grant %s to creator: %w", permission, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetWebsiteByAlias looks a website up by its alias
func (s *Store) GetWebsiteByAlias(ctx context.Context, alias string) (*models.Website, error) {
	var website models.Website
	err := s.pool.QueryRow(ctx, `
		SELECT id, url, alias, created_by, created_at
		FROM websites
		WHERE alias = $1`, alias,
	).Scan(&website.ID, &website.URL, &website.Alias, &website.CreatedBy, &website.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get website: %w", err)
	}

	website.CreatedAt = website.CreatedAt.UTC()
	return &website, nil
}

// ListWebsites returns every registered website ordered by alias
func (s *Store) ListWebsites(ctx context.Context) ([]models.Website, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, alias, created_by, created_at
		FROM websites
		ORDER BY alias`)
	if err != nil {
		return nil, fmt.Errorf("failed to list websites: %w", err)
	}
	defer rows.Close()

	return scanWebsites(rows)
}

// ListWebsitesForUser returns the websites the user can read, ordered by
// alias
func (s *Store) ListWebsitesForUser(ctx context.Context, userID int) ([]models.Website, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT websites.id, websites.url, websites.alias, websites.created_by, websites.created_at
		FROM websites
		INNER JOIN user_permissions ON user_permissions.website_id = websites.id
		INNER JOIN permissions ON permissions.id = user_permissions.permission_id
		WHERE user_permissions.user_id = $1 AND permissions.name = $2
		ORDER BY websites.alias`, userID, string(auth.PermissionRead))
	if err != nil {
		return nil, fmt.Errorf("failed to list websites for user: %w", err)
	}
	defer rows.Close()

	return scanWebsites(rows)
}

func scanWebsites(rows pgx.Rows) ([]models.Website, error) {
	var websites []models.Website
	for rows.Next() {
		var website models.Website
		if err := rows.Scan(&website.ID, &website.URL, &website.Alias, &website.CreatedBy, &website.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan website: %w", err)
		}
		website.CreatedAt = website.CreatedAt.UTC()
		websites = append(websites, website)
	}
	return websites, rows.Err()
}

// UpdateWebsite updates the URL and alias of an existing website
func (s *Store) UpdateWebsite(ctx context.Context, website *models.Website) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE websites
		SET url = $1, alias = $2
		WHERE id = $3`,
		website.URL, website.Alias, website.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateAlias
		}
		return fmt.Errorf("failed to update website: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteWebsite removes a website. Grants on it cascade away, its log
// history stays.
func (s *Store) DeleteWebsite(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM websites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete website: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertLogEntry appends one probe outcome. The UNIQUE constraint on
// (website_id, created_at) makes retries and overlapping pollers
// idempotent per minute.
func (s *Store) InsertLogEntry(ctx context.Context, entry *models.LogEntry) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO logs (website_id, status, error_message, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (website_id, created_at) DO NOTHING`,
		entry.WebsiteID, entry.Status, entry.ErrorMessage, entry.LatencyMS, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateLog
	}
	return nil
}

// ListLogEntries returns the most recent log entries for a website,
// newest first
func (s *Store) ListLogEntries(ctx context.Context, websiteID, limit int) ([]models.LogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, website_id, status, error_message, latency_ms, created_at
		FROM logs
		WHERE website_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, websiteID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var entry models.LogEntry
		if err := rows.Scan(&entry.ID, &entry.WebsiteID, &entry.Status, &entry.ErrorMessage, &entry.LatencyMS, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// HourlyUptime aggregates uptime per hour over the last 24 hours,
// newest bucket first
func (s *Store) HourlyUptime(ctx context.Context, websiteID int) ([]models.UptimeBucket, error) {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	return s.uptimeBuckets(ctx, websiteID, "hour", cutoff, 24)
}

// DailyUptime aggregates uptime per day over the last 30 days,
// newest bucket first
func (s *Store) DailyUptime(ctx context.Context, websiteID int) ([]models.UptimeBucket, error) {
	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	return s.uptimeBuckets(ctx, websiteID, "day", cutoff, 30)
}

func (s *Store) uptimeBuckets(ctx context.Context, websiteID int, granularity string, cutoff time.Time, limit int) ([]models.UptimeBucket, error) {
	// Buckets are truncated in UTC so they line up regardless of the
	// server timezone.
	query := fmt.Sprintf(`
		SELECT date_trunc('%s', created_at AT TIME ZONE 'UTC') AS bucket,
		       CAST(COUNT(CASE WHEN status = 200 THEN 1 END) * 100 / COUNT(*) AS INTEGER) AS uptime_pct
		FROM logs
		WHERE website_id = $1 AND created_at >= $2
		GROUP BY bucket
		ORDER BY bucket DESC
		LIMIT $3`, granularity)

	rows, err := s.pool.Query(ctx, query, websiteID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query uptime buckets: %w", err)
	}
	defer rows.Close()

	var buckets []models.UptimeBucket
	for rows.Next() {
		var bucketTime time.Time
		var pct int
		if err := rows.Scan(&bucketTime, &pct); err != nil {
			return nil, fmt.Errorf("failed to scan uptime bucket: %w", err)
		}
		buckets = append(buckets, models.UptimeBucket{Time: bucketTime.UTC(), UptimePct: &pct})
	}
	return buckets, rows.Err()
}

// ListIncidents returns the most recent probe outcomes that were not a
// 200, newest first. Failed requests count with a NULL status.
func (s *Store) ListIncidents(ctx context.Context, websiteID, limit int) ([]models.Incident, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT created_at, status, error_message
		FROM logs
		WHERE website_id = $1 AND (status IS NULL OR status <> 200)
		ORDER BY created_at DESC
		LIMIT $2`, websiteID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		var incident models.Incident
		if err := rows.Scan(&incident.Time, &incident.Status, &incident.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incident.Time = incident.Time.UTC()
		incidents = append(incidents, incident)
	}
	return incidents, rows.Err()
}

// InsertUser inserts a user and fills in its ID
func (s *Store) InsertUser(ctx context.Context, user *auth.User) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, password_salt, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO NOTHING
		RETURNING id`,
		user.Username, user.Password.Hash, user.Password.Salt, user.CreatedAt.UTC(),
	).Scan(&user.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrDuplicateUsername
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByUsername looks a user up by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, password_salt, created_at
		FROM users
		WHERE username = $1`, username)
	return scanUser(row)
}

// GetUserForToken returns the user owning an unexpired token with the
// given scope and plaintext
func (s *Store) GetUserForToken(ctx context.Context, scope, tokenPlaintext string) (*auth.User, error) {
	hash := sha256.Sum256([]byte(tokenPlaintext))

	row := s.pool.QueryRow(ctx, `
		SELECT users.id, users.username, users.password_hash, users.password_salt, users.created_at
		FROM users
		INNER JOIN tokens ON tokens.user_id = users.id
		WHERE tokens.hash = $1 AND tokens.scope = $2 AND tokens.expiry > $3`,
		hash[:], scope, time.Now().UTC())
	return scanUser(row)
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var user auth.User
	err := row.Scan(&user.ID, &user.Username, &user.Password.Hash, &user.Password.Salt, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

// InsertToken stores a token
func (s *Store) InsertToken(ctx context.Context, token *auth.Token) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (hash, user_id, expiry, scope)
		VALUES ($1, $2, $3, $4)`,
		token.Hash, token.UserID, token.Expiry.UTC(), token.Scope)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// DeleteTokensForUser removes all tokens of one scope for a user
func (s *Store) DeleteTokensForUser(ctx context.Context, scope string, userID int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM tokens
		WHERE user_id = $1 AND scope = $2`, userID, scope)
	if err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	return nil
}

// Grant gives a user a permission on a website
func (s *Store) Grant(ctx context.Context, userID, websiteID int, permission auth.Permission) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO user_permissions (user_id, website_id, permission_id)
		SELECT $1, $2, id FROM permissions WHERE name = $3
		ON CONFLICT (user_id, website_id, permission_id) DO NOTHING`,
		userID, websiteID, string(permission))
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateGrant
	}
	return nil
}

// Revoke removes a grant
func (s *Store) Revoke(ctx context.Context, userID, websiteID int, permission auth.Permission) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM user_permissions
		WHERE user_id = $1
		  AND website_id = $2
		  AND permission_id = (SELECT id FROM permissions WHERE name = $3)`,
		userID, websiteID, string(permission))
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Allows reports whether the user holds the permission on the website.
// Only the exact (user, website, permission) triple matches.
func (s *Store) Allows(ctx context.Context, userID, websiteID int, permission auth.Permission) (bool, error) {
	var allowed bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM user_permissions
			INNER JOIN permissions ON permissions.id = user_permissions.permission_id
			WHERE user_permissions.user_id = $1
			  AND user_permissions.website_id = $2
			  AND permissions.name = $3
		)`, userID, websiteID, string(permission)).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return allowed, nil
}
