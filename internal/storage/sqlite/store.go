// Package sqlite implements storage on a local SQLite database.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vigil/internal/auth"
	"vigil/internal/monitor/models"
	"vigil/internal/storage"
)

// Timestamps are stored as RFC 3339 UTC strings. The fixed width keeps
// lexicographic comparison in SQL consistent with chronological order.
const timeLayout = time.RFC3339

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    password_hash BLOB NOT NULL,
    password_salt BLOB NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
    hash BLOB PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    expiry TEXT NOT NULL,
    scope TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS websites (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL,
    alias TEXT NOT NULL UNIQUE,
    created_by INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

-- website_id carries no foreign key so log history survives website
-- deletion.
CREATE TABLE IF NOT EXISTS logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    website_id INTEGER NOT NULL,
    status INTEGER,
    error_message TEXT,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    UNIQUE (website_id, created_at)
);

CREATE INDEX IF NOT EXISTS idx_logs_website_created ON logs (website_id, created_at);

CREATE TABLE IF NOT EXISTS permissions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_permissions (
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    website_id INTEGER NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
    permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
    PRIMARY KEY (user_id, website_id, permission_id)
);

INSERT OR IGNORE INTO permissions (name, description) VALUES
    ('read', 'View a website, its logs and its stats'),
    ('create_modify', 'Create, update and delete a website');
`

// Store is a SQLite-backed store for websites, logs, users and grants
type Store struct {
	db *sql.DB
}

// New opens the database at path, creating it and the schema as needed
func New(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(timeLayout, value)
}

// CreateWebsite inserts a website and grants the creator read and
// create_modify in the same transaction
func (s *Store) CreateWebsite(ctx context.Context, website *models.Website) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO websites (url, alias, created_by, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (alias) DO NOTHING
		RETURNING id`,
		website.URL, website.Alias, website.CreatedBy, formatTime(website.CreatedAt),
	).Scan(&website.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrDuplicateAlias
		}
		return fmt.Errorf("failed to insert website: %w", err)
	}

	if website.CreatedBy != 0 {
		for _, permission := range []auth.Permission{auth.PermissionRead, auth.PermissionCreateModify} {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO user_permissions (user_id, website_id, permission_id)
				SELECT ?, ?, id FROM permissions WHERE name = ?`,
				website.CreatedBy, website.ID, string(permission))
			if err != nil {
				return fmt.Errorf("failed to grant %s to creator: %w", permission, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetWebsiteByAlias looks a website up by its alias
func (s *Store) GetWebsiteByAlias(ctx context.Context, alias string) (*models.Website, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, alias, created_by, created_at
		FROM websites
		WHERE alias = ?`, alias)

	var website models.Website
	var createdAt string
	err := row.Scan(&website.ID, &website.URL, &website.Alias, &website.CreatedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get website: %w", err)
	}

	website.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &website, nil
}

// ListWebsites returns every registered website ordered by alias
func (s *Store) ListWebsites(ctx context.Context) ([]models.Website, error) {
	rows, err := s.db.QueryContext(ctx, `
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT websites.id, websites.url, websites.alias, websites.created_by, websites.created_at
		FROM websites
		INNER JOIN user_permissions ON user_permissions.website_id = websites.id
		INNER JOIN permissions ON permissions.id = user_permissions.permission_id
		WHERE user_permissions.user_id = ? AND permissions.name = ?
		ORDER BY websites.alias`, userID, string(auth.PermissionRead))
	if err != nil {
		return nil, fmt.Errorf("failed to list websites for user: %w", err)
	}
	defer rows.Close()

	return scanWebsites(rows)
}

func scanWebsites(rows *sql.Rows) ([]models.Website, error) {
	var websites []models.Website
	for rows.Next() {
		var website models.Website
		var createdAt string
		if err := rows.Scan(&website.ID, &website.URL, &website.Alias, &website.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan website: %w", err)
		}
		parsed, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		website.CreatedAt = parsed
		websites = append(websites, website)
	}
	return websites, rows.Err()
}

// UpdateWebsite updates the URL and alias of an existing website
func (s *Store) UpdateWebsite(ctx context.Context, website *models.Website) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE websites
		SET url = ?, alias = ?
		WHERE id = ?`,
		website.URL, website.Alias, website.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: websites.alias") {
			return storage.ErrDuplicateAlias
		}
		return fmt.Errorf("failed to update website: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteWebsite removes a website. Grants on it cascade away, its log
// history stays.
func (s *Store) DeleteWebsite(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM websites WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete website: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertLogEntry appends one probe outcome. The UNIQUE constraint on
// (website_id, created_at) makes retries and overlapping pollers
// idempotent per minute.
func (s *Store) InsertLogEntry(ctx context.Context, entry *models.LogEntry) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (website_id, status, error_message, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (website_id, created_at) DO NOTHING`,
		entry.WebsiteID, nullInt(entry.Status), nullString(entry.ErrorMessage), entry.LatencyMS, formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrDuplicateLog
	}
	return nil
}

// ListLogEntries returns the most recent log entries for a website,
// newest first
func (s *Store) ListLogEntries(ctx context.Context, websiteID, limit int) ([]models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, website_id, status, error_message, latency_ms, created_at
		FROM logs
		WHERE website_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, websiteID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var entry models.LogEntry
		var status sql.NullInt64
		var errorMessage sql.NullString
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.WebsiteID, &status, &errorMessage, &entry.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if status.Valid {
			value := int(status.Int64)
			entry.Status = &value
		}
		if errorMessage.Valid {
			value := errorMessage.String
			entry.ErrorMessage = &value
		}
		parsed, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		entry.CreatedAt = parsed
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// HourlyUptime aggregates uptime per hour over the last 24 hours,
// newest bucket first
func (s *Store) HourlyUptime(ctx context.Context, websiteID int) ([]models.UptimeBucket, error) {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	return s.uptimeBuckets(ctx, websiteID, "strftime('%Y-%m-%d %H:00:00', created_at)", cutoff, 24)
}

// DailyUptime aggregates uptime per day over the last 30 days,
// newest bucket first
func (s *Store) DailyUptime(ctx context.Context, websiteID int) ([]models.UptimeBucket, error) {
	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	return s.uptimeBuckets(ctx, websiteID, "strftime('%Y-%m-%d 00:00:00', created_at)", cutoff, 30)
}

func (s *Store) uptimeBuckets(ctx context.Context, websiteID int, bucketExpr string, cutoff time.Time, limit int) ([]models.UptimeBucket, error) {
	query := fmt.Sprintf(`
		SELECT %s AS bucket,
		       CAST(COUNT(CASE WHEN status = 200 THEN 1 END) * 100 / COUNT(*) AS INTEGER) AS uptime_pct
		FROM logs
		WHERE website_id = ? AND created_at >= ?
		GROUP BY bucket
		ORDER BY bucket DESC
		LIMIT ?`, bucketExpr)

	rows, err := s.db.QueryContext(ctx, query, websiteID, formatTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query uptime buckets: %w", err)
	}
	defer rows.Close()

	var buckets []models.UptimeBucket
	for rows.Next() {
		var bucket string
		var pct int
		if err := rows.Scan(&bucket, &pct); err != nil {
			return nil, fmt.Errorf("failed to scan uptime bucket: %w", err)
		}
		parsed, err := time.ParseInLocation("2006-01-02 15:04:05", bucket, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bucket time: %w", err)
		}
		buckets = append(buckets, models.UptimeBucket{Time: parsed, UptimePct: &pct})
	}
	return buckets, rows.Err()
}

// ListIncidents returns the most recent probe outcomes that were not a
// 200, newest first. Failed requests count with a NULL status.
func (s *Store) ListIncidents(ctx context.Context, websiteID, limit int) ([]models.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT created_at, status, error_message
		FROM logs
		WHERE website_id = ? AND (status IS NULL OR status <> 200)
		ORDER BY created_at DESC
		LIMIT ?`, websiteID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		var incident models.Incident
		var status sql.NullInt64
		var errorMessage sql.NullString
		var createdAt string
		if err := rows.Scan(&createdAt, &status, &errorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		if status.Valid {
			value := int(status.Int64)
			incident.Status = &value
		}
		if errorMessage.Valid {
			value := errorMessage.String
			incident.ErrorMessage = &value
		}
		parsed, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		incident.Time = parsed
		incidents = append(incidents, incident)
	}
	return incidents, rows.Err()
}

// InsertUser inserts a user and fills in its ID
func (s *Store) InsertUser(ctx context.Context, user *auth.User) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, password_salt, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username) DO NOTHING
		RETURNING id`,
		user.Username, user.Password.Hash, user.Password.Salt, formatTime(user.CreatedAt),
	).Scan(&user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrDuplicateUsername
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByUsername looks a user up by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, password_salt, created_at
		FROM users
		WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserForToken returns the user owning an unexpired token with the
// given scope and plaintext
func (s *Store) GetUserForToken(ctx context.Context, scope, tokenPlaintext string) (*auth.User, error) {
	hash := sha256.Sum256([]byte(tokenPlaintext))

	row := s.db.QueryRowContext(ctx, `
		SELECT users.id, users.username, users.password_hash, users.password_salt, users.created_at
		FROM users
		INNER JOIN tokens ON tokens.user_id = users.id
		WHERE tokens.hash = ? AND tokens.scope = ? AND tokens.expiry > ?`,
		hash[:], scope, formatTime(time.Now()))
	return scanUser(row)
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var user auth.User
	var createdAt string
	err := row.Scan(&user.ID, &user.Username, &user.Password.Hash, &user.Password.Salt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &user, nil
}

// InsertToken stores a token
func (s *Store) InsertToken(ctx context.Context, token *auth.Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (hash, user_id, expiry, scope)
		VALUES (?, ?, ?, ?)`,
		token.Hash, token.UserID, formatTime(token.Expiry), token.Scope)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// DeleteTokensForUser removes all tokens of one scope for a user
func (s *Store) DeleteTokensForUser(ctx context.Context, scope string, userID int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM tokens
		WHERE user_id = ? AND scope = ?`, userID, scope)
	if err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	return nil
}

// Grant gives a user a permission on a website
func (s *Store) Grant(ctx context.Context, userID, websiteID int, permission auth.Permission) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO user_permissions (user_id, website_id, permission_id)
		SELECT ?, ?, id FROM permissions WHERE name = ?
		ON CONFLICT (user_id, website_id, permission_id) DO NOTHING`,
		userID, websiteID, string(permission))
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrDuplicateGrant
	}
	return nil
}

// Revoke removes a grant
func (s *Store) Revoke(ctx context.Context, userID, websiteID int, permission auth.Permission) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM user_permissions
		WHERE user_id = ?
		  AND website_id = ?
		  AND permission_id = (SELECT id FROM permissions WHERE name = ?)`,
		userID, websiteID, string(permission))
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Allows reports whether the user holds the permission on the website.
// Only the exact (user, website, permission) triple matches.
func (s *Store) Allows(ctx context.Context, userID, websiteID int, permission auth.Permission) (bool, error) {
	var allowed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM user_permissions
			INNER JOIN permissions ON permissions.id = user_permissions.permission_id
			WHERE user_permissions.user_id = ?
			  AND user_permissions.website_id = ?
			  AND permissions.name = ?
		)`, userID, websiteID, string(permission)).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return allowed, nil
}

func nullInt(value *int) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*value), Valid: true}
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
