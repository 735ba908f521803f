package storage

import (
	"context"
	"errors"

	"vigil/internal/monitor/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateAlias is returned when a website alias is already taken.
	ErrDuplicateAlias = errors.New("duplicate alias")

	// ErrDuplicateLog is returned when a log entry already exists for the
	// website and minute bucket.
	ErrDuplicateLog = errors.New("duplicate log entry")

	// ErrDuplicateUsername is returned when a username is already taken.
	ErrDuplicateUsername = errors.New("duplicate username")

	// ErrDuplicateGrant is returned when a permission grant already exists.
	ErrDuplicateGrant = errors.New("duplicate grant")
)

// Store is the persistence interface for websites and their probe logs.
// Implementations exist for SQLite and PostgreSQL.
type Store interface {
	// CreateWebsite inserts a website and fills in its ID. When CreatedBy
	// is set the creator is granted read and create_modify on the new
	// website in the same transaction.
	CreateWebsite(ctx context.Context, website *models.Website) error

	// GetWebsiteByAlias looks a website up by its alias.
	GetWebsiteByAlias(ctx context.Context, alias string) (*models.Website, error)

	// ListWebsites returns every registered website, used by the poll loop.
	ListWebsites(ctx context.Context) ([]models.Website, error)

	// ListWebsitesForUser returns the websites the user holds the read
	// permission on.
	ListWebsitesForUser(ctx context.Context, userID int) ([]models.Website, error)

	// UpdateWebsite updates the URL and alias of an existing website.
	UpdateWebsite(ctx context.Context, website *models.Website) error

	// DeleteWebsite removes a website. Permission grants on the website go
	// with it; its log history is kept.
	DeleteWebsite(ctx context.Context, id int) error

	// InsertLogEntry appends one probe outcome. Returns ErrDuplicateLog when
	// an entry already exists for the website and minute.
	InsertLogEntry(ctx context.Context, entry *models.LogEntry) error

	// ListLogEntries returns the most recent log entries for a website,
	// newest first.
	ListLogEntries(ctx context.Context, websiteID, limit int) ([]models.LogEntry, error)

	// HourlyUptime aggregates uptime per hour over the last 24 hours.
	HourlyUptime(ctx context.Context, websiteID int) ([]models.UptimeBucket, error)

	// DailyUptime aggregates uptime per day over the last 30 days.
	DailyUptime(ctx context.Context, websiteID int) ([]models.UptimeBucket, error)

	// ListIncidents returns the most recent non-200 probe outcomes,
	// newest first.
	ListIncidents(ctx context.Context, websiteID, limit int) ([]models.Incident, error)
}
