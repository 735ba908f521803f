package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vigil/internal/core"
	"vigil/internal/monitor/models"
	"vigil/internal/storage"
)

// LogStore is the slice of storage the log writer needs
type LogStore interface {
	InsertLogEntry(ctx context.Context, entry *models.LogEntry) error
}

// LogWriter persists probe results as minute-bucketed log entries
type LogWriter struct {
	store  LogStore
	logger *core.Logger
}

// NewLogWriter creates a new log writer
func NewLogWriter(store LogStore, logger *core.Logger) *LogWriter {
	return &LogWriter{
		store:  store,
		logger: logger,
	}
}

// Record writes one probe result. The entry timestamp is the probe start
// time truncated to the minute, so at most one entry exists per website
// and minute; a write that loses that race is dropped silently.
func (w *LogWriter) Record(ctx context.Context, websiteID int, result ProbeResult) error {
	entry := &models.LogEntry{
		WebsiteID:    websiteID,
		Status:       result.Status,
		ErrorMessage: result.Error,
		LatencyMS:    result.LatencyMS,
		CreatedAt:    result.CheckedAt.UTC().Truncate(time.Minute),
	}

	if err := w.store.InsertLogEntry(ctx, entry); err != nil {
		if errors.Is(err, storage.ErrDuplicateLog) {
			w.logger.Debug("Log entry for bucket already exists, skipping",
				"website_id", websiteID, "bucket", entry.CreatedAt)
			return nil
		}
		return fmt.Errorf("failed to record probe result: %w", err)
	}

	return nil
}
