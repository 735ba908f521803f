package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"vigil/internal/core"
	"vigil/internal/monitor/models"
)

const (
	alertTemplate     = "website_status_alert.tmpl"
	alertKindDown     = "down"
	alertKindRecovery = "recovery"
)

// AlertMailer delivers a rendered alert email
type AlertMailer interface {
	Send(ctx context.Context, recipient, templateFile string, data any) error
}

// AlerterConfig configures status-change alerting
type AlerterConfig struct {
	// Recipient receives every alert email.
	Recipient string

	// Cooldown is the minimum gap between alerts of the same kind for the
	// same website. Defaults to 15 minutes.
	Cooldown time.Duration
}

// Alerter wraps a ResultRecorder and emails an alert whenever a website
// changes between up and down. Alerting observes the recording path: a
// failed write sends no alert, and a failed send never fails the write.
type Alerter struct {
	next     ResultRecorder
	registry WebsiteRegistry
	mailer   AlertMailer
	logger   *core.Logger
	config   AlerterConfig

	mu       sync.Mutex
	lastUp   map[int]bool
	lastSent map[alertKey]time.Time
}

type alertKey struct {
	websiteID int
	kind      string
}

// NewAlerter creates an alerting recorder around next
func NewAlerter(next ResultRecorder, registry WebsiteRegistry, mailer AlertMailer, logger *core.Logger, config AlerterConfig) *Alerter {
	if config.Cooldown <= 0 {
		config.Cooldown = 15 * time.Minute
	}
	return &Alerter{
		next:     next,
		registry: registry,
		mailer:   mailer,
		logger:   logger,
		config:   config,
		lastUp:   make(map[int]bool),
		lastSent: make(map[alertKey]time.Time),
	}
}

// Record persists the result through the wrapped recorder, then checks the
// website's up/down transition and sends any alert that is due.
func (a *Alerter) Record(ctx context.Context, websiteID int, result ProbeResult) error {
	if err := a.next.Record(ctx, websiteID, result); err != nil {
		return err
	}

	up := result.Status != nil && *result.Status == http.StatusOK

	kind, due := a.transition(websiteID, up)
	if !due {
		return nil
	}

	// The cooldown only starts on a delivered alert, so a failed send is
	// retried on the next check.
	if a.send(ctx, websiteID, kind) {
		a.markSent(websiteID, kind)
	}
	return nil
}

// transition updates the per-website state and reports which alert, if any,
// is due. The first observation of a website is its baseline, except that a
// website first seen down alerts immediately. A website that stays down
// re-alerts once per cooldown window.
func (a *Alerter) transition(websiteID int, up bool) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	previousUp, seen := a.lastUp[websiteID]
	a.lastUp[websiteID] = up

	if up && (!seen || previousUp) {
		return "", false
	}

	kind := alertKindDown
	if up {
		kind = alertKindRecovery
	}

	key := alertKey{websiteID: websiteID, kind: kind}
	if last, ok := a.lastSent[key]; ok && time.Since(last) < a.config.Cooldown {
		a.logger.Debug("Skipping alert within cooldown", "website_id", websiteID, "kind", kind)
		return "", false
	}

	return kind, true
}

func (a *Alerter) markSent(websiteID int, kind string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSent[alertKey{websiteID: websiteID, kind: kind}] = time.Now()
}

// send delivers one alert email, reporting whether delivery succeeded
func (a *Alerter) send(ctx context.Context, websiteID int, kind string) bool {
	website, err := a.lookupWebsite(ctx, websiteID)
	if err != nil {
		a.logger.Error("Failed to resolve website for alert", "website_id", websiteID, "error", err)
		return false
	}
	if website == nil {
		a.logger.Debug("Skipping alert for unregistered website", "website_id", websiteID)
		return false
	}

	data := map[string]any{
		"WebsiteAlias": website.Alias,
		"WebsiteURL":   website.URL,
		"AlertType":    kind,
		"Timestamp":    time.Now().UTC().Format("2006-01-02 15:04:05"),
	}

	if err := a.mailer.Send(ctx, a.config.Recipient, alertTemplate, data); err != nil {
		a.logger.Error("Failed to send alert email",
			"website", website.Alias, "kind", kind, "error", err)
		return false
	}

	a.logger.Info("Sent alert email",
		"website", website.Alias, "kind", kind, "recipient", a.config.Recipient)
	return true
}

func (a *Alerter) lookupWebsite(ctx context.Context, websiteID int) (*models.Website, error) {
	websites, err := a.registry.ListWebsites(ctx)
	if err != nil {
		return nil, err
	}
	for i := range websites {
		if websites[i].ID == websiteID {
			return &websites[i], nil
		}
	}
	return nil, nil
}
