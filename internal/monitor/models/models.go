package models

import "time"

// Website is a monitored site. The alias is the canonical identifier used
// in URLs and lookups; it is unique across all websites.
type Website struct {
	ID        int       `json:"id"`
	URL       string    `json:"url"`
	Alias     string    `json:"alias"`
	CreatedBy int       `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// LogEntry is one probe outcome for a website. Exactly one of Status and
// ErrorMessage is set: a response with any status code fills Status, a
// failed request fills ErrorMessage. CreatedAt is truncated to the minute
// so each website has at most one entry per minute.
type LogEntry struct {
	ID           int       `json:"id"`
	WebsiteID    int       `json:"website_id"`
	Status       *int      `json:"status"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	LatencyMS    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// UptimeBucket is an aggregated uptime percentage for one time bucket.
// UptimePct is nil when no checks ran during the bucket.
type UptimeBucket struct {
	Time      time.Time `json:"time"`
	UptimePct *int      `json:"uptime_pct"`
}

// Incident is a probe that did not come back with a 200. A nil Status means
// the request itself failed and ErrorMessage says why.
type Incident struct {
	Time         time.Time `json:"time"`
	Status       *int      `json:"status"`
	ErrorMessage *string   `json:"error_message,omitempty"`
}

// WebsiteDetail is the full picture for one website: the site itself,
// hourly uptime over the last day, daily uptime over the last month and
// the most recent incidents.
type WebsiteDetail struct {
	Website   Website        `json:"website"`
	Daily     []UptimeBucket `json:"daily"`
	Monthly   []UptimeBucket `json:"monthly"`
	Incidents []Incident     `json:"incidents"`
}
