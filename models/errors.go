package models

import (
	"fmt"
	"time"
)

type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "NETWORK_ERROR"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeRateLimit   ErrorType = "RATE_LIMIT"
	ErrorTypeParse       ErrorType = "PARSE_ERROR"
	ErrorTypeBlocked     ErrorType = "BLOCKED"
	ErrorTypeInvalidData ErrorType = "INVALID_DATA"
	ErrorTypeUnknown     ErrorType = "UNKNOWN"
)

// ScrapeError is the classified form of any failure raised inside the
// pipeline. It doubles as an error value so scrapers can return it directly.
type ScrapeError struct {
	Type       ErrorType  `json:"type" db:"type"`
	Message    string     `json:"message" db:"message"`
	Source     string     `json:"source" db:"source"`
	URL        string     `json:"url,omitempty" db:"url"`
	Timestamp  time.Time  `json:"timestamp" db:"timestamp"`
	Retryable  bool       `json:"retryable" db:"retryable"`
	RetryAfter *time.Time `json:"retry_after,omitempty" db:"retry_after"`
}

func (e *ScrapeError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s [%s] %s: %s", e.Type, e.Source, e.URL, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Type, e.Source, e.Message)
}

// ErrorMetric is the rolling counter for one (source, type) bucket.
type ErrorMetric struct {
	Source     string    `json:"source"`
	Type       ErrorType `json:"type"`
	Count      int       `json:"count"`
	LastSeen   time.Time `json:"last_seen"`
	RecentURLs []string  `json:"recent_urls"`
}

type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusCritical HealthStatus = "critical"
)

// HealthReport summarizes errors observed in the trailing window.
type HealthReport struct {
	Status          HealthStatus `json:"status"`
	ErrorRate       int          `json:"error_rate"`
	BlockedCount    int          `json:"blocked_count"`
	Recommendations []string     `json:"recommendations"`
}
