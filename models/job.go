package models

import (
	"time"

	"github.com/google/uuid"
)

type SourceID string

const (
	SourceZillow SourceID = "zillow"
	SourceRedfin SourceID = "redfin"
)

// KnownSources lists every source the pipeline can dispatch to. Adding a
// source means adding it here and to scraper.New.
var KnownSources = []SourceID{SourceZillow, SourceRedfin}

type JobKind string

const (
	JobKindURL         JobKind = "url"
	JobKindSearch      JobKind = "search"
	JobKindPreferences JobKind = "preferences"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobPayload carries the kind-specific input for a job. Exactly one of the
// fields matters for a given kind.
type JobPayload struct {
	URL      string          `json:"url,omitempty"`
	Criteria *SearchCriteria `json:"criteria,omitempty"`
	UserID   string          `json:"user_id,omitempty"`
}

// Job is one unit of ingestion work. The queue owns it from AddJob until it
// reaches a terminal status; retries resubmit the same Job so attempts and
// errors accumulate on one record.
type Job struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	Source      SourceID      `json:"source" db:"source"`
	Kind        JobKind       `json:"kind" db:"kind"`
	Payload     JobPayload    `json:"payload" db:"payload"`
	Status      JobStatus     `json:"status" db:"status"`
	Attempts    int           `json:"attempts" db:"attempts"`
	MaxAttempts int           `json:"max_attempts" db:"max_attempts"`
	SubmittedBy string        `json:"submitted_by,omitempty" db:"submitted_by"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	Errors      []ScrapeError `json:"errors" db:"errors"`
	ResultCount int           `json:"result_count" db:"result_count"`
}

// QueueStats is a point-in-time snapshot of one source queue.
type QueueStats struct {
	Source  SourceID `json:"source"`
	Pending int      `json:"pending"`
	Active  int      `json:"active"`
}
