package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"propingest/models"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_RecordAndReadErrors(t *testing.T) {
	store := testStore(t)

	store.RecordError(&models.ScrapeError{
		Type:      models.ErrorTypeRateLimit,
		Message:   "source returned 429",
		Source:    "redfin",
		URL:       "https://r/1",
		Timestamp: time.Now(),
	})
	store.RecordError(&models.ScrapeError{
		Type:      models.ErrorTypeNetwork,
		Message:   "connection refused",
		Source:    "zillow",
		Timestamp: time.Now().Add(time.Second),
	})

	errs, err := store.RecentErrors(10)
	if err != nil {
		t.Fatalf("recent errors: %v", err)
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	// Newest first
	if errs[0].Type != models.ErrorTypeNetwork {
		t.Fatalf("expected newest first, got %s", errs[0].Type)
	}
	if errs[1].URL != "https://r/1" {
		t.Fatalf("url not round-tripped: %q", errs[1].URL)
	}
}

func TestSQLite_RecordJobUpsertsByID(t *testing.T) {
	store := testStore(t)

	started := time.Now()
	done := started.Add(3 * time.Second)
	job := &models.Job{
		ID:          uuid.New(),
		Source:      models.SourceZillow,
		Kind:        models.JobKindSearch,
		Payload:     models.JobPayload{Criteria: &models.SearchCriteria{Zip: "85254"}},
		Status:      models.JobStatusFailed,
		Attempts:    1,
		MaxAttempts: 3,
		CreatedAt:   started,
		StartedAt:   &started,
		CompletedAt: &done,
		Errors: []models.ScrapeError{
			{Type: models.ErrorTypeNetwork, Message: "connection refused"},
		},
	}
	store.RecordJob(job)

	// Same job reaches a different terminal state after a retry
	job.Status = models.JobStatusCompleted
	job.Attempts = 2
	job.ResultCount = 7
	store.RecordJob(job)

	jobs, err := store.RecentJobs(10)
	if err != nil {
		t.Fatalf("recent jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job row after upsert, got %d", len(jobs))
	}
	got := jobs[0]
	if got.ID != job.ID {
		t.Fatalf("id not round-tripped: %s", got.ID)
	}
	if got.Status != models.JobStatusCompleted || got.Attempts != 2 || got.ResultCount != 7 {
		t.Fatalf("upsert did not overwrite: %+v", got)
	}
	if got.Payload.Criteria == nil || got.Payload.Criteria.Zip != "85254" {
		t.Fatalf("payload not round-tripped: %+v", got.Payload)
	}
	if len(got.Errors) != 1 {
		t.Fatalf("errors not round-tripped: %+v", got.Errors)
	}
}

func TestSQLite_PruneErrors(t *testing.T) {
	store := testStore(t)

	store.RecordError(&models.ScrapeError{
		Type: models.ErrorTypeNetwork, Message: "old",
		Timestamp: time.Now().Add(-48 * time.Hour),
	})
	store.RecordError(&models.ScrapeError{
		Type: models.ErrorTypeNetwork, Message: "fresh",
		Timestamp: time.Now(),
	})

	pruned, err := store.PruneErrors(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned row, got %d", pruned)
	}

	errs, err := store.RecentErrors(10)
	if err != nil {
		t.Fatalf("recent errors: %v", err)
	}
	if len(errs) != 1 || errs[0].Message != "fresh" {
		t.Fatalf("wrong rows survived prune: %+v", errs)
	}
}
