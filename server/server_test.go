package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"propingest/config"
	"propingest/faults"
	"propingest/models"
	"propingest/queue"
	"propingest/scheduler"
	"propingest/scraper"
)

type stubSource struct{}

func (stubSource) ID() models.SourceID { return models.SourceRedfin }
func (stubSource) SearchProperties(ctx context.Context, criteria models.SearchCriteria) (*models.ScrapeResult, error) {
	return &models.ScrapeResult{Source: models.SourceRedfin, Success: true}, nil
}
func (stubSource) ScrapePropertyURL(ctx context.Context, pageURL string) (*models.RawPropertyRecord, error) {
	return nil, nil
}
func (stubSource) ScrapeMultipleURLs(ctx context.Context, urls []string) (*models.ScrapeResult, error) {
	return &models.ScrapeResult{Source: models.SourceRedfin, Success: true}, nil
}
func (stubSource) Close() {}

type nullStore struct{}

func (nullStore) GetPropertyByListingID(ctx context.Context, source models.SourceID, listingID string) (*models.PersistedProperty, error) {
	return nil, nil
}
func (nullStore) GetPropertyByAddressKey(ctx context.Context, addressKey string) (*models.PersistedProperty, error) {
	return nil, nil
}
func (nullStore) InsertProperty(ctx context.Context, p *models.PersistedProperty) error { return nil }
func (nullStore) UpdatePropertyListing(ctx context.Context, p *models.PersistedProperty) error {
	return nil
}
func (nullStore) InsertImages(ctx context.Context, propertyID uuid.UUID, urls []string) error {
	return nil
}
func (nullStore) LinkPropertyToUser(ctx context.Context, propertyID uuid.UUID, userID string) error {
	return nil
}

type stubHistory struct {
	jobs []models.Job
}

func (h stubHistory) RecentJobs(limit int) ([]models.Job, error) {
	if limit < len(h.jobs) {
		return h.jobs[:limit], nil
	}
	return h.jobs, nil
}

type stubPropertyReader struct {
	props map[uuid.UUID]*models.PersistedProperty
}

func (r stubPropertyReader) GetPropertyByID(ctx context.Context, id uuid.UUID) (*models.PersistedProperty, error) {
	return r.props[id], nil
}

// testServer wires a real manager around stub scraping. The manager is not
// started, so submitted jobs stay pending and assertions are deterministic.
func testServer(t *testing.T, history JobHistory, props PropertyReader) *Server {
	t.Helper()

	srcCfg := config.DefaultSourceConfig(models.SourceRedfin)
	srcCfg.DefaultCriteria = &models.SearchCriteria{Zip: "85254"}
	cfgs := map[models.SourceID]*config.SourceConfig{models.SourceRedfin: srcCfg}

	manager := queue.NewManager(cfgs,
		map[models.SourceID]scraper.Source{models.SourceRedfin: stubSource{}},
		faults.NewHandler(), nullStore{}, nil)

	cfg := &config.Config{Sources: cfgs}
	sched := scheduler.New(cfg, manager)

	return New(":0", manager, faults.NewHandler(), sched, history, props)
}

func TestSubmitJob_Accepted(t *testing.T) {
	s := testServer(t, nil, nil)

	body := `{"source":"redfin","kind":"search","criteria":{"zip":"85254","min_beds":3}}`
	req := httptest.NewRequest("POST", "/api/v1/jobs", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["job_id"] == "" || resp["job_id"] == nil {
		t.Fatal("expected a job_id in the response")
	}
	if resp["status"] != "pending" {
		t.Fatalf("expected pending status, got %v", resp["status"])
	}
}

func TestSubmitJob_UnknownSource(t *testing.T) {
	s := testServer(t, nil, nil)

	body := `{"source":"craigslist","kind":"search"}`
	req := httptest.NewRequest("POST", "/api/v1/jobs", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown source, got %d", w.Code)
	}
}

func TestSubmitJob_BadBody(t *testing.T) {
	s := testServer(t, nil, nil)

	req := httptest.NewRequest("POST", "/api/v1/jobs", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", w.Code)
	}
}

func TestScrape_SubmitsDefaultSearches(t *testing.T) {
	s := testServer(t, nil, nil)

	req := httptest.NewRequest("POST", "/api/v1/scrape", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Created    int   `json:"created"`
		DurationMS int64 `json:"duration_ms"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Created != 1 {
		t.Fatalf("expected 1 job created, got %d", resp.Created)
	}
}

func TestQueueStats(t *testing.T) {
	s := testServer(t, nil, nil)

	// Park two jobs in the (unstarted) queue first
	for i := 0; i < 2; i++ {
		body := `{"source":"redfin","kind":"search","criteria":{"zip":"85254"}}`
		req := httptest.NewRequest("POST", "/api/v1/jobs", strings.NewReader(body))
		s.httpServer.Handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest("GET", "/api/v1/queue/stats", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var stats []models.QueueStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Pending != 2 {
		t.Fatalf("expected 2 pending on one queue, got %+v", stats)
	}
}

func TestClearQueues(t *testing.T) {
	s := testServer(t, nil, nil)

	body := `{"source":"redfin","kind":"search","criteria":{"zip":"85254"}}`
	req := httptest.NewRequest("POST", "/api/v1/jobs", strings.NewReader(body))
	s.httpServer.Handler.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/queue/clear", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/queue/stats", nil))
	var stats []models.QueueStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats[0].Pending != 0 {
		t.Fatalf("expected cleared queue, got %d pending", stats[0].Pending)
	}
}

func TestRecentJobs(t *testing.T) {
	history := stubHistory{jobs: []models.Job{
		{ID: uuid.New(), Source: models.SourceRedfin, Kind: models.JobKindSearch, Status: models.JobStatusCompleted},
		{ID: uuid.New(), Source: models.SourceRedfin, Kind: models.JobKindURL, Status: models.JobStatusFailed},
	}}
	s := testServer(t, history, nil)

	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/jobs/recent?limit=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var jobs []models.Job
	if err := json.Unmarshal(w.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != models.JobStatusCompleted {
		t.Fatalf("expected the newest job only, got %+v", jobs)
	}

	w = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/jobs/recent?limit=0", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestRecentJobs_NoHistoryConfigured(t *testing.T) {
	s := testServer(t, nil, nil)

	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/jobs/recent", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a history store, got %d", w.Code)
	}
}

func TestGetProperty(t *testing.T) {
	id := uuid.New()
	reader := stubPropertyReader{props: map[uuid.UUID]*models.PersistedProperty{
		id: {ID: id, Address: "742 W Elm Ave", Zip: "85254", Price: 500000},
	}}
	s := testServer(t, nil, reader)

	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/properties/"+id.String(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var prop models.PersistedProperty
	if err := json.Unmarshal(w.Body.Bytes(), &prop); err != nil {
		t.Fatalf("decode property: %v", err)
	}
	if prop.ID != id || prop.Zip != "85254" {
		t.Fatalf("unexpected property: %+v", prop)
	}

	w = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/properties/"+uuid.NewString(), nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/properties/not-a-uuid", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad id, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t, nil, nil)

	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var report models.HealthReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != models.HealthStatusHealthy {
		t.Fatalf("expected healthy, got %s", report.Status)
	}
}
