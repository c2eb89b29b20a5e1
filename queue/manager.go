package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"propingest/config"
	"propingest/faults"
	"propingest/models"
	"propingest/scraper"
	"propingest/services"
)

// PropertyStore is the persistence boundary for canonical property rows.
// Implemented by storage.PostgresStore; tests substitute an in-memory fake.
type PropertyStore interface {
	GetPropertyByListingID(ctx context.Context, source models.SourceID, listingID string) (*models.PersistedProperty, error)
	GetPropertyByAddressKey(ctx context.Context, addressKey string) (*models.PersistedProperty, error)
	InsertProperty(ctx context.Context, p *models.PersistedProperty) error
	UpdatePropertyListing(ctx context.Context, p *models.PersistedProperty) error
	InsertImages(ctx context.Context, propertyID uuid.UUID, urls []string) error
	LinkPropertyToUser(ctx context.Context, propertyID uuid.UUID, userID string) error
}

// PreferenceProvider resolves a user's saved search preferences.
type PreferenceProvider interface {
	GetUserPreferences(ctx context.Context, userID string) (*models.UserPreferences, error)
}

// JobHistory receives jobs that reached a terminal status, for the local
// operational record. Failures there never affect the pipeline.
type JobHistory interface {
	RecordJob(job *models.Job)
}

// Manager owns one bounded queue per source and mediates between job
// submission and persisted results. Construct once, inject everywhere.
type Manager struct {
	classifier *faults.Handler
	store      PropertyStore
	prefs      PreferenceProvider
	history    JobHistory
	queues     map[models.SourceID]*sourceQueue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type sourceQueue struct {
	source  models.SourceID
	cfg     *config.SourceConfig
	scraper scraper.Source

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*models.Job
	active  map[uuid.UUID]*models.Job
	starts  []time.Time
	closed  bool
}

func NewManager(
	cfgs map[models.SourceID]*config.SourceConfig,
	sources map[models.SourceID]scraper.Source,
	classifier *faults.Handler,
	store PropertyStore,
	prefs PreferenceProvider,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		classifier: classifier,
		store:      store,
		prefs:      prefs,
		queues:     make(map[models.SourceID]*sourceQueue),
		ctx:        ctx,
		cancel:     cancel,
	}

	for id, src := range sources {
		cfg, ok := cfgs[id]
		if !ok {
			cfg = config.DefaultSourceConfig(id)
		}
		q := &sourceQueue{
			source:  id,
			cfg:     cfg,
			scraper: src,
			active:  make(map[uuid.UUID]*models.Job),
		}
		q.cond = sync.NewCond(&q.mu)
		m.queues[id] = q
	}

	return m
}

// SetJobHistory attaches the operational job record sink.
func (m *Manager) SetJobHistory(h JobHistory) {
	m.history = h
}

// Start launches each queue's worker goroutines.
func (m *Manager) Start() {
	for _, q := range m.queues {
		concurrency := q.cfg.Concurrency
		if concurrency < 1 {
			concurrency = 1
		}
		for i := 0; i < concurrency; i++ {
			m.wg.Add(1)
			go m.worker(q)
		}
	}
}

// Stop cancels in-flight contexts, wakes every worker, and waits for them.
// Scraper sessions are closed by the owner (main), not here.
func (m *Manager) Stop() {
	m.cancel()
	for _, q := range m.queues {
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}
	m.wg.Wait()
}

// NewJob builds a pending job with the source's configured attempt budget.
func (m *Manager) NewJob(source models.SourceID, kind models.JobKind, payload models.JobPayload, submittedBy string) (*models.Job, error) {
	q, ok := m.queues[source]
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", source)
	}
	maxAttempts := q.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &models.Job{
		ID:          uuid.New(),
		Source:      source,
		Kind:        kind,
		Payload:     payload,
		Status:      models.JobStatusPending,
		MaxAttempts: maxAttempts,
		SubmittedBy: submittedBy,
		CreatedAt:   time.Now(),
	}, nil
}

// AddJob enqueues a job onto its source's queue. The only synchronous
// failure is an unknown source; everything downstream is async.
func (m *Manager) AddJob(job *models.Job) error {
	q, ok := m.queues[job.Source]
	if !ok {
		return fmt.Errorf("unknown source: %s", job.Source)
	}
	q.push(job)
	return nil
}

func (q *sourceQueue) push(job *models.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, job)
	q.cond.Signal()
}

// pop blocks until a job is available or the queue shuts down.
func (q *sourceQueue) pop() (*models.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	q.active[job.ID] = job
	return job, true
}

// updateJob applies a job mutation under the queue lock so introspection
// copies never race with worker writes.
func (q *sourceQueue) updateJob(fn func()) {
	q.mu.Lock()
	fn()
	q.mu.Unlock()
}

func (q *sourceQueue) finish(job *models.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, job.ID)
}

// admitStart enforces the starts-per-interval cap. Returns how long the
// caller must wait before a new start is admitted (zero when admitted).
func (q *sourceQueue) admitStart(now time.Time) time.Duration {
	const interval = time.Minute

	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-interval)
	kept := q.starts[:0]
	for _, t := range q.starts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	q.starts = kept

	if q.cfg.StartsPerMinute > 0 && len(q.starts) >= q.cfg.StartsPerMinute {
		return q.starts[0].Add(interval).Sub(now)
	}
	q.starts = append(q.starts, now)
	return 0
}

func (m *Manager) worker(q *sourceQueue) {
	defer m.wg.Done()
	for {
		job, ok := q.pop()
		if !ok {
			return
		}

		for {
			wait := q.admitStart(time.Now())
			if wait <= 0 {
				break
			}
			select {
			case <-m.ctx.Done():
				q.finish(job)
				return
			case <-time.After(wait):
			}
		}

		m.runJob(q, job)
		q.finish(job)
	}
}

// runJob drives one attempt. Every mutation of the job happens under the
// queue lock: the job sits in the active map the whole time, and
// GetActiveJobs copies it under the same lock.
func (m *Manager) runJob(q *sourceQueue, job *models.Job) {
	now := time.Now()
	q.updateJob(func() {
		job.Status = models.JobStatusProcessing
		job.Attempts++
		job.StartedAt = &now
	})

	// Explicit per-job deadline so a hung fetch cannot hold a concurrency
	// slot past the budget.
	timeout := q.cfg.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()

	count, err := m.execute(ctx, q, job)
	if err == nil {
		done := time.Now()
		q.updateJob(func() {
			job.Status = models.JobStatusCompleted
			job.CompletedAt = &done
			job.ResultCount += count
		})
		log.Printf("[%s] job %s completed: %d records", job.Source, job.ID, count)
		m.recordHistory(job)
		return
	}

	se := m.classifier.Classify(err, job.Source, jobURL(job))
	retry := se.Retryable && job.Attempts < job.MaxAttempts
	done := time.Now()
	q.updateJob(func() {
		job.Errors = append(job.Errors, *se)
		if retry {
			job.Status = models.JobStatusPending
		} else {
			job.Status = models.JobStatusFailed
			job.CompletedAt = &done
		}
	})
	log.Printf("[%s] job %s attempt %d/%d failed: %v", job.Source, job.ID, job.Attempts, job.MaxAttempts, se)

	if retry {
		m.resubmitAfter(q, job, q.cfg.RetryCooldown)
		return
	}
	m.recordHistory(job)
}

// resubmitAfter pushes the same job back after the cooldown, so the retried
// attempt shares identity and error history with the original. Retries go to
// the back of the queue.
func (m *Manager) resubmitAfter(q *sourceQueue, job *models.Job, cooldown time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(cooldown):
		}
		q.push(job)
	}()
}

func (m *Manager) execute(ctx context.Context, q *sourceQueue, job *models.Job) (int, error) {
	switch job.Kind {
	case models.JobKindURL:
		pageURL := job.Payload.URL
		if pageURL == "" {
			return 0, &models.ScrapeError{
				Type: models.ErrorTypeInvalidData, Message: "url job carries no url",
				Source: string(job.Source), Timestamp: time.Now(),
			}
		}
		if m.classifier.IsBlocked(pageURL) {
			return 0, &models.ScrapeError{
				Type: models.ErrorTypeBlocked, Message: "url is on the blocked list",
				Source: string(job.Source), URL: pageURL, Timestamp: time.Now(),
			}
		}
		rec, err := q.scraper.ScrapePropertyURL(ctx, pageURL)
		if err != nil {
			return 0, err
		}
		return m.storeResults(ctx, job, []models.RawPropertyRecord{*rec}), nil

	case models.JobKindSearch:
		if job.Payload.Criteria == nil {
			return 0, &models.ScrapeError{
				Type: models.ErrorTypeInvalidData, Message: "search job carries no criteria",
				Source: string(job.Source), Timestamp: time.Now(),
			}
		}
		return m.runSearch(ctx, q, job, *job.Payload.Criteria)

	case models.JobKindPreferences:
		if m.prefs == nil {
			return 0, fmt.Errorf("no preference provider configured")
		}
		prefs, err := m.prefs.GetUserPreferences(ctx, job.Payload.UserID)
		if err != nil {
			return 0, fmt.Errorf("load preferences for %s: %w", job.Payload.UserID, err)
		}
		return m.runSearch(ctx, q, job, services.CriteriaFromPreferences(prefs))

	default:
		return 0, &models.ScrapeError{
			Type: models.ErrorTypeInvalidData, Message: fmt.Sprintf("unknown job kind %q", job.Kind),
			Source: string(job.Source), Timestamp: time.Now(),
		}
	}
}

func (m *Manager) runSearch(ctx context.Context, q *sourceQueue, job *models.Job, criteria models.SearchCriteria) (int, error) {
	result, err := q.scraper.SearchProperties(ctx, criteria)
	if err != nil {
		return 0, err
	}
	// Per-record extraction problems ride along on the job without failing it.
	if len(result.Errors) > 0 {
		q.updateJob(func() {
			job.Errors = append(job.Errors, result.Errors...)
		})
	}
	return m.storeResults(ctx, job, result.Properties), nil
}

func jobURL(job *models.Job) string {
	if job.Kind == models.JobKindURL {
		return job.Payload.URL
	}
	return ""
}

func (m *Manager) recordHistory(job *models.Job) {
	if m.history != nil {
		m.history.RecordJob(job)
	}
}

// GetQueueStats reports pending/active counts per source. Read-only.
func (m *Manager) GetQueueStats() []models.QueueStats {
	stats := make([]models.QueueStats, 0, len(m.queues))
	for id, q := range m.queues {
		q.mu.Lock()
		stats = append(stats, models.QueueStats{
			Source:  id,
			Pending: len(q.pending),
			Active:  len(q.active),
		})
		q.mu.Unlock()
	}
	return stats
}

// GetActiveJobs returns copies of every job currently being processed.
func (m *Manager) GetActiveJobs() []models.Job {
	var jobs []models.Job
	for _, q := range m.queues {
		q.mu.Lock()
		for _, job := range q.active {
			jobs = append(jobs, *job)
		}
		q.mu.Unlock()
	}
	return jobs
}

// ClearQueues drops all pending work and active bookkeeping. In-flight
// scrapes already dispatched are not cancelled.
func (m *Manager) ClearQueues() {
	for _, q := range m.queues {
		q.mu.Lock()
		q.pending = nil
		q.active = make(map[uuid.UUID]*models.Job)
		q.mu.Unlock()
	}
}

// Sources lists the sources this manager dispatches to.
func (m *Manager) Sources() []models.SourceID {
	ids := make([]models.SourceID, 0, len(m.queues))
	for id := range m.queues {
		ids = append(ids, id)
	}
	return ids
}

// DefaultCriteria returns the configured default search for a source, if any.
func (m *Manager) DefaultCriteria(source models.SourceID) *models.SearchCriteria {
	if q, ok := m.queues[source]; ok {
		return q.cfg.DefaultCriteria
	}
	return nil
}
