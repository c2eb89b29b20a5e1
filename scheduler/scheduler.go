package scheduler

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"propingest/config"
	"propingest/models"
	"propingest/queue"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// ErrorPruner drops aged rows from the operational error log.
type ErrorPruner interface {
	PruneErrors(olderThan time.Duration) (int64, error)
}

// errorRetention bounds how long local error audit rows are kept.
const errorRetention = 30 * 24 * time.Hour

// Scheduler submits the configured default search for every source on a cron
// expression or fixed interval. It is just a job producer; pacing and
// retries stay with the queue.
type Scheduler struct {
	cfg     *config.Config
	manager *queue.Manager
	cron    *cron.Cron
	ticker  *time.Ticker
	stopCh  chan struct{}

	mediaWorker Triggerable
	pruner      ErrorPruner
}

func New(cfg *config.Config, manager *queue.Manager) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		cron:    cron.New(),
		stopCh:  make(chan struct{}),
	}
}

// SetWorkers registers background workers for manual triggering
func (s *Scheduler) SetWorkers(media Triggerable) {
	s.mediaWorker = media
}

// SetPruner attaches the operational store whose error log gets a daily prune.
func (s *Scheduler) SetPruner(p ErrorPruner) {
	s.pruner = p
}

func (s *Scheduler) Start() error {
	useCron := false
	if s.pruner != nil {
		if _, err := s.cron.AddFunc("@daily", s.runPrune); err != nil {
			return fmt.Errorf("schedule error prune: %w", err)
		}
		useCron = true
	}

	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, s.runScheduledScrape)
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		useCron = true
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runScheduledScrape()
				case <-s.stopCh:
					return
				}
			}
		}()
	} else {
		log.Println("Scheduler disabled (no SCRAPE_CRON or SCRAPE_INTERVAL)")
	}

	if useCron {
		s.cron.Start()
	}
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// runScheduledScrape enqueues one search job per source that has a default
// criteria configured, then nudges the media worker.
func (s *Scheduler) runScheduledScrape() {
	count, err := s.SubmitDefaultSearches()
	if err != nil {
		log.Printf("Scheduled run error: %v", err)
		return
	}
	log.Printf("Scheduled run submitted %d search jobs", count)

	if s.mediaWorker != nil {
		s.mediaWorker.Trigger()
	}
}

func (s *Scheduler) runPrune() {
	n, err := s.pruner.PruneErrors(errorRetention)
	if err != nil {
		log.Printf("Error log prune failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Pruned %d aged error log rows", n)
	}
}

// SubmitDefaultSearches enqueues the default search for every configured
// source and returns how many jobs went in.
func (s *Scheduler) SubmitDefaultSearches() (int, error) {
	submitted := 0
	for _, id := range s.manager.Sources() {
		criteria := s.manager.DefaultCriteria(id)
		if criteria == nil {
			continue
		}
		job, err := s.manager.NewJob(id, models.JobKindSearch, models.JobPayload{Criteria: criteria}, "")
		if err != nil {
			return submitted, err
		}
		if err := s.manager.AddJob(job); err != nil {
			return submitted, err
		}
		submitted++
	}
	return submitted, nil
}
