package scraper

import (
	"fmt"
	"sync"
	"time"

	"propingest/models"
)

// rateLimiter paces one scraper instance: a minimum delay between requests
// and a hard hourly cap. This is independent of the queue's own pacing, as a
// second line of defense against a source's published limits.
type rateLimiter struct {
	mu          sync.Mutex
	source      models.SourceID
	minDelay    time.Duration
	hourlyCap   int
	windowStart time.Time
	count       int
	lastRequest time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

func newRateLimiter(source models.SourceID, minDelay time.Duration, hourlyCap int) *rateLimiter {
	return &rateLimiter{
		source:    source,
		minDelay:  minDelay,
		hourlyCap: hourlyCap,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Wait must be called before every network interaction. If the hourly cap is
// spent it returns a RATE_LIMIT error carrying the window's remaining time;
// otherwise it sleeps out the minimum inter-request delay and admits the
// request.
func (r *rateLimiter) Wait() error {
	r.mu.Lock()
	now := r.now()

	if r.windowStart.IsZero() || now.Sub(r.windowStart) >= time.Hour {
		r.windowStart = now
		r.count = 0
	}

	if r.hourlyCap > 0 && r.count >= r.hourlyCap {
		resume := r.windowStart.Add(time.Hour)
		r.mu.Unlock()
		return &models.ScrapeError{
			Type:       models.ErrorTypeRateLimit,
			Message:    fmt.Sprintf("hourly cap of %d requests reached", r.hourlyCap),
			Source:     string(r.source),
			Timestamp:  now,
			Retryable:  true,
			RetryAfter: &resume,
		}
	}

	var wait time.Duration
	if !r.lastRequest.IsZero() {
		if elapsed := now.Sub(r.lastRequest); elapsed < r.minDelay {
			wait = r.minDelay - elapsed
		}
	}
	r.count++
	r.lastRequest = now.Add(wait)
	r.mu.Unlock()

	if wait > 0 {
		r.sleep(wait)
	}
	return nil
}
