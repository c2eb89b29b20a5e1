package faults

import (
	"propingest/models"
)

// ExecuteWithRetry drives fn through the classify/decide loop: on failure it
// classifies, consults the policy table, sleeps the computed delay, and
// re-invokes until maxAttempts is spent or the policy refuses. Attempts
// against a blocked URL are refused without invoking fn at all.
func ExecuteWithRetry[T any](h *Handler, fn func() (T, error), source models.SourceID, pageURL string, maxAttempts int) (T, error) {
	var zero T
	var lastErr *models.ScrapeError

	// A non-positive budget still gets one attempt; otherwise the loop would
	// never run and the caller would get back a typed nil error.
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if pageURL != "" && h.IsBlocked(pageURL) {
			return zero, &models.ScrapeError{
				Type:      models.ErrorTypeBlocked,
				Message:   "url is on the blocked list",
				Source:    string(source),
				URL:       pageURL,
				Timestamp: h.now(),
				Retryable: false,
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = h.Classify(err, source, pageURL)
		decision := h.Decide(lastErr, attempt)
		if !decision.Retry || attempt == maxAttempts {
			break
		}
		if decision.Delay > 0 {
			h.sleep(decision.Delay)
		}
	}

	return zero, lastErr
}
