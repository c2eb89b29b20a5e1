package scraper

import (
	"time"

	"propingest/models"
)

type fetchFunc func(pageURL string) (*models.RawPropertyRecord, error)

// scrapeBatch runs a sequential multi-URL scrape. A failure on one URL is
// recorded and the batch continues; the batch fails overall only when zero
// records succeed.
func scrapeBatch(source models.SourceID, urls []string, fetch fetchFunc) (*models.ScrapeResult, error) {
	start := time.Now()
	result := &models.ScrapeResult{
		Source:     source,
		TotalFound: len(urls),
	}

	for _, u := range urls {
		rec, err := fetch(u)
		if err != nil {
			result.Errors = append(result.Errors, *asScrapeError(err, source, u))
			continue
		}
		result.Properties = append(result.Properties, *rec)
		result.TotalProcessed++
	}

	result.DurationMs = time.Since(start).Milliseconds()
	result.Success = len(urls) == 0 || result.TotalProcessed > 0

	if !result.Success && len(result.Errors) > 0 {
		first := result.Errors[0]
		return result, &first
	}
	return result, nil
}

func asScrapeError(err error, source models.SourceID, pageURL string) *models.ScrapeError {
	if se, ok := err.(*models.ScrapeError); ok {
		return se
	}
	return &models.ScrapeError{
		Type:      models.ErrorTypeUnknown,
		Message:   err.Error(),
		Source:    string(source),
		URL:       pageURL,
		Timestamp: time.Now(),
		Retryable: true,
	}
}
