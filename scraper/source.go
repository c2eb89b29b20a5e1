package scraper

import (
	"context"
	"fmt"

	"propingest/config"
	"propingest/httputil"
	"propingest/models"
)

// Source is one external listing provider. A Source owns its session
// resource (browser or HTTP client), paces its own requests, and only emits
// validated, in-jurisdiction records.
type Source interface {
	ID() models.SourceID
	SearchProperties(ctx context.Context, criteria models.SearchCriteria) (*models.ScrapeResult, error)
	ScrapePropertyURL(ctx context.Context, pageURL string) (*models.RawPropertyRecord, error)
	ScrapeMultipleURLs(ctx context.Context, urls []string) (*models.ScrapeResult, error)
	Close()
}

// New constructs the scraper for a source. The switch is the single place a
// new source gets registered; an unhandled SourceID fails here, at dispatch,
// rather than deep inside a queue worker.
func New(id models.SourceID, cfg *config.SourceConfig, jur config.Jurisdiction, clients *httputil.Clients) (Source, error) {
	switch id {
	case models.SourceZillow:
		return newZillowSource(cfg, jur), nil
	case models.SourceRedfin:
		return newRedfinSource(cfg, jur, clients), nil
	default:
		return nil, fmt.Errorf("unknown source: %s", id)
	}
}
