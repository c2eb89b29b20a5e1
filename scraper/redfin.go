package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"propingest/config"
	"propingest/httputil"
	"propingest/models"
)

// redfinSource scrapes Redfin over plain HTTP. Search and property pages
// both embed schema.org JSON-LD blocks, which are far more stable than the
// page markup, so extraction reads those instead of walking card DOM.
type redfinSource struct {
	cfg     *config.SourceConfig
	jur     config.Jurisdiction
	client  *http.Client
	limiter *rateLimiter
}

func newRedfinSource(cfg *config.SourceConfig, jur config.Jurisdiction, clients *httputil.Clients) *redfinSource {
	return &redfinSource{
		cfg:     cfg,
		jur:     jur,
		client:  clients.Scraping,
		limiter: newRateLimiter(models.SourceRedfin, cfg.MinRequestDelay, cfg.HourlyCap),
	}
}

func (s *redfinSource) ID() models.SourceID { return models.SourceRedfin }

func (s *redfinSource) SearchProperties(ctx context.Context, criteria models.SearchCriteria) (*models.ScrapeResult, error) {
	start := time.Now()
	result := &models.ScrapeResult{Source: models.SourceRedfin}

	searchURL, err := s.searchURL(criteria)
	if err != nil {
		return result, err
	}
	body, err := s.fetch(ctx, searchURL)
	if err != nil {
		return result, err
	}
	defer body.Close()

	raw, err := parseRedfinListings(body)
	if err != nil {
		return result, &models.ScrapeError{
			Type:      models.ErrorTypeParse,
			Message:   fmt.Sprintf("parse search page: %v", err),
			Source:    string(models.SourceRedfin),
			Timestamp: time.Now(),
			Retryable: true,
		}
	}

	result.TotalFound = len(raw)
	raw = applyCriteria(raw, criteria)

	kept, errs := acceptRecords(raw, s.jur)
	result.Properties = kept
	result.TotalProcessed = len(kept)
	result.Errors = errs
	result.Success = true
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

func (s *redfinSource) ScrapePropertyURL(ctx context.Context, pageURL string) (*models.RawPropertyRecord, error) {
	body, err := s.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	records, err := parseRedfinListings(body)
	if err != nil {
		return nil, &models.ScrapeError{
			Type:      models.ErrorTypeParse,
			Message:   fmt.Sprintf("parse property page: %v", err),
			Source:    string(models.SourceRedfin),
			URL:       pageURL,
			Timestamp: time.Now(),
			Retryable: true,
		}
	}
	if len(records) == 0 {
		return nil, &models.ScrapeError{
			Type:      models.ErrorTypeParse,
			Message:   "no listing data on page",
			Source:    string(models.SourceRedfin),
			URL:       pageURL,
			Timestamp: time.Now(),
			Retryable: true,
		}
	}

	rec := records[0]
	rec.SourceURL = pageURL
	if err := validateRecord(&rec, s.jur); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *redfinSource) ScrapeMultipleURLs(ctx context.Context, urls []string) (*models.ScrapeResult, error) {
	return scrapeBatch(models.SourceRedfin, urls, func(u string) (*models.RawPropertyRecord, error) {
		return s.ScrapePropertyURL(ctx, u)
	})
}

// Close is a no-op: the HTTP client is shared process-wide and owns no
// per-source session state.
func (s *redfinSource) Close() {}

func (s *redfinSource) fetch(ctx context.Context, pageURL string) (io.ReadCloser, error) {
	if err := s.limiter.Wait(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &models.ScrapeError{
			Type:       models.ErrorTypeRateLimit,
			Message:    "source returned 429",
			Source:     string(models.SourceRedfin),
			URL:        pageURL,
			Timestamp:  time.Now(),
			Retryable:  true,
			RetryAfter: retryAfter,
		}
	case resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, &models.ScrapeError{
			Type:      models.ErrorTypeBlocked,
			Message:   "source returned 403",
			Source:    string(models.SourceRedfin),
			URL:       pageURL,
			Timestamp: time.Now(),
			Retryable: false,
		}
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, &models.ScrapeError{
			Type:      models.ErrorTypeNetwork,
			Message:   fmt.Sprintf("unexpected status %d", resp.StatusCode),
			Source:    string(models.SourceRedfin),
			URL:       pageURL,
			Timestamp: time.Now(),
			Retryable: true,
		}
	}
	return resp.Body, nil
}

func (s *redfinSource) searchURL(criteria models.SearchCriteria) (string, error) {
	base := s.cfg.Endpoints["search"]
	if base == "" {
		base = "https://www.redfin.com"
	}
	if criteria.Zip != "" {
		return fmt.Sprintf("%s/zipcode/%s", base, url.PathEscape(criteria.Zip)), nil
	}
	city := criteria.City
	if city == "" && len(s.jur.Cities) > 0 {
		city = s.jur.Cities[0]
	}
	if city == "" {
		// A jurisdiction override can list only zips.
		if len(s.jur.Zips) > 0 {
			return fmt.Sprintf("%s/zipcode/%s", base, url.PathEscape(s.jur.Zips[0])), nil
		}
		return "", &models.ScrapeError{
			Type:      models.ErrorTypeInvalidData,
			Message:   "search has no location and the jurisdiction lists no cities or zips",
			Source:    string(models.SourceRedfin),
			Timestamp: time.Now(),
		}
	}
	return fmt.Sprintf("%s/city/%s/%s", base, strings.ToLower(s.jur.State),
		url.PathEscape(strings.ReplaceAll(city, " ", "-"))), nil
}

func parseRetryAfter(header string) *time.Time {
	if header == "" {
		return nil
	}
	if d, err := time.ParseDuration(header + "s"); err == nil {
		t := time.Now().Add(d)
		return &t
	}
	if t, err := http.ParseTime(header); err == nil {
		return &t
	}
	return nil
}

// ---- JSON-LD extraction ----

type redfinJSONLD struct {
	Type    string `json:"@type"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Address struct {
		StreetAddress   string `json:"streetAddress"`
		AddressLocality string `json:"addressLocality"`
		AddressRegion   string `json:"addressRegion"`
		PostalCode      string `json:"postalCode"`
	} `json:"address"`
	Geo struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"geo"`
	NumberOfRooms    int `json:"numberOfRooms"`
	NumberOfBedrooms int `json:"numberOfBedrooms"`
	FloorSize        struct {
		Value float64 `json:"value"`
	} `json:"floorSize"`
	NumberOfBathrooms float64 `json:"numberOfBathroomsTotal"`
	YearBuilt         int     `json:"yearBuilt"`
	Offers            struct {
		Price float64 `json:"price"`
	} `json:"offers"`
	Image []string `json:"image"`
	SKU   string   `json:"sku"`
}

// parseRedfinListings reads every JSON-LD block on the page and maps
// residence entries to raw records. Blocks that fail to decode are skipped;
// the parse fails only when the HTML itself cannot be read.
func parseRedfinListings(r io.Reader) ([]models.RawPropertyRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var records []models.RawPropertyRecord
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		for _, entry := range decodeJSONLD(text) {
			if rec, ok := redfinRecord(entry, []byte(text)); ok {
				records = append(records, rec)
			}
		}
	})
	return records, nil
}

// decodeJSONLD tolerates both a single object and an array of objects.
func decodeJSONLD(text string) []redfinJSONLD {
	var list []redfinJSONLD
	if err := json.Unmarshal([]byte(text), &list); err == nil {
		return list
	}
	var single redfinJSONLD
	if err := json.Unmarshal([]byte(text), &single); err == nil {
		return []redfinJSONLD{single}
	}
	return nil
}

func redfinRecord(entry redfinJSONLD, raw []byte) (models.RawPropertyRecord, bool) {
	switch entry.Type {
	case "SingleFamilyResidence", "Residence", "Product":
	default:
		return models.RawPropertyRecord{}, false
	}
	if entry.Address.StreetAddress == "" {
		return models.RawPropertyRecord{}, false
	}

	beds := entry.NumberOfBedrooms
	if beds == 0 {
		beds = entry.NumberOfRooms
	}

	pageURL := entry.URL
	if strings.HasPrefix(pageURL, "/") {
		pageURL = "https://www.redfin.com" + pageURL
	}

	// Product blocks carry no property type; residence blocks map theirs.
	propertyType := ""
	if entry.Type != "Product" {
		propertyType = normalizePropertyType(entry.Type)
	}

	return models.RawPropertyRecord{
		Address:         entry.Address.StreetAddress,
		City:            entry.Address.AddressLocality,
		State:           entry.Address.AddressRegion,
		Zip:             entry.Address.PostalCode,
		Price:           entry.Offers.Price,
		Beds:            beds,
		Baths:           entry.NumberOfBathrooms,
		SqFt:            int(entry.FloorSize.Value),
		YearBuilt:       entry.YearBuilt,
		PropertyType:    propertyType,
		Lat:             entry.Geo.Latitude,
		Lng:             entry.Geo.Longitude,
		ListingStatus:   models.ListingStatusActive,
		Source:          models.SourceRedfin,
		SourceListingID: entry.SKU,
		SourceURL:       pageURL,
		ImageURLs:       entry.Image,
		RawData:         raw,
	}, true
}
