package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"propingest/config"
	"propingest/models"
)

// zillowSource drives a headless browser session against Zillow's search
// pages and reads the embedded __NEXT_DATA__ payload instead of walking the
// DOM. The browser is acquired lazily on first use and must be released with
// Close after a batch of work.
type zillowSource struct {
	cfg *config.SourceConfig
	jur config.Jurisdiction

	mu          sync.Mutex
	pw          *playwright.Playwright
	browserCtx  playwright.BrowserContext
	initialized bool

	limiter *rateLimiter
}

func newZillowSource(cfg *config.SourceConfig, jur config.Jurisdiction) *zillowSource {
	return &zillowSource{
		cfg:     cfg,
		jur:     jur,
		limiter: newRateLimiter(models.SourceZillow, cfg.MinRequestDelay, cfg.HourlyCap),
	}
}

func (s *zillowSource) ID() models.SourceID { return models.SourceZillow }

func (s *zillowSource) SearchProperties(ctx context.Context, criteria models.SearchCriteria) (*models.ScrapeResult, error) {
	start := time.Now()
	result := &models.ScrapeResult{Source: models.SourceZillow}

	searchURL, err := s.searchURL(criteria)
	if err != nil {
		return result, err
	}
	data, err := s.fetchNextData(ctx, searchURL)
	if err != nil {
		return result, err
	}

	raw, err := parseZillowSearchJSON(data)
	if err != nil {
		return result, &models.ScrapeError{
			Type:      models.ErrorTypeParse,
			Message:   fmt.Sprintf("parse search results: %v", err),
			Source:    string(models.SourceZillow),
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

func (s *zillowSource) ScrapePropertyURL(ctx context.Context, pageURL string) (*models.RawPropertyRecord, error) {
	data, err := s.fetchNextData(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	rec, err := parseZillowPropertyJSON(data)
	if err != nil {
		return nil, &models.ScrapeError{
			Type:      models.ErrorTypeParse,
			Message:   fmt.Sprintf("parse property page: %v", err),
			Source:    string(models.SourceZillow),
			URL:       pageURL,
			Timestamp: time.Now(),
			Retryable: true,
		}
	}
	rec.SourceURL = pageURL

	if err := validateRecord(rec, s.jur); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *zillowSource) ScrapeMultipleURLs(ctx context.Context, urls []string) (*models.ScrapeResult, error) {
	return scrapeBatch(models.SourceZillow, urls, func(u string) (*models.RawPropertyRecord, error) {
		return s.ScrapePropertyURL(ctx, u)
	})
}

// fetchNextData navigates to a page and returns the __NEXT_DATA__ JSON blob.
// Rate limiting happens before the navigation, never after.
func (s *zillowSource) fetchNextData(ctx context.Context, pageURL string) ([]byte, error) {
	if err := s.limiter.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.ensureBrowser(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	browserCtx := s.browserCtx
	s.mu.Unlock()

	page, err := browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	defer page.Close()

	timeout := float64(s.cfg.JobTimeout.Milliseconds())
	if timeout <= 0 {
		timeout = 60000
	}
	if _, err := page.Goto(pageURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("read page content: %w", err)
	}
	if blocked := detectBlockPage(content); blocked != "" {
		return nil, &models.ScrapeError{
			Type:      models.ErrorTypeBlocked,
			Message:   fmt.Sprintf("bot detection triggered: %s", blocked),
			Source:    string(models.SourceZillow),
			URL:       pageURL,
			Timestamp: time.Now(),
			Retryable: false,
		}
	}

	result, err := page.Evaluate(`() => {
		const el = document.getElementById('__NEXT_DATA__');
		return el ? el.textContent : null;
	}`)
	if err != nil {
		return nil, fmt.Errorf("evaluate next data: %w", err)
	}
	str, ok := result.(string)
	if !ok || str == "" {
		return nil, &models.ScrapeError{
			Type:      models.ErrorTypeParse,
			Message:   "page carried no __NEXT_DATA__ payload",
			Source:    string(models.SourceZillow),
			URL:       pageURL,
			Timestamp: time.Now(),
			Retryable: true,
		}
	}
	return []byte(str), nil
}

func (s *zillowSource) ensureBrowser() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	var err error
	s.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	cwd, _ := os.Getwd()
	userDataDir := filepath.Join(cwd, "browser_data", "zillow")
	s.browserCtx, err = s.pw.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		s.pw.Stop()
		s.pw = nil
		return fmt.Errorf("launch browser: %w", err)
	}

	s.initialized = true
	return nil
}

// Close releases the browser session. Safe to call on every exit path,
// including when the session was never acquired.
func (s *zillowSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCtx != nil {
		s.browserCtx.Close()
		s.browserCtx = nil
	}
	if s.pw != nil {
		s.pw.Stop()
		s.pw = nil
	}
	s.initialized = false
}

func (s *zillowSource) searchURL(criteria models.SearchCriteria) (string, error) {
	base := s.cfg.Endpoints["search"]
	if base == "" {
		base = "https://www.zillow.com/homes/for_sale/"
	}
	location, err := searchLocation(criteria, s.jur, models.SourceZillow)
	if err != nil {
		return "", err
	}
	return base + url.PathEscape(location) + "_rb/", nil
}

// searchLocation resolves the location term for a search: the criteria's zip
// or city when given, else the jurisdiction's first city, else its first zip.
// A jurisdiction override can legitimately carry zips and no cities.
func searchLocation(criteria models.SearchCriteria, jur config.Jurisdiction, source models.SourceID) (string, error) {
	if loc := criteria.Location(); loc != "" {
		return loc, nil
	}
	if len(jur.Cities) > 0 {
		return jur.Cities[0], nil
	}
	if len(jur.Zips) > 0 {
		return jur.Zips[0], nil
	}
	return "", &models.ScrapeError{
		Type:      models.ErrorTypeInvalidData,
		Message:   "search has no location and the jurisdiction lists no cities or zips",
		Source:    string(source),
		Timestamp: time.Now(),
	}
}

func detectBlockPage(content string) string {
	triggers := []string{
		"Please verify you are a human",
		"px-captcha",
		"Access to this page has been denied",
		"captcha-delivery",
	}
	for _, t := range triggers {
		if strings.Contains(content, t) {
			return t
		}
	}
	return ""
}

// ---- JSON extraction ----

type zillowListResult struct {
	ZPID             string  `json:"zpid"`
	AddressStreet    string  `json:"addressStreet"`
	AddressCity      string  `json:"addressCity"`
	AddressState     string  `json:"addressState"`
	AddressZipcode   string  `json:"addressZipcode"`
	UnformattedPrice float64 `json:"unformattedPrice"`
	Beds             int     `json:"beds"`
	Baths            float64 `json:"baths"`
	Area             int     `json:"area"`
	DetailURL        string  `json:"detailUrl"`
	ImgSrc           string  `json:"imgSrc"`
	CarouselPhotos   []struct {
		URL string `json:"url"`
	} `json:"carouselPhotos"`
	Schools []struct {
		Name string `json:"name"`
	} `json:"schools"`
	HdpData struct {
		HomeInfo struct {
			LotAreaValue float64 `json:"lotAreaValue"`
			YearBuilt    int     `json:"yearBuilt"`
			Latitude     float64 `json:"latitude"`
			Longitude    float64 `json:"longitude"`
			HomeStatus   string  `json:"homeStatus"`
			HomeType     string  `json:"homeType"`
		} `json:"homeInfo"`
	} `json:"hdpData"`
}

type zillowNextData struct {
	Props struct {
		PageProps struct {
			SearchPageState struct {
				Cat1 struct {
					SearchResults struct {
						ListResults []json.RawMessage `json:"listResults"`
					} `json:"searchResults"`
				} `json:"cat1"`
			} `json:"searchPageState"`
			Property json.RawMessage `json:"property"`
		} `json:"pageProps"`
	} `json:"props"`
}

func parseZillowSearchJSON(data []byte) ([]models.RawPropertyRecord, error) {
	var next zillowNextData
	if err := json.Unmarshal(data, &next); err != nil {
		return nil, fmt.Errorf("unmarshal next data: %w", err)
	}

	rawResults := next.Props.PageProps.SearchPageState.Cat1.SearchResults.ListResults
	var records []models.RawPropertyRecord
	for _, rawResult := range rawResults {
		var r zillowListResult
		if err := json.Unmarshal(rawResult, &r); err != nil {
			log.Printf("Skipping unparseable zillow result: %v", err)
			continue
		}
		records = append(records, zillowRecord(&r, rawResult))
	}
	return records, nil
}

func parseZillowPropertyJSON(data []byte) (*models.RawPropertyRecord, error) {
	var next zillowNextData
	if err := json.Unmarshal(data, &next); err != nil {
		return nil, fmt.Errorf("unmarshal next data: %w", err)
	}
	raw := next.Props.PageProps.Property
	if len(raw) == 0 {
		return nil, fmt.Errorf("no property payload in page data")
	}
	var r zillowListResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal property: %w", err)
	}
	rec := zillowRecord(&r, raw)
	return &rec, nil
}

func zillowRecord(r *zillowListResult, raw json.RawMessage) models.RawPropertyRecord {
	photos := make([]string, 0, len(r.CarouselPhotos)+1)
	if r.ImgSrc != "" {
		photos = append(photos, r.ImgSrc)
	}
	for _, p := range r.CarouselPhotos {
		if p.URL != "" && p.URL != r.ImgSrc {
			photos = append(photos, p.URL)
		}
	}

	status := models.ListingStatusActive
	if strings.EqualFold(r.HdpData.HomeInfo.HomeStatus, "pending") {
		status = models.ListingStatusPending
	}

	detailURL := r.DetailURL
	if strings.HasPrefix(detailURL, "/") {
		detailURL = "https://www.zillow.com" + detailURL
	}

	var schools []string
	for _, sch := range r.Schools {
		if sch.Name != "" {
			schools = append(schools, sch.Name)
		}
	}

	return models.RawPropertyRecord{
		Address:         r.AddressStreet,
		City:            r.AddressCity,
		State:           r.AddressState,
		Zip:             r.AddressZipcode,
		Price:           r.UnformattedPrice,
		Beds:            r.Beds,
		Baths:           r.Baths,
		SqFt:            r.Area,
		LotSqFt:         int(r.HdpData.HomeInfo.LotAreaValue),
		YearBuilt:       r.HdpData.HomeInfo.YearBuilt,
		PropertyType:    normalizePropertyType(r.HdpData.HomeInfo.HomeType),
		Schools:         schools,
		Lat:             r.HdpData.HomeInfo.Latitude,
		Lng:             r.HdpData.HomeInfo.Longitude,
		ListingStatus:   status,
		Source:          models.SourceZillow,
		SourceListingID: r.ZPID,
		SourceURL:       detailURL,
		ImageURLs:       photos,
		RawData:         raw,
	}
}

// applyCriteria drops search results that miss the caller's filters. Search
// URLs only encode location; the numeric and type filters are applied here.
// A property-type filter only excludes records whose type is known and
// differs; records without a reported type are kept.
func applyCriteria(records []models.RawPropertyRecord, c models.SearchCriteria) []models.RawPropertyRecord {
	wantType := normalizePropertyType(c.PropertyType)
	var out []models.RawPropertyRecord
	for _, r := range records {
		if wantType != "" && r.PropertyType != "" && r.PropertyType != wantType {
			continue
		}
		if c.MinPrice > 0 && r.Price < c.MinPrice {
			continue
		}
		if c.MaxPrice > 0 && r.Price > c.MaxPrice {
			continue
		}
		if c.MinBeds > 0 && r.Beds < c.MinBeds {
			continue
		}
		if c.MinBaths > 0 && r.Baths < c.MinBaths {
			continue
		}
		if c.MinSqFt > 0 && r.SqFt < c.MinSqFt {
			continue
		}
		if c.MinLotSqFt > 0 && r.LotSqFt < c.MinLotSqFt {
			continue
		}
		if c.MinGarage > 0 && r.GarageSpaces < c.MinGarage {
			continue
		}
		if c.Pool != nil && r.HasPool != *c.Pool {
			continue
		}
		if c.HOA != nil && !*c.HOA && r.HOAFee > 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}
