package scraper

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"propingest/config"
	"propingest/models"
)

func TestParseRedfinListings_Basic(t *testing.T) {
	records, err := parseRedfinListings(bytes.NewReader(loadFixture(t, "redfin_search.html")))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	rec := records[0]
	if rec.Address != "11410 E Cochise Dr" {
		t.Fatalf("unexpected address %s", rec.Address)
	}
	if rec.City != "Scottsdale" || rec.State != "AZ" || rec.Zip != "85259" {
		t.Fatalf("unexpected location %s %s %s", rec.City, rec.State, rec.Zip)
	}
	if rec.Price != 815000 {
		t.Fatalf("expected price 815000, got %.0f", rec.Price)
	}
	if rec.Beds != 4 || rec.Baths != 2.5 || rec.SqFt != 2480 {
		t.Fatalf("unexpected beds/baths/sqft %d/%.1f/%d", rec.Beds, rec.Baths, rec.SqFt)
	}
	if rec.SourceListingID != "28401177" {
		t.Fatalf("unexpected sku %s", rec.SourceListingID)
	}
	if rec.Source != models.SourceRedfin {
		t.Fatalf("unexpected source %s", rec.Source)
	}
	if !strings.HasPrefix(rec.SourceURL, "https://www.redfin.com/") {
		t.Fatalf("relative url not absolutized: %s", rec.SourceURL)
	}
	if len(rec.ImageURLs) != 2 {
		t.Fatalf("expected 2 images, got %d", len(rec.ImageURLs))
	}
	if rec.PropertyType != "single_family" {
		t.Fatalf("unexpected property type %q", rec.PropertyType)
	}

	// Second entry uses numberOfRooms as the bed count fallback
	if records[1].Beds != 2 {
		t.Fatalf("expected fallback bed count 2, got %d", records[1].Beds)
	}
	// Product blocks carry no property type
	if records[1].PropertyType != "" {
		t.Fatalf("expected empty property type, got %q", records[1].PropertyType)
	}
}

func TestParseRedfinListings_IgnoresNonResidenceBlocks(t *testing.T) {
	html := `<html><head>
		<script type="application/ld+json">{"@type":"Organization","name":"Redfin"}</script>
	</head><body></body></html>`
	records, err := parseRedfinListings(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records from non-listing blocks, got %d", len(records))
	}
}

func TestParseRedfinListings_SkipsEntriesWithoutAddress(t *testing.T) {
	html := `<html><head>
		<script type="application/ld+json">{"@type":"Product","name":"no address"}</script>
	</head><body></body></html>`
	records, err := parseRedfinListings(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter(""); got != nil {
		t.Fatal("empty header should yield nil")
	}

	got := parseRetryAfter("120")
	if got == nil {
		t.Fatal("numeric header should parse")
	}
	until := time.Until(*got)
	if until < 115*time.Second || until > 125*time.Second {
		t.Fatalf("expected ~120s out, got %s", until)
	}

	if got := parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"); got == nil {
		t.Fatal("HTTP-date header should parse")
	}
}

func TestRedfinSearchURL(t *testing.T) {
	s := &redfinSource{
		cfg: &config.SourceConfig{
			Endpoints: map[string]string{"search": "https://www.redfin.com"},
		},
		jur: testJurisdiction(),
	}

	mustURL := func(criteria models.SearchCriteria) string {
		t.Helper()
		got, err := s.searchURL(criteria)
		if err != nil {
			t.Fatalf("searchURL: %v", err)
		}
		return got
	}

	if got := mustURL(models.SearchCriteria{Zip: "85254"}); got != "https://www.redfin.com/zipcode/85254" {
		t.Fatalf("unexpected zip url %s", got)
	}
	if got := mustURL(models.SearchCriteria{City: "Fountain Hills"}); got != "https://www.redfin.com/city/az/Fountain-Hills" {
		t.Fatalf("unexpected city url %s", got)
	}
	// Zip wins when both are set
	if got := mustURL(models.SearchCriteria{Zip: "85254", City: "Phoenix"}); got != "https://www.redfin.com/zipcode/85254" {
		t.Fatalf("zip should take priority, got %s", got)
	}

	// A jurisdiction override can list zips with no cities.
	s.jur = config.Jurisdiction{State: "AZ", Zips: []string{"85254"}}
	if got := mustURL(models.SearchCriteria{}); got != "https://www.redfin.com/zipcode/85254" {
		t.Fatalf("expected zip fallback, got %s", got)
	}

	s.jur = config.Jurisdiction{State: "AZ"}
	if _, err := s.searchURL(models.SearchCriteria{}); err == nil {
		t.Fatal("expected error when no location can be resolved")
	}
}
