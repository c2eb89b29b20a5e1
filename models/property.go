package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusPending  ListingStatus = "pending"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusDelisted ListingStatus = "delisted"
)

// RawPropertyRecord is what a scraper extracts from a single source page,
// after normalization but before dedup.
type RawPropertyRecord struct {
	Address         string          `json:"address"`
	City            string          `json:"city"`
	State           string          `json:"state"`
	Zip             string          `json:"zip"`
	Price           float64         `json:"price"`
	Beds            int             `json:"beds"`
	Baths           float64         `json:"baths"`
	SqFt            int             `json:"sqft"`
	LotSqFt         int             `json:"lot_sqft"`
	YearBuilt       int             `json:"year_built"`
	PropertyType    string          `json:"property_type"`
	HOAFee          float64         `json:"hoa_fee"`
	HasPool         bool            `json:"has_pool"`
	GarageSpaces    int             `json:"garage_spaces"`
	Schools         []string        `json:"schools"`
	Lat             float64         `json:"lat"`
	Lng             float64         `json:"lng"`
	ListingStatus   ListingStatus   `json:"listing_status"`
	Source          SourceID        `json:"source"`
	SourceListingID string          `json:"source_listing_id"`
	SourceURL       string          `json:"source_url"`
	ImageURLs       []string        `json:"image_urls"`
	RawData         json.RawMessage `json:"raw_data"`
}

// PersistedProperty is the canonical deduplicated row, keyed by
// (address_key, zip). At most one row exists per key; scrapes either update
// its mutable fields or insert a new row. The pipeline never deletes rows.
type PersistedProperty struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	AddressKey      string          `json:"address_key" db:"address_key"`
	Address         string          `json:"address" db:"address"`
	City            string          `json:"city" db:"city"`
	State           string          `json:"state" db:"state"`
	Zip             string          `json:"zip" db:"zip"`
	Price           float64         `json:"price" db:"price"`
	Beds            int             `json:"beds" db:"beds"`
	Baths           float64         `json:"baths" db:"baths"`
	SqFt            int             `json:"sqft" db:"sqft"`
	LotSqFt         int             `json:"lot_sqft" db:"lot_sqft"`
	YearBuilt       int             `json:"year_built" db:"year_built"`
	PropertyType    string          `json:"property_type" db:"property_type"`
	HOAFee          float64         `json:"hoa_fee" db:"hoa_fee"`
	HasPool         bool            `json:"has_pool" db:"has_pool"`
	GarageSpaces    int             `json:"garage_spaces" db:"garage_spaces"`
	Schools         []string        `json:"schools" db:"schools"`
	Lat             float64         `json:"lat" db:"lat"`
	Lng             float64         `json:"lng" db:"lng"`
	ListingStatus   ListingStatus   `json:"listing_status" db:"listing_status"`
	Source          SourceID        `json:"source" db:"source"`
	SourceListingID string          `json:"source_listing_id" db:"source_listing_id"`
	SourceURL       string          `json:"source_url" db:"source_url"`
	PrimaryImageURL string          `json:"primary_image_url" db:"primary_image_url"`
	FirstSeenBy     string          `json:"first_seen_by,omitempty" db:"first_seen_by"`
	RawData         json.RawMessage `json:"raw_data" db:"raw_data"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	LastScrapedAt   time.Time       `json:"last_scraped_at" db:"last_scraped_at"`
}

// PropertyImage is an ordered child record for image URLs beyond the primary.
type PropertyImage struct {
	ID         int64     `json:"id" db:"id"`
	PropertyID uuid.UUID `json:"property_id" db:"property_id"`
	URL        string    `json:"url" db:"url"`
	Position   int       `json:"position" db:"position"`
	S3Key      *string   `json:"s3_key" db:"s3_key"`
	Status     string    `json:"status" db:"status"` // pending, uploaded, failed
	Attempts   int       `json:"attempts" db:"attempts"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Image archival status
const (
	ImageStatusPending  = "pending"
	ImageStatusUploaded = "uploaded"
	ImageStatusFailed   = "failed"
)

// ScrapeResult is the outcome of one search or batch scrape.
type ScrapeResult struct {
	Success        bool                `json:"success"`
	Source         SourceID            `json:"source"`
	Properties     []RawPropertyRecord `json:"properties"`
	TotalFound     int                 `json:"total_found"`
	TotalProcessed int                 `json:"total_processed"`
	Errors         []ScrapeError       `json:"errors"`
	DurationMs     int64               `json:"duration_ms"`
}
