package queue

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"propingest/identity"
	"propingest/models"
)

// storeResults upserts each scraped record. A bad record is logged and
// skipped so the rest of the batch still lands. Returns the stored count.
func (m *Manager) storeResults(ctx context.Context, job *models.Job, records []models.RawPropertyRecord) int {
	stored := 0
	for i := range records {
		if err := m.upsertRecord(ctx, job, &records[i]); err != nil {
			log.Printf("[%s] store %s: %v", job.Source, records[i].Address, err)
			continue
		}
		stored++
	}
	return stored
}

// upsertRecord resolves identity by source listing ID first, then by the
// normalized address key, so the same house seen through two sources
// collapses into one row. New rows remember who first asked for them;
// updates never touch that link.
func (m *Manager) upsertRecord(ctx context.Context, job *models.Job, rec *models.RawPropertyRecord) error {
	key := identity.AddressKey(rec.Address, rec.Zip)
	now := time.Now()

	var existing *models.PersistedProperty
	var err error
	if rec.SourceListingID != "" {
		existing, err = m.store.GetPropertyByListingID(ctx, rec.Source, rec.SourceListingID)
		if err != nil {
			return err
		}
	}
	if existing == nil {
		existing, err = m.store.GetPropertyByAddressKey(ctx, key)
		if err != nil {
			return err
		}
	}

	if existing != nil {
		applyListingUpdate(existing, rec, now)
		if err := m.store.UpdatePropertyListing(ctx, existing); err != nil {
			return err
		}
		return m.storeImages(ctx, existing.ID, rec.ImageURLs)
	}

	prop := newPersistedProperty(rec, key, job.SubmittedBy, now)
	if err := m.store.InsertProperty(ctx, prop); err != nil {
		return err
	}
	if job.SubmittedBy != "" {
		if err := m.store.LinkPropertyToUser(ctx, prop.ID, job.SubmittedBy); err != nil {
			log.Printf("link property %s to user %s: %v", prop.ID, job.SubmittedBy, err)
		}
	}
	return m.storeImages(ctx, prop.ID, rec.ImageURLs)
}

// applyListingUpdate refreshes the fields a relisting can change. Identity
// fields (address, key, first-seen attribution) stay put.
func applyListingUpdate(p *models.PersistedProperty, rec *models.RawPropertyRecord, now time.Time) {
	p.Price = rec.Price
	p.ListingStatus = rec.ListingStatus
	p.SqFt = rec.SqFt
	p.Beds = rec.Beds
	p.Baths = rec.Baths
	p.HOAFee = rec.HOAFee
	p.SourceURL = rec.SourceURL
	// A later scrape can fill in a type or schools the first source omitted,
	// but an empty value never erases a known one.
	if rec.PropertyType != "" {
		p.PropertyType = rec.PropertyType
	}
	if len(rec.Schools) > 0 {
		p.Schools = rec.Schools
	}
	if rec.SourceListingID != "" {
		p.Source = rec.Source
		p.SourceListingID = rec.SourceListingID
	}
	if len(rec.RawData) > 0 {
		p.RawData = rec.RawData
	}
	if len(rec.ImageURLs) > 0 {
		p.PrimaryImageURL = rec.ImageURLs[0]
	}
	p.LastScrapedAt = now
}

func newPersistedProperty(rec *models.RawPropertyRecord, key, submittedBy string, now time.Time) *models.PersistedProperty {
	p := &models.PersistedProperty{
		ID:              uuid.New(),
		AddressKey:      key,
		Address:         rec.Address,
		City:            rec.City,
		State:           rec.State,
		Zip:             rec.Zip,
		Price:           rec.Price,
		Beds:            rec.Beds,
		Baths:           rec.Baths,
		SqFt:            rec.SqFt,
		LotSqFt:         rec.LotSqFt,
		YearBuilt:       rec.YearBuilt,
		PropertyType:    rec.PropertyType,
		HOAFee:          rec.HOAFee,
		HasPool:         rec.HasPool,
		GarageSpaces:    rec.GarageSpaces,
		Schools:         rec.Schools,
		Lat:             rec.Lat,
		Lng:             rec.Lng,
		ListingStatus:   rec.ListingStatus,
		SourceURL:       rec.SourceURL,
		Source:          rec.Source,
		SourceListingID: rec.SourceListingID,
		FirstSeenBy:     submittedBy,
		RawData:         rec.RawData,
		CreatedAt:       now,
		LastScrapedAt:   now,
	}
	if len(rec.ImageURLs) > 0 {
		p.PrimaryImageURL = rec.ImageURLs[0]
	}
	return p
}

// storeImages persists image URLs beyond the primary as ordered children.
func (m *Manager) storeImages(ctx context.Context, propertyID uuid.UUID, urls []string) error {
	if len(urls) < 2 {
		return nil
	}
	return m.store.InsertImages(ctx, propertyID, urls[1:])
}
