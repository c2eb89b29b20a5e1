package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"propingest/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Properties
// =============================================================================

const propertyColumns = `
	id, address_key, address, city, state, zip, price, beds, baths, sqft,
	lot_sqft, year_built, property_type, hoa_fee, has_pool, garage_spaces,
	schools, lat, lng, listing_status, source, source_listing_id, source_url,
	primary_image_url, first_seen_by, raw_data, created_at, last_scraped_at`

func scanProperty(row pgx.Row) (*models.PersistedProperty, error) {
	var p models.PersistedProperty
	err := row.Scan(
		&p.ID, &p.AddressKey, &p.Address, &p.City, &p.State, &p.Zip, &p.Price,
		&p.Beds, &p.Baths, &p.SqFt, &p.LotSqFt, &p.YearBuilt, &p.PropertyType,
		&p.HOAFee, &p.HasPool, &p.GarageSpaces, &p.Schools, &p.Lat, &p.Lng,
		&p.ListingStatus, &p.Source, &p.SourceListingID, &p.SourceURL,
		&p.PrimaryImageURL, &p.FirstSeenBy, &p.RawData, &p.CreatedAt,
		&p.LastScrapedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPropertyByAddressKey(ctx context.Context, addressKey string) (*models.PersistedProperty, error) {
	query := `SELECT` + propertyColumns + ` FROM properties WHERE address_key = $1`
	return scanProperty(s.pool.QueryRow(ctx, query, addressKey))
}

func (s *PostgresStore) GetPropertyByListingID(ctx context.Context, source models.SourceID, listingID string) (*models.PersistedProperty, error) {
	query := `SELECT` + propertyColumns + ` FROM properties WHERE source = $1 AND source_listing_id = $2`
	return scanProperty(s.pool.QueryRow(ctx, query, source, listingID))
}

func (s *PostgresStore) GetPropertyByID(ctx context.Context, id uuid.UUID) (*models.PersistedProperty, error) {
	query := `SELECT` + propertyColumns + ` FROM properties WHERE id = $1`
	return scanProperty(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) InsertProperty(ctx context.Context, p *models.PersistedProperty) error {
	query := `
		INSERT INTO properties (` + propertyColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.AddressKey, p.Address, p.City, p.State, p.Zip, p.Price,
		p.Beds, p.Baths, p.SqFt, p.LotSqFt, p.YearBuilt, p.PropertyType,
		p.HOAFee, p.HasPool, p.GarageSpaces, p.Schools, p.Lat, p.Lng,
		p.ListingStatus, p.Source, p.SourceListingID, p.SourceURL,
		p.PrimaryImageURL, p.FirstSeenBy, p.RawData, p.CreatedAt,
		p.LastScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("insert property: %w", err)
	}
	return nil
}

// UpdatePropertyListing refreshes the listing-mutable fields of an existing
// row. Identity fields and first_seen_by are never written here.
func (s *PostgresStore) UpdatePropertyListing(ctx context.Context, p *models.PersistedProperty) error {
	query := `
		UPDATE properties SET
			price = $2,
			beds = $3,
			baths = $4,
			sqft = $5,
			hoa_fee = $6,
			property_type = $7,
			schools = $8,
			listing_status = $9,
			source = $10,
			source_listing_id = $11,
			source_url = $12,
			primary_image_url = $13,
			raw_data = COALESCE($14, raw_data),
			last_scraped_at = $15
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Price, p.Beds, p.Baths, p.SqFt, p.HOAFee, p.PropertyType,
		p.Schools, p.ListingStatus, p.Source, p.SourceListingID, p.SourceURL,
		p.PrimaryImageURL, p.RawData, p.LastScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("update property listing: %w", err)
	}
	return nil
}

func (s *PostgresStore) LinkPropertyToUser(ctx context.Context, propertyID uuid.UUID, userID string) error {
	query := `
		INSERT INTO user_properties (user_id, property_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, property_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, userID, propertyID)
	if err != nil {
		return fmt.Errorf("link property to user: %w", err)
	}
	return nil
}

// =============================================================================
// Images
// =============================================================================

// InsertImages stores non-primary image URLs as ordered children. Re-scraped
// URLs are skipped, not duplicated.
func (s *PostgresStore) InsertImages(ctx context.Context, propertyID uuid.UUID, urls []string) error {
	query := `
		INSERT INTO property_images (property_id, url, position, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (property_id, url) DO NOTHING`

	for i, u := range urls {
		if _, err := s.pool.Exec(ctx, query, propertyID, u, i+1, models.ImageStatusPending); err != nil {
			return fmt.Errorf("insert image: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetPendingImages(ctx context.Context, limit int) ([]models.PropertyImage, error) {
	query := `
		SELECT id, property_id, url, position, s3_key, status, attempts, created_at
		FROM property_images
		WHERE status = $1 AND attempts < 3
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, models.ImageStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []models.PropertyImage
	for rows.Next() {
		var img models.PropertyImage
		if err := rows.Scan(&img.ID, &img.PropertyID, &img.URL, &img.Position,
			&img.S3Key, &img.Status, &img.Attempts, &img.CreatedAt); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *PostgresStore) UpdateImageStatus(ctx context.Context, id int64, status string, s3Key *string, attempts int) error {
	query := `UPDATE property_images SET status = $2, s3_key = $3, attempts = $4 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, status, s3Key, attempts)
	return err
}

// =============================================================================
// User preferences
// =============================================================================

func (s *PostgresStore) GetUserPreferences(ctx context.Context, userID string) (*models.UserPreferences, error) {
	query := `
		SELECT user_id, zips, cities, min_price, max_price, min_beds, min_baths,
			wants_pool, avoid_hoa, home_styles, property_types
		FROM user_preferences WHERE user_id = $1`

	var p models.UserPreferences
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.Zips, &p.Cities, &p.MinPrice, &p.MaxPrice, &p.MinBeds,
		&p.MinBaths, &p.WantsPool, &p.AvoidHOA, &p.HomeStyles, &p.PropertyTypes,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no preferences for user %s", userID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
