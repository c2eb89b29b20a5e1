package scraper

import (
	"fmt"
	"strings"
	"time"

	"propingest/config"
	"propingest/models"
)

// validateRecord accepts or rejects one extracted record before it reaches
// the queue layer. Rejections are INVALID_DATA and never retried.
func validateRecord(rec *models.RawPropertyRecord, jur config.Jurisdiction) error {
	var missing []string
	if strings.TrimSpace(rec.Address) == "" {
		missing = append(missing, "address")
	}
	if strings.TrimSpace(rec.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(rec.State) == "" {
		missing = append(missing, "state")
	}
	if strings.TrimSpace(rec.Zip) == "" {
		missing = append(missing, "zip")
	}
	if len(missing) > 0 {
		return invalidData(rec, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}
	if rec.Price <= 0 {
		return invalidData(rec, fmt.Sprintf("price must be positive, got %.0f", rec.Price))
	}
	if rec.Beds < 0 || rec.Baths < 0 {
		return invalidData(rec, "beds/baths must be non-negative")
	}
	if !strings.EqualFold(strings.TrimSpace(rec.State), jur.State) {
		return invalidData(rec, fmt.Sprintf("state %q outside supported jurisdiction %s", rec.State, jur.State))
	}
	return nil
}

// normalizePropertyType folds source-specific type labels (Zillow's
// "SINGLE_FAMILY", schema.org's "SingleFamilyResidence") into one lowercase
// vocabulary so criteria filters compare like with like. Unknown labels pass
// through lowercased; empty stays empty.
func normalizePropertyType(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return ""
	case "SINGLE_FAMILY", "SINGLEFAMILYRESIDENCE", "HOUSE":
		return "single_family"
	case "CONDO", "CONDOMINIUM":
		return "condo"
	case "TOWNHOUSE", "TOWNHOME":
		return "townhouse"
	case "MANUFACTURED", "MOBILE":
		return "manufactured"
	case "MULTI_FAMILY", "APARTMENT":
		return "multi_family"
	case "LOT", "LAND":
		return "land"
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}

// inJurisdiction applies the metro allow-list. Out-of-area records are
// silently dropped by callers, not reported as errors.
func inJurisdiction(rec *models.RawPropertyRecord, jur config.Jurisdiction) bool {
	return jur.Contains(rec.City, rec.Zip)
}

func invalidData(rec *models.RawPropertyRecord, msg string) *models.ScrapeError {
	return &models.ScrapeError{
		Type:      models.ErrorTypeInvalidData,
		Message:   msg,
		Source:    string(rec.Source),
		URL:       rec.SourceURL,
		Timestamp: time.Now(),
		Retryable: false,
	}
}

// acceptRecords filters a raw extraction down to the records the pipeline
// keeps: valid fields, supported state, inside the metro allow-list.
// Validation failures are returned; jurisdiction misses are dropped quietly.
func acceptRecords(raw []models.RawPropertyRecord, jur config.Jurisdiction) (kept []models.RawPropertyRecord, errs []models.ScrapeError) {
	for i := range raw {
		if err := validateRecord(&raw[i], jur); err != nil {
			if se, ok := err.(*models.ScrapeError); ok {
				errs = append(errs, *se)
			}
			continue
		}
		if !inJurisdiction(&raw[i], jur) {
			continue
		}
		kept = append(kept, raw[i])
	}
	return kept, errs
}
