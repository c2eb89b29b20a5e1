package services

import "propingest/models"

// CriteriaFromPreferences maps a user's saved preferences onto search
// criteria one-to-one. For plural preference fields only the first value
// carries over; a preferences row with three zips still produces one search.
func CriteriaFromPreferences(p *models.UserPreferences) models.SearchCriteria {
	c := models.SearchCriteria{
		MinPrice: p.MinPrice,
		MaxPrice: p.MaxPrice,
		MinBeds:  p.MinBeds,
		MinBaths: p.MinBaths,
		Pool:     p.WantsPool,
	}

	if p.AvoidHOA != nil && *p.AvoidHOA {
		noHOA := false
		c.HOA = &noHOA
	}
	if len(p.Zips) > 0 {
		c.Zip = p.Zips[0]
	}
	if len(p.Cities) > 0 {
		c.City = p.Cities[0]
	}
	if len(p.HomeStyles) > 0 {
		c.HomeStyle = p.HomeStyles[0]
	}
	if len(p.PropertyTypes) > 0 {
		c.PropertyType = p.PropertyTypes[0]
	}

	return c
}
