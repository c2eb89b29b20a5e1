package models

// SearchCriteria drives a source search. Zip takes priority over City when
// both are set (most specific wins).
type SearchCriteria struct {
	MinPrice     float64 `json:"min_price,omitempty" yaml:"min_price"`
	MaxPrice     float64 `json:"max_price,omitempty" yaml:"max_price"`
	MinBeds      int     `json:"min_beds,omitempty" yaml:"min_beds"`
	MinBaths     float64 `json:"min_baths,omitempty" yaml:"min_baths"`
	MinSqFt      int     `json:"min_sqft,omitempty" yaml:"min_sqft"`
	MinLotSqFt   int     `json:"min_lot_sqft,omitempty" yaml:"min_lot_sqft"`
	PropertyType string  `json:"property_type,omitempty" yaml:"property_type"`
	HomeStyle    string  `json:"home_style,omitempty" yaml:"home_style"`
	Pool         *bool   `json:"pool,omitempty" yaml:"pool"`
	HOA          *bool   `json:"hoa,omitempty" yaml:"hoa"`
	MinGarage    int     `json:"min_garage,omitempty" yaml:"min_garage"`
	Zip          string  `json:"zip,omitempty" yaml:"zip"`
	City         string  `json:"city,omitempty" yaml:"city"`
}

// Location returns the most specific location given (zip wins over city).
func (c *SearchCriteria) Location() string {
	if c.Zip != "" {
		return c.Zip
	}
	return c.City
}

// UserPreferences mirrors the saved-preference row a user maintains in the
// app. Plural fields hold every value the user saved; the pipeline uses the
// first when deriving search criteria.
type UserPreferences struct {
	UserID        string   `json:"user_id" db:"user_id"`
	Zips          []string `json:"zips" db:"zips"`
	Cities        []string `json:"cities" db:"cities"`
	MinPrice      float64  `json:"min_price" db:"min_price"`
	MaxPrice      float64  `json:"max_price" db:"max_price"`
	MinBeds       int      `json:"min_beds" db:"min_beds"`
	MinBaths      float64  `json:"min_baths" db:"min_baths"`
	WantsPool     *bool    `json:"wants_pool" db:"wants_pool"`
	AvoidHOA      *bool    `json:"avoid_hoa" db:"avoid_hoa"`
	HomeStyles    []string `json:"home_styles" db:"home_styles"`
	PropertyTypes []string `json:"property_types" db:"property_types"`
}
