package services

import (
	"testing"

	"propingest/models"
)

func TestCriteriaFromPreferences_FirstValueWins(t *testing.T) {
	prefs := &models.UserPreferences{
		UserID:        "u1",
		Zips:          []string{"85254", "85255", "85258"},
		Cities:        []string{"Scottsdale", "Phoenix"},
		HomeStyles:    []string{"ranch", "contemporary"},
		PropertyTypes: []string{"single_family", "townhouse"},
		MinPrice:      300000,
		MaxPrice:      750000,
		MinBeds:       3,
		MinBaths:      2,
	}

	c := CriteriaFromPreferences(prefs)
	if c.Zip != "85254" {
		t.Fatalf("expected first zip, got %q", c.Zip)
	}
	if c.City != "Scottsdale" {
		t.Fatalf("expected first city, got %q", c.City)
	}
	if c.HomeStyle != "ranch" || c.PropertyType != "single_family" {
		t.Fatalf("expected first style/type, got %q/%q", c.HomeStyle, c.PropertyType)
	}
	if c.MinPrice != 300000 || c.MaxPrice != 750000 || c.MinBeds != 3 || c.MinBaths != 2 {
		t.Fatalf("scalar fields not carried over: %+v", c)
	}
}

func TestCriteriaFromPreferences_PoolAndHOA(t *testing.T) {
	wantsPool := true
	avoidHOA := true
	c := CriteriaFromPreferences(&models.UserPreferences{
		WantsPool: &wantsPool,
		AvoidHOA:  &avoidHOA,
	})
	if c.Pool == nil || !*c.Pool {
		t.Fatal("expected pool requirement carried over")
	}
	if c.HOA == nil || *c.HOA {
		t.Fatal("avoid-HOA should map to HOA=false")
	}
}

func TestCriteriaFromPreferences_Empty(t *testing.T) {
	c := CriteriaFromPreferences(&models.UserPreferences{UserID: "u2"})
	if c.Zip != "" || c.City != "" || c.Pool != nil || c.HOA != nil {
		t.Fatalf("empty preferences must map to empty criteria: %+v", c)
	}
}
