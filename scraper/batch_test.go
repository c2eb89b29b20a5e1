package scraper

import (
	"testing"

	"propingest/models"
)

func TestScrapeBatch_PartialFailure(t *testing.T) {
	fetch := func(u string) (*models.RawPropertyRecord, error) {
		if u == "https://r/bad" {
			return nil, &models.ScrapeError{
				Type: models.ErrorTypeParse, Message: "no listing data on page",
				Source: string(models.SourceRedfin), URL: u, Retryable: true,
			}
		}
		rec := validRecord()
		rec.SourceURL = u
		return &rec, nil
	}

	result, err := scrapeBatch(models.SourceRedfin,
		[]string{"https://r/1", "https://r/bad", "https://r/2"}, fetch)
	if err != nil {
		t.Fatalf("partial failure must not fail the batch: %v", err)
	}
	if !result.Success {
		t.Fatal("batch with any success is successful")
	}
	if result.TotalFound != 3 || result.TotalProcessed != 2 {
		t.Fatalf("expected 3 found / 2 processed, got %d/%d", result.TotalFound, result.TotalProcessed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 recorded error, got %d", len(result.Errors))
	}
	if result.Errors[0].URL != "https://r/bad" {
		t.Fatalf("wrong error url %s", result.Errors[0].URL)
	}
}

func TestScrapeBatch_AllFail(t *testing.T) {
	fetch := func(u string) (*models.RawPropertyRecord, error) {
		return nil, &models.ScrapeError{
			Type: models.ErrorTypeNetwork, Message: "connection refused",
			Source: string(models.SourceRedfin), URL: u, Retryable: true,
		}
	}

	result, err := scrapeBatch(models.SourceRedfin, []string{"https://r/1", "https://r/2"}, fetch)
	if err == nil {
		t.Fatal("expected error when every url fails")
	}
	if result.Success {
		t.Fatal("all-failed batch must not be successful")
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(result.Errors))
	}
}

func TestScrapeBatch_EmptyInput(t *testing.T) {
	result, err := scrapeBatch(models.SourceRedfin, nil, func(string) (*models.RawPropertyRecord, error) {
		t.Fatal("fetch must not run for empty input")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if !result.Success {
		t.Fatal("empty batch is vacuously successful")
	}
}
