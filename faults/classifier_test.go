package faults

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"propingest/models"
)

func TestClassify_TypedErrorPassesThrough(t *testing.T) {
	h := NewHandler()
	in := &models.ScrapeError{
		Type:      models.ErrorTypeRateLimit,
		Message:   "hourly cap of 10 requests reached",
		Source:    "redfin",
		Timestamp: time.Now(),
		Retryable: true,
	}
	out := h.Classify(in, models.SourceRedfin, "https://example.com/1")
	if out.Type != models.ErrorTypeRateLimit {
		t.Fatalf("expected RATE_LIMIT, got %s", out.Type)
	}
	if out.URL != "https://example.com/1" {
		t.Fatalf("expected url stamped, got %q", out.URL)
	}
}

func TestClassify_WrappedTypedError(t *testing.T) {
	h := NewHandler()
	inner := &models.ScrapeError{Type: models.ErrorTypeBlocked, Message: "403", Retryable: false}
	wrapped := fmt.Errorf("scrape page: %w", inner)
	out := h.Classify(wrapped, models.SourceZillow, "")
	if out.Type != models.ErrorTypeBlocked {
		t.Fatalf("expected BLOCKED through wrap, got %s", out.Type)
	}
	if out.Retryable {
		t.Fatal("blocked must not be retryable")
	}
}

func TestClassify_DeadlineExceeded(t *testing.T) {
	h := NewHandler()
	out := h.Classify(context.DeadlineExceeded, models.SourceZillow, "")
	if out.Type != models.ErrorTypeTimeout {
		t.Fatalf("expected TIMEOUT, got %s", out.Type)
	}
}

func TestClassify_URLError(t *testing.T) {
	h := NewHandler()
	err := &url.Error{Op: "Get", URL: "https://x", Err: errors.New("connection refused")}
	out := h.Classify(err, models.SourceRedfin, "")
	if out.Type != models.ErrorTypeNetwork {
		t.Fatalf("expected NETWORK_ERROR, got %s", out.Type)
	}
}

func TestClassify_MessageHeuristics(t *testing.T) {
	h := NewHandler()
	cases := []struct {
		msg  string
		want models.ErrorType
	}{
		{"got 429 too many requests", models.ErrorTypeRateLimit},
		{"captcha challenge presented", models.ErrorTypeBlocked},
		{"failed to unmarshal payload", models.ErrorTypeParse},
		{"missing required fields: address", models.ErrorTypeInvalidData},
		{"connection reset by peer", models.ErrorTypeNetwork},
		{"some novel failure", models.ErrorTypeUnknown},
	}
	for _, tc := range cases {
		out := h.Classify(errors.New(tc.msg), models.SourceZillow, "")
		if out.Type != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.msg, tc.want, out.Type)
		}
	}
}

func TestClassify_UnknownIsRetryable(t *testing.T) {
	h := NewHandler()
	out := h.Classify(errors.New("some novel failure"), models.SourceZillow, "")
	if !out.Retryable {
		t.Fatal("unknown errors get a conservative retry budget, not zero")
	}
}

func TestClassify_BlockedURLJoinsBlockedSet(t *testing.T) {
	h := NewHandler()
	u := "https://www.zillow.com/homedetails/1"
	h.Classify(errors.New("access denied by captcha"), models.SourceZillow, u)
	if !h.IsBlocked(u) {
		t.Fatal("blocked URL should be refused afterward")
	}
	h.Unblock(u)
	if h.IsBlocked(u) {
		t.Fatal("unblock should lift the refusal")
	}
}

func TestClearBlocked(t *testing.T) {
	h := NewHandler()
	h.Block("https://a")
	h.Block("https://b")
	if h.BlockedCount() != 2 {
		t.Fatalf("expected 2 blocked, got %d", h.BlockedCount())
	}
	h.ClearBlocked()
	if h.BlockedCount() != 0 {
		t.Fatalf("expected empty blocked set, got %d", h.BlockedCount())
	}
}

func TestMetrics_CountsPerSourceAndType(t *testing.T) {
	h := NewHandler()
	h.Classify(errors.New("connection refused"), models.SourceZillow, "https://z/1")
	h.Classify(errors.New("connection refused"), models.SourceZillow, "https://z/2")
	h.Classify(errors.New("connection refused"), models.SourceRedfin, "https://r/1")

	var zillowNet *models.ErrorMetric
	for _, m := range h.Metrics() {
		m := m
		if m.Source == "zillow" && m.Type == models.ErrorTypeNetwork {
			zillowNet = &m
		}
	}
	if zillowNet == nil {
		t.Fatal("expected a zillow/NETWORK_ERROR bucket")
	}
	if zillowNet.Count != 2 {
		t.Fatalf("expected count 2, got %d", zillowNet.Count)
	}
	if len(zillowNet.RecentURLs) != 2 {
		t.Fatalf("expected 2 recent urls, got %d", len(zillowNet.RecentURLs))
	}
}

func TestMetrics_RecentURLsCapped(t *testing.T) {
	h := NewHandler()
	for i := 0; i < 25; i++ {
		h.Classify(errors.New("connection refused"), models.SourceZillow,
			fmt.Sprintf("https://z/%d", i))
	}
	for _, m := range h.Metrics() {
		if len(m.RecentURLs) > maxRecentURLsPerKey {
			t.Fatalf("recent urls exceeded cap: %d", len(m.RecentURLs))
		}
	}
}

func TestResetMetrics_KeepsBlockedSet(t *testing.T) {
	h := NewHandler()
	h.Classify(errors.New("access denied"), models.SourceZillow, "https://z/banned")
	h.ResetMetrics()
	if len(h.Metrics()) != 0 {
		t.Fatal("metrics should be empty after reset")
	}
	if !h.IsBlocked("https://z/banned") {
		t.Fatal("blocked set must survive a metrics reset")
	}
}

func TestAuditLog_Bounded(t *testing.T) {
	h := NewHandler()
	for i := 0; i < maxAuditEntries+200; i++ {
		h.Classify(errors.New("connection refused"), models.SourceZillow, "")
	}
	h.mu.Lock()
	n := len(h.audit)
	h.mu.Unlock()
	if n != maxAuditEntries {
		t.Fatalf("expected audit capped at %d, got %d", maxAuditEntries, n)
	}
}

func TestHealth_Transitions(t *testing.T) {
	h := NewHandler()
	if got := h.Health().Status; got != models.HealthStatusHealthy {
		t.Fatalf("fresh handler should be healthy, got %s", got)
	}

	for i := 0; i < 60; i++ {
		h.Classify(errors.New("connection refused"), models.SourceZillow, "")
	}
	if got := h.Health().Status; got != models.HealthStatusDegraded {
		t.Fatalf("expected degraded at 60 errors, got %s", got)
	}

	for i := 0; i < 50; i++ {
		h.Classify(errors.New("connection refused"), models.SourceZillow, "")
	}
	if got := h.Health().Status; got != models.HealthStatusCritical {
		t.Fatalf("expected critical past 100 errors, got %s", got)
	}
}

func TestHealth_Recommendations(t *testing.T) {
	h := NewHandler()
	for i := 0; i < 15; i++ {
		h.Classify(errors.New("429 too many requests"), models.SourceRedfin, "")
	}
	report := h.Health()
	if len(report.Recommendations) == 0 {
		t.Fatal("expected a rate-limit recommendation")
	}
}

func TestHealth_OldErrorsOutsideWindow(t *testing.T) {
	h := NewHandler()
	current := time.Now()
	h.now = func() time.Time { return current }

	for i := 0; i < 150; i++ {
		h.Classify(errors.New("connection refused"), models.SourceZillow, "")
	}
	if got := h.Health().Status; got != models.HealthStatusCritical {
		t.Fatalf("expected critical, got %s", got)
	}

	// Two hours later the same errors no longer count
	current = current.Add(2 * time.Hour)
	if got := h.Health().Status; got != models.HealthStatusHealthy {
		t.Fatalf("expected healthy after window passed, got %s", got)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	errors []models.ScrapeError
}

func (s *recordingSink) RecordError(e *models.ScrapeError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, *e)
}

func TestAuditSink_ReceivesClassifiedErrors(t *testing.T) {
	h := NewHandler()
	sink := &recordingSink{}
	h.SetAuditSink(sink)

	h.Classify(errors.New("connection refused"), models.SourceZillow, "https://z/1")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.errors) != 1 {
		t.Fatalf("expected 1 sink delivery, got %d", len(sink.errors))
	}
	if sink.errors[0].Type != models.ErrorTypeNetwork {
		t.Fatalf("expected NETWORK_ERROR in sink, got %s", sink.errors[0].Type)
	}
}
