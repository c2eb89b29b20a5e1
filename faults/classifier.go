package faults

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"propingest/models"
)

const (
	maxAuditEntries     = 1000
	maxRecentURLsPerKey = 10
)

type metricKey struct {
	source string
	kind   models.ErrorType
}

// AuditSink receives every classified error, for durable mirroring of the
// in-memory trail. Sink failures are ignored; the trail is diagnostic.
type AuditSink interface {
	RecordError(e *models.ScrapeError)
}

// Handler classifies raw failures into the pipeline taxonomy and owns the
// retry policy table, the bounded audit log, rolling metrics, and the
// blocked-URL set. It is safe for concurrent use and is constructed once at
// process start, then injected everywhere.
type Handler struct {
	mu       sync.Mutex
	audit    []models.ScrapeError
	metrics  map[metricKey]*models.ErrorMetric
	blocked  map[string]struct{}
	policies map[models.ErrorType]RetryPolicy
	sink     AuditSink

	now   func() time.Time
	sleep func(time.Duration)
}

func NewHandler() *Handler {
	return &Handler{
		metrics:  make(map[metricKey]*models.ErrorMetric),
		blocked:  make(map[string]struct{}),
		policies: defaultPolicies(),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// SetAuditSink attaches a durable mirror for classified errors.
func (h *Handler) SetAuditSink(sink AuditSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

// Classify wraps an arbitrary failure into a ScrapeError, records it in the
// audit log and metrics, and tracks BLOCKED URLs. It never fails: anything
// unrecognizable becomes UNKNOWN with a conservative retry budget.
func (h *Handler) Classify(err error, source models.SourceID, pageURL string) *models.ScrapeError {
	se := h.classify(err, source, pageURL)

	h.mu.Lock()
	h.audit = append(h.audit, *se)
	if len(h.audit) > maxAuditEntries {
		h.audit = h.audit[len(h.audit)-maxAuditEntries:]
	}

	key := metricKey{source: string(source), kind: se.Type}
	m, ok := h.metrics[key]
	if !ok {
		m = &models.ErrorMetric{Source: string(source), Type: se.Type}
		h.metrics[key] = m
	}
	m.Count++
	m.LastSeen = se.Timestamp
	if se.URL != "" {
		m.RecentURLs = appendDistinct(m.RecentURLs, se.URL, maxRecentURLsPerKey)
	}

	if se.Type == models.ErrorTypeBlocked && se.URL != "" {
		h.blocked[se.URL] = struct{}{}
	}
	sink := h.sink
	h.mu.Unlock()

	if sink != nil {
		sink.RecordError(se)
	}
	return se
}

func (h *Handler) classify(err error, source models.SourceID, pageURL string) *models.ScrapeError {
	se := &models.ScrapeError{
		Type:      models.ErrorTypeUnknown,
		Source:    string(source),
		URL:       pageURL,
		Timestamp: h.now(),
		Retryable: true,
	}
	if err == nil {
		se.Message = "unknown failure"
		return se
	}
	se.Message = err.Error()

	// Already-classified errors pass through with their original metadata,
	// re-stamped with source/url if the original lacked them.
	var already *models.ScrapeError
	if errors.As(err, &already) {
		out := *already
		if out.Source == "" {
			out.Source = string(source)
		}
		if out.URL == "" {
			out.URL = pageURL
		}
		if out.Timestamp.IsZero() {
			out.Timestamp = h.now()
		}
		return &out
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		se.Type = models.ErrorTypeTimeout
	case isTimeout(err):
		se.Type = models.ErrorTypeTimeout
	case isNetworkErr(err):
		se.Type = models.ErrorTypeNetwork
	default:
		se.Type = typeFromMessage(se.Message)
	}

	switch se.Type {
	case models.ErrorTypeBlocked, models.ErrorTypeInvalidData:
		se.Retryable = false
	}
	return se
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNetworkErr(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// typeFromMessage is the last-resort heuristic for failures that carry no
// typed cause, keyed on the phrases sources and parsers actually emit.
func typeFromMessage(msg string) models.ErrorType {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") ||
		strings.Contains(lower, "too many requests"):
		return models.ErrorTypeRateLimit
	case strings.Contains(lower, "captcha") || strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "blocked") || strings.Contains(lower, "403"):
		return models.ErrorTypeBlocked
	case strings.Contains(lower, "parse") || strings.Contains(lower, "unmarshal") ||
		strings.Contains(lower, "unexpected end of json") || strings.Contains(lower, "selector"):
		return models.ErrorTypeParse
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "missing required") ||
		strings.Contains(lower, "validation"):
		return models.ErrorTypeInvalidData
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return models.ErrorTypeTimeout
	case strings.Contains(lower, "connection") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network") || strings.Contains(lower, "refused") ||
		strings.Contains(lower, "reset by peer") || strings.Contains(lower, "eof"):
		return models.ErrorTypeNetwork
	default:
		return models.ErrorTypeUnknown
	}
}

// IsBlocked reports whether attempts against the URL are refused.
func (h *Handler) IsBlocked(pageURL string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.blocked[pageURL]
	return ok
}

func (h *Handler) Block(pageURL string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocked[pageURL] = struct{}{}
}

func (h *Handler) Unblock(pageURL string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.blocked, pageURL)
}

func (h *Handler) ClearBlocked() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocked = make(map[string]struct{})
}

func (h *Handler) BlockedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.blocked)
}

// Metrics returns a copy of the rolling (source, type) buckets.
func (h *Handler) Metrics() []models.ErrorMetric {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.ErrorMetric, 0, len(h.metrics))
	for _, m := range h.metrics {
		cp := *m
		cp.RecentURLs = append([]string(nil), m.RecentURLs...)
		out = append(out, cp)
	}
	return out
}

// ResetMetrics drops the audit log and all metric buckets. The blocked set
// survives: a ban does not expire because counters were cleared.
func (h *Handler) ResetMetrics() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audit = nil
	h.metrics = make(map[metricKey]*models.ErrorMetric)
}

func appendDistinct(urls []string, u string, cap int) []string {
	for _, existing := range urls {
		if existing == u {
			return urls
		}
	}
	urls = append(urls, u)
	if len(urls) > cap {
		urls = urls[len(urls)-cap:]
	}
	return urls
}
