package faults

import (
	"time"

	"propingest/models"
)

const healthWindow = time.Hour

// Health thresholds from operating the pipeline: past ~100 errors/hour the
// sources are effectively down; past 50 something is systematically wrong.
const (
	criticalErrorRate = 100
	criticalBlocked   = 50
	degradedErrorRate = 50
	degradedBlocked   = 20
	rateLimitAdvisory = 10
	blockedAdvisory   = 5
)

// Health derives a status snapshot from errors observed in the trailing hour.
func (h *Handler) Health() models.HealthReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-healthWindow)
	var total, rateLimited, blockedErrs int
	for i := range h.audit {
		if h.audit[i].Timestamp.Before(cutoff) {
			continue
		}
		total++
		switch h.audit[i].Type {
		case models.ErrorTypeRateLimit:
			rateLimited++
		case models.ErrorTypeBlocked:
			blockedErrs++
		}
	}

	report := models.HealthReport{
		Status:       models.HealthStatusHealthy,
		ErrorRate:    total,
		BlockedCount: len(h.blocked),
	}

	switch {
	case total > criticalErrorRate || len(h.blocked) > criticalBlocked:
		report.Status = models.HealthStatusCritical
	case total > degradedErrorRate || len(h.blocked) > degradedBlocked:
		report.Status = models.HealthStatusDegraded
	}

	if rateLimited > rateLimitAdvisory {
		report.Recommendations = append(report.Recommendations,
			"high rate-limit error count: reduce request frequency")
	}
	if blockedErrs > blockedAdvisory {
		report.Recommendations = append(report.Recommendations,
			"repeated blocking responses: rotate identity/session")
	}

	return report
}
