package faults

import (
	"math"
	"math/rand"
	"time"

	"propingest/models"
)

// RetryPolicy is the per-type retry budget and backoff curve.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// Decision is the outcome of consulting the policy table for one failure.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// defaultPolicies maps every error type to its budget. BLOCKED is terminal:
// retrying a detection response amplifies ban risk. RATE_LIMIT gets one slow
// retry with no jitter so it lands after the remote window, not inside it.
// INVALID_DATA is terminal: re-fetching yields the same invalid record.
func defaultPolicies() map[models.ErrorType]RetryPolicy {
	return map[models.ErrorType]RetryPolicy{
		models.ErrorTypeNetwork: {
			MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second,
			BackoffMultiplier: 2, Jitter: true,
		},
		models.ErrorTypeTimeout: {
			MaxRetries: 3, InitialDelay: 2 * time.Second, MaxDelay: 60 * time.Second,
			BackoffMultiplier: 2, Jitter: true,
		},
		models.ErrorTypeRateLimit: {
			MaxRetries: 1, InitialDelay: 60 * time.Second, MaxDelay: time.Hour,
			BackoffMultiplier: 1, Jitter: false,
		},
		models.ErrorTypeParse: {
			MaxRetries: 1, InitialDelay: 5 * time.Second, MaxDelay: 5 * time.Second,
			BackoffMultiplier: 1, Jitter: false,
		},
		models.ErrorTypeBlocked: {
			MaxRetries: 0, InitialDelay: 0, MaxDelay: 0, BackoffMultiplier: 1,
		},
		models.ErrorTypeInvalidData: {
			MaxRetries: 0, InitialDelay: 0, MaxDelay: 0, BackoffMultiplier: 1,
		},
		models.ErrorTypeUnknown: {
			MaxRetries: 2, InitialDelay: 5 * time.Second, MaxDelay: 60 * time.Second,
			BackoffMultiplier: 2, Jitter: true,
		},
	}
}

// Decide returns whether the given classified failure should be retried on
// the given attempt number (1-based) and how long to wait first.
func (h *Handler) Decide(e *models.ScrapeError, attempt int) Decision {
	policy, ok := h.policies[e.Type]
	if !ok {
		policy = h.policies[models.ErrorTypeUnknown]
	}

	if attempt > policy.MaxRetries {
		return Decision{Retry: false}
	}

	delay := backoffDelay(policy, attempt)

	// An explicit retry-after from the source overrides the curve, clamped
	// to the type's ceiling.
	if e.RetryAfter != nil {
		until := e.RetryAfter.Sub(h.now())
		if until > policy.MaxDelay {
			until = policy.MaxDelay
		}
		if until > 0 {
			delay = until
		}
	}

	return Decision{Retry: true, Delay: delay}
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := time.Duration(float64(policy.InitialDelay) *
		math.Pow(policy.BackoffMultiplier, float64(attempt-1)))
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if policy.Jitter && delay > 0 {
		// ±25% multiplicative jitter keeps concurrent workers from
		// retrying in lockstep.
		factor := 0.75 + rand.Float64()*0.5
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}
