package gateway

import (
	"math/rand"
	"time"
)

// Policy controls the gateway's retry behavior. It is injected so that
// tests can substitute a zero-delay policy.
type Policy struct {
	// MaxAttempts bounds transport retries (total submissions, not re-tries).
	MaxAttempts int
	// SchemaRetries bounds re-submissions after a malformed response; each
	// carries a stricter format instruction.
	SchemaRetries int
	// BaseDelay is the first backoff delay; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// Jitter, when set, returns an extra delay added to each backoff.
	Jitter func() time.Duration
}

// DefaultPolicy mirrors the provider's observed failure profile: five
// transport attempts with exponential backoff plus up to a second of
// jitter, and two stricter re-asks for malformed responses.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   5,
		SchemaRetries: 2,
		BaseDelay:     2 * time.Second,
		MaxDelay:      60 * time.Second,
		Jitter: func() time.Duration {
			return time.Duration(rand.Float64() * float64(time.Second))
		},
	}
}

// Backoff returns the delay to sleep before the given attempt number
// (1-based; attempt 1 is the first retry).
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter != nil {
		delay += p.Jitter()
	}
	return delay
}
