package nudge

import "time"

// RetryPolicy bounds redelivery of a notification whose delivery failed.
type RetryPolicy struct {
	// MaxAttempts is the total number of delivery attempts before the
	// notification is marked failed.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   5 * time.Second,
		MaxDelay:    5 * time.Minute,
	}
}

// Backoff returns the delay before the attempt following the given number of
// failed attempts: BaseDelay doubled per prior failure, capped at MaxDelay.
func (p RetryPolicy) Backoff(failures int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < failures; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether no attempts remain after the given number of
// failures.
func (p RetryPolicy) Exhausted(failures int) bool {
	return failures >= p.MaxAttempts
}
