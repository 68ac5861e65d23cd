package search

import (
	"time"

	"github.com/aluiziolira/go-eurobuch/config"
)

type retryPolicy struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
}

func newRetryPolicy(cfg *config.Config) retryPolicy {
	return retryPolicy{
		maxRetries: cfg.MaxRetries,
		base:       cfg.RetryBackoff,
		max:        cfg.RetryBackoffMax,
	}
}

// allow reports whether a retry may follow the given failed attempt (1-based).
func (rp retryPolicy) allow(attempt int, err error) bool {
	if rp.maxRetries <= 0 || attempt > rp.maxRetries {
		return false
	}
	return retryable(err)
}

func (rp retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rp.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if rp.max > 0 && delay > rp.max {
		delay = rp.max
	}
	return delay
}
