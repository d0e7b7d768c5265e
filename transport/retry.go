package transport

import (
	"time"
)

// RetryPolicy bounds the generic transient-failure retries. Only network
// errors and the fixed status allow-list are eligible; the auth-retry path
// (401 + refresh) is orthogonal and never goes through this policy.
type RetryPolicy struct {
	Attempts    uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
	StatusCodes []int
}

// DefaultRetryPolicy mirrors the transient-retry defaults of the original
// system: 3 attempts, exponential backoff from 1s capped at 30s with jitter,
// retrying 408/429/500/502/503/504.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:    3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      100 * time.Millisecond,
		StatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

func (p RetryPolicy) retryable(statusCode int) bool {
	for _, code := range p.StatusCodes {
		if code == statusCode {
			return true
		}
	}
	return false
}
