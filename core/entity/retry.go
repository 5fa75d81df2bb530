package entity

import "time"

// RetryPolicy bounds creation attempts against transient transport
// failures. Attempt k waits k*Step before the next try. The value is
// immutable and safe to share.
type RetryPolicy struct {
	MaxAttempts int
	Step        time.Duration
}

// DefaultRetryPolicy allows five attempts in total with linear backoff
// of one second per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Step: time.Second}
}

// Backoff returns the wait before the attempt following attempt k.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return time.Duration(attempt) * p.Step
}
