package queue

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrPermanent marks a handler error that retrying cannot fix
var ErrPermanent = errors.New("permanent task failure")

// Permanent wraps err so the task goes to the DLQ without retries
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// RetryManager manages retry logic for failed tasks
type RetryManager struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRetryManager creates a new RetryManager
func NewRetryManager(baseDelay time.Duration) *RetryManager {
	return &RetryManager{
		baseDelay: baseDelay,
		maxDelay:  baseDelay * 16, // Maximum 16x base delay
	}
}

// ShouldRetry determines if a task should be retried and returns the delay
func (r *RetryManager) ShouldRetry(task *Task, err error) (bool, time.Duration) {
	if err == nil || task.Attempts >= task.MaxRetries {
		return false, 0
	}
	if errors.Is(err, ErrPermanent) {
		return false, 0
	}

	return true, r.calculateBackoff(task.Attempts)
}

// calculateBackoff calculates exponential backoff delay with jitter
func (r *RetryManager) calculateBackoff(attempt int) time.Duration {
	if attempt <= 0 || r.baseDelay <= 0 {
		return r.baseDelay
	}

	// Exponential backoff: base * 2^(attempt-1)
	backoff := r.baseDelay * time.Duration(1<<(attempt-1))

	// Apply jitter (±25%)
	if quarter := int64(backoff / 4); quarter > 0 {
		jitter := time.Duration(rand.Int63n(quarter))
		if rand.Intn(2) == 0 {
			backoff += jitter
		} else {
			backoff -= jitter
		}
	}

	// Cap at maximum delay
	if backoff > r.maxDelay {
		backoff = r.maxDelay
	}

	return backoff
}
