package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/flowsim/pkg/schema"
)

// Backoff strategies for RetryPolicy.
const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy retries transient store writes made during a run. Attempts
// counts the first try; a policy with Attempts <= 1 never retries.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	Backoff  string
}

// DefaultRetryPolicy makes three attempts with exponential backoff from 50ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 50 * time.Millisecond, MaxDelay: time.Second, Backoff: BackoffExponential}
}

// IsRetryableError classifies whether a store error is worth another try.
// Store failures and network errors are; cancellation and every other
// FlowError code (validation, not found, conflict) are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if code := schema.ErrorCode(err); code != "" && code != schema.ErrCodeStore {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"database is locked",
		"sqlite_busy",
		"i/o timeout",
		"too many connections",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return schema.ErrorCode(err) == schema.ErrCodeStore
}

// ComputeBackoff returns the delay before retry number attempt (0-based),
// capped at MaxDelay when set.
func (p RetryPolicy) ComputeBackoff(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch p.Backoff {
	case BackoffExponential:
		delay = p.Delay << attempt
	case BackoffLinear:
		delay = p.Delay * time.Duration(attempt+1)
	default:
		delay = p.Delay
	}

	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay <= 0) {
		delay = p.MaxDelay
	}
	return delay
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts run out. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := max(p.Attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(ctx); err == nil || !IsRetryableError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if werr := waitForBackoff(ctx, p.ComputeBackoff(i)); werr != nil {
			return err
		}
	}
	return err
}

// waitForBackoff sleeps for delay or returns early if ctx is cancelled.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
