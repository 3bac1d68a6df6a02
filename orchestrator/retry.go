package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rmachado/financedw/config"
	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/utils"
)

// retrier applies the stage-level retry policy: bounded exponential backoff,
// retryable errors only. A non-retryable error fails the stage immediately.
type retrier struct {
	policy config.RetryConfig
	logger *utils.PipelineLogger

	// sleep is swapped by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func newRetrier(policy config.RetryConfig, logger *utils.PipelineLogger) *retrier {
	return &retrier{
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Do runs fn, retrying retryable failures with exponential backoff until the
// attempt budget is exhausted. onRetry reports each wait to the status
// tracker.
func (r *retrier) Do(ctx context.Context, stage string, fn func() error, onRetry func(attempt int)) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !models.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := Backoff(r.policy, attempt)
		r.logger.Info("Stage %s attempt %d/%d failed (%v), retrying in %v",
			stage, attempt, r.policy.MaxAttempts, lastErr, delay)

		if onRetry != nil {
			onRetry(attempt)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("stage %s exhausted %d attempts: %w", stage, r.policy.MaxAttempts, lastErr)
}

// Backoff returns the wait before the given retry attempt: base * 2^(n-1),
// capped at the policy maximum.
func Backoff(policy config.RetryConfig, attempt int) time.Duration {
	delay := policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= policy.MaxDelay {
			return policy.MaxDelay
		}
	}
	if delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
