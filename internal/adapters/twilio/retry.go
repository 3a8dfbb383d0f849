package twilio

import (
	"context"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/ClareAI/astra-dialout-service/pkg/logger"
	"go.uber.org/zap"
)

// RetryPolicy describes how many extra attempts an origination gets for a
// given failure kind and how long to wait between them
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicies maps each dial failure kind to its policy. Invalid
// numbers fail immediately, carrier outages get a short exponential retry,
// quota exhaustion waits out the rate window once.
var DefaultRetryPolicies = map[domain.DialErrorKind]RetryPolicy{
	domain.DialErrorInvalidNumber:      {MaxAttempts: 1, Backoff: 0},
	domain.DialErrorCarrierUnavailable: {MaxAttempts: 3, Backoff: 2 * time.Second},
	domain.DialErrorQuotaExceeded:      {MaxAttempts: 2, Backoff: 15 * time.Second},
}

// OriginateWithRetry wraps Originate with the retry policy table. Backoff
// doubles per attempt for retryable kinds. Context cancellation aborts the
// wait immediately.
func (d *Dialer) OriginateWithRetry(ctx context.Context, callID string, req domain.CallRequest) (*domain.DialResult, error) {
	var lastErr error
	attempt := 0
	for {
		attempt++
		result, err := d.Originate(ctx, callID, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		dialErr, ok := domain.AsDialError(err)
		if !ok {
			return nil, err
		}
		policy := DefaultRetryPolicies[dialErr.Kind]
		if attempt >= policy.MaxAttempts {
			return nil, lastErr
		}

		wait := policy.Backoff * time.Duration(1<<(attempt-1))
		logger.Base().Warn("Dial attempt failed, retrying",
			zap.String("call_id", callID),
			zap.String("kind", string(dialErr.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}
