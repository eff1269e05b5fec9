package provider

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

// RetryConfig bounds how hard RetryingProvider tries before giving up.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration // per call, across all attempts
}

// DefaultRetryConfig suits a local file store or a nearby data service.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Timeout:        30 * time.Second,
}

// RetryingProvider retries transient provider failures with jittered
// exponential backoff. Data gaps are returned immediately.
type RetryingProvider struct {
	next   MarketDataProvider
	logger logrus.FieldLogger
	config RetryConfig
}

// NewRetryingProvider wraps next. The optional config overrides DefaultRetryConfig.
func NewRetryingProvider(next MarketDataProvider, logger logrus.FieldLogger, config ...RetryConfig) *RetryingProvider {
	cfg := DefaultRetryConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RetryingProvider{next: next, logger: logger, config: cfg}
}

// UnderlyingPrice implements MarketDataProvider.
func (r *RetryingProvider) UnderlyingPrice(ctx context.Context, symbol string, at time.Time) (float64, error) {
	return withRetry(ctx, r, "underlying "+symbol, func(ctx context.Context) (float64, error) {
		return r.next.UnderlyingPrice(ctx, symbol, at)
	})
}

// OptionBars implements MarketDataProvider.
func (r *RetryingProvider) OptionBars(ctx context.Context, req OptionBarsRequest) ([]models.PriceBar, error) {
	op := fmt.Sprintf("option bars %s %d %s %s", req.Symbol, req.Strike, req.Right, req.Date)
	return withRetry(ctx, r, op, func(ctx context.Context) ([]models.PriceBar, error) {
		return r.next.OptionBars(ctx, req)
	})
}

func withRetry[T any](ctx context.Context, r *RetryingProvider, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("operation canceled: %w", ctx.Err())
		}
		if callCtx.Err() != nil {
			return zero, r.timedOut(op, callCtx.Err())
		}

		v, err := fn(callCtx)
		if err == nil {
			if attempt > 0 {
				r.logger.WithField("attempt", attempt+1).Infof("%s succeeded after retry", op)
			}
			return v, nil
		}
		lastErr = err

		// A call cut off by the per-call deadline is an unreachable source,
		// whatever error the underlying provider chose to return.
		if callCtx.Err() != nil {
			if ctx.Err() != nil {
				return zero, fmt.Errorf("operation canceled: %w", ctx.Err())
			}
			return zero, r.timedOut(op, callCtx.Err())
		}

		if !isTransientError(err) || attempt == r.config.MaxRetries {
			break
		}

		r.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"backoff": backoff,
		}).Warnf("%s failed, retrying", op)

		select {
		case <-time.After(backoff):
			backoff = r.nextBackoff(backoff)
		case <-callCtx.Done():
			if ctx.Err() != nil {
				return zero, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
			}
			return zero, r.timedOut(op, callCtx.Err())
		}
	}

	if !isTransientError(lastErr) {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, r.config.MaxRetries+1, lastErr)
}

// timedOut reports an exhausted per-call deadline as ErrProviderUnavailable.
func (r *RetryingProvider) timedOut(op string, cause error) error {
	return fmt.Errorf("%w: %s timed out after %v: %w", models.ErrProviderUnavailable, op, r.config.Timeout, cause)
}

func (r *RetryingProvider) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > r.config.MaxBackoff {
		backoff = r.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			r.logger.WithError(err).Debug("failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

// isTransientError reports whether err is worth another attempt. A missing
// file or bar never becomes present by waiting.
func isTransientError(err error) bool {
	if err == nil || errors.Is(err, models.ErrDataGap) {
		return false
	}
	return errors.Is(err, models.ErrProviderUnavailable)
}

var _ MarketDataProvider = (*RetryingProvider)(nil)
