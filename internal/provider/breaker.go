package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/scranton_straddle/internal/models"
)

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips after five calls at a 60% failure rate.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// CircuitBreakerProvider stops hammering a failing data source. Data gaps
// are answers, not failures, and do not count toward tripping.
type CircuitBreakerProvider struct {
	next    MarketDataProvider
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerProvider wraps next with the given settings.
func NewCircuitBreakerProvider(next MarketDataProvider, settings CircuitBreakerSettings, logger logrus.FieldLogger) *CircuitBreakerProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrDataGap) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).
				Warnf("circuit breaker %s changed state", name)
		},
	}
	return &CircuitBreakerProvider{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State exposes the breaker state for health reporting.
func (c *CircuitBreakerProvider) State() gobreaker.State {
	return c.breaker.State()
}

// UnderlyingPrice implements MarketDataProvider.
func (c *CircuitBreakerProvider) UnderlyingPrice(ctx context.Context, symbol string, at time.Time) (float64, error) {
	return execCircuitBreaker(c.breaker, func() (float64, error) {
		return c.next.UnderlyingPrice(ctx, symbol, at)
	})
}

// OptionBars implements MarketDataProvider.
func (c *CircuitBreakerProvider) OptionBars(ctx context.Context, req OptionBarsRequest) ([]models.PriceBar, error) {
	return execCircuitBreaker(c.breaker, func() ([]models.PriceBar, error) {
		return c.next.OptionBars(ctx, req)
	})
}

// execCircuitBreaker is a generic helper for the wrapper methods. An open
// breaker is reported as the provider being unavailable.
func execCircuitBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
		}
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

var _ MarketDataProvider = (*CircuitBreakerProvider)(nil)
