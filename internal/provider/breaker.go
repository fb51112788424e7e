package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultBreakerFailures    = 20
	defaultBreakerOpenTimeout = 30 * time.Second
)

type BreakerSettings struct {
	ConsecutiveFailures int
	OpenTimeout         time.Duration
}

var _ Provider = (*BreakerProvider)(nil)

// BreakerProvider stops calling a transport that keeps failing. Only transient
// failures count against the transport; permanent ones are recipient-specific.
type BreakerProvider struct {
	next    Provider
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerProvider(next Provider, settings BreakerSettings, logger *zap.Logger) *BreakerProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	failures := settings.ConsecutiveFailures
	if failures <= 0 {
		failures = defaultBreakerFailures
	}
	openTimeout := settings.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultBreakerOpenTimeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("transport circuit state changed",
				zap.String("transport", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &BreakerProvider{next: next, breaker: breaker}
}

func (p *BreakerProvider) Name() string { return p.next.Name() }

func (p *BreakerProvider) Send(ctx context.Context, msg OutboundMessage) (*ProviderResponse, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.next.Send(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &ProviderError{
			Message:   "transport circuit open",
			Transient: true,
			Cause:     err,
		}
	}
	if err != nil {
		return nil, err
	}

	response, _ := result.(*ProviderResponse)
	return response, nil
}

// State exposes the breaker state for readiness reporting.
func (p *BreakerProvider) State() string {
	return p.breaker.State().String()
}
