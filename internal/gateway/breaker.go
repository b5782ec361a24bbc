package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker placed in front of a gateway.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig suits a remote payment API.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "payment-gateway",
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             10 * time.Second,
		ConsecutiveFailures: 5,
	}
}

type breakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next so repeated transport failures stop further calls
// until the breaker half-opens. Calls rejected by the breaker return ErrUnavailable.
func WithBreaker(next Gateway, cfg BreakerConfig, logger *slog.Logger) Gateway {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnknownReference) || errors.Is(err, ErrDeclined)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("gateway breaker state change",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}
		},
	}
	return &breakerGateway{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerGateway) InitiateDeposit(ctx context.Context, amount int64, reference string) (Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.InitiateDeposit(ctx, amount, reference)
	})
	if err != nil {
		return Result{}, translateBreakerErr(err)
	}
	return out.(Result), nil
}

func (b *breakerGateway) InitiatePayout(ctx context.Context, amount int64, destination, reference string) (Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.InitiatePayout(ctx, amount, destination, reference)
	})
	if err != nil {
		return Result{}, translateBreakerErr(err)
	}
	return out.(Result), nil
}

func (b *breakerGateway) CheckStatus(ctx context.Context, ref string) (Status, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.CheckStatus(ctx, ref)
	})
	if err != nil {
		return "", translateBreakerErr(err)
	}
	return out.(Status), nil
}

func translateBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
