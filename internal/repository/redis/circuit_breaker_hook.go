package redis

import (
	"context"
	"errors"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"hongson-portal/internal/metrics"
	"hongson-portal/internal/util"
)

// CircuitBreakerHook makes Redis commands fail fast with
// gobreaker.ErrOpenState once Redis has been failing for a while.
type CircuitBreakerHook struct {
	cb *gobreaker.CircuitBreaker
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

// NewCircuitBreakerHook trips after at least 5 requests with a 60% failure
// rate inside a 10s window, and probes again after 30s.
func NewCircuitBreakerHook() *CircuitBreakerHook {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			util.Warn("Circuit breaker state changed",
				zap.String("component", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))

			metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &CircuitBreakerHook{cb: cb}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

// ProcessHook counts redis.Nil as a success.
func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		var cmdErr error
		_, err := h.cb.Execute(func() (interface{}, error) {
			cmdErr = next(ctx, cmd)
			if cmdErr != nil && !errors.Is(cmdErr, goredis.Nil) {
				return nil, cmdErr
			}
			return nil, nil
		})
		if err != nil {
			return err
		}
		return cmdErr
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		_, err := h.cb.Execute(func() (interface{}, error) {
			return nil, next(ctx, cmds)
		})
		return err
	}
}

func (h *CircuitBreakerHook) State() gobreaker.State {
	return h.cb.State()
}

func (h *CircuitBreakerHook) Counts() gobreaker.Counts {
	return h.cb.Counts()
}
