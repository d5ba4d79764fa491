package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker rejects a call without executing it.
var ErrCircuitOpen = circuitbreaker.ErrOpen

// Config configures an Executor.
type Config struct {
	// Name identifies the executor in logs.
	Name string

	// Retry settings. MaxRetries of zero disables retries.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Circuit breaker settings. A zero MinRequests disables the breaker.
	FailureRatio float64
	MinRequests  uint32
	OpenDelay    time.Duration

	// Retryable decides whether an error is worth another attempt and counts
	// against the breaker. Nil treats every error as retryable.
	Retryable func(error) bool

	Logger *zap.Logger
}

// DefaultConfig returns conservative defaults for outbound provider calls.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		MaxRetries:   2,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  10,
		OpenDelay:    15 * time.Second,
	}
}

func normalize(cfg Config) Config {
	if cfg.Name == "" {
		cfg.Name = "executor"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.OpenDelay <= 0 {
		cfg.OpenDelay = 15 * time.Second
	}
	if cfg.Retryable == nil {
		cfg.Retryable = func(error) bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// Executor runs calls through a retry policy and an optional circuit breaker.
type Executor struct {
	name     string
	executor failsafe.Executor[any]
}

// NewExecutor builds an executor from cfg.
func NewExecutor(cfg Config) *Executor {
	cfg = normalize(cfg)
	retryable := cfg.Retryable

	var policies []failsafe.Policy[any]

	if cfg.MaxRetries > 0 {
		retry := retrypolicy.NewBuilder[any]().
			WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
			WithMaxRetries(cfg.MaxRetries).
			WithJitterFactor(0.1).
			HandleIf(func(_ any, err error) bool {
				return err != nil && retryable(err)
			}).
			Build()
		policies = append(policies, retry)
	}

	if cfg.MinRequests > 0 {
		threshold := uint(float64(cfg.MinRequests) * cfg.FailureRatio)
		if threshold < 1 {
			threshold = 1
		}
		logger := cfg.Logger
		name := cfg.Name
		breaker := circuitbreaker.NewBuilder[any]().
			WithFailureThresholdRatio(threshold, uint(cfg.MinRequests)).
			WithDelay(cfg.OpenDelay).
			WithSuccessThreshold(1).
			HandleIf(func(_ any, err error) bool {
				return err != nil && retryable(err)
			}).
			OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
				logger.Warn("circuit breaker state change",
					zap.String("circuit_breaker", name),
					zap.String("from_state", stateName(event.OldState)),
					zap.String("to_state", stateName(event.NewState)),
				)
			}).
			Build()
		policies = append(policies, breaker)
	}

	return &Executor{
		name:     cfg.Name,
		executor: failsafe.With(policies...),
	}
}

// Name returns the executor name.
func (e *Executor) Name() string {
	return e.name
}

// Do executes fn under the configured policies. When retries are exhausted the
// returned error wraps the last error produced by fn; callers inspect it with errors.As.
func Do[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if e == nil {
		return fn(ctx)
	}
	result, err := e.executor.WithContext(ctx).Get(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("resilience: %s returned %T, want %T", e.name, result, zero)
	}
	return typed, nil
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}
