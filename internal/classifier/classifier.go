// Package classifier maps handler errors to handling strategies. The
// decision depends on the error's category, never on message text.
package classifier

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/stratoshift/orchestrator/internal/orcherr"
	"go.uber.org/zap"
)

// Strategy names how a classified error should be handled.
type Strategy string

const (
	StrategyRetryBackoff   Strategy = "retry_with_backoff"
	StrategyCircuitBreaker Strategy = "retry_with_circuit_breaker"
	StrategyFailFast       Strategy = "fail_fast"
	StrategyManual         Strategy = "manual_intervention"
)

// Error categories reported in decisions.
const (
	ErrorTypeConnectivity = "connectivity"
	ErrorTypeValidation   = "validation"
	ErrorTypeRuntime      = "runtime"
)

// Decision is the immutable outcome of classifying one error.
type Decision struct {
	Strategy    Strategy      `json:"strategy"`
	ShouldRetry bool          `json:"should_retry"`
	RetryDelay  time.Duration `json:"retry_delay"`
	ErrorType   string        `json:"error_type"`
	Message     string        `json:"message"`
}

// Context describes the execution attempt being classified.
type Context struct {
	Operation  string
	Attempt    int // zero-based
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

// Defaults applied when context fields are unset.
const (
	DefaultMaxRetries = 3
	DefaultMultiplier = 2.0
	DefaultBaseDelay  = 500 * time.Millisecond
	maxBackoffDelay   = 30 * time.Second
)

// Config tunes the classifier's circuit breakers.
type Config struct {
	BreakerThreshold int
	BreakerCoolDown  time.Duration
}

// Classifier is a pure function of (error category, context) apart from
// its per-operation breaker counters, which live only for the process's
// lifetime.
type Classifier struct {
	breakers *breakerSet
	logger   *zap.Logger
}

// New creates a classifier
func New(cfg Config, logger *zap.Logger) *Classifier {
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCoolDown <= 0 {
		cfg.BreakerCoolDown = 30 * time.Second
	}
	return &Classifier{
		breakers: newBreakerSet(cfg.BreakerThreshold, cfg.BreakerCoolDown),
		logger:   logger,
	}
}

// Classify maps an error and its execution context to a handling
// decision.
func (c *Classifier) Classify(err error, ctx Context) Decision {
	ctx = ctx.withDefaults()

	switch {
	case isValidation(err):
		return Decision{
			Strategy:    StrategyFailFast,
			ShouldRetry: false,
			ErrorType:   ErrorTypeValidation,
			Message:     err.Error(),
		}

	case isConnectivity(err):
		retry := ctx.Attempt < ctx.MaxRetries
		return Decision{
			Strategy:    StrategyRetryBackoff,
			ShouldRetry: retry,
			RetryDelay:  backoffDelay(ctx),
			ErrorType:   ErrorTypeConnectivity,
			Message:     err.Error(),
		}

	default:
		br := c.breakers.get(ctx.Operation)
		br.recordFailure(time.Now())
		if br.open(time.Now()) {
			c.logger.Warn("Circuit opened for operation",
				zap.String("operation", ctx.Operation))
			return Decision{
				Strategy:    StrategyManual,
				ShouldRetry: false,
				ErrorType:   ErrorTypeRuntime,
				Message:     err.Error(),
			}
		}
		return Decision{
			Strategy:    StrategyCircuitBreaker,
			ShouldRetry: ctx.Attempt < ctx.MaxRetries,
			RetryDelay:  ctx.BaseDelay,
			ErrorType:   ErrorTypeRuntime,
			Message:     err.Error(),
		}
	}
}

// ReportSuccess resets the breaker for an operation after a successful
// execution.
func (c *Classifier) ReportSuccess(operation string) {
	c.breakers.get(operation).recordSuccess()
}

func (ctx Context) withDefaults() Context {
	if ctx.MaxRetries <= 0 {
		ctx.MaxRetries = DefaultMaxRetries
	}
	if ctx.Multiplier <= 1 {
		ctx.Multiplier = DefaultMultiplier
	}
	if ctx.BaseDelay <= 0 {
		ctx.BaseDelay = DefaultBaseDelay
	}
	return ctx
}

// backoffDelay computes base * multiplier^attempt, capped.
func backoffDelay(ctx Context) time.Duration {
	delay := ctx.BaseDelay
	for i := 0; i < ctx.Attempt; i++ {
		delay = time.Duration(float64(delay) * ctx.Multiplier)
		if delay >= maxBackoffDelay {
			return maxBackoffDelay
		}
	}
	return delay
}

// isConnectivity recognizes transient I/O failures: network errors,
// refused or reset connections, and expired deadlines.
func isConnectivity(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return orcherr.IsCode(err, orcherr.ErrCodeUnavailable)
}

// isValidation recognizes semantic errors that retrying cannot fix.
func isValidation(err error) bool {
	switch orcherr.CodeOf(err) {
	case orcherr.ErrCodeValidation, orcherr.ErrCodeInvalidArgument, orcherr.ErrCodeInvalidPhase:
		return true
	}
	return false
}
