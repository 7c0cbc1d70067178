package classifier

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stratoshift/orchestrator/internal/orcherr"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify_ConnectivityRetriesWithBackoff(t *testing.T) {
	c := New(Config{}, zap.NewNop())

	connectivity := []error{
		timeoutErr{},
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.EPIPE,
		context.DeadlineExceeded,
		orcherr.Unavailable("store down", nil),
	}
	for _, err := range connectivity {
		d := c.Classify(err, Context{Operation: "op", Attempt: 0, MaxRetries: 3})
		assert.Equal(t, StrategyRetryBackoff, d.Strategy, "err=%v", err)
		assert.True(t, d.ShouldRetry, "err=%v", err)
		assert.Equal(t, ErrorTypeConnectivity, d.ErrorType, "err=%v", err)
		assert.Greater(t, d.RetryDelay, time.Duration(0), "err=%v", err)
	}
}

func TestClassify_ConnectivityStopsAtMaxRetries(t *testing.T) {
	c := New(Config{}, zap.NewNop())

	d := c.Classify(syscall.ECONNREFUSED, Context{Operation: "op", Attempt: 2, MaxRetries: 3})
	assert.True(t, d.ShouldRetry)

	d = c.Classify(syscall.ECONNREFUSED, Context{Operation: "op", Attempt: 3, MaxRetries: 3})
	assert.False(t, d.ShouldRetry)
	assert.Equal(t, StrategyRetryBackoff, d.Strategy)
}

func TestClassify_ValidationFailsFast(t *testing.T) {
	c := New(Config{}, zap.NewNop())

	validation := []error{
		orcherr.ValidationFailed("missing field"),
		orcherr.InvalidArgument("bad input", nil),
		orcherr.InvalidPhase("discovery", "teardown"),
	}
	for _, err := range validation {
		d := c.Classify(err, Context{Operation: "op", Attempt: 0, MaxRetries: 3})
		assert.Equal(t, StrategyFailFast, d.Strategy, "err=%v", err)
		assert.False(t, d.ShouldRetry, "err=%v", err)
		assert.Equal(t, ErrorTypeValidation, d.ErrorType, "err=%v", err)
	}
}

// Retrying never fixes a validation error, regardless of attempt count.
func TestClassify_ValidationNeverRetriesEvenWithBudget(t *testing.T) {
	c := New(Config{}, zap.NewNop())

	for attempt := 0; attempt < 5; attempt++ {
		d := c.Classify(orcherr.ValidationFailed("nope"),
			Context{Operation: "op", Attempt: attempt, MaxRetries: 100})
		assert.False(t, d.ShouldRetry)
	}
}

func TestClassify_RuntimeUsesCircuitBreaker(t *testing.T) {
	c := New(Config{}, zap.NewNop())

	d := c.Classify(errors.New("index out of range"),
		Context{Operation: "op", Attempt: 0, MaxRetries: 3})
	assert.Equal(t, StrategyCircuitBreaker, d.Strategy)
	assert.True(t, d.ShouldRetry)
	assert.Equal(t, ErrorTypeRuntime, d.ErrorType)
}

func TestClassify_BreakerOpensAtThreshold(t *testing.T) {
	c := New(Config{BreakerThreshold: 3, BreakerCoolDown: time.Minute}, zap.NewNop())
	ctx := Context{Operation: "flaky", Attempt: 0, MaxRetries: 10}
	runtimeErr := errors.New("nil map write")

	for i := 0; i < 2; i++ {
		d := c.Classify(runtimeErr, ctx)
		assert.Equal(t, StrategyCircuitBreaker, d.Strategy, "failure %d", i+1)
	}

	// Third failure trips the breaker.
	d := c.Classify(runtimeErr, ctx)
	assert.Equal(t, StrategyManual, d.Strategy)
	assert.False(t, d.ShouldRetry)

	// Breakers are keyed per operation; others are unaffected.
	d = c.Classify(runtimeErr, Context{Operation: "healthy", Attempt: 0, MaxRetries: 10})
	assert.Equal(t, StrategyCircuitBreaker, d.Strategy)
}

func TestClassify_BreakerClosesAfterCoolDown(t *testing.T) {
	c := New(Config{BreakerThreshold: 2, BreakerCoolDown: 20 * time.Millisecond}, zap.NewNop())
	ctx := Context{Operation: "flaky", Attempt: 0, MaxRetries: 10}
	runtimeErr := errors.New("boom")

	c.Classify(runtimeErr, ctx)
	d := c.Classify(runtimeErr, ctx)
	assert.Equal(t, StrategyManual, d.Strategy)

	time.Sleep(25 * time.Millisecond)

	// After the cool-down a failure starts a fresh count instead of
	// keeping the circuit open.
	d = c.Classify(runtimeErr, ctx)
	assert.Equal(t, StrategyCircuitBreaker, d.Strategy)
	assert.True(t, d.ShouldRetry)
}

func TestClassify_SuccessResetsBreaker(t *testing.T) {
	c := New(Config{BreakerThreshold: 2, BreakerCoolDown: time.Minute}, zap.NewNop())
	ctx := Context{Operation: "flaky", Attempt: 0, MaxRetries: 10}
	runtimeErr := errors.New("boom")

	c.Classify(runtimeErr, ctx)
	c.ReportSuccess("flaky")

	// The earlier failure no longer counts.
	d := c.Classify(runtimeErr, ctx)
	assert.Equal(t, StrategyCircuitBreaker, d.Strategy)
}

func TestBackoffDelay_GrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		got := backoffDelay(Context{Attempt: tt.attempt, BaseDelay: base, Multiplier: 2.0})
		assert.Equal(t, tt.want, got, "attempt=%d", tt.attempt)
	}

	// Deep attempts stay capped.
	got := backoffDelay(Context{Attempt: 30, BaseDelay: base, Multiplier: 2.0})
	assert.Equal(t, maxBackoffDelay, got)
}

func TestContext_Defaults(t *testing.T) {
	ctx := Context{}.withDefaults()
	assert.Equal(t, DefaultMaxRetries, ctx.MaxRetries)
	assert.Equal(t, DefaultMultiplier, ctx.Multiplier)
	assert.Equal(t, DefaultBaseDelay, ctx.BaseDelay)
}

func TestClassify_WrappedErrorsClassifyByChain(t *testing.T) {
	c := New(Config{}, zap.NewNop())

	wrapped := errors.Join(errors.New("phase handler"), syscall.ECONNRESET)
	d := c.Classify(wrapped, Context{Operation: "op", Attempt: 0, MaxRetries: 3})
	assert.Equal(t, ErrorTypeConnectivity, d.ErrorType)
}
