// Package resilience wraps upstream calls in a bounded retry policy with
// decorrelated-jitter backoff. Only transport failures, 5xx and 429 are
// retried; application errors and caller cancellation propagate immediately.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/platform/metrics"
	"github.com/nulzo/refract/pkg/api"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond
	defaultMaxDelay   = 30 * time.Second
)

// Policy executes operations with retry. The zero value is unusable; build
// one with New so defaults are applied.
type Policy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	log     *zap.Logger
	metrics *metrics.Metrics
}

// New builds a Policy from configuration. Zero-valued fields fall back to
// the documented defaults (3 retries, 500ms base, 30s cap).
func New(cfg config.ResilienceConfig, log *zap.Logger, m *metrics.Metrics) *Policy {
	p := &Policy{
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		log:        log,
		metrics:    m,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = defaultMaxRetries
	}
	if p.baseDelay <= 0 {
		p.baseDelay = defaultBaseDelay
	}
	if p.maxDelay <= 0 {
		p.maxDelay = defaultMaxDelay
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.metrics == nil {
		p.metrics = metrics.Nop()
	}
	return p
}

// Execute runs fn, retrying per policy. Attempts are capped at 1+MaxRetries.
// Streaming callers must only pass the connection phase through here: once
// bytes have been delivered a retry would duplicate output.
func (p *Policy) Execute(ctx context.Context, provider, operation string, fn func(context.Context) error) error {
	var lastErr error
	delay := p.baseDelay

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay = p.nextDelay(delay)
			select {
			case <-ctx.Done():
				return api.FromContext(ctx, provider, operation)
			case <-time.After(delay):
			}

			p.metrics.RetriesTotal.WithLabelValues(provider, operation).Inc()
			p.log.Warn("retrying upstream operation",
				zap.String("provider", provider),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// Cancellation wins over classification: never keep going once the
		// caller has gone away.
		if ctxErr := api.FromContext(ctx, provider, operation); ctxErr != nil {
			return ctxErr
		}

		if !api.Retryable(err) {
			return err
		}
	}

	p.metrics.RetryExhausted.WithLabelValues(provider, operation).Inc()
	p.log.Error("retry budget exhausted",
		zap.String("provider", provider),
		zap.String("operation", operation),
		zap.Int("retries", p.maxRetries),
		zap.Error(lastErr),
	)
	return lastErr
}

// nextDelay implements decorrelated jitter: a uniform draw between the base
// delay and three times the previous delay, capped at maxDelay. Successive
// waits wander rather than marching in lockstep across clients.
func (p *Policy) nextDelay(prev time.Duration) time.Duration {
	upper := 3 * prev
	if upper <= p.baseDelay {
		upper = p.baseDelay + 1
	}
	d := p.baseDelay + time.Duration(rand.Int64N(int64(upper-p.baseDelay))) //nolint:gosec // non-cryptographic jitter is intentional
	if d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}
