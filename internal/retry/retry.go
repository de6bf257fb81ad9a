// Package retry holds the single exponential-backoff policy shared by every
// external call site (LLM, search, HTTP, enrichment).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/sirupsen/logrus"
)

// Policy is a bounded exponential backoff. The zero value performs a single
// attempt with no waiting.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	Logger logrus.FieldLogger
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(op string, attempt int, err error)
}

// FromConfig builds a policy from the workflow retry settings.
func FromConfig(c config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
		Multiplier:      c.Multiplier,
	}
}

// Default mirrors config.DefaultWorkflowConfig().Retry.
func Default() Policy {
	return FromConfig(config.DefaultWorkflowConfig().Retry)
}

// WithLogger returns a copy of p that logs retries to l.
func (p Policy) WithLogger(l logrus.FieldLogger) Policy {
	p.Logger = l
	return p
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = time.Millisecond
	}
	exp.MaxInterval = p.MaxInterval
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.Multiplier = p.Multiplier
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Do runs fn until it succeeds, returns a permanent error, the attempt
// ceiling is reached or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return fn(ctx)
	}
	notify := func(err error, wait time.Duration) {
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"op":      op,
				"attempt": attempt,
				"wait":    wait.String(),
			}).WithError(err).Warn("retrying after failure")
		}
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, err)
		}
	}
	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
