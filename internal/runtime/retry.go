package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	configpkg "github.com/drblury/eventbus/internal/runtime/config"
	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
	"github.com/drblury/eventbus/transport/postgres"
)

// RetryPolicy is the exponential backoff applied to remote calls: bind,
// unbind, notify, publish and group listener executions.
type RetryPolicy struct {
	MaxRetries   int
	FirstBackoff time.Duration
	JitterFactor float64
	MaxBackoff   time.Duration
	// AttemptTimeout bounds every single attempt when positive.
	AttemptTimeout time.Duration
}

const defaultMaxBackoff = 10 * time.Second

// RetryPolicyFromConfig reads the retry settings of conf.
func RetryPolicyFromConfig(conf configpkg.Config) RetryPolicy {
	c := conf.WithDefaults()
	return RetryPolicy{
		MaxRetries:   c.RetryMaxRetries,
		FirstBackoff: c.RetryFirstBackoff,
		JitterFactor: c.RetryJitterFactor,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.FirstBackoff <= 0 {
		p.FirstBackoff = configpkg.DefaultRetryFirstBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.MaxBackoff < p.FirstBackoff {
		p.MaxBackoff = p.FirstBackoff
	}
	return p
}

// WithAttemptTimeout returns a copy of p bounding each attempt by d.
func (p RetryPolicy) WithAttemptTimeout(d time.Duration) RetryPolicy {
	p.AttemptTimeout = d
	return p
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.FirstBackoff,
		RandomizationFactor: p.JitterFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         p.MaxBackoff,
	}
}

// isPermanent lists the errors no retry can fix.
func isPermanent(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, errspkg.ErrPayloadTooLarge) ||
		errors.Is(err, errspkg.ErrUnknownEventType) ||
		postgres.IsPermanentError(err)
}

// Do runs fn until it succeeds, returns a permanent error or the retries are
// exhausted. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, log loggingpkg.ServiceLogger, operation string, fn func(ctx context.Context) error) error {
	_, err := retryValue(ctx, p, log, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func retryValue[T any](ctx context.Context, p RetryPolicy, log loggingpkg.ServiceLogger, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	log = loggingpkg.OrNop(log)

	attempt := func() (T, error) {
		attemptCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}
		v, err := fn(attemptCtx)
		if err != nil && isPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.MaxRetries)+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug("Retrying "+operation, loggingpkg.LogFields{
				"error": err.Error(),
				"next":  next.String(),
			})
		}),
	)
}
