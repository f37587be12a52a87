package parseapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultConcurrency bounds in-flight external calls and matches the HTTP
// connection pool capacity.
const DefaultConcurrency = 20

// SleepFunc waits for d or until ctx is done. Swapped for a fake in tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Executor wraps every external call with the retry policy and owns the
// shared-resource admission control: a rate limiter plus a connection-bound
// semaphore. No layer above it implements retries of its own.
type Executor struct {
	policy  RetryPolicy
	limiter *rate.Limiter
	sem     chan struct{}
	sleep   SleepFunc
	logger  *zap.Logger
}

type ExecutorOption func(*Executor)

func WithRateLimit(perSecond float64, burst int) ExecutorOption {
	return func(e *Executor) {
		if perSecond > 0 && burst > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.sem = make(chan struct{}, n)
		}
	}
}

func WithSleep(fn SleepFunc) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewExecutor(policy RetryPolicy, opts ...ExecutorOption) *Executor {
	e := &Executor{
		policy:  policy,
		limiter: rate.NewLimiter(rate.Limit(10), DefaultConcurrency),
		sem:     make(chan struct{}, DefaultConcurrency),
		sleep:   sleepContext,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Do invokes fn, consulting the retry policy after each failure and sleeping
// for the computed delay without blocking sibling executions. The returned
// error is always classified; on exhaustion it carries the classification of
// the last failure.
func (e *Executor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return &APIError{Op: op, Class: ClassCanceled, Cause: ctx.Err()}
	}
	defer func() { <-e.sem }()

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return &APIError{Op: op, Class: ClassCanceled, Cause: err}
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("operation recovered",
					zap.String("op", op),
					zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		if IsCanceled(err) {
			return err
		}

		d := e.policy.Decide(attempt, err)
		if !d.Retry {
			break
		}

		e.logger.Warn("retrying operation",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", d.Delay),
			zap.Error(err))

		if serr := e.sleep(ctx, d.Delay); serr != nil {
			return &APIError{Op: op, Class: ClassCanceled, Cause: serr}
		}
	}

	e.logger.Error("operation failed",
		zap.String("op", op),
		zap.Error(lastErr))
	return lastErr
}

// Execute runs fn through the executor and returns its value.
func Execute[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, ferr := fn(ctx)
		if ferr != nil {
			return ferr
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
