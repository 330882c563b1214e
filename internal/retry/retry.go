package retry

import (
	"context"
	"io"
	"log/slog"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// State is the position of a retry loop in its lifecycle.
type State int

const (
	StateAttempting State = iota
	StateWaiting
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateWaiting:
		return "waiting"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Attempt describes a failed attempt that will be retried.
type Attempt struct {
	Index int           // zero-based index of the failed attempt
	Delay time.Duration // wait before the next attempt
	Err   error
}

// Policy configures Do.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Negative values are treated as 0.
	MaxRetries int
	BaseDelay  time.Duration

	// AttemptTimeout bounds each individual attempt when positive.
	AttemptTimeout time.Duration

	// Name labels log records.
	Name   string
	Logger *slog.Logger

	// OnRetry is called before each wait.
	OnRetry func(Attempt)

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns a policy with 3 retries and a 1s base delay.
func DefaultPolicy(logger *slog.Logger) Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Logger:     logger,
	}
}

// Backoff returns BaseDelay * 2^attempt for a zero-based attempt index.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseDelay << uint(attempt)
}

// Do runs op until it succeeds or MaxRetries retries have failed.
// The error of the last attempt is returned as-is.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Logger == nil {
		p.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}

	var zero T
	state := StateAttempting
	for attempt := 0; ; attempt++ {
		result, err := runAttempt(ctx, p, op)
		if err == nil {
			state = StateSucceeded
			if attempt > 0 {
				p.Logger.Info("Operation succeeded after retry",
					slog.String("operation", p.Name),
					slog.Int("attempt", attempt+1),
					slog.String("state", state.String()),
				)
			}
			return result, nil
		}

		if attempt >= p.MaxRetries {
			state = StateExhausted
			p.Logger.Error("Operation failed, retries exhausted",
				slog.String("operation", p.Name),
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", p.MaxRetries+1),
				slog.String("state", state.String()),
				slog.String("error", err.Error()),
			)
			return zero, err
		}

		delay := p.Backoff(attempt)
		state = StateWaiting
		p.Logger.Warn("Operation failed, retrying",
			slog.String("operation", p.Name),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", p.MaxRetries+1),
			slog.Duration("delay", delay),
			slog.String("state", state.String()),
			slog.String("error", err.Error()),
		)
		if p.OnRetry != nil {
			p.OnRetry(Attempt{Index: attempt, Delay: delay, Err: err})
		}

		if err := p.Sleep(ctx, delay); err != nil {
			return zero, err
		}
		state = StateAttempting
	}
}

func runAttempt[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
