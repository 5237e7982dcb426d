package telegram

import (
	"context"
	"time"

	"github.com/blockedby/teleclone/internal/logger"
)

// DefaultFloodWait is used when the server asks to wait without a duration.
const DefaultFloodWait = 60 * time.Second

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BackoffHook observes flood waits, e.g. to flip a progress state.
// It is called once before the sleep and once (wait = 0) after it.
type BackoffHook func(op string, wait time.Duration)

type backoffHookKey struct{}

// WithBackoffHook attaches a hook that FloodPolicy.Do reports to.
func WithBackoffHook(ctx context.Context, hook BackoffHook) context.Context {
	return context.WithValue(ctx, backoffHookKey{}, hook)
}

func backoffHookFrom(ctx context.Context) BackoffHook {
	hook, _ := ctx.Value(backoffHookKey{}).(BackoffHook)
	return hook
}

// FloodPolicy retries an operation after every rate-limit instruction,
// sleeping exactly the requested duration. Flood waits are never returned
// to the caller; any other error is.
type FloodPolicy struct {
	DefaultWait time.Duration
	Sleep       Sleeper
	log         *logger.Logger
}

// NewFloodPolicy creates a policy with the real sleeper.
func NewFloodPolicy(defaultWait time.Duration, log *logger.Logger) *FloodPolicy {
	if defaultWait <= 0 {
		defaultWait = DefaultFloodWait
	}
	if log == nil {
		log = logger.Get()
	}
	return &FloodPolicy{
		DefaultWait: defaultWait,
		Sleep:       SleepContext,
		log:         log,
	}
}

// Do runs fn until it returns something other than a flood wait.
// Cancellation during a wait returns the context error.
func (p *FloodPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for {
		err := fn(ctx)
		wait, ok := FloodWait(err)
		if !ok {
			return err
		}
		if wait <= 0 {
			wait = p.DefaultWait
		}

		p.log.Warn().
			Str("op", op).
			Int("wait_seconds", int(wait.Seconds())).
			Msg("telegram: FLOOD_WAIT, pausing before retry")

		hook := backoffHookFrom(ctx)
		if hook != nil {
			hook(op, wait)
		}
		if err := p.Sleep(ctx, wait); err != nil {
			return err
		}
		if hook != nil {
			hook(op, 0)
		}
	}
}
