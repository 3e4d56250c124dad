package remote

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// defaultMaxAttempts is the number of tries a session makes per request.
const defaultMaxAttempts = 3

// Backoff describes a capped exponential retry schedule with jitter.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// defaultBackoff is used by [Retry].
var defaultBackoff = Backoff{Attempts: defaultMaxAttempts, Base: 500 * time.Millisecond, Max: 5 * time.Second}

// permanentError stops a retry loop without further attempts.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn up to attempts times on the default schedule.
// See [Backoff.Do].
func Retry(ctx context.Context, attempts int, fn func() error) error {
	b := defaultBackoff
	b.Attempts = attempts
	return b.Do(ctx, fn)
}

// Do calls fn until it succeeds, returns a [Permanent] error, or the
// attempts run out. A permanent error is returned unwrapped. When every
// attempt failed the last error is returned wrapped.
func (b Backoff) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if attempt > 0 {
			if werr := b.wait(ctx, attempt-1); werr != nil {
				return werr
			}
		} else if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("retry cancelled: %w", cerr)
		}

		if err = fn(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", b.Attempts, err)
}

func (b Backoff) wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(b.delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// delay is uniform in [d/2, d) where d doubles per attempt up to Max.
func (b Backoff) delay(attempt int) time.Duration {
	d := b.Max
	if attempt < 30 && b.Base<<attempt < b.Max {
		d = b.Base << attempt
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half))) //nolint:gosec // jitter does not need crypto/rand
}
