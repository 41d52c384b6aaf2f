// Package poll provides a bounded polling combinator: a fixed number of
// attempts at a fixed interval, stopping at the first terminal observation.
// The bound is attempts times interval rather than a wall-clock deadline, so
// a slow dependency degrades to exhausted attempts instead of a hard cutoff.
// There is no backoff; polling is linear.
package poll

import (
	"context"
	"time"

	arcrelay "github.com/kij-exe/ArcRelay"
)

// Func observes the polled state once. done reports a terminal observation;
// a non-nil error aborts polling immediately and is returned as-is.
type Func[T any] func(ctx context.Context) (value T, done bool, err error)

// Until runs fn up to attempts times, interval apart, until fn reports a
// terminal observation. When attempts are exhausted it returns the last
// observed value together with a timeout error, so callers can report the
// state the polled resource was last seen in.
func Until[T any](ctx context.Context, attempts int, interval time.Duration, fn Func[T]) (T, error) {
	var last T
	if attempts < 1 {
		return last, arcrelay.NewError(arcrelay.KindValidation, "poll attempts must be at least 1")
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return last, ctx.Err()
			case <-timer.C:
			}
		}

		value, done, err := fn(ctx)
		if err != nil {
			return last, err
		}
		last = value
		if done {
			return value, nil
		}
	}

	return last, arcrelay.NewError(arcrelay.KindTimeout,
		"no terminal state after %d attempts %s apart", attempts, interval)
}
