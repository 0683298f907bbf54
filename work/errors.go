package work

import (
	"errors"
	"fmt"

	"github.com/gogpu/terrain/dispatch"
)

// Pipeline errors.
var (
	// ErrDispatchFailed wraps kernel and queue failures. The work may be
	// retried.
	ErrDispatchFailed = errors.New("terrain: dispatch failed")

	// ErrStaleDiscarded tags a completion that no longer matches its node.
	// It is used for logging only and never returned to callers.
	ErrStaleDiscarded = errors.New("terrain: stale completion discarded")

	// ErrCancelled is returned when decoding a cancelled completion.
	ErrCancelled = errors.New("terrain: dispatch cancelled")
)

// Decode checks the status of c and returns its result, or an error
// wrapping ErrDispatchFailed or ErrCancelled.
func Decode(c Completion) (Result, error) {
	switch c.Status {
	case dispatch.StatusDone:
		return c.Value, nil
	case dispatch.StatusCancelled:
		return Result{}, ErrCancelled
	default:
		return Result{}, fmt.Errorf("%w: %s: %w", ErrDispatchFailed, c.Label, c.Err)
	}
}
