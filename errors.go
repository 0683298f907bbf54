package terrain

import (
	"errors"

	"github.com/gogpu/terrain/kernel"
	"github.com/gogpu/terrain/octree"
	"github.com/gogpu/terrain/work"
)

// Errors reported by the engine. Pipeline sentinels are declared where
// they are detected and re-exported here.
var (
	// ErrInvariantViolation means engine state is corrupt. Tick returns
	// it immediately and the engine must not be ticked again.
	ErrInvariantViolation = octree.ErrInvariantViolation

	// ErrDispatchFailed wraps kernel and queue failures. Failed work is
	// retried with back-off.
	ErrDispatchFailed = work.ErrDispatchFailed

	// ErrStaleDiscarded tags results dropped because their node moved on.
	// It is never returned to callers.
	ErrStaleDiscarded = work.ErrStaleDiscarded

	// ErrCapacityExceeded reports a mesh larger than max_triangles. It is
	// handled as a dispatch failure.
	ErrCapacityExceeded = kernel.ErrCapacityExceeded

	// ErrInvalidConfig reports a configuration that fails Validate.
	ErrInvalidConfig = errors.New("terrain: invalid config")

	// ErrNoGPUKernel is returned by New for the gpu backend when no GPU
	// kernel is registered.
	ErrNoGPUKernel = errors.New("terrain: no GPU kernel registered")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("terrain: engine closed")
)
