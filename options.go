package terrain

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/terrain/kernel"
)

// Option configures an Engine during creation.
//
// Example:
//
//	// CPU kernel, default logger
//	e, err := terrain.New(terrain.DefaultConfig())
//
//	// Custom kernel (dependency injection)
//	e, err := terrain.New(cfg, terrain.WithKernel(myKernel))
type Option func(*engineOptions)

// engineOptions holds optional configuration for Engine creation.
type engineOptions struct {
	kernel   kernel.Kernel
	clock    clock.Clock
	logger   *slog.Logger
	provider gpucontext.DeviceProvider
	renderer Renderer
}

// defaultOptions returns the default engine options.
func defaultOptions() engineOptions {
	return engineOptions{
		kernel: nil, // selected from Config.Backend if nil
		clock:  clock.New(),
		logger: nil, // Logger() if nil
	}
}

// WithKernel sets the kernel used for both pipeline stages, bypassing
// backend selection. The caller keeps ownership and closes it after the
// engine.
func WithKernel(k kernel.Kernel) Option {
	return func(o *engineOptions) {
		o.kernel = k
	}
}

// WithClock sets the clock used for work timing, retry back-off and
// event timestamps. Tests pass a clock.Mock.
func WithClock(c clock.Clock) Option {
	return func(o *engineOptions) {
		o.clock = c
	}
}

// WithLogger sets the engine logger, overriding the package logger set
// by SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = l
	}
}

// WithDeviceProvider makes the registered GPU kernel share the device of
// an external provider, typically the host's window context, instead of
// opening its own.
//
// The provider should also implement HalDevice() any and HalQueue() any
// returning wgpu/hal types.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *engineOptions) {
		o.provider = p
	}
}

// WithRenderer sets a renderer that receives the frontier after every
// successful tick.
func WithRenderer(r Renderer) Option {
	return func(o *engineOptions) {
		o.renderer = r
	}
}
