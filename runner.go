package voxmesh

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Runner drives the control and GPU domains concurrently. The GPU domain
// runs on its own OS-thread-locked goroutine since it owns the device.
type Runner struct {
	Control *App
	// Gpu is used as is unless NewGpu is set.
	Gpu *App
	// NewGpu builds the GPU app on the GPU goroutine, so the device it opens
	// is created, used and released on that goroutine alone.
	NewGpu func() (*App, error)

	ControlInterval time.Duration
	GpuInterval     time.Duration
	// Rounds bounds the control domain; zero runs until ctx is done.
	Rounds uint64
}

// Run blocks until ctx is done, the control domain has run Rounds rounds or
// either domain fails. The first fatal error stops both domains and is
// returned. Both apps are closed on return.
func (r *Runner) Run(ctx context.Context) error {
	if r.Gpu == nil && r.NewGpu == nil {
		return errors.New("runner: no GPU app")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gpuDone := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		gpuDone <- r.runGpu(ctx, cancel)
	}()

	controlErr := r.Control.Run(ctx, r.ControlInterval, r.Rounds)
	cancel()
	gpuErr := <-gpuDone
	if isShutdown(gpuErr) {
		gpuErr = nil
	}

	// Hand the control domain whatever the GPU domain sent last.
	if controlErr == nil && gpuErr == nil {
		controlErr = r.Control.Step()
	}
	r.Control.Close()

	if gpuErr != nil {
		return gpuErr
	}
	return controlErr
}

// runGpu returns only after the GPU app is closed.
func (r *Runner) runGpu(ctx context.Context, cancel context.CancelFunc) error {
	app := r.Gpu
	if r.NewGpu != nil {
		var err error
		if app, err = r.NewGpu(); err != nil {
			cancel()
			return fmt.Errorf("gpu domain: %w", err)
		}
	}
	defer app.Close()

	err := app.Run(ctx, r.GpuInterval, 0)
	if err != nil {
		cancel()
	}
	return err
}

// isShutdown reports whether err only records the domain being cancelled.
func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
