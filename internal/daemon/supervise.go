package daemon

import (
	"log/slog"
	"runtime/debug"
)

// runSupervised runs fn and, if it panics, logs the panic at ERROR with a
// stack trace and restarts fn by calling it again. A worker that returns
// normally (a clean shutdown once cancelCh is closed) is not restarted.
func runSupervised(log *slog.Logger, name string, cancelCh <-chan struct{}, fn func()) {
	for {
		if !runOnce(log, name, fn) {
			return
		}
		select {
		case <-cancelCh:
			return
		default:
		}
	}
}

// runOnce calls fn under a recover guard and reports whether fn panicked.
func runOnce(log *slog.Logger, name string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			log.Error("worker panicked, restarting",
				"worker", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
	return false
}
