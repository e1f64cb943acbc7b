//go:build linux

package rtsched

import (
	"log/slog"
	"runtime"

	"golang.org/x/sys/unix"
)

// setPriority locks the goroutine to its OS thread and lowers its niceness
// using setpriority(2). prio<=0 maps to nice = -prio, clamped to the
// setpriority range; this only works unprivileged down to nice 0, so more
// negative prio (higher real-time priority) is logged but cannot be granted
// without CAP_SYS_NICE — the attempt is still made since containers running
// the real PipeWire host commonly grant it.
func setPriority(prio int) Release {
	runtime.LockOSThread()

	nice := -prio
	if nice < -20 {
		nice = -20
	}

	if nice > 19 {
		nice = 19
	}

	tid := unix.Gettid()
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, nice); err != nil {
		slog.Debug("rtsched: setpriority failed, continuing at default priority", "nice", nice, "error", err)
	}

	return func() {
		runtime.UnlockOSThread()
	}
}
