//go:build !linux

package rtsched

// setPriority is a no-op on platforms without an unprivileged niceness knob
// wired up; the level still runs, just without a scheduling hint.
func setPriority(_ int) Release {
	return func() {}
}
