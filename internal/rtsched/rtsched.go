// Package rtsched applies best-effort real-time scheduling hints to
// convolution-level worker goroutines on platforms that expose the
// facility, and does nothing measurable elsewhere.
//
// Go goroutines are not OS threads one-to-one, so this cannot replicate a
// pthread/Mach thread-policy model exactly; it locks the calling goroutine
// to its OS thread for the lifetime of the worker and lowers that thread's
// niceness in proportion to the level's priority offset, which is the
// closest equivalent a portable Go program can offer without cgo.
package rtsched

// Priority applies a best-effort scheduling priority to the calling
// goroutine's OS thread. prio follows the partition planner's convention: 0
// is the default priority, more negative values are lower priority (larger,
// later partitions). Callers must invoke Priority from the goroutine that
// will do the level's FFT work, before entering its trig-wait loop, and must
// not return from that goroutine without calling Release.
func Priority(prio int) Release {
	return setPriority(prio)
}

// Release undoes the effect of a Priority call and unlocks the goroutine
// from its OS thread.
type Release func()
