//go:build !linux

package disruptor

// setAffinity is a no-op where sched_setaffinity(2) is unavailable; tasks are
// still locked to their OS threads.
func setAffinity(cpu int) error {
	return nil
}
