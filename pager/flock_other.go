//go:build !unix

package pager

import "os"

// flockAcquire is a no-op stand-in on platforms without flock(2); the
// in-process lockState state machine is still authoritative there.
func flockAcquire(f *os.File, exclusive bool) error {
	return nil
}

// flockRelease is a no-op stand-in on platforms without flock(2).
func flockRelease(f *os.File) error {
	return nil
}
