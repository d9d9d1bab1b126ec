//go:build unix

package pager

import (
	"os"

	"golang.org/x/sys/unix"
)

// flockAcquire takes an advisory, non-blocking lock on f's file
// descriptor using flock(2): exclusive when exclusive is true, shared
// otherwise. A lock already held elsewhere in the OS (another
// process, or another *Pager on this one racing the same file)
// surfaces as ErrDatabaseLocked rather than blocking, mirroring the
// pager's busy-handler contract (§5) -- callers retry through
// BeginRead/BeginWrite rather than stalling inside the syscall.
func flockAcquire(f *os.File, exclusive bool) error {
	how := unix.LOCK_SH | unix.LOCK_NB
	if exclusive {
		how = unix.LOCK_EX | unix.LOCK_NB
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrDatabaseLocked
		}
		return err
	}
	return nil
}

// flockRelease drops whatever advisory lock flockAcquire placed on f.
func flockRelease(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
