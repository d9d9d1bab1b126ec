package btree

import (
	"github.com/coldharbor/ferrodb/dberrors"
)

// Shared-cache table-lock protocol (§4.6). Multiple *Btree handles can
// share one table-lock map (via AttachSharedCache) to simulate
// separate connections sharing one cache, the way SQLite's
// shared-cache mode lets multiple database connections within a
// process contend over the same table. TableLockState mirrors
// SQLite's BTS_PENDING/BTS_EXCLUSIVE naming.
type TableLockState int

const (
	LockStateUnlocked TableLockState = iota
	LockStateShared
	LockStatePending   // a writer is waiting for readers to drain
	LockStateExclusive // a writer holds the table
)

// tableLock tracks, for one table root page, which connections
// (identified by their *Btree handle) currently hold a read lock and
// which one (if any) holds the write lock.
type tableLock struct {
	readers map[*Btree]bool
	writer  *Btree
	pending bool
}

// AttachSharedCache makes bt share other's table-lock state, so lock
// contention between the two is visible to both — the shared-cache
// scenario §4.6 describes.
func (bt *Btree) AttachSharedCache(other *Btree) {
	bt.tableLocks = other.tableLocks
}

func (bt *Btree) lockFor(rootPgno uint32) *tableLock {
	if bt.tableLocks == nil {
		bt.tableLocks = make(map[uint32]*tableLock)
	}
	lk, ok := bt.tableLocks[rootPgno]
	if !ok {
		lk = &tableLock{readers: make(map[*Btree]bool)}
		bt.tableLocks[rootPgno] = lk
	}
	return lk
}

// LockTable acquires a read or write lock on the table rooted at
// rootPgno, per the shared-cache locking rules: a write lock requires
// no other connection currently hold any lock on the table; a read
// lock requires no other connection hold the write lock. Returns a
// dberrors.LockedSharedCache error when the requested lock cannot be
// granted immediately, mirroring SQLite's SQLITE_LOCKED_SHAREDCACHE.
func (bt *Btree) LockTable(rootPgno uint32, writeLock bool) error {
	lk := bt.lockFor(rootPgno)

	if writeLock {
		if lk.writer != nil && lk.writer != bt {
			return &dberrors.StorageError{Code: dberrors.LockedSharedCache, Op: "lockTable", Page: rootPgno}
		}
		for other := range lk.readers {
			if other != bt {
				lk.pending = true
				return &dberrors.StorageError{Code: dberrors.LockedSharedCache, Op: "lockTable", Page: rootPgno}
			}
		}
		lk.pending = false
		lk.writer = bt
		lk.readers[bt] = true
		return nil
	}

	if lk.writer != nil && lk.writer != bt {
		return &dberrors.StorageError{Code: dberrors.LockedSharedCache, Op: "lockTable", Page: rootPgno}
	}
	lk.readers[bt] = true
	return nil
}

// UnlockTable releases whatever lock bt holds on rootPgno's table.
func (bt *Btree) UnlockTable(rootPgno uint32) {
	lk, ok := bt.tableLocks[rootPgno]
	if !ok {
		return
	}
	delete(lk.readers, bt)
	if lk.writer == bt {
		lk.writer = nil
		lk.pending = false
	}
}

// TableLockState reports the externally-visible lock state for a
// table, per the BTS_* naming in §4.6.
func (bt *Btree) TableLockState(rootPgno uint32) TableLockState {
	lk, ok := bt.tableLocks[rootPgno]
	if !ok {
		return LockStateUnlocked
	}
	switch {
	case lk.writer != nil:
		return LockStateExclusive
	case lk.pending:
		return LockStatePending
	case len(lk.readers) > 0:
		return LockStateShared
	default:
		return LockStateUnlocked
	}
}
