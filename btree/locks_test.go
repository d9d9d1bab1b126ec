package btree

import (
	"errors"
	"testing"

	"github.com/coldharbor/ferrodb/dberrors"
)

func TestLockTableSharedReaders(t *testing.T) {
	a := NewBtree(4096)
	b := NewBtree(4096)
	b.AttachSharedCache(a)

	if err := a.LockTable(1, false); err != nil {
		t.Fatalf("a read lock: %v", err)
	}
	if err := b.LockTable(1, false); err != nil {
		t.Fatalf("b read lock should coexist with a's read lock: %v", err)
	}

	if state := a.TableLockState(1); state != LockStateShared {
		t.Errorf("TableLockState = %d, want LockStateShared", state)
	}
}

func TestLockTableWriteExcludesReaders(t *testing.T) {
	a := NewBtree(4096)
	b := NewBtree(4096)
	b.AttachSharedCache(a)

	if err := a.LockTable(1, false); err != nil {
		t.Fatalf("a read lock: %v", err)
	}

	err := b.LockTable(1, true)
	if err == nil {
		t.Fatal("b write lock should be rejected while a holds a read lock")
	}
	var storageErr *dberrors.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("error type = %T, want *dberrors.StorageError", err)
	}
	if storageErr.Code != dberrors.LockedSharedCache {
		t.Errorf("error code = %v, want LockedSharedCache", storageErr.Code)
	}

	if state := b.TableLockState(1); state != LockStatePending {
		t.Errorf("TableLockState = %d, want LockStatePending", state)
	}
}

func TestLockTableWriteExcludesWriters(t *testing.T) {
	a := NewBtree(4096)
	b := NewBtree(4096)
	b.AttachSharedCache(a)

	if err := a.LockTable(1, true); err != nil {
		t.Fatalf("a write lock: %v", err)
	}
	if err := b.LockTable(1, true); err == nil {
		t.Fatal("b write lock should be rejected while a holds the write lock")
	}

	a.UnlockTable(1)
	if state := a.TableLockState(1); state != LockStateUnlocked {
		t.Errorf("TableLockState after unlock = %d, want LockStateUnlocked", state)
	}

	if err := b.LockTable(1, true); err != nil {
		t.Fatalf("b write lock after a releases: %v", err)
	}
}

func TestLockTableIndependentWithoutSharedCache(t *testing.T) {
	a := NewBtree(4096)
	b := NewBtree(4096)

	if err := a.LockTable(1, true); err != nil {
		t.Fatalf("a write lock: %v", err)
	}
	if err := b.LockTable(1, true); err != nil {
		t.Fatalf("b write lock on its own unattached instance: %v", err)
	}
}
