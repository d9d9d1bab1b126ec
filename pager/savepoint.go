package pager

import (
	"errors"
	"fmt"
)

// Savepoint is one entry in the pager's index-addressable savepoint
// array (§4.6). name is an optional label used only by the
// name-keyed convenience wrappers below (BeginSavepoint et al.); the
// canonical addressing scheme is by index, matching savepoint(op,
// index) in §6.2.
type Savepoint struct {
	name string

	// Database size at the time of savepoint creation
	dbSize Pgno

	// Original page states (for pages modified after this savepoint).
	// Maps page number to original page data. Because savePageState
	// records a page here only the first time it is touched while this
	// savepoint is active, this map alone already holds exactly the
	// bytes needed to restore the database to this savepoint's
	// creation-time state — no merging with other savepoints required.
	pageStates map[Pgno][]byte

	// Journal file offset at savepoint creation
	journalOffset int64

	// Number of pages in journal at savepoint creation
	journalPageCount int
}

// Savepoint operation codes for the Savepoint(op, index) dispatcher,
// mirroring SQLite's SAVEPOINT_BEGIN/RELEASE/ROLLBACK.
const (
	SavepointOpBegin = iota
	SavepointOpRelease
	SavepointOpRollback
)

// Savepoint performs op (begin/release/rollback) against the
// savepoint slot at index, per §4.6/§6.2's savepoint(op, index) API.
// Savepoints are stored ascending by creation order, so index N
// addresses the Nth savepoint opened in this transaction; beginning a
// new one always targets index == current savepoint count (the
// "active-count" slot), matching OpenStatementSavepoint's implicit
// per-statement slot.
func (p *Pager) Savepoint(op int, index int) error {
	switch op {
	case SavepointOpBegin:
		return p.savepointBeginAt(index, "")
	case SavepointOpRelease:
		return p.savepointReleaseAt(index)
	case SavepointOpRollback:
		return p.savepointRollbackAt(index)
	default:
		return fmt.Errorf("pager: unknown savepoint op %d", op)
	}
}

// OpenStatementSavepoint opens an implicit savepoint at the next free
// slot (active-count), the way the engine wraps each statement in its
// own savepoint so a mid-statement constraint failure can roll back
// just that statement without undoing the rest of the transaction.
// Returns the new savepoint's index.
func (p *Pager) OpenStatementSavepoint() (int, error) {
	p.mu.Lock()
	index := len(p.savepoints)
	p.mu.Unlock()
	if err := p.savepointBeginAt(index, ""); err != nil {
		return 0, err
	}
	return index, nil
}

// BeginSavepoint is a name-keyed convenience wrapper over
// Savepoint(SavepointOpBegin, index): it opens a new savepoint at the
// next index and remembers name for the Release/RollbackTo/HasSavepoint
// helpers below.
func (p *Pager) BeginSavepoint(name string) error {
	if name == "" {
		return errors.New("savepoint name cannot be empty")
	}
	p.mu.Lock()
	for _, sp := range p.savepoints {
		if sp.name == name {
			p.mu.Unlock()
			return fmt.Errorf("savepoint %s already exists", name)
		}
	}
	index := len(p.savepoints)
	p.mu.Unlock()
	return p.savepointBeginAt(index, name)
}

// ReleaseSavepoint releases the named savepoint and every savepoint
// opened after it.
func (p *Pager) ReleaseSavepoint(name string) error {
	index, err := p.indexOfSavepoint(name)
	if err != nil {
		return err
	}
	return p.savepointReleaseAt(index)
}

// RollbackToSavepoint restores the database to the state it was in
// when the named savepoint was created, discarding any savepoints
// opened after it (but keeping the named one itself open).
func (p *Pager) RollbackToSavepoint(name string) error {
	index, err := p.indexOfSavepoint(name)
	if err != nil {
		return err
	}
	if err := p.savepointRollbackAt(index); err != nil {
		return err
	}
	if index+1 >= p.savepointCount() {
		return nil
	}
	return p.savepointReleaseAt(index + 1)
}

func (p *Pager) indexOfSavepoint(name string) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i, sp := range p.savepoints {
		if sp.name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no such savepoint: %s", name)
}

// savepointBeginAt opens a new savepoint at index, which must equal
// the current savepoint count — savepoints can only be appended, never
// inserted out of order.
func (p *Pager) savepointBeginAt(index int, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state < PagerStateWriterLocked {
		return errors.New("savepoint requires active write transaction")
	}
	if p.state == PagerStateError {
		return p.errCode
	}
	if index != len(p.savepoints) {
		return fmt.Errorf("pager: savepoint index %d is not the next free slot (%d)", index, len(p.savepoints))
	}

	sp := &Savepoint{
		name:       name,
		dbSize:     p.dbSize,
		pageStates: make(map[Pgno][]byte),
	}

	if p.journalFile != nil {
		if offset, err := p.journalFile.Seek(0, 1); err == nil {
			sp.journalOffset = offset
		}
	}

	p.savepoints = append(p.savepoints, sp)
	return nil
}

// savepointReleaseAt discards the savepoint at index along with every
// savepoint opened after it — releasing merges their changes into
// whatever remains open beneath them.
func (p *Pager) savepointReleaseAt(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state < PagerStateWriterLocked {
		return errors.New("release requires active write transaction")
	}
	if p.state == PagerStateError {
		return p.errCode
	}
	if index < 0 || index >= len(p.savepoints) {
		return fmt.Errorf("pager: no savepoint at index %d", index)
	}

	p.savepoints = p.savepoints[:index]
	return nil
}

// savepointRollbackAt restores every page recorded in the savepoint at
// index back to its state at that savepoint's creation, and restores
// the database size. It does not itself discard the savepoint or any
// opened after it — callers that want SQL ROLLBACK TO semantics (which
// also close out newer savepoints) follow up with
// savepointReleaseAt(index+1).
func (p *Pager) savepointRollbackAt(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state < PagerStateWriterLocked {
		return errors.New("rollback to savepoint requires active write transaction")
	}
	if p.state == PagerStateError {
		return p.errCode
	}
	if index < 0 || index >= len(p.savepoints) {
		return fmt.Errorf("pager: no savepoint at index %d", index)
	}

	sp := p.savepoints[index]
	for pgno, data := range sp.pageStates {
		page := p.cache.Get(pgno)
		if page == nil {
			page = NewDbPage(pgno, p.pageSize)
			p.cache.Put(page)
		}
		copy(page.Data, data)
		page.MakeDirty()
	}

	p.dbSize = sp.dbSize
	return nil
}

// ClearSavepoints removes all savepoints.
// This is called when a transaction commits or rolls back.
func (p *Pager) ClearSavepoints() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearSavepointsLocked()
}

// clearSavepointsLocked clears all savepoints with lock already held.
func (p *Pager) clearSavepointsLocked() {
	p.savepoints = nil
}

// savePageState saves the current state of a page before modification,
// for every savepoint currently open that hasn't already recorded this
// page (first touch after a savepoint's creation wins).
func (p *Pager) savePageState(page *DbPage) error {
	for _, sp := range p.savepoints {
		if _, exists := sp.pageStates[page.Pgno]; !exists {
			pageData := make([]byte, len(page.Data))
			copy(pageData, page.Data)
			sp.pageStates[page.Pgno] = pageData
		}
	}
	return nil
}

// HasSavepoint returns true if a savepoint with the given name exists.
func (p *Pager) HasSavepoint(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, sp := range p.savepoints {
		if sp.name == name {
			return true
		}
	}
	return false
}

// GetSavepointNames returns the names of all active savepoints,
// oldest first.
func (p *Pager) GetSavepointNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.savepoints))
	for i, sp := range p.savepoints {
		names[i] = sp.name
	}
	return names
}

// savepointCount returns the number of active savepoints.
func (p *Pager) savepointCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.savepoints)
}
