package btree

import (
	"encoding/binary"
	"fmt"
)

// Page-1 file-header offsets for the free-list head, mirroring
// pager/format.go's DatabaseHeader layout (the btree package does not
// import pager, so these offsets are duplicated here against the same
// on-disk convention).
const (
	offsetFreelistTrunk = 32
	offsetFreelistCount = 36
)

// trunkHeaderSize is the 8-byte header (next-trunk pgno, leaf count)
// at the front of every free-list trunk page.
const trunkHeaderSize = 8

// PtrMapType classifies what a pointer-map entry's owning page is,
// per §4.3's auto-vacuum pointer-map.
type PtrMapType byte

const (
	PtrMapRootPage  PtrMapType = 1
	PtrMapFreePage  PtrMapType = 2
	PtrMapOverflow1 PtrMapType = 3 // first page of an overflow chain
	PtrMapOverflow2 PtrMapType = 4 // subsequent overflow chain pages
	PtrMapBtree     PtrMapType = 5 // non-root btree page (interior/leaf)
)

// PtrMapEntry records, for a single page, what kind of page it is and
// the page number that refers to it (its "parent" in the sense that
// matters for relocation: the interior page holding a child pointer,
// the btree page holding the first overflow pointer, etc).
type PtrMapEntry struct {
	Type   PtrMapType
	Parent uint32
}

// PageProvider is an interface for page access (can be pager or in-memory)
type PageProvider interface {
	GetPageData(pgno uint32) ([]byte, error)
	AllocatePageData() (uint32, []byte, error)
	MarkDirty(pgno uint32) error
}

// Btree represents a B-tree database file
type Btree struct {
	PageSize     uint32            // Size of each page in bytes
	UsableSize   uint32            // Usable bytes per page (pageSize - reserved)
	ReservedSize uint32            // Reserved bytes at end of each page
	Pages        map[uint32][]byte // In-memory page cache (pageNum -> page data)
	Provider     PageProvider      // Optional page provider (pager integration)

	// PointerMap tracks, for pages participating in auto-vacuum
	// relocation, what type of page each one is and which page refers
	// to it. Maintained alongside allocate/free/overflow/balance
	// operations rather than serialized to disk (§4.3).
	PointerMap map[uint32]PtrMapEntry

	// tableLocks tracks the shared-cache read/write lock state for
	// each table root page (§4.6).
	tableLocks map[uint32]*tableLock

	// freelistTrunk/freelistCount track the free-list head (§4.3),
	// mirrored into page 1's file header at offsets 32/36 whenever
	// page 1 has been allocated.
	freelistTrunk uint32
	freelistCount uint32

	// freed marks pages that have been returned to the free-list:
	// they remain present in Pages (trunk/leaf bookkeeping reuses the
	// slot), but are not valid for ordinary access until reallocated.
	freed map[uint32]bool
}

// BtShared represents shared B-tree state (in SQLite, multiple Btree handles can share this)
type BtShared struct {
	PageSize      uint32 // Total bytes on a page
	UsableSize    uint32 // Number of usable bytes on each page
	MaxLocal      uint16 // Maximum local payload in non-LEAFDATA tables
	MinLocal      uint16 // Minimum local payload in non-LEAFDATA tables
	MaxLeaf       uint16 // Maximum local payload in a LEAFDATA table
	MinLeaf       uint16 // Minimum local payload in a LEAFDATA table
	NumPages      uint32 // Number of pages in the database
	InTransaction bool   // True if in a transaction
}

// NewBtree creates a new B-tree instance
func NewBtree(pageSize uint32) *Btree {
	if pageSize == 0 {
		pageSize = 4096 // Default page size
	}

	return &Btree{
		PageSize:     pageSize,
		UsableSize:   pageSize, // No reserved space by default
		ReservedSize: 0,
		Pages:        make(map[uint32][]byte),
		PointerMap:   make(map[uint32]PtrMapEntry),
		tableLocks:   make(map[uint32]*tableLock),
		freed:        make(map[uint32]bool),
	}
}

// FreelistCount returns the number of pages currently on the
// free-list (§4.3).
func (bt *Btree) FreelistCount() uint32 {
	return bt.freelistCount
}

// metaSlotOffset maps a meta index in 0..15 to its byte offset in
// page 1's 100-byte file header (§6.2's getMeta/updateMeta,
// §6.3's header layout): slot 0 is the free-page count at offset 36,
// slots 1..15 are the 4-byte big-endian integers starting at offset 40
// (schema cookie, default cache size, largest root page, ...),
// mirroring pager/format.go's DatabaseHeader offsets exactly.
func metaSlotOffset(i int) (int, error) {
	switch {
	case i == 0:
		return offsetFreelistCount, nil
	case i >= 1 && i <= 15:
		return 40 + 4*(i-1), nil
	default:
		return 0, fmt.Errorf("invalid meta slot %d: must be in 0..15", i)
	}
}

// GetMeta reads one of page 1's 16 header integer slots (§6.2).
func (bt *Btree) GetMeta(i int) (uint32, error) {
	offset, err := metaSlotOffset(i)
	if err != nil {
		return 0, err
	}
	data, err := bt.GetPage(1)
	if err != nil {
		return 0, err
	}
	if len(data) < offset+4 {
		return 0, fmt.Errorf("page 1 too small to read meta slot %d", i)
	}
	return binary.BigEndian.Uint32(data[offset:]), nil
}

// UpdateMeta writes one of page 1's 16 header integer slots (§6.2).
// Slot 0 (the free-page count) is maintained automatically by the
// free-list and is rejected here to avoid desyncing `freelistCount`.
func (bt *Btree) UpdateMeta(i int, v uint32) error {
	if i == 0 {
		return fmt.Errorf("meta slot 0 (free-page count) is maintained by the free-list, not user-settable")
	}
	offset, err := metaSlotOffset(i)
	if err != nil {
		return err
	}
	data, err := bt.GetPage(1)
	if err != nil {
		return err
	}
	if len(data) < offset+4 {
		return fmt.Errorf("page 1 too small to write meta slot %d", i)
	}
	binary.BigEndian.PutUint32(data[offset:], v)
	if bt.Provider != nil {
		return bt.Provider.MarkDirty(1)
	}
	return nil
}

// ClearTable removes every row from the table rooted at rootPage
// without freeing the root page itself (§6.2's clearTable), so the
// root page number remains valid for future inserts. Rows are counted
// via an ordinary cursor walk first, then every child/overflow page
// the root owns is freed the same way DropTable frees a whole table,
// stopping short of freeing the root itself, which is reset to an
// empty leaf instead (the same shape CreateTable produces).
func (bt *Btree) ClearTable(rootPage uint32) (rowsCleared int, err error) {
	cur := NewCursor(bt, rootPage)
	if err := cur.MoveToFirst(); err == nil {
		for cur.IsValid() {
			rowsCleared++
			if err := cur.Next(); err != nil {
				if cur.AtLast {
					break
				}
				return rowsCleared, err
			}
		}
	}

	pageData, err := bt.GetPage(rootPage)
	if err != nil {
		return rowsCleared, err
	}
	header, err := ParsePageHeader(pageData, rootPage)
	if err != nil {
		return rowsCleared, err
	}

	if header.IsInterior {
		for i := 0; i < int(header.NumCells); i++ {
			cellOffset, err := header.GetCellPointer(pageData, i)
			if err != nil {
				continue
			}
			cell, err := ParseCell(header.PageType, pageData[cellOffset:], bt.UsableSize)
			if err != nil {
				continue
			}
			if cell.ChildPage != 0 {
				bt.DropTable(cell.ChildPage)
			}
			if cell.OverflowPage != 0 {
				freeOverflowChain(bt, cell.OverflowPage)
			}
		}
		if header.RightChild != 0 {
			bt.DropTable(header.RightChild)
		}
	} else {
		for i := 0; i < int(header.NumCells); i++ {
			cellOffset, err := header.GetCellPointer(pageData, i)
			if err != nil {
				continue
			}
			cell, err := ParseCell(header.PageType, pageData[cellOffset:], bt.UsableSize)
			if err != nil {
				continue
			}
			if cell.OverflowPage != 0 {
				freeOverflowChain(bt, cell.OverflowPage)
			}
		}
	}

	// Re-fetch: freeing child pages may have evicted/replaced cached
	// page data depending on the provider in use.
	pageData, err = bt.GetPage(rootPage)
	if err != nil {
		return rowsCleared, err
	}
	InitLeafTablePage(pageData, rootPage)
	if bt.Provider != nil {
		if err := bt.Provider.MarkDirty(rootPage); err != nil {
			return rowsCleared, err
		}
	}
	return rowsCleared, nil
}

// putPtrMap records or updates the pointer-map entry for a page.
func (bt *Btree) putPtrMap(child uint32, typ PtrMapType, parent uint32) {
	if bt.PointerMap == nil {
		bt.PointerMap = make(map[uint32]PtrMapEntry)
	}
	bt.PointerMap[child] = PtrMapEntry{Type: typ, Parent: parent}
}

// dropPtrMap removes a page's pointer-map entry, e.g. once it is
// freed and no longer owned by anything.
func (bt *Btree) dropPtrMap(pgno uint32) {
	delete(bt.PointerMap, pgno)
}

// GetPage retrieves a page from the B-tree. A page that has been
// returned to the free-list is not visible through this call even if
// its bytes are still resident, since it no longer belongs to any
// table (§4.3) — use allocatePageFromFreelist/rawGetPage internally to
// reach it.
func (bt *Btree) GetPage(pageNum uint32) ([]byte, error) {
	if bt.freed[pageNum] {
		return nil, fmt.Errorf("page %d not found", pageNum)
	}
	return bt.rawGetPage(pageNum)
}

// rawGetPage retrieves a page's bytes regardless of free-list status,
// for use by free-list bookkeeping itself.
func (bt *Btree) rawGetPage(pageNum uint32) ([]byte, error) {
	// Try in-memory cache first
	if page, ok := bt.Pages[pageNum]; ok {
		return page, nil
	}

	// If we have a provider, try to get from there
	if bt.Provider != nil {
		data, err := bt.Provider.GetPageData(pageNum)
		if err != nil {
			return nil, err
		}
		// Cache it
		bt.Pages[pageNum] = data
		return data, nil
	}

	return nil, fmt.Errorf("page %d not found", pageNum)
}

// SetPage stores a page in the B-tree
func (bt *Btree) SetPage(pageNum uint32, data []byte) error {
	if uint32(len(data)) != bt.PageSize {
		return fmt.Errorf("page size mismatch: expected %d, got %d", bt.PageSize, len(data))
	}
	bt.Pages[pageNum] = data

	// Mark as dirty if using a provider
	if bt.Provider != nil {
		bt.Provider.MarkDirty(pageNum)
	}
	return nil
}

// ParsePage parses a page and returns its header and cell information
func (bt *Btree) ParsePage(pageNum uint32) (*PageHeader, []*CellInfo, error) {
	pageData, err := bt.GetPage(pageNum)
	if err != nil {
		return nil, nil, err
	}

	// Parse page header
	header, err := ParsePageHeader(pageData, pageNum)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse page %d header: %w", pageNum, err)
	}

	// Parse cells
	cells := make([]*CellInfo, header.NumCells)
	for i := 0; i < int(header.NumCells); i++ {
		// Get cell pointer
		cellOffset, err := header.GetCellPointer(pageData, i)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get cell pointer %d: %w", i, err)
		}

		// Get cell data
		if int(cellOffset) >= len(pageData) {
			return nil, nil, fmt.Errorf("cell offset %d out of bounds", cellOffset)
		}
		cellData := pageData[cellOffset:]

		// Parse cell
		cellInfo, err := ParseCell(header.PageType, cellData, bt.UsableSize)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse cell %d: %w", i, err)
		}
		cells[i] = cellInfo
	}

	return header, cells, nil
}

// IteratePage iterates through all cells in a page, calling the visitor function for each
func (bt *Btree) IteratePage(pageNum uint32, visitor func(cellIndex int, cell *CellInfo) error) error {
	header, cells, err := bt.ParsePage(pageNum)
	if err != nil {
		return err
	}

	_ = header // May be used by visitor in the future

	for i, cell := range cells {
		if err := visitor(i, cell); err != nil {
			return err
		}
	}

	return nil
}

// String returns a string representation of the B-tree
func (bt *Btree) String() string {
	return fmt.Sprintf("Btree{pageSize=%d, usableSize=%d, pages=%d}",
		bt.PageSize, bt.UsableSize, len(bt.Pages))
}

// maxFreelistLeafEntries is how many leaf-page numbers a trunk page
// holds: usable/4 - 8, six fewer than the (usable-8)/4 that would fit
// after a trunk page's 8-byte header.
func (bt *Btree) maxFreelistLeafEntries() int {
	return int(bt.UsableSize)/4 - 8
}

// freelistHeaderPage returns page 1's bytes if page 1 has already
// been allocated, so the free-list head can be mirrored into the
// on-disk file header (offsets 32/36, matching pager/format.go). Many
// callers (including several existing tests) never allocate a
// page-1 file header at all, in which case the free-list still
// functions correctly purely off Btree's in-memory bookkeeping.
func (bt *Btree) freelistHeaderPage() []byte {
	data, ok := bt.Pages[1]
	if !ok {
		return nil
	}
	return data
}

func (bt *Btree) syncFreelistHeader() {
	data := bt.freelistHeaderPage()
	if data == nil || len(data) < offsetFreelistCount+4 {
		return
	}
	binary.BigEndian.PutUint32(data[offsetFreelistTrunk:], bt.freelistTrunk)
	binary.BigEndian.PutUint32(data[offsetFreelistCount:], bt.freelistCount)
}

// FreePage returns pgno to the free-list (§4.3), pushing it onto the
// current trunk page as a leaf entry, or promoting it to be the new
// trunk itself once the current trunk's leaf array is full.
func (bt *Btree) FreePage(pgno uint32) error {
	if pgno == 0 {
		return fmt.Errorf("FreePage: cannot free page 0")
	}

	bt.dropPtrMap(pgno)
	if bt.freed == nil {
		bt.freed = make(map[uint32]bool)
	}

	if bt.freelistTrunk != 0 {
		trunkData, err := bt.rawGetPage(bt.freelistTrunk)
		if err != nil {
			return fmt.Errorf("FreePage: reading trunk %d: %w", bt.freelistTrunk, err)
		}
		leafCount := binary.BigEndian.Uint32(trunkData[4:8])
		if int(leafCount) < bt.maxFreelistLeafEntries() {
			off := trunkHeaderSize + int(leafCount)*4
			binary.BigEndian.PutUint32(trunkData[off:], pgno)
			binary.BigEndian.PutUint32(trunkData[4:8], leafCount+1)
			if err := bt.SetPage(bt.freelistTrunk, trunkData); err != nil {
				return err
			}
			bt.freelistCount++
			bt.freed[pgno] = true
			bt.syncFreelistHeader()
			return nil
		}
	}

	// Current trunk is full (or there is none): pgno becomes the new
	// trunk page, pointing back at the old one.
	newTrunk := make([]byte, bt.PageSize)
	binary.BigEndian.PutUint32(newTrunk[0:4], bt.freelistTrunk)
	binary.BigEndian.PutUint32(newTrunk[4:8], 0)
	if err := bt.SetPage(pgno, newTrunk); err != nil {
		return err
	}
	bt.freelistTrunk = pgno
	bt.freelistCount++
	bt.freed[pgno] = true
	bt.syncFreelistHeader()
	return nil
}

// allocatePageFromFreelist pops a page off the free-list, if any is
// available, preferring a leaf entry over consuming the trunk page
// itself so the chain stays shallow.
func (bt *Btree) allocatePageFromFreelist() (uint32, bool, error) {
	if bt.freelistTrunk == 0 {
		return 0, false, nil
	}

	trunkData, err := bt.rawGetPage(bt.freelistTrunk)
	if err != nil {
		return 0, false, fmt.Errorf("allocatePageFromFreelist: reading trunk %d: %w", bt.freelistTrunk, err)
	}
	leafCount := binary.BigEndian.Uint32(trunkData[4:8])

	if leafCount > 0 {
		off := trunkHeaderSize + int(leafCount-1)*4
		pgno := binary.BigEndian.Uint32(trunkData[off:])
		binary.BigEndian.PutUint32(trunkData[4:8], leafCount-1)
		for i := 0; i < 4; i++ {
			trunkData[off+i] = 0
		}
		if err := bt.SetPage(bt.freelistTrunk, trunkData); err != nil {
			return 0, false, err
		}
		bt.freelistCount--
		delete(bt.freed, pgno)
		bt.syncFreelistHeader()
		return pgno, true, nil
	}

	// No leaves: consume the trunk page itself.
	pgno := bt.freelistTrunk
	bt.freelistTrunk = binary.BigEndian.Uint32(trunkData[0:4])
	bt.freelistCount--
	delete(bt.freed, pgno)
	bt.syncFreelistHeader()
	return pgno, true, nil
}

// AllocatePage allocates a new page in the B-tree and returns its page number
func (bt *Btree) AllocatePage() (uint32, error) {
	// Use provider if available
	if bt.Provider != nil {
		pageNum, data, err := bt.Provider.AllocatePageData()
		if err != nil {
			return 0, err
		}
		bt.Pages[pageNum] = data
		return pageNum, nil
	}

	// Prefer reusing a free-list page over growing the file.
	if pgno, ok, err := bt.allocatePageFromFreelist(); err != nil {
		return 0, err
	} else if ok {
		page := make([]byte, bt.PageSize)
		bt.Pages[pgno] = page
		return pgno, nil
	}

	// Find the next available page number
	pageNum := uint32(1)
	for {
		if _, ok := bt.Pages[pageNum]; !ok {
			// Found an unused page number
			break
		}
		pageNum++
		if pageNum == 0 {
			return 0, fmt.Errorf("page number overflow")
		}
	}

	// Create a new empty page
	page := make([]byte, bt.PageSize)
	bt.Pages[pageNum] = page

	return pageNum, nil
}

// CreateTable creates a new table B-tree and returns its root page number
func (bt *Btree) CreateTable() (rootPage uint32, err error) {
	// Allocate a new page for the table root
	rootPage, err = bt.AllocatePage()
	if err != nil {
		return 0, err
	}

	// Get the page data for initialization
	pageData, err := bt.GetPage(rootPage)
	if err != nil {
		return 0, fmt.Errorf("failed to get allocated page: %w", err)
	}

	// Page 1 has a 100-byte database file header, so the page header
	// starts at offset 100. For all other pages it starts at offset 0.
	InitLeafTablePage(pageData, rootPage)

	bt.putPtrMap(rootPage, PtrMapRootPage, 0)

	return rootPage, nil
}

// DropTable drops a table B-tree by freeing all its pages
func (bt *Btree) DropTable(rootPage uint32) error {
	if rootPage == 0 {
		return fmt.Errorf("invalid root page 0")
	}

	// Get the root page
	pageData, err := bt.GetPage(rootPage)
	if err != nil {
		return err
	}

	// Parse the page header
	header, err := ParsePageHeader(pageData, rootPage)
	if err != nil {
		return err
	}

	// If it's an interior page, recursively drop child pages
	if header.IsInterior {
		// Drop all child pages
		for i := 0; i < int(header.NumCells); i++ {
			cellOffset, err := header.GetCellPointer(pageData, i)
			if err != nil {
				continue
			}

			cell, err := ParseCell(header.PageType, pageData[cellOffset:], bt.UsableSize)
			if err != nil {
				continue
			}

			// Recursively drop child page
			if cell.ChildPage != 0 {
				bt.DropTable(cell.ChildPage)
			}
			if cell.OverflowPage != 0 {
				freeOverflowChain(bt, cell.OverflowPage)
			}
		}

		// Drop the right-most child
		if header.RightChild != 0 {
			bt.DropTable(header.RightChild)
		}
	} else {
		for i := 0; i < int(header.NumCells); i++ {
			cellOffset, err := header.GetCellPointer(pageData, i)
			if err != nil {
				continue
			}
			cell, err := ParseCell(header.PageType, pageData[cellOffset:], bt.UsableSize)
			if err != nil {
				continue
			}
			if cell.OverflowPage != 0 {
				freeOverflowChain(bt, cell.OverflowPage)
			}
		}
	}

	// Free the root page itself, returning it to the free-list for
	// reuse rather than simply discarding it (§4.3).
	return bt.FreePage(rootPage)
}

// NewRowid generates a new unique rowid for a table
func (bt *Btree) NewRowid(rootPage uint32) (int64, error) {
	if rootPage == 0 {
		return 0, fmt.Errorf("invalid root page 0")
	}

	// Find the maximum rowid in the table
	cursor := NewCursor(bt, rootPage)
	if err := cursor.MoveToLast(); err != nil {
		// Empty table - return 1 as first rowid
		return 1, nil
	}

	maxRowid := cursor.GetKey()

	// Return next rowid
	return maxRowid + 1, nil
}

// IntegrityCheck walks every page reachable from roots and reports up
// to maxErrors (0 means unlimited) problems found: malformed page
// headers, out-of-bounds cell pointers, a page reachable more than
// once (a cycle, which cannot occur in a well-formed tree), rowids out
// of order, and overflow chains that don't assemble to their declared
// length. Mirrors the checks SQLite's own integrity_check pragma
// performs over a b-tree (§6.2).
func (bt *Btree) IntegrityCheck(roots []uint32, maxErrors int) []string {
	var errs []string
	visited := make(map[uint32]bool)

	report := func(format string, args ...interface{}) bool {
		if maxErrors > 0 && len(errs) >= maxErrors {
			return false
		}
		errs = append(errs, fmt.Sprintf(format, args...))
		return true
	}

	for _, root := range roots {
		bt.checkStructure(root, visited, report)

		cursor := NewCursor(bt, root)
		err := cursor.MoveToFirst()
		if err != nil {
			// An empty table is not an integrity error.
			continue
		}
		var prevKey int64
		havePrev := false
		for cursor.IsValid() {
			key := cursor.GetKey()
			if havePrev && key <= prevKey {
				if !report("table %d: rowid %d out of order after %d", root, key, prevKey) {
					break
				}
			}
			if _, perr := cursor.Data(0, -1); perr != nil {
				if !report("table %d: rowid %d: %v", root, key, perr) {
					break
				}
			}
			prevKey = key
			havePrev = true
			if err := cursor.Next(); err != nil {
				break
			}
		}
	}

	return errs
}

// checkStructure recursively validates that every page reachable from
// pgno parses cleanly and is visited at most once.
func (bt *Btree) checkStructure(pgno uint32, visited map[uint32]bool, report func(string, ...interface{}) bool) {
	if pgno == 0 {
		return
	}
	if visited[pgno] {
		report("page %d reachable more than once (cycle)", pgno)
		return
	}
	visited[pgno] = true

	header, cells, err := bt.ParsePage(pgno)
	if err != nil {
		report("page %d: %v", pgno, err)
		return
	}

	if header.IsInterior {
		for _, cell := range cells {
			if cell.ChildPage != 0 {
				bt.checkStructure(cell.ChildPage, visited, report)
			}
		}
		if header.RightChild != 0 {
			bt.checkStructure(header.RightChild, visited, report)
		}
	}
}
