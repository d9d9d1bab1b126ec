package btree

import (
	"fmt"
)

// Cursor state constants
const (
	CursorValid       = 0 // Cursor points to a valid entry
	CursorInvalid     = 1 // Cursor does not point to a valid entry
	CursorSkipNext    = 2 // Next/Previous should be a no-op
	CursorRequireSeek = 3 // Cursor position needs to be restored
	CursorFault       = 4 // Unrecoverable error
)

// Maximum B-tree depth (to prevent infinite loops in corrupt databases)
const MaxBtreeDepth = 20

// BtCursor represents a cursor for traversing a B-tree
type BtCursor struct {
	Btree    *Btree    // The B-tree this cursor belongs to
	RootPage uint32    // Root page number of the tree
	State    int       // Cursor state (valid, invalid, etc.)

	// Current position in the tree
	PageStack   [MaxBtreeDepth]uint32      // Stack of page numbers from root to current
	IndexStack  [MaxBtreeDepth]int         // Stack of cell indices
	Depth       int                        // Current depth in tree (0 = root)

	// Current cell information
	CurrentPage   uint32     // Current page number
	CurrentIndex  int        // Current cell index in page
	CurrentCell   *CellInfo  // Parsed current cell
	CurrentHeader *PageHeader // Current page header

	// Navigation flags
	AtFirst bool // True if at first entry
	AtLast  bool // True if at last entry

	// cachedRowid stashes a caller-supplied rowid hint; see
	// CachedRowid/SetCachedRowid (§6.2's cachedRowid(get/set)).
	cachedRowid int64

	// savedKey holds the key SavePosition captured, consumed by
	// RestorePosition.
	savedKey int64
}

// NewCursor creates a new cursor for the given B-tree and root page
func NewCursor(bt *Btree, rootPage uint32) *BtCursor {
	return &BtCursor{
		Btree:    bt,
		RootPage: rootPage,
		State:    CursorInvalid,
		Depth:    -1,
	}
}

// MoveToFirst moves the cursor to the first entry in the B-tree
func (c *BtCursor) MoveToFirst() error {
	// Reset cursor state
	c.Depth = 0
	c.PageStack[0] = c.RootPage
	c.IndexStack[0] = 0
	c.AtFirst = false
	c.AtLast = false

	// Navigate to leftmost leaf
	pageNum := c.RootPage
	for {
		// Get page
		pageData, err := c.Btree.GetPage(pageNum)
		if err != nil {
			c.State = CursorInvalid
			return fmt.Errorf("failed to get page %d: %w", pageNum, err)
		}

		// Parse header
		header, err := ParsePageHeader(pageData, pageNum)
		if err != nil {
			c.State = CursorInvalid
			return fmt.Errorf("failed to parse page %d: %w", pageNum, err)
		}

		// Check if this is a leaf
		if header.IsLeaf {
			// We've reached a leaf - position at first cell
			if header.NumCells == 0 {
				c.State = CursorInvalid
				return fmt.Errorf("empty leaf page %d", pageNum)
			}

			c.CurrentPage = pageNum
			c.CurrentIndex = 0
			c.CurrentHeader = header
			c.AtFirst = true

			// Parse the first cell
			cellOffset, err := header.GetCellPointer(pageData, 0)
			if err != nil {
				c.State = CursorInvalid
				return err
			}

			cell, err := ParseCell(header.PageType, pageData[cellOffset:], c.Btree.UsableSize)
			if err != nil {
				c.State = CursorInvalid
				return err
			}
			c.CurrentCell = cell
			c.State = CursorValid
			return nil
		}

		// Interior page - follow first child pointer
		if header.NumCells == 0 {
			c.State = CursorInvalid
			return fmt.Errorf("empty interior page %d", pageNum)
		}

		// Get first cell to extract child page
		cellOffset, err := header.GetCellPointer(pageData, 0)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		cell, err := ParseCell(header.PageType, pageData[cellOffset:], c.Btree.UsableSize)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		// Navigate to child
		c.Depth++
		if c.Depth >= MaxBtreeDepth {
			c.State = CursorInvalid
			return fmt.Errorf("btree depth exceeded (possible corruption)")
		}

		pageNum = cell.ChildPage
		c.PageStack[c.Depth] = pageNum
		c.IndexStack[c.Depth] = 0
	}
}

// MoveToLast moves the cursor to the last entry in the B-tree
func (c *BtCursor) MoveToLast() error {
	// Reset cursor state
	c.Depth = 0
	c.PageStack[0] = c.RootPage
	c.AtFirst = false
	c.AtLast = false

	// Navigate to rightmost leaf
	pageNum := c.RootPage
	for {
		// Get page
		pageData, err := c.Btree.GetPage(pageNum)
		if err != nil {
			c.State = CursorInvalid
			return fmt.Errorf("failed to get page %d: %w", pageNum, err)
		}

		// Parse header
		header, err := ParsePageHeader(pageData, pageNum)
		if err != nil {
			c.State = CursorInvalid
			return fmt.Errorf("failed to parse page %d: %w", pageNum, err)
		}

		// Check if this is a leaf
		if header.IsLeaf {
			// We've reached a leaf - position at last cell
			if header.NumCells == 0 {
				c.State = CursorInvalid
				return fmt.Errorf("empty leaf page %d", pageNum)
			}

			c.CurrentPage = pageNum
			c.CurrentIndex = int(header.NumCells) - 1
			c.CurrentHeader = header
			c.AtLast = true
			c.IndexStack[c.Depth] = c.CurrentIndex

			// Parse the last cell
			cellOffset, err := header.GetCellPointer(pageData, c.CurrentIndex)
			if err != nil {
				c.State = CursorInvalid
				return err
			}

			cell, err := ParseCell(header.PageType, pageData[cellOffset:], c.Btree.UsableSize)
			if err != nil {
				c.State = CursorInvalid
				return err
			}
			c.CurrentCell = cell
			c.State = CursorValid
			return nil
		}

		// Interior page - follow rightmost child pointer
		// For interior pages, the rightmost child is in the header
		if header.RightChild == 0 {
			c.State = CursorInvalid
			return fmt.Errorf("interior page %d has no right child", pageNum)
		}

		// Navigate to rightmost child
		c.IndexStack[c.Depth] = int(header.NumCells)
		c.Depth++
		if c.Depth >= MaxBtreeDepth {
			c.State = CursorInvalid
			return fmt.Errorf("btree depth exceeded (possible corruption)")
		}

		pageNum = header.RightChild
		c.PageStack[c.Depth] = pageNum
		c.IndexStack[c.Depth] = -1 // Will be set when we reach the leaf
	}
}

// Next moves the cursor to the next entry
func (c *BtCursor) Next() error {
	if c.State != CursorValid {
		return fmt.Errorf("cursor not in valid state")
	}

	c.AtFirst = false

	// Get current page
	pageData, err := c.Btree.GetPage(c.CurrentPage)
	if err != nil {
		c.State = CursorInvalid
		return err
	}

	// If not at last cell in this page, just increment index
	if c.CurrentIndex < int(c.CurrentHeader.NumCells)-1 {
		c.CurrentIndex++
		c.IndexStack[c.Depth] = c.CurrentIndex

		// Parse next cell
		cellOffset, err := c.CurrentHeader.GetCellPointer(pageData, c.CurrentIndex)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		cell, err := ParseCell(c.CurrentHeader.PageType, pageData[cellOffset:], c.Btree.UsableSize)
		if err != nil {
			c.State = CursorInvalid
			return err
		}
		c.CurrentCell = cell
		return nil
	}

	// At last cell in page - need to go up the tree
	for c.Depth > 0 {
		c.Depth--
		parentPage := c.PageStack[c.Depth]
		parentIndex := c.IndexStack[c.Depth]

		parentData, err := c.Btree.GetPage(parentPage)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		parentHeader, err := ParsePageHeader(parentData, parentPage)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		// If not at last cell in parent, move to next cell in parent
		if parentIndex < int(parentHeader.NumCells)-1 {
			// Move to next cell in parent, then descend to first entry in that subtree
			c.IndexStack[c.Depth] = parentIndex + 1

			// Get the cell to find the child page
			cellOffset, err := parentHeader.GetCellPointer(parentData, parentIndex+1)
			if err != nil {
				c.State = CursorInvalid
				return err
			}

			cell, err := ParseCell(parentHeader.PageType, parentData[cellOffset:], c.Btree.UsableSize)
			if err != nil {
				c.State = CursorInvalid
				return err
			}

			// Descend to leftmost entry in this subtree
			return c.descendToFirst(cell.ChildPage)
		}

		// Past the last divider cell: the right child's subtree is next.
		if parentIndex == int(parentHeader.NumCells)-1 {
			c.IndexStack[c.Depth] = parentIndex + 1
			return c.descendToFirst(parentHeader.RightChild)
		}
	}

	// Reached end of tree
	c.State = CursorInvalid
	c.AtLast = true
	return fmt.Errorf("end of btree")
}

// Previous moves the cursor to the previous entry
func (c *BtCursor) Previous() error {
	if c.State != CursorValid {
		return fmt.Errorf("cursor not in valid state")
	}

	c.AtLast = false

	// If not at first cell in this page, just decrement index
	if c.CurrentIndex > 0 {
		c.CurrentIndex--
		c.IndexStack[c.Depth] = c.CurrentIndex

		// Get current page
		pageData, err := c.Btree.GetPage(c.CurrentPage)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		// Parse previous cell
		cellOffset, err := c.CurrentHeader.GetCellPointer(pageData, c.CurrentIndex)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		cell, err := ParseCell(c.CurrentHeader.PageType, pageData[cellOffset:], c.Btree.UsableSize)
		if err != nil {
			c.State = CursorInvalid
			return err
		}
		c.CurrentCell = cell
		return nil
	}

	// At first cell in page - need to go up the tree
	for c.Depth > 0 {
		c.Depth--
		parentPage := c.PageStack[c.Depth]
		parentIndex := c.IndexStack[c.Depth]

		// If not at first cell in parent, move to previous cell in parent
		if parentIndex > 0 {
			c.IndexStack[c.Depth] = parentIndex - 1

			parentData, err := c.Btree.GetPage(parentPage)
			if err != nil {
				c.State = CursorInvalid
				return err
			}

			parentHeader, err := ParsePageHeader(parentData, parentPage)
			if err != nil {
				c.State = CursorInvalid
				return err
			}

			// Get the cell to find the child page
			cellOffset, err := parentHeader.GetCellPointer(parentData, parentIndex-1)
			if err != nil {
				c.State = CursorInvalid
				return err
			}

			cell, err := ParseCell(parentHeader.PageType, parentData[cellOffset:], c.Btree.UsableSize)
			if err != nil {
				c.State = CursorInvalid
				return err
			}

			// Descend to rightmost entry in this subtree
			return c.descendToLast(cell.ChildPage)
		}
	}

	// Reached beginning of tree
	c.State = CursorInvalid
	c.AtFirst = true
	return fmt.Errorf("beginning of btree")
}

// descendToFirst descends to the first (leftmost) entry starting from the given page
func (c *BtCursor) descendToFirst(pageNum uint32) error {
	for {
		c.Depth++
		if c.Depth >= MaxBtreeDepth {
			c.State = CursorInvalid
			return fmt.Errorf("btree depth exceeded")
		}

		c.PageStack[c.Depth] = pageNum
		c.IndexStack[c.Depth] = 0

		pageData, err := c.Btree.GetPage(pageNum)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		header, err := ParsePageHeader(pageData, pageNum)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		if header.IsLeaf {
			// Reached leaf
			if header.NumCells == 0 {
				c.State = CursorInvalid
				return fmt.Errorf("empty leaf")
			}

			c.CurrentPage = pageNum
			c.CurrentIndex = 0
			c.CurrentHeader = header

			cellOffset, err := header.GetCellPointer(pageData, 0)
			if err != nil {
				c.State = CursorInvalid
				return err
			}

			cell, err := ParseCell(header.PageType, pageData[cellOffset:], c.Btree.UsableSize)
			if err != nil {
				c.State = CursorInvalid
				return err
			}
			c.CurrentCell = cell
			c.State = CursorValid
			return nil
		}

		// Get first child
		cellOffset, err := header.GetCellPointer(pageData, 0)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		cell, err := ParseCell(header.PageType, pageData[cellOffset:], c.Btree.UsableSize)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		pageNum = cell.ChildPage
	}
}

// descendToLast descends to the last (rightmost) entry starting from the given page
func (c *BtCursor) descendToLast(pageNum uint32) error {
	for {
		c.Depth++
		if c.Depth >= MaxBtreeDepth {
			c.State = CursorInvalid
			return fmt.Errorf("btree depth exceeded")
		}

		c.PageStack[c.Depth] = pageNum

		pageData, err := c.Btree.GetPage(pageNum)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		header, err := ParsePageHeader(pageData, pageNum)
		if err != nil {
			c.State = CursorInvalid
			return err
		}

		if header.IsLeaf {
			// Reached leaf
			if header.NumCells == 0 {
				c.State = CursorInvalid
				return fmt.Errorf("empty leaf")
			}

			c.CurrentPage = pageNum
			c.CurrentIndex = int(header.NumCells) - 1
			c.CurrentHeader = header
			c.IndexStack[c.Depth] = c.CurrentIndex

			cellOffset, err := header.GetCellPointer(pageData, c.CurrentIndex)
			if err != nil {
				c.State = CursorInvalid
				return err
			}

			cell, err := ParseCell(header.PageType, pageData[cellOffset:], c.Btree.UsableSize)
			if err != nil {
				c.State = CursorInvalid
				return err
			}
			c.CurrentCell = cell
			c.State = CursorValid
			return nil
		}

		// Follow rightmost child
		c.IndexStack[c.Depth] = int(header.NumCells)
		pageNum = header.RightChild
	}
}

// IsValid returns true if the cursor is pointing to a valid entry
func (c *BtCursor) IsValid() bool {
	return c.State == CursorValid
}

// IsEof reports whether the cursor has run off either end of the
// table, the §6.2 `isEof` query — equivalent to !IsValid() except it
// also covers CursorFault, which is never a "valid entry waiting to be
// read" state either.
func (c *BtCursor) IsEof() bool {
	return c.State != CursorValid
}

// HasMoved reports whether the cursor is off its position (§8.1
// property 9's cursor save/restore contract; §6.2's `hasMoved`): true
// from SavePosition until RestorePosition re-seeks it
// (CursorRequireSeek), and after a re-seek that failed (CursorFault).
func (c *BtCursor) HasMoved() bool {
	return c.State == CursorRequireSeek || c.State == CursorFault
}

// GetKey returns the key of the current entry
func (c *BtCursor) GetKey() int64 {
	if c.State != CursorValid || c.CurrentCell == nil {
		return 0
	}
	return c.CurrentCell.Key
}

// KeySize returns the current entry's key, matching the signed
// 64-bit rowid `keySize` reports for an intkey table b-tree (§6.2).
func (c *BtCursor) KeySize() int64 {
	return c.GetKey()
}

// DataSize returns the current entry's total payload length, chasing
// as far as the overflow-chain header without reading the whole chain
// (§6.2's `dataSize`).
func (c *BtCursor) DataSize() (int, error) {
	if c.State != CursorValid || c.CurrentCell == nil {
		return 0, fmt.Errorf("cursor not positioned at a valid entry")
	}
	return int(c.CurrentCell.PayloadSize), nil
}

// CachedRowid returns the rowid hint most recently stashed with
// SetCachedRowid, or 0 if none has been set (§6.2's
// `cachedRowid(get/set)` — an optimization allowing a caller that
// already knows the next rowid to skip a MoveToLast probe).
func (c *BtCursor) CachedRowid() int64 {
	return c.cachedRowid
}

// SetCachedRowid stashes a rowid hint on the cursor for later
// retrieval via CachedRowid.
func (c *BtCursor) SetCachedRowid(rowid int64) {
	c.cachedRowid = rowid
}

// Close releases the cursor. Cursors hold no pinned pager references
// of their own (page data is reached through the B-tree on demand), so
// this only trips the cursor to CursorInvalid so further use is
// visibly a mistake rather than a silent stale read (§6.2's
// `cursor.close`).
func (c *BtCursor) Close() error {
	c.State = CursorInvalid
	c.CurrentCell = nil
	c.CurrentHeader = nil
	return nil
}

// GetPayload returns the full payload of the current entry, chasing
// the overflow chain (if any) to assemble bytes beyond what is stored
// locally on the cell's page.
func (c *BtCursor) GetPayload() []byte {
	full, err := c.Data(0, -1)
	if err != nil {
		return nil
	}
	return full
}

// Data reads amt bytes of the current entry's payload starting at
// offset, assembling across the overflow chain as needed. amt of -1
// means "through the end of the payload". This is the accessPayload
// equivalent described in §4.2/§6.2.
func (c *BtCursor) Data(offset, amt int) ([]byte, error) {
	if c.State != CursorValid || c.CurrentCell == nil {
		return nil, fmt.Errorf("cursor not positioned at a valid entry")
	}

	full, err := assemblePayload(c.Btree, c.CurrentCell)
	if err != nil {
		return nil, err
	}

	if offset < 0 || offset > len(full) {
		return nil, fmt.Errorf("Data: offset %d out of range (payload is %d bytes)", offset, len(full))
	}
	end := len(full)
	if amt >= 0 {
		end = offset + amt
		if end > len(full) {
			return nil, fmt.Errorf("Data: offset %d + amt %d exceeds payload length %d", offset, amt, len(full))
		}
	}
	return full[offset:end], nil
}

// PutData overwrites amt bytes of the current entry's payload starting
// at offset, writing across the overflow chain as needed, per §6.2's
// putData(range). The row is re-encoded in place; its key is
// unaffected.
func (c *BtCursor) PutData(offset int, data []byte) error {
	if c.State != CursorValid || c.CurrentCell == nil {
		return fmt.Errorf("cursor not positioned at a valid entry")
	}
	if c.CurrentHeader == nil || !c.CurrentHeader.IsLeaf || c.CurrentHeader.PageType != PageTypeLeafTable {
		return fmt.Errorf("PutData: only table-leaf rows are supported")
	}

	full, err := assemblePayload(c.Btree, c.CurrentCell)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(data) > len(full) {
		return fmt.Errorf("PutData: range [%d,%d) out of bounds for payload length %d", offset, offset+len(data), len(full))
	}
	copy(full[offset:], data)

	key := c.CurrentCell.Key
	if c.CurrentCell.OverflowPage != 0 {
		if err := freeOverflowChain(c.Btree, c.CurrentCell.OverflowPage); err != nil {
			return err
		}
	}

	if err := c.Delete(); err != nil {
		return err
	}
	return c.Insert(key, full)
}

// String returns a string representation of the cursor
func (c *BtCursor) String() string {
	if c.State != CursorValid {
		return fmt.Sprintf("BtCursor{state=%d, invalid}", c.State)
	}
	return fmt.Sprintf("BtCursor{page=%d, index=%d, key=%d, depth=%d}",
		c.CurrentPage, c.CurrentIndex, c.GetKey(), c.Depth)
}

// SeekRowid seeks to the specified rowid in the table
// Returns true if the exact rowid is found, false otherwise
func (c *BtCursor) SeekRowid(rowid int64) (found bool, err error) {
	// Start from root
	c.Depth = 0
	c.PageStack[0] = c.RootPage
	c.IndexStack[0] = 0

	pageNum := c.RootPage

	// Navigate down the tree
	for {
		pageData, err := c.Btree.GetPage(pageNum)
		if err != nil {
			c.State = CursorInvalid
			return false, fmt.Errorf("failed to get page %d: %w", pageNum, err)
		}

		header, err := ParsePageHeader(pageData, pageNum)
		if err != nil {
			c.State = CursorInvalid
			return false, fmt.Errorf("failed to parse page %d: %w", pageNum, err)
		}

		// Binary search for the rowid
		idx, exactMatch := c.binarySearch(pageData, header, rowid)

		if header.IsLeaf {
			// Found the leaf page
			c.CurrentPage = pageNum
			c.CurrentIndex = idx
			c.CurrentHeader = header
			c.IndexStack[c.Depth] = idx

			if exactMatch && idx < int(header.NumCells) {
				// Parse the cell
				cellOffset, err := header.GetCellPointer(pageData, idx)
				if err != nil {
					c.State = CursorInvalid
					return false, err
				}

				cell, err := ParseCell(header.PageType, pageData[cellOffset:], c.Btree.UsableSize)
				if err != nil {
					c.State = CursorInvalid
					return false, err
				}

				c.CurrentCell = cell
				c.State = CursorValid
				return true, nil
			}

			// Rowid not found, but cursor is positioned
			c.State = CursorValid
			if idx < int(header.NumCells) {
				cellOffset, err := header.GetCellPointer(pageData, idx)
				if err == nil {
					cell, err := ParseCell(header.PageType, pageData[cellOffset:], c.Btree.UsableSize)
					if err == nil {
						c.CurrentCell = cell
					}
				}
			}
			return false, nil
		}

		// Interior page - follow the appropriate child
		var childPage uint32
		if idx >= int(header.NumCells) {
			// Follow right child
			childPage = header.RightChild
		} else {
			// Get cell to extract child page
			cellOffset, err := header.GetCellPointer(pageData, idx)
			if err != nil {
				c.State = CursorInvalid
				return false, err
			}

			cell, err := ParseCell(header.PageType, pageData[cellOffset:], c.Btree.UsableSize)
			if err != nil {
				c.State = CursorInvalid
				return false, err
			}

			childPage = cell.ChildPage
		}

		// Record the index used to descend from this page before moving
		// down a level: a later split needs to know where, in the
		// parent, the cell pointing at the child it split came from.
		c.IndexStack[c.Depth] = idx

		// Navigate to child
		c.Depth++
		if c.Depth >= MaxBtreeDepth {
			c.State = CursorInvalid
			return false, fmt.Errorf("btree depth exceeded")
		}

		pageNum = childPage
		c.PageStack[c.Depth] = pageNum
		c.IndexStack[c.Depth] = 0
	}
}

// SavePosition remembers the key the cursor is currently on and trips
// it to CursorRequireSeek, the §8.1 property 9 / §6.2 "save" half of a
// cursor's save/restore contract: some other cursor is about to
// mutate the tree (a write via a different *BtCursor on the same
// Btree), and this cursor's page/index coordinates may no longer be
// valid once that happens.
func (c *BtCursor) SavePosition() error {
	if c.State != CursorValid || c.CurrentCell == nil {
		return fmt.Errorf("SavePosition: cursor not positioned at a valid entry")
	}
	c.savedKey = c.CurrentCell.Key
	c.State = CursorRequireSeek
	return nil
}

// RestorePosition re-seeks a cursor previously suspended by
// SavePosition to the smallest key >= its saved key, and reports via
// skipNext whether the exact saved key still exists: 0 if it does, +1
// if the cursor landed on the next-larger surviving key instead, -1 if
// no surviving key is >= the saved one (the cursor is now at EOF).
// HasMoved becomes true only if re-seeking itself fails; landing on a
// different key via skipNext is normal, successful restoration.
func (c *BtCursor) RestorePosition() (skipNext int, err error) {
	if c.State != CursorRequireSeek {
		return 0, nil
	}
	found, err := c.SeekRowid(c.savedKey)
	if err != nil {
		c.State = CursorFault
		return 0, err
	}
	if found {
		return 0, nil
	}
	if c.IsValid() && c.CurrentIndex >= int(c.CurrentHeader.NumCells) {
		// The seek stopped past this leaf's last cell: the next-larger
		// key, if any, is the first cell of the following leaf.
		c.CurrentIndex = int(c.CurrentHeader.NumCells) - 1
		if err := c.Next(); err != nil {
			if c.AtLast {
				return -1, nil
			}
			c.State = CursorFault
			return 0, err
		}
	}
	if c.IsValid() {
		return 1, nil
	}
	return -1, nil
}

// binarySearch performs binary search for a rowid in a page
// Returns (index, exactMatch) where index is the position where the rowid should be
func (c *BtCursor) binarySearch(pageData []byte, header *PageHeader, rowid int64) (int, bool) {
	left := 0
	right := int(header.NumCells)

	for left < right {
		mid := (left + right) / 2

		// Get cell at mid
		cellOffset, err := header.GetCellPointer(pageData, mid)
		if err != nil {
			return left, false
		}

		cell, err := ParseCell(header.PageType, pageData[cellOffset:], c.Btree.UsableSize)
		if err != nil {
			return left, false
		}

		if cell.Key == rowid {
			return mid, true
		} else if cell.Key < rowid {
			left = mid + 1
		} else {
			right = mid
		}
	}

	return left, false
}

// Insert inserts a new row with the given key and payload
func (c *BtCursor) Insert(key int64, payload []byte) error {
	// Seek to the position where this key should be inserted
	found, err := c.SeekRowid(key)
	if err != nil {
		return err
	}

	if found {
		return fmt.Errorf("duplicate key: %d", key)
	}

	// We're now positioned at a leaf page
	if c.CurrentHeader == nil || !c.CurrentHeader.IsLeaf {
		return fmt.Errorf("cursor not positioned at leaf page")
	}

	// Encode the cell, splitting payload onto an overflow chain if it
	// exceeds what fits locally (§4.2).
	cellData, err := EncodeTableLeafCellFull(c.Btree, key, payload)
	if err != nil {
		return err
	}

	// Get the current page
	pageData, err := c.Btree.GetPage(c.CurrentPage)
	if err != nil {
		return err
	}

	// Wrap in BtreePage for write operations
	btreePage, err := NewBtreePage(c.CurrentPage, pageData, c.Btree.UsableSize)
	if err != nil {
		return err
	}

	// Check if the cell will fit on the page. FreeSpace() reports total
	// free bytes; the cell itself also needs a 2-byte slot in the
	// cell-pointer array.
	if len(cellData)+2 > btreePage.FreeSpace() {
		// Page is full - need to split
		return c.splitPage(key, payload)
	}

	// Insert the cell
	if err := btreePage.InsertCell(c.CurrentIndex, cellData); err != nil {
		return err
	}

	// Update the cursor to point to the newly inserted cell
	if _, err := c.SeekRowid(key); err != nil {
		return err
	}

	return nil
}

// Delete deletes the row at the current cursor position
func (c *BtCursor) Delete() error {
	if c.State != CursorValid {
		return fmt.Errorf("cursor not in valid state")
	}

	if c.CurrentHeader == nil || !c.CurrentHeader.IsLeaf {
		return fmt.Errorf("cursor not positioned at leaf page")
	}

	// Get the current page
	pageData, err := c.Btree.GetPage(c.CurrentPage)
	if err != nil {
		return err
	}

	// Wrap in BtreePage for write operations
	btreePage, err := NewBtreePage(c.CurrentPage, pageData, c.Btree.UsableSize)
	if err != nil {
		return err
	}

	// Free any overflow chain belonging to this cell before discarding
	// its home cell, or its pages would leak (§4.2/§4.3).
	if c.CurrentCell != nil && c.CurrentCell.OverflowPage != 0 {
		if err := freeOverflowChain(c.Btree, c.CurrentCell.OverflowPage); err != nil {
			return err
		}
	}

	// Delete the cell
	if err := btreePage.DeleteCell(c.CurrentIndex); err != nil {
		return err
	}

	// Invalidate cursor
	c.State = CursorInvalid

	return nil
}

// leafEntry is a table-leaf row pulled off a page during a split, ready
// to be re-encoded onto whichever page ends up holding it.
type leafEntry struct {
	key     int64
	payload []byte
}

// collectLeafEntries reads every cell on a table-leaf page into an
// ordered slice of entries, assembling full payloads (chasing any
// overflow chain) and copying them out of the page buffer so they
// survive the page being overwritten. The original overflow chains,
// if any, are freed: writeLeafEntries re-splits and re-allocates fresh
// ones for whichever page each entry lands on.
func collectLeafEntries(bt *Btree, header *PageHeader, pageData []byte, usableSize uint32) ([]leafEntry, error) {
	entries := make([]leafEntry, header.NumCells)
	for i := 0; i < int(header.NumCells); i++ {
		cellOffset, err := header.GetCellPointer(pageData, i)
		if err != nil {
			return nil, err
		}
		cell, err := ParseCell(header.PageType, pageData[cellOffset:], usableSize)
		if err != nil {
			return nil, err
		}
		payload, err := assemblePayload(bt, cell)
		if err != nil {
			return nil, err
		}
		if cell.OverflowPage != 0 {
			if err := freeOverflowChain(bt, cell.OverflowPage); err != nil {
				return nil, err
			}
		}
		entries[i] = leafEntry{key: cell.Key, payload: payload}
	}
	return entries, nil
}

// writeLeafEntries resets the named page to an empty table-leaf page
// and inserts entries onto it in order, splitting any payload that no
// longer fits locally onto a fresh overflow chain.
func writeLeafEntries(bt *Btree, pageNum uint32, entries []leafEntry) error {
	data, err := bt.GetPage(pageNum)
	if err != nil {
		return err
	}

	InitLeafTablePage(data, pageNum)
	page, err := NewBtreePage(pageNum, data, bt.UsableSize)
	if err != nil {
		return err
	}

	for i, e := range entries {
		cellBytes, err := EncodeTableLeafCellFull(bt, e.key, e.payload)
		if err != nil {
			return err
		}
		if err := page.InsertCell(i, cellBytes); err != nil {
			return err
		}
	}

	return bt.SetPage(pageNum, data)
}

// splitPage splits a full table-leaf page when an insert finds no
// room. The combined set of existing cells plus the new one is divided
// in two; the higher-keyed half keeps the current page's page number
// (so any existing parent cell or right-child pointer referencing it
// by number and by its old maximum key stays correct unchanged), and
// the lower-keyed half moves to a freshly allocated page that gets
// threaded into the parent. When the current page is itself the root,
// both halves move to new pages and the root is rewritten as an
// interior page one level deeper.
func (c *BtCursor) splitPage(key int64, payload []byte) error {
	if c.CurrentHeader == nil || !c.CurrentHeader.IsLeaf {
		return fmt.Errorf("splitPage: cursor not positioned at a leaf page")
	}
	if c.CurrentHeader.PageType != PageTypeLeafTable {
		return fmt.Errorf("splitPage: only table b-tree leaf splits are implemented (page %d)", c.CurrentPage)
	}

	pageData, err := c.Btree.GetPage(c.CurrentPage)
	if err != nil {
		return err
	}

	entries, err := collectLeafEntries(c.Btree, c.CurrentHeader, pageData, c.Btree.UsableSize)
	if err != nil {
		return err
	}

	insertAt := c.CurrentIndex
	if insertAt < 0 || insertAt > len(entries) {
		insertAt = len(entries)
	}
	entries = append(entries, leafEntry{})
	copy(entries[insertAt+1:], entries[insertAt:])
	entries[insertAt] = leafEntry{key: key, payload: payload}

	splitAt := len(entries) / 2
	leftEntries, rightEntries := entries[:splitAt], entries[splitAt:]
	separatorKey := leftEntries[len(leftEntries)-1].key

	if c.Depth == 0 {
		if err := c.balanceDeeper(leftEntries, rightEntries, separatorKey); err != nil {
			return err
		}
	} else {
		newLeftPage, err := c.Btree.AllocatePage()
		if err != nil {
			return err
		}
		if err := writeLeafEntries(c.Btree, newLeftPage, leftEntries); err != nil {
			return err
		}
		if err := writeLeafEntries(c.Btree, c.CurrentPage, rightEntries); err != nil {
			return err
		}
		if err := c.insertIntoParent(newLeftPage, separatorKey); err != nil {
			return err
		}
	}

	// Reposition the cursor onto the freshly split tree at the key we
	// were trying to insert all along.
	_, err = c.SeekRowid(key)
	return err
}

// balanceDeeper handles a split of the root page: both halves move to
// newly allocated leaf pages, and the root (whose page number must
// never change) is rewritten as a one-cell interior page pointing at
// them.
func (c *BtCursor) balanceDeeper(leftEntries, rightEntries []leafEntry, separatorKey int64) error {
	leftPage, err := c.Btree.AllocatePage()
	if err != nil {
		return err
	}
	rightPage, err := c.Btree.AllocatePage()
	if err != nil {
		return err
	}

	if err := writeLeafEntries(c.Btree, leftPage, leftEntries); err != nil {
		return err
	}
	if err := writeLeafEntries(c.Btree, rightPage, rightEntries); err != nil {
		return err
	}

	rootData, err := c.Btree.GetPage(c.RootPage)
	if err != nil {
		return err
	}
	InitInteriorTablePage(rootData, c.RootPage, rightPage)
	root, err := NewBtreePage(c.RootPage, rootData, c.Btree.UsableSize)
	if err != nil {
		return err
	}
	if err := root.InsertCell(0, EncodeTableInteriorCell(leftPage, separatorKey)); err != nil {
		return err
	}

	c.Btree.putPtrMap(leftPage, PtrMapBtree, c.RootPage)
	c.Btree.putPtrMap(rightPage, PtrMapBtree, c.RootPage)

	return c.Btree.SetPage(c.RootPage, rootData)
}

// interiorEntry is an (childPage, separatorKey) divider cell pulled
// off an interior page during a cascading split, plus the page's
// unkeyed right-child pointer (carried separately, see
// collectInteriorEntries).
type interiorEntry struct {
	childPage uint32
	key       int64
}

// collectInteriorEntries reads every divider cell on a table-interior
// page into an ordered slice, alongside its own right-child pointer.
func collectInteriorEntries(header *PageHeader, pageData []byte, usableSize uint32) ([]interiorEntry, uint32, error) {
	entries := make([]interiorEntry, header.NumCells)
	for i := 0; i < int(header.NumCells); i++ {
		cellOffset, err := header.GetCellPointer(pageData, i)
		if err != nil {
			return nil, 0, err
		}
		cell, err := ParseCell(header.PageType, pageData[cellOffset:], usableSize)
		if err != nil {
			return nil, 0, err
		}
		entries[i] = interiorEntry{childPage: cell.ChildPage, key: cell.Key}
	}
	return entries, header.RightChild, nil
}

// writeInteriorEntries resets the named page to an empty table-interior
// page with the given right-child pointer and inserts divider cells in
// order.
func writeInteriorEntries(bt *Btree, pageNum uint32, entries []interiorEntry, rightChild uint32) error {
	data, err := bt.GetPage(pageNum)
	if err != nil {
		return err
	}

	InitInteriorTablePage(data, pageNum, rightChild)
	page, err := NewBtreePage(pageNum, data, bt.UsableSize)
	if err != nil {
		return err
	}

	for i, e := range entries {
		if err := page.InsertCell(i, EncodeTableInteriorCell(e.childPage, e.key)); err != nil {
			return err
		}
	}

	if err := bt.SetPage(pageNum, data); err != nil {
		return err
	}

	bt.putPtrMap(rightChild, PtrMapBtree, pageNum)
	for _, e := range entries {
		bt.putPtrMap(e.childPage, PtrMapBtree, pageNum)
	}
	return nil
}

// insertIntoParent threads a newly split-off left sibling into the
// parent page recorded on the cursor's descent stack, cascading the
// split up the tree (and, if necessary, deepening the tree at the
// root) when an ancestor interior page is itself full (§4.4).
func (c *BtCursor) insertIntoParent(leftChildPage uint32, separatorKey int64) error {
	return c.insertCellIntoAncestor(c.Depth-1, leftChildPage, separatorKey)
}

// insertCellIntoAncestor inserts a (childPage, key) divider cell into
// the interior page at the given position on the cursor's descent
// stack. If that page has no room, it is split in the same halves-plus
// -promoted-key shape SQLite's balance_nonroot uses for interior
// pages, and the promoted key is threaded one level further up by
// recursing — or, once the split reaches the root, the tree grows one
// level deeper exactly as balanceDeeper does for a leaf-level root
// split.
func (c *BtCursor) insertCellIntoAncestor(depth int, childPage uint32, key int64) error {
	pageNum := c.PageStack[depth]
	idx := c.IndexStack[depth]

	pageData, err := c.Btree.GetPage(pageNum)
	if err != nil {
		return err
	}
	page, err := NewBtreePage(pageNum, pageData, c.Btree.UsableSize)
	if err != nil {
		return err
	}

	cellBytes := EncodeTableInteriorCell(childPage, key)
	if len(cellBytes)+2 <= page.FreeSpace() {
		insertIdx := idx
		if insertIdx > int(page.Header.NumCells) {
			insertIdx = int(page.Header.NumCells)
		}
		if err := page.InsertCell(insertIdx, cellBytes); err != nil {
			return err
		}
		c.Btree.putPtrMap(childPage, PtrMapBtree, pageNum)
		return c.Btree.SetPage(pageNum, pageData)
	}

	// The ancestor is also full: split it. Gather its existing divider
	// cells plus its right-child pointer, insert the new cell among
	// them, then pick the median key to promote.
	entries, rightChild, err := collectInteriorEntries(page.Header, pageData, c.Btree.UsableSize)
	if err != nil {
		return err
	}

	insertAt := idx
	if insertAt < 0 || insertAt > len(entries) {
		insertAt = len(entries)
	}
	entries = append(entries, interiorEntry{})
	copy(entries[insertAt+1:], entries[insertAt:])
	entries[insertAt] = interiorEntry{childPage: childPage, key: key}

	mid := len(entries) / 2
	promotedKey := entries[mid].key
	leftRightChild := entries[mid].childPage
	leftEntries := entries[:mid]
	rightEntries := entries[mid+1:]
	rightRightChild := rightChild

	if depth == 0 {
		// pageNum is the root. Both halves move to freshly allocated
		// pages and the root is rewritten one level deeper, mirroring
		// balanceDeeper.
		newLeftPage, err := c.Btree.AllocatePage()
		if err != nil {
			return err
		}
		newRightPage, err := c.Btree.AllocatePage()
		if err != nil {
			return err
		}
		if err := writeInteriorEntries(c.Btree, newLeftPage, leftEntries, leftRightChild); err != nil {
			return err
		}
		if err := writeInteriorEntries(c.Btree, newRightPage, rightEntries, rightRightChild); err != nil {
			return err
		}

		rootData, err := c.Btree.GetPage(pageNum)
		if err != nil {
			return err
		}
		InitInteriorTablePage(rootData, pageNum, newRightPage)
		root, err := NewBtreePage(pageNum, rootData, c.Btree.UsableSize)
		if err != nil {
			return err
		}
		if err := root.InsertCell(0, EncodeTableInteriorCell(newLeftPage, promotedKey)); err != nil {
			return err
		}
		c.Btree.putPtrMap(newLeftPage, PtrMapBtree, pageNum)
		c.Btree.putPtrMap(newRightPage, PtrMapBtree, pageNum)
		return c.Btree.SetPage(pageNum, rootData)
	}

	// Not the root: the higher-keyed half keeps this page's number
	// (same convention splitPage uses for leaves), the lower-keyed
	// half moves to a new page, and the promoted key is threaded into
	// the grandparent by recursing.
	newLeftPage, err := c.Btree.AllocatePage()
	if err != nil {
		return err
	}
	if err := writeInteriorEntries(c.Btree, newLeftPage, leftEntries, leftRightChild); err != nil {
		return err
	}
	if err := writeInteriorEntries(c.Btree, pageNum, rightEntries, rightRightChild); err != nil {
		return err
	}

	return c.insertCellIntoAncestor(depth-1, newLeftPage, promotedKey)
}
