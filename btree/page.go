package btree

import (
	"encoding/binary"
	"fmt"
)

// Page type constants (first byte of page header)
const (
	PageTypeInteriorIndex = 0x02 // Interior index b-tree page
	PageTypeInteriorTable = 0x05 // Interior table b-tree page
	PageTypeLeafIndex     = 0x0a // Leaf index b-tree page
	PageTypeLeafTable     = 0x0d // Leaf table b-tree page
)

// Page type flags (bit flags in page type byte)
const (
	PTF_INTKEY    = 0x01 // True if table b-trees (integer key)
	PTF_ZERODATA  = 0x02 // True for index b-trees (no data, only keys)
	PTF_LEAFDATA  = 0x04 // True if data is stored in leaves
	PTF_LEAF      = 0x08 // True if this is a leaf page
)

// Page header offsets
const (
	PageHeaderOffsetType       = 0  // Page type (1 byte)
	PageHeaderOffsetFreeblock  = 1  // First freeblock offset (2 bytes)
	PageHeaderOffsetNumCells   = 3  // Number of cells (2 bytes)
	PageHeaderOffsetCellStart  = 5  // Start of cell content area (2 bytes)
	PageHeaderOffsetFragmented = 7  // Fragmented free bytes (1 byte)
	PageHeaderOffsetRightChild = 8  // Right-most child pointer (4 bytes, interior only)
)

// Header sizes
const (
	PageHeaderSizeLeaf     = 8  // Leaf pages: 8 bytes
	PageHeaderSizeInterior = 12 // Interior pages: 12 bytes (includes right child pointer)
	FileHeaderSize         = 100 // Database file header on page 1
)

// PageHeader represents the parsed header of a B-tree page
type PageHeader struct {
	PageType         byte   // Page type (0x02, 0x05, 0x0a, 0x0d)
	FirstFreeblock   uint16 // Offset to first freeblock (0 if none)
	NumCells         uint16 // Number of cells on this page
	CellContentStart uint16 // Start of cell content area
	FragmentedBytes  byte   // Number of fragmented free bytes
	RightChild       uint32 // Right-most child page number (interior pages only)

	// Derived properties
	IsLeaf        bool // True if this is a leaf page
	IsInterior    bool // True if this is an interior page
	IsTable       bool // True if this is a table b-tree (intkey)
	IsIndex       bool // True if this is an index b-tree (blob key)
	HeaderSize    int  // Size of page header (8 or 12 bytes)
	CellPtrOffset int  // Offset where cell pointer array starts
}

// ParsePageHeader parses the B-tree page header from raw page data
func ParsePageHeader(data []byte, pageNum uint32) (*PageHeader, error) {
	if len(data) < PageHeaderSizeLeaf {
		return nil, fmt.Errorf("page data too small: %d bytes", len(data))
	}

	// Handle page 1 which has a 100-byte file header
	offset := 0
	if pageNum == 1 {
		offset = FileHeaderSize
		if len(data) < FileHeaderSize+PageHeaderSizeLeaf {
			return nil, fmt.Errorf("page 1 data too small: %d bytes", len(data))
		}
	}

	h := &PageHeader{
		PageType:         data[offset+PageHeaderOffsetType],
		FirstFreeblock:   binary.BigEndian.Uint16(data[offset+PageHeaderOffsetFreeblock:]),
		NumCells:         binary.BigEndian.Uint16(data[offset+PageHeaderOffsetNumCells:]),
		CellContentStart: binary.BigEndian.Uint16(data[offset+PageHeaderOffsetCellStart:]),
		FragmentedBytes:  data[offset+PageHeaderOffsetFragmented],
	}

	// Determine page characteristics from type byte
	h.IsLeaf = (h.PageType & PTF_LEAF) != 0
	h.IsInterior = !h.IsLeaf
	h.IsTable = (h.PageType & PTF_INTKEY) != 0
	h.IsIndex = !h.IsTable

	// Parse right child pointer for interior pages
	if h.IsInterior {
		if len(data) < offset+PageHeaderSizeInterior {
			return nil, fmt.Errorf("interior page data too small: %d bytes", len(data))
		}
		h.RightChild = binary.BigEndian.Uint32(data[offset+PageHeaderOffsetRightChild:])
		h.HeaderSize = PageHeaderSizeInterior
	} else {
		h.HeaderSize = PageHeaderSizeLeaf
	}

	h.CellPtrOffset = offset + h.HeaderSize

	// Validate page type
	if h.PageType != PageTypeInteriorIndex &&
		h.PageType != PageTypeInteriorTable &&
		h.PageType != PageTypeLeafIndex &&
		h.PageType != PageTypeLeafTable {
		return nil, fmt.Errorf("invalid page type: 0x%02x", h.PageType)
	}

	return h, nil
}

// GetCellPointer returns the offset of the i-th cell in the page
func (h *PageHeader) GetCellPointer(data []byte, cellIndex int) (uint16, error) {
	if cellIndex < 0 || cellIndex >= int(h.NumCells) {
		return 0, fmt.Errorf("cell index out of range: %d (max %d)", cellIndex, h.NumCells-1)
	}

	ptrOffset := h.CellPtrOffset + (cellIndex * 2)
	if ptrOffset+2 > len(data) {
		return 0, fmt.Errorf("cell pointer offset out of bounds: %d", ptrOffset)
	}

	return binary.BigEndian.Uint16(data[ptrOffset:]), nil
}

// GetCellPointers returns all cell pointers in the page
func (h *PageHeader) GetCellPointers(data []byte) ([]uint16, error) {
	pointers := make([]uint16, h.NumCells)
	for i := 0; i < int(h.NumCells); i++ {
		ptr, err := h.GetCellPointer(data, i)
		if err != nil {
			return nil, err
		}
		pointers[i] = ptr
	}
	return pointers, nil
}

// String returns a string representation of the page header
func (h *PageHeader) String() string {
	pageTypeStr := "unknown"
	switch h.PageType {
	case PageTypeInteriorIndex:
		pageTypeStr = "interior index"
	case PageTypeInteriorTable:
		pageTypeStr = "interior table"
	case PageTypeLeafIndex:
		pageTypeStr = "leaf index"
	case PageTypeLeafTable:
		pageTypeStr = "leaf table"
	}

	return fmt.Sprintf("PageHeader{type=%s, cells=%d, contentStart=%d, freeblock=%d, fragmented=%d}",
		pageTypeStr, h.NumCells, h.CellContentStart, h.FirstFreeblock, h.FragmentedBytes)
}

// InitLeafTablePage stamps data as a freshly emptied table-leaf page,
// discarding whatever it held before.
func InitLeafTablePage(data []byte, pageNum uint32) {
	offset := 0
	if pageNum == 1 {
		offset = FileHeaderSize
	}
	data[offset+PageHeaderOffsetType] = PageTypeLeafTable
	binary.BigEndian.PutUint16(data[offset+PageHeaderOffsetFreeblock:], 0)
	binary.BigEndian.PutUint16(data[offset+PageHeaderOffsetNumCells:], 0)
	binary.BigEndian.PutUint16(data[offset+PageHeaderOffsetCellStart:], 0)
	data[offset+PageHeaderOffsetFragmented] = 0
}

// InitInteriorTablePage stamps data as a freshly emptied table-interior
// page with the given right-child pointer.
func InitInteriorTablePage(data []byte, pageNum uint32, rightChild uint32) {
	offset := 0
	if pageNum == 1 {
		offset = FileHeaderSize
	}
	data[offset+PageHeaderOffsetType] = PageTypeInteriorTable
	binary.BigEndian.PutUint16(data[offset+PageHeaderOffsetFreeblock:], 0)
	binary.BigEndian.PutUint16(data[offset+PageHeaderOffsetNumCells:], 0)
	binary.BigEndian.PutUint16(data[offset+PageHeaderOffsetCellStart:], 0)
	data[offset+PageHeaderOffsetFragmented] = 0
	binary.BigEndian.PutUint32(data[offset+PageHeaderOffsetRightChild:], rightChild)
}

// BtreePage wraps a raw page buffer and provides write operations
type BtreePage struct {
	Data       []byte       // Raw page data
	PageNum    uint32       // Page number
	Header     *PageHeader  // Parsed page header
	UsableSize uint32       // Usable bytes per page
}

// NewBtreePage creates a new BtreePage wrapper from raw page data
func NewBtreePage(pageNum uint32, data []byte, usableSize uint32) (*BtreePage, error) {
	header, err := ParsePageHeader(data, pageNum)
	if err != nil {
		return nil, err
	}

	return &BtreePage{
		Data:       data,
		PageNum:    pageNum,
		Header:     header,
		UsableSize: usableSize,
	}, nil
}

// InsertCell inserts a cell at the given index
func (p *BtreePage) InsertCell(idx int, cell []byte) error {
	if idx < 0 || idx > int(p.Header.NumCells) {
		return fmt.Errorf("invalid cell index: %d (max %d)", idx, p.Header.NumCells)
	}

	cellSize := len(cell)
	if cellSize < 4 {
		cellSize = 4 // Minimum cell size
	}

	// Allocate space for the cell
	cellOffset, err := p.AllocateSpace(cellSize)
	if err != nil {
		return err
	}

	// Copy cell data
	copy(p.Data[cellOffset:], cell)

	// Make room in cell pointer array
	cellPtrOffset := p.Header.CellPtrOffset + (idx * 2)
	numCellsAfter := int(p.Header.NumCells) - idx

	if numCellsAfter > 0 {
		// Shift cell pointers to make room
		src := p.Data[cellPtrOffset : cellPtrOffset+(numCellsAfter*2)]
		dst := p.Data[cellPtrOffset+2 : cellPtrOffset+2+(numCellsAfter*2)]
		copy(dst, src)
	}

	// Write new cell pointer
	binary.BigEndian.PutUint16(p.Data[cellPtrOffset:], uint16(cellOffset))

	// Update header
	p.Header.NumCells++
	binary.BigEndian.PutUint16(p.Data[p.numCellsOffset():], p.Header.NumCells)

	return nil
}

// DeleteCell deletes the cell at the given index
func (p *BtreePage) DeleteCell(idx int) error {
	if idx < 0 || idx >= int(p.Header.NumCells) {
		return fmt.Errorf("invalid cell index: %d (max %d)", idx, p.Header.NumCells-1)
	}

	// Get the cell pointer to delete
	cellPtrOffset := p.Header.CellPtrOffset + (idx * 2)
	cellOffset := binary.BigEndian.Uint16(p.Data[cellPtrOffset:])

	// Remove cell pointer by shifting remaining pointers
	numCellsAfter := int(p.Header.NumCells) - idx - 1
	if numCellsAfter > 0 {
		src := p.Data[cellPtrOffset+2 : cellPtrOffset+2+(numCellsAfter*2)]
		dst := p.Data[cellPtrOffset : cellPtrOffset+(numCellsAfter*2)]
		copy(dst, src)
	}

	// Zero out the last cell pointer (optional, for cleanliness)
	lastPtrOffset := p.Header.CellPtrOffset + ((int(p.Header.NumCells) - 1) * 2)
	p.Data[lastPtrOffset] = 0
	p.Data[lastPtrOffset+1] = 0

	// Update header
	p.Header.NumCells--
	binary.BigEndian.PutUint16(p.Data[p.numCellsOffset():], p.Header.NumCells)

	// Release the cell body into the freeblock chain rather than
	// leaving it as untracked fragmentation.
	cell, err := ParseCell(p.Header.PageType, p.Data[cellOffset:], p.UsableSize)
	if err != nil {
		return err
	}
	size := int(cell.CellSize)
	if size < 4 {
		size = 4
	}
	return p.freeSpaceRelease(int(cellOffset), size)
}

// headerBase returns the byte offset of this page's B-tree header
// (past the 100-byte file header on page 1), so the fixed
// PageHeaderOffset* constants can be added to it directly.
func (p *BtreePage) headerBase() int {
	return p.Header.CellPtrOffset - p.Header.HeaderSize
}

func (p *BtreePage) freeblockHeaderOffset() int {
	return p.headerBase() + PageHeaderOffsetFreeblock
}

func (p *BtreePage) fragmentedByteOffset() int {
	return p.headerBase() + PageHeaderOffsetFragmented
}

func (p *BtreePage) numCellsOffset() int {
	return p.headerBase() + PageHeaderOffsetNumCells
}

func (p *BtreePage) cellContentStartOffset() int {
	return p.headerBase() + PageHeaderOffsetCellStart
}

// AllocateSpace allocates space for a cell of the given size following
// the allocate-space algorithm: unconditional defragmentation once
// fragmentation crosses 60 bytes, otherwise first-fit over the
// freeblock chain, falling back to the content-area gap.
// Returns the offset where the cell should be written.
func (p *BtreePage) AllocateSpace(size int) (offset int, err error) {
	if size < 4 {
		size = 4
	}

	if int(p.Header.FragmentedBytes) >= 60 {
		if err := p.Defragment(); err != nil {
			return 0, err
		}
	} else if off, ok, err := p.allocateFromFreeblocks(size); err != nil {
		return 0, err
	} else if ok {
		return off, nil
	}

	cellContentStart := int(p.Header.CellContentStart)
	if cellContentStart == 0 {
		cellContentStart = int(p.UsableSize)
	}
	cellPtrArrayEnd := p.Header.CellPtrOffset + (int(p.Header.NumCells)+1)*2
	newCellContentStart := cellContentStart - size

	if newCellContentStart < cellPtrArrayEnd {
		if err := p.Defragment(); err != nil {
			return 0, err
		}
		cellContentStart = int(p.Header.CellContentStart)
		if cellContentStart == 0 {
			cellContentStart = int(p.UsableSize)
		}
		newCellContentStart = cellContentStart - size
		if newCellContentStart < cellPtrArrayEnd {
			return 0, fmt.Errorf("page is full (need %d bytes, have %d)", size, cellContentStart-cellPtrArrayEnd)
		}
	}

	p.Header.CellContentStart = uint16(newCellContentStart)
	binary.BigEndian.PutUint16(p.Data[p.cellContentStartOffset():], uint16(newCellContentStart))

	return newCellContentStart, nil
}

// allocateFromFreeblocks walks the freeblock chain in address order
// and takes the first block of size >= needed, per §4.1's
// allocate-space algorithm. A residue under 4 bytes is absorbed into
// the fragmented-byte counter instead of being re-linked as a
// freeblock too small to ever satisfy a future allocation.
func (p *BtreePage) allocateFromFreeblocks(size int) (offset int, ok bool, err error) {
	prevNextFieldOffset := p.freeblockHeaderOffset()
	curr := int(p.Header.FirstFreeblock)

	for curr != 0 {
		if curr+4 > len(p.Data) {
			return 0, false, fmt.Errorf("corrupt freeblock chain: offset %d out of bounds", curr)
		}
		blockSize := int(binary.BigEndian.Uint16(p.Data[curr+2:]))
		nextOffset := int(binary.BigEndian.Uint16(p.Data[curr:]))

		if blockSize >= size {
			residue := blockSize - size
			if residue < 4 {
				// Too small to remain a useful freeblock: unlink it and
				// fold the leftover residue into fragmented bytes.
				binary.BigEndian.PutUint16(p.Data[prevNextFieldOffset:], uint16(nextOffset))
				p.Header.FirstFreeblock = binary.BigEndian.Uint16(p.Data[p.freeblockHeaderOffset():])
				p.addFragmentedBytes(residue)
			} else {
				// Shrink the block in place: the new cell takes the
				// tail (higher) end, the freeblock keeps its starting
				// offset, link, and the now-smaller size.
				binary.BigEndian.PutUint16(p.Data[curr+2:], uint16(residue))
			}
			return curr + residue, true, nil
		}

		prevNextFieldOffset = curr
		curr = nextOffset
	}

	return 0, false, nil
}

func (p *BtreePage) addFragmentedBytes(n int) {
	total := int(p.Header.FragmentedBytes) + n
	if total > 255 {
		total = 255
	}
	p.Header.FragmentedBytes = byte(total)
	p.Data[p.fragmentedByteOffset()] = byte(total)
}

// freeSpaceRelease returns [start, start+size) to the page's
// freeblock chain: splice it in at the correct ascending-offset
// position, then coalesce with a neighbor whose gap is within 3
// bytes, folding that gap into fragmented bytes.
func (p *BtreePage) freeSpaceRelease(start, size int) error {
	if size < 4 {
		// Too small to ever be reused as a freeblock; it is pure
		// fragmentation.
		p.addFragmentedBytes(size)
		return nil
	}

	prevNextFieldOffset := p.freeblockHeaderOffset()
	curr := int(p.Header.FirstFreeblock)

	for curr != 0 && curr < start {
		if curr+4 > len(p.Data) {
			return fmt.Errorf("corrupt freeblock chain: offset %d out of bounds", curr)
		}
		prevNextFieldOffset = curr
		curr = int(binary.BigEndian.Uint16(p.Data[curr:]))
	}

	// Link the new block between prev and curr.
	binary.BigEndian.PutUint16(p.Data[start:], uint16(curr))
	binary.BigEndian.PutUint16(p.Data[start+2:], uint16(size))
	binary.BigEndian.PutUint16(p.Data[prevNextFieldOffset:], uint16(start))
	p.Header.FirstFreeblock = binary.BigEndian.Uint16(p.Data[p.freeblockHeaderOffset():])

	p.coalesceFreeblocks()
	return nil
}

// coalesceFreeblocks sweeps the chain once, merging any block whose
// end meets the next block's start within a 0..3-byte gap. The gap
// bytes are folded into the fragmented-byte counter since they are
// too small to stand alone as a freeblock.
func (p *BtreePage) coalesceFreeblocks() {
	curr := int(p.Header.FirstFreeblock)
	for curr != 0 {
		next := int(binary.BigEndian.Uint16(p.Data[curr:]))
		size := int(binary.BigEndian.Uint16(p.Data[curr+2:]))
		end := curr + size

		if next != 0 && next-end <= 3 {
			gap := next - end
			nextNext := int(binary.BigEndian.Uint16(p.Data[next:]))
			nextSize := int(binary.BigEndian.Uint16(p.Data[next+2:]))
			mergedSize := size + gap + nextSize

			binary.BigEndian.PutUint16(p.Data[curr:], uint16(nextNext))
			binary.BigEndian.PutUint16(p.Data[curr+2:], uint16(mergedSize))
			if gap > 0 {
				p.addFragmentedBytes(gap)
			}
			continue // re-examine curr in case it now meets its new neighbor
		}

		curr = next
	}
}

// Defragment defragments the page by compacting all cells
func (p *BtreePage) Defragment() error {
	if p.Header.NumCells == 0 {
		// Empty page - just reset content start
		p.Header.CellContentStart = 0
		binary.BigEndian.PutUint16(p.Data[p.cellContentStartOffset():], 0)
		return nil
	}

	// Get all cell pointers
	cellPointers, err := p.Header.GetCellPointers(p.Data)
	if err != nil {
		return err
	}

	// Parse all cells to get their sizes
	type cellData struct {
		offset int
		data   []byte
	}
	cells := make([]cellData, len(cellPointers))

	for i, ptr := range cellPointers {
		cellOffset := int(ptr)
		if cellOffset >= len(p.Data) {
			return fmt.Errorf("invalid cell offset: %d", cellOffset)
		}

		// Parse cell to determine size
		cell, err := ParseCell(p.Header.PageType, p.Data[cellOffset:], p.UsableSize)
		if err != nil {
			return err
		}

		// Copy into a scratch buffer rather than aliasing p.Data: the
		// repacking below writes into the same backing array at
		// positions that may still hold not-yet-copied cells.
		scratch := make([]byte, cell.CellSize)
		copy(scratch, p.Data[cellOffset:cellOffset+int(cell.CellSize)])
		cells[i] = cellData{
			offset: cellOffset,
			data:   scratch,
		}
	}

	// Compact cells from end of page backwards
	newContentStart := int(p.UsableSize)
	for i := len(cells) - 1; i >= 0; i-- {
		cellSize := len(cells[i].data)
		newContentStart -= cellSize

		// Copy cell to new location
		copy(p.Data[newContentStart:], cells[i].data)

		// Update cell pointer
		cellPtrOffset := p.Header.CellPtrOffset + (i * 2)
		binary.BigEndian.PutUint16(p.Data[cellPtrOffset:], uint16(newContentStart))
	}

	// Update header. Defragmentation empties the freeblock chain: every
	// gap is now absorbed into the single contiguous run at the tail.
	p.Header.CellContentStart = uint16(newContentStart)
	binary.BigEndian.PutUint16(p.Data[p.cellContentStartOffset():], uint16(newContentStart))

	p.Header.FirstFreeblock = 0
	binary.BigEndian.PutUint16(p.Data[p.freeblockHeaderOffset():], 0)

	p.Header.FragmentedBytes = 0
	p.Data[p.fragmentedByteOffset()] = 0

	return nil
}

// FreeSpace returns the amount of free space on the page: the gap
// between the cell-pointer array and the content area, plus whatever
// is reachable through the freeblock chain and fragmented-byte count.
// Invariant 2 (§3.4) requires these three to exactly cover the page's
// unused bytes.
func (p *BtreePage) FreeSpace() int {
	cellContentStart := int(p.Header.CellContentStart)
	if cellContentStart == 0 {
		cellContentStart = int(p.UsableSize)
	}

	cellPtrArrayEnd := p.Header.CellPtrOffset + (int(p.Header.NumCells) * 2)
	freeSpace := cellContentStart - cellPtrArrayEnd

	curr := int(p.Header.FirstFreeblock)
	for curr != 0 && curr+4 <= len(p.Data) {
		freeSpace += int(binary.BigEndian.Uint16(p.Data[curr+2:]))
		curr = int(binary.BigEndian.Uint16(p.Data[curr:]))
	}
	freeSpace += int(p.Header.FragmentedBytes)

	if freeSpace < 0 {
		return 0
	}
	return freeSpace
}
