package btree

import (
	"encoding/binary"
	"fmt"
)

// Overflow pages carry payload that does not fit locally on a cell's
// home page. Each overflow page starts with a 4-byte pointer to the
// next overflow page in the chain (0 if this is the last one); the
// remaining usableSize-4 bytes hold content.
const overflowHeaderSize = 4

// writeOverflowChain stores content across as many overflow pages as
// needed and returns the page number of the first one.
func writeOverflowChain(bt *Btree, content []byte) (uint32, error) {
	if len(content) == 0 {
		return 0, fmt.Errorf("writeOverflowChain: empty content")
	}

	perPage := int(bt.UsableSize) - overflowHeaderSize
	numPages := (len(content) + perPage - 1) / perPage

	pages := make([]uint32, numPages)
	for i := range pages {
		pgno, err := bt.AllocatePage()
		if err != nil {
			return 0, fmt.Errorf("writeOverflowChain: %w", err)
		}
		pages[i] = pgno
	}

	for i, pgno := range pages {
		data, err := bt.GetPage(pgno)
		if err != nil {
			return 0, err
		}

		next := uint32(0)
		if i+1 < len(pages) {
			next = pages[i+1]
		}
		binary.BigEndian.PutUint32(data[0:4], next)

		start := i * perPage
		end := start + perPage
		if end > len(content) {
			end = len(content)
		}
		n := copy(data[overflowHeaderSize:], content[start:end])
		// Zero any trailing bytes on the last page left over from a
		// previous occupant.
		for j := overflowHeaderSize + n; j < len(data); j++ {
			data[j] = 0
		}

		if err := bt.SetPage(pgno, data); err != nil {
			return 0, err
		}
	}

	return pages[0], nil
}

// readOverflowChain reassembles the content stored across an overflow
// chain starting at first, reading exactly remaining bytes (the number
// of payload bytes not already accounted for locally).
func readOverflowChain(bt *Btree, first uint32, remaining int) ([]byte, error) {
	out := make([]byte, 0, remaining)
	pgno := first
	perPage := int(bt.UsableSize) - overflowHeaderSize

	for pgno != 0 && len(out) < remaining {
		data, err := bt.GetPage(pgno)
		if err != nil {
			return nil, fmt.Errorf("readOverflowChain: page %d: %w", pgno, err)
		}
		if len(data) < overflowHeaderSize {
			return nil, fmt.Errorf("readOverflowChain: page %d too small", pgno)
		}

		next := binary.BigEndian.Uint32(data[0:4])

		want := remaining - len(out)
		if want > perPage {
			want = perPage
		}
		out = append(out, data[overflowHeaderSize:overflowHeaderSize+want]...)

		pgno = next
	}

	if len(out) < remaining {
		return nil, fmt.Errorf("readOverflowChain: chain ended after %d of %d bytes", len(out), remaining)
	}
	return out, nil
}

// freeOverflowChain walks an overflow chain, returning every page in
// it to the free-list.
func freeOverflowChain(bt *Btree, first uint32) error {
	pgno := first
	for pgno != 0 {
		data, err := bt.GetPage(pgno)
		if err != nil {
			return fmt.Errorf("freeOverflowChain: page %d: %w", pgno, err)
		}
		next := binary.BigEndian.Uint32(data[0:4])
		if err := bt.FreePage(pgno); err != nil {
			return err
		}
		pgno = next
	}
	return nil
}

// assemblePayload returns the full payload for a cell, chasing its
// overflow chain if CellInfo.PayloadSize exceeds what was stored
// locally.
func assemblePayload(bt *Btree, cell *CellInfo) ([]byte, error) {
	if uint32(cell.LocalPayload) >= cell.PayloadSize {
		full := make([]byte, len(cell.Payload))
		copy(full, cell.Payload)
		return full, nil
	}

	remaining := int(cell.PayloadSize) - int(cell.LocalPayload)
	tail, err := readOverflowChain(bt, cell.OverflowPage, remaining)
	if err != nil {
		return nil, err
	}

	full := make([]byte, 0, cell.PayloadSize)
	full = append(full, cell.Payload...)
	full = append(full, tail...)
	return full, nil
}
