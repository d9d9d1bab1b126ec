package sort

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/coldharbor/ferrodb/btree"
)

// ladderSize is the number of slots in the in-memory bottom-up merge
// ladder used by flush, per §4.7's 64-slot ladder description.
const ladderSize = 64

// ladderSort sorts records using a 64-slot merge ladder: each record
// starts as its own singleton run and is repeatedly merged with
// whatever run currently occupies slot 0, 1, 2, ... (each merge
// doubling the occupied slot's size) until it lands in an empty slot.
// Once every record has been placed, the occupied slots are merged
// bottom-up into the final sorted run.
func ladderSort(records [][]byte, cmp Comparator) [][]byte {
	var ladder [ladderSize][][]byte

	for _, rec := range records {
		run := [][]byte{rec}
		i := 0
		for ladder[i] != nil {
			run = mergeRuns(ladder[i], run, cmp)
			ladder[i] = nil
			i++
		}
		ladder[i] = run
	}

	var result [][]byte
	for i := 0; i < ladderSize; i++ {
		if ladder[i] != nil {
			result = mergeRuns(result, ladder[i], cmp)
		}
	}
	return result
}

// mergeRuns merges two already-sorted runs into one sorted run.
func mergeRuns(a, b [][]byte, cmp Comparator) [][]byte {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([][]byte, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if cmp(a[i], b[j]) <= 0 {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// writePMA writes records (already sorted) to path as a packed-memory-
// array: a varint giving the total byte size of everything that
// follows, then each record as a varint length followed by its bytes.
func writePMA(path string, records [][]byte) error {
	var total uint64
	for _, rec := range records {
		total += uint64(btree.VarintLen(uint64(len(rec))) + len(rec))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sort: create PMA %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeVarintTo(w, total); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writeRecordTo(w, rec); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeVarintTo(w io.Writer, v uint64) error {
	var buf [9]byte
	n := btree.PutVarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func writeRecordTo(w io.Writer, rec []byte) error {
	if err := writeVarintTo(w, uint64(len(rec))); err != nil {
		return err
	}
	_, err := w.Write(rec)
	return err
}

// pmaIter streams records out of one PMA file in the order they were
// written (already sorted within the file), caching the current
// record the way VdbeSorterIter caches its current key.
type pmaIter struct {
	file    *os.File
	r       *bufio.Reader
	pmaSize int64 // total byte size recorded in the PMA header
	remain  int64 // bytes of the PMA body not yet consumed
	current []byte
	path    string
}

func openPMAIter(path string) (*pmaIter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sort: open PMA %s: %w", path, err)
	}
	it := &pmaIter{file: f, r: bufio.NewReader(f), path: path}
	size, err := readVarintFrom(it.r)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sort: read PMA header %s: %w", path, err)
	}
	it.pmaSize = int64(size)
	it.remain = it.pmaSize
	if err := it.advance(); err != nil {
		f.Close()
		return nil, err
	}
	return it, nil
}

// advance reads the next record in the PMA into current, or sets
// current to nil at EOF.
func (it *pmaIter) advance() error {
	if it.remain <= 0 {
		it.current = nil
		return nil
	}

	before := it.remain
	length, err := readVarintFrom(it.r)
	if err != nil {
		return fmt.Errorf("sort: read PMA record length %s: %w", it.path, err)
	}
	lengthBytes := btree.VarintLen(length)

	data := make([]byte, length)
	if _, err := io.ReadFull(it.r, data); err != nil {
		return fmt.Errorf("sort: read PMA record body %s: %w", it.path, err)
	}
	it.current = data
	it.remain = before - int64(lengthBytes) - int64(length)
	return nil
}

func (it *pmaIter) valid() bool {
	return it.current != nil
}

func (it *pmaIter) close() error {
	return it.file.Close()
}

func readVarintFrom(r *bufio.Reader) (uint64, error) {
	var buf [9]byte
	n := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		buf[n] = b
		n++
		if b < 0x80 || n == 9 {
			break
		}
	}
	v, _ := btree.GetVarint(buf[:n])
	return v, nil
}

func closeIters(iters []*pmaIter) {
	for _, it := range iters {
		if it != nil {
			it.close()
		}
	}
}
