// Package sort implements the external merge-sorter used to build
// indexes over key streams too large to hold in memory (§4.7): an
// in-memory linked list of records is flushed, once it crosses a byte
// budget, to a sorted on-disk packed-memory-array (PMA) using a
// 64-slot merge ladder; Rewind then k-way-merges the PMA runs (at most
// MaxMergeCount at a time, via a tournament tree) down to a single
// sorted stream.
package sort

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/coldharbor/ferrodb/internal/logging"
)

// SorterMinWorking mirrors SQLite's SORTER_MIN_WORKING: the in-memory
// run is never flushed until it holds at least this many records, so
// a single oversized record doesn't force a one-record PMA.
const SorterMinWorking = 10

// MaxMergeCount mirrors SORTER_MAX_MERGE_COUNT: the largest number of
// PMA runs merged together in a single pass.
const MaxMergeCount = 16

const defaultMemoryBudget = 1 << 20 // 1 MiB

// Comparator orders two opaque records the way the engine's key
// comparison callback would; it returns <0, 0, or >0 exactly like
// bytes.Compare.
type Comparator func(a, b []byte) int

type recordNode struct {
	data []byte
	next *recordNode
}

// Sorter accepts a stream of opaque records via Insert, then, after
// Rewind, delivers them in sorted order via Next/Record, matching
// §4.7's next/rowkey/compare contract.
type Sorter struct {
	cmp          Comparator
	memoryBudget int
	maxMerge     int
	tempDir      string

	head          *recordNode
	recordCount   int
	inMemoryBytes int

	pmaFiles []string

	rewound    bool
	memSorted  [][]byte
	memIndex   int
	finalIters []*pmaIter
	final      *kMerger

	current []byte
}

// Option configures a Sorter at construction time.
type Option func(*Sorter)

// WithMemoryBudget overrides the default 1 MiB in-memory budget before
// a run is flushed to a PMA (spec's `max(pmaMinBytes, cachePages *
// pageSize)`).
func WithMemoryBudget(bytes int) Option {
	return func(s *Sorter) {
		if bytes > 0 {
			s.memoryBudget = bytes
		}
	}
}

// WithTempDir overrides where PMA files are created; defaults to
// os.TempDir().
func WithTempDir(dir string) Option {
	return func(s *Sorter) {
		if dir != "" {
			s.tempDir = dir
		}
	}
}

// WithMaxMerge overrides MaxMergeCount, mainly for tests that want to
// exercise multi-round merging without a million records.
func WithMaxMerge(n int) Option {
	return func(s *Sorter) {
		if n > 0 {
			s.maxMerge = n
		}
	}
}

// NewSorter creates a Sorter that orders records with cmp.
func NewSorter(cmp Comparator, opts ...Option) *Sorter {
	s := &Sorter{
		cmp:          cmp,
		memoryBudget: defaultMemoryBudget,
		maxMerge:     MaxMergeCount,
		tempDir:      os.TempDir(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert appends record to the sorter's input stream. record is
// copied; the caller's slice may be reused afterward.
func (s *Sorter) Insert(record []byte) error {
	if s.rewound {
		return fmt.Errorf("sort: Insert called after Rewind")
	}

	cp := make([]byte, len(record))
	copy(cp, record)
	s.head = &recordNode{data: cp, next: s.head}
	s.recordCount++
	s.inMemoryBytes += len(cp)

	if s.recordCount >= SorterMinWorking && s.inMemoryBytes >= s.memoryBudget {
		return s.flush()
	}
	return nil
}

// drain empties the in-memory record list into a slice, resetting the
// accumulator.
func (s *Sorter) drain() [][]byte {
	records := make([][]byte, 0, s.recordCount)
	for n := s.head; n != nil; n = n.next {
		records = append(records, n.data)
	}
	s.head = nil
	s.recordCount = 0
	s.inMemoryBytes = 0
	return records
}

func (s *Sorter) flush() error {
	records := s.drain()
	if len(records) == 0 {
		return nil
	}
	sorted := ladderSort(records, s.cmp)

	path, err := s.newPMAPath()
	if err != nil {
		return err
	}
	if err := writePMA(path, sorted); err != nil {
		return err
	}
	logging.GetLogger().Debug("sorter: flushed PMA", "path", path, "records", len(sorted))
	s.pmaFiles = append(s.pmaFiles, path)
	return nil
}

func (s *Sorter) newPMAPath() (string, error) {
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("sort: create temp dir %s: %w", s.tempDir, err)
	}
	return filepath.Join(s.tempDir, uuid.New().String()+".pma"), nil
}

// Rewind finalizes the input stream and positions the sorter to
// deliver records in sorted order via Next/Record. No further Insert
// calls are permitted afterward.
func (s *Sorter) Rewind() error {
	s.rewound = true

	if len(s.pmaFiles) == 0 {
		// Nothing was ever flushed: sort the whole stream in memory
		// and stream it directly, per §4.7 step 3.
		records := s.drain()
		s.memSorted = ladderSort(records, s.cmp)
		s.memIndex = 0
		return nil
	}

	if s.recordCount > 0 {
		if err := s.flush(); err != nil {
			return err
		}
	}

	for len(s.pmaFiles) > s.maxMerge {
		if err := s.mergeRound(); err != nil {
			return err
		}
	}

	iters := make([]*pmaIter, 0, len(s.pmaFiles))
	for _, path := range s.pmaFiles {
		it, err := openPMAIter(path)
		if err != nil {
			closeIters(iters)
			return err
		}
		iters = append(iters, it)
	}
	s.finalIters = iters
	s.final = newKMerger(iters, s.cmp)
	return nil
}

// mergeRound merges s.pmaFiles together maxMerge-at-a-time into a new
// generation of (fewer) PMA files, per §4.7 step 3.
func (s *Sorter) mergeRound() error {
	var next []string
	for i := 0; i < len(s.pmaFiles); i += s.maxMerge {
		end := i + s.maxMerge
		if end > len(s.pmaFiles) {
			end = len(s.pmaFiles)
		}
		batch := s.pmaFiles[i:end]
		if len(batch) == 1 {
			next = append(next, batch[0])
			continue
		}
		merged, err := s.mergeBatch(batch)
		if err != nil {
			return err
		}
		next = append(next, merged)
	}
	s.pmaFiles = next
	return nil
}

// mergeBatch k-way-merges paths (at most maxMerge of them) into one
// new PMA file and removes the inputs. The merged PMA's total byte
// size is the sum of its inputs' sizes, since merging reorders records
// without adding or removing any, so it can be written as the header
// before the merge loop runs — no pre-pass or full buffering needed.
func (s *Sorter) mergeBatch(paths []string) (string, error) {
	iters := make([]*pmaIter, 0, len(paths))
	var totalSize int64
	for _, p := range paths {
		it, err := openPMAIter(p)
		if err != nil {
			closeIters(iters)
			return "", err
		}
		totalSize += it.pmaSize
		iters = append(iters, it)
	}
	defer closeIters(iters)

	outPath, err := s.newPMAPath()
	if err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if err := writeVarintTo(out, uint64(totalSize)); err != nil {
		return "", err
	}

	merger := newKMerger(iters, s.cmp)
	for merger.Valid() {
		if err := writeRecordTo(out, merger.Current()); err != nil {
			return "", err
		}
		if err := merger.Advance(); err != nil {
			return "", err
		}
	}

	for _, p := range paths {
		os.Remove(p)
	}
	logging.GetLogger().Debug("sorter: merged PMA round", "inputs", len(paths), "output", outPath)
	return outPath, nil
}

// Next advances to the next record in sorted order, returning false
// once the stream is exhausted. Rewind must be called first.
func (s *Sorter) Next() (bool, error) {
	if !s.rewound {
		return false, fmt.Errorf("sort: Next called before Rewind")
	}

	if s.final != nil {
		if !s.final.Valid() {
			s.current = nil
			return false, nil
		}
		s.current = s.final.Current()
		if err := s.final.Advance(); err != nil {
			return false, err
		}
		return true, nil
	}

	if s.memIndex >= len(s.memSorted) {
		s.current = nil
		return false, nil
	}
	s.current = s.memSorted[s.memIndex]
	s.memIndex++
	return true, nil
}

// Record returns the opaque record bytes at the cursor's current
// position, as set by the most recent Next call.
func (s *Sorter) Record() []byte {
	return s.current
}

// RowKey returns the current record's sort key. This sorter treats
// the entire record as its own key (callers that need a derived key
// extract it from Record() themselves), so RowKey is just an alias
// kept for parity with §4.7's next/rowkey/compare naming.
func (s *Sorter) RowKey() []byte {
	return s.current
}

// Close releases any temporary PMA files still on disk. Safe to call
// whether or not Rewind was ever reached.
func (s *Sorter) Close() error {
	closeIters(s.finalIters)
	s.finalIters = nil

	var firstErr error
	for _, p := range s.pmaFiles {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	s.pmaFiles = nil
	return firstErr
}
