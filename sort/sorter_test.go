package sort

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"testing"
)

func byteCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

func drainSorted(t *testing.T, s *Sorter) [][]byte {
	t.Helper()
	if err := s.Rewind(); err != nil {
		t.Fatalf("Rewind failed: %v", err)
	}
	var out [][]byte
	for {
		has, err := s.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !has {
			break
		}
		rec := make([]byte, len(s.Record()))
		copy(rec, s.Record())
		out = append(out, rec)
	}
	return out
}

func TestSorterInMemoryOnly(t *testing.T) {
	s := NewSorter(byteCompare, WithTempDir(t.TempDir()))
	defer s.Close()

	input := [][]byte{[]byte("banana"), []byte("apple"), []byte("cherry"), []byte("date")}
	for _, rec := range input {
		if err := s.Insert(rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	out := drainSorted(t, s)
	want := [][]byte{[]byte("apple"), []byte("banana"), []byte("cherry"), []byte("date")}
	if len(out) != len(want) {
		t.Fatalf("got %d records, want %d", len(out), len(want))
	}
	for i := range want {
		if !bytes.Equal(out[i], want[i]) {
			t.Errorf("record %d = %q, want %q", i, out[i], want[i])
		}
	}
}

func TestSorterForcesMultiplePMAsAndMerges(t *testing.T) {
	s := NewSorter(byteCompare,
		WithTempDir(t.TempDir()),
		WithMemoryBudget(512),
		WithMaxMerge(4),
	)
	defer s.Close()

	const n = 2000
	rng := rand.New(rand.NewSource(1))
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("key-%08d-%04d", rng.Intn(1_000_000), i))
	}
	for _, k := range keys {
		if err := s.Insert(k); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	out := drainSorted(t, s)
	if len(out) != n {
		t.Fatalf("got %d records back, want %d", len(out), n)
	}
	for i := 1; i < len(out); i++ {
		if bytes.Compare(out[i-1], out[i]) > 0 {
			t.Fatalf("output not sorted at index %d: %q > %q", i, out[i-1], out[i])
		}
	}

	sortedKeys := make([][]byte, n)
	copy(sortedKeys, keys)
	// Simple insertion sort reference since the input set is small.
	for i := 1; i < len(sortedKeys); i++ {
		for j := i; j > 0 && bytes.Compare(sortedKeys[j-1], sortedKeys[j]) > 0; j-- {
			sortedKeys[j-1], sortedKeys[j] = sortedKeys[j], sortedKeys[j-1]
		}
	}
	for i := range sortedKeys {
		if !bytes.Equal(out[i], sortedKeys[i]) {
			t.Fatalf("record %d = %q, want %q", i, out[i], sortedKeys[i])
		}
	}
}

func TestLadderSortMatchesSortedOutput(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	records := make([][]byte, 500)
	for i := range records {
		records[i] = []byte(fmt.Sprintf("%06d", rng.Intn(1_000_000)))
	}

	sorted := ladderSort(records, byteCompare)
	if len(sorted) != len(records) {
		t.Fatalf("ladderSort dropped records: got %d, want %d", len(sorted), len(records))
	}
	for i := 1; i < len(sorted); i++ {
		if byteCompare(sorted[i-1], sorted[i]) > 0 {
			t.Fatalf("ladderSort output not sorted at %d: %q > %q", i, sorted[i-1], sorted[i])
		}
	}
}

func TestSorterInsertAfterRewindFails(t *testing.T) {
	s := NewSorter(byteCompare, WithTempDir(t.TempDir()))
	defer s.Close()

	if err := s.Insert([]byte("a")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.Rewind(); err != nil {
		t.Fatalf("Rewind failed: %v", err)
	}
	if err := s.Insert([]byte("b")); err == nil {
		t.Error("Insert after Rewind should fail")
	}
}

func TestSorterCloseRemovesTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewSorter(byteCompare, WithTempDir(dir), WithMemoryBudget(16))

	for i := 0; i < 50; i++ {
		if err := s.Insert([]byte(fmt.Sprintf("record-%04d", i))); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if err := s.Rewind(); err != nil {
		t.Fatalf("Rewind failed: %v", err)
	}
	if len(s.pmaFiles) == 0 {
		t.Fatal("expected at least one PMA file to have been written")
	}
	written := append([]string(nil), s.pmaFiles...)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, p := range written {
		if _, err := os.Stat(p); err == nil {
			t.Errorf("pma file %s should have been removed", p)
		}
	}
}
