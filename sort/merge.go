package sort

// kMerger performs an N-way merge over a set of pmaIters using a
// tournament tree, per §4.7's loser-tree description. tree has size
// 2n: tree[n+i] is the (constant) iterator index for leaf i, and
// tree[i] for 1 <= i < n holds the winner (smaller key) of its two
// children tree[2i]/tree[2i+1]; tree[1] names the overall minimum.
// EOF (an exhausted iterator) compares greater than any key; ties
// resolve to the lower iterator index. Advancing the current minimum
// only recomputes the log2(n) nodes on the path from the winning
// leaf back up to the root.
type kMerger struct {
	iters []*pmaIter
	cmp   Comparator
	n     int   // number of leaves, a power of two >= len(iters)
	tree  []int // size 2n; tree[0] unused
}

func newKMerger(iters []*pmaIter, cmp Comparator) *kMerger {
	n := 1
	for n < len(iters) {
		n <<= 1
	}

	m := &kMerger{
		iters: iters,
		cmp:   cmp,
		n:     n,
		tree:  make([]int, 2*n),
	}

	for i := 0; i < n; i++ {
		m.tree[n+i] = i
	}
	for i := n - 1; i >= 1; i-- {
		m.tree[i] = m.winner(m.tree[2*i], m.tree[2*i+1])
	}
	return m
}

// winner returns whichever of iterator a or b currently holds the
// smaller key; an exhausted or out-of-range iterator always loses.
func (m *kMerger) winner(a, b int) int {
	aValid := a < len(m.iters) && m.iters[a].valid()
	bValid := b < len(m.iters) && m.iters[b].valid()
	switch {
	case !aValid && !bValid:
		return a
	case !aValid:
		return b
	case !bValid:
		return a
	}
	if m.cmp(m.iters[a].current, m.iters[b].current) <= 0 {
		return a
	}
	return b
}

// Valid reports whether any input iterator still has a record.
func (m *kMerger) Valid() bool {
	w := m.tree[1]
	return w < len(m.iters) && m.iters[w].valid()
}

// Current returns the smallest remaining record across all inputs.
func (m *kMerger) Current() []byte {
	w := m.tree[1]
	if w >= len(m.iters) || !m.iters[w].valid() {
		return nil
	}
	return m.iters[w].current
}

// Advance moves the winning iterator to its next record and
// recomputes the tree along that leaf's root-to-leaf spine.
func (m *kMerger) Advance() error {
	w := m.tree[1]
	if w >= len(m.iters) {
		return nil
	}
	if err := m.iters[w].advance(); err != nil {
		return err
	}

	pos := (m.n + w) / 2
	for pos >= 1 {
		m.tree[pos] = m.winner(m.tree[2*pos], m.tree[2*pos+1])
		pos /= 2
	}
	return nil
}
