package btree

import (
	"github.com/coldharbor/ferrodb/pager"
)

// PagerAdapter bridges a real *pager.Pager to the PageProvider
// interface, so a Btree can operate directly against an on-disk
// database file instead of the pure in-memory Pages map (cmd/btreetool
// and the engine's table/index layer both construct a Btree this way).
//
// It keeps its own pgno -> *pager.DbPage table because the btree side
// addresses pages by number while the pager hands back page handles
// that must be re-presented to Write/MarkDirty on every mutation.
type PagerAdapter struct {
	pager *pager.Pager
	pages map[uint32]*pager.DbPage
}

// NewPagerAdapter wraps p for use as a Btree's Provider.
func NewPagerAdapter(p *pager.Pager) *PagerAdapter {
	return &PagerAdapter{
		pager: p,
		pages: make(map[uint32]*pager.DbPage),
	}
}

// GetPageData returns the live backing buffer for pgno, reading it
// from the pager (or materializing a zero-filled page past EOF) on
// first access. Mutations the btree code makes to the returned slice
// are visible to later GetPageData/MarkDirty calls for the same page
// since the pager's DbPage.Data is shared, not copied.
func (pa *PagerAdapter) GetPageData(pgno uint32) ([]byte, error) {
	if page, ok := pa.pages[pgno]; ok {
		return page.Data, nil
	}

	page, err := pa.pager.Get(pager.Pgno(pgno))
	if err != nil {
		return nil, err
	}
	pa.pages[pgno] = page
	return page.Data, nil
}

// AllocatePageData hands out the next unused page number and journals
// it for writing immediately, since a freshly allocated btree page is
// always about to be written into.
func (pa *PagerAdapter) AllocatePageData() (uint32, []byte, error) {
	pgno := uint32(pa.pager.PageCount()) + 1

	page, err := pa.pager.Get(pager.Pgno(pgno))
	if err != nil {
		return 0, nil, err
	}
	if err := pa.pager.Write(page); err != nil {
		return 0, nil, err
	}

	pa.pages[pgno] = page
	return pgno, page.Data, nil
}

// MarkDirty journals pgno for writing, fetching it first if this
// adapter hasn't seen it yet (e.g. a page read by a different Btree
// handle sharing the same pager).
func (pa *PagerAdapter) MarkDirty(pgno uint32) error {
	page, ok := pa.pages[pgno]
	if !ok {
		got, err := pa.pager.Get(pager.Pgno(pgno))
		if err != nil {
			return err
		}
		page = got
		pa.pages[pgno] = page
	}
	return pa.pager.Write(page)
}
