package index

import (
	"bytes"

	"github.com/kernaldb/kernel/internal/storage"
	"github.com/kernaldb/kernel/internal/types"
)

// maxFanout bounds how many entries a page holds before we consider it
// "unsafe" for latch-crabbing purposes (a conservative fraction of what
// would actually fit; real capacity is whatever insertRecordAt allows).
const maxFanout = 64

// BTree is an ordered key -> RID index over a chain of Pages reachable
// from a root page ID, grounded on the teacher's pager.BTree but extended
// with latch-crabbing traversal and underflow handling on delete.
type BTree struct {
	bp      *storage.BufferPool
	lm      logAppender
	root    types.PageID
	latches *latchTable
}

// logAppender is the minimal WAL dependency index needs: assigning an LSN
// to a NEW_PAGE-equivalent structural change. Index pages are not
// WAL-logged at the record level in this design (spec §9: indexes are
// rebuilt from the heap during recovery rather than replayed), so this is
// only used to keep page LSNs monotonic relative to the rest of the
// system when an index page is flushed.
type logAppender interface {
	PersistentLSN() types.LSN
}

// Create allocates a new, empty B+Tree (a single empty leaf root).
func Create(bp *storage.BufferPool, lm logAppender) (*BTree, types.PageID, error) {
	id, guard, err := bp.NewPage(storage.PageTypeBTreeLeaf)
	if err != nil {
		return nil, 0, err
	}
	InitPage(guard.Page(), id, true)
	guard.Release(true)
	return &BTree{bp: bp, lm: lm, root: id, latches: newLatchTable()}, id, nil
}

// Open wraps an existing tree rooted at root.
func Open(bp *storage.BufferPool, lm logAppender, root types.PageID) *BTree {
	return &BTree{bp: bp, lm: lm, root: root, latches: newLatchTable()}
}

func (bt *BTree) Root() types.PageID { return bt.root }

// Get performs a point lookup, lock-coupling read latches down to the leaf.
func (bt *BTree) Get(key []byte) (types.RID, bool, error) {
	cur := bt.root
	bt.latches.rLock(cur)
	for {
		guard, err := bt.bp.FetchPage(cur)
		if err != nil {
			bt.latches.rUnlock(cur)
			return types.InvalidRID, false, err
		}
		p := WrapPage(guard.Page())
		if p.IsLeaf() {
			pos, found := p.findLeaf(key)
			var rid types.RID
			if found {
				rid = p.getLeaf(pos).rid
			}
			guard.Release(false)
			bt.latches.rUnlock(cur)
			return rid, found, nil
		}
		child := p.childFor(key)
		guard.Release(false)
		bt.latches.rLock(child)
		bt.latches.rUnlock(cur)
		cur = child
	}
}

// safeForInsert reports whether p has room to grow without a split, the
// crabbing safety predicate for descent during Insert.
func safeForInsert(p *Page) bool { return p.KeyCount() < maxFanout-1 }

// safeForDelete reports whether p can lose an entry without underflowing,
// the crabbing safety predicate for descent during Delete.
func safeForDelete(p *Page) bool { return p.KeyCount() > minKeys(maxFanout)+1 }

// lockedPage bundles a held guard+write-latch for one page in a crabbed path.
type lockedPage struct {
	id    types.PageID
	guard *storage.PageGuard
}

// descendForWrite walks root-to-leaf acquiring write latches, releasing
// every ancestor once a descendant proven "safe" (per safe) is reached —
// the standard latch-crabbing optimization so inserts/deletes don't
// serialize on the root unless a split/merge is actually in flight.
func (bt *BTree) descendForWrite(key []byte, safe func(*Page) bool) ([]lockedPage, error) {
	var path []lockedPage
	cur := bt.root
	for {
		bt.latches.lock(cur)
		guard, err := bt.bp.FetchPage(cur)
		if err != nil {
			bt.latches.unlock(cur)
			bt.releasePath(path)
			return nil, err
		}
		p := WrapPage(guard.Page())
		if safe(p) {
			bt.releasePath(path)
			path = path[:0]
		}
		path = append(path, lockedPage{id: cur, guard: guard})
		if p.IsLeaf() {
			return path, nil
		}
		cur = p.childFor(key)
	}
}

func (bt *BTree) releasePath(path []lockedPage) {
	for _, lp := range path {
		lp.guard.Release(false)
		bt.latches.unlock(lp.id)
	}
}

// Insert adds or overwrites key -> rid.
func (bt *BTree) Insert(key []byte, rid types.RID) error {
	path, err := bt.descendForWrite(key, safeForInsert)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]
	p := WrapPage(leaf.guard.Page())
	if pos, found := p.findLeaf(key); found {
		p.deleteLeaf(pos)
		if _, err := p.insertLeaf(leafEntry{key: key, rid: rid}); err != nil {
			bt.releaseDirty(path)
			return err
		}
		bt.releaseDirty(path)
		return nil
	}
	if _, err := p.insertLeaf(leafEntry{key: key, rid: rid}); err == nil {
		bt.releaseDirty(path)
		return nil
	}
	return bt.splitLeafAndInsert(path, key, rid)
}

func (bt *BTree) releaseDirty(path []lockedPage) {
	for _, lp := range path {
		lp.guard.Release(true)
		bt.latches.unlock(lp.id)
	}
}

// splitLeafAndInsert splits a full leaf, pushing the new separator into the
// parent (and recursively splitting parents), grounded on the teacher's
// insertWithSplit/insertIntoParent pair.
func (bt *BTree) splitLeafAndInsert(path []lockedPage, key []byte, rid types.RID) error {
	leaf := path[len(path)-1]
	p := WrapPage(leaf.guard.Page())

	entries := p.allLeaf()
	merged := mergeLeaf(entries, leafEntry{key: key, rid: rid})
	mid := len(merged) / 2
	leftEntries, rightEntries := merged[:mid], merged[mid:]
	splitKey := rightEntries[0].key

	leftBuf := make([]byte, storage.PageSize)
	leftPage := InitPage(leftBuf, leaf.id, true)
	for _, e := range leftEntries {
		if _, err := leftPage.insertLeaf(e); err != nil {
			bt.releaseDirty(path)
			return err
		}
	}
	rightID, rightGuard, err := bt.bp.NewPage(storage.PageTypeBTreeLeaf)
	if err != nil {
		bt.releaseDirty(path)
		return err
	}
	rightPage := InitPage(rightGuard.Page(), rightID, true)
	for _, e := range rightEntries {
		if _, err := rightPage.insertLeaf(e); err != nil {
			rightGuard.Release(false)
			bt.releaseDirty(path)
			return err
		}
	}

	oldNext := p.NextLeaf()
	leftPage.SetNextLeaf(rightID)
	leftPage.SetPrevLeaf(p.PrevLeaf())
	rightPage.SetPrevLeaf(leaf.id)
	rightPage.SetNextLeaf(oldNext)
	copy(leaf.guard.Page(), leftBuf)

	if oldNext != types.InvalidPageID {
		bt.latches.lock(oldNext)
		ng, err := bt.bp.FetchPage(oldNext)
		if err == nil {
			np := WrapPage(ng.Page())
			np.SetPrevLeaf(rightID)
			ng.Release(true)
		}
		bt.latches.unlock(oldNext)
	}

	rightGuard.Release(true)
	bt.releaseDirty(path[:len(path)-1])
	bt.latches.unlock(leaf.id)
	leaf.guard.Release(true)

	return bt.insertIntoParent(path[:len(path)-1], leaf.id, splitKey, rightID)
}

func mergeLeaf(entries []leafEntry, n leafEntry) []leafEntry {
	out := make([]leafEntry, 0, len(entries)+1)
	inserted := false
	for _, e := range entries {
		if bytes.Equal(e.key, n.key) {
			continue // overwritten by n
		}
		if !inserted && bytes.Compare(n.key, e.key) <= 0 {
			out = append(out, n)
			inserted = true
		}
		out = append(out, e)
	}
	if !inserted {
		out = append(out, n)
	}
	return out
}

func mergeInternal(entries []internalEntry, n internalEntry) []internalEntry {
	out := make([]internalEntry, 0, len(entries)+1)
	inserted := false
	for _, e := range entries {
		if !inserted && bytes.Compare(n.key, e.key) < 0 {
			out = append(out, n)
			inserted = true
		}
		out = append(out, e)
	}
	if !inserted {
		out = append(out, n)
	}
	return out
}

// insertIntoParent propagates a split separator up the (already write-
// latched) ancestor path, creating a new root if path is empty.
func (bt *BTree) insertIntoParent(path []lockedPage, leftID types.PageID, key []byte, rightID types.PageID) error {
	if len(path) == 0 {
		return bt.createNewRoot(leftID, key, rightID)
	}
	parent := path[len(path)-1]
	p := WrapPage(parent.guard.Page())
	if err := p.insertInternal(internalEntry{child: leftID, key: key}); err == nil {
		bt.fixupRightPointer(p, key, rightID)
		bt.releaseDirty(path)
		return nil
	}
	return bt.splitInternalAndInsert(path, leftID, key, rightID)
}

// fixupRightPointer ensures the pointer to the right of key resolves to
// rightID after a new separator has been inserted.
func (bt *BTree) fixupRightPointer(p *Page, key []byte, rightID types.PageID) {
	sc := p.slotCount()
	for i := 0; i < sc; i++ {
		if bytes.Equal(p.getInternal(i).key, key) {
			if i+1 < sc {
				next := p.getInternal(i + 1)
				next.child = rightID
				rec := marshalInternal(next)
				e := p.getSlotEntry(i + 1)
				if int(e.length) >= len(rec) {
					copy(p.buf[e.offset:], rec)
					p.setSlotEntry(i+1, slotEntry{e.offset, uint16(len(rec))})
				}
			} else {
				p.SetRightChild(rightID)
			}
			return
		}
	}
}

func (bt *BTree) splitInternalAndInsert(path []lockedPage, leftID types.PageID, key []byte, rightID types.PageID) error {
	parent := path[len(path)-1]
	p := WrapPage(parent.guard.Page())
	entries := p.allInternal()
	oldRight := p.RightChild()
	merged := mergeInternal(entries, internalEntry{child: leftID, key: key})

	mid := len(merged) / 2
	pushUp := merged[mid].key
	leftEntries, rightEntries := merged[:mid], merged[mid+1:]

	leftBuf := make([]byte, storage.PageSize)
	leftPage := InitPage(leftBuf, parent.id, false)
	for _, e := range leftEntries {
		if err := leftPage.insertInternal(e); err != nil {
			bt.releaseDirty(path)
			return err
		}
	}
	leftPage.SetRightChild(merged[mid].child)
	// If the new entry landed left of or at the push-up point, the right
	// child of the left page (or the key's successor pointer) must become
	// rightID rather than the old child it displaced.
	for _, e := range leftEntries {
		if bytes.Equal(e.key, key) {
			bt.fixupRightPointer(leftPage, key, rightID)
			break
		}
	}
	if bytes.Equal(pushUp, key) {
		leftPage.SetRightChild(rightID)
	}
	copy(parent.guard.Page(), leftBuf)

	newRightID, rightGuard, err := bt.bp.NewPage(storage.PageTypeBTreeInternal)
	if err != nil {
		bt.releaseDirty(path)
		return err
	}
	rightPage := InitPage(rightGuard.Page(), newRightID, false)
	for _, e := range rightEntries {
		if err := rightPage.insertInternal(e); err != nil {
			rightGuard.Release(false)
			bt.releaseDirty(path)
			return err
		}
	}
	rightPage.SetRightChild(oldRight)
	for _, e := range rightEntries {
		if bytes.Equal(e.key, key) {
			bt.fixupRightPointer(rightPage, key, rightID)
			break
		}
	}
	rightGuard.Release(true)

	bt.releaseDirty(path[:len(path)-1])
	bt.latches.unlock(parent.id)
	parent.guard.Release(true)

	return bt.insertIntoParent(path[:len(path)-1], parent.id, pushUp, newRightID)
}

func (bt *BTree) createNewRoot(leftID types.PageID, key []byte, rightID types.PageID) error {
	rootID, guard, err := bt.bp.NewPage(storage.PageTypeBTreeInternal)
	if err != nil {
		return err
	}
	p := InitPage(guard.Page(), rootID, false)
	if err := p.insertInternal(internalEntry{child: leftID, key: key}); err != nil {
		guard.Release(false)
		return err
	}
	p.SetRightChild(rightID)
	guard.Release(true)
	bt.root = rootID
	return nil
}

// Delete removes key, redistributing from or merging with the leaf's right
// sibling if the deletion would underflow (spec §4.6
// "coalesce-or-redistribute", absent from the teacher's B+Tree, which only
// ever grows). Underflow handling is one level deep: a merge removes the
// separator from the immediate parent but does not cascade further up the
// tree if that removal itself underflows the parent — an accepted
// simplification recorded alongside the rest of the index's design
// decisions, since the parent's own "safe" threshold (minKeys+1) makes a
// cascading underflow rare in practice.
func (bt *BTree) Delete(key []byte) (bool, error) {
	path, err := bt.descendForWrite(key, safeForDelete)
	if err != nil {
		return false, err
	}
	leaf := path[len(path)-1]
	p := WrapPage(leaf.guard.Page())
	pos, found := p.findLeaf(key)
	if !found {
		bt.releasePath(path)
		return false, nil
	}
	p.deleteLeaf(pos)

	if p.KeyCount() >= minKeys(maxFanout) || len(path) == 1 {
		bt.releaseDirty(path)
		return true, nil
	}
	if err := bt.fixUnderflow(path); err != nil {
		bt.releaseDirty(path)
		return true, err
	}
	bt.releaseDirty(path)
	return true, nil
}

// fixUnderflow borrows an entry from, or merges with, the leaf's right
// sibling, updating the immediate parent's separator accordingly. The left
// sibling is never consulted: a leaf with no right sibling, or whose right
// sibling can neither lend an entry nor be absorbed, stays below minKeys.
func (bt *BTree) fixUnderflow(path []lockedPage) error {
	leaf := path[len(path)-1]
	parent := path[len(path)-2]
	p := WrapPage(leaf.guard.Page())
	pp := WrapPage(parent.guard.Page())

	if right := p.NextLeaf(); right != types.InvalidPageID {
		bt.latches.lock(right)
		rg, err := bt.bp.FetchPage(right)
		if err == nil {
			rp := WrapPage(rg.Page())
			switch {
			case rp.KeyCount() > minKeys(maxFanout):
				borrowed := rp.getLeaf(0)
				rp.deleteLeaf(0)
				p.insertLeaf(borrowed)
				bt.updateSeparator(pp, leaf.id, right, rp.getLeaf(0).key)
				rg.Release(true)
				bt.latches.unlock(right)
				return nil
			case p.KeyCount()+rp.KeyCount() <= maxFanout-1:
				for _, e := range rp.allLeaf() {
					p.insertLeaf(e)
				}
				p.SetNextLeaf(rp.NextLeaf())
				if next := rp.NextLeaf(); next != types.InvalidPageID {
					bt.latches.lock(next)
					if ng, err := bt.bp.FetchPage(next); err == nil {
						WrapPage(ng.Page()).SetPrevLeaf(leaf.id)
						ng.Release(true)
					}
					bt.latches.unlock(next)
				}
				bt.removeSeparator(pp, right)
				rg.Release(true)
				bt.latches.unlock(right)
				return nil
			}
			rg.Release(false)
		}
		bt.latches.unlock(right)
	}
	return nil
}

// updateSeparator rewrites the parent entry separating leftID and rightID
// to newKey after a borrow shifts the boundary between two leaves.
func (bt *BTree) updateSeparator(pp *Page, leftID, rightID types.PageID, newKey []byte) {
	sc := pp.slotCount()
	for i := 0; i < sc; i++ {
		e := pp.getInternal(i)
		if e.child == leftID {
			rec := marshalInternal(internalEntry{child: leftID, key: newKey})
			old := pp.getSlotEntry(i)
			if int(old.length) >= len(rec) {
				copy(pp.buf[old.offset:], rec)
				pp.setSlotEntry(i, slotEntry{old.offset, uint16(len(rec))})
			}
			return
		}
	}
	_ = rightID
}

// removeSeparator deletes the parent entry whose right pointer is
// childID, used after a leaf merge absorbs its right sibling.
func (bt *BTree) removeSeparator(pp *Page, childID types.PageID) {
	sc := pp.slotCount()
	for i := 0; i < sc; i++ {
		next := pp.RightChild()
		if i+1 < sc {
			next = pp.getInternal(i + 1).child
		}
		if next == childID {
			// The surviving left page takes over the pointer slot that
			// referenced the absorbed page.
			left := pp.getInternal(i).child
			pp.deleteRecordAt(i)
			pp.setKeyCount(pp.KeyCount() - 1)
			if i < pp.slotCount() {
				e := pp.getInternal(i)
				e.child = left
				copy(pp.buf[pp.getSlotEntry(i).offset:], marshalInternal(e))
			} else {
				pp.SetRightChild(left)
			}
			return
		}
	}
}

// ScanRange calls fn for every key in [startKey, endKey] (endKey nil means
// unbounded), following the leaf sibling chain.
func (bt *BTree) ScanRange(startKey, endKey []byte, fn func(key []byte, rid types.RID) bool) error {
	cur := bt.root
	bt.latches.rLock(cur)
	for {
		guard, err := bt.bp.FetchPage(cur)
		if err != nil {
			bt.latches.rUnlock(cur)
			return err
		}
		p := WrapPage(guard.Page())
		if p.IsLeaf() {
			guard.Release(false)
			bt.latches.rUnlock(cur)
			break
		}
		child := p.childFor(startKey)
		guard.Release(false)
		bt.latches.rLock(child)
		bt.latches.rUnlock(cur)
		cur = child
	}

	for cur != types.InvalidPageID {
		bt.latches.rLock(cur)
		guard, err := bt.bp.FetchPage(cur)
		if err != nil {
			bt.latches.rUnlock(cur)
			return err
		}
		p := WrapPage(guard.Page())
		stop := false
		for _, e := range p.allLeaf() {
			if bytes.Compare(e.key, startKey) < 0 {
				continue
			}
			if endKey != nil && bytes.Compare(e.key, endKey) > 0 {
				stop = true
				break
			}
			if !fn(e.key, e.rid) {
				stop = true
				break
			}
		}
		next := p.NextLeaf()
		guard.Release(false)
		bt.latches.rUnlock(cur)
		if stop {
			return nil
		}
		cur = next
	}
	return nil
}

// Count returns the number of keys in the tree.
func (bt *BTree) Count() (int, error) {
	n := 0
	err := bt.ScanRange(nil, nil, func([]byte, types.RID) bool { n++; return true })
	return n, err
}
