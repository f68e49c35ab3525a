package btree

import (
	"bytes"

	"go.uber.org/zap"

	"flintdb/internal/page"
)

// findSlot binary-searches the sorted slot directory of a leaf.
// Returns the index of an exact match if the key is present, otherwise
// the index of the first slot whose key is greater (the insertion
// point), which is NumSlots when every key is smaller.
func findSlot(p *page.Page, key []byte) int {
	low := 0
	high := p.NumSlots() - 1
	result := p.NumSlots()

	for low <= high {
		mid := low + (high-low)/2
		switch bytes.Compare(p.KeyAt(mid), key) {
		case 0:
			return mid
		case -1:
			low = mid + 1
		default:
			result = mid
			high = mid - 1
		}
	}
	return result
}

// insertIntoLeaf places a record into a leaf keeping the slot
// directory sorted. The caller has already verified there is room and
// is responsible for flushing the page.
func insertIntoLeaf(p *page.Page, key, value []byte) {
	n := p.NumSlots()
	idx := findSlot(p, key)
	rec := page.RecordSize(key, value)

	p.ShiftSlotsRight(idx, n)

	off := p.FreeSpaceOffset() - rec
	p.SetFreeSpaceOffset(off)
	p.WriteRecord(off, key, value)
	p.SetSlot(idx, off, rec)
	p.SetNumSlots(n + 1)
}

// splitLeaf handles an insert into a leaf that has no room left. A new
// right sibling is allocated and spliced into the chain, the upper
// half of the records moves over, and the key at the split point is
// promoted as the separator. The triggering pair is then routed to
// whichever side owns it, and the split propagates upward.
func (t *BPlusTree) splitLeaf(old *page.Page, key, value []byte) error {
	right, err := t.pager.Allocate()
	if err != nil {
		return err
	}
	right.SetLeaf(true)
	right.SetParentID(old.ParentID())
	right.SetNextSibling(old.NextSibling())
	old.SetNextSibling(right.ID())

	n := old.NumSlots()
	mid := n / 2

	// The first key that moves right becomes the separator. Copy it
	// out: defragmentation below rewrites the heap it points into.
	sep := append([]byte(nil), old.KeyAt(mid)...)

	for i := mid; i < n; i++ {
		off, _ := old.Slot(i)
		k, v := old.RecordAt(off)
		insertIntoLeaf(right, k, v)
	}
	old.SetNumSlots(mid)
	defragment(old)

	if bytes.Compare(key, sep) < 0 {
		insertIntoLeaf(old, key, value)
	} else {
		insertIntoLeaf(right, key, value)
	}

	if err := t.pager.Flush(old.ID()); err != nil {
		return err
	}
	if err := t.pager.Flush(right.ID()); err != nil {
		return err
	}

	t.logger.Debug("split leaf",
		zap.Uint32("left", old.ID()),
		zap.Uint32("right", right.ID()),
		zap.ByteString("separator", sep))

	if old.ID() == t.rootID {
		return t.createNewRoot(old, right, sep)
	}
	parent, err := t.pager.Get(old.ParentID())
	if err != nil {
		return err
	}
	return t.insertIntoInternal(parent, sep, right.ID())
}

// defragment rebuilds the heap of a leaf so live records pack tightly
// against the end of the page. Records are staged in a scratch buffer
// in slot order, the region between the slot directory and the new low
// water mark is zeroed, and every slot offset is rewritten.
func defragment(p *page.Page) {
	n := p.NumSlots()
	scratch := make([]byte, page.PageSize)
	cur := page.PageSize

	for i := 0; i < n; i++ {
		off, _ := p.Slot(i)
		k, v := p.RecordAt(off)
		rec := page.RecordSize(k, v)
		cur -= rec
		copy(scratch[cur:], p.Data()[off:off+rec])
		p.SetSlot(i, cur, rec)
	}

	slotEnd := page.HeaderSize + n*page.SlotSize
	p.ZeroRange(slotEnd, page.PageSize)
	copy(p.Data()[cur:], scratch[cur:])
	p.SetFreeSpaceOffset(cur)
}
