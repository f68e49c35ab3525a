package btree

import (
	"bytes"

	"go.uber.org/zap"

	"flintdb/internal/page"
)

// insertIntoInternal places a (separator, child) entry into an
// internal node at the position that keeps the index entries in
// ascending key order. If the node is full it is split first and the
// entry is routed to whichever half the promoted separator assigns it
// to.
func (t *BPlusTree) insertIntoInternal(node *page.Page, key []byte, childID uint32) error {
	n := node.NumSlots()
	if n >= page.IndexCapacity {
		sep, right, err := t.splitInternal(node)
		if err != nil {
			return err
		}
		if bytes.Compare(key, sep) < 0 {
			return t.insertIntoInternal(node, key, childID)
		}
		return t.insertIntoInternal(right, key, childID)
	}

	idx := 0
	for idx < n && bytes.Compare(node.IndexKey(idx), key) < 0 {
		idx++
	}
	node.ShiftIndexEntriesRight(idx, n)
	node.SetIndexEntry(idx, key, childID)
	node.SetNumSlots(n + 1)

	// The child may have been created under a sibling that split
	// before this entry landed; keep its parent pointer accurate.
	child, err := t.pager.Get(childID)
	if err != nil {
		return err
	}
	if child.ParentID() != node.ID() {
		child.SetParentID(node.ID())
		if err := t.pager.Flush(childID); err != nil {
			return err
		}
	}

	return t.pager.Flush(node.ID())
}

// splitInternal splits a full internal node. The entry at the midpoint
// is promoted: its key moves up a level and its child becomes the
// lower bound child of the new right node. Entries above the midpoint
// move right, re-parenting each child as it goes. Returns the promoted
// separator and the new right node so the caller can route a pending
// entry.
func (t *BPlusTree) splitInternal(node *page.Page) ([]byte, *page.Page, error) {
	right, err := t.pager.Allocate()
	if err != nil {
		return nil, nil, err
	}
	right.SetLeaf(false)
	right.SetParentID(node.ParentID())

	n := node.NumSlots()
	mid := n / 2
	sep := append([]byte(nil), node.IndexKey(mid)...)

	right.SetLowerBoundChild(node.IndexChild(mid))
	if err := t.reparent(node.IndexChild(mid), right.ID()); err != nil {
		return nil, nil, err
	}

	moved := 0
	for i := mid + 1; i < n; i++ {
		page.CopyIndexEntry(right, moved, node, i)
		if err := t.reparent(node.IndexChild(i), right.ID()); err != nil {
			return nil, nil, err
		}
		moved++
	}
	right.SetNumSlots(moved)
	node.SetNumSlots(mid)
	node.ZeroRange(page.HeaderSize+mid*page.IndexEntrySize, page.HeaderSize+n*page.IndexEntrySize)

	if err := t.pager.Flush(node.ID()); err != nil {
		return nil, nil, err
	}
	if err := t.pager.Flush(right.ID()); err != nil {
		return nil, nil, err
	}

	t.logger.Debug("split internal node",
		zap.Uint32("left", node.ID()),
		zap.Uint32("right", right.ID()),
		zap.ByteString("separator", sep))

	if node.ID() == t.rootID {
		if err := t.createNewRoot(node, right, sep); err != nil {
			return nil, nil, err
		}
	} else {
		parent, err := t.pager.Get(node.ParentID())
		if err != nil {
			return nil, nil, err
		}
		if err := t.insertIntoInternal(parent, sep, right.ID()); err != nil {
			return nil, nil, err
		}
	}

	return sep, right, nil
}

// reparent points a child's parent id at newParent and flushes it
// immediately, so no later step re-reads a stale parent pointer.
func (t *BPlusTree) reparent(childID, newParent uint32) error {
	child, err := t.pager.Get(childID)
	if err != nil {
		return err
	}
	child.SetParentID(newParent)
	return t.pager.Flush(childID)
}

// createNewRoot grows the tree by one level: a fresh internal page
// takes left as its lower bound child and a single (separator, right)
// entry, both children are re-parented, and the meta page is rewritten
// with the new root id.
func (t *BPlusTree) createNewRoot(left, right *page.Page, sep []byte) error {
	root, err := t.pager.Allocate()
	if err != nil {
		return err
	}
	root.SetLeaf(false)
	root.SetLowerBoundChild(left.ID())
	root.SetIndexEntry(0, sep, right.ID())
	root.SetNumSlots(1)

	left.SetParentID(root.ID())
	right.SetParentID(root.ID())
	if err := t.pager.Flush(left.ID()); err != nil {
		return err
	}
	if err := t.pager.Flush(right.ID()); err != nil {
		return err
	}
	if err := t.pager.Flush(root.ID()); err != nil {
		return err
	}

	t.rootID = root.ID()
	t.logger.Debug("created new root", zap.Uint32("rootID", root.ID()))
	return t.writeMeta()
}
