package btree

import (
	"bytes"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"flintdb/internal/page"
)

// ErrKeyTooLarge is returned by Put when a key cannot fit in a
// fixed-width index entry.
var ErrKeyTooLarge = errors.New("key exceeds maximum length")

// recordReserve is kept aside for the header and slot metadata when
// judging whether a single record is storable at all.
const recordReserve = 100

// maxRecordSize is the largest [kLen][key][vLen][value] footprint Put
// accepts.
const maxRecordSize = page.PageSize - recordReserve

// maxValueLen is what a one-byte length prefix can describe.
const maxValueLen = 255

// Pair is one key/value result of a range scan.
type Pair struct {
	Key   []byte
	Value []byte
}

// Config carries the tunables for opening a tree. The zero value of
// Logger is usable; it is replaced with a nop logger.
type Config struct {
	Path   string
	Logger *zap.Logger
}

// BPlusTree is a single-file, disk-backed B+ tree over slotted pages.
// All page I/O goes through the page manager; the tree itself only
// ever sees PageSize buffers.
//
// The tree is not safe for concurrent use and assumes exclusive
// access to the backing file.
type BPlusTree struct {
	pager  *page.Manager
	rootID uint32
	logger *zap.Logger
}

// Open opens (or creates) the database file and bootstraps the root.
// A fresh file gets a leaf root allocated and recorded in the meta
// page before Open returns.
func Open(cfg Config) (*BPlusTree, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pager, err := page.Open(cfg.Path, logger)
	if err != nil {
		return nil, err
	}

	tree := &BPlusTree{pager: pager, logger: logger}

	meta, err := pager.Get(page.MetaPageID)
	if err != nil {
		pager.Close()
		return nil, err
	}
	tree.rootID = meta.RootID()

	if tree.rootID == 0 {
		root, err := pager.Allocate()
		if err != nil {
			pager.Close()
			return nil, err
		}
		root.SetLeaf(true)
		if err := pager.Flush(root.ID()); err != nil {
			pager.Close()
			return nil, err
		}
		tree.rootID = root.ID()
		if err := tree.writeMeta(); err != nil {
			pager.Close()
			return nil, err
		}
		logger.Info("bootstrapped root leaf", zap.Uint32("rootID", tree.rootID))
	}

	return tree, nil
}

// Close closes the backing file. Every mutating operation flushes the
// pages it touched, so there is nothing left to write back here.
func (t *BPlusTree) Close() error {
	return t.pager.Close()
}

// Pager exposes the page manager, mainly for stats and tests.
func (t *BPlusTree) Pager() *page.Manager {
	return t.pager
}

// RootID returns the current root page id.
func (t *BPlusTree) RootID() uint32 {
	return t.rootID
}

// writeMeta records the current root id in the meta page and flushes
// it.
func (t *BPlusTree) writeMeta() error {
	meta, err := t.pager.Get(page.MetaPageID)
	if err != nil {
		return err
	}
	meta.SetRootID(t.rootID)
	return t.pager.Flush(page.MetaPageID)
}

// findLeaf descends from start to the leaf that owns key. At each
// internal node: keys below the first separator go to the lower bound
// child, otherwise the child of the largest separator <= key is
// followed. Iterative; the descent is bounded by tree height.
func (t *BPlusTree) findLeaf(start uint32, key []byte) (*page.Page, error) {
	id := start
	for {
		p, err := t.pager.Get(id)
		if err != nil {
			return nil, err
		}
		if p.IsLeaf() {
			return p, nil
		}

		n := p.NumSlots()
		if n == 0 || bytes.Compare(key, p.IndexKey(0)) < 0 {
			id = p.LowerBoundChild()
			continue
		}

		next := p.IndexChild(0)
		for i := n - 1; i >= 0; i-- {
			if bytes.Compare(key, p.IndexKey(i)) >= 0 {
				next = p.IndexChild(i)
				break
			}
		}
		id = next
	}
}

// Put inserts or replaces the value stored under key.
//
// A key longer than the fixed index-entry width is refused with
// ErrKeyTooLarge. A record too large for a page is reported and
// dropped: the tree stays unchanged and Put returns nil.
func (t *BPlusTree) Put(key, value []byte) error {
	if len(key) > page.MaxKeyLen {
		return errors.Wrapf(ErrKeyTooLarge, "key length %d, max %d", len(key), page.MaxKeyLen)
	}

	rec := page.RecordSize(key, value)
	if rec > maxRecordSize || len(value) > maxValueLen {
		t.logger.Warn("record too large, dropped",
			zap.ByteString("key", key),
			zap.Int("valueLen", len(value)),
			zap.Int("recordSize", rec))
		return nil
	}

	leaf, err := t.findLeaf(t.rootID, key)
	if err != nil {
		return err
	}

	// Replace semantics for an existing key: overwrite in place when
	// the new record fits the old slot, otherwise remove and fall
	// through to a fresh insert.
	n := leaf.NumSlots()
	idx := findSlot(leaf, key)
	if idx < n && bytes.Equal(leaf.KeyAt(idx), key) {
		off, length := leaf.Slot(idx)
		if rec <= length {
			leaf.WriteRecord(off, key, value)
			leaf.SetSlot(idx, off, rec)
			return t.pager.Flush(leaf.ID())
		}
		leaf.ShiftSlotsLeft(idx, n)
		leaf.SetNumSlots(n - 1)
		defragment(leaf)
	}

	needed := page.HeaderSize + (leaf.NumSlots()+1)*page.SlotSize + rec
	if leaf.FreeSpaceOffset() < needed {
		return t.splitLeaf(leaf, key, value)
	}

	insertIntoLeaf(leaf, key, value)
	return t.pager.Flush(leaf.ID())
}

// Get returns a copy of the value stored under key, with found=false
// for an unknown key.
func (t *BPlusTree) Get(key []byte) ([]byte, bool, error) {
	leaf, err := t.findLeaf(t.rootID, key)
	if err != nil {
		return nil, false, err
	}

	idx := findSlot(leaf, key)
	if idx < leaf.NumSlots() && bytes.Equal(leaf.KeyAt(idx), key) {
		off, _ := leaf.Slot(idx)
		_, v := leaf.RecordAt(off)
		return append([]byte(nil), v...), true, nil
	}
	return nil, false, nil
}

// Remove deletes key from its leaf. Returns false for an unknown key.
// There is no rebalancing: leaves may become empty and stay reachable,
// and separator keys in ancestors are left as-is.
func (t *BPlusTree) Remove(key []byte) (bool, error) {
	leaf, err := t.findLeaf(t.rootID, key)
	if err != nil {
		return false, err
	}

	n := leaf.NumSlots()
	idx := findSlot(leaf, key)
	if idx >= n || !bytes.Equal(leaf.KeyAt(idx), key) {
		return false, nil
	}

	leaf.ShiftSlotsLeft(idx, n)
	leaf.SetNumSlots(n - 1)
	defragment(leaf)
	if err := t.pager.Flush(leaf.ID()); err != nil {
		return false, err
	}
	return true, nil
}

// RangeScan returns every live pair with low <= key <= high in
// ascending key order, walking the leaf sibling chain. Both bounds are
// inclusive; low > high yields an empty result.
func (t *BPlusTree) RangeScan(low, high []byte) ([]Pair, error) {
	var out []Pair

	leaf, err := t.findLeaf(t.rootID, low)
	if err != nil {
		return nil, err
	}

	cur := leaf.ID()
	for cur != 0 {
		p, err := t.pager.Get(cur)
		if err != nil {
			return nil, err
		}
		n := p.NumSlots()
		for i := findSlot(p, low); i < n; i++ {
			off, _ := p.Slot(i)
			k, v := p.RecordAt(off)
			if bytes.Compare(k, high) > 0 {
				return out, nil
			}
			out = append(out, Pair{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
		}
		cur = p.NextSibling()
	}
	return out, nil
}
