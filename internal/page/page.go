package page

import (
	"bytes"
	"encoding/binary"
)

// PageSize is the fixed size of every page in the database file.
const PageSize = 4096

// Header layout (packed, little-endian). The serialized order is
// independent of any Go struct layout; every field is read and written
// at an explicit offset so the on-disk format is stable across
// platforms:
//
//	pageID:4  parentID:4  nextSibling:4  lowerBoundChild:4
//	isLeaf:1  numSlots:4  freeSpaceOffset:4
const (
	offPageID          = 0
	offParentID        = 4
	offNextSibling     = 8
	offLowerBoundChild = 12
	offIsLeaf          = 16
	offNumSlots        = 17
	offFreeSpaceOffset = 21

	// HeaderSize is the byte-packed size of the page header.
	HeaderSize = 25
)

// SlotSize is the size of one slot directory entry: a 2-byte heap
// offset followed by a 2-byte record length.
const SlotSize = 4

// Index entries are the fixed-width separator records of internal
// pages: a null-padded key followed by a little-endian child page id.
const (
	IndexKeySize   = 16
	IndexEntrySize = IndexKeySize + 4

	// MaxKeyLen is the longest key an index entry can hold while
	// keeping at least one padding NUL.
	MaxKeyLen = IndexKeySize - 1
)

// MetaPageID is reserved for the meta page. Its first four bytes hold
// the little-endian page id of the current root; the allocator never
// hands it out.
const MetaPageID = 0

// Page is a PageSize-byte buffer plus its identity. All structured
// access goes through the accessor methods below; callers never
// reinterpret the raw bytes themselves.
type Page struct {
	id   uint32
	data []byte
}

// NewPage wraps an existing PageSize buffer. The buffer is owned by
// the page from here on.
func NewPage(id uint32, data []byte) *Page {
	return &Page{id: id, data: data}
}

// ID returns the page identifier the buffer was loaded under.
func (p *Page) ID() uint32 { return p.id }

// Data exposes the raw buffer for file I/O.
func (p *Page) Data() []byte { return p.data }

// -----------------------------
// Header accessors
// -----------------------------

func (p *Page) PageID() uint32 {
	return binary.LittleEndian.Uint32(p.data[offPageID:])
}

func (p *Page) SetPageID(id uint32) {
	binary.LittleEndian.PutUint32(p.data[offPageID:], id)
}

func (p *Page) ParentID() uint32 {
	return binary.LittleEndian.Uint32(p.data[offParentID:])
}

func (p *Page) SetParentID(id uint32) {
	binary.LittleEndian.PutUint32(p.data[offParentID:], id)
}

func (p *Page) NextSibling() uint32 {
	return binary.LittleEndian.Uint32(p.data[offNextSibling:])
}

func (p *Page) SetNextSibling(id uint32) {
	binary.LittleEndian.PutUint32(p.data[offNextSibling:], id)
}

func (p *Page) LowerBoundChild() uint32 {
	return binary.LittleEndian.Uint32(p.data[offLowerBoundChild:])
}

func (p *Page) SetLowerBoundChild(id uint32) {
	binary.LittleEndian.PutUint32(p.data[offLowerBoundChild:], id)
}

func (p *Page) IsLeaf() bool {
	return p.data[offIsLeaf] != 0
}

func (p *Page) SetLeaf(leaf bool) {
	if leaf {
		p.data[offIsLeaf] = 1
	} else {
		p.data[offIsLeaf] = 0
	}
}

func (p *Page) NumSlots() int {
	return int(binary.LittleEndian.Uint32(p.data[offNumSlots:]))
}

func (p *Page) SetNumSlots(n int) {
	binary.LittleEndian.PutUint32(p.data[offNumSlots:], uint32(n))
}

func (p *Page) FreeSpaceOffset() int {
	return int(binary.LittleEndian.Uint32(p.data[offFreeSpaceOffset:]))
}

func (p *Page) SetFreeSpaceOffset(off int) {
	binary.LittleEndian.PutUint32(p.data[offFreeSpaceOffset:], uint32(off))
}

// -----------------------------
// Leaf pages: slot directory and record heap
// -----------------------------

// Slot returns the heap offset and record length stored in slot i.
func (p *Page) Slot(i int) (offset, length int) {
	base := HeaderSize + i*SlotSize
	offset = int(binary.LittleEndian.Uint16(p.data[base:]))
	length = int(binary.LittleEndian.Uint16(p.data[base+2:]))
	return offset, length
}

// SetSlot writes slot i.
func (p *Page) SetSlot(i, offset, length int) {
	base := HeaderSize + i*SlotSize
	binary.LittleEndian.PutUint16(p.data[base:], uint16(offset))
	binary.LittleEndian.PutUint16(p.data[base+2:], uint16(length))
}

// ShiftSlotsRight opens a gap at slot i by moving slots i..n-1 one
// position up. The caller fills the vacated slot afterwards.
func (p *Page) ShiftSlotsRight(i, n int) {
	if i >= n {
		return
	}
	src := HeaderSize + i*SlotSize
	dst := src + SlotSize
	copy(p.data[dst:dst+(n-i)*SlotSize], p.data[src:src+(n-i)*SlotSize])
}

// ShiftSlotsLeft closes the gap left by removing slot i from a
// directory of n slots.
func (p *Page) ShiftSlotsLeft(i, n int) {
	if i >= n-1 {
		return
	}
	dst := HeaderSize + i*SlotSize
	src := dst + SlotSize
	copy(p.data[dst:dst+(n-i-1)*SlotSize], p.data[src:src+(n-i-1)*SlotSize])
}

// RecordAt decodes the length-prefixed key/value record that starts at
// the given heap offset. The returned slices alias the page buffer;
// callers that retain them across a mutation must copy first.
func (p *Page) RecordAt(offset int) (key, value []byte) {
	kLen := int(p.data[offset])
	key = p.data[offset+1 : offset+1+kLen]
	vLen := int(p.data[offset+1+kLen])
	value = p.data[offset+2+kLen : offset+2+kLen+vLen]
	return key, value
}

// KeyAt returns the key referenced by slot i. The slice aliases the
// page buffer.
func (p *Page) KeyAt(i int) []byte {
	offset, _ := p.Slot(i)
	key, _ := p.RecordAt(offset)
	return key
}

// WriteRecord encodes a record at the given heap offset as
// [kLen:1][key][vLen:1][value].
func (p *Page) WriteRecord(offset int, key, value []byte) {
	p.data[offset] = byte(len(key))
	copy(p.data[offset+1:], key)
	p.data[offset+1+len(key)] = byte(len(value))
	copy(p.data[offset+2+len(key):], value)
}

// RecordSize returns the heap footprint of a key/value pair.
func RecordSize(key, value []byte) int {
	return 2 + len(key) + len(value)
}

// -----------------------------
// Internal pages: fixed-width index entries
// -----------------------------

// IndexCapacity is the number of index entries an internal page holds
// before it must split.
const IndexCapacity = (PageSize - HeaderSize) / IndexEntrySize

func indexEntryBase(i int) int {
	return HeaderSize + i*IndexEntrySize
}

// IndexKey returns the effective key of index entry i, with the NUL
// padding stripped.
func (p *Page) IndexKey(i int) []byte {
	base := indexEntryBase(i)
	raw := p.data[base : base+IndexKeySize]
	if n := bytes.IndexByte(raw, 0); n >= 0 {
		return raw[:n]
	}
	return raw
}

// IndexChild returns the child page id of index entry i.
func (p *Page) IndexChild(i int) uint32 {
	base := indexEntryBase(i)
	return binary.LittleEndian.Uint32(p.data[base+IndexKeySize:])
}

// SetIndexEntry writes index entry i: the key is null-padded to the
// fixed width (truncated to MaxKeyLen) followed by the child id.
func (p *Page) SetIndexEntry(i int, key []byte, child uint32) {
	base := indexEntryBase(i)
	for j := 0; j < IndexKeySize; j++ {
		p.data[base+j] = 0
	}
	if len(key) > MaxKeyLen {
		key = key[:MaxKeyLen]
	}
	copy(p.data[base:], key)
	binary.LittleEndian.PutUint32(p.data[base+IndexKeySize:], child)
}

// ShiftIndexEntriesRight opens a gap at entry i by moving entries
// i..n-1 one position up.
func (p *Page) ShiftIndexEntriesRight(i, n int) {
	if i >= n {
		return
	}
	src := indexEntryBase(i)
	dst := src + IndexEntrySize
	copy(p.data[dst:dst+(n-i)*IndexEntrySize], p.data[src:src+(n-i)*IndexEntrySize])
}

// CopyIndexEntry copies entry srcIdx of src into entry dstIdx of dst.
func CopyIndexEntry(dst *Page, dstIdx int, src *Page, srcIdx int) {
	d := indexEntryBase(dstIdx)
	s := indexEntryBase(srcIdx)
	copy(dst.data[d:d+IndexEntrySize], src.data[s:s+IndexEntrySize])
}

// ZeroRange clears [from, to) of the page buffer.
func (p *Page) ZeroRange(from, to int) {
	for i := from; i < to; i++ {
		p.data[i] = 0
	}
}

// -----------------------------
// Meta page
// -----------------------------

// RootID reads the root page id stored in the meta page.
func (p *Page) RootID() uint32 {
	return binary.LittleEndian.Uint32(p.data[0:])
}

// SetRootID stores the root page id into the meta page.
func (p *Page) SetRootID(id uint32) {
	binary.LittleEndian.PutUint32(p.data[0:], id)
}
