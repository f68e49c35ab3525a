// Package memtable provides an in-memory ordered map exploring the
// same key/value contract as the B+ tree, plus the merge-style file
// compaction used to fold a flushed snapshot into an older one.
package memtable

import (
	"bufio"
	"encoding/binary"
	"math/rand"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Tombstone is the reserved byte string that marks a deletion in
// flushed files. In memory a deletion is a tagged state on the node;
// the sentinel only exists at the file boundary.
const Tombstone = "<<TOMBSTONE_MARKER>>"

const (
	maxLevel    = 24
	probability = 0.5
)

// Pair is one key/value result of a range scan.
type Pair struct {
	Key   string
	Value string
}

type node struct {
	key     string
	value   string
	deleted bool
	next    []*node
}

// SkipList is a probabilistic ordered map. Deletions are recorded as
// tombstoned nodes so that a later flush carries them forward for
// compaction to resolve.
type SkipList struct {
	head    *node
	level   int
	count   int
	rng     *rand.Rand
	logger  *zap.Logger
}

// New creates an empty skip list. A nil logger is replaced with a nop
// logger.
func New(logger *zap.Logger) *SkipList {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SkipList{
		head:   &node{next: make([]*node, maxLevel+1)},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 0
	for s.rng.Float64() < probability && lvl < maxLevel-1 {
		lvl++
	}
	return lvl
}

// findUpdate walks down the levels collecting, per level, the last
// node whose key is below the probe.
func (s *SkipList) findUpdate(key string) []*node {
	update := make([]*node, maxLevel+1)
	curr := s.head
	for i := s.level; i >= 0; i-- {
		for curr.next[i] != nil && curr.next[i].key < key {
			curr = curr.next[i]
		}
		update[i] = curr
	}
	return update
}

// Put inserts or replaces the value stored under key. A Put revives a
// tombstoned key.
func (s *SkipList) Put(key, value string) {
	update := s.findUpdate(key)
	curr := update[0].next[0]

	if curr != nil && curr.key == key {
		curr.value = value
		curr.deleted = false
		return
	}

	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level + 1; i <= lvl; i++ {
			update[i] = s.head
		}
		s.level = lvl
	}

	n := &node{key: key, value: value, next: make([]*node, lvl+1)}
	for i := 0; i <= lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	s.count++
}

// Remove marks key as deleted. The node stays resident so the
// deletion survives a flush as a tombstone record.
func (s *SkipList) Remove(key string) {
	update := s.findUpdate(key)
	curr := update[0].next[0]

	if curr != nil && curr.key == key {
		curr.deleted = true
		return
	}

	// Deleting a key that was never inserted still has to shadow any
	// older flushed value, so a tombstoned node is created.
	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level + 1; i <= lvl; i++ {
			update[i] = s.head
		}
		s.level = lvl
	}
	n := &node{key: key, deleted: true, next: make([]*node, lvl+1)}
	for i := 0; i <= lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	s.count++
}

// Get returns the live value stored under key; found is false for
// missing or tombstoned keys.
func (s *SkipList) Get(key string) (string, bool) {
	curr := s.head
	for i := s.level; i >= 0; i-- {
		for curr.next[i] != nil && curr.next[i].key < key {
			curr = curr.next[i]
		}
	}
	curr = curr.next[0]
	if curr != nil && curr.key == key && !curr.deleted {
		return curr.value, true
	}
	return "", false
}

// RangeScan returns every live pair with start <= key <= end in
// ascending key order, walking level 0.
func (s *SkipList) RangeScan(start, end string) []Pair {
	var out []Pair

	curr := s.head
	for i := s.level; i >= 0; i-- {
		for curr.next[i] != nil && curr.next[i].key < start {
			curr = curr.next[i]
		}
	}
	curr = curr.next[0]

	for curr != nil && curr.key <= end {
		if !curr.deleted {
			out = append(out, Pair{Key: curr.key, Value: curr.value})
		}
		curr = curr.next[0]
	}
	return out
}

// Size returns the number of resident nodes, tombstoned ones
// included.
func (s *SkipList) Size() int {
	return s.count
}

// Flush serializes every entry to path in ascending key order as
// [kLen:2 LE][key][vLen:2 LE][value] records. Tombstoned entries are
// written with the tombstone sentinel as their value so a later
// compaction can drop the keys they shadow.
func (s *SkipList) Flush(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create flush file %s", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	written := 0
	for curr := s.head.next[0]; curr != nil; curr = curr.next[0] {
		value := curr.value
		if curr.deleted {
			value = Tombstone
		}
		if err := writeRecord(w, curr.key, value); err != nil {
			return errors.Wrapf(err, "flush to %s", path)
		}
		written++
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "flush to %s", path)
	}

	s.logger.Info("flushed memtable",
		zap.String("path", path),
		zap.Int("records", written))
	return nil
}

func writeRecord(w *bufio.Writer, key, value string) error {
	var lenBuf [2]byte

	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(key)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.WriteString(key); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(value)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.WriteString(value)
	return err
}
