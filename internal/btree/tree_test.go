package btree

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"flintdb/internal/page"
)

type TreeTestSuite struct {
	suite.Suite
	dir string
}

func (s *TreeTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *TreeTestSuite) open(name string) *BPlusTree {
	tree, err := Open(Config{Path: filepath.Join(s.dir, name)})
	s.Require().NoError(err)
	return tree
}

// padKey builds keys like key0001 so lexicographic order matches
// numeric order.
func padKey(i int) []byte {
	return []byte(fmt.Sprintf("key%04d", i))
}

func padVal(i int) []byte {
	return []byte(fmt.Sprintf("val%d", i))
}

func (s *TreeTestSuite) TestPutGetAndReplace() {
	t := s.T()
	tree := s.open("fruits.db")
	defer tree.Close()

	require.NoError(t, tree.Put([]byte("apple"), []byte("red")))
	require.NoError(t, tree.Put([]byte("banana"), []byte("yellow")))
	require.NoError(t, tree.Put([]byte("grape"), []byte("purple")))
	require.NoError(t, tree.Put([]byte("apple"), []byte("green")))

	v, ok, err := tree.Get([]byte("apple"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("green"), v)

	v, ok, err = tree.Get([]byte("banana"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("yellow"), v)

	v, ok, err = tree.Get([]byte("grape"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("purple"), v)

	_, ok, err = tree.Get([]byte("cherry"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func (s *TreeTestSuite) TestReplaceInPlace() {
	t := s.T()
	tree := s.open("inplace.db")
	defer tree.Close()

	require.NoError(t, tree.Put([]byte("k"), []byte("aaaaa")))
	before, err := tree.Pager().Get(tree.RootID())
	require.NoError(t, err)
	freeBefore := before.FreeSpaceOffset()

	// Same-length replace reuses the slot; no new heap space.
	require.NoError(t, tree.Put([]byte("k"), []byte("bbbbb")))
	v, ok, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("bbbbb"), v)
	assert.Equal(t, freeBefore, before.FreeSpaceOffset())

	// A shorter value also fits the old slot extent.
	require.NoError(t, tree.Put([]byte("k"), []byte("cc")))
	v, ok, err = tree.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("cc"), v)
	assert.Equal(t, freeBefore, before.FreeSpaceOffset())

	pairs, err := tree.RangeScan([]byte("k"), []byte("k"))
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func (s *TreeTestSuite) TestReplaceWithLongerValue() {
	t := s.T()
	tree := s.open("replace.db")
	defer tree.Close()

	require.NoError(t, tree.Put([]byte("k"), []byte("short")))
	require.NoError(t, tree.Put([]byte("k"), []byte("a considerably longer value")))

	v, ok, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("a considerably longer value"), v)

	// No duplicate slot was left behind.
	pairs, err := tree.RangeScan([]byte("k"), []byte("k"))
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func (s *TreeTestSuite) TestThousandKeysAndRangeScan() {
	t := s.T()
	tree := s.open("thousand.db")
	defer tree.Close()

	for i := 1; i <= 1000; i++ {
		require.NoError(t, tree.Put(padKey(i), padVal(i)))
	}

	v, ok, err := tree.Get(padKey(500))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("val500"), v)

	pairs, err := tree.RangeScan([]byte("key0490"), []byte("key0510"))
	require.NoError(t, err)
	require.Len(t, pairs, 21)
	for i, pair := range pairs {
		assert.Equal(t, padKey(490+i), pair.Key)
		assert.Equal(t, padVal(490+i), pair.Value)
	}
}

func (s *TreeTestSuite) TestRemoveEvenKeys() {
	t := s.T()
	tree := s.open("remove.db")
	defer tree.Close()

	for i := 1; i <= 1000; i++ {
		require.NoError(t, tree.Put(padKey(i), padVal(i)))
	}
	for i := 2; i <= 1000; i += 2 {
		ok, err := tree.Remove(padKey(i))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	for i := 1; i <= 1000; i++ {
		v, ok, err := tree.Get(padKey(i))
		require.NoError(t, err)
		if i%2 == 1 {
			assert.True(t, ok, "key %d should be present", i)
			assert.Equal(t, padVal(i), v)
		} else {
			assert.False(t, ok, "key %d should be gone", i)
		}
	}
}

func (s *TreeTestSuite) TestPersistenceAcrossReopen() {
	t := s.T()
	path := filepath.Join(s.dir, "persist.db")

	tree, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, tree.Put([]byte("k"), []byte("v")))
	require.NoError(t, tree.Close())

	// A fresh single-record database is tiny: the meta page, the root
	// leaf, and nothing more.
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fi.Size(), int64(2*page.PageSize))
	assert.LessOrEqual(t, fi.Size(), int64(3*page.PageSize))

	tree, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer tree.Close()

	v, ok, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func (s *TreeTestSuite) TestPersistenceAfterSplits() {
	t := s.T()
	path := filepath.Join(s.dir, "persist_splits.db")

	tree, err := Open(Config{Path: path})
	require.NoError(t, err)
	for i := 1; i <= 600; i++ {
		require.NoError(t, tree.Put(padKey(i), padVal(i)))
	}
	require.NoError(t, tree.Close())

	tree, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer tree.Close()

	for i := 1; i <= 600; i++ {
		v, ok, err := tree.Get(padKey(i))
		require.NoError(t, err)
		require.True(t, ok, "key %d missing after reopen", i)
		assert.Equal(t, padVal(i), v)
	}
}

// walkLeaves descends to the leftmost leaf and follows the sibling
// chain, returning every key in encounter order.
func walkLeaves(t *testing.T, tree *BPlusTree) [][]byte {
	t.Helper()

	id := tree.RootID()
	for {
		p, err := tree.Pager().Get(id)
		require.NoError(t, err)
		if p.IsLeaf() {
			break
		}
		id = p.LowerBoundChild()
	}

	var keys [][]byte
	for id != 0 {
		p, err := tree.Pager().Get(id)
		require.NoError(t, err)
		for i := 0; i < p.NumSlots(); i++ {
			keys = append(keys, append([]byte(nil), p.KeyAt(i)...))
		}
		id = p.NextSibling()
	}
	return keys
}

func (s *TreeTestSuite) TestSiblingChainAfterSplits() {
	t := s.T()
	tree := s.open("chain.db")
	defer tree.Close()

	const count = 700 // enough for several leaf splits
	for i := 1; i <= count; i++ {
		require.NoError(t, tree.Put(padKey(i), padVal(i)))
	}

	keys := walkLeaves(t, tree)
	require.Len(t, keys, count)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, string(keys[i-1]), string(keys[i]),
			"sibling chain out of order at %d", i)
	}
}

func (s *TreeTestSuite) TestSlotDirectoryNeverOverlapsHeap() {
	t := s.T()
	tree := s.open("overlap.db")
	defer tree.Close()

	for i := 1; i <= 500; i++ {
		require.NoError(t, tree.Put(padKey(i), padVal(i)))
	}
	for i := 1; i <= 500; i += 3 {
		_, err := tree.Remove(padKey(i))
		require.NoError(t, err)
	}

	id := tree.RootID()
	for {
		p, err := tree.Pager().Get(id)
		require.NoError(t, err)
		if p.IsLeaf() {
			break
		}
		id = p.LowerBoundChild()
	}
	for id != 0 {
		p, err := tree.Pager().Get(id)
		require.NoError(t, err)
		low := page.HeaderSize + p.NumSlots()*page.SlotSize
		assert.LessOrEqual(t, low, p.FreeSpaceOffset())
		assert.LessOrEqual(t, p.FreeSpaceOffset(), page.PageSize)
		id = p.NextSibling()
	}
}

func (s *TreeTestSuite) TestInternalNodeSplits() {
	t := s.T()
	tree := s.open("deep.db")
	defer tree.Close()

	// Fat values force frequent leaf splits, which in turn fill and
	// split the internal level above them.
	fat := make([]byte, 250)
	for i := range fat {
		fat[i] = 'x'
	}

	const count = 3000
	for i := 0; i < count; i++ {
		require.NoError(t, tree.Put(padKey(i), fat))
	}

	// The root must have grown past a single internal level.
	root, err := tree.Pager().Get(tree.RootID())
	require.NoError(t, err)
	require.False(t, root.IsLeaf())
	child, err := tree.Pager().Get(root.LowerBoundChild())
	require.NoError(t, err)
	assert.False(t, child.IsLeaf(), "expected a three-level tree")

	for i := 0; i < count; i++ {
		_, ok, err := tree.Get(padKey(i))
		require.NoError(t, err)
		require.True(t, ok, "key %d unreachable after internal splits", i)
	}

	keys := walkLeaves(t, tree)
	require.Len(t, keys, count)
	for i := 1; i < len(keys); i++ {
		require.Less(t, string(keys[i-1]), string(keys[i]))
	}
}

func (s *TreeTestSuite) TestEmptyTree() {
	t := s.T()
	tree := s.open("empty.db")
	defer tree.Close()

	_, ok, err := tree.Get([]byte("anything"))
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := tree.Remove([]byte("anything"))
	require.NoError(t, err)
	assert.False(t, removed)

	pairs, err := tree.RangeScan([]byte("a"), []byte("z"))
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func (s *TreeTestSuite) TestRangeScanBounds() {
	t := s.T()
	tree := s.open("bounds.db")
	defer tree.Close()

	for i := 1; i <= 20; i++ {
		require.NoError(t, tree.Put(padKey(i), padVal(i)))
	}

	// low > high is empty.
	pairs, err := tree.RangeScan([]byte("key0010"), []byte("key0005"))
	require.NoError(t, err)
	assert.Empty(t, pairs)

	// A low bound before every key returns everything up to high.
	pairs, err = tree.RangeScan([]byte("a"), []byte("key0005"))
	require.NoError(t, err)
	require.Len(t, pairs, 5)
	assert.Equal(t, padKey(1), pairs[0].Key)

	// Bounds are inclusive on both ends.
	pairs, err = tree.RangeScan([]byte("key0005"), []byte("key0007"))
	require.NoError(t, err)
	require.Len(t, pairs, 3)
	assert.Equal(t, padKey(5), pairs[0].Key)
	assert.Equal(t, padKey(7), pairs[2].Key)
}

func (s *TreeTestSuite) TestKeyTooLarge() {
	t := s.T()
	tree := s.open("bigkey.db")
	defer tree.Close()

	err := tree.Put([]byte("sixteen-byte-key"), []byte("v"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyTooLarge)

	// Fifteen bytes is the limit and works.
	require.NoError(t, tree.Put([]byte("fifteen-b-key15"), []byte("v")))
}

func (s *TreeTestSuite) TestOversizedValueDropped() {
	t := s.T()
	tree := s.open("bigval.db")
	defer tree.Close()

	big := make([]byte, 300)
	require.NoError(t, tree.Put([]byte("big"), big))

	_, ok, err := tree.Get([]byte("big"))
	require.NoError(t, err)
	assert.False(t, ok, "oversized record should have been dropped")
}

func (s *TreeTestSuite) TestRemoveThenReinsert() {
	t := s.T()
	tree := s.open("reinsert.db")
	defer tree.Close()

	require.NoError(t, tree.Put([]byte("k"), []byte("v1")))
	ok, err := tree.Remove([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)

	_, found, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, tree.Put([]byte("k"), []byte("v2")))
	v, found, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), v)
}

func (s *TreeTestSuite) TestInterleavedPutRemove() {
	t := s.T()
	tree := s.open("interleave.db")
	defer tree.Close()

	live := map[string]string{}
	for i := 0; i < 400; i++ {
		k := fmt.Sprintf("key%04d", i%97)
		if i%5 == 4 {
			_, err := tree.Remove([]byte(k))
			require.NoError(t, err)
			delete(live, k)
		} else {
			v := fmt.Sprintf("val%d", i)
			require.NoError(t, tree.Put([]byte(k), []byte(v)))
			live[k] = v
		}
	}

	for k, want := range live {
		v, ok, err := tree.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, ok, "key %s missing", k)
		assert.Equal(t, []byte(want), v)
	}
	for i := 0; i < 97; i++ {
		k := fmt.Sprintf("key%04d", i)
		if _, kept := live[k]; !kept {
			_, ok, err := tree.Get([]byte(k))
			require.NoError(t, err)
			assert.False(t, ok, "key %s should be absent", k)
		}
	}
}

func TestTreeTestSuite(t *testing.T) {
	suite.Run(t, new(TreeTestSuite))
}
