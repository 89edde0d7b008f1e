package appendkv

import (
	"bytes"

	art "github.com/plar/go-adaptive-radix-tree"

	"appendkv/logfile"
)

// IndexEntry is one key and the offset of its most recent record.
type IndexEntry struct {
	Key    []byte
	Offset int64
}

// keyIndex maps keys to the offset of their most recent record.
// The radix tree does not hold zero-length keys, those live in emptyKey.
type keyIndex struct {
	idxTree  art.Tree
	emptyKey *int64
}

func newKeyIndex() *keyIndex {
	return &keyIndex{idxTree: art.New()}
}

// rebuild folds a full scan into a fresh index, later records win.
func rebuildIndex(sc *logfile.Scanner) (*keyIndex, error) {
	idx := newKeyIndex()
	for sc.Next() {
		idx.insert(sc.Entry().Key, sc.Offset())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *keyIndex) lookup(key []byte) (int64, bool) {
	if len(key) == 0 {
		if idx.emptyKey == nil {
			return 0, false
		}
		return *idx.emptyKey, true
	}
	v, found := idx.idxTree.Search(art.Key(key))
	if !found {
		return 0, false
	}
	return v.(int64), true
}

func (idx *keyIndex) insert(key []byte, offset int64) {
	if len(key) == 0 {
		idx.emptyKey = &offset
		return
	}
	// the tree keeps the key slice, give it its own copy.
	idx.idxTree.Insert(art.Key(bytes.Clone(key)), offset)
}

func (idx *keyIndex) remove(key []byte) {
	if len(key) == 0 {
		idx.emptyKey = nil
		return
	}
	idx.idxTree.Delete(art.Key(key))
}

func (idx *keyIndex) size() int {
	n := idx.idxTree.Size()
	if idx.emptyKey != nil {
		n++
	}
	return n
}

// forEach visits entries in key order until fn returns false.
func (idx *keyIndex) forEach(fn func(key []byte, offset int64) bool) {
	if idx.emptyKey != nil && !fn([]byte{}, *idx.emptyKey) {
		return
	}
	idx.idxTree.ForEach(func(node art.Node) bool {
		return fn(node.Key(), node.Value().(int64))
	})
}

func (idx *keyIndex) entries() []IndexEntry {
	out := make([]IndexEntry, 0, idx.size())
	idx.forEach(func(key []byte, offset int64) bool {
		out = append(out, IndexEntry{Key: bytes.Clone(key), Offset: offset})
		return true
	})
	return out
}
