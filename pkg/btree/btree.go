package btree

import (
	"ledgerkv/pkg/buffer"
	"ledgerkv/pkg/dberrors"
	"ledgerkv/pkg/page"
	"ledgerkv/pkg/store"
)

// MaxWalkRight bounds the index-hole-tolerant right-sibling walk
// performed when a search lands on a page whose key range has shifted
// out from under a stale parent pointer.
const MaxWalkRight = 1000

// Tree is a single named B+-tree rooted in a VolumeStructure's
// directory.
type Tree struct {
	store *store.Structure
	name  string

	holeReporter func(page.Addr)
}

// SetHoleReporter installs a callback invoked whenever Get must walk
// right siblings to reach a leaf its parent's pointer no longer names
// directly. The callback is the hook the engine uses to enqueue an
// IndexHoleAction so the hole gets proactively repaired instead of
// costing every future reader the same walk.
func (t *Tree) SetHoleReporter(f func(page.Addr)) { t.holeReporter = f }

func (t *Tree) reportHole(addr page.Addr) {
	if t.holeReporter != nil {
		t.holeReporter(addr)
	}
}

func Open(s *store.Structure, name string) (*Tree, error) {
	if _, ok := s.Lookup(name); !ok {
		if _, err := s.CreateTree(name); err != nil {
			return nil, err
		}
	}
	return &Tree{store: s, name: name}, nil
}

func (t *Tree) rootAddr() (page.Addr, error) {
	addr, ok := t.store.Lookup(t.name)
	if !ok {
		return 0, dberrors.Corruption(0, "tree %q has no root", t.name)
	}
	return addr, nil
}

func (t *Tree) pageSize() int { return t.store.Vol.PageSize }

// Get performs an index-hole tolerant point lookup: descend by
// separator keys, then, on the leaf, walk right siblings (bounded by
// MaxWalkRight) if the expected key range has shifted past what a
// concurrently-updated parent pointer still says.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	root, err := t.rootAddr()
	if err != nil {
		return nil, false, err
	}
	addr, err := t.descendToLeaf(root, key)
	if err != nil {
		return nil, false, err
	}
	for hops := 0; hops < MaxWalkRight; hops++ {
		buf, err := t.store.Pool.Get(t.store.VolumeID, addr, false)
		if err != nil {
			return nil, false, err
		}
		p := buf.Page()
		entries := readLeafEntries(p)
		idx, found := searchLeaf(entries, key)
		right := p.RightSibling()
		t.store.Pool.Release(buf, false, false)
		if found {
			if hops > 0 {
				t.reportHole(addr)
			}
			raw, err := unwrapValue(t.store, entries[idx].value)
			return raw, true, err
		}
		// If the page is non-empty and key is still within range
		// (idx < len(entries)), it is a genuine miss, not a hole.
		if idx < len(entries) || right == 0 {
			if hops > 0 {
				t.reportHole(addr)
			}
			return nil, false, nil
		}
		addr = right
	}
	return nil, false, dberrors.Corruption(0, "right-sibling walk exceeded %d hops for key", MaxWalkRight)
}

func (t *Tree) descendToLeaf(addr page.Addr, key []byte) (page.Addr, error) {
	for {
		buf, err := t.store.Pool.Get(t.store.VolumeID, addr, false)
		if err != nil {
			return 0, err
		}
		p := buf.Page()
		if p.Type() == page.TypeData {
			t.store.Pool.Release(buf, false, false)
			return addr, nil
		}
		entries := readIndexEntries(p)
		i := searchIndex(entries, key)
		var next page.Addr
		if i < 0 {
			if len(entries) == 0 {
				t.store.Pool.Release(buf, false, false)
				return addr, nil
			}
			next = entries[0].child
		} else {
			next = entries[i].child
		}
		t.store.Pool.Release(buf, false, false)
		addr = next
	}
}

// CollectPages walks the tree depth-first from its root and returns
// every page address it owns: every index page, every leaf page, and
// every long-record chain page spilled from a leaf value. Used by
// DropTree to reclaim a tree's full footprint instead of only removing
// its directory entry.
func (t *Tree) CollectPages() ([]page.Addr, error) {
	root, err := t.rootAddr()
	if err != nil {
		return nil, err
	}
	var out []page.Addr
	if err := t.collectPages(root, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tree) collectPages(addr page.Addr, out *[]page.Addr) error {
	buf, err := t.store.Pool.Get(t.store.VolumeID, addr, false)
	if err != nil {
		return err
	}
	p := buf.Page()
	*out = append(*out, addr)

	if p.Type() == page.TypeIndex {
		entries := readIndexEntries(p)
		t.store.Pool.Release(buf, false, false)
		for _, e := range entries {
			if err := t.collectPages(e.child, out); err != nil {
				return err
			}
		}
		return nil
	}

	entries := readLeafEntries(p)
	t.store.Pool.Release(buf, false, false)
	for _, e := range entries {
		if len(e.value) == 0 || e.value[0] != markerStub {
			continue
		}
		stub := page.DecodeLongRecordStub(e.value[1:])
		chain, err := freeLongRecordChain(t.store, stub)
		if err != nil {
			return err
		}
		*out = append(*out, chain...)
	}
	return nil
}

// RepairIndexHole implements the background half of index-hole
// tolerance (IndexHoleAction): given the address of a leaf that a
// reader only reached by walking right siblings, re-descend from the
// root using the leaf's first key and, if the index page directly
// above leaf level still lacks a separator routing straight to it,
// splice one in.
func (t *Tree) RepairIndexHole(leafAddr page.Addr) error {
	root, err := t.rootAddr()
	if err != nil {
		return err
	}
	leafBuf, err := t.store.Pool.Get(t.store.VolumeID, leafAddr, false)
	if err != nil {
		return err
	}
	leafEntries := readLeafEntries(leafBuf.Page())
	t.store.Pool.Release(leafBuf, false, false)
	if len(leafEntries) == 0 {
		return nil // an empty leaf gives no key to splice a separator on
	}
	return t.repairAt(root, leafEntries[0].key, leafAddr)
}

// repairAt descends by separator key until it reaches the index page
// immediately above leaf level, then inserts the missing (key, child)
// separator there if the page doesn't already route to child. A split
// triggered by the insert is not propagated further up: the resulting
// hole one level higher is left for a later repair pass, the same way
// the original hole was tolerated until now.
func (t *Tree) repairAt(addr page.Addr, key []byte, child page.Addr) error {
	buf, err := t.store.Pool.Get(t.store.VolumeID, addr, true)
	if err != nil {
		return err
	}
	p := buf.Page()
	if p.Type() == page.TypeData {
		t.store.Pool.Release(buf, true, false) // single-page tree: no parent to repair
		return nil
	}
	entries := readIndexEntries(p)
	if len(entries) == 0 {
		t.store.Pool.Release(buf, true, false)
		return dberrors.Corruption(0, "empty index page at %d", addr)
	}
	i := searchIndex(entries, key)
	childIdx := i
	if i < 0 {
		childIdx = 0
	}
	if p.Level() > 1 {
		next := entries[childIdx].child
		t.store.Pool.Release(buf, true, false)
		return t.repairAt(next, key, child)
	}
	if entries[childIdx].child == child {
		t.store.Pool.Release(buf, true, false) // already repaired by someone else
		return nil
	}
	insertAt := childIdx + 1
	newEntries := append([]indexEntry{}, entries[:insertAt]...)
	newEntries = append(newEntries, indexEntry{key: append([]byte(nil), key...), child: child})
	newEntries = append(newEntries, entries[insertAt:]...)
	_, _, _, err = t.rewriteIndex(buf, p.Level(), newEntries)
	return err
}

// Put inserts or updates key, spilling large values to a long-record
// chain and splitting pages (propagating upward, growing the tree by
// one level at the root if needed).
func (t *Tree) Put(key, value []byte) error {
	wrapped, err := wrapValue(t.store, t.pageSize(), value)
	if err != nil {
		return err
	}
	root, err := t.rootAddr()
	if err != nil {
		return err
	}
	promotedKey, newRight, split, err := t.insert(root, key, wrapped)
	if err != nil {
		return err
	}
	if !split {
		return nil
	}
	// Root split: allocate a new index root with two children.
	newRootAddr, buf, err := t.store.AllocPage()
	if err != nil {
		return err
	}
	curRootLevel, err := t.levelOf(root)
	if err != nil {
		return err
	}
	entries := []indexEntry{{key: nil, child: root}, {key: promotedKey, child: newRight}}
	if err := writeIndex(buf.Page(), curRootLevel+1, 0, entries); err != nil {
		t.store.Pool.Release(buf, true, false)
		return err
	}
	t.store.Pool.Release(buf, true, true)
	t.store.SetRoot(t.name, newRootAddr)
	return nil
}

func (t *Tree) levelOf(addr page.Addr) (uint8, error) {
	buf, err := t.store.Pool.Get(t.store.VolumeID, addr, false)
	if err != nil {
		return 0, err
	}
	lvl := buf.Page().Level()
	t.store.Pool.Release(buf, false, false)
	return lvl, nil
}

// insert recursively descends to the right leaf, then propagates any
// split back up. Returns (promotedKey, newRightAddr, split, err).
func (t *Tree) insert(addr page.Addr, key, wrappedValue []byte) ([]byte, page.Addr, bool, error) {
	buf, err := t.store.Pool.Get(t.store.VolumeID, addr, true)
	if err != nil {
		return nil, 0, false, err
	}
	p := buf.Page()

	if p.Type() == page.TypeData {
		entries := readLeafEntries(p)
		idx, found := searchLeaf(entries, key)
		if found {
			old := entries[idx].value
			entries[idx].value = wrappedValue
			if err := t.freeIfStub(old); err != nil {
				t.store.Pool.Release(buf, true, false)
				return nil, 0, false, err
			}
		} else {
			entries = append(entries, leafEntry{})
			copy(entries[idx+1:], entries[idx:])
			entries[idx] = leafEntry{key: append([]byte(nil), key...), value: wrappedValue}
		}
		return t.rewriteLeaf(buf, entries)
	}

	entries := readIndexEntries(p)
	i := searchIndex(entries, key)
	childIdx := i
	if i < 0 {
		childIdx = 0
	}
	if len(entries) == 0 {
		t.store.Pool.Release(buf, true, false)
		return nil, 0, false, dberrors.Corruption(0, "empty index page at %d", addr)
	}
	child := entries[childIdx].child
	level := p.Level()
	t.store.Pool.Release(buf, true, false)

	promoted, newRight, split, err := t.insert(child, key, wrappedValue)
	if err != nil {
		return nil, 0, false, err
	}
	if !split {
		return nil, 0, false, nil
	}

	buf, err = t.store.Pool.Get(t.store.VolumeID, addr, true)
	if err != nil {
		return nil, 0, false, err
	}
	entries = readIndexEntries(buf.Page())
	insertAt := childIdx + 1
	newEntries := append([]indexEntry{}, entries[:insertAt]...)
	newEntries = append(newEntries, indexEntry{key: promoted, child: newRight})
	newEntries = append(newEntries, entries[insertAt:]...)
	return t.rewriteIndex(buf, level, newEntries)
}

func (t *Tree) rewriteLeaf(buf *buffer.Buffer, entries []leafEntry) ([]byte, page.Addr, bool, error) {
	p := buf.Page()
	right := p.RightSibling()
	used := page.HeaderSize + 2
	for _, e := range entries {
		used += leafEntrySize(e)
	}
	if used <= t.pageSize() {
		if err := writeLeaf(p, right, entries); err != nil {
			t.store.Pool.Release(buf, true, false)
			return nil, 0, false, err
		}
		t.store.Pool.Release(buf, true, true)
		return nil, 0, false, nil
	}

	left, rightEntries := splitLeaf(entries, t.pageSize())
	newAddr, newBuf, err := t.store.AllocPage()
	if err != nil {
		t.store.Pool.Release(buf, true, false)
		return nil, 0, false, err
	}
	if err := writeLeaf(newBuf.Page(), right, rightEntries); err != nil {
		t.store.Pool.Release(buf, true, false)
		t.store.Pool.Release(newBuf, true, false)
		return nil, 0, false, err
	}
	t.store.Pool.Release(newBuf, true, true)
	if err := writeLeaf(p, newAddr, left); err != nil {
		t.store.Pool.Release(buf, true, false)
		return nil, 0, false, err
	}
	t.store.Pool.Release(buf, true, true)
	return rightEntries[0].key, newAddr, true, nil
}

func (t *Tree) rewriteIndex(buf *buffer.Buffer, level uint8, entries []indexEntry) ([]byte, page.Addr, bool, error) {
	p := buf.Page()
	right := p.RightSibling()
	used := page.HeaderSize + 2
	for _, e := range entries {
		used += indexEntrySize(e)
	}
	if used <= t.pageSize() {
		if err := writeIndex(p, level, right, entries); err != nil {
			t.store.Pool.Release(buf, true, false)
			return nil, 0, false, err
		}
		t.store.Pool.Release(buf, true, true)
		return nil, 0, false, nil
	}

	left, rightEntries := splitIndex(entries, t.pageSize())
	promoted := rightEntries[0].key
	rightEntries[0] = indexEntry{key: nil, child: rightEntries[0].child}

	newAddr, newBuf, err := t.store.AllocPage()
	if err != nil {
		t.store.Pool.Release(buf, true, false)
		return nil, 0, false, err
	}
	if err := writeIndex(newBuf.Page(), level, right, rightEntries); err != nil {
		t.store.Pool.Release(buf, true, false)
		t.store.Pool.Release(newBuf, true, false)
		return nil, 0, false, err
	}
	t.store.Pool.Release(newBuf, true, true)
	if err := writeIndex(p, level, newAddr, left); err != nil {
		t.store.Pool.Release(buf, true, false)
		return nil, 0, false, err
	}
	t.store.Pool.Release(buf, true, true)
	return promoted, newAddr, true, nil
}

func (t *Tree) freeIfStub(slot []byte) error {
	if len(slot) == 0 || slot[0] != markerStub {
		return nil
	}
	stub := page.DecodeLongRecordStub(slot[1:])
	addrs, err := freeLongRecordChain(t.store, stub)
	if err != nil {
		return err
	}
	return t.store.FreeChain(addrs)
}

// Delete removes key if present. Underflowing pages are never merged
// with a sibling: the background cleanup pass only prunes obsolete
// MVV versions within a leaf (see pkg/cleanup and pkg/btree/prune.go),
// not page occupancy, so a page that drops below capacity simply
// stays sparse until enough further deletes empty it out entirely.
func (t *Tree) Delete(key []byte) (bool, error) {
	root, err := t.rootAddr()
	if err != nil {
		return false, err
	}
	return t.deleteFrom(root, key)
}

func (t *Tree) deleteFrom(addr page.Addr, key []byte) (bool, error) {
	buf, err := t.store.Pool.Get(t.store.VolumeID, addr, true)
	if err != nil {
		return false, err
	}
	p := buf.Page()

	if p.Type() == page.TypeData {
		entries := readLeafEntries(p)
		idx, found := searchLeaf(entries, key)
		if !found {
			t.store.Pool.Release(buf, true, false)
			return false, nil
		}
		if err := t.freeIfStub(entries[idx].value); err != nil {
			t.store.Pool.Release(buf, true, false)
			return false, err
		}
		entries = append(entries[:idx], entries[idx+1:]...)
		if err := writeLeaf(p, p.RightSibling(), entries); err != nil {
			t.store.Pool.Release(buf, true, false)
			return false, err
		}
		t.store.Pool.Release(buf, true, true)
		return true, nil
	}

	entries := readIndexEntries(p)
	i := searchIndex(entries, key)
	if i < 0 {
		i = 0
	}
	if len(entries) == 0 {
		t.store.Pool.Release(buf, true, false)
		return false, nil
	}
	child := entries[i].child
	t.store.Pool.Release(buf, true, false)
	return t.deleteFrom(child, key)
}
