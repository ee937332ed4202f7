package btree

import "ledgerkv/pkg/page"

// Cursor supports forward-only traversal in ascending key order with an
// optional exclusive upper bound, following right-sibling links from
// leaf to leaf. It has no key filter, and its sibling walk is not
// bounded by MaxWalkRight.
type Cursor struct {
	t        *Tree
	addr     page.Addr
	idx      int
	entries  []leafEntry
	done     bool
	keyUpper []byte // exclusive upper bound, nil = unbounded
}

// Seek positions a cursor at the first key >= from (or the start of
// the tree if from is nil), bounded above by upper (exclusive, nil for
// unbounded).
func (t *Tree) Seek(from, upper []byte) (*Cursor, error) {
	root, err := t.rootAddr()
	if err != nil {
		return nil, err
	}
	addr, err := t.descendToLeaf(root, from)
	if err != nil {
		return nil, err
	}
	c := &Cursor{t: t, addr: addr, keyUpper: upper}
	if err := c.loadPage(from); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cursor) loadPage(from []byte) error {
	buf, err := c.t.store.Pool.Get(c.t.store.VolumeID, c.addr, false)
	if err != nil {
		return err
	}
	p := buf.Page()
	c.entries = readLeafEntries(p)
	c.t.store.Pool.Release(buf, false, false)
	if from == nil {
		c.idx = 0
	} else {
		idx, _ := searchLeaf(c.entries, from)
		c.idx = idx
	}
	return nil
}

// Next returns the next (key, value) pair, or done=true at the end of
// the bounded range.
func (c *Cursor) Next() (key, value []byte, done bool, err error) {
	for {
		if c.done {
			return nil, nil, true, nil
		}
		if c.idx < len(c.entries) {
			e := c.entries[c.idx]
			if c.keyUpper != nil && compareBytes(e.key, c.keyUpper) >= 0 {
				c.done = true
				return nil, nil, true, nil
			}
			c.idx++
			raw, err := unwrapValue(c.t.store, e.value)
			return append([]byte(nil), e.key...), raw, false, err
		}
		// Advance to right sibling.
		buf, err := c.t.store.Pool.Get(c.t.store.VolumeID, c.addr, false)
		if err != nil {
			return nil, nil, false, err
		}
		next := buf.Page().RightSibling()
		c.t.store.Pool.Release(buf, false, false)
		if next == 0 {
			c.done = true
			return nil, nil, true, nil
		}
		c.addr = next
		if err := c.loadPage(nil); err != nil {
			return nil, nil, false, err
		}
	}
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}
