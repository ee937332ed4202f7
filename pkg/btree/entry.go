// Package btree implements a B+-tree: search, insert with page splits,
// delete (underfull pages are never merged), long-record value spill,
// and index-hole tolerant point lookup bounded by a right-sibling walk
// limit.
package btree

import (
	"bytes"

	"ledgerkv/pkg/page"
)

// leafEntry and indexEntry are the in-memory, fully-materialized form
// of a page's contents, used while rebuilding a page (or splitting it
// into two) so the grow-down/grow-up on-disk layout never has to be
// mutated incrementally in place.
type leafEntry struct {
	key   []byte
	value []byte // already wrapped: 1 marker byte + body, see longrecord.go
}

type indexEntry struct {
	key   []byte
	child page.Addr
}

func readLeafEntries(p page.Page) []leafEntry {
	n := p.NKeys()
	out := make([]leafEntry, n)
	for i := 0; i < n; i++ {
		out[i] = leafEntry{key: p.FullKeyAt(i), value: append([]byte(nil), p.ValueAt(i)...)}
	}
	return out
}

func readIndexEntries(p page.Page) []indexEntry {
	n := p.NKeys()
	out := make([]indexEntry, n)
	for i := 0; i < n; i++ {
		out[i] = indexEntry{key: p.FullKeyAt(i), child: p.PtrAt(i)}
	}
	return out
}

// searchLeaf returns the index of key if present, and whether found.
// Otherwise it returns the insertion point (first entry > key).
func searchLeaf(entries []leafEntry, key []byte) (idx int, found bool) {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		switch bytes.Compare(entries[mid].key, key) {
		case 0:
			return mid, true
		case -1:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// searchIndex returns the largest i such that entries[i].key <= key, or
// -1 if key is smaller than every separator (meaning descend into
// entries[0].child, which always holds a key <= every key in the
// subtree via a synthetic low sentinel).
func searchIndex(entries []indexEntry, key []byte) int {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if bytes.Compare(entries[mid-1].key, key) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo - 1
}

func leafEntrySize(e leafEntry) int { return page.EntrySize(len(e.key), len(e.value)) }
func indexEntrySize(e indexEntry) int { return page.IndexEntrySize(len(e.key)) }

// splitLeaf partitions entries into a left half that fits pageSize and
// a right half, growing the left boundary outward if the naive
// midpoint doesn't fit either side.
func splitLeaf(entries []leafEntry, pageSize int) (left, right []leafEntry) {
	n := len(entries) / 2
	if n < 1 {
		n = 1
	}
	fits := func(es []leafEntry) bool {
		used := page.HeaderSize + 2
		for _, e := range es {
			used += leafEntrySize(e)
		}
		return used <= pageSize
	}
	for n < len(entries) && !fits(entries[:n]) {
		n--
	}
	for n < len(entries)-1 && fits(entries[:n+1]) {
		n++
	}
	if n < 1 {
		n = 1
	}
	if n > len(entries)-1 {
		n = len(entries) - 1
	}
	return entries[:n], entries[n:]
}

func splitIndex(entries []indexEntry, pageSize int) (left, right []indexEntry) {
	n := len(entries) / 2
	if n < 1 {
		n = 1
	}
	fits := func(es []indexEntry) bool {
		used := page.HeaderSize + 2
		for _, e := range es {
			used += indexEntrySize(e)
		}
		return used <= pageSize
	}
	for n < len(entries) && !fits(entries[:n]) {
		n--
	}
	for n < len(entries)-1 && fits(entries[:n+1]) {
		n++
	}
	if n < 1 {
		n = 1
	}
	if n > len(entries)-1 {
		n = len(entries) - 1
	}
	return entries[:n], entries[n:]
}

func writeLeaf(p page.Page, right page.Addr, entries []leafEntry) error {
	b := page.NewBuilder(p, page.TypeData, 0)
	for _, e := range entries {
		if err := b.AppendData(e.key, e.value); err != nil {
			return err
		}
	}
	p.SetRightSibling(right)
	return nil
}

func writeIndex(p page.Page, level uint8, right page.Addr, entries []indexEntry) error {
	b := page.NewBuilder(p, page.TypeIndex, level)
	for _, e := range entries {
		if err := b.AppendIndex(e.key, e.child); err != nil {
			return err
		}
	}
	p.SetRightSibling(right)
	return nil
}
