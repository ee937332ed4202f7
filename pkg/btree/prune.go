package btree

import (
	"ledgerkv/pkg/mvv"
	"ledgerkv/pkg/page"
	"ledgerkv/pkg/store"
	"ledgerkv/pkg/txnindex"
)

// PruneLeafPage runs mvv.Prune over every entry of the data page at
// addr, rewriting each value slot (re-spilling to or recovering from a
// long-record chain as the pruned size dictates) and decrementing the
// owning aborted transactions' MVVCount for every version dropped.
// It is the unit of work the cleanup package's PruneAction drives.
func PruneLeafPage(s *store.Structure, addr page.Addr, idx *txnindex.Index, liveTxnTS uint64) error {
	buf, err := s.Pool.Get(s.VolumeID, addr, true)
	if err != nil {
		return err
	}
	p := buf.Page()
	if p.Type() != page.TypeData {
		s.Pool.Release(buf, true, false)
		return nil
	}
	entries := readLeafEntries(p)
	right := p.RightSibling()
	changed := false

	for i := range entries {
		raw, err := unwrapValue(s, entries[i].value)
		if err != nil {
			s.Pool.Release(buf, true, false)
			return err
		}
		newRaw, pruned, err := pruneAndRewrap(s, raw, idx, liveTxnTS)
		if err != nil {
			s.Pool.Release(buf, true, false)
			return err
		}
		if len(pruned) == 0 {
			continue
		}
		changed = true
		if err := freeIfStubBytes(s, entries[i].value); err != nil {
			s.Pool.Release(buf, true, false)
			return err
		}
		wrapped, err := wrapValue(s, p.Size(), newRaw)
		if err != nil {
			s.Pool.Release(buf, true, false)
			return err
		}
		entries[i].value = wrapped
		for _, pv := range pruned {
			decrementAbortedMVVCount(idx, pv.TS)
		}
	}

	if !changed {
		s.Pool.Release(buf, true, false)
		return nil
	}
	if err := writeLeaf(p, right, entries); err != nil {
		s.Pool.Release(buf, true, false)
		return err
	}
	s.Pool.Release(buf, true, true)
	return nil
}

func pruneAndRewrap(s *store.Structure, raw []byte, idx *txnindex.Index, liveTxnTS uint64) ([]byte, []mvv.PrunedVersion, error) {
	newBytes, pruned := mvv.Prune(raw, idx, liveTxnTS, true)
	return newBytes, pruned, nil
}

func freeIfStubBytes(s *store.Structure, slot []byte) error {
	if len(slot) == 0 || slot[0] != markerStub {
		return nil
	}
	stub := page.DecodeLongRecordStub(slot[1:])
	addrs, err := freeLongRecordChain(s, stub)
	if err != nil {
		return err
	}
	return s.FreeChain(addrs)
}

func decrementAbortedMVVCount(idx *txnindex.Index, ts uint64) {
	// Aborted transactions' Status.MVVCount is decremented so
	// RetireAborted can eventually drop them from the index; a
	// committed transaction's versions need no such bookkeeping.
	idx.DecrementMVVCount(ts)
}
