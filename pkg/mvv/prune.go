package mvv

import "ledgerkv/pkg/txnindex"

// PrunedVersion describes a version removed by Prune, for the caller
// to decrement the owning transaction's MVVCount and free any
// long-record chain the version's bytes pointed to.
type PrunedVersion struct {
	TS            uint64
	VersionHandle uint64
	Data          []byte
}

// Prune implements a three-pass pruning algorithm.
// liveTxnTS identifies the transaction doing the pruning (its
// own uncommitted versions are always kept); pass 0 if pruning is
// running as a background sweep with no live writer.
func Prune(existing []byte, idx *txnindex.Index, liveTxnTS uint64, convertToPrimordial bool) (newBytes []byte, pruned []PrunedVersion) {
	if !IsMVV(existing) {
		return existing, nil
	}
	entries := parseEntries(existing)
	if len(entries) == 0 {
		return []byte{TagAntiValue}, nil
	}

	type classified struct {
		e    entry
		ts   uint64
		tc   uint64
		keep bool
	}
	cls := make([]classified, len(entries))
	for i, e := range entries {
		ts, _ := txnindex.SplitVersionHandle(e.vh)
		cls[i] = classified{e: e, ts: ts, tc: idx.LookupTC(ts)}
	}

	// Pass 1: mark to keep.
	lastCommittedIdx := -1
	for i := len(cls) - 1; i >= 0; i-- {
		if cls[i].tc != txnindex.Running && cls[i].tc != txnindex.Aborted {
			lastCommittedIdx = i
			break
		}
	}
	for i := range cls {
		switch {
		case cls[i].ts == liveTxnTS && cls[i].tc == txnindex.Running:
			cls[i].keep = true
		case i == lastCommittedIdx:
			cls[i].keep = true
		case cls[i].tc != txnindex.Running && cls[i].tc != txnindex.Aborted:
			// A committed-but-superseded version: keep only if some
			// concurrent transaction might still need the pre-image.
			nextCommittedTC := uint64(0)
			for j := i + 1; j < len(cls); j++ {
				if cls[j].tc != txnindex.Running && cls[j].tc != txnindex.Aborted {
					nextCommittedTC = cls[j].tc
					break
				}
			}
			if nextCommittedTC != 0 && idx.HasConcurrentTransaction(cls[i].tc, nextCommittedTC) {
				cls[i].keep = true
			}
		default:
			cls[i].keep = false
		}
	}

	// Pass 2: collect pruned.
	var kept []entry
	for _, c := range cls {
		if c.keep {
			kept = append(kept, c.e)
		} else {
			pruned = append(pruned, PrunedVersion{TS: c.ts, VersionHandle: c.e.vh, Data: c.e.data})
		}
	}

	// Pass 3: compact.
	if len(kept) == 0 {
		return []byte{TagAntiValue}, pruned
	}
	if len(kept) == 1 && convertToPrimordial {
		onlyTS, _ := txnindex.SplitVersionHandle(kept[0].vh)
		if !idx.HasConcurrentTransaction(0, onlyTS+1) || onlyTS == 0 {
			return kept[0].data, pruned
		}
	}
	return encodeEntries(kept), pruned
}
