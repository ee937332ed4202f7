package txnindex

import (
	"sort"
	"time"
)

// refreshCache recomputes the ActiveTransactionCache: a snapshot
// timestamp t is taken, then every bucket is walked (under its own
// lock) collecting the ts of every non-notified transaction with
// ts <= t. The result is conservative — it may include a transaction
// that finished mid-scan — which only delays pruning, never corrupts
// it.
func (idx *Index) refreshCache() {
	t := idx.Allocator.Allocate() // cheap monotonic snapshot marker
	var active []uint64
	for _, b := range idx.buckets {
		b.mu.Lock()
		for _, s := range b.current {
			if s.TS <= t && !s.notifiedUnsafe() {
				active = append(active, s.TS)
			}
		}
		for _, s := range b.longRunning {
			if s.TS <= t && !s.notifiedUnsafe() {
				active = append(active, s.TS)
			}
		}
		b.mu.Unlock()
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	idx.cache.Store(&active)
}

func (s *Status) notifiedUnsafe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notified
}

// HasConcurrentTransaction reports whether some transaction with
// ts in (ts1, ts2) (exclusive) is, or recently was, active — used by
// MVV pruning to decide whether a committed version might still be
// read by a concurrent snapshot.
func (idx *Index) HasConcurrentTransaction(ts1, ts2 uint64) bool {
	cache := *idx.cache.Load()
	lo := sort.Search(len(cache), func(i int) bool { return cache[i] > ts1 })
	if lo < len(cache) && cache[lo] < ts2 {
		return true
	}
	return false
}

// RunCacheRefresher starts the background poller at the given cadence
// (10ms by default) until Stop is called.
func (idx *Index) RunCacheRefresher(interval time.Duration) {
	if interval <= 0 {
		interval = cacheRefreshEach
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-idx.stopping:
				return
			case <-ticker.C:
				idx.refreshCache()
			}
		}
	}()
}

func (idx *Index) Stop() {
	idx.stopOnce.Do(func() { close(idx.stopping) })
}
