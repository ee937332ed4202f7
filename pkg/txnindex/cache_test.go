package txnindex

import (
	"testing"
	"time"
)

func TestHasConcurrentTransactionBeforeAnyRefreshIsFalse(t *testing.T) {
	idx := New(1000, 1000)
	idx.RegisterTransaction()
	if idx.HasConcurrentTransaction(0, 1<<20) {
		t.Errorf("expected no concurrent transaction to be reported before the cache has ever been refreshed")
	}
}

func TestHasConcurrentTransactionAfterRefresh(t *testing.T) {
	idx := New(1000, 1000)
	s := idx.RegisterTransaction()
	idx.refreshCache()

	if !idx.HasConcurrentTransaction(0, s.TS+1) {
		t.Errorf("expected the running transaction's ts to be found within its span")
	}
	if idx.HasConcurrentTransaction(s.TS, s.TS) {
		t.Errorf("an empty (ts1, ts2) span with ts1==ts2 should never report a hit")
	}
}

func TestHasConcurrentTransactionExcludesNotifiedTransactions(t *testing.T) {
	idx := New(1000, 1000)
	s := idx.RegisterTransaction()
	idx.NotifyCompleted(s, idx.Allocator.Allocate())
	idx.refreshCache()

	if idx.HasConcurrentTransaction(0, s.TS+1) {
		t.Errorf("a completed transaction should not be reported as concurrently active")
	}
}

func TestRunCacheRefresherUpdatesCachePeriodically(t *testing.T) {
	idx := New(1000, 1000)
	idx.RunCacheRefresher(5 * time.Millisecond)
	defer idx.Stop()

	s := idx.RegisterTransaction()
	time.Sleep(40 * time.Millisecond)

	if !idx.HasConcurrentTransaction(0, s.TS+1) {
		t.Errorf("expected the background refresher to have picked up the running transaction")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	idx := New(1000, 1000)
	idx.RunCacheRefresher(5 * time.Millisecond)
	idx.Stop()
	idx.Stop() // must not panic on a second call
}
