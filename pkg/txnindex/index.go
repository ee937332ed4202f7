package txnindex

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// TimestampAllocator hands out the monotonic ts/tc values that order
// every commit in the journal's single-writer stream.
type TimestampAllocator struct {
	next uint64
}

func (a *TimestampAllocator) Allocate() uint64 {
	return atomic.AddUint64(&a.next, 1)
}

const (
	bucketCount      = 64
	CycleLimit       = 10
	ShortTimeout     = 10 * time.Millisecond
	VeryLongTimeout  = 60 * time.Second
	cacheRefreshEach = 10 * time.Millisecond
)

type bucket struct {
	mu          sync.Mutex
	current     []*Status
	longRunning []*Status
	aborted     []*Status
	free        []*Status
	floor       uint64
}

// Index is the TransactionIndex: a fixed array of hash buckets, each
// its own critical section, plus one globally-serialized timestamp
// allocator and an active-transaction cache swapped in atomically.
type Index struct {
	Allocator TimestampAllocator
	buckets   [bucketCount]*bucket

	longRunningThreshold int
	maxFreeListSize      int

	cache atomic.Pointer[[]uint64]

	stopping chan struct{}
	stopOnce sync.Once
}

func New(longRunningThreshold, maxFreeListSize int) *Index {
	idx := &Index{
		longRunningThreshold: longRunningThreshold,
		maxFreeListSize:      maxFreeListSize,
		stopping:             make(chan struct{}),
	}
	for i := range idx.buckets {
		idx.buckets[i] = &bucket{}
	}
	empty := []uint64{}
	idx.cache.Store(&empty)
	return idx
}

func (idx *Index) bucketFor(ts uint64) *bucket {
	return idx.buckets[ts%bucketCount]
}

// RegisterTransaction allocates ts, hands the new Status a write claim
// on its own ww-lock, and publishes it into its bucket. Only the
// ts-allocation-to-bucket-visibility handoff needs to be atomic; the
// allocator itself is lock-free.
func (idx *Index) RegisterTransaction() *Status {
	ts := idx.Allocator.Allocate()
	s := newStatus(ts)
	b := idx.bucketFor(ts)
	b.mu.Lock()
	b.current = append(b.current, s)
	if b.floor == 0 || ts < b.floor {
		b.floor = ts
	}
	if len(b.current) > idx.longRunningThreshold && idx.longRunningThreshold > 0 {
		// Move the oldest entries to long_running so floor can advance.
		sort.Slice(b.current, func(i, j int) bool { return b.current[i].TS < b.current[j].TS })
		cut := len(b.current) / 2
		b.longRunning = append(b.longRunning, b.current[:cut]...)
		b.current = append([]*Status{}, b.current[cut:]...)
		b.floor = b.current[0].TS
	}
	b.mu.Unlock()
	return s
}

// NotifyCompleted sets tc, releases the ww-lock, and (for aborts with
// outstanding MVVs) moves the status to the bucket's aborted list so
// CleanupManager can retire its versions later.
func (idx *Index) NotifyCompleted(s *Status, tc uint64) {
	s.notifyCompleted(tc)
	b := idx.bucketFor(s.TS)
	b.mu.Lock()
	defer b.mu.Unlock()
	removeStatus(&b.current, s)
	removeStatus(&b.longRunning, s)
	if tc == Aborted {
		b.aborted = append(b.aborted, s)
	} else if len(b.free) < idx.maxFreeListSize {
		b.free = append(b.free, s)
	}
}

// DecrementMVVCount records that one of ts's MVV versions has been
// pruned away, retiring the status once none remain.
func (idx *Index) DecrementMVVCount(ts uint64) {
	b := idx.bucketFor(ts)
	b.mu.Lock()
	s := findStatusUnsafe(b, ts)
	b.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.MVVCount--
	done := s.MVVCount <= 0 && s.TC == Aborted
	s.mu.Unlock()
	if done {
		idx.RetireAborted(s)
	}
}

func findStatusUnsafe(b *bucket, ts uint64) *Status {
	for _, s := range b.current {
		if s.TS == ts {
			return s
		}
	}
	for _, s := range b.longRunning {
		if s.TS == ts {
			return s
		}
	}
	for _, s := range b.aborted {
		if s.TS == ts {
			return s
		}
	}
	return nil
}

// RetireAborted drops an aborted status once its MVVCount reaches 0.
func (idx *Index) RetireAborted(s *Status) {
	b := idx.bucketFor(s.TS)
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.MVVCount <= 0 {
		removeStatus(&b.aborted, s)
		if len(b.free) < idx.maxFreeListSize {
			b.free = append(b.free, s)
		}
	}
}

func removeStatus(list *[]*Status, s *Status) {
	out := (*list)[:0]
	for _, e := range *list {
		if e != s {
			out = append(out, e)
		}
	}
	*list = out
}

// CommitStatus implements commit_status: returns a commit timestamp,
// Uncommitted, Aborted, or Primordial.
func (idx *Index) CommitStatus(versionHandle uint64, readerTS uint64, readerStep int) uint64 {
	tsv, step := SplitVersionHandle(versionHandle)
	if tsv == 0 {
		return Primordial
	}
	if tsv == readerTS {
		if step <= readerStep {
			return tsv
		}
		return Uncommitted
	}
	if tsv > readerTS {
		return Uncommitted
	}

	b := idx.bucketFor(tsv)
	if s := idx.findInBucket(b, tsv, false); s != nil {
		return idx.resolveRunning(s)
	}
	return tsv // committed; primordial imputation
}

func (idx *Index) findInBucket(b *bucket, ts uint64, lock bool) *Status {
	if lock {
		b.mu.Lock()
		defer b.mu.Unlock()
	} else {
		b.mu.Lock()
		defer b.mu.Unlock()
	}
	for _, s := range b.current {
		if s.TS == ts {
			return s
		}
	}
	for _, s := range b.longRunning {
		if s.TS == ts {
			return s
		}
	}
	for _, s := range b.aborted {
		if s.TS == ts {
			return s
		}
	}
	return nil
}

// StatusByTS returns the Status registered under start timestamp ts,
// or nil if the index has no record of it (never registered, or
// retired long enough ago that its slot was reused). Used by a writer
// about to overwrite another transaction's version to find the Status
// it must run WWDependency against.
func (idx *Index) StatusByTS(ts uint64) *Status {
	b := idx.bucketFor(ts)
	return idx.findInBucket(b, ts, false)
}

// LookupTC returns the transaction's recorded commit timestamp (or
// Running/Aborted), used by pkg/mvv's prune pass to classify a
// version's owning transaction without a specific reader context.
// If the transaction has already been retired from the index, it is
// assumed committed at its own ts (the conservative, pre-pruned
// imputation used for a retired transaction's commit_status).
func (idx *Index) LookupTC(ts uint64) uint64 {
	b := idx.bucketFor(ts)
	if s := idx.findInBucket(b, ts, false); s != nil {
		return s.commitTS()
	}
	return ts
}

// InjectAborted registers a transaction that recovery found started
// but never committed, directly into the Aborted state, without ever
// having held a live ww-lock — used only during journal replay.
func (idx *Index) InjectAborted(ts uint64) {
	s := newStatus(ts)
	s.notifyCompleted(Aborted)
	b := idx.bucketFor(ts)
	b.mu.Lock()
	b.aborted = append(b.aborted, s)
	b.mu.Unlock()
}

func (idx *Index) resolveRunning(s *Status) uint64 {
	tc := s.commitTS()
	if tc != Running {
		return tc
	}
	if s.wwLock.TryLock() {
		s.wwLock.Unlock()
		return s.commitTS()
	}
	time.Sleep(ShortTimeout)
	tc = s.commitTS()
	if tc != Running {
		return tc
	}
	return Uncommitted
}

// WWDependency implements ww_dependency.
func (idx *Index) WWDependency(target *Status, source *Status, timeout time.Duration) uint64 {
	if target == source {
		return 0
	}
	tc := target.commitTS()
	if tc != Running {
		if tc == Aborted || tc < source.TS {
			return 0
		}
		return tc
	}

	source.mu.Lock()
	source.Depends = target
	source.mu.Unlock()
	defer func() {
		source.mu.Lock()
		source.Depends = nil
		source.mu.Unlock()
	}()

	if idx.detectCycle(source) {
		return Uncommitted
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if target.wwLock.TryLock() {
			target.wwLock.Unlock()
			tc := target.commitTS()
			if tc == Running {
				return 0
			}
			if tc == Aborted || tc < source.TS {
				return 0
			}
			return tc
		}
		time.Sleep(ShortTimeout)
	}
	return TimedOut
}

// detectCycle walks the depends chain starting at s, up to CycleLimit
// hops; a cycle closing back on s (or exceeding the limit) is reported
// as a deadlock.
func (idx *Index) detectCycle(s *Status) bool {
	cur := s.Depends
	for i := 0; i < CycleLimit; i++ {
		if cur == nil {
			return false
		}
		if cur == s {
			return true
		}
		cur.mu.Lock()
		next := cur.Depends
		cur.mu.Unlock()
		cur = next
	}
	return true
}
