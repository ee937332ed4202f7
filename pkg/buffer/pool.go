package buffer

import (
	"container/list"
	"sync"
	"sync/atomic"

	"ledgerkv/pkg/dberrors"
	"ledgerkv/pkg/page"

	"github.com/prometheus/client_golang/prometheus"
)

// Source reads a page's bytes from durable storage (the volume file)
// when the pool misses; fill consults it only after the JournalReader,
// if one is set, has no copy of the page.
type Source interface {
	ReadPage(volumeID uint64, addr page.Addr, buf []byte) error
}

// Sink hands a dirty buffer to the journal to be written as a PA
// (page) record; the background writer calls this instead of touching
// the volume file directly — pages are written to the journal, never
// in place.
type Sink interface {
	WritePage(volumeID uint64, addr page.Addr, data []byte) error
}

// JournalReader looks up the most recently journaled copy of a page,
// if any. Consulted before Source on a miss, since a dirty page is
// durable as a PA record long before (if ever) the volume file itself
// is brought up to date.
type JournalReader interface {
	ReadPage(volumeID uint64, addr uint64, buf []byte) (found bool, err error)
}

// Pool is the BufferPool: one fixed-size class of same-sized buffers,
// a hash index from (volume,addr) to slot, an LRU list of unclaimed
// valid buffers, and a free/invalid list of slots holding no page at
// all.
type Pool struct {
	pageSize int
	source   Source
	sink     Sink
	journal  JournalReader

	mu     sync.Mutex
	slots  []*Buffer
	byKey  map[Key]*Buffer
	lru    *list.List // of *Buffer, front = most recently used
	lruTag map[*Buffer]*list.Element
	invalid []*Buffer // slots with no resident page

	nextThread int64

	hits, misses, evictions prometheus.Counter
}

// NewPool allocates count buffers of pageSize bytes each.
func NewPool(pageSize, count int, source Source, sink Sink, reg prometheus.Registerer) *Pool {
	p := &Pool{
		pageSize: pageSize,
		source:   source,
		sink:     sink,
		byKey:    make(map[Key]*Buffer, count),
		lru:      list.New(),
		lruTag:   make(map[*Buffer]*list.Element, count),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerkv_buffer_hits_total", Help: "Buffer pool lookups satisfied without I/O.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerkv_buffer_misses_total", Help: "Buffer pool lookups that required a page read.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerkv_buffer_evictions_total", Help: "Valid buffers evicted to make room for a miss.",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.hits, p.misses, p.evictions)
	}
	p.slots = make([]*Buffer, count)
	for i := range p.slots {
		b := &Buffer{slot: i, Data: make([]byte, pageSize), claim: newClaim()}
		p.slots[i] = b
		p.invalid = append(p.invalid, b)
	}
	return p
}

func (p *Pool) threadID() int64 { return atomic.AddInt64(&p.nextThread, 1) }

// SetJournalReader wires the journal's page map into the pool, so
// Get consults it before falling back to Source. Optional: a pool
// with no journal (offline tools reading a closed volume, tests that
// only exercise the cache/claim/LRU machinery) simply always falls
// back to Source.
func (p *Pool) SetJournalReader(jr JournalReader) { p.journal = jr }

// Get returns the buffer for key, reading it from source on a miss,
// claimed shared (writer=false) or exclusive (writer=true). Callers
// must call Release when done.
func (p *Pool) Get(volumeID uint64, addr page.Addr, writer bool) (*Buffer, error) {
	key := Key{VolumeID: volumeID, Addr: addr}

	p.mu.Lock()
	b, ok := p.byKey[key]
	if ok {
		p.touchLocked(b)
		p.hits.Inc()
		p.mu.Unlock()
		p.claimBuffer(b, writer)
		return b, nil
	}
	p.misses.Inc()
	b = p.acquireSlotLocked()
	b.Key = key
	b.valid = false
	p.byKey[key] = b
	p.mu.Unlock()

	// Exclusive claim while filling so concurrent Get(same key) callers
	// block on the claim, not on a second concurrent read.
	b.claim.lockExclusive(p.threadID())
	if !b.valid {
		if err := p.fill(volumeID, addr, b.Data); err != nil {
			p.mu.Lock()
			delete(p.byKey, key)
			p.invalid = append(p.invalid, b)
			p.mu.Unlock()
			b.claim.unlockExclusive()
			return nil, err
		}
		b.valid = true
		b.dirty = false
	}
	if writer {
		return b, nil
	}
	// Downgrade: release exclusive, reacquire shared. A tiny race window
	// where another writer could intervene is acceptable because the
	// page was just read fresh and no caller has observed it yet.
	b.claim.unlockExclusive()
	b.claim.lockShared()
	return b, nil
}

// fill loads a page's bytes on a miss: the journal's page map first
// (it holds the freshest image for any page written since the last
// recovery or checkpoint rollover), falling back to the volume file
// only when the journal has no copy.
func (p *Pool) fill(volumeID uint64, addr page.Addr, buf []byte) error {
	if p.journal != nil {
		found, err := p.journal.ReadPage(volumeID, uint64(addr), buf)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
	}
	return p.source.ReadPage(volumeID, addr, buf)
}

// GetNew allocates and claims a brand-new page (not read from source),
// for a page address the caller just got from the free-space manager.
func (p *Pool) GetNew(volumeID uint64, addr page.Addr) (*Buffer, error) {
	key := Key{VolumeID: volumeID, Addr: addr}
	p.mu.Lock()
	if _, ok := p.byKey[key]; ok {
		p.mu.Unlock()
		return nil, dberrors.Corruption(0, "buffer.GetNew: %v already resident", key)
	}
	b := p.acquireSlotLocked()
	b.Key = key
	p.byKey[key] = b
	p.mu.Unlock()

	b.claim.lockExclusive(p.threadID())
	for i := range b.Data {
		b.Data[i] = 0
	}
	b.valid = true
	b.dirty = false
	return b, nil
}

func (p *Pool) claimBuffer(b *Buffer, writer bool) {
	if writer {
		b.claim.lockExclusive(p.threadID())
	} else {
		b.claim.lockShared()
	}
}

// Release hands the buffer back. If dirty is true the buffer is marked
// for the background writer and kept pinned until written.
func (p *Pool) Release(b *Buffer, writer bool, dirty bool) {
	if dirty {
		b.MarkDirty()
	}
	if writer {
		b.claim.unlockExclusive()
	} else {
		b.claim.unlockShared()
	}
	p.mu.Lock()
	p.touchLocked(b)
	p.mu.Unlock()
}

func (p *Pool) touchLocked(b *Buffer) {
	if el, ok := p.lruTag[b]; ok {
		p.lru.MoveToFront(el)
	} else {
		p.lruTag[b] = p.lru.PushFront(b)
	}
}

// acquireSlotLocked returns a free slot, evicting the least-recently
// used clean, unclaimed buffer if none is free. Caller holds p.mu.
func (p *Pool) acquireSlotLocked() *Buffer {
	if n := len(p.invalid); n > 0 {
		b := p.invalid[n-1]
		p.invalid = p.invalid[:n-1]
		return b
	}
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		b := el.Value.(*Buffer)
		if b.fixed || b.dirty {
			continue
		}
		if !b.claim.tryLockExclusive(-1) {
			continue
		}
		b.claim.unlockExclusive()
		p.lru.Remove(el)
		delete(p.lruTag, b)
		delete(p.byKey, b.Key)
		p.evictions.Inc()
		return b
	}
	// Every resident buffer is pinned or dirty: grow is not implemented
	// (the pool is sized from config at startup), so signal InUse for
	// the caller to apply back-pressure.
	panic(dberrors.InUse("buffer pool exhausted: all %d buffers pinned or dirty", len(p.slots)))
}

// Invalidate drops a cached buffer without writing it back (used by
// recovery when a page's on-disk image is about to be overwritten
// wholesale by a replayed PA record).
func (p *Pool) Invalidate(volumeID uint64, addr page.Addr) {
	key := Key{VolumeID: volumeID, Addr: addr}
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.byKey[key]
	if !ok {
		return
	}
	delete(p.byKey, key)
	if el, ok := p.lruTag[b]; ok {
		p.lru.Remove(el)
		delete(p.lruTag, b)
	}
	b.valid = false
	b.dirty = false
	p.invalid = append(p.invalid, b)
}

// DirtyBuffers returns a snapshot of every currently-dirty buffer, for
// the background writer and the checkpointer's "flush below ts" pass.
func (p *Pool) DirtyBuffers() []*Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Buffer
	for _, b := range p.slots {
		if b.dirty {
			out = append(out, b)
		}
	}
	return out
}
