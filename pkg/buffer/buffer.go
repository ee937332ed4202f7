// Package buffer implements the BufferPool: a fixed-size, page-indexed
// cache with LRU/invalid lists, reader/writer claims, and dirty
// tracking, feeding a background writer that hands dirty pages to the
// journal rather than writing the volume file directly.
package buffer

import (
	"sync"

	"ledgerkv/pkg/page"
)

// Key identifies a page within the whole engine (not just one
// volume), used as the BufferPool's hash-index key.
type Key struct {
	VolumeID uint64
	Addr     page.Addr
}

// claim is a small custom reader/writer semaphore: a
// condition-variable-backed lock that additionally
// records which goroutine (by an opaque id the caller supplies) holds
// the exclusive claim, for debugging and for the BTree's top-down /
// left-to-right claim-ordering discipline.
type claim struct {
	mu           sync.Mutex
	cond         *sync.Cond
	readers      int
	writerHeld   bool
	writerThread int64
}

func newClaim() *claim {
	c := &claim{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *claim) lockShared() {
	c.mu.Lock()
	for c.writerHeld {
		c.cond.Wait()
	}
	c.readers++
	c.mu.Unlock()
}

func (c *claim) tryLockShared() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writerHeld {
		return false
	}
	c.readers++
	return true
}

func (c *claim) unlockShared() {
	c.mu.Lock()
	c.readers--
	if c.readers == 0 {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

func (c *claim) lockExclusive(threadID int64) {
	c.mu.Lock()
	for c.writerHeld || c.readers > 0 {
		c.cond.Wait()
	}
	c.writerHeld = true
	c.writerThread = threadID
	c.mu.Unlock()
}

func (c *claim) tryLockExclusive(threadID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writerHeld || c.readers > 0 {
		return false
	}
	c.writerHeld = true
	c.writerThread = threadID
	return true
}

func (c *claim) unlockExclusive() {
	c.mu.Lock()
	c.writerHeld = false
	c.writerThread = 0
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Buffer is the in-memory wrapper around a Page resident in the pool.
type Buffer struct {
	slot  int
	Key   Key
	Data  []byte

	claim *claim

	valid     bool
	dirty     bool
	fixed     bool
	permanent bool
	closing   bool

	// writeTimestamp is the page's Timestamp() at the moment it was
	// marked dirty, used by the checkpointer to know whether a page
	// has been journaled past a given checkpoint boundary.
	writeTimestamp uint64
}

func (b *Buffer) Page() page.Page { return page.Wrap(b.Data) }

func (b *Buffer) Dirty() bool { return b.dirty }
func (b *Buffer) Fixed() bool { return b.fixed }

// MarkDirty flags the buffer dirty and records the page's current
// timestamp for the checkpoint/write-ordering guarantee: no CP(t) is
// written until every dirty page with timestamp < t has been
// journaled.
func (b *Buffer) MarkDirty() {
	b.dirty = true
	b.writeTimestamp = b.Page().Timestamp()
}

func (b *Buffer) ReleaseShared()        { b.claim.unlockShared() }
func (b *Buffer) ReleaseExclusive()     { b.claim.unlockExclusive() }
