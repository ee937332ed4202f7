package buffer

import (
	"errors"
	"sync"
	"testing"

	"ledgerkv/pkg/dberrors"
	"ledgerkv/pkg/page"
)

type fakeSource struct {
	mu    sync.Mutex
	reads map[page.Addr]int
}

func newFakeSource() *fakeSource { return &fakeSource{reads: make(map[page.Addr]int)} }

func (f *fakeSource) ReadPage(volumeID uint64, addr page.Addr, buf []byte) error {
	f.mu.Lock()
	f.reads[addr]++
	f.mu.Unlock()
	for i := range buf {
		buf[i] = byte(addr) + byte(i)
	}
	return nil
}

func (f *fakeSource) readCount(addr page.Addr) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[addr]
}

func TestPoolGetMissReadsFromSourceAndHitsOnSecondGet(t *testing.T) {
	src := newFakeSource()
	p := NewPool(64, 4, src, nil, nil)

	b, err := p.Get(1, page.Addr(5), false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.Data[0] != byte(5) {
		t.Errorf("buffer data not filled from source: got %d, want %d", b.Data[0], 5)
	}
	p.Release(b, false, false)
	if got := src.readCount(page.Addr(5)); got != 1 {
		t.Fatalf("expected exactly one source read, got %d", got)
	}

	b2, err := p.Get(1, page.Addr(5), false)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	p.Release(b2, false, false)
	if got := src.readCount(page.Addr(5)); got != 1 {
		t.Errorf("second Get should have hit the cache, but source was read %d times", got)
	}
}

type fakeJournalReader struct {
	mu      sync.Mutex
	pages   map[page.Addr][]byte
	lookups int
}

func newFakeJournalReader() *fakeJournalReader {
	return &fakeJournalReader{pages: make(map[page.Addr][]byte)}
}

func (f *fakeJournalReader) put(addr page.Addr, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[addr] = append([]byte(nil), data...)
}

func (f *fakeJournalReader) ReadPage(volumeID uint64, addr uint64, buf []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	data, ok := f.pages[page.Addr(addr)]
	if !ok {
		return false, nil
	}
	copy(buf, data)
	return true, nil
}

func TestPoolGetPrefersJournalReaderOverSource(t *testing.T) {
	src := newFakeSource()
	jr := newFakeJournalReader()
	journaled := make([]byte, 64)
	for i := range journaled {
		journaled[i] = 0xAB
	}
	jr.put(page.Addr(7), journaled)

	p := NewPool(64, 4, src, nil, nil)
	p.SetJournalReader(jr)

	b, err := p.Get(1, page.Addr(7), false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.Data[0] != 0xAB {
		t.Errorf("Get did not return the journal's image: got %#x, want 0xab", b.Data[0])
	}
	p.Release(b, false, false)
	if src.readCount(page.Addr(7)) != 0 {
		t.Errorf("source should not have been consulted when the journal holds the page")
	}
	if jr.lookups != 1 {
		t.Errorf("expected exactly one journal lookup, got %d", jr.lookups)
	}
}

func TestPoolGetFallsBackToSourceWhenJournalHasNoCopy(t *testing.T) {
	src := newFakeSource()
	jr := newFakeJournalReader() // empty: no page ever journaled

	p := NewPool(64, 4, src, nil, nil)
	p.SetJournalReader(jr)

	b, err := p.Get(1, page.Addr(3), false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.Data[0] != byte(3) {
		t.Errorf("expected the source's fill pattern, got %d", b.Data[0])
	}
	p.Release(b, false, false)
	if src.readCount(page.Addr(3)) != 1 {
		t.Errorf("expected the source to be consulted as a fallback")
	}
}

func TestPoolGetNewRejectsAlreadyResident(t *testing.T) {
	src := newFakeSource()
	p := NewPool(64, 4, src, nil, nil)

	b, err := p.Get(1, page.Addr(5), false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Release(b, false, false)

	_, err = p.GetNew(1, page.Addr(5))
	var dbErr *dberrors.Error
	if !errors.As(err, &dbErr) || dbErr.Kind != dberrors.KindCorruption {
		t.Errorf("GetNew on an already-resident key = %v, want a Corruption error", err)
	}
}

func TestPoolGetNewZerosTheBuffer(t *testing.T) {
	src := newFakeSource()
	p := NewPool(64, 4, src, nil, nil)

	b, err := p.GetNew(1, page.Addr(9))
	if err != nil {
		t.Fatalf("GetNew: %v", err)
	}
	for i, v := range b.Data {
		if v != 0 {
			t.Fatalf("byte %d = %d, want 0", i, v)
		}
	}
	p.Release(b, true, false)
}

func TestPoolReleaseDirtyIsTrackedByDirtyBuffers(t *testing.T) {
	src := newFakeSource()
	p := NewPool(64, 4, src, nil, nil)

	b, err := p.Get(1, page.Addr(1), true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(p.DirtyBuffers()) != 0 {
		t.Fatalf("buffer should not be dirty before Release")
	}
	p.Release(b, true, true)
	dirty := p.DirtyBuffers()
	if len(dirty) != 1 || dirty[0] != b {
		t.Errorf("expected exactly the released buffer to be dirty, got %v", dirty)
	}
}

func TestPoolInvalidateDropsResidentBuffer(t *testing.T) {
	src := newFakeSource()
	p := NewPool(64, 4, src, nil, nil)

	b, err := p.Get(1, page.Addr(1), false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Release(b, false, false)

	p.Invalidate(1, page.Addr(1))

	b2, err := p.Get(1, page.Addr(1), false)
	if err != nil {
		t.Fatalf("Get after Invalidate: %v", err)
	}
	p.Release(b2, false, false)
	if got := src.readCount(page.Addr(1)); got != 2 {
		t.Errorf("expected Invalidate to force a second source read, got %d reads", got)
	}
}

func TestPoolEvictsLeastRecentlyUsedWhenFull(t *testing.T) {
	src := newFakeSource()
	p := NewPool(64, 1, src, nil, nil)

	b1, err := p.Get(1, page.Addr(1), false)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	p.Release(b1, false, false)

	b2, err := p.Get(1, page.Addr(2), false)
	if err != nil {
		t.Fatalf("Get(2): %v", err)
	}
	p.Release(b2, false, false)

	if _, err := p.Get(1, page.Addr(1), false); err != nil {
		t.Fatalf("Get(1) again: %v", err)
	}
	if got := src.readCount(page.Addr(1)); got != 2 {
		t.Errorf("expected addr 1 to have been evicted and re-read, got %d reads", got)
	}
}

func TestPoolExhaustedPanicsWithInUse(t *testing.T) {
	src := newFakeSource()
	p := NewPool(64, 1, src, nil, nil)

	// Hold the only slot's claim open (no Release) so the pool has
	// nothing evictable left.
	if _, err := p.Get(1, page.Addr(1), true); err != nil {
		t.Fatalf("Get(1): %v", err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a panic when the pool is exhausted")
		}
		dbErr, ok := r.(*dberrors.Error)
		if !ok || dbErr.Kind != dberrors.KindInUse {
			t.Errorf("panic value = %v, want a *dberrors.Error with KindInUse", r)
		}
	}()
	p.Get(1, page.Addr(2), false)
}
