package journal

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func openTestManager(t *testing.T, segmentSize int64) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(Options{
		Dir:         dir,
		SegmentSize: segmentSize,
		Log:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestOpenCreatesFirstSegment(t *testing.T) {
	m := openTestManager(t, 1<<20)
	segs, err := m.Segments()
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("Segments() after Open = %v, want exactly one", segs)
	}
}

func TestAppendWritesRecordsToActiveSegment(t *testing.T) {
	m := openTestManager(t, 1<<20)
	for i := 0; i < 5; i++ {
		rec := Record{Type: TypeTS, Payload: EncodeTS(uint64(i))}
		if err := m.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	segs, err := m.Segments()
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected still a single segment, got %v", segs)
	}
	info, err := os.Stat(segs[0])
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Errorf("expected a non-empty segment file after five appends")
	}
}

func TestAppendRollsToNewSegmentWhenFull(t *testing.T) {
	// A tiny segment size forces the very first append past the cap,
	// so the second append must land in a freshly rolled segment.
	m := openTestManager(t, 10)
	rec := Record{Type: TypeTS, Payload: EncodeTS(1)}
	if err := m.Append(rec); err != nil {
		t.Fatalf("Append #1: %v", err)
	}
	if err := m.Append(rec); err != nil {
		t.Fatalf("Append #2: %v", err)
	}
	segs, err := m.Segments()
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segs) < 2 {
		t.Fatalf("expected at least two segments after exceeding SegmentSize, got %v", segs)
	}
}

func TestCommitSoftDoesNotError(t *testing.T) {
	m := openTestManager(t, 1<<20)
	if err := m.Append(Record{Type: TypeTS, Payload: EncodeTS(1)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m.Commit(PolicySoft); err != nil {
		t.Errorf("Commit(PolicySoft): %v", err)
	}
}

func TestCommitHardDoesNotError(t *testing.T) {
	m := openTestManager(t, 1<<20)
	if err := m.Append(Record{Type: TypeTS, Payload: EncodeTS(1)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m.Commit(PolicyHard); err != nil {
		t.Errorf("Commit(PolicyHard): %v", err)
	}
}

func TestCommitUnknownPolicyIsCorruption(t *testing.T) {
	m := openTestManager(t, 1<<20)
	if err := m.Commit(CommitPolicy(99)); err == nil {
		t.Errorf("expected an error for an unrecognized commit policy")
	}
}

func TestCommitGroupBatchesConcurrentWaiters(t *testing.T) {
	m := openTestManager(t, 1<<20)
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = m.Commit(PolicyGroup)
		}(i)
	}
	close(start)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("group commit waiters did not all unblock within the timeout")
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("waiter %d: Commit(PolicyGroup) = %v", i, err)
		}
	}
}

func TestSegmentsOrderedByModTimeNotName(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(Options{Dir: dir, SegmentSize: 1 << 20, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	first, err := m.Segments()
	if err != nil || len(first) != 1 {
		t.Fatalf("Segments() after Open = %v, err=%v, want exactly one", first, err)
	}

	// Segment names are random UUIDs, so pick fixed names here whose
	// lexical order is the reverse of the mtimes we assign them, to
	// prove Segments() sorts by ModTime and not by directory listing order.
	older := filepath.Join(dir, "ledgerkv_zzzzzzzz-0000-0000-0000-000000000000.jnl")
	newer := filepath.Join(dir, "ledgerkv_aaaaaaaa-0000-0000-0000-000000000000.jnl")
	if err := os.WriteFile(newer, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := os.WriteFile(older, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	now := time.Now()
	if err := os.Chtimes(newer, now, now.Add(-time.Hour)); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := os.Chtimes(older, now, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	got, err := m.Segments()
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Segments() = %v, want 3 entries", got)
	}
	// Chronological order: older (-2h), newer (-1h), then the original
	// segment created by Open (current time) last.
	if filepath.Base(got[0]) != filepath.Base(older) ||
		filepath.Base(got[1]) != filepath.Base(newer) ||
		filepath.Base(got[2]) != filepath.Base(first[0]) {
		t.Errorf("Segments() = %v, want ModTime order (oldest first) despite lexical name order being reversed",
			got)
	}
}
