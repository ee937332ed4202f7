package engine

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"ledgerkv/internal/config"
	"ledgerkv/pkg/dberrors"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.DataPath = filepath.Join(t.TempDir(), "data")
	cfg.JournalPath = filepath.Join(t.TempDir(), "journal")
	e, err := Open(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestBeginPutCommitIsVisibleToLaterTransaction(t *testing.T) {
	e := newTestEngine(t)

	tx1, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx1.Put("accounts", []byte("alice"), []byte("100")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	got, ok, err := tx2.Get("accounts", []byte("alice"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(got) != "100" {
		t.Errorf("Get(alice) = (%q, %v), want (\"100\", true)", got, ok)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestRollbackIsNeverVisible(t *testing.T) {
	e := newTestEngine(t)

	tx1, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx1.Put("accounts", []byte("bob"), []byte("50")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx1.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	tx2, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, ok, err := tx2.Get("accounts", []byte("bob"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Errorf("a rolled-back write should never become visible")
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestSnapshotIsolationHidesLaterCommit(t *testing.T) {
	e := newTestEngine(t)

	seed, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := seed.Put("accounts", []byte("carol"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reader, err := e.Begin() // snapshot taken before the writer below commits
	if err != nil {
		t.Fatalf("Begin(reader): %v", err)
	}

	writer, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin(writer): %v", err)
	}
	if err := writer.Put("accounts", []byte("carol"), []byte("2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, ok, err := reader.Get("accounts", []byte("carol"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(got) != "1" {
		t.Errorf("reader's snapshot Get(carol) = (%q, %v), want (\"1\", true) — must not see the later commit", got, ok)
	}
	if err := reader.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	after, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	got, ok, err = after.Get("accounts", []byte("carol"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(got) != "2" {
		t.Errorf("a transaction begun after the second commit should see it: got (%q, %v), want (\"2\", true)", got, ok)
	}
	if err := after.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestDeleteMakesKeyInvisibleToLaterTransaction(t *testing.T) {
	e := newTestEngine(t)

	tx1, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx1.Put("accounts", []byte("dave"), []byte("5")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx2.Delete("accounts", []byte("dave")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx3, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, ok, err := tx3.Get("accounts", []byte("dave"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Errorf("expected dave to be gone after a committed Delete")
	}
	if err := tx3.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestNestedTransactionOnlyOutermostEndCommits(t *testing.T) {
	e := newTestEngine(t)

	tx, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tx.Nested()
	if err := tx.Put("accounts", []byte("erin"), []byte("9")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.End(); err != nil { // inner End: depth 2 -> 1, should not commit yet
		t.Fatalf("End (inner): %v", err)
	}

	other, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, ok, err := other.Get("accounts", []byte("erin"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Errorf("a still-open outer transaction's write should not be visible yet")
	}
	if err := other.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := tx.End(); err != nil { // outer End: depth 1 -> 0, commits for real
		t.Fatalf("End (outer): %v", err)
	}

	final, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	got, ok, err := final.Get("accounts", []byte("erin"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(got) != "9" {
		t.Errorf("Get(erin) after the outer commit = (%q, %v), want (\"9\", true)", got, ok)
	}
	if err := final.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

// TestWriteWriteConflictForcesRollback reproduces the
// first-committer-wins scenario: T1 starts first and writes a key but
// hasn't committed yet; T2 starts after T1 and tries to write the same
// key. T2's Put must block on T1's outcome, and once T1 commits (after
// T2's snapshot began), T2 must get a rollback-kind error rather than
// silently overwriting T1's committed version.
func TestWriteWriteConflictForcesRollback(t *testing.T) {
	e := newTestEngine(t)

	t1, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin(t1): %v", err)
	}
	if err := t1.Put("accounts", []byte("frank"), []byte("1")); err != nil {
		t.Fatalf("t1.Put: %v", err)
	}

	t2, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin(t2): %v", err)
	}

	putErr := make(chan error, 1)
	go func() {
		putErr <- t2.Put("accounts", []byte("frank"), []byte("2"))
	}()

	if err := t1.Commit(); err != nil {
		t.Fatalf("t1.Commit: %v", err)
	}

	err = <-putErr
	var dbErr *dberrors.Error
	if !errors.As(err, &dbErr) || dbErr.Kind != dberrors.KindRollback {
		t.Fatalf("t2.Put (concurrent with t1's commit) = %v, want a KindRollback error", err)
	}
	if err := t2.Rollback(); err != nil {
		t.Fatalf("t2.Rollback: %v", err)
	}

	t3, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin(t3): %v", err)
	}
	got, ok, err := t3.Get("accounts", []byte("frank"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(got) != "1" {
		t.Errorf("Get(frank) = (%q, %v), want (\"1\", true) — t2's conflicting write must never land", got, ok)
	}
	if err := t3.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

// TestWriteWriteNoConflictAfterOwnerAborts covers the companion case:
// once the owning transaction aborts rather than commits, a concurrent
// writer waiting on it must proceed rather than being forced to retry.
func TestWriteWriteNoConflictAfterOwnerAborts(t *testing.T) {
	e := newTestEngine(t)

	t1, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin(t1): %v", err)
	}
	if err := t1.Put("accounts", []byte("gail"), []byte("1")); err != nil {
		t.Fatalf("t1.Put: %v", err)
	}

	t2, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin(t2): %v", err)
	}

	putErr := make(chan error, 1)
	go func() {
		putErr <- t2.Put("accounts", []byte("gail"), []byte("2"))
	}()

	if err := t1.Rollback(); err != nil {
		t.Fatalf("t1.Rollback: %v", err)
	}

	if err := <-putErr; err != nil {
		t.Fatalf("t2.Put after t1 aborted = %v, want nil", err)
	}
	if err := t2.Commit(); err != nil {
		t.Fatalf("t2.Commit: %v", err)
	}

	t3, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin(t3): %v", err)
	}
	got, ok, err := t3.Get("accounts", []byte("gail"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(got) != "2" {
		t.Errorf("Get(gail) = (%q, %v), want (\"2\", true)", got, ok)
	}
	if err := t3.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestTreeIsCachedAcrossCalls(t *testing.T) {
	e := newTestEngine(t)
	t1, err := e.Tree("ledger")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	t2, err := e.Tree("ledger")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if t1 != t2 {
		t.Errorf("Tree(ledger) returned different handles on repeated calls")
	}
}

func TestDropTreeRemovesFromDirectory(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Tree("temp"); err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if err := e.DropTree("temp"); err != nil {
		t.Fatalf("DropTree: %v", err)
	}
	if _, ok := e.store.Lookup("temp"); ok {
		t.Errorf("expected temp to be gone from the directory after DropTree")
	}
}

// TestDropTreeReclaimsPages confirms a dropped tree's own pages land on
// the garbage chain rather than being leaked, and that a later
// allocation recycles one of them.
func TestDropTreeReclaimsPages(t *testing.T) {
	e := newTestEngine(t)

	tx, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Put("scratch", []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rootAddr, ok := e.store.Lookup("scratch")
	if !ok {
		t.Fatalf("expected scratch to have a root page before DropTree")
	}

	if err := e.DropTree("scratch"); err != nil {
		t.Fatalf("DropTree: %v", err)
	}
	if _, ok := e.store.Lookup("scratch"); ok {
		t.Errorf("expected scratch to be gone from the directory after DropTree")
	}
	if e.vol.Header.GarbageRoot == 0 {
		t.Errorf("expected the dropped tree's page(s) to land on the garbage chain")
	}

	addr, buf, err := e.store.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	e.store.Pool.Release(buf, true, true)
	if addr != rootAddr {
		t.Errorf("AllocPage after DropTree = %d, want the recycled root page %d", addr, rootAddr)
	}
}
