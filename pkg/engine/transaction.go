package engine

import (
	"sync/atomic"

	"ledgerkv/pkg/dberrors"
	"ledgerkv/pkg/journal"
	"ledgerkv/pkg/mvv"
	"ledgerkv/pkg/txnindex"
)

// Transaction is one MVCC unit of work: a snapshot timestamp, a step
// counter guarding against the Halloween problem, and a handle into
// the TransactionIndex tracking its outcome.
type Transaction struct {
	e      *Engine
	status *txnindex.Status
	step   int64
	depth  int32 // nestable begin/end depth
	done   bool
}

// Begin starts a new top-level transaction: registers it with the
// TransactionIndex, allocating its start timestamp, and appends a TS
// record so recovery can tell an interrupted transaction from one that
// never started at all.
func (e *Engine) Begin() (*Transaction, error) {
	status := e.idx.RegisterTransaction()
	if err := e.jm.Append(journal.Record{Type: journal.TypeTS, Payload: journal.EncodeTS(status.TS)}); err != nil {
		return nil, err
	}
	return &Transaction{e: e, status: status, depth: 1}, nil
}

// Nested increments the nesting depth; only the outermost End actually
// commits or rolls back, giving begin/commit/rollback/end nestable
// semantics.
func (tx *Transaction) Nested() *Transaction {
	atomic.AddInt32(&tx.depth, 1)
	return tx
}

// Step returns the current operation counter, used by callers (and the
// engine's own scan operations) wishing to make their own version
// handles consistent with the transaction's Halloween-problem guard.
func (tx *Transaction) Step() int { return int(atomic.LoadInt64(&tx.step)) }

// IncrementStep advances the step counter past every row a single
// scan-and-modify operation may touch, so a row written earlier in the
// same operation is never revisited as if it were a pre-existing row.
func (tx *Transaction) IncrementStep() int { return int(atomic.AddInt64(&tx.step, 1)) }

func (tx *Transaction) SetStep(n int) { atomic.StoreInt64(&tx.step, int64(n)) }

func (tx *Transaction) versionHandle() uint64 {
	return txnindex.MakeVersionHandle(tx.status.TS, tx.Step())
}

// Get fetches key from treeName, resolving MVCC visibility against
// this transaction's snapshot timestamp via commit_status.
func (tx *Transaction) Get(treeName string, key []byte) ([]byte, bool, error) {
	t, err := tx.e.Tree(treeName)
	if err != nil {
		return nil, false, err
	}
	raw, found, err := t.Get(key)
	if err != nil || !found {
		return nil, false, err
	}
	// VisitAllVersions walks entries in ascending version-handle order,
	// so the last visible (committed-or-own) entry seen is the most
	// recent one as of this transaction's snapshot.
	var visible []byte
	var ok bool
	mvv.VisitAllVersions(raw, func(vh uint64, data []byte) {
		status := tx.e.idx.CommitStatus(vh, tx.status.TS, tx.Step())
		if status == txnindex.Uncommitted || status == txnindex.TimedOut || status == txnindex.Aborted {
			return
		}
		visible = data
		ok = true
	})
	if !ok || mvv.IsAntiValue(visible) {
		return nil, false, nil
	}
	return visible, true, nil
}

func (tx *Transaction) Put(treeName string, key, value []byte) error {
	t, err := tx.e.Tree(treeName)
	if err != nil {
		return err
	}
	existing, _, err := t.Get(key)
	if err != nil {
		return err
	}
	if err := tx.checkWriteConflict(existing); err != nil {
		return err
	}
	newBytes, err := mvv.StoreVersion(existing, tx.versionHandle(), value)
	if err != nil {
		return err
	}
	if err := tx.e.jm.Append(journal.Record{Type: journal.TypeSR, Payload: encodeSR(treeName, key, value)}); err != nil {
		return err
	}
	tx.status.MVVCount++
	return t.Put(key, newBytes)
}

func (tx *Transaction) Delete(treeName string, key []byte) error {
	t, err := tx.e.Tree(treeName)
	if err != nil {
		return err
	}
	existing, found, err := t.Get(key)
	if err != nil || !found {
		return err
	}
	if err := tx.checkWriteConflict(existing); err != nil {
		return err
	}
	newBytes, err := mvv.StoreVersion(existing, tx.versionHandle(), []byte{mvv.TagAntiValue})
	if err != nil {
		return err
	}
	if err := tx.e.jm.Append(journal.Record{Type: journal.TypeDR, Payload: encodeSR(treeName, key, nil)}); err != nil {
		return err
	}
	tx.status.MVVCount++
	return t.Put(key, newBytes)
}

// checkWriteConflict implements ww_dependency's role in the write path:
// if the key's most recently stored version belongs to a different
// transaction still tracked by the index, this transaction must wait
// on (or detect a deadlock against) that transaction before writing
// over it. WWDependency returns 0 when there is nothing to wait for
// (the owner already aborted, or committed before this transaction's
// snapshot began); any other outcome — a commit that lands at or after
// this transaction's start, a detected cycle, or a timed-out wait — is
// a write-write conflict, and the caller must roll back and retry.
func (tx *Transaction) checkWriteConflict(existing []byte) error {
	vh, ok := mvv.LatestVersionHandle(existing)
	if !ok {
		return nil
	}
	ownerTS, _ := txnindex.SplitVersionHandle(vh)
	if ownerTS == tx.status.TS {
		return nil
	}
	owner := tx.e.idx.StatusByTS(ownerTS)
	if owner == nil {
		return nil // long since retired: definitely committed, definitely before us
	}
	if dep := tx.e.idx.WWDependency(owner, tx.status, txnindex.VeryLongTimeout); dep != 0 {
		return dberrors.Rollback("write-write conflict on a version owned by transaction ts=%d", ownerTS)
	}
	return nil
}

// Commit ends the outermost nesting level, allocating a commit
// timestamp, appending a TC record, and waiting for the configured
// commit policy's durability guarantee before publishing the outcome
// to the TransactionIndex.
func (tx *Transaction) Commit() error {
	if atomic.AddInt32(&tx.depth, -1) > 0 {
		return nil
	}
	tc := tx.e.idx.Allocator.Allocate()
	if err := tx.e.jm.Append(journal.Record{Type: journal.TypeTC, Payload: journal.EncodeTC(tx.status.TS, tc)}); err != nil {
		return err
	}
	if err := tx.e.jm.Commit(tx.e.cfg.CommitPolicy); err != nil {
		return err
	}
	tx.e.idx.NotifyCompleted(tx.status, tc)
	tx.done = true
	return nil
}

// Rollback ends the transaction with Aborted status. Already-applied
// page mutations are left in place (this engine does not maintain an
// in-memory undo log); MVV entries tagged with this transaction's
// version handle are simply never visible to any reader because
// commit_status reports Aborted for them, and cleanup eventually prunes
// them away.
func (tx *Transaction) Rollback() error {
	if atomic.AddInt32(&tx.depth, -1) > 0 {
		return nil
	}
	if err := tx.e.jm.Append(journal.Record{Type: journal.TypeTC, Payload: journal.EncodeTC(tx.status.TS, txnindex.Aborted)}); err != nil {
		return err
	}
	tx.e.idx.NotifyCompleted(tx.status, txnindex.Aborted)
	tx.done = true
	return nil
}

// End commits if the transaction hasn't already been explicitly
// committed or rolled back — a commit-if-not-already-decided
// convenience for callers that always call End.
func (tx *Transaction) End() error {
	if tx.done {
		return nil
	}
	return tx.Commit()
}

func encodeSR(treeName string, key, value []byte) []byte {
	b := make([]byte, 0, 2+len(treeName)+4+len(key)+4+len(value))
	b = append(b, byte(len(treeName)>>8), byte(len(treeName)))
	b = append(b, treeName...)
	klen := len(key)
	b = append(b, byte(klen>>24), byte(klen>>16), byte(klen>>8), byte(klen))
	b = append(b, key...)
	vlen := len(value)
	b = append(b, byte(vlen>>24), byte(vlen>>16), byte(vlen>>8), byte(vlen))
	b = append(b, value...)
	return b
}
