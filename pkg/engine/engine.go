// Package engine wires volume/buffer/store/btree/mvv/txnindex/journal/
// recovery/cleanup together behind the public Engine/Transaction API —
// the surface an external shell or embedding application would call.
package engine

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"ledgerkv/internal/config"
	"ledgerkv/pkg/buffer"
	"ledgerkv/pkg/btree"
	"ledgerkv/pkg/cleanup"
	"ledgerkv/pkg/journal"
	"ledgerkv/pkg/page"
	"ledgerkv/pkg/recovery"
	"ledgerkv/pkg/store"
	"ledgerkv/pkg/txnindex"
	"ledgerkv/pkg/volume"
)

// Engine is one open database: one volume file, its buffer pool,
// directory of trees, transaction index, and journal.
type Engine struct {
	cfg config.Config
	log zerolog.Logger
	reg *prometheus.Registry

	vol   *volume.Volume
	pool  *buffer.Pool
	store *store.Structure
	idx   *txnindex.Index
	jm    *journal.Manager

	checkpointer *cleanup.Checkpointer
	cleaner      *cleanup.Manager

	cancel context.CancelFunc

	mu    sync.Mutex
	trees map[string]*btree.Tree

	LastRecovery recovery.Result
}

// journalSink adapts a *journal.Manager into buffer.Sink: every dirty
// page drained by the background writer becomes one PA record rather
// than an in-place volume write.
type journalSink struct{ jm *journal.Manager }

func (s *journalSink) WritePage(volumeID uint64, addr page.Addr, data []byte) error {
	return s.jm.Append(journal.Record{Type: journal.TypePA, Payload: journal.EncodePA(volumeID, uint64(addr), data)})
}

// Open creates or opens the volume/journal at cfg's paths, replays
// every journal segment from its start, and starts the background
// writer/checkpointer/cache-refresher goroutines.
func Open(cfg config.Config, log zerolog.Logger) (*Engine, error) {
	reg := prometheus.NewRegistry()

	volPath := filepath.Join(cfg.DataPath, "main.vol")
	vol, err := openOrCreateVolume(volPath, cfg)
	if err != nil {
		return nil, err
	}

	jm, err := journal.Open(journal.Options{
		Dir:        cfg.JournalPath,
		Log:        log,
		Registerer: reg,
	})
	if err != nil {
		return nil, err
	}

	idx := txnindex.New(cfg.LongRunningThreshold, cfg.MaxFreeListSize)

	segments, err := jm.Segments()
	if err != nil {
		return nil, err
	}
	volumes := map[uint64]recovery.VolumeWriter{vol.Header.VolumeID: vol}
	res, err := recovery.Replay(segments, volumes, idx, log)
	if err != nil {
		return nil, err
	}

	source := &store.VolumeSource{Vol: vol}
	pool := buffer.NewPool(cfg.PageSize, bufferCountFor(cfg), source, &journalSink{jm: jm}, reg)
	pool.SetJournalReader(jm.PageMap())

	st := store.New(vol, pool)
	headBuf := make([]byte, cfg.PageSize)
	if err := vol.ReadPage(0, headBuf); err != nil {
		return nil, err
	}
	if err := st.LoadDirectory(headBuf); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg: cfg, log: log, reg: reg,
		vol: vol, pool: pool, store: st, idx: idx, jm: jm,
		cancel: cancel, trees: make(map[string]*btree.Tree),
		LastRecovery: res,
	}

	idx.RunCacheRefresher(0)
	writer := buffer.NewWriter(pool, cfg.CheckpointInterval()/10, log)
	go writer.Run(ctx)
	e.checkpointer = cleanup.NewCheckpointer(jm, cfg.CheckpointInterval(), func() uint64 { return vol.Tick() }, e.dirtyFloor, reg, log)
	go e.checkpointer.Run(ctx)
	e.cleaner = cleanup.NewManager(2, e.handleCleanupAction, log)

	return e, nil
}

// handleCleanupAction is the cleanup.Manager's worker callback: prune
// a data page's MVV versions, or splice the missing separator into an
// index-holed leaf's parent.
func (e *Engine) handleCleanupAction(a cleanup.Action) error {
	switch a.Kind {
	case cleanup.PruneAction:
		return btree.PruneLeafPage(e.store, page.Addr(a.Addr), e.idx, 0)
	case cleanup.IndexHoleAction:
		t, err := e.Tree(a.TreeName)
		if err != nil {
			return err
		}
		return t.RepairIndexHole(page.Addr(a.Addr))
	default:
		return nil
	}
}

// EnqueuePrune schedules a background prune pass over one data page.
// Nothing in the engine calls it on its own; Transaction.Commit does
// not enqueue prunes.
func (e *Engine) EnqueuePrune(addr page.Addr) {
	e.cleaner.Enqueue(cleanup.Action{Kind: cleanup.PruneAction, VolumeID: e.vol.Header.VolumeID, Addr: uint64(addr)})
}

func openOrCreateVolume(path string, cfg config.Config) (*volume.Volume, error) {
	if _, err := filepathStat(path); err == nil {
		return volume.OpenExisting(path, false)
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return volume.Create(path, cfg.PageSize, cfg.InitialPages, cfg.MaximumPages, cfg.ExtensionPages)
}

func bufferCountFor(cfg config.Config) int {
	if n, ok := cfg.BufferCount[cfg.PageSize]; ok {
		return n
	}
	return 256
}

// dirtyFloor reports the lowest write-timestamp among currently dirty
// buffers, or 0 if none are dirty, used by the checkpointer to avoid
// writing CP(t) before every page dirtied below t has been journaled.
func (e *Engine) dirtyFloor() uint64 {
	var floor uint64
	for _, b := range e.pool.DirtyBuffers() {
		ts := b.Page().Timestamp()
		if floor == 0 || ts < floor {
			floor = ts
		}
	}
	return floor
}

// Tree opens (creating if needed) a named tree, caching the handle.
func (e *Engine) Tree(name string) (*btree.Tree, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.trees[name]; ok {
		return t, nil
	}
	t, err := btree.Open(e.store, name)
	if err != nil {
		return nil, err
	}
	treeName := name
	t.SetHoleReporter(func(addr page.Addr) {
		e.cleaner.Enqueue(cleanup.Action{Kind: cleanup.IndexHoleAction, VolumeID: e.vol.Header.VolumeID, Addr: uint64(addr), TreeName: treeName})
	})
	e.trees[name] = t
	return t, nil
}

// DropTree reclaims every page the named tree owns — index pages,
// leaf pages, and any long-record chains spilled from a leaf value —
// before removing it from the directory, so a dropped tree's space is
// returned to the garbage chain rather than leaked.
func (e *Engine) DropTree(name string) error {
	e.mu.Lock()
	t, cached := e.trees[name]
	delete(e.trees, name)
	e.mu.Unlock()

	if !cached {
		if _, ok := e.store.Lookup(name); !ok {
			return nil // nothing registered under name: nothing to drop
		}
		var err error
		t, err = btree.Open(e.store, name)
		if err != nil {
			return err
		}
	}
	pages, err := t.CollectPages()
	if err != nil {
		return err
	}
	if err := e.store.FreeChain(pages); err != nil {
		return err
	}
	e.store.RemoveTree(name)
	return nil
}

func (e *Engine) Registry() *prometheus.Registry { return e.reg }
func (e *Engine) Integrity() *store.Structure    { return e.store }

// Close stops background goroutines and flushes durable state.
func (e *Engine) Close() error {
	e.cancel()
	e.idx.Stop()
	e.cleaner.Stop()
	if err := e.flushDirectory(); err != nil {
		return err
	}
	if err := e.jm.Close(); err != nil {
		return err
	}
	return e.vol.Close()
}

func (e *Engine) flushDirectory() error {
	buf := make([]byte, e.cfg.PageSize)
	copy(buf, e.vol.Header.Encode())
	if err := e.store.EncodeDirectory(buf); err != nil {
		return err
	}
	if err := e.vol.WritePage(0, buf); err != nil {
		return err
	}
	e.store.ClearDirectoryDirty()
	return e.vol.Force()
}
