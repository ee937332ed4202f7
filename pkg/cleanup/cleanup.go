// Package cleanup implements the CleanupManager/Checkpointer: a
// bounded background queue of prune and index-hole actions, and
// periodic checkpoint creation. Tree statistics are not flushed here.
package cleanup

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"ledgerkv/pkg/journal"
)

// ActionKind distinguishes the two background work items.
type ActionKind int

const (
	PruneAction ActionKind = iota
	IndexHoleAction
)

// Action is one unit of background work: a page needing its MVV
// values pruned, or a leaf page a reader only reached by walking right
// siblings — TreeName and Addr are enough for IndexHoleAction's handler
// to re-descend and splice the missing separator into the leaf's
// parent, proactively repairing the hole rather than leaving every
// future reader to pay for the same walk.
type Action struct {
	Kind     ActionKind
	VolumeID uint64
	Addr     uint64
	TreeName string
}

// mailboxSize bounds the action queue: a slow consumer applies
// backpressure to producers (Enqueue blocks) rather than growing
// memory without limit.
const mailboxSize = 4096

// Checkpointer periodically asks the journal to record a checkpoint
// once every dirty page older than the checkpoint's chosen timestamp
// has been journaled.
type Checkpointer struct {
	jm       *journal.Manager
	interval time.Duration
	nextTS   func() uint64
	dirtyFloor func() uint64 // lowest writeTimestamp among still-dirty buffers

	log zerolog.Logger
	duration prometheus.Histogram
}

func NewCheckpointer(jm *journal.Manager, interval time.Duration, nextTS, dirtyFloor func() uint64, reg prometheus.Registerer, log zerolog.Logger) *Checkpointer {
	c := &Checkpointer{
		jm: jm, interval: interval, nextTS: nextTS, dirtyFloor: dirtyFloor,
		log: log.With().Str("component", "cleanup.checkpointer").Logger(),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ledgerkv_checkpoint_duration_seconds", Help: "Time spent writing one checkpoint record.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(c.duration)
	}
	return c
}

func (c *Checkpointer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkpointOnce()
		}
	}
}

func (c *Checkpointer) checkpointOnce() {
	start := time.Now()
	// A checkpoint at ts is only valid once every page dirtied before
	// ts has reached the journal; if the floor hasn't caught up yet,
	// skip this tick rather than writing a premature CP record.
	ts := c.nextTS()
	if floor := c.dirtyFloor(); floor != 0 && floor < ts {
		c.log.Debug().Uint64("ts", ts).Uint64("floor", floor).Msg("deferring checkpoint, dirty pages not yet journaled")
		return
	}
	if err := c.jm.Append(journal.Record{Type: journal.TypeCP, Payload: journal.EncodeCP(ts)}); err != nil {
		c.log.Error().Err(err).Msg("checkpoint append failed")
		return
	}
	if err := c.jm.Commit(journal.PolicyHard); err != nil {
		c.log.Error().Err(err).Msg("checkpoint commit failed")
		return
	}
	c.duration.Observe(time.Since(start).Seconds())
}

// Manager drains a bounded action queue with a small worker pool, a
// background-worker-with-stopping-channel idiom.
type Manager struct {
	actions chan Action
	handle  func(Action) error
	log     zerolog.Logger
	stop    chan struct{}
}

func NewManager(workers int, handle func(Action) error, log zerolog.Logger) *Manager {
	m := &Manager{
		actions: make(chan Action, mailboxSize),
		handle:  handle,
		log:     log.With().Str("component", "cleanup.manager").Logger(),
		stop:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go m.worker()
	}
	return m
}

func (m *Manager) worker() {
	for {
		select {
		case <-m.stop:
			return
		case a := <-m.actions:
			if err := m.handle(a); err != nil {
				m.log.Error().Err(err).Interface("action", a).Msg("cleanup action failed")
			}
		}
	}
}

// Enqueue blocks once the mailbox is full, applying backpressure
// instead of growing an unbounded queue.
func (m *Manager) Enqueue(a Action) {
	m.actions <- a
}

func (m *Manager) Stop() {
	close(m.stop)
}
