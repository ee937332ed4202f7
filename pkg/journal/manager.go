package journal

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"ledgerkv/pkg/dberrors"
)

// CommitPolicy controls how hard Commit waits for durability before
// returning.
type CommitPolicy int

const (
	// PolicySoft returns without any fsync: Append has already written
	// the record to the segment file, so it survives a process crash,
	// but a power loss or OS crash before write-back can lose it.
	PolicySoft CommitPolicy = iota
	// PolicyHard fsyncs the segment before returning: survives a
	// process crash or power loss, at the cost of one fsync per commit.
	PolicyHard
	// PolicyGroup batches concurrent hard commits behind a single
	// fsync call every groupCommitWindow, trading a small added
	// latency for much higher commit throughput under contention.
	PolicyGroup
)

const defaultGroupCommitWindow = 2 * time.Millisecond

// Manager owns the active segment and the group-commit waiter queue.
type Manager struct {
	dir          string
	segmentSize  int64
	groupWindow  time.Duration

	mu      sync.Mutex
	active  *segment
	waiters []chan error
	flushing bool

	pageMap *PageMap

	log zerolog.Logger

	bytesWritten prometheus.Counter
	commits      prometheus.Counter
	commitLatency prometheus.Histogram
}

type Options struct {
	Dir               string
	SegmentSize       int64
	GroupCommitWindow time.Duration
	Log               zerolog.Logger
	Registerer        prometheus.Registerer
}

func Open(opts Options) (*Manager, error) {
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = 64 << 20
	}
	if opts.GroupCommitWindow <= 0 {
		opts.GroupCommitWindow = defaultGroupCommitWindow
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, dberrors.IoError(err, "create journal directory %s", opts.Dir)
	}
	m := &Manager{
		dir:         opts.Dir,
		segmentSize: opts.SegmentSize,
		groupWindow: opts.GroupCommitWindow,
		pageMap:     newPageMap(),
		log:         opts.Log.With().Str("component", "journal").Logger(),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerkv_journal_bytes_written_total", Help: "Bytes appended to journal segments.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerkv_journal_commits_total", Help: "Commit calls completed.",
		}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ledgerkv_journal_commit_latency_seconds", Help: "Time spent waiting for a commit's durability guarantee.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(m.bytesWritten, m.commits, m.commitLatency)
	}
	seg, err := createSegment(opts.Dir, opts.SegmentSize)
	if err != nil {
		return nil, err
	}
	m.active = seg
	return m, nil
}

// Append writes one record to the active segment, rolling to a new
// segment first if the active one has reached its size limit. A PA
// record also updates the page map so a subsequent read of that page
// can be satisfied from the journal rather than the (possibly stale)
// volume file.
func (m *Manager) Append(rec Record) error {
	b := Encode(rec)
	m.mu.Lock()
	if m.active.full() {
		if err := m.rollLocked(); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	seg := m.active
	m.mu.Unlock()

	offset, err := seg.append(b)
	if err != nil {
		return err
	}
	m.bytesWritten.Add(float64(len(b)))

	if rec.Type == TypePA {
		volumeID, addr, data, derr := DecodePA(rec.Payload)
		if derr == nil {
			m.pageMap.record(volumeID, addr, seg, offset+recordHeaderSize+16, len(data))
		}
	}
	return nil
}

// PageMap returns the manager's journal page map, consulted by the
// buffer pool before falling back to the volume file on a miss.
func (m *Manager) PageMap() *PageMap { return m.pageMap }

func (m *Manager) rollLocked() error {
	seg, err := createSegment(m.dir, m.segmentSize)
	if err != nil {
		return err
	}
	m.active = seg
	return nil
}

// Commit waits for the active segment's durability guarantee
// according to policy, after the caller has already Append'd every
// record belonging to the commit (typically ending in a TC record).
func (m *Manager) Commit(policy CommitPolicy) error {
	start := time.Now()
	defer func() {
		m.commits.Inc()
		m.commitLatency.Observe(time.Since(start).Seconds())
	}()

	switch policy {
	case PolicySoft:
		m.mu.Lock()
		seg := m.active
		m.mu.Unlock()
		seg.syncSoft()
		return nil
	case PolicyHard:
		m.mu.Lock()
		seg := m.active
		m.mu.Unlock()
		return seg.syncHard()
	case PolicyGroup:
		return m.groupCommit()
	default:
		return dberrors.Corruption(0, "unknown commit policy %d", policy)
	}
}

// groupCommit implements a batched-fsync policy: the first waiter in
// a window becomes the flusher, sleeps groupWindow, then fsyncs once
// on behalf of every waiter that queued up meanwhile.
func (m *Manager) groupCommit() error {
	done := make(chan error, 1)
	m.mu.Lock()
	m.waiters = append(m.waiters, done)
	shouldFlush := !m.flushing
	if shouldFlush {
		m.flushing = true
	}
	seg := m.active
	m.mu.Unlock()

	if shouldFlush {
		time.Sleep(m.groupWindow)
		err := seg.syncHard()
		m.mu.Lock()
		waiters := m.waiters
		m.waiters = nil
		m.flushing = false
		m.mu.Unlock()
		for _, w := range waiters {
			w <- err
		}
	}
	return <-done
}

// Close fsyncs and closes the active segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.active.syncHard(); err != nil {
		return err
	}
	return m.active.close()
}

// Segments lists every segment file in the journal directory ordered
// by modification time (lexical order of the UUID-suffixed name is not
// chronological, so the names are not sorted).
func (m *Manager) Segments() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, dberrors.IoError(err, "list journal directory %s", m.dir)
	}
	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(m.dir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}
