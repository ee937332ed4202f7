package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"ledgerkv/pkg/dberrors"
)

// segment is one rolling journal file. Segment names embed a UUID so
// concurrent engines sharing a journalpath (a misconfiguration, but
// not one worth guarding against explicitly) never collide.
type segment struct {
	mu     sync.Mutex
	path   string
	fp     *os.File
	size   int64
	maxSize int64
}

func newSegmentPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("ledgerkv_%s.jnl", uuid.New().String()))
}

func createSegment(dir string, maxSize int64) (*segment, error) {
	path := newSegmentPath(dir)
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, dberrors.IoError(err, "create journal segment %s", path)
	}
	s := &segment{path: path, fp: fp, maxSize: maxSize}
	header := Encode(Record{Type: TypeJH, Payload: []byte(path)})
	if err := s.appendLocked(header); err != nil {
		return nil, err
	}
	return s, nil
}

func openSegmentForReplay(path string) (*os.File, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, dberrors.IoError(err, "open journal segment %s", path)
	}
	return fp, nil
}

// append writes b at the segment's current end and returns the offset
// it was written at, so a caller can later seek straight back to it
// (the page map uses this to locate a PA record's payload).
func (s *segment) append(b []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset := s.size
	if err := s.appendLocked(b); err != nil {
		return 0, err
	}
	return offset, nil
}

func (s *segment) appendLocked(b []byte) error {
	n, err := s.fp.Write(b)
	if err != nil {
		return dberrors.IoError(err, "append to journal segment %s", s.path)
	}
	s.size += int64(n)
	return nil
}

// readAt reads len(buf) bytes starting at offset, independent of the
// file's write position (os.File.ReadAt is safe to call concurrently
// with appendLocked's sequential Write).
func (s *segment) readAt(offset int64, buf []byte) error {
	if _, err := s.fp.ReadAt(buf, offset); err != nil {
		return dberrors.IoError(err, "read journal segment %s at %d", s.path, offset)
	}
	return nil
}

func (s *segment) full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size >= s.maxSize
}

// syncSoft does nothing: no fsync call at all, relying on the OS to
// eventually write back. This policy trades durability against the
// group/hard commit latency cost; Commit calls it only for PolicySoft.
func (s *segment) syncSoft() {}

func (s *segment) syncHard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := unix.Fdatasync(int(s.fp.Fd())); err != nil {
		return dberrors.IoError(err, "fdatasync journal segment %s", s.path)
	}
	return nil
}

func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp.Close()
}
