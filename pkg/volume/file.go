package volume

import (
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"ledgerkv/pkg/dberrors"
	"ledgerkv/pkg/page"
)

// File is a single volume's raw, page-granular, positioned-I/O
// surface. It owns exactly one *os.File and never interprets page
// contents — that is pkg/btree's and pkg/store's job.
type File struct {
	Path     string
	PageSize int
	ReadOnly bool

	mu sync.Mutex
	fp *os.File

	header Header
}

// NewVolumeID derives the header's random positive 8-byte volume id
// from a fresh UUID's low 8 bytes, masked positive.
func NewVolumeID() uint64 {
	id := uuid.New()
	b := id[8:16]
	v := uint64(0)
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v &^ (1 << 63)
}

// Open acquires an advisory range lock over the whole file ([0, +inf))
// — shared for read-only, exclusive otherwise — and fails with InUse
// if another process/thread already holds a conflicting lock.
func Open(path string, pageSize int, readOnly bool) (*File, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	} else {
		flags |= os.O_CREATE
	}
	fp, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, dberrors.IoError(err, "open volume %s", path)
	}
	lockType := unix.F_WRLCK
	if readOnly {
		lockType = unix.F_RDLCK
	}
	flock := unix.Flock_t{Type: int16(lockType), Whence: int16(os.SEEK_SET), Start: 0, Len: 0}
	if err := unix.FcntlFlock(fp.Fd(), unix.F_SETLK, &flock); err != nil {
		fp.Close()
		return nil, dberrors.InUse("volume %s locked by another process: %v", path, err)
	}
	vf := &File{Path: path, PageSize: pageSize, ReadOnly: readOnly, fp: fp}
	return vf, nil
}

// ReadPage performs a positioned read of exactly one page. Short reads
// are retried; a genuine I/O error is reported as KindIoError without
// any partial buffer mutation visible to the caller (we read into a
// scratch buffer first).
func (f *File) ReadPage(addr page.Addr, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	off := int64(addr) * int64(f.PageSize)
	scratch := make([]byte, f.PageSize)
	read := 0
	for read < f.PageSize {
		n, err := unix.Pread(int(f.fp.Fd()), scratch[read:], off+int64(read))
		if err != nil {
			return dberrors.IoError(err, "read page %d", addr)
		}
		if n == 0 {
			return dberrors.IoError(nil, "short read at page %d", addr)
		}
		read += n
	}
	copy(buf, scratch)
	return nil
}

// WritePage performs a positioned write of exactly one page. This
// must only be called from the journal's page-writer path, never
// directly by application code.
func (f *File) WritePage(addr page.Addr, buf []byte) error {
	if f.ReadOnly {
		return dberrors.ReadOnly("volume %s is read-only", f.Path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	off := int64(addr) * int64(f.PageSize)
	written := 0
	for written < len(buf) {
		n, err := unix.Pwrite(int(f.fp.Fd()), buf[written:], off+int64(written))
		if err != nil {
			return dberrors.IoError(err, "write page %d", addr)
		}
		written += n
	}
	return nil
}

// Extend grows the file to hold newPageCount pages with Fallocate,
// falling back to writing a single byte at the final offset when
// Fallocate fails, and then forces data and metadata.
func (f *File) Extend(newPageCount uint64) error {
	if f.ReadOnly {
		return dberrors.ReadOnly("volume %s is read-only", f.Path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	size := int64(newPageCount) * int64(f.PageSize)
	if err := unix.Fallocate(int(f.fp.Fd()), 0, 0, size); err != nil {
		// Fallocate can be unsupported on some filesystems; fall back
		// to a byte-at-end-of-file write, which at least guarantees the
		// size.
		if _, err2 := f.fp.WriteAt([]byte{0}, size-1); err2 != nil {
			return dberrors.IoError(err2, "extend volume %s to %d pages", f.Path, newPageCount)
		}
	}
	return f.forceLocked()
}

// Truncate re-creates a fresh, empty volume file. Used only for
// new/reset volumes, never during normal operation.
func (f *File) Truncate() error {
	if f.ReadOnly {
		return dberrors.ReadOnly("volume %s is read-only", f.Path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fp.Truncate(0); err != nil {
		return dberrors.IoError(err, "truncate volume %s", f.Path)
	}
	return nil
}

// Force flushes file data and metadata to durable storage.
func (f *File) Force() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forceLocked()
}

func (f *File) forceLocked() error {
	if err := unix.Fsync(int(f.fp.Fd())); err != nil {
		return dberrors.IoError(err, "fsync volume %s", f.Path)
	}
	return nil
}

func (f *File) Size() (int64, error) {
	fi, err := f.fp.Stat()
	if err != nil {
		return 0, dberrors.IoError(err, "stat volume %s", f.Path)
	}
	return fi.Size(), nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fp.Close()
}
