package volume

import (
	"sync"
	"time"

	"ledgerkv/pkg/dberrors"
	"ledgerkv/pkg/page"
)

// Volume combines the raw File with its head-page header and the
// allocation policy: extend by ExtensionPages (capped by
// MaximumPages) whenever NextAvailable
// reaches ExtendedPages.
type Volume struct {
	*File

	mu     sync.Mutex
	Header Header
}

// Create initializes a brand-new volume file: truncates it, writes an
// initial header, and extends to InitialPages.
func Create(path string, pageSize int, initialPages, maximumPages, extensionPages uint64) (*Volume, error) {
	f, err := Open(path, pageSize, false)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(); err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	h := Header{
		Signature:       Signature,
		Version:         1,
		PageSize:        uint32(pageSize),
		VolumeID:        NewVolumeID(),
		NextAvailable:   1, // page 0 is the head page
		ExtendedPages:   initialPages,
		CreateTimeMs:    now,
		LastExtensionMs: now,
		InitialPages:    initialPages,
		MaximumPages:    maximumPages,
		ExtensionPages:  extensionPages,
		GlobalTimestamp: 0,
	}
	if initialPages < 1 {
		initialPages = 1
	}
	if err := f.Extend(initialPages); err != nil {
		return nil, err
	}
	v := &Volume{File: f, Header: h}
	if err := v.writeHeader(); err != nil {
		return nil, err
	}
	return v, nil
}

// OpenExisting opens a previously-created volume and loads its header
// from page 0.
func OpenExisting(path string, readOnly bool) (*Volume, error) {
	// The page size is not known until we read the header, so probe
	// with a HeaderSize-sized page first; HeaderSize fits within every
	// legal page size.
	f, err := Open(path, HeaderSize, readOnly)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize)
	if err := f.ReadPage(0, buf[:min(len(buf), page.DefaultSize)]); err != nil {
		f.Close()
		return nil, err
	}
	h := DecodeHeader(buf)
	if h.Signature != Signature {
		f.Close()
		return nil, dberrors.Corruption(0, "bad volume signature in %s", path)
	}
	f.PageSize = int(h.PageSize)
	v := &Volume{File: f, Header: h}
	return v, nil
}

func (v *Volume) writeHeader() error {
	buf := make([]byte, v.PageSize)
	copy(buf, v.Header.Encode())
	return v.WritePage(0, buf)
}

// Flush persists the header (e.g. after NextAvailable/DirectoryRoot/
// GarbageRoot change) and fsyncs.
func (v *Volume) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Header.LastWriteMs = time.Now().UnixMilli()
	if err := v.writeHeader(); err != nil {
		return err
	}
	return v.Force()
}

// NextPage implements the tail-of-file half of page allocation: bump
// NextAvailable, extending the file (capped by MaximumPages) if the
// new address would exceed ExtendedPages.
func (v *Volume) NextPage() (page.Addr, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	addr := v.Header.NextAvailable
	if addr+1 > v.Header.ExtendedPages {
		newExtended := v.Header.ExtendedPages + v.Header.ExtensionPages
		if v.Header.MaximumPages != 0 && newExtended > v.Header.MaximumPages {
			newExtended = v.Header.MaximumPages
		}
		if newExtended <= addr {
			return 0, dberrors.VolumeFull("volume %s exhausted (max %d pages)", v.Path, v.Header.MaximumPages)
		}
		if err := v.Extend(newExtended); err != nil {
			return 0, err
		}
		v.Header.ExtendedPages = newExtended
		v.Header.LastExtensionMs = time.Now().UnixMilli()
	}
	v.Header.NextAvailable = addr + 1
	return page.Addr(addr), nil
}

// Tick advances and returns the volume's global timestamp, used as
// the page "last modified" timestamp and as the basis for
// transaction start timestamps when a volume-local allocator is used
// directly (engine-level deployments share one allocator across
// volumes instead; see pkg/txnindex).
func (v *Volume) Tick() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Header.GlobalTimestamp++
	return v.Header.GlobalTimestamp
}
