package store

import (
	"encoding/binary"

	"ledgerkv/pkg/dberrors"
	"ledgerkv/pkg/page"
)

// The directory maps tree name -> root page address. It is small
// (one entry per user-visible tree) so, unlike the B+-tree-indexed
// data the engine stores on behalf of callers, it is kept as a flat
// length-prefixed list packed into the volume head page's unused tail
// space rather than as a tree of its own — avoiding the chicken-and-egg
// problem of a B+-tree needing the directory to find its own root.
const dirListOffset = 512 // well past Header's 160 bytes, page-size permitting

// LoadDirectory decodes the directory list from the head page bytes.
func (s *Structure) LoadDirectory(headPageData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directory = make(map[string]page.Addr)
	if len(headPageData) < dirListOffset+4 {
		return nil
	}
	buf := headPageData[dirListOffset:]
	count := binary.BigEndian.Uint32(buf)
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+2 > len(buf) {
			return dberrors.Corruption(0, "directory list truncated")
		}
		nlen := int(binary.BigEndian.Uint16(buf[off:]))
		off += 2
		if off+nlen+8 > len(buf) {
			return dberrors.Corruption(0, "directory list truncated")
		}
		name := string(buf[off : off+nlen])
		off += nlen
		addr := page.Addr(binary.BigEndian.Uint64(buf[off:]))
		off += 8
		s.directory[name] = addr
	}
	return nil
}

// EncodeDirectory serializes the directory back into headPageData's
// tail region; the caller writes headPageData back as page 0 itself
// (Volume.Flush rewrites page 0 from the header alone and does not
// keep this region).
func (s *Structure) EncodeDirectory(headPageData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := headPageData[dirListOffset:]
	off := 4
	for name, addr := range s.directory {
		need := 2 + len(name) + 8
		if off+need > len(buf) {
			return dberrors.Corruption(0, "directory too large for head page")
		}
		binary.BigEndian.PutUint16(buf[off:], uint16(len(name)))
		off += 2
		copy(buf[off:], name)
		off += len(name)
		binary.BigEndian.PutUint64(buf[off:], uint64(addr))
		off += 8
	}
	binary.BigEndian.PutUint32(buf, uint32(len(s.directory)))
	for i := off; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// Names returns every tree name currently registered in the directory.
func (s *Structure) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.directory))
	for name := range s.directory {
		out = append(out, name)
	}
	return out
}

// Lookup returns a named tree's root page address.
func (s *Structure) Lookup(name string) (page.Addr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.directory[name]
	return a, ok
}

// CreateTree allocates a fresh, empty leaf data page and registers it
// under name, or returns the existing root if name is already present.
func (s *Structure) CreateTree(name string) (page.Addr, error) {
	s.mu.Lock()
	if addr, ok := s.directory[name]; ok {
		s.mu.Unlock()
		return addr, nil
	}
	s.mu.Unlock()

	addr, buf, err := s.AllocPage()
	if err != nil {
		return 0, err
	}
	root := buf.Page()
	root.SetType(page.TypeData)
	root.SetLevel(0)
	s.Pool.Release(buf, true, true)

	s.mu.Lock()
	s.directory[name] = addr
	s.dirDirty = true
	s.mu.Unlock()
	return addr, nil
}

// RemoveTree drops name from the directory. The caller is responsible
// for having already freed the tree's own pages via FreeChain.
func (s *Structure) RemoveTree(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.directory, name)
	s.dirDirty = true
}

// SetRoot updates a tree's root address after a split changes it.
func (s *Structure) SetRoot(name string, addr page.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directory[name] = addr
	s.dirDirty = true
}

func (s *Structure) DirectoryDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirDirty
}

func (s *Structure) ClearDirectoryDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirDirty = false
}
