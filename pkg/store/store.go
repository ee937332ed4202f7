// Package store implements the VolumeStructure: page allocation from
// the garbage chain or the volume's tail, chain freeing, and the
// directory of named trees held in the volume head.
package store

import (
	"sync"

	"ledgerkv/pkg/buffer"
	"ledgerkv/pkg/page"
	"ledgerkv/pkg/volume"
)

// VolumeSource adapts a *volume.Volume into buffer.Source/buffer.Sink
// so the pool never touches a *os.File directly.
type VolumeSource struct {
	Vol *volume.Volume
}

func (s *VolumeSource) ReadPage(volumeID uint64, addr page.Addr, buf []byte) error {
	return s.Vol.ReadPage(addr, buf)
}

func (s *VolumeSource) WritePage(volumeID uint64, addr page.Addr, data []byte) error {
	return s.Vol.WritePage(addr, data)
}

// Structure owns one volume's allocation state: the garbage chain head
// and the directory of tree name -> root page address, both persisted
// in the volume head page (the garbage root in the header, the
// directory as a flat list after it).
type Structure struct {
	Vol      *volume.Volume
	Pool     *buffer.Pool
	VolumeID uint64

	mu        sync.Mutex
	directory map[string]page.Addr
	dirDirty  bool
}

func New(vol *volume.Volume, pool *buffer.Pool) *Structure {
	return &Structure{
		Vol:       vol,
		Pool:      pool,
		VolumeID:  vol.Header.VolumeID,
		directory: make(map[string]page.Addr),
	}
}

// AllocPage returns a freshly zeroed, exclusively-claimed buffer for a
// new page: popped off the garbage chain when one is available (and,
// when a garbage node itself becomes empty, the node's own address is
// recycled as the allocation), otherwise extended from the volume's
// tail.
func (s *Structure) AllocPage() (page.Addr, *buffer.Buffer, error) {
	s.mu.Lock()
	root := page.Addr(s.Vol.Header.GarbageRoot)
	s.mu.Unlock()

	if root != 0 {
		head, err := s.Pool.Get(s.VolumeID, root, true)
		if err != nil {
			return 0, nil, err
		}
		gp := head.Page()
		n := gCount(gp)
		if n > 0 {
			addr := gPtrAt(gp, n-1)
			gSetCount(gp, n-1)
			head.MarkDirty()
			s.Pool.Release(head, true, true)
			buf, err := s.Pool.GetNew(s.VolumeID, addr)
			if err != nil {
				return 0, nil, err
			}
			return addr, buf, nil
		}
		// Head node itself is now garbage: recycle its own address and
		// advance the chain root to whatever it pointed at next.
		next := gp.RightSibling()
		s.Pool.Release(head, true, false)
		s.mu.Lock()
		s.Vol.Header.GarbageRoot = uint64(next)
		s.mu.Unlock()
		buf, err := s.Pool.GetNew(s.VolumeID, root)
		if err != nil {
			return 0, nil, err
		}
		return root, buf, nil
	}

	addr, err := s.Vol.NextPage()
	if err != nil {
		return 0, nil, err
	}
	buf, err := s.Pool.GetNew(s.VolumeID, addr)
	if err != nil {
		return 0, nil, err
	}
	return addr, buf, nil
}

// FreeChain prepends addrs onto the garbage chain, filling each
// garbage node to capacity before starting a new one.
func (s *Structure) FreeChain(addrs []page.Addr) error {
	if len(addrs) == 0 {
		return nil
	}
	cap := garbageCapacity(s.Vol.PageSize)

	s.mu.Lock()
	next := page.Addr(s.Vol.Header.GarbageRoot)
	s.mu.Unlock()

	// Try to top up the existing head node first so small frees don't
	// always cost a fresh page.
	if next != 0 {
		head, err := s.Pool.Get(s.VolumeID, next, true)
		if err != nil {
			return err
		}
		gp := head.Page()
		n := gCount(gp)
		room := cap - n
		if room > 0 {
			take := room
			if take > len(addrs) {
				take = len(addrs)
			}
			for i := 0; i < take; i++ {
				gSetPtrAt(gp, n+i, addrs[i])
			}
			gSetCount(gp, n+take)
			head.MarkDirty()
			addrs = addrs[take:]
		}
		s.Pool.Release(head, true, true)
	}

	for len(addrs) > 0 {
		n := len(addrs)
		if n > cap {
			n = cap
		}
		chunk := addrs[:n]
		addrs = addrs[n:]

		nodeAddr, buf, err := s.allocRawPage()
		if err != nil {
			return err
		}
		gp := buf.Page()
		gInit(gp, next)
		for i, a := range chunk {
			gSetPtrAt(gp, i, a)
		}
		gSetCount(gp, len(chunk))
		s.Pool.Release(buf, true, true)
		next = nodeAddr
	}

	s.mu.Lock()
	s.Vol.Header.GarbageRoot = uint64(next)
	s.mu.Unlock()
	return nil
}

// allocRawPage extends the volume's tail directly, bypassing the
// garbage chain — used internally by FreeChain so freeing pages never
// recursively consumes the very chain it is appending to.
func (s *Structure) allocRawPage() (page.Addr, *buffer.Buffer, error) {
	addr, err := s.Vol.NextPage()
	if err != nil {
		return 0, nil, err
	}
	buf, err := s.Pool.GetNew(s.VolumeID, addr)
	if err != nil {
		return 0, nil, err
	}
	return addr, buf, nil
}
