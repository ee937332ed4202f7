package journal

import "sync"

type pageKey struct {
	VolumeID uint64
	Addr     uint64
}

type pageLocation struct {
	seg    *segment
	offset int64
	length int
}

// PageMap remembers where the most recently journaled copy of each
// page lives, so a reader can be handed the freshest bytes straight
// out of the journal instead of a volume file that only recovery and
// checkpoint rollover ever bring up to date. Append updates an entry
// every time it writes a PA record; nothing else ever removes one —
// a page map entry, once written, answers for that page for the rest
// of the process's life (recovery on the next Open rebuilds the
// volume file from the journal anyway, so staleness never persists
// across a restart).
type PageMap struct {
	mu      sync.RWMutex
	entries map[pageKey]pageLocation
}

func newPageMap() *PageMap {
	return &PageMap{entries: make(map[pageKey]pageLocation)}
}

func (m *PageMap) record(volumeID, addr uint64, seg *segment, offset int64, length int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[pageKey{volumeID, addr}] = pageLocation{seg: seg, offset: offset, length: length}
}

// ReadPage fills buf with the page's journaled bytes and reports
// found=true, or reports found=false if the journal holds no copy of
// this page — the caller should fall back to the volume file.
func (m *PageMap) ReadPage(volumeID uint64, addr uint64, buf []byte) (found bool, err error) {
	m.mu.RLock()
	loc, ok := m.entries[pageKey{volumeID, addr}]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := loc.seg.readAt(loc.offset, buf[:loc.length]); err != nil {
		return false, err
	}
	return true, nil
}
