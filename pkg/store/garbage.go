package store

import (
	"encoding/binary"

	"ledgerkv/pkg/page"
)

// Garbage pages hold a vector of freed page addresses plus a link to
// the next node (type|size|total|next|ptrs), built on the common page
// header: RightSibling is reused as the chain's "next" pointer and the
// entry count lives right after the header, so a garbage page is a
// normal Page rather than a bespoke byte layout.
const (
	gOffCount = page.HeaderSize
	gOffPtrs  = page.HeaderSize + 2
)

func garbageCapacity(pageSize int) int {
	return (pageSize - gOffPtrs) / 8
}

func gCount(p page.Page) int {
	return int(binary.BigEndian.Uint16(p.Data[gOffCount:]))
}

func gSetCount(p page.Page, n int) {
	binary.BigEndian.PutUint16(p.Data[gOffCount:], uint16(n))
}

func gPtrAt(p page.Page, i int) page.Addr {
	return page.Addr(binary.BigEndian.Uint64(p.Data[gOffPtrs+i*8:]))
}

func gSetPtrAt(p page.Page, i int, addr page.Addr) {
	binary.BigEndian.PutUint64(p.Data[gOffPtrs+i*8:], uint64(addr))
}

func gInit(p page.Page, next page.Addr) {
	p.SetType(page.TypeGarbage)
	p.SetLevel(0)
	p.SetRightSibling(next)
	gSetCount(p, 0)
}
