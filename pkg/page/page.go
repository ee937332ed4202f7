// Package page implements the on-disk page layout shared by every
// page type: a fixed header followed by a key-block array that grows
// up from the header and a tail pool that grows down from the page end.
package page

import (
	"encoding/binary"

	"ledgerkv/pkg/dberrors"
)

// Type tags a page's role. Index pages additionally carry a Level
// (1 = leaf's immediate parent, increasing toward the root).
type Type uint8

const (
	TypeUnallocated Type = iota
	TypeHead
	TypeData
	TypeIndex
	TypeLongRecord
	TypeGarbage
)

func (t Type) String() string {
	switch t {
	case TypeHead:
		return "head"
	case TypeData:
		return "data"
	case TypeIndex:
		return "index"
	case TypeLongRecord:
		return "long-record"
	case TypeGarbage:
		return "garbage"
	default:
		return "unallocated"
	}
}

// Header byte offsets.
const (
	offType         = 0
	offLevel        = 1
	offRightSibling = 2
	offTimestamp    = 10
	offAllocCursor  = 18
	HeaderSize      = 22
)

// Size bounds: 1 KiB <= page size <= 16 KiB, power of two.
const (
	MinSize     = 1024
	MaxSize     = 16384
	DefaultSize = 16384
)

// LongRecordStubSize is the 32-byte stub left in place of an
// over-length value: total length (8B) + prefix (16B) + head-of-chain
// pointer (8B).
const LongRecordStubSize = 32

// Addr identifies a page within a single volume. Address 0 is always
// the head page.
type Addr uint64

// Page wraps a single page-sized byte buffer. It never copies; all
// accessors read/write the underlying slice directly, mirroring the
// teacher's BNode wrapper.
type Page struct {
	Data []byte
}

func New(size int) Page { return Page{Data: make([]byte, size)} }

func Wrap(data []byte) Page { return Page{Data: data} }

func (p Page) Size() int { return len(p.Data) }

func (p Page) Type() Type           { return Type(p.Data[offType]) }
func (p Page) SetType(t Type)       { p.Data[offType] = byte(t) }
func (p Page) Level() uint8         { return p.Data[offLevel] }
func (p Page) SetLevel(level uint8) { p.Data[offLevel] = level }

func (p Page) RightSibling() Addr {
	return Addr(binary.BigEndian.Uint64(p.Data[offRightSibling:]))
}
func (p Page) SetRightSibling(a Addr) {
	binary.BigEndian.PutUint64(p.Data[offRightSibling:], uint64(a))
}

func (p Page) Timestamp() uint64 { return binary.BigEndian.Uint64(p.Data[offTimestamp:]) }
func (p Page) SetTimestamp(ts uint64) {
	binary.BigEndian.PutUint64(p.Data[offTimestamp:], ts)
}

// AllocCursor is the byte offset of the first free byte after the
// upward-growing key-block array (equivalently: HeaderSize+2+nkeys*blockSize).
func (p Page) AllocCursor() uint32 { return binary.BigEndian.Uint32(p.Data[offAllocCursor:]) }
func (p Page) setAllocCursor(v uint32) {
	binary.BigEndian.PutUint32(p.Data[offAllocCursor:], v)
}

// --- body layout ---
//
// HeaderSize .. HeaderSize+2           : nkeys (uint16)
// HeaderSize+2 .. AllocCursor()        : key blocks, blockSize bytes each
// tailFloor() .. len(Data)             : tail pool, growing downward
//
// key block: ebc(1B) keylen(1B) tailOff(2B) ptr(8B) = 12 bytes.
const (
	blockSize  = 12
	bodyStart  = HeaderSize + 2
)

func (p Page) NKeys() int { return int(binary.BigEndian.Uint16(p.Data[HeaderSize:])) }
func (p Page) setNKeys(n int) {
	binary.BigEndian.PutUint16(p.Data[HeaderSize:], uint16(n))
}

func blockOff(idx int) int { return bodyStart + idx*blockSize }

func (p Page) ebc(idx int) int    { return int(p.Data[blockOff(idx)]) }
func (p Page) keylen(idx int) int { return int(p.Data[blockOff(idx)+1]) }
func (p Page) tailOff(idx int) int {
	return int(binary.BigEndian.Uint16(p.Data[blockOff(idx)+2:]))
}
func (p Page) ptrRaw(idx int) uint64 {
	return binary.BigEndian.Uint64(p.Data[blockOff(idx)+4:])
}

// PtrAt returns the child page address stored in an index page's idx'th
// key block.
func (p Page) PtrAt(idx int) Addr { return Addr(p.ptrRaw(idx)) }

// KeyTailAt returns the non-elided suffix bytes stored for entry idx.
func (p Page) KeyTailAt(idx int) []byte {
	off := p.tailOff(idx)
	n := p.keylen(idx)
	return p.Data[off : off+n]
}

// FullKeyAt reconstructs the complete key for entry idx by chaining
// elided prefixes back to the nearest entry whose ebc is 0. This walk
// is O(idx) in the worst case, an acceptable cost for a page-sized
// (at most a few hundred entries) structure that is not on the
// single-key hot path of typical engines this size.
func (p Page) FullKeyAt(idx int) []byte {
	if idx < 0 || idx >= p.NKeys() {
		return nil
	}
	type frag struct {
		tail []byte
		ebc  int
	}
	frags := make([]frag, 0, idx+1)
	for i := idx; i >= 0; i-- {
		e := p.ebc(i)
		frags = append(frags, frag{tail: p.KeyTailAt(i), ebc: e})
		if e == 0 {
			break
		}
	}
	// frags is in reverse order (idx .. root); rebuild forward.
	var key []byte
	for i := len(frags) - 1; i >= 0; i-- {
		key = append(key[:frags[i].ebc], frags[i].tail...)
	}
	return key
}

// ValueAt returns the value bytes stored immediately after the key
// tail in the tail pool, for data pages. The 4-byte length prefix
// lives right after the key tail.
func (p Page) ValueAt(idx int) []byte {
	off := p.tailOff(idx)
	n := p.keylen(idx)
	vlenOff := off + n
	vlen := binary.BigEndian.Uint32(p.Data[vlenOff:])
	return p.Data[vlenOff+4 : vlenOff+4+int(vlen)]
}

// FreeBytes reports how much room remains between the key-block array
// and the tail pool.
func (p Page) FreeBytes() int {
	return p.tailFloor() - int(p.AllocCursor())
}

// tailFloor is the lowest tail-pool offset currently in use (the top
// of the free gap), derived from the smallest tailOff seen, or
// len(Data) if the page is empty.
func (p Page) tailFloor() int {
	n := p.NKeys()
	if n == 0 {
		return len(p.Data)
	}
	min := len(p.Data)
	for i := 0; i < n; i++ {
		if p.tailOff(i) < min {
			min = p.tailOff(i)
		}
	}
	return min
}

// Builder constructs a new page body by appending entries in key
// order, computing each entry's elision count against the previously
// appended key. Used by split/insert in pkg/btree.
type Builder struct {
	Page
	prevKey  []byte
	tailCur  int
	n        int
}

func NewBuilder(pg Page, typ Type, level uint8) *Builder {
	pg.SetType(typ)
	pg.SetLevel(level)
	pg.setNKeys(0)
	pg.setAllocCursor(uint32(bodyStart))
	return &Builder{Page: pg, tailCur: len(pg.Data)}
}

// entrySize estimates the bytes an entry of this tail length would
// consume (block + tail), used by callers to decide whether a split is
// needed before actually appending.
func EntrySize(keyTailLen, valueLen int) int {
	return blockSize + keyTailLen + 4 + valueLen
}

func IndexEntrySize(keyTailLen int) int {
	return blockSize + keyTailLen
}

// AppendData appends a (fullKey, value) pair to a data page under
// construction.
func (b *Builder) AppendData(fullKey, value []byte) error {
	ebc := 0
	if b.prevKey != nil {
		ebc = CommonPrefixLen(b.prevKey, fullKey)
	}
	tail := fullKey[ebc:]
	need := len(tail) + 4 + len(value)
	if b.tailCur-need < int(b.Page.AllocCursor())+blockSize {
		return dberrors.Corruption(0, "page builder out of space")
	}
	b.tailCur -= need
	off := b.tailCur
	copy(b.Data[off:], tail)
	binary.BigEndian.PutUint32(b.Data[off+len(tail):], uint32(len(value)))
	copy(b.Data[off+len(tail)+4:], value)

	blk := blockOff(b.n)
	b.Data[blk] = byte(ebc)
	b.Data[blk+1] = byte(len(tail))
	binary.BigEndian.PutUint16(b.Data[blk+2:], uint16(off))
	binary.BigEndian.PutUint64(b.Data[blk+4:], 0)

	b.n++
	b.setNKeys(b.n)
	b.Page.setAllocCursor(uint32(blockOff(b.n)))
	b.prevKey = append([]byte(nil), fullKey...)
	return nil
}

// AppendIndex appends a (separatorKey, childPtr) pair to an index page
// under construction.
func (b *Builder) AppendIndex(fullKey []byte, child Addr) error {
	ebc := 0
	if b.prevKey != nil {
		ebc = CommonPrefixLen(b.prevKey, fullKey)
	}
	tail := fullKey[ebc:]
	need := len(tail)
	if b.tailCur-need < int(b.Page.AllocCursor())+blockSize {
		return dberrors.Corruption(0, "page builder out of space")
	}
	b.tailCur -= need
	off := b.tailCur
	copy(b.Data[off:], tail)

	blk := blockOff(b.n)
	b.Data[blk] = byte(ebc)
	b.Data[blk+1] = byte(len(tail))
	binary.BigEndian.PutUint16(b.Data[blk+2:], uint16(off))
	binary.BigEndian.PutUint64(b.Data[blk+4:], uint64(child))

	b.n++
	b.setNKeys(b.n)
	b.Page.setAllocCursor(uint32(blockOff(b.n)))
	b.prevKey = append([]byte(nil), fullKey...)
	return nil
}

// UsedBytes reports the total bytes consumed by the page body so far
// (block array + tail pool), used to decide split points.
func (b *Builder) UsedBytes() int {
	return int(b.Page.AllocCursor()) + (len(b.Data) - b.tailCur)
}
