package page

import "encoding/binary"

// LongRecordStub is the 32-byte indirection written into a data page's
// value slot when the encoded value exceeds the page's free space:
// total length, a prefix of the value (for cheap equality pre-checks
// without following the chain), and the address of the first page in
// the long-record chain.
type LongRecordStub struct {
	TotalLen uint64
	Prefix   [16]byte
	Head     Addr
}

func (s LongRecordStub) Encode() []byte {
	b := make([]byte, LongRecordStubSize)
	binary.BigEndian.PutUint64(b[0:8], s.TotalLen)
	copy(b[8:24], s.Prefix[:])
	binary.BigEndian.PutUint64(b[24:32], uint64(s.Head))
	return b
}

func DecodeLongRecordStub(b []byte) LongRecordStub {
	var s LongRecordStub
	s.TotalLen = binary.BigEndian.Uint64(b[0:8])
	copy(s.Prefix[:], b[8:24])
	s.Head = Addr(binary.BigEndian.Uint64(b[24:32]))
	return s
}

// LongRecordPageHeaderSize is the fixed header at the start of every
// long-record page. A stub's byte layout alone is not self-describing
// (a genuinely 32-byte value is legal), so pkg/btree prefixes every
// stored value slot with a marker byte saying whether the body is
// inline bytes or a stub (see wrapValue in pkg/btree/longrecord.go).
const LongRecordPageHeaderSize = HeaderSize

// LongRecordPayload returns the usable byte range of a long-record
// page: the fixed header, then raw chained bytes up to the page end.
func LongRecordPayload(p Page) []byte {
	return p.Data[LongRecordPageHeaderSize:]
}
