// Package journal implements the append-only write-ahead log:
// length-prefixed, type-tagged records written to rolling segment
// files, with soft/hard/group commit policies and checkpoint-anchored
// recovery support.
package journal

import (
	"encoding/binary"

	"ledgerkv/pkg/dberrors"
)

// Type is the two-byte record tag.
type Type [2]byte

var (
	TypeJH Type = [2]byte{'J', 'H'} // journal/segment header
	TypeIV Type = [2]byte{'I', 'V'} // identify volume (path -> handle)
	TypeIT Type = [2]byte{'I', 'T'} // identify tree (volume handle, name -> tree handle)
	TypePA Type = [2]byte{'P', 'A'} // page image
	TypePM Type = [2]byte{'P', 'M'} // page map checkpoint snapshot entry
	TypeTM Type = [2]byte{'T', 'M'} // transaction map checkpoint snapshot entry
	TypeTS Type = [2]byte{'T', 'S'} // transaction start
	TypeTC Type = [2]byte{'T', 'C'} // transaction commit
	TypeSR Type = [2]byte{'S', 'R'} // store record (MVV store_version)
	TypeDR Type = [2]byte{'D', 'R'} // delete record (AntiValue)
	TypeDT Type = [2]byte{'D', 'T'} // delete tree
	TypeD0 Type = [2]byte{'D', '0'} // long-record chain head chunk
	TypeD1 Type = [2]byte{'D', '1'} // long-record chain continuation chunk
	TypeCP Type = [2]byte{'C', 'P'} // checkpoint
)

// recordHeaderSize is type(2B) + length(4B).
const recordHeaderSize = 6

// Record is one journal entry: a type tag plus opaque payload bytes
// whose layout is defined by the journal's caller (pkg/mvv, pkg/store,
// pkg/engine) for that type.
type Record struct {
	Type    Type
	Payload []byte
}

func Encode(r Record) []byte {
	out := make([]byte, recordHeaderSize+len(r.Payload))
	copy(out[0:2], r.Type[:])
	binary.BigEndian.PutUint32(out[2:6], uint32(len(r.Payload)))
	copy(out[recordHeaderSize:], r.Payload)
	return out
}

// Decode parses one record from the front of b, returning the record
// and the number of bytes consumed. A record whose declared length
// runs past the end of b is reported via ok=false rather than an
// error: that is the expected shape of a torn write at the tail of the
// last segment after a crash, and recovery truncates there instead of
// treating it as corruption.
func Decode(b []byte) (rec Record, consumed int, ok bool) {
	if len(b) < recordHeaderSize {
		return Record{}, 0, false
	}
	var typ Type
	copy(typ[:], b[0:2])
	length := binary.BigEndian.Uint32(b[2:6])
	total := recordHeaderSize + int(length)
	if total > len(b) {
		return Record{}, 0, false
	}
	return Record{Type: typ, Payload: b[recordHeaderSize:total]}, total, true
}

// --- typed payload helpers ---

func EncodeTS(ts uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ts)
	return b
}

func DecodeTS(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, dberrors.Corruption(0, "short TS payload")
	}
	return binary.BigEndian.Uint64(b), nil
}

// EncodeTC: ts(8B) tc(8B).
func EncodeTC(ts, tc uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], ts)
	binary.BigEndian.PutUint64(b[8:16], tc)
	return b
}

func DecodeTC(b []byte) (ts, tc uint64, err error) {
	if len(b) < 16 {
		return 0, 0, dberrors.Corruption(0, "short TC payload")
	}
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16]), nil
}

// EncodePA: volumeID(8B) addr(8B) page-bytes.
func EncodePA(volumeID uint64, addr uint64, data []byte) []byte {
	b := make([]byte, 16+len(data))
	binary.BigEndian.PutUint64(b[0:8], volumeID)
	binary.BigEndian.PutUint64(b[8:16], addr)
	copy(b[16:], data)
	return b
}

func DecodePA(b []byte) (volumeID, addr uint64, data []byte, err error) {
	if len(b) < 16 {
		return 0, 0, nil, dberrors.Corruption(0, "short PA payload")
	}
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16]), b[16:], nil
}

// EncodeCP: the checkpoint timestamp that every dirty page below has
// already been journaled past.
func EncodeCP(ts uint64) []byte { return EncodeTS(ts) }

func DecodeCP(b []byte) (uint64, error) { return DecodeTS(b) }
