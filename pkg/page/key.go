package page

import (
	"bytes"
	"math"
)

// Key encoding primitives. Every Encode* function produces bytes whose
// lexicographic (memcmp) order matches the logical order of the typed
// value being encoded, so keys can be compared directly as bytes. A
// multi-segment key is simply the concatenation of several encoded
// segments.

// EncodeUint encodes an unsigned integer order-preservingly: raw
// big-endian already sorts the same as the numeric value.
func EncodeUint(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func DecodeUint(b []byte) uint64 {
	var v uint64
	for _, c := range b[:8] {
		v = v<<8 | uint64(c)
	}
	return v
}

// EncodeInt encodes a signed integer by flipping the sign bit so that
// big-endian byte order matches numeric order across negative and
// positive values.
func EncodeInt(v int64) []byte {
	return EncodeUint(uint64(v) ^ (1 << 63))
}

func DecodeInt(b []byte) int64 {
	return int64(DecodeUint(b) ^ (1 << 63))
}

// EncodeFloat64 (and Float32) apply the standard IEEE-754
// order-preserving transform: for non-negative floats, flip the sign
// bit; for negative floats, flip every bit. This makes big-endian byte
// order match float order, including across the positive/negative
// boundary.
func EncodeFloat64(v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return EncodeUint(bits)
}

func DecodeFloat64(b []byte) float64 {
	bits := DecodeUint(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func EncodeFloat32(v float32) []byte {
	bits := uint32(math.Float32bits(v))
	if bits&(1<<31) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 31
	}
	b := make([]byte, 4)
	b[0], b[1], b[2], b[3] = byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits)
	return b
}

// EncodeUvarint encodes an unsigned varint as a variable number of
// groups of 7 bits, most-significant group first, with a continuation
// bit set on every group but the last. Unlike binary.PutUvarint (which
// is little-endian-group and NOT order preserving), this big-endian
// grouping sorts the same as the numeric value for values that fit the
// same number of groups; values needing different group counts are
// additionally prefixed with the group count so shorter encodings
// never sort ahead of longer ones representing larger numbers.
func EncodeUvarint(v uint64) []byte {
	var groups []byte
	tmp := v
	n := 1
	for tmp >= 0x80 {
		tmp >>= 7
		n++
	}
	groups = make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		groups[i] = byte(v & 0x7f)
		v >>= 7
		if i != n-1 {
			groups[i] |= 0x80
		}
	}
	out := make([]byte, 0, n+1)
	out = append(out, byte(n))
	out = append(out, groups...)
	return out
}

func DecodeUvarint(b []byte) (uint64, int) {
	n := int(b[0])
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<7 | uint64(b[1+i]&0x7f)
	}
	return v, n + 1
}

// EncodeString produces a memcomparable encoding: every literal 0x00
// byte is escaped as 0x00 0xFF, and the whole segment is terminated by
// 0x00 0x00. This keeps shorter strings sorting before any string that
// extends them (the classic "NUL-escape" scheme used by ordered KV
// stores for variable-length segments within a composite key).
func EncodeString(s string) []byte {
	src := []byte(s)
	out := make([]byte, 0, len(src)+2)
	for _, c := range src {
		if c == 0x00 {
			out = append(out, 0x00, 0xFF)
		} else {
			out = append(out, c)
		}
	}
	out = append(out, 0x00, 0x00)
	return out
}

// DecodeString reverses EncodeString and returns the consumed length.
func DecodeString(b []byte) (string, int) {
	var out []byte
	i := 0
	for i < len(b) {
		if b[i] == 0x00 {
			if i+1 < len(b) && b[i+1] == 0x00 {
				return string(out), i + 2
			}
			out = append(out, 0x00)
			i += 2
			continue
		}
		out = append(out, b[i])
		i++
	}
	return string(out), i
}

// Sentinel keys bounding every tree. LeftGuard is the empty byte
// string, which bytes.Compare always ranks before any non-empty key.
// RightGuard is a long run of 0xFF, which in practice sorts after any
// key produced by the Encode* functions above (none of them emit a
// run of 0xFF longer than a handful of bytes) — a sentinel, not a
// mathematical supremum.
var (
	LeftGuard  = []byte{}
	RightGuard = bytes.Repeat([]byte{0xFF}, 64)
)

// IsLeftGuard/IsRightGuard let callers special-case the bounds without
// importing bytes.Equal everywhere.
func IsLeftGuard(k []byte) bool  { return len(k) == 0 }
func IsRightGuard(k []byte) bool { return bytes.Equal(k, RightGuard) }

// Compare orders two keys the same way the B-tree orders them:
// LeftGuard is smallest, RightGuard is largest, otherwise memcmp.
func Compare(a, b []byte) int {
	if IsLeftGuard(a) && IsLeftGuard(b) {
		return 0
	}
	if IsLeftGuard(a) {
		return -1
	}
	if IsLeftGuard(b) {
		return 1
	}
	if IsRightGuard(a) && IsRightGuard(b) {
		return 0
	}
	if IsRightGuard(a) {
		return 1
	}
	if IsRightGuard(b) {
		return -1
	}
	return bytes.Compare(a, b)
}

// CommonPrefixLen returns how many leading bytes a and b share, capped
// at 255 so it fits the key block's single-byte elision count (ebc).
func CommonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n > 255 {
		n = 255
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
