package page

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestEncodeUintOrderPreserving(t *testing.T) {
	vals := []uint64{0, 1, 255, 256, 1 << 32, ^uint64(0)}
	for i := 0; i < len(vals)-1; i++ {
		a, b := EncodeUint(vals[i]), EncodeUint(vals[i+1])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("EncodeUint(%d) should sort before EncodeUint(%d)", vals[i], vals[i+1])
		}
	}
	if got := DecodeUint(EncodeUint(12345)); got != 12345 {
		t.Errorf("round trip = %d, want 12345", got)
	}
}

func TestEncodeIntOrderPreservingAcrossSignBoundary(t *testing.T) {
	vals := []int64{-1 << 40, -1000, -1, 0, 1, 1000, 1 << 40}
	for i := 0; i < len(vals)-1; i++ {
		a, b := EncodeInt(vals[i]), EncodeInt(vals[i+1])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("EncodeInt(%d) should sort before EncodeInt(%d)", vals[i], vals[i+1])
		}
	}
	if got := DecodeInt(EncodeInt(-42)); got != -42 {
		t.Errorf("round trip = %d, want -42", got)
	}
}

func TestEncodeFloat64OrderPreservingAcrossSignBoundary(t *testing.T) {
	vals := []float64{-100.5, -1.0, -0.001, 0, 0.001, 1.0, 100.5}
	for i := 0; i < len(vals)-1; i++ {
		a, b := EncodeFloat64(vals[i]), EncodeFloat64(vals[i+1])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("EncodeFloat64(%v) should sort before EncodeFloat64(%v)", vals[i], vals[i+1])
		}
	}
	if got := DecodeFloat64(EncodeFloat64(3.14159)); got != 3.14159 {
		t.Errorf("round trip = %v, want 3.14159", got)
	}
}

func TestEncodeUvarintOrderPreserving(t *testing.T) {
	vals := []uint64{0, 1, 127, 128, 16383, 16384, 1 << 40}
	for i := 0; i < len(vals)-1; i++ {
		a, b := EncodeUvarint(vals[i]), EncodeUvarint(vals[i+1])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("EncodeUvarint(%d) should sort before EncodeUvarint(%d)", vals[i], vals[i+1])
		}
		got, n := DecodeUvarint(a)
		if got != vals[i] || n != len(a) {
			t.Errorf("DecodeUvarint(%d) = (%d, %d), want (%d, %d)", vals[i], got, n, vals[i], len(a))
		}
	}
}

func TestEncodeStringOrderPreservingAndNulEscaped(t *testing.T) {
	vals := []string{"", "a", "aa", "ab", "b", "b\x00", "b\x00c"}
	for i := 0; i < len(vals)-1; i++ {
		a, b := EncodeString(vals[i]), EncodeString(vals[i+1])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("EncodeString(%q) should sort before EncodeString(%q)", vals[i], vals[i+1])
		}
	}
	for _, s := range vals {
		got, n := DecodeString(EncodeString(s))
		if got != s || n != len(EncodeString(s)) {
			t.Errorf("DecodeString round trip for %q = (%q, %d)", s, got, n)
		}
	}
}

func TestCommonPrefixLen(t *testing.T) {
	cases := []struct{ a, b string; want int }{
		{"", "", 0},
		{"abc", "abd", 2},
		{"abc", "abc", 3},
		{"abc", "xyz", 0},
		{"ab", "abcdef", 2},
	}
	for _, c := range cases {
		if got := CommonPrefixLen([]byte(c.a), []byte(c.b)); got != c.want {
			t.Errorf("CommonPrefixLen(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareGuards(t *testing.T) {
	if Compare(LeftGuard, []byte("anything")) >= 0 {
		t.Errorf("LeftGuard should sort before any non-empty key")
	}
	if Compare(RightGuard, []byte("anything")) <= 0 {
		t.Errorf("RightGuard should sort after any ordinary key")
	}
	if Compare(LeftGuard, LeftGuard) != 0 {
		t.Errorf("LeftGuard should equal itself")
	}
}

func TestEncodeUintFuzzRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		v := r.Uint64()
		if got := DecodeUint(EncodeUint(v)); got != v {
			t.Fatalf("round trip mismatch for %d: got %d", v, got)
		}
	}
}
