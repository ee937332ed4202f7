package btree

import (
	"ledgerkv/pkg/page"
	"ledgerkv/pkg/store"
)

const (
	markerInline byte = 0
	markerStub   byte = 1
)

// longRecordThreshold is the body size above which a value is spilled
// to a long-record chain instead of stored inline; chosen so an inline
// value plus its key and block overhead can never alone fill a
// minimum-size (1 KiB) page.
func longRecordThreshold(pageSize int) int {
	return pageSize / 4
}

// wrapValue returns the btree's internal value-slot encoding (marker
// byte + body) for raw, spilling to a long-record chain through s when
// raw exceeds the threshold for pageSize.
func wrapValue(s *store.Structure, pageSize int, raw []byte) ([]byte, error) {
	if len(raw) <= longRecordThreshold(pageSize) {
		return append([]byte{markerInline}, raw...), nil
	}
	head, err := writeLongRecordChain(s, pageSize, raw)
	if err != nil {
		return nil, err
	}
	var prefix [16]byte
	copy(prefix[:], raw)
	stub := page.LongRecordStub{TotalLen: uint64(len(raw)), Prefix: prefix, Head: head}
	return append([]byte{markerStub}, stub.Encode()...), nil
}

// unwrapValue returns the caller-visible raw bytes for a stored value
// slot, following a long-record chain if necessary.
func unwrapValue(s *store.Structure, slot []byte) ([]byte, error) {
	if len(slot) == 0 {
		return nil, nil
	}
	marker, body := slot[0], slot[1:]
	if marker == markerInline {
		return body, nil
	}
	stub := page.DecodeLongRecordStub(body)
	return readLongRecordChain(s, stub)
}

func writeLongRecordChain(s *store.Structure, pageSize int, raw []byte) (page.Addr, error) {
	payloadCap := pageSize - page.LongRecordPageHeaderSize // right sibling lives in the header
	var head, prevAddr page.Addr
	havePrev := false

	remaining := raw
	for len(remaining) > 0 {
		n := len(remaining)
		if n > payloadCap {
			n = payloadCap
		}
		chunk := remaining[:n]
		remaining = remaining[n:]

		addr, buf, err := s.AllocPage()
		if err != nil {
			return 0, err
		}
		p := buf.Page()
		p.SetType(page.TypeLongRecord)
		copy(page.LongRecordPayload(p), chunk)
		p.SetRightSibling(0) // terminator until linked below
		s.Pool.Release(buf, true, true)

		if head == 0 {
			head = addr
		}
		if havePrev {
			if err := setLongRecordNext(s, prevAddr, addr); err != nil {
				return 0, err
			}
		}
		prevAddr = addr
		havePrev = true
	}
	return head, nil
}

func setLongRecordNext(s *store.Structure, addr page.Addr, next page.Addr) error {
	buf, err := s.Pool.Get(s.VolumeID, addr, true)
	if err != nil {
		return err
	}
	buf.Page().SetRightSibling(next)
	s.Pool.Release(buf, true, true)
	return nil
}

func readLongRecordChain(s *store.Structure, stub page.LongRecordStub) ([]byte, error) {
	out := make([]byte, 0, stub.TotalLen)
	addr := stub.Head
	for addr != 0 && uint64(len(out)) < stub.TotalLen {
		buf, err := s.Pool.Get(s.VolumeID, addr, false)
		if err != nil {
			return nil, err
		}
		p := buf.Page()
		payload := page.LongRecordPayload(p)
		need := stub.TotalLen - uint64(len(out))
		if uint64(len(payload)) > need {
			payload = payload[:need]
		}
		out = append(out, payload...)
		next := p.RightSibling()
		s.Pool.Release(buf, false, false)
		addr = next
	}
	return out, nil
}

// freeLongRecordChain collects every page address in a spilled value's
// chain for the caller to pass to Structure.FreeChain.
func freeLongRecordChain(s *store.Structure, stub page.LongRecordStub) ([]page.Addr, error) {
	var addrs []page.Addr
	addr := stub.Head
	for addr != 0 {
		addrs = append(addrs, addr)
		buf, err := s.Pool.Get(s.VolumeID, addr, false)
		if err != nil {
			return nil, err
		}
		next := buf.Page().RightSibling()
		s.Pool.Release(buf, false, false)
		addr = next
	}
	return addrs, nil
}
