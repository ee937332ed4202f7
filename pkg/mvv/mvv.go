// Package mvv implements the multi-version value byte format: a
// single data-page value slot holding either primordial
// (single-version, untagged) bytes, an AntiValue tombstone, or a
// tagged sequence of (version handle, length, bytes) entries sorted
// by version handle.
package mvv

import (
	"encoding/binary"

	"ledgerkv/pkg/dberrors"
)

const (
	TagMVV       byte = 0xFE
	TagAntiValue byte = 0xFD
)

const entryHeaderSize = 8 + 2 // version handle + length

// IsMVV reports whether bytes are tagged multi-version rather than a
// primordial single value.
func IsMVV(b []byte) bool { return len(b) > 0 && b[0] == TagMVV }

// IsAntiValue reports a tombstone slot.
func IsAntiValue(b []byte) bool { return len(b) == 1 && b[0] == TagAntiValue }

type entry struct {
	vh     uint64
	data   []byte
}

func parseEntries(b []byte) []entry {
	if !IsMVV(b) {
		return nil
	}
	var out []entry
	i := 1
	for i < len(b) {
		vh := binary.BigEndian.Uint64(b[i:])
		n := binary.BigEndian.Uint16(b[i+8:])
		start := i + entryHeaderSize
		out = append(out, entry{vh: vh, data: b[start : start+int(n)]})
		i = start + int(n)
	}
	return out
}

func encodeEntries(entries []entry) []byte {
	if len(entries) == 0 {
		return []byte{TagAntiValue}
	}
	total := 1
	for _, e := range entries {
		total += entryHeaderSize + len(e.data)
	}
	out := make([]byte, 0, total)
	out = append(out, TagMVV)
	for _, e := range entries {
		var hdr [10]byte
		binary.BigEndian.PutUint64(hdr[0:8], e.vh)
		binary.BigEndian.PutUint16(hdr[8:10], uint16(len(e.data)))
		out = append(out, hdr[:]...)
		out = append(out, e.data...)
	}
	return out
}

// StoreVersion implements store_version: it promotes
// primordial/undefined bytes into an MVV as needed, appends a new
// version, replaces an existing entry with the same version handle in
// place, or splices a same-ts-different-step version into sorted
// position. A version handle whose ts is lower than the highest ts
// already present raises VersionsOutOfOrder unless a version with that
// same ts is already stored — a non-decreasing-ts contract.
func StoreVersion(existing []byte, versionHandle uint64, value []byte) ([]byte, error) {
	newEntry := entry{vh: versionHandle, data: value}

	if len(existing) == 0 || (!IsMVV(existing) && !IsAntiValue(existing)) {
		// Primordial (or undefined/empty): becomes the sole MVV entry.
		if len(existing) == 0 && versionHandle == 0 {
			return value, nil // still primordial, version 0 means "no MVCC"
		}
		return encodeEntries([]entry{newEntry}), nil
	}

	entries := parseEntries(existing)
	if IsAntiValue(existing) {
		entries = nil
	}

	// Find insertion point / in-place replacement by version handle.
	idx := -1
	for i, e := range entries {
		if e.vh == versionHandle {
			idx = i
			break
		}
	}
	if idx >= 0 {
		entries[idx] = newEntry
		return encodeEntries(entries), nil
	}

	insertAt := len(entries)
	for i, e := range entries {
		if e.vh > versionHandle {
			insertAt = i
			break
		}
	}
	if insertAt < len(entries) {
		newTS := versionHandle / 100
		sameTS := entries[insertAt].vh/100 == newTS ||
			(insertAt > 0 && entries[insertAt-1].vh/100 == newTS)
		if !sameTS {
			return nil, dberrors.Corruption(0, "VersionsOutOfOrder: vh=%d precedes ts=%d", versionHandle, entries[insertAt].vh/100)
		}
	}
	if len(entries) > 0 {
		lastTS := entries[len(entries)-1].vh / 100
		newTS := versionHandle / 100
		if insertAt == len(entries) && newTS < lastTS {
			return nil, dberrors.Corruption(0, "VersionsOutOfOrder: vh=%d precedes last ts=%d", versionHandle, lastTS)
		}
	}

	out := make([]entry, 0, len(entries)+1)
	out = append(out, entries[:insertAt]...)
	out = append(out, newEntry)
	out = append(out, entries[insertAt:]...)
	return encodeEntries(out), nil
}

// FetchVersion performs a linear scan for a specific version handle.
// If bytes are primordial, they are returned only when versionHandle
// is 0 (the "no MVCC applied yet" case).
func FetchVersion(b []byte, versionHandle uint64) ([]byte, bool) {
	if IsAntiValue(b) {
		return nil, false
	}
	if !IsMVV(b) {
		if versionHandle == 0 {
			return b, len(b) > 0
		}
		return nil, false
	}
	for _, e := range parseEntries(b) {
		if e.vh == versionHandle {
			return e.data, true
		}
	}
	return nil, false
}

// LatestVersionHandle returns the version handle of the most recently
// stored version (entries are kept in ascending version-handle order,
// so that is always the last one), or ok=false for primordial, empty,
// or tombstoned bytes — nothing yet owns those under MVCC.
func LatestVersionHandle(b []byte) (vh uint64, ok bool) {
	if !IsMVV(b) {
		return 0, false
	}
	entries := parseEntries(b)
	if len(entries) == 0 {
		return 0, false
	}
	return entries[len(entries)-1].vh, true
}

// VisitAllVersions iterates every version, reporting (versionHandle, data).
func VisitAllVersions(b []byte, visit func(versionHandle uint64, data []byte)) {
	if !IsMVV(b) {
		if len(b) > 0 {
			visit(0, b)
		}
		return
	}
	for _, e := range parseEntries(b) {
		visit(e.vh, e.data)
	}
}
