// Package volume implements page-granular positioned I/O on a single
// volume file: the fixed head-page header, advisory locking, and file
// extension.
package volume

import "encoding/binary"

// Header mirrors the page-0 byte layout.
type Header struct {
	Signature        [32]byte
	Version          uint32
	PageSize         uint32
	VolumeID         uint64
	NextAvailable    uint64
	ExtendedPages    uint64
	CreateTimeMs     int64
	LastExtensionMs  int64
	LastReadMs       int64
	LastWriteMs      int64
	InitialPages     uint64
	MaximumPages     uint64
	ExtensionPages   uint64
	DirectoryRoot    uint64
	GarbageRoot      uint64
	GlobalTimestamp  uint64
	ReadCount        uint64
	WriteCount       uint64
}

const (
	hOffSignature       = 0
	hOffVersion         = 32
	hOffPageSize        = 36
	hOffVolumeID        = 40
	hOffNextAvailable   = 48
	hOffExtendedPages   = 56
	hOffCreateTime      = 64
	hOffLastExtension   = 72
	hOffLastRead        = 80
	hOffLastWrite       = 88
	hOffInitialPages    = 96
	hOffMaximumPages    = 104
	hOffExtensionPages  = 112
	hOffDirectoryRoot   = 120
	hOffGarbageRoot     = 128
	hOffGlobalTimestamp = 136
	hOffCounters        = 144
	HeaderSize          = 160
)

var Signature = [32]byte{'l', 'e', 'd', 'g', 'e', 'r', 'k', 'v', '-', 'v', 'o', 'l', 'u', 'm', 'e', '0', '1'}

func (h Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	copy(b[hOffSignature:], h.Signature[:])
	binary.BigEndian.PutUint32(b[hOffVersion:], h.Version)
	binary.BigEndian.PutUint32(b[hOffPageSize:], h.PageSize)
	binary.BigEndian.PutUint64(b[hOffVolumeID:], h.VolumeID)
	binary.BigEndian.PutUint64(b[hOffNextAvailable:], h.NextAvailable)
	binary.BigEndian.PutUint64(b[hOffExtendedPages:], h.ExtendedPages)
	binary.BigEndian.PutUint64(b[hOffCreateTime:], uint64(h.CreateTimeMs))
	binary.BigEndian.PutUint64(b[hOffLastExtension:], uint64(h.LastExtensionMs))
	binary.BigEndian.PutUint64(b[hOffLastRead:], uint64(h.LastReadMs))
	binary.BigEndian.PutUint64(b[hOffLastWrite:], uint64(h.LastWriteMs))
	binary.BigEndian.PutUint64(b[hOffInitialPages:], h.InitialPages)
	binary.BigEndian.PutUint64(b[hOffMaximumPages:], h.MaximumPages)
	binary.BigEndian.PutUint64(b[hOffExtensionPages:], h.ExtensionPages)
	binary.BigEndian.PutUint64(b[hOffDirectoryRoot:], h.DirectoryRoot)
	binary.BigEndian.PutUint64(b[hOffGarbageRoot:], h.GarbageRoot)
	binary.BigEndian.PutUint64(b[hOffGlobalTimestamp:], h.GlobalTimestamp)
	binary.BigEndian.PutUint64(b[hOffCounters:], h.ReadCount)
	binary.BigEndian.PutUint64(b[hOffCounters+8:], h.WriteCount)
	return b
}

func DecodeHeader(b []byte) Header {
	var h Header
	copy(h.Signature[:], b[hOffSignature:hOffSignature+32])
	h.Version = binary.BigEndian.Uint32(b[hOffVersion:])
	h.PageSize = binary.BigEndian.Uint32(b[hOffPageSize:])
	h.VolumeID = binary.BigEndian.Uint64(b[hOffVolumeID:])
	h.NextAvailable = binary.BigEndian.Uint64(b[hOffNextAvailable:])
	h.ExtendedPages = binary.BigEndian.Uint64(b[hOffExtendedPages:])
	h.CreateTimeMs = int64(binary.BigEndian.Uint64(b[hOffCreateTime:]))
	h.LastExtensionMs = int64(binary.BigEndian.Uint64(b[hOffLastExtension:]))
	h.LastReadMs = int64(binary.BigEndian.Uint64(b[hOffLastRead:]))
	h.LastWriteMs = int64(binary.BigEndian.Uint64(b[hOffLastWrite:]))
	h.InitialPages = binary.BigEndian.Uint64(b[hOffInitialPages:])
	h.MaximumPages = binary.BigEndian.Uint64(b[hOffMaximumPages:])
	h.ExtensionPages = binary.BigEndian.Uint64(b[hOffExtensionPages:])
	h.DirectoryRoot = binary.BigEndian.Uint64(b[hOffDirectoryRoot:])
	h.GarbageRoot = binary.BigEndian.Uint64(b[hOffGarbageRoot:])
	h.GlobalTimestamp = binary.BigEndian.Uint64(b[hOffGlobalTimestamp:])
	h.ReadCount = binary.BigEndian.Uint64(b[hOffCounters:])
	h.WriteCount = binary.BigEndian.Uint64(b[hOffCounters+8:])
	return h
}
