package main

import (
	"path/filepath"
	"testing"

	"ledgerkv/pkg/btree"
	"ledgerkv/pkg/buffer"
	"ledgerkv/pkg/store"
	"ledgerkv/pkg/volume"
)

func TestRunOnMissingVolumeReturnsFailure(t *testing.T) {
	dir := t.TempDir()
	if code := run(dir); code != 1 {
		t.Errorf("run() on a directory with no volume = %d, want 1", code)
	}
}

func TestRunOnFreshEmptyVolumeReturnsSuccess(t *testing.T) {
	dir := t.TempDir()
	vol, err := volume.Create(filepath.Join(dir, "main.vol"), 4096, 1, 10000, 32)
	if err != nil {
		t.Fatalf("volume.Create: %v", err)
	}
	if err := vol.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if code := run(dir); code != 0 {
		t.Errorf("run() on a fresh, directory-free volume = %d, want 0", code)
	}
}

func TestRunOnVolumeWithWellFormedTreeReturnsSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.vol")
	vol, err := volume.Create(path, 4096, 1, 10000, 32)
	if err != nil {
		t.Fatalf("volume.Create: %v", err)
	}

	src := &store.VolumeSource{Vol: vol}
	pool := buffer.NewPool(4096, 64, src, src, nil)
	st := store.New(vol, pool)
	tr, err := btree.Open(st, "accounts")
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}
	if err := tr.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	headBuf := make([]byte, vol.Header.PageSize)
	copy(headBuf, vol.Header.Encode())
	if err := st.EncodeDirectory(headBuf); err != nil {
		t.Fatalf("EncodeDirectory: %v", err)
	}
	if err := vol.WritePage(0, headBuf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := vol.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if code := run(dir); code != 0 {
		t.Errorf("run() on a well-formed volume = %d, want 0", code)
	}
}
