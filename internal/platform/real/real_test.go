package real

import (
	"path/filepath"
	"testing"
)

func TestFileFlashEraseResetsToFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	ff, err := OpenFileFlash(path, 4096, 1024)
	if err != nil {
		t.Fatalf("OpenFileFlash: %v", err)
	}
	defer ff.Close()

	raw, err := ff.Read(0, ff.Size())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range raw {
		if b != 0xFF {
			t.Fatalf("byte %d = %#x, want 0xFF on a freshly created image", i, b)
		}
	}

	payload := []byte("hello flash")
	if err := ff.Write(1024, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := ff.Read(1024, len(payload))
	if err != nil {
		t.Fatalf("Read after write: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("Read after write = %q, want %q", got, payload)
	}

	if err := ff.EraseSector(1); err != nil {
		t.Fatalf("EraseSector: %v", err)
	}
	got2, err := ff.Read(1024, len(payload))
	if err != nil {
		t.Fatalf("Read after erase: %v", err)
	}
	for i, b := range got2 {
		if b != 0xFF {
			t.Fatalf("byte %d = %#x after erase, want 0xFF", i, b)
		}
	}
}

func TestFileFlashReopenPreservesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	ff1, err := OpenFileFlash(path, 4096, 1024)
	if err != nil {
		t.Fatalf("OpenFileFlash: %v", err)
	}
	if err := ff1.Write(0, []byte("persisted")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ff1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ff2, err := OpenFileFlash(path, 4096, 1024)
	if err != nil {
		t.Fatalf("reopen OpenFileFlash: %v", err)
	}
	defer ff2.Close()
	got, err := ff2.Read(0, len("persisted"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "persisted" {
		t.Fatalf("Read after reopen = %q, want %q", got, "persisted")
	}
}

func TestFileFlashOutOfBoundsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	ff, err := OpenFileFlash(path, 4096, 1024)
	if err != nil {
		t.Fatalf("OpenFileFlash: %v", err)
	}
	defer ff.Close()
	if _, err := ff.Read(4000, 200); err == nil {
		t.Fatalf("Read past end of image: want error, got nil")
	}
	if err := ff.Write(4000, make([]byte, 200)); err == nil {
		t.Fatalf("Write past end of image: want error, got nil")
	}
}
