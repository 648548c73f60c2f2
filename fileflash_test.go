package nvs

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestFileFlashNewImageReadsErased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	ff, err := OpenFileFlash(path, 4*0x1000, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	buf := make([]byte, 32)
	if _, err := ff.ReadAt(buf, 0x2000); err != nil {
		t.Fatal(err)
	}
	for _, b := range buf {
		if b != 0xff {
			t.Fatal("fresh image not erased", buf)
		}
	}
}

func TestFileFlashPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	ff, err := OpenFileFlash(path, 4*0x1000, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Open(Config{Flash: ff})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{240, 0xff, 0xff, 0xff}
	if err := d.Write(0x1000, want, WriteErase|WritePostVerify); err != nil {
		t.Fatal(err)
	}
	if err := ff.Close(); err != nil {
		t.Fatal(err)
	}

	ff, err = OpenFileFlash(path, 4*0x1000, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	d, err = Open(Config{Flash: ff})
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	if err := d.Read(0x1000, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("reopened image: got %#x want %#x", got, want)
	}
}

func TestFileFlashProgramClearsBitsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	ff, err := OpenFileFlash(path, 2*0x1000, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	if _, err := ff.WriteAt([]byte{0xf0}, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := ff.WriteAt([]byte{0x0f}, 10); err != nil {
		t.Fatal(err)
	}
	var got [1]byte
	ff.ReadAt(got[:], 10)
	if got[0] != 0 {
		t.Fatal("image write did not AND bits", got[0])
	}
	if err := ff.EraseSector(0); err != nil {
		t.Fatal(err)
	}
	ff.ReadAt(got[:], 10)
	if got[0] != 0xff {
		t.Fatal("erase did not restore erased state", got[0])
	}
}

func TestFileFlashBadGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	if _, err := OpenFileFlash(path, 0x1800, 0x1000); !errors.Is(err, ErrBadConfig) {
		t.Error("size not multiple of sector accepted:", err)
	}
	if _, err := OpenFileFlash(path, 0x3000, 0x1800); !errors.Is(err, ErrBadConfig) {
		t.Error("non power of two sector accepted:", err)
	}
}
