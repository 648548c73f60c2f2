package nvs

import (
	"bytes"
	"errors"
	"testing"
)

const (
	testSector = 0x1000
	testBase   = 0x2000
	testRegion = 24 * testSector
)

func openTestDevice(t *testing.T) (*Device, *SimFlash) {
	t.Helper()
	flash := NewSimFlash(testBase+testRegion, testSector)
	d, err := Open(Config{Flash: flash, Base: testBase, Size: testRegion})
	if err != nil {
		t.Fatal(err)
	}
	return d, flash
}

func TestOpenBadConfig(t *testing.T) {
	flash := NewSimFlash(testBase+testRegion, testSector)
	for _, cfg := range []Config{
		{},                              // nil flash
		{Flash: flash, Base: 0x2001},    // unaligned base
		{Flash: flash, Base: testBase, Size: testSector + 1},            // unaligned size
		{Flash: flash, Base: testBase, Size: testRegion + testSector},   // exceeds flash
		{Flash: flash, Base: testBase + testRegion + testSector},        // base beyond end
	} {
		_, err := Open(cfg)
		if !errors.Is(err, ErrBadConfig) {
			t.Errorf("config %+v: want ErrBadConfig, got %v", cfg, err)
		}
	}
}

func TestOpenDefaultSize(t *testing.T) {
	flash := NewSimFlash(testBase+testRegion, testSector)
	d, err := Open(Config{Flash: flash, Base: testBase})
	if err != nil {
		t.Fatal(err)
	}
	if d.Attrs().RegionSize != testRegion {
		t.Error("region did not extend to flash end", d.Attrs().RegionSize)
	}
}

func TestAttrs(t *testing.T) {
	d, _ := openTestDevice(t)
	attrs := d.Attrs()
	if attrs.RegionBase != testBase || attrs.SectorSize != testSector || attrs.RegionSize != testRegion {
		t.Fatal("bad attrs", attrs)
	}
	if attrs.RegionSize%attrs.SectorSize != 0 {
		t.Fatal("sector size does not divide region size")
	}
}

func TestReadErasedState(t *testing.T) {
	d, _ := openTestDevice(t)
	buf := make([]byte, 16)
	if err := d.Read(0x4000, buf); err != nil {
		t.Fatal(err)
	}
	for i, b := range buf {
		if b != 0xff {
			t.Fatalf("byte %d: never-written area reads %#x, want 0xff", i, b)
		}
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	d, _ := openTestDevice(t)
	for _, tc := range []struct {
		offset uint32
		data   []byte
	}{
		{0, []byte{1, 2, 3, 4}},
		{0x10000, []byte{240, 0xff, 0xff, 0xff}},
		{0x17000, []byte{0xcb, 0xe6, 0xff, 0xff}},
		{testRegion - 4, []byte{0xde, 0xad, 0xbe, 0xef}},
	} {
		if err := d.Write(tc.offset, tc.data, WriteErase); err != nil {
			t.Fatalf("write at %#x: %v", tc.offset, err)
		}
		got := make([]byte, len(tc.data))
		if err := d.Read(tc.offset, got); err != nil {
			t.Fatalf("read at %#x: %v", tc.offset, err)
		}
		if !bytes.Equal(got, tc.data) {
			t.Errorf("round trip at %#x: got %#x want %#x", tc.offset, got, tc.data)
		}
	}
}

func TestOutOfBoundsNoMutation(t *testing.T) {
	d, flash := openTestDevice(t)
	if err := d.Write(0, []byte{0xaa, 0xbb}, WriteErase); err != nil {
		t.Fatal(err)
	}
	snapshot := append([]byte{}, flash.mem...)

	buf := make([]byte, 8)
	if err := d.Read(testRegion-4, buf); !errors.Is(err, ErrOutOfBounds) {
		t.Error("read past region end: want ErrOutOfBounds, got", err)
	}
	if err := d.Read(testRegion, buf[:1]); !errors.Is(err, ErrOutOfBounds) {
		t.Error("read at region end: want ErrOutOfBounds, got", err)
	}
	if err := d.Write(testRegion-4, buf, WriteErase); !errors.Is(err, ErrOutOfBounds) {
		t.Error("write past region end: want ErrOutOfBounds, got", err)
	}
	if err := d.Write(0xffffffff, buf, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Error("write at overflowing offset: want ErrOutOfBounds, got", err)
	}
	if !bytes.Equal(snapshot, flash.mem) {
		t.Fatal("failed operation mutated storage")
	}
}

func TestWriteEraseClearsStaleData(t *testing.T) {
	d, _ := openTestDevice(t)
	// Dirty two spots of one sector.
	if err := d.Write(0x3000, []byte{1, 2, 3, 4}, WriteErase); err != nil {
		t.Fatal(err)
	}
	if err := d.Write(0x3800, []byte{5, 6, 7, 8}, 0); err != nil {
		t.Fatal(err)
	}
	// New write with erase wipes the whole sector.
	if err := d.Write(0x3100, []byte{9}, WriteErase); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	for _, off := range []uint32{0x3000, 0x3800} {
		if err := d.Read(off, buf); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf, []byte{0xff, 0xff, 0xff, 0xff}) {
			t.Errorf("stale data at %#x survived erase: %#x", off, buf)
		}
	}
	if err := d.Read(0x3100, buf[:1]); err != nil || buf[0] != 9 {
		t.Error("written byte lost", buf[0], err)
	}
}

func TestWriteWithoutEraseClearsBitsOnly(t *testing.T) {
	d, _ := openTestDevice(t)
	if err := d.Write(0x5000, []byte{0xf0}, WriteErase); err != nil {
		t.Fatal(err)
	}
	// Programming 0x0f over 0xf0 without erase can only clear bits.
	if err := d.Write(0x5000, []byte{0x0f}, 0); err != nil {
		t.Fatal(err)
	}
	var got [1]byte
	if err := d.Read(0x5000, got[:]); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0 {
		t.Fatalf("unerased program: got %#x want 0", got[0])
	}
}

func TestMultiSectorWriteErase(t *testing.T) {
	d, flash := openTestDevice(t)
	flash.EraseCounts = make(map[uint32]int)
	data := make([]byte, testSector+2) // spans two sectors
	for i := range data {
		data[i] = byte(i)
	}
	if err := d.Write(0x6000-1, data, WriteErase|WritePostVerify); err != nil {
		t.Fatal(err)
	}
	// Region offset 0x5fff is flash address 0x7fff: sectors 7, 8 and 9 hold the span.
	for _, sect := range []uint32{7, 8, 9} {
		if flash.EraseCounts[sect] != 1 {
			t.Errorf("sector %d erased %d times, want 1", sect, flash.EraseCounts[sect])
		}
	}
	got := make([]byte, len(data))
	if err := d.Read(0x6000-1, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("multi-sector round trip mismatch")
	}
}

func TestPostVerifyDetectsCorruption(t *testing.T) {
	d, flash := openTestDevice(t)
	flash.Corrupt = func(addr int64, b byte) byte {
		if addr == testBase+0xe000+1 {
			return b &^ 0x01
		}
		return b
	}
	err := d.Write(0xe000, []byte{0xaa, 0x55, 0x33, 0x0f}, WriteErase|WritePostVerify)
	if !errors.Is(err, ErrVerify) {
		t.Fatal("want ErrVerify, got", err)
	}
	// The sector retains the corrupted write, not the intended content.
	var got [4]byte
	if err := d.Read(0xe000, got[:]); err != nil {
		t.Fatal(err)
	}
	if got[1] != 0x54 {
		t.Fatalf("readback after failed verify: got %#x want 0x54", got[1])
	}
}

func TestErase(t *testing.T) {
	d, _ := openTestDevice(t)
	if err := d.Write(0x2000, []byte{1, 2, 3}, WriteErase); err != nil {
		t.Fatal(err)
	}
	if err := d.Erase(0x2000, testSector); err != nil {
		t.Fatal(err)
	}
	var got [3]byte
	if err := d.Read(0x2000, got[:]); err != nil {
		t.Fatal(err)
	}
	if got != [3]byte{0xff, 0xff, 0xff} {
		t.Fatal("erase left data behind", got)
	}
	if err := d.Erase(0x2001, testSector); !errors.Is(err, ErrAlign) {
		t.Error("unaligned erase offset: want ErrAlign, got", err)
	}
	if err := d.Erase(0x2000, testSector-1); !errors.Is(err, ErrAlign) {
		t.Error("unaligned erase size: want ErrAlign, got", err)
	}
	if err := d.Erase(testRegion, testSector); !errors.Is(err, ErrOutOfBounds) {
		t.Error("erase past region: want ErrOutOfBounds, got", err)
	}
}

// TestEndToEndRegionExample runs the reference sequence: region base 0x2000,
// sector 0x1000, region size 0x18000, write [240,0xff,0xff,0xff] at offset
// 0xe000 with erase and verify, read it back.
func TestEndToEndRegionExample(t *testing.T) {
	flash := NewSimFlash(0x2000+0x18000, 0x1000)
	d, err := Open(Config{Flash: flash, Base: 0x2000, Size: 0x18000})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{240, 0xff, 0xff, 0xff}
	if err := d.Write(0xe000, want, WriteErase|WritePostVerify); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	if err := d.Read(0xe000, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestZeroLengthOps(t *testing.T) {
	d, _ := openTestDevice(t)
	if err := d.Read(testRegion, nil); err != nil {
		t.Error("zero length read at region end should succeed:", err)
	}
	if err := d.Write(0, nil, WriteErase); err != nil {
		t.Error("zero length write should succeed:", err)
	}
	// A zero length write must not erase anything.
	if err := d.Write(0, []byte{7}, WriteErase); err != nil {
		t.Fatal(err)
	}
	if err := d.Write(0, nil, WriteErase); err != nil {
		t.Fatal(err)
	}
	var got [1]byte
	d.Read(0, got[:])
	if got[0] != 7 {
		t.Error("zero length write erased sector")
	}
}
