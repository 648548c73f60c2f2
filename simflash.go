package nvs

import (
	"errors"
	"fmt"
)

// errFlashBounds signals an access beyond the flash device itself, as opposed
// to the region bounds guarded by Device.
var errFlashBounds = errors.New("nvs: access beyond flash device")

// SimFlash is a RAM-backed flash device with NOR programming physics:
// programming ANDs bits into the array and only an erase sets them back.
// It backs the package tests and lets host programs run without hardware.
type SimFlash struct {
	mem    []byte
	sector uint32
	// Corrupt, when non-nil, alters each byte as it is programmed into the
	// array. Lets tests exercise post-verify failure paths.
	Corrupt func(addr int64, b byte) byte
	// EraseCounts tracks erases per sector index when non-nil.
	EraseCounts map[uint32]int
}

// NewSimFlash returns a fully erased simulated flash of the given geometry.
// size must be a nonzero multiple of sector and sector a power of two.
func NewSimFlash(size, sector uint32) *SimFlash {
	if sector == 0 || sector&(sector-1) != 0 || size == 0 || size%sector != 0 {
		panic(fmt.Sprintf("bad sim flash geometry size=%#x sector=%#x", size, sector))
	}
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = erasedByte
	}
	return &SimFlash{mem: mem, sector: sector}
}

func (s *SimFlash) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(s.mem)) {
		return 0, errFlashBounds
	}
	return copy(p, s.mem[off:]), nil
}

func (s *SimFlash) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(s.mem)) {
		return 0, errFlashBounds
	}
	for i, b := range p {
		if s.Corrupt != nil {
			b = s.Corrupt(off+int64(i), b)
		}
		s.mem[off+int64(i)] &= b
	}
	return len(p), nil
}

func (s *SimFlash) EraseSector(index uint32) error {
	start := int64(index) * int64(s.sector)
	if start+int64(s.sector) > int64(len(s.mem)) {
		return errFlashBounds
	}
	for i := start; i < start+int64(s.sector); i++ {
		s.mem[i] = erasedByte
	}
	if s.EraseCounts != nil {
		s.EraseCounts[index]++
	}
	return nil
}

func (s *SimFlash) SectorSize() uint32 { return s.sector }

func (s *SimFlash) Size() uint32 { return uint32(len(s.mem)) }
