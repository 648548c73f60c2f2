package nvs

// erasedByte is the value of every cell of an erased NOR flash sector.
const erasedByte = 0xff

// Flash is the hardware boundary of the store: a byte-addressable device
// erasable in fixed-size sectors. WriteAt programs cells and can only clear
// bits; EraseSector is the only way to set bits back to one. Implementations
// in this package are SimFlash, FileFlash, SPIFlash and the tinygo
// machine-backed flash returned by OpenInternalFlash.
type Flash interface {
	// ReadAt copies len(p) bytes starting at the absolute byte address off.
	ReadAt(p []byte, off int64) (int, error)
	// WriteAt programs len(p) bytes starting at the absolute byte address
	// off. Programming only clears bits; the caller erases first when it
	// needs a clean sector.
	WriteAt(p []byte, off int64) (int, error)
	// EraseSector restores the sector with the given index to the erased
	// state. The sector spans [index*SectorSize(), (index+1)*SectorSize()).
	EraseSector(index uint32) error
	// SectorSize returns the erase granularity in bytes, a power of two.
	SectorSize() uint32
	// Size returns the device capacity in bytes, a multiple of SectorSize.
	Size() uint32
}
