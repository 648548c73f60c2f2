//go:build tinygo

package nvs

import "machine"

// machineFlash adapts the MCU internal flash exposed by the machine package
// to the Flash interface. Addresses are relative to the flash data area, the
// span not occupied by the program image.
type machineFlash struct{}

func (machineFlash) ReadAt(p []byte, off int64) (int, error) {
	return machine.Flash.ReadAt(p, off)
}

func (machineFlash) WriteAt(p []byte, off int64) (int, error) {
	// Write block alignment constraints of the part apply here. On rp2040
	// off must fall on a 256 byte boundary.
	return machine.Flash.WriteAt(p, off)
}

func (machineFlash) EraseSector(index uint32) error {
	return machine.Flash.EraseBlocks(int64(index), 1)
}

func (machineFlash) SectorSize() uint32 {
	return uint32(machine.Flash.EraseBlockSize())
}

func (machineFlash) Size() uint32 {
	return uint32(machine.Flash.Size())
}

// OpenInternalFlash opens a region of the MCU internal flash data area.
// cfg.Flash is ignored and replaced with the internal flash device.
func OpenInternalFlash(cfg Config) (*Device, error) {
	cfg.Flash = machineFlash{}
	return Open(cfg)
}
