// package nor implements the serial NOR flash command interface shared by
// W25Q/N25Q/MX25 class chips: command opcodes, status register bits and
// JEDEC identification.
package nor

import "errors"

// Command opcodes. Addressed commands take a 3-byte big-endian address.
const (
	CmdWriteStatus      = 0x01
	CmdPageProgram      = 0x02
	CmdRead             = 0x03
	CmdWriteDisable     = 0x04
	CmdReadStatus       = 0x05
	CmdWriteEnable      = 0x06
	CmdFastRead         = 0x0b
	CmdSectorErase      = 0x20
	CmdBlockErase32K    = 0x52
	CmdChipErase        = 0xc7
	CmdReadJEDECID      = 0x9f
	CmdReleasePowerDown = 0xab
	CmdPowerDown        = 0xb9
	CmdEnableReset      = 0x66
	CmdReset            = 0x99
)

// Status register 1 bits.
const (
	StatusBusy = 1 << 0 // write/erase in progress
	StatusWEL  = 1 << 1 // write enable latch
)

// Typical geometry of the supported chip class.
const (
	PageSize   = 256
	SectorSize = 4 * 1024
)

var errShortID = errors.New("nor: short JEDEC id")

// PutAddr encodes a 24-bit address into dst[0:3], most significant byte
// first, as sent on the wire after an addressed opcode.
func PutAddr(dst []byte, addr uint32) {
	_ = dst[2]
	dst[0] = byte(addr >> 16)
	dst[1] = byte(addr >> 8)
	dst[2] = byte(addr)
}

// Addr decodes the 24-bit wire address in b[0:3].
func Addr(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// IsAddressed reports whether cmd is followed by a 3-byte address on the wire.
func IsAddressed(cmd byte) bool {
	switch cmd {
	case CmdRead, CmdFastRead, CmdPageProgram, CmdSectorErase, CmdBlockErase32K:
		return true
	}
	return false
}

// JEDECID is the 3-byte response to CmdReadJEDECID.
type JEDECID struct {
	Manufacturer byte
	MemoryType   byte
	Capacity     byte
}

// ParseJEDECID decodes the id bytes returned by CmdReadJEDECID.
func ParseJEDECID(b []byte) (JEDECID, error) {
	if len(b) < 3 {
		return JEDECID{}, errShortID
	}
	return JEDECID{Manufacturer: b[0], MemoryType: b[1], Capacity: b[2]}, nil
}

// Size returns the chip capacity in bytes encoded in the JEDEC capacity
// byte, or 0 when the byte is outside the plausible 512Kbit..2Gbit window.
func (id JEDECID) Size() uint32 {
	if id.Capacity < 0x10 || id.Capacity > 0x1c {
		return 0
	}
	return 1 << id.Capacity
}

// ManufacturerName returns the JEDEC bank 1 manufacturer name, or "unknown".
func (id JEDECID) ManufacturerName() string {
	switch id.Manufacturer {
	case 0x01:
		return "Infineon"
	case 0x20:
		return "Micron"
	case 0x9d:
		return "ISSI"
	case 0xbf:
		return "Microchip"
	case 0xc2:
		return "Macronix"
	case 0xef:
		return "Winbond"
	}
	return "unknown"
}
