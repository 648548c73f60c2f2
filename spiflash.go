package nvs

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyflash/nvs/nor"
)

type outputPin func(bool)

// spicon is the SPI transport needed by SPIFlash. Matches machine.SPI and
// the bit-banged SPIbb in this package.
type spicon interface {
	Tx(w, r []byte) error
	Transfer(b byte) (byte, error)
}

var (
	errFlashBusyTimeout = errors.New("nvs: flash busy timeout")
	errUnknownJEDECID   = errors.New("nvs: unidentifiable JEDEC id")
	errLargeCapacity    = errors.New("nvs: chip capacity exceeds 3-byte addressing")
)

// maxAddressable is the capacity limit of the 3-byte address commands this
// driver issues. Larger parts need the 4-byte command set and are rejected
// at probe time rather than letting addresses wrap.
const maxAddressable = 1 << 24

// busyTimeout bounds WIP polling. Datasheet worst case sector erase is
// 400ms on the supported chip class.
const busyTimeout = 800 * time.Millisecond

// SPIFlash drives an external W25Q/N25Q class serial NOR flash over SPI.
// It implements Flash; geometry is probed from the JEDEC id at creation.
type SPIFlash struct {
	bus    spicon
	cs     outputPin
	id     nor.JEDECID
	size   uint32
	logger *slog.Logger
}

// NewSPIFlash wakes the chip on the given bus, reads its JEDEC id and
// returns a driver for it. Chips beyond the 16MB reach of 3-byte addressing
// are rejected. cs drives the chip select line, true meaning logic high
// (deasserted).
func NewSPIFlash(bus spicon, cs outputPin, logger *slog.Logger) (*SPIFlash, error) {
	d := &SPIFlash{bus: bus, cs: cs, logger: logger}
	cs(true)
	// Wake from deep power-down; harmless if already awake.
	d.csEnable(true)
	d.bus.Transfer(nor.CmdReleasePowerDown)
	d.csEnable(false)
	time.Sleep(30 * time.Microsecond) // tRES1.

	var buf [4]byte
	buf[0] = nor.CmdReadJEDECID
	d.csEnable(true)
	err := d.bus.Tx(buf[:], buf[:])
	d.csEnable(false)
	if err != nil {
		return nil, err
	}
	id, err := nor.ParseJEDECID(buf[1:])
	if err != nil {
		return nil, err
	}
	d.id = id
	d.size = id.Size()
	if d.size == 0 {
		return nil, fmt.Errorf("%w: %#x %#x %#x", errUnknownJEDECID, buf[1], buf[2], buf[3])
	}
	if d.size > maxAddressable {
		return nil, fmt.Errorf("%w: %d bytes", errLargeCapacity, d.size)
	}
	if logger != nil {
		logger.Info("spiflash:identified",
			slog.String("manufacturer", id.ManufacturerName()),
			slog.Uint64("size", uint64(d.size)),
		)
	}
	return d, nil
}

// ID returns the JEDEC identification read at creation.
func (d *SPIFlash) ID() nor.JEDECID { return d.id }

func (d *SPIFlash) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(d.size) {
		return 0, errFlashBounds
	}
	var hdr [4]byte
	hdr[0] = nor.CmdRead
	nor.PutAddr(hdr[1:], uint32(off))
	d.csEnable(true)
	defer d.csEnable(false)
	if err := d.bus.Tx(hdr[:], nil); err != nil {
		return 0, err
	}
	if err := d.bus.Tx(nil, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *SPIFlash) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(d.size) {
		return 0, errFlashBounds
	}
	written := 0
	addr := uint32(off)
	for len(p) > 0 {
		// Page programming wraps within the page; never cross one per command.
		pageEnd := aligndown(addr, nor.PageSize) + nor.PageSize
		n := min(len(p), int(pageEnd-addr))
		if err := d.program(addr, p[:n]); err != nil {
			return written, err
		}
		p = p[n:]
		addr += uint32(n)
		written += n
	}
	return written, nil
}

func (d *SPIFlash) EraseSector(index uint32) error {
	addr := index * nor.SectorSize
	if addr+nor.SectorSize > d.size {
		return errFlashBounds
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	var hdr [4]byte
	hdr[0] = nor.CmdSectorErase
	nor.PutAddr(hdr[1:], addr)
	d.csEnable(true)
	err := d.bus.Tx(hdr[:], nil)
	d.csEnable(false)
	if err != nil {
		return err
	}
	return d.waitIdle()
}

func (d *SPIFlash) SectorSize() uint32 { return nor.SectorSize }

func (d *SPIFlash) Size() uint32 { return d.size }

// program issues a single page program command. p must not cross a page
// boundary from addr.
func (d *SPIFlash) program(addr uint32, p []byte) error {
	if err := d.writeEnable(); err != nil {
		return err
	}
	var hdr [4]byte
	hdr[0] = nor.CmdPageProgram
	nor.PutAddr(hdr[1:], addr)
	d.csEnable(true)
	err := d.bus.Tx(hdr[:], nil)
	if err == nil {
		err = d.bus.Tx(p, nil)
	}
	d.csEnable(false)
	if err != nil {
		return err
	}
	return d.waitIdle()
}

func (d *SPIFlash) writeEnable() error {
	d.csEnable(true)
	_, err := d.bus.Transfer(nor.CmdWriteEnable)
	d.csEnable(false)
	return err
}

// waitIdle polls the status register until the write-in-progress bit clears.
func (d *SPIFlash) waitIdle() error {
	deadline := time.Now().Add(busyTimeout)
	for {
		d.csEnable(true)
		d.bus.Transfer(nor.CmdReadStatus)
		status, err := d.bus.Transfer(0)
		d.csEnable(false)
		if err != nil {
			return err
		}
		if status&nor.StatusBusy == 0 {
			return nil
		}
		if time.Since(deadline) >= 0 {
			return errFlashBusyTimeout
		}
		time.Sleep(10 * time.Microsecond)
	}
}

func (d *SPIFlash) csEnable(b bool) {
	d.cs(!b)
}
