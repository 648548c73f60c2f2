package nvs

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/exp/constraints"
)

var (
	// ErrBadConfig is returned by Open when the region configuration does not
	// describe a valid erasable span of the backing flash.
	ErrBadConfig = errors.New("nvs: bad region config")
	// ErrOutOfBounds is returned when a requested span crosses the region
	// boundary. Always a caller bug; the store mutates nothing.
	ErrOutOfBounds = errors.New("nvs: span out of region bounds")
	// ErrVerify is returned by Write with WritePostVerify when the readback
	// does not match the programmed data. The sector retains the attempted
	// write, there is no rollback.
	ErrVerify = errors.New("nvs: post-write verify mismatch")
	// ErrAlign is returned by Erase for offsets or sizes that are not
	// multiples of the sector size.
	ErrAlign = errors.New("nvs: argument not sector aligned")
)

// WriteMode determines the behavior of a Write as a bitfield.
// To select multiple behaviors use OR operation:
//
//	mode := WriteErase | WritePostVerify
type WriteMode uint8

const (
	// WriteErase erases the sector(s) containing the destination span before
	// programming. Flash cells only transition from erased to programmed
	// state; without an erase, previously programmed bits remain cleared.
	WriteErase WriteMode = 1 << iota
	// WritePostVerify reads the span back after programming and fails with
	// ErrVerify on mismatch.
	WritePostVerify
)

// Attrs holds the immutable attributes of an opened region.
type Attrs struct {
	// RegionBase is the byte address of the region start on the flash device.
	RegionBase uint32
	// SectorSize is the erase granularity in bytes.
	SectorSize uint32
	// RegionSize is the total region size in bytes, a multiple of SectorSize.
	RegionSize uint32
}

// Config is passed to Open to select a region of a flash device.
type Config struct {
	// Flash is the backing flash device. Required.
	Flash Flash
	// Base is the byte address of the region start on Flash.
	// Must be a multiple of the flash sector size.
	Base uint32
	// Size is the region size in bytes, a multiple of the sector size.
	// If zero the region extends to the end of the flash device.
	Size uint32
	// Logger lets the device log api calls. When nil no logging is performed.
	Logger *slog.Logger
}

// Device is an opened handle to a flash region. Operations on a Device are
// serialized by an internal handle-scoped, non-reentrant mutex. Calls block
// until the underlying flash operation completes; sector erases may take
// milliseconds.
type Device struct {
	mu     sync.Mutex
	flash  Flash
	attrs  Attrs
	logger *slog.Logger
	// vbuf stages readback chunks during post-verify.
	vbuf [64]byte
}

// Open validates cfg and returns a handle to the described region.
// Failures wrap ErrBadConfig and are not retryable without fixing cfg.
func Open(cfg Config) (*Device, error) {
	if cfg.Flash == nil {
		return nil, fmt.Errorf("%w: nil flash device", ErrBadConfig)
	}
	sector := cfg.Flash.SectorSize()
	total := cfg.Flash.Size()
	if sector == 0 || sector&(sector-1) != 0 {
		return nil, fmt.Errorf("%w: sector size %#x not a power of two", ErrBadConfig, sector)
	}
	if total == 0 || !isaligned(total, sector) {
		return nil, fmt.Errorf("%w: flash size %#x not a multiple of sector size", ErrBadConfig, total)
	}
	if cfg.Size == 0 {
		if cfg.Base > total {
			return nil, fmt.Errorf("%w: base %#x beyond flash end %#x", ErrBadConfig, cfg.Base, total)
		}
		cfg.Size = total - cfg.Base
	}
	switch {
	case !isaligned(cfg.Base, sector):
		return nil, fmt.Errorf("%w: base %#x not sector aligned", ErrBadConfig, cfg.Base)
	case cfg.Size == 0 || !isaligned(cfg.Size, sector):
		return nil, fmt.Errorf("%w: size %#x not a nonzero multiple of sector size", ErrBadConfig, cfg.Size)
	case cfg.Base+cfg.Size > total || cfg.Base+cfg.Size < cfg.Base:
		return nil, fmt.Errorf("%w: region [%#x,%#x) exceeds flash size %#x", ErrBadConfig, cfg.Base, cfg.Base+cfg.Size, total)
	}
	d := &Device{
		flash: cfg.Flash,
		attrs: Attrs{
			RegionBase: cfg.Base,
			SectorSize: sector,
			RegionSize: cfg.Size,
		},
		logger: cfg.Logger,
	}
	d.info("nvs:open",
		slog.Uint64("base", uint64(d.attrs.RegionBase)),
		slog.Uint64("sectorSize", uint64(d.attrs.SectorSize)),
		slog.Uint64("regionSize", uint64(d.attrs.RegionSize)),
	)
	return d, nil
}

// Attrs returns the region attributes established at Open time.
func (d *Device) Attrs() Attrs { return d.attrs }

// Read copies len(dst) bytes starting at the region-relative offset into the
// caller-owned dst. Reading an area never written since the last erase
// returns erased bytes (0xff). dst is not retained after Read returns.
func (d *Device) Read(offset uint32, dst []byte) error {
	if err := d.bounds(offset, len(dst)); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trace("nvs:read", slog.Uint64("offset", uint64(offset)), slog.Int("len", len(dst)))
	_, err := d.flash.ReadAt(dst, int64(d.attrs.RegionBase+offset))
	return err
}

// Write programs data at the region-relative offset. mode selects erasing of
// the containing sector(s) before programming and readback verification
// after, see WriteMode. On a bounds failure nothing is written. On ErrVerify
// the sector holds the attempted write; the store never retries internally.
//
// Without WriteErase the result of programming previously written, unerased
// cells is undefined: the hardware can only clear bits.
func (d *Device) Write(offset uint32, data []byte, mode WriteMode) error {
	if err := d.bounds(offset, len(data)); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	addr := d.attrs.RegionBase + offset
	sector := d.attrs.SectorSize
	d.debug("nvs:write",
		slog.Uint64("offset", uint64(offset)),
		slog.Int("len", len(data)),
		slog.Uint64("mode", uint64(mode)),
	)
	if mode&WriteErase != 0 {
		firstSect := aligndown(addr, sector) / sector
		lastSect := aligndown(addr+uint32(len(data))-1, sector) / sector
		for sect := firstSect; sect <= lastSect; sect++ {
			if err := d.flash.EraseSector(sect); err != nil {
				return err
			}
		}
	}
	if _, err := d.flash.WriteAt(data, int64(addr)); err != nil {
		return err
	}
	if mode&WritePostVerify != 0 {
		return d.verify(addr, data)
	}
	return nil
}

// Erase restores size bytes starting at the region-relative offset to the
// erased state (0xff). offset and size must be multiples of the sector size.
func (d *Device) Erase(offset, size uint32) error {
	sector := d.attrs.SectorSize
	if !isaligned(offset, sector) || !isaligned(size, sector) {
		return fmt.Errorf("%w: erase [%#x,%#x)", ErrAlign, offset, offset+size)
	}
	if err := d.bounds(offset, int(size)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.debug("nvs:erase", slog.Uint64("offset", uint64(offset)), slog.Uint64("size", uint64(size)))
	firstSect := (d.attrs.RegionBase + offset) / sector
	for sect := firstSect; sect < firstSect+size/sector; sect++ {
		if err := d.flash.EraseSector(sect); err != nil {
			return err
		}
	}
	return nil
}

// verify reads back [addr, addr+len(data)) in vbuf sized chunks and compares
// against data. Expects d.mu held.
func (d *Device) verify(addr uint32, data []byte) error {
	for len(data) > 0 {
		n := min(len(data), len(d.vbuf))
		if _, err := d.flash.ReadAt(d.vbuf[:n], int64(addr)); err != nil {
			return err
		}
		if !bytes.Equal(d.vbuf[:n], data[:n]) {
			d.logerr("nvs:verify-mismatch", slog.Uint64("addr", uint64(addr)))
			return fmt.Errorf("%w at address %#x", ErrVerify, addr)
		}
		data = data[n:]
		addr += uint32(n)
	}
	return nil
}

// bounds checks a region-relative span against the region size.
func (d *Device) bounds(offset uint32, length int) error {
	end := uint64(offset) + uint64(length)
	if end > uint64(d.attrs.RegionSize) {
		return fmt.Errorf("%w: [%#x,%#x) region size %#x", ErrOutOfBounds, offset, end, d.attrs.RegionSize)
	}
	return nil
}

// alignup rounds `val` up to nearest multiple of `align`. `align` must be a power of 2.
func alignup[T constraints.Unsigned](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}

// aligndown rounds `val` down to nearest multiple of `align`. `align` must be a power of 2.
func aligndown[T constraints.Unsigned](val, align T) T {
	return val &^ (align - 1)
}

// isaligned checks if `val` is wholly divisible by `align`. `align` must be a power of 2.
func isaligned[T constraints.Unsigned](val, align T) bool {
	return val&(align-1) == 0
}
