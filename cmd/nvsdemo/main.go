// Command nvsdemo runs the storage demo sequence against a flash image
// file: print region attributes, read the four stored values, write them
// back with erase and readback verification.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyflash/nvs"
)

const footer = "=================================================="

type slot struct {
	name   string
	offset uint32
	width  int
	signed bool
	value  int32
}

var slots = []slot{
	{name: "variableA", offset: 0x10000, width: 1, signed: false, value: 240},
	{name: "variableB", offset: 0x4000, width: 1, signed: true, value: -65},
	{name: "variableC", offset: 0x14000, width: 2, signed: false, value: 64532},
	{name: "variableD", offset: 0x17000, width: 2, signed: true, value: -6453},
}

func main() {
	img := flag.String("img", "flash.img", "Path to flash image file.")
	base := flag.Uint("base", 0x2000, "Region base address on the image.")
	sectors := flag.Uint("sectors", 24, "Region size in sectors.")
	sector := flag.Uint("sector-size", 0x1000, "Sector size in bytes.")
	verbose := flag.Bool("v", false, "Log every storage operation.")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *img, uint32(*base), uint32(*sectors)*uint32(*sector), uint32(*sector)); err != nil {
		logger.Error("demo failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, img string, base, size, sector uint32) error {
	flash, err := nvs.OpenFileFlash(img, base+size, sector)
	if err != nil {
		return err
	}
	defer flash.Close()

	dev, err := nvs.Open(nvs.Config{Flash: flash, Base: base, Size: size, Logger: logger})
	if err != nil {
		return err
	}

	attrs := dev.Attrs()
	logger.Info("region attributes",
		slog.Uint64("regionBase", uint64(attrs.RegionBase)),
		slog.Uint64("sectorSize", uint64(attrs.SectorSize)),
		slog.Uint64("regionSize", uint64(attrs.RegionSize)),
	)

	var buf [4]byte
	for _, s := range slots {
		if err := dev.Read(s.offset, buf[:]); err != nil {
			logger.Error("cannot read slot", slog.String("name", s.name), slog.String("err", err.Error()))
			continue
		}
		logger.Info("read slot",
			slog.String("name", s.name),
			slog.Uint64("offset", uint64(s.offset)),
			slog.Int64("value", int64(decode(buf[:], s.width, s.signed))),
		)
	}
	for _, s := range slots {
		encode(buf[:], s.value, s.width)
		if err := dev.Write(s.offset, buf[:], nvs.WriteErase|nvs.WritePostVerify); err != nil {
			logger.Error("cannot write slot", slog.String("name", s.name), slog.String("err", err.Error()))
			continue
		}
		logger.Info("written slot", slog.String("name", s.name), slog.Uint64("offset", uint64(s.offset)))
	}
	fmt.Println(footer)
	return flash.Sync()
}

func decode(buf []byte, width int, signed bool) int32 {
	raw := uint16(buf[0])
	if width == 2 {
		raw |= uint16(buf[1]) << 8
	}
	switch {
	case signed && width == 1:
		return int32(int8(raw))
	case signed:
		return int32(int16(raw))
	}
	return int32(raw)
}

func encode(buf []byte, value int32, width int) {
	buf[0] = byte(value)
	if width == 2 {
		buf[1] = byte(uint16(value) >> 8)
	} else {
		buf[1] = 0xff
	}
	buf[2] = 0xff
	buf[3] = 0xff
}
