//go:build tinygo

package nvs

import (
	"log/slog"
	"machine"
)

// NewPicoSPIFlash wires an external serial NOR flash breakout to the
// Raspberry Pi Pico's SPI1 peripheral on the default pins and returns a
// driver for it.
//
//	GPIO10 SCK | GPIO11 MOSI | GPIO12 MISO | GPIO13 CS
func NewPicoSPIFlash(logger *slog.Logger) (*SPIFlash, error) {
	const (
		SCK  = machine.GPIO10
		MOSI = machine.GPIO11
		MISO = machine.GPIO12
		CS   = machine.GPIO13
	)
	CS.Configure(machine.PinConfig{Mode: machine.PinOutput})
	CS.High()
	spi := machine.SPI1
	err := spi.Configure(machine.SPIConfig{
		Frequency: 25_000_000,
		SCK:       SCK,
		SDO:       MOSI,
		SDI:       MISO,
		Mode:      0,
	})
	if err != nil {
		return nil, err
	}
	return NewSPIFlash(spi, CS.Set, logger)
}
