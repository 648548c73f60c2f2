// Command nvsshell provides an interactive shell for inspecting and patching
// flash image files with the same region semantics the device sees.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/tinyflash/nvs"
)

const (
	sessionKey     = "$session"
	noImagePrompt  = "[none] > "
	promptTemplate = "[%s] > "
)

type session struct {
	flash *nvs.FileFlash
	dev   *nvs.Device
}

// shellCtl is the subset of the ishell context the command bodies use.
type shellCtl interface {
	Get(key string) interface{}
	Set(key string, value interface{})
	SetPrompt(prompt string)
	Print(val ...interface{})
	Printf(format string, val ...interface{})
	Err(err error)
}

var _ shellCtl = (*ishell.Context)(nil)

var commands = []*ishell.Cmd{
	{
		Name: "open",
		Help: "open <image> [base] [sectors] [sector-size] - open a flash image region (defaults 0x2000 24 0x1000)",
		Func: func(c *ishell.Context) { cmdOpen(c, c.Args) },
	},
	{
		Name: "attrs",
		Help: "print region attributes",
		Func: mustBeOpen(cmdAttrs),
	},
	{
		Name: "read",
		Help: "read <offset> <len> - hex dump region data",
		Func: mustBeOpen(cmdRead),
	},
	{
		Name: "write",
		Help: "write <offset> <hexbytes> [noerase] [verify] - program data, erasing the sector(s) first unless noerase",
		Func: mustBeOpen(cmdWrite),
	},
	{
		Name: "erase",
		Help: "erase <offset> <sectors> - restore sectors to erased state",
		Func: mustBeOpen(cmdErase),
	},
	{
		Name: "dump",
		Help: "dump [sector] - hex dump the whole region or a single sector",
		Func: mustBeOpen(cmdDump),
	},
	{
		Name: "close",
		Help: "sync and close the open image",
		Func: mustBeOpen(cmdClose),
	},
}

func main() {
	shell := ishell.New()
	shell.Println("nvsshell - flash image inspector")
	shell.SetPrompt(noImagePrompt)
	shell.Set(sessionKey, (*session)(nil))
	for _, cmd := range commands {
		shell.AddCmd(cmd)
	}
	shell.Run()
}

func sessionFrom(c shellCtl) *session {
	s, _ := c.Get(sessionKey).(*session)
	return s
}

// mustBeOpen wraps command funcs that require an open image.
func mustBeOpen(fn func(c shellCtl, args []string)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if sessionFrom(c) == nil {
			c.Err(errors.New("no image open, use: open <image>"))
			return
		}
		fn(c, c.Args)
	}
}

func cmdOpen(c shellCtl, args []string) {
	if len(args) < 1 {
		c.Err(errors.New("usage: open <image> [base] [sectors] [sector-size]"))
		return
	}
	base, sectors, sectorSize := uint64(0x2000), uint64(24), uint64(0x1000)
	var err error
	if len(args) > 1 {
		base, err = strconv.ParseUint(args[1], 0, 32)
	}
	if err == nil && len(args) > 2 {
		sectors, err = strconv.ParseUint(args[2], 0, 32)
	}
	if err == nil && len(args) > 3 {
		sectorSize, err = strconv.ParseUint(args[3], 0, 32)
	}
	if err != nil {
		c.Err(err)
		return
	}
	if old := sessionFrom(c); old != nil {
		// Drop the old session before trying the new image; a failed open
		// must not leave a closed handle installed in the context.
		old.flash.Close()
		c.Set(sessionKey, (*session)(nil))
		c.SetPrompt(noImagePrompt)
	}
	size := uint32(sectors * sectorSize)
	flash, err := nvs.OpenFileFlash(args[0], uint32(base)+size, uint32(sectorSize))
	if err != nil {
		c.Err(err)
		return
	}
	dev, err := nvs.Open(nvs.Config{Flash: flash, Base: uint32(base), Size: size})
	if err != nil {
		flash.Close()
		c.Err(err)
		return
	}
	c.Set(sessionKey, &session{flash: flash, dev: dev})
	c.SetPrompt(fmt.Sprintf(promptTemplate, args[0]))
}

func cmdAttrs(c shellCtl, args []string) {
	attrs := sessionFrom(c).dev.Attrs()
	c.Printf("Region Base Address: %#x\n", attrs.RegionBase)
	c.Printf("Sector Size: %#x\n", attrs.SectorSize)
	c.Printf("Region Size: %#x\n", attrs.RegionSize)
}

func cmdRead(c shellCtl, args []string) {
	offset, length, err := offsetLenArgs(args)
	if err != nil {
		c.Err(err)
		return
	}
	buf := make([]byte, length)
	if err := sessionFrom(c).dev.Read(offset, buf); err != nil {
		c.Err(err)
		return
	}
	c.Print(hex.Dump(buf))
}

func cmdWrite(c shellCtl, args []string) {
	if len(args) < 2 {
		c.Err(errors.New("usage: write <offset> <hexbytes> [noerase] [verify]"))
		return
	}
	offset, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		c.Err(err)
		return
	}
	data, err := hex.DecodeString(args[1])
	if err != nil {
		c.Err(err)
		return
	}
	mode := nvs.WriteErase
	for _, arg := range args[2:] {
		switch arg {
		case "noerase":
			mode &^= nvs.WriteErase
		case "verify":
			mode |= nvs.WritePostVerify
		default:
			c.Err(errors.New("unknown write flag " + arg))
			return
		}
	}
	if err := sessionFrom(c).dev.Write(uint32(offset), data, mode); err != nil {
		c.Err(err)
		return
	}
	c.Printf("wrote %d bytes at %#x\n", len(data), offset)
}

func cmdErase(c shellCtl, args []string) {
	s := sessionFrom(c)
	offset, sectors, err := offsetLenArgs(args)
	if err != nil {
		c.Err(err)
		return
	}
	size := sectors * s.dev.Attrs().SectorSize
	if err := s.dev.Erase(offset, size); err != nil {
		c.Err(err)
		return
	}
	c.Printf("erased [%#x,%#x)\n", offset, offset+size)
}

func cmdDump(c shellCtl, args []string) {
	dev := sessionFrom(c).dev
	attrs := dev.Attrs()
	offset, size := uint32(0), attrs.RegionSize
	if len(args) > 0 {
		sect, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			c.Err(err)
			return
		}
		offset = uint32(sect) * attrs.SectorSize
		size = attrs.SectorSize
	}
	buf := make([]byte, size)
	if err := dev.Read(offset, buf); err != nil {
		c.Err(err)
		return
	}
	c.Print(hex.Dump(buf))
}

func cmdClose(c shellCtl, args []string) {
	s := sessionFrom(c)
	if err := s.flash.Close(); err != nil {
		c.Err(err)
		return
	}
	c.Set(sessionKey, (*session)(nil))
	c.SetPrompt(noImagePrompt)
}

func offsetLenArgs(args []string) (uint32, uint32, error) {
	if len(args) < 2 {
		return 0, 0, errors.New("expected <offset> <count> arguments")
	}
	offset, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return 0, 0, err
	}
	count, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(offset), uint32(count), nil
}
