// Command nvsanalyze processes binary Saleae digital captures of SPI NOR
// flash traffic and prints the decoded command transactions.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"

	"github.com/tinyflash/nvs/nor"
)

type Decode struct {
	OmitReadData bool
	OmitRead     bool
	OmitWrite    bool
	// MaxData truncates printed data payloads, 0 meaning no limit.
	MaxData uint
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "nvsanalyze - Decode Saleae digital data files of serial NOR flash transactions.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	clk := flag.String("f-clk", "digital_0.bin", "Input filename: SPI clock data.")
	enable := flag.String("f-cs", "digital_1.bin", "Input filename: SPI CS/SS data.")
	sdo := flag.String("f-sdo", "digital_2.bin", "Input filename: SPI controller-out data (MOSI).")
	sdi := flag.String("f-sdi", "digital_3.bin", "Input filename: SPI controller-in data (MISO).")
	output := flag.String("o-cmd", "commands.txt", "Output filename of decoded flash transactions.")
	timingsOutput := flag.String("o-time", "", "Output timing data to a file corresponding to output command history line-by-line.")
	omitReadData := flag.Bool("omit-read-data", false, "Choose to omit read data in output.")
	omitReadAll := flag.Bool("omit-read", false, "Choose to omit read commands in output.")
	omitWriteAll := flag.Bool("omit-write", false, "Choose to omit write commands in output.")
	maxData := flag.Uint("max-data", 0, "Truncate printed data to this many bytes. 0 prints everything.")
	flag.Parse()

	dec := Decode{
		OmitReadData: *omitReadData,
		OmitRead:     *omitReadAll,
		OmitWrite:    *omitWriteAll,
		MaxData:      *maxData,
	}
	if dec.OmitRead && dec.OmitWrite {
		log.Fatal("cannot omit both read and write commands")
	}
	start := time.Now()
	if err := dec.run(*clk, *enable, *sdo, *sdi, *output, *timingsOutput); err != nil {
		log.Fatal(err.Error())
	}
	log.Println("finished in", time.Since(start))
}

func (dec *Decode) run(clk, enable, sdo, sdi, output, timingsOutput string) error {
	txs, err := dec.processSpiFiles(clk, enable, sdo, sdi)
	if err != nil {
		return err
	}
	fp, err := os.Create(output)
	if err != nil {
		return err
	}
	defer fp.Close()

	var timings *os.File
	if timingsOutput != "" {
		log.Println("creating timings file", timingsOutput)
		timings, err = os.Create(timingsOutput)
		if err != nil {
			return err
		}
		defer timings.Close()
	}

	const fmtMsg = "cmd×%2d %s data=%#x"
	for _, tx := range txs {
		if (dec.OmitRead && tx.Cmd.IsRead()) || (dec.OmitWrite && !tx.Cmd.IsRead()) {
			continue
		}
		data := tx.Data
		if dec.OmitReadData && tx.Cmd.IsRead() {
			data = []byte{}
		}
		if dec.MaxData != 0 && uint(len(data)) > dec.MaxData {
			data = data[:dec.MaxData]
		}
		_, err = fmt.Fprintf(fp, fmtMsg, tx.Num, tx.Cmd.String(), data)
		if err != nil {
			return err
		}
		fmt.Fprintln(fp)
		if timings != nil {
			fmt.Fprintf(timings, "t=%f\tdata=%#x\n", tx.Start, data)
		}
	}
	return nil
}

func (dec *Decode) processSpiFiles(fclk, fenable, fsdo, fsdi string) ([]nortx, error) {
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	sdo, err := opendigital(fsdo)
	if err != nil {
		return nil, err
	}
	sdi, err := opendigital(fsdi)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, sdo, sdi)
	return dec.process(txs), nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	df, err := saleae.ReadDigitalFile(fp)
	if err != nil {
		return nil, err
	}
	return df, nil
}

// NORCmd is a decoded flash command header.
type NORCmd struct {
	Op      byte
	Addr    uint32
	HasAddr bool
}

func (cmd *NORCmd) String() string {
	if cmd.HasAddr {
		return fmt.Sprintf("op=%#02x %-12s addr=%#7x", cmd.Op, opName(cmd.Op), cmd.Addr)
	}
	return fmt.Sprintf("op=%#02x %-12s             ", cmd.Op, opName(cmd.Op))
}

// IsRead reports whether the command's payload travels from chip to host.
func (cmd *NORCmd) IsRead() bool {
	switch cmd.Op {
	case nor.CmdRead, nor.CmdFastRead, nor.CmdReadStatus, nor.CmdReadJEDECID:
		return true
	}
	return false
}

func opName(op byte) string {
	switch op {
	case nor.CmdRead:
		return "read"
	case nor.CmdFastRead:
		return "fast-read"
	case nor.CmdPageProgram:
		return "page-program"
	case nor.CmdSectorErase:
		return "sector-erase"
	case nor.CmdBlockErase32K:
		return "block-erase"
	case nor.CmdChipErase:
		return "chip-erase"
	case nor.CmdWriteEnable:
		return "write-enable"
	case nor.CmdWriteDisable:
		return "write-disable"
	case nor.CmdReadStatus:
		return "read-status"
	case nor.CmdWriteStatus:
		return "write-status"
	case nor.CmdReadJEDECID:
		return "read-id"
	case nor.CmdReleasePowerDown:
		return "wake"
	case nor.CmdPowerDown:
		return "power-down"
	}
	return "unknown"
}

// CommandFromBytes decodes one chip-select-framed transaction. Payload bytes
// come from the controller-in line for read commands and the controller-out
// line otherwise.
func CommandFromBytes(sdo, sdi []byte) (cmd NORCmd, data []byte) {
	if len(sdo) == 0 {
		return NORCmd{}, nil
	}
	cmd.Op = sdo[0]
	hdr := 1
	if nor.IsAddressed(cmd.Op) && len(sdo) >= 4 {
		cmd.Addr = nor.Addr(sdo[1:4])
		cmd.HasAddr = true
		hdr = 4
	}
	if cmd.IsRead() {
		if hdr < len(sdi) {
			data = sdi[hdr:]
		}
	} else if hdr < len(sdo) {
		data = sdo[hdr:]
	}
	return cmd, data
}

type nortx struct {
	Num   int
	Cmd   NORCmd
	Data  []byte
	Start float64
}

// process collapses runs of identical transactions, typically status polls,
// into a single entry with a count.
func (dec *Decode) process(txs []analyzers.TxSPI) (ntxs []nortx) {
	repeats := 1
	for i := 0; i < len(txs); i++ {
		tx := txs[i]
		cmd, data := CommandFromBytes(tx.SDO, tx.SDI)
		for j := i + 1; j < len(txs); j++ {
			nextcmd, nextdata := CommandFromBytes(txs[j].SDO, txs[j].SDI)
			if nextcmd != cmd || !bytes.Equal(data, nextdata) {
				break
			}
			repeats++
			i = j
		}
		ntxs = append(ntxs, nortx{
			Num:   repeats,
			Cmd:   cmd,
			Data:  data,
			Start: tx.StartTime(),
		})
		repeats = 1
	}
	return ntxs
}
