// Package efm32 identifies Silicon Labs EFM32, EFR32 and EZR32 parts and
// programs their internal flash through the Memory System Controller.
package efm32

import (
	"fmt"

	"github.com/bigbag/efm32-flasher/internal/target"
)

// SW-DP IDCODEs used by the family, see AN0062 section 2.2.
const (
	IDCodeCortexM3M4 = 0x2BA01477
	IDCodeCortexM0P  = 0x0BC11477
)

// Probe is the prober with default options.
func Probe(t *target.Target) bool {
	return probe(t, defaultConfig())
}

// Prober returns a prober configured with opts.
func Prober(opts ...Option) target.ProbeFunc {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(t *target.Target) bool {
		return probe(t, cfg)
	}
}

func probe(t *target.Target, cfg config) bool {
	switch t.IDCode() {
	case IDCodeCortexM3M4, IDCodeCortexM0P:
	default:
		return false
	}

	partNumber := ReadPartNumber(t)
	partFamily := ReadPartFamily(t)

	t.Logger().Debug("efm32 probe", "part_number", partNumber, "part_family", partFamily)

	dev, ok := Lookup(uint16(partFamily))
	if !ok {
		return false
	}

	name := dev.Name
	if dev.HasRadio {
		name = fmt.Sprintf("%s (radio: %d)", dev.Name, ReadRadioPartNumber(t))
	}

	flashSize := uint32(ReadFlashSize(t)) * 1024
	ramSize := uint32(ReadRAMSize(t)) * 1024

	ctrl := &Controller{layout: dev.MSC, pollTimeout: cfg.pollTimeout}
	writer := NewStubWriter(dev.MSC)

	t.Options |= target.InhibitSRST
	t.Driver = name
	t.Printf("flash size %d page size %d\n", flashSize, dev.PageSize)
	t.AddRAM(sramBase, ramSize)
	t.AddFlash(&target.Flash{
		Start:    0,
		Length:   flashSize,
		PageSize: dev.PageSize,
		BufSize:  dev.PageSize,
		Erased:   0xFF,
		Erase:    ctrl.erase,
		Write:    writer.write,
	})
	t.AddCommands("EFM32", commands(ctrl))

	return true
}
