package efm32

import (
	"bytes"
	"testing"

	"github.com/bigbag/efm32-flasher/internal/sim"
	"github.com/bigbag/efm32-flasher/internal/target"
)

func newSession(t *testing.T, cfg sim.Config) (*target.Target, *sim.Device, *bytes.Buffer) {
	t.Helper()
	dev := sim.New(cfg)
	out := &bytes.Buffer{}
	return target.New(dev, target.WithOutput(out)), dev, out
}

// probed returns a session that has already been probed, with the probe's
// accesses and output cleared.
func probed(t *testing.T, cfg sim.Config, opts ...Option) (*target.Target, *sim.Device, *bytes.Buffer) {
	t.Helper()
	tg, dev, out := newSession(t, cfg)
	if !Prober(opts...)(tg) {
		t.Fatalf("probe failed for family %d", cfg.PartFamily)
	}
	dev.ClearOps()
	out.Reset()
	return tg, dev, out
}

// mscOps returns the recorded accesses that hit the MSC register block.
func mscOps(dev *sim.Device) []sim.Op {
	var ops []sim.Op
	for _, op := range dev.Ops() {
		if op.Addr >= dev.MSCBase() && op.Addr < dev.MSCBase()+0x100 {
			ops = append(ops, op)
		}
	}
	return ops
}

func gen2Config() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.IDCode = IDCodeCortexM3M4
	cfg.PartFamily = 16
	cfg.RadioPart = 4461
	cfg.Gen = 2
	return cfg
}
