package efm32

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/bigbag/efm32-flasher/internal/sim"
	"github.com/bigbag/efm32-flasher/internal/target"
)

func TestStubWriter_ImagePatchedPerLayout(t *testing.T) {
	tests := []struct {
		layout Layout
		base   uint32
		lock   uint32
	}{
		{layoutGen1, 0x400C0000, 0x400C003C},
		{layoutGen2, 0x400E0000, 0x400E0040},
	}

	for _, tc := range tests {
		img := NewStubWriter(tc.layout).Image()
		if len(img) != 0x4C {
			t.Fatalf("stub length = %d, want %d", len(img), 0x4C)
		}
		if got := binary.LittleEndian.Uint32(img[0x40:]); got != tc.base {
			t.Errorf("Gen%d MSC literal = 0x%08X, want 0x%08X", tc.layout.Gen, got, tc.base)
		}
		if got := binary.LittleEndian.Uint32(img[0x44:]); got != tc.lock {
			t.Errorf("Gen%d LOCK literal = 0x%08X, want 0x%08X", tc.layout.Gen, got, tc.lock)
		}
		if got := binary.LittleEndian.Uint32(img[0x48:]); got != mscLockKey {
			t.Errorf("Gen%d key literal = 0x%08X, want 0x%08X", tc.layout.Gen, got, mscLockKey)
		}
		// bkpt #0 then bkpt #1 close the code section.
		if got := binary.LittleEndian.Uint16(img[0x3C:]); got != 0xBE00 {
			t.Errorf("exit instruction = 0x%04X, want bkpt #0", got)
		}
		if got := binary.LittleEndian.Uint16(img[0x3E:]); got != 0xBE01 {
			t.Errorf("fail instruction = 0x%04X, want bkpt #1", got)
		}
	}
}

func TestStubWriter_Addresses(t *testing.T) {
	w := NewStubWriter(layoutGen1)
	if w.Entry() != 0x20000000 {
		t.Errorf("Entry() = 0x%08X, want 0x20000000", w.Entry())
	}
	if w.BufferAddr() != 0x2000004C {
		t.Errorf("BufferAddr() = 0x%08X, want 0x2000004C", w.BufferAddr())
	}
	if w.BufferAddr()%4 != 0 || w.BufferAddr() < w.Entry()+uint32(len(w.Image())) {
		t.Error("buffer overlaps the stub or is not word aligned")
	}
}

func TestStubWriter_Write(t *testing.T) {
	tg, dev, _ := probed(t, sim.DefaultConfig())
	w := NewStubWriter(layoutGen1)

	data := make([]byte, 2048)
	for i := range data {
		data[i] = byte(i * 7)
	}

	const dest = 0x3000
	if res := w.Write(tg, dest, data); res != target.StubOK {
		t.Fatalf("Write() = %v, want StubOK", res)
	}

	if got := dev.RAM(0x20000000, len(w.Image())); !bytes.Equal(got, w.Image()) {
		t.Error("stub not uploaded at the scratch base")
	}
	if got := dev.RAM(w.BufferAddr(), len(data)); !bytes.Equal(got, data) {
		t.Error("buffer not uploaded right after the stub")
	}

	calls := dev.StubCalls()
	if len(calls) != 1 {
		t.Fatalf("RunStub called %d times, want 1", len(calls))
	}
	wantArgs := [4]uint32{dest, w.BufferAddr(), uint32(len(data)), 0}
	if calls[0].Entry != 0x20000000 || calls[0].Args != wantArgs {
		t.Errorf("RunStub(0x%08X, %#x), want (0x20000000, %#x)", calls[0].Entry, calls[0].Args, wantArgs)
	}

	if got := dev.Flash()[dest : dest+len(data)]; !bytes.Equal(got, data) {
		t.Error("flash content does not match the written buffer")
	}
}

func TestStubWriter_ReturnsRunnerResult(t *testing.T) {
	results := []target.StubResult{
		target.StubOK,
		1,
		42,
		target.StubFault,
		target.StubTimeout,
		target.StubTransportError,
	}

	for _, want := range results {
		tg, dev, _ := probed(t, sim.DefaultConfig())
		dev.SetStubResult(want)

		got := NewStubWriter(layoutGen1).Write(tg, 0, make([]byte, 16))
		if got != want {
			t.Errorf("Write() = %v, want %v", got, want)
		}
	}
}

func TestStubWriter_FlashCallback(t *testing.T) {
	tg, dev, _ := probed(t, gen2Config())
	f := tg.Flash()[0]

	if err := f.Write(f, 0x800, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !bytes.Equal(dev.Flash()[0x800:0x808], []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Error("flash content not programmed through the callback")
	}

	dev.SetStubResult(target.StubTimeout)
	err := f.Write(f, 0x800, make([]byte, 8))
	var se *target.StubError
	if !errors.As(err, &se) || se.Result != target.StubTimeout {
		t.Errorf("Write() error = %v, want StubError(timeout)", err)
	}
}

func TestStubWriter_WrongLayoutFaults(t *testing.T) {
	tg, _, _ := probed(t, sim.DefaultConfig())
	if res := NewStubWriter(layoutGen2).Write(tg, 0, make([]byte, 4)); res != target.StubFault {
		t.Errorf("Write() with gen2 stub on gen1 part = %v, want StubFault", res)
	}
}

func TestStubWriter_InvalidAddressExitCode(t *testing.T) {
	tg, _, _ := probed(t, sim.DefaultConfig())
	// Past the 256 KiB flash: the stub stops on bkpt #1.
	if res := NewStubWriter(layoutGen1).Write(tg, 0x40000, make([]byte, 4)); res != 1 {
		t.Errorf("Write() past end of flash = %v, want exit code 1", res)
	}
}

func TestStubWriter_ImageMatchesMSC(t *testing.T) {
	img := NewStubWriter(layoutGen1).Image()
	half := func(off int) uint16 { return binary.LittleEndian.Uint16(img[off:]) }

	// movs rd, #imm8
	imms := []struct {
		off  int
		want uint16
	}{
		{0x12, mscWriteCmdLAddrIm},
		{0x18, mscStatusLocked | mscStatusInvAddr},
		{0x20, mscStatusWDataReady},
		{0x2A, mscWriteCmdWriteOnce},
		{0x30, mscStatusBusy},
	}
	for _, tc := range imms {
		insn := half(tc.off)
		if insn&0xF800 != 0x2000 {
			t.Fatalf("insn at 0x%02X = 0x%04X, want movs", tc.off, insn)
		}
		if got := insn & 0xFF; got != tc.want {
			t.Errorf("movs at 0x%02X = #%d, want #%d", tc.off, got, tc.want)
		}
	}

	// str/ldr rt, [r3, #imm5*4]
	regs := []struct {
		off  int
		want uint16
	}{
		{0x0A, mscWriteCtrl},
		{0x10, mscAddrB},
		{0x14, mscWriteCmd},
		{0x16, mscStatus},
		{0x28, mscWData},
		{0x2C, mscWriteCmd},
	}
	for _, tc := range regs {
		insn := half(tc.off)
		if insn&0xF000 != 0x6000 || (insn>>3)&7 != 3 {
			t.Fatalf("insn at 0x%02X = 0x%04X, want str/ldr off r3", tc.off, insn)
		}
		if got := (insn >> 6 & 0x1F) * 4; got != tc.want {
			t.Errorf("offset at 0x%02X = 0x%02X, want 0x%02X", tc.off, got, tc.want)
		}
	}
}
