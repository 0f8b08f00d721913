package sim

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/sigurn/crc16"

	"github.com/bigbag/efm32-flasher/internal/target"
)

func read32(d *Device, addr uint32) uint32 {
	var b [4]byte
	d.ReadMem(b[:], addr)
	return binary.LittleEndian.Uint32(b[:])
}

func write32(d *Device, addr, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	d.WriteMem(addr, b[:])
}

func TestDIPage(t *testing.T) {
	cfg := DefaultConfig()
	d := New(cfg)

	page := make([]byte, diSize)
	d.ReadMem(page, DIBase)
	if err := d.CheckError(); err != nil {
		t.Fatalf("CheckError() = %v", err)
	}

	le := binary.LittleEndian
	if got := le.Uint16(page[0x1FC:]); got != cfg.PartNumber {
		t.Errorf("part number = %d, want %d", got, cfg.PartNumber)
	}
	if page[0x1FE] != cfg.PartFamily {
		t.Errorf("part family = %d, want %d", page[0x1FE], cfg.PartFamily)
	}
	eui := uint64(le.Uint32(page[0x1F4:]))<<32 | uint64(le.Uint32(page[0x1F0:]))
	if eui != cfg.EUI {
		t.Errorf("EUI = 0x%016X, want 0x%016X", eui, cfg.EUI)
	}
	if page[0x1E7] != 1 {
		t.Errorf("page size encoding = %d, want 1 for 2048", page[0x1E7])
	}

	crc := crc16.Checksum(page[0x1B2:], crc16.MakeTable(crc16.CRC16_CCITT_FALSE))
	if got := le.Uint16(page[0x1B0:]); got != crc {
		t.Errorf("DI CRC = 0x%04X, want 0x%04X", got, crc)
	}
}

func TestBusFault(t *testing.T) {
	d := New(DefaultConfig())

	tests := []struct {
		name string
		op   func()
	}{
		{"read unmapped", func() { read32(d, 0x60000000) }},
		{"write flash", func() { write32(d, 0x100, 0) }},
		{"write DI", func() { write32(d, DIBase, 0) }},
		{"read past RAM", func() { read32(d, RAMBase+32*1024) }},
	}
	for _, tc := range tests {
		tc.op()
		if err := d.CheckError(); !errors.Is(err, ErrBusFault) {
			t.Errorf("%s: CheckError() = %v, want ErrBusFault", tc.name, err)
		}
		if err := d.CheckError(); err != nil {
			t.Errorf("%s: error not cleared: %v", tc.name, err)
		}
	}
}

func TestStickyErrorKeepsFirst(t *testing.T) {
	d := New(DefaultConfig())
	read32(d, 0x60000000)
	d.SetFault(errors.New("later"))
	read32(d, 0)

	if err := d.CheckError(); !errors.Is(err, ErrBusFault) {
		t.Errorf("CheckError() = %v, want the first error", err)
	}
}

func TestPageErase(t *testing.T) {
	d := New(DefaultConfig())
	d.LoadFlash(0x1000, []byte{1, 2, 3})
	base := d.MSCBase()

	// Without WREN nothing happens.
	write32(d, base+regAddrB, 0x1000)
	write32(d, base+regWriteCmd, cmdLAddrIm)
	write32(d, base+regWriteCmd, cmdErasePage)
	if len(d.ErasedPages()) != 0 {
		t.Fatal("page erased without write enable")
	}

	write32(d, base+regWriteCtrl, 1)
	write32(d, base+regAddrB, 0x1004)
	write32(d, base+regWriteCmd, cmdLAddrIm)
	write32(d, base+regWriteCmd, cmdErasePage)

	if pages := d.ErasedPages(); len(pages) != 1 || pages[0] != 0x1000 {
		t.Errorf("ErasedPages() = %#x, want [0x1000]", pages)
	}
	if d.Flash()[0x1000] != 0xFF {
		t.Error("page content not erased")
	}

	for i := 0; i < 2; i++ {
		if s := read32(d, base+regStatus); s&statusBusy == 0 {
			t.Errorf("poll %d: STATUS = 0x%X, want BUSY", i, s)
		}
	}
	if s := read32(d, base+regStatus); s&statusBusy != 0 {
		t.Errorf("STATUS = 0x%X, want ready", s)
	}
}

func TestInvalidAddress(t *testing.T) {
	d := New(DefaultConfig())
	base := d.MSCBase()

	write32(d, base+regWriteCtrl, 1)
	write32(d, base+regAddrB, 256*1024)
	write32(d, base+regWriteCmd, cmdLAddrIm)
	write32(d, base+regWriteCmd, cmdErasePage)

	if s := read32(d, base+regStatus); s&statusInvAddr == 0 {
		t.Errorf("STATUS = 0x%X, want INVADDR", s)
	}
	if len(d.ErasedPages()) != 0 {
		t.Error("erase accepted an invalid address")
	}
}

func TestMSCLock(t *testing.T) {
	d := New(DefaultConfig())
	base := d.MSCBase()

	write32(d, base+0x03C, 0)
	write32(d, base+regWriteCtrl, 1)
	if read32(d, base+regWriteCtrl) != 0 {
		t.Error("WRITECTRL changed while locked")
	}

	write32(d, base+0x03C, lockKey)
	write32(d, base+regWriteCtrl, 1)
	if read32(d, base+regWriteCtrl) != 1 {
		t.Error("WRITECTRL not set after unlock")
	}
}

func TestMassErase(t *testing.T) {
	d := New(DefaultConfig())
	d.LoadFlash(0, []byte{0, 0})
	base := d.MSCBase()

	write32(d, base+regWriteCtrl, 1)
	write32(d, base+regWriteCmd, cmdEraseMain0)
	if d.MassErases() != 0 {
		t.Fatal("mass erase ran with MASSLOCK locked")
	}

	write32(d, base+regMassLock, massLockKey)
	if !d.MassLockUnlocked() {
		t.Fatal("MASSLOCK key not accepted")
	}
	write32(d, base+regWriteCmd, cmdEraseMain0)
	if d.MassErases() != 1 || d.Flash()[0] != 0xFF {
		t.Error("mass erase did not take effect")
	}
	write32(d, base+regMassLock, 0)
	if d.MassLockUnlocked() {
		t.Error("MASSLOCK not relocked")
	}
}

func TestGen2Layout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gen = 2
	d := New(cfg)

	if d.MSCBase() != 0x400E0000 {
		t.Fatalf("MSCBase() = 0x%08X, want 0x400E0000", d.MSCBase())
	}
	write32(d, 0x400E0040, 0)
	write32(d, 0x400E0000+regWriteCtrl, 1)
	if read32(d, 0x400E0000+regWriteCtrl) != 0 {
		t.Error("gen2 LOCK register not at offset 0x40")
	}
}

func TestFailStatusPoll(t *testing.T) {
	d := New(DefaultConfig())
	d.FailStatusPoll(2)
	status := d.MSCBase() + regStatus

	read32(d, status)
	if err := d.CheckError(); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	read32(d, status)
	if err := d.CheckError(); !errors.Is(err, ErrInjected) {
		t.Errorf("second poll: CheckError() = %v, want ErrInjected", err)
	}
}

func TestRunStub_RejectsForeignCode(t *testing.T) {
	d := New(DefaultConfig())
	d.WriteMem(RAMBase, make([]byte, 0x4C))

	if res := d.RunStub(RAMBase, [4]uint32{0, RAMBase + 0x4C, 4, 0}); res != target.StubFault {
		t.Errorf("RunStub() = %v, want StubFault", res)
	}
	if len(d.StubCalls()) != 1 {
		t.Error("call not recorded")
	}
}

func TestRunStub_TransportFault(t *testing.T) {
	d := New(DefaultConfig())
	d.SetFault(errors.New("gone"))
	if res := d.RunStub(RAMBase, [4]uint32{}); res != target.StubTransportError {
		t.Errorf("RunStub() = %v, want StubTransportError", res)
	}
}

func TestReset(t *testing.T) {
	d := New(DefaultConfig())
	base := d.MSCBase()
	write32(d, base+regWriteCtrl, 1)
	write32(d, base+regMassLock, massLockKey)

	if err := d.Reset(true); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if read32(d, base+regWriteCtrl) != 0 || d.MassLockUnlocked() {
		t.Error("MSC state survived reset")
	}
	if r := d.Resets(); len(r) != 1 || !r[0] {
		t.Errorf("Resets() = %v, want [true]", r)
	}
}
