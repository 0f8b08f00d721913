// Package sim models an EFM32 device sitting behind a debug probe: flash,
// RAM, the DI page, and the MSC state machine. It stands in for hardware in
// tests and behind the CLI's simulator adapter.
package sim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/sigurn/crc16"

	"github.com/bigbag/efm32-flasher/embedded"
	"github.com/bigbag/efm32-flasher/internal/target"
)

// Memory map
const (
	RAMBase = 0x20000000
	DIBase  = 0x0FE08000
	diSize  = 0x200
	mscSize = 0x100
)

// MSC register offsets and bits, see the EFM32 reference manuals.
const (
	regWriteCtrl = 0x008
	regWriteCmd  = 0x00C
	regAddrB     = 0x010
	regWData     = 0x018
	regStatus    = 0x01C
	regMassLock  = 0x054

	cmdLAddrIm    = 1 << 0
	cmdErasePage  = 1 << 1
	cmdWriteOnce  = 1 << 3
	cmdEraseMain0 = 1 << 8

	statusBusy       = 1 << 0
	statusLocked     = 1 << 1
	statusInvAddr    = 1 << 2
	statusWDataReady = 1 << 3

	lockKey     = 0x1B71
	massLockKey = 0x631A
)

var (
	// ErrBusFault is latched on accesses outside mapped memory or to
	// read-only regions.
	ErrBusFault = errors.New("sim: bus fault")
	// ErrInjected is latched by FailStatusPoll.
	ErrInjected = errors.New("sim: injected transport error")
)

// Config describes the simulated part.
type Config struct {
	IDCode     uint32
	PartFamily uint8
	PartNumber uint16
	ProdRev    uint8
	RadioPart  uint16
	FlashKiB   uint16
	RAMKiB     uint16
	PageSize   uint32
	EUI        uint64
	// Gen is the MSC generation, 1 or 2.
	Gen int
	// BusyPolls is how many STATUS reads report BUSY after an erase or
	// write command. Negative keeps the controller busy forever.
	BusyPolls int
}

// DefaultConfig is an EFM32LG with 256 KiB flash and 32 KiB RAM.
func DefaultConfig() Config {
	return Config{
		IDCode:     0x2BA01477,
		PartFamily: 74,
		PartNumber: 990,
		ProdRev:    18,
		FlashKiB:   256,
		RAMKiB:     32,
		PageSize:   2048,
		EUI:        0x000B57FFFE8A1C05,
		Gen:        1,
		BusyPolls:  2,
	}
}

// Op is one debug-port access as seen by the device.
type Op struct {
	Write bool
	Addr  uint32
	// Value is the little-endian value of accesses up to four bytes.
	Value uint32
	Len   int
}

// StubCall records one RunStub invocation.
type StubCall struct {
	Entry uint32
	Args  [4]uint32
}

// Device is a simulated EFM32. It implements target.Access,
// target.StubRunner and target.Resetter.
type Device struct {
	cfg      Config
	mscBase  uint32
	lockAddr uint32

	flash []byte
	ram   []byte
	di    []byte

	wren         bool
	mscLocked    bool
	massUnlocked bool
	addrb        uint32
	latched      uint32
	wdata        uint32
	sticky       uint32
	busy         int

	erasedPages []uint32
	massErases  int

	ops      []Op
	err      error
	fault    error
	failPoll int

	stubResult *target.StubResult
	stubCalls  []StubCall
	resets     []bool
}

// New creates a device in its reset state with erased flash.
func New(cfg Config) *Device {
	d := &Device{
		cfg:   cfg,
		flash: bytes.Repeat([]byte{0xFF}, int(cfg.FlashKiB)*1024),
		ram:   make([]byte, int(cfg.RAMKiB)*1024),
		di:    buildDI(cfg),
	}
	if cfg.Gen == 2 {
		d.mscBase = 0x400E0000
		d.lockAddr = d.mscBase + 0x040
	} else {
		d.mscBase = 0x400C0000
		d.lockAddr = d.mscBase + 0x03C
	}
	return d
}

func buildDI(cfg Config) []byte {
	di := bytes.Repeat([]byte{0xFF}, diSize)
	le := binary.LittleEndian

	di[0x1AC] = 0x01
	di[0x1AD] = 0x02
	le.PutUint16(di[0x1AE:], cfg.RadioPart)
	if cfg.PageSize != 0 {
		di[0x1E7] = byte(bits.TrailingZeros32(cfg.PageSize) - 10)
	}
	le.PutUint32(di[0x1F0:], uint32(cfg.EUI))
	le.PutUint32(di[0x1F4:], uint32(cfg.EUI>>32))
	le.PutUint16(di[0x1F8:], cfg.FlashKiB)
	le.PutUint16(di[0x1FA:], cfg.RAMKiB)
	le.PutUint16(di[0x1FC:], cfg.PartNumber)
	di[0x1FE] = cfg.PartFamily
	di[0x1FF] = cfg.ProdRev

	crc := crc16.Checksum(di[0x1B2:], crc16.MakeTable(crc16.CRC16_CCITT_FALSE))
	le.PutUint16(di[0x1B0:], crc)
	return di
}

// IDCode returns the configured SW-DP IDCODE.
func (d *Device) IDCode() uint32 {
	return d.cfg.IDCode
}

// CheckError returns and clears the latched error.
func (d *Device) CheckError() error {
	err := d.err
	d.err = nil
	return err
}

func (d *Device) Close() error {
	return nil
}

func (d *Device) latch(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Device) record(write bool, addr uint32, data []byte) {
	op := Op{Write: write, Addr: addr, Len: len(data)}
	if len(data) <= 4 {
		var b [4]byte
		copy(b[:], data)
		op.Value = binary.LittleEndian.Uint32(b[:])
	}
	d.ops = append(d.ops, op)
}

// ReadMem implements target.Access.
func (d *Device) ReadMem(dst []byte, addr uint32) {
	if d.fault != nil {
		clear(dst)
		d.record(false, addr, dst)
		d.latch(d.fault)
		return
	}

	switch {
	case d.inMSC(addr, len(dst)):
		binary.LittleEndian.PutUint32(dst, d.readReg(addr-d.mscBase))
	case inRange(addr, len(dst), DIBase, diSize):
		copy(dst, d.di[addr-DIBase:])
	case inRange(addr, len(dst), 0, len(d.flash)):
		copy(dst, d.flash[addr:])
	case inRange(addr, len(dst), RAMBase, len(d.ram)):
		copy(dst, d.ram[addr-RAMBase:])
	default:
		clear(dst)
		d.latch(ErrBusFault)
	}
	d.record(false, addr, dst)
}

// WriteMem implements target.Access.
func (d *Device) WriteMem(addr uint32, src []byte) {
	d.record(true, addr, src)
	if d.fault != nil {
		d.latch(d.fault)
		return
	}

	switch {
	case d.inMSC(addr, len(src)):
		d.writeReg(addr-d.mscBase, binary.LittleEndian.Uint32(src))
	case inRange(addr, len(src), RAMBase, len(d.ram)):
		copy(d.ram[addr-RAMBase:], src)
	default:
		d.latch(ErrBusFault)
	}
}

func (d *Device) inMSC(addr uint32, n int) bool {
	return n == 4 && addr%4 == 0 && inRange(addr, n, d.mscBase, mscSize)
}

func inRange(addr uint32, n int, base uint32, size int) bool {
	return addr >= base && uint64(addr-base)+uint64(n) <= uint64(size)
}

func (d *Device) readReg(off uint32) uint32 {
	switch off {
	case regStatus:
		if d.failPoll > 0 {
			d.failPoll--
			if d.failPoll == 0 {
				d.latch(ErrInjected)
			}
		}
		if d.busy != 0 {
			if d.busy > 0 {
				d.busy--
			}
			return statusBusy | d.sticky
		}
		return statusWDataReady | d.sticky
	case regWriteCtrl:
		if d.wren {
			return 1
		}
		return 0
	case regAddrB:
		return d.addrb
	case regMassLock:
		if d.massUnlocked {
			return 0
		}
		return 1
	case d.lockAddr - d.mscBase:
		if d.mscLocked {
			return 1
		}
		return 0
	}
	return 0
}

func (d *Device) writeReg(off, v uint32) {
	if off == d.lockAddr-d.mscBase {
		d.mscLocked = v != lockKey
		return
	}
	if off == regMassLock {
		d.massUnlocked = v == massLockKey
		return
	}
	if d.mscLocked {
		return
	}

	switch off {
	case regWriteCtrl:
		d.wren = v&1 != 0
	case regAddrB:
		d.addrb = v
	case regWData:
		d.wdata = v
	case regWriteCmd:
		d.command(v)
	}
}

func (d *Device) command(v uint32) {
	if v&cmdLAddrIm != 0 {
		d.latched = d.addrb
		if d.latched >= uint32(len(d.flash)) {
			d.sticky |= statusInvAddr
		} else {
			d.sticky &^= statusInvAddr
		}
	}
	if !d.wren || d.sticky&statusInvAddr != 0 {
		return
	}

	switch {
	case v&cmdErasePage != 0:
		page := d.latched &^ (d.cfg.PageSize - 1)
		fill(d.flash[page:page+d.cfg.PageSize], 0xFF)
		d.erasedPages = append(d.erasedPages, page)
		d.busy = d.cfg.BusyPolls
	case v&cmdWriteOnce != 0:
		word := d.latched &^ 3
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], d.wdata)
		for i := range b {
			d.flash[word+uint32(i)] &= b[i]
		}
		d.busy = d.cfg.BusyPolls
	case v&cmdEraseMain0 != 0:
		if !d.massUnlocked {
			return
		}
		fill(d.flash, 0xFF)
		d.massErases++
		d.busy = d.cfg.BusyPolls
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// RunStub executes the uploaded EFM32 write stub by interpreting its
// contract: the code must match the embedded stub, and its literal pool
// must point at this device's MSC.
func (d *Device) RunStub(entry uint32, args [4]uint32) target.StubResult {
	d.stubCalls = append(d.stubCalls, StubCall{Entry: entry, Args: args})
	if d.fault != nil {
		return target.StubTransportError
	}
	if d.stubResult != nil {
		return *d.stubResult
	}

	stub := embedded.EFM32WriteStub()
	if !inRange(entry, len(stub), RAMBase, len(d.ram)) {
		return target.StubFault
	}
	code := d.ram[entry-RAMBase:]
	if !bytes.Equal(code[:embedded.EFM32WriteMSCBaseOffset], stub[:embedded.EFM32WriteMSCBaseOffset]) {
		return target.StubFault
	}

	le := binary.LittleEndian
	base := le.Uint32(code[embedded.EFM32WriteMSCBaseOffset:])
	lock := le.Uint32(code[embedded.EFM32WriteLockOffset:])
	key := le.Uint32(code[embedded.EFM32WriteKeyOffset:])
	if base != d.mscBase || lock != d.lockAddr {
		return target.StubFault
	}

	dest, src, n := args[0], args[1], args[2]/4
	if !inRange(src, int(n)*4, RAMBase, len(d.ram)) {
		return target.StubFault
	}

	d.writeReg(lock-base, key)
	d.writeReg(regWriteCtrl, 1)
	for i := uint32(0); i < n; i++ {
		d.writeReg(regAddrB, dest)
		d.writeReg(regWriteCmd, cmdLAddrIm)
		if d.sticky&(statusLocked|statusInvAddr) != 0 {
			return 1
		}
		d.writeReg(regWData, le.Uint32(d.ram[src-RAMBase:]))
		d.writeReg(regWriteCmd, cmdWriteOnce)
		d.busy = 0
		dest += 4
		src += 4
	}
	return target.StubOK
}

// Reset implements target.Resetter. MSC state returns to its reset values.
func (d *Device) Reset(hard bool) error {
	d.resets = append(d.resets, hard)
	if d.fault != nil {
		return d.fault
	}
	d.wren = false
	d.mscLocked = false
	d.massUnlocked = false
	d.sticky = 0
	d.busy = 0
	return nil
}
