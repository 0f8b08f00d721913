// Package cortexm drives the debug core of an ARMv6-M/ARMv7-M processor
// through its memory-mapped System Control Space: halt and resume, core
// register transfer, running code stubs and system reset.
package cortexm

import (
	"errors"
	"fmt"
	"time"

	"github.com/bigbag/efm32-flasher/internal/target"
)

// System Control Space registers
const (
	CPUID = 0xE000ED00
	AIRCR = 0xE000ED0C
	DFSR  = 0xE000ED30
	DHCSR = 0xE000EDF0
	DCRSR = 0xE000EDF4
	DCRDR = 0xE000EDF8
	DEMCR = 0xE000EDFC
)

// DHCSR bits
const (
	dhcsrDbgKey    = 0xA05F << 16
	dhcsrDebugEn   = 1 << 0
	dhcsrHalt      = 1 << 1
	dhcsrSRegRdy   = 1 << 16
	dhcsrSHalt     = 1 << 17
	dhcsrSResetSt  = 1 << 25
	dcrsrRegWnR    = 1 << 16
	aircrVectKey   = 0x05FA << 16
	aircrSysResetR = 1 << 2
	dfsrBkpt       = 1 << 1
	dfsrAll        = 0x1F
	xpsrThumb      = 1 << 24
	bkptOpcode     = 0xBE
)

// Reg is a core register number as used by DCRSR.REGSEL.
type Reg uint32

const (
	R0   Reg = 0
	R1   Reg = 1
	R2   Reg = 2
	R3   Reg = 3
	SP   Reg = 13
	LR   Reg = 14
	PC   Reg = 15
	XPSR Reg = 16
	MSP  Reg = 17
	PSP  Reg = 18
)

// DefaultTimeout bounds halts, register transfers and stub runs.
const DefaultTimeout = 2 * time.Second

// ErrTimeout is returned when the core does not reach the expected state.
var ErrTimeout = errors.New("cortexm: timeout waiting for core")

// HardResetter drives the hardware reset line.
type HardResetter interface {
	HardReset() error
}

// Option configures a Core.
type Option func(*Core)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Core) {
		c.timeout = d
	}
}

// WithHardReset sets the hardware reset line used by Reset(true).
func WithHardReset(r HardResetter) Option {
	return func(c *Core) {
		c.pin = r
	}
}

// WithLogger sets the logger used to report stub run failures.
func WithLogger(l target.Logger) Option {
	return func(c *Core) {
		if l != nil {
			c.log = l
		}
	}
}

// Core wraps the memory access to a Cortex-M device. It is itself a
// target.Access and adds target.StubRunner and target.Resetter.
type Core struct {
	target.Access

	timeout time.Duration
	pin     HardResetter
	log     target.Logger
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// New creates a Core over mem.
func New(mem target.Access, opts ...Option) *Core {
	c := &Core{Access: mem, timeout: DefaultTimeout, log: nopLogger{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Core) read32(addr uint32) uint32 {
	var b [4]byte
	c.ReadMem(b[:], addr)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (c *Core) write32(addr, v uint32) {
	c.WriteMem(addr, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// waitDHCSR polls DHCSR until mask bits are set.
func (c *Core) waitDHCSR(mask uint32) error {
	deadline := time.Now().Add(c.timeout)
	for {
		v := c.read32(DHCSR)
		if err := c.CheckError(); err != nil {
			return err
		}
		if v&mask == mask {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
	}
}

// Halt stops the core and waits until it reports halted.
func (c *Core) Halt() error {
	c.write32(DHCSR, dhcsrDbgKey|dhcsrDebugEn|dhcsrHalt)
	if err := c.waitDHCSR(dhcsrSHalt); err != nil {
		return fmt.Errorf("halt: %w", err)
	}
	return nil
}

// Resume lets the core run with debug still enabled.
func (c *Core) Resume() error {
	c.write32(DHCSR, dhcsrDbgKey|dhcsrDebugEn)
	return c.CheckError()
}

// Halted reports whether the core is in debug state.
func (c *Core) Halted() (bool, error) {
	v := c.read32(DHCSR)
	if err := c.CheckError(); err != nil {
		return false, err
	}
	return v&dhcsrSHalt != 0, nil
}

// ReadReg reads a core register. The core must be halted.
func (c *Core) ReadReg(r Reg) (uint32, error) {
	c.write32(DCRSR, uint32(r))
	if err := c.waitDHCSR(dhcsrSRegRdy); err != nil {
		return 0, fmt.Errorf("read register %d: %w", r, err)
	}
	v := c.read32(DCRDR)
	return v, c.CheckError()
}

// WriteReg writes a core register. The core must be halted.
func (c *Core) WriteReg(r Reg, v uint32) error {
	c.write32(DCRDR, v)
	c.write32(DCRSR, uint32(r)|dcrsrRegWnR)
	if err := c.waitDHCSR(dhcsrSRegRdy); err != nil {
		return fmt.Errorf("write register %d: %w", r, err)
	}
	return nil
}

// ReadCPUID returns the SCB CPUID register.
func (c *Core) ReadCPUID() (uint32, error) {
	v := c.read32(CPUID)
	return v, c.CheckError()
}

// RunStub implements target.StubRunner. The stub returns by executing a
// bkpt instruction; its immediate is the result.
func (c *Core) RunStub(entry uint32, args [4]uint32) target.StubResult {
	if err := c.Halt(); err != nil {
		return c.failure(err)
	}

	regs := []struct {
		r Reg
		v uint32
	}{
		{R0, args[0]},
		{R1, args[1]},
		{R2, args[2]},
		{R3, args[3]},
		{PC, entry},
		{XPSR, xpsrThumb},
	}
	for _, reg := range regs {
		if err := c.WriteReg(reg.r, reg.v); err != nil {
			return c.failure(err)
		}
	}

	c.write32(DFSR, dfsrAll)
	if err := c.Resume(); err != nil {
		return target.StubTransportError
	}

	if err := c.waitDHCSR(dhcsrSHalt); err != nil {
		if errors.Is(err, ErrTimeout) {
			c.log.Error("stub did not stop", "entry", fmt.Sprintf("0x%08X", entry))
			if err := c.Halt(); err != nil {
				c.log.Error("halt after stub timeout failed", "error", err)
			}
			return target.StubTimeout
		}
		return target.StubTransportError
	}

	dfsr := c.read32(DFSR)
	pc, err := c.ReadReg(PC)
	if err != nil {
		return c.failure(err)
	}
	if dfsr&dfsrBkpt == 0 {
		return target.StubFault
	}

	var insn [2]byte
	c.ReadMem(insn[:], pc&^1)
	if err := c.CheckError(); err != nil {
		return target.StubTransportError
	}
	if insn[1] != bkptOpcode {
		return target.StubFault
	}
	return target.StubResult(insn[0])
}

func (c *Core) failure(err error) target.StubResult {
	if errors.Is(err, ErrTimeout) {
		return target.StubTimeout
	}
	return target.StubTransportError
}

// Reset implements target.Resetter. A hard reset uses the reset line when
// one is configured; otherwise the core requests a system reset through
// AIRCR.SYSRESETREQ.
func (c *Core) Reset(hard bool) error {
	// Clear C_HALT so the core runs after reset.
	c.write32(DHCSR, dhcsrDbgKey|dhcsrDebugEn)
	c.CheckError()

	if hard && c.pin != nil {
		return c.pin.HardReset()
	}

	c.write32(AIRCR, aircrVectKey|aircrSysResetR)
	// The access that triggers the reset may not complete.
	c.CheckError()

	deadline := time.Now().Add(c.timeout)
	for {
		v := c.read32(DHCSR)
		if c.CheckError() == nil && v&dhcsrSResetSt == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("reset: %w", ErrTimeout)
		}
	}
}

// DPIDCode returns the SW-DP IDCODE that pairs with the core identified by
// cpuid on Silicon Labs parts, or 0 when unknown. Used by transports that
// hide the debug port.
func DPIDCode(cpuid uint32) uint32 {
	switch (cpuid >> 4) & 0xFFF {
	case 0xC23, 0xC24:
		return 0x2BA01477
	case 0xC60:
		return 0x0BC11477
	}
	return 0
}
