package sim

import "github.com/bigbag/efm32-flasher/internal/target"

// Ops returns the recorded accesses.
func (d *Device) Ops() []Op {
	return append([]Op(nil), d.ops...)
}

// ClearOps drops the recorded accesses.
func (d *Device) ClearOps() {
	d.ops = nil
}

// MSCBase returns the base address of the simulated MSC.
func (d *Device) MSCBase() uint32 {
	return d.mscBase
}

// Flash returns the flash contents.
func (d *Device) Flash() []byte {
	return d.flash
}

// LoadFlash stores data at addr, bypassing the MSC.
func (d *Device) LoadFlash(addr uint32, data []byte) {
	copy(d.flash[addr:], data)
}

// RAM returns n bytes of RAM starting at addr.
func (d *Device) RAM(addr uint32, n int) []byte {
	off := addr - RAMBase
	return append([]byte(nil), d.ram[off:off+uint32(n)]...)
}

// ErasedPages returns the page addresses erased by ERASEPAGE, in order.
func (d *Device) ErasedPages() []uint32 {
	return append([]uint32(nil), d.erasedPages...)
}

// MassErases returns how many ERASEMAIN0 commands took effect.
func (d *Device) MassErases() int {
	return d.massErases
}

// MassLockUnlocked reports whether MSC_MASSLOCK is currently unlocked.
func (d *Device) MassLockUnlocked() bool {
	return d.massUnlocked
}

// StubCalls returns the recorded RunStub invocations.
func (d *Device) StubCalls() []StubCall {
	return append([]StubCall(nil), d.stubCalls...)
}

// Resets returns the reset requests seen, true for hardware resets.
func (d *Device) Resets() []bool {
	return append([]bool(nil), d.resets...)
}

// SetStubResult makes RunStub return r without executing the stub.
func (d *Device) SetStubResult(r target.StubResult) {
	d.stubResult = &r
}

// SetFault makes every access latch err until called with nil.
func (d *Device) SetFault(err error) {
	d.fault = err
}

// FailStatusPoll latches ErrInjected on the nth STATUS read from now.
func (d *Device) FailStatusPoll(n int) {
	d.failPoll = n
}

// SetBusyPolls changes how long the controller stays busy after a command.
func (d *Device) SetBusyPolls(n int) {
	d.cfg.BusyPolls = n
}
