package efm32

import (
	"errors"
	"fmt"
	"time"

	"github.com/bigbag/efm32-flasher/internal/target"
)

// MSC register offsets shared by both generations.
const (
	mscWriteCtrl = 0x008
	mscWriteCmd  = 0x00C
	mscAddrB     = 0x010
	mscWData     = 0x018
	mscStatus    = 0x01C
	mscMassLock  = 0x054
)

const (
	mscLockKey     = 0x1B71
	mscMassLockKey = 0x631A
)

const mscWriteCtrlWREN = 1 << 0

// WRITECMD bits. WRITEONCE and the STATUS error bits are only driven by
// the write stub.
const (
	mscWriteCmdLAddrIm    = 1 << 0
	mscWriteCmdErasePage  = 1 << 1
	mscWriteCmdWriteOnce  = 1 << 3
	mscWriteCmdEraseMain0 = 1 << 8
)

// STATUS bits
const (
	mscStatusBusy       = 1 << 0
	mscStatusLocked     = 1 << 1
	mscStatusInvAddr    = 1 << 2
	mscStatusWDataReady = 1 << 3
)

// DefaultPollTimeout bounds how long an erase waits for the controller to
// drop BUSY.
const DefaultPollTimeout = 5 * time.Second

// ErrTimeout is returned when the controller stays busy past the poll timeout.
var ErrTimeout = errors.New("flash controller busy timeout")

// Lock returns the address of MSC_LOCK.
func (l Layout) Lock() uint32 {
	if l.Gen == Gen1 {
		return l.Base + 0x03C
	}
	return l.Base + 0x040
}

func (l Layout) WriteCtrl() uint32 { return l.Base + mscWriteCtrl }
func (l Layout) WriteCmd() uint32  { return l.Base + mscWriteCmd }
func (l Layout) AddrB() uint32     { return l.Base + mscAddrB }
func (l Layout) Status() uint32    { return l.Base + mscStatus }
func (l Layout) MassLock() uint32  { return l.Base + mscMassLock }

// Controller sequences erase operations on one device's MSC. It holds no
// device state; every call is a fresh series of register writes and polls.
type Controller struct {
	layout      Layout
	pollTimeout time.Duration
}

// NewController returns a Controller for the MSC described by l.
func NewController(l Layout, opts ...Option) *Controller {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Controller{layout: l, pollTimeout: cfg.pollTimeout}
}

// Layout returns the register layout the controller drives.
func (c *Controller) Layout() Layout {
	return c.layout
}

// ErasePages erases length bytes starting at addr, one page at a time.
// addr and length must be multiples of pageSize; they are not checked.
// A transport error or timeout stops the erase and the remaining pages
// are left untouched.
func (c *Controller) ErasePages(t *target.Target, addr, length, pageSize uint32) error {
	t.Write32(c.layout.WriteCtrl(), mscWriteCtrlWREN)

	for length > 0 {
		t.Write32(c.layout.AddrB(), addr)
		t.Write32(c.layout.WriteCmd(), mscWriteCmdLAddrIm)
		t.Write32(c.layout.WriteCmd(), mscWriteCmdErasePage)

		if err := c.waitReady(t); err != nil {
			return fmt.Errorf("erase page 0x%08X: %w", addr, err)
		}

		addr += pageSize
		if length < pageSize {
			length = 0
		} else {
			length -= pageSize
		}
	}

	return nil
}

// EraseAll erases the whole main flash bank.
//
// MSC_MASSLOCK is unlocked for the duration. When the erase fails it is
// left unlocked.
func (c *Controller) EraseAll(t *target.Target) error {
	t.Write32(c.layout.WriteCtrl(), mscWriteCtrlWREN)
	t.Write32(c.layout.MassLock(), mscMassLockKey)
	t.Write32(c.layout.WriteCmd(), mscWriteCmdEraseMain0)

	if err := c.waitReady(t); err != nil {
		return fmt.Errorf("mass erase: %w", err)
	}

	t.Write32(c.layout.MassLock(), 0)
	t.Printf("Erase successful!\n")
	return nil
}

// waitReady polls STATUS until BUSY clears. The session error is checked
// after every read.
func (c *Controller) waitReady(t *target.Target) error {
	deadline := time.Now().Add(c.pollTimeout)
	for {
		busy := t.Read32(c.layout.Status())&mscStatusBusy != 0
		if err := t.CheckError(); err != nil {
			return err
		}
		if !busy {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
	}
}

func (c *Controller) erase(f *target.Flash, addr, length uint32) error {
	return c.ErasePages(f.Target(), addr, length, f.PageSize)
}
