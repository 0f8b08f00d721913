package target

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Access is the raw memory view of a device behind a debug probe.
//
// Transfers do not return errors. A failed transfer latches an error that
// stays set until CheckError is called, so a sequence of register accesses
// can be issued and checked once, the way the hardware's sticky error bits
// work.
type Access interface {
	// IDCode returns the debug port identification code.
	IDCode() uint32
	ReadMem(dst []byte, addr uint32)
	WriteMem(addr uint32, src []byte)
	// CheckError returns the latched transport error, if any, and clears it.
	CheckError() error
	Close() error
}

// Options are session-level flags set by drivers during probing.
type Options uint32

const (
	// InhibitSRST stops the host from asserting the hardware reset line.
	// Resets go through the core's system reset request instead.
	InhibitSRST Options = 1 << iota
)

// ErrNoMatch is returned by Probe when no driver recognises the device.
var ErrNoMatch = errors.New("no driver recognised the device")

// ProbeFunc inspects the device behind t. It returns false, leaving t
// untouched, when the device is not one it handles.
type ProbeFunc func(t *Target) bool

// Target is a session with one attached device. It is owned by the caller
// that created it and is not safe for concurrent use.
type Target struct {
	// Driver is the display name set by the matching prober.
	Driver  string
	Options Options

	ram      []RAM
	flash    []*Flash
	commands []CommandGroup

	mem    Access
	runner StubRunner
	out    io.Writer
	log    Logger
}

// Option configures a Target.
type Option func(*Target)

// WithOutput sets the diagnostic sink used by Printf.
func WithOutput(w io.Writer) Option {
	return func(t *Target) {
		t.out = w
	}
}

// WithLogger sets the debug logger.
func WithLogger(l Logger) Option {
	return func(t *Target) {
		if l != nil {
			t.log = l
		}
	}
}

// WithStubRunner sets the code stub execution primitive. When not set and
// the Access also implements StubRunner, the Access is used.
func WithStubRunner(r StubRunner) Option {
	return func(t *Target) {
		t.runner = r
	}
}

// New creates a session over mem.
func New(mem Access, opts ...Option) *Target {
	if mem == nil {
		panic("target: access cannot be nil")
	}

	t := &Target{
		mem: mem,
		out: io.Discard,
		log: nopLogger{},
	}
	if r, ok := mem.(StubRunner); ok {
		t.runner = r
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Probe runs probers in order and stops at the first one that matches.
func Probe(t *Target, probers ...ProbeFunc) error {
	for _, p := range probers {
		if p(t) {
			t.log.Info("device matched", "driver", t.Driver)
			return nil
		}
	}
	return ErrNoMatch
}

// Close releases the underlying access.
func (t *Target) Close() error {
	return t.mem.Close()
}

// Logger returns the session's debug logger.
func (t *Target) Logger() Logger {
	return t.log
}

// Printf writes a diagnostic message to the session's output sink.
func (t *Target) Printf(format string, args ...interface{}) {
	fmt.Fprintf(t.out, format, args...)
}

// IDCode returns the debug port identification code.
func (t *Target) IDCode() uint32 {
	return t.mem.IDCode()
}

// CheckError returns and clears the latched transport error.
func (t *Target) CheckError() error {
	return t.mem.CheckError()
}

// ReadMem reads len(dst) bytes starting at addr.
func (t *Target) ReadMem(dst []byte, addr uint32) {
	t.mem.ReadMem(dst, addr)
}

// WriteMem writes src starting at addr.
func (t *Target) WriteMem(addr uint32, src []byte) {
	t.mem.WriteMem(addr, src)
}

func (t *Target) Read8(addr uint32) uint8 {
	var b [1]byte
	t.mem.ReadMem(b[:], addr)
	return b[0]
}

func (t *Target) Read16(addr uint32) uint16 {
	var b [2]byte
	t.mem.ReadMem(b[:], addr)
	return binary.LittleEndian.Uint16(b[:])
}

func (t *Target) Read32(addr uint32) uint32 {
	var b [4]byte
	t.mem.ReadMem(b[:], addr)
	return binary.LittleEndian.Uint32(b[:])
}

func (t *Target) Read64(addr uint32) uint64 {
	var b [8]byte
	t.mem.ReadMem(b[:], addr)
	return binary.LittleEndian.Uint64(b[:])
}

func (t *Target) Write8(addr uint32, v uint8) {
	t.mem.WriteMem(addr, []byte{v})
}

func (t *Target) Write16(addr uint32, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	t.mem.WriteMem(addr, b[:])
}

func (t *Target) Write32(addr uint32, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	t.mem.WriteMem(addr, b[:])
}

// RunStub executes code already uploaded at entry. See StubRunner.
func (t *Target) RunStub(entry uint32, args [4]uint32) StubResult {
	if t.runner == nil {
		t.log.Error("no stub runner available", "entry", fmt.Sprintf("0x%08X", entry))
		return StubFault
	}
	return t.runner.RunStub(entry, args)
}

// Reset restarts the device. Drivers that set InhibitSRST get a core
// system reset request instead of the hardware reset line.
func (t *Target) Reset() error {
	r, ok := t.runner.(Resetter)
	if !ok {
		r, ok = t.mem.(Resetter)
	}
	if !ok {
		return errors.New("reset not supported by this probe")
	}
	return r.Reset(t.Options&InhibitSRST == 0)
}

// Resetter is implemented by accesses or runners that can reset the device.
// hard selects the hardware reset line over the core's reset request.
type Resetter interface {
	Reset(hard bool) error
}
