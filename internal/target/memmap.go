package target

import "fmt"

// EraseFunc erases length bytes at addr. addr and length are multiples of
// the region's page size.
type EraseFunc func(f *Flash, addr, length uint32) error

// WriteFunc programs one buffer of at most BufSize bytes at dest. The
// destination has already been erased.
type WriteFunc func(f *Flash, dest uint32, buf []byte) error

// RAM is a region of target RAM.
type RAM struct {
	Start  uint32
	Length uint32
}

// Flash is a programmable region together with the driver callbacks that
// erase and write it.
type Flash struct {
	Start    uint32
	Length   uint32
	PageSize uint32
	// BufSize is the chunk size handed to Write.
	BufSize uint32
	// Erased is the value of an erased byte.
	Erased byte

	Erase EraseFunc
	Write WriteFunc

	t *Target
}

// Target returns the session the region belongs to.
func (f *Flash) Target() *Target {
	return f.t
}

// End returns the first address past the region.
func (f *Flash) End() uint32 {
	return f.Start + f.Length
}

// Contains reports whether addr lies inside the region.
func (f *Flash) Contains(addr uint32) bool {
	return addr >= f.Start && addr-f.Start < f.Length
}

func (f *Flash) String() string {
	return fmt.Sprintf("flash 0x%08X-0x%08X page %d", f.Start, f.End(), f.PageSize)
}

// AddRAM registers a RAM region.
func (t *Target) AddRAM(start, length uint32) {
	t.ram = append(t.ram, RAM{Start: start, Length: length})
}

// AddFlash registers a flash region and binds it to the session.
func (t *Target) AddFlash(f *Flash) {
	if f.BufSize == 0 {
		f.BufSize = f.PageSize
	}
	f.t = t
	t.flash = append(t.flash, f)
}

// RAM returns the registered RAM regions.
func (t *Target) RAM() []RAM {
	return append([]RAM(nil), t.ram...)
}

// Flash returns the registered flash regions.
func (t *Target) Flash() []*Flash {
	return append([]*Flash(nil), t.flash...)
}

// FlashAt returns the flash region containing addr, or nil.
func (t *Target) FlashAt(addr uint32) *Flash {
	for _, f := range t.flash {
		if f.Contains(addr) {
			return f
		}
	}
	return nil
}
