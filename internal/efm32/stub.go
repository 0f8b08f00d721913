package efm32

import (
	"encoding/binary"

	"github.com/bigbag/efm32-flasher/embedded"
	"github.com/bigbag/efm32-flasher/internal/target"
)

// sramBase is where RAM starts on every part in the family. The write stub
// is loaded there.
const sramBase = 0x20000000

// StubWriter programs flash by running a small routine on the target core.
// Writing word by word over the debug port is too slow for whole images, so
// the routine and one buffer of data are copied into RAM and the core does
// the MSC handshake locally.
type StubWriter struct {
	image []byte
	base  uint32
}

// NewStubWriter returns a writer whose stub drives the MSC described by l.
func NewStubWriter(l Layout) *StubWriter {
	image := embedded.EFM32WriteStub()
	binary.LittleEndian.PutUint32(image[embedded.EFM32WriteMSCBaseOffset:], l.Base)
	binary.LittleEndian.PutUint32(image[embedded.EFM32WriteLockOffset:], l.Lock())
	binary.LittleEndian.PutUint32(image[embedded.EFM32WriteKeyOffset:], mscLockKey)
	return &StubWriter{image: image, base: sramBase}
}

// Entry returns the stub load and entry address.
func (w *StubWriter) Entry() uint32 {
	return w.base
}

// BufferAddr returns the RAM address data is copied to: right after the
// stub, word aligned.
func (w *StubWriter) BufferAddr() uint32 {
	return (w.base + uint32(len(w.image)) + 3) &^ 3
}

// Image returns a copy of the patched stub.
func (w *StubWriter) Image() []byte {
	return append([]byte(nil), w.image...)
}

// Upload copies the stub and buf into target RAM.
func (w *StubWriter) Upload(t *target.Target, buf []byte) {
	t.WriteMem(w.base, w.image)
	t.WriteMem(w.BufferAddr(), buf)
}

// Invoke runs the uploaded stub to program length bytes at dest. The
// runner's result is returned unchanged.
func (w *StubWriter) Invoke(t *target.Target, dest, length uint32) target.StubResult {
	return t.RunStub(w.base, [4]uint32{dest, w.BufferAddr(), length, 0})
}

// Write uploads buf and programs it at dest.
func (w *StubWriter) Write(t *target.Target, dest uint32, buf []byte) target.StubResult {
	w.Upload(t, buf)
	return w.Invoke(t, dest, uint32(len(buf)))
}

func (w *StubWriter) write(f *target.Flash, dest uint32, buf []byte) error {
	return w.Write(f.Target(), dest, buf).Err()
}
