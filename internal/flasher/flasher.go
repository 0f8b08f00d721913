package flasher

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/bigbag/efm32-flasher/internal/target"
)

// verifyChunk is the read-back size used when verifying.
const verifyChunk = 1024

// ProgressCallback is called to report flash progress.
type ProgressCallback func(current, total int)

// Option configures a Flasher.
type Option func(*Flasher)

// WithProgress sets the progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(f *Flasher) {
		f.progress = cb
	}
}

// Flasher programs images into the flash regions registered on a probed
// target session.
type Flasher struct {
	t        *target.Target
	progress ProgressCallback
}

// New creates a new Flasher for the given session.
func New(t *target.Target, opts ...Option) *Flasher {
	f := &Flasher{t: t}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetProgressCallback sets the progress callback function.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.progress = cb
}

// reportProgress calls the progress callback if set.
func (f *Flasher) reportProgress(current, total int) {
	if f.progress != nil {
		f.progress(current, total)
	}
}

// VerifyError reports a read-back mismatch.
type VerifyError struct {
	Address  uint32
	Expected string
	Actual   string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("MD5 mismatch at 0x%08X: expected %s, got %s", e.Address, e.Expected, e.Actual)
}

// region returns the flash region that holds [address, address+size).
func (f *Flasher) region(address, size uint32) (*target.Flash, error) {
	r := f.t.FlashAt(address)
	if r == nil {
		return nil, fmt.Errorf("address 0x%08X is not in flash", address)
	}
	if uint64(address)+uint64(size) > uint64(r.End()) {
		return nil, fmt.Errorf("image of %d bytes at 0x%08X overruns %s", size, address, r)
	}
	return r, nil
}

// FlashImage erases the pages covering data, programs it at address and
// optionally verifies it. Bytes of the covered pages outside data are left
// erased.
func (f *Flasher) FlashImage(data []byte, address uint32, verify bool) error {
	if len(data) == 0 {
		return nil
	}
	r, err := f.region(address, uint32(len(data)))
	if err != nil {
		return err
	}

	start := address - (address-r.Start)%r.PageSize
	end := address + uint32(len(data))
	if rem := (end - r.Start) % r.PageSize; rem != 0 {
		end += r.PageSize - rem
	}

	image := make([]byte, end-start)
	for i := range image {
		image[i] = r.Erased
	}
	copy(image[address-start:], data)

	if err := r.Erase(r, start, end-start); err != nil {
		return fmt.Errorf("erase failed: %w", err)
	}

	bufSize := int(r.BufSize)
	totalBlocks := (len(image) + bufSize - 1) / bufSize

	for seq := 0; seq < totalBlocks; seq++ {
		off := seq * bufSize
		block := image[off:min(off+bufSize, len(image))]

		if !isErased(block, r.Erased) {
			dest := start + uint32(off)
			if err := r.Write(r, dest, block); err != nil {
				return fmt.Errorf("write at 0x%08X failed: %w", dest, err)
			}
		}

		f.reportProgress(seq+1, totalBlocks)
	}

	if verify {
		if err := f.verifyFlash(data, address); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
	}

	return nil
}

func isErased(b []byte, erased byte) bool {
	for _, v := range b {
		if v != erased {
			return false
		}
	}
	return true
}

// verifyFlash reads the programmed range back and compares MD5 digests.
func (f *Flasher) verifyFlash(data []byte, address uint32) error {
	hash := md5.Sum(data)
	expected := hex.EncodeToString(hash[:])

	h := md5.New()
	buf := make([]byte, verifyChunk)
	for off := 0; off < len(data); off += verifyChunk {
		chunk := buf[:min(verifyChunk, len(data)-off)]
		f.t.ReadMem(chunk, address+uint32(off))
		h.Write(chunk)
	}
	if err := f.t.CheckError(); err != nil {
		return fmt.Errorf("read back: %w", err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		return &VerifyError{Address: address, Expected: expected, Actual: actual}
	}
	return nil
}

// Erase erases every page touched by [address, address+length).
func (f *Flasher) Erase(address, length uint32) error {
	r, err := f.region(address, length)
	if err != nil {
		return err
	}
	start := address - (address-r.Start)%r.PageSize
	end := address + length
	if rem := (end - r.Start) % r.PageSize; rem != 0 {
		end += r.PageSize - rem
	}
	return r.Erase(r, start, end-start)
}

// Reboot resets the device so it starts the new firmware.
func (f *Flasher) Reboot() error {
	return f.t.Reset()
}

// FlashRegion represents a region to flash.
type FlashRegion struct {
	Address uint32
	Data    []byte
	Name    string
}

// FlashMultiple flashes multiple regions in sequence.
func (f *Flasher) FlashMultiple(regions []FlashRegion, verify bool) error {
	cb := f.progress
	defer func() { f.progress = cb }()

	total := len(regions)
	for i, region := range regions {
		f.progress = func(current, blocks int) {
			if cb != nil && current == blocks {
				cb(i+1, total)
			}
		}

		if err := f.FlashImage(region.Data, region.Address, verify); err != nil {
			return fmt.Errorf("failed to flash %s at 0x%X: %w", region.Name, region.Address, err)
		}
	}

	return nil
}
