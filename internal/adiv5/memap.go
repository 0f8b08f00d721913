package adiv5

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MEM-AP registers
const (
	APCSW = 0x00
	APTAR = 0x04
	APDRW = 0x0C
	APIDR = 0xFC
)

// CSW fields
const (
	cswSize8     = 0
	cswSize16    = 1
	cswSize32    = 2
	cswAddrInc   = 1 << 4
	cswDbgSwEn   = 1 << 31
	cswMasterDbg = 1 << 29
	cswHProt1    = 1 << 25
	cswBase      = cswDbgSwEn | cswMasterDbg | cswHProt1
)

// tarWrap is the auto-increment boundary of TAR.
const tarWrap = 1024

// MemAP accesses target memory through a MEM-AP. It implements
// target.Access: transfers latch the first error and skip further bus
// traffic until CheckError is called.
type MemAP struct {
	dp    *DP
	apsel uint8

	csw    uint32
	cswOK  bool
	err    error
	closer func() error
}

// NewMemAP returns a MEM-AP on dp, verifying that apsel answers.
func NewMemAP(dp *DP, apsel uint8) (*MemAP, error) {
	idr, err := dp.ReadAP(apsel, APIDR)
	if err != nil {
		return nil, fmt.Errorf("read AP IDR: %w", err)
	}
	if idr == 0 {
		return nil, fmt.Errorf("no access port at index %d", apsel)
	}
	return &MemAP{dp: dp, apsel: apsel, closer: dp.Close}, nil
}

// IDCode returns the DP IDCODE.
func (m *MemAP) IDCode() uint32 {
	return m.dp.IDCode()
}

// CheckError returns and clears the latched error. Sticky DP error flags
// are cleared along with it.
func (m *MemAP) CheckError() error {
	err := m.err
	m.err = nil
	if err != nil {
		m.cswOK = false
		if errors.Is(err, ErrFault) {
			m.dp.ClearErrors()
		}
	}
	return err
}

// Close closes the underlying transport.
func (m *MemAP) Close() error {
	return m.closer()
}

func (m *MemAP) latch(err error, addr uint32) {
	if m.err == nil {
		m.err = fmt.Errorf("memory access at 0x%08X: %w", addr, err)
	}
}

func (m *MemAP) setup(size uint32, addr uint32) error {
	csw := cswBase | cswAddrInc | size
	if !m.cswOK || m.csw != csw {
		if err := m.dp.WriteAP(m.apsel, APCSW, csw); err != nil {
			return err
		}
		m.csw, m.cswOK = csw, true
	}
	return m.dp.WriteAP(m.apsel, APTAR, addr)
}

// ReadMem implements target.Access.
func (m *MemAP) ReadMem(dst []byte, addr uint32) {
	if m.err != nil {
		clear(dst)
		return
	}
	for len(dst) > 0 {
		n, err := m.readChunk(dst, addr)
		if err != nil {
			clear(dst)
			m.latch(err, addr)
			return
		}
		dst = dst[n:]
		addr += uint32(n)
	}
}

func (m *MemAP) readChunk(dst []byte, addr uint32) (int, error) {
	switch {
	case addr%4 == 0 && len(dst) >= 4:
		words := wordsToWrap(addr, len(dst))
		if err := m.setup(cswSize32, addr); err != nil {
			return 0, err
		}
		buf := make([]uint32, words)
		if err := m.dp.readAPBlock(m.apsel, APDRW, buf); err != nil {
			return 0, err
		}
		for i, w := range buf {
			binary.LittleEndian.PutUint32(dst[i*4:], w)
		}
		return words * 4, nil

	case addr%2 == 0 && len(dst) >= 2:
		v, err := m.readLane(cswSize16, addr)
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint16(dst, uint16(v))
		return 2, nil

	default:
		v, err := m.readLane(cswSize8, addr)
		if err != nil {
			return 0, err
		}
		dst[0] = byte(v)
		return 1, nil
	}
}

// readLane performs a sub-word read and shifts the addressed byte lane down.
func (m *MemAP) readLane(size, addr uint32) (uint32, error) {
	if err := m.setup(size, addr); err != nil {
		return 0, err
	}
	v, err := m.dp.ReadAP(m.apsel, APDRW)
	if err != nil {
		return 0, err
	}
	return v >> (8 * (addr & 3)), nil
}

// WriteMem implements target.Access.
func (m *MemAP) WriteMem(addr uint32, src []byte) {
	if m.err != nil {
		return
	}
	for len(src) > 0 {
		n, err := m.writeChunk(addr, src)
		if err != nil {
			m.latch(err, addr)
			return
		}
		src = src[n:]
		addr += uint32(n)
	}
}

func (m *MemAP) writeChunk(addr uint32, src []byte) (int, error) {
	switch {
	case addr%4 == 0 && len(src) >= 4:
		words := wordsToWrap(addr, len(src))
		buf := make([]uint32, words)
		for i := range buf {
			buf[i] = binary.LittleEndian.Uint32(src[i*4:])
		}
		if err := m.setup(cswSize32, addr); err != nil {
			return 0, err
		}
		return words * 4, m.dp.writeAPBlock(m.apsel, APDRW, buf)

	case addr%2 == 0 && len(src) >= 2:
		v := uint32(binary.LittleEndian.Uint16(src))
		return 2, m.writeLane(cswSize16, addr, v)

	default:
		return 1, m.writeLane(cswSize8, addr, uint32(src[0]))
	}
}

func (m *MemAP) writeLane(size, addr, v uint32) error {
	if err := m.setup(size, addr); err != nil {
		return err
	}
	return m.dp.WriteAP(m.apsel, APDRW, v<<(8*(addr&3)))
}

// wordsToWrap returns how many whole words starting at addr fit in n bytes
// without crossing a TAR auto-increment boundary.
func wordsToWrap(addr uint32, n int) int {
	words := n / 4
	if left := int(tarWrap-addr%tarWrap) / 4; words > left {
		words = left
	}
	return words
}
