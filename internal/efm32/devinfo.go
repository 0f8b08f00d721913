package efm32

import (
	"fmt"

	"github.com/sigurn/crc16"

	"github.com/bigbag/efm32-flasher/internal/target"
)

// Flash information area and its Device Information (DI) page.
const (
	infoBase = 0x0FE00000
	diBase   = infoBase + 0x8000
)

// DI page offsets
const (
	diRadioRevMin   = diBase + 0x1AC
	diRadioRevMaj   = diBase + 0x1AD
	diRadioOPN      = diBase + 0x1AE
	diCRC           = diBase + 0x1B0
	diMemInfoPageSz = diBase + 0x1E7
	diEUI64Low      = diBase + 0x1F0
	diEUI64High     = diBase + 0x1F4
	diMemInfoFlash  = diBase + 0x1F8
	diMemInfoRAM    = diBase + 0x1FA
	diPartNumber    = diBase + 0x1FC
	diPartFamily    = diBase + 0x1FE
	diProdRev       = diBase + 0x1FF
	diEnd           = diBase + 0x200
)

// euiSiliconLabs is the OUI in the top 24 bits of a Silicon Labs EUI-64.
const euiSiliconLabs = 0x000B57

var diTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// ReadEUI returns the 64-bit Extended Unique Identifier.
func ReadEUI(t *target.Target) uint64 {
	high := t.Read32(diEUI64High)
	low := t.Read32(diEUI64Low)
	return uint64(high)<<32 | uint64(low)
}

// ReadFlashSize returns the flash size in KiB.
func ReadFlashSize(t *target.Target) uint16 {
	return t.Read16(diMemInfoFlash)
}

// ReadRAMSize returns the RAM size in KiB.
func ReadRAMSize(t *target.Target) uint16 {
	return t.Read16(diMemInfoRAM)
}

func ReadPartNumber(t *target.Target) uint16 {
	return t.Read16(diPartNumber)
}

func ReadPartFamily(t *target.Target) uint8 {
	return t.Read8(diPartFamily)
}

// ReadRadioPartNumber returns the on-chip radio part number. Only
// meaningful on parts with a radio.
func ReadRadioPartNumber(t *target.Target) uint16 {
	return t.Read16(diRadioOPN)
}

// ReadRadioRev returns the radio revision as major, minor.
func ReadRadioRev(t *target.Target) (major, minor uint8) {
	return t.Read8(diRadioRevMaj), t.Read8(diRadioRevMin)
}

func ReadProdRev(t *target.Target) uint8 {
	return t.Read8(diProdRev)
}

// ReadPageSize returns the flash page size advertised by the DI page,
// encoded as 2^((MEMINFO_PAGE_SIZE + 10) & 0xFF).
func ReadPageSize(t *target.Target) uint32 {
	exp := (uint32(t.Read8(diMemInfoPageSz)) + 10) & 0xFF
	if exp > 31 {
		return 0
	}
	return 1 << exp
}

// IsSiliconLabsEUI reports whether eui carries the Silicon Labs OUI.
func IsSiliconLabsEUI(eui uint64) bool {
	return eui>>40 == euiSiliconLabs
}

// CheckDI reads the DI page and returns the stored CRC and the CRC computed
// over the bytes it covers.
func CheckDI(t *target.Target) (stored, computed uint16) {
	page := make([]byte, diEnd-diCRC)
	t.ReadMem(page, diCRC)
	stored = uint16(page[0]) | uint16(page[1])<<8
	return stored, DICRC(page[2:])
}

// DICRC computes the DI page CRC (CRC-16/CCITT-FALSE) over the bytes
// following the CRC field up to the end of the page.
func DICRC(covered []byte) uint16 {
	return crc16.Checksum(covered, diTable)
}

// Info is a snapshot of the DI page.
type Info struct {
	PartNumber uint16
	PartFamily uint8
	ProdRev    uint8
	FlashKiB   uint16
	RAMKiB     uint16
	PageSize   uint32
	EUI        uint64
	RadioPart  uint16
	RadioMajor uint8
	RadioMinor uint8
	CRCStored  uint16
	CRCActual  uint16
}

// CRCValid reports whether the DI page matches its stored CRC.
func (i Info) CRCValid() bool {
	return i.CRCStored == i.CRCActual
}

// ReadInfo reads the DI page fields. Radio fields are read only when
// withRadio is set.
func ReadInfo(t *target.Target, withRadio bool) (Info, error) {
	info := Info{
		PartNumber: ReadPartNumber(t),
		PartFamily: ReadPartFamily(t),
		ProdRev:    ReadProdRev(t),
		FlashKiB:   ReadFlashSize(t),
		RAMKiB:     ReadRAMSize(t),
		PageSize:   ReadPageSize(t),
		EUI:        ReadEUI(t),
	}
	if withRadio {
		info.RadioPart = ReadRadioPartNumber(t)
		info.RadioMajor, info.RadioMinor = ReadRadioRev(t)
	}
	info.CRCStored, info.CRCActual = CheckDI(t)

	if err := t.CheckError(); err != nil {
		return Info{}, fmt.Errorf("read device information: %w", err)
	}
	return info, nil
}
