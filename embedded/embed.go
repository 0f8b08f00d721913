package embedded

import (
	_ "embed"
)

//go:embed efm32_write.bin
var efm32Write []byte

// Literal pool offsets inside the EFM32 write stub.
const (
	EFM32WriteMSCBaseOffset = 0x40
	EFM32WriteLockOffset    = 0x44
	EFM32WriteKeyOffset     = 0x48
)

// EFM32WriteStub returns a copy of the EFM32 flash write stub. The MSC base
// and MSC_LOCK literals are zero and must be patched before upload; see
// efm32_write.S.
func EFM32WriteStub() []byte {
	return append([]byte(nil), efm32Write...)
}
