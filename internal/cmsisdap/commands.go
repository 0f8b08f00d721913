package cmsisdap

// CMSIS-DAP commands
const (
	CmdInfo              = 0x00
	CmdHostStatus        = 0x01
	CmdConnect           = 0x02
	CmdDisconnect        = 0x03
	CmdTransferConfigure = 0x04
	CmdTransfer          = 0x05
	CmdTransferBlock     = 0x06
	CmdTransferAbort     = 0x07
	CmdResetTarget       = 0x0A
	CmdSWJPins           = 0x10
	CmdSWJClock          = 0x11
	CmdSWJSequence       = 0x12
	CmdSWDConfigure      = 0x13
)

// DAP_Info IDs
const (
	InfoVendor       = 0x01
	InfoProduct      = 0x02
	InfoSerial       = 0x03
	InfoFirmware     = 0x04
	InfoCapabilities = 0xF0
	InfoPacketCount  = 0xFE
	InfoPacketSize   = 0xFF
)

// Ports for DAP_Connect
const (
	PortDefault = 0
	PortSWD     = 1
	PortJTAG    = 2
)

// Status bytes
const (
	StatusOK    = 0x00
	StatusError = 0xFF
)

// Transfer request bits
const (
	TransferAPnDP = 1 << 0
	TransferRnW   = 1 << 1
)

// SWD ACK values reported in transfer responses
const (
	AckOK       = 0x01
	AckWait     = 0x02
	AckFault    = 0x04
	AckNoAck    = 0x07
	AckProtocol = 0x08
)

// SWJ pin bits
const (
	PinSWCLK  = 1 << 0
	PinSWDIO  = 1 << 1
	PinNRESET = 1 << 7
)

// Defaults
const (
	DefaultClock      = 4000000
	DefaultPacketSize = 64
)

// AckMessage returns a human-readable ACK description.
func AckMessage(ack byte) string {
	if ack&AckProtocol != 0 {
		return "protocol error"
	}
	switch ack & 0x07 {
	case AckOK:
		return "OK"
	case AckWait:
		return "WAIT"
	case AckFault:
		return "FAULT"
	case AckNoAck:
		return "no response"
	default:
		return "unknown ACK"
	}
}
