package cmsisdap

import (
	"encoding/binary"
	"fmt"

	"github.com/bigbag/efm32-flasher/internal/adiv5"
)

// Request is a CMSIS-DAP command packet.
type Request struct {
	Command byte
	Data    []byte
}

// Response is a CMSIS-DAP response packet with the echoed command byte
// stripped.
type Response struct {
	Command byte
	Data    []byte
}

// NewRequest creates a new request.
func NewRequest(cmd byte, data []byte) *Request {
	return &Request{Command: cmd, Data: data}
}

// Encode serializes the request. Transports pad it to the packet size.
func (r *Request) Encode() []byte {
	packet := make([]byte, 1+len(r.Data))
	packet[0] = r.Command
	copy(packet[1:], r.Data)
	return packet
}

// DecodeResponse parses a response to cmd.
func DecodeResponse(cmd byte, data []byte) (*Response, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}
	if data[0] != cmd {
		return nil, fmt.Errorf("invalid command ID: got 0x%02X, want 0x%02X", data[0], cmd)
	}
	return &Response{Command: cmd, Data: data[1:]}, nil
}

// CheckStatus checks a response whose first byte is a DAP status.
func (r *Response) CheckStatus() error {
	if len(r.Data) < 1 {
		return fmt.Errorf("command 0x%02X: response too short", r.Command)
	}
	if r.Data[0] != StatusOK {
		return fmt.Errorf("command 0x%02X failed: status 0x%02X", r.Command, r.Data[0])
	}
	return nil
}

// InfoData creates the payload for DAP_Info.
func InfoData(id byte) []byte {
	return []byte{id}
}

// DecodeInfo returns the raw info value of a DAP_Info response.
func DecodeInfo(r *Response) ([]byte, error) {
	if len(r.Data) < 1 {
		return nil, fmt.Errorf("info response too short")
	}
	n := int(r.Data[0])
	if len(r.Data) < 1+n {
		return nil, fmt.Errorf("incomplete info value: %d of %d bytes", len(r.Data)-1, n)
	}
	return r.Data[1 : 1+n], nil
}

// InfoString decodes a string-valued DAP_Info response.
func InfoString(r *Response) (string, error) {
	v, err := DecodeInfo(r)
	if err != nil {
		return "", err
	}
	for i, b := range v {
		if b == 0 {
			v = v[:i]
			break
		}
	}
	return string(v), nil
}

// ConnectData creates the payload for DAP_Connect.
func ConnectData(port byte) []byte {
	return []byte{port}
}

// SWJClockData creates the payload for DAP_SWJ_Clock.
func SWJClockData(hz uint32) []byte {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, hz)
	return data
}

// SWJSequenceData creates the payload for DAP_SWJ_Sequence. bits is 1-256;
// 256 is encoded as 0.
func SWJSequenceData(bits int, seq []byte) []byte {
	data := make([]byte, 1+(bits+7)/8)
	data[0] = byte(bits)
	copy(data[1:], seq)
	return data
}

// SWJPinsData creates the payload for DAP_SWJ_Pins.
func SWJPinsData(output, selected byte, waitUS uint32) []byte {
	data := make([]byte, 6)
	data[0] = output
	data[1] = selected
	binary.LittleEndian.PutUint32(data[2:], waitUS)
	return data
}

// TransferConfigureData creates the payload for DAP_TransferConfigure.
func TransferConfigureData(idleCycles byte, waitRetry, matchRetry uint16) []byte {
	data := make([]byte, 5)
	data[0] = idleCycles
	binary.LittleEndian.PutUint16(data[1:3], waitRetry)
	binary.LittleEndian.PutUint16(data[3:5], matchRetry)
	return data
}

// SWDConfigureData creates the payload for DAP_SWD_Configure. turnaround
// is 1-4 clock cycles.
func SWDConfigureData(turnaround int, alwaysData bool) []byte {
	cfg := byte(turnaround-1) & 0x03
	if alwaysData {
		cfg |= 1 << 2
	}
	return []byte{cfg}
}

// Transfer is one DP or AP register access.
type Transfer struct {
	AP    bool
	Read  bool
	Addr  uint8
	Value uint32
}

func (t Transfer) request() byte {
	req := t.Addr & 0x0C
	if t.AP {
		req |= TransferAPnDP
	}
	if t.Read {
		req |= TransferRnW
	}
	return req
}

// TransferData creates the payload for DAP_Transfer on DAP index 0.
func TransferData(transfers []Transfer) []byte {
	data := []byte{0, byte(len(transfers))}
	for _, t := range transfers {
		data = append(data, t.request())
		if !t.Read {
			data = binary.LittleEndian.AppendUint32(data, t.Value)
		}
	}
	return data
}

// TransferError reports a transfer the target did not acknowledge.
type TransferError struct {
	Ack   byte
	Index int
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %d: %s (ACK 0x%02X)", e.Index, AckMessage(e.Ack), e.Ack)
}

// Unwrap maps WAIT and FAULT onto the adiv5 sentinels.
func (e *TransferError) Unwrap() error {
	if e.Ack&AckProtocol != 0 {
		return nil
	}
	switch e.Ack & 0x07 {
	case AckWait:
		return adiv5.ErrWait
	case AckFault:
		return adiv5.ErrFault
	}
	return nil
}

// DecodeTransfer returns the read values of a DAP_Transfer response.
func DecodeTransfer(r *Response, transfers []Transfer) ([]uint32, error) {
	if len(r.Data) < 2 {
		return nil, fmt.Errorf("transfer response too short")
	}
	count, ack := int(r.Data[0]), r.Data[1]
	if count != len(transfers) || ack != AckOK {
		return nil, &TransferError{Ack: ack, Index: count}
	}

	var values []uint32
	off := 2
	for _, t := range transfers {
		if !t.Read {
			continue
		}
		if off+4 > len(r.Data) {
			return nil, fmt.Errorf("transfer response truncated")
		}
		values = append(values, binary.LittleEndian.Uint32(r.Data[off:]))
		off += 4
	}
	return values, nil
}

// TransferBlockData creates the payload for DAP_TransferBlock. For reads
// values is nil and count gives the number of words.
func TransferBlockData(ap, read bool, addr uint8, count int, values []uint32) []byte {
	t := Transfer{AP: ap, Read: read, Addr: addr}
	data := make([]byte, 4, 4+4*len(values))
	binary.LittleEndian.PutUint16(data[1:3], uint16(count))
	data[3] = t.request()
	for _, v := range values {
		data = binary.LittleEndian.AppendUint32(data, v)
	}
	return data
}

// DecodeTransferBlock returns the words of a DAP_TransferBlock response.
func DecodeTransferBlock(r *Response, count int, read bool) ([]uint32, error) {
	if len(r.Data) < 3 {
		return nil, fmt.Errorf("transfer block response too short")
	}
	done := int(binary.LittleEndian.Uint16(r.Data[0:2]))
	ack := r.Data[2]
	if done != count || ack != AckOK {
		return nil, &TransferError{Ack: ack, Index: done}
	}
	if !read {
		return nil, nil
	}
	if len(r.Data) < 3+4*count {
		return nil, fmt.Errorf("transfer block response truncated")
	}
	values := make([]uint32, count)
	for i := range values {
		values[i] = binary.LittleEndian.Uint32(r.Data[3+4*i:])
	}
	return values, nil
}
