package cmsisdap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/bigbag/efm32-flasher/internal/adiv5"
)

// fakeDAP answers CMSIS-DAP commands. DP and AP registers are plain
// storage except IDCODE and the CTRL/STAT acknowledge bits.
type fakeDAP struct {
	packetSize int
	cmds       [][]byte
	dp         map[uint8]uint32
	ap         map[uint8]uint32
	apReads    []uint32
	faultAP    bool
	noSWD      bool
	closed     bool
}

func newFakeDAP() *fakeDAP {
	return &fakeDAP{
		packetSize: 64,
		dp:         map[uint8]uint32{},
		ap:         map[uint8]uint32{},
	}
}

func (f *fakeDAP) PacketSize() int { return f.packetSize }

func (f *fakeDAP) Close() error {
	f.closed = true
	return nil
}

func (f *fakeDAP) WriteRead(cmd []byte) ([]byte, error) {
	f.cmds = append(f.cmds, append([]byte(nil), cmd...))
	resp := []byte{cmd[0]}

	switch cmd[0] {
	case CmdInfo:
		switch cmd[1] {
		case InfoPacketSize:
			resp = append(resp, 2, byte(f.packetSize), 0)
		case InfoProduct:
			resp = append(resp, 10, 'C', 'M', 'S', 'I', 'S', '-', 'D', 'A', 'P', 0)
		default:
			resp = append(resp, 0)
		}
	case CmdConnect:
		if f.noSWD {
			resp = append(resp, 0)
		} else {
			resp = append(resp, cmd[1])
		}
	case CmdTransfer:
		return f.transfer(cmd), nil
	case CmdTransferBlock:
		return f.transferBlock(cmd), nil
	default:
		resp = append(resp, StatusOK)
	}
	return resp, nil
}

func (f *fakeDAP) reg(req byte, write bool, v uint32) (uint32, byte) {
	addr := req & 0x0C
	if req&TransferAPnDP == 0 {
		if write {
			if addr == 0x4 {
				v |= v << 1 & 0xA0000000
			}
			f.dp[addr] = v
			return 0, AckOK
		}
		if addr == 0x0 {
			return 0x2BA01477, AckOK
		}
		return f.dp[addr], AckOK
	}
	if f.faultAP {
		return 0, AckFault
	}
	if write {
		f.ap[addr] = v
		return 0, AckOK
	}
	if len(f.apReads) > 0 {
		v, f.apReads = f.apReads[0], f.apReads[1:]
		return v, AckOK
	}
	return f.ap[addr], AckOK
}

func (f *fakeDAP) transfer(cmd []byte) []byte {
	count := int(cmd[2])
	resp := []byte{CmdTransfer, 0, AckOK}
	off := 3
	for i := 0; i < count; i++ {
		req := cmd[off]
		off++
		var v uint32
		write := req&TransferRnW == 0
		if write {
			v = binary.LittleEndian.Uint32(cmd[off:])
			off += 4
		}
		r, ack := f.reg(req, write, v)
		if ack != AckOK {
			resp[2] = ack
			return resp
		}
		resp[1]++
		if !write {
			resp = binary.LittleEndian.AppendUint32(resp, r)
		}
	}
	return resp
}

func (f *fakeDAP) transferBlock(cmd []byte) []byte {
	count := int(binary.LittleEndian.Uint16(cmd[2:4]))
	req := cmd[4]
	write := req&TransferRnW == 0
	resp := []byte{CmdTransferBlock, 0, 0, AckOK}
	done := 0
	for i := 0; i < count; i++ {
		var v uint32
		if write {
			v = binary.LittleEndian.Uint32(cmd[5+4*i:])
		}
		r, ack := f.reg(req, write, v)
		if ack != AckOK {
			resp[3] = ack
			break
		}
		done++
		if !write {
			resp = binary.LittleEndian.AppendUint32(resp, r)
		}
	}
	binary.LittleEndian.PutUint16(resp[1:3], uint16(done))
	return resp
}

func (f *fakeDAP) countCmd(cmd byte) int {
	n := 0
	for _, c := range f.cmds {
		if c[0] == cmd {
			n++
		}
	}
	return n
}

func TestRequest_Encode(t *testing.T) {
	got := NewRequest(CmdSWJClock, SWJClockData(4000000)).Encode()
	want := []byte{CmdSWJClock, 0x00, 0x09, 0x3D, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = %x, want %x", got, want)
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		cmd     byte
		data    []byte
		wantErr bool
	}{
		{"valid", CmdConnect, []byte{CmdConnect, 1}, false},
		{"empty", CmdConnect, nil, true},
		{"wrong command", CmdConnect, []byte{CmdInfo, 1}, true},
	}
	for _, tc := range tests {
		_, err := DecodeResponse(tc.cmd, tc.data)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: DecodeResponse() error = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestCheckStatus(t *testing.T) {
	ok := &Response{Command: CmdSWJClock, Data: []byte{StatusOK}}
	if err := ok.CheckStatus(); err != nil {
		t.Errorf("CheckStatus() = %v, want nil", err)
	}
	bad := &Response{Command: CmdSWJClock, Data: []byte{StatusError}}
	if err := bad.CheckStatus(); err == nil {
		t.Error("CheckStatus() = nil for DAP_ERROR")
	}
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		data    []byte
		want    string
		wantErr bool
	}{
		{[]byte{4, 'T', 'e', 's', 't'}, "Test", false},
		{[]byte{5, 'a', 'b', 0, 0, 0}, "ab", false},
		{[]byte{0}, "", false},
		{[]byte{8, 'x'}, "", true},
		{nil, "", true},
	}
	for _, tc := range tests {
		got, err := InfoString(&Response{Command: CmdInfo, Data: tc.data})
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("InfoString(%x) = %q, %v, want %q", tc.data, got, err, tc.want)
		}
	}
}

func TestSWJSequenceData(t *testing.T) {
	got := SWJSequenceData(16, []byte{0x9E, 0xE7})
	if !bytes.Equal(got, []byte{16, 0x9E, 0xE7}) {
		t.Errorf("SWJSequenceData(16) = %x", got)
	}
	if got := SWJSequenceData(51, lineReset); len(got) != 8 || got[0] != 51 {
		t.Errorf("SWJSequenceData(51) = %x", got)
	}
}

func TestSWDConfigureData(t *testing.T) {
	if got := SWDConfigureData(1, false); got[0] != 0 {
		t.Errorf("SWDConfigureData(1, false) = %x, want 00", got)
	}
	if got := SWDConfigureData(2, true); got[0] != 0x05 {
		t.Errorf("SWDConfigureData(2, true) = %x, want 05", got)
	}
}

func TestTransferData(t *testing.T) {
	got := TransferData([]Transfer{
		{AP: false, Read: true, Addr: 0x0},
		{AP: true, Addr: 0x4, Value: 0x20000000},
		{AP: true, Read: true, Addr: 0xC},
	})
	want := []byte{0, 3, 0x02, 0x05, 0x00, 0x00, 0x00, 0x20, 0x0F}
	if !bytes.Equal(got, want) {
		t.Errorf("TransferData() = %x, want %x", got, want)
	}
}

func TestDecodeTransfer(t *testing.T) {
	transfers := []Transfer{{Read: true}, {AP: true, Addr: 4}, {AP: true, Read: true, Addr: 0xC}}
	resp := &Response{Command: CmdTransfer, Data: []byte{3, AckOK, 0x77, 0x14, 0xA0, 0x2B, 0x01, 0x02, 0x03, 0x04}}

	got, err := DecodeTransfer(resp, transfers)
	if err != nil {
		t.Fatalf("DecodeTransfer() error = %v", err)
	}
	if len(got) != 2 || got[0] != 0x2BA01477 || got[1] != 0x04030201 {
		t.Errorf("DecodeTransfer() = %#x", got)
	}
}

func TestTransferError_Unwrap(t *testing.T) {
	tests := []struct {
		ack  byte
		want error
	}{
		{AckWait, adiv5.ErrWait},
		{AckFault, adiv5.ErrFault},
	}
	for _, tc := range tests {
		resp := &Response{Command: CmdTransfer, Data: []byte{0, tc.ack}}
		_, err := DecodeTransfer(resp, []Transfer{{Read: true}})
		if !errors.Is(err, tc.want) {
			t.Errorf("ACK 0x%X: error = %v, want %v", tc.ack, err, tc.want)
		}
	}

	err := &TransferError{Ack: AckNoAck}
	if errors.Is(err, adiv5.ErrFault) || errors.Is(err, adiv5.ErrWait) {
		t.Errorf("no-ACK error %v unwraps to a WAIT/FAULT sentinel", err)
	}
}

func TestAckMessage(t *testing.T) {
	tests := []struct {
		ack  byte
		want string
	}{
		{AckOK, "OK"},
		{AckWait, "WAIT"},
		{AckFault, "FAULT"},
		{AckNoAck, "no response"},
		{AckProtocol | AckOK, "protocol error"},
		{0x03, "unknown ACK"},
	}
	for _, tc := range tests {
		if got := AckMessage(tc.ack); got != tc.want {
			t.Errorf("AckMessage(0x%02X) = %q, want %q", tc.ack, got, tc.want)
		}
	}
}

func TestNewProbe_Sequence(t *testing.T) {
	f := newFakeDAP()
	p, err := NewProbe(f, WithClock(1000000))
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}
	if p.Info().Product != "CMSIS-DAP" || p.Info().PacketSize != 64 {
		t.Errorf("Info() = %+v", p.Info())
	}

	var connect, clock []byte
	var seqs [][]byte
	for _, c := range f.cmds {
		switch c[0] {
		case CmdConnect:
			connect = c
		case CmdSWJClock:
			clock = c
		case CmdSWJSequence:
			seqs = append(seqs, c)
		}
	}
	if !bytes.Equal(connect, []byte{CmdConnect, PortSWD}) {
		t.Errorf("DAP_Connect = %x, want SWD port", connect)
	}
	if binary.LittleEndian.Uint32(clock[1:]) != 1000000 {
		t.Errorf("DAP_SWJ_Clock = %x, want 1 MHz", clock)
	}
	if len(seqs) != 4 || !bytes.Equal(seqs[1], []byte{CmdSWJSequence, 16, 0x9E, 0xE7}) {
		t.Errorf("SWJ sequences = %x, want reset, JTAG-to-SWD, reset, idle", seqs)
	}
}

func TestNewProbe_NoSWD(t *testing.T) {
	f := newFakeDAP()
	f.noSWD = true
	if _, err := NewProbe(f); err == nil {
		t.Error("NewProbe() succeeded on a JTAG-only probe")
	}
}

func TestProbe_ReadBlockSplits(t *testing.T) {
	f := newFakeDAP()
	p, err := NewProbe(f)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		f.apReads = append(f.apReads, uint32(i))
	}

	dst := make([]uint32, 20)
	if err := p.ReadBlock(true, 0xC, dst); err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	for i, v := range dst {
		if v != uint32(i) {
			t.Errorf("word %d = %d, want %d", i, v, i)
		}
	}
	// 64-byte packets carry 15 words per read response.
	if n := f.countCmd(CmdTransferBlock); n != 2 {
		t.Errorf("DAP_TransferBlock commands = %d, want 2", n)
	}
}

func TestProbe_WriteBlockSplits(t *testing.T) {
	f := newFakeDAP()
	p, err := NewProbe(f)
	if err != nil {
		t.Fatal(err)
	}

	if err := p.WriteBlock(true, 0xC, make([]uint32, 30)); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	// 64-byte packets carry 14 words per write command.
	if n := f.countCmd(CmdTransferBlock); n != 3 {
		t.Errorf("DAP_TransferBlock commands = %d, want 3", n)
	}
}

func TestProbe_Fault(t *testing.T) {
	f := newFakeDAP()
	p, err := NewProbe(f)
	if err != nil {
		t.Fatal(err)
	}
	f.faultAP = true

	if _, err := p.ReadReg(true, 0xC); !errors.Is(err, adiv5.ErrFault) {
		t.Errorf("ReadReg() error = %v, want ErrFault", err)
	}
	if err := p.ReadBlock(true, 0xC, make([]uint32, 4)); !errors.Is(err, adiv5.ErrFault) {
		t.Errorf("ReadBlock() error = %v, want ErrFault", err)
	}
}

func TestProbe_AsADIv5Transport(t *testing.T) {
	f := newFakeDAP()
	p, err := NewProbe(f)
	if err != nil {
		t.Fatal(err)
	}

	dp, err := adiv5.Connect(p)
	if err != nil {
		t.Fatalf("adiv5.Connect() error = %v", err)
	}
	if dp.IDCode() != 0x2BA01477 {
		t.Errorf("IDCode() = 0x%08X", dp.IDCode())
	}
	if err := dp.WriteAP(0, adiv5.APTAR, 0x20000000); err != nil {
		t.Fatalf("WriteAP() error = %v", err)
	}
	if f.ap[0x4] != 0x20000000 {
		t.Errorf("TAR = 0x%08X, want 0x20000000", f.ap[0x4])
	}
}

func TestProbe_HardResetAndClose(t *testing.T) {
	f := newFakeDAP()
	p, err := NewProbe(f)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.HardReset(); err != nil {
		t.Fatalf("HardReset() error = %v", err)
	}

	var pins [][]byte
	for _, c := range f.cmds {
		if c[0] == CmdSWJPins {
			pins = append(pins, c)
		}
	}
	if len(pins) != 2 || pins[0][1] != 0 || pins[1][1] != PinNRESET || pins[0][2] != PinNRESET {
		t.Errorf("DAP_SWJ_Pins = %x, want assert then release nRESET", pins)
	}

	if err := p.Close(); err != nil || !f.closed {
		t.Errorf("Close() = %v, closed %v", err, f.closed)
	}
	if f.countCmd(CmdDisconnect) != 1 {
		t.Error("DAP_Disconnect not sent")
	}
}
