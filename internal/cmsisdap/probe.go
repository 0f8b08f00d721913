// Package cmsisdap talks to ARM CMSIS-DAP debug probes over USB bulk (v2)
// or HID (v1) and exposes them as an SWD transport for adiv5.
package cmsisdap

import (
	"fmt"
	"time"
)

// Info is what the probe reports about itself.
type Info struct {
	Vendor     string
	Product    string
	Serial     string
	Firmware   string
	PacketSize int
}

// Option configures a Probe.
type Option func(*Probe)

// WithClock sets the SWD clock frequency in Hz.
func WithClock(hz uint32) Option {
	return func(p *Probe) {
		p.clock = hz
	}
}

// Probe is a connected CMSIS-DAP probe in SWD mode. It implements
// adiv5.Transport and cortexm.HardResetter.
type Probe struct {
	link       Link
	clock      uint32
	packetSize int
	info       Info
}

// swdSwitch is the JTAG-to-SWD select sequence, LSB first.
var swdSwitch = []byte{0x9E, 0xE7}

// lineReset is 51 clocks with SWDIO high.
var lineReset = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x07}

// NewProbe connects the probe on link in SWD mode and brings the SWD line
// out of reset.
func NewProbe(link Link, opts ...Option) (*Probe, error) {
	p := &Probe{
		link:       link,
		clock:      DefaultClock,
		packetSize: link.PacketSize(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.queryInfo(); err != nil {
		return nil, fmt.Errorf("failed to query probe info: %w", err)
	}

	steps := []struct {
		name string
		cmd  byte
		data []byte
	}{
		{"set clock", CmdSWJClock, SWJClockData(p.clock)},
		{"configure transfers", CmdTransferConfigure, TransferConfigureData(0, 128, 0)},
		{"configure SWD", CmdSWDConfigure, SWDConfigureData(1, false)},
		{"line reset", CmdSWJSequence, SWJSequenceData(51, lineReset)},
		{"select SWD", CmdSWJSequence, SWJSequenceData(16, swdSwitch)},
		{"line reset", CmdSWJSequence, SWJSequenceData(51, lineReset)},
		{"idle", CmdSWJSequence, SWJSequenceData(8, []byte{0})},
	}

	resp, err := p.command(CmdConnect, ConnectData(PortSWD))
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 || resp.Data[0] != PortSWD {
		return nil, fmt.Errorf("probe does not support SWD")
	}

	for _, s := range steps {
		resp, err := p.command(s.cmd, s.data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		if err := resp.CheckStatus(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}

	return p, nil
}

// queryInfo retrieves device information from the probe
func (p *Probe) queryInfo() error {
	fields := []struct {
		id  byte
		dst *string
	}{
		{InfoVendor, &p.info.Vendor},
		{InfoProduct, &p.info.Product},
		{InfoSerial, &p.info.Serial},
		{InfoFirmware, &p.info.Firmware},
	}
	for _, f := range fields {
		resp, err := p.command(CmdInfo, InfoData(f.id))
		if err != nil {
			return err
		}
		*f.dst, _ = InfoString(resp)
	}

	resp, err := p.command(CmdInfo, InfoData(InfoPacketSize))
	if err != nil {
		return err
	}
	if v, err := DecodeInfo(resp); err == nil && len(v) == 2 {
		if size := int(v[0]) | int(v[1])<<8; size > 0 && size <= p.packetSize {
			p.packetSize = size
		}
	}
	p.info.PacketSize = p.packetSize
	return nil
}

// Info returns the probe's identification.
func (p *Probe) Info() Info {
	return p.info
}

// command sends a command and decodes the response.
func (p *Probe) command(cmd byte, data []byte) (*Response, error) {
	raw, err := p.link.WriteRead(NewRequest(cmd, data).Encode())
	if err != nil {
		return nil, err
	}
	return DecodeResponse(cmd, raw)
}

func (p *Probe) transfer(transfers []Transfer) ([]uint32, error) {
	resp, err := p.command(CmdTransfer, TransferData(transfers))
	if err != nil {
		return nil, err
	}
	return DecodeTransfer(resp, transfers)
}

// ReadReg implements adiv5.Transport.
func (p *Probe) ReadReg(ap bool, addr uint8) (uint32, error) {
	v, err := p.transfer([]Transfer{{AP: ap, Read: true, Addr: addr}})
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// WriteReg implements adiv5.Transport.
func (p *Probe) WriteReg(ap bool, addr uint8, v uint32) error {
	_, err := p.transfer([]Transfer{{AP: ap, Addr: addr, Value: v}})
	return err
}

// ReadBlock implements adiv5.Transport, splitting dst over as many
// DAP_TransferBlock commands as the packet size requires.
func (p *Probe) ReadBlock(ap bool, addr uint8, dst []uint32) error {
	limit := (p.packetSize - 4) / 4
	for len(dst) > 0 {
		n := min(len(dst), limit)
		resp, err := p.command(CmdTransferBlock, TransferBlockData(ap, true, addr, n, nil))
		if err != nil {
			return err
		}
		words, err := DecodeTransferBlock(resp, n, true)
		if err != nil {
			return err
		}
		copy(dst, words)
		dst = dst[n:]
	}
	return nil
}

// WriteBlock implements adiv5.Transport.
func (p *Probe) WriteBlock(ap bool, addr uint8, src []uint32) error {
	limit := (p.packetSize - 5) / 4
	for len(src) > 0 {
		n := min(len(src), limit)
		resp, err := p.command(CmdTransferBlock, TransferBlockData(ap, false, addr, n, src[:n]))
		if err != nil {
			return err
		}
		if _, err := DecodeTransferBlock(resp, n, false); err != nil {
			return err
		}
		src = src[n:]
	}
	return nil
}

// HardReset pulses nRESET.
func (p *Probe) HardReset() error {
	for _, level := range []byte{0, PinNRESET} {
		if _, err := p.command(CmdSWJPins, SWJPinsData(level, PinNRESET, 0)); err != nil {
			return fmt.Errorf("drive nRESET: %w", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

// Close disconnects and closes the link.
func (p *Probe) Close() error {
	p.command(CmdDisconnect, nil)
	return p.link.Close()
}
