package cmsisdap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/gousb"
)

// Link carries CMSIS-DAP packets to a probe.
type Link interface {
	// WriteRead sends one command packet and returns the response packet.
	WriteRead(cmd []byte) ([]byte, error)
	PacketSize() int
	Close() error
}

const usbTimeout = 5 * time.Second

// USBLink is a CMSIS-DAP v2 link over a vendor-class bulk interface.
type USBLink struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
}

// OpenUSB opens the first CMSIS-DAP v2 probe matching serial. An empty
// serial matches any probe.
func OpenUSB(serial string) (*USBLink, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("USB error: %w", err)
	}

	var link *USBLink
	for _, dev := range devs {
		if link != nil {
			dev.Close()
			continue
		}
		if serial != "" {
			if s, _ := dev.SerialNumber(); s != serial {
				dev.Close()
				continue
			}
		}
		l := &USBLink{ctx: ctx, dev: dev, packetSize: DefaultPacketSize}
		if err := l.claimInterface(); err != nil {
			dev.Close()
			continue
		}
		link = l
	}

	if link == nil {
		ctx.Close()
		return nil, fmt.Errorf("no CMSIS-DAP v2 probe found")
	}
	return link, nil
}

// findInterface returns the number of the CMSIS-DAP vendor interface of
// the active configuration.
func findInterface(dev *gousb.Device) (cfgNum, intfNum int, ok bool) {
	cfgNum, err := dev.ActiveConfigNum()
	if err != nil {
		return 0, 0, false
	}
	desc, found := dev.Desc.Configs[cfgNum]
	if !found {
		return 0, 0, false
	}
	for _, intf := range desc.Interfaces {
		if len(intf.AltSettings) == 0 {
			continue
		}
		alt := intf.AltSettings[0]
		if alt.Class != gousb.ClassVendorSpec {
			continue
		}
		name, err := dev.InterfaceDescription(cfgNum, intf.Number, alt.Alternate)
		if err == nil && strings.Contains(name, "CMSIS-DAP") {
			return cfgNum, intf.Number, true
		}
	}
	return 0, 0, false
}

// claimInterface finds and claims the CMSIS-DAP vendor interface
func (l *USBLink) claimInterface() error {
	cfgNum, intfNum, ok := findInterface(l.dev)
	if !ok {
		return fmt.Errorf("no CMSIS-DAP interface")
	}

	l.dev.SetAutoDetach(true)

	cfg, err := l.dev.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	intf, err := cfg.Interface(intfNum, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface %d: %w", intfNum, err)
	}
	l.cfg, l.intf = cfg, intf

	if err := l.findEndpoints(); err != nil {
		intf.Close()
		cfg.Close()
		return err
	}
	return nil
}

// findEndpoints discovers the bulk IN and OUT endpoints
func (l *USBLink) findEndpoints() error {
	var outNum, inNum int
	for _, ep := range l.intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch {
		case ep.Direction == gousb.EndpointDirectionOut && outNum == 0:
			outNum = ep.Number
		case ep.Direction == gousb.EndpointDirectionIn && inNum == 0:
			inNum = ep.Number
			l.packetSize = ep.MaxPacketSize
		}
	}
	if outNum == 0 || inNum == 0 {
		return fmt.Errorf("bulk endpoints not found")
	}

	epOut, err := l.intf.OutEndpoint(outNum)
	if err != nil {
		return fmt.Errorf("failed to open OUT endpoint: %w", err)
	}
	epIn, err := l.intf.InEndpoint(inNum)
	if err != nil {
		return fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	l.epOut, l.epIn = epOut, epIn
	return nil
}

// WriteRead performs a command/response transaction.
func (l *USBLink) WriteRead(cmd []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), usbTimeout)
	defer cancel()

	if _, err := l.epOut.WriteContext(ctx, cmd); err != nil {
		return nil, fmt.Errorf("USB write failed: %w", err)
	}

	resp := make([]byte, l.packetSize)
	n, err := l.epIn.ReadContext(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("USB read failed: %w", err)
	}
	return resp[:n], nil
}

// PacketSize returns the endpoint packet size.
func (l *USBLink) PacketSize() int {
	return l.packetSize
}

// Close releases USB resources
func (l *USBLink) Close() error {
	if l.intf != nil {
		l.intf.Close()
		l.intf = nil
	}
	if l.cfg != nil {
		l.cfg.Close()
		l.cfg = nil
	}
	if l.dev != nil {
		l.dev.Close()
		l.dev = nil
	}
	if l.ctx != nil {
		l.ctx.Close()
		l.ctx = nil
	}
	return nil
}
