package cmsisdap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/karalabe/usb"
)

// hidReportSize is the report size of CMSIS-DAP v1 probes.
const hidReportSize = 64

// HIDLink is a CMSIS-DAP v1 link over HID reports.
type HIDLink struct {
	dev usb.Device
}

func isDAPHid(info usb.DeviceInfo) bool {
	return strings.Contains(info.Product, "CMSIS-DAP")
}

// OpenHID opens the first CMSIS-DAP v1 probe matching serial. An empty
// serial matches any probe.
func OpenHID(serial string) (*HIDLink, error) {
	if !usb.Supported() {
		return nil, fmt.Errorf("USB HID support not enabled on this platform")
	}

	devices, err := usb.EnumerateHid(0, 0)
	if err != nil {
		return nil, fmt.Errorf("HID enumeration failed: %w", err)
	}
	for _, info := range devices {
		if !isDAPHid(info) || (serial != "" && info.Serial != serial) {
			continue
		}
		dev, err := info.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", info.Path, err)
		}
		return &HIDLink{dev: dev}, nil
	}
	return nil, fmt.Errorf("no CMSIS-DAP v1 probe found")
}

// WriteRead sends one report and reads one back. Output reports carry a
// leading report ID of 0.
func (l *HIDLink) WriteRead(cmd []byte) ([]byte, error) {
	if len(cmd) > hidReportSize {
		return nil, errors.New("command exceeds HID report size")
	}
	out := make([]byte, 1+hidReportSize)
	copy(out[1:], cmd)
	if _, err := l.dev.Write(out); err != nil {
		return nil, fmt.Errorf("HID write failed: %w", err)
	}

	resp := make([]byte, hidReportSize)
	n, err := l.dev.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("HID read failed: %w", err)
	}
	return resp[:n], nil
}

// PacketSize returns the HID report size.
func (l *HIDLink) PacketSize() int {
	return hidReportSize
}

func (l *HIDLink) Close() error {
	return l.dev.Close()
}
