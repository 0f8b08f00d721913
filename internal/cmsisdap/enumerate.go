package cmsisdap

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/karalabe/usb"
)

// DeviceInfo describes a discovered CMSIS-DAP probe.
type DeviceInfo struct {
	VID     uint16
	PID     uint16
	Serial  string
	Product string
	// Version is 2 for bulk probes and 1 for HID probes.
	Version int
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%04x:%04x %s (CMSIS-DAP v%d, serial %s)", d.VID, d.PID, d.Product, d.Version, d.Serial)
}

// List finds connected CMSIS-DAP probes. Probes exposing both interfaces
// are reported once, as v2.
func List() ([]DeviceInfo, error) {
	var devices []DeviceInfo
	seen := make(map[string]bool)

	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, usbErr := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	for _, dev := range devs {
		if _, _, ok := findInterface(dev); ok {
			serial, _ := dev.SerialNumber()
			product, _ := dev.Product()
			devices = append(devices, DeviceInfo{
				VID:     uint16(dev.Desc.Vendor),
				PID:     uint16(dev.Desc.Product),
				Serial:  serial,
				Product: product,
				Version: 2,
			})
			seen[serial] = true
		}
		dev.Close()
	}

	if usb.Supported() {
		hids, err := usb.EnumerateHid(0, 0)
		if err != nil {
			return devices, fmt.Errorf("HID enumeration failed: %w", err)
		}
		for _, info := range hids {
			if !isDAPHid(info) || seen[info.Serial] {
				continue
			}
			devices = append(devices, DeviceInfo{
				VID:     info.VendorID,
				PID:     info.ProductID,
				Serial:  info.Serial,
				Product: info.Product,
				Version: 1,
			})
			seen[info.Serial] = true
		}
	}

	if len(devices) == 0 && usbErr != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", usbErr)
	}
	return devices, nil
}

// Open opens a probe by serial, preferring the bulk interface.
func Open(serial string) (Link, error) {
	link, err := OpenUSB(serial)
	if err == nil {
		return link, nil
	}
	hid, hidErr := OpenHID(serial)
	if hidErr != nil {
		return nil, fmt.Errorf("%v; %v", err, hidErr)
	}
	return hid, nil
}
