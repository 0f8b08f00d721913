// Package serial opens the virtual serial ports of debug probes that carry
// a GDB remote stub, such as the Black Magic Probe.
package serial

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Black Magic Probe USB IDs
const (
	BMPVendorID  = "1D50"
	BMPProductID = "6018"
)

// DefaultBaudRate is ignored by USB CDC ports but required by the driver.
const DefaultBaudRate = 115200

// readTimeout is the granularity at which Read returns with no data.
const readTimeout = 50 * time.Millisecond

// Port wraps a serial port connected to a GDB remote stub.
type Port struct {
	port serial.Port
}

// Open opens a serial port with the specified baud rate.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	// CDC-ACM firmware only transmits once the host raises DTR.
	if err := port.SetDTR(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set DTR: %w", err)
	}
	port.ResetInputBuffer()

	return &Port{port: port}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads data from the serial port. It returns 0, nil when nothing
// arrives within the read timeout.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// ProbePort is the GDB server port of a Black Magic Probe.
type ProbePort struct {
	Name    string
	Serial  string
	Product string
}

// ListProbes returns the GDB server port of every connected Black Magic
// Probe.
func ListProbes() ([]ProbePort, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate ports: %w", err)
	}
	return gdbPorts(ports), nil
}

// gdbPorts picks one port per probe. Each probe exposes the GDB server and
// a UART bridge; the GDB server is the lower-numbered interface, which
// every platform also enumerates first by name.
func gdbPorts(ports []*enumerator.PortDetails) []ProbePort {
	bySerial := make(map[string]ProbePort)
	for _, p := range ports {
		if !p.IsUSB || !strings.EqualFold(p.VID, BMPVendorID) || !strings.EqualFold(p.PID, BMPProductID) {
			continue
		}
		if cur, ok := bySerial[p.SerialNumber]; ok && cur.Name < p.Name {
			continue
		}
		bySerial[p.SerialNumber] = ProbePort{Name: p.Name, Serial: p.SerialNumber, Product: p.Product}
	}

	result := make([]ProbePort, 0, len(bySerial))
	for _, p := range bySerial {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
