// Package detect finds debug probes and attaches a target session through
// them: it builds the transport chain for the selected adapter and runs the
// device probers.
package detect

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/bigbag/efm32-flasher/internal/adiv5"
	"github.com/bigbag/efm32-flasher/internal/cmsisdap"
	"github.com/bigbag/efm32-flasher/internal/cortexm"
	"github.com/bigbag/efm32-flasher/internal/efm32"
	"github.com/bigbag/efm32-flasher/internal/gdbremote"
	"github.com/bigbag/efm32-flasher/internal/serial"
	"github.com/bigbag/efm32-flasher/internal/sim"
	"github.com/bigbag/efm32-flasher/internal/target"
)

// Adapter selects the transport chain.
type Adapter string

const (
	AdapterCMSISDAP  Adapter = "cmsis-dap"
	AdapterGDB       Adapter = "gdb"
	AdapterSimulator Adapter = "simulator"
)

// Adapters lists the accepted adapter names.
var Adapters = []Adapter{AdapterCMSISDAP, AdapterGDB, AdapterSimulator}

// ParseAdapter validates an adapter name.
func ParseAdapter(name string) (Adapter, error) {
	for _, a := range Adapters {
		if strings.EqualFold(name, string(a)) {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown adapter %q (want one of cmsis-dap, gdb, simulator)", name)
}

// Config selects and configures the probe to attach through.
type Config struct {
	Adapter Adapter
	// Probe is a CMSIS-DAP serial number; empty picks the first probe.
	Probe string
	// Port is a serial port or a host:port of a gdbserver; empty picks the
	// first Black Magic Probe.
	Port     string
	BaudRate int
	// Clock is the SWD frequency in Hz for CMSIS-DAP.
	Clock uint32
	// PollTimeout bounds flash controller busy-waits.
	PollTimeout time.Duration
	// Device backs the simulator adapter; nil creates a default part.
	Device *sim.Device

	Logger target.Logger
	Output io.Writer
}

// ProbeInfo describes a connected probe.
type ProbeInfo struct {
	Adapter     Adapter
	ID          string
	Description string
}

// ListProbes returns the connected CMSIS-DAP probes and Black Magic
// Probes. Enumeration errors are reported only when nothing was found.
func ListProbes() ([]ProbeInfo, error) {
	var probes []ProbeInfo
	var errs []error

	daps, err := cmsisdap.List()
	if err != nil {
		errs = append(errs, err)
	}
	for _, d := range daps {
		probes = append(probes, ProbeInfo{Adapter: AdapterCMSISDAP, ID: d.Serial, Description: d.String()})
	}

	bmps, err := serial.ListProbes()
	if err != nil {
		errs = append(errs, err)
	}
	for _, p := range bmps {
		probes = append(probes, ProbeInfo{
			Adapter:     AdapterGDB,
			ID:          p.Name,
			Description: fmt.Sprintf("%s (serial %s)", p.Product, p.Serial),
		})
	}

	if len(probes) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return probes, nil
}

// Attach opens the probe, connects to the device and runs the probers. The
// returned session owns the probe; close it with Target.Close.
func Attach(cfg Config) (*target.Target, error) {
	var access target.Access
	var err error

	switch cfg.Adapter {
	case AdapterCMSISDAP:
		access, err = attachCMSISDAP(cfg)
	case AdapterGDB:
		access, err = attachGDB(cfg)
	case AdapterSimulator:
		access = cfg.Device
		if cfg.Device == nil {
			access = sim.New(sim.DefaultConfig())
		}
	default:
		err = fmt.Errorf("unknown adapter %q", cfg.Adapter)
	}
	if err != nil {
		return nil, err
	}

	opts := []target.Option{target.WithLogger(cfg.Logger)}
	if cfg.Output != nil {
		opts = append(opts, target.WithOutput(cfg.Output))
	}
	t := target.New(access, opts...)

	var probeOpts []efm32.Option
	if cfg.PollTimeout > 0 {
		probeOpts = append(probeOpts, efm32.WithPollTimeout(cfg.PollTimeout))
	}
	if err := target.Probe(t, efm32.Prober(probeOpts...)); err != nil {
		t.Close()
		return nil, fmt.Errorf("IDCODE 0x%08X: %w", t.IDCode(), err)
	}
	return t, nil
}

func attachCMSISDAP(cfg Config) (target.Access, error) {
	link, err := cmsisdap.Open(cfg.Probe)
	if err != nil {
		return nil, fmt.Errorf("failed to open CMSIS-DAP probe: %w", err)
	}

	var opts []cmsisdap.Option
	if cfg.Clock > 0 {
		opts = append(opts, cmsisdap.WithClock(cfg.Clock))
	}
	probe, err := cmsisdap.NewProbe(link, opts...)
	if err != nil {
		link.Close()
		return nil, fmt.Errorf("failed to initialise probe: %w", err)
	}

	dp, err := adiv5.Connect(probe)
	if err != nil {
		probe.Close()
		return nil, fmt.Errorf("SWD connect failed: %w", err)
	}
	ap, err := adiv5.NewMemAP(dp, 0)
	if err != nil {
		dp.Close()
		return nil, err
	}

	core := cortexm.New(ap, cortexm.WithHardReset(probe), cortexm.WithLogger(cfg.Logger))
	if err := core.Halt(); err != nil {
		core.Close()
		return nil, err
	}
	return core, nil
}

func attachGDB(cfg Config) (target.Access, error) {
	port := cfg.Port
	if port == "" {
		probes, err := serial.ListProbes()
		if err != nil {
			return nil, err
		}
		if len(probes) == 0 {
			return nil, fmt.Errorf("no Black Magic Probe found")
		}
		port = probes[0].Name
	}

	opts := []gdbremote.Option{gdbremote.WithLogger(cfg.Logger)}

	// host:port is a network gdbserver that is already attached.
	if isNetworkAddr(port) {
		conn, err := net.DialTimeout("tcp", port, gdbremote.DefaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", port, err)
		}
		c := gdbremote.New(conn, opts...)
		if err := c.Handshake(); err != nil {
			conn.Close()
			return nil, err
		}
		if err := c.Connect(); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	}

	baud := cfg.BaudRate
	if baud <= 0 {
		baud = serial.DefaultBaudRate
	}
	sp, err := serial.Open(port, baud)
	if err != nil {
		return nil, err
	}
	c := gdbremote.New(sp, opts...)
	if err := c.Handshake(); err != nil {
		sp.Close()
		return nil, err
	}
	targets, err := c.ScanSWD()
	if err != nil {
		sp.Close()
		return nil, err
	}
	if err := c.Attach(targets[0].Number); err != nil {
		sp.Close()
		return nil, err
	}
	return c, nil
}

func isNetworkAddr(port string) bool {
	host, p, err := net.SplitHostPort(port)
	return err == nil && p != "" && !strings.HasPrefix(host, "/")
}
