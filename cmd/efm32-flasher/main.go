package main

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/efm32-flasher/internal/cmsisdap"
	"github.com/bigbag/efm32-flasher/internal/detect"
	"github.com/bigbag/efm32-flasher/internal/efm32"
	"github.com/bigbag/efm32-flasher/internal/flasher"
	"github.com/bigbag/efm32-flasher/internal/serial"
	"github.com/bigbag/efm32-flasher/internal/target"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	adapterFlag string
	probeFlag   string
	portFlag    string
	baudFlag    int
	speedFlag   uint32
	timeoutFlag time.Duration
	verboseFlag bool
	verifyFlag  bool
	addressFlag uint32
	noResetFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "efm32-flasher",
		Short: "Flash Silicon Labs EFM32/EFR32/EZR32 devices over SWD",
		Long: `EFM32 Flasher programs the internal flash of Silicon Labs EFM32, EFR32
and EZR32 microcontrollers through a CMSIS-DAP probe or a GDB remote stub
such as the Black Magic Probe.

The device is identified from its Device Information page; flash is
written by a small stub executed from the device's RAM.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&adapterFlag, "adapter", "a", string(detect.AdapterCMSISDAP), "Probe type: cmsis-dap, gdb or simulator")
	pf.StringVar(&probeFlag, "probe", "", "CMSIS-DAP probe serial number (first probe if not specified)")
	pf.StringVarP(&portFlag, "port", "p", "", "GDB server serial port or host:port (auto-detect if not specified)")
	pf.IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate of the GDB server port")
	pf.Uint32Var(&speedFlag, "speed", cmsisdap.DefaultClock, "SWD clock in Hz")
	pf.DurationVar(&timeoutFlag, "timeout", 5*time.Second, "Flash controller busy timeout")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "Print debug traces")

	// Flash command
	flashCmd := &cobra.Command{
		Use:   "flash <firmware.bin>",
		Short: "Flash a binary image to the device",
		Long: `Flash a raw binary image. The pages covering the image are erased,
written and, unless --verify=false, read back and compared. The device
is reset afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().BoolVar(&verifyFlag, "verify", true, "Verify after flashing")
	flashCmd.Flags().Uint32Var(&addressFlag, "address", 0, "Flash address of the image (0x prefix accepted)")
	flashCmd.Flags().BoolVar(&noResetFlag, "no-reset", false, "Leave the device halted after flashing")

	eraseCmd := &cobra.Command{
		Use:   "erase",
		Short: "Mass erase the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, []string{"erase_mass"})
		},
	}

	serialCmd := &cobra.Command{
		Use:   "serial",
		Short: "Print the device unique number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, []string{"serial"})
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Identify the attached device and show its Device Information page.",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}

	monitorCmd := &cobra.Command{
		Use:   "monitor <command> [args...]",
		Short: "Run a device command",
		Long:  "Run a command registered by the device driver. Run with no arguments to list them.",
		RunE:  runMonitor,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List connected probes",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("efm32-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(flashCmd, eraseCmd, serialCmd, infoCmd, monitorCmd, listCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// attach opens the probe selected by the global flags and identifies the
// device.
func attach() (*target.Target, error) {
	adapter, err := detect.ParseAdapter(adapterFlag)
	if err != nil {
		return nil, err
	}

	cfg := detect.Config{
		Adapter:     adapter,
		Probe:       probeFlag,
		Port:        portFlag,
		BaudRate:    baudFlag,
		Clock:       speedFlag,
		PollTimeout: timeoutFlag,
		Output:      sink{w: os.Stdout},
	}
	if verboseFlag {
		cfg.Logger = logger{w: os.Stderr}
	}

	fmt.Printf("Attaching via %s...\n", adapter)
	t, err := detect.Attach(cfg)
	if err != nil {
		return nil, fmt.Errorf("attach failed: %w", err)
	}
	fmt.Printf("Found %s\n", t.Driver)
	return t, nil
}

func runFlash(cmd *cobra.Command, args []string) error {
	firmwarePath := args[0]

	firmware, err := os.ReadFile(firmwarePath)
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}
	fmt.Printf("Firmware: %s (%d bytes)\n", firmwarePath, len(firmware))

	t, err := attach()
	if err != nil {
		return err
	}
	defer t.Close()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	f := flasher.New(t, flasher.WithProgress(func(current, total int) {
		if bar.GetMax() != total {
			bar.ChangeMax(total)
		}
		bar.Set(current)
	}))

	fmt.Printf("Flashing at 0x%08X...\n", addressFlag)
	if err := f.FlashImage(firmware, addressFlag, verifyFlag); err != nil {
		bar.Exit()
		return err
	}
	bar.Finish()

	if verifyFlag {
		successColor.Println("Flash complete, verified!")
	} else {
		successColor.Println("Flash complete!")
	}

	if noResetFlag {
		return nil
	}
	fmt.Println("Resetting device...")
	if err := f.Reboot(); err != nil {
		warnColor.Printf("Warning: reset failed: %v\n", err)
	}

	fmt.Println("Done!")
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	t, err := attach()
	if err != nil {
		return err
	}
	defer t.Close()

	if len(args) == 0 {
		for _, g := range t.Commands() {
			fmt.Printf("%s commands:\n", g.Name)
			for _, c := range g.Commands {
				fmt.Printf("  %-12s %s\n", c.Name, c.Help)
			}
		}
		return nil
	}

	ok, err := t.RunCommand(args[0], args[1:]...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("command %s failed", args[0])
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	t, err := attach()
	if err != nil {
		return err
	}
	defer t.Close()

	dev, _ := efm32.Lookup(uint16(efm32.ReadPartFamily(t)))
	info, err := efm32.ReadInfo(t, dev.HasRadio)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  Device:      %s\n", t.Driver)
	fmt.Printf("  IDCODE:      0x%08X\n", t.IDCode())
	fmt.Printf("  Part:        family %d, number %d, revision %d\n", info.PartFamily, info.PartNumber, info.ProdRev)
	fmt.Printf("  Flash:       %d KiB, page size %d (DI reports %d)\n", info.FlashKiB, dev.PageSize, info.PageSize)
	fmt.Printf("  RAM:         %d KiB\n", info.RAMKiB)
	if dev.HasRadio {
		fmt.Printf("  Radio:       %d rev %d.%d\n", info.RadioPart, info.RadioMajor, info.RadioMinor)
	}
	fmt.Printf("  Unique ID:   0x%016x", info.EUI)
	if !efm32.IsSiliconLabsEUI(info.EUI) {
		warnColor.Print(" (not a Silicon Labs OUI)")
	}
	fmt.Println()
	if info.CRCValid() {
		fmt.Printf("  DI CRC:      0x%04X ", info.CRCStored)
		successColor.Println("ok")
	} else {
		fmt.Printf("  DI CRC:      0x%04X ", info.CRCStored)
		errorColor.Printf("mismatch (computed 0x%04X)\n", info.CRCActual)
	}
	for _, f := range t.Flash() {
		fmt.Printf("  Region:      %s\n", f)
	}
	for _, r := range t.RAM() {
		fmt.Printf("  Region:      ram 0x%08X-0x%08X\n", r.Start, r.Start+r.Length)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	probes, err := detect.ListProbes()
	if err != nil {
		return err
	}

	if len(probes) == 0 {
		fmt.Println("No probes found")
		return nil
	}

	fmt.Println("Available probes:")
	for _, p := range probes {
		fmt.Printf("  %-10s %-20s %s\n", p.Adapter, p.ID, p.Description)
	}
	return nil
}
