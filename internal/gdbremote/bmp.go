package gdbremote

import (
	"fmt"
	"strconv"
	"strings"
)

// ScanTarget is one entry of a Black Magic Probe scan result.
type ScanTarget struct {
	Number int
	Driver string
}

// ScanSWD asks a Black Magic Probe to scan the SWD bus and returns the
// targets it found.
func (c *Client) ScanSWD() ([]ScanTarget, error) {
	out, err := c.Monitor("swdp_scan")
	if err != nil {
		return nil, fmt.Errorf("swdp_scan: %w", err)
	}
	targets := parseScan(out)
	if len(targets) == 0 {
		return nil, fmt.Errorf("swdp_scan found no targets: %s", strings.TrimSpace(out))
	}
	return targets, nil
}

// parseScan reads the table printed by swdp_scan:
//
//	Available Targets:
//	No. Att Driver
//	 1      EFM32 Gecko
func parseScan(out string) []ScanTarget {
	var targets []ScanTarget
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		driver := fields[1:]
		if driver[0] == "*" {
			driver = driver[1:]
		}
		targets = append(targets, ScanTarget{Number: n, Driver: strings.Join(driver, " ")})
	}
	return targets
}
