package gdbremote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/bigbag/efm32-flasher/internal/cortexm"
	"github.com/bigbag/efm32-flasher/internal/rsp"
	"github.com/bigbag/efm32-flasher/internal/target"
)

// Register numbers in the ARM GDB target description.
const (
	regPC   = 0x0F
	regXPSR = 0x19
)

const (
	sigInt  = 0x02
	sigTrap = 0x05

	xpsrThumb  = 1 << 24
	bkptOpcode = 0xBE
)

// stopReply is a decoded S or T packet.
type stopReply struct {
	signal int
	exited bool
}

func parseStop(reply string) (stopReply, error) {
	if reply == "" {
		return stopReply{}, fmt.Errorf("empty stop reply")
	}
	switch reply[0] {
	case 'S', 'T':
		if len(reply) < 3 {
			break
		}
		sig, err := strconv.ParseUint(reply[1:3], 16, 8)
		if err != nil {
			break
		}
		return stopReply{signal: int(sig)}, nil
	case 'W', 'X':
		return stopReply{exited: true}, nil
	}
	return stopReply{}, fmt.Errorf("unexpected stop reply %q", reply)
}

func (c *Client) writeReg(n int, v uint32) error {
	return c.requestOK(fmt.Sprintf("P%x=%s", n, le32Hex(v)))
}

func (c *Client) readReg(n int) (uint32, error) {
	req := fmt.Sprintf("p%x", n)
	reply, err := c.request(req)
	if err != nil {
		return 0, err
	}
	if err := checkReply(req, reply); err != nil {
		return 0, err
	}
	b, err := rsp.HexDecode([]byte(reply))
	if err != nil || len(b) != 4 {
		return 0, fmt.Errorf("gdbremote: bad register value %q", reply)
	}
	return binary.LittleEndian.Uint32(b), nil
}

// RunStub implements target.StubRunner. The stub starts with r0-r3 loaded
// from args and ends on a BKPT whose immediate is its exit code.
func (c *Client) RunStub(entry uint32, args [4]uint32) target.StubResult {
	for i, v := range args {
		if err := c.writeReg(i, v); err != nil {
			return c.failure("load argument", err)
		}
	}
	if err := c.writeReg(regPC, entry); err != nil {
		return c.failure("set PC", err)
	}
	if err := c.writeReg(regXPSR, xpsrThumb); err != nil {
		return c.failure("set xPSR", err)
	}

	if err := c.send("c"); err != nil {
		return c.failure("continue", err)
	}
	reply, err := c.receive(c.stubTimeout)
	for err == nil && isConsoleOutput(reply) {
		reply, err = c.receive(c.stubTimeout)
	}
	if errors.Is(err, ErrTimeout) {
		c.interrupt()
		c.log.Error("stub did not stop", "entry", fmt.Sprintf("0x%08X", entry))
		return target.StubTimeout
	}
	if err != nil {
		return c.failure("wait for stop", err)
	}

	stop, err := parseStop(reply)
	if err != nil {
		return c.failure("wait for stop", err)
	}
	if stop.exited || stop.signal != sigTrap {
		c.log.Error("stub stopped on fault", "reply", reply)
		return target.StubFault
	}

	pc, err := c.readReg(regPC)
	if err != nil {
		return c.failure("read PC", err)
	}
	var insn [2]byte
	if err := c.readMem(insn[:], pc&^1); err != nil {
		return c.failure("read breakpoint", err)
	}
	if insn[1] != bkptOpcode {
		c.log.Error("stub stopped off a breakpoint", "pc", fmt.Sprintf("0x%08X", pc))
		return target.StubFault
	}
	return target.StubResult(insn[0])
}

// interrupt stops a running core and consumes its stop reply.
func (c *Client) interrupt() {
	if _, err := c.conn.Write([]byte{rsp.Break}); err != nil {
		return
	}
	reply, err := c.receive(c.timeout)
	if err == nil {
		if stop, err := parseStop(reply); err == nil && stop.signal != sigInt {
			c.log.Debug("unexpected interrupt reply", "reply", reply)
		}
	}
}

func (c *Client) failure(step string, err error) target.StubResult {
	c.log.Error("stub run failed", "step", step, "error", err)
	return target.StubTransportError
}

// Reset implements target.Resetter. A hard reset pulses the probe's reset
// line; a soft reset requests a system reset through AIRCR.
func (c *Client) Reset(hard bool) error {
	if hard {
		if _, err := c.Monitor("reset"); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		return nil
	}

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], 0x05FA0004)
	if err := c.writeMem(cortexm.AIRCR, b[:]); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}
