// Package gdbremote drives a device through a GDB remote stub such as the
// one built into the Black Magic Probe. It speaks the Remote Serial
// Protocol over any byte stream and exposes the device as a target.Access
// that can also run code stubs and reset the device.
package gdbremote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bigbag/efm32-flasher/internal/cortexm"
	"github.com/bigbag/efm32-flasher/internal/rsp"
	"github.com/bigbag/efm32-flasher/internal/target"
)

// DefaultTimeout bounds each request/reply exchange.
const DefaultTimeout = 2 * time.Second

// DefaultStubTimeout bounds a stub run, from continue to the stop reply.
const DefaultStubTimeout = 5 * time.Second

// defaultPacketSize is used until the server reports its own.
const defaultPacketSize = 400

var (
	// ErrTimeout is returned when the server does not answer in time.
	ErrTimeout = errors.New("gdbremote: timeout waiting for reply")
	// ErrUnsupported is returned for an empty reply, which the protocol
	// uses for unknown requests.
	ErrUnsupported = errors.New("gdbremote: request not supported")
)

// ServerError is an Enn reply.
type ServerError struct {
	Request string
	Code    int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("gdbremote: %s failed with E%02X", e.Request, e.Code)
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithStubTimeout overrides DefaultStubTimeout.
func WithStubTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.stubTimeout = d
	}
}

// WithLogger sets the logger used for packet traces.
func WithLogger(l target.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Client is a connection to a GDB remote stub. It is not safe for
// concurrent use.
type Client struct {
	conn        io.ReadWriter
	timeout     time.Duration
	stubTimeout time.Duration
	log         target.Logger

	rxBuf      [2048]byte
	rx         []byte
	noAck      bool
	packetSize int

	idcode uint32
	err    error
}

// New wraps conn. It does not talk to the server; call Handshake and
// Attach before using the Client as a target.Access.
func New(conn io.ReadWriter, opts ...Option) *Client {
	c := &Client{
		conn:        conn,
		timeout:     DefaultTimeout,
		stubTimeout: DefaultStubTimeout,
		log:         nopLogger{},
		packetSize:  defaultPacketSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

func (c *Client) send(pkt string) error {
	c.log.Debug("rsp send", "packet", pkt)
	_, err := c.conn.Write(rsp.Encode([]byte(pkt)))
	return err
}

// receive returns the next packet payload, waiting at most timeout.
func (c *Client) receive(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		frame, rest := rsp.ReadFrame(c.rx)
		if frame != nil {
			// frame aliases c.rx; decode before compacting.
			data, err := rsp.Decode(frame)
			c.rx = append(c.rx[:0], rest...)
			if err != nil {
				if !c.noAck {
					c.conn.Write([]byte{rsp.Nak})
				}
				c.log.Debug("rsp bad packet", "frame", string(frame), "error", err)
				continue
			}
			if !c.noAck {
				if _, err := c.conn.Write([]byte{rsp.Ack}); err != nil {
					return "", err
				}
			}
			c.log.Debug("rsp recv", "packet", string(data))
			return string(data), nil
		}
		c.rx = rest

		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		if d, ok := c.conn.(deadliner); ok {
			d.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		}
		n, err := c.conn.Read(c.rxBuf[:])
		c.rx = append(c.rx, c.rxBuf[:n]...)
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return "", err
		}
	}
}

// request sends pkt and returns the reply, skipping console output
// packets.
func (c *Client) request(pkt string) (string, error) {
	if err := c.send(pkt); err != nil {
		return "", err
	}
	for {
		reply, err := c.receive(c.timeout)
		if err != nil {
			return "", err
		}
		if isConsoleOutput(reply) {
			continue
		}
		return reply, nil
	}
}

func isConsoleOutput(reply string) bool {
	return len(reply) > 1 && reply[0] == 'O' && reply != "OK"
}

// checkReply converts Enn and empty replies to errors.
func checkReply(req, reply string) error {
	if reply == "" {
		return ErrUnsupported
	}
	if len(reply) == 3 && reply[0] == 'E' {
		code, err := strconv.ParseUint(reply[1:], 16, 8)
		if err == nil {
			return &ServerError{Request: req, Code: int(code)}
		}
	}
	return nil
}

func (c *Client) requestOK(pkt string) error {
	reply, err := c.request(pkt)
	if err != nil {
		return err
	}
	if err := checkReply(pkt, reply); err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("gdbremote: unexpected reply to %s: %q", pkt, reply)
	}
	return nil
}

// Handshake exchanges qSupported and turns off acknowledgements when the
// server allows it.
func (c *Client) Handshake() error {
	c.conn.Write([]byte{rsp.Ack})
	reply, err := c.request("qSupported:multiprocess-")
	if err != nil {
		return fmt.Errorf("qSupported: %w", err)
	}

	noAck := false
	for _, feature := range strings.Split(reply, ";") {
		switch {
		case strings.HasPrefix(feature, "PacketSize="):
			n, err := strconv.ParseUint(strings.TrimPrefix(feature, "PacketSize="), 16, 32)
			if err == nil && n > 64 {
				c.packetSize = int(n)
			}
		case feature == "QStartNoAckMode+":
			noAck = true
		}
	}

	if noAck {
		if err := c.requestOK("QStartNoAckMode"); err == nil {
			c.noAck = true
		}
	}
	return nil
}

// Monitor runs a monitor command and returns its console output.
func (c *Client) Monitor(cmd string) (string, error) {
	if err := c.send("qRcmd," + string(rsp.HexEncode([]byte(cmd)))); err != nil {
		return "", err
	}
	var out strings.Builder
	for {
		reply, err := c.receive(c.stubTimeout)
		if err != nil {
			return out.String(), err
		}
		if isConsoleOutput(reply) {
			text, err := rsp.HexDecode([]byte(reply[1:]))
			if err == nil {
				out.Write(text)
			}
			continue
		}
		if err := checkReply("monitor "+cmd, reply); err != nil {
			return out.String(), err
		}
		return out.String(), nil
	}
}

// Attach attaches to target number n of the server's scan list and reads
// the identification the rest of the session needs.
func (c *Client) Attach(n int) error {
	reply, err := c.request(fmt.Sprintf("vAttach;%x", n))
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	if err := checkReply("vAttach", reply); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	if _, err := parseStop(reply); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	return c.identify()
}

// Connect is Attach for servers that are attached to their device already,
// such as OpenOCD or pyOCD.
func (c *Client) Connect() error {
	reply, err := c.request("?")
	if err != nil {
		return fmt.Errorf("query stop reason: %w", err)
	}
	if _, err := parseStop(reply); err != nil {
		return fmt.Errorf("query stop reason: %w", err)
	}
	return c.identify()
}

// identify reads the CPUID. The stub hides the debug port, so the IDCODE
// is inferred from the core.
func (c *Client) identify() error {
	var b [4]byte
	if err := c.readMem(b[:], cortexm.CPUID); err != nil {
		return fmt.Errorf("read CPUID: %w", err)
	}
	c.idcode = cortexm.DPIDCode(binary.LittleEndian.Uint32(b[:]))
	return nil
}

// IDCode implements target.Access.
func (c *Client) IDCode() uint32 {
	return c.idcode
}

// CheckError implements target.Access.
func (c *Client) CheckError() error {
	err := c.err
	c.err = nil
	return err
}

func (c *Client) latch(err error) {
	if c.err == nil {
		c.err = err
	}
}

// ReadMem implements target.Access.
func (c *Client) ReadMem(dst []byte, addr uint32) {
	if c.err != nil {
		return
	}
	if err := c.readMem(dst, addr); err != nil {
		c.latch(err)
	}
}

// WriteMem implements target.Access.
func (c *Client) WriteMem(addr uint32, src []byte) {
	if c.err != nil {
		return
	}
	if err := c.writeMem(addr, src); err != nil {
		c.latch(err)
	}
}

// readMem reads in m requests sized to fit the reply packet.
func (c *Client) readMem(dst []byte, addr uint32) error {
	chunk := (c.packetSize - 4) / 2
	for len(dst) > 0 {
		n := min(len(dst), chunk)
		req := fmt.Sprintf("m%x,%x", addr, n)
		reply, err := c.request(req)
		if err != nil {
			return err
		}
		if err := checkReply(req, reply); err != nil {
			return err
		}
		data, err := rsp.HexDecode([]byte(reply))
		if err != nil {
			return err
		}
		if len(data) != n {
			return fmt.Errorf("gdbremote: short read at 0x%08X: %d of %d bytes", addr, len(data), n)
		}
		copy(dst, data)
		dst = dst[n:]
		addr += uint32(n)
	}
	return nil
}

func (c *Client) writeMem(addr uint32, src []byte) error {
	chunk := (c.packetSize - 32) / 2
	for len(src) > 0 {
		n := min(len(src), chunk)
		req := fmt.Sprintf("M%x,%x:", addr, n)
		if err := c.requestOK(req + string(rsp.HexEncode(src[:n]))); err != nil {
			return fmt.Errorf("write 0x%08X: %w", addr, err)
		}
		src = src[n:]
		addr += uint32(n)
	}
	return nil
}

// Close detaches from the device and closes the connection when it is an
// io.Closer.
func (c *Client) Close() error {
	if err := c.send("D"); err == nil {
		c.receive(c.timeout)
	}
	if cl, ok := c.conn.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func le32Hex(v uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return string(rsp.HexEncode(b[:]))
}
