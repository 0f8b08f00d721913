// Package adiv5 implements the host side of the ARM Debug Interface v5: the
// SW-DP power-up handshake and memory access through a MEM-AP.
package adiv5

import (
	"errors"
	"fmt"
	"time"
)

// Transport errors reported by a probe for the SWD ACK phase.
var (
	ErrWait  = errors.New("adiv5: WAIT response")
	ErrFault = errors.New("adiv5: FAULT response")
)

// DP registers (A[3:2] byte offsets)
const (
	DPIDCode   = 0x0 // read
	DPAbort    = 0x0 // write
	DPCtrlStat = 0x4
	DPSelect   = 0x8
	DPRDBuff   = 0xC
)

// ABORT bits
const (
	abortDAPAbort   = 1 << 0
	abortStkCmpClr  = 1 << 1
	abortStkErrClr  = 1 << 2
	abortWDErrClr   = 1 << 3
	abortOrunErrClr = 1 << 4
	abortClearAll   = abortStkCmpClr | abortStkErrClr | abortWDErrClr | abortOrunErrClr
)

// CTRL/STAT bits
const (
	ctrlCDbgPwrUpReq = 1 << 28
	ctrlCDbgPwrUpAck = 1 << 29
	ctrlCSysPwrUpReq = 1 << 30
	ctrlCSysPwrUpAck = 1 << 31
)

const powerUpTimeout = 250 * time.Millisecond

// Transport performs single DP/AP register transfers and repeated
// transfers to one register. AP reads return the actual register value;
// the transport hides posted reads.
type Transport interface {
	ReadReg(ap bool, addr uint8) (uint32, error)
	WriteReg(ap bool, addr uint8, v uint32) error
	ReadBlock(ap bool, addr uint8, dst []uint32) error
	WriteBlock(ap bool, addr uint8, src []uint32) error
	Close() error
}

// DP is a SW-DP.
type DP struct {
	tr     Transport
	idcode uint32
	sel    uint32
	selOK  bool
}

// Connect reads the DP IDCODE, clears sticky errors and powers up the debug
// and system domains.
func Connect(tr Transport) (*DP, error) {
	dp := &DP{tr: tr}

	id, err := tr.ReadReg(false, DPIDCode)
	if err != nil {
		return nil, fmt.Errorf("read IDCODE: %w", err)
	}
	dp.idcode = id

	if err := dp.ClearErrors(); err != nil {
		return nil, err
	}

	if err := tr.WriteReg(false, DPCtrlStat, ctrlCDbgPwrUpReq|ctrlCSysPwrUpReq); err != nil {
		return nil, fmt.Errorf("power-up request: %w", err)
	}
	deadline := time.Now().Add(powerUpTimeout)
	for {
		v, err := tr.ReadReg(false, DPCtrlStat)
		if err != nil {
			return nil, fmt.Errorf("read CTRL/STAT: %w", err)
		}
		if v&(ctrlCDbgPwrUpAck|ctrlCSysPwrUpAck) == ctrlCDbgPwrUpAck|ctrlCSysPwrUpAck {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("debug power-up not acknowledged (CTRL/STAT 0x%08X)", v)
		}
	}

	return dp, nil
}

// IDCode returns the IDCODE read at connect.
func (dp *DP) IDCode() uint32 {
	return dp.idcode
}

// ClearErrors clears the sticky error flags.
func (dp *DP) ClearErrors() error {
	if err := dp.tr.WriteReg(false, DPAbort, abortClearAll); err != nil {
		return fmt.Errorf("clear sticky errors: %w", err)
	}
	return nil
}

// Abort cancels a transaction that keeps answering WAIT.
func (dp *DP) Abort() error {
	return dp.tr.WriteReg(false, DPAbort, abortDAPAbort)
}

// selectAP points SELECT at the bank of addr on apsel. addr is a full AP
// register offset (0x00-0xFC).
func (dp *DP) selectAP(apsel uint8, addr uint8) error {
	v := uint32(apsel)<<24 | uint32(addr&0xF0)
	if dp.selOK && dp.sel == v {
		return nil
	}
	if err := dp.tr.WriteReg(false, DPSelect, v); err != nil {
		dp.selOK = false
		return err
	}
	dp.sel, dp.selOK = v, true
	return nil
}

// ReadAP reads an AP register.
func (dp *DP) ReadAP(apsel, addr uint8) (uint32, error) {
	if err := dp.selectAP(apsel, addr); err != nil {
		return 0, err
	}
	return dp.tr.ReadReg(true, addr&0x0C)
}

// WriteAP writes an AP register.
func (dp *DP) WriteAP(apsel, addr uint8, v uint32) error {
	if err := dp.selectAP(apsel, addr); err != nil {
		return err
	}
	return dp.tr.WriteReg(true, addr&0x0C, v)
}

func (dp *DP) readAPBlock(apsel, addr uint8, dst []uint32) error {
	if err := dp.selectAP(apsel, addr); err != nil {
		return err
	}
	return dp.tr.ReadBlock(true, addr&0x0C, dst)
}

func (dp *DP) writeAPBlock(apsel, addr uint8, src []uint32) error {
	if err := dp.selectAP(apsel, addr); err != nil {
		return err
	}
	return dp.tr.WriteBlock(true, addr&0x0C, src)
}

// Close closes the transport.
func (dp *DP) Close() error {
	return dp.tr.Close()
}
