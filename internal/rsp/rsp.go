// Package rsp implements GDB Remote Serial Protocol packet framing.
package rsp

import (
	"errors"
	"fmt"
)

const (
	Start  = '$'
	End    = '#'
	Esc    = '}'
	RLE    = '*'
	Ack    = '+'
	Nak    = '-'
	Break  = 0x03
	escXor = 0x20
)

// ErrChecksum is returned by Decode when the trailer does not match the
// payload.
var ErrChecksum = errors.New("rsp: checksum mismatch")

// Checksum is the modulo-256 sum of the raw payload bytes.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

func needsEscape(b byte) bool {
	return b == Start || b == End || b == Esc || b == RLE
}

// Encode wraps data in a $...#xx packet, escaping the framing bytes.
func Encode(data []byte) []byte {
	body := make([]byte, 0, len(data)+8)
	for _, b := range data {
		if needsEscape(b) {
			body = append(body, Esc, b^escXor)
		} else {
			body = append(body, b)
		}
	}

	sum := Checksum(body)
	result := make([]byte, 0, len(body)+4)
	result = append(result, Start)
	result = append(result, body...)
	return append(result, End, hexDigit(sum>>4), hexDigit(sum&0xF))
}

// Decode verifies the checksum of a complete packet and returns its
// payload with escapes and run-length encoding expanded.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < 4 || frame[0] != Start || frame[len(frame)-3] != End {
		return nil, fmt.Errorf("rsp: malformed packet %q", frame)
	}
	body := frame[1 : len(frame)-3]

	want, ok := parseHexByte(frame[len(frame)-2:])
	if !ok {
		return nil, fmt.Errorf("rsp: malformed checksum %q", frame[len(frame)-2:])
	}
	if Checksum(body) != want {
		return nil, ErrChecksum
	}

	result := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case Esc:
			if i+1 < len(body) {
				i++
				result = append(result, body[i]^escXor)
			}
		case RLE:
			// x*n repeats x another n-29 times.
			if i+1 >= len(body) || len(result) == 0 {
				return nil, fmt.Errorf("rsp: bad run-length encoding")
			}
			i++
			last := result[len(result)-1]
			for n := int(body[i]) - 29; n > 0; n-- {
				result = append(result, last)
			}
		default:
			result = append(result, body[i])
		}
	}
	return result, nil
}

// ReadFrame finds the first complete packet in a byte stream. Bytes ahead
// of the packet (acks and line noise) are skipped. It returns the frame
// including its checksum and the bytes that follow it; frame is nil when
// no complete packet is buffered yet.
func ReadFrame(data []byte) (frame []byte, remaining []byte) {
	start := -1
	for i, b := range data {
		if b == Start {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, nil
	}

	for i := start + 1; i < len(data); i++ {
		if data[i] == End {
			if i+2 >= len(data) {
				break
			}
			return data[start : i+3], data[i+3:]
		}
	}
	return nil, data[start:]
}

// HexEncode returns the lower-case hex form of data.
func HexEncode(data []byte) []byte {
	out := make([]byte, 0, 2*len(data))
	for _, b := range data {
		out = append(out, hexDigit(b>>4), hexDigit(b&0xF))
	}
	return out
}

// HexDecode parses a hex string of even length.
func HexDecode(s []byte) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("rsp: odd hex length %d", len(s))
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		b, ok := parseHexByte(s[2*i:])
		if !ok {
			return nil, fmt.Errorf("rsp: invalid hex %q", s[2*i:2*i+2])
		}
		out[i] = b
	}
	return out, nil
}

func hexDigit(v byte) byte {
	return "0123456789abcdef"[v&0xF]
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func parseHexByte(s []byte) (byte, bool) {
	hi, ok1 := hexValue(s[0])
	lo, ok2 := hexValue(s[1])
	return hi<<4 | lo, ok1 && ok2
}
