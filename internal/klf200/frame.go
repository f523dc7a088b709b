package klf200

import (
	"encoding/binary"
	"fmt"
)

// SLIP framing bytes (RFC 1055). The KLF200 wraps every frame in END
// delimiters and escapes END/ESC bytes inside the payload.
const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD
)

// protocolID is the only transport protocol the KLF200 speaks.
const protocolID = 0x00

// maxFrameData bounds the data section of a single frame. The length field
// is one byte and covers command (2), data, and checksum (1).
const maxFrameData = 250

// frame is a single decoded KLF200 API frame.
type frame struct {
	Command uint16
	Data    []byte
}

// encodeFrame serialises a frame into its SLIP-wrapped wire form:
//
//	C0 | ProtocolID | Length | Command(2, BE) | Data | Checksum | C0
//
// Length counts command, data, and checksum. Checksum is the XOR of all
// preceding bytes (protocol ID through end of data). SLIP escaping is
// applied to everything between the END delimiters.
func encodeFrame(f frame) ([]byte, error) {
	if len(f.Data) > maxFrameData {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Data))
	}

	raw := make([]byte, 0, 5+len(f.Data))
	raw = append(raw, protocolID, byte(len(f.Data)+3))
	raw = binary.BigEndian.AppendUint16(raw, f.Command)
	raw = append(raw, f.Data...)

	var sum byte
	for _, b := range raw {
		sum ^= b
	}
	raw = append(raw, sum)

	out := make([]byte, 0, len(raw)+2)
	out = append(out, slipEnd)
	for _, b := range raw {
		switch b {
		case slipEnd:
			out = append(out, slipEsc, slipEscEnd)
		case slipEsc:
			out = append(out, slipEsc, slipEscEsc)
		default:
			out = append(out, b)
		}
	}
	out = append(out, slipEnd)
	return out, nil
}

// decodeFrame parses an unescaped frame body (the bytes between two SLIP
// END delimiters, with escaping already undone) and validates length and
// checksum.
func decodeFrame(raw []byte) (frame, error) {
	if len(raw) < 5 {
		return frame{}, fmt.Errorf("%w: short frame (%d bytes)", ErrFrameInvalid, len(raw))
	}
	if raw[0] != protocolID {
		return frame{}, fmt.Errorf("%w: protocol id 0x%02x", ErrFrameInvalid, raw[0])
	}
	length := int(raw[1])
	if length != len(raw)-2 {
		return frame{}, fmt.Errorf("%w: length %d does not match %d body bytes", ErrFrameInvalid, length, len(raw)-2)
	}

	var sum byte
	for _, b := range raw[:len(raw)-1] {
		sum ^= b
	}
	if sum != raw[len(raw)-1] {
		return frame{}, fmt.Errorf("%w: checksum 0x%02x, expected 0x%02x", ErrFrameInvalid, raw[len(raw)-1], sum)
	}

	f := frame{Command: binary.BigEndian.Uint16(raw[2:4])}
	if len(raw) > 5 {
		f.Data = append(f.Data, raw[4:len(raw)-1]...)
	}
	return f, nil
}

// slipReader accumulates bytes from the wire and yields complete frame
// bodies with SLIP escaping removed.
type slipReader struct {
	buf     []byte
	inFrame bool
	escaped bool
}

// Feed consumes a chunk of raw bytes and returns any complete frame bodies
// contained in it. Partial frames are buffered until the closing delimiter
// arrives.
func (r *slipReader) Feed(chunk []byte) [][]byte {
	var frames [][]byte
	for _, b := range chunk {
		if !r.inFrame {
			if b == slipEnd {
				r.inFrame = true
				r.buf = r.buf[:0]
			}
			continue
		}
		if r.escaped {
			r.escaped = false
			switch b {
			case slipEscEnd:
				r.buf = append(r.buf, slipEnd)
			case slipEscEsc:
				r.buf = append(r.buf, slipEsc)
			default:
				// Protocol violation, drop the frame and resync.
				r.inFrame = false
			}
			continue
		}
		switch b {
		case slipEsc:
			r.escaped = true
		case slipEnd:
			if len(r.buf) > 0 {
				body := make([]byte, len(r.buf))
				copy(body, r.buf)
				frames = append(frames, body)
			}
			r.buf = r.buf[:0]
		default:
			r.buf = append(r.buf, b)
		}
	}
	return frames
}
