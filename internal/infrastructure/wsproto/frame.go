package wsproto

import (
	"encoding/binary"
	"errors"
)

// Opcodes understood by the relay. Anything else is skipped on decode.
const (
	OpText  byte = 0x1
	OpClose byte = 0x8
	OpPing  byte = 0x9
	OpPong  byte = 0xA
)

const finBit = 0x80

// ErrMalformedFrame is returned when a frame header cannot describe a valid payload.
var ErrMalformedFrame = errors.New("wsproto: malformed frame")

// Frame is one decoded, unmasked frame.
type Frame struct {
	Opcode  byte
	Payload []byte
}

// Text returns the payload as a string (text frames are UTF-8).
func (f Frame) Text() string { return string(f.Payload) }

// EncodeFrame builds a single final, unmasked server frame.
func EncodeFrame(opcode byte, payload []byte) []byte {
	n := len(payload)
	var out []byte
	switch {
	case n < 126:
		out = make([]byte, 2, 2+n)
		out[1] = byte(n)
	case n < 65536:
		out = make([]byte, 4, 4+n)
		out[1] = 126
		binary.BigEndian.PutUint16(out[2:], uint16(n))
	default:
		out = make([]byte, 10, 10+n)
		out[1] = 127
		binary.BigEndian.PutUint64(out[2:], uint64(n))
	}
	out[0] = finBit | (opcode & 0x0f)
	return append(out, payload...)
}

// EncodeText is EncodeFrame(OpText, payload).
func EncodeText(payload []byte) []byte { return EncodeFrame(OpText, payload) }

// DecodeFrames decodes every complete frame at the front of buf.
//
// consumed is the number of bytes covered by the returned frames (including
// skipped frames with unknown opcodes). A trailing partial frame is left
// unconsumed so the caller can retry once more bytes arrive. On
// ErrMalformedFrame the frames decoded before the bad header are still returned.
func DecodeFrames(buf []byte) (frames []Frame, consumed int, err error) {
	off := 0
	for off < len(buf) {
		rest := buf[off:]
		if len(rest) < 2 {
			break
		}
		opcode := rest[0] & 0x0f
		masked := rest[1]&0x80 != 0
		length := uint64(rest[1] & 0x7f)
		hdr := 2

		switch length {
		case 126:
			if len(rest) < hdr+2 {
				return frames, off, nil
			}
			length = uint64(binary.BigEndian.Uint16(rest[hdr:]))
			hdr += 2
		case 127:
			if len(rest) < hdr+8 {
				return frames, off, nil
			}
			length = binary.BigEndian.Uint64(rest[hdr:])
			if length>>63 != 0 {
				return frames, off, ErrMalformedFrame
			}
			hdr += 8
		}

		var key [4]byte
		if masked {
			if len(rest) < hdr+4 {
				return frames, off, nil
			}
			copy(key[:], rest[hdr:hdr+4])
			hdr += 4
		}

		if uint64(len(rest)-hdr) < length {
			break
		}
		end := hdr + int(length)

		switch opcode {
		case OpText, OpClose, OpPing, OpPong:
			payload := make([]byte, end-hdr)
			copy(payload, rest[hdr:end])
			if masked {
				for i := range payload {
					payload[i] ^= key[i%4]
				}
			}
			frames = append(frames, Frame{Opcode: opcode, Payload: payload})
		}
		off += end
	}
	return frames, off, nil
}
