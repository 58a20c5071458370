package wsproto

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		size   int
		header int
	}{
		{0, 2},
		{125, 2},
		{126, 4},
		{65535, 4},
		{65536, 10},
	}

	for _, tc := range cases {
		payload := bytes.Repeat([]byte{'x'}, tc.size)
		encoded := EncodeText(payload)
		if len(encoded) != tc.header+tc.size {
			t.Fatalf("size %d: expected %d bytes, got %d", tc.size, tc.header+tc.size, len(encoded))
		}
		if encoded[0] != 0x81 {
			t.Errorf("size %d: expected first byte 0x81, got %#x", tc.size, encoded[0])
		}
		if encoded[1]&0x80 != 0 {
			t.Errorf("size %d: server frame must not be masked", tc.size)
		}

		frames, consumed, err := DecodeFrames(encoded)
		if err != nil {
			t.Fatalf("size %d: decode failed: %v", tc.size, err)
		}
		if consumed != len(encoded) {
			t.Errorf("size %d: consumed %d of %d", tc.size, consumed, len(encoded))
		}
		if len(frames) != 1 || frames[0].Opcode != OpText || !bytes.Equal(frames[0].Payload, payload) {
			t.Fatalf("size %d: round trip mismatch", tc.size)
		}
	}
}

func maskedFrame(opcode byte, payload []byte, key [4]byte) []byte {
	out := []byte{0x80 | opcode, 0x80 | byte(len(payload))}
	out = append(out, key[:]...)
	for i, b := range payload {
		out = append(out, b^key[i%4])
	}
	return out
}

func TestDecodeMaskedFrame(t *testing.T) {
	msg := []byte(`{"topic":"market"}`)
	buf := maskedFrame(OpText, msg, [4]byte{0x37, 0xfa, 0x21, 0x3d})

	frames, consumed, err := DecodeFrames(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if consumed != len(buf) {
		t.Errorf("expected consumed=%d, got %d", len(buf), consumed)
	}
	if len(frames) != 1 || frames[0].Text() != string(msg) {
		t.Fatalf("expected %q, got %+v", msg, frames)
	}
}

func TestDecodeMultipleFramesAndSkipsUnknownOpcode(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	var buf []byte
	buf = append(buf, maskedFrame(OpPing, nil, key)...)
	buf = append(buf, maskedFrame(0x2, []byte("binary"), key)...)
	buf = append(buf, maskedFrame(OpText, []byte("hello"), key)...)
	buf = append(buf, maskedFrame(OpClose, nil, key)...)

	frames, consumed, err := DecodeFrames(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if consumed != len(buf) {
		t.Errorf("expected all bytes consumed, got %d of %d", consumed, len(buf))
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[0].Opcode != OpPing || frames[1].Opcode != OpText || frames[2].Opcode != OpClose {
		t.Errorf("unexpected opcodes: %#x %#x %#x", frames[0].Opcode, frames[1].Opcode, frames[2].Opcode)
	}
	if frames[1].Text() != "hello" {
		t.Errorf("expected hello, got %q", frames[1].Text())
	}
}

func TestDecodeKeepsPartialTrailingFrame(t *testing.T) {
	key := [4]byte{9, 8, 7, 6}
	first := maskedFrame(OpText, []byte("one"), key)
	second := maskedFrame(OpText, []byte("two"), key)
	buf := append(append([]byte{}, first...), second[:4]...)

	frames, consumed, err := DecodeFrames(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(frames) != 1 || frames[0].Text() != "one" {
		t.Fatalf("expected only the first frame, got %+v", frames)
	}
	if consumed != len(first) {
		t.Errorf("expected consumed=%d, got %d", len(first), consumed)
	}

	rest := append(append([]byte{}, buf[consumed:]...), second[4:]...)
	frames, consumed, err = DecodeFrames(rest)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(frames) != 1 || frames[0].Text() != "two" || consumed != len(second) {
		t.Fatalf("expected second frame after completion, got %+v consumed=%d", frames, consumed)
	}
}

func TestDecodeRejectsOversizedLength(t *testing.T) {
	good := EncodeText([]byte("ok"))
	bad := []byte{0x81, 127, 0x80, 0, 0, 0, 0, 0, 0, 1}
	buf := append(append([]byte{}, good...), bad...)

	frames, consumed, err := DecodeFrames(buf)
	if err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
	if len(frames) != 1 || consumed != len(good) {
		t.Errorf("expected the leading frame to survive, got %d frames consumed=%d", len(frames), consumed)
	}
}

func TestEncodeControlFrames(t *testing.T) {
	if got := EncodeFrame(OpPong, nil); !bytes.Equal(got, []byte{0x8A, 0x00}) {
		t.Errorf("pong: got %#v", got)
	}
	if got := EncodeFrame(OpClose, nil); !bytes.Equal(got, []byte{0x88, 0x00}) {
		t.Errorf("close: got %#v", got)
	}
}
