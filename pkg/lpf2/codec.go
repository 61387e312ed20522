// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import "fmt"

// Encode encodes a Message to wire format.
// SYS messages encode to their single header byte. Every other class
// encodes header, optional INFO kind byte, payload and checksum.
func Encode(m Message) ([]byte, error) {
	if m.Class == ClassSys {
		if len(m.Payload) != 0 {
			return nil, fmt.Errorf("%w: SYS message with %d payload bytes", ErrInvalidLength, len(m.Payload))
		}
		b := MakeHeader(ClassSys, 0, m.SubID)
		if !IsSysByte(b) {
			return nil, fmt.Errorf("%w: SYS 0x%02X", ErrInvalidHeader, b)
		}
		return []byte{b}, nil
	}

	exp := SizeExponent(len(m.Payload))
	if exp < 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(m.Payload))
	}

	frame := make([]byte, 0, len(m.Payload)+3)
	frame = append(frame, MakeHeader(m.Class, exp, m.SubID))
	if m.Class == ClassInfo {
		frame = append(frame, m.Kind)
	}
	frame = append(frame, m.Payload...)
	frame = append(frame, CalculateChecksum(frame))
	return frame, nil
}

// MustEncode encodes a Message and panics on error. Use it only with
// messages built from constants.
func MustEncode(m Message) []byte {
	frame, err := Encode(m)
	if err != nil {
		panic(fmt.Sprintf("lpf2: encode error: %v", err))
	}
	return frame
}

// Decode parses the frame at the start of buf and returns the message and the
// number of bytes it occupied.
//
// A *ShortReadError means the caller should wait for more bytes. A
// *ChecksumError means the frame is corrupt; n still reports its length so
// the caller can skip it.
func Decode(buf []byte) (Message, int, error) {
	if len(buf) == 0 {
		return Message{}, 0, &ShortReadError{Need: 1, Have: 0}
	}

	n, err := FrameLength(buf[0])
	if err != nil {
		return Message{}, 1, fmt.Errorf("header 0x%02X: %w", buf[0], err)
	}
	if len(buf) < n {
		return Message{}, 0, &ShortReadError{Need: n, Have: len(buf)}
	}

	class, _, sub, _ := ParseHeader(buf[0])
	if class == ClassSys {
		return Message{Class: ClassSys, SubID: sub}, 1, nil
	}

	frame := buf[:n]
	expected := CalculateChecksum(frame[:n-1])
	if got := frame[n-1]; got != expected {
		return Message{}, n, &ChecksumError{Expected: expected, Got: got}
	}

	m := Message{Class: class, SubID: sub}
	body := frame[1 : n-1]
	if class == ClassInfo {
		m.Kind = body[0]
		body = body[1:]
	}
	m.Payload = append([]byte(nil), body...)
	return m, n, nil
}

// StripExtMode removes a leading CMD EXT_MODE frame (the 3-byte preamble a
// device sends before DATA for modes 8-15 and combined sensors). It returns
// the mode offset carried by the preamble and the remaining bytes. ok is
// false, and buf is returned untouched, when buf does not start with a
// complete EXT_MODE frame.
func StripExtMode(buf []byte) (offset uint8, rest []byte, ok bool) {
	if len(buf) < 3 {
		return 0, buf, false
	}
	class, size, sub, err := ParseHeader(buf[0])
	if err != nil || class != ClassCmd || sub != CmdExtMode || size != 1 {
		return 0, buf, false
	}
	return buf[1], buf[3:], true
}

// SelectFrame returns the 3-byte CMD SELECT frame for mode.
func SelectFrame(mode int) []byte {
	return MustEncode(NewCmd(CmdSelect, []byte{byte(mode)}))
}

// ExtModeFrame returns the 3-byte CMD EXT_MODE frame for mode.
func ExtModeFrame(mode int) []byte {
	ext := byte(ExtMode0)
	if mode >= 8 {
		ext = ExtMode8
	}
	return MustEncode(NewCmd(CmdExtMode, []byte{ext}))
}
