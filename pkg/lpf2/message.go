// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import "bytes"

// Message is a single decoded LPF2 message.
//
// SYS messages are a lone header byte. INFO messages carry a kind byte
// between the header and the payload. Every other message carries a payload
// whose length is a power of two between 1 and 32.
type Message struct {
	Class   Class
	SubID   uint8 // header bits 2-0
	Kind    uint8 // INFO kind byte, including the InfoModePlus8 flag
	Payload []byte
}

// NewSys creates a single-byte SYS message (ByteAck, ByteNack, ByteSync).
func NewSys(b byte) Message {
	return Message{Class: ClassSys, SubID: b & headerSubIDMask}
}

// NewCmd creates a CMD message.
func NewCmd(sub uint8, payload []byte) Message {
	return Message{Class: ClassCmd, SubID: sub & headerSubIDMask, Payload: payload}
}

// NewInfo creates an INFO message addressing mode 0-15. Modes 8-15 set the
// InfoModePlus8 flag on the kind byte.
func NewInfo(mode int, kind uint8, payload []byte) Message {
	if mode >= 8 {
		kind |= InfoModePlus8
	}
	return Message{Class: ClassInfo, SubID: uint8(mode) & headerSubIDMask, Kind: kind, Payload: payload}
}

// NewData creates a DATA message for mode 0-7. Modes 8-15 need a preceding
// EXT_MODE frame; see Device.WriteData.
func NewData(mode int, payload []byte) Message {
	return Message{Class: ClassData, SubID: uint8(mode) & headerSubIDMask, Payload: payload}
}

// Mode returns the mode id addressed by an INFO or DATA message. For INFO the
// plus-8 flag is applied; DATA frames rely on the caller to add any EXT_MODE
// offset.
func (m Message) Mode() int {
	mode := int(m.SubID)
	if m.Class == ClassInfo && m.Kind&InfoModePlus8 != 0 {
		mode += 8
	}
	return mode
}

// InfoKind returns the INFO kind with the plus-8 flag cleared.
func (m Message) InfoKind() uint8 {
	return m.Kind &^ InfoModePlus8
}

// IsAck reports whether m is the SYS ACK byte.
func (m Message) IsAck() bool {
	return m.Class == ClassSys && m.SubID == ByteAck
}

// Equal compares two messages field by field.
func (m Message) Equal(o Message) bool {
	return m.Class == o.Class && m.SubID == o.SubID && m.Kind == o.Kind &&
		bytes.Equal(m.Payload, o.Payload)
}

// SizeExponent returns exp such that 2^exp == size, or -1 when size is not a
// valid LPF2 payload size.
func SizeExponent(size int) int {
	for exp := 0; exp <= maxSizeExponent; exp++ {
		if 1<<exp == size {
			return exp
		}
	}
	return -1
}

// PadPayload zero-pads payload to the next valid LPF2 size. Payloads longer
// than MaxPayloadSize are returned unchanged.
func PadPayload(payload []byte) []byte {
	for exp := 0; exp <= maxSizeExponent; exp++ {
		size := 1 << exp
		if len(payload) <= size {
			out := make([]byte, size)
			copy(out, payload)
			return out
		}
	}
	return payload
}

// MakeHeader packs class, size exponent and sub-id into a header byte.
func MakeHeader(class Class, exp int, sub uint8) byte {
	return byte(class)<<headerClassShift | byte(exp)<<headerSizeShift&headerSizeMask | sub&headerSubIDMask
}

// ParseHeader splits a header byte into class, payload size and sub-id.
func ParseHeader(b byte) (class Class, size int, sub uint8, err error) {
	class = Class(b >> headerClassShift)
	exp := int(b&headerSizeMask) >> headerSizeShift
	sub = b & headerSubIDMask
	if exp > maxSizeExponent {
		return class, 0, sub, ErrInvalidHeader
	}
	return class, 1 << exp, sub, nil
}

// IsSysByte reports whether b is one of the single-byte SYS messages. Other
// bytes with the SYS class bits are not valid headers.
func IsSysByte(b byte) bool {
	return b == ByteSync || b == ByteNack || b == ByteAck
}

// FrameLength returns the total number of bytes of the frame that starts
// with header, including kind byte and checksum.
func FrameLength(header byte) (int, error) {
	class, size, _, err := ParseHeader(header)
	if class == ClassSys {
		if !IsSysByte(header) {
			return 0, ErrInvalidHeader
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if class == ClassInfo {
		return size + 3, nil
	}
	return size + 2, nil
}
