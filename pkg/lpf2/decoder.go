// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import "fmt"

// Decoder states (internal)
const (
	stateHeader = iota
	stateKind
	statePayload
	stateChecksum
)

// Decoder implements the byte-at-a-time LPF2 frame decoder used while the
// device streams its handshake at low speed.
type Decoder struct {
	state  int
	buffer []byte
	msg    Message
	size   int
}

// NewDecoder creates a new protocol decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:  stateHeader,
		buffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset resets the decoder state to wait for a header
func (d *Decoder) Reset() {
	d.state = stateHeader
	d.buffer = d.buffer[:0]
	d.msg = Message{}
	d.size = 0
}

// GetRawBytes returns the bytes of the frame currently being assembled
func (d *Decoder) GetRawBytes() []byte {
	return d.buffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed message, or nil if the frame is incomplete.
// Returns an error if the frame is corrupt; the decoder is then reset and
// resynchronises on the next byte.
func (d *Decoder) DecodeByte(b byte) (*Message, error) {
	switch d.state {
	case stateHeader:
		class, size, sub, err := ParseHeader(b)
		if class == ClassSys {
			if !IsSysByte(b) {
				return nil, fmt.Errorf("header 0x%02X: %w", b, ErrInvalidHeader)
			}
			m := Message{Class: ClassSys, SubID: sub}
			return &m, nil
		}
		if err != nil {
			return nil, fmt.Errorf("header 0x%02X: %w", b, err)
		}
		d.buffer = append(d.buffer[:0], b)
		d.msg = Message{Class: class, SubID: sub, Payload: make([]byte, 0, size)}
		d.size = size
		if class == ClassInfo {
			d.state = stateKind
		} else {
			d.state = statePayload
		}
		return nil, nil

	case stateKind:
		d.buffer = append(d.buffer, b)
		d.msg.Kind = b
		d.state = statePayload
		return nil, nil

	case statePayload:
		d.buffer = append(d.buffer, b)
		d.msg.Payload = append(d.msg.Payload, b)
		if len(d.msg.Payload) >= d.size {
			d.state = stateChecksum
		}
		return nil, nil

	case stateChecksum:
		expected := CalculateChecksum(d.buffer)
		if b != expected {
			d.Reset()
			return nil, &ChecksumError{Expected: expected, Got: b}
		}
		m := d.msg
		d.Reset()
		return &m, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}
