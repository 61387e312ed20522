// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidHeader is returned for a header that declares a size exponent
	// above 5, or a SYS-class byte other than SYNC, NACK or ACK.
	ErrInvalidHeader = errors.New("lpf2: invalid header")
	// ErrInvalidLength is returned when encoding a payload whose length is not
	// a power of two between 1 and 32, or a SYS message with a payload.
	ErrInvalidLength = errors.New("lpf2: invalid payload length")
	// ErrNotConnected is returned by operations that need a CONNECTED device.
	ErrNotConnected = errors.New("lpf2: device not connected")
	// ErrUnknownMode is returned when selecting a mode the device did not declare.
	ErrUnknownMode = errors.New("lpf2: unknown mode")
	// ErrClosed is returned when the device has been closed.
	ErrClosed = errors.New("lpf2: device closed")
)

// ChecksumError reports a frame whose trailing checksum does not match.
// The frame is dropped; polling retries on the next tick.
type ChecksumError struct {
	Expected byte
	Got      byte
}

// Error implements error.
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%02X, got 0x%02X", e.Expected, e.Got)
}

// ShortReadError reports that fewer bytes are available than the header declares.
type ShortReadError struct {
	Need int
	Have int
}

// Error implements error.
func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read: need %d bytes, have %d", e.Need, e.Have)
}

// UnknownFormatError reports a mode whose data format id is not one of the
// four known encodings.
type UnknownFormatError struct {
	Format uint8
}

// Error implements error.
func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown data format %d", e.Format)
}

// HandshakeTimeoutError is fatal to a connection attempt.
type HandshakeTimeoutError struct {
	Stage   string
	Timeout time.Duration
	// Partial holds the bytes of an unfinished frame, if any.
	Partial []byte
}

// Error implements error.
func (e *HandshakeTimeoutError) Error() string {
	if len(e.Partial) > 0 {
		return fmt.Sprintf("handshake timeout during %s after %v (partial frame % X)", e.Stage, e.Timeout, e.Partial)
	}
	return fmt.Sprintf("handshake timeout during %s after %v", e.Stage, e.Timeout)
}

// UnexpectedModeError reports a DATA frame for a mode other than the selected
// one. It is expected for a few ticks after a mode switch.
type UnexpectedModeError struct {
	Selected int
	Got      int
}

// Error implements error.
func (e *UnexpectedModeError) Error() string {
	return fmt.Sprintf("data for mode %d while mode %d is selected", e.Got, e.Selected)
}
