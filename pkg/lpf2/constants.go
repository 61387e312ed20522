// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lpf2 provides a host-side Go implementation of the LPF2 line protocol
// spoken by smart motors and sensors.
//
// LPF2 is a point-to-point UART protocol. A device announces its type and
// per-mode capabilities at 2400 baud during a handshake, the host
// acknowledges, and both sides switch to 115200 baud. The host then polls the
// device with NACK bytes and the device answers with a DATA frame for the
// currently selected mode. This package provides frame encoding/decoding,
// checksum validation, handshake folding into a mode table, payload decoding,
// and the Device engine that runs discovery and polling over a Transport.
package lpf2

import "time"

// System bytes (single-byte SYS messages, no checksum)
const (
	ByteSync = 0x00
	ByteNack = 0x02
	ByteAck  = 0x04
)

// Class is the message class stored in header bits 7-6.
type Class uint8

// Message classes
const (
	ClassSys  Class = 0x00
	ClassCmd  Class = 0x01
	ClassInfo Class = 0x02
	ClassData Class = 0x03
)

// Header bit layout
const (
	headerClassShift = 6
	headerSizeShift  = 3
	headerSizeMask   = 0x38
	headerSubIDMask  = 0x07
	maxSizeExponent  = 5
)

// Frame size limits
const (
	MaxPayloadSize = 32
	// header + info kind + payload + checksum
	MaxFrameSize = 1 + 1 + MaxPayloadSize + 1
	MaxModes     = 16
)

// checksumSeed is XORed into the first byte of every checksummed message.
const checksumSeed = 0xFF

// CMD sub-ids (header bits 2-0)
const (
	CmdType    = 0x00 // device type id
	CmdModes   = 0x01 // number of modes minus one
	CmdSpeed   = 0x02 // maximum baud rate
	CmdSelect  = 0x03 // select mode
	CmdWrite   = 0x04 // write to device
	CmdExtMode = 0x06 // mode offset for the following DATA frame; default modeset during handshake
	CmdVersion = 0x07 // firmware and hardware versions
)

// INFO kinds (second byte of an INFO message)
const (
	InfoName      = 0x00
	InfoRaw       = 0x01
	InfoPct       = 0x02
	InfoSI        = 0x03
	InfoSymbol    = 0x04
	InfoMapping   = 0x05
	InfoModeCombo = 0x06
	InfoModePlus8 = 0x20 // flag: the header sub-id addresses mode 8-15
	InfoFormat    = 0x80
)

// EXT_MODE payload values
const (
	ExtMode0 = 0x00
	ExtMode8 = 0x08
)

// Baud rates used by the protocol
const (
	BaudHandshake = 2400
	BaudData      = 115200
)

// Default engine timings
const (
	DefaultPollInterval      = 10 * time.Millisecond
	DefaultReplyDelay        = 10 * time.Millisecond
	DefaultDebounceSamples   = 20
	DefaultDebounceInterval  = 10 * time.Millisecond
	DefaultReadyTimeout      = 5 * time.Second
	DefaultEnumerateTimeout  = 5 * time.Second
	DefaultHandshakeReadWait = time.Second
	DefaultDataReadWait      = 200 * time.Millisecond
)
