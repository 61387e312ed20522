// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"errors"
	"time"
)

// ErrNoDrive is returned by transports without PWM drive outputs.
var ErrNoDrive = errors.New("lpf2: transport has no drive outputs")

// Channel selects one of the two PWM drive outputs of a port.
type Channel int

// Drive channels
const (
	ChannelM1 Channel = iota
	ChannelM2
)

// String returns the channel name
func (c Channel) String() string {
	if c == ChannelM1 {
		return "M1"
	}
	return "M2"
}

// Link is the byte-level UART side of a transport.
type Link interface {
	// Configure (re)initialises the UART at baud with the given read timeout.
	Configure(baud int, timeout time.Duration) error
	Write(p []byte) (int, error)
	// ReadAvailable returns the bytes received so far without blocking.
	ReadAvailable() ([]byte, error)
}

// Lines are the port's control signals.
type Lines interface {
	SetEnable(on bool) error
	SetProbe(on bool) error
	// Detect reads the device-detect input.
	Detect() (bool, error)
}

// Drive is the pair of PWM outputs of a port.
type Drive interface {
	// SetDuty sets the duty cycle of ch in percent (0-100).
	SetDuty(ch Channel, percent int) error
}

// Transport is everything a Device needs from one port.
type Transport interface {
	Link
	Lines
	Drive
	Close() error
}
