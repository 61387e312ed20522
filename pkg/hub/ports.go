// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hub holds the wiring of the six LPF2 ports of the reference hub.
package hub

import (
	"fmt"
	"strings"
)

// PWMFrequency is the drive timer frequency in Hz.
const PWMFrequency = 100

// Port is the fixed wiring of one hub port.
type Port struct {
	Number int    `cbor:"0,keyasint" yaml:"number"`
	Enable string `cbor:"1,keyasint" yaml:"enable"`
	RX     string `cbor:"2,keyasint" yaml:"rx"`
	TX     string `cbor:"3,keyasint" yaml:"tx"`
	UART   int    `cbor:"4,keyasint" yaml:"uart"`
	Detect string `cbor:"5,keyasint" yaml:"detect"` // ID1, read during the ready wait
	Probe  string `cbor:"6,keyasint" yaml:"probe"`  // ID2
	M1     string `cbor:"7,keyasint" yaml:"m1"`
	M2     string `cbor:"8,keyasint" yaml:"m2"`
	Timer  int    `cbor:"9,keyasint" yaml:"timer"`
	CH1    int    `cbor:"10,keyasint" yaml:"ch1"`
	CH2    int    `cbor:"11,keyasint" yaml:"ch2"`
}

// Name returns the port letter printed on the hub.
func (p Port) Name() string {
	return string(rune('A' + p.Number))
}

// String formats the port wiring on one line
func (p Port) String() string {
	return fmt.Sprintf("%s (%d): en=%s rx=%s tx=%s uart%d id=%s/%s m=%s/%s tim%d ch%d/%d",
		p.Name(), p.Number, p.Enable, p.RX, p.TX, p.UART, p.Detect, p.Probe,
		p.M1, p.M2, p.Timer, p.CH1, p.CH2)
}

var ports = [...]Port{
	{0, "A10", "E7", "E8", 7, "D7", "D8", "E9", "E11", 1, 1, 2},
	{1, "A8", "D0", "D1", 4, "D9", "D10", "E13", "E14", 1, 3, 4},
	{2, "E5", "E0", "E1", 8, "D11", "E4", "B6", "B7", 4, 1, 2},
	{3, "B2", "D2", "C12", 5, "C15", "C14", "B8", "B9", 4, 3, 4},
	{4, "B5", "E2", "E3", 10, "C13", "E12", "C6", "C7", 8, 1, 2},
	{5, "C5", "D14", "D15", 9, "C11", "E6", "C8", "B1", 3, 3, 4},
}

// Count is the number of ports on the hub.
const Count = len(ports)

// Lookup returns the wiring of port n (0-5).
func Lookup(n int) (Port, error) {
	if n < 0 || n >= len(ports) {
		return Port{}, fmt.Errorf("invalid port %d (0-%d)", n, len(ports)-1)
	}
	return ports[n], nil
}

// Parse accepts a port number ("0") or letter ("A", "a").
func Parse(s string) (Port, error) {
	s = strings.TrimSpace(s)
	if len(s) == 1 {
		c := strings.ToUpper(s)[0]
		if c >= 'A' && c < 'A'+byte(len(ports)) {
			return ports[c-'A'], nil
		}
		if c >= '0' && c <= '9' {
			return Lookup(int(c - '0'))
		}
	}
	return Port{}, fmt.Errorf("invalid port %q (0-%d or A-%c)", s, len(ports)-1, 'A'+len(ports)-1)
}

// All returns every port.
func All() []Port {
	out := make([]Port, len(ports))
	copy(out, ports[:])
	return out
}
