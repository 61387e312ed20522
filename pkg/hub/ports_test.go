// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	p, err := Lookup(0)
	require.NoError(t, err)
	require.Equal(t, "A10", p.Enable)
	require.Equal(t, 7, p.UART)
	require.Equal(t, "A", p.Name())

	p, err = Lookup(5)
	require.NoError(t, err)
	require.Equal(t, "B1", p.M2)
	require.Equal(t, 3, p.Timer)
	require.Equal(t, 4, p.CH2)

	_, err = Lookup(6)
	require.Error(t, err)
	_, err = Lookup(-1)
	require.Error(t, err)
}

func TestParse(t *testing.T) {
	testCases := []struct {
		in     string
		number int
		ok     bool
	}{
		{"0", 0, true},
		{"3", 3, true},
		{"A", 0, true},
		{"f", 5, true},
		{" c ", 2, true},
		{"G", 0, false},
		{"6", 0, false},
		{"10", 0, false},
		{"", 0, false},
	}
	for _, tc := range testCases {
		p, err := Parse(tc.in)
		if !tc.ok {
			require.Error(t, err, "Parse(%q)", tc.in)
			continue
		}
		require.NoError(t, err, "Parse(%q)", tc.in)
		require.Equal(t, tc.number, p.Number)
	}
}

func TestPortsUniqueWiring(t *testing.T) {
	uarts := map[int]bool{}
	pins := map[string]bool{}
	for i, p := range All() {
		require.Equal(t, i, p.Number)
		require.False(t, uarts[p.UART], "uart%d reused", p.UART)
		uarts[p.UART] = true
		for _, pin := range []string{p.Enable, p.RX, p.TX, p.Detect, p.Probe, p.M1, p.M2} {
			require.False(t, pins[pin], "pin %s reused", pin)
			pins[pin] = true
		}
	}
	require.Len(t, uarts, Count)
}

func TestPortCBOR(t *testing.T) {
	p, err := Lookup(2)
	require.NoError(t, err)

	data, err := cbor.Marshal(p)
	require.NoError(t, err)

	var got Port
	require.NoError(t, cbor.Unmarshal(data, &got))
	require.Equal(t, p, got)
}
