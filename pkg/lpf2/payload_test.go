// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	testCases := []struct {
		name    string
		format  DataFormat
		payload []byte
		expect  []float64
	}{
		{
			name:    "int16 two decimals",
			format:  DataFormat{Datasets: 1, Type: FormatInt16, Decimals: 2},
			payload: []byte{0xE8, 0x03},
			expect:  []float64{10.00},
		},
		{
			name:    "int8 signed",
			format:  DataFormat{Datasets: 2, Type: FormatInt8},
			payload: []byte{0xFF, 0x7F},
			expect:  []float64{-1, 127},
		},
		{
			name:    "int8 padded frame",
			format:  DataFormat{Datasets: 3, Type: FormatInt8, Decimals: 1},
			payload: []byte{10, 20, 30, 0xAA},
			expect:  []float64{1, 2, 3},
		},
		{
			name:    "int16 negative",
			format:  DataFormat{Datasets: 1, Type: FormatInt16},
			payload: []byte{0x4C, 0xFF},
			expect:  []float64{-180},
		},
		{
			name:    "int32",
			format:  DataFormat{Datasets: 2, Type: FormatInt32},
			payload: []byte{0x68, 0x01, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF},
			expect:  []float64{360, -1},
		},
		{
			name:    "no datasets",
			format:  DataFormat{Datasets: 0, Type: FormatInt16},
			payload: []byte{1, 2},
			expect:  []float64{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodePayload(tc.format, tc.payload)
			require.NoError(t, err)
			require.Equal(t, tc.expect, got)
		})
	}
}

func TestDecodePayloadFloat32Exact(t *testing.T) {
	src := []float32{3.14159, -273.15, 1e-7}
	payload := make([]byte, 0, 16)
	for _, f := range src {
		payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(f))
	}
	payload = append(payload, 0, 0, 0, 0) // padded to 16

	got, err := DecodePayload(DataFormat{Datasets: 3, Type: FormatFloat32}, payload)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, f := range src {
		require.Equal(t, float64(f), got[i])
	}
}

func TestDecodePayloadUnknownFormat(t *testing.T) {
	got, err := DecodePayload(DataFormat{Datasets: 1, Type: FormatType(7)}, []byte{1, 2})
	var uf *UnknownFormatError
	require.True(t, errors.As(err, &uf))
	require.Equal(t, uint8(7), uf.Format)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestDecodePayloadShort(t *testing.T) {
	_, err := DecodePayload(DataFormat{Datasets: 3, Type: FormatInt16}, []byte{1, 2, 3, 4})
	var sr *ShortReadError
	require.True(t, errors.As(err, &sr))
	require.Equal(t, 6, sr.Need)
	require.Equal(t, 4, sr.Have)
}
