// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"encoding/binary"
	"math"
)

// DecodePayload splits a DATA payload into datasets and decodes each one
// according to format, scaled down by 10^Decimals.
//
// Datasets are laid out back to back from the start of the payload. Devices
// pad frames up to a power of two, so trailing bytes beyond
// Datasets*Width are ignored.
//
// An unknown format returns an empty vector and *UnknownFormatError.
func DecodePayload(format DataFormat, payload []byte) ([]float64, error) {
	width := format.Type.Width()
	if width == 0 {
		return []float64{}, &UnknownFormatError{Format: uint8(format.Type)}
	}

	datasets := int(format.Datasets)
	if datasets == 0 {
		return []float64{}, nil
	}
	if need := datasets * width; len(payload) < need {
		return []float64{}, &ShortReadError{Need: need, Have: len(payload)}
	}

	scale := math.Pow10(int(format.Decimals))
	values := make([]float64, datasets)
	for i := range values {
		chunk := payload[i*width : (i+1)*width]
		var v float64
		switch format.Type {
		case FormatInt8:
			v = float64(int8(chunk[0]))
		case FormatInt16:
			v = float64(int16(binary.LittleEndian.Uint16(chunk)))
		case FormatInt32:
			v = float64(int32(binary.LittleEndian.Uint32(chunk)))
		case FormatFloat32:
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
		}
		values[i] = v / scale
	}
	return values, nil
}
