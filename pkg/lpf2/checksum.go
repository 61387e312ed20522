// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

// CalculateChecksum XOR-folds data seeded with 0xFF.
func CalculateChecksum(data []byte) byte {
	cs := byte(checksumSeed)
	for _, b := range data {
		cs ^= b
	}
	return cs
}

// VerifyChecksum reports whether the last byte of frame is the checksum of
// the bytes before it. Single-byte SYS frames carry no checksum and always
// verify.
func VerifyChecksum(frame []byte) bool {
	if len(frame) <= 1 {
		return true
	}
	return CalculateChecksum(frame[:len(frame)-1]) == frame[len(frame)-1]
}
