// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Checksum
// ============================================================================

func TestChecksumSelectFrame(t *testing.T) {
	// 0xFF ^ 0x43 ^ mode
	for mode := 0; mode < MaxModes; mode++ {
		frame := SelectFrame(mode)
		require.Equal(t, []byte{0x43, byte(mode), 0xFF ^ 0x43 ^ byte(mode)}, frame)
		require.True(t, VerifyChecksum(frame))
	}
}

func TestExtModeFrame(t *testing.T) {
	require.Equal(t, []byte{0x46, 0x00, 0xFF ^ 0x46}, ExtModeFrame(3))
	require.Equal(t, []byte{0x46, 0x08, 0xFF ^ 0x46 ^ 0x08}, ExtModeFrame(9))
}

// ============================================================================
// Encode / Decode
// ============================================================================

func allMessages() []Message {
	var msgs []Message
	for _, sys := range []byte{ByteSync, ByteNack, ByteAck} {
		msgs = append(msgs, NewSys(sys))
	}
	for exp := 0; exp <= maxSizeExponent; exp++ {
		size := 1 << exp
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i*37 + exp)
		}
		for sub := uint8(0); sub < 8; sub++ {
			msgs = append(msgs, NewCmd(sub, payload), NewData(int(sub), payload))
		}
		for mode := 0; mode < MaxModes; mode++ {
			for _, kind := range []uint8{InfoName, InfoRaw, InfoSymbol, InfoFormat} {
				msgs = append(msgs, NewInfo(mode, kind, payload))
			}
		}
	}
	return msgs
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, m := range allMessages() {
		frame, err := Encode(m)
		require.NoError(t, err)

		got, n, err := Decode(frame)
		require.NoError(t, err, "decode %s", FormatMessageLine(m))
		require.Equal(t, len(frame), n)
		require.True(t, m.Equal(got), "want %s got %s", FormatMessageLine(m), FormatMessageLine(got))
	}
}

func TestEncodeRejectsInvalidLength(t *testing.T) {
	for _, size := range []int{0, 3, 5, 12, 33, 64} {
		_, err := Encode(NewData(0, make([]byte, size)))
		require.True(t, errors.Is(err, ErrInvalidLength), "size %d: %v", size, err)
	}
	_, err := Encode(Message{Class: ClassSys, SubID: ByteAck, Payload: []byte{1}})
	require.True(t, errors.Is(err, ErrInvalidLength))
}

func TestInfoPlus8(t *testing.T) {
	m := NewInfo(11, InfoFormat, []byte{1, 1, 3, 0})
	require.Equal(t, uint8(3), m.SubID)
	require.Equal(t, uint8(InfoFormat|InfoModePlus8), m.Kind)
	require.Equal(t, 11, m.Mode())
	require.Equal(t, uint8(InfoFormat), m.InfoKind())
}

func TestDecodeBitFlip(t *testing.T) {
	frames := [][]byte{
		MustEncode(NewData(3, []byte{0xE8, 0x03})),
		MustEncode(NewCmd(CmdSelect, []byte{2})),
		MustEncode(NewInfo(5, InfoRaw, make([]byte, 8))),
		MustEncode(NewCmd(CmdType, []byte{48})),
	}

	for _, frame := range frames {
		for i := range frame {
			for bit := 0; bit < 8; bit++ {
				corrupt := append([]byte(nil), frame...)
				corrupt[i] ^= 1 << bit

				_, n, err := Decode(corrupt)

				// Past the header byte, and in the header's sub-id bits,
				// framing is unchanged and only the checksum catches it.
				if i > 0 || bit < 3 {
					var ce *ChecksumError
					require.True(t, errors.As(err, &ce), "byte %d bit %d: %v", i, bit, err)
					continue
				}

				// A CMD or INFO header with sub-id 0, 2 or 4 and no size bits
				// that loses its class bit is a lone SYNC, NACK or ACK. Only
				// that byte is consumed; the rest fails as its own frame.
				if IsSysByte(corrupt[0]) {
					require.NoError(t, err)
					require.Equal(t, 1, n)
					_, _, err = Decode(corrupt[1:])
					require.Error(t, err, "byte %d bit %d: tail decoded", i, bit)
					continue
				}

				// Size and class bits reframe the message: a longer frame
				// than the buffer holds is a short read, anything else is
				// caught by the header or checksum.
				var (
					ce *ChecksumError
					sr *ShortReadError
				)
				require.True(t, errors.As(err, &ce) || errors.As(err, &sr) || errors.Is(err, ErrInvalidHeader),
					"byte %d bit %d: %v", i, bit, err)
			}
		}
	}
}

func TestDecodeSysBytes(t *testing.T) {
	for _, b := range []byte{ByteSync, ByteNack, ByteAck} {
		m, n, err := Decode([]byte{b})
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, b == ByteAck, m.IsAck())

		out, err := NewDecoder().DecodeByte(b)
		require.NoError(t, err)
		require.Equal(t, b, out.SubID)
	}

	// Every other byte with SYS class bits is an invalid header.
	for b := 0; b < 0x40; b++ {
		if IsSysByte(byte(b)) {
			continue
		}
		_, n, err := Decode([]byte{byte(b), 0, 0, 0})
		require.True(t, errors.Is(err, ErrInvalidHeader), "0x%02X: %v", b, err)
		require.Equal(t, 1, n)

		d := NewDecoder()
		out, err := d.DecodeByte(byte(b))
		require.Nil(t, out, "0x%02X", b)
		require.True(t, errors.Is(err, ErrInvalidHeader), "0x%02X: %v", b, err)
	}

	_, err := Encode(Message{Class: ClassSys, SubID: 3})
	require.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestDecodeShortRead(t *testing.T) {
	frame := MustEncode(NewData(0, []byte{1, 2, 3, 4}))
	for n := 1; n < len(frame); n++ {
		_, consumed, err := Decode(frame[:n])
		var sr *ShortReadError
		require.True(t, errors.As(err, &sr), "len %d: %v", n, err)
		require.Equal(t, len(frame), sr.Need)
		require.Zero(t, consumed)
	}
}

func TestDecodeInvalidHeader(t *testing.T) {
	// DATA with size exponent 6
	_, n, err := Decode([]byte{0xF0, 0, 0})
	require.True(t, errors.Is(err, ErrInvalidHeader))
	require.Equal(t, 1, n)
}

func TestStripExtMode(t *testing.T) {
	data := MustEncode(NewData(2, []byte{0x10, 0x00}))
	buf := append(ExtModeFrame(10), data...)

	offset, rest, ok := StripExtMode(buf)
	require.True(t, ok)
	require.Equal(t, uint8(8), offset)
	require.Equal(t, data, rest)

	// A DATA frame that happens to start with 0x46-like bytes is untouched.
	offset, rest, ok = StripExtMode(data)
	require.False(t, ok)
	require.Zero(t, offset)
	require.Equal(t, data, rest)

	// Select frames are CMD but not EXT_MODE.
	_, _, ok = StripExtMode(SelectFrame(3))
	require.False(t, ok)
}

func TestPadPayload(t *testing.T) {
	require.Len(t, PadPayload([]byte{1}), 1)
	require.Len(t, PadPayload([]byte{1, 2, 3}), 4)
	require.Len(t, PadPayload(make([]byte, 12)), 16)
	require.Len(t, PadPayload(make([]byte, 17)), 32)
}

// ============================================================================
// Streaming decoder
// ============================================================================

func TestDecoderStream(t *testing.T) {
	msgs := []Message{
		NewCmd(CmdType, []byte{48}),
		NewInfo(9, InfoName, PadPayload([]byte("APOS\x00\x00\x22\x00\x00\x00\x00\x00"))),
		NewSys(ByteAck),
	}
	var stream []byte
	for _, m := range msgs {
		stream = append(stream, MustEncode(m)...)
	}

	d := NewDecoder()
	var got []Message
	for _, b := range stream {
		m, err := d.DecodeByte(b)
		require.NoError(t, err)
		if m != nil {
			got = append(got, *m)
		}
	}
	require.Len(t, got, len(msgs))
	for i := range msgs {
		require.True(t, msgs[i].Equal(got[i]), "message %d", i)
	}
}

func TestDecoderResyncAfterCorruption(t *testing.T) {
	bad := MustEncode(NewCmd(CmdType, []byte{48}))
	bad[len(bad)-1] ^= 0xFF
	good := MustEncode(NewCmd(CmdSpeed, []byte{0x00, 0xC2, 0x01, 0x00}))

	d := NewDecoder()
	var errs int
	var got []Message
	for _, b := range append(bad, good...) {
		m, err := d.DecodeByte(b)
		if err != nil {
			errs++
			continue
		}
		if m != nil {
			got = append(got, *m)
		}
	}
	require.Equal(t, 1, errs)
	require.Len(t, got, 1)
	require.Equal(t, uint8(CmdSpeed), got[0].SubID)
}

func TestDecoderRawBytes(t *testing.T) {
	frame := MustEncode(NewInfo(1, InfoRaw, make([]byte, 8)))
	d := NewDecoder()
	require.Empty(t, d.GetRawBytes())

	for i, b := range frame[:len(frame)-1] {
		m, err := d.DecodeByte(b)
		require.NoError(t, err)
		require.Nil(t, m)
		require.Equal(t, frame[:i+1], d.GetRawBytes())
	}

	// a bad checksum drops the frame
	_, err := d.DecodeByte(frame[len(frame)-1] ^ 0x01)
	var ce *ChecksumError
	require.True(t, errors.As(err, &ce))
	require.Empty(t, d.GetRawBytes())

	// SYS bytes are never buffered
	m, err := d.DecodeByte(ByteAck)
	require.NoError(t, err)
	require.True(t, m.IsAck())
	require.Empty(t, d.GetRawBytes())
}
