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

func rangePayload(min, max float32) []byte {
	p := binary.LittleEndian.AppendUint32(nil, math.Float32bits(min))
	return binary.LittleEndian.AppendUint32(p, math.Float32bits(max))
}

func namePayload(name string, flags Flags) []byte {
	p := make([]byte, 12)
	copy(p[:5], name)
	copy(p[6:], flags[:])
	return PadPayload(p)
}

func TestFoldHandshake(t *testing.T) {
	version := binary.LittleEndian.AppendUint32(nil, 0x10000004)
	version = binary.LittleEndian.AppendUint32(version, 0x10000000)

	log := []Message{
		NewCmd(CmdType, []byte{48}),
		NewCmd(CmdModes, []byte{3, 3}),
		NewCmd(CmdSpeed, []byte{0x00, 0xC2, 0x01, 0x00}),
		NewCmd(CmdVersion, version),
		// Out of order and interleaved across modes.
		NewInfo(3, InfoFormat, []byte{1, byte(FormatInt16), 3, 0}),
		NewInfo(0, InfoName, namePayload("POWER", Flags{0x30})),
		NewInfo(3, InfoName, namePayload("APOS", Flags{0x22})),
		NewInfo(3, InfoRaw, rangePayload(-180, 179)),
		NewInfo(3, InfoSymbol, PadPayload([]byte("DEG"))),
		NewInfo(3, InfoMapping, []byte{0x08, 0x08}),
		NewInfo(0, InfoFormat, []byte{1, byte(FormatInt8), 4, 0}),
		NewInfo(3, InfoModeCombo, []byte{0x0E, 0x00}),
	}

	info, modes, issues := FoldHandshake(log)
	require.Empty(t, issues)

	require.Equal(t, uint8(48), info.TypeID)
	require.Equal(t, 4, info.ModeCount)
	require.Equal(t, 4, info.ViewCount)
	require.Equal(t, uint32(115200), info.MaxSpeed)
	require.Equal(t, "1.0.00.0004", info.FirmwareVersion.String())
	require.Equal(t, "1.0.00.0000", info.HardwareVersion.String())

	require.Equal(t, 4, modes.Len())
	require.Equal(t, 2, modes.Populated())

	apos, ok := modes.Get(3)
	require.True(t, ok)
	require.Equal(t, "APOS", apos.Name)
	require.True(t, apos.Flags.AbsolutePosition())
	require.True(t, apos.Flags.Motor())
	require.Equal(t, Range{Min: -180, Max: 179}, apos.Raw)
	require.Equal(t, "DEG", apos.Symbol)
	require.Equal(t, Mapping{Input: 0x08, Output: 0x08}, apos.Mapping)
	require.Equal(t, DataFormat{Datasets: 1, Type: FormatInt16, Figures: 3}, apos.Format)
	require.True(t, apos.Has(FieldName|FieldRaw|FieldSymbol|FieldMapping|FieldFormat))
	require.False(t, apos.Has(FieldSI))

	power, ok := modes.Get(0)
	require.True(t, ok)
	require.Equal(t, "POWER", power.Name)
	require.True(t, power.Flags.Power())

	_, ok = modes.Get(4)
	require.False(t, ok)
}

func TestFoldHandshakeModesPlus8(t *testing.T) {
	log := []Message{
		NewCmd(CmdModes, []byte{7, 7, 11, 5}),
		NewInfo(10, InfoName, namePayload("LIGHT", Flags{})),
		// Some devices send 0xA0 for FORMAT of modes 8-15.
		{Class: ClassInfo, SubID: 2, Kind: 0xA0, Payload: []byte{4, byte(FormatInt8), 3, 0}},
	}

	info, modes, issues := FoldHandshake(log)
	require.Empty(t, issues)
	require.Equal(t, 12, info.ModeCount)
	require.Equal(t, 6, info.ViewCount)

	d, ok := modes.Get(10)
	require.True(t, ok)
	require.Equal(t, "LIGHT", d.Name)
	require.Equal(t, uint8(4), d.Format.Datasets)
}

func TestFoldHandshakeIssues(t *testing.T) {
	log := []Message{
		NewCmd(CmdModes, []byte{0}),
		NewInfo(5, InfoName, namePayload("GHOST", Flags{})), // beyond declared count
		NewInfo(0, 0x11, []byte{0}),                          // unknown kind
		NewData(0, []byte{1}),                                // not a handshake frame
		NewInfo(0, InfoName, namePayload("OK", Flags{})),
	}

	_, modes, issues := FoldHandshake(log)
	require.Len(t, issues, 3)
	require.True(t, errors.Is(issues[0], ErrUnknownMode))

	d, ok := modes.Get(0)
	require.True(t, ok)
	require.Equal(t, "OK", d.Name)
}

func TestFoldHandshakeLongName(t *testing.T) {
	log := []Message{
		NewCmd(CmdModes, []byte{0}),
		NewInfo(0, InfoName, PadPayload([]byte("CALIBRATION"))),
	}
	_, modes, issues := FoldHandshake(log)
	require.Empty(t, issues)
	d, _ := modes.Get(0)
	require.Equal(t, "CALIBRATION", d.Name)
	require.Equal(t, Flags{}, d.Flags)
}

func TestValidateMode(t *testing.T) {
	good := ModeDescriptor{
		ID: 3, Name: "APOS",
		Raw:    Range{Min: -180, Max: 179},
		Format: DataFormat{Datasets: 1, Type: FormatInt16},
		Fields: FieldName | FieldRaw | FieldFormat,
	}
	require.Empty(t, ValidateMode(good))

	noFormat := good
	noFormat.Fields = FieldName
	errs := ValidateMode(noFormat)
	require.Len(t, errs, 1)
	require.Equal(t, ANOMALY_MISSING_RECORD, errs[0].Type)

	overflow := good
	overflow.Format = DataFormat{Datasets: 9, Type: FormatInt32}
	errs = ValidateMode(overflow)
	require.Len(t, errs, 1)
	require.Equal(t, ANOMALY_FORMAT_OVERFLOW, errs[0].Type)

	inverted := good
	inverted.Raw = Range{Min: 10, Max: -10}
	inverted.Format.Type = FormatType(9)
	errs = ValidateMode(inverted)
	require.Len(t, errs, 2)

	errs = ValidateReading(good, []float64{0, 200, math.NaN()})
	require.Len(t, errs, 2)
	require.Equal(t, ANOMALY_OUT_OF_RANGE, errs[0].Type)
	require.Equal(t, ANOMALY_INVALID_VALUE, errs[1].Type)
}

func TestFormatMessage(t *testing.T) {
	require.Equal(t, "SYS ACK (0x04)", FormatMessageLine(NewSys(ByteAck)))
	require.Equal(t, "CMD SELECT 03", FormatMessageLine(NewCmd(CmdSelect, []byte{3})))
	require.Equal(t, "INFO mode=9 FORMAT 01 00 03 00",
		FormatMessageLine(NewInfo(9, InfoFormat, []byte{1, 0, 3, 0})))

	table := FormatModeTable([]ModeDescriptor{{
		ID: 0, Name: "FORCE", Symbol: "N",
		Format: DataFormat{Datasets: 1, Type: FormatInt8, Decimals: 1},
		Fields: FieldName | FieldFormat,
	}})
	require.Contains(t, table, "FORCE")
	require.Contains(t, table, "int8")
}
