// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// FormatClass returns the human-readable name for a message class
func FormatClass(c Class) string {
	switch c {
	case ClassSys:
		return "SYS"
	case ClassCmd:
		return "CMD"
	case ClassInfo:
		return "INFO"
	case ClassData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// FormatCmd returns the human-readable name for a CMD sub-id
func FormatCmd(sub uint8) string {
	switch sub {
	case CmdType:
		return "TYPE"
	case CmdModes:
		return "MODES"
	case CmdSpeed:
		return "SPEED"
	case CmdSelect:
		return "SELECT"
	case CmdWrite:
		return "WRITE"
	case CmdExtMode:
		return "EXT_MODE"
	case CmdVersion:
		return "VERSION"
	default:
		return "UNKNOWN"
	}
}

// FormatSys returns the human-readable name for a SYS byte
func FormatSys(sub uint8) string {
	switch sub {
	case ByteSync:
		return "SYNC"
	case ByteNack:
		return "NACK"
	case ByteAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

// FormatInfoKind returns the human-readable name for an INFO kind
func FormatInfoKind(kind uint8) string {
	switch kind &^ InfoModePlus8 {
	case InfoName:
		return "NAME"
	case InfoRaw:
		return "RAW"
	case InfoPct:
		return "PCT"
	case InfoSI:
		return "SI"
	case InfoSymbol:
		return "SYMBOL"
	case InfoMapping:
		return "MAPPING"
	case InfoModeCombo:
		return "MODE_COMBOS"
	case InfoFormat:
		return "FORMAT"
	default:
		return "UNKNOWN"
	}
}

// FormatMessageLine formats a message on a single line
func FormatMessageLine(m Message) string {
	switch m.Class {
	case ClassSys:
		return fmt.Sprintf("SYS %s (0x%02X)", FormatSys(m.SubID), m.SubID)
	case ClassCmd:
		return fmt.Sprintf("CMD %s % X", FormatCmd(m.SubID), m.Payload)
	case ClassInfo:
		return fmt.Sprintf("INFO mode=%d %s % X", m.Mode(), FormatInfoKind(m.Kind), m.Payload)
	case ClassData:
		return fmt.Sprintf("DATA mode=%d % X", m.Mode(), m.Payload)
	default:
		return fmt.Sprintf("%s % X", FormatClass(m.Class), m.Payload)
	}
}

// FormatMessage formats a message with a timestamp and decoded payload
func FormatMessage(m Message, at time.Time) string {
	result := fmt.Sprintf("[%s] %s\n", at.Format("15:04:05.000"), FormatMessageLine(m))
	if detail := formatPayload(m); detail != "" {
		result += detail
	}
	return result
}

// formatPayload decodes the payload of handshake messages
func formatPayload(m Message) string {
	p := m.Payload
	switch m.Class {
	case ClassCmd:
		switch m.SubID {
		case CmdType:
			if len(p) >= 1 {
				return fmt.Sprintf("  type_id=%d\n", p[0])
			}
		case CmdModes:
			if len(p) >= 2 {
				return fmt.Sprintf("  modes=%d views=%d\n", int(p[0])+1, int(p[1])+1)
			}
		case CmdSpeed:
			if len(p) >= 4 {
				return fmt.Sprintf("  baud=%d\n", le32(p))
			}
		case CmdVersion:
			if len(p) >= 8 {
				return fmt.Sprintf("  firmware=%s hardware=%s\n", Version(le32(p)), Version(le32(p[4:])))
			}
		}
	case ClassInfo:
		switch m.InfoKind() {
		case InfoName:
			return fmt.Sprintf("  name=%q\n", cString(p))
		case InfoRaw, InfoPct, InfoSI:
			if len(p) >= 8 {
				return fmt.Sprintf("  min=%g max=%g\n", f32(p), f32(p[4:]))
			}
		case InfoSymbol:
			return fmt.Sprintf("  symbol=%q\n", cString(p))
		case InfoFormat:
			if len(p) >= 4 {
				return fmt.Sprintf("  datasets=%d type=%s figures=%d decimals=%d\n",
					p[0], FormatType(p[1]), p[2], p[3])
			}
		}
	}
	return ""
}

// FormatModeTable renders the discovered modes as an aligned table
func FormatModeTable(modes []ModeDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-12s %-7s %-3s %-4s %-20s %-8s\n",
		"ID", "NAME", "FORMAT", "N", "DEC", "RAW", "SYMBOL")
	for _, d := range modes {
		format := "-"
		if d.Has(FieldFormat) {
			format = d.Format.Type.String()
		}
		raw := "-"
		if d.Has(FieldRaw) {
			raw = fmt.Sprintf("%g..%g", d.Raw.Min, d.Raw.Max)
		}
		fmt.Fprintf(&b, "%-4d %-12s %-7s %-3d %-4d %-20s %-8s\n",
			d.ID, d.Name, format, d.Format.Datasets, d.Format.Decimals, raw, d.Symbol)
	}
	return b.String()
}

// FormatValues renders a value vector with the mode symbol
func FormatValues(values []float64, symbol string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%g", v)
	}
	s := strings.Join(parts, ", ")
	if symbol != "" {
		s += " " + symbol
	}
	return s
}

func le32(p []byte) uint32 {
	return binary.LittleEndian.Uint32(p)
}

func f32(p []byte) float32 {
	return math.Float32frombits(le32(p))
}

// cString returns p up to the first NUL.
func cString(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p)
}
