// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/golang/glog"
)

// State is the connection state of a Device.
type State int

// Connection states
const (
	StateReset State = iota
	StateEnumerating
	StateConnected
	StateClosed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateReset:
		return "RESET"
	case StateEnumerating:
		return "ENUMERATING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Version is a BCD encoded major.minor.bugfix.build version.
type Version uint32

// String renders the version as 1.0.00.0000
func (v Version) String() string {
	return fmt.Sprintf("%x.%x.%02x.%04x", uint32(v)>>28, uint32(v)>>24&0xF, uint32(v)>>16&0xFF, uint32(v)&0xFFFF)
}

// DeviceInfo holds the CMD records of a handshake.
type DeviceInfo struct {
	TypeID          uint8
	ModeCount       int
	ViewCount       int
	MaxSpeed        uint32
	ModeSet         uint8
	FirmwareVersion Version
	HardwareVersion Version
}

// HandshakeLog is the append-only record of frames received while enumerating.
type HandshakeLog struct {
	messages []Message
}

// Append records one decoded frame.
func (l *HandshakeLog) Append(m Message) {
	l.messages = append(l.messages, m)
}

// Len returns the number of recorded frames.
func (l *HandshakeLog) Len() int {
	return len(l.messages)
}

// Messages returns the recorded frames in arrival order.
func (l *HandshakeLog) Messages() []Message {
	return l.messages
}

// FoldHandshake folds the recorded frames, in order, into device info and a
// mode table. Frames that cannot be applied are reported in issues and
// otherwise ignored.
func FoldHandshake(log []Message) (info DeviceInfo, modes ModeTable, issues []error) {
	modes.Reset(0)
	for _, m := range log {
		glog.V(2).Infof("handshake: %s", FormatMessageLine(m))

		var err error
		switch m.Class {
		case ClassCmd:
			err = applyCmd(&info, &modes, m)
		case ClassInfo:
			err = applyInfo(&modes, m)
		default:
			err = fmt.Errorf("unexpected %s frame during handshake", FormatClass(m.Class))
		}
		if err != nil {
			glog.Warningf("handshake: %v", err)
			issues = append(issues, err)
		}
	}
	return info, modes, issues
}

func applyCmd(info *DeviceInfo, modes *ModeTable, m Message) error {
	p := m.Payload
	switch m.SubID {
	case CmdType:
		info.TypeID = p[0]

	case CmdModes:
		count := int(p[0])
		views := count
		if len(p) >= 2 && p[1] != 0 {
			views = int(p[1])
		}
		if len(p) >= 4 && p[2] != 0 {
			count = int(p[2])
			views = count
			if p[3] != 0 {
				views = int(p[3])
			}
		}
		info.ModeCount = count + 1
		info.ViewCount = views + 1
		modes.Reset(info.ModeCount)

	case CmdSpeed:
		if len(p) < 4 {
			return fmt.Errorf("SPEED payload too short (%d bytes)", len(p))
		}
		info.MaxSpeed = binary.LittleEndian.Uint32(p)

	case CmdExtMode:
		info.ModeSet = p[0]

	case CmdVersion:
		if len(p) < 8 {
			return fmt.Errorf("VERSION payload too short (%d bytes)", len(p))
		}
		info.FirmwareVersion = Version(binary.LittleEndian.Uint32(p[0:4]))
		info.HardwareVersion = Version(binary.LittleEndian.Uint32(p[4:8]))

	default:
		return fmt.Errorf("unhandled CMD sub-id %d", m.SubID)
	}
	return nil
}

func applyInfo(modes *ModeTable, m Message) error {
	d, err := modes.slot(m.Mode())
	if err != nil {
		return fmt.Errorf("INFO 0x%02X: %w", m.Kind, err)
	}
	p := m.Payload

	switch m.InfoKind() {
	case InfoName:
		if i := bytes.IndexByte(p, 0); i >= 0 && i < 6 {
			d.Name = string(p[:i])
			if len(p) >= 12 {
				copy(d.Flags[:], p[6:12])
			}
		} else {
			d.Name = string(bytes.TrimRight(p, "\x00"))
		}
		d.Fields |= FieldName

	case InfoRaw, InfoPct, InfoSI:
		if len(p) < 8 {
			return fmt.Errorf("mode %d range payload too short (%d bytes)", d.ID, len(p))
		}
		r := Range{
			Min: math.Float32frombits(binary.LittleEndian.Uint32(p[0:4])),
			Max: math.Float32frombits(binary.LittleEndian.Uint32(p[4:8])),
		}
		switch m.InfoKind() {
		case InfoRaw:
			d.Raw = r
			d.Fields |= FieldRaw
		case InfoPct:
			d.Percent = r
			d.Fields |= FieldPct
		default:
			d.SI = r
			d.Fields |= FieldSI
		}

	case InfoSymbol:
		d.Symbol = string(bytes.TrimRight(p, "\x00"))
		d.Fields |= FieldSymbol

	case InfoMapping:
		if len(p) < 2 {
			return fmt.Errorf("mode %d mapping payload too short", d.ID)
		}
		d.Mapping = Mapping{Input: p[0], Output: p[1]}
		d.Fields |= FieldMapping

	case InfoFormat:
		if len(p) < 4 {
			return fmt.Errorf("mode %d format payload too short", d.ID)
		}
		d.Format = DataFormat{Datasets: p[0], Type: FormatType(p[1]), Figures: p[2], Decimals: p[3]}
		d.Fields |= FieldFormat

	case InfoModeCombo:
		glog.V(2).Infof("handshake: ignoring mode combinations for mode %d", d.ID)

	default:
		return fmt.Errorf("mode %d: unrecognised INFO kind 0x%02X", d.ID, m.Kind)
	}
	return nil
}
