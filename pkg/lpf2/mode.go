// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import "fmt"

// FormatType is the per-dataset encoding declared by INFO FORMAT.
type FormatType uint8

// Data formats
const (
	FormatInt8    FormatType = 0x00
	FormatInt16   FormatType = 0x01 // little-endian
	FormatInt32   FormatType = 0x02 // little-endian
	FormatFloat32 FormatType = 0x03 // little-endian IEEE 754
)

// Width returns the encoded width in bytes, or 0 for an unknown format.
func (f FormatType) Width() int {
	switch f {
	case FormatInt8:
		return 1
	case FormatInt16:
		return 2
	case FormatInt32, FormatFloat32:
		return 4
	}
	return 0
}

// String returns the format name
func (f FormatType) String() string {
	switch f {
	case FormatInt8:
		return "int8"
	case FormatInt16:
		return "int16"
	case FormatInt32:
		return "int32"
	case FormatFloat32:
		return "float32"
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// DataFormat is the INFO FORMAT record of a mode.
type DataFormat struct {
	Datasets uint8
	Type     FormatType
	Figures  uint8
	Decimals uint8
}

// Range is a min/max pair from INFO RAW, PCT or SI.
type Range struct {
	Min float32
	Max float32
}

// Mapping holds the INFO MAPPING input/output type flags.
type Mapping struct {
	Input  uint8
	Output uint8
}

// Flags are the six capability bytes that follow a mode name.
type Flags [6]byte

// DriveM2 reports that selecting the mode powers the second drive line.
func (f Flags) DriveM2() bool { return f[0]&0x80 != 0 }

// DriveM1 reports that selecting the mode powers the first drive line.
func (f Flags) DriveM1() bool { return f[0]&0x40 != 0 }

// Motor reports a motor mode.
func (f Flags) Motor() bool { return f[0]&0x20 != 0 }

// Power reports a power mode.
func (f Flags) Power() bool { return f[0]&0x10 != 0 }

// Position reports a relative position mode.
func (f Flags) Position() bool { return f[0]&0x04 != 0 }

// AbsolutePosition reports an absolute position mode.
func (f Flags) AbsolutePosition() bool { return f[0]&0x02 != 0 }

// Speed reports a speed mode.
func (f Flags) Speed() bool { return f[0]&0x01 != 0 }

// Calibration reports a calibration mode.
func (f Flags) Calibration() bool { return f[1]&0x40 != 0 }

// DualDrive reports that selecting the mode releases both drive lines.
func (f Flags) DualDrive() bool { return f[4]&0x01 != 0 }

// Field bits recording which INFO records have been received for a mode.
const (
	FieldName = 1 << iota
	FieldRaw
	FieldPct
	FieldSI
	FieldSymbol
	FieldMapping
	FieldFormat
)

// ModeDescriptor describes one device mode.
type ModeDescriptor struct {
	ID      int
	Name    string
	Flags   Flags
	Raw     Range
	Percent Range
	SI      Range
	Symbol  string
	Mapping Mapping
	Format  DataFormat
	Fields  int // Field* bits received so far
}

// Has reports whether the INFO record(s) in field have been received.
func (d ModeDescriptor) Has(field int) bool {
	return d.Fields&field == field
}

// ModeTable is the fixed-size set of mode slots built during the handshake.
// Slots are indexed by mode id and merged field by field.
type ModeTable struct {
	slots [MaxModes]ModeDescriptor
	count int
}

// Reset allocates count empty slots.
func (t *ModeTable) Reset(count int) {
	if count > MaxModes {
		count = MaxModes
	}
	if count < 0 {
		count = 0
	}
	t.count = count
	for i := range t.slots {
		t.slots[i] = ModeDescriptor{ID: i}
	}
}

// Len returns the number of declared modes.
func (t *ModeTable) Len() int {
	return t.count
}

// slot returns a pointer to a declared slot for in-place merging.
func (t *ModeTable) slot(id int) (*ModeDescriptor, error) {
	if id < 0 || id >= t.count {
		return nil, fmt.Errorf("%w: %d (device declared %d)", ErrUnknownMode, id, t.count)
	}
	return &t.slots[id], nil
}

// Get returns a copy of the descriptor for mode id.
func (t *ModeTable) Get(id int) (ModeDescriptor, bool) {
	if id < 0 || id >= t.count {
		return ModeDescriptor{}, false
	}
	return t.slots[id], true
}

// All returns copies of every declared descriptor in id order.
func (t *ModeTable) All() []ModeDescriptor {
	out := make([]ModeDescriptor, t.count)
	copy(out, t.slots[:t.count])
	return out
}

// Populated returns the number of slots that received at least one INFO record.
func (t *ModeTable) Populated() int {
	n := 0
	for _, d := range t.slots[:t.count] {
		if d.Fields != 0 {
			n++
		}
	}
	return n
}
