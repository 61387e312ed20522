// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
)

// SimMode describes one mode of a simulated device.
type SimMode struct {
	Name   string
	Flags  lpf2.Flags
	Raw    lpf2.Range
	Symbol string
	Format lpf2.DataFormat
}

// SimDevice describes the identity a Sim announces during the handshake.
type SimDevice struct {
	TypeID   uint8
	Firmware lpf2.Version
	Hardware lpf2.Version
	Modes    []SimMode
}

// Handshake returns the frames the device streams at low speed, without the
// trailing ACK.
func (d SimDevice) Handshake() []lpf2.Message {
	n := len(d.Modes)
	msgs := []lpf2.Message{
		lpf2.NewCmd(lpf2.CmdType, []byte{d.TypeID}),
		lpf2.NewCmd(lpf2.CmdModes, []byte{byte(n - 1), byte(n - 1)}),
		lpf2.NewCmd(lpf2.CmdSpeed, le32(lpf2.BaudData)),
		lpf2.NewCmd(lpf2.CmdVersion, append(le32(uint32(d.Firmware)), le32(uint32(d.Hardware))...)),
	}
	for i := n - 1; i >= 0; i-- {
		m := d.Modes[i]
		name := make([]byte, 12)
		copy(name[:5], m.Name)
		copy(name[6:], m.Flags[:])
		msgs = append(msgs, lpf2.NewInfo(i, lpf2.InfoName, lpf2.PadPayload(name)))

		rng := append(f32le(m.Raw.Min), f32le(m.Raw.Max)...)
		msgs = append(msgs,
			lpf2.NewInfo(i, lpf2.InfoRaw, rng),
			lpf2.NewInfo(i, lpf2.InfoPct, append(f32le(0), f32le(100)...)),
			lpf2.NewInfo(i, lpf2.InfoSI, rng),
		)
		if m.Symbol != "" {
			msgs = append(msgs, lpf2.NewInfo(i, lpf2.InfoSymbol, lpf2.PadPayload([]byte(m.Symbol))))
		}
		f := m.Format
		msgs = append(msgs, lpf2.NewInfo(i, lpf2.InfoFormat,
			[]byte{f.Datasets, byte(f.Type), f.Figures, f.Decimals}))
	}
	return msgs
}

// MotorDevice returns a SimDevice shaped like a medium angular motor.
func MotorDevice() SimDevice {
	motorFlags := lpf2.Flags{0x20}
	return SimDevice{
		TypeID:   48,
		Firmware: 0x10000000,
		Hardware: 0x10000000,
		Modes: []SimMode{
			{Name: "POWER", Flags: lpf2.Flags{0x30}, Raw: lpf2.Range{Min: -100, Max: 100}, Symbol: "PCT",
				Format: lpf2.DataFormat{Datasets: 1, Type: lpf2.FormatInt8, Figures: 4}},
			{Name: "SPEED", Flags: lpf2.Flags{0x21}, Raw: lpf2.Range{Min: -100, Max: 100}, Symbol: "PCT",
				Format: lpf2.DataFormat{Datasets: 1, Type: lpf2.FormatInt8, Figures: 4}},
			{Name: "POS", Flags: lpf2.Flags{0x24}, Raw: lpf2.Range{Min: -360, Max: 360}, Symbol: "DEG",
				Format: lpf2.DataFormat{Datasets: 1, Type: lpf2.FormatInt32, Figures: 11}},
			{Name: "APOS", Flags: lpf2.Flags{0x22}, Raw: lpf2.Range{Min: -180, Max: 179}, Symbol: "DEG",
				Format: lpf2.DataFormat{Datasets: 1, Type: lpf2.FormatInt16, Figures: 3}},
			{Name: "CALIB", Flags: motorFlags, Raw: lpf2.Range{Min: 0, Max: 512},
				Format: lpf2.DataFormat{Datasets: 2, Type: lpf2.FormatInt16, Figures: 3}},
		},
	}
}

// ForceDevice returns a SimDevice shaped like a force sensor.
func ForceDevice() SimDevice {
	return SimDevice{
		TypeID:   63,
		Firmware: 0x10000000,
		Hardware: 0x10000000,
		Modes: []SimMode{
			{Name: "FORCE", Raw: lpf2.Range{Min: 0, Max: 100}, Symbol: "N",
				Format: lpf2.DataFormat{Datasets: 1, Type: lpf2.FormatInt8, Figures: 4, Decimals: 1}},
			{Name: "TOUCH", Raw: lpf2.Range{Min: 0, Max: 1}, Symbol: "IDX",
				Format: lpf2.DataFormat{Datasets: 1, Type: lpf2.FormatInt8, Figures: 1}},
			{Name: "TAP", Raw: lpf2.Range{Min: 0, Max: 3}, Symbol: "IDX",
				Format: lpf2.DataFormat{Datasets: 1, Type: lpf2.FormatInt8, Figures: 1}},
		},
	}
}

// SimWrite is a data write received by a Sim.
type SimWrite struct {
	Mode    int
	Payload []byte
}

// Sim is an in-memory lpf2.Transport backed by a simulated device. It
// streams a handshake after the enable line is asserted, answers NACK polls
// with DATA frames for the selected mode, and integrates drive duty into a
// motor angle reported by the position modes.
type Sim struct {
	mu sync.Mutex

	// Script overrides the handshake derived from Device.
	Script []lpf2.Message
	Device SimDevice
	// ChunkSize limits the bytes returned per ReadAvailable at low speed.
	ChunkSize int
	// LowSamples is how many Detect calls read low after enable.
	LowSamples int
	// NoDevice keeps the detect line low forever.
	NoDevice bool
	// NoAck ends the handshake stream without the final ACK.
	NoAck bool
	// Noise holds raw bytes streamed before handshake frame i. Key
	// len(script) places bytes after the last frame.
	Noise map[int][]byte
	// Gain is degrees of motor travel per poll per percent of net duty.
	Gain float64

	enabled  bool
	probe    bool
	detects  int
	baud     int
	stream   []byte
	acked    bool
	data     bool
	rx       []byte
	selected int
	payloads map[int][]byte
	corrupt  int
	stale    int
	staleFor int
	staleN   int
	angle    float64
	duty     [2]int
	writes   []SimWrite
	selects  []int
	polls    int
	closed   bool
}

// NewSim creates a Sim for device.
func NewSim(device SimDevice) *Sim {
	return &Sim{
		Device:     device,
		ChunkSize:  7,
		LowSamples: 2,
		Gain:       0.25,
		payloads:   make(map[int][]byte),
	}
}

// Configure implements lpf2.Link.
func (s *Sim) Configure(baud int, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lpf2.ErrClosed
	}
	s.baud = baud
	s.data = s.acked && baud == lpf2.BaudData
	return nil
}

// Write implements lpf2.Link.
func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, lpf2.ErrClosed
	}

	buf := p
	for len(buf) > 0 {
		if buf[0] == lpf2.ByteAck && !s.data {
			s.acked = true
			buf = buf[1:]
			continue
		}
		if buf[0] == lpf2.ByteNack && s.data {
			s.reply()
			buf = buf[1:]
			continue
		}

		offset, rest, ok := lpf2.StripExtMode(buf)
		if ok {
			buf = rest
		}
		m, n, err := lpf2.Decode(buf)
		if err != nil || n == 0 {
			break
		}
		buf = buf[n:]
		switch {
		case m.Class == lpf2.ClassCmd && m.SubID == lpf2.CmdSelect:
			s.stale = s.selected
			s.staleFor = s.staleN
			s.selected = int(m.Payload[0])
			s.selects = append(s.selects, s.selected)
		case m.Class == lpf2.ClassData:
			s.writes = append(s.writes, SimWrite{Mode: int(m.SubID) + int(offset), Payload: m.Payload})
		}
	}
	return len(p), nil
}

// SetStaleReplies makes the n polls after each mode switch still answer with
// the previous mode, like a device that has not switched yet.
func (s *Sim) SetStaleReplies(n int) {
	s.mu.Lock()
	s.staleN = n
	s.mu.Unlock()
}

// reply queues the answer to one NACK. Caller holds mu.
func (s *Sim) reply() {
	s.polls++
	s.angle += float64(s.duty[1]-s.duty[0]) * s.Gain

	mode := s.selected
	if s.staleFor > 0 {
		s.staleFor--
		mode = s.stale
	}

	payload := s.payload(mode)
	if payload == nil {
		return
	}
	frame := lpf2.MustEncode(lpf2.NewData(mode&0x07, lpf2.PadPayload(payload)))
	if s.corrupt > 0 {
		s.corrupt--
		frame[len(frame)-1] ^= 0x01
	}
	if mode >= 8 {
		s.rx = append(s.rx, lpf2.ExtModeFrame(mode)...)
	}
	s.rx = append(s.rx, frame...)
}

// payload returns the raw DATA payload for mode. Caller holds mu.
func (s *Sim) payload(mode int) []byte {
	if p, ok := s.payloads[mode]; ok {
		return p
	}
	if mode >= len(s.Device.Modes) {
		return nil
	}
	flags := s.Device.Modes[mode].Flags
	switch {
	case flags.Position():
		return le32(uint32(int32(math.Round(s.angle))))
	case flags.AbsolutePosition():
		deg := math.Mod(math.Round(s.angle), 360)
		if deg > 179 {
			deg -= 360
		} else if deg < -180 {
			deg += 360
		}
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(int16(deg)))
		return out
	}
	f := s.Device.Modes[mode].Format
	return make([]byte, int(f.Datasets)*f.Type.Width())
}

// ReadAvailable implements lpf2.Link.
func (s *Sim) ReadAvailable() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, lpf2.ErrClosed
	}

	if !s.data {
		if len(s.stream) == 0 {
			return nil, nil
		}
		n := s.ChunkSize
		if n <= 0 || n > len(s.stream) {
			n = len(s.stream)
		}
		out := append([]byte(nil), s.stream[:n]...)
		s.stream = s.stream[n:]
		return out, nil
	}

	out := s.rx
	s.rx = nil
	return out, nil
}

// SetEnable implements lpf2.Lines. Asserting it powers the device, which
// then streams its handshake.
func (s *Sim) SetEnable(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on && !s.enabled {
		s.detects = 0
		s.acked = false
		s.data = false
		s.rx = nil
		s.stream = s.handshakeBytes()
	}
	if !on {
		s.stream = nil
		s.data = false
	}
	s.enabled = on
	return nil
}

func (s *Sim) handshakeBytes() []byte {
	script := s.Script
	if script == nil {
		script = s.Device.Handshake()
	}
	var out []byte
	for i, m := range script {
		out = append(out, s.Noise[i]...)
		out = append(out, lpf2.MustEncode(m)...)
	}
	out = append(out, s.Noise[len(script)]...)
	if s.NoAck {
		return out
	}
	return append(out, lpf2.ByteAck)
}

// SetProbe implements lpf2.Lines.
func (s *Sim) SetProbe(on bool) error {
	s.mu.Lock()
	s.probe = on
	s.mu.Unlock()
	return nil
}

// Detect implements lpf2.Lines.
func (s *Sim) Detect() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NoDevice || !s.enabled {
		return false, nil
	}
	s.detects++
	return s.detects > s.LowSamples, nil
}

// SetDuty implements lpf2.Drive.
func (s *Sim) SetDuty(ch lpf2.Channel, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duty[ch] = percent
	return nil
}

// Close implements lpf2.Transport.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetPayload fixes the raw DATA payload answered for mode.
func (s *Sim) SetPayload(mode int, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[mode] = append([]byte(nil), payload...)
}

// SetAngle places the simulated motor shaft.
func (s *Sim) SetAngle(deg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.angle = deg
}

// Angle returns the simulated motor shaft angle.
func (s *Sim) Angle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}

// CorruptNext flips a checksum bit in the next n replies.
func (s *Sim) CorruptNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = n
}

// Duty returns the last duty set on ch.
func (s *Sim) Duty(ch lpf2.Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duty[ch]
}

// Enabled reports the enable line.
func (s *Sim) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Baud returns the configured baud rate.
func (s *Sim) Baud() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baud
}

// Writes returns the data writes received so far.
func (s *Sim) Writes() []SimWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SimWrite(nil), s.writes...)
}

// Selects returns the modes selected so far.
func (s *Sim) Selects() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.selects...)
}

// Polls returns the number of NACK polls answered.
func (s *Sim) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func le32(v uint32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, v)
	return out
}

func f32le(f float32) []byte {
	return le32(math.Float32bits(f))
}
