// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Config holds the timings of a Device. Zero fields take the defaults; no
// field has a usable zero value.
type Config struct {
	// Name identifies the port in log output.
	Name string

	HandshakeBaud     int
	DataBaud          int
	HandshakeReadWait time.Duration
	DataReadWait      time.Duration

	DebounceSamples  int
	DebounceInterval time.Duration
	ReadyTimeout     time.Duration
	EnumerateTimeout time.Duration

	PollInterval time.Duration
	ReplyDelay   time.Duration
}

// DefaultConfig returns a Config with protocol defaults.
func DefaultConfig() Config {
	return Config{
		Name:              "lpf2",
		HandshakeBaud:     BaudHandshake,
		DataBaud:          BaudData,
		HandshakeReadWait: DefaultHandshakeReadWait,
		DataReadWait:      DefaultDataReadWait,
		DebounceSamples:   DefaultDebounceSamples,
		DebounceInterval:  DefaultDebounceInterval,
		ReadyTimeout:      DefaultReadyTimeout,
		EnumerateTimeout:  DefaultEnumerateTimeout,
		PollInterval:      DefaultPollInterval,
		ReplyDelay:        DefaultReplyDelay,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.HandshakeBaud == 0 {
		c.HandshakeBaud = d.HandshakeBaud
	}
	if c.DataBaud == 0 {
		c.DataBaud = d.DataBaud
	}
	if c.HandshakeReadWait == 0 {
		c.HandshakeReadWait = d.HandshakeReadWait
	}
	if c.DataReadWait == 0 {
		c.DataReadWait = d.DataReadWait
	}
	if c.DebounceSamples == 0 {
		c.DebounceSamples = d.DebounceSamples
	}
	if c.DebounceInterval == 0 {
		c.DebounceInterval = d.DebounceInterval
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.EnumerateTimeout == 0 {
		c.EnumerateTimeout = d.EnumerateTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ReplyDelay == 0 {
		c.ReplyDelay = d.ReplyDelay
	}
	return c
}

// Device runs the LPF2 protocol engine for one port: discovery, mode
// selection, data writes and periodic polling.
type Device struct {
	tr  Transport
	cfg Config

	// ioMu serialises every exchange on the link. Holding it across the
	// ACK reply and baud switch makes that transition atomic with respect to
	// polls, and it keeps SelectMode from interleaving with a poll.
	ioMu sync.Mutex

	stateMu sync.RWMutex
	state   State
	info    DeviceInfo
	modes   ModeTable
	issues  []error

	cell  *valueCell
	stats *Statistics

	stopPoll context.CancelFunc
	pollDone chan struct{}
}

// NewDevice creates a Device on tr. Call Connect to run discovery.
func NewDevice(tr Transport, cfg Config) *Device {
	return &Device{
		tr:    tr,
		cfg:   cfg.withDefaults(),
		state: StateReset,
		cell:  newValueCell(),
		stats: NewStatistics(),
	}
}

// Connect resets the device, runs the handshake, switches to the data baud
// rate and starts polling. It returns *HandshakeTimeoutError when the device
// never becomes ready or never finishes enumerating.
func (d *Device) Connect(ctx context.Context) error {
	d.stateMu.RLock()
	state := d.state
	d.stateMu.RUnlock()
	if state == StateConnected {
		return nil
	}
	d.stopPoller()

	d.ioMu.Lock()
	defer d.ioMu.Unlock()

	d.setState(StateReset)
	if err := d.tr.Configure(d.cfg.HandshakeBaud, d.cfg.HandshakeReadWait); err != nil {
		return fmt.Errorf("%s: configure %d baud: %w", d.cfg.Name, d.cfg.HandshakeBaud, err)
	}
	d.flush()

	if err := d.tr.SetEnable(true); err != nil {
		return fmt.Errorf("%s: enable: %w", d.cfg.Name, err)
	}
	if err := d.tr.SetProbe(true); err != nil {
		return fmt.Errorf("%s: probe: %w", d.cfg.Name, err)
	}
	if err := d.waitReady(ctx); err != nil {
		return err
	}
	glog.Infof("%s: device ready, enumerating", d.cfg.Name)

	d.setState(StateEnumerating)
	log, err := d.enumerate(ctx)
	if err != nil {
		return err
	}

	info, modes, issues := FoldHandshake(log.Messages())

	if _, err := d.tr.Write([]byte{ByteAck}); err != nil {
		return fmt.Errorf("%s: send ACK: %w", d.cfg.Name, err)
	}
	if err := d.tr.Configure(d.cfg.DataBaud, d.cfg.DataReadWait); err != nil {
		return fmt.Errorf("%s: configure %d baud: %w", d.cfg.Name, d.cfg.DataBaud, err)
	}

	d.stateMu.Lock()
	d.info = info
	d.modes = modes
	d.issues = issues
	d.state = StateConnected
	d.stateMu.Unlock()
	d.cell.selectMode(0)
	d.stats.Reset()

	glog.Infof("%s: connected type=%d modes=%d (%d frames, %d issues)",
		d.cfg.Name, info.TypeID, modes.Len(), log.Len(), len(issues))

	d.startPoller()
	return nil
}

// waitReady blocks until the detect line reads low and then stays high for
// DebounceSamples consecutive samples. Caller holds ioMu.
func (d *Device) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(d.cfg.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(d.cfg.DebounceInterval)
	defer ticker.Stop()

	sawLow := false
	high := 0
	for {
		level, err := d.tr.Detect()
		if err != nil {
			return fmt.Errorf("%s: detect: %w", d.cfg.Name, err)
		}
		switch {
		case !level:
			sawLow = true
			high = 0
		case sawLow:
			high++
			if high >= d.cfg.DebounceSamples {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &HandshakeTimeoutError{Stage: "device ready", Timeout: d.cfg.ReadyTimeout}
		case <-ticker.C:
		}
	}
}

// enumerate collects handshake frames until the device sends ACK.
// Caller holds ioMu.
func (d *Device) enumerate(ctx context.Context) (*HandshakeLog, error) {
	deadline := time.NewTimer(d.cfg.EnumerateTimeout)
	defer deadline.Stop()

	log := &HandshakeLog{}
	decoder := NewDecoder()
	for {
		buf, err := d.tr.ReadAvailable()
		if err != nil {
			return nil, fmt.Errorf("%s: read: %w", d.cfg.Name, err)
		}

		for _, b := range buf {
			m, err := decoder.DecodeByte(b)
			if err != nil {
				glog.Warningf("%s: handshake frame dropped: %v", d.cfg.Name, err)
				continue
			}
			if m == nil {
				continue
			}
			if m.IsAck() {
				return log, nil
			}
			if m.Class == ClassSys {
				continue
			}
			log.Append(*m)
		}

		if len(buf) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, &HandshakeTimeoutError{
				Stage:   "enumeration",
				Timeout: d.cfg.EnumerateTimeout,
				Partial: append([]byte(nil), decoder.GetRawBytes()...),
			}
		case <-time.After(time.Millisecond):
		}
	}
}

// flush discards stale input. Caller holds ioMu.
func (d *Device) flush() {
	if _, err := d.tr.ReadAvailable(); err != nil {
		glog.V(2).Infof("%s: flush: %v", d.cfg.Name, err)
	}
}

func (d *Device) setState(s State) {
	d.stateMu.Lock()
	d.state = s
	d.stateMu.Unlock()
}

// State returns the current connection state.
func (d *Device) State() State {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

// Connected reports whether the device is CONNECTED.
func (d *Device) Connected() bool {
	return d.State() == StateConnected
}

// Info returns the CMD records of the last handshake.
func (d *Device) Info() DeviceInfo {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.info
}

// Modes returns the mode descriptors of the last handshake.
func (d *Device) Modes() []ModeDescriptor {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.modes.All()
}

// Mode returns the descriptor for mode id.
func (d *Device) Mode(id int) (ModeDescriptor, bool) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.modes.Get(id)
}

// HandshakeIssues returns the frames the last handshake could not apply.
func (d *Device) HandshakeIssues() []error {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return append([]error(nil), d.issues...)
}

// Statistics returns the poll statistics of this device.
func (d *Device) Statistics() *Statistics {
	return d.stats
}

// SelectedMode returns the mode the poller currently accepts data for.
func (d *Device) SelectedMode() int {
	return d.cell.selectedMode()
}

// Latest returns a copy of the latest value vector.
func (d *Device) Latest() Reading {
	r, _ := d.cell.load()
	return r
}

// WaitReading blocks until a non-empty value vector for mode is available.
func (d *Device) WaitReading(ctx context.Context, mode int) (Reading, error) {
	return d.cell.wait(ctx, func(r Reading) bool {
		return r.Mode == mode && r.Valid()
	})
}

// WaitNext blocks until a non-empty value vector newer than seq is available.
func (d *Device) WaitNext(ctx context.Context, seq uint64) (Reading, error) {
	return d.cell.wait(ctx, func(r Reading) bool {
		return r.Seq > seq && r.Valid()
	})
}

// SelectMode switches the device to mode, applies the mode's drive-line
// side effects and discards the value vector of the previous mode.
func (d *Device) SelectMode(mode int) error {
	desc, err := d.connectedMode(mode)
	if err != nil {
		return err
	}

	d.ioMu.Lock()
	_, err = d.tr.Write(SelectFrame(mode))
	if err == nil {
		d.cell.selectMode(mode)
	}
	d.ioMu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: select mode %d: %w", d.cfg.Name, mode, err)
	}

	glog.V(1).Infof("%s: selected mode %d (%s)", d.cfg.Name, mode, desc.Name)
	return d.applyDriveFlags(desc.Flags)
}

// applyDriveFlags powers the drive lines the way the mode flags require.
func (d *Device) applyDriveFlags(f Flags) error {
	var duties [][2]int
	if f.DriveM2() {
		duties = append(duties, [2]int{0, 100})
	}
	if f.DriveM1() {
		duties = append(duties, [2]int{100, 0})
	}
	if f.DualDrive() {
		duties = append(duties, [2]int{0, 0})
	}
	for _, duty := range duties {
		if err := d.SetDuties(duty[0], duty[1]); err != nil {
			if errors.Is(err, ErrNoDrive) {
				glog.V(2).Infof("%s: mode drive flags ignored: %v", d.cfg.Name, err)
				return nil
			}
			return err
		}
	}
	return nil
}

// SetDuty sets one drive output, clamped to 0-100 percent.
func (d *Device) SetDuty(ch Channel, percent int) error {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	return d.tr.SetDuty(ch, percent)
}

// SetDuties sets both drive outputs.
func (d *Device) SetDuties(m1, m2 int) error {
	if err := d.SetDuty(ChannelM1, m1); err != nil {
		return err
	}
	return d.SetDuty(ChannelM2, m2)
}

// WriteData sends payload to mode as an EXT_MODE preamble followed by a
// DATA frame. The payload is zero-padded to a valid frame size.
func (d *Device) WriteData(mode int, payload []byte) error {
	if _, err := d.connectedMode(mode); err != nil {
		return err
	}
	if len(payload) == 0 || len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(payload))
	}
	frame, err := Encode(NewData(mode, PadPayload(payload)))
	if err != nil {
		return err
	}
	wire := append(ExtModeFrame(mode), frame...)

	d.ioMu.Lock()
	defer d.ioMu.Unlock()
	if _, err := d.tr.Write(wire); err != nil {
		return fmt.Errorf("%s: write mode %d: %w", d.cfg.Name, mode, err)
	}
	return nil
}

func (d *Device) connectedMode(mode int) (ModeDescriptor, error) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	if d.state == StateClosed {
		return ModeDescriptor{}, ErrClosed
	}
	if d.state != StateConnected {
		return ModeDescriptor{}, ErrNotConnected
	}
	desc, ok := d.modes.Get(mode)
	if !ok {
		return ModeDescriptor{}, fmt.Errorf("%w: %d", ErrUnknownMode, mode)
	}
	return desc, nil
}

// Close stops polling, releases the enable line and marks the device CLOSED.
// The transport itself stays open and owned by the caller.
func (d *Device) Close() error {
	d.stopPoller()

	d.ioMu.Lock()
	defer d.ioMu.Unlock()
	d.setState(StateClosed)
	if err := d.tr.SetEnable(false); err != nil {
		return fmt.Errorf("%s: disable: %w", d.cfg.Name, err)
	}
	glog.Infof("%s: disconnected", d.cfg.Name)
	return nil
}
