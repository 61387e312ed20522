// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package motor drives LPF2 motors with an absolute position sensor to a
// target angle using a two-phase closed loop.
package motor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
	"github.com/golang/glog"
)

// ErrMoveTimeout is returned when a move does not settle within MoveTimeout.
var ErrMoveTimeout = errors.New("motor: move timed out")

// Device is the part of an lpf2.Device the controller needs.
type Device interface {
	SelectedMode() int
	SelectMode(mode int) error
	WaitReading(ctx context.Context, mode int) (lpf2.Reading, error)
	WaitNext(ctx context.Context, seq uint64) (lpf2.Reading, error)
	SetDuties(m1, m2 int) error
}

// Default mode ids of LPF2 motors with position feedback
const (
	ModeSpeed            = 1
	ModeRelativePosition = 2
	ModeAbsolutePosition = 3
)

// Duty levels
const (
	DutyBrake = 100
	DutyCoast = 0
)

// Config holds the controller tuning. Zero fields take the defaults, except
// the pointer fields, where nil does and zero is kept.
type Config struct {
	AbsoluteMode *int
	RelativeMode *int

	CoarseThreshold float64 // degrees
	FineThreshold   float64 // degrees
	CoarseDuty      int     // percent
	DutyCap         int     // percent
	Kp              float64
	Ki              *float64

	Settle         time.Duration
	ReadingTimeout time.Duration
	MoveTimeout    time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	absolute, relative, ki := ModeAbsolutePosition, ModeRelativePosition, 0.8
	return Config{
		AbsoluteMode:    &absolute,
		RelativeMode:    &relative,
		CoarseThreshold: 20,
		FineThreshold:   5,
		CoarseDuty:      50,
		DutyCap:         25,
		Kp:              0.4,
		Ki:              &ki,
		Settle:          100 * time.Millisecond,
		ReadingTimeout:  lpf2.DefaultReadingTimeout,
		MoveTimeout:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AbsoluteMode == nil {
		c.AbsoluteMode = d.AbsoluteMode
	}
	if c.RelativeMode == nil {
		c.RelativeMode = d.RelativeMode
	}
	if c.CoarseThreshold == 0 {
		c.CoarseThreshold = d.CoarseThreshold
	}
	if c.FineThreshold == 0 {
		c.FineThreshold = d.FineThreshold
	}
	if c.CoarseDuty == 0 {
		c.CoarseDuty = d.CoarseDuty
	}
	if c.DutyCap == 0 {
		c.DutyCap = d.DutyCap
	}
	if c.Kp == 0 {
		c.Kp = d.Kp
	}
	if c.Ki == nil {
		c.Ki = d.Ki
	}
	if c.Settle == 0 {
		c.Settle = d.Settle
	}
	if c.ReadingTimeout == 0 {
		c.ReadingTimeout = d.ReadingTimeout
	}
	if c.MoveTimeout == 0 {
		c.MoveTimeout = d.MoveTimeout
	}
	return c
}

// Phase of a move
type Phase int

// Move phases
const (
	PhaseIdle Phase = iota
	PhaseCoarse
	PhaseFine
	PhaseDone
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseCoarse:
		return "COARSE"
	case PhaseFine:
		return "FINE"
	case PhaseDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// State is a snapshot of the controller.
type State struct {
	Target   float64
	Current  float64
	Error    float64
	Integral float64
	Phase    Phase
}

// Controller moves one motor.
type Controller struct {
	dev Device
	cfg Config

	mu    sync.Mutex
	state State
}

// NewController creates a controller for dev.
func NewController(dev Device, cfg Config) *Controller {
	return &Controller{dev: dev, cfg: cfg.withDefaults()}
}

// State returns a snapshot of the last move.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) update(fn func(s *State)) {
	c.mu.Lock()
	fn(&c.state)
	c.mu.Unlock()
}

// Wrap folds an angle difference into (-180, 180] with one ±360 correction.
func Wrap(e float64) float64 {
	if e > 180 {
		e -= 360
	} else if e <= -180 {
		e += 360
	}
	return e
}

// Error returns the wrapped control error current − target.
func Error(current, target float64) float64 {
	return Wrap(current - target)
}

// Distance returns the signed shortest rotation from current to target.
func Distance(current, target float64) float64 {
	return Wrap(target - current)
}

// Duties returns the drive outputs that push against err at duty percent.
// A positive error is reduced by driving ch1 harder than ch2.
func Duties(err float64, duty int) (m1, m2 int) {
	if err > 0 {
		return 100, 100 - duty
	}
	return 100 - duty, 100
}

// MoveTo drives the motor to target degrees and brakes. The whole move,
// including the wait for the first position sample, is bounded by
// MoveTimeout; on expiry the motor is braked and ErrMoveTimeout returned.
func (c *Controller) MoveTo(ctx context.Context, target float64) error {
	target = math.Mod(target, 360)
	if target < 0 {
		target += 360
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.MoveTimeout)
	defer cancel()

	c.update(func(s *State) { *s = State{Target: target, Phase: PhaseIdle} })

	err := c.move(ctx, target)
	if err != nil {
		if berr := c.Brake(); berr != nil {
			glog.Warningf("motor: brake after failed move: %v", berr)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: target %.1f after %v", ErrMoveTimeout, target, c.cfg.MoveTimeout)
		}
		return err
	}
	return nil
}

func (c *Controller) move(ctx context.Context, target float64) error {
	r, err := c.positionReading(ctx, *c.cfg.AbsoluteMode)
	if err != nil {
		return err
	}
	pos := r.Values[0]
	e := Error(pos, target)
	glog.V(1).Infof("motor: move %.1f -> %.1f (error %.1f)", pos, target, e)

	// Coarse
	if math.Abs(e) > c.cfg.CoarseThreshold {
		c.update(func(s *State) { s.Phase = PhaseCoarse })
		for math.Abs(e) > c.cfg.CoarseThreshold {
			if err := c.dev.SetDuties(Duties(e, c.cfg.CoarseDuty)); err != nil {
				return err
			}
			if r, err = c.dev.WaitNext(ctx, r.Seq); err != nil {
				return err
			}
			pos = r.Values[0]
			e = Error(pos, target)
			c.record(pos, e, 0)
		}
		if err := c.brakeAndSettle(ctx); err != nil {
			return err
		}
		glog.V(2).Infof("motor: coarse done at %.1f (error %.1f)", pos, e)
	}

	// Fine
	c.update(func(s *State) { s.Phase = PhaseFine })
	integral := 0.0
	for math.Abs(e) > c.cfg.FineThreshold {
		duty := int(math.Min(float64(c.cfg.DutyCap), math.Abs(e)*c.cfg.Kp+math.Abs(integral)*(*c.cfg.Ki)))
		if err := c.dev.SetDuties(Duties(e, duty)); err != nil {
			return err
		}

		next, err := c.dev.WaitNext(ctx, r.Seq)
		if err != nil {
			return err
		}
		r = next
		if r.Values[0] == pos {
			integral += e
			c.record(pos, e, integral)
			continue
		}

		// The integral only spans one wait for movement.
		pos = r.Values[0]
		e = Error(pos, target)
		integral = 0
		c.record(pos, e, integral)
	}

	if err := c.brakeAndSettle(ctx); err != nil {
		return err
	}
	c.update(func(s *State) { s.Phase = PhaseDone })
	glog.V(1).Infof("motor: reached %.1f (target %.1f, error %.1f)", pos, target, e)
	return nil
}

func (c *Controller) record(pos, e, integral float64) {
	c.update(func(s *State) {
		s.Current = pos
		s.Error = e
		s.Integral = integral
	})
}

// positionReading selects mode if needed and waits for its first sample.
func (c *Controller) positionReading(ctx context.Context, mode int) (lpf2.Reading, error) {
	if c.dev.SelectedMode() != mode {
		if err := c.dev.SelectMode(mode); err != nil {
			return lpf2.Reading{}, err
		}
	}
	rctx, cancel := context.WithTimeout(ctx, c.cfg.ReadingTimeout)
	defer cancel()
	r, err := c.dev.WaitReading(rctx, mode)
	if err != nil {
		if ctx.Err() != nil {
			return lpf2.Reading{}, ctx.Err()
		}
		return lpf2.Reading{}, fmt.Errorf("motor: no position in mode %d: %w", mode, err)
	}
	return r, nil
}

func (c *Controller) brakeAndSettle(ctx context.Context) error {
	if err := c.Brake(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.Settle):
		return nil
	}
}

// Position returns the absolute angle in degrees.
func (c *Controller) Position(ctx context.Context) (float64, error) {
	r, err := c.positionReading(ctx, *c.cfg.AbsoluteMode)
	if err != nil {
		return 0, err
	}
	return r.Values[0], nil
}

// RelativePosition returns the accumulated rotation in degrees since power-up.
func (c *Controller) RelativePosition(ctx context.Context) (float64, error) {
	r, err := c.positionReading(ctx, *c.cfg.RelativeMode)
	if err != nil {
		return 0, err
	}
	return r.Values[0], nil
}

// RunAtSpeed drives the motor open loop at speed percent, -100..100, with the
// other output coasting. Positive speeds drive ch1, which lowers the measured
// angle.
func (c *Controller) RunAtSpeed(speed int) error {
	if speed > 100 {
		speed = 100
	} else if speed < -100 {
		speed = -100
	}
	if speed == 0 {
		return c.Coast()
	}
	if speed > 0 {
		return c.dev.SetDuties(speed, DutyCoast)
	}
	return c.dev.SetDuties(DutyCoast, -speed)
}

// Brake shorts both outputs.
func (c *Controller) Brake() error {
	return c.dev.SetDuties(DutyBrake, DutyBrake)
}

// Coast releases both outputs.
func (c *Controller) Coast() error {
	return c.dev.SetDuties(DutyCoast, DutyCoast)
}

// Stop brakes and waits for the motor to settle.
func (c *Controller) Stop(ctx context.Context) error {
	return c.brakeAndSettle(ctx)
}
