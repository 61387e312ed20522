// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motor

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
)

// fakeMotor integrates drive duty into an angle once per sample and reports
// it rounded to whole degrees, like the absolute position mode does.
type fakeMotor struct {
	mu       sync.Mutex
	pos      float64
	gain     float64 // degrees per sample per percent of net duty
	m1, m2   int
	seq      uint64
	selected int
	selects  []int
	duties   [][2]int
}

func newFakeMotor(pos, gain float64) *fakeMotor {
	return &fakeMotor{pos: pos, gain: gain, selected: -1}
}

func (f *fakeMotor) reading() lpf2.Reading {
	deg := math.Mod(math.Round(f.pos), 360)
	if deg < 0 {
		deg += 360
	}
	return lpf2.Reading{Mode: f.selected, Values: []float64{deg}, Seq: f.seq}
}

func (f *fakeMotor) SelectedMode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

func (f *fakeMotor) SelectMode(mode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = mode
	f.selects = append(f.selects, mode)
	return nil
}

func (f *fakeMotor) WaitReading(ctx context.Context, mode int) (lpf2.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selected != mode {
		<-ctx.Done()
		return lpf2.Reading{}, ctx.Err()
	}
	f.seq++
	return f.reading(), nil
}

func (f *fakeMotor) WaitNext(ctx context.Context, seq uint64) (lpf2.Reading, error) {
	if err := ctx.Err(); err != nil {
		return lpf2.Reading{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos += float64(f.m2-f.m1) * f.gain
	f.seq++
	return f.reading(), nil
}

func (f *fakeMotor) SetDuties(m1, m2 int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m1, f.m2 = m1, m2
	f.duties = append(f.duties, [2]int{m1, m2})
	return nil
}

func (f *fakeMotor) position() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reading().Values[0]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Settle = time.Millisecond
	cfg.MoveTimeout = 2 * time.Second
	return cfg
}

// ============================================================================
// Wrap / Error
// ============================================================================

func TestWrap(t *testing.T) {
	testCases := []struct {
		in     float64
		expect float64
	}{
		{0, 0},
		{20, 20},
		{180, 180},
		{181, -179},
		{340, -20},
		{-180, 180},
		{-181, 179},
		{-340, 20},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expect, Wrap(tc.in), "Wrap(%v)", tc.in)
	}
}

func TestWrapAcrossZero(t *testing.T) {
	// 350 -> 10 is a 20 degree move forward, never 340 back.
	require.Equal(t, 20.0, Distance(350, 10))
	require.Equal(t, -20.0, Error(350, 10))
	require.Equal(t, 20.0, math.Abs(Error(350, 10)))

	require.Equal(t, -20.0, Distance(10, 350))
	require.Equal(t, 20.0, Error(10, 350))
}

func TestDuties(t *testing.T) {
	m1, m2 := Duties(30, 50)
	require.Equal(t, 100, m1)
	require.Equal(t, 50, m2)

	m1, m2 = Duties(-30, 50)
	require.Equal(t, 50, m1)
	require.Equal(t, 100, m2)
}

// ============================================================================
// MoveTo
// ============================================================================

func TestMoveToFinePhaseOnly(t *testing.T) {
	dev := newFakeMotor(170, 0.25)
	c := NewController(dev, testConfig())

	require.NoError(t, c.MoveTo(context.Background(), 190))

	require.InDelta(t, 190, dev.position(), 5)
	require.Equal(t, []int{ModeAbsolutePosition}, dev.selects)
	for _, d := range dev.duties {
		require.GreaterOrEqual(t, d[0], 100-testConfig().DutyCap, "coarse duty applied: %v", d)
		require.GreaterOrEqual(t, d[1], 100-testConfig().DutyCap, "coarse duty applied: %v", d)
	}
	require.Equal(t, [2]int{DutyBrake, DutyBrake}, dev.duties[len(dev.duties)-1])

	st := c.State()
	require.Equal(t, PhaseDone, st.Phase)
	require.LessOrEqual(t, math.Abs(st.Error), 5.0)
}

func TestMoveToCoarseThenFine(t *testing.T) {
	testCases := []struct {
		name   string
		from   float64
		target float64
	}{
		{name: "forward", from: 10, target: 100},
		{name: "backward", from: 200, target: 90},
		{name: "forward across zero", from: 300, target: 30},
		{name: "backward across zero", from: 30, target: 300},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev := newFakeMotor(tc.from, 0.25)
			c := NewController(dev, testConfig())

			require.NoError(t, c.MoveTo(context.Background(), tc.target))
			require.LessOrEqual(t, math.Abs(Error(dev.position(), tc.target)), 5.0)

			coarse := 0
			for _, d := range dev.duties {
				if d[0] == 50 || d[1] == 50 {
					coarse++
				}
			}
			require.NotZero(t, coarse, "coarse phase not entered")
		})
	}
}

func TestMoveToAlreadyThere(t *testing.T) {
	dev := newFakeMotor(92, 0.25)
	c := NewController(dev, testConfig())

	require.NoError(t, c.MoveTo(context.Background(), 90))
	require.Equal(t, [][2]int{{DutyBrake, DutyBrake}}, dev.duties)
}

func TestMoveToStalledTimesOut(t *testing.T) {
	dev := newFakeMotor(0, 0)
	cfg := testConfig()
	cfg.MoveTimeout = 50 * time.Millisecond
	c := NewController(dev, cfg)

	err := c.MoveTo(context.Background(), 10)
	require.True(t, errors.Is(err, ErrMoveTimeout), "got %v", err)
	require.Equal(t, [2]int{DutyBrake, DutyBrake}, dev.duties[len(dev.duties)-1])
}

func TestConfigZeroOverrides(t *testing.T) {
	ki, mode := 0.0, 0
	cfg := Config{Ki: &ki, AbsoluteMode: &mode}.withDefaults()
	require.Equal(t, 0.0, *cfg.Ki)
	require.Equal(t, 0, *cfg.AbsoluteMode)
	require.Equal(t, ModeRelativePosition, *cfg.RelativeMode)
	require.Equal(t, 0.4, cfg.Kp)

	cfg = Config{}.withDefaults()
	require.Equal(t, 0.8, *cfg.Ki)
	require.Equal(t, ModeAbsolutePosition, *cfg.AbsoluteMode)
}

func TestMoveToProportionalOnly(t *testing.T) {
	dev := newFakeMotor(0, 0)
	cfg := testConfig()
	ki := 0.0
	cfg.Ki = &ki
	cfg.MoveTimeout = 20 * time.Millisecond
	c := NewController(dev, cfg)

	err := c.MoveTo(context.Background(), 10)
	require.True(t, errors.Is(err, ErrMoveTimeout), "got %v", err)
	// a stalled motor never sees the duty grow without an integral term
	fine := dev.duties[:len(dev.duties)-1]
	require.NotEmpty(t, fine)
	for _, d := range fine {
		require.Equal(t, [2]int{96, 100}, d)
	}
}

func TestMoveToCancelled(t *testing.T) {
	dev := newFakeMotor(0, 0)
	c := NewController(dev, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.MoveTo(ctx, 90)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrMoveTimeout))
}

// ============================================================================
// Open loop helpers
// ============================================================================

func TestRunAtSpeed(t *testing.T) {
	dev := newFakeMotor(0, 0)
	c := NewController(dev, testConfig())

	require.NoError(t, c.RunAtSpeed(40))
	require.NoError(t, c.RunAtSpeed(-150))
	require.NoError(t, c.RunAtSpeed(0))
	require.NoError(t, c.Brake())
	require.Equal(t, [][2]int{{40, 0}, {0, 100}, {0, 0}, {100, 100}}, dev.duties)
}

func TestRunAtSpeedDirection(t *testing.T) {
	dev := newFakeMotor(180, 0.1)
	c := NewController(dev, testConfig())
	ctx := context.Background()

	require.NoError(t, c.RunAtSpeed(50))
	for i := 0; i < 4; i++ {
		_, err := dev.WaitNext(ctx, 0)
		require.NoError(t, err)
	}
	require.Equal(t, 160.0, dev.position())

	// the error that ch1 closes is positive
	e1, e2 := Duties(Error(dev.position(), 100), 50)
	require.Greater(t, e1, e2)

	require.NoError(t, c.RunAtSpeed(-50))
	for i := 0; i < 8; i++ {
		_, err := dev.WaitNext(ctx, 0)
		require.NoError(t, err)
	}
	require.Equal(t, 200.0, dev.position())
}

func TestPositionSelectsMode(t *testing.T) {
	dev := newFakeMotor(45, 0)
	c := NewController(dev, testConfig())

	pos, err := c.Position(context.Background())
	require.NoError(t, err)
	require.Equal(t, 45.0, pos)

	_, err = c.RelativePosition(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{ModeAbsolutePosition, ModeRelativePosition}, dev.selects)
}
