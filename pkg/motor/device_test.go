// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motor_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
	"github.com/Thermoquad/lpf2/pkg/motor"
	"github.com/Thermoquad/lpf2/pkg/transport"
)

// TestMoveToSimulatedMotor runs the controller against a full Device polling
// a simulated motor.
func TestMoveToSimulatedMotor(t *testing.T) {
	sim := transport.NewSim(transport.MotorDevice())
	sim.Gain = 0.1
	sim.SetAngle(300)

	dev := lpf2.NewDevice(sim, lpf2.Config{
		Name:             "motor",
		DebounceSamples:  3,
		DebounceInterval: time.Millisecond,
		PollInterval:     2 * time.Millisecond,
		ReplyDelay:       time.Millisecond,
	})
	require.NoError(t, dev.Connect(context.Background()))
	defer dev.Close()

	ctrl := motor.NewController(dev, motor.Config{
		Settle:      5 * time.Millisecond,
		MoveTimeout: 10 * time.Second,
	})

	for _, target := range []float64{90, 80, 350} {
		require.NoError(t, ctrl.MoveTo(context.Background(), target))

		pos, err := ctrl.Position(context.Background())
		require.NoError(t, err)
		require.LessOrEqual(t, math.Abs(motor.Error(pos, target)), 8.0, "target %.0f, at %.0f", target, pos)
		require.Equal(t, motor.PhaseDone, ctrl.State().Phase)
	}
	require.Equal(t, motor.ModeAbsolutePosition, dev.SelectedMode())
	require.Equal(t, motor.DutyBrake, sim.Duty(lpf2.ChannelM1))
	require.Equal(t, motor.DutyBrake, sim.Duty(lpf2.ChannelM2))
}
