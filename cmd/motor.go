// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
	"github.com/Thermoquad/lpf2/pkg/motor"
)

var (
	motorRunFor   time.Duration
	motorRelative bool
	gotoTimeout   time.Duration
)

const positionTimeout = 5 * time.Second

var errNotAMotor = errors.New("device has no motor modes")

var motorCmd = &cobra.Command{
	Use:   "motor",
	Short: "Drive a motor open loop and read its position",
	Long: `Open-loop motor commands.

Drive needs a transport with PWM outputs: the WebSocket bridge or the
simulator. Positive speeds drive ch1 and lower the measured angle.`,
}

var motorRunCmd = &cobra.Command{
	Use:   "run <speed>",
	Short: "Run at speed percent (-100..100) until Ctrl+C or --for elapses",
	Args:  cobra.ExactArgs(1),
	RunE:  runMotorRun,
}

var motorBrakeCmd = &cobra.Command{
	Use:   "brake",
	Short: "Short both outputs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, c *motor.Controller, _ *session) error {
			return c.Stop(ctx)
		})
	},
}

var motorCoastCmd = &cobra.Command{
	Use:   "coast",
	Short: "Release both outputs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, c *motor.Controller, _ *session) error {
			return c.Coast()
		})
	},
}

var motorPositionCmd = &cobra.Command{
	Use:   "position",
	Short: "Print the absolute (or --relative) shaft position",
	Args:  cobra.NoArgs,
	RunE:  runMotorPosition,
}

var gotoCmd = &cobra.Command{
	Use:   "goto <degrees>",
	Short: "Move a motor to an absolute angle",
	Long: `Move the motor shaft to an absolute angle in degrees and brake.

The move runs a coarse phase at fixed duty until the error is within the
coarse threshold, then a PI phase with a capped duty until the error stays
within the fine threshold. Tuning comes from the motor section of the
configuration file.

Examples:
  lpf2 goto 90 --url ws://hub.local/lpf2 --hub-port B
  lpf2 goto --sim motor -- -45`,
	Args: cobra.ExactArgs(1),
	RunE: runGoto,
}

func init() {
	rootCmd.AddCommand(motorCmd)
	rootCmd.AddCommand(gotoCmd)
	motorCmd.AddCommand(motorRunCmd, motorBrakeCmd, motorCoastCmd, motorPositionCmd)

	motorRunCmd.Flags().DurationVar(&motorRunFor, "for", 0, "Stop and brake after this long (0 runs until Ctrl+C)")
	motorPositionCmd.Flags().BoolVar(&motorRelative, "relative", false, "Read the relative position mode instead")
	gotoCmd.Flags().DurationVar(&gotoTimeout, "timeout", 0, "Override the configured move timeout")
}

// hasMotor reports whether any mode of the device is flagged as a motor mode.
func hasMotor(modes []lpf2.ModeDescriptor) bool {
	for _, m := range modes {
		if m.Flags.Motor() {
			return true
		}
	}
	return false
}

// withController connects, checks for a motor and runs fn.
func withController(fn func(ctx context.Context, c *motor.Controller, sess *session) error) error {
	ctx, stop := signalContext()
	defer stop()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if !hasMotor(sess.dev.Modes()) {
		return fmt.Errorf("%s: %w (type %d)", sess.connInfo, errNotAMotor, sess.dev.Info().TypeID)
	}
	return fn(ctx, motor.NewController(sess.dev, config.ControllerConfig()), sess)
}

func runMotorRun(cmd *cobra.Command, args []string) error {
	speed, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid speed %q: %w", args[0], err)
	}
	if speed < -100 || speed > 100 {
		return fmt.Errorf("speed %d out of range -100..100", speed)
	}

	return withController(func(ctx context.Context, c *motor.Controller, sess *session) error {
		if err := c.RunAtSpeed(speed); err != nil {
			return err
		}
		fmt.Printf("Running at %d%% on %s, Ctrl+C to stop\n", speed, sess.connInfo)

		if motorRunFor > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, motorRunFor)
			defer cancel()
		}
		<-ctx.Done()

		// the run context is gone; settle on a fresh one
		sctx, cancel := context.WithTimeout(context.Background(), positionTimeout)
		defer cancel()
		return c.Stop(sctx)
	})
}

func runMotorPosition(cmd *cobra.Command, args []string) error {
	return withController(func(ctx context.Context, c *motor.Controller, _ *session) error {
		ctx, cancel := context.WithTimeout(ctx, positionTimeout)
		defer cancel()

		var (
			pos float64
			err error
		)
		if motorRelative {
			pos, err = c.RelativePosition(ctx)
		} else {
			pos, err = c.Position(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%g\n", pos)
		return nil
	})
}

func runGoto(cmd *cobra.Command, args []string) error {
	target, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid angle %q: %w", args[0], err)
	}
	if gotoTimeout > 0 {
		config.Motor.MoveTimeout = gotoTimeout
	}

	return withController(func(ctx context.Context, c *motor.Controller, sess *session) error {
		start, err := c.Position(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Moving %s from %.0f to %g degrees (%+.0f)\n",
			sess.connInfo, start, target, motor.Distance(start, target))

		t0 := time.Now()
		if err := c.MoveTo(ctx, target); err != nil {
			return err
		}

		st := c.State()
		fmt.Printf("%s at %.0f degrees, error %+.0f, in %v\n",
			st.Phase, st.Current, st.Error, time.Since(t0).Round(time.Millisecond))
		return nil
	})
}
