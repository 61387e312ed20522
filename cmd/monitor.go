// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/lpf2/pkg/motor"
)

var monitorMode int

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching and driving a device",
	Long: `Connect a device and watch its live values in a terminal UI.

Features:
  - Live value vector of the selected mode
  - Poll statistics (valid frames, checksum errors, stale modes, rates)
  - Event log of out-of-range and non-finite values
  - Mode list: arrow keys and Enter, or digits 0-9, select a mode
  - Motors: Tab focuses the target angle, Enter moves the shaft there

Press 'q' to quit.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVarP(&monitorMode, "mode", "m", 0, "Mode to select at start")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if monitorMode != 0 {
		if err := sess.dev.SelectMode(monitorMode); err != nil {
			return err
		}
	}

	var ctrl *motor.Controller
	if hasMotor(sess.dev.Modes()) {
		ctrl = motor.NewController(sess.dev, config.ControllerConfig())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := initialMonitorModel(ctx, sess.dev, ctrl, sess.connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	if ctrl != nil {
		if err := ctrl.Coast(); err != nil {
			return err
		}
	}
	return nil
}
