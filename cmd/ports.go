// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/lpf2/pkg/hub"
	"github.com/Thermoquad/lpf2/pkg/transport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List hub port wiring and local serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Hub ports (PWM %d Hz):\n", hub.PWMFrequency)
		for _, p := range hub.All() {
			fmt.Printf("  %s\n", p)
		}

		names, err := transport.ListSerialPorts()
		if err != nil {
			return fmt.Errorf("list serial ports: %w", err)
		}
		fmt.Printf("\nSerial ports:\n")
		if len(names) == 0 {
			fmt.Printf("  (none found)\n")
		}
		for _, n := range names {
			fmt.Printf("  %s\n", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
