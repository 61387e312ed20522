// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
)

var discoveryTimeout int

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Run the handshake and list the device's modes",
	Long: `Reset the device on the selected connection, run the LPF2 handshake and
print the device identity and its mode table.

Every mode descriptor is checked for missing records, unknown data formats,
oversized payloads and inverted ranges.

Examples:
  # Local adapter
  lpf2 discovery --port /dev/ttyUSB0

  # Port C of a remote hub
  lpf2 discovery --url ws://hub.local/lpf2 --hub-port C

Exit codes:
  0 - Discovery successful
  1 - Handshake failed (no device or timeout)
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 15, "Timeout in seconds for discovery")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(discoveryTimeout)*time.Second)
	defer cancel()

	fmt.Printf("lpf2 - Device Discovery\n")
	fmt.Printf("Timeout: %d seconds\n\n", discoveryTimeout)

	sess, err := openSession(ctx)
	if err != nil {
		var ce *connectionError
		if errors.As(err, &ce) {
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("DISCOVERY FAILED: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	fmt.Printf("Connection: %s\n\n", sess.connInfo)
	printDeviceInfo(sess.dev)
	return nil
}

func printDeviceInfo(dev *lpf2.Device) {
	info := dev.Info()
	fmt.Printf("Device found:\n")
	fmt.Printf("  Type: %d\n", info.TypeID)
	fmt.Printf("  Firmware: %s\n", info.FirmwareVersion)
	fmt.Printf("  Hardware: %s\n", info.HardwareVersion)
	fmt.Printf("  Max speed: %d baud\n", info.MaxSpeed)
	fmt.Printf("  Modes: %d (%d views)\n\n", info.ModeCount, info.ViewCount)

	modes := dev.Modes()
	fmt.Print(lpf2.FormatModeTable(modes))

	if issues := dev.HandshakeIssues(); len(issues) > 0 {
		fmt.Printf("\nHandshake issues:\n")
		for _, err := range issues {
			fmt.Printf("  - %v\n", err)
		}
	}

	anomalies := 0
	for _, m := range modes {
		for _, v := range lpf2.ValidateMode(m) {
			if anomalies == 0 {
				fmt.Printf("\nMode anomalies:\n")
			}
			anomalies++
			fmt.Printf("  mode %d: %s\n", m.ID, v.Message)
		}
	}
}
