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

	"github.com/Thermoquad/lpf2/pkg/transport"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test a connection by sampling the detect line",
	Long: `Sample the port's detect line repeatedly and report the round-trip time.

Over the WebSocket bridge every sample is a request/reply exchange with the
bridge server, so this verifies that:
  - the WebSocket connection is established
  - HTTP Basic authentication works
  - the server attached the requested hub port
  - frames flow in both directions

The device itself is not reset or enumerated.

Exit codes:
  0 - All samples answered
  1 - One or more samples failed or timed out
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each sample")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of samples to take")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cctx, cancel := context.WithTimeout(ctx, time.Duration(pingTimeout)*time.Second)
	tr, connInfo, err := OpenTransport(cctx, config.Connection)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer tr.Close()

	if b, ok := tr.(*transport.Bridge); ok {
		b.DetectTimeout = time.Duration(pingTimeout) * time.Second
	}

	fmt.Printf("lpf2 - Connection Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per sample\n", pingTimeout)
	fmt.Printf("Count: %d samples\n\n", pingCount)

	successCount := 0
	failCount := 0

loop:
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		level, err := tr.Detect()
		rtt := time.Since(start)
		switch {
		case errors.Is(err, transport.ErrBridgeClosed):
			fmt.Printf("CONNECTION CLOSED: %v\n", err)
			failCount += pingCount - i + 1
			break loop
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		default:
			state := "low"
			if level {
				state = "high"
			}
			fmt.Printf("detect=%s, rtt=%v\n", state, rtt.Round(time.Microsecond))
			successCount++
		}

		if i < pingCount {
			select {
			case <-ctx.Done():
				failCount += pingCount - i
				break loop
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d samples, %d answered, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
