// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
)

var (
	sensorMode     int
	sensorCount    int
	sensorInterval time.Duration
)

var sensorCmd = &cobra.Command{
	Use:   "sensor",
	Short: "Read values from one mode of a sensor",
	Long: `Select a mode and print its decoded value vector.

Each reading is checked against the mode's RAW range; out-of-range or
non-finite values are flagged on the line after the reading.

Examples:
  lpf2 sensor --sim force --count 5
  lpf2 sensor --port /dev/ttyUSB0 --mode 1 --count 0 --interval 500ms`,
	Args: cobra.NoArgs,
	RunE: runSensor,
}

func init() {
	rootCmd.AddCommand(sensorCmd)
	sensorCmd.Flags().IntVarP(&sensorMode, "mode", "m", 0, "Mode to read")
	sensorCmd.Flags().IntVarP(&sensorCount, "count", "n", 1, "Number of readings (0 reads until Ctrl+C)")
	sensorCmd.Flags().DurationVar(&sensorInterval, "interval", time.Second, "Time between readings")
}

func runSensor(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	desc, ok := sess.dev.Mode(sensorMode)
	if !ok {
		return fmt.Errorf("%s: no mode %d (device has %d)", sess.connInfo, sensorMode, len(sess.dev.Modes()))
	}
	fmt.Printf("%s mode %d %s\n", sess.connInfo, desc.ID, desc.Name)

	sensor := lpf2.NewSensor(sess.dev)
	sensor.Timeout = config.Poll.ReadingTimeout
	for i := 0; sensorCount == 0 || i < sensorCount; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sensorInterval):
			}
		}

		r, err := sensor.Read(ctx, sensorMode)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		fmt.Printf("[%s] %s\n", r.At.Format("15:04:05.000"), lpf2.FormatValues(r.Values, desc.Symbol))
		for _, v := range lpf2.ValidateReading(desc, r.Values) {
			fmt.Printf("  ! %s\n", v.Message)
		}
	}

	if sensorCount > 1 {
		fmt.Printf("\n%s", sess.dev.Statistics().Snapshot())
	}
	return nil
}
