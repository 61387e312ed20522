// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"flag"

	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
	hubPort       string

	// Simulator
	simDevice string

	configPath string
	config     = DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "lpf2",
	Short: "LPF2 device toolkit",
	Long: `lpf2 - A CLI tool for discovering, monitoring and driving LPF2 motors
and sensors.

Connection modes:
  Serial:    --port /dev/ttyUSB0
  WebSocket: --url ws://host/path [--username user] [--hub-port A]
  Simulator: --sim motor|force

Over serial, DTR drives the device enable line, RTS the probe output and CTS
reads the detect input. Motor drive needs the WebSocket bridge to a hub.

For WebSocket authentication, the password is read from the LPF2_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings not covered by flags (timings, motor tuning, MQTT, bridge port map)
come from the YAML file given with --config.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg.applyFlags(cmd)
		config = cfg
		return nil
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")

	// WebSocket bridge flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	rootCmd.PersistentFlags().StringVar(&hubPort, "hub-port", "A", "Hub port (A-F or 0-5, WebSocket only)")

	rootCmd.PersistentFlags().StringVar(&simDevice, "sim", "", "Use a simulated device (motor or force)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	// glog flags (-v, --logtostderr, ...)
	_ = flag.Set("logtostderr", "true")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
