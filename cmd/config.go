// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
	"github.com/Thermoquad/lpf2/pkg/motor"
	"github.com/Thermoquad/lpf2/pkg/telemetry"
)

// Config is the optional YAML configuration file. Command-line flags
// override the connection section.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Handshake  HandshakeConfig  `yaml:"handshake"`
	Poll       PollConfig       `yaml:"poll"`
	Motor      MotorConfig      `yaml:"motor"`
	Publish    PublishConfig    `yaml:"publish"`
	Bridge     BridgeConfig     `yaml:"bridge"`
}

// ConnectionConfig selects how to reach the device: a serial port, a bridge
// URL and hub port, or a simulated device.
type ConnectionConfig struct {
	Port        string `yaml:"port"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
	HubPort     string `yaml:"hub_port"`
	Sim         string `yaml:"sim"`
}

// HandshakeConfig holds the detect debounce and handshake timeouts.
type HandshakeConfig struct {
	ReadyTimeout     time.Duration `yaml:"ready_timeout"`
	EnumerateTimeout time.Duration `yaml:"enumerate_timeout"`
	DebounceSamples  int           `yaml:"debounce_samples"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// PollConfig holds the keep-alive poll timings.
type PollConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ReplyDelay     time.Duration `yaml:"reply_delay"`
	ReadingTimeout time.Duration `yaml:"reading_timeout"`
}

// MotorConfig holds the position controller tuning. Pointer fields tell an
// absent key from an explicit 0.
type MotorConfig struct {
	AbsoluteMode    *int          `yaml:"absolute_mode"`
	RelativeMode    *int          `yaml:"relative_mode"`
	CoarseThreshold float64       `yaml:"coarse_threshold"`
	FineThreshold   float64       `yaml:"fine_threshold"`
	CoarseDuty      int           `yaml:"coarse_duty"`
	DutyCap         int           `yaml:"duty_cap"`
	Kp              float64       `yaml:"kp"`
	Ki              *float64      `yaml:"ki"`
	Settle          time.Duration `yaml:"settle"`
	MoveTimeout     time.Duration `yaml:"move_timeout"`
}

// PublishConfig configures the MQTT reading publisher.
type PublishConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Format      string        `yaml:"format"`
	QoS         int           `yaml:"qos"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// BridgeConfig configures the WebSocket bridge server.
type BridgeConfig struct {
	Listen   string `yaml:"listen"`
	Username string `yaml:"username"`
	// Ports maps hub port letters to local serial devices.
	Ports map[string]string `yaml:"ports"`
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			HubPort: "A",
		},
		Handshake: HandshakeConfig{
			ReadyTimeout:     lpf2.DefaultReadyTimeout,
			EnumerateTimeout: lpf2.DefaultEnumerateTimeout,
			DebounceSamples:  lpf2.DefaultDebounceSamples,
			DebounceInterval: lpf2.DefaultDebounceInterval,
		},
		Poll: PollConfig{
			Interval:       lpf2.DefaultPollInterval,
			ReplyDelay:     lpf2.DefaultReplyDelay,
			ReadingTimeout: lpf2.DefaultReadingTimeout,
		},
		Publish: PublishConfig{
			Format: telemetry.FormatJSON,
		},
		Bridge: BridgeConfig{
			Listen: ":8080",
			Ports:  map[string]string{},
		},
	}
}

// LoadConfig reads path over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Publish.QoS < 0 || cfg.Publish.QoS > 2 {
		return nil, fmt.Errorf("%s: publish.qos must be 0, 1 or 2", path)
	}
	return cfg, nil
}

// applyFlags copies explicitly set connection flags over the file values.
func (c *Config) applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Connection.Port = portName
	}
	if flags.Changed("url") {
		c.Connection.URL = wsURL
	}
	if flags.Changed("username") {
		c.Connection.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.Connection.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("hub-port") {
		c.Connection.HubPort = hubPort
	}
	if flags.Changed("sim") {
		c.Connection.Sim = simDevice
	}
}

// DeviceConfig returns the engine timings for a port named name.
func (c *Config) DeviceConfig(name string) lpf2.Config {
	return lpf2.Config{
		Name:             name,
		DebounceSamples:  c.Handshake.DebounceSamples,
		DebounceInterval: c.Handshake.DebounceInterval,
		ReadyTimeout:     c.Handshake.ReadyTimeout,
		EnumerateTimeout: c.Handshake.EnumerateTimeout,
		PollInterval:     c.Poll.Interval,
		ReplyDelay:       c.Poll.ReplyDelay,
	}
}

// ControllerConfig returns the motor tuning. Absent keys keep the defaults;
// ki, absolute_mode and relative_mode may also be set to 0.
func (c *Config) ControllerConfig() motor.Config {
	m := c.Motor
	return motor.Config{
		AbsoluteMode:    m.AbsoluteMode,
		RelativeMode:    m.RelativeMode,
		CoarseThreshold: m.CoarseThreshold,
		FineThreshold:   m.FineThreshold,
		CoarseDuty:      m.CoarseDuty,
		DutyCap:         m.DutyCap,
		Kp:              m.Kp,
		Ki:              m.Ki,
		Settle:          m.Settle,
		ReadingTimeout:  c.Poll.ReadingTimeout,
		MoveTimeout:     m.MoveTimeout,
	}
}

// PublishOptions returns the MQTT publisher options.
func (c *Config) PublishOptions() telemetry.Options {
	p := c.Publish
	return telemetry.Options{
		BrokerURL:   p.Broker,
		ClientID:    p.ClientID,
		Format:      p.Format,
		QoS:         byte(p.QoS),
		MinInterval: p.MinInterval,
	}
}
