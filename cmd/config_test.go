// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/lpf2/pkg/hub"
	"github.com/Thermoquad/lpf2/pkg/lpf2"
	"github.com/Thermoquad/lpf2/pkg/telemetry"
	"github.com/Thermoquad/lpf2/pkg/transport"
)

// ============================================================
// Config file
// ============================================================

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lpf2.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "A", cfg.Connection.HubPort)
	require.Equal(t, lpf2.DefaultPollInterval, cfg.Poll.Interval)
	require.Equal(t, lpf2.DefaultReadyTimeout, cfg.Handshake.ReadyTimeout)
	require.Equal(t, telemetry.FormatJSON, cfg.Publish.Format)
	require.Equal(t, ":8080", cfg.Bridge.Listen)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
connection:
  url: ws://hub.local/lpf2
  hub_port: C
handshake:
  ready_timeout: 2s
poll:
  interval: 20ms
  reading_timeout: 750ms
motor:
  fine_threshold: 3
  kp: 0.5
  move_timeout: 10s
publish:
  broker: mqtt://broker:1883/lab
  format: cbor
  qos: 1
bridge:
  listen: ":9000"
  ports:
    A: /dev/ttyUSB0
    b: /dev/ttyUSB1
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "ws://hub.local/lpf2", cfg.Connection.URL)
	require.Equal(t, "C", cfg.Connection.HubPort)
	require.Equal(t, 2*time.Second, cfg.Handshake.ReadyTimeout)
	// untouched keys keep their defaults
	require.Equal(t, lpf2.DefaultEnumerateTimeout, cfg.Handshake.EnumerateTimeout)
	require.Equal(t, 20*time.Millisecond, cfg.Poll.Interval)
	require.Equal(t, lpf2.DefaultReplyDelay, cfg.Poll.ReplyDelay)

	dc := cfg.DeviceConfig("port-C")
	require.Equal(t, "port-C", dc.Name)
	require.Equal(t, 20*time.Millisecond, dc.PollInterval)
	require.Equal(t, 2*time.Second, dc.ReadyTimeout)

	mc := cfg.ControllerConfig()
	require.Nil(t, mc.Ki)
	require.Nil(t, mc.AbsoluteMode)
	require.Equal(t, 3.0, mc.FineThreshold)
	require.Equal(t, 0.5, mc.Kp)
	require.Equal(t, 10*time.Second, mc.MoveTimeout)
	require.Equal(t, 750*time.Millisecond, mc.ReadingTimeout)

	po := cfg.PublishOptions()
	require.Equal(t, "mqtt://broker:1883/lab", po.BrokerURL)
	require.Equal(t, telemetry.FormatCBOR, po.Format)
	require.Equal(t, byte(1), po.QoS)

	require.Equal(t, ":9000", cfg.Bridge.Listen)
	require.Equal(t, map[string]string{"A": "/dev/ttyUSB0", "b": "/dev/ttyUSB1"}, cfg.Bridge.Ports)
}

func TestLoadConfigMotorZeroes(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "motor:\n  ki: 0\n  absolute_mode: 0\n"))
	require.NoError(t, err)

	mc := cfg.ControllerConfig()
	require.NotNil(t, mc.Ki)
	require.Equal(t, 0.0, *mc.Ki)
	require.NotNil(t, mc.AbsoluteMode)
	require.Equal(t, 0, *mc.AbsoluteMode)
	require.Nil(t, mc.RelativeMode)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "publish:\n  qos: 3\n"))
	require.ErrorContains(t, err, "qos")

	_, err = LoadConfig(writeConfig(t, "poll:\n  interval: [1, 2]\n"))
	require.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Connection.Port = "/dev/ttyUSB0"
	cfg.Connection.HubPort = "B"

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&portName, "port", "", "")
	cmd.Flags().StringVar(&hubPort, "hub-port", "A", "")
	cmd.Flags().StringVar(&simDevice, "sim", "", "")
	require.NoError(t, cmd.ParseFlags([]string{"--sim", "force"}))

	cfg.applyFlags(cmd)
	require.Equal(t, "force", cfg.Connection.Sim)
	// unset flags leave the file values alone
	require.Equal(t, "/dev/ttyUSB0", cfg.Connection.Port)
	require.Equal(t, "B", cfg.Connection.HubPort)
}

// ============================================================
// Connection helpers
// ============================================================

func TestSessionName(t *testing.T) {
	tests := []struct {
		cc   ConnectionConfig
		want string
	}{
		{ConnectionConfig{Sim: "motor"}, "sim-motor"},
		{ConnectionConfig{URL: "ws://hub", HubPort: "c"}, "port-C"},
		{ConnectionConfig{Port: "/dev/ttyUSB0"}, "/dev/ttyUSB0"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, sessionName(tt.cc))
	}

	require.Equal(t, "D", publishPort(ConnectionConfig{URL: "ws://hub", HubPort: "3"}))
	require.Equal(t, "sim-force", publishPort(ConnectionConfig{Sim: "force"}))
}

func TestSimDevice(t *testing.T) {
	d, err := SimDevice("Motor")
	require.NoError(t, err)
	require.Equal(t, uint8(48), d.TypeID)

	d, err = SimDevice("sensor")
	require.NoError(t, err)
	require.Equal(t, uint8(63), d.TypeID)

	_, err = SimDevice("lamp")
	require.Error(t, err)
}

func TestOpenTransportRequiresTarget(t *testing.T) {
	_, _, err := OpenTransport(context.Background(), ConnectionConfig{})
	require.Error(t, err)

	_, _, err = OpenTransport(context.Background(), ConnectionConfig{URL: "ws://hub", HubPort: "Z"})
	require.Error(t, err)
}

func TestOpenSessionSim(t *testing.T) {
	saved := config
	t.Cleanup(func() { config = saved })

	config = DefaultConfig()
	config.Connection.Sim = "motor"
	config.Poll.Interval = 2 * time.Millisecond
	config.Poll.ReplyDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := openSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	require.Equal(t, "sim-motor", sess.name)
	require.Equal(t, uint8(48), sess.dev.Info().TypeID)
	require.True(t, hasMotor(sess.dev.Modes()))

	r, err := sess.dev.WaitReading(ctx, 0)
	require.NoError(t, err)
	require.Len(t, r.Values, 1)
}

func TestOpenSessionConnectionError(t *testing.T) {
	saved := config
	t.Cleanup(func() { config = saved })

	config = DefaultConfig()
	config.Connection.Sim = "lamp"

	_, err := openSession(context.Background())
	var ce *connectionError
	require.ErrorAs(t, err, &ce)
}

func TestHasMotor(t *testing.T) {
	force := transport.ForceDevice()
	modes := make([]lpf2.ModeDescriptor, len(force.Modes))
	for i, m := range force.Modes {
		modes[i] = lpf2.ModeDescriptor{ID: i, Name: m.Name, Flags: m.Flags}
	}
	require.False(t, hasMotor(modes))

	modes = append(modes, lpf2.ModeDescriptor{ID: 3, Flags: lpf2.Flags{0x22}})
	require.True(t, hasMotor(modes))
}

// ============================================================
// Bridge command
// ============================================================

func TestParsePortMap(t *testing.T) {
	ports, err := parsePortMap(map[string]string{"a": "/dev/ttyUSB0"}, []string{"C=/dev/ttyUSB2", " 1 = /dev/ttyUSB1 "})
	require.NoError(t, err)
	require.Equal(t, map[int]string{0: "/dev/ttyUSB0", 1: "/dev/ttyUSB1", 2: "/dev/ttyUSB2"}, ports)
	require.Equal(t, []int{0, 1, 2}, sortedPorts(ports))

	// flags override the file
	ports, err = parsePortMap(map[string]string{"A": "/dev/ttyUSB0"}, []string{"A=/dev/ttyACM0"})
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", ports[0])

	_, err = parsePortMap(nil, []string{"A"})
	require.Error(t, err)
	_, err = parsePortMap(nil, []string{"G=/dev/ttyUSB0"})
	require.Error(t, err)
	_, err = parsePortMap(nil, []string{"A="})
	require.Error(t, err)
}

func TestBridgeOpener(t *testing.T) {
	_, err := bridgeOpener(nil, "")
	require.Error(t, err)

	open, err := bridgeOpener(nil, "force")
	require.NoError(t, err)
	p, _ := hub.Lookup(4)
	tr, err := open(p)
	require.NoError(t, err)
	_, ok := tr.(*transport.Sim)
	require.True(t, ok)
	require.NoError(t, tr.Close())

	open, err = bridgeOpener(map[int]string{0: "/dev/null-lpf2"}, "")
	require.NoError(t, err)
	_, err = open(p)
	require.ErrorContains(t, err, "no device on port E")
}
