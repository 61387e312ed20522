// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"golang.org/x/term"

	"github.com/Thermoquad/lpf2/pkg/hub"
	"github.com/Thermoquad/lpf2/pkg/lpf2"
	"github.com/Thermoquad/lpf2/pkg/transport"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("LPF2_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// SimDevice returns the simulated device named kind.
func SimDevice(kind string) (transport.SimDevice, error) {
	switch strings.ToLower(kind) {
	case "motor":
		return transport.MotorDevice(), nil
	case "force", "sensor":
		return transport.ForceDevice(), nil
	}
	return transport.SimDevice{}, fmt.Errorf("unknown simulated device %q (use motor or force)", kind)
}

// OpenTransport opens the simulator, WebSocket bridge or serial port named
// by cc, in that order of preference.
func OpenTransport(ctx context.Context, cc ConnectionConfig) (lpf2.Transport, string, error) {
	if cc.Sim != "" {
		dev, err := SimDevice(cc.Sim)
		if err != nil {
			return nil, "", err
		}
		return transport.NewSim(dev), fmt.Sprintf("Simulator: %s", cc.Sim), nil
	}

	if cc.URL != "" {
		port, err := hub.Parse(cc.HubPort)
		if err != nil {
			return nil, "", err
		}

		password := ""
		if cc.Username != "" {
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		b, err := transport.DialBridge(ctx, transport.BridgeConfig{
			URL:           cc.URL,
			Username:      cc.Username,
			Password:      password,
			SkipSSLVerify: cc.NoSSLVerify,
			Port:          port,
		})
		if err != nil {
			return nil, "", err
		}
		return b, fmt.Sprintf("WebSocket: %s port %s", cc.URL, port.Name()), nil
	}

	if cc.Port != "" {
		s, err := transport.OpenSerial(cc.Port, lpf2.BaudHandshake)
		if err != nil {
			return nil, "", err
		}
		return s, fmt.Sprintf("Serial: %s", cc.Port), nil
	}

	return nil, "", fmt.Errorf("one of --port, --url or --sim must be specified")
}

// session is one connected device and the transport under it.
type session struct {
	dev      *lpf2.Device
	tr       lpf2.Transport
	connInfo string
	name     string
}

// Close releases the device and closes the transport.
func (s *session) Close() {
	if err := s.dev.Close(); err != nil {
		glog.Warningf("%s: %v", s.name, err)
	}
	if err := s.tr.Close(); err != nil {
		glog.Warningf("%s: close: %v", s.name, err)
	}
}

// openSession opens the configured transport and runs discovery. Failures to
// open the transport are returned as *connectionError.
func openSession(ctx context.Context) (*session, error) {
	tr, connInfo, err := OpenTransport(ctx, config.Connection)
	if err != nil {
		return nil, &connectionError{err}
	}

	name := sessionName(config.Connection)

	dev := lpf2.NewDevice(tr, config.DeviceConfig(name))
	if err := dev.Connect(ctx); err != nil {
		tr.Close()
		return nil, err
	}
	return &session{dev: dev, tr: tr, connInfo: connInfo, name: name}, nil
}

// sessionName labels log lines for the device on cc.
func sessionName(cc ConnectionConfig) string {
	switch {
	case cc.Sim != "":
		return "sim-" + cc.Sim
	case cc.URL != "":
		return "port-" + strings.ToUpper(cc.HubPort)
	}
	return cc.Port
}

// connectionError marks failures to open the transport itself.
type connectionError struct {
	err error
}

func (e *connectionError) Error() string { return e.err.Error() }
func (e *connectionError) Unwrap() error { return e.err }

// signalContext returns a context cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
