// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides lpf2.Transport implementations: a local serial
// adapter, a WebSocket bridge to a remote port, and an in-memory simulator.
package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
	"github.com/golang/glog"
	"go.bug.st/serial"
)

// Serial drives an LPF2 device through a USB-UART adapter. The modem lines
// stand in for the port's control pins: DTR is the enable line, RTS the
// probe output and CTS the detect input. Adapters have no PWM outputs, so
// SetDuty returns lpf2.ErrNoDrive.
type Serial struct {
	mu      sync.Mutex
	name    string
	port    serial.Port
	timeout time.Duration
	gap     time.Duration
}

// OpenSerial opens portName at baud with 8N1 framing.
func OpenSerial(portName string, baud int) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	s := &Serial{name: portName, port: port}
	s.setTimings(baud, lpf2.DefaultHandshakeReadWait)
	return s, nil
}

// ListSerialPorts returns the serial ports present on the host.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// setTimings derives the idle gap that ends a non-blocking read: two
// character times, at least one millisecond.
func (s *Serial) setTimings(baud int, timeout time.Duration) {
	s.timeout = timeout
	s.gap = time.Duration(2*10*int64(time.Second)/int64(baud)) + time.Millisecond
}

// Name returns the port name.
func (s *Serial) Name() string {
	return s.name
}

// Configure implements lpf2.Link.
func (s *Serial) Configure(baud int, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.port.SetMode(&serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("%s: set %d baud: %w", s.name, baud, err)
	}
	if err := s.port.ResetInputBuffer(); err != nil {
		glog.V(2).Infof("%s: reset input: %v", s.name, err)
	}
	s.setTimings(baud, timeout)
	glog.V(1).Infof("%s: %d baud", s.name, baud)
	return nil
}

// Write implements lpf2.Link.
func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Write(p)
}

// ReadAvailable implements lpf2.Link. It returns once the line has been idle
// for two character times, or after the configured timeout on a busy line.
func (s *Serial) ReadAvailable() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.port.SetReadTimeout(s.gap); err != nil {
		return nil, err
	}
	var out []byte
	buf := make([]byte, lpf2.MaxFrameSize*4)
	start := time.Now()
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			return out, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
		if time.Since(start) >= s.timeout {
			return out, nil
		}
	}
}

// SetEnable implements lpf2.Lines.
func (s *Serial) SetEnable(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.SetDTR(on)
}

// SetProbe implements lpf2.Lines.
func (s *Serial) SetProbe(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.SetRTS(on)
}

// Detect implements lpf2.Lines.
func (s *Serial) Detect() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bits, err := s.port.GetModemStatusBits()
	if err != nil {
		return false, err
	}
	return bits.CTS, nil
}

// SetDuty implements lpf2.Drive.
func (s *Serial) SetDuty(ch lpf2.Channel, percent int) error {
	return fmt.Errorf("%s %s: %w", s.name, ch, lpf2.ErrNoDrive)
}

// Close implements lpf2.Transport.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
