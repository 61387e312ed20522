// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"context"
	"fmt"
	"time"
)

// DefaultReadingTimeout bounds how long Sensor.Read waits for a value vector.
const DefaultReadingTimeout = 2 * time.Second

// Sensor is a read-only view of a Device: select a mode, wait for its values.
type Sensor struct {
	dev     *Device
	Timeout time.Duration
}

// NewSensor wraps a connected Device.
func NewSensor(dev *Device) *Sensor {
	return &Sensor{dev: dev, Timeout: DefaultReadingTimeout}
}

// Read selects mode if needed and returns the next value vector for it.
func (s *Sensor) Read(ctx context.Context, mode int) (Reading, error) {
	if s.dev.SelectedMode() != mode || !s.dev.Latest().Valid() {
		if err := s.dev.SelectMode(mode); err != nil {
			return Reading{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	r, err := s.dev.WaitReading(ctx, mode)
	if err != nil {
		return Reading{}, fmt.Errorf("mode %d: no reading: %w", mode, err)
	}
	return r, nil
}

// Modes returns the mode descriptors of the device.
func (s *Sensor) Modes() []ModeDescriptor {
	return s.dev.Modes()
}
