// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"context"
	"sync"
	"time"
)

// Reading is one decoded value vector.
type Reading struct {
	Mode   int
	Values []float64
	Seq    uint64 // increases with every stored vector
	At     time.Time
}

// Valid reports whether the reading carries values.
func (r Reading) Valid() bool {
	return len(r.Values) > 0
}

// valueCell holds the selected mode and the latest value vector. The poller
// is the only writer of the vector; it is replaced wholesale on every store.
type valueCell struct {
	mu       sync.RWMutex
	selected int
	reading  Reading
	seq      uint64
	changed  chan struct{}
}

func newValueCell() *valueCell {
	return &valueCell{changed: make(chan struct{})}
}

// broadcast wakes every waiter. Caller holds mu.
func (c *valueCell) broadcast() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *valueCell) selectMode(mode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = mode
	c.reading = Reading{Mode: mode, Seq: c.seq}
	c.broadcast()
}

// store replaces the vector if mode is still selected.
func (c *valueCell) store(mode int, values []float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode != c.selected {
		return false
	}
	c.seq++
	c.reading = Reading{Mode: mode, Values: values, Seq: c.seq, At: time.Now()}
	c.broadcast()
	return true
}

func (c *valueCell) load() (Reading, <-chan struct{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.reading
	r.Values = append([]float64(nil), r.Values...)
	return r, c.changed
}

func (c *valueCell) selectedMode() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

// wait blocks until ok accepts the current reading.
func (c *valueCell) wait(ctx context.Context, ok func(Reading) bool) (Reading, error) {
	for {
		r, changed := c.load()
		if ok(r) {
			return r, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return Reading{}, ctx.Err()
		}
	}
}
