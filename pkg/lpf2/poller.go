// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// startPoller launches the periodic keep-alive/read loop.
func (d *Device) startPoller() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.stopPoll = cancel
	d.pollDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.pollOnce(ctx)
			}
		}
	}()
}

// stopPoller cancels the poll loop and waits for the running tick to finish.
func (d *Device) stopPoller() {
	if d.stopPoll == nil {
		return
	}
	d.stopPoll()
	<-d.pollDone
	d.stopPoll = nil
	d.pollDone = nil
}

// pollOnce sends NACK, waits for the reply and processes whatever arrived.
func (d *Device) pollOnce(ctx context.Context) {
	d.ioMu.Lock()
	defer d.ioMu.Unlock()

	if d.State() != StateConnected {
		return
	}

	d.flush()
	if _, err := d.tr.Write([]byte{ByteNack}); err != nil {
		d.stats.Record(OutcomeTransport)
		glog.Warningf("%s: keep-alive: %v", d.cfg.Name, err)
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(d.cfg.ReplyDelay):
	}

	buf, err := d.tr.ReadAvailable()
	if err != nil {
		d.stats.Record(OutcomeTransport)
		glog.Warningf("%s: read: %v", d.cfg.Name, err)
		return
	}

	outcome, err := d.processPoll(buf)
	d.stats.Record(outcome)
	switch outcome {
	case OutcomeValid, OutcomeEmpty, OutcomeAck:
	case OutcomeUnexpectedMode:
		glog.V(2).Infof("%s: %v", d.cfg.Name, err)
	default:
		glog.V(1).Infof("%s: poll dropped: %v", d.cfg.Name, err)
	}
}

// processPoll interprets one poll reply and stores the decoded values.
// Every failure leaves the previous value vector untouched.
func (d *Device) processPoll(buf []byte) (Outcome, error) {
	if len(buf) == 0 {
		return OutcomeEmpty, nil
	}
	if buf[0] == ByteAck {
		return OutcomeAck, nil
	}

	offset, rest, _ := StripExtMode(buf)
	if len(rest) == 0 {
		return OutcomeEmpty, nil
	}

	class, _, sub, err := ParseHeader(rest[0])
	if err != nil {
		return OutcomeOther, fmt.Errorf("header 0x%02X: %w", rest[0], err)
	}
	if class != ClassData {
		return OutcomeOther, fmt.Errorf("unexpected %s frame 0x%02X", FormatClass(class), rest[0])
	}

	mode := int(sub) + int(offset)
	selected := d.cell.selectedMode()
	if mode != selected {
		return OutcomeUnexpectedMode, &UnexpectedModeError{Selected: selected, Got: mode}
	}

	m, _, err := Decode(rest)
	if err != nil {
		return ClassifyError(err), err
	}

	desc, ok := d.Mode(mode)
	if !ok {
		return OutcomeOther, fmt.Errorf("%w: %d", ErrUnknownMode, mode)
	}
	values, err := DecodePayload(desc.Format, m.Payload)
	if err != nil {
		return ClassifyError(err), err
	}

	if !d.cell.store(mode, values) {
		return OutcomeUnexpectedMode, &UnexpectedModeError{Selected: d.cell.selectedMode(), Got: mode}
	}
	return OutcomeValid, nil
}
