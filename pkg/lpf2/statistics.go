// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Outcome classifies the result of one poll tick.
type Outcome int

// Poll outcomes
const (
	OutcomeValid Outcome = iota
	OutcomeEmpty
	OutcomeAck
	OutcomeChecksum
	OutcomeShortRead
	OutcomeUnexpectedMode
	OutcomeUnknownFormat
	OutcomeOther
	OutcomeTransport
)

// ClassifyError maps a poll error to its Outcome.
func ClassifyError(err error) Outcome {
	var (
		cs *ChecksumError
		sr *ShortReadError
		um *UnexpectedModeError
		uf *UnknownFormatError
	)
	switch {
	case err == nil:
		return OutcomeValid
	case errors.As(err, &cs):
		return OutcomeChecksum
	case errors.As(err, &sr):
		return OutcomeShortRead
	case errors.As(err, &um):
		return OutcomeUnexpectedMode
	case errors.As(err, &uf):
		return OutcomeUnknownFormat
	}
	return OutcomeOther
}

// Counters is a point-in-time copy of the poll statistics.
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	TotalPolls      uint64
	ValidFrames     uint64
	EmptyPolls      uint64
	AckReplies      uint64
	ChecksumErrors  uint64
	ShortReads      uint64
	UnexpectedMode  uint64
	UnknownFormat   uint64
	OtherFrames     uint64
	TransportErrors uint64

	// Rates (calculated)
	PollRate  float64 // polls/sec
	ErrorRate float64 // errors/sec
}

// Errors returns the number of ticks that dropped a corrupt or unusable frame.
// Frames for a stale mode are expected and not counted.
func (c Counters) Errors() uint64 {
	return c.ChecksumErrors + c.ShortReads + c.UnknownFormat + c.OtherFrames + c.TransportErrors
}

// String returns a formatted statistics summary
func (c Counters) String() string {
	var validPercent, errorPercent float64
	if c.TotalPolls > 0 {
		validPercent = float64(c.ValidFrames) * 100.0 / float64(c.TotalPolls)
		errorPercent = float64(c.Errors()) * 100.0 / float64(c.TotalPolls)
	}

	elapsed := c.LastUpdateTime.Sub(c.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Polls:     %8d\n", c.TotalPolls)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", c.ValidFrames, validPercent)
	result += fmt.Sprintf("Errors:          %8d (%.1f%%)\n", c.Errors(), errorPercent)

	if c.ChecksumErrors > 0 {
		result += fmt.Sprintf("  Checksum:         %5d\n", c.ChecksumErrors)
	}
	if c.ShortReads > 0 {
		result += fmt.Sprintf("  Short Reads:      %5d\n", c.ShortReads)
	}
	if c.UnknownFormat > 0 {
		result += fmt.Sprintf("  Unknown Format:   %5d\n", c.UnknownFormat)
	}
	if c.TransportErrors > 0 {
		result += fmt.Sprintf("  Transport:        %5d\n", c.TransportErrors)
	}
	if c.EmptyPolls > 0 {
		result += fmt.Sprintf("Empty Polls:     %8d\n", c.EmptyPolls)
	}
	if c.UnexpectedMode > 0 {
		result += fmt.Sprintf("Stale Mode:      %8d\n", c.UnexpectedMode)
	}

	result += fmt.Sprintf("Poll Rate:       %8.1f polls/sec\n", c.PollRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", c.ErrorRate)
	result += "================================\n"

	return result
}

// Statistics tracks poll outcomes. It is written by the poller and read from
// the application side.
type Statistics struct {
	mu sync.Mutex
	c  Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	s := &Statistics{}
	s.Reset()
	return s
}

// Record counts one poll outcome.
func (s *Statistics) Record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.TotalPolls++
	switch o {
	case OutcomeValid:
		s.c.ValidFrames++
	case OutcomeEmpty:
		s.c.EmptyPolls++
	case OutcomeAck:
		s.c.AckReplies++
	case OutcomeChecksum:
		s.c.ChecksumErrors++
	case OutcomeShortRead:
		s.c.ShortReads++
	case OutcomeUnexpectedMode:
		s.c.UnexpectedMode++
	case OutcomeUnknownFormat:
		s.c.UnknownFormat++
	case OutcomeTransport:
		s.c.TransportErrors++
	default:
		s.c.OtherFrames++
	}
	s.c.LastUpdateTime = time.Now()
}

// Snapshot returns a copy of the counters with rates calculated.
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()

	elapsed := time.Since(c.StartTime).Seconds()
	if elapsed > 0 {
		c.PollRate = float64(c.TotalPolls) / elapsed
		c.ErrorRate = float64(c.Errors()) / elapsed
	}
	return c
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.c = Counters{StartTime: now, LastUpdateTime: now}
}
