// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lpf2

import (
	"fmt"
	"math"
)

// AnomalyType represents different kinds of descriptor or value anomalies
type AnomalyType int

const (
	ANOMALY_MISSING_RECORD AnomalyType = iota
	ANOMALY_UNKNOWN_FORMAT
	ANOMALY_FORMAT_OVERFLOW
	ANOMALY_INVALID_RANGE
	ANOMALY_OUT_OF_RANGE
	ANOMALY_INVALID_VALUE
)

// ValidationError represents one detected anomaly
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateMode checks a mode descriptor built from the handshake.
// Returns a slice of validation errors (empty if the descriptor is usable).
func ValidateMode(d ModeDescriptor) []ValidationError {
	errors := []ValidationError{}

	if !d.Has(FieldName) {
		errors = append(errors, ValidationError{
			Type:    ANOMALY_MISSING_RECORD,
			Message: fmt.Sprintf("Mode %d has no NAME record", d.ID),
			Details: map[string]interface{}{"mode": d.ID, "record": "NAME"},
		})
	}
	if !d.Has(FieldFormat) {
		return append(errors, ValidationError{
			Type:    ANOMALY_MISSING_RECORD,
			Message: fmt.Sprintf("Mode %d has no FORMAT record", d.ID),
			Details: map[string]interface{}{"mode": d.ID, "record": "FORMAT"},
		})
	}

	width := d.Format.Type.Width()
	if width == 0 {
		errors = append(errors, ValidationError{
			Type:    ANOMALY_UNKNOWN_FORMAT,
			Message: fmt.Sprintf("Mode %d has unknown data format %d", d.ID, d.Format.Type),
			Details: map[string]interface{}{"mode": d.ID, "format": uint8(d.Format.Type)},
		})
	} else if size := int(d.Format.Datasets) * width; size > MaxPayloadSize {
		errors = append(errors, ValidationError{
			Type:    ANOMALY_FORMAT_OVERFLOW,
			Message: fmt.Sprintf("Mode %d declares %d bytes of data (max %d)", d.ID, size, MaxPayloadSize),
			Details: map[string]interface{}{"mode": d.ID, "size": size, "max": MaxPayloadSize},
		})
	}

	if d.Has(FieldRaw) && d.Raw.Min > d.Raw.Max {
		errors = append(errors, ValidationError{
			Type:    ANOMALY_INVALID_RANGE,
			Message: fmt.Sprintf("Mode %d RAW range %g..%g is inverted", d.ID, d.Raw.Min, d.Raw.Max),
			Details: map[string]interface{}{"mode": d.ID, "min": d.Raw.Min, "max": d.Raw.Max},
		})
	}

	return errors
}

// ValidateReading checks decoded values against the mode's declared RAW
// range, scaled the same way as the values. Modes without a RAW record, or
// with an empty range, are not range checked.
func ValidateReading(d ModeDescriptor, values []float64) []ValidationError {
	errors := []ValidationError{}

	checkRange := d.Has(FieldRaw) && d.Raw.Max > d.Raw.Min
	scale := math.Pow10(int(d.Format.Decimals))
	lo, hi := float64(d.Raw.Min)/scale, float64(d.Raw.Max)/scale

	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errors = append(errors, ValidationError{
				Type:    ANOMALY_INVALID_VALUE,
				Message: fmt.Sprintf("Mode %d dataset %d is not finite", d.ID, i),
				Details: map[string]interface{}{"mode": d.ID, "index": i},
			})
			continue
		}
		if checkRange && (v < lo || v > hi) {
			errors = append(errors, ValidationError{
				Type:    ANOMALY_OUT_OF_RANGE,
				Message: fmt.Sprintf("Mode %d dataset %d = %g outside %g..%g", d.ID, i, v, lo, hi),
				Details: map[string]interface{}{"mode": d.ID, "index": i, "value": v, "min": lo, "max": hi},
			})
		}
	}

	return errors
}
