package domain

import (
	"errors"
	"fmt"
)

// ErrEmptyStep is returned when a step carries no usable records.
var ErrEmptyStep = errors.New("step contains no valid records")

// FilePathError reports a step file whose name does not follow the
// <prefix><step>.list convention or names an unexpected step.
type FilePathError struct {
	Path     string
	Expected int // -1 when no particular step was required
	Found    int // -1 when the name carries no step number
}

func (e FilePathError) Error() string {
	if e.Found < 0 {
		return fmt.Sprintf("refusing step file %s: name must look like <prefix><step>.list", e.Path)
	}
	return fmt.Sprintf("step file %s holds step %d, expected step %d", e.Path, e.Found, e.Expected)
}

// ParseError identifies a data line that could not be decoded.
type ParseError struct {
	Source string
	Line   int // 1-based
	Text   string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s:%d: unparsable line %q", e.Source, e.Line, e.Text)
}

// DataIncompleteError is returned by derived accessors on a residue that
// lacks shifts along one dimension.
type DataIncompleteError struct {
	Position  int
	Dimension Dimension
}

func (e DataIncompleteError) Error() string {
	return fmt.Sprintf("residue %d: missing %s chemical shift data", e.Position, e.Dimension)
}

// StepOrderError is returned when a step is ingested out of sequence.
type StepOrderError struct {
	Expected int
	Got      int
}

func (e StepOrderError) Error() string {
	return fmt.Sprintf("expected titration step %d, got step %d", e.Expected, e.Got)
}

// ConfigValidationError describes one invalid protocol field.
type ConfigValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e ConfigValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("protocol %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("protocol %s: %s (got %v)", e.Field, e.Reason, e.Value)
}

// ComputationError reports a degenerate division or a non-finite result in
// the protocol series. An empty Reason means the quantity was a zero divisor.
type ComputationError struct {
	Step     int
	Quantity string
	Reason   string
}

func (e ComputationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("protocol step %d: %s %s", e.Step, e.Quantity, e.Reason)
	}
	return fmt.Sprintf("protocol step %d: %s is zero, cannot divide", e.Step, e.Quantity)
}

// CutoffError is returned for cutoff input that is not a finite number.
type CutoffError struct {
	Input string
}

func (e CutoffError) Error() string {
	return fmt.Sprintf("invalid cutoff %q: not a finite number", e.Input)
}

// FieldError names a missing or unrecognized field while decoding a record.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}
