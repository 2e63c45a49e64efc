package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// NitrogenScale normalizes N shift variations against H ones when combining
// both dimensions into a single intensity.
const NitrogenScale = 5.0

// Dimension names one spectral axis.
type Dimension string

// Spectral dimensions recorded for every residue.
const (
	DimensionH Dimension = "H"
	DimensionN Dimension = "N"
)

// Residue holds the chemical shifts measured for one amino-acid position,
// one value per titration step and dimension.
type Residue struct {
	position int
	shiftsH  []float64
	shiftsN  []float64

	dirty     bool
	deltaH    []float64
	deltaN    []float64
	intensity []float64
}

// NewResidue returns a residue without any measurement. Such placeholders
// stand for positions absent from the step files.
func NewResidue(position int) *Residue {
	return &Residue{position: position, dirty: true}
}

// NewMeasuredResidue returns a residue seeded with its reference shifts.
// Zero values are treated as not measured, so passing a single value yields
// an incomplete residue.
func NewMeasuredResidue(position int, h, n float64) *Residue {
	r := NewResidue(position)
	r.Append(h, n)
	return r
}

// Position returns the residue's sequence position.
func (r *Residue) Position() int { return r.position }

// Append records the shifts of the next step. A value of exactly zero is a
// "not measured" sentinel and is skipped.
func (r *Residue) Append(h, n float64) {
	if h != 0 {
		r.shiftsH = append(r.shiftsH, h)
	}
	if n != 0 {
		r.shiftsN = append(r.shiftsN, n)
	}
	r.dirty = true
}

// ShiftsH returns a copy of the recorded H shifts.
func (r *Residue) ShiftsH() []float64 { return slices.Clone(r.shiftsH) }

// ShiftsN returns a copy of the recorded N shifts.
func (r *Residue) ShiftsN() []float64 { return slices.Clone(r.shiftsN) }

// Shifts returns a copy of the recorded shifts along dim.
func (r *Residue) Shifts(dim Dimension) []float64 {
	if dim == DimensionN {
		return r.ShiftsN()
	}
	return r.ShiftsH()
}

// Valid reports whether both dimensions hold exactly one value per step.
func (r *Residue) Valid(steps int) bool {
	return len(r.shiftsH) == steps && len(r.shiftsN) == steps
}

// Empty reports whether no shift was ever recorded.
func (r *Residue) Empty() bool {
	return len(r.shiftsH) == 0 && len(r.shiftsN) == 0
}

// DeltaH returns the H shift variation relative to the reference step.
func (r *Residue) DeltaH() ([]float64, error) {
	if err := r.refresh(); err != nil {
		return nil, err
	}
	return slices.Clone(r.deltaH), nil
}

// DeltaN returns the N shift variation relative to the reference step.
func (r *Residue) DeltaN() ([]float64, error) {
	if err := r.refresh(); err != nil {
		return nil, err
	}
	return slices.Clone(r.deltaN), nil
}

// Intensity returns sqrt(dH² + (dN/5)²) for every step where both
// dimensions were measured. The reference entry is always 0.
func (r *Residue) Intensity() ([]float64, error) {
	if err := r.refresh(); err != nil {
		return nil, err
	}
	return slices.Clone(r.intensity), nil
}

// LastIntensity returns the intensity at the most recent paired step.
func (r *Residue) LastIntensity() (float64, error) {
	if err := r.refresh(); err != nil {
		return 0, err
	}
	return r.intensity[len(r.intensity)-1], nil
}

func (r *Residue) refresh() error {
	if err := r.requireData(); err != nil {
		return err
	}
	if !r.dirty {
		return nil
	}
	r.deltaH = deltas(r.shiftsH)
	r.deltaN = deltas(r.shiftsN)
	n := min(len(r.deltaH), len(r.deltaN))
	r.intensity = make([]float64, n)
	for i := range n {
		dh := r.deltaH[i]
		dn := r.deltaN[i] / NitrogenScale
		r.intensity[i] = math.Sqrt(dh*dh + dn*dn)
	}
	r.dirty = false
	return nil
}

func (r *Residue) requireData() error {
	if len(r.shiftsH) == 0 {
		return DataIncompleteError{Position: r.position, Dimension: DimensionH}
	}
	if len(r.shiftsN) == 0 {
		return DataIncompleteError{Position: r.position, Dimension: DimensionN}
	}
	return nil
}

func deltas(shifts []float64) []float64 {
	out := slices.Clone(shifts)
	floats.AddConst(-shifts[0], out)
	return out
}

// ShiftBounds returns the smallest and largest shift recorded along dim.
func (r *Residue) ShiftBounds(dim Dimension) (lo, hi float64, err error) {
	values := r.shiftsH
	if dim == DimensionN {
		values = r.shiftsN
	}
	if len(values) == 0 {
		return 0, 0, DataIncompleteError{Position: r.position, Dimension: dim}
	}
	return floats.Min(values), floats.Max(values), nil
}

// Range returns the spread of shifts recorded along dim.
func (r *Residue) Range(dim Dimension) (float64, error) {
	lo, hi, err := r.ShiftBounds(dim)
	if err != nil {
		return 0, err
	}
	return hi - lo, nil
}

// Displacement describes the move of a residue on the H/N shift map between
// the reference step and the latest one.
type Displacement struct {
	OriginH float64 `json:"origin_h"`
	OriginN float64 `json:"origin_n"`
	DeltaH  float64 `json:"delta_h"`
	DeltaN  float64 `json:"delta_n"`
}

// Displacement returns the reference point and the latest shift vector.
func (r *Residue) Displacement() (Displacement, error) {
	if err := r.requireData(); err != nil {
		return Displacement{}, err
	}
	return Displacement{
		OriginH: r.shiftsH[0],
		OriginN: r.shiftsN[0],
		DeltaH:  r.shiftsH[len(r.shiftsH)-1] - r.shiftsH[0],
		DeltaN:  r.shiftsN[len(r.shiftsN)-1] - r.shiftsN[0],
	}, nil
}

func (r *Residue) String() string {
	return fmt.Sprintf("(%d, %v, %v)", r.position, r.shiftsH, r.shiftsN)
}

func (r *Residue) clone() *Residue {
	return &Residue{
		position: r.position,
		shiftsH:  slices.Clone(r.shiftsH),
		shiftsN:  slices.Clone(r.shiftsN),
		dirty:    true,
	}
}

type residueJSON struct {
	Position *int      `json:"position"`
	ShiftsH  []float64 `json:"shifts_h"`
	ShiftsN  []float64 `json:"shifts_n"`
}

// MarshalJSON encodes the raw shifts; derived values are recomputed on load.
func (r *Residue) MarshalJSON() ([]byte, error) {
	pos := r.position
	return json.Marshal(residueJSON{Position: &pos, ShiftsH: nonNil(r.shiftsH), ShiftsN: nonNil(r.shiftsN)})
}

// UnmarshalJSON decodes a residue, rejecting unknown fields and a missing
// position with a FieldError.
func (r *Residue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var raw residueJSON
	if err := dec.Decode(&raw); err != nil {
		if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			return FieldError{Field: strings.Trim(name, `"`), Reason: "unknown field"}
		}
		return err
	}
	if raw.Position == nil {
		return FieldError{Field: "position", Reason: "required"}
	}
	for _, v := range append(slices.Clone(raw.ShiftsH), raw.ShiftsN...) {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return FieldError{Field: "shifts", Reason: fmt.Sprintf("invalid shift value %v", v)}
		}
	}
	*r = Residue{position: *raw.Position, shiftsH: raw.ShiftsH, shiftsN: raw.ShiftsN, dirty: true}
	return nil
}

func nonNil(values []float64) []float64 {
	if values == nil {
		return []float64{}
	}
	return values
}
