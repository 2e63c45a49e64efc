package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

const tolerance = 1e-9

func almostEqual(a, b float64) bool { return math.Abs(a-b) <= tolerance }

func TestResidueAppendSkipsZero(t *testing.T) {
	r := NewResidue(7)
	r.Append(0, 0)
	if !r.Empty() {
		t.Fatalf("expected zero values to be skipped, got %v", r)
	}
	r.Append(8.1, 0)
	if got := len(r.ShiftsH()); got != 1 {
		t.Fatalf("expected one H shift, got %d", got)
	}
	if got := len(r.ShiftsN()); got != 0 {
		t.Fatalf("expected no N shift, got %d", got)
	}
	r.Append(0, 120.5)
	if !r.Valid(1) {
		t.Fatalf("expected residue valid at 1 step: %v", r)
	}
	if r.Valid(2) {
		t.Fatalf("residue must not be valid at 2 steps")
	}
}

func TestResidueDeltasAndIntensity(t *testing.T) {
	r := NewMeasuredResidue(3, 8.0, 120.0)
	r.Append(8.3, 121.0)
	r.Append(8.1, 125.0)

	dH, err := r.DeltaH()
	if err != nil {
		t.Fatalf("delta H: %v", err)
	}
	dN, err := r.DeltaN()
	if err != nil {
		t.Fatalf("delta N: %v", err)
	}
	if dH[0] != 0 || dN[0] != 0 {
		t.Fatalf("reference deltas must be zero: %v %v", dH, dN)
	}
	wantH := []float64{0, 0.3, 0.1}
	wantN := []float64{0, 1, 5}
	for i := range wantH {
		if !almostEqual(dH[i], wantH[i]) || !almostEqual(dN[i], wantN[i]) {
			t.Fatalf("unexpected deltas at %d: %v %v", i, dH, dN)
		}
	}

	intensity, err := r.Intensity()
	if err != nil {
		t.Fatalf("intensity: %v", err)
	}
	for i := range intensity {
		want := math.Sqrt(dH[i]*dH[i] + (dN[i]/5)*(dN[i]/5))
		if !almostEqual(intensity[i], want) {
			t.Fatalf("intensity[%d] = %v, want %v", i, intensity[i], want)
		}
	}
	last, err := r.LastIntensity()
	if err != nil || !almostEqual(last, math.Sqrt(0.01+1)) {
		t.Fatalf("unexpected last intensity %v (%v)", last, err)
	}
}

func TestResidueCacheInvalidatedOnAppend(t *testing.T) {
	r := NewMeasuredResidue(1, 7.0, 100.0)
	first, err := r.Intensity()
	if err != nil {
		t.Fatalf("intensity: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected single intensity, got %v", first)
	}
	r.Append(7.5, 100.0)
	second, err := r.Intensity()
	if err != nil {
		t.Fatalf("intensity: %v", err)
	}
	if len(second) != 2 || !almostEqual(second[1], 0.5) {
		t.Fatalf("stale cache: %v", second)
	}
	second[1] = 42
	again, _ := r.Intensity()
	if again[1] == 42 {
		t.Fatalf("intensity must return a copy")
	}
}

func TestResidueDerivedRequiresBothDimensions(t *testing.T) {
	cases := []struct {
		name string
		r    *Residue
		dim  Dimension
	}{
		{"empty", NewResidue(5), DimensionH},
		{"only H", NewMeasuredResidue(5, 8.2, 0), DimensionN},
		{"only N", NewMeasuredResidue(5, 0, 118.0), DimensionH},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.r.Intensity()
			var incomplete DataIncompleteError
			if !errors.As(err, &incomplete) {
				t.Fatalf("expected DataIncompleteError, got %v", err)
			}
			if incomplete.Position != 5 || incomplete.Dimension != tc.dim {
				t.Fatalf("unexpected error fields %+v", incomplete)
			}
			if _, err := tc.r.DeltaH(); err == nil {
				t.Fatalf("expected DeltaH to fail")
			}
			if _, err := tc.r.Displacement(); err == nil {
				t.Fatalf("expected Displacement to fail")
			}
		})
	}
}

func TestResidueBoundsAndDisplacement(t *testing.T) {
	r := NewMeasuredResidue(9, 8.0, 120.0)
	r.Append(8.4, 119.0)
	r.Append(8.2, 122.0)
	lo, hi, err := r.ShiftBounds(DimensionN)
	if err != nil || lo != 119.0 || hi != 122.0 {
		t.Fatalf("unexpected N bounds %v %v (%v)", lo, hi, err)
	}
	spread, err := r.Range(DimensionH)
	if err != nil || !almostEqual(spread, 0.4) {
		t.Fatalf("unexpected H range %v (%v)", spread, err)
	}
	d, err := r.Displacement()
	if err != nil {
		t.Fatalf("displacement: %v", err)
	}
	if d.OriginH != 8.0 || d.OriginN != 120.0 || !almostEqual(d.DeltaH, 0.2) || !almostEqual(d.DeltaN, 2.0) {
		t.Fatalf("unexpected displacement %+v", d)
	}
	if _, _, err := NewResidue(1).ShiftBounds(DimensionH); err == nil {
		t.Fatalf("expected bounds error on empty residue")
	}
}

func TestResidueJSON(t *testing.T) {
	r := NewMeasuredResidue(12, 8.1, 117.3)
	r.Append(8.2, 0)
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Residue
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Position() != 12 || len(decoded.ShiftsH()) != 2 || len(decoded.ShiftsN()) != 1 {
		t.Fatalf("unexpected decoded residue %v", &decoded)
	}

	var fe FieldError
	if err := json.Unmarshal([]byte(`{"shifts_h":[8.1],"shifts_n":[117]}`), &decoded); !errors.As(err, &fe) || fe.Field != "position" {
		t.Fatalf("expected missing position error, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"position":1,"colour":"red"}`), &decoded); !errors.As(err, &fe) || fe.Field != "colour" {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"position":1,"shifts_h":[0]}`), &decoded); !errors.As(err, &fe) {
		t.Fatalf("expected zero shift rejection, got %v", err)
	}
}
