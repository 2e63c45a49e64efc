package domain

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func referenceProtocol() Protocol {
	return Protocol{
		Name:        "ref",
		Titrant:     Reagent{Name: "ubq", Concentration: 500},
		Analyte:     Reagent{Name: "sh3", Concentration: 100},
		StartVolume: StartVolume{Analyte: 50, Total: 200},
		Volumes:     []float64{0, 10, 10, 10},
	}
}

func TestCalculateSeries(t *testing.T) {
	s, err := CalculateSeries(referenceProtocol())
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	wantTitrant := []float64{0, 10, 20, 30}
	wantTotal := []float64{200, 210, 220, 230}
	for i := range wantTitrant {
		if s.Titrant[i] != wantTitrant[i] || s.Total[i] != wantTotal[i] {
			t.Fatalf("step %d: titrant %v total %v", i, s.Titrant, s.Total)
		}
	}
	if !almostEqual(s.ConcTitrant[3], 30.0*500/230) {
		t.Fatalf("unexpected titrant concentration %v", s.ConcTitrant[3])
	}
	if !almostEqual(s.ConcAnalyte[3], 50.0*100/230) {
		t.Fatalf("unexpected analyte concentration %v", s.ConcAnalyte[3])
	}
	if !almostEqual(s.Ratio[3], s.ConcTitrant[3]/s.ConcAnalyte[3]) || !almostEqual(s.Ratio[3], 3.0) {
		t.Fatalf("unexpected ratio %v", s.Ratio[3])
	}
	if s.Ratio[0] != 0 {
		t.Fatalf("reference ratio must be 0, got %v", s.Ratio[0])
	}
	rows := s.Rows()
	if len(rows) != 4 || rows[2].Step != 2 || rows[2].Titrant != 20 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestCalculateSeriesIgnoresReferenceVolume(t *testing.T) {
	p := referenceProtocol()
	p.Volumes = []float64{5, 10}
	s, err := CalculateSeries(p)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if s.Titrant[0] != 0 || s.Titrant[1] != 10 || s.Added[0] != 5 {
		t.Fatalf("unexpected series %+v", s)
	}
}

func TestCalculateSeriesGuardsDivision(t *testing.T) {
	p := referenceProtocol()
	p.StartVolume = StartVolume{}
	_, err := CalculateSeries(p)
	var ce ComputationError
	if !errors.As(err, &ce) || ce.Step != 0 || ce.Quantity != "total volume" {
		t.Fatalf("expected total volume computation error, got %v", err)
	}

	p = referenceProtocol()
	p.Analyte.Concentration = 0
	_, err = CalculateSeries(p)
	if !errors.As(err, &ce) || ce.Quantity != "analyte concentration" {
		t.Fatalf("expected analyte computation error, got %v", err)
	}

	s, err := CalculateSeries(Protocol{})
	if err != nil || s.Len() != 0 {
		t.Fatalf("empty volumes should yield empty series: %+v %v", s, err)
	}
}

func TestProtocolValidate(t *testing.T) {
	if err := referenceProtocol().Validate(); err != nil {
		t.Fatalf("reference protocol should validate: %v", err)
	}
	cases := []struct {
		name   string
		mutate func(*Protocol)
		field  string
	}{
		{"titrant concentration", func(p *Protocol) { p.Titrant.Concentration = 0 }, "titrant.concentration"},
		{"analyte concentration", func(p *Protocol) { p.Analyte.Concentration = -3 }, "analyte.concentration"},
		{"total volume", func(p *Protocol) { p.StartVolume.Total = 0 }, "start_volume.total"},
		{"analyte volume", func(p *Protocol) { p.StartVolume.Analyte = 0 }, "start_volume.analyte"},
		{"analyte above total", func(p *Protocol) { p.StartVolume.Analyte = 200 }, "start_volume.analyte"},
		{"first volume", func(p *Protocol) { p.Volumes[0] = 1 }, "add_volumes"},
		{"negative volume", func(p *Protocol) { p.Volumes[2] = -1 }, "add_volumes[2]"},
		{"infinite titrant", func(p *Protocol) { p.Titrant.Concentration = math.Inf(1) }, "titrant.concentration"},
		{"nan analyte", func(p *Protocol) { p.Analyte.Concentration = math.NaN() }, "analyte.concentration"},
		{"infinite total", func(p *Protocol) { p.StartVolume.Total = math.Inf(1) }, "start_volume.total"},
		{"infinite volume", func(p *Protocol) { p.Volumes[3] = math.Inf(1) }, "add_volumes[3]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := referenceProtocol()
			tc.mutate(&p)
			err := p.Validate()
			var cve ConfigValidationError
			if !errors.As(err, &cve) {
				t.Fatalf("expected ConfigValidationError, got %v", err)
			}
			if cve.Field != tc.field {
				t.Fatalf("expected field %s, got %s (%v)", tc.field, cve.Field, err)
			}
		})
	}
}

func TestProtocolValidateRejectsNonFinite(t *testing.T) {
	p := referenceProtocol()
	p.Titrant.Concentration = math.Inf(1)
	var cve ConfigValidationError
	if err := p.Validate(); !errors.As(err, &cve) || cve.Reason != "must be a finite number" {
		t.Fatalf("expected finite reason, got %v", err)
	}
}

func TestCalculateSeriesRejectsNonFinite(t *testing.T) {
	p := referenceProtocol()
	p.Titrant.Concentration = math.Inf(1)
	_, err := CalculateSeries(p)
	var ce ComputationError
	if !errors.As(err, &ce) || ce.Step != 0 || ce.Quantity != "titrant concentration" {
		t.Fatalf("expected titrant concentration computation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "not finite") {
		t.Fatalf("unexpected message %q", err)
	}

	p = referenceProtocol()
	p.Volumes[2] = math.Inf(1)
	if _, err := CalculateSeries(p); !errors.As(err, &ce) || ce.Step != 2 {
		t.Fatalf("expected computation error at step 2, got %v", err)
	}
}

func TestProtocolValidateJoinsFailures(t *testing.T) {
	err := Protocol{}.Validate()
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	msg := err.Error()
	for _, field := range []string{"titrant.concentration", "analyte.concentration", "start_volume.total"} {
		if !strings.Contains(msg, field) {
			t.Fatalf("expected %s in %q", field, msg)
		}
	}
}

func TestProtocolHeadersUseReagentNames(t *testing.T) {
	h := Protocol{}.Headers()
	if h[1] != "Added titrant (µL)" || h[6] != "[titrant]/[analyte]" {
		t.Fatalf("unexpected default headers %v", h)
	}
	h = referenceProtocol().Headers()
	if h[4] != "[ubq] (µM)" || h[5] != "[sh3] (µM)" {
		t.Fatalf("unexpected headers %v", h)
	}
}
