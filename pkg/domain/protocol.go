package domain

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/floats"
)

// Default reagent names used when a protocol leaves them blank.
const (
	DefaultTitrantName = "titrant"
	DefaultAnalyteName = "analyte"
)

// Reagent is one of the two titration partners. Concentrations are in µM.
type Reagent struct {
	Name          string  `json:"name" yaml:"name"`
	Concentration float64 `json:"concentration" yaml:"concentration" validate:"finite,gt=0"`
}

// StartVolume holds the initial volumes in µL.
type StartVolume struct {
	Analyte float64 `json:"analyte" yaml:"analyte" validate:"finite,gt=0,ltfield=Total"`
	Total   float64 `json:"total" yaml:"total" validate:"finite,gt=0"`
}

// Protocol describes how titrant is added to the analyte across steps.
// Volumes[i] is the titrant volume (µL) added before step i; Volumes[0]
// belongs to the reference step and must be 0.
type Protocol struct {
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Titrant     Reagent     `json:"titrant" yaml:"titrant"`
	Analyte     Reagent     `json:"analyte" yaml:"analyte"`
	StartVolume StartVolume `json:"start_volume" yaml:"start_volume"`
	Volumes     []float64   `json:"add_volumes" yaml:"add_volumes" validate:"reference_zero,dive,finite,gte=0"`
}

var protocolValidate *validator.Validate

func init() {
	protocolValidate = validator.New(validator.WithRequiredStructEnabled())
	protocolValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = protocolValidate.RegisterValidation("reference_zero", validateReferenceZero)
	_ = protocolValidate.RegisterValidation("finite", validateFinite)
}

func validateFinite(fl validator.FieldLevel) bool {
	return isFinite(fl.Field().Float())
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func validateReferenceZero(fl validator.FieldLevel) bool {
	field := fl.Field()
	return field.Len() == 0 || field.Index(0).Float() == 0
}

// WithDefaults fills blank reagent names and copies the volume slice.
func (p Protocol) WithDefaults() Protocol {
	if strings.TrimSpace(p.Titrant.Name) == "" {
		p.Titrant.Name = DefaultTitrantName
	}
	if strings.TrimSpace(p.Analyte.Name) == "" {
		p.Analyte.Name = DefaultAnalyteName
	}
	p.Volumes = slices.Clone(p.Volumes)
	return p
}

// Validate checks concentrations, start volumes and added volumes. Every
// failing field is reported as a ConfigValidationError, joined together.
func (p Protocol) Validate() error {
	err := protocolValidate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ConfigValidationError{
			Field:  strings.TrimPrefix(fe.Namespace(), "Protocol."),
			Value:  fe.Value(),
			Reason: validationReason(fe),
		})
	}
	return errors.Join(out...)
}

func validationReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "finite":
		return "must be a finite number"
	case "gt":
		return "must be positive"
	case "gte":
		return "must not be negative"
	case "ltfield":
		return "must be lower than total volume"
	case "reference_zero":
		return "first volume must be 0"
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

// Configured reports whether concentrations and start volumes were set.
func (p Protocol) Configured() bool {
	return p.Titrant.Concentration > 0 && p.Analyte.Concentration > 0 && p.StartVolume.Total > 0
}

// Headers returns the protocol table column titles.
func (p Protocol) Headers() []string {
	p = p.WithDefaults()
	t, a := p.Titrant.Name, p.Analyte.Name
	return []string{
		"Step",
		"Added " + t + " (µL)",
		"Total " + t + " (µL)",
		"Total volume (µL)",
		"[" + t + "] (µM)",
		"[" + a + "] (µM)",
		"[" + t + "]/[" + a + "]",
	}
}

// ProtocolSeries holds the per-step protocol quantities as parallel series.
type ProtocolSeries struct {
	Added       []float64 `json:"vol_add"`
	Titrant     []float64 `json:"vol_titrant"`
	Total       []float64 `json:"vol_total"`
	ConcTitrant []float64 `json:"conc_titrant"`
	ConcAnalyte []float64 `json:"conc_analyte"`
	Ratio       []float64 `json:"ratio"`
}

// ProtocolRow is one step of a ProtocolSeries.
type ProtocolRow struct {
	Step        int
	Added       float64
	Titrant     float64
	Total       float64
	ConcTitrant float64
	ConcAnalyte float64
	Ratio       float64
}

// Len returns the number of steps in the series.
func (s ProtocolSeries) Len() int { return len(s.Added) }

// Rows returns the series row by row.
func (s ProtocolSeries) Rows() []ProtocolRow {
	rows := make([]ProtocolRow, s.Len())
	for i := range rows {
		rows[i] = ProtocolRow{
			Step:        i,
			Added:       s.Added[i],
			Titrant:     s.Titrant[i],
			Total:       s.Total[i],
			ConcTitrant: s.ConcTitrant[i],
			ConcAnalyte: s.ConcAnalyte[i],
			Ratio:       s.Ratio[i],
		}
	}
	return rows
}

// CalculateSeries derives cumulative titrant volume, total volume,
// concentrations and the titrant/analyte ratio for every step in
// p.Volumes. A zero divisor yields a ComputationError.
func CalculateSeries(p Protocol) (ProtocolSeries, error) {
	n := len(p.Volumes)
	s := ProtocolSeries{
		Added:       slices.Clone(p.Volumes),
		Titrant:     make([]float64, n),
		Total:       make([]float64, n),
		ConcTitrant: make([]float64, n),
		ConcAnalyte: make([]float64, n),
		Ratio:       make([]float64, n),
	}
	if n == 0 {
		return s, nil
	}
	added := slices.Clone(p.Volumes)
	added[0] = 0
	floats.CumSum(s.Titrant, added)
	copy(s.Total, s.Titrant)
	floats.AddConst(p.StartVolume.Total, s.Total)
	for i := range n {
		if s.Total[i] == 0 {
			return ProtocolSeries{}, ComputationError{Step: i, Quantity: "total volume"}
		}
		s.ConcTitrant[i] = s.Titrant[i] * p.Titrant.Concentration / s.Total[i]
		s.ConcAnalyte[i] = p.StartVolume.Analyte * p.Analyte.Concentration / s.Total[i]
		if s.ConcAnalyte[i] == 0 {
			return ProtocolSeries{}, ComputationError{Step: i, Quantity: "analyte concentration"}
		}
		s.Ratio[i] = s.ConcTitrant[i] / s.ConcAnalyte[i]
		if q := nonFinite(s, i); q != "" {
			return ProtocolSeries{}, ComputationError{Step: i, Quantity: q, Reason: "is not finite"}
		}
	}
	return s, nil
}

// nonFinite names the first computed quantity of step i that is NaN or Inf.
func nonFinite(s ProtocolSeries, i int) string {
	switch {
	case !isFinite(s.Titrant[i]):
		return "titrant volume"
	case !isFinite(s.Total[i]):
		return "total volume"
	case !isFinite(s.ConcTitrant[i]):
		return "titrant concentration"
	case !isFinite(s.ConcAnalyte[i]):
		return "analyte concentration"
	case !isFinite(s.Ratio[i]):
		return "ratio"
	}
	return ""
}
