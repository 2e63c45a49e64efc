package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DefaultName names titrations created without one.
const DefaultName = "Unnamed Titration"

// Titration is the residue registry of one NMR titration. It ingests step
// files in order and keeps the derived views (completeness partition,
// intensity matrix, cutoff filter) consistent after every mutation.
//
// A Titration is not safe for concurrent use.
type Titration struct {
	id       string
	name     string
	residues map[int]*Residue
	steps    int
	files    []string
	cutoff   *float64
	selected map[int]struct{}
	protocol Protocol

	complete    map[int]*Residue
	incomplete  map[int]*Residue
	filtered    map[int]*Residue
	order       []int
	last        map[int]float64
	intensities [][]float64

	observers observers
}

// NewTitration returns an empty titration.
func NewTitration(name string) *Titration {
	t := &Titration{
		id:       uuid.NewString(),
		name:     normalizeName(name),
		residues: make(map[int]*Residue),
		selected: make(map[int]struct{}),
		protocol: Protocol{}.WithDefaults(),
	}
	_ = t.recompute()
	return t
}

func normalizeName(name string) string {
	if strings.TrimSpace(name) == "" {
		return DefaultName
	}
	return name
}

// ID returns the titration identifier.
func (t *Titration) ID() string { return t.id }

// Name returns the titration name.
func (t *Titration) Name() string { return t.name }

// SetName renames the titration. A blank name restores the default.
func (t *Titration) SetName(name string) { t.name = normalizeName(name) }

// Steps returns the number of ingested steps, the reference included.
func (t *Titration) Steps() int { return t.steps }

// Files returns the source of every ingested step, in order.
func (t *Titration) Files() []string { return slices.Clone(t.files) }

// IngestStep merges one step's records. The step must be the next one in
// sequence and carry at least one record. Either the whole step is applied
// or the titration is left untouched.
func (t *Titration) IngestStep(in StepInput) error {
	if in.Step != t.steps {
		return StepOrderError{Expected: t.steps, Got: in.Step}
	}
	if len(in.Records) == 0 {
		if in.Source == "" {
			return ErrEmptyStep
		}
		return fmt.Errorf("%s: %w", in.Source, ErrEmptyStep)
	}
	if in.Volume != nil {
		if err := checkVolume(in.Step, *in.Volume); err != nil {
			return err
		}
	}

	staged := t.stage()
	for _, rec := range in.Records {
		if r, ok := staged.residues[rec.Position]; ok {
			r.Append(rec.H, rec.N)
			continue
		}
		staged.residues[rec.Position] = NewMeasuredResidue(rec.Position, rec.H, rec.N)
	}
	staged.steps++
	staged.files = append(staged.files, in.Source)
	staged.backfill()
	if in.Volume != nil {
		staged.protocol.Volumes = placeVolume(staged.protocol.Volumes, in.Step, *in.Volume)
	}
	if err := staged.recompute(); err != nil {
		return err
	}

	t.adopt(staged)
	t.observers.notify(Event{Type: EventStepIngested, Step: t.steps, Source: in.Source})
	return nil
}

func checkVolume(step int, v float64) error {
	field := fmt.Sprintf("add_volumes[%d]", step)
	switch {
	case !isFinite(v):
		return ConfigValidationError{Field: field, Value: v, Reason: "must be a finite number"}
	case v < 0:
		return ConfigValidationError{Field: field, Value: v, Reason: "must not be negative"}
	case step == 0 && v != 0:
		return ConfigValidationError{Field: field, Value: v, Reason: "first volume must be 0"}
	}
	return nil
}

func placeVolume(vols []float64, step int, v float64) []float64 {
	for len(vols) < step {
		vols = append(vols, 0)
	}
	if step < len(vols) {
		vols[step] = v
		return vols
	}
	return append(vols, v)
}

// backfill creates empty placeholders at every position missing between the
// lowest and highest known ones.
func (t *Titration) backfill() {
	if len(t.residues) == 0 {
		return
	}
	positions := slices.Collect(maps.Keys(t.residues))
	lo, hi := slices.Min(positions), slices.Max(positions)
	for pos := lo; pos <= hi; pos++ {
		if _, ok := t.residues[pos]; !ok {
			t.residues[pos] = NewResidue(pos)
		}
	}
}

func (t *Titration) recompute() error {
	t.complete = make(map[int]*Residue)
	t.incomplete = make(map[int]*Residue)
	t.last = make(map[int]float64)
	for pos, r := range t.residues {
		if t.steps > 0 && r.Valid(t.steps) {
			t.complete[pos] = r
			continue
		}
		t.incomplete[pos] = r
	}
	t.order = slices.Sorted(maps.Keys(t.complete))

	rows := max(t.steps-1, 0)
	t.intensities = make([][]float64, rows)
	for i := range t.intensities {
		t.intensities[i] = make([]float64, len(t.order))
	}
	for k, pos := range t.order {
		values, err := t.complete[pos].Intensity()
		if err != nil {
			return err
		}
		for step := 1; step < t.steps; step++ {
			t.intensities[step-1][k] = values[step]
		}
		t.last[pos] = values[len(values)-1]
	}
	t.refilter()
	return nil
}

func (t *Titration) refilter() {
	t.filtered = make(map[int]*Residue)
	if t.cutoff == nil {
		return
	}
	for _, pos := range t.order {
		if t.last[pos] >= *t.cutoff {
			t.filtered[pos] = t.complete[pos]
		}
	}
}

// stage returns a deep copy to apply a mutation on.
func (t *Titration) stage() *Titration {
	c := &Titration{
		id:       t.id,
		name:     t.name,
		residues: make(map[int]*Residue, len(t.residues)),
		steps:    t.steps,
		files:    slices.Clone(t.files),
		selected: maps.Clone(t.selected),
		protocol: t.protocol.WithDefaults(),
	}
	if t.cutoff != nil {
		v := *t.cutoff
		c.cutoff = &v
	}
	for pos, r := range t.residues {
		c.residues[pos] = r.clone()
	}
	return c
}

func (t *Titration) adopt(staged *Titration) {
	obs := t.observers
	*t = *staged
	t.observers = obs
}

// Clone returns an independent copy without observers.
func (t *Titration) Clone() *Titration {
	c := t.stage()
	c.adoptViews(t)
	return c
}

// adoptViews copies the derived views of src onto t, whose residues were
// staged from src.
func (t *Titration) adoptViews(src *Titration) {
	t.order = slices.Clone(src.order)
	t.last = maps.Clone(src.last)
	t.intensities = src.Intensities()
	t.complete = pick(t.residues, src.complete)
	t.incomplete = pick(t.residues, src.incomplete)
	t.filtered = pick(t.residues, src.filtered)
}

func pick(residues map[int]*Residue, keys map[int]*Residue) map[int]*Residue {
	out := make(map[int]*Residue, len(keys))
	for pos := range keys {
		out[pos] = residues[pos]
	}
	return out
}

// Subscribe registers fn for change notifications and returns a function
// removing it.
func (t *Titration) Subscribe(fn Observer) func() {
	return t.observers.add(fn)
}

// Residues returns every residue keyed by position, placeholders included.
func (t *Titration) Residues() map[int]*Residue { return cloneResidues(t.residues) }

// Complete returns residues with data at every ingested step.
func (t *Titration) Complete() map[int]*Residue { return cloneResidues(t.complete) }

// Incomplete returns residues missing data for at least one step.
func (t *Titration) Incomplete() map[int]*Residue { return cloneResidues(t.incomplete) }

// Filtered returns complete residues whose latest intensity reaches the
// cutoff. It is empty while no cutoff is set.
func (t *Titration) Filtered() map[int]*Residue { return cloneResidues(t.filtered) }

// Selected returns the residues picked with Select.
func (t *Titration) Selected() map[int]*Residue {
	out := make(map[int]*Residue, len(t.selected))
	for pos := range t.selected {
		if r, ok := t.residues[pos]; ok {
			out[pos] = r.clone()
		}
	}
	return out
}

func cloneResidues(in map[int]*Residue) map[int]*Residue {
	out := make(map[int]*Residue, len(in))
	for pos, r := range in {
		out[pos] = r.clone()
	}
	return out
}

// Positions returns every known position in ascending order.
func (t *Titration) Positions() []int { return slices.Sorted(maps.Keys(t.residues)) }

// CompletePositions returns complete positions in ascending order. It is
// also the column order of Intensities.
func (t *Titration) CompletePositions() []int { return slices.Clone(t.order) }

// IncompletePositions returns incomplete positions in ascending order.
func (t *Titration) IncompletePositions() []int { return slices.Sorted(maps.Keys(t.incomplete)) }

// FilteredPositions returns filtered positions in ascending order.
func (t *Titration) FilteredPositions() []int { return slices.Sorted(maps.Keys(t.filtered)) }

// SelectedPositions returns selected positions in ascending order.
func (t *Titration) SelectedPositions() []int { return slices.Sorted(maps.Keys(t.selected)) }

// Intensities returns the intensity matrix indexed [step-1][ordinal], where
// ordinal follows CompletePositions. The reference step has no row.
func (t *Titration) Intensities() [][]float64 {
	out := make([][]float64, len(t.intensities))
	for i, row := range t.intensities {
		out[i] = slices.Clone(row)
	}
	return out
}

// IntensitiesAt returns the intensities of complete residues at step.
func (t *Titration) IntensitiesAt(step int) ([]float64, bool) {
	if step < 1 || step >= t.steps {
		return nil, false
	}
	return slices.Clone(t.intensities[step-1]), true
}

// LastIntensity returns the latest intensity of a complete residue.
func (t *Titration) LastIntensity(position int) (float64, bool) {
	v, ok := t.last[position]
	return v, ok
}

// SortedSteps returns the steps that carry intensities, in order.
func (t *Titration) SortedSteps() []int {
	out := make([]int, 0, len(t.intensities))
	for step := 1; step < t.steps; step++ {
		out = append(out, step)
	}
	return out
}

// Cutoff returns the current cutoff and whether one is set.
func (t *Titration) Cutoff() (float64, bool) {
	if t.cutoff == nil {
		return 0, false
	}
	return *t.cutoff, true
}

// SetCutoff sets the intensity threshold and refreshes the filtered view.
func (t *Titration) SetCutoff(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return CutoffError{Input: strconv.FormatFloat(v, 'g', -1, 64)}
	}
	t.cutoff = &v
	t.refilter()
	t.observers.notify(Event{Type: EventCutoffChanged, Step: t.steps})
	return nil
}

// ClearCutoff removes the threshold; the filtered view becomes empty.
func (t *Titration) ClearCutoff() {
	t.cutoff = nil
	t.refilter()
	t.observers.notify(Event{Type: EventCutoffChanged, Step: t.steps})
}

// ParseCutoff converts user input to a cutoff value.
func ParseCutoff(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, CutoffError{Input: raw}
	}
	return v, nil
}

// Select adds positions to the selection and returns the unknown positions
// that were skipped.
func (t *Titration) Select(positions ...int) []int {
	var skipped []int
	changed := false
	for _, pos := range positions {
		if _, ok := t.residues[pos]; !ok {
			skipped = append(skipped, pos)
			continue
		}
		if _, ok := t.selected[pos]; !ok {
			t.selected[pos] = struct{}{}
			changed = true
		}
	}
	if changed {
		t.observers.notify(Event{Type: EventSelectionChanged, Step: t.steps})
	}
	return skipped
}

// Deselect removes positions from the selection and returns the unknown
// positions that were skipped. Without arguments the selection is cleared.
func (t *Titration) Deselect(positions ...int) []int {
	if len(positions) == 0 {
		if len(t.selected) > 0 {
			t.selected = make(map[int]struct{})
			t.observers.notify(Event{Type: EventSelectionChanged, Step: t.steps})
		}
		return nil
	}
	var skipped []int
	changed := false
	for _, pos := range positions {
		if _, ok := t.residues[pos]; !ok {
			skipped = append(skipped, pos)
			continue
		}
		if _, ok := t.selected[pos]; ok {
			delete(t.selected, pos)
			changed = true
		}
	}
	if changed {
		t.observers.notify(Event{Type: EventSelectionChanged, Step: t.steps})
	}
	return skipped
}

// Protocol returns a copy of the titration protocol.
func (t *Titration) Protocol() Protocol { return t.protocol.WithDefaults() }

// SetProtocol validates and installs p. A non-empty p.Name also renames the
// titration. On error the previous protocol is kept.
func (t *Titration) SetProtocol(p Protocol) error {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) != "" {
		t.name = p.Name
	}
	p.Name = ""
	t.protocol = p
	t.observers.notify(Event{Type: EventProtocolChanged, Step: t.steps})
	return nil
}

// Volumes returns the titrant volume added at each step.
func (t *Titration) Volumes() []float64 { return slices.Clone(t.protocol.Volumes) }

// SetVolumes replaces every added volume.
func (t *Titration) SetVolumes(vols []float64) error {
	for i, v := range vols {
		if err := checkVolume(i, v); err != nil {
			return err
		}
	}
	t.protocol.Volumes = slices.Clone(vols)
	t.observers.notify(Event{Type: EventProtocolChanged, Step: t.steps})
	return nil
}

// UpdateVolume overwrites the volume of an existing protocol step.
func (t *Titration) UpdateVolume(step int, v float64) error {
	if step < 0 || step >= len(t.protocol.Volumes) {
		return ConfigValidationError{Field: fmt.Sprintf("add_volumes[%d]", step), Reason: "step does not exist"}
	}
	if err := checkVolume(step, v); err != nil {
		return err
	}
	t.protocol.Volumes[step] = v
	t.observers.notify(Event{Type: EventProtocolChanged, Step: t.steps})
	return nil
}

// AddVolume appends the volume of the next protocol step.
func (t *Titration) AddVolume(v float64) error {
	if err := checkVolume(len(t.protocol.Volumes), v); err != nil {
		return err
	}
	t.protocol.Volumes = append(t.protocol.Volumes, v)
	t.observers.notify(Event{Type: EventProtocolChanged, Step: t.steps})
	return nil
}

// IsConsistent reports whether there is one volume per ingested step.
func (t *Titration) IsConsistent() bool { return len(t.protocol.Volumes) == t.steps }

// ProtocolSeries computes the protocol quantities for every known volume.
func (t *Titration) ProtocolSeries() (ProtocolSeries, error) {
	if !t.protocol.Configured() {
		return ProtocolSeries{}, ConfigValidationError{Field: "protocol", Reason: "concentrations and start volumes are not set"}
	}
	return CalculateSeries(t.protocol)
}

// RatioSeries returns the titrant/analyte concentration ratio per step.
func (t *Titration) RatioSeries() ([]float64, error) {
	s, err := t.ProtocolSeries()
	if err != nil {
		return nil, err
	}
	return s.Ratio, nil
}

// Summary returns a human readable digest.
func (t *Titration) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Titration %q (%s)\n", t.name, t.id)
	fmt.Fprintf(&b, "Steps: %d\n", t.steps)
	for i, f := range t.files {
		fmt.Fprintf(&b, "  [%d] %s\n", i, f)
	}
	if c, ok := t.Cutoff(); ok {
		fmt.Fprintf(&b, "Cutoff: %g\n", c)
	} else {
		b.WriteString("Cutoff: none\n")
	}
	fmt.Fprintf(&b, "Residues: %d total, %d complete, %d incomplete, %d filtered, %d selected\n",
		len(t.residues), len(t.complete), len(t.incomplete), len(t.filtered), len(t.selected))
	p := t.protocol
	if p.Configured() {
		fmt.Fprintf(&b, "Protocol: %s %g µM into %s %g µM (%g/%g µL), %d volumes",
			p.Titrant.Name, p.Titrant.Concentration, p.Analyte.Name, p.Analyte.Concentration,
			p.StartVolume.Analyte, p.StartVolume.Total, len(p.Volumes))
	} else {
		fmt.Fprintf(&b, "Protocol: not configured, %d volumes", len(p.Volumes))
	}
	if !t.IsConsistent() {
		b.WriteString(" (inconsistent with steps)")
	}
	b.WriteString("\n")
	return b.String()
}
