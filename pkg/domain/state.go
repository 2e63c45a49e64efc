package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"
)

// State is the serializable snapshot of a Titration. Derived views are not
// stored; RestoreTitration recomputes them.
type State struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Steps    int        `json:"steps"`
	Files    []string   `json:"files"`
	Cutoff   *float64   `json:"cutoff,omitempty"`
	Selected []int      `json:"selected"`
	Protocol Protocol   `json:"protocol"`
	Residues []*Residue `json:"residues"`
}

// ExportState captures the titration's persistent state. Residues are
// ordered by position.
func (t *Titration) ExportState() State {
	s := State{
		ID:       t.id,
		Name:     t.name,
		Steps:    t.steps,
		Files:    slices.Clone(t.files),
		Selected: t.SelectedPositions(),
		Protocol: t.protocol.WithDefaults(),
		Residues: make([]*Residue, 0, len(t.residues)),
	}
	if s.Files == nil {
		s.Files = []string{}
	}
	if s.Selected == nil {
		s.Selected = []int{}
	}
	if t.cutoff != nil {
		v := *t.cutoff
		s.Cutoff = &v
	}
	for _, pos := range slices.Sorted(maps.Keys(t.residues)) {
		s.Residues = append(s.Residues, t.residues[pos].clone())
	}
	return s
}

// RestoreTitration rebuilds a titration from a snapshot, checking that it
// satisfies the registry invariants.
func RestoreTitration(s State) (*Titration, error) {
	if s.Steps < 0 {
		return nil, FieldError{Field: "steps", Reason: fmt.Sprintf("negative step count %d", s.Steps)}
	}
	t := NewTitration(s.Name)
	if s.ID != "" {
		t.id = s.ID
	}
	t.steps = s.Steps
	t.files = slices.Clone(s.Files)
	for _, r := range s.Residues {
		if r == nil {
			return nil, FieldError{Field: "residues", Reason: "null residue"}
		}
		if _, dup := t.residues[r.position]; dup {
			return nil, FieldError{Field: "residues", Reason: fmt.Sprintf("duplicate position %d", r.position)}
		}
		if len(r.shiftsH) > s.Steps || len(r.shiftsN) > s.Steps {
			return nil, FieldError{Field: "residues", Reason: fmt.Sprintf("position %d has more shifts than steps", r.position)}
		}
		t.residues[r.position] = r.clone()
	}
	if s.Cutoff != nil {
		if math.IsNaN(*s.Cutoff) || math.IsInf(*s.Cutoff, 0) {
			return nil, FieldError{Field: "cutoff", Reason: "not a finite number"}
		}
		v := *s.Cutoff
		t.cutoff = &v
	}
	for _, pos := range s.Selected {
		if _, ok := t.residues[pos]; !ok {
			return nil, FieldError{Field: "selected", Reason: fmt.Sprintf("unknown position %d", pos)}
		}
		t.selected[pos] = struct{}{}
	}
	p := s.Protocol.WithDefaults()
	if p.Configured() {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	p.Name = ""
	t.protocol = p
	if err := t.recompute(); err != nil {
		return nil, err
	}
	return t, nil
}

// Restore replaces the titration's state with s, keeping observers, and
// notifies them.
func (t *Titration) Restore(s State) error {
	restored, err := RestoreTitration(s)
	if err != nil {
		return err
	}
	t.adopt(restored)
	t.observers.notify(Event{Type: EventRestored, Step: t.steps})
	return nil
}
