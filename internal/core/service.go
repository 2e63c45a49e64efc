package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"shift2me/internal/archive"
	"shift2me/internal/config"
	"shift2me/internal/stepfile"
	"shift2me/pkg/domain"
)

// ErrNoArchive is returned by Replay when no archive is configured.
var ErrNoArchive = errors.New("no step archive configured")

// StepReport describes one ingested step.
type StepReport struct {
	Step       int
	Source     string
	Records    int
	Skipped    []domain.ParseError
	Violations []domain.Violation
	// ArchiveKey is empty when the step was not archived.
	ArchiveKey string
}

// Service owns the active titration. Every mutation is applied to a copy,
// checked, persisted, and only then made visible.
type Service struct {
	mu        sync.Mutex
	titration *domain.Titration
	store     domain.PersistentStore

	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	archive archive.Store
	engine  *domain.RulesEngine

	subsMu  sync.Mutex
	subs    map[int]domain.Observer
	nextSub int
}

// NewService restores the last snapshot from store, or starts an empty titration.
func NewService(ctx context.Context, store domain.PersistentStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("persistent store required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Service{
		store:   store,
		logger:  o.logger,
		clock:   o.clock,
		metrics: o.metrics,
		tracer:  o.tracer,
		audit:   o.audit,
		archive: o.archive,
		engine:  o.engine,
		subs:    make(map[int]domain.Observer),
	}
	state, ok, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		s.titration = domain.NewTitration("")
		s.logger.Debug("starting empty titration", "id", s.titration.ID())
		return s, nil
	}
	t, err := domain.RestoreTitration(state)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	s.titration = t
	s.logger.Debug("restored titration", "id", t.ID(), "steps", t.Steps())
	return s, nil
}

// Subscribe registers fn for events of committed mutations. It returns a
// function removing the subscription.
func (s *Service) Subscribe(fn domain.Observer) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Service) publish(events []domain.Event) {
	if len(events) == 0 {
		return
	}
	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]domain.Observer, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subsMu.Unlock()
	for _, e := range events {
		for _, fn := range fns {
			fn(e)
		}
	}
}

// run wraps an operation with tracing, metrics, audit and logging.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	elapsed := s.clock.Now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, elapsed)

	s.mu.Lock()
	id, steps := s.titration.ID(), s.titration.Steps()
	s.mu.Unlock()
	entry := AuditEntry{
		Operation:   op,
		Status:      AuditStatusSuccess,
		TitrationID: id,
		Steps:       steps,
		Timestamp:   start,
		Duration:    elapsed,
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "op", op, "titration", id, "error", err)
	} else {
		s.logger.Debug("operation completed", "op", op, "titration", id, "duration", elapsed)
	}
	s.audit.Record(ctx, entry)
	return err
}

// commit applies mutate to a copy of the titration, persists the result and
// swaps it in. On any failure the current titration is left untouched.
func (s *Service) commit(ctx context.Context, mutate func(staged *domain.Titration) error) error {
	s.mu.Lock()
	staged := s.titration.Clone()
	var events []domain.Event
	unsubscribe := staged.Subscribe(func(e domain.Event) { events = append(events, e) })
	if err := mutate(staged); err != nil {
		s.mu.Unlock()
		return err
	}
	unsubscribe()
	if err := s.store.Save(ctx, staged.ExportState()); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist snapshot: %w", err)
	}
	s.titration = staged
	s.mu.Unlock()
	s.logger.Debug("snapshot persisted", "titration", staged.ID(), "steps", staged.Steps())
	s.publish(events)
	return nil
}

// AddStepFile opens path and ingests it as the next step.
func (s *Service) AddStepFile(ctx context.Context, path string, volume *float64) (StepReport, error) {
	fh, err := os.Open(path)
	if err != nil {
		return StepReport{}, err
	}
	defer fh.Close()
	return s.AddStep(ctx, path, fh, volume)
}

// AddStep parses r as the step file named source and ingests it as the
// next step. source must carry the next step number. volume, when set, is
// recorded as the titrant volume added before this step.
func (s *Service) AddStep(ctx context.Context, source string, r io.Reader, volume *float64) (StepReport, error) {
	var report StepReport
	err := s.run(ctx, "add_step", func(ctx context.Context) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read %s: %w", source, err)
		}
		var id string
		err = s.commit(ctx, func(staged *domain.Titration) error {
			id = staged.ID()
			rep, err := s.ingest(ctx, staged, source, data, volume)
			report = rep
			return err
		})
		if err != nil {
			return err
		}
		s.logger.Info("step ingested", "step", report.Step, "source", source, "records", report.Records, "skipped", len(report.Skipped))
		report.ArchiveKey = s.archiveStep(ctx, id, report.Step, source, data)
		return nil
	})
	return report, err
}

func (s *Service) ingest(ctx context.Context, staged *domain.Titration, source string, data []byte, volume *float64) (StepReport, error) {
	step, err := stepfile.ValidatePath(source, staged.Steps())
	if err != nil {
		return StepReport{}, err
	}
	parsed, err := stepfile.Parse(bytes.NewReader(data), source)
	if err != nil {
		return StepReport{}, err
	}
	for _, pe := range parsed.Errors {
		s.logger.Warn("skipped unparsable line", "source", pe.Source, "line", pe.Line, "text", pe.Text)
	}
	in := domain.StepInput{Step: step, Source: source, Records: parsed.Records, Volume: volume}
	if err := staged.IngestStep(in); err != nil {
		return StepReport{}, err
	}
	report := StepReport{Step: step, Source: source, Records: len(parsed.Records), Skipped: parsed.Errors}
	res, err := s.engine.Evaluate(ctx, staged, in)
	if err != nil {
		return StepReport{}, fmt.Errorf("evaluate rules: %w", err)
	}
	report.Violations = res.Violations
	for _, v := range res.Violations {
		switch v.Severity {
		case domain.SeverityBlock:
			s.logger.Warn("rule blocked step", "rule", v.Rule, "message", v.Message)
		case domain.SeverityWarn:
			s.logger.Warn("rule warning", "rule", v.Rule, "message", v.Message)
		default:
			s.logger.Info("rule note", "rule", v.Rule, "message", v.Message)
		}
	}
	if res.HasBlocking() {
		return report, domain.RuleViolationError{Result: res}
	}
	return report, nil
}

func (s *Service) archiveStep(ctx context.Context, titrationID string, step int, source string, data []byte) string {
	if s.archive == nil {
		return ""
	}
	key := archive.StepKey(titrationID, source)
	_, err := s.archive.Put(ctx, key, bytes.NewReader(data), archive.StepOptions(titrationID, step))
	switch {
	case errors.Is(err, archive.ErrExists):
		s.logger.Debug("step already archived", "key", key)
	case err != nil:
		s.logger.Warn("archive step failed", "key", key, "error", err)
		return ""
	}
	return key
}

// SetCutoff sets the intensity threshold.
func (s *Service) SetCutoff(ctx context.Context, v float64) error {
	return s.run(ctx, "set_cutoff", func(ctx context.Context) error {
		return s.commit(ctx, func(t *domain.Titration) error { return t.SetCutoff(v) })
	})
}

// SetCutoffText parses raw and sets it as the cutoff.
func (s *Service) SetCutoffText(ctx context.Context, raw string) error {
	v, err := domain.ParseCutoff(raw)
	if err != nil {
		return s.run(ctx, "set_cutoff", func(context.Context) error { return err })
	}
	return s.SetCutoff(ctx, v)
}

// ClearCutoff removes the threshold.
func (s *Service) ClearCutoff(ctx context.Context) error {
	return s.run(ctx, "clear_cutoff", func(ctx context.Context) error {
		return s.commit(ctx, func(t *domain.Titration) error {
			t.ClearCutoff()
			return nil
		})
	})
}

// Select adds positions to the selection and returns those that are unknown.
func (s *Service) Select(ctx context.Context, positions ...int) ([]int, error) {
	var skipped []int
	err := s.run(ctx, "select", func(ctx context.Context) error {
		return s.commit(ctx, func(t *domain.Titration) error {
			skipped = t.Select(positions...)
			return nil
		})
	})
	if len(skipped) > 0 {
		s.logger.Warn("skipped unknown positions", "op", "select", "positions", skipped)
	}
	return skipped, err
}

// Deselect removes positions from the selection; without positions it
// clears it. Unknown positions are returned.
func (s *Service) Deselect(ctx context.Context, positions ...int) ([]int, error) {
	var skipped []int
	err := s.run(ctx, "deselect", func(ctx context.Context) error {
		return s.commit(ctx, func(t *domain.Titration) error {
			skipped = t.Deselect(positions...)
			return nil
		})
	})
	if len(skipped) > 0 {
		s.logger.Warn("skipped unknown positions", "op", "deselect", "positions", skipped)
	}
	return skipped, err
}

// SetProtocol validates and installs p.
func (s *Service) SetProtocol(ctx context.Context, p domain.Protocol) error {
	return s.run(ctx, "set_protocol", func(ctx context.Context) error {
		return s.commit(ctx, func(t *domain.Titration) error { return t.SetProtocol(p) })
	})
}

// LoadProtocolFile reads a YAML or JSON init file and installs its protocol.
func (s *Service) LoadProtocolFile(ctx context.Context, path string) error {
	p, err := config.LoadProtocolFile(path)
	if err != nil {
		return s.run(ctx, "set_protocol", func(context.Context) error { return err })
	}
	if err := s.SetProtocol(ctx, p); err != nil {
		return err
	}
	s.logger.Info("loaded protocol", "path", path)
	return nil
}

// SetVolume overwrites the added volume of an existing protocol step, or
// appends it when step is the next one.
func (s *Service) SetVolume(ctx context.Context, step int, v float64) error {
	return s.run(ctx, "set_volume", func(ctx context.Context) error {
		return s.commit(ctx, func(t *domain.Titration) error {
			if step == len(t.Volumes()) {
				return t.AddVolume(v)
			}
			return t.UpdateVolume(step, v)
		})
	})
}

// Reset replaces the titration with an empty one named name.
func (s *Service) Reset(ctx context.Context, name string) error {
	return s.run(ctx, "reset", func(ctx context.Context) error {
		fresh := domain.NewTitration(name)
		return s.commit(ctx, func(t *domain.Titration) error {
			return t.Restore(fresh.ExportState())
		})
	})
}

// Init replaces the titration with an empty one carrying the protocol's name
// and installs the protocol, in a single commit.
func (s *Service) Init(ctx context.Context, p domain.Protocol) error {
	return s.run(ctx, "init", func(ctx context.Context) error {
		fresh := domain.NewTitration(p.Name)
		return s.commit(ctx, func(t *domain.Titration) error {
			if err := t.Restore(fresh.ExportState()); err != nil {
				return err
			}
			return t.SetProtocol(p)
		})
	})
}

// Replay rebuilds the titration from its archived step files, keeping its
// identity, protocol, cutoff and the still known selected positions. It
// returns the number of steps re-ingested.
func (s *Service) Replay(ctx context.Context) (int, error) {
	var replayed int
	err := s.run(ctx, "replay", func(ctx context.Context) error {
		if s.archive == nil {
			return ErrNoArchive
		}
		return s.commit(ctx, func(t *domain.Titration) error {
			n, err := s.replay(ctx, t)
			replayed = n
			return err
		})
	})
	return replayed, err
}

type archivedStep struct {
	step int
	key  string
}

func (s *Service) replay(ctx context.Context, t *domain.Titration) (int, error) {
	infos, err := s.archive.List(ctx, archive.Prefix(t.ID()))
	if err != nil {
		return 0, fmt.Errorf("list archive: %w", err)
	}
	steps := make([]archivedStep, 0, len(infos))
	for _, info := range infos {
		step, err := stepfile.StepNumber(path.Base(info.Key))
		if err != nil {
			if n, ok := archive.StepOf(info); ok {
				step = n
			} else {
				s.logger.Warn("ignoring archived object", "key", info.Key)
				continue
			}
		}
		steps = append(steps, archivedStep{step: step, key: info.Key})
	}
	if len(steps) == 0 {
		return 0, fmt.Errorf("%w: no step files under %s", archive.ErrNotFound, archive.Prefix(t.ID()))
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].step < steps[j].step })

	sources := make(map[string]string)
	for _, f := range t.Files() {
		sources[filepath.Base(f)] = f
	}
	base := t.ExportState()
	selected := base.Selected
	base.Steps, base.Files, base.Residues, base.Selected = 0, []string{}, nil, []int{}
	if err := t.Restore(base); err != nil {
		return 0, err
	}
	for _, st := range steps {
		_, rc, err := s.archive.Get(ctx, st.key)
		if err != nil {
			return 0, fmt.Errorf("get %s: %w", st.key, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", st.key, err)
		}
		source, ok := sources[path.Base(st.key)]
		if !ok {
			source = path.Base(st.key)
		}
		if _, err := s.ingest(ctx, t, source, data, nil); err != nil {
			return 0, err
		}
	}
	if skipped := t.Select(selected...); len(skipped) > 0 {
		s.logger.Warn("selection dropped after replay", "positions", skipped)
	}
	return len(steps), nil
}

// View calls fn with a read-only copy of the current titration.
func (s *Service) View(fn func(t *domain.Titration)) {
	s.mu.Lock()
	snapshot := s.titration.Clone()
	s.mu.Unlock()
	fn(snapshot)
}

// Summary returns the current titration digest.
func (s *Service) Summary() string {
	var out string
	s.View(func(t *domain.Titration) { out = t.Summary() })
	return out
}

// ArchivedSteps lists the archived step files of the current titration.
func (s *Service) ArchivedSteps(ctx context.Context) ([]archive.Info, error) {
	if s.archive == nil {
		return nil, ErrNoArchive
	}
	var id string
	s.View(func(t *domain.Titration) { id = t.ID() })
	return s.archive.List(ctx, archive.Prefix(id))
}

// Close releases the persistent store.
func (s *Service) Close() error {
	return s.store.Close()
}
