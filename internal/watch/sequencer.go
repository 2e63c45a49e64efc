package watch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"shift2me/internal/stepfile"
)

// IngestFunc ingests one step file.
type IngestFunc func(ctx context.Context, path string) error

// Sequencer holds step files that arrive ahead of their turn and hands them
// to the ingest function in step order.
type Sequencer struct {
	mu      sync.Mutex
	next    int
	pending map[int]string
	ingest  IngestFunc
	logger  *slog.Logger
}

// NewSequencer starts expecting step next.
func NewSequencer(next int, ingest IngestFunc, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sequencer{next: next, pending: make(map[int]string), ingest: ingest, logger: logger}
}

// Next returns the step number expected next.
func (s *Sequencer) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Pending returns the buffered step numbers in order.
func (s *Sequencer) Pending() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := make([]int, 0, len(s.pending))
	for step := range s.pending {
		steps = append(steps, step)
	}
	slices.Sort(steps)
	return steps
}

// Offer queues path and ingests every file whose step is now next. It
// returns the ingested paths. Files for steps already ingested are ignored.
// When an ingest fails the file is dropped, the expected step stays the same
// and the error is returned.
func (s *Sequencer) Offer(ctx context.Context, path string) ([]string, error) {
	step, err := stepfile.StepNumber(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if step < s.next {
		s.logger.Warn("ignoring step already ingested", "path", path, "step", step, "next", s.next)
		return nil, nil
	}
	if prev, ok := s.pending[step]; ok && prev != path {
		s.logger.Warn("replacing queued step file", "step", step, "old", prev, "new", path)
	}
	s.pending[step] = path
	if step > s.next {
		s.logger.Info("queued step file", "path", path, "step", step, "next", s.next)
	}

	var done []string
	for {
		p, ok := s.pending[s.next]
		if !ok {
			return done, nil
		}
		delete(s.pending, s.next)
		if err := s.ingest(ctx, p); err != nil {
			return done, fmt.Errorf("ingest step %d: %w", s.next, err)
		}
		done = append(done, p)
		s.next++
	}
}
