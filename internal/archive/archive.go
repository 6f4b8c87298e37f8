// Package archive periodically exports the agent assignment history as
// JSONL to long-term destinations (S3, git).
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/relay/internal/clock"
)

// Destination is the interface for an archive target (S3, git, etc.).
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	// Write replaces the archived payload with data.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	src          Source
	destinations []Destination
	interval     time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from src to the given
// destinations at the specified interval.
func NewScheduler(src Source, destinations []Destination, interval time.Duration, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		src:          src,
		destinations: destinations,
		interval:     interval,
		clock:        clk,
		logger:       logger.With("component", "archive"),
	}
}

// Start begins periodic export. It runs an initial export immediately,
// then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to
// finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce exports the full history and writes it to every destination. A
// failing destination does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) {
	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, s.src, &buf, s.clock.Now())
	if err != nil {
		s.logger.Error("archive export failed", "error", err)
		return
	}
	data := buf.Bytes()

	failed := 0
	for _, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			failed++
			s.logger.Error("archive destination write failed", "destination", dest.Name(), "error", err)
		}
	}

	s.logger.Info("archive completed",
		"assignments", n,
		"destinations", len(s.destinations),
		"failed", failed,
		"bytes", len(data))
}

// String describes the scheduler for startup logs.
func (s *Scheduler) String() string {
	return fmt.Sprintf("archive every %s to %d destination(s)", s.interval, len(s.destinations))
}
