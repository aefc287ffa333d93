package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/model"
	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/state"
	"go.uber.org/zap"
)

// Scheduler drives one discovery tick per poll period: ingest and aggregate
// with per-chunk trace sweeps, reap, render, publish, commit the cursor and
// persist the state. Ticks never overlap; a tick that exceeds the poll period
// is followed immediately by the next one.
type Scheduler struct {
	state    *state.State
	ingestor *Ingestor
	reaper   *Reaper
	sink     GraphSink
	store    StateStore
	bus      TickEventBus

	pollPeriod time.Duration
	lookback   time.Duration

	logger *zap.Logger
}

func NewScheduler(
	st *state.State,
	ingestor *Ingestor,
	reaper *Reaper,
	sink GraphSink,
	store StateStore,
	bus TickEventBus,
	pollPeriod time.Duration,
	lookback time.Duration,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		state:      st,
		ingestor:   ingestor,
		reaper:     reaper,
		sink:       sink,
		store:      store,
		bus:        bus,
		pollPeriod: pollPeriod,
		lookback:   lookback,
		logger:     logger,
	}
}

// Run executes discovery ticks until the context is cancelled. A failed tick
// is logged and retried at the next period without advancing the cursor.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		start := time.Now()
		if err := s.runTick(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("discovery interrupted; shutting down")
				return nil
			}
			s.logger.Warn("discovery tick failed", zap.Error(err))
		}
		delay := s.pollPeriod - time.Since(start)
		if delay <= 0 {
			// Overrunning tick: start the next one immediately.
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runTick executes a single discovery cycle. Errors above the aggregator are
// caught here; a failed tick never persists partial progress and never
// advances the committed cursor.
func (s *Scheduler) runTick(ctx context.Context) error {
	start := time.Now()
	s.logger.Info("running discovery")

	aggregator := NewAggregator(s.state, s.logger)

	since := start.Add(-s.lookback)
	if s.state.Cursor != nil {
		since = *s.state.Cursor
	}

	for result := range s.ingestor.Stream(ctx, since) {
		if result.Err != nil {
			return fmt.Errorf("failed to stream spans from the trace store: %w", result.Err)
		}
		if err := aggregator.ProcessChunk(result.Spans); err != nil {
			return fmt.Errorf("failed to integrate span chunk: %w", err)
		}
		s.reaper.SweepTraces(time.Now())
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	now := time.Now()
	s.reaper.SweepTraces(now)
	s.reaper.SweepTopology(now)

	topology := RenderTopology(s.state)
	if err := s.sink.Publish(ctx, topology); err != nil {
		return fmt.Errorf("failed to publish topology: %w", err)
	}

	s.state.CommitCursor(aggregator.TentativeCursor())

	if err := s.store.Save(s.state); err != nil {
		// The in-memory state stays authoritative; persisting is retried on
		// the next tick.
		s.logger.Error("failed to persist state", zap.Error(err))
	}

	s.logger.Info("discovery tick complete",
		zap.Int("spans", aggregator.Processed()),
		zap.Int("items", len(topology.Items.Items)),
		zap.Int("relations", len(topology.Items.Relations)),
		zap.Duration("duration", time.Since(start)),
	)

	if s.bus != nil {
		output := model.TickOutput{
			SpansProcessed: aggregator.Processed(),
			Services:       len(s.state.Services),
			Operations:     s.state.CountOperations(),
			Relations:      len(topology.Items.Relations),
			DurationMs:     time.Since(start).Milliseconds(),
		}
		if s.state.Cursor != nil {
			output.Cursor = *s.state.Cursor
		}
		if err := s.bus.Publish(output); err != nil {
			s.logger.Warn("failed to publish tick output", zap.Error(err))
		}
	}

	return nil
}
