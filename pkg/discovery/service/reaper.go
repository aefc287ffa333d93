package service

import (
	"time"

	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/state"
	"go.uber.org/zap"
)

// Reaper evicts trace fragments older than the skew window and services and
// operations older than the staleness window. The trace sweep runs after each
// ingested chunk and again at end-of-tick; the topology sweep runs at
// end-of-tick only.
type Reaper struct {
	state           *state.State
	skewWindow      time.Duration
	stalenessWindow time.Duration
	logger          *zap.Logger
}

func NewReaper(st *state.State, skewWindow, stalenessWindow time.Duration, logger *zap.Logger) *Reaper {
	return &Reaper{
		state:           st,
		skewWindow:      skewWindow,
		stalenessWindow: stalenessWindow,
		logger:          logger,
	}
}

// SweepTraces drops traces last seen before now minus the skew window. Any
// placeholder evicted this way is a parent that never arrived; its queued
// relations are lost. The skew window bounds memory at the cost of missing
// edges across larger clock gaps.
func (r *Reaper) SweepTraces(now time.Time) {
	removed := r.state.SweepTraces(now.Add(-r.skewWindow))
	if removed > 0 {
		r.logger.Debug("evicted trace fragments",
			zap.Int("traces", removed),
			zap.Duration("skewWindow", r.skewWindow),
		)
	}
}

// SweepTopology drops operations and services last seen before now minus the
// staleness window. Removed ids are not surfaced in the next rendered
// topology; the downstream sink treats absence as deletion.
func (r *Reaper) SweepTopology(now time.Time) {
	operations, services := r.state.SweepTopology(now.Add(-r.stalenessWindow))
	if operations > 0 || services > 0 {
		r.logger.Info("reaped stale topology entries",
			zap.Int("operations", operations),
			zap.Int("services", services),
			zap.Duration("stalenessWindow", r.stalenessWindow),
		)
	}
}
