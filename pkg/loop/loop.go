// Package loop runs the collector on a fixed interval in its own goroutine
// and publishes each snapshot to a Queue.
package loop

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srodi/proctop-bpf/pkg/types"
)

// Collector produces one snapshot per call.
type Collector interface {
	Collect() (types.Snapshot, error)
}

// Observer is told about every finished cycle.
type Observer interface {
	ObserveCycle(took time.Duration, snap types.Snapshot, err error)
}

// Config wires a Runner.
type Config struct {
	Collector Collector
	Interval  time.Duration
	Queue     *Queue
	Observer  Observer
	Logger    logrus.FieldLogger
}

// Runner owns the Collector once Run starts; nothing else may call it.
type Runner struct {
	cfg Config
	log logrus.FieldLogger
}

// NewRunner validates cfg.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Collector == nil {
		return nil, errors.New("loop: collector is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("loop: queue is required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("loop: interval must be > 0")
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{cfg: cfg, log: log.WithField("component", "loop")}, nil
}

// Run collects once immediately, then on every tick until ctx is cancelled.
// A collect in progress is always allowed to finish; cancellation is only
// observed between cycles.
func (r *Runner) Run(ctx context.Context) error {
	r.log.WithField("interval", r.cfg.Interval).Info("collection loop started")
	r.cycle()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.WithField("reason", ctx.Err()).Info("collection loop stopping")
			return nil
		case <-ticker.C:
			// A tick and a cancellation may be ready together.
			if ctx.Err() != nil {
				continue
			}
			r.cycle()
		}
	}
}

func (r *Runner) cycle() {
	start := time.Now()
	snap, err := r.cfg.Collector.Collect()
	took := time.Since(start)
	if r.cfg.Observer != nil {
		r.cfg.Observer.ObserveCycle(took, snap, err)
	}
	if err != nil {
		r.log.WithError(err).Warn("collect failed")
		return
	}
	if took > r.cfg.Interval {
		r.log.WithField("took", took).Debug("collect overran interval")
	}
	r.cfg.Queue.Push(snap)
}
