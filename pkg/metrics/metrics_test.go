package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/srodi/proctop-bpf/pkg/types"
)

func TestRecorderObservesCycles(t *testing.T) {
	r := NewRecorder(func() uint64 { return 7 })

	snap := types.Snapshot{
		Seq:       3,
		Degraded:  "iterator unavailable",
		System:    types.SystemInfo{UserThreads: 12},
		Processes: make([]types.Process, 4),
	}
	r.ObserveCycle(10*time.Millisecond, snap, nil)
	r.ObserveCycle(time.Millisecond, types.Snapshot{}, errors.New("boom"))

	if got := testutil.ToFloat64(r.cycles); got != 2 {
		t.Fatalf("cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.failures); got != 1 {
		t.Fatalf("failures = %v, want 1", got)
	}

	families, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := map[string]float64{}
	for _, mf := range families {
		m := mf.GetMetric()[0]
		switch {
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		}
	}
	want := map[string]float64{
		"proctop_processes":           4,
		"proctop_user_threads":        12,
		"proctop_degraded":            1,
		"proctop_snapshot_seq":        3,
		"proctop_queue_dropped_total": 7,
	}
	for name, v := range want {
		if values[name] != v {
			t.Fatalf("%s = %v, want %v", name, values[name], v)
		}
	}
}

func TestRecorderWithoutQueue(t *testing.T) {
	r := NewRecorder(nil)
	if n, err := testutil.GatherAndCount(r.Registry(), "proctop_queue_dropped_total"); err != nil || n != 0 {
		t.Fatalf("expected no queue metric, got %d (%v)", n, err)
	}
}
