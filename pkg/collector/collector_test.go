package collector

import (
	"errors"
	"fmt"
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srodi/proctop-bpf/pkg/abi"
	"github.com/srodi/proctop-bpf/pkg/collector/system"
	"github.com/srodi/proctop-bpf/pkg/resolve"
	"github.com/srodi/proctop-bpf/pkg/types"
)

type fakeSource struct {
	recs     []abi.TaskRecord
	tasksErr error
	cmdlines map[uint32]string
	cmdErr   error
	net      map[uint32]abi.NetCounters
	netErr   error
}

func (f *fakeSource) Tasks() ([]abi.TaskRecord, error) {
	if f.tasksErr != nil {
		return nil, f.tasksErr
	}
	out := make([]abi.TaskRecord, len(f.recs))
	copy(out, f.recs)
	return out, nil
}

func (f *fakeSource) Cmdlines() (map[uint32]string, error) { return f.cmdlines, f.cmdErr }

func (f *fakeSource) NetCounters() (map[uint32]abi.NetCounters, error) {
	return f.net, f.netErr
}

// fakeSystem advances the aggregate idle counter by step seconds per read.
type fakeSystem struct {
	cpus  int
	step  float64
	total system.CPUTimes
	err   error
}

func (f *fakeSystem) Read() (system.Sample, error) {
	if f.err != nil {
		return system.Sample{}, f.err
	}
	f.total.Idle += f.step
	s := system.Sample{
		Total:  f.total,
		Memory: types.MemoryInfo{Total: 1 << 30},
	}
	for i := 0; i < f.cpus; i++ {
		s.PerCPU = append(s.PerCPU, system.CPUTimes{Idle: f.total.Idle / float64(f.cpus)})
	}
	return s, nil
}

type fakeUsers map[uint32]string

func (f fakeUsers) Username(uid uint32) string {
	if n, ok := f[uid]; ok {
		return n
	}
	return fmt.Sprint(uid)
}

type fakeCgroups struct {
	ticks int
	paths map[uint64]resolve.Cgroup
}

func (f *fakeCgroups) Tick()                            { f.ticks++ }
func (f *fakeCgroups) Resolve(id uint64) resolve.Cgroup { return f.paths[id] }

func task(pid, tid, ppid uint32, comm string) abi.TaskRecord {
	r := abi.TaskRecord{PID: pid, TID: tid, PPID: ppid, State: abi.StateSleeping, Prio: 120, StaticPrio: 120}
	copy(r.Comm[:], comm)
	return r
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCollector(src Source, sys SystemReader) (*Collector, *clock) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := New(Config{
		Source:   src,
		System:   sys,
		Users:    fakeUsers{0: "root", 1000: "alice"},
		PageSize: 4096,
		Logger:   logger,
		Now:      clk.now,
	})
	return c, clk
}

func find(t *testing.T, snap types.Snapshot, pid uint32) types.Process {
	t.Helper()
	for _, p := range snap.Processes {
		if p.PID == pid {
			return p
		}
	}
	t.Fatalf("pid %d not in snapshot", pid)
	return types.Process{}
}

func TestIdleProcessWithZeroTickDelta(t *testing.T) {
	src := &fakeSource{recs: []abi.TaskRecord{task(100, 100, 1, "sleepy")}}
	sys := &fakeSystem{cpus: 4, step: 0}
	c, _ := newTestCollector(src, sys)

	snap, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	p := find(t, snap, 100)
	if p.CPUPercent != 0 || p.MemPercent != 0 {
		t.Fatalf("expected 0%% cpu and mem, got %v %v", p.CPUPercent, p.MemPercent)
	}
	if p.State != types.StateSleeping || p.State.String() != "Sleeping" {
		t.Fatalf("expected Sleeping, got %v", p.State)
	}
}

func TestCPUPercentFollowsTickDelta(t *testing.T) {
	src := &fakeSource{recs: []abi.TaskRecord{task(100, 100, 1, "busy"), task(200, 200, 1, "idle")}}
	// 2 cpus, 2s aggregate per cycle => 1s of wall time per core.
	sys := &fakeSystem{cpus: 2, step: 2}
	c, _ := newTestCollector(src, sys)

	first, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if find(t, first, 100).CPUPercent != 0 {
		t.Fatalf("first sighting must report 0%%")
	}

	// one USER_HZ tick is 10ms
	src.recs[0].UtimeNs += 10_000_000
	second, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	busy, idle := find(t, second, 100), find(t, second, 200)
	if math.Abs(busy.CPUPercent-1) > 1e-9 {
		t.Fatalf("expected 1%% for pid 100, got %v", busy.CPUPercent)
	}
	if idle.CPUPercent != 0 {
		t.Fatalf("pid 200 did no work, got %v", idle.CPUPercent)
	}
	if second.Processes[0].PID != 100 || second.Processes[1].PID != 200 {
		t.Fatalf("order changed: %v, %v", second.Processes[0].PID, second.Processes[1].PID)
	}
}

func TestCPUPercentZeroDelta(t *testing.T) {
	for _, wall := range []float64{0, 1, 1e9, math.MaxFloat64} {
		if got := CPUPercent(0, wall); got != 0 {
			t.Fatalf("CPUPercent(0, %v) = %v", wall, got)
		}
	}
	if got := CPUPercent(5e8, 0); got != 0 {
		t.Fatalf("zero wall time must give 0, got %v", got)
	}
	if got := CPUPercent(5e8, 1e9); got != 50 {
		t.Fatalf("expected 50, got %v", got)
	}
}

func TestWallclockBasis(t *testing.T) {
	src := &fakeSource{recs: []abi.TaskRecord{task(100, 100, 1, "busy")}}
	sys := &fakeSystem{cpus: 8, step: 0}
	c, clk := newTestCollector(src, sys)
	c.cfg.CPUBasis = BasisWallclock

	if _, err := c.Collect(); err != nil {
		t.Fatalf("collect: %v", err)
	}
	clk.t = clk.t.Add(2 * time.Second)
	src.recs[0].UtimeNs += 500_000_000
	snap, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := find(t, snap, 100).CPUPercent; math.Abs(got-25) > 1e-9 {
		t.Fatalf("expected 25%% of a core over 2s, got %v", got)
	}
}

func TestProcessFieldsAndCmdlineFallback(t *testing.T) {
	rec := task(300, 300, 1, "worker")
	rec.RUID = 1000
	rec.RSSPages = 1024
	rec.ShmemPages = 10
	rec.VsizeBytes = 1 << 28
	rec.Prio = 139
	rec.StaticPrio = 139
	rec.CgroupID = 77
	rec.UtimeNs = 1_500_000_000
	rec.StimeNs = 500_000_000
	src := &fakeSource{
		recs:     []abi.TaskRecord{rec, task(400, 400, 1, "nginx")},
		cmdlines: map[uint32]string{400: "nginx -g daemon off;"},
	}
	c, _ := newTestCollector(src, &fakeSystem{cpus: 1, step: 1})
	cg := &fakeCgroups{paths: map[uint64]resolve.Cgroup{77: {
		Path:      "/system.slice/docker-abc.scope",
		Container: types.Container{ID: "abcdef0123456789", Runtime: types.RuntimeDocker},
	}}}
	c.cfg.Cgroups = cg

	snap, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	p := find(t, snap, 300)
	if p.Cmdline != "[worker]" {
		t.Fatalf("expected bracketed comm fallback, got %q", p.Cmdline)
	}
	if p.User != "alice" || p.Nice != 19 || p.Priority != 39 {
		t.Fatalf("unexpected user/nice/prio %q %d %d", p.User, p.Nice, p.Priority)
	}
	if p.ResBytes != 4<<20 || p.ShrBytes != 40960 || p.VirtBytes != 1<<28 {
		t.Fatalf("unexpected memory %d %d %d", p.ResBytes, p.ShrBytes, p.VirtBytes)
	}
	if math.Abs(p.MemPercent-100.0*float64(4<<20)/float64(1<<30)) > 1e-9 {
		t.Fatalf("unexpected mem%% %v", p.MemPercent)
	}
	if p.CPUTimeSecs != 2 {
		t.Fatalf("unexpected cpu time %v", p.CPUTimeSecs)
	}
	if p.Container.Label() != "docker:abcdef012345" || cg.ticks != 1 {
		t.Fatalf("cgroup not resolved: %+v ticks=%d", p.Container, cg.ticks)
	}
	if got := find(t, snap, 400).Cmdline; got != "nginx -g daemon off;" {
		t.Fatalf("unexpected cmdline %q", got)
	}
}

func TestClassificationAndChildren(t *testing.T) {
	src := &fakeSource{recs: []abi.TaskRecord{
		task(1, 1, 0, "systemd"),
		task(2, 2, 0, "kthreadd"),
		task(30, 30, 2, "kworker/0:1"),
		task(500, 500, 1, "app"),
		task(500, 501, 1, "app"), // thread of 500
		task(600, 600, 500, "child"),
		task(700, 700, 9999, "orphan"), // parent not in snapshot
	}}
	c, _ := newTestCollector(src, &fakeSystem{cpus: 1, step: 1})

	snap, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	sys := snap.System
	// every record lands in exactly one class
	if sys.TotalTasks != 7 || sys.Processes != 4 || sys.UserThreads != 1 || sys.KernelThreads != 2 {
		t.Fatalf("unexpected counts %+v", sys)
	}
	if sys.Processes+sys.UserThreads+sys.KernelThreads != sys.TotalTasks {
		t.Fatalf("classes overlap: %+v", sys)
	}
	if len(snap.Processes) != 6 {
		t.Fatalf("kernel thread leaders stay in the process list, got %d rows", len(snap.Processes))
	}
	if !find(t, snap, 30).IsKernelThread || !find(t, snap, 2).IsKernelThread || find(t, snap, 500).IsKernelThread {
		t.Fatalf("kernel thread classification wrong")
	}
	if got := find(t, snap, 500).Children; len(got) != 1 || got[0] != 600 {
		t.Fatalf("unexpected children of 500: %v", got)
	}
	if got := find(t, snap, 2).Children; len(got) != 1 || got[0] != 30 {
		t.Fatalf("unexpected children of 2: %v", got)
	}
	if got := find(t, snap, 1).Children; len(got) != 1 || got[0] != 500 {
		t.Fatalf("orphan 700 must not be linked anywhere, children of 1: %v", got)
	}
}

func TestNetworkRates(t *testing.T) {
	src := &fakeSource{
		recs: []abi.TaskRecord{task(100, 100, 1, "curl")},
		net:  map[uint32]abi.NetCounters{100: {TxBytes: 1000, RxBytes: 5000, Ifindex: 2}},
	}
	c, clk := newTestCollector(src, &fakeSystem{cpus: 1, step: 1})
	first, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if p := find(t, first, 100); p.NetTxRate != 0 || p.NetTxBytes != 1000 || p.Ifindex != 2 {
		t.Fatalf("first cycle must report totals without a rate: %+v", p)
	}

	clk.t = clk.t.Add(2 * time.Second)
	src.net = map[uint32]abi.NetCounters{100: {TxBytes: 3000, RxBytes: 5000, Ifindex: 2}}
	second, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if p := find(t, second, 100); p.NetTxRate != 1000 || p.NetRxRate != 0 {
		t.Fatalf("unexpected rates tx=%v rx=%v", p.NetTxRate, p.NetRxRate)
	}

	// counters reset after pid reuse
	clk.t = clk.t.Add(time.Second)
	src.net = map[uint32]abi.NetCounters{100: {TxBytes: 10}}
	third, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if p := find(t, third, 100); p.NetTxRate != 0 {
		t.Fatalf("decreasing counter must give 0 rate, got %v", p.NetTxRate)
	}
}

func TestDownSubsystemsWarnEveryCycle(t *testing.T) {
	down := errors.New("subsystem not attached")
	src := &fakeSource{
		recs:   []abi.TaskRecord{task(100, 100, 1, "curl")},
		cmdErr: down,
		netErr: down,
	}
	c, _ := newTestCollector(src, &fakeSystem{cpus: 1, step: 1})

	for cycle := 0; cycle < 3; cycle++ {
		snap, err := c.Collect()
		if err != nil {
			t.Fatalf("cycle %d: collect: %v", cycle, err)
		}
		if snap.Degraded != "" || len(snap.Processes) != 1 {
			t.Fatalf("cycle %d: probe failures must not empty the snapshot: %+v", cycle, snap)
		}
		want := []string{
			"command lines unavailable: subsystem not attached",
			"network counters unavailable: subsystem not attached",
		}
		if len(snap.Warnings) != len(want) || snap.Warnings[0] != want[0] || snap.Warnings[1] != want[1] {
			t.Fatalf("cycle %d: unexpected warnings %q", cycle, snap.Warnings)
		}
		if got := snap.Processes[0].Cmdline; got != "[curl]" {
			t.Fatalf("cycle %d: expected comm fallback, got %q", cycle, got)
		}
	}

	src.cmdErr, src.netErr = nil, nil
	snap, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(snap.Warnings) != 0 {
		t.Fatalf("recovered subsystems must clear warnings, got %q", snap.Warnings)
	}
}

func TestDegradedWithoutSource(t *testing.T) {
	c, _ := newTestCollector(nil, &fakeSystem{cpus: 2, step: 2})
	c.cfg.SourceErr = errors.New("operation not permitted")

	snap, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(snap.Processes) != 0 {
		t.Fatalf("expected empty process list")
	}
	if snap.Degraded != "operation not permitted" {
		t.Fatalf("expected the bare reason as degraded indicator, got %q", snap.Degraded)
	}
	if snap.System.NumCPU != 2 || snap.System.Memory.Total == 0 {
		t.Fatalf("system stats must stay valid: %+v", snap.System)
	}
}

func TestIteratorReadFailureDegrades(t *testing.T) {
	src := &fakeSource{tasksErr: errors.New("attaching task iterator: permission denied")}
	c, _ := newTestCollector(src, &fakeSystem{cpus: 1, step: 1})

	snap, err := c.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if snap.Degraded == "" || len(snap.Processes) != 0 {
		t.Fatalf("expected degraded empty snapshot, got %+v", snap)
	}
}

func TestRecordSizeMismatchFailsCycle(t *testing.T) {
	src := &fakeSource{tasksErr: fmt.Errorf("remainder 3: %w", abi.ErrRecordSize)}
	c, _ := newTestCollector(src, &fakeSystem{cpus: 1, step: 1})

	if _, err := c.Collect(); !errors.Is(err, abi.ErrRecordSize) {
		t.Fatalf("expected ErrRecordSize, got %v", err)
	}
	if c.seq != 0 {
		t.Fatalf("failed cycle must not advance state")
	}
}

func TestSystemReadFailure(t *testing.T) {
	sys := &fakeSystem{cpus: 1, step: 1}
	c, _ := newTestCollector(&fakeSource{}, sys)
	sys.err = errors.New("no /proc")
	if _, err := c.Collect(); err == nil {
		t.Fatalf("expected error")
	}
}

// BenchmarkCollect times the user space half of a refresh cycle over a
// process table with threads, cmdlines and network counters.
func BenchmarkCollect(b *testing.B) {
	const procs = 1000
	src := &fakeSource{
		cmdlines: map[uint32]string{},
		net:      map[uint32]abi.NetCounters{},
	}
	for pid := uint32(100); pid < 100+procs; pid++ {
		src.recs = append(src.recs, task(pid, pid, 1, "worker"), task(pid, pid+100_000, 1, "worker"))
		src.cmdlines[pid] = "worker --id " + fmt.Sprint(pid)
		src.net[pid] = abi.NetCounters{TxBytes: uint64(pid), RxBytes: uint64(pid)}
	}
	c, clk := newTestCollector(src, &fakeSystem{cpus: 8, step: 8})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clk.t = clk.t.Add(time.Second)
		for j := range src.recs {
			src.recs[j].UtimeNs += 1_000_000
		}
		snap, err := c.Collect()
		if err != nil || len(snap.Processes) != procs {
			b.Fatalf("collect: %d processes, %v", len(snap.Processes), err)
		}
	}
}
