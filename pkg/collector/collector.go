// Package collector runs one refresh cycle: it drains the task iterator,
// joins the kernel tables, computes deltas against the previous cycle and
// assembles a types.Snapshot.
package collector

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srodi/proctop-bpf/pkg/abi"
	"github.com/srodi/proctop-bpf/pkg/collector/system"
	"github.com/srodi/proctop-bpf/pkg/resolve"
	"github.com/srodi/proctop-bpf/pkg/types"
)

// Source is the kernel side as the collector sees it. kernel.Collector
// implements it.
type Source interface {
	Tasks() ([]abi.TaskRecord, error)
	Cmdlines() (map[uint32]string, error)
	NetCounters() (map[uint32]abi.NetCounters, error)
}

// SystemReader provides system-wide counters.
type SystemReader interface {
	Read() (system.Sample, error)
}

// UserResolver maps uids to names.
type UserResolver interface {
	Username(uid uint32) string
}

// CgroupResolver maps cgroup ids to paths. Tick is called once per cycle.
type CgroupResolver interface {
	Tick()
	Resolve(id uint64) resolve.Cgroup
}

// GPUUsage is per-process GPU utilisation from an external poller.
type GPUUsage struct {
	Percent  float64
	MemBytes uint64
}

// GPUSource is an optional GPU poller.
type GPUSource interface {
	Usage() map[uint32]GPUUsage
}

// CPUBasis selects the denominator of per-process CPU%.
type CPUBasis string

const (
	// BasisTicks divides the aggregate /proc/stat delta across cores.
	BasisTicks CPUBasis = "ticks"
	// BasisWallclock uses the elapsed time between two collects.
	BasisWallclock CPUBasis = "wallclock"
)

// Config wires a Collector. Source may be nil, in which case SourceErr
// explains why and every snapshot is degraded.
type Config struct {
	Source    Source
	SourceErr error
	System    SystemReader
	Users     UserResolver
	Cgroups   CgroupResolver
	GPU       GPUSource
	PageSize  uint64
	CPUBasis  CPUBasis
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

// Collector carries the previous cycle's counters between calls to Collect.
// It is not safe for concurrent use.
type Collector struct {
	cfg Config
	log logrus.FieldLogger

	prevSys system.Sample
	prevAt  time.Time
	prevCPU map[uint32]uint64
	prevNet map[uint32]abi.NetCounters
	seq     uint64

	warned map[string]bool
}

// New creates a collector and takes the first system sample so the first
// Collect already has a delta base.
func New(cfg Config) *Collector {
	if cfg.PageSize == 0 {
		cfg.PageSize = 4096
	}
	if cfg.CPUBasis == "" {
		cfg.CPUBasis = BasisTicks
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Collector{
		cfg:     cfg,
		log:     log.WithField("component", "collector"),
		prevCPU: map[uint32]uint64{},
		prevNet: map[uint32]abi.NetCounters{},
		warned:  map[string]bool{},
	}
	if s, err := cfg.System.Read(); err == nil {
		c.prevSys = s
		c.prevAt = cfg.Now()
	} else {
		c.log.WithError(err).Warn("priming system sample failed")
	}
	return c
}

// Collect runs one cycle. An error means the cycle produced nothing usable
// and the caller should keep its previous state; a kernel side that cannot
// be read instead yields a snapshot with Degraded set.
func (c *Collector) Collect() (types.Snapshot, error) {
	now := c.cfg.Now()
	sample, err := c.cfg.System.Read()
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("reading system stats: %w", err)
	}

	snap := types.Snapshot{
		CollectedAt: now,
		System:      c.systemInfo(sample),
	}

	if c.cfg.Source == nil {
		snap.Degraded = degradedMessage(c.cfg.SourceErr)
		c.commit(&snap, sample, now, nil)
		return snap, nil
	}

	recs, err := c.cfg.Source.Tasks()
	if errors.Is(err, abi.ErrRecordSize) {
		return types.Snapshot{}, fmt.Errorf("parsing task records: %w", err)
	}
	if err != nil {
		c.warnOnce("iterator", err)
		snap.Degraded = degradedMessage(err)
		c.commit(&snap, sample, now, nil)
		return snap, nil
	}
	c.warned["iterator"] = false

	cmdlines, err := c.cfg.Source.Cmdlines()
	if err != nil {
		c.warnOnce("cmdline", err)
		snap.Warnings = append(snap.Warnings, "command lines unavailable: "+err.Error())
	} else {
		c.warned["cmdline"] = false
	}
	netCounters, err := c.cfg.Source.NetCounters()
	if err != nil {
		c.warnOnce("network", err)
		snap.Warnings = append(snap.Warnings, "network counters unavailable: "+err.Error())
	} else {
		c.warned["network"] = false
	}
	if c.cfg.Cgroups != nil {
		c.cfg.Cgroups.Tick()
	}
	var gpu map[uint32]GPUUsage
	if c.cfg.GPU != nil {
		gpu = c.cfg.GPU.Usage()
	}

	wallNs := c.wallPerCoreNs(sample, now)
	elapsed := now.Sub(c.prevAt).Seconds()
	if c.prevAt.IsZero() {
		elapsed = 0
	}

	procs := make([]types.Process, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		kthread := r.PPID == 2 || r.PID == 2
		switch {
		case kthread:
			snap.System.KernelThreads++
		case r.TID != r.PID:
			snap.System.UserThreads++
		default:
			snap.System.Processes++
		}
		if r.TID != r.PID {
			continue
		}

		p := c.process(r, wallNs, sample.Memory.Total)
		p.IsKernelThread = kthread
		if cmd, ok := cmdlines[r.PID]; ok && cmd != "" {
			p.Cmdline = cmd
		} else {
			p.Cmdline = "[" + p.Comm + "]"
		}
		if nc, ok := netCounters[r.PID]; ok {
			p.NetTxBytes, p.NetRxBytes, p.Ifindex = nc.TxBytes, nc.RxBytes, nc.Ifindex
			if prev, ok := c.prevNet[r.PID]; ok && elapsed > 0 {
				p.NetTxRate = rate(prev.TxBytes, nc.TxBytes, elapsed)
				p.NetRxRate = rate(prev.RxBytes, nc.RxBytes, elapsed)
			}
		}
		if g, ok := gpu[r.PID]; ok {
			p.GPUPercent, p.GPUMemBytes = g.Percent, g.MemBytes
		}

		switch p.State {
		case types.StateRunning:
			snap.System.Running++
		case types.StateSleeping, types.StateIdle:
			snap.System.Sleeping++
		}
		procs = append(procs, p)
	}
	snap.System.TotalTasks = len(recs)

	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	linkChildren(procs)

	snap.Processes = procs
	c.commit(&snap, sample, now, netCounters)
	return snap, nil
}

func (c *Collector) process(r *abi.TaskRecord, wallNs float64, memTotal uint64) types.Process {
	cpuNs := r.UtimeNs + r.StimeNs
	prev, ok := c.prevCPU[r.PID]
	if !ok || prev > cpuNs {
		prev = cpuNs
	}

	p := types.Process{
		PID:         r.PID,
		PPID:        r.PPID,
		UID:         r.RUID,
		EUID:        r.EUID,
		State:       types.ProcessState(r.State),
		Priority:    r.Prio - 100,
		Nice:        r.StaticPrio - 120,
		VirtBytes:   r.VsizeBytes,
		ResBytes:    r.RSSPages * c.cfg.PageSize,
		ShrBytes:    r.ShmemPages * c.cfg.PageSize,
		CPUPercent:  CPUPercent(cpuNs-prev, wallNs),
		CPUTimeSecs: float64(cpuNs) / 1e9,
		StartTimeNs: r.StartTimeNs,
		Comm:        r.Name(),
		CgroupID:    r.CgroupID,
		PrevCPUNs:   cpuNs,
	}
	if memTotal > 0 {
		p.MemPercent = float64(p.ResBytes) / float64(memTotal) * 100
	}
	if c.cfg.Users != nil {
		p.User = c.cfg.Users.Username(r.RUID)
	} else {
		p.User = fmt.Sprint(r.RUID)
	}
	if c.cfg.Cgroups != nil {
		cg := c.cfg.Cgroups.Resolve(r.CgroupID)
		p.CgroupPath, p.Container, p.Service = cg.Path, cg.Container, cg.Service
	}
	return p
}

// CPUPercent is a process's share of one core over the cycle. A zero
// denominator yields 0.
func CPUPercent(cpuDeltaNs uint64, wallPerCoreNs float64) float64 {
	if cpuDeltaNs == 0 || wallPerCoreNs <= 0 {
		return 0
	}
	return float64(cpuDeltaNs) / wallPerCoreNs * 100
}

// wallPerCoreNs is the CPU% denominator for this cycle.
func (c *Collector) wallPerCoreNs(sample system.Sample, now time.Time) float64 {
	if c.cfg.CPUBasis == BasisWallclock {
		if c.prevAt.IsZero() {
			return 0
		}
		return float64(now.Sub(c.prevAt).Nanoseconds())
	}
	delta := sample.Total.Total() - c.prevSys.Total.Total()
	if delta <= 0 {
		return 0
	}
	return delta * 1e9 / float64(sample.NumCPU())
}

func (c *Collector) systemInfo(sample system.Sample) types.SystemInfo {
	info := types.SystemInfo{
		CPU:    system.Usage(c.prevSys.Total, sample.Total),
		NumCPU: sample.NumCPU(),
		Memory: sample.Memory,
		Load:   sample.Load,
		Uptime: sample.Uptime,
	}
	for i, cur := range sample.PerCPU {
		var prev system.CPUTimes
		if i < len(c.prevSys.PerCPU) {
			prev = c.prevSys.PerCPU[i]
		}
		info.PerCPU = append(info.PerCPU, system.Usage(prev, cur))
	}
	return info
}

// commit stores this cycle's counters as the base for the next one.
func (c *Collector) commit(snap *types.Snapshot, sample system.Sample, now time.Time, net map[uint32]abi.NetCounters) {
	c.seq++
	snap.Seq = c.seq
	c.prevSys = sample
	c.prevAt = now

	cpu := make(map[uint32]uint64, len(snap.Processes))
	for i := range snap.Processes {
		cpu[snap.Processes[i].PID] = snap.Processes[i].PrevCPUNs
	}
	c.prevCPU = cpu
	if net == nil {
		net = map[uint32]abi.NetCounters{}
	}
	c.prevNet = net
}

func (c *Collector) warnOnce(key string, err error) {
	if c.warned[key] {
		c.log.WithError(err).WithField("subsystem", key).Debug("kernel read failed")
		return
	}
	c.warned[key] = true
	c.log.WithError(err).WithField("subsystem", key).Warn("kernel read failed")
}

// degradedMessage is the reason shown after the UI's own degraded prefix.
func degradedMessage(err error) string {
	if err == nil {
		return "kernel collector not loaded"
	}
	return err.Error()
}

// rate returns bytes per second, or 0 if the counter went backwards after
// the pid was reused.
func rate(prev, cur uint64, secs float64) float64 {
	if cur < prev || secs <= 0 {
		return 0
	}
	return float64(cur-prev) / secs
}

// linkChildren fills Children from PPID. procs must be sorted by pid, so
// every child list comes out ascending.
func linkChildren(procs []types.Process) {
	idx := make(map[uint32]int, len(procs))
	for i := range procs {
		idx[procs[i].PID] = i
	}
	for i := range procs {
		p := &procs[i]
		if p.PPID == 0 || p.PPID == p.PID {
			continue
		}
		if j, ok := idx[p.PPID]; ok {
			procs[j].Children = append(procs[j].Children, p.PID)
		}
	}
}
