// Package system reads the system-wide counters shown in the header: CPU
// times, memory, load and uptime.
package system

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/procfs"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/srodi/proctop-bpf/pkg/types"
)

// Seams for tests.
var (
	loadAvg    = load.Avg
	hostUptime = host.Uptime
)

// CPUTimes are cumulative seconds from one /proc/stat cpu line.
type CPUTimes struct {
	User    float64
	Nice    float64
	System  float64
	Idle    float64
	Iowait  float64
	IRQ     float64
	SoftIRQ float64
	Steal   float64
}

// Total is the sum of all tracked states.
func (c CPUTimes) Total() float64 {
	return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
}

func fromProcfs(s procfs.CPUStat) CPUTimes {
	return CPUTimes{
		User:    s.User,
		Nice:    s.Nice,
		System:  s.System,
		Idle:    s.Idle,
		Iowait:  s.Iowait,
		IRQ:     s.IRQ,
		SoftIRQ: s.SoftIRQ,
		Steal:   s.Steal,
	}
}

// sub saturates at zero; counters can step back after CPU hotplug.
func sub(a, b float64) float64 {
	if a < b {
		return 0
	}
	return a - b
}

// Usage turns two cumulative samples into percentages of the interval.
func Usage(prev, cur CPUTimes) types.CPUUsage {
	d := CPUTimes{
		User:    sub(cur.User, prev.User),
		Nice:    sub(cur.Nice, prev.Nice),
		System:  sub(cur.System, prev.System),
		Idle:    sub(cur.Idle, prev.Idle),
		Iowait:  sub(cur.Iowait, prev.Iowait),
		IRQ:     sub(cur.IRQ, prev.IRQ),
		SoftIRQ: sub(cur.SoftIRQ, prev.SoftIRQ),
		Steal:   sub(cur.Steal, prev.Steal),
	}
	total := d.Total()
	if total <= 0 {
		return types.CPUUsage{}
	}
	pct := func(v float64) float64 { return v / total * 100 }
	return types.CPUUsage{
		User:    pct(d.User),
		Nice:    pct(d.Nice),
		System:  pct(d.System),
		Idle:    pct(d.Idle),
		Iowait:  pct(d.Iowait),
		IRQ:     pct(d.IRQ),
		SoftIRQ: pct(d.SoftIRQ),
		Steal:   pct(d.Steal),
		Busy:    pct(total - d.Idle - d.Iowait),
	}
}

// Sample is one read of the system counters.
type Sample struct {
	Total  CPUTimes
	PerCPU []CPUTimes
	Memory types.MemoryInfo
	Load   [3]float64
	Uptime time.Duration
}

// NumCPU is the number of online CPUs in the sample, at least one.
func (s Sample) NumCPU() int {
	if len(s.PerCPU) == 0 {
		return 1
	}
	return len(s.PerCPU)
}

// Reader reads samples from a procfs mount.
type Reader struct {
	fs procfs.FS
}

// NewReader opens the procfs mounted at root (normally /proc).
func NewReader(root string) (*Reader, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("opening procfs %s: %w", root, err)
	}
	return &Reader{fs: fs}, nil
}

// FS exposes the underlying procfs handle.
func (r *Reader) FS() procfs.FS {
	return r.fs
}

// Read samples CPU and memory counters. Load and uptime are best effort and
// left zero when unavailable.
func (r *Reader) Read() (Sample, error) {
	stat, err := r.fs.Stat()
	if err != nil {
		return Sample{}, fmt.Errorf("reading stat: %w", err)
	}
	mi, err := r.fs.Meminfo()
	if err != nil {
		return Sample{}, fmt.Errorf("reading meminfo: %w", err)
	}
	mem, err := memoryInfo(mi)
	if err != nil {
		return Sample{}, err
	}

	s := Sample{
		Total:  fromProcfs(stat.CPUTotal),
		Memory: mem,
	}
	ids := make([]int64, 0, len(stat.CPU))
	for id := range stat.CPU {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s.PerCPU = append(s.PerCPU, fromProcfs(stat.CPU[id]))
	}

	if avg, err := loadAvg(); err == nil {
		s.Load = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}
	if up, err := hostUptime(); err == nil {
		s.Uptime = time.Duration(up) * time.Second
	}
	return s, nil
}
