package types

import (
	"time"

	"github.com/srodi/proctop-bpf/pkg/abi"
)

// ProcessState is the scheduler state reported by the task iterator.
type ProcessState uint8

const (
	StateRunning  = ProcessState(abi.StateRunning)
	StateSleeping = ProcessState(abi.StateSleeping)
	StateDiskWait = ProcessState(abi.StateDiskWait)
	StateZombie   = ProcessState(abi.StateZombie)
	StateStopped  = ProcessState(abi.StateStopped)
	StateTraced   = ProcessState(abi.StateTraced)
	StateIdle     = ProcessState(abi.StateIdle)
	StateDead     = ProcessState(abi.StateDead)
)

// Char returns the ps(1) state letter.
func (s ProcessState) Char() byte {
	switch s {
	case StateRunning:
		return 'R'
	case StateSleeping:
		return 'S'
	case StateDiskWait:
		return 'D'
	case StateZombie:
		return 'Z'
	case StateStopped:
		return 'T'
	case StateTraced:
		return 't'
	case StateIdle:
		return 'I'
	case StateDead:
		return 'X'
	}
	return '?'
}

func (s ProcessState) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateDiskWait:
		return "DiskWait"
	case StateZombie:
		return "Zombie"
	case StateStopped:
		return "Stopped"
	case StateTraced:
		return "Traced"
	case StateIdle:
		return "Idle"
	case StateDead:
		return "Dead"
	}
	return "Unknown"
}

// ContainerRuntime identifies the engine that created a container cgroup.
type ContainerRuntime string

const (
	RuntimeDocker     ContainerRuntime = "docker"
	RuntimeContainerd ContainerRuntime = "containerd"
	RuntimePodman     ContainerRuntime = "podman"
	RuntimeKubernetes ContainerRuntime = "kubepods"
	RuntimeUnknown    ContainerRuntime = ""
)

// Container is a container identity resolved from a cgroup path.
type Container struct {
	ID      string           `json:"id"`
	Runtime ContainerRuntime `json:"runtime"`
}

// ShortID returns the first 12 characters of the id, as docker ps does.
func (c Container) ShortID() string {
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}

// Label is the compact form shown in the CONT column.
func (c Container) Label() string {
	if c.ID == "" {
		return ""
	}
	if c.Runtime == RuntimeUnknown {
		return c.ShortID()
	}
	return string(c.Runtime) + ":" + c.ShortID()
}

// Process is one process row of a snapshot.
type Process struct {
	PID            uint32       `json:"pid"`
	PPID           uint32       `json:"ppid"`
	UID            uint32       `json:"uid"`
	EUID           uint32       `json:"euid"`
	User           string       `json:"user"`
	State          ProcessState `json:"state"`
	Priority       int32        `json:"priority"`
	Nice           int32        `json:"nice"`
	VirtBytes      uint64       `json:"virt_bytes"`
	ResBytes       uint64       `json:"res_bytes"`
	ShrBytes       uint64       `json:"shr_bytes"`
	CPUPercent     float64      `json:"cpu_percent"`
	MemPercent     float64      `json:"mem_percent"`
	GPUPercent     float64      `json:"gpu_percent"`
	GPUMemBytes    uint64       `json:"gpu_mem_bytes"`
	CPUTimeSecs    float64      `json:"cpu_time_secs"`
	StartTimeNs    uint64       `json:"start_time_ns"`
	Comm           string       `json:"comm"`
	Cmdline        string       `json:"cmdline"`
	CgroupID       uint64       `json:"cgroup_id"`
	CgroupPath     string       `json:"cgroup_path,omitempty"`
	Container      Container    `json:"container"`
	Service        string       `json:"service,omitempty"`
	NetTxBytes     uint64       `json:"net_tx_bytes"`
	NetRxBytes     uint64       `json:"net_rx_bytes"`
	NetTxRate      float64      `json:"net_tx_rate"`
	NetRxRate      float64      `json:"net_rx_rate"`
	Ifindex        uint32       `json:"ifindex,omitempty"`
	IsKernelThread bool         `json:"kernel_thread"`
	Children       []uint32     `json:"children,omitempty"`
	// PrevCPUNs is this cycle's utime+stime, the base of the next delta.
	PrevCPUNs uint64 `json:"-"`
}

// UpdateDynamic copies the fields that change between cycles for a process
// that keeps its pid. Identity fields stay untouched.
func (p *Process) UpdateDynamic(src *Process) {
	p.State = src.State
	p.Priority = src.Priority
	p.Nice = src.Nice
	p.VirtBytes = src.VirtBytes
	p.ResBytes = src.ResBytes
	p.ShrBytes = src.ShrBytes
	p.CPUPercent = src.CPUPercent
	p.MemPercent = src.MemPercent
	p.GPUPercent = src.GPUPercent
	p.GPUMemBytes = src.GPUMemBytes
	p.CPUTimeSecs = src.CPUTimeSecs
	p.Comm = src.Comm
	p.Cmdline = src.Cmdline
	p.User = src.User
	p.CgroupID = src.CgroupID
	p.CgroupPath = src.CgroupPath
	p.Container = src.Container
	p.Service = src.Service
	p.NetTxBytes = src.NetTxBytes
	p.NetRxBytes = src.NetRxBytes
	p.NetTxRate = src.NetTxRate
	p.NetRxRate = src.NetRxRate
	p.Ifindex = src.Ifindex
	p.Children = src.Children
	p.PrevCPUNs = src.PrevCPUNs
}

// CPUUsage is a percentage breakdown of CPU time over one cycle.
type CPUUsage struct {
	User    float64 `json:"user"`
	Nice    float64 `json:"nice"`
	System  float64 `json:"system"`
	Iowait  float64 `json:"iowait"`
	IRQ     float64 `json:"irq"`
	SoftIRQ float64 `json:"softirq"`
	Steal   float64 `json:"steal"`
	Idle    float64 `json:"idle"`
	Busy    float64 `json:"busy"`
}

// MemoryInfo is in bytes.
type MemoryInfo struct {
	Total     uint64 `json:"total"`
	Used      uint64 `json:"used"`
	Free      uint64 `json:"free"`
	Buffers   uint64 `json:"buffers"`
	Cached    uint64 `json:"cached"`
	Available uint64 `json:"available"`
	SwapTotal uint64 `json:"swap_total"`
	SwapUsed  uint64 `json:"swap_used"`
}

// SystemInfo is the system-wide part of a snapshot.
type SystemInfo struct {
	CPU           CPUUsage      `json:"cpu"`
	PerCPU        []CPUUsage    `json:"per_cpu"`
	NumCPU        int           `json:"num_cpu"`
	Memory        MemoryInfo    `json:"memory"`
	Load          [3]float64    `json:"load"`
	Uptime        time.Duration `json:"uptime"`
	TotalTasks    int           `json:"total_tasks"`
	Processes     int           `json:"processes"`
	UserThreads   int           `json:"user_threads"`
	KernelThreads int           `json:"kernel_threads"`
	Running       int           `json:"running"`
	Sleeping      int           `json:"sleeping"`
}

// Snapshot is the output of one collection cycle.
type Snapshot struct {
	Seq         uint64     `json:"seq"`
	CollectedAt time.Time  `json:"collected_at"`
	System      SystemInfo `json:"system"`
	Processes   []Process  `json:"processes"`
	// Degraded is set while the kernel side is unavailable; the process
	// list is empty and System is still valid.
	Degraded string `json:"degraded,omitempty"`
	// Warnings names kernel subsystems that are down while the iterator
	// still works, one entry per subsystem. It is set on every cycle the
	// subsystem stays down.
	Warnings []string `json:"warnings,omitempty"`
}
