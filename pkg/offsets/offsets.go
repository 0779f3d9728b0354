// Package offsets holds the byte offsets the kernel programs use to read
// task_struct and friends without CO-RE relocations. A table is only valid for
// the kernel release and architecture it was generated for; regenerate it with
// cmd/proctop-offsets after a kernel upgrade.
package offsets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrNoBuiltin is returned on architectures without a compiled-in table.
var ErrNoBuiltin = errors.New("no built-in offset table for this architecture")

// TaskOffsets locate fields inside struct task_struct.
type TaskOffsets struct {
	State      uint32 `yaml:"state"`
	ExitState  uint32 `yaml:"exit_state"`
	PID        uint32 `yaml:"pid"`
	TGID       uint32 `yaml:"tgid"`
	RealParent uint32 `yaml:"real_parent"`
	Cred       uint32 `yaml:"cred"`
	Utime      uint32 `yaml:"utime"`
	Stime      uint32 `yaml:"stime"`
	StartTime  uint32 `yaml:"start_time"`
	Comm       uint32 `yaml:"comm"`
	Mm         uint32 `yaml:"mm"`
	Prio       uint32 `yaml:"prio"`
	StaticPrio uint32 `yaml:"static_prio"`
	Cgroups    uint32 `yaml:"cgroups"`
}

// CredOffsets locate the kuid_t fields inside struct cred.
type CredOffsets struct {
	UID  uint32 `yaml:"uid"`
	EUID uint32 `yaml:"euid"`
}

// MmOffsets locate fields inside struct mm_struct.
type MmOffsets struct {
	TotalVM  uint32 `yaml:"total_vm"`
	RSSStat  uint32 `yaml:"rss_stat"`
	ArgStart uint32 `yaml:"arg_start"`
	ArgEnd   uint32 `yaml:"arg_end"`
}

// RSSCounterOffsets describe one element of mm_struct.rss_stat: a
// percpu_counter on 6.2+ kernels, an atomic_long_t before that.
type RSSCounterOffsets struct {
	Stride uint32 `yaml:"stride"`
	Value  uint32 `yaml:"value"`
}

// CgroupOffsets follow task->cgroups->dfl_cgrp->kn->id.
type CgroupOffsets struct {
	CssSetDfltCgrp uint32 `yaml:"css_set_dfl_cgrp"`
	CgroupKn       uint32 `yaml:"cgroup_kn"`
	KernfsNodeID   uint32 `yaml:"kernfs_node_id"`
}

// NetOffsets resolve a socket's interface index.
type NetOffsets struct {
	SockDstCache   uint32 `yaml:"sock_dst_cache"`
	SockBoundDevIf uint32 `yaml:"sock_bound_dev_if"`
	DstEntryDev    uint32 `yaml:"dst_entry_dev"`
	NetDevIfindex  uint32 `yaml:"net_device_ifindex"`
}

// Table is a complete offset set for one (kernel release, architecture).
type Table struct {
	Kernel   string            `yaml:"kernel"`
	Arch     string            `yaml:"arch"`
	PageSize uint64            `yaml:"page_size"`
	Task     TaskOffsets       `yaml:"task_struct"`
	Cred     CredOffsets       `yaml:"cred"`
	Mm       MmOffsets         `yaml:"mm_struct"`
	RSS      RSSCounterOffsets `yaml:"rss_counter"`
	Cgroup   CgroupOffsets     `yaml:"cgroup"`
	Net      NetOffsets        `yaml:"net"`
}

// Builtin returns the table compiled in for the target architecture.
func Builtin() (Table, error) {
	if builtin.Arch == "" {
		return Table{}, ErrNoBuiltin
	}
	return builtin, nil
}

// Load reads a YAML table written by Save.
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("reading offset table: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parsing offset table %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, fmt.Errorf("offset table %s: %w", path, err)
	}
	return t, nil
}

// Save writes the table as YAML.
func (t Table) Save(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encoding offset table: %w", err)
	}
	return enc.Close()
}

// Validate rejects tables that cannot possibly describe a real kernel.
func (t Table) Validate() error {
	if t.PageSize == 0 || t.PageSize&(t.PageSize-1) != 0 {
		return fmt.Errorf("page_size %d is not a power of two", t.PageSize)
	}
	required := map[string]uint32{
		"task_struct.pid":         t.Task.PID,
		"task_struct.tgid":        t.Task.TGID,
		"task_struct.real_parent": t.Task.RealParent,
		"task_struct.cred":        t.Task.Cred,
		"task_struct.comm":        t.Task.Comm,
		"task_struct.mm":          t.Task.Mm,
		"mm_struct.arg_start":     t.Mm.ArgStart,
		"mm_struct.arg_end":       t.Mm.ArgEnd,
		"rss_counter.stride":      t.RSS.Stride,
	}
	for _, name := range sortedKeys(required) {
		if required[name] == 0 {
			return fmt.Errorf("%s is unset", name)
		}
	}
	if t.Mm.ArgEnd <= t.Mm.ArgStart {
		return fmt.Errorf("mm_struct.arg_end (%d) must follow arg_start (%d)", t.Mm.ArgEnd, t.Mm.ArgStart)
	}
	return nil
}

// Variables maps the table onto the const volatile globals declared in
// bpf/proctop.c. Keys are the C identifiers.
func (t Table) Variables() map[string]any {
	return map[string]any{
		"page_size":              t.PageSize,
		"off_task_state":         t.Task.State,
		"off_task_exit_state":    t.Task.ExitState,
		"off_task_pid":           t.Task.PID,
		"off_task_tgid":          t.Task.TGID,
		"off_task_real_parent":   t.Task.RealParent,
		"off_task_cred":          t.Task.Cred,
		"off_task_utime":         t.Task.Utime,
		"off_task_stime":         t.Task.Stime,
		"off_task_start_time":    t.Task.StartTime,
		"off_task_comm":          t.Task.Comm,
		"off_task_mm":            t.Task.Mm,
		"off_task_prio":          t.Task.Prio,
		"off_task_static_prio":   t.Task.StaticPrio,
		"off_task_cgroups":       t.Task.Cgroups,
		"off_cred_uid":           t.Cred.UID,
		"off_cred_euid":          t.Cred.EUID,
		"off_mm_total_vm":        t.Mm.TotalVM,
		"off_mm_rss_stat":        t.Mm.RSSStat,
		"off_mm_arg_start":       t.Mm.ArgStart,
		"off_mm_arg_end":         t.Mm.ArgEnd,
		"off_rss_stride":         t.RSS.Stride,
		"off_rss_value":          t.RSS.Value,
		"off_css_set_dfl_cgrp":   t.Cgroup.CssSetDfltCgrp,
		"off_cgroup_kn":          t.Cgroup.CgroupKn,
		"off_kernfs_node_id":     t.Cgroup.KernfsNodeID,
		"off_sock_dst_cache":     t.Net.SockDstCache,
		"off_sock_bound_dev_if":  t.Net.SockBoundDevIf,
		"off_dst_entry_dev":      t.Net.DstEntryDev,
		"off_net_device_ifindex": t.Net.NetDevIfindex,
	}
}

// Diff lists the variables whose values differ between two tables.
func Diff(a, b Table) []string {
	av, bv := a.Variables(), b.Variables()
	var out []string
	for _, name := range sortedKeys(av) {
		if av[name] != bv[name] {
			out = append(out, fmt.Sprintf("%s: %v != %v", name, av[name], bv[name]))
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
