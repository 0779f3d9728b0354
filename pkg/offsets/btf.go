package offsets

import (
	"errors"
	"fmt"
	"os"

	"github.com/cilium/ebpf/btf"
)

// ErrMissingField is returned when the kernel's BTF lacks a field the
// programs need.
var ErrMissingField = errors.New("field not found in kernel BTF")

type structLookup func(name string) (*btf.Struct, error)

// FromKernel derives a table from the running kernel's BTF
// (/sys/kernel/btf/vmlinux). Kernel and Arch are left for the caller.
func FromKernel() (Table, error) {
	spec, err := btf.LoadKernelSpec()
	if err != nil {
		return Table{}, fmt.Errorf("loading kernel btf: %w", err)
	}
	return FromBTF(spec)
}

// FromBTF derives a table from a BTF spec.
func FromBTF(spec *btf.Spec) (Table, error) {
	return fromStructs(func(name string) (*btf.Struct, error) {
		var s *btf.Struct
		if err := spec.TypeByName(name, &s); err != nil {
			return nil, fmt.Errorf("looking up struct %s: %w", name, err)
		}
		return s, nil
	})
}

func fromStructs(lookup structLookup) (Table, error) {
	r := resolver{lookup: lookup}
	t := Table{PageSize: uint64(os.Getpagesize())}

	// __state replaced state in 5.14.
	t.Task.State = r.first("task_struct", "__state", "state")
	t.Task.ExitState = r.off("task_struct", "exit_state")
	t.Task.PID = r.off("task_struct", "pid")
	t.Task.TGID = r.off("task_struct", "tgid")
	t.Task.RealParent = r.off("task_struct", "real_parent")
	t.Task.Cred = r.off("task_struct", "cred")
	t.Task.Utime = r.off("task_struct", "utime")
	t.Task.Stime = r.off("task_struct", "stime")
	t.Task.StartTime = r.off("task_struct", "start_time")
	t.Task.Comm = r.off("task_struct", "comm")
	t.Task.Mm = r.off("task_struct", "mm")
	t.Task.Prio = r.off("task_struct", "prio")
	t.Task.StaticPrio = r.off("task_struct", "static_prio")
	t.Task.Cgroups = r.off("task_struct", "cgroups")

	t.Cred.UID = r.off("cred", "uid")
	t.Cred.EUID = r.off("cred", "euid")

	t.Mm.TotalVM = r.off("mm_struct", "total_vm")
	t.Mm.ArgStart = r.off("mm_struct", "arg_start")
	t.Mm.ArgEnd = r.off("mm_struct", "arg_end")
	t.Mm.RSSStat, t.RSS = r.rssStat()

	t.Cgroup.CssSetDfltCgrp = r.off("css_set", "dfl_cgrp")
	t.Cgroup.CgroupKn = r.off("cgroup", "kn")
	t.Cgroup.KernfsNodeID = r.off("kernfs_node", "id")

	t.Net.SockDstCache = r.off("sock", "sk_dst_cache")
	t.Net.SockBoundDevIf = r.off("sock", "__sk_common", "skc_bound_dev_if")
	t.Net.DstEntryDev = r.off("dst_entry", "dev")
	t.Net.NetDevIfindex = r.off("net_device", "ifindex")

	if r.err != nil {
		return Table{}, r.err
	}
	return t, nil
}

// resolver records the first failure so call sites stay linear.
type resolver struct {
	lookup structLookup
	err    error
}

func (r *resolver) off(structName string, path ...string) uint32 {
	if r.err != nil {
		return 0
	}
	s, err := r.lookup(structName)
	if err != nil {
		r.err = err
		return 0
	}
	off, _, err := memberPath(s, path...)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", structName, err)
		return 0
	}
	return off
}

func (r *resolver) first(structName string, names ...string) uint32 {
	if r.err != nil {
		return 0
	}
	s, err := r.lookup(structName)
	if err != nil {
		r.err = err
		return 0
	}
	for _, name := range names {
		if off, _, err := memberPath(s, name); err == nil {
			return off
		}
	}
	r.err = fmt.Errorf("%s: none of %v: %w", structName, names, ErrMissingField)
	return 0
}

func (r *resolver) rssStat() (uint32, RSSCounterOffsets) {
	if r.err != nil {
		return 0, RSSCounterOffsets{}
	}
	mm, err := r.lookup("mm_struct")
	if err != nil {
		r.err = err
		return 0, RSSCounterOffsets{}
	}
	base, typ, err := memberPath(mm, "rss_stat")
	if err != nil {
		r.err = fmt.Errorf("mm_struct: %w", err)
		return 0, RSSCounterOffsets{}
	}

	switch v := btf.UnderlyingType(typ).(type) {
	case *btf.Array:
		// struct percpu_counter rss_stat[NR_MM_COUNTERS]
		elem, ok := btf.UnderlyingType(v.Type).(*btf.Struct)
		if !ok {
			r.err = fmt.Errorf("mm_struct.rss_stat: unexpected element %s", v.Type)
			return 0, RSSCounterOffsets{}
		}
		size, err := btf.Sizeof(elem)
		if err != nil {
			r.err = fmt.Errorf("sizing %s: %w", elem.Name, err)
			return 0, RSSCounterOffsets{}
		}
		value, _, err := memberPath(elem, "count")
		if err != nil {
			r.err = fmt.Errorf("%s: %w", elem.Name, err)
			return 0, RSSCounterOffsets{}
		}
		return base, RSSCounterOffsets{Stride: uint32(size), Value: value}
	case *btf.Struct:
		// struct mm_rss_stat { atomic_long_t count[NR_MM_COUNTERS]; }
		value, countType, err := memberPath(v, "count")
		if err != nil {
			r.err = fmt.Errorf("mm_rss_stat: %w", err)
			return 0, RSSCounterOffsets{}
		}
		arr, ok := btf.UnderlyingType(countType).(*btf.Array)
		if !ok {
			r.err = fmt.Errorf("mm_rss_stat.count: unexpected type %s", countType)
			return 0, RSSCounterOffsets{}
		}
		size, err := btf.Sizeof(arr.Type)
		if err != nil {
			r.err = fmt.Errorf("sizing rss counter: %w", err)
			return 0, RSSCounterOffsets{}
		}
		return base, RSSCounterOffsets{Stride: uint32(size), Value: value}
	default:
		r.err = fmt.Errorf("mm_struct.rss_stat: unexpected type %s", typ)
		return 0, RSSCounterOffsets{}
	}
}

// memberPath resolves a dotted member path to a byte offset, descending
// through anonymous structs and unions along the way.
func memberPath(s *btf.Struct, path ...string) (uint32, btf.Type, error) {
	var total uint32
	var cur btf.Type = s
	for i, name := range path {
		members, ok := compositeMembers(cur)
		if !ok {
			return 0, nil, fmt.Errorf("%s is not a struct or union", path[i-1])
		}
		off, typ, found := findMember(members, name)
		if !found {
			return 0, nil, fmt.Errorf("%s: %w", name, ErrMissingField)
		}
		total += off
		cur = typ
	}
	return total, cur, nil
}

func findMember(members []btf.Member, name string) (uint32, btf.Type, bool) {
	for _, m := range members {
		if m.Name == name {
			return m.Offset.Bytes(), m.Type, true
		}
	}
	for _, m := range members {
		if m.Name != "" {
			continue
		}
		inner, ok := compositeMembers(m.Type)
		if !ok {
			continue
		}
		if off, typ, found := findMember(inner, name); found {
			return m.Offset.Bytes() + off, typ, true
		}
	}
	return 0, nil, false
}

func compositeMembers(t btf.Type) ([]btf.Member, bool) {
	switch v := btf.UnderlyingType(t).(type) {
	case *btf.Struct:
		return v.Members, true
	case *btf.Union:
		return v.Members, true
	}
	return nil, false
}
