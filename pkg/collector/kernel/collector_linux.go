//go:build linux
// +build linux

package kernel

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"

	"github.com/srodi/proctop-bpf/pkg/abi"
)

// Collector owns the eBPF object and the probe links. The iterator link is
// created per read.
type Collector struct {
	objs   proctopObjects
	links  []link.Link
	status map[string]error
	log    logrus.FieldLogger

	iterMu  sync.Mutex
	iterErr error
}

type probe struct {
	subsystem string
	name      string
	attach    func() (link.Link, error)
}

// NewCollector loads the object with the offset table injected and attaches
// the cmdline and network probes. A probe that fails to attach takes its
// subsystem down; the rest keeps working.
func NewCollector(opts Options) (*Collector, error) {
	if err := opts.Offsets.Validate(); err != nil {
		return nil, fmt.Errorf("offset table: %w", err)
	}

	spec, err := loadProctop()
	if err != nil {
		return nil, fmt.Errorf("loading bpf spec: %w", err)
	}
	for name, value := range opts.Offsets.Variables() {
		v, ok := spec.Variables[name]
		if !ok {
			return nil, fmt.Errorf("offset variable %s missing from object", name)
		}
		if err := v.Set(value); err != nil {
			return nil, fmt.Errorf("setting %s: %w", name, err)
		}
	}

	c := &Collector{
		status: map[string]error{},
		log:    opts.logger(),
	}
	if err := spec.LoadAndAssign(&c.objs, nil); err != nil {
		return nil, fmt.Errorf("loading bpf objects: %w", err)
	}

	c.attach([]probe{
		{SubsystemCmdline, "sched_process_exec", func() (link.Link, error) {
			return link.Tracepoint("sched", "sched_process_exec", c.objs.HandleExec, nil)
		}},
		{SubsystemCmdline, "sched_process_exit", func() (link.Link, error) {
			return link.Tracepoint("sched", "sched_process_exit", c.objs.HandleExit, nil)
		}},
		{SubsystemNetwork, "tcp_sendmsg", func() (link.Link, error) {
			return link.Kprobe("tcp_sendmsg", c.objs.TcpSendmsgEntry, nil)
		}},
		{SubsystemNetwork, "udp_sendmsg", func() (link.Link, error) {
			return link.Kprobe("udp_sendmsg", c.objs.UdpSendmsgEntry, nil)
		}},
		{SubsystemNetwork, "tcp_recvmsg", func() (link.Link, error) {
			return link.Kprobe("tcp_recvmsg", c.objs.TcpRecvmsgEntry, nil)
		}},
		{SubsystemNetwork, "tcp_recvmsg_ret", func() (link.Link, error) {
			return link.Kretprobe("tcp_recvmsg", c.objs.TcpRecvmsgExit, nil)
		}},
		{SubsystemNetwork, "udp_recvmsg", func() (link.Link, error) {
			return link.Kprobe("udp_recvmsg", c.objs.UdpRecvmsgEntry, nil)
		}},
		{SubsystemNetwork, "udp_recvmsg_ret", func() (link.Link, error) {
			return link.Kretprobe("udp_recvmsg", c.objs.UdpRecvmsgExit, nil)
		}},
	})

	return c, nil
}

func (c *Collector) attach(probes []probe) {
	bySubsystem := map[string][]link.Link{}
	for _, p := range probes {
		if c.status[p.subsystem] != nil {
			continue
		}
		l, err := p.attach()
		if err != nil {
			c.status[p.subsystem] = fmt.Errorf("attaching %s: %w", p.name, err)
			for _, l := range bySubsystem[p.subsystem] {
				l.Close()
			}
			delete(bySubsystem, p.subsystem)
			c.log.WithError(err).WithField("subsystem", p.subsystem).Warn("probe attach failed, subsystem disabled")
			continue
		}
		bySubsystem[p.subsystem] = append(bySubsystem[p.subsystem], l)
	}
	for _, links := range bySubsystem {
		c.links = append(c.links, links...)
	}
}

// Close detaches every probe and releases the object.
func (c *Collector) Close() error {
	var err error
	for _, l := range c.links {
		err = errors.Join(err, l.Close())
	}
	return errors.Join(err, c.objs.Close())
}

// Status reports the attach state of each subsystem, iterator first.
func (c *Collector) Status() []Status {
	c.iterMu.Lock()
	out := []Status{{Name: SubsystemIterator, Err: c.iterErr}}
	c.iterMu.Unlock()
	for _, name := range []string{SubsystemCmdline, SubsystemNetwork} {
		out = append(out, Status{Name: name, Err: c.status[name]})
	}
	return out
}

// Dump runs the task iterator once and returns its raw output. The outcome
// is what Status reports for the iterator until the next call.
func (c *Collector) Dump() ([]byte, error) {
	buf, err := c.dump()
	c.iterMu.Lock()
	c.iterErr = err
	c.iterMu.Unlock()
	return buf, err
}

func (c *Collector) dump() ([]byte, error) {
	it, err := link.AttachIter(link.IterOptions{Program: c.objs.DumpTask})
	if err != nil {
		return nil, fmt.Errorf("attaching task iterator: %w", err)
	}
	defer it.Close()

	rd, err := it.Open()
	if err != nil {
		return nil, fmt.Errorf("opening task iterator: %w", err)
	}
	defer rd.Close()

	buf, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("reading task iterator: %w", err)
	}
	return buf, nil
}

// Tasks runs the iterator and parses one record per task. A size mismatch
// is returned wrapped in abi.ErrRecordSize.
func (c *Collector) Tasks() ([]abi.TaskRecord, error) {
	buf, err := c.Dump()
	if err != nil {
		return nil, err
	}
	return abi.ParseTaskRecords(buf)
}

// Cmdlines returns the captured command line of every tracked process.
func (c *Collector) Cmdlines() (map[uint32]string, error) {
	if err := c.status[SubsystemCmdline]; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubsystemDown, err)
	}
	out := make(map[uint32]string)
	err := iterateWithRetry(c.objs.Cmdlines, func(iter *ebpf.MapIterator) {
		var pid uint32
		var rec abi.CmdlineRecord
		for iter.Next(&pid, &rec) {
			if s := rec.String(); s != "" {
				out[pid] = s
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("iterating cmdlines: %w", err)
	}
	return out, nil
}

// NetCounters returns the cumulative byte counters of every process that
// has sent or received data since it was first seen.
func (c *Collector) NetCounters() (map[uint32]abi.NetCounters, error) {
	if err := c.status[SubsystemNetwork]; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubsystemDown, err)
	}
	out := make(map[uint32]abi.NetCounters)
	err := iterateWithRetry(c.objs.NetCounters, func(iter *ebpf.MapIterator) {
		var pid uint32
		var nc abi.NetCounters
		for iter.Next(&pid, &nc) {
			out[pid] = nc
		}
	})
	if err != nil {
		return nil, fmt.Errorf("iterating net counters: %w", err)
	}
	return out, nil
}

// SeedCmdlines fills the cmdline table for processes that started before the
// exec probe was attached. Entries the probe already wrote are kept.
func (c *Collector) SeedCmdlines(fs procfs.FS) (int, error) {
	if err := c.status[SubsystemCmdline]; err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSubsystemDown, err)
	}
	seeds, err := cmdlineSeeds(fs)
	if err != nil {
		return 0, err
	}

	pids := make([]uint32, 0, len(seeds))
	for pid := range seeds {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	n := 0
	for _, pid := range pids {
		rec := seeds[pid]
		err := c.objs.Cmdlines.Update(&pid, &rec, ebpf.UpdateNoExist)
		switch {
		case err == nil:
			n++
		case errors.Is(err, ebpf.ErrKeyExist):
		default:
			// table full; the remaining processes show their comm
			c.log.WithError(err).WithField("seeded", n).Debug("cmdline seeding stopped")
			return n, nil
		}
	}
	return n, nil
}

// RecvInflight reports whether a receive stash entry exists for a thread.
func (c *Collector) RecvInflight(pidTgid uint64) (bool, error) {
	var sk uint64
	err := c.objs.RecvStash.Lookup(&pidTgid, &sk)
	if errors.Is(err, ebpf.ErrKeyNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up recv stash: %w", err)
	}
	return true, nil
}

const iterateRetries = 3

// iterateWithRetry restarts a sweep the kernel aborted because the map
// changed underneath it.
func iterateWithRetry(m *ebpf.Map, fn func(*ebpf.MapIterator)) error {
	for attempt := 1; ; attempt++ {
		iter := m.Iterate()
		fn(iter)
		err := iter.Err()
		if err == nil {
			return nil
		}
		if errors.Is(err, ebpf.ErrIterationAborted) && attempt < iterateRetries {
			continue
		}
		return err
	}
}
