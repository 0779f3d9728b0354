//go:build linux

package kernel

import (
	"errors"
	"net"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/cilium/ebpf/rlimit"
	"golang.org/x/sys/unix"

	"github.com/srodi/proctop-bpf/pkg/offsets"
)

// newPrivilegedCollector loads the real object against offsets derived from
// the running kernel's BTF. Skips unless root.
func newPrivilegedCollector(t testing.TB) *Collector {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("requires root")
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		t.Skipf("memlock: %v", err)
	}
	tbl, err := offsets.FromKernel()
	if err != nil {
		t.Skipf("kernel btf unavailable: %v", err)
	}
	c, err := NewCollector(Options{Offsets: tbl})
	if err != nil {
		t.Skipf("loading collector: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTasksIncludeSelfAndZeroKernelThreadMemory(t *testing.T) {
	c := newPrivilegedCollector(t)

	recs, err := c.Tasks()
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	self := uint32(os.Getpid())
	found := false
	for _, r := range recs {
		if r.PID == self && r.TID == self {
			found = true
			if r.RSSPages == 0 || r.VsizeBytes == 0 {
				t.Fatalf("own process reports no memory: %+v", r)
			}
		}
		if r.PPID == 2 {
			if r.RSSPages != 0 || r.VsizeBytes != 0 || r.ShmemPages != 0 {
				t.Fatalf("kernel thread %d (%s) has memory fields set", r.PID, r.Name())
			}
		}
	}
	if !found {
		t.Fatalf("pid %d not in %d iterator records", self, len(recs))
	}
}

func TestRecvErrorPopsStashWithoutCounting(t *testing.T) {
	c := newPrivilegedCollector(t)
	if st := c.Status(); st[2].Err != nil {
		t.Skipf("network probes unavailable: %v", st[2].Err)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	defer unix.Close(fd)
	if err := unix.Bind(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	pid := uint32(os.Getpid())
	before, err := c.NetCounters()
	if err != nil {
		t.Fatalf("net counters: %v", err)
	}

	buf := make([]byte, 64)
	if _, _, err := unix.Recvfrom(fd, buf, 0); !errors.Is(err, unix.EAGAIN) {
		t.Fatalf("expected EAGAIN from empty socket, got %v", err)
	}

	key := uint64(pid)<<32 | uint64(unix.Gettid())
	inflight, err := c.RecvInflight(key)
	if err != nil {
		t.Fatalf("stash lookup: %v", err)
	}
	if inflight {
		t.Fatalf("stash entry left behind for failed recv")
	}

	after, err := c.NetCounters()
	if err != nil {
		t.Fatalf("net counters: %v", err)
	}
	if after[pid].RxBytes != before[pid].RxBytes {
		t.Fatalf("failed recv changed rx bytes: %d -> %d", before[pid].RxBytes, after[pid].RxBytes)
	}
}

func TestNetCountersMonotonic(t *testing.T) {
	c := newPrivilegedCollector(t)
	if st := c.Status(); st[2].Err != nil {
		t.Skipf("network probes unavailable: %v", st[2].Err)
	}

	srv, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()
	cli, err := net.Dial("udp4", srv.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()

	pid := uint32(os.Getpid())
	payload := make([]byte, 512)
	var last uint64
	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			if _, err := cli.Write(payload); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
		srv.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 1024)
		for i := 0; i < 4; i++ {
			if _, _, err := srv.ReadFrom(buf); err != nil {
				t.Fatalf("read: %v", err)
			}
		}

		counters, err := c.NetCounters()
		if err != nil {
			t.Fatalf("net counters: %v", err)
		}
		nc := counters[pid]
		if nc.TxBytes < last+4*uint64(len(payload)) {
			t.Fatalf("round %d: tx %d did not grow by at least %d from %d", round, nc.TxBytes, 4*len(payload), last)
		}
		if nc.RxBytes == 0 {
			t.Fatalf("round %d: rx bytes not accounted", round)
		}
		last = nc.TxBytes
	}
}

func TestStatusReportsLastIteratorRun(t *testing.T) {
	c := &Collector{status: map[string]error{SubsystemNetwork: errors.New("attaching tcp_sendmsg: not found")}}
	if st := c.Status(); st[0].Name != SubsystemIterator || st[0].Err != nil {
		t.Fatalf("iterator must start healthy: %+v", st)
	}

	failed := errors.New("attaching task iterator: operation not permitted")
	c.iterErr = failed
	st := c.Status()
	if !errors.Is(st[0].Err, failed) {
		t.Fatalf("iterator failure not reported: %+v", st)
	}
	if st[1].Name != SubsystemCmdline || st[1].Err != nil || st[2].Name != SubsystemNetwork || st[2].Err == nil {
		t.Fatalf("unexpected probe subsystems: %+v", st)
	}
}

func TestDumpRecordsIteratorOutcome(t *testing.T) {
	c := newPrivilegedCollector(t)
	c.iterErr = errors.New("stale")
	if _, err := c.Dump(); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if st := c.Status(); st[0].Err != nil {
		t.Fatalf("successful dump must clear iterator status: %+v", st[0])
	}
}

// BenchmarkDump times one iterator pass plus parsing, the kernel half of a
// refresh cycle.
func BenchmarkDump(b *testing.B) {
	c := newPrivilegedCollector(b)
	b.ReportAllocs()
	var tasks int
	for i := 0; i < b.N; i++ {
		recs, err := c.Tasks()
		if err != nil {
			b.Fatalf("tasks: %v", err)
		}
		tasks = len(recs)
	}
	b.ReportMetric(float64(tasks), "tasks/op")
}
