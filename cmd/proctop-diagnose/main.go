//go:build linux

// Command proctop-diagnose checks, step by step, whether proctop's kernel
// side works on this host.
package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cilium/ebpf/rlimit"
	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/srodi/proctop-bpf/pkg/abi"
	"github.com/srodi/proctop-bpf/pkg/collector/kernel"
	"github.com/srodi/proctop-bpf/pkg/collector/system"
	"github.com/srodi/proctop-bpf/pkg/offsets"
)

type verdict string

const (
	pass verdict = "PASS"
	warn verdict = "WARN"
	fail verdict = "FAIL"
	skip verdict = "SKIP"
)

type report struct {
	tw     *tabwriter.Writer
	step   int
	failed bool
}

func (r *report) add(name string, v verdict, format string, args ...any) {
	r.step++
	if v == fail {
		r.failed = true
	}
	fmt.Fprintf(r.tw, "%d\t%s\t%s\t%s\n", r.step, name, v, fmt.Sprintf(format, args...))
}

func main() {
	fs := pflag.NewFlagSet("proctop-diagnose", pflag.ContinueOnError)
	offsetsFile := fs.String("offsets-file", "", "offset table to check instead of the built-in one")
	procRoot := fs.String("proc-root", "/proc", "procfs mount point")
	verbose := fs.BoolP("verbose", "v", false, "log loader details to stderr")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	r := &report{tw: tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)}
	fmt.Fprintln(r.tw, "STEP\tCHECK\tRESULT\tDETAIL")
	diagnose(r, *offsetsFile, *procRoot, log)
	r.tw.Flush()

	if r.failed {
		os.Exit(1)
	}
}

func diagnose(r *report, offsetsFile, procRoot string, log logrus.FieldLogger) {
	if err := rlimit.RemoveMemlock(); err != nil {
		r.add("memlock", fail, "%v", err)
	} else {
		r.add("memlock", pass, "memlock limit removed")
	}

	table, source, err := offsets.ForHost(offsetsFile)
	switch {
	case err != nil && (source == "" || source == offsets.SourceFile):
		r.add("offset table", fail, "%v", err)
		skipRest(r)
		return
	case err != nil:
		r.add("offset table", warn, "%s table for %s/%s: %v", source, table.Kernel, table.Arch, err)
	default:
		r.add("offset table", pass, "%s table for %s/%s", source, table.Kernel, table.Arch)
	}

	if fromBTF, err := offsets.FromKernel(); err != nil {
		r.add("btf cross-check", warn, "kernel btf unavailable: %v", err)
	} else if diffs := offsets.Diff(table, fromBTF); len(diffs) > 0 {
		r.add("btf cross-check", fail, "%d fields differ, first: %s", len(diffs), diffs[0])
	} else {
		r.add("btf cross-check", pass, "all %d offsets match kernel btf", len(table.Variables()))
	}

	kc, err := kernel.NewCollector(kernel.Options{Offsets: table, Logger: log})
	if err != nil {
		r.add("load object", fail, "%v", err)
		skipRest(r)
		return
	}
	defer kc.Close()
	r.add("load object", pass, "programs and maps loaded")

	var down []string
	for _, st := range kc.Status() {
		if st.Err != nil {
			down = append(down, fmt.Sprintf("%s: %v", st.Name, st.Err))
		}
	}
	if len(down) > 0 {
		r.add("attach probes", warn, "%v", down)
	} else {
		r.add("attach probes", pass, "cmdline and network probes attached")
	}

	buf, err := kc.Dump()
	if err != nil {
		r.add("run iterator", fail, "%v", err)
		skipRest(r)
		return
	}
	r.add("run iterator", pass, "%d bytes", len(buf))

	recs, err := abi.ParseTaskRecords(buf)
	if err != nil {
		r.add("record size", fail, "%v", err)
		skipRest(r)
		return
	}
	r.add("record size", pass, "%d records of %d bytes", len(recs), abi.TaskRecordSize)

	v, detail := sampleSanity(recs, procRoot)
	r.add("sample sanity", v, "%s", detail)

	if pfs, err := procfs.NewFS(procRoot); err != nil {
		r.add("cmdline table", warn, "procfs: %v", err)
	} else if n, err := kc.SeedCmdlines(pfs); err != nil {
		r.add("cmdline table", warn, "seeding: %v", err)
	} else if cmdlines, err := kc.Cmdlines(); err != nil {
		r.add("cmdline table", warn, "%v", err)
	} else if len(cmdlines) == 0 {
		r.add("cmdline table", warn, "table is empty after seeding %d entries", n)
	} else {
		r.add("cmdline table", pass, "%d entries (%d seeded now)", len(cmdlines), n)
	}

	v, detail = networkCheck(kc)
	r.add("network counters", v, "%s", detail)

	if d, err := cpuBasisComparison(procRoot); err == nil {
		fmt.Fprintf(r.tw, "-\tcpu basis\tINFO\t%s\n", d)
	}
}

var stepNames = []string{
	"memlock", "offset table", "btf cross-check", "load object", "attach probes",
	"run iterator", "record size", "sample sanity", "cmdline table", "network counters",
}

// skipRest marks every step after the current one as skipped.
func skipRest(r *report) {
	for r.step < len(stepNames) {
		r.add(stepNames[r.step], skip, "earlier step failed")
	}
}

// sampleSanity compares the iterator's view with procfs: thread-group
// leaders against the procfs pid count, and our own row.
func sampleSanity(recs []abi.TaskRecord, procRoot string) (verdict, string) {
	self := uint32(os.Getpid())
	leaders := 0
	var me *abi.TaskRecord
	for i := range recs {
		if recs[i].PID == recs[i].TID {
			leaders++
			if recs[i].PID == self {
				me = &recs[i]
			}
		}
	}
	if me == nil {
		return fail, fmt.Sprintf("own pid %d missing from %d records", self, len(recs))
	}
	if me.RSSPages == 0 || me.StartTimeNs == 0 || me.Name() == "" {
		return fail, fmt.Sprintf("own record looks wrong: rss=%d start=%d comm=%q", me.RSSPages, me.StartTimeNs, me.Name())
	}

	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return warn, fmt.Sprintf("%d leaders, procfs unavailable: %v", leaders, err)
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return warn, fmt.Sprintf("%d leaders, listing procfs: %v", leaders, err)
	}
	diff := leaders - len(procs)
	if diff < 0 {
		diff = -diff
	}
	// processes come and go between the two reads
	if diff > len(procs)/10+5 {
		return warn, fmt.Sprintf("%d leaders vs %d in procfs", leaders, len(procs))
	}
	return pass, fmt.Sprintf("%d leaders vs %d in procfs, own comm %q", leaders, len(procs), me.Name())
}

// networkCheck sends a datagram to ourselves and looks for the bytes in our
// counters.
func networkCheck(kc *kernel.Collector) (verdict, string) {
	before, err := kc.NetCounters()
	if err != nil {
		return warn, err.Error()
	}
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		return warn, fmt.Sprintf("udp socket: %v", err)
	}
	defer conn.Close()
	payload := make([]byte, 512)
	if _, err := conn.WriteTo(payload, conn.LocalAddr()); err != nil {
		return warn, fmt.Sprintf("udp send: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadFrom(payload); err != nil {
		return warn, fmt.Sprintf("udp receive: %v", err)
	}

	after, err := kc.NetCounters()
	if err != nil {
		return warn, err.Error()
	}
	self := uint32(os.Getpid())
	tx := after[self].TxBytes - before[self].TxBytes
	rx := after[self].RxBytes - before[self].RxBytes
	if tx < 512 || rx < 512 {
		return warn, fmt.Sprintf("sent 512 bytes, counters moved tx=%d rx=%d", tx, rx)
	}
	return pass, fmt.Sprintf("tx +%d rx +%d bytes", tx, rx)
}

// cpuBasisComparison shows both CPU% denominators over the same window.
func cpuBasisComparison(procRoot string) (string, error) {
	rd, err := system.NewReader(procRoot)
	if err != nil {
		return "", err
	}
	a, err := rd.Read()
	if err != nil {
		return "", err
	}
	start := time.Now()
	time.Sleep(250 * time.Millisecond)
	b, err := rd.Read()
	if err != nil {
		return "", err
	}
	elapsed := time.Since(start)
	ticks := (b.Total.Total() - a.Total.Total()) / float64(max(1, b.NumCPU()))
	return fmt.Sprintf("per-core ticks %.0fms vs wallclock %dms", ticks*1000, elapsed.Milliseconds()), nil
}
