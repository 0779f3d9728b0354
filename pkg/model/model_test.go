package model

import (
	"reflect"
	"testing"

	"github.com/srodi/proctop-bpf/pkg/types"
)

func snap(seq uint64, procs ...types.Process) types.Snapshot {
	return types.Snapshot{Seq: seq, Processes: procs}
}

func proc(pid, ppid uint32, cpu float64) types.Process {
	return types.Process{PID: pid, PPID: ppid, Comm: "p", User: "root", CPUPercent: cpu}
}

func rowPIDs(m *Model) []uint32 {
	out := make([]uint32, 0, m.Len())
	for _, r := range m.Rows() {
		out = append(out, r.Proc.PID)
	}
	return out
}

func TestApplyInPlaceKeepsOrderAndState(t *testing.T) {
	m := New(Options{Sort: SortCPU})
	if !m.Apply(snap(1, proc(1, 0, 5), proc(2, 1, 50), proc(3, 1, 20))) {
		t.Fatal("first apply should rebuild")
	}
	if got := rowPIDs(m); !reflect.DeepEqual(got, []uint32{2, 3, 1}) {
		t.Fatalf("unexpected initial order %v", got)
	}
	m.Move(1)
	m.ToggleTag() // tags 3, cursor moves to 1
	selBefore := m.SelectedIndex()

	if m.Apply(snap(2, proc(1, 0, 90), proc(2, 1, 1), proc(3, 1, 10))) {
		t.Fatal("same pid set should update in place")
	}
	if got := rowPIDs(m); !reflect.DeepEqual(got, []uint32{2, 3, 1}) {
		t.Fatalf("in-place update reordered rows: %v", got)
	}
	if m.SelectedIndex() != selBefore {
		t.Fatalf("selection moved from %d to %d", selBefore, m.SelectedIndex())
	}
	if !reflect.DeepEqual(m.TaggedPIDs(), []uint32{3}) {
		t.Fatalf("tags changed: %v", m.TaggedPIDs())
	}
	if p, _ := m.Process(1); p.CPUPercent != 90 {
		t.Fatalf("dynamic fields not refreshed, cpu=%v", p.CPUPercent)
	}
	if m.Seq != 2 {
		t.Fatalf("seq not updated: %d", m.Seq)
	}
}

func TestApplyInPlaceKeepsCollapse(t *testing.T) {
	m := New(Options{Tree: true})
	parent := proc(1, 0, 0)
	parent.Children = []uint32{2}
	m.Apply(snap(1, parent, proc(2, 1, 0)))
	if !m.Collapse() {
		t.Fatal("expected root with children to collapse")
	}
	m.Apply(snap(2, parent, proc(2, 1, 3)))
	if !m.IsCollapsed(1) || m.Len() != 1 {
		t.Fatalf("collapse lost: collapsed=%v rows=%v", m.IsCollapsed(1), rowPIDs(m))
	}
}

func TestApplyRebuildDropsDeadTags(t *testing.T) {
	m := New(Options{Sort: SortPID, Ascending: true})
	m.Apply(snap(1, proc(1, 0, 0), proc(2, 1, 0), proc(3, 1, 0)))
	m.Move(1)
	m.ToggleTag() // 2
	m.ToggleTag() // 3
	if !reflect.DeepEqual(m.TaggedPIDs(), []uint32{2, 3}) {
		t.Fatalf("unexpected tags %v", m.TaggedPIDs())
	}

	if !m.Apply(snap(2, proc(1, 0, 0), proc(3, 1, 0))) {
		t.Fatal("changed pid set should rebuild")
	}
	if got := rowPIDs(m); !reflect.DeepEqual(got, []uint32{1, 3}) {
		t.Fatalf("rows after rebuild %v", got)
	}
	if m.IsTagged(2) {
		t.Fatal("dead pid still tagged")
	}
	if !m.IsTagged(3) {
		t.Fatal("surviving pid lost its tag")
	}
}

func TestApplyRebuildFollowsSelectedPID(t *testing.T) {
	m := New(Options{Sort: SortPID, Ascending: true})
	m.Apply(snap(1, proc(10, 0, 0), proc(20, 0, 0), proc(30, 0, 0)))
	m.End()
	if p, _ := m.Selected(); p.PID != 30 {
		t.Fatalf("expected 30 selected, got %d", p.PID)
	}
	m.Apply(snap(2, proc(5, 0, 0), proc(10, 0, 0), proc(30, 0, 0)))
	if p, _ := m.Selected(); p.PID != 30 {
		t.Fatalf("selection should follow pid 30, got %d", p.PID)
	}

	m.Apply(snap(3, proc(5, 0, 0)))
	if m.SelectedIndex() != 0 {
		t.Fatalf("selection not clamped: %d", m.SelectedIndex())
	}
}

func TestClampAndScroll(t *testing.T) {
	m := New(Options{Sort: SortPID, Ascending: true})
	var procs []types.Process
	for pid := uint32(1); pid <= 10; pid++ {
		procs = append(procs, proc(pid, 0, 0))
	}
	m.Apply(snap(1, procs...))
	m.SetVisibleRows(4)

	m.Move(-5)
	if m.SelectedIndex() != 0 || m.ScrollOffset() != 0 {
		t.Fatalf("expected clamp at top, got sel=%d scroll=%d", m.SelectedIndex(), m.ScrollOffset())
	}
	m.Move(6)
	if m.SelectedIndex() != 6 || m.ScrollOffset() != 3 {
		t.Fatalf("expected sel=6 scroll=3, got sel=%d scroll=%d", m.SelectedIndex(), m.ScrollOffset())
	}
	m.End()
	if m.SelectedIndex() != 9 || m.ScrollOffset() != 6 {
		t.Fatalf("expected sel=9 scroll=6, got sel=%d scroll=%d", m.SelectedIndex(), m.ScrollOffset())
	}
	m.Apply(snap(2, procs[:2]...))
	if m.SelectedIndex() != 1 || m.ScrollOffset() != 0 {
		t.Fatalf("expected clamp after shrink, got sel=%d scroll=%d", m.SelectedIndex(), m.ScrollOffset())
	}
}

func TestVisualTagging(t *testing.T) {
	m := New(Options{Sort: SortPID, Ascending: true})
	m.Apply(snap(1, proc(1, 0, 0), proc(2, 0, 0), proc(3, 0, 0), proc(4, 0, 0)))
	m.Move(2)
	m.StartVisual()
	m.Move(-1)
	if lo, hi, ok := m.VisualRange(); !ok || lo != 1 || hi != 2 {
		t.Fatalf("unexpected range %d..%d ok=%v", lo, hi, ok)
	}
	if n := m.EndVisual(); n != 2 {
		t.Fatalf("expected 2 rows tagged, got %d", n)
	}
	if !reflect.DeepEqual(m.TaggedPIDs(), []uint32{2, 3}) {
		t.Fatalf("unexpected tags %v", m.TaggedPIDs())
	}
	if m.InVisual() {
		t.Fatal("visual mode should end")
	}
	if !reflect.DeepEqual(m.SignalTargets(), []uint32{2, 3}) {
		t.Fatalf("signal targets should be the tags, got %v", m.SignalTargets())
	}
	m.UntagAll()
	if got := m.SignalTargets(); !reflect.DeepEqual(got, []uint32{2}) {
		t.Fatalf("signal targets should fall back to selection, got %v", got)
	}
}

func TestJumpList(t *testing.T) {
	m := New(Options{Sort: SortPID, Ascending: true})
	m.Apply(snap(1, proc(1, 0, 0), proc(2, 1, 0), proc(3, 2, 0)))
	m.End()
	if !m.JumpToParent() {
		t.Fatal("jump to parent failed")
	}
	if p, _ := m.Selected(); p.PID != 2 {
		t.Fatalf("expected 2, got %d", p.PID)
	}
	if !m.JumpTo(1) {
		t.Fatal("jump to 1 failed")
	}
	if m.JumpTo(99) {
		t.Fatal("jump to missing pid should fail")
	}

	if !m.JumpBack() {
		t.Fatal("back failed")
	}
	if p, _ := m.Selected(); p.PID != 2 {
		t.Fatalf("back: expected 2, got %d", p.PID)
	}
	if !m.JumpBack() {
		t.Fatal("second back failed")
	}
	if p, _ := m.Selected(); p.PID != 3 {
		t.Fatalf("back: expected 3, got %d", p.PID)
	}
	if m.JumpBack() {
		t.Fatal("history should be exhausted")
	}
	if !m.JumpForward() || !m.JumpForward() {
		t.Fatal("forward failed")
	}
	if p, _ := m.Selected(); p.PID != 1 {
		t.Fatalf("forward: expected 1, got %d", p.PID)
	}
	if m.JumpForward() {
		t.Fatal("nothing left to go forward to")
	}
}

func TestJumpListBounded(t *testing.T) {
	var j jumpList
	for i := uint32(0); i < maxJumps+20; i++ {
		j.push(i)
	}
	if len(j.pids) != maxJumps {
		t.Fatalf("expected %d entries, got %d", maxJumps, len(j.pids))
	}
	if j.pids[0] != 20 {
		t.Fatalf("oldest entries should be dropped, first=%d", j.pids[0])
	}
}

func TestCycleUserFilter(t *testing.T) {
	m := New(Options{Sort: SortPID, Ascending: true})
	a := proc(1, 0, 0)
	a.User = "alice"
	b := proc(2, 0, 0)
	b.User = "bob"
	m.Apply(snap(1, a, b))

	for _, want := range []string{"alice", "bob", ""} {
		if got := m.CycleUserFilter(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
	m.SetUserFilter("bob")
	if got := rowPIDs(m); !reflect.DeepEqual(got, []uint32{2}) {
		t.Fatalf("user filter rows %v", got)
	}
}

func TestToggleKernelThreads(t *testing.T) {
	m := New(Options{Sort: SortPID, Ascending: true})
	k := proc(2, 0, 0)
	k.IsKernelThread = true
	m.Apply(snap(1, proc(1, 0, 0), k))
	if m.Len() != 1 || m.ShowKernelThreads() {
		t.Fatalf("kernel threads should be hidden by default")
	}
	m.ToggleKernelThreads()
	if m.Len() != 2 || !m.ShowKernelThreads() {
		t.Fatalf("kernel threads should be visible after toggle, rows=%v", rowPIDs(m))
	}
}

func TestCollapseRequiresChildren(t *testing.T) {
	m := New(Options{Tree: true})
	m.Apply(snap(1, proc(1, 0, 0)))
	if m.Collapse() {
		t.Fatal("leaf should not collapse")
	}
}
