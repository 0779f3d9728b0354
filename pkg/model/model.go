// Package model is the long-lived process table behind the UI. Apply merges
// each new snapshot into it while keeping selection, tags, collapse state
// and scroll position attached to process ids rather than row positions.
package model

import (
	"sort"

	"github.com/srodi/proctop-bpf/pkg/types"
)

// Options are the initial view settings.
type Options struct {
	Sort      SortColumn
	Ascending bool
	Tree      bool
	Filter    FilterConfig
}

// Model is owned by a single goroutine; it has no locking.
type Model struct {
	System   types.SystemInfo
	Degraded string
	Warnings []string
	Seq      uint64

	all     []*types.Process
	byPID   map[uint32]*types.Process
	visible []Row

	filter    FilterConfig
	sortCol   SortColumn
	ascending bool
	tree      bool

	selected    int
	scroll      int
	visibleRows int

	tagged    map[uint32]struct{}
	collapsed map[uint32]struct{}
	jumps     jumpList
	anchor    int
}

// New returns an empty model.
func New(opts Options) *Model {
	return &Model{
		byPID:     map[uint32]*types.Process{},
		filter:    opts.Filter,
		sortCol:   opts.Sort,
		ascending: opts.Ascending,
		tree:      opts.Tree,
		tagged:    map[uint32]struct{}{},
		collapsed: map[uint32]struct{}{},
		anchor:    -1,
	}
}

// Apply merges a snapshot. When the set of pids is unchanged the existing
// rows are updated in place and nothing is reordered; otherwise the table is
// rebuilt. It reports whether a rebuild happened.
func (m *Model) Apply(s types.Snapshot) bool {
	m.System = s.System
	m.Degraded = s.Degraded
	m.Warnings = s.Warnings
	m.Seq = s.Seq

	if m.samePIDs(s.Processes) {
		for i := range s.Processes {
			m.byPID[s.Processes[i].PID].UpdateDynamic(&s.Processes[i])
		}
		return false
	}

	selectedPID, hadSelection := m.selectedPID()

	all := make([]*types.Process, len(s.Processes))
	byPID := make(map[uint32]*types.Process, len(s.Processes))
	for i := range s.Processes {
		p := s.Processes[i]
		all[i] = &p
		byPID[p.PID] = &p
	}
	m.all, m.byPID = all, byPID

	for pid := range m.tagged {
		if _, ok := byPID[pid]; !ok {
			delete(m.tagged, pid)
		}
	}
	for pid := range m.collapsed {
		if _, ok := byPID[pid]; !ok {
			delete(m.collapsed, pid)
		}
	}

	m.refresh()
	if hadSelection {
		m.selectPID(selectedPID)
	}
	return true
}

func (m *Model) samePIDs(procs []types.Process) bool {
	if len(procs) != len(m.byPID) || m.all == nil {
		return false
	}
	for i := range procs {
		if _, ok := m.byPID[procs[i].PID]; !ok {
			return false
		}
	}
	return true
}

// refresh reapplies filter and ordering and clamps the cursor.
func (m *Model) refresh() {
	procs := FilterProcesses(m.all, m.filter)
	if m.tree {
		m.visible = BuildTree(procs, m.collapsed)
	} else {
		SortProcesses(procs, m.sortCol, m.ascending)
		rows := make([]Row, len(procs))
		for i, p := range procs {
			rows[i] = Row{Proc: p}
		}
		m.visible = rows
	}
	if m.anchor >= len(m.visible) {
		m.anchor = -1
	}
	m.clamp()
}

func (m *Model) clamp() {
	n := len(m.visible)
	if n == 0 {
		m.selected, m.scroll = 0, 0
		return
	}
	if m.selected >= n {
		m.selected = n - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
	if m.selected < m.scroll {
		m.scroll = m.selected
	}
	if m.visibleRows > 0 && m.selected >= m.scroll+m.visibleRows {
		m.scroll = m.selected - m.visibleRows + 1
	}
	maxOffset := n - 1
	if m.visibleRows > 0 {
		maxOffset = n - m.visibleRows
	}
	if maxOffset < 0 {
		maxOffset = 0
	}
	if m.scroll > maxOffset {
		m.scroll = maxOffset
	}
	if m.scroll < 0 {
		m.scroll = 0
	}
}

// Rows returns the visible rows in display order.
func (m *Model) Rows() []Row { return m.visible }

// Len is the number of visible rows.
func (m *Model) Len() int { return len(m.visible) }

// Process looks up any row by pid, visible or not.
func (m *Model) Process(pid uint32) (*types.Process, bool) {
	p, ok := m.byPID[pid]
	return p, ok
}

// SelectedIndex is the cursor position within Rows.
func (m *Model) SelectedIndex() int { return m.selected }

// ScrollOffset is the index of the first row on screen.
func (m *Model) ScrollOffset() int { return m.scroll }

// Selected returns the process under the cursor.
func (m *Model) Selected() (*types.Process, bool) {
	if m.selected < 0 || m.selected >= len(m.visible) {
		return nil, false
	}
	return m.visible[m.selected].Proc, true
}

func (m *Model) selectedPID() (uint32, bool) {
	p, ok := m.Selected()
	if !ok {
		return 0, false
	}
	return p.PID, true
}

// selectPID moves the cursor to pid if it is visible.
func (m *Model) selectPID(pid uint32) bool {
	for i, r := range m.visible {
		if r.Proc.PID == pid {
			m.selected = i
			m.clamp()
			return true
		}
	}
	return false
}

// SetVisibleRows tells the model how many rows fit on screen.
func (m *Model) SetVisibleRows(n int) {
	if n < 0 {
		n = 0
	}
	m.visibleRows = n
	m.clamp()
}

// Move shifts the cursor by delta rows.
func (m *Model) Move(delta int) {
	m.selected += delta
	m.clamp()
}

// Home moves the cursor to the first row.
func (m *Model) Home() {
	m.selected = 0
	m.clamp()
}

// End moves the cursor to the last row.
func (m *Model) End() {
	m.selected = len(m.visible) - 1
	m.clamp()
}

// PageDown moves one screen down.
func (m *Model) PageDown() { m.Move(max(m.visibleRows, 1)) }

// PageUp moves one screen up.
func (m *Model) PageUp() { m.Move(-max(m.visibleRows, 1)) }

// Filter returns the active filter.
func (m *Model) Filter() FilterConfig { return m.filter }

// SetFilterText replaces the free-text filter.
func (m *Model) SetFilterText(text string) {
	m.filter.Text = text
	m.refreshKeepingSelection()
}

// SetUserFilter shows only processes of user; empty shows all.
func (m *Model) SetUserFilter(user string) {
	m.filter.User = user
	m.refreshKeepingSelection()
}

// CycleUserFilter steps through the users present in the table, then back
// to showing everyone.
func (m *Model) CycleUserFilter() string {
	seen := map[string]struct{}{}
	var users []string
	for _, p := range m.all {
		if _, ok := seen[p.User]; ok || p.User == "" {
			continue
		}
		seen[p.User] = struct{}{}
		users = append(users, p.User)
	}
	sort.Strings(users)

	next := ""
	if m.filter.User == "" {
		if len(users) > 0 {
			next = users[0]
		}
	} else {
		i := sort.SearchStrings(users, m.filter.User)
		if i < len(users) && users[i] == m.filter.User {
			i++
		}
		if i < len(users) {
			next = users[i]
		}
	}
	m.SetUserFilter(next)
	return next
}

// SetCgroupFilter filters on cgroup path or container label.
func (m *Model) SetCgroupFilter(s string) {
	m.filter.CgroupFilter = s
	m.refreshKeepingSelection()
}

// ShowKernelThreads reports whether kernel threads are listed.
func (m *Model) ShowKernelThreads() bool { return !m.filter.hideKernelEnabled() }

// ToggleKernelThreads shows or hides kernel threads.
func (m *Model) ToggleKernelThreads() {
	hide := !m.filter.hideKernelEnabled()
	m.filter.HideKernel = &hide
	m.refreshKeepingSelection()
}

// Sort returns the active sort column and direction.
func (m *Model) Sort() (SortColumn, bool) { return m.sortCol, m.ascending }

// SetSort changes the sort column.
func (m *Model) SetSort(col SortColumn) {
	m.sortCol = col
	m.refreshKeepingSelection()
}

// ToggleSortOrder flips ascending and descending.
func (m *Model) ToggleSortOrder() {
	m.ascending = !m.ascending
	m.refreshKeepingSelection()
}

// TreeView reports whether tree ordering is active.
func (m *Model) TreeView() bool { return m.tree }

// ToggleTree switches between tree and sorted views.
func (m *Model) ToggleTree() {
	m.tree = !m.tree
	m.refreshKeepingSelection()
}

func (m *Model) refreshKeepingSelection() {
	pid, ok := m.selectedPID()
	m.refresh()
	if ok {
		m.selectPID(pid)
	}
}

// IsTagged reports whether pid is tagged.
func (m *Model) IsTagged(pid uint32) bool {
	_, ok := m.tagged[pid]
	return ok
}

// TaggedPIDs returns the tagged pids in ascending order.
func (m *Model) TaggedPIDs() []uint32 {
	out := make([]uint32, 0, len(m.tagged))
	for pid := range m.tagged {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ToggleTag flips the tag on the selected process and moves down one row.
func (m *Model) ToggleTag() {
	pid, ok := m.selectedPID()
	if !ok {
		return
	}
	if _, tagged := m.tagged[pid]; tagged {
		delete(m.tagged, pid)
	} else {
		m.tagged[pid] = struct{}{}
	}
	m.Move(1)
}

// UntagAll clears every tag.
func (m *Model) UntagAll() {
	m.tagged = map[uint32]struct{}{}
	m.anchor = -1
}

// StartVisual anchors a range selection at the cursor.
func (m *Model) StartVisual() {
	if len(m.visible) == 0 {
		return
	}
	m.anchor = m.selected
}

// InVisual reports whether a range selection is open.
func (m *Model) InVisual() bool { return m.anchor >= 0 }

// VisualRange returns the inclusive row range of the open selection.
func (m *Model) VisualRange() (int, int, bool) {
	if m.anchor < 0 {
		return 0, 0, false
	}
	lo, hi := m.anchor, m.selected
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi, true
}

// EndVisual tags every row between the anchor and the cursor.
func (m *Model) EndVisual() int {
	lo, hi, ok := m.VisualRange()
	if !ok {
		return 0
	}
	for i := lo; i <= hi && i < len(m.visible); i++ {
		m.tagged[m.visible[i].Proc.PID] = struct{}{}
	}
	m.anchor = -1
	return hi - lo + 1
}

// CancelVisual drops the range selection without tagging.
func (m *Model) CancelVisual() { m.anchor = -1 }

// SignalTargets returns the tagged pids, or the selected pid when nothing
// is tagged.
func (m *Model) SignalTargets() []uint32 {
	if len(m.tagged) > 0 {
		return m.TaggedPIDs()
	}
	if pid, ok := m.selectedPID(); ok {
		return []uint32{pid}
	}
	return nil
}

// IsCollapsed reports whether pid's subtree is hidden.
func (m *Model) IsCollapsed(pid uint32) bool {
	_, ok := m.collapsed[pid]
	return ok
}

// Collapse hides the subtree of the selected process. Only processes with
// children can be collapsed.
func (m *Model) Collapse() bool {
	p, ok := m.Selected()
	if !ok || len(p.Children) == 0 {
		return false
	}
	m.collapsed[p.PID] = struct{}{}
	m.refreshKeepingSelection()
	return true
}

// Expand shows the subtree of the selected process again.
func (m *Model) Expand() bool {
	p, ok := m.Selected()
	if !ok {
		return false
	}
	if _, ok := m.collapsed[p.PID]; !ok {
		return false
	}
	delete(m.collapsed, p.PID)
	m.refreshKeepingSelection()
	return true
}

// ToggleCollapse collapses or expands the selected process.
func (m *Model) ToggleCollapse() {
	if !m.Expand() {
		m.Collapse()
	}
}

// JumpTo records the current selection in the jump list and moves the
// cursor to pid. It fails if pid is not visible.
func (m *Model) JumpTo(pid uint32) bool {
	from, ok := m.selectedPID()
	if !m.selectPID(pid) {
		return false
	}
	if ok {
		m.jumps.push(from)
	}
	return true
}

// JumpToParent jumps to the parent of the selected process.
func (m *Model) JumpToParent() bool {
	p, ok := m.Selected()
	if !ok {
		return false
	}
	return m.JumpTo(p.PPID)
}

// JumpBack returns to the previous jump location still visible.
func (m *Model) JumpBack() bool {
	cur, ok := m.selectedPID()
	for {
		pid, found := m.jumps.back(cur, ok)
		if !found {
			return false
		}
		if m.selectPID(pid) {
			return true
		}
	}
}

// JumpForward undoes a JumpBack.
func (m *Model) JumpForward() bool {
	for {
		pid, found := m.jumps.forward()
		if !found {
			return false
		}
		if m.selectPID(pid) {
			return true
		}
	}
}
