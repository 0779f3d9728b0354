package model

import (
	"sort"

	"github.com/srodi/proctop-bpf/pkg/types"
)

// Row is one visible line of the process table.
type Row struct {
	Proc *types.Process
	// Prefix holds the tree guides drawn before the command; empty outside
	// tree view.
	Prefix string
	// Collapsed is set on a tree node whose subtree is hidden.
	Collapsed bool
}

// BuildTree orders procs depth first. Roots are processes whose parent is
// not in procs; siblings are visited by ascending pid. The subtree of a
// collapsed pid is skipped but the pid itself is still emitted.
func BuildTree(procs []*types.Process, collapsed map[uint32]struct{}) []Row {
	present := make(map[uint32]struct{}, len(procs))
	for _, p := range procs {
		present[p.PID] = struct{}{}
	}

	children := make(map[uint32][]*types.Process)
	var roots []*types.Process
	for _, p := range procs {
		_, parentVisible := present[p.PPID]
		if p.PPID == 0 || p.PPID == p.PID || !parentVisible {
			roots = append(roots, p)
			continue
		}
		children[p.PPID] = append(children[p.PPID], p)
	}
	byPID := func(s []*types.Process) {
		sort.Slice(s, func(i, j int) bool { return s[i].PID < s[j].PID })
	}
	byPID(roots)
	for _, kids := range children {
		byPID(kids)
	}

	rows := make([]Row, 0, len(procs))
	var walk func(p *types.Process, depth int, indent string, last bool)
	walk = func(p *types.Process, depth int, indent string, last bool) {
		prefix := ""
		if depth > 0 {
			if last {
				prefix = indent + "└─"
			} else {
				prefix = indent + "├─"
			}
		}
		kids := children[p.PID]
		_, isCollapsed := collapsed[p.PID]
		rows = append(rows, Row{Proc: p, Prefix: prefix, Collapsed: isCollapsed && len(kids) > 0})
		if isCollapsed {
			return
		}

		childIndent := ""
		if depth > 0 {
			if last {
				childIndent = indent + "  "
			} else {
				childIndent = indent + "│ "
			}
		}
		for i, kid := range kids {
			walk(kid, depth+1, childIndent, i == len(kids)-1)
		}
	}
	for i, root := range roots {
		walk(root, 0, "", i == len(roots)-1)
	}
	return rows
}
