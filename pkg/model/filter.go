package model

import (
	"strconv"
	"strings"

	"github.com/srodi/proctop-bpf/pkg/types"
)

// FilterConfig controls which processes appear in the table.
type FilterConfig struct {
	HideKernel   *bool // nil defaults to true so kernel threads stay hidden unless explicitly shown
	CgroupFilter string
	User         string
	Text         string
}

func (cfg FilterConfig) hideKernelEnabled() bool {
	if cfg.HideKernel == nil {
		return true
	}
	return *cfg.HideKernel
}

// FilterProcesses keeps the rows that pass cfg, in input order.
func FilterProcesses(rows []*types.Process, cfg FilterConfig) []*types.Process {
	filtered := make([]*types.Process, 0, len(rows))
	text := strings.ToLower(cfg.Text)
	cgroup := strings.ToLower(cfg.CgroupFilter)
	for _, row := range rows {
		if passesFilters(row, cfg, text, cgroup) {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

func passesFilters(row *types.Process, cfg FilterConfig, text, cgroup string) bool {
	if cfg.hideKernelEnabled() && isKernelThread(row) {
		return false
	}
	if cfg.User != "" && row.User != cfg.User {
		return false
	}
	if cgroup != "" {
		cg := strings.ToLower(row.CgroupPath)
		ctr := strings.ToLower(row.Container.Label())
		if !strings.Contains(cg, cgroup) && !strings.Contains(ctr, cgroup) {
			return false
		}
	}
	if text != "" && !MatchesText(row, text) {
		return false
	}
	return true
}

// MatchesText reports whether the lowercase needle occurs in the process
// name, command line, pid or user name.
func MatchesText(row *types.Process, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(row.Comm), needle) ||
		strings.Contains(strings.ToLower(row.Cmdline), needle) ||
		strings.Contains(strconv.FormatUint(uint64(row.PID), 10), needle) ||
		strings.Contains(strings.ToLower(row.User), needle)
}

func isKernelThread(row *types.Process) bool {
	return row.PID == 0 || row.IsKernelThread
}
