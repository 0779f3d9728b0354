package system

import (
	"fmt"

	"github.com/prometheus/procfs"

	"github.com/srodi/proctop-bpf/pkg/types"
)

func kb(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v * 1024
}

// memoryInfo converts /proc/meminfo into bytes. Used memory excludes
// buffers, page cache and reclaimable slab, as free(1) does.
func memoryInfo(mi procfs.Meminfo) (types.MemoryInfo, error) {
	if mi.MemTotal == nil {
		return types.MemoryInfo{}, fmt.Errorf("MemTotal not found in meminfo")
	}
	m := types.MemoryInfo{
		Total:     kb(mi.MemTotal),
		Free:      kb(mi.MemFree),
		Buffers:   kb(mi.Buffers),
		Cached:    kb(mi.Cached) + kb(mi.SReclaimable),
		Available: kb(mi.MemAvailable),
		SwapTotal: kb(mi.SwapTotal),
	}
	if reclaim := m.Free + m.Buffers + m.Cached; reclaim < m.Total {
		m.Used = m.Total - reclaim
	}
	if free := kb(mi.SwapFree); free < m.SwapTotal {
		m.SwapUsed = m.SwapTotal - free
	}
	return m, nil
}
