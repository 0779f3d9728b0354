package model

import (
	"cmp"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/srodi/proctop-bpf/pkg/types"
)

// SortColumn is a table column the process list can be ordered by.
type SortColumn int

const (
	SortPID SortColumn = iota
	SortUser
	SortPriority
	SortNice
	SortVirt
	SortRes
	SortShr
	SortState
	SortCPU
	SortMem
	SortGPU
	SortGPUMem
	SortTime
	SortNet
	SortContainer
	SortCommand
	numSortColumns
)

var sortColumnNames = [numSortColumns]string{
	"PID", "USER", "PRI", "NI", "VIRT", "RES", "SHR", "S",
	"CPU%", "MEM%", "GPU%", "GMEM", "TIME+", "NET", "CONT", "Command",
}

func (c SortColumn) String() string {
	if c < 0 || c >= numSortColumns {
		return fmt.Sprintf("SortColumn(%d)", int(c))
	}
	return sortColumnNames[c]
}

// Next cycles to the following column.
func (c SortColumn) Next() SortColumn {
	return (c + 1) % numSortColumns
}

// Prev cycles to the preceding column.
func (c SortColumn) Prev() SortColumn {
	return (c + numSortColumns - 1) % numSortColumns
}

// ParseSortColumn accepts a header name ("CPU%", "mem") case-insensitively.
func ParseSortColumn(s string) (SortColumn, error) {
	want := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "%")
	for i, name := range sortColumnNames {
		if strings.TrimSuffix(strings.ToUpper(name), "%") == want {
			return SortColumn(i), nil
		}
	}
	switch want {
	case "TIME":
		return SortTime, nil
	case "CMD", "COMMAND":
		return SortCommand, nil
	}
	return 0, fmt.Errorf("unknown sort column %q", s)
}

// quantize rounds to one decimal so rows whose displayed value is equal
// fall through to the pid tiebreak instead of flickering.
func quantize(v float64) int64 {
	return int64(math.Round(v * 10))
}

func compareBy(col SortColumn, a, b *types.Process) int {
	var c int
	switch col {
	case SortUser:
		c = strings.Compare(a.User, b.User)
	case SortPriority:
		c = cmp.Compare(a.Priority, b.Priority)
	case SortNice:
		c = cmp.Compare(a.Nice, b.Nice)
	case SortVirt:
		c = cmp.Compare(a.VirtBytes, b.VirtBytes)
	case SortRes:
		c = cmp.Compare(a.ResBytes, b.ResBytes)
	case SortShr:
		c = cmp.Compare(a.ShrBytes, b.ShrBytes)
	case SortState:
		c = cmp.Compare(a.State.Char(), b.State.Char())
	case SortCPU:
		c = cmp.Compare(quantize(a.CPUPercent), quantize(b.CPUPercent))
	case SortMem:
		c = cmp.Compare(quantize(a.MemPercent), quantize(b.MemPercent))
	case SortGPU:
		c = cmp.Compare(quantize(a.GPUPercent), quantize(b.GPUPercent))
	case SortGPUMem:
		c = cmp.Compare(a.GPUMemBytes, b.GPUMemBytes)
	case SortTime:
		c = cmp.Compare(quantize(a.CPUTimeSecs), quantize(b.CPUTimeSecs))
	case SortNet:
		c = cmp.Compare(quantize(a.NetTxRate+a.NetRxRate), quantize(b.NetTxRate+b.NetRxRate))
	case SortContainer:
		c = strings.Compare(a.Container.Label(), b.Container.Label())
	case SortCommand:
		c = strings.Compare(a.Cmdline, b.Cmdline)
	}
	if c != 0 {
		return c
	}
	return cmp.Compare(a.PID, b.PID)
}

// SortProcesses orders rows in place. Descending reverses the whole
// ordering, tiebreak included.
func SortProcesses(rows []*types.Process, col SortColumn, ascending bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		c := compareBy(col, rows[i], rows[j])
		if !ascending {
			c = -c
		}
		return c < 0
	})
}
