package kernel

import (
	"fmt"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/srodi/proctop-bpf/pkg/abi"
)

// cmdlineSeeds reads /proc/<pid>/cmdline for every live process. Kernel
// threads and processes that exit mid-scan are skipped.
func cmdlineSeeds(fs procfs.FS) (map[uint32]abi.CmdlineRecord, error) {
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	out := make(map[uint32]abi.CmdlineRecord, len(procs))
	for _, p := range procs {
		args, err := p.CmdLine()
		if err != nil || len(args) == 0 {
			continue
		}
		raw := strings.Join(args, "\x00")
		out[uint32(p.PID)] = abi.NewCmdlineRecord([]byte(raw))
	}
	return out, nil
}
