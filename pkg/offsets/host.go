package offsets

import (
	"errors"
	"fmt"

	sysinfo "github.com/elastic/go-sysinfo"
	"github.com/elastic/go-sysinfo/types"
)

// ErrHostMismatch reports a table generated for a different kernel or arch.
var ErrHostMismatch = errors.New("offset table does not match running kernel")

var fromKernel = FromKernel

var hostInfo = func() (types.HostInfo, error) {
	h, err := sysinfo.Host()
	if err != nil {
		return types.HostInfo{}, err
	}
	return h.Info(), nil
}

// HostKernel returns the running kernel release and architecture.
func HostKernel() (release, arch string, err error) {
	info, err := hostInfo()
	if err != nil {
		return "", "", fmt.Errorf("reading host info: %w", err)
	}
	return info.KernelVersion, info.Architecture, nil
}

// CheckHost compares the table's stamp with the running kernel.
func CheckHost(t Table) error {
	release, arch, err := HostKernel()
	if err != nil {
		return err
	}
	if t.Arch != "" && t.Arch != arch {
		return fmt.Errorf("table arch %s, host %s: %w", t.Arch, arch, ErrHostMismatch)
	}
	if t.Kernel != "" && t.Kernel != release {
		return fmt.Errorf("table kernel %s, host %s: %w", t.Kernel, release, ErrHostMismatch)
	}
	return nil
}

// Table sources reported by ForHost.
const (
	SourceFile    = "file"
	SourceBuiltin = "builtin"
	SourceBTF     = "btf"
)

// ForHost picks the offset table for the running kernel. An explicit path
// always wins. Otherwise the built-in table is used if its stamp matches the
// host, and the kernel's BTF is used if it does not. A mismatched built-in
// table is still returned, with the mismatch as error, when BTF is missing.
func ForHost(path string) (Table, string, error) {
	if path != "" {
		t, err := Load(path)
		return t, SourceFile, err
	}

	builtinTable, builtinErr := Builtin()
	if builtinErr == nil {
		if err := CheckHost(builtinTable); err == nil {
			return builtinTable, SourceBuiltin, nil
		}
	}

	t, btfErr := fromKernel()
	if btfErr == nil {
		t.Kernel, t.Arch, _ = HostKernel()
		return t, SourceBTF, nil
	}
	if builtinErr == nil {
		return builtinTable, SourceBuiltin, errors.Join(CheckHost(builtinTable), btfErr)
	}
	return Table{}, "", errors.Join(builtinErr, btfErr)
}
