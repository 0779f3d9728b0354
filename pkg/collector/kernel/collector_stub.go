//go:build !linux
// +build !linux

package kernel

import (
	"github.com/prometheus/procfs"

	"github.com/srodi/proctop-bpf/pkg/abi"
)

// Collector is a placeholder on non-Linux platforms.
type Collector struct{}

// NewCollector returns an error because eBPF is only supported on Linux.
func NewCollector(Options) (*Collector, error) {
	return nil, ErrUnsupported
}

// Status reports every subsystem as unsupported.
func (c *Collector) Status() []Status {
	return []Status{
		{Name: SubsystemIterator, Err: ErrUnsupported},
		{Name: SubsystemCmdline, Err: ErrUnsupported},
		{Name: SubsystemNetwork, Err: ErrUnsupported},
	}
}

// Dump always fails on unsupported platforms.
func (c *Collector) Dump() ([]byte, error) {
	return nil, ErrUnsupported
}

// Tasks always fails on unsupported platforms.
func (c *Collector) Tasks() ([]abi.TaskRecord, error) {
	return nil, ErrUnsupported
}

// Cmdlines always fails on unsupported platforms.
func (c *Collector) Cmdlines() (map[uint32]string, error) {
	return nil, ErrUnsupported
}

// NetCounters always fails on unsupported platforms.
func (c *Collector) NetCounters() (map[uint32]abi.NetCounters, error) {
	return nil, ErrUnsupported
}

// SeedCmdlines always fails on unsupported platforms.
func (c *Collector) SeedCmdlines(procfs.FS) (int, error) {
	return 0, ErrUnsupported
}

// RecvInflight always fails on unsupported platforms.
func (c *Collector) RecvInflight(uint64) (bool, error) {
	return false, ErrUnsupported
}

// Close is a no-op stub.
func (c *Collector) Close() error {
	return nil
}
