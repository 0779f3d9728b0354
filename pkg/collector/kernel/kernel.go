// Package kernel loads the proctop eBPF object and exposes the task iterator,
// the cmdline table and the network counters table to userspace.
package kernel

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/srodi/proctop-bpf/pkg/offsets"
)

// Subsystem names reported by Status.
const (
	SubsystemIterator = "iterator"
	SubsystemCmdline  = "cmdline"
	SubsystemNetwork  = "network"
)

// ErrUnsupported is returned on platforms without eBPF.
var ErrUnsupported = errors.New("kernel collector requires linux")

// ErrSubsystemDown is returned by readers whose probes failed to attach.
var ErrSubsystemDown = errors.New("subsystem not attached")

// Options configure NewCollector.
type Options struct {
	Offsets offsets.Table
	Logger  logrus.FieldLogger
}

// Status is the attach outcome of one subsystem.
type Status struct {
	Name string
	Err  error
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger().WithField("component", "kernel")
	}
	return o.Logger.WithField("component", "kernel")
}
