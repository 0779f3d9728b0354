// Package control sends signals to processes picked in the UI.
package control

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var kill = unix.Kill

// Common lists the signals offered in the signal menu, in menu order.
var Common = []unix.Signal{
	unix.SIGTERM, unix.SIGKILL, unix.SIGINT, unix.SIGHUP,
	unix.SIGSTOP, unix.SIGCONT, unix.SIGUSR1, unix.SIGUSR2,
}

// ParseSignal accepts "TERM", "SIGTERM", "sigkill" or a number.
func ParseSignal(s string) (unix.Signal, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.New("empty signal")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || n > 64 {
			return 0, fmt.Errorf("signal %d out of range", n)
		}
		return unix.Signal(n), nil
	}
	if !strings.HasPrefix(s, "SIG") {
		s = "SIG" + s
	}
	sig := unix.SignalNum(s)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", s)
	}
	return sig, nil
}

// Name returns the short name of sig, e.g. "TERM".
func Name(sig unix.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return strings.TrimPrefix(name, "SIG")
	}
	return strconv.Itoa(int(sig))
}

// Send delivers sig to every pid and returns how many succeeded. Failures
// are joined into the returned error; pid 0 is never signalled since that
// would hit our own process group.
func Send(pids []uint32, sig unix.Signal) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, pid := range pids {
		if pid == 0 {
			errs = append(errs, errors.New("refusing to signal pid 0"))
			continue
		}
		if err := kill(int(pid), sig); err != nil {
			errs = append(errs, fmt.Errorf("pid %d: %w", pid, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
