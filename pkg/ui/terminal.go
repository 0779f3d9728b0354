package ui

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// screen owns the terminal while the UI runs.
type screen struct {
	out     io.Writer
	outFD   int
	restore []func()
}

// enterScreen switches to the alternate buffer, hides the cursor and puts
// stdin in raw mode. It is a no-op when stdout is not a terminal.
func enterScreen(in, out *os.File, log logrus.FieldLogger) *screen {
	s := &screen{out: out, outFD: int(out.Fd())}
	if !term.IsTerminal(s.outFD) {
		return s
	}

	io.WriteString(out, "\033[?1049h") // switch to alternate buffer
	io.WriteString(out, "\033[?25l")   // hide cursor
	s.restore = append(s.restore, func() {
		io.WriteString(out, "\033[?25h")   // show cursor
		io.WriteString(out, "\033[?1049l") // restore main buffer
	})

	inFD := int(in.Fd())
	if term.IsTerminal(inFD) {
		state, err := term.MakeRaw(inFD)
		if err != nil {
			log.WithError(err).Warn("unable to put stdin in raw mode")
		} else {
			s.restore = append(s.restore, func() { _ = term.Restore(inFD, state) })
		}
	}
	return s
}

// size returns the terminal size, falling back to 80x24.
func (s *screen) size() (int, int) {
	w, h, err := term.GetSize(s.outFD)
	if err != nil || w <= 0 || h <= 0 {
		return 80, 24
	}
	return w, h
}

func (s *screen) close() {
	for i := len(s.restore) - 1; i >= 0; i-- {
		s.restore[i]()
	}
	s.restore = nil
}
