// Package ui is the interactive terminal front end. It owns the process
// model; snapshots arrive from the collection goroutine through a queue and
// only the newest one pending is applied per poll.
package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srodi/proctop-bpf/pkg/control"
	"github.com/srodi/proctop-bpf/pkg/loop"
	"github.com/srodi/proctop-bpf/pkg/model"
	"github.com/srodi/proctop-bpf/pkg/types"
)

const (
	pollInterval = 50 * time.Millisecond
	statusTTL    = 3 * time.Second
)

var sendSignal = control.Send

// Publisher receives every snapshot applied to the model.
type Publisher interface {
	Publish(types.Snapshot)
}

// Config wires an App.
type Config struct {
	Model     *model.Model
	Queue     *loop.Queue
	Publisher Publisher
	Interval  time.Duration
	In        *os.File
	Out       *os.File
	Logger    logrus.FieldLogger
}

// App is the UI event loop.
type App struct {
	model     *model.Model
	queue     *loop.Queue
	publisher Publisher
	in, out   *os.File
	log       logrus.FieldLogger

	view     View
	statusAt time.Time
	quit     bool
}

// New builds an App; it does not touch the terminal until Run.
func New(cfg Config) *App {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	in, out := cfg.In, cfg.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &App{
		model:     cfg.Model,
		queue:     cfg.Queue,
		publisher: cfg.Publisher,
		in:        in,
		out:       out,
		log:       log.WithField("component", "ui"),
		view:      View{Width: 80, Height: 24, Interval: cfg.Interval},
	}
}

// Run drives the UI until the user quits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	scr := enterScreen(a.in, a.out, a.log)
	defer scr.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	keys := make(chan Key, 32)
	go readKeys(ctx, a.in, keys)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	dirty := true
	for !a.quit {
		w, h := scr.size()
		if w != a.view.Width || h != a.view.Height {
			a.view.Width, a.view.Height = w, h
			dirty = true
		}
		if a.drain() {
			dirty = true
		}
		if a.expireStatus(time.Now()) {
			dirty = true
		}
		if dirty {
			a.model.SetVisibleRows(tableHeight(a.model, a.view))
			if _, err := io.WriteString(a.out, Render(a.model, a.view)); err != nil {
				return fmt.Errorf("writing frame: %w", err)
			}
			dirty = false
		}

		select {
		case <-ctx.Done():
			return nil
		case k := <-keys:
			a.handleKey(k)
			dirty = true
		case <-ticker.C:
		}
	}
	return nil
}

// drain applies the newest queued snapshot, if any.
func (a *App) drain() bool {
	snap, skipped, ok := a.queue.DrainLatest()
	if !ok {
		return false
	}
	if skipped > 0 {
		a.log.WithField("skipped", skipped).Debug("ui fell behind, applying newest snapshot only")
	}
	a.model.Apply(snap)
	if a.publisher != nil {
		a.publisher.Publish(snap)
	}
	return true
}

func (a *App) setStatus(format string, args ...any) {
	a.view.Status = fmt.Sprintf(format, args...)
	a.statusAt = time.Now()
}

func (a *App) expireStatus(now time.Time) bool {
	if a.view.Status == "" || now.Sub(a.statusAt) < statusTTL {
		return false
	}
	a.view.Status = ""
	return true
}

func (a *App) handleKey(k Key) {
	if a.view.Help {
		a.view.Help = false
		return
	}
	if a.view.Mode != ModeNormal {
		a.handleInput(k)
		return
	}

	m := a.model
	switch k.Code {
	case KeyUp:
		m.Move(-1)
	case KeyDown:
		m.Move(1)
	case KeyPgUp:
		m.PageUp()
	case KeyPgDn:
		m.PageDown()
	case KeyHome:
		m.Home()
	case KeyEnd:
		m.End()
	case KeyLeft:
		m.Collapse()
	case KeyRight:
		m.Expand()
	case KeyEnter:
		if m.TreeView() {
			m.ToggleCollapse()
		}
	case KeyEsc:
		m.CancelVisual()
	case KeyCtrlC, KeyF10:
		a.quit = true
	case KeyF1:
		a.view.Help = true
	case KeyF3:
		a.prompt(ModeJump, "")
	case KeyF4:
		a.prompt(ModeFilter, m.Filter().Text)
	case KeyF5:
		m.ToggleTree()
	case KeyF6:
		m.SetSort(a.nextSort())
	case KeyF9:
		a.prompt(ModeSignal, "")
	case KeyRune:
		a.handleRune(k.Rune)
	}
}

func (a *App) nextSort() model.SortColumn {
	col, _ := a.model.Sort()
	return col.Next()
}

func (a *App) handleRune(r rune) {
	m := a.model
	switch r {
	case 'q':
		a.quit = true
	case '?', 'h':
		a.view.Help = true
	case '/':
		a.prompt(ModeFilter, m.Filter().Text)
	case 'c':
		a.prompt(ModeCgroup, m.Filter().CgroupFilter)
	case 'g':
		a.prompt(ModeJump, "")
	case 'k':
		a.prompt(ModeSignal, "")
	case 'u':
		if user := m.CycleUserFilter(); user != "" {
			a.setStatus("showing processes of %s", user)
		} else {
			a.setStatus("showing all users")
		}
	case 'K':
		m.ToggleKernelThreads()
	case 't':
		m.ToggleTree()
	case '>', '.':
		m.SetSort(a.nextSort())
	case '<', ',':
		col, _ := m.Sort()
		m.SetSort(col.Prev())
	case 'I':
		m.ToggleSortOrder()
	case ' ':
		m.ToggleTag()
	case 'U':
		m.UntagAll()
	case 'V':
		if m.InVisual() {
			a.setStatus("tagged %d processes", m.EndVisual())
		} else {
			m.StartVisual()
		}
	case '+', '=':
		m.Expand()
	case '-':
		m.Collapse()
	case 'p':
		if !m.JumpToParent() {
			a.setStatus("parent is not visible")
		}
	case 'b':
		m.JumpBack()
	case 'f':
		m.JumpForward()
	}
}

func (a *App) prompt(mode Mode, initial string) {
	a.view.Mode = mode
	a.view.Input = initial
}

func (a *App) handleInput(k Key) {
	switch k.Code {
	case KeyEsc, KeyCtrlC:
		switch a.view.Mode {
		case ModeFilter:
			a.model.SetFilterText("")
		case ModeCgroup:
			a.model.SetCgroupFilter("")
		}
		a.view.Mode, a.view.Input = ModeNormal, ""
		return
	case KeyEnter:
		a.commitInput()
		a.view.Mode, a.view.Input = ModeNormal, ""
		return
	case KeyBackspace:
		if r := []rune(a.view.Input); len(r) > 0 {
			a.view.Input = string(r[:len(r)-1])
		}
	case KeyRune:
		a.view.Input += string(k.Rune)
	default:
		return
	}

	// Filters apply while typing.
	switch a.view.Mode {
	case ModeFilter:
		a.model.SetFilterText(a.view.Input)
	case ModeCgroup:
		a.model.SetCgroupFilter(a.view.Input)
	}
}

func (a *App) commitInput() {
	input := strings.TrimSpace(a.view.Input)
	switch a.view.Mode {
	case ModeJump:
		pid, err := strconv.ParseUint(input, 10, 32)
		if err != nil {
			a.setStatus("not a pid: %q", input)
			return
		}
		if !a.model.JumpTo(uint32(pid)) {
			a.setStatus("pid %d is not visible", pid)
		}
	case ModeSignal:
		sig := unix.SIGTERM
		if input != "" {
			var err error
			if sig, err = control.ParseSignal(input); err != nil {
				a.setStatus("%v", err)
				return
			}
		}
		a.signal(sig)
	}
}

func (a *App) signal(sig unix.Signal) {
	targets := a.model.SignalTargets()
	if len(targets) == 0 {
		a.setStatus("nothing to signal")
		return
	}
	sent, err := sendSignal(targets, sig)
	if err != nil {
		a.log.WithError(err).WithField("signal", control.Name(sig)).Warn("signal delivery failed for some processes")
	}
	a.setStatus("sent SIG%s to %d/%d processes", control.Name(sig), sent, len(targets))
}
