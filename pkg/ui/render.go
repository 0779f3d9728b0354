package ui

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/srodi/proctop-bpf/pkg/model"
	"github.com/srodi/proctop-bpf/pkg/types"
)

// View is the per-frame state that lives outside the model.
type View struct {
	Width    int
	Height   int
	Interval time.Duration
	Mode     Mode
	Input    string
	Status   string
	Help     bool
}

// Mode is the input mode of the UI.
type Mode int

const (
	ModeNormal Mode = iota
	ModeFilter
	ModeCgroup
	ModeSignal
	ModeJump
)

func (m Mode) prompt() string {
	switch m {
	case ModeFilter:
		return "Filter: "
	case ModeCgroup:
		return "Cgroup/container: "
	case ModeSignal:
		return "Signal (name or number, Enter=TERM): "
	case ModeJump:
		return "Go to PID: "
	}
	return ""
}

const meterWidth = 30

// headerLines renders the system summary above the table.
func headerLines(m *model.Model, v View) []string {
	sys := m.System
	var lines []string

	perLine := max(1, v.Width/(meterWidth+8))
	var row []string
	for i, c := range sys.PerCPU {
		row = append(row, meter(fmt.Sprintf("%3d", i), c.Busy, meterWidth, fmt.Sprintf("%5.1f%%", c.Busy)))
		if len(row) == perLine {
			lines = append(lines, strings.Join(row, " "))
			row = nil
		}
	}
	if len(row) > 0 {
		lines = append(lines, strings.Join(row, " "))
	}

	mem := sys.Memory
	lines = append(lines,
		meter("Mem", pct(mem.Used, mem.Total), meterWidth, types.FormatBytes(mem.Used)+"/"+types.FormatBytes(mem.Total))+
			"  "+fmt.Sprintf("Tasks: %d, %d thr, %d kthr; %d running", sys.Processes, sys.UserThreads, sys.KernelThreads, sys.Running),
		meter("Swp", pct(mem.SwapUsed, mem.SwapTotal), meterWidth, types.FormatBytes(mem.SwapUsed)+"/"+types.FormatBytes(mem.SwapTotal))+
			"  "+fmt.Sprintf("Load average: %.2f %.2f %.2f", sys.Load[0], sys.Load[1], sys.Load[2]),
		fmt.Sprintf("%*s  Uptime: %s", meterWidth+5, "", types.FormatUptime(sys.Uptime)),
	)

	if m.Degraded != "" {
		lines = append(lines, DegradedBanner(m.Degraded))
	}
	for _, w := range m.Warnings {
		lines = append(lines, SubsystemBanner(w))
	}
	return lines
}

func pct(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

// meter draws label[|||||      text] with width cells between the brackets.
func meter(label string, percent float64, width int, text string) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	fill := int(percent / 100 * float64(width))
	cells := []rune(strings.Repeat("|", fill) + strings.Repeat(" ", width-fill))
	t := []rune(text)
	if len(t) <= width {
		copy(cells[width-len(t):], t)
	}
	color := mint
	switch {
	case percent >= 90:
		color = alertRed
	case percent >= 60:
		color = honeyOrange
	}
	return cobalt + label + reset + "[" + color + string(cells) + reset + "]"
}

type column struct {
	title string
	width int
	left  bool
	sort  model.SortColumn
}

var columns = []column{
	{"PID", 7, false, model.SortPID},
	{"USER", 9, true, model.SortUser},
	{"PRI", 3, false, model.SortPriority},
	{"NI", 3, false, model.SortNice},
	{"VIRT", 6, false, model.SortVirt},
	{"RES", 6, false, model.SortRes},
	{"SHR", 6, false, model.SortShr},
	{"S", 1, true, model.SortState},
	{"CPU%", 5, false, model.SortCPU},
	{"MEM%", 5, false, model.SortMem},
	{"TIME+", 9, false, model.SortTime},
	{"NET", 9, false, model.SortNet},
	{"CONT", 18, true, model.SortContainer},
}

var gpuColumns = []column{
	{"GPU%", 5, false, model.SortGPU},
	{"GMEM", 6, false, model.SortGPUMem},
}

func tableColumns(showGPU bool) []column {
	if !showGPU {
		return columns
	}
	out := make([]column, 0, len(columns)+len(gpuColumns))
	out = append(out, columns[:10]...)
	out = append(out, gpuColumns...)
	return append(out, columns[10:]...)
}

func pad(s string, c column) string {
	s = truncate(s, c.width)
	if c.left {
		return fmt.Sprintf("%-*s", c.width, s)
	}
	return fmt.Sprintf("%*s", c.width, s)
}

func headerRow(cols []column, sortCol model.SortColumn, ascending bool) string {
	var b strings.Builder
	for _, c := range cols {
		title := c.title
		if c.sort == sortCol {
			if ascending {
				title += "^"
			} else {
				title += "v"
			}
		}
		b.WriteString(pad(title, column{width: c.width, left: c.left}))
		b.WriteByte(' ')
	}
	b.WriteString("Command")
	if sortCol == model.SortCommand {
		if ascending {
			b.WriteString("^")
		} else {
			b.WriteString("v")
		}
	}
	return b.String()
}

func cellValue(p *types.Process, s model.SortColumn) string {
	switch s {
	case model.SortPID:
		return fmt.Sprint(p.PID)
	case model.SortUser:
		return p.User
	case model.SortPriority:
		if p.Priority < -99 {
			return "RT"
		}
		return fmt.Sprint(p.Priority)
	case model.SortNice:
		return fmt.Sprint(p.Nice)
	case model.SortVirt:
		return types.FormatBytes(p.VirtBytes)
	case model.SortRes:
		return types.FormatBytes(p.ResBytes)
	case model.SortShr:
		return types.FormatBytes(p.ShrBytes)
	case model.SortState:
		return string(p.State.Char())
	case model.SortCPU:
		return fmt.Sprintf("%.1f", p.CPUPercent)
	case model.SortMem:
		return fmt.Sprintf("%.1f", p.MemPercent)
	case model.SortGPU:
		return fmt.Sprintf("%.1f", p.GPUPercent)
	case model.SortGPUMem:
		return types.FormatBytes(p.GPUMemBytes)
	case model.SortTime:
		return types.FormatCPUTime(p.CPUTimeSecs)
	case model.SortNet:
		return types.FormatRate(p.NetTxRate + p.NetRxRate)
	case model.SortContainer:
		if p.Container.ID != "" {
			return p.Container.Label()
		}
		return p.Service
	}
	return ""
}

func formatRow(r model.Row, cols []column) string {
	var b strings.Builder
	for _, c := range cols {
		b.WriteString(pad(cellValue(r.Proc, c.sort), c))
		b.WriteByte(' ')
	}
	b.WriteString(r.Prefix)
	if r.Collapsed {
		b.WriteString("+ ")
	}
	b.WriteString(r.Proc.Cmdline)
	return b.String()
}

func showGPU(rows []model.Row) bool {
	for _, r := range rows {
		if r.Proc.GPUPercent > 0 || r.Proc.GPUMemBytes > 0 {
			return true
		}
	}
	return false
}

// tableHeight is how many process rows fit under the header.
func tableHeight(m *model.Model, v View) int {
	return max(0, v.Height-len(headerLines(m, v))-2)
}

// Render draws one frame. Every line is cleared to the end so a shorter
// frame never leaves stale text behind.
func Render(m *model.Model, v View) string {
	if v.Help {
		return renderHelp(v)
	}
	var b strings.Builder
	b.WriteString("\033[H")
	line := func(s string) {
		b.WriteString(s)
		b.WriteString(reset + "\033[K\r\n")
	}

	for _, l := range headerLines(m, v) {
		line(l)
	}

	rows := m.Rows()
	cols := tableColumns(showGPU(rows))
	sortCol, asc := m.Sort()
	line(reverse + bold + padRight(truncate(headerRow(cols, sortCol, asc), v.Width), v.Width))

	height := tableHeight(m, v)
	lo, hi, visual := m.VisualRange()
	start := m.ScrollOffset()
	for i := start; i < len(rows) && i < start+height; i++ {
		r := rows[i]
		text := truncate(formatRow(r, cols), v.Width)
		tagged := m.IsTagged(r.Proc.PID)
		style := ""
		switch {
		case i == m.SelectedIndex() && tagged:
			style = reverse + beeYellow
		case i == m.SelectedIndex():
			style = reverse
		case visual && i >= lo && i <= hi:
			style = bold + cobalt
		case tagged:
			style = beeYellow
		case r.Proc.IsKernelThread:
			style = dimGray
		}
		if i == m.SelectedIndex() {
			text = padRight(text, v.Width)
		}
		line(style + text)
	}
	for i := len(rows) - start; i < height; i++ {
		line("")
	}

	b.WriteString(footer(m, v))
	b.WriteString(reset + "\033[K\033[J")
	return b.String()
}

func footer(m *model.Model, v View) string {
	if v.Mode != ModeNormal {
		return truncate(v.Mode.prompt()+v.Input+"_", v.Width)
	}
	if v.Status != "" {
		return truncate(v.Status, v.Width)
	}
	var parts []string
	f := m.Filter()
	if f.Text != "" {
		parts = append(parts, "filter="+f.Text)
	}
	if f.User != "" {
		parts = append(parts, "user="+f.User)
	}
	if f.CgroupFilter != "" {
		parts = append(parts, "cgroup="+f.CgroupFilter)
	}
	if n := len(m.TaggedPIDs()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d tagged", n))
	}
	if m.InVisual() {
		parts = append(parts, "-- VISUAL --")
	}
	hints := "F1 Help  F3 Jump  F4 Filter  F5 Tree  F6 Sort  F9 Kill  F10 Quit"
	if len(parts) > 0 {
		hints = "[" + strings.Join(parts, " ") + "]  " + hints
	}
	return truncate(hints, v.Width)
}

var helpKeys = [][2]string{
	{"Up/Down PgUp/PgDn Home/End", "move the cursor"},
	{"F4 or /", "filter by name, command line, pid or user"},
	{"c", "filter by cgroup path or container"},
	{"u", "cycle the user filter"},
	{"K", "show or hide kernel threads"},
	{"F5 or t", "toggle tree view"},
	{"+ / - / Enter", "expand or collapse a subtree (tree view)"},
	{"F6 or > / <", "next or previous sort column"},
	{"I", "invert the sort order"},
	{"Space", "tag the process and move down"},
	{"V", "start or finish a visual range tag"},
	{"U", "untag everything"},
	{"F9 or k", "send a signal to tagged processes, or the selected one"},
	{"F3 or g", "go to a pid"},
	{"p", "go to the parent process"},
	{"b / f", "jump back or forward"},
	{"Esc", "cancel the current prompt or visual range"},
	{"F10 or q", "quit"},
}

func renderHelp(v View) string {
	var buf bytes.Buffer
	buf.WriteString("\033[H\033[2J")
	buf.WriteString(Banner())
	tw := tabwriter.NewWriter(&buf, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "KEY\tACTION")
	for _, k := range helpKeys {
		fmt.Fprintf(tw, "%s\t%s\n", k[0], k[1])
	}
	tw.Flush()
	fmt.Fprintf(&buf, "\nRefresh every %v. Press any key to return.\n", v.Interval)
	return strings.ReplaceAll(buf.String(), "\n", "\r\n")
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width])
}

func padRight(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
