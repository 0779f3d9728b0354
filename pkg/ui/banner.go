package ui

import "strings"

const (
	reset       = "\033[0m"
	bold        = "\033[1m"
	reverse     = "\033[7m"
	beeYellow   = "\033[38;5;226m"
	honeyOrange = "\033[38;5;214m"
	mint        = "\033[38;5;121m"
	seafoam     = "\033[38;5;49m"
	cobalt      = "\033[38;5;33m"
	fuchsia     = "\033[38;5;177m"
	flame       = "\033[38;5;208m"
	alertRed    = "\033[38;5;196m"
	dimGray     = "\033[38;5;244m"
)

// Banner renders a colored proctop wordmark.
func Banner() string {
	var b strings.Builder

	letters := [][]string{
		{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔═══╝ ", "██║     ", "╚═╝     "},
		{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔══██╗", "██║  ██║", "╚═╝  ╚═╝"},
		{" ██████╗ ", "██╔═████╗", "██║██╔██║", "████╔╝██║", "╚██████╔╝", " ╚═════╝ "},
		{" ██████╗", "██╔════╝", "██║     ", "██║     ", "╚██████╗", " ╚═════╝"},
		{"████████╗", "╚══██╔══╝", "   ██║   ", "   ██║   ", "   ██║   ", "   ╚═╝   "},
		{" ██████╗ ", "██╔═████╗", "██║██╔██║", "████╔╝██║", "╚██████╔╝", " ╚═════╝ "},
		{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔═══╝ ", "██║     ", "╚═╝     "},
	}
	gradient := []string{flame, honeyOrange, beeYellow, mint, seafoam, cobalt, fuchsia}
	rows := make([]string, len(letters[0]))
	for i, letter := range letters {
		color := gradient[i%len(gradient)]
		for row := 0; row < len(letter); row++ {
			rows[row] += color + letter[row] + " "
		}
	}
	for _, line := range rows {
		b.WriteString(bold + line + reset + "\n")
	}

	b.WriteString("\n")
	b.WriteString(bold + flame + "proctop" + reset + "  •  eBPF process monitor\n\n")

	return b.String()
}

// DegradedBanner is the one-line notice shown while the kernel side is
// unavailable.
func DegradedBanner(reason string) string {
	if reason == "" {
		return ""
	}
	return bold + alertRed + "[!] kernel telemetry unavailable: " + reason + reset
}

// SubsystemBanner is shown for each kernel subsystem that is down while the
// process list is still being collected.
func SubsystemBanner(warning string) string {
	if warning == "" {
		return ""
	}
	return bold + honeyOrange + "[!] " + warning + reset
}
