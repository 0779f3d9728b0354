package types

import (
	"fmt"
	"time"
)

// FormatBytes renders a byte count the way the VIRT/RES/SHR columns do.
func FormatBytes(b uint64) string {
	const (
		k = 1024
		m = k * 1024
		g = m * 1024
	)
	switch {
	case b >= g:
		return fmt.Sprintf("%.1fG", float64(b)/g)
	case b >= m:
		return fmt.Sprintf("%.0fM", float64(b)/m)
	case b >= k:
		return fmt.Sprintf("%.0fK", float64(b)/k)
	}
	return fmt.Sprintf("%dB", b)
}

// FormatRate renders a bytes-per-second value.
func FormatRate(bps float64) string {
	if bps <= 0 {
		return "0"
	}
	return FormatBytes(uint64(bps)) + "/s"
}

// FormatCPUTime renders TIME+ as H:MM:SS.cc, or M:SS.cc under an hour.
func FormatCPUTime(secs float64) string {
	if secs < 0 {
		secs = 0
	}
	centis := uint64(secs*100 + 0.5)
	h := centis / 360000
	m := centis / 6000 % 60
	s := centis / 100 % 60
	cs := centis % 100
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
	}
	return fmt.Sprintf("%d:%02d.%02d", m, s, cs)
}

// FormatUptime renders "Xd HH:MM:SS", dropping the day part below one day.
func FormatUptime(d time.Duration) string {
	secs := uint64(d / time.Second)
	days := secs / 86400
	h := secs / 3600 % 24
	m := secs / 60 % 60
	s := secs % 60
	if days > 0 {
		return fmt.Sprintf("%dd %02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
