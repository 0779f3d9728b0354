package ui

import (
	"bufio"
	"context"
	"io"
	"unicode/utf8"
)

// KeyCode names the non-printable keys the UI reacts to.
type KeyCode int

const (
	KeyRune KeyCode = iota
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyPgUp
	KeyPgDn
	KeyHome
	KeyEnd
	KeyEnter
	KeyEsc
	KeyBackspace
	KeyTab
	KeyCtrlC
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
)

// Key is one decoded key press. Rune is set only for KeyRune.
type Key struct {
	Code KeyCode
	Rune rune
}

var escapeSeqs = map[string]KeyCode{
	"[A": KeyUp, "[B": KeyDown, "[C": KeyRight, "[D": KeyLeft,
	"OA": KeyUp, "OB": KeyDown, "OC": KeyRight, "OD": KeyLeft,
	"[H": KeyHome, "[F": KeyEnd, "OH": KeyHome, "OF": KeyEnd,
	"[1~": KeyHome, "[4~": KeyEnd, "[7~": KeyHome, "[8~": KeyEnd,
	"[5~": KeyPgUp, "[6~": KeyPgDn,
	"OP": KeyF1, "OQ": KeyF2, "OR": KeyF3, "OS": KeyF4,
	"[11~": KeyF1, "[12~": KeyF2, "[13~": KeyF3, "[14~": KeyF4,
	"[15~": KeyF5, "[17~": KeyF6, "[18~": KeyF7, "[19~": KeyF8,
	"[20~": KeyF9, "[21~": KeyF10,
}

// ParseKeys decodes one read from a raw-mode terminal. A lone ESC is the
// Escape key; unknown escape sequences are dropped.
func ParseKeys(buf []byte) []Key {
	var keys []Key
	for len(buf) > 0 {
		switch c := buf[0]; {
		case c == 0x1b:
			n, code, ok := parseEscape(buf[1:])
			if !ok {
				keys = append(keys, Key{Code: KeyEsc})
				buf = buf[1:]
				continue
			}
			if code >= 0 {
				keys = append(keys, Key{Code: code})
			}
			buf = buf[1+n:]
		case c == '\r' || c == '\n':
			keys = append(keys, Key{Code: KeyEnter})
			buf = buf[1:]
		case c == 0x7f || c == 0x08:
			keys = append(keys, Key{Code: KeyBackspace})
			buf = buf[1:]
		case c == '\t':
			keys = append(keys, Key{Code: KeyTab})
			buf = buf[1:]
		case c == 0x03:
			keys = append(keys, Key{Code: KeyCtrlC})
			buf = buf[1:]
		case c < 0x20:
			buf = buf[1:]
		default:
			r, size := utf8.DecodeRune(buf)
			keys = append(keys, Key{Code: KeyRune, Rune: r})
			buf = buf[size:]
		}
	}
	return keys
}

// parseEscape matches the bytes after ESC. It returns the number of bytes
// consumed and the key, or code -1 for a well-formed but unknown sequence.
func parseEscape(b []byte) (int, KeyCode, bool) {
	if len(b) == 0 || (b[0] != '[' && b[0] != 'O') {
		return 0, 0, false
	}
	// CSI sequences end at the first byte in 0x40..0x7e after the introducer.
	for i := 1; i < len(b) && i < 8; i++ {
		if b[i] >= 0x40 && b[i] <= 0x7e {
			seq := string(b[:i+1])
			if code, ok := escapeSeqs[seq]; ok {
				return i + 1, code, true
			}
			return i + 1, -1, true
		}
	}
	return 0, 0, false
}

// readKeys forwards decoded keys from r until ctx ends or r fails.
func readKeys(ctx context.Context, r io.Reader, out chan<- Key) {
	br := bufio.NewReader(r)
	buf := make([]byte, 64)
	for {
		n, err := br.Read(buf)
		for _, k := range ParseKeys(buf[:n]) {
			select {
			case out <- k:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}
