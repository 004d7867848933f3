package conn

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeOutput prepares a server line for display or relay: ANSI escape
// sequences are removed, then every control character except tab.
func SanitizeOutput(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == 0x1b {
			i = skipEscape(s, i)
			continue
		}
		if c < 0x80 {
			if c == '\t' || (c >= 0x20 && c != 0x7f) {
				b.WriteByte(c)
			}
			continue
		}
		// Multi-byte: copy the whole rune unless it is a C1 control.
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsControl(r) {
			b.WriteString(s[i : i+size])
		}
		i += size - 1
	}
	return b.String()
}

// skipEscape returns the index of the last byte of the escape sequence that
// starts at s[i].
func skipEscape(s string, i int) int {
	if i+1 >= len(s) {
		return i
	}
	switch s[i+1] {
	case '[':
		// CSI: parameters and intermediates, then one final byte 0x40-0x7e.
		j := i + 2
		for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
			j++
		}
		if j >= len(s) {
			return len(s) - 1
		}
		return j
	case ']':
		// OSC: terminated by BEL or ESC \.
		for j := i + 2; j < len(s); j++ {
			if s[j] == 0x07 {
				return j
			}
			if s[j] == 0x1b && j+1 < len(s) && s[j+1] == '\\' {
				return j + 1
			}
		}
		return len(s) - 1
	default:
		return i + 1
	}
}

// SanitizeInput strips line terminators so one outbound command cannot carry
// a second one with it.
func SanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', '\u0085', '\u2028', '\u2029':
			return -1
		}
		return r
	}, s)
}
