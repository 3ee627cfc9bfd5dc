// Package sanitize turns raw terminal bytes from a device into plain text.
package sanitize

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// Older devices emit short two-byte escapes and a few CSI forms that are not
// well formed enough for the ansi parser to swallow, so they are removed first.
var legacyEscape = regexp.MustCompile(`\x1b(?:[@-Z\\=>^_]|\[[0-?]*[ -/]*[@-~])`)

// Strip removes terminal control sequences from s. Text without control
// sequences is returned unchanged, and Strip(Strip(s)) == Strip(s).
func Strip(s string) string {
	if strings.IndexByte(s, 0x1b) < 0 {
		return s
	}
	s = legacyEscape.ReplaceAllString(s, "")
	return ansi.Strip(s)
}

// Decode converts raw bytes to a string, dropping invalid UTF-8 sequences.
func Decode(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "")
}

// Clean decodes raw bytes and strips control sequences.
func Clean(raw []byte) string {
	return Strip(Decode(raw))
}

// NormalizeNewlines converts CRLF and lone CR line endings to LF.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

// LastLine returns the text after the final line feed. Carriage returns are
// dropped so a redrawn line reads as its final state.
func LastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndexByte(strings.TrimRight(s, "\r"), '\r'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimRight(s, "\r")
}

// Lines splits text into lines after normalising line endings.
func Lines(s string) []string {
	s = NormalizeNewlines(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Redraw applies carriage returns within a single line the way a terminal
// would: each segment after a CR overwrites the start of the line.
func Redraw(line string) string {
	line = strings.TrimRight(line, "\r")
	if strings.IndexByte(line, '\r') < 0 {
		return line
	}
	var screen []rune
	for _, seg := range strings.Split(line, "\r") {
		r := []rune(seg)
		if len(r) > len(screen) {
			screen = append(screen, make([]rune, len(r)-len(screen))...)
		}
		copy(screen, r)
	}
	return strings.TrimRight(string(screen), " ")
}

// Stream cleans output that arrives in chunks. A multi-byte character or an
// escape sequence split across two chunks is held back until the rest arrives.
type Stream struct {
	carry []byte
}

// maxPending bounds how much of an unterminated escape sequence is held back.
// Anything longer is treated as garbage and passed on to Clean.
const maxPending = 256

// Feed cleans p, prefixed by any bytes held back from the previous call.
func (s *Stream) Feed(p []byte) string {
	buf := append(s.carry, p...)
	s.carry = nil
	cut := pendingEscape(buf)
	if cut < 0 {
		cut = pendingRune(buf)
	}
	if cut < len(buf) {
		s.carry = append([]byte(nil), buf[cut:]...)
	}
	return Clean(buf[:cut])
}

// pendingRune returns the offset of a trailing incomplete UTF-8 sequence, or
// len(buf).
func pendingRune(buf []byte) int {
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(buf[i]) {
			continue
		}
		if !utf8.FullRune(buf[i:]) {
			return i
		}
		break
	}
	return len(buf)
}

// pendingEscape returns the offset of a trailing escape sequence that has not
// seen its final byte yet, or -1.
func pendingEscape(buf []byte) int {
	i := bytes.LastIndexByte(buf, 0x1b)
	if i < 0 || len(buf)-i > maxPending {
		return -1
	}
	seq := buf[i+1:]
	if len(seq) == 0 {
		return i
	}
	switch seq[0] {
	case '[':
		// CSI: parameter and intermediate bytes until a final byte in @-~.
		for _, c := range seq[1:] {
			if c >= 0x40 && c <= 0x7e {
				return -1
			}
			if c < 0x20 || c > 0x3f {
				return -1
			}
		}
		return i
	case ']', 'P', 'X', '^', '_':
		// String sequences end with BEL or ST. ST starts with ESC, so a
		// terminated one never has its introducer as the last ESC.
		if bytes.IndexByte(seq[1:], 0x07) >= 0 {
			return -1
		}
		return i
	}
	// nF escapes: intermediate bytes until a final byte.
	for _, c := range seq {
		if c < 0x20 || c > 0x2f {
			return -1
		}
	}
	return i
}
