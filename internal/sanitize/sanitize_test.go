package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "router1#", "router1#"},
		{"sgr colour", "\x1b[01;32muser@host\x1b[00m:~$ ", "user@host:~$ "},
		{"cursor movement", "foo\x1b[2K\x1b[1Gbar", "foobar"},
		{"bracketed paste", "\x1b[?2004huser@box:~$ ", "user@box:~$ "},
		{"osc title", "\x1b]0;user@box: ~\x07user@box:~$ ", "user@box:~$ "},
		{"two byte escape", "a\x1b=b\x1b>c", "abc"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Strip(tt.in))
		})
	}
}

func TestStripIdempotent(t *testing.T) {
	inputs := []string{
		"\x1b[1mbold\x1b[0m text",
		"--More--\x1b[8D        \x1b[8D",
		"plain text\r\nwith lines",
	}
	for _, in := range inputs {
		once := Strip(in)
		require.Equal(t, once, Strip(once))
	}
}

func TestDecode(t *testing.T) {
	require.Equal(t, "abc", Decode([]byte{'a', 0xff, 'b', 0xfe, 'c'}))
	require.Equal(t, "héllo", Decode([]byte("héllo")))
}

func TestClean(t *testing.T) {
	require.Equal(t, "ok", Clean([]byte("\x1b[32mok\x1b[0m")))
}

func TestNormalizeNewlines(t *testing.T) {
	require.Equal(t, "a\nb\nc", NormalizeNewlines("a\r\nb\r\nc\r"))
}

func TestLastLine(t *testing.T) {
	require.Equal(t, "router#", LastLine("show clock\r\n12:00\r\nrouter#"))
	require.Equal(t, "", LastLine("output\r\n"))
	require.Equal(t, "final", LastLine("progress 10%\rfinal"))
	require.Equal(t, "single", LastLine("single"))
}

func TestLines(t *testing.T) {
	require.Equal(t, []string{"a", "b", ""}, Lines("a\r\nb\r\n"))
	require.Nil(t, Lines(""))
}

func TestRedraw(t *testing.T) {
	require.Equal(t, "plain", Redraw("plain"))
	require.Equal(t, "trailing", Redraw("trailing\r"))
	require.Equal(t, "line2", Redraw("\r          \rline2"))
	require.Equal(t, "XYcdef", Redraw("abcdef\rXY"))
}

func TestStreamHoldsSplitRunes(t *testing.T) {
	var s Stream
	raw := []byte("café ok")
	require.Equal(t, "caf", s.Feed(raw[:4]))
	require.Equal(t, "é ok", s.Feed(raw[4:]))
	require.Equal(t, "done", s.Feed([]byte("\x1b[1mdone\x1b[0m")))
}

func TestStreamHoldsSplitEscapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"csi", "\x1b[01;32mu@host\x1b[00m:~$ ", "u@host:~$ "},
		{"osc title", "\x1b]0;u@host: ~\x07\x1b[01;34mu@host\x1b[0m:~$ ", "u@host:~$ "},
		{"charset", "\x1b(Bsw1#", "sw1#"},
		{"mixed", "caf\xc3\xa9 \x1b[1mbold\x1b[0m", "café bold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := []byte(tc.raw)
			for i := 0; i <= len(raw); i++ {
				var s Stream
				got := s.Feed(raw[:i]) + s.Feed(raw[i:])
				require.Equal(t, tc.want, got, "split at %d", i)
			}
		})
	}
}

func TestStreamFlushesOversizedEscape(t *testing.T) {
	var s Stream
	junk := "\x1b[" + strings.Repeat("1;", maxPending)
	s.Feed([]byte(junk))
	require.Empty(t, s.carry)
	require.Equal(t, "ok", s.Feed([]byte("ok")))
}
