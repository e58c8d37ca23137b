package pipeline

import (
	"bytes"
	"fmt"
	"strings"

	"stressjudge/internal/stress/sandbox/result"
	"stressjudge/internal/stress/sandbox/spec"
)

const diffSnippetRunes = 100

// Compare reports whether got matches want under mode, with a first-mismatch diagnostic otherwise.
func Compare(mode spec.CompareMode, got, want []byte) (string, bool) {
	switch mode {
	case spec.CompareExact:
		if bytes.Equal(got, want) {
			return "", true
		}
		return firstMismatch(splitLines(string(got)), splitLines(string(want))), false
	case spec.CompareLines:
		g := normalizeLines(string(got))
		w := normalizeLines(string(want))
		if equalLines(g, w) {
			return "", true
		}
		return firstMismatch(g, w), false
	default:
		g := strings.TrimSpace(string(got))
		w := strings.TrimSpace(string(want))
		if g == w {
			return "", true
		}
		return firstMismatch(splitLines(g), splitLines(w)), false
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// normalizeLines drops trailing whitespace per line and trailing blank lines.
func normalizeLines(s string) []string {
	lines := splitLines(s)
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func firstMismatch(got, want []string) string {
	n := len(got)
	if len(want) > n {
		n = len(want)
	}
	for i := 0; i < n; i++ {
		var g, w string
		gok, wok := i < len(got), i < len(want)
		if gok {
			g = got[i]
		}
		if wok {
			w = want[i]
		}
		switch {
		case !gok:
			return fmt.Sprintf("line %d: expected %q, got end of output", i+1, snippet(w))
		case !wok:
			return fmt.Sprintf("line %d: expected end of output, got %q", i+1, snippet(g))
		case g != w:
			return fmt.Sprintf("line %d: expected %q, got %q", i+1, snippet(w), snippet(g))
		}
	}
	return "outputs differ in whitespace"
}

func snippet(s string) string {
	return result.Truncate(s, diffSnippetRunes)
}
