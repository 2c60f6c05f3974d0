// Package annotate implements the maintainer-annotator auxiliary utility
// a stdin-to-stdout line filter that appends each line's leading
// package name with its maintainers' handles, for piping build-queue or
// log output through to a human-readable form.
package annotate

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// identChar reports whether r can appear in a pkgbase token.
func identChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '+' || r == '-':
		return true
	}
	return false
}

// leadingToken returns the maximal run of identChar runes at the start
// of line, and the remainder.
func leadingToken(line string) (string, string) {
	i := 0
	for i < len(line) && identChar(rune(line[i])) {
		i++
	}
	return line[:i], line[i:]
}

// Handles maps a pkgbase to its maintainers' handles, in display order.
type Handles func(pkgbase string) []string

// Run copies r to w, appending "  (@handle1 @handle2 ...)" to every line
// whose leading token names a known package; lines whose leading token
// is unknown, or that resolve to no handles, pass through unchanged.
func Run(r io.Reader, w io.Writer, handles Handles) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	for scanner.Scan() {
		line := scanner.Text()
		token, _ := leadingToken(line)
		hs := handles(token)
		if token == "" || len(hs) == 0 {
			fmt.Fprintln(bw, line)
			continue
		}
		tagged := make([]string, len(hs))
		for i, h := range hs {
			tagged[i] = "@" + h
		}
		fmt.Fprintf(bw, "%s  (%s)\n", line, strings.Join(tagged, " "))
	}
	return scanner.Err()
}
