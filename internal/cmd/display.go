package cmd

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ansiRE matches terminal escape sequences: CSI (colors, cursor moves), OSC
// (titles, hyperlinks) terminated by ST or BEL, and charset selection.
var ansiRE = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[A-Za-z]|\].*?(?:\x1b\\|\x07)|[()][A-B0-2])`)

// cleanText makes stored text safe to print on one terminal line. Titles
// come from whatever wrote the items, so escapes are removed, invalid UTF-8
// is replaced and control characters become spaces.
func cleanText(s string) string {
	if s == "" {
		return s
	}
	s = ansiRE.ReplaceAllString(s, "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// fitText cleans s and truncates it to width display cells.
func fitText(s string, width int) string {
	return truncate(cleanText(s), width)
}
