package schema

import (
	"strings"
	"unicode"
)

// perlMatch recognizes the delimited match form m<d>pattern<d>flags,
// where <d> is the first punctuation character after the leading letter.
// The final delimiter is the last occurrence, so patterns may contain
// the delimiter without escaping (greedy split, as in the source DSL).
func perlMatch(s string) (pattern, flags string, ok bool) {
	body, delim, ok := perlBody(s, 'm')
	if !ok {
		return "", "", false
	}
	last := strings.LastIndexByte(body, delim)
	if last < 0 {
		return "", "", false
	}
	flags = body[last+1:]
	if !flagLetters(flags) {
		return "", "", false
	}
	return body[:last], flags, true
}

// perlSub recognizes the substitution form s<d>pattern<d>repl<d>flags.
func perlSub(s string) (pattern, repl, flags string, ok bool) {
	body, delim, ok := perlBody(s, 's')
	if !ok {
		return "", "", "", false
	}
	last := strings.LastIndexByte(body, delim)
	if last < 0 {
		return "", "", "", false
	}
	flags = body[last+1:]
	if !flagLetters(flags) {
		return "", "", "", false
	}
	mid := strings.LastIndexByte(body[:last], delim)
	if mid < 0 {
		return "", "", "", false
	}
	return body[:mid], body[mid+1 : last], flags, true
}

// perlBody strips the leading letter and opening delimiter, returning
// the remaining text and the delimiter byte.
func perlBody(s string, letter byte) (body string, delim byte, ok bool) {
	if len(s) < 3 || s[0] != letter {
		return "", 0, false
	}
	d := rune(s[1])
	if d >= unicode.MaxASCII || (!unicode.IsPunct(d) && !unicode.IsSymbol(d)) {
		return "", 0, false
	}
	return s[2:], s[1], true
}

func flagLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
