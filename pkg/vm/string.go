package vm

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Strings are stored as Go (UTF-8) strings; lengths and indices are in
// UTF-16 code units as seen by scripts. Lone surrogates do not survive a
// round trip and decode to U+FFFD.

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func strLength(s string) int {
	if isASCII(s) {
		return len(s)
	}
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func toUTF16(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func fromUTF16(u []uint16) string {
	return string(utf16.Decode(u))
}

// strCharAt returns the one code unit string at index i.
func strCharAt(s string, i int) (string, bool) {
	if i < 0 {
		return "", false
	}
	if isASCII(s) {
		if i >= len(s) {
			return "", false
		}
		return s[i : i+1], true
	}
	u := toUTF16(s)
	if i >= len(u) {
		return "", false
	}
	return fromUTF16(u[i : i+1]), true
}

// strCodeUnitAt returns the UTF-16 code unit at index i.
func strCodeUnitAt(s string, i int) (uint16, bool) {
	if i < 0 {
		return 0, false
	}
	if isASCII(s) {
		if i >= len(s) {
			return 0, false
		}
		return uint16(s[i]), true
	}
	u := toUTF16(s)
	if i >= len(u) {
		return 0, false
	}
	return u[i], true
}

// strSlice returns code units [start, end).
func strSlice(s string, start, end int) string {
	if isASCII(s) {
		return s[start:end]
	}
	u := toUTF16(s)
	return fromUTF16(u[start:end])
}

// strIndexOf returns the code unit index of sub in s at or after from.
func strIndexOf(s, sub string, from int) int {
	if isASCII(s) && isASCII(sub) {
		if from > len(s) {
			return -1
		}
		i := strings.Index(s[from:], sub)
		if i < 0 {
			return -1
		}
		return i + from
	}
	u, w := toUTF16(s), toUTF16(sub)
	for i := from; i+len(w) <= len(u); i++ {
		match := true
		for j := range w {
			if u[i+j] != w[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// compareStrings orders by UTF-16 code units.
func compareStrings(a, b string) int {
	if isASCII(a) && isASCII(b) {
		return strings.Compare(a, b)
	}
	ua, ub := toUTF16(a), toUTF16(b)
	n := len(ua)
	if len(ub) < n {
		n = len(ub)
	}
	for i := 0; i < n; i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	}
	return 0
}

// StringLength returns the length of a script string in UTF-16 code units.
func StringLength(s string) int { return strLength(s) }

// StringSlice returns the code units [start, end) of s.
func StringSlice(s string, start, end int) string { return strSlice(s, start, end) }

// StringIndexOf finds sub in s starting at code unit from.
func StringIndexOf(s, sub string, from int) int { return strIndexOf(s, sub, from) }

// StringCodeUnitAt returns the code unit at i.
func StringCodeUnitAt(s string, i int) (uint16, bool) { return strCodeUnitAt(s, i) }
