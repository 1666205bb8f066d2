package forest

import "strings"

// compareAlnum orders strings the way humans read ward and bed labels:
// runs of digits compare numerically, runs of other characters compare
// case-insensitively as text. "Bed 2" sorts before "Bed 11". Ties on the
// token level fall back to the case-folded string and then the raw string,
// so the order is total: zero is returned only for identical inputs.
func compareAlnum(a, b string) int {
	ai, bi := 0, 0
	for ai < len(a) && bi < len(b) {
		ta, na := token(a, ai)
		tb, nb := token(b, bi)
		var c int
		if isDigits(ta) && isDigits(tb) {
			c = compareNumeric(ta, tb)
		} else {
			c = strings.Compare(strings.ToLower(ta), strings.ToLower(tb))
		}
		if c != 0 {
			return c
		}
		ai, bi = na, nb
	}
	if c := len(a[ai:]) - len(b[bi:]); c != 0 {
		if c < 0 {
			return -1
		}
		return 1
	}
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// token returns the maximal all-digit or all-non-digit run starting at i.
func token(s string, i int) (string, int) {
	j := i
	digits := isDigit(s[i])
	for j < len(s) && isDigit(s[j]) == digits {
		j++
	}
	return s[i:j], j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return len(s) > 0
}

// compareNumeric compares two digit runs by value without parsing, so
// arbitrarily long identifiers are safe. Leading zeros are ignored for the
// value comparison; "07" and "7" compare equal here and the caller's
// full-string tie-break separates them.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
