// Package fracindex generates fractional order keys: base62 strings that
// support inserting a new key strictly between any two existing keys without
// renumbering. Keys compare with plain byte-wise string comparison.
//
// A key is the digit string of a fraction in (0, 1) written in base62, with
// the leading "0." omitted. Trailing zero digits are forbidden, which makes
// the representation canonical and keeps the midpoint construction closed
// under insertion.
package fracindex

import (
	"fmt"
	"strings"
)

// digits is the base62 alphabet, in ASCII order so that key comparison and
// digit comparison agree.
const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// KeyBetween returns a key strictly between a and b. An empty a means "before
// every key"; an empty b means "after every key". It returns an error when a
// and b are not in strictly increasing order, or when either carries a
// trailing zero digit (a non-canonical key).
func KeyBetween(a, b string) (string, error) {
	if a != "" && b != "" && a >= b {
		return "", fmt.Errorf("fracindex: bounds out of order: %q >= %q", a, b)
	}
	if strings.HasSuffix(a, "0") || strings.HasSuffix(b, "0") {
		return "", fmt.Errorf("fracindex: non-canonical bound with trailing zero: %q / %q", a, b)
	}
	return midpoint(a, b), nil
}

// midpoint computes a digit string strictly between a and b, where "" stands
// for 0 on the left and 1 on the right. Bounds are assumed validated.
func midpoint(a, b string) string {
	if b != "" {
		// Strip the longest common prefix. A missing digit in a reads as '0'.
		n := 0
		for n < len(b) && digitAt(a, n) == b[n] {
			n++
		}
		if n > 0 {
			return b[:n] + midpoint(sliceFrom(a, n), b[n:])
		}
	}

	// First digits differ (or a bound is exhausted).
	digitA := 0
	if a != "" {
		digitA = strings.IndexByte(digits, a[0])
	}
	digitB := len(digits)
	if b != "" {
		digitB = strings.IndexByte(digits, b[0])
	}

	if digitB-digitA > 1 {
		mid := (digitA + digitB + 1) / 2
		return string(digits[mid])
	}

	// Consecutive first digits: there is no single digit in between, so the
	// result keeps a's first digit and recurses into the open interval
	// (rest-of-a, 1).
	if len(b) > 1 {
		return b[:1]
	}
	return string(digits[digitA]) + midpoint(sliceFrom(a, 1), "")
}

func digitAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return '0'
}

func sliceFrom(s string, i int) string {
	if i < len(s) {
		return s[i:]
	}
	return ""
}
