// Package meetcode allocates the permanent human-readable meeting
// identifiers ("fkq-2847-mzp") and guards their global uniqueness through an
// append-only reservation ledger.
package meetcode

import (
	"math/rand"
	"regexp"
	"strings"
)

// codePattern is the fixed identifier format: three lowercase letters, four
// digits, three lowercase letters, hyphen-separated.
var codePattern = regexp.MustCompile(`^[a-z]{3}-[0-9]{4}-[a-z]{3}$`)

const (
	letters = "abcdefghijklmnopqrstuvwxyz"
	digits  = "0123456789"
)

// Validate reports whether s matches the meeting code format. It is a pure
// predicate: it never touches storage and says nothing about whether the
// code exists.
func Validate(s string) bool {
	return codePattern.MatchString(s)
}

// Generate produces a random candidate code. Uniqueness is not guaranteed
// here; the ledger's insert constraint is the only correctness mechanism.
func Generate() string {
	var b strings.Builder
	b.Grow(12)
	for i := 0; i < 3; i++ {
		b.WriteByte(letters[rand.Intn(len(letters))])
	}
	b.WriteByte('-')
	for i := 0; i < 4; i++ {
		b.WriteByte(digits[rand.Intn(len(digits))])
	}
	b.WriteByte('-')
	for i := 0; i < 3; i++ {
		b.WriteByte(letters[rand.Intn(len(letters))])
	}
	return b.String()
}
