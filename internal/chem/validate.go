package chem

import (
	"regexp"
	"strings"
)

var (
	inchiRe    = regexp.MustCompile(`^InChI=1S?/[A-Za-z0-9.*()]+(/[^\s/]+)*$`)
	inchikeyRe = regexp.MustCompile(`^[A-Z]{14}-[A-Z]{10}-[A-Z]$`)
	casRe      = regexp.MustCompile(`^(\d{2,7})-(\d{2})-(\d)$`)
)

// ValidInChI checks the InChI prefix and layer structure. It does not
// recompute the structure.
func ValidInChI(s string) bool {
	return inchiRe.MatchString(strings.TrimSpace(s))
}

// ValidInChIKey checks the 14-10-1 block layout.
func ValidInChIKey(s string) bool {
	return inchikeyRe.MatchString(strings.TrimSpace(s))
}

// ValidCAS checks the CAS registry number layout and its check digit.
func ValidCAS(s string) bool {
	m := casRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return false
	}
	digits := m[1] + m[2]
	sum := 0
	for i := 0; i < len(digits); i++ {
		sum += int(digits[len(digits)-1-i]-'0') * (i + 1)
	}
	return sum%10 == int(m[3][0]-'0')
}
