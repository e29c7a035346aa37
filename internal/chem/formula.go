package chem

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const electronMass = 0.000548579909

// monoisotopic holds the mass of the most abundant isotope of each element.
var monoisotopic = map[string]float64{
	"H": 1.00782503223, "He": 4.00260325413, "Li": 7.0160034366, "Be": 9.0121831,
	"B": 11.00930536, "C": 12.0, "N": 14.00307400443, "O": 15.99491461957,
	"F": 18.99840316273, "Ne": 19.9924401762, "Na": 22.989769282, "Mg": 23.985041697,
	"Al": 26.98153841, "Si": 27.97692653465, "P": 30.97376199842, "S": 31.9720711744,
	"Cl": 34.968852682, "Ar": 39.9623831237, "K": 38.9637064864, "Ca": 39.962590863,
	"Sc": 44.95590828, "Ti": 47.94794198, "V": 50.94395704, "Cr": 51.94050623,
	"Mn": 54.93804391, "Fe": 55.93493633, "Co": 58.93319429, "Ni": 57.93534241,
	"Cu": 62.92959772, "Zn": 63.92914201, "Ga": 68.9255735, "Ge": 73.921177761,
	"As": 74.92159457, "Se": 79.9165218, "Br": 78.9183376, "Kr": 83.9114977282,
	"Rb": 84.9117897379, "Sr": 87.9056125, "Y": 88.9058403, "Zr": 89.9046977,
	"Mo": 97.90540482, "Ru": 101.9043441, "Rh": 102.905498, "Pd": 105.9034804,
	"Ag": 106.9050916, "Cd": 113.90336509, "In": 114.903878776, "Sn": 119.90220163,
	"Sb": 120.903812, "Te": 129.906222748, "I": 126.9044719, "Xe": 131.9041550856,
	"Cs": 132.905451961, "Ba": 137.905247, "La": 138.9063563, "Ce": 139.9054431,
	"Gd": 157.9241123, "W": 183.95093092, "Os": 191.961477, "Ir": 192.9629216,
	"Pt": 194.9647917, "Au": 196.96656879, "Hg": 201.9706434, "Tl": 204.9744278,
	"Pb": 207.9766525, "Bi": 208.9803991, "Th": 232.0380558, "U": 238.0507884,
}

var isotopes = map[string]map[int]float64{
	"H": {1: 1.00782503223, 2: 2.01410177812, 3: 3.0160492779},
	"C": {12: 12.0, 13: 13.00335483507, 14: 14.0032419884},
	"N": {14: 14.00307400443, 15: 15.00010889888},
	"O": {16: 15.99491461957, 17: 16.99913175650, 18: 17.99915961286},
	"S": {32: 31.9720711744, 34: 33.967867004},
	"Cl": {35: 34.968852682, 37: 36.965902602},
	"Br": {79: 78.9183376, 81: 80.9162897},
}

func isotopeMass(symbol string, isotope int) (float64, error) {
	if isotope > 0 {
		if m, ok := isotopes[symbol][isotope]; ok {
			return m, nil
		}
		return float64(isotope), nil
	}
	m, ok := monoisotopic[symbol]
	if !ok {
		return 0, fmt.Errorf("no mass for element %q", symbol)
	}
	return m, nil
}

// HillFormula renders counts in Hill order: C, then H, then the rest
// alphabetically. Without carbon everything is alphabetical. A non-zero
// charge is appended as "+", "-", "+2", ...
func HillFormula(counts map[string]int, charge int) string {
	var b strings.Builder
	write := func(el string) {
		n := counts[el]
		if n <= 0 {
			return
		}
		b.WriteString(el)
		if n > 1 {
			b.WriteString(strconv.Itoa(n))
		}
	}
	rest := make([]string, 0, len(counts))
	hasC := counts["C"] > 0
	for el, n := range counts {
		if n <= 0 || (hasC && (el == "C" || el == "H")) {
			continue
		}
		rest = append(rest, el)
	}
	sort.Strings(rest)
	if hasC {
		write("C")
		write("H")
	}
	for _, el := range rest {
		write(el)
	}
	switch {
	case charge == 1:
		b.WriteString("+")
	case charge == -1:
		b.WriteString("-")
	case charge > 1:
		b.WriteString("+" + strconv.Itoa(charge))
	case charge < -1:
		b.WriteString("-" + strconv.Itoa(-charge))
	}
	return b.String()
}

// ParseFormula reads a molecular formula such as "C2H6O", "(CH3)2CO",
// "CuSO4.5H2O" or "C5H5N+" into element counts and net charge.
func ParseFormula(s string) (map[string]int, int, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return nil, 0, fmt.Errorf("empty formula")
	}
	counts := map[string]int{}
	charge := 0
	for _, part := range strings.FieldsFunc(in, func(r rune) bool { return r == '.' || r == '·' || r == '*' }) {
		mult, body := leadingInt(part)
		if mult == 0 {
			mult = 1
		}
		body, q, err := splitCharge(body)
		if err != nil {
			return nil, 0, fmt.Errorf("formula %q: %w", s, err)
		}
		sub, err := parseGroup(body)
		if err != nil {
			return nil, 0, fmt.Errorf("formula %q: %w", s, err)
		}
		for el, n := range sub {
			counts[el] += n * mult
		}
		charge += q * mult
	}
	if len(counts) == 0 {
		return nil, 0, fmt.Errorf("formula %q has no elements", s)
	}
	return counts, charge, nil
}

// FormulaMass is the monoisotopic mass of a formula string.
func FormulaMass(s string) (float64, error) {
	counts, charge, err := ParseFormula(s)
	if err != nil {
		return 0, err
	}
	var total float64
	for el, n := range counts {
		m, ok := monoisotopic[el]
		if !ok {
			return 0, fmt.Errorf("no mass for element %q", el)
		}
		total += m * float64(n)
	}
	return total - float64(charge)*electronMass, nil
}

func leadingInt(s string) (int, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i == 0 {
		return 0, s
	}
	n, _ := strconv.Atoi(s[:i])
	return n, s[i:]
}

func splitCharge(s string) (string, int, error) {
	i := strings.LastIndexAny(s, "+-")
	if i < 0 {
		return s, 0, nil
	}
	body, mark := s[:i], s[i:]
	sign := 1
	if mark[0] == '-' {
		sign = -1
	}
	digits := mark[1:]
	if digits == "" {
		return body, sign, nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, fmt.Errorf("bad charge %q", mark)
	}
	return body, sign * n, nil
}

func parseGroup(s string) (map[string]int, error) {
	stack := []map[string]int{{}}
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '(' || c == '[':
			stack = append(stack, map[string]int{})
			i++
		case c == ')' || c == ']':
			if len(stack) < 2 {
				return nil, fmt.Errorf("unbalanced %q", string(c))
			}
			i++
			n, rest := leadingInt(s[i:])
			if n == 0 {
				n = 1
			}
			i = len(s) - len(rest)
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for el, k := range top {
				stack[len(stack)-1][el] += k * n
			}
		case c >= 'A' && c <= 'Z':
			j := i + 1
			for j < len(s) && s[j] >= 'a' && s[j] <= 'z' {
				j++
			}
			el := s[i:j]
			if _, ok := monoisotopic[el]; !ok {
				return nil, fmt.Errorf("unknown element %q", el)
			}
			n, rest := leadingInt(s[j:])
			if n == 0 {
				n = 1
			}
			i = len(s) - len(rest)
			stack[len(stack)-1][el] += n
		default:
			return nil, fmt.Errorf("unexpected %q", string(c))
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("unclosed group")
	}
	return stack[0], nil
}
