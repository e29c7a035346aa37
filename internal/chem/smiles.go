// Package chem holds the small amount of local chemistry the resolver needs:
// a SMILES reader that counts atoms, Hill formulas, monoisotopic masses and
// format checks for the common identifiers.
package chem

import (
	"fmt"
	"strconv"
	"strings"
)

// Atom is one heavy atom read from a SMILES string. Hydrogens are folded into HCount.
type Atom struct {
	Symbol   string
	Aromatic bool
	Isotope  int
	Charge   int
	HCount   int
	bracket  bool
	bondSum  float64
	nBonds   int
}

// Molecule is the atom-level view of a parsed SMILES string.
type Molecule struct {
	Atoms []Atom
}

// SyntaxError reports where a SMILES string stopped making sense.
type SyntaxError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("smiles %q: %s at offset %d", e.Input, e.Msg, e.Pos)
}

var organicValences = map[string][]int{
	"B":  {3},
	"C":  {4},
	"N":  {3, 5},
	"O":  {2},
	"P":  {3, 5},
	"S":  {2, 4, 6},
	"F":  {1},
	"Cl": {1},
	"Br": {1},
	"I":  {1},
}

var aromaticSymbols = map[string]string{
	"b": "B", "c": "C", "n": "N", "o": "O", "p": "P", "s": "S", "se": "Se", "as": "As",
}

type ringOpen struct {
	atom  int
	order float64
	pos   int
}

// ParseSMILES reads the subset of SMILES found in metabolite databases:
// organic-subset and bracket atoms, branches, ring closures (including %nn),
// bond symbols, stereo marks and dot-disconnected components.
func ParseSMILES(s string) (*Molecule, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return nil, &SyntaxError{Input: s, Msg: "empty string"}
	}
	p := &smilesParser{in: in, rings: map[int]ringOpen{}, prev: -1}
	if err := p.run(); err != nil {
		return nil, err
	}
	mol := &Molecule{Atoms: p.atoms}
	for i := range mol.Atoms {
		a := &mol.Atoms[i]
		if !a.bracket {
			a.HCount = implicitHydrogens(a)
		}
	}
	return mol, nil
}

type smilesParser struct {
	in      string
	pos     int
	atoms   []Atom
	prev    int
	branch  []int
	rings   map[int]ringOpen
	bond    float64
	bondSet bool
}

func (p *smilesParser) fail(msg string) error {
	return &SyntaxError{Input: p.in, Pos: p.pos, Msg: msg}
}

func (p *smilesParser) run() error {
	for p.pos < len(p.in) {
		c := p.in[p.pos]
		switch {
		case c == '(':
			if p.prev < 0 {
				return p.fail("branch without a preceding atom")
			}
			p.branch = append(p.branch, p.prev)
			p.pos++
		case c == ')':
			if len(p.branch) == 0 {
				return p.fail("unbalanced ')'")
			}
			if p.bondSet {
				return p.fail("bond before ')'")
			}
			p.prev = p.branch[len(p.branch)-1]
			p.branch = p.branch[:len(p.branch)-1]
			p.pos++
		case c == '.':
			if p.bondSet {
				return p.fail("bond before '.'")
			}
			p.prev = -1
			p.pos++
		case strings.IndexByte("-=#$:/\\", c) >= 0:
			if p.bondSet {
				return p.fail("consecutive bond symbols")
			}
			p.bond = bondOrder(c)
			p.bondSet = true
			p.pos++
		case c >= '0' && c <= '9' || c == '%':
			if err := p.ring(); err != nil {
				return err
			}
		case c == '[':
			if err := p.bracketAtom(); err != nil {
				return err
			}
		default:
			if err := p.organicAtom(); err != nil {
				return err
			}
		}
	}
	if p.bondSet {
		return p.fail("dangling bond")
	}
	if len(p.branch) > 0 {
		return p.fail("unclosed branch")
	}
	for n, open := range p.rings {
		return &SyntaxError{Input: p.in, Pos: open.pos, Msg: fmt.Sprintf("unclosed ring %d", n)}
	}
	return nil
}

func bondOrder(c byte) float64 {
	switch c {
	case '=':
		return 2
	case '#':
		return 3
	case '$':
		return 4
	case ':':
		return 1.5
	default:
		return 1
	}
}

func (p *smilesParser) addAtom(a Atom) error {
	if p.prev < 0 && p.bondSet {
		// e.g. "=C" or "C.=C"
		return p.fail("bond without a preceding atom")
	}
	p.atoms = append(p.atoms, a)
	idx := len(p.atoms) - 1
	if p.prev >= 0 {
		order := p.bond
		if !p.bondSet {
			order = p.implicitOrder(p.prev, idx)
		}
		p.connect(p.prev, idx, order)
	}
	p.prev = idx
	p.bond, p.bondSet = 0, false
	return nil
}

func (p *smilesParser) implicitOrder(a, b int) float64 {
	if p.atoms[a].Aromatic && p.atoms[b].Aromatic {
		return 1.5
	}
	return 1
}

func (p *smilesParser) connect(a, b int, order float64) {
	for _, i := range []int{a, b} {
		at := &p.atoms[i]
		at.nBonds++
		if order == 1.5 {
			at.bondSum++
		} else {
			at.bondSum += order
		}
	}
}

func (p *smilesParser) ring() error {
	start := p.pos
	var n int
	if p.in[p.pos] == '%' {
		if p.pos+2 >= len(p.in) || !isDigit(p.in[p.pos+1]) || !isDigit(p.in[p.pos+2]) {
			return p.fail("malformed %nn ring closure")
		}
		n, _ = strconv.Atoi(p.in[p.pos+1 : p.pos+3])
		p.pos += 3
	} else {
		n = int(p.in[p.pos] - '0')
		p.pos++
	}
	if p.prev < 0 {
		return &SyntaxError{Input: p.in, Pos: start, Msg: "ring closure without an atom"}
	}
	if open, ok := p.rings[n]; ok {
		if open.atom == p.prev {
			return &SyntaxError{Input: p.in, Pos: start, Msg: "ring closes on itself"}
		}
		order := open.order
		switch {
		case p.bondSet:
			order = p.bond
		case order == 0:
			order = p.implicitOrder(open.atom, p.prev)
		}
		p.connect(open.atom, p.prev, order)
		delete(p.rings, n)
	} else {
		var order float64
		if p.bondSet {
			order = p.bond
		}
		p.rings[n] = ringOpen{atom: p.prev, order: order, pos: start}
	}
	p.bond, p.bondSet = 0, false
	return nil
}

func (p *smilesParser) organicAtom() error {
	rest := p.in[p.pos:]
	for _, sym := range []string{"Cl", "Br"} {
		if strings.HasPrefix(rest, sym) {
			p.pos += 2
			return p.addAtom(Atom{Symbol: sym})
		}
	}
	c := rest[:1]
	if c == "*" {
		p.pos++
		return p.addAtom(Atom{Symbol: "*"})
	}
	if _, ok := organicValences[c]; ok {
		p.pos++
		return p.addAtom(Atom{Symbol: c})
	}
	if el, ok := aromaticSymbols[c]; ok {
		p.pos++
		return p.addAtom(Atom{Symbol: el, Aromatic: true})
	}
	return p.fail(fmt.Sprintf("unexpected character %q", c))
}

func (p *smilesParser) bracketAtom() error {
	end := strings.IndexByte(p.in[p.pos:], ']')
	if end < 0 {
		return p.fail("unclosed '['")
	}
	body := p.in[p.pos+1 : p.pos+end]
	a, err := parseBracket(body)
	if err != nil {
		return p.fail(err.Error())
	}
	p.pos += end + 1
	return p.addAtom(a)
}

func parseBracket(body string) (Atom, error) {
	a := Atom{bracket: true}
	i := 0
	for i < len(body) && isDigit(body[i]) {
		i++
	}
	if i > 0 {
		a.Isotope, _ = strconv.Atoi(body[:i])
	}
	rest := body[i:]
	switch {
	case strings.HasPrefix(rest, "*"):
		a.Symbol = "*"
		rest = rest[1:]
	case len(rest) >= 2 && (rest[:2] == "se" || rest[:2] == "as"):
		a.Symbol, a.Aromatic = aromaticSymbols[rest[:2]], true
		rest = rest[2:]
	case len(rest) >= 1 && rest[0] >= 'a' && rest[0] <= 'z':
		el, ok := aromaticSymbols[rest[:1]]
		if !ok {
			return a, fmt.Errorf("unknown aromatic symbol %q", rest[:1])
		}
		a.Symbol, a.Aromatic = el, true
		rest = rest[1:]
	case len(rest) >= 1 && rest[0] >= 'A' && rest[0] <= 'Z':
		n := 1
		if len(rest) >= 2 && rest[1] >= 'a' && rest[1] <= 'z' {
			if _, ok := monoisotopic[rest[:2]]; ok {
				n = 2
			}
		}
		a.Symbol = rest[:n]
		if _, ok := monoisotopic[a.Symbol]; !ok {
			return a, fmt.Errorf("unknown element %q", a.Symbol)
		}
		rest = rest[n:]
	default:
		return a, fmt.Errorf("bracket atom %q has no element", body)
	}

	// chirality marks carry no composition information
	for strings.HasPrefix(rest, "@") {
		rest = rest[1:]
	}
	for _, tag := range []string{"TH", "AL", "SP", "TB", "OH"} {
		if strings.HasPrefix(rest, tag) {
			rest = strings.TrimLeft(rest[2:], "0123456789")
		}
	}
	if strings.HasPrefix(rest, "H") {
		rest = rest[1:]
		a.HCount = 1
		j := 0
		for j < len(rest) && isDigit(rest[j]) {
			j++
		}
		if j > 0 {
			a.HCount, _ = strconv.Atoi(rest[:j])
			rest = rest[j:]
		}
	}
	if rest != "" && (rest[0] == '+' || rest[0] == '-') {
		sign := 1
		if rest[0] == '-' {
			sign = -1
		}
		ch := rest[0]
		rest = rest[1:]
		j := 0
		for j < len(rest) && isDigit(rest[j]) {
			j++
		}
		switch {
		case j > 0:
			n, _ := strconv.Atoi(rest[:j])
			a.Charge = sign * n
			rest = rest[j:]
		default:
			n := 1
			for len(rest) > 0 && rest[0] == ch {
				n++
				rest = rest[1:]
			}
			a.Charge = sign * n
		}
	}
	if strings.HasPrefix(rest, ":") {
		rest = strings.TrimLeft(rest[1:], "0123456789")
	}
	if rest != "" {
		return a, fmt.Errorf("unexpected %q in bracket atom", rest)
	}
	return a, nil
}

func implicitHydrogens(a *Atom) int {
	vals, ok := organicValences[a.Symbol]
	if !ok {
		return 0
	}
	used := a.bondSum
	if a.Aromatic {
		// aromatic atoms only take their lowest valence
		if a.Symbol != "O" && a.Symbol != "S" {
			used++
		}
		vals = vals[:1]
	}
	for _, v := range vals {
		if float64(v) >= used {
			return int(float64(v) - used)
		}
	}
	return 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Composition counts atoms per element, hydrogens included.
func (m *Molecule) Composition() map[string]int {
	out := map[string]int{}
	for _, a := range m.Atoms {
		if a.Symbol != "*" {
			out[a.Symbol]++
		}
		if a.HCount > 0 {
			out["H"] += a.HCount
		}
	}
	return out
}

// Charge is the net formal charge.
func (m *Molecule) Charge() int {
	total := 0
	for _, a := range m.Atoms {
		total += a.Charge
	}
	return total
}

// Formula is the Hill formula of the molecule with a trailing charge mark.
func (m *Molecule) Formula() string {
	return HillFormula(m.Composition(), m.Charge())
}

// MonoisotopicMass sums exact masses, honoring explicit isotopes.
func (m *Molecule) MonoisotopicMass() (float64, error) {
	var total float64
	for _, a := range m.Atoms {
		if a.Symbol == "*" {
			return 0, fmt.Errorf("wildcard atom has no mass")
		}
		w, err := isotopeMass(a.Symbol, a.Isotope)
		if err != nil {
			return 0, err
		}
		total += w
		total += float64(a.HCount) * monoisotopic["H"]
	}
	return total - float64(m.Charge())*electronMass, nil
}

// ValidSMILES reports whether s parses.
func ValidSMILES(s string) bool {
	_, err := ParseSMILES(s)
	return err == nil
}
