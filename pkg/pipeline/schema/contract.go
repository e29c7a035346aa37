package schema

import (
	"sort"
	"strconv"
	"strings"
)

// Kind captures how an attribute value is stored.
type Kind string

const (
	KindText   Kind = "text"
	KindNumber Kind = "number"
)

// Attribute is one known metadata field.
type Attribute struct {
	Name        string
	Kind        Kind
	Description string
}

var catalogue = []Attribute{
	{Name: "compound_name", Kind: KindText, Description: "common compound name"},
	{Name: "iupac_name", Kind: KindText, Description: "preferred IUPAC name"},
	{Name: "formula", Kind: KindText, Description: "molecular formula"},
	{Name: "mw", Kind: KindNumber, Description: "monoisotopic mass"},
	{Name: "smiles", Kind: KindText},
	{Name: "canonical_smiles", Kind: KindText},
	{Name: "isomeric_smiles", Kind: KindText},
	{Name: "inchi", Kind: KindText, Description: "standard InChI"},
	{Name: "inchikey", Kind: KindText, Description: "standard InChIKey"},
	{Name: "casno", Kind: KindText, Description: "CAS registry number"},
	{Name: "pubchemid", Kind: KindText, Description: "PubChem compound id"},
	{Name: "hmdbid", Kind: KindText},
	{Name: "chemspiderid", Kind: KindText},
	{Name: "wikidataid", Kind: KindText},
	{Name: "chebiid", Kind: KindText},
	{Name: "keggid", Kind: KindText},
}

// Column headers seen in the wild for the catalogue attributes.
var aliases = map[string]string{
	"name":           "compound_name",
	"compound":       "compound_name",
	"cas":            "casno",
	"cas_number":     "casno",
	"casnumber":      "casno",
	"inchi_key":      "inchikey",
	"pubchem":        "pubchemid",
	"pubchem_cid":    "pubchemid",
	"cid":            "pubchemid",
	"hmdb":           "hmdbid",
	"chebi":          "chebiid",
	"kegg":           "keggid",
	"molecular_mass": "mw",
	"exact_mass":     "mw",
}

var byName = func() map[string]Attribute {
	m := make(map[string]Attribute, len(catalogue))
	for _, a := range catalogue {
		m[a.Name] = a
	}
	return m
}()

// Normalize maps a column header to its attribute name: lowercase, spaces and
// dashes become underscores, known aliases are resolved. Unknown names are
// returned normalized.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if a, ok := aliases[s]; ok {
		return a
	}
	return s
}

// Lookup returns the catalogue entry for an attribute name.
func Lookup(name string) (Attribute, bool) {
	a, ok := byName[name]
	return a, ok
}

// Known returns the catalogue attribute names, sorted.
func Known() []string {
	out := make([]string, 0, len(catalogue))
	for _, a := range catalogue {
		out = append(out, a.Name)
	}
	sort.Strings(out)
	return out
}

// Coerce converts a raw cell into the attribute's value type. Numbers that
// do not parse stay strings.
func Coerce(name, raw string) any {
	a, ok := byName[name]
	if !ok || a.Kind != KindNumber {
		return raw
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	return f
}
