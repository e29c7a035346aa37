package mockservice

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

func (s *Server) pubchemByName(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.pubchemCompound(w, func(c Compound) bool { return strings.EqualFold(c.Name, name) })
}

func (s *Server) pubchemByInChI(w http.ResponseWriter, r *http.Request) {
	inchi := r.FormValue("inchi")
	if inchi == "" {
		http.Error(w, "missing inchi", http.StatusBadRequest)
		return
	}
	s.pubchemCompound(w, func(c Compound) bool { return c.InChI == inchi })
}

func (s *Server) pubchemByCID(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	s.pubchemCompound(w, func(c Compound) bool { return c.CID == cid })
}

func (s *Server) pubchemCompound(w http.ResponseWriter, match func(Compound) bool) {
	s.mu.Lock()
	throttling := s.throttling
	s.mu.Unlock()
	if throttling != "" {
		w.Header().Set("X-Throttling-Control", throttling)
	}

	c, ok := s.find(match)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"Fault": map[string]string{"Code": "PUGREST.NotFound"}})
		return
	}
	cid, _ := strconv.ParseInt(c.CID, 10, 64)
	type urn struct {
		Label string `json:"label"`
		Name  string `json:"name,omitempty"`
	}
	type prop struct {
		URN   urn               `json:"urn"`
		Value map[string]string `json:"value"`
	}
	var props []prop
	add := func(label, name, value string) {
		if value != "" {
			props = append(props, prop{URN: urn{Label: label, Name: name}, Value: map[string]string{"sval": value}})
		}
	}
	add("IUPAC Name", "Preferred", c.IUPACName)
	add("InChI", "Standard", c.InChI)
	add("InChIKey", "Standard", c.InChIKey)
	add("Molecular Formula", "", c.Formula)
	add("SMILES", "Canonical", c.SMILES)
	add("SMILES", "Isomeric", c.SMILES)
	writeJSON(w, map[string]any{
		"PC_Compounds": []any{map[string]any{
			"id":    map[string]any{"id": map[string]int64{"cid": cid}},
			"props": props,
		}},
	})
}

func (s *Server) pubchemXrefs(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	c, ok := s.find(func(c Compound) bool { return c.CID == cid })
	if !ok {
		notFound(w)
		return
	}
	var ids []string
	for _, id := range []string{c.CAS, c.ChEBI, c.HMDB} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	writeJSON(w, map[string]any{
		"InformationList": map[string]any{
			"Information": []any{map[string]any{"CID": cid, "RegistryID": ids}},
		},
	})
}

// cir serves /cir/{identifier}/{representation}. Identifiers may contain
// slashes (InChI), so the representation is the last segment.
func (s *Server) cir(w http.ResponseWriter, r *http.Request) {
	rest := r.PathValue("rest")
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 {
		notFound(w)
		return
	}
	id, repr := rest[:i], rest[i+1:]
	casOnly := r.URL.Query().Get("resolver") == "cas_number"

	c, ok := s.find(func(c Compound) bool {
		if casOnly {
			return c.CAS == id
		}
		return c.CAS == id || c.SMILES == id || c.InChI == id || c.InChIKey == id || strings.EqualFold(c.Name, id)
	})
	if !ok {
		notFound(w)
		return
	}
	var out string
	switch repr {
	case "smiles":
		out = c.SMILES
	case "stdinchi":
		out = c.InChI
	case "stdinchikey":
		if c.InChIKey != "" {
			out = "InChIKey=" + c.InChIKey
		}
	case "cas":
		out = c.CAS
	case "formula":
		out = c.Formula
	}
	if out == "" {
		notFound(w)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, out+"\n")
}

func (s *Server) ctsConvert(w http.ResponseWriter, r *http.Request) {
	from, to, value := r.PathValue("from"), r.PathValue("to"), r.PathValue("value")
	var match func(Compound) bool
	switch from {
	case "CAS":
		match = func(c Compound) bool { return c.CAS == value }
	case "Chemical Name":
		match = func(c Compound) bool { return strings.EqualFold(c.Name, value) }
	default:
		http.Error(w, "unsupported identifier", http.StatusBadRequest)
		return
	}
	results := []string{}
	if c, ok := s.find(match); ok && to == "InChIKey" && c.InChIKey != "" {
		results = append(results, c.InChIKey)
	}
	writeJSON(w, []any{map[string]any{
		"fromIdentifier": from,
		"searchTerm":     value,
		"toIdentifier":   to,
		"results":        results,
	}})
}

func (s *Server) ctsCompound(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	c, ok := s.find(func(c Compound) bool { return c.InChIKey == key })
	if !ok {
		notFound(w)
		return
	}
	synonyms := []map[string]string{}
	if c.IUPACName != "" {
		synonyms = append(synonyms, map[string]string{"name": c.IUPACName, "type": "IUPAC Name (Preferred)"})
	}
	if c.Name != "" {
		synonyms = append(synonyms, map[string]string{"name": c.Name, "type": "Synonym"})
	}
	writeJSON(w, map[string]any{
		"inchikey":  c.InChIKey,
		"inchicode": c.InChI,
		"formula":   c.Formula,
		"synonyms":  synonyms,
	})
}

func (s *Server) nlm(w http.ResponseWriter, r *http.Request) {
	field, value := r.PathValue("field"), r.PathValue("value")
	if r.URL.Query().Get("format") != "tsv" {
		http.Error(w, "format=tsv required", http.StatusBadRequest)
		return
	}
	var match func(Compound) bool
	switch field {
	case "inchikey":
		match = func(c Compound) bool { return c.InChIKey == value }
	case "name":
		match = func(c Compound) bool { return strings.EqualFold(c.Name, value) }
	default:
		_, _ = io.WriteString(w, "EXPRESSION_INVALID")
		return
	}
	c, ok := s.find(match)
	if !ok {
		_, _ = io.WriteString(w, "EXPRESSION_INVALID")
		return
	}
	w.Header().Set("Content-Type", "text/tab-separated-values")
	_, _ = fmt.Fprintf(w, "RN / ID\tName\tFormula\tInChIKey\n%s\t%s\t%s\t%s\n", c.CAS, c.Name, c.Formula, c.InChIKey)
}

var sparqlLiteral = regexp.MustCompile(`'((?:[^'\\]|\\.)*)'@en`)

// idsm answers the attribute queries by matching the one literal in the
// query against names, IUPAC names and InChIs.
func (s *Server) idsm(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") != "application/sparql-results+json" {
		http.Error(w, "unsupported accept", http.StatusNotAcceptable)
		return
	}
	q := r.FormValue("query")
	m := sparqlLiteral.FindStringSubmatch(q)
	if m == nil {
		http.Error(w, "no literal in query", http.StatusBadRequest)
		return
	}
	lit := strings.NewReplacer(`\'`, `'`, `\\`, `\`).Replace(m[1])

	type term struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}
	bindings := []map[string]term{}
	add := func(cheminf, value string) {
		if value == "" {
			return
		}
		bindings = append(bindings, map[string]term{
			"value": {Type: "literal", Value: value},
			"type":  {Type: "uri", Value: "http://semanticscience.org/resource/" + cheminf},
		})
	}
	c, ok := s.find(func(c Compound) bool {
		return strings.ToLower(c.Name) == lit || strings.ToLower(c.IUPACName) == lit || c.InChI == lit
	})
	if ok {
		if strings.Contains(q, "?inchikey sio:has-value") {
			add("CHEMINF_000399", c.InChIKey)
		} else {
			add("CHEMINF_000396", c.InChI)
			add("CHEMINF_000382", c.IUPACName)
			add("CHEMINF_000335", c.Formula)
			add("CHEMINF_000376", c.SMILES)
			add("CHEMINF_000379", c.SMILES)
		}
	}
	w.Header().Set("Content-Type", "application/sparql-results+json")
	writeJSON(w, map[string]any{
		"head":    map[string]any{"vars": []string{"value", "type"}},
		"results": map[string]any{"bindings": bindings},
	})
}

var bridgeSources = []struct {
	code, source string
	get          func(Compound) string
}{
	{"Ch", "HMDB", func(c Compound) string { return c.HMDB }},
	{"Cpc", "PubChem-compound", func(c Compound) string { return c.CID }},
	{"Cs", "Chemspider", func(c Compound) string { return c.ChemSpider }},
	{"Wd", "Wikidata", func(c Compound) string { return c.Wikidata }},
	{"Ce", "ChEBI", func(c Compound) string { return c.ChEBI }},
	{"Ck", "KEGG Compound", func(c Compound) string { return c.KEGG }},
}

func (s *Server) bridgedb(w http.ResponseWriter, r *http.Request) {
	code, value := r.PathValue("code"), r.PathValue("value")
	var get func(Compound) string
	for _, b := range bridgeSources {
		if b.code == code {
			get = b.get
		}
	}
	if get == nil {
		http.Error(w, "unknown system code", http.StatusBadRequest)
		return
	}
	c, ok := s.find(func(c Compound) bool { return get(c) != "" && get(c) == value })
	w.Header().Set("Content-Type", "text/plain")
	if !ok {
		return
	}
	for _, b := range bridgeSources {
		if v := b.get(c); v != "" {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", v, b.source)
		}
	}
}
