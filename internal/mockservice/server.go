// Package mockservice serves canned answers for every remote provider from a
// small compound table, for local runs and end-to-end tests.
package mockservice

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Call records a request made to the mock service.
type Call struct {
	Service string
	Method  string
	Path    string
}

// Compound is one fixture record. Empty fields are unknown to every service.
type Compound struct {
	Name       string `yaml:"name"`
	IUPACName  string `yaml:"iupac_name"`
	InChI      string `yaml:"inchi"`
	InChIKey   string `yaml:"inchikey"`
	Formula    string `yaml:"formula"`
	SMILES     string `yaml:"smiles"`
	CAS        string `yaml:"casno"`
	CID        string `yaml:"pubchemid"`
	HMDB       string `yaml:"hmdbid"`
	ChEBI      string `yaml:"chebiid"`
	KEGG       string `yaml:"keggid"`
	Wikidata   string `yaml:"wikidataid"`
	ChemSpider string `yaml:"chemspiderid"`
}

// DefaultCompounds is the fixture used when none is given.
func DefaultCompounds() []Compound {
	return []Compound{
		{
			Name:       "ethanol",
			IUPACName:  "ethanol",
			InChI:      "InChI=1S/C2H6O/c1-2-3/h3H,2H2,1H3",
			InChIKey:   "LFQSCWFLJHTTHZ-UHFFFAOYSA-N",
			Formula:    "C2H6O",
			SMILES:     "CCO",
			CAS:        "64-17-5",
			CID:        "702",
			HMDB:       "HMDB0000108",
			ChEBI:      "CHEBI:16236",
			KEGG:       "C00469",
			Wikidata:   "Q153",
			ChemSpider: "682",
		},
		{
			Name:       "caffeine",
			IUPACName:  "1,3,7-trimethylpurine-2,6-dione",
			InChI:      "InChI=1S/C8H10N4O2/c1-10-4-9-6-5(10)7(13)12(3)8(14)11(6)2/h4H,1-3H3",
			InChIKey:   "RYYVLZVUVIJVGH-UHFFFAOYSA-N",
			Formula:    "C8H10N4O2",
			SMILES:     "CN1C=NC2=C1C(=O)N(C(=O)N2C)C",
			CAS:        "58-08-2",
			CID:        "2519",
			HMDB:       "HMDB0001847",
			ChEBI:      "CHEBI:27732",
			KEGG:       "C07481",
			Wikidata:   "Q60235",
			ChemSpider: "2424",
		},
	}
}

// LoadCompounds reads a YAML list of compounds.
func LoadCompounds(path string) ([]Compound, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compounds: %w", err)
	}
	var out []Compound
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse compounds %s: %w", path, err)
	}
	return out, nil
}

// Endpoints returns provider endpoint overrides that point at a server
// mounted at base.
func Endpoints(base string) map[string]string {
	base = strings.TrimRight(base, "/")
	return map[string]string{
		"pubchem":      base + "/pubchem/",
		"cir":          base + "/cir/",
		"cts":          base + "/cts/convert/",
		"cts_compound": base + "/cts/compound/",
		"nlm":          base + "/nlm/",
		"idsm":         base + "/idsm",
		"bridgedb":     base + "/bridgedb/",
	}
}

// Server answers provider requests from a fixed compound table.
type Server struct {
	compounds []Compound

	mu         sync.Mutex
	calls      []Call
	status     map[string]int
	throttling string
}

// New constructs a mock server. No compounds means DefaultCompounds.
func New(compounds ...Compound) *Server {
	if len(compounds) == 0 {
		compounds = DefaultCompounds()
	}
	return &Server{
		compounds:  compounds,
		status:     make(map[string]int),
		throttling: "Request Count status: Green (0%), Request Time status: Green (0%), Service status: Green (10%)",
	}
}

// SetStatus makes every request to service ("pubchem", "cir", ...) fail with
// code. Zero restores normal answers.
func (s *Server) SetStatus(service string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == 0 {
		delete(s.status, service)
		return
	}
	s.status[service] = code
}

// SetThrottling sets the X-Throttling-Control header sent with PubChem answers.
func (s *Server) SetThrottling(h string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttling = h
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Handler returns an http.Handler that serves the mock services.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.HandleFunc("GET /pubchem/name/{name}/JSON", s.service("pubchem", s.pubchemByName))
	mux.HandleFunc("POST /pubchem/inchi/JSON", s.service("pubchem", s.pubchemByInChI))
	mux.HandleFunc("GET /pubchem/cid/{cid}/JSON", s.service("pubchem", s.pubchemByCID))
	mux.HandleFunc("GET /pubchem/cid/{cid}/xrefs/RegistryID/JSON", s.service("pubchem", s.pubchemXrefs))
	mux.HandleFunc("GET /cir/{rest...}", s.service("cir", s.cir))
	mux.HandleFunc("GET /cts/convert/{from}/{to}/{value...}", s.service("cts", s.ctsConvert))
	mux.HandleFunc("GET /cts/compound/{key}", s.service("cts", s.ctsCompound))
	mux.HandleFunc("GET /nlm/{field}/equals/{value...}", s.service("nlm", s.nlm))
	mux.HandleFunc("POST /idsm", s.service("idsm", s.idsm))
	mux.HandleFunc("GET /bridgedb/{code}/{value...}", s.service("bridgedb", s.bridgedb))
	return mux
}

func (s *Server) service(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Service: name, Method: r.Method, Path: r.URL.Path})
		code := s.status[name]
		s.mu.Unlock()

		if code != 0 {
			http.Error(w, http.StatusText(code), code)
			return
		}
		h(w, r)
	}
}

func (s *Server) find(match func(Compound) bool) (Compound, bool) {
	for _, c := range s.compounds {
		if match(c) {
			return c, true
		}
	}
	return Compound{}, false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	http.Error(w, "not found", http.StatusNotFound)
}
