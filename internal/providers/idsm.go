package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/metaenhancer/metaenhancer/internal/network"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

// IDSM runs SPARQL queries against the IDSM PubChem fragment. The service
// allows at most ten requests in flight.
type IDSM struct {
	remote
}

var idsmLabels = map[string]string{
	"CHEMINF_000396": "inchi",
	"CHEMINF_000382": "iupac_name",
	"CHEMINF_000399": "inchikey",
	"CHEMINF_000335": "formula",
	"CHEMINF_000376": "canonical_smiles",
	"CHEMINF_000379": "isomeric_smiles",
}

const (
	idsmFromName = `SELECT DISTINCT ?value ?type
WHERE
{
  ?attribute rdf:type ?type.
  ?attribute sio:has-value ?value.
  ?compound sio:has-attribute ?attribute.
  ?synonym sio:is-attribute-of ?compound.
  ?synonym sio:has-value '%s'@en.
}`
	idsmFromInChI = `SELECT DISTINCT ?value ?type
WHERE
{
  ?attribute rdf:type ?type.
  ?attribute sio:has-value ?value.
  ?compound sio:has-attribute ?attribute.
  ?compound sio:has-attribute ?inchi.
  ?inchi sio:has-value '%s'@en.
}`
	idsmFromIUPAC = `SELECT DISTINCT ?value ?type
WHERE
{
  ?attribute rdf:type ?type.
  ?attribute sio:has-value ?value.
  ?compound sio:has-attribute ?attribute.
  ?compound sio:has-attribute ?descriptor.
  ?descriptor sio:has-value '%s'@en.
}`
	idsmNameToKey = `SELECT DISTINCT ?type ?value
WHERE
{
  ?inchikey sio:has-value ?value.
  ?inchikey rdf:type ?type.
  ?inchikey sio:is-attribute-of ?compound.
  ?synonym sio:is-attribute-of ?compound.
  ?synonym sio:has-value '%s'@en.
}`
	idsmInChIToKey = `SELECT DISTINCT ?type ?value
WHERE
{
  ?inchikey sio:has-value ?value.
  ?inchikey rdf:type ?type.
  ?inchikey sio:is-attribute-of ?compound.
  ?compound sio:has-attribute ?inchi.
  ?inchi sio:has-value '%s'@en.
}`
)

func NewIDSM(d Deps) *IDSM {
	cfg := d.Network
	cfg.MaxConcurrent = 10
	i := &IDSM{}
	i.Base = provider.NewBase("IDSM")
	i.client = d.client("IDSM", map[string]string{"idsm": "https://idsm.elixir-czech.cz/sparql/endpoint/idsm"}, cfg)

	fromName := i.sparql(idsmFromName, true)
	for _, t := range []string{"inchi", "iupac_name", "formula", "canonical_smiles", "isomeric_smiles"} {
		i.Register("compound_name", t, fromName)
	}
	fromInChI := i.sparql(idsmFromInChI, false)
	for _, t := range []string{"iupac_name", "formula", "canonical_smiles", "isomeric_smiles"} {
		i.Register("inchi", t, fromInChI)
	}
	i.Register("iupac_name", "inchi", i.sparql(idsmFromIUPAC, true))
	i.Register("compound_name", "inchikey", i.sparql(idsmNameToKey, true))
	i.Register("inchi", "inchikey", i.sparql(idsmInChIToKey, false))
	return i
}

func (i *IDSM) sparql(tmpl string, lower bool) provider.Method {
	return func(ctx context.Context, value string) (core.Metadata, error) {
		if lower {
			value = strings.ToLower(value)
		}
		body, err := i.client.Query(ctx, network.Request{
			Endpoint: "idsm",
			Method:   http.MethodPost,
			Form:     url.Values{"query": {fmt.Sprintf(tmpl, escapeLiteral(value))}},
			Headers:  map[string]string{"Accept": "application/sparql-results+json"},
		})
		if err != nil {
			return nil, err
		}
		return parseSPARQL(body)
	}
}

// escapeLiteral makes a value safe inside a single-quoted SPARQL literal.
func escapeLiteral(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func parseSPARQL(body string) (core.Metadata, error) {
	var resp struct {
		Results struct {
			Bindings []struct {
				Type  struct{ Value string } `json:"type"`
				Value struct{ Value string } `json:"value"`
			} `json:"bindings"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, provider.NewError(provider.KindUnknownResponse, "IDSM", "decode sparql results", err)
	}
	out := core.Metadata{}
	for _, b := range resp.Results.Bindings {
		id := b.Type.Value
		if i := strings.LastIndexByte(id, '/'); i >= 0 {
			id = id[i+1:]
		}
		if code, ok := idsmLabels[id]; ok {
			out[code] = b.Value.Value
		}
	}
	return out, nil
}
