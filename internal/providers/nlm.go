package providers

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/metaenhancer/metaenhancer/internal/network"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

// NLM queries the ChemIDplus summary API, which answers with TSV.
type NLM struct {
	remote
}

var nlmColumns = map[string]string{
	"RN / ID":  "casno",
	"InChIKey": "inchikey",
	"Name":     "compound_name",
	"Formula":  "formula",
}

func NewNLM(d Deps) *NLM {
	n := &NLM{}
	n.Base = provider.NewBase("NLM")
	n.client = d.client("NLM", map[string]string{"nlm": "https://chem.nlm.nih.gov/api/data/"}, d.Network)

	byKey := n.summary("inchikey/equals/")
	for _, t := range []string{"compound_name", "formula", "casno"} {
		n.Register("inchikey", t, byKey)
	}
	byName := n.summary("name/equals/")
	for _, t := range []string{"inchikey", "formula", "casno"} {
		n.Register("compound_name", t, byName)
	}
	return n
}

func (n *NLM) summary(prefix string) provider.Method {
	return func(ctx context.Context, value string) (core.Metadata, error) {
		body, err := n.client.Query(ctx, network.Request{
			Endpoint: "nlm",
			Args:     prefix + escapePath(value) + "?data=summary&format=tsv",
		})
		if err != nil {
			return nil, err
		}
		return parseNLM(body)
	}
}

func parseNLM(body string) (core.Metadata, error) {
	if strings.TrimSpace(body) == "EXPRESSION_INVALID" || strings.TrimSpace(body) == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(body))
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, provider.NewError(provider.KindUnknownResponse, "NLM", "read header", err)
	}
	row, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, provider.NewError(provider.KindUnknownResponse, "NLM", "read row", err)
	}
	out := core.Metadata{}
	for i, col := range header {
		key, ok := nlmColumns[strings.TrimSpace(col)]
		if !ok || i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			out[key] = v
		}
	}
	return out, nil
}
