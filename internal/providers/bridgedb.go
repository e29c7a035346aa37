package providers

import (
	"context"
	"strings"

	"github.com/metaenhancer/metaenhancer/internal/network"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

// BridgeDB maps database identifiers onto each other.
type BridgeDB struct {
	remote
}

// bridgeIDs is ordered; conversions register in this order.
var bridgeIDs = []struct {
	attr   string
	code   string
	source string
}{
	{"hmdbid", "Ch", "HMDB"},
	{"pubchemid", "Cpc", "PubChem-compound"},
	{"chemspiderid", "Cs", "Chemspider"},
	{"wikidataid", "Wd", "Wikidata"},
	{"chebiid", "Ce", "ChEBI"},
	{"keggid", "Ck", "KEGG Compound"},
}

func NewBridgeDB(d Deps) *BridgeDB {
	b := &BridgeDB{}
	b.Base = provider.NewBase("BridgeDB")
	b.client = d.client("BridgeDB", map[string]string{"bridgedb": "https://webservice.bridgedb.org/Human/xrefs/"}, d.Network)

	for _, from := range bridgeIDs {
		m := b.xrefs(from.code)
		for _, to := range bridgeIDs {
			if to.attr != from.attr {
				b.Register(from.attr, to.attr, m)
			}
		}
	}
	return b
}

func (b *BridgeDB) xrefs(code string) provider.Method {
	return func(ctx context.Context, value string) (core.Metadata, error) {
		body, err := b.client.Query(ctx, network.Request{Endpoint: "bridgedb", Args: code + "/" + escapePath(value)})
		if err != nil {
			return nil, err
		}
		return parseXrefs(body), nil
	}
}

// parseXrefs reads "value<TAB>datasource" lines. The first value per
// datasource wins.
func parseXrefs(body string) core.Metadata {
	out := core.Metadata{}
	for _, line := range strings.Split(body, "\n") {
		value, source, ok := strings.Cut(strings.TrimRight(line, "\r"), "\t")
		if !ok || value == "" {
			continue
		}
		for _, id := range bridgeIDs {
			if id.source != source {
				continue
			}
			if _, seen := out[id.attr]; !seen {
				out[id.attr] = value
			}
		}
	}
	return out
}
