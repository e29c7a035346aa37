package providers

import (
	"context"
	"strings"

	"github.com/metaenhancer/metaenhancer/internal/network"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

// CIR is the NCI Chemical Identifier Resolver. Every answer is plain text;
// only its first line is used.
type CIR struct {
	remote
}

func NewCIR(d Deps) *CIR {
	c := &CIR{}
	c.Base = provider.NewBase("CIR")
	c.client = d.client("CIR",
		map[string]string{"cir": "https://cactus.nci.nih.gov/chemical/structure/"},
		d.Network,
	)

	c.Register("casno", "smiles", c.lookup("smiles", "/smiles?resolver=cas_number", ""))
	c.Register("inchikey", "smiles", c.lookup("smiles", "/smiles", ""))
	c.Register("inchikey", "inchi", c.lookup("inchi", "/stdinchi", ""))
	c.Register("inchikey", "casno", c.lookup("casno", "/cas", ""))
	c.Register("inchikey", "formula", c.lookup("formula", "/formula", ""))
	c.Register("smiles", "inchikey", c.lookup("inchikey", "/stdinchikey", "InChIKey="))
	c.Register("inchi", "smiles", c.lookup("smiles", "/smiles", ""))
	return c
}

func (c *CIR) lookup(target, suffix, strip string) provider.Method {
	return func(ctx context.Context, value string) (core.Metadata, error) {
		body, err := c.client.Query(ctx, network.Request{Endpoint: "cir", Args: escapePath(value) + suffix})
		if err != nil {
			return nil, err
		}
		line := strings.TrimSpace(firstLine(body))
		line = strings.TrimPrefix(line, strip)
		if line == "" {
			return nil, nil
		}
		return core.Metadata{target: line}, nil
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
