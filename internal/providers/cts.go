package providers

import (
	"context"
	"encoding/json"

	"github.com/metaenhancer/metaenhancer/internal/network"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

// CTS is the Fiehn lab Chemical Translation Service.
type CTS struct {
	remote
}

func NewCTS(d Deps) *CTS {
	c := &CTS{}
	c.Base = provider.NewBase("CTS")
	c.client = d.client("CTS", map[string]string{
		"cts":          "https://cts.fiehnlab.ucdavis.edu/rest/convert/",
		"cts_compound": "https://cts.fiehnlab.ucdavis.edu/service/compound/",
	}, d.Network)

	c.Register("casno", "inchikey", c.convert("CAS/InChIKey/"))
	c.Register("compound_name", "inchikey", c.convert("Chemical%20Name/InChIKey/"))
	c.Register("inchikey", "inchi", c.compound)
	c.Register("inchikey", "compound_name", c.compound)
	c.Register("inchikey", "iupac_name", c.compound)
	return c
}

func (c *CTS) convert(prefix string) provider.Method {
	return func(ctx context.Context, value string) (core.Metadata, error) {
		body, err := c.client.Query(ctx, network.Request{Endpoint: "cts", Args: prefix + escapePath(value)})
		if err != nil {
			return nil, err
		}
		var resp []struct {
			Results []string `json:"results"`
		}
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			return nil, provider.NewError(provider.KindUnknownResponse, c.ID(), "decode conversion", err)
		}
		if len(resp) == 0 || len(resp[0].Results) == 0 {
			return nil, nil
		}
		return core.Metadata{"inchikey": resp[0].Results[0]}, nil
	}
}

func (c *CTS) compound(ctx context.Context, inchikey string) (core.Metadata, error) {
	body, err := c.client.Query(ctx, network.Request{Endpoint: "cts_compound", Args: escapePath(inchikey)})
	if err != nil {
		return nil, err
	}
	return parseCTSCompound(body)
}

func parseCTSCompound(body string) (core.Metadata, error) {
	var resp struct {
		InChICode string `json:"inchicode"`
		Formula   string `json:"formula"`
		Synonyms  []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"synonyms"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, provider.NewError(provider.KindUnknownResponse, "CTS", "decode compound", err)
	}
	out := core.Metadata{}
	if resp.InChICode != "" {
		out["inchi"] = resp.InChICode
	}
	if resp.Formula != "" {
		out["formula"] = resp.Formula
	}
	for _, s := range resp.Synonyms {
		switch s.Type {
		case "Synonym":
			if _, ok := out["compound_name"]; !ok {
				out["compound_name"] = s.Name
			}
		case "IUPAC Name (Preferred)":
			if _, ok := out["iupac_name"]; !ok {
				out["iupac_name"] = s.Name
			}
		}
	}
	return out, nil
}
