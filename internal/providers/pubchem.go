package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/metaenhancer/metaenhancer/internal/network"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

// PubChem queries the PUG REST API. Its request rate follows the
// X-Throttling-Control header.
type PubChem struct {
	remote
	throttle *network.Throttler
}

type pubchemAttribute struct {
	code  string
	label string
	name  string
}

var pubchemAttributes = []pubchemAttribute{
	{code: "inchi", label: "InChI"},
	{code: "inchikey", label: "InChIKey"},
	{code: "iupac_name", label: "IUPAC Name", name: "Preferred"},
	{code: "formula", label: "Molecular Formula"},
	{code: "canonical_smiles", label: "SMILES", name: "Canonical"},
	{code: "isomeric_smiles", label: "SMILES", name: "Isomeric"},
}

func NewPubChem(d Deps) *PubChem {
	p := &PubChem{
		throttle: network.NewThrottler(network.ThrottleConfig{Ceiling: 4}),
	}
	p.Base = provider.NewBase("PubChem")
	p.client = d.client("PubChem",
		map[string]string{"pubchem": "https://pubchem.ncbi.nlm.nih.gov/rest/pug/compound/"},
		d.Network,
		network.WithThrottler(p.throttle),
		network.WithResponseHook(p.adjustThrottling),
	)

	for _, a := range pubchemAttributes {
		p.Register("compound_name", a.code, p.fromName)
	}
	for _, a := range pubchemAttributes[1:] {
		p.Register("inchi", a.code, p.fromInChI)
	}
	p.Register("inchi", "pubchemid", p.fromInChI)
	p.Register("pubchemid", "inchi", p.fromPubChemID)
	p.Register("pubchemid", "hmdbid", p.toHMDB)
	return p
}

func (p *PubChem) fromName(ctx context.Context, name string) (core.Metadata, error) {
	return p.call(ctx, network.Request{Endpoint: "pubchem", Args: "name/" + url.PathEscape(name) + "/JSON"})
}

func (p *PubChem) fromInChI(ctx context.Context, inchi string) (core.Metadata, error) {
	return p.call(ctx, network.Request{
		Endpoint: "pubchem",
		Args:     "inchi/JSON",
		Method:   http.MethodPost,
		Form:     url.Values{"inchi": {inchi}},
	})
}

func (p *PubChem) fromPubChemID(ctx context.Context, cid string) (core.Metadata, error) {
	return p.call(ctx, network.Request{Endpoint: "pubchem", Args: "cid/" + url.PathEscape(cid) + "/JSON"})
}

func (p *PubChem) toHMDB(ctx context.Context, cid string) (core.Metadata, error) {
	body, err := p.client.Query(ctx, network.Request{
		Endpoint: "pubchem",
		Args:     "cid/" + url.PathEscape(cid) + "/xrefs/RegistryID/JSON",
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		InformationList struct {
			Information []struct {
				RegistryID []string `json:"RegistryID"`
			} `json:"Information"`
		} `json:"InformationList"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, provider.NewError(provider.KindUnknownResponse, p.ID(), "decode xrefs", err)
	}
	if len(resp.InformationList.Information) == 0 {
		return nil, nil
	}
	for _, id := range resp.InformationList.Information[0].RegistryID {
		if strings.HasPrefix(id, "HMDB") {
			return core.Metadata{"hmdbid": id}, nil
		}
	}
	return nil, nil
}

type pcCompounds struct {
	PCCompounds []struct {
		ID struct {
			ID struct {
				CID int64 `json:"cid"`
			} `json:"id"`
		} `json:"id"`
		Props []struct {
			URN struct {
				Label string `json:"label"`
				Name  string `json:"name"`
			} `json:"urn"`
			Value struct {
				SVal string `json:"sval"`
			} `json:"value"`
		} `json:"props"`
	} `json:"PC_Compounds"`
}

func (p *PubChem) call(ctx context.Context, req network.Request) (core.Metadata, error) {
	body, err := p.client.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	return parsePubChem(body)
}

func parsePubChem(body string) (core.Metadata, error) {
	var resp pcCompounds
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, provider.NewError(provider.KindUnknownResponse, "PubChem", "decode compound", err)
	}
	out := core.Metadata{}
	if len(resp.PCCompounds) == 0 {
		return out, nil
	}
	first := resp.PCCompounds[0]
	if cid := first.ID.ID.CID; cid != 0 {
		out["pubchemid"] = strconv.FormatInt(cid, 10)
	}
	for _, prop := range first.Props {
		for _, a := range pubchemAttributes {
			if prop.URN.Label != a.label {
				continue
			}
			if a.name != "" && prop.URN.Name != a.name {
				continue
			}
			out[a.code] = prop.Value.SVal
		}
	}
	return out, nil
}

var loadRe = regexp.MustCompile(`\((\d+)%\)`)

// parseThrottling reads "Request Count status: Green (0%), Request Time
// status: Green (0%), Service status: Green (20%)" into the highest load and
// whether the client is blocked.
func parseThrottling(h string) (load int, blocked bool, err error) {
	parts := strings.Split(h, ",")
	if len(parts) < 3 {
		return 0, false, fmt.Errorf("malformed throttling header %q", h)
	}
	for _, part := range parts[:3] {
		m := loadRe.FindStringSubmatch(part)
		if m == nil {
			return 0, false, fmt.Errorf("malformed throttling indicator %q", part)
		}
		n, _ := strconv.Atoi(m[1])
		if n > load {
			load = n
		}
	}
	blocked = strings.Contains(parts[len(parts)-1], "too many requests per second or blacklisted")
	return load, blocked, nil
}

func (p *PubChem) adjustThrottling(h http.Header) {
	raw := h.Get("X-Throttling-Control")
	if raw == "" {
		return
	}
	load, blocked, err := parseThrottling(raw)
	if err != nil {
		return
	}
	switch {
	case blocked || load > 75:
		p.throttle.Decrease()
	case load < 25:
		p.throttle.Increase()
	}
}

// Throttler exposes the adaptive throttler.
func (p *PubChem) Throttler() *network.Throttler { return p.throttle }
