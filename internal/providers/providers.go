// Package providers holds the concrete conversion services.
package providers

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/metaenhancer/metaenhancer/internal/network"
	"github.com/metaenhancer/metaenhancer/internal/provider"
)

// Deps are the shared resources handed to every provider of a batch.
type Deps struct {
	HTTP     *http.Client
	Network  network.Config
	Store    network.ResponseStore
	Observer network.Observer
	Logger   zerolog.Logger
	// Endpoints overrides base URLs by endpoint name (e.g. "pubchem", "cts_compound").
	Endpoints map[string]string
}

func (d Deps) endpoints(defaults map[string]string) map[string]string {
	out := make(map[string]string, len(defaults))
	for name, u := range defaults {
		if o := strings.TrimSpace(d.Endpoints[name]); o != "" {
			u = o
			if !strings.HasSuffix(u, "/") && strings.HasSuffix(defaults[name], "/") {
				u += "/"
			}
		}
		out[name] = u
	}
	return out
}

func (d Deps) client(id string, defaults map[string]string, cfg network.Config, opts ...network.Option) *network.Client {
	all := []network.Option{
		network.WithLogger(d.Logger.With().Str("provider", id).Logger()),
	}
	if d.Store != nil {
		all = append(all, network.WithStore(d.Store))
	}
	if d.Observer != nil {
		all = append(all, network.WithObserver(d.Observer))
	}
	all = append(all, opts...)
	return network.NewClient(id, d.HTTP, d.endpoints(defaults), cfg, all...)
}

// remote is embedded by every network-backed provider.
type remote struct {
	*provider.Base
	client *network.Client
}

// BaseURL is probed by the availability monitor.
func (r *remote) BaseURL() string { return r.client.BaseURL() }

var constructors = map[string]func(Deps) provider.Provider{
	"PubChem":  func(d Deps) provider.Provider { return NewPubChem(d) },
	"CIR":      func(d Deps) provider.Provider { return NewCIR(d) },
	"CTS":      func(d Deps) provider.Provider { return NewCTS(d) },
	"NLM":      func(d Deps) provider.Provider { return NewNLM(d) },
	"IDSM":     func(d Deps) provider.Provider { return NewIDSM(d) },
	"BridgeDB": func(d Deps) provider.Provider { return NewBridgeDB(d) },
	"Compute":  func(Deps) provider.Provider { return NewCompute() },
}

// Names lists the known provider ids, sorted.
func Names() []string {
	out := make([]string, 0, len(constructors))
	for n := range constructors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Build constructs the named providers. Names match case-insensitively; an
// empty list builds all of them.
func Build(names []string, deps Deps) ([]provider.Provider, error) {
	if len(names) == 0 {
		names = Names()
	}
	seen := map[string]bool{}
	var out []provider.Provider
	for _, raw := range names {
		id, ok := lookup(strings.TrimSpace(raw))
		if !ok {
			return nil, provider.Errorf(provider.KindUnknownProvider, raw, "unknown provider; known: %s", strings.Join(Names(), ", "))
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, constructors[id](deps))
	}
	return out, nil
}

func lookup(name string) (string, bool) {
	for id := range constructors {
		if strings.EqualFold(id, name) {
			return id, true
		}
	}
	return "", false
}

// escapePath escapes a value for use inside a URL path. Slashes are kept,
// the services expect InChI layers and SMILES bonds verbatim.
func escapePath(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), "%2F", "/")
}
