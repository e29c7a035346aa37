// Package curate cleans metadata before resolution and filters provider
// output that fails format checks.
package curate

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/metaenhancer/metaenhancer/internal/chem"
	"github.com/metaenhancer/metaenhancer/internal/job"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/internal/report"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

// FixCASNumber inserts the dashes into a bare CAS number: "7783893" becomes
// "7783-89-3". Anything that is not a run of at least four digits is returned unchanged.
func FixCASNumber(cas string) string {
	s := strings.TrimSpace(cas)
	if len(s) < 4 || strings.Contains(s, "-") {
		return cas
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return cas
		}
	}
	n := len(s)
	return s[:n-3] + "-" + s[n-3:n-1] + "-" + s[n-1:]
}

// Metadata repairs common formatting problems in input records.
func Metadata(m core.Metadata) core.Metadata {
	if v, ok := m["casno"].(string); ok {
		m["casno"] = FixCASNumber(v)
	}
	if v, ok := m["compound_name"].(string); ok {
		m["compound_name"] = strings.TrimSpace(norm.NFC.String(v))
	}
	return m
}

var validators = map[string]func(string) bool{
	"smiles":           chem.ValidSMILES,
	"canonical_smiles": chem.ValidSMILES,
	"isomeric_smiles":  chem.ValidSMILES,
	"inchi":            chem.ValidInChI,
	"inchikey":         chem.ValidInChIKey,
	"casno":            chem.ValidCAS,
}

// FilterInvalid drops attributes that fail their format check and records a
// warning for each. Attributes without a check pass through. CAS numbers are
// normalized before checking.
func FilterInvalid(attrs core.Metadata, rec *report.Record, j job.Job) core.Metadata {
	out := make(core.Metadata, len(attrs))
	for k, v := range attrs {
		if k == "casno" {
			if s, ok := v.(string); ok {
				v = FixCASNumber(s)
			}
		}
		check, ok := validators[k]
		if !ok {
			out[k] = v
			continue
		}
		s, isStr := v.(string)
		if isStr && check(strings.TrimSpace(s)) {
			out[k] = strings.TrimSpace(s)
			continue
		}
		if rec != nil {
			rec.Add(report.Warning, j, &provider.Error{
				Kind:     provider.KindInvalidAttributeFormat,
				Provider: j.Provider,
				Source:   j.Source,
				Target:   j.Target,
				Msg:      fmt.Sprintf("%s value %q failed validation", k, core.ValueString(v)),
			})
		}
	}
	return out
}
