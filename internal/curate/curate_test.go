package curate_test

import (
	"testing"

	"github.com/metaenhancer/metaenhancer/internal/curate"
	"github.com/metaenhancer/metaenhancer/internal/job"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/internal/report"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

func TestFixCASNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "7783893", want: "7783-89-3"},
		{in: "7783-89-3", want: "7783-89-3"},
		{in: "50000", want: "50-00-0"},
		{in: "1234", want: "1-23-4"},
		{in: "123", want: "123"},
		{in: "abc1234", want: "abc1234"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := curate.FixCASNumber(tt.in); got != tt.want {
				t.Fatalf("FixCASNumber(%q)=%q want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMetadata(t *testing.T) {
	t.Parallel()

	m := core.Metadata{
		"casno":         "64175",
		"compound_name": "  Cafe\u0301ine ",
		"mw":            46.04,
	}
	curate.Metadata(m)
	if m["casno"] != "64-17-5" {
		t.Fatalf("unexpected casno %v", m["casno"])
	}
	if m["compound_name"] != "Caf\u00e9ine" {
		t.Fatalf("expected NFC-normalized trimmed name, got %q", m["compound_name"])
	}
	if m["mw"] != 46.04 {
		t.Fatalf("non-string values pass through")
	}
}

func TestFilterInvalid(t *testing.T) {
	t.Parallel()

	j := job.Job{Source: "name", Target: "inchi", Provider: "pubchem"}
	rec := report.NewRecord("row", core.Metadata{})
	in := core.Metadata{
		"inchi":           "InChI=1S/C2H6O/c1-2-3/h3H,2H2,1H3",
		"inchikey":        "not-a-key",
		"smiles":          "C1CC",
		"isomeric_smiles": "CCO",
		"casno":           "64175",
		"iupac_name":      "ethanol",
		"pubchemid":       "702",
	}
	out := curate.FilterInvalid(in, rec, j)

	for _, k := range []string{"inchi", "isomeric_smiles", "iupac_name", "pubchemid"} {
		if !out.Has(k) {
			t.Fatalf("expected %s to survive: %#v", k, out)
		}
	}
	if out["casno"] != "64-17-5" {
		t.Fatalf("expected normalized casno, got %v", out["casno"])
	}
	if out.Has("inchikey") || out.Has("smiles") {
		t.Fatalf("invalid values must be dropped: %#v", out)
	}
	if rec.Count(report.Warning) != 2 {
		t.Fatalf("expected 2 warnings, got %#v", rec.Entries)
	}
	for _, e := range rec.Entries {
		if e.Kind != provider.KindInvalidAttributeFormat || e.Job != j {
			t.Fatalf("unexpected entry: %#v", e)
		}
	}
}

func TestFilterInvalid_BadCASCheckDigit(t *testing.T) {
	t.Parallel()

	j := job.Job{Source: "compound_name", Target: "casno", Provider: "CIR"}
	rec := report.NewRecord("row", core.Metadata{})
	out := curate.FilterInvalid(core.Metadata{"casno": "64-17-6", "formula": "C2H6O"}, rec, j)

	if out.Has("casno") {
		t.Fatalf("CAS number with a wrong check digit must be dropped: %#v", out)
	}
	if out["formula"] != "C2H6O" {
		t.Fatalf("sibling attributes must survive: %#v", out)
	}
	if rec.Count(report.Warning) != 1 || rec.Entries[0].Kind != provider.KindInvalidAttributeFormat {
		t.Fatalf("expected one InvalidAttributeFormat warning, got %#v", rec.Entries)
	}
}
