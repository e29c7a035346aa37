package schema_test

import (
	"testing"

	"github.com/metaenhancer/metaenhancer/pkg/pipeline/schema"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "canonical", in: "inchikey", want: "inchikey"},
		{name: "case and spaces", in: " Compound Name ", want: "compound_name"},
		{name: "dashes", in: "canonical-smiles", want: "canonical_smiles"},
		{name: "alias", in: "CAS", want: "casno"},
		{name: "pubchem alias", in: "PubChem CID", want: "pubchemid"},
		{name: "unknown kept", in: "Retention Time", want: "retention_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := schema.Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q)=%q want=%q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	if got, ok := schema.Coerce("mw", "46.0419").(float64); !ok || got != 46.0419 {
		t.Fatalf("expected float mass, got %#v", schema.Coerce("mw", "46.0419"))
	}
	if got := schema.Coerce("mw", "n/a"); got != "n/a" {
		t.Fatalf("unparseable numbers must stay strings, got %#v", got)
	}
	if got := schema.Coerce("pubchemid", "702"); got != "702" {
		t.Fatalf("text attributes must stay strings, got %#v", got)
	}
}

func TestKnown(t *testing.T) {
	t.Parallel()

	known := schema.Known()
	for i := 1; i < len(known); i++ {
		if known[i-1] >= known[i] {
			t.Fatalf("not sorted: %v", known)
		}
	}
	if a, ok := schema.Lookup("mw"); !ok || a.Kind != schema.KindNumber {
		t.Fatalf("unexpected mw entry %+v", a)
	}
}
