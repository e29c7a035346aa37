package providers

import (
	"context"

	"github.com/metaenhancer/metaenhancer/internal/chem"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/pkg/pipeline/core"
)

// Compute derives attributes locally from structure strings. It never does
// I/O and is always available unless disabled explicitly.
type Compute struct {
	*provider.Base
}

func NewCompute() *Compute {
	c := &Compute{Base: provider.NewBase("Compute")}
	for _, src := range []string{"smiles", "canonical_smiles", "isomeric_smiles"} {
		c.Register(src, "mw", c.fromSMILES)
		c.Register(src, "formula", c.fromSMILES)
	}
	c.Register("formula", "mw", c.fromFormula)
	return c
}

func (c *Compute) fromSMILES(ctx context.Context, smiles string) (core.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mol, err := chem.ParseSMILES(smiles)
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidAttributeFormat, c.ID(), "parse smiles", err)
	}
	out := core.Metadata{"formula": mol.Formula()}
	mw, err := mol.MonoisotopicMass()
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidAttributeFormat, c.ID(), "mass", err)
	}
	out["mw"] = mw
	return out, nil
}

func (c *Compute) fromFormula(ctx context.Context, formula string) (core.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mw, err := chem.FormulaMass(formula)
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidAttributeFormat, c.ID(), "parse formula", err)
	}
	return core.Metadata{"mw": mw}, nil
}
