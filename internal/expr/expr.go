// Package expr compiles service expression strings into evaluatable programs.
//
// An expression is standard HCL expression syntax referencing the owning
// model's parameter and service names as bare variables, e.g. "2 * M" or
// "u * (p0 - p)". Evaluation is elementwise: each device row supplies one
// scalar binding per name.
package expr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Program is a compiled expression ready for repeated evaluation.
type Program struct {
	src  string
	expr hclsyntax.Expression
}

// Compile parses src into a Program. The source is retained for
// fingerprinting and cache round-trips.
func Compile(src string) (*Program, error) {
	parsed, diags := hclsyntax.ParseExpression([]byte(src), "service.expr", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to compile expression %q: %w", src, diags)
	}
	return &Program{src: src, expr: parsed}, nil
}

// Source returns the original expression text.
func (p *Program) Source() string {
	return p.src
}

// Variables returns the sorted set of variable names the expression reads.
func (p *Program) Variables() []string {
	seen := make(map[string]struct{})
	for _, traversal := range p.expr.Variables() {
		seen[traversal.RootName()] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EvalVector evaluates the program once per row over the namespace ns, which
// maps names to vectors of length at least n. Row i binds ns[name][i] as a
// scalar. A zero n yields an empty vector without touching the namespace.
func (p *Program) EvalVector(ns map[string][]float64, n int) ([]float64, error) {
	out := make([]float64, n)
	if n == 0 {
		return out, nil
	}

	needed := p.Variables()
	for _, name := range needed {
		vec, ok := ns[name]
		if !ok {
			return nil, fmt.Errorf("expression %q references unknown name %q", p.src, name)
		}
		if len(vec) < n {
			return nil, fmt.Errorf("expression %q: name %q has %d values, need %d", p.src, name, len(vec), n)
		}
	}

	vars := make(map[string]cty.Value, len(needed))
	for i := 0; i < n; i++ {
		for _, name := range needed {
			vars[name] = cty.NumberFloatVal(ns[name][i])
		}
		val, diags := p.expr.Value(&hcl.EvalContext{Variables: vars})
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to evaluate expression %q at row %d: %w", p.src, i, diags)
		}
		if val.Type() != cty.Number {
			return nil, fmt.Errorf("expression %q evaluated to %s, want number", p.src, val.Type().FriendlyName())
		}
		f, _ := val.AsBigFloat().Float64()
		out[i] = f
	}
	return out, nil
}

// Fingerprint returns a stable content hash of the expression source,
// suitable for cache validity checks.
func Fingerprint(sources []string) string {
	h := sha256.New()
	for _, src := range sources {
		h.Write([]byte(src))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
