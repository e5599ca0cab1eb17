package caseio

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/spf13/afero"
	"github.com/zclconf/go-cty/cty"

	"github.com/willjschmitt/andes/internal/device"
)

// deviceBlockSchema matches `device "<model>" "<idx>" { ... }` blocks.
var deviceBlockSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "device", LabelNames: []string{"model", "idx"}},
	},
}

// parseHCL decodes device blocks from an HCL case file into the registry.
func parseHCL(src []byte, filename string, reg *device.Registry) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse %s: %w", filename, diags)
	}

	content, diags := file.Body.Content(deviceBlockSchema)
	if diags.HasErrors() {
		return fmt.Errorf("unexpected content in %s: %w", filename, diags)
	}

	for _, block := range content.Blocks {
		modelName, idx := block.Labels[0], block.Labels[1]
		model, ok := reg.Model(modelName)
		if !ok {
			return fmt.Errorf("%s: unknown model %q", filename, modelName)
		}

		attrs, diags := block.Body.JustAttributes()
		if diags.HasErrors() {
			return fmt.Errorf("%s: device %s %q: %w", filename, modelName, idx, diags)
		}

		fields := map[string]any{"idx": idx}
		for name, attr := range attrs {
			val, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return fmt.Errorf("%s: device %s %q: attribute %s: %w",
					filename, modelName, idx, name, diags)
			}
			switch val.Type() {
			case cty.Number:
				f, _ := val.AsBigFloat().Float64()
				fields[name] = f
			case cty.String:
				fields[name] = val.AsString()
			default:
				return fmt.Errorf("%s: device %s %q: attribute %s has unsupported type %s",
					filename, modelName, idx, name, val.Type().FriendlyName())
			}
		}

		if _, err := model.AddDevice(fields); err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}
	}
	return nil
}

// DumpHCL writes the registry's current device rows as an HCL case file.
// Used by --dump to convert cases between formats after setup.
func DumpHCL(afs afero.Fs, path string, reg *device.Registry) error {
	out := hclwrite.NewEmptyFile()
	body := out.Body()

	for _, model := range reg.Models() {
		if model.Count() == 0 {
			continue
		}
		for uid, idx := range model.Idx() {
			block := body.AppendNewBlock("device", []string{model.Name(), idx})
			names := append([]string{}, model.NumParams()...)
			sort.Strings(names)
			for _, name := range names {
				vec, _ := model.Values(name)
				block.Body().SetAttributeValue(name, cty.NumberFloatVal(vec[uid]))
			}
			for _, name := range model.IdxParams() {
				vec, _ := model.IdxValues(name)
				if vec[uid] != "" {
					block.Body().SetAttributeValue(name, cty.StringVal(vec[uid]))
				}
			}
		}
		body.AppendNewline()
	}

	return afero.WriteFile(afs, path, out.Bytes(), 0o644)
}
