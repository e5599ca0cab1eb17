package caseio

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/willjschmitt/andes/internal/device"
)

// parseJSON decodes a case of the form {"Model": [{"idx": ..., "param": ...}]}
// into the registry. Rows within a model keep file order; models are applied
// in name order so parsing is deterministic regardless of map iteration.
func parseJSON(src []byte, reg *device.Registry) error {
	var root map[string][]map[string]any
	if err := json.Unmarshal(src, &root); err != nil {
		return fmt.Errorf("failed to decode JSON case: %w", err)
	}

	names := make([]string, 0, len(root))
	for name := range root {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		model, ok := reg.Model(name)
		if !ok {
			return fmt.Errorf("unknown model %q", name)
		}
		for i, fields := range root[name] {
			if _, err := model.AddDevice(fields); err != nil {
				return fmt.Errorf("model %s row %d: %w", name, i, err)
			}
		}
	}
	return nil
}
