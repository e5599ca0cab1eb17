// Package caseio loads case files into a device registry and writes converted
// cases back out. The format is determined by extension sniffing; parse
// failures are reported as failure indicators so a batch can skip the case
// without disturbing sibling units.
package caseio

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/willjschmitt/andes/internal/ctxlog"
	"github.com/willjschmitt/andes/internal/device"
)

// Format identifies a supported case-file format.
type Format int

const (
	FormatUnknown Format = iota
	FormatHCL
	FormatJSON
)

// Guess determines the case format from the file extension. The second
// return is false when the format cannot be determined.
func Guess(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return FormatHCL, true
	case ".json":
		return FormatJSON, true
	default:
		return FormatUnknown, false
	}
}

// Parse reads the case at path into reg. Returns false, with the cause
// logged, when the format is unknown or the content does not parse; callers
// abort the case but not the process.
func Parse(ctx context.Context, afs afero.Fs, path string, reg *device.Registry) bool {
	logger := ctxlog.FromContext(ctx)

	format, ok := Guess(path)
	if !ok {
		logger.Error("Unable to determine case format.", "case", path)
		return false
	}

	raw, err := afero.ReadFile(afs, path)
	if err != nil {
		logger.Error("Unable to read case file.", "case", path, "error", err)
		return false
	}

	switch format {
	case FormatHCL:
		err = parseHCL(raw, path, reg)
	case FormatJSON:
		err = parseJSON(raw, reg)
	}
	if err != nil {
		logger.Error("Failed to parse case file.", "case", path, "error", err)
		return false
	}

	logger.Debug("Case parsed.", "case", path, "devices", reg.DeviceCount())
	return true
}
