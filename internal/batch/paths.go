package batch

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"github.com/willjschmitt/andes/internal/ctxlog"
)

// ResolvePaths expands the positional case patterns against inputPath and
// returns an ordered, de-duplicated list of existing case files. Patterns
// matching nothing are logged and skipped; directories are filtered out.
func ResolvePaths(ctx context.Context, afs afero.Fs, patterns []string, inputPath string) []string {
	logger := ctxlog.FromContext(ctx)

	var cases []string
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		full := pattern
		if inputPath != "" && !filepath.IsAbs(pattern) {
			full = filepath.Join(inputPath, pattern)
		}

		matches, err := expand(afs, full)
		if err != nil {
			logger.Error("Bad case pattern.", "pattern", full, "error", err)
			continue
		}
		if len(matches) == 0 {
			logger.Error("Case file does not exist.", "pattern", full)
			continue
		}

		for _, match := range matches {
			info, err := afs.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			cases = append(cases, match)
		}
	}

	logger.Debug("Case paths resolved.", "count", len(cases))
	return cases
}

// expand globs one pattern. Literal paths skip globbing entirely so absolute
// paths work on any filesystem; glob patterns run rooted to satisfy io/fs
// path rules.
func expand(afs afero.Fs, pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		if ok, _ := afero.Exists(afs, pattern); !ok {
			return nil, nil
		}
		return []string{pattern}, nil
	}

	root := "."
	pat := filepath.ToSlash(pattern)
	if strings.HasPrefix(pat, "/") {
		root = "/"
		pat = strings.TrimPrefix(pat, "/")
	}

	matches, err := doublestar.Glob(afero.NewIOFS(afero.NewBasePathFs(afs, root)), pat)
	if err != nil {
		return nil, err
	}
	if root == "/" {
		for i, m := range matches {
			matches[i] = path.Join("/", m)
		}
	}
	return matches, nil
}
