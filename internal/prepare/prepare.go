// Package prepare manages the compiled-evaluator manifest: the cacheable
// mapping from model service names to their expression sources. Preparing
// compiles every constant-service expression once and installs the programs
// on the services; the manifest is persisted so later runs skip regeneration
// while the model library is unchanged.
package prepare

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/willjschmitt/andes/internal/config"
	"github.com/willjschmitt/andes/internal/ctxlog"
	"github.com/willjschmitt/andes/internal/device"
	"github.com/willjschmitt/andes/internal/expr"
	"github.com/willjschmitt/andes/internal/service"
)

// Manifest is the persisted form of the compiled-evaluator set.
type Manifest struct {
	Version     string                       `msgpack:"version"`
	Fingerprint string                       `msgpack:"fingerprint"`
	Models      map[string]map[string]string `msgpack:"models"`
}

// CachePath returns the deterministic, version-keyed location of the
// manifest under dir.
func CachePath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("calls_v%s.bin", config.Version))
}

// Generate walks the registry and collects every constant-service expression
// into a fresh manifest.
func Generate(reg *device.Registry) *Manifest {
	m := &Manifest{
		Version: config.Version,
		Models:  make(map[string]map[string]string),
	}
	for _, model := range reg.Models() {
		for _, svc := range model.Services() {
			cs, ok := svc.(*service.Const)
			if !ok || cs.Expression() == "" {
				continue
			}
			if m.Models[model.Name()] == nil {
				m.Models[model.Name()] = make(map[string]string)
			}
			m.Models[model.Name()][svc.Names()[0]] = cs.Expression()
		}
	}
	m.Fingerprint = expr.Fingerprint(m.sources())
	return m
}

// sources returns qualified names and expression sources in a stable order
// for fingerprinting.
func (m *Manifest) sources() []string {
	type entry struct{ key, src string }
	var entries []entry
	for model, svcs := range m.Models {
		for name, src := range svcs {
			entries = append(entries, entry{key: model + "." + name, src: src})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	out := make([]string, 0, 2*len(entries))
	for _, e := range entries {
		out = append(out, e.key, e.src)
	}
	return out
}

// Load reads a manifest from path. A missing file reports fs.ErrNotExist.
func Load(afs afero.Fs, path string) (*Manifest, error) {
	raw, err := afero.ReadFile(afs, path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode evaluator cache %s: %w", path, err)
	}
	return &m, nil
}

// Save writes the manifest to path, creating parent directories as needed.
func (m *Manifest) Save(afs afero.Fs, path string) error {
	raw, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode evaluator cache: %w", err)
	}
	if err := afs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(afs, path, raw, 0o644)
}

// Install compiles each manifest expression and hands the program to the
// matching constant service, so Resolve skips per-run compilation.
func (m *Manifest) Install(ctx context.Context, reg *device.Registry) error {
	logger := ctxlog.FromContext(ctx)
	installed := 0
	for _, model := range reg.Models() {
		svcs, ok := m.Models[model.Name()]
		if !ok {
			continue
		}
		for _, svc := range model.Services() {
			cs, isConst := svc.(*service.Const)
			if !isConst {
				continue
			}
			src, ok := svcs[svc.Names()[0]]
			if !ok {
				continue
			}
			program, err := expr.Compile(src)
			if err != nil {
				return fmt.Errorf("model %s: %w", model.Name(), err)
			}
			cs.SetProgram(program)
			installed++
		}
	}
	logger.Debug("Compiled evaluators installed.", "count", installed)
	return nil
}

// Prepare loads the cached manifest when it is present and matches the
// current model library, regenerating and saving it otherwise. It is
// idempotent; only the first effective call does real work. The regenerated
// return reports whether a rebuild happened.
func Prepare(ctx context.Context, afs afero.Fs, reg *device.Registry, cacheDir string, force bool) (m *Manifest, regenerated bool, err error) {
	logger := ctxlog.FromContext(ctx)
	path := CachePath(cacheDir)
	want := Generate(reg)

	if !force {
		cached, err := Load(afs, path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("Evaluator cache absent, regenerating.", "path", path)
		case err != nil:
			logger.Warn("Evaluator cache unreadable, regenerating.", "path", path, "error", err)
		case cached.Version == config.Version && cached.Fingerprint == want.Fingerprint:
			if err := cached.Install(ctx, reg); err != nil {
				return nil, false, err
			}
			logger.Debug("Evaluator cache hit.", "path", path)
			return cached, false, nil
		default:
			logger.Debug("Evaluator cache stale, regenerating.",
				"path", path, "cached_version", cached.Version)
		}
	}

	if err := want.Install(ctx, reg); err != nil {
		return nil, false, err
	}
	if err := want.Save(afs, path); err != nil {
		return nil, false, fmt.Errorf("failed to save evaluator cache: %w", err)
	}
	logger.Info("Symbolic to numeric preparation completed.", "path", path)
	return want, true, nil
}
