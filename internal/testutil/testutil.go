// Package testutil provides shared fixtures for package tests: an in-memory
// filesystem seeded with case files and a thread-safe log capture buffer.
package testutil

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Fs builds an in-memory filesystem containing the given files.
func Fs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
	return fs
}

// Logger returns a debug-level text logger writing into buf.
func Logger(buf *SafeBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// KundurTwoBus is a minimal two-bus HCL case that converges in a few
// Newton iterations: slack generator at b1 feeding a PQ load at b2.
const KundurTwoBus = `
device "Bus" "b1" {
  Vn = 230
}

device "Bus" "b2" {
  Vn = 230
}

device "Line" "l1" {
  bus1 = "b1"
  bus2 = "b2"
  r    = 0.02
  x    = 0.2
}

device "Slack" "sl1" {
  bus = "b1"
  v   = 1.03
}

device "PQ" "pq1" {
  bus = "b2"
  p   = 0.4
  q   = 0.1
}
`

// TwoBusWithGen extends KundurTwoBus with a PV machine and a classical
// generator pulling its dispatch from the static generators.
const TwoBusWithGen = KundurTwoBus + `
device "Bus" "b3" {
  Vn = 230
}

device "Line" "l2" {
  bus1 = "b2"
  bus2 = "b3"
  r    = 0.01
  x    = 0.1
}

device "PV" "pv1" {
  bus = "b3"
  p   = 0.2
  v   = 1.01
}

device "GENCLS" "g1" {
  bus = "b3"
  gen = "pv1"
  M   = 8
  D   = 1
  xdp = 0.25
}
`
