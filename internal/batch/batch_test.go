package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/willjschmitt/andes/internal/config"
	"github.com/willjschmitt/andes/internal/ctxlog"
	"github.com/willjschmitt/andes/internal/testutil"
)

func newTestRunner(t *testing.T, cfg config.Config, files map[string]string) (*Runner, *testutil.SafeBuffer) {
	t.Helper()
	validated, err := config.NewConfig(cfg)
	require.NoError(t, err)

	var buf testutil.SafeBuffer
	r := NewRunner(&buf, validated)
	r.SetFs(testutil.Fs(t, files))
	return r, &buf
}

func TestRun_SingleCase(t *testing.T) {
	t.Parallel()

	r, buf := newTestRunner(t, config.Config{NCPU: 4, Cases: []string{"kundur.hcl"}},
		map[string]string{"kundur.hcl": testutil.KundurTwoBus})

	var ran []string
	r.SetRunUnit(func(ctx context.Context, casePath string, logger *slog.Logger) error {
		ran = append(ran, casePath)
		return nil
	})

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, []string{"kundur.hcl"}, ran)

	results := r.Results()
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.NotEmpty(t, results[0].UnitID)
	require.Contains(t, buf.String(), "Single process finished.")
}

func TestRun_NoInputFiles(t *testing.T) {
	t.Parallel()

	r, buf := newTestRunner(t, config.Config{NCPU: 1, Cases: []string{"ghost.hcl"}}, nil)
	require.NoError(t, r.Run(context.Background()))
	require.Empty(t, r.Results())
	require.Contains(t, buf.String(), "no input file")
}

func TestRun_MultipleCasesSequential(t *testing.T) {
	t.Parallel()

	r, buf := newTestRunner(t, config.Config{NCPU: 1, Cases: []string{"a.hcl", "b.hcl"}},
		map[string]string{"a.hcl": "x", "b.hcl": "x"})

	var mu sync.Mutex
	var ran []string
	r.SetRunUnit(func(ctx context.Context, casePath string, logger *slog.Logger) error {
		mu.Lock()
		defer mu.Unlock()
		ran = append(ran, casePath)
		return nil
	})

	require.NoError(t, r.Run(context.Background()))
	// One worker drains the queue in submission order.
	require.Equal(t, []string{"a.hcl", "b.hcl"}, ran)
	require.Contains(t, buf.String(), "Multiple processes finished.")
}

func TestRun_ConcurrencyNeverExceedsNCPU(t *testing.T) {
	t.Parallel()

	files := map[string]string{}
	cases := []string{"a.hcl", "b.hcl", "c.hcl", "d.hcl", "e.hcl", "f.hcl"}
	for _, c := range cases {
		files[c] = "x"
	}
	r, _ := newTestRunner(t, config.Config{NCPU: 2, Cases: cases}, files)

	// The first two units rendezvous so the pool provably reaches its bound;
	// peak tracking proves it never exceeds it.
	var inFlight, peak, arrived atomic.Int64
	full := make(chan struct{})
	r.SetRunUnit(func(ctx context.Context, casePath string, logger *slog.Logger) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		if arrived.Add(1) == 2 {
			close(full)
		}
		select {
		case <-full:
		case <-time.After(5 * time.Second):
			t.Error("worker pool never reached its bound")
		}
		return nil
	})

	require.NoError(t, r.Run(context.Background()))
	require.Len(t, r.Results(), len(cases))
	require.Equal(t, int64(2), peak.Load())
}

func TestRun_FailureIsConfinedToUnit(t *testing.T) {
	t.Parallel()

	r, buf := newTestRunner(t, config.Config{NCPU: 4, Cases: []string{"good.hcl", "bad.hcl", "also_good.hcl"}},
		map[string]string{"good.hcl": "x", "bad.hcl": "x", "also_good.hcl": "x"})

	boom := errors.New("link failed")
	r.SetRunUnit(func(ctx context.Context, casePath string, logger *slog.Logger) error {
		if casePath == "bad.hcl" {
			return boom
		}
		return nil
	})

	// Sibling failures never surface as a process error.
	require.NoError(t, r.Run(context.Background()))

	failed := 0
	for _, res := range r.Results() {
		if res.Err != nil {
			failed++
			require.Equal(t, "bad.hcl", res.Case)
		}
	}
	require.Equal(t, 1, failed)
	require.Contains(t, buf.String(), "Some cases failed.")
}

func TestRun_CanceledContextSkipsUnits(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t, config.Config{NCPU: 2, Cases: []string{"a.hcl", "b.hcl", "c.hcl"}},
		map[string]string{"a.hcl": "x", "b.hcl": "x", "c.hcl": "x"})

	var executed atomic.Int64
	r.SetRunUnit(func(ctx context.Context, casePath string, logger *slog.Logger) error {
		executed.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	require.Zero(t, executed.Load())
	for _, res := range r.Results() {
		require.ErrorIs(t, res.Err, context.Canceled)
	}
}

func TestRun_CleanRemovesGeneratedOutputs(t *testing.T) {
	t.Parallel()

	r, buf := newTestRunner(t, config.Config{NCPU: 1, Clean: true}, map[string]string{
		"kundur.hcl":      testutil.KundurTwoBus,
		"kundur_out.txt":  "report",
		"kundur_prof.txt": "profile",
		"kundur_out.hcl":  "dump",
	})

	require.NoError(t, r.Run(context.Background()))
	require.Contains(t, buf.String(), "Removed.")

	fs := r.fs
	for _, gone := range []string{"kundur_out.txt", "kundur_prof.txt", "kundur_out.hcl"} {
		exists, err := afero.Exists(fs, gone)
		require.NoError(t, err)
		require.False(t, exists, gone)
	}
	exists, err := afero.Exists(fs, "kundur.hcl")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestResolvePaths(t *testing.T) {
	t.Parallel()

	var buf testutil.SafeBuffer
	ctx := ctxlog.WithLogger(context.Background(), testutil.Logger(&buf))
	fs := testutil.Fs(t, map[string]string{
		"cases/kundur.hcl": "x",
		"cases/ieee14.hcl": "x",
		"cases/notes.txt":  "x",
		"other.hcl":        "x",
	})

	// Literal path, glob, de-duplication and a missing pattern together.
	got := ResolvePaths(ctx, fs, []string{
		"other.hcl",
		"cases/*.hcl",
		"cases/kundur.hcl",
		"ghost.hcl",
	}, "")
	require.Equal(t, []string{"other.hcl", "cases/ieee14.hcl", "cases/kundur.hcl"}, got)
	require.Contains(t, buf.String(), "Case file does not exist.")
}

func TestResolvePaths_InputPathPrefix(t *testing.T) {
	t.Parallel()

	var buf testutil.SafeBuffer
	ctx := ctxlog.WithLogger(context.Background(), testutil.Logger(&buf))
	fs := testutil.Fs(t, map[string]string{"bench/kundur.hcl": "x"})

	got := ResolvePaths(ctx, fs, []string{"kundur.hcl"}, "bench")
	require.Equal(t, []string{"bench/kundur.hcl"}, got)
}
