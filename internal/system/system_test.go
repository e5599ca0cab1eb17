package system

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/willjschmitt/andes/internal/config"
	"github.com/willjschmitt/andes/internal/service"
	"github.com/willjschmitt/andes/internal/testutil"
)

func newTestSystem(t *testing.T, cfg config.Config, files map[string]string, casePath string) (*System, afero.Fs) {
	t.Helper()
	validated, err := config.NewConfig(cfg)
	require.NoError(t, err)

	fs := testutil.Fs(t, files)
	var buf testutil.SafeBuffer
	s := New(validated, casePath,
		WithFs(fs),
		WithLogger(testutil.Logger(&buf)),
		WithCacheDir(".andes"),
	)
	return s, fs
}

func TestRun_PowerFlowEndToEnd(t *testing.T) {
	t.Parallel()

	s, fs := newTestSystem(t, config.Config{NCPU: 1},
		map[string]string{"kundur.hcl": testutil.KundurTwoBus}, "kundur.hcl")

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, Done, s.State())

	pf := s.PowerFlowResult()
	require.NotNil(t, pf)
	require.True(t, pf.Converged)

	// The evaluator cache and the report landed on the unit's filesystem.
	for _, path := range []string{".andes", "kundur_out.txt"} {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		require.True(t, exists, path)
	}
}

func TestRun_TimeDomainRoutine(t *testing.T) {
	t.Parallel()

	s, _ := newTestSystem(t, config.Config{NCPU: 1, Routine: config.RoutineTimeDomain},
		map[string]string{"case.hcl": testutil.TwoBusWithGen}, "case.hcl")

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, Done, s.State())
	require.NotNil(t, s.TimeDomainResult())
	require.True(t, s.TimeDomainResult().Completed)
	require.Nil(t, s.EigenResult())
}

func TestRun_EigenRoutine(t *testing.T) {
	t.Parallel()

	s, _ := newTestSystem(t, config.Config{NCPU: 1, Routine: config.RoutineEigen},
		map[string]string{"case.hcl": testutil.TwoBusWithGen}, "case.hcl")

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, Done, s.State())
	require.NotNil(t, s.EigenResult())
	require.True(t, s.EigenResult().Stable)
	require.Nil(t, s.TimeDomainResult())
}

func TestRun_ExitEarlyStopsBeforeSolve(t *testing.T) {
	t.Parallel()

	s, fs := newTestSystem(t, config.Config{NCPU: 1, ExitNow: true},
		map[string]string{"kundur.hcl": testutil.KundurTwoBus}, "kundur.hcl")

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, ExitEarly, s.State())
	require.Nil(t, s.PowerFlowResult())

	exists, err := afero.Exists(fs, "kundur_out.txt")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRun_UnparsableCaseFails(t *testing.T) {
	t.Parallel()

	s, _ := newTestSystem(t, config.Config{NCPU: 1},
		map[string]string{"broken.hcl": `device "Bus" {`}, "broken.hcl")

	require.ErrorIs(t, s.Run(context.Background()), ErrParse)
	require.Equal(t, Failed, s.State())
}

func TestRun_DumpConvertsCase(t *testing.T) {
	t.Parallel()

	s, fs := newTestSystem(t, config.Config{NCPU: 1, ExitNow: true, DumpPath: "converted.hcl"},
		map[string]string{"kundur.json": `{
		  "Bus":   [{"idx": "b1"}, {"idx": "b2"}],
		  "Line":  [{"idx": "l1", "bus1": "b1", "bus2": "b2", "x": 0.2}],
		  "Slack": [{"idx": "sl1", "bus": "b1", "v": 1.03}],
		  "PQ":    [{"idx": "pq1", "bus": "b2", "p": 0.4}]
		}`}, "kundur.json")

	require.NoError(t, s.Run(context.Background()))

	raw, err := afero.ReadFile(fs, "converted.hcl")
	require.NoError(t, err)
	require.Contains(t, string(raw), `device "Bus" "b1"`)
	require.Contains(t, string(raw), `device "Slack" "sl1"`)
}

func TestSetup_IsIdempotentForConstants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := newTestSystem(t, config.Config{NCPU: 1},
		map[string]string{"case.hcl": testutil.TwoBusWithGen}, "case.hcl")

	require.NoError(t, s.Prepare(ctx, false))
	require.True(t, s.Parse(ctx))
	require.NoError(t, s.Setup(ctx))

	gencls, _ := s.Registry().Model("GENCLS")
	m2, err := gencls.Values("M2")
	require.NoError(t, err)
	require.Equal(t, []float64{16}, m2)

	// A second setup pass leaves resolved constants untouched.
	require.NoError(t, s.Setup(ctx))
	again, err := gencls.Values("M2")
	require.NoError(t, err)
	require.Equal(t, m2, again)
	require.Equal(t, Setup, s.State())
}

func TestSetup_LinksExternalServices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := newTestSystem(t, config.Config{NCPU: 1},
		map[string]string{"case.hcl": testutil.TwoBusWithGen}, "case.hcl")

	require.NoError(t, s.Prepare(ctx, false))
	require.True(t, s.Parse(ctx))
	require.NoError(t, s.Setup(ctx))

	gencls, _ := s.Registry().Model("GENCLS")
	p0, err := gencls.Values("p0")
	require.NoError(t, err)
	require.Equal(t, []float64{0.2}, p0) // pv1's dispatch, gathered via StaticGen

	vb0, err := gencls.Values("vb0")
	require.NoError(t, err)
	require.Equal(t, []float64{1}, vb0) // b3's pre-solve voltage guess
}

func TestSetup_EmptyReferencingModelLinksCleanly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// No GENCLS devices at all: linking gathers zero rows and succeeds.
	s, _ := newTestSystem(t, config.Config{NCPU: 1},
		map[string]string{"case.hcl": testutil.KundurTwoBus}, "case.hcl")

	require.NoError(t, s.Prepare(ctx, false))
	require.True(t, s.Parse(ctx))
	require.NoError(t, s.Setup(ctx))
	require.Equal(t, Setup, s.State())
}

func TestSetup_DanglingReferenceFailsUnit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	const dangling = testutil.KundurTwoBus + `
device "GENCLS" "g1" {
  bus = "b1"
  gen = "missing_gen"
}
`
	s, _ := newTestSystem(t, config.Config{NCPU: 1},
		map[string]string{"case.hcl": dangling}, "case.hcl")

	require.NoError(t, s.Prepare(ctx, false))
	require.True(t, s.Parse(ctx))

	err := s.Setup(ctx)
	require.ErrorIs(t, err, service.ErrLink)
	require.Equal(t, Failed, s.State())
}

func TestRoutines_RequireLifecycleOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := newTestSystem(t, config.Config{NCPU: 1},
		map[string]string{"case.hcl": testutil.KundurTwoBus}, "case.hcl")

	require.ErrorIs(t, s.Setup(ctx), ErrState)
	require.ErrorIs(t, s.RunPowerFlow(ctx), ErrState)
	require.ErrorIs(t, s.RunTimeDomain(ctx), ErrState)
	require.ErrorIs(t, s.RunEigen(ctx), ErrState)
}

func TestFiles_DerivedPaths(t *testing.T) {
	t.Parallel()

	f := NewFiles("cases/kundur.hcl", "", false)
	require.Equal(t, "cases/kundur_out.txt", f.Out)
	require.Equal(t, "cases/kundur_prof.txt", f.Prof)
	require.Empty(t, f.Dump)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "uninitialized", Uninitialized.String())
	require.Equal(t, "done", Done.String())
	require.Equal(t, "failed", Failed.String())
	require.Equal(t, "invalid", State(99).String())
}
