package routine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/willjschmitt/andes/internal/device"
	"github.com/willjschmitt/andes/internal/testutil"
)

func solvedCase(t *testing.T, src string) (*device.Registry, *PFResult) {
	t.Helper()
	reg := loadCase(t, src)
	pf, err := PowerFlow(context.Background(), reg, DefaultPFOptions())
	require.NoError(t, err)
	require.True(t, pf.Converged)
	return reg, pf
}

func TestTimeDomain_EquilibriumStaysFlat(t *testing.T) {
	t.Parallel()

	reg, pf := solvedCase(t, testutil.TwoBusWithGen)
	opts := TDOptions{TF: 1, Step: 0.05, Tol: 1e-10, MaxIter: 15}
	res, err := TimeDomain(context.Background(), reg, pf, opts)
	require.NoError(t, err)

	require.True(t, res.Completed)
	require.Equal(t, []string{"g1"}, res.GenIdx)
	require.Len(t, res.T, 21)
	require.Equal(t, 0.0, res.T[0])
	require.InDelta(t, 1.0, res.T[len(res.T)-1], 1e-9)

	// The machine initializes at its equilibrium: no disturbance, no swing.
	delta0 := res.Delta[0][0]
	for i := range res.T {
		require.InDelta(t, delta0, res.Delta[i][0], 1e-6)
		require.InDelta(t, 1.0, res.Omega[i][0], 1e-6)
	}
}

func TestTimeDomain_NoMachines(t *testing.T) {
	t.Parallel()

	reg, pf := solvedCase(t, testutil.KundurTwoBus)
	_, err := TimeDomain(context.Background(), reg, pf, DefaultTDOptions())
	require.ErrorContains(t, err, "no GENCLS machines")
}

func TestEigen_DampedMachineIsStable(t *testing.T) {
	t.Parallel()

	reg, pf := solvedCase(t, testutil.TwoBusWithGen)
	res, err := Eigen(context.Background(), reg, pf)
	require.NoError(t, err)

	// Two states per machine, damped swing mode in the left half plane.
	require.Len(t, res.Eigenvalues, 2)
	require.True(t, res.Stable)
	require.Less(t, res.MaxRealPart, 0.0)
	for _, ev := range res.Eigenvalues {
		require.Less(t, real(ev), 0.0)
	}
}

func TestEigen_NoMachines(t *testing.T) {
	t.Parallel()

	reg, pf := solvedCase(t, testutil.KundurTwoBus)
	_, err := Eigen(context.Background(), reg, pf)
	require.ErrorContains(t, err, "no GENCLS machines")
}
