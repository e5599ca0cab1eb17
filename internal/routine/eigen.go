package routine

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/willjschmitt/andes/internal/ctxlog"
	"github.com/willjschmitt/andes/internal/device"
)

// EigResult reports the small-signal modes of the machine system linearized
// around the power-flow operating point.
type EigResult struct {
	Eigenvalues []complex128
	MaxRealPart float64
	Stable      bool
}

// Eigen linearizes the classical swing equations at the power-flow solution
// and computes the eigenvalues of the state matrix. States are (delta, omega)
// per machine; with terminal voltages held constant the state matrix is
// block diagonal.
func Eigen(ctx context.Context, reg *device.Registry, pf *PFResult) (*EigResult, error) {
	logger := ctxlog.FromContext(ctx)

	machines, err := initMachines(reg, pf)
	if err != nil {
		return nil, err
	}

	n := 2 * len(machines)
	a := mat.NewDense(n, n, nil)
	for k, mc := range machines {
		// Synchronizing coefficient dPe/ddelta at the initial angle.
		ks := mc.e * mc.vt * math.Cos(mc.delta0-mc.theta) / mc.xdp
		r := 2 * k
		a.Set(r, r+1, omegaBase)
		a.Set(r+1, r, -2*ks/mc.m2)
		a.Set(r+1, r+1, -2*mc.d/mc.m2)
	}

	var eig mat.Eigen
	if ok := eig.Factorize(a, mat.EigenNone); !ok {
		logger.Warn("Eigen decomposition failed to converge.")
		return &EigResult{}, nil
	}

	res := &EigResult{
		Eigenvalues: eig.Values(nil),
		MaxRealPart: math.Inf(-1),
	}
	for _, ev := range res.Eigenvalues {
		res.MaxRealPart = math.Max(res.MaxRealPart, real(ev))
	}
	// The rigid-body angle mode sits at the origin; anything further right
	// is genuine instability.
	res.Stable = res.MaxRealPart < 1e-9
	logger.Info("Eigenvalue analysis finished.",
		"modes", len(res.Eigenvalues), "max_real", res.MaxRealPart, "stable", res.Stable)
	return res, nil
}
