package dlapack

import (
	"math"

	"github.com/pkg/errors"

	"github.com/gomlx/distla/dblas"
	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/types/scalars"
)

const (
	defaultTwoNormTol    = 1e-6
	defaultTwoNormMaxIts = 1000
)

// TwoNormEstimate estimates the spectral norm of A by power iteration on
// AᴴA from a Gaussian starting vector. It stops when two successive
// estimates agree to within tol scaled by the larger matrix extent, and
// returns an error carrying the last estimate when maxIts iterations were
// not enough. Non-positive tol or maxIts select defaults.
func TwoNormEstimate[T scalars.Scalar](a *distmat.DistMatrix[T], tol float64, maxIts int) (float64, error) {
	if tol <= 0 {
		tol = defaultTwoNormTol
	}
	if maxIts <= 0 {
		maxIts = defaultTwoNormMaxIts
	}
	g := a.Grid()
	m, n := a.Height(), a.Width()
	if m == 0 || n == 0 {
		return 0, nil
	}
	scale := tol * float64(max(m, n))

	twoD := distmat.Dist{Row: distmat.MC, Col: distmat.MR}
	x := distmat.NewOfSize[T](g, twoD, n, 1)
	x.SetToRandom(0x7e57ed2)
	y := distmat.NewOfSize[T](g, twoD, m, 1)

	var est float64
	for it := 0; it < maxIts; it++ {
		nrm := dblas.Nrm2(x)
		if nrm == 0 {
			return 0, nil
		}
		dblas.Scal(scalars.FromFloat[T](1/nrm), x)
		dblas.Gemv(distmat.Normal, one[T](), a, x, scalars.FromFloat[T](0), y)
		dblas.Gemv(distmat.Adjoint, one[T](), a, y, scalars.FromFloat[T](0), x)
		last := est
		est = dblas.Nrm2(y)
		if it > 0 && math.Abs(est-last) <= scale {
			return est, nil
		}
	}
	return est, errors.Errorf("dlapack.TwoNormEstimate: no convergence after %d iterations, last estimate %g", maxIts, est)
}
