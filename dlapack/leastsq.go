package dlapack

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/distla/dblas"
	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/types/scalars"
)

// LeastSquares solves the overdetermined problem min ‖A·X − B‖ column by
// column through the semi-normal equations: the Cholesky factor of AᴴA
// and two triangular solves against AᴴB. A is m×n with m ≥ n and full
// column rank; B carries one right-hand side per column and X is resized
// to n×nrhs. Rank deficiency surfaces as the Cholesky failure, wrapped.
func LeastSquares[T scalars.Scalar](a, b, x *distmat.DistMatrix[T], opts dblas.Options) error {
	g := a.Grid()
	m, n := a.Height(), a.Width()
	if m < n {
		exceptions.Panicf("dlapack.LeastSquares: %dx%d system is underdetermined", m, n)
	}
	if b.Height() != m {
		exceptions.Panicf("dlapack.LeastSquares: right-hand sides have %d rows, want %d", b.Height(), m)
	}
	nrhs := b.Width()

	twoD := distmat.Dist{Row: distmat.MC, Col: distmat.MR}
	c := distmat.NewOfSize[T](g, twoD, n, n)
	dblas.Herk(distmat.Lower, distmat.Adjoint, 1, a, 0, c, opts)
	if err := Chol(distmat.Lower, c, opts); err != nil {
		return errors.Wrap(err, "dlapack.LeastSquares: normal matrix is not positive definite (A is rank deficient?)")
	}

	x.Resize(n, nrhs)
	zero := scalars.FromFloat[T](0)
	for j := 0; j < nrhs; j++ {
		var rhs, sol distmat.DistMatrix[T]
		rhs.LockedViewOf(b, 0, j, m, 1)
		sol.ViewOf(x, 0, j, n, 1)
		dblas.Gemv(distmat.Adjoint, one[T](), a, &rhs, zero, &sol)
	}
	dblas.Trsm(distmat.Left, distmat.Lower, distmat.Normal, distmat.NonUnit, one[T](), c, x, opts)
	dblas.Trsm(distmat.Left, distmat.Lower, distmat.Adjoint, distmat.NonUnit, one[T](), c, x, opts)
	return nil
}
