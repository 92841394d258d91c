// Package dlapack implements blocked matrix factorizations and driver
// routines on 2D-cyclic distributed matrices, on top of the dblas panel
// primitives and the local kernels.
//
// Like dblas, every routine is collective over the grid. Routines return
// an error for data-dependent failures (an indefinite matrix, a
// non-converging iteration); structural misuse panics.
package dlapack

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/distla/dblas"
	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/kernels"
	"github.com/gomlx/distla/types/scalars"
)

// Chol overwrites the uplo triangle of the Hermitian positive definite A
// with its Cholesky factor, A = L*Lᴴ or A = Uᴴ*U. The other triangle is
// left untouched.
//
// Each sweep step factors a replicated diagonal block locally, solves the
// adjacent panel against it through a cyclic reshaping, and folds the
// panel's outer product into the trailing triangle with a distributed
// rank-k update.
func Chol[T scalars.Scalar](uplo distmat.Uplo, a *distmat.DistMatrix[T], opts dblas.Options) error {
	if a.Height() != a.Width() {
		exceptions.Panicf("dlapack.Chol: matrix is %dx%d, not square", a.Height(), a.Width())
	}
	g := a.Grid()
	n := a.Height()
	var firstErr error
	distmat.Sweep(n, opts.PanelWidth(), func(k, nb int) {
		if firstErr != nil {
			return
		}
		av := distmat.RepartitionDiag(a, k, nb)

		a11 := distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.Star})
		a11.RedistributeFrom(&av.A11)
		if err := kernels.Chol(uplo, nb, a11.LocalData(), a11.LDim()); err != nil {
			firstErr = errors.Wrapf(err, "dlapack.Chol: leading minor of order %d is not positive definite", k+nb)
			return
		}
		av.A11.RedistributeFrom(a11)

		if uplo == distmat.Lower {
			if av.A21.Height() == 0 {
				return
			}
			// A21 := A21 * L11^-H, reshaped so the small solve is local.
			p := distmat.New[T](g, distmat.Dist{Row: distmat.VC, Col: distmat.Star})
			p.RedistributeFrom(&av.A21)
			kernels.Trsm(distmat.Right, distmat.Lower, distmat.Adjoint, distmat.NonUnit,
				p.LocalHeight(), nb, one[T](), a11.LockedLocalData(), a11.LDim(),
				p.LocalData(), p.LDim())
			av.A21.RedistributeFrom(p)
			dblas.Herk(distmat.Lower, distmat.Normal, -1, &av.A21, 1, &av.A22, opts)
			return
		}
		if av.A12.Width() == 0 {
			return
		}
		// A12 := U11^-H * A12.
		p := distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.VR})
		p.RedistributeFrom(&av.A12)
		kernels.Trsm(distmat.Left, distmat.Upper, distmat.Adjoint, distmat.NonUnit,
			nb, p.LocalWidth(), one[T](), a11.LockedLocalData(), a11.LDim(),
			p.LocalData(), p.LDim())
		av.A12.RedistributeFrom(p)
		dblas.Herk(distmat.Upper, distmat.Adjoint, -1, &av.A12, 1, &av.A22, opts)
	})
	return firstErr
}

func one[T scalars.Scalar]() T { return scalars.FromFloat[T](1) }
