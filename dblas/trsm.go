package dblas

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/kernels"
	"github.com/gomlx/distla/types/scalars"
)

// Trsm solves op(A)*X = alpha*B (Left) or X*op(A) = alpha*B (Right) in
// place on B, with A triangular in the uplo triangle and B 2D-cyclic.
//
// Each panel step replicates the diagonal block everywhere and solves it
// against a cyclic reshaping of the corresponding band of B, so the small
// triangular solve itself is local; the remaining band of B then absorbs a
// rank-nb local matrix product against a one-axis shadow of the
// off-diagonal panel of A. The sweep direction follows the substitution
// order of op(A).
func Trsm[T scalars.Scalar](side distmat.Side, uplo distmat.Uplo, trans distmat.Orientation,
	diag distmat.Diag, alpha T, a, b *distmat.DistMatrix[T], opts Options) {
	checkSameGrid("Trsm", a, b)
	if a.Height() != a.Width() {
		exceptions.Panicf("dblas.Trsm: triangular operand is %dx%d, not square", a.Height(), a.Width())
	}
	ext := b.Height()
	if side == distmat.Right {
		ext = b.Width()
	}
	if a.Height() != ext {
		exceptions.Panicf("dblas.Trsm: %s-side operand is %dx%d against a %dx%d B",
			side, a.Height(), a.Width(), b.Height(), b.Width())
	}
	if alpha != one[T]() {
		Scal(alpha, b)
	}
	if b.Height() == 0 || b.Width() == 0 || a.Height() == 0 {
		return
	}
	bs := opts.PanelWidth()
	if side == distmat.Left {
		trsmLeft(uplo, trans, diag, a, b, bs)
	} else {
		trsmRight(uplo, trans, diag, a, b, bs)
	}
}

func trsmLeft[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation,
	diag distmat.Diag, a, b *distmat.DistMatrix[T], bs int) {
	g := a.Grid()
	m := b.Height()
	normal := trans == distmat.Normal

	step := func(k, nb int) {
		av := distmat.LockedRepartitionDiag(a, k, nb)
		bv := distmat.RepartitionRows(b, k, nb)

		a11 := distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.Star})
		a11.RedistributeFrom(&av.A11)
		x1 := distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.VR})
		x1.RedistributeFrom(&bv.A1)
		kernels.Trsm(distmat.Left, uplo, trans, diag, nb, x1.LocalWidth(), one[T](),
			a11.LockedLocalData(), a11.LDim(), x1.LocalData(), x1.LDim())
		bv.A1.RedistributeFrom(x1)

		// The untouched band of B absorbs the freshly solved X1
		// through the off-diagonal panel of A.
		var rest *distmat.DistMatrix[T]
		var panel *distmat.DistMatrix[T]
		switch {
		case uplo == distmat.Lower && normal:
			rest, panel = &bv.A2, &av.A21
		case uplo == distmat.Upper && !normal:
			rest, panel = &bv.A2, &av.A12
		case uplo == distmat.Lower:
			rest, panel = &bv.A0, &av.A10
		default:
			rest, panel = &bv.A0, &av.A01
		}
		if rest.Height() == 0 {
			return
		}
		var f *distmat.DistMatrix[T]
		if normal {
			f = distmat.New[T](g, distmat.Dist{Row: distmat.MC, Col: distmat.Star})
			f.SetRowAlign(rest.RowAlign())
		} else {
			f = distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.MC})
			f.SetColAlign(rest.RowAlign())
		}
		f.RedistributeFrom(panel)
		x1r := distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.MR})
		x1r.SetColAlign(rest.ColAlign())
		x1r.RedistributeFrom(x1)
		kernels.Gemm(trans, distmat.Normal, rest.LocalHeight(), rest.LocalWidth(), nb,
			-one[T](), f.LockedLocalData(), f.LDim(), x1r.LockedLocalData(), x1r.LDim(),
			one[T](), rest.LocalData(), rest.LDim())
	}

	if (uplo == distmat.Lower) == normal {
		distmat.Sweep(m, bs, step)
	} else {
		distmat.SweepReverse(m, bs, step)
	}
}

func trsmRight[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation,
	diag distmat.Diag, a, b *distmat.DistMatrix[T], bs int) {
	g := a.Grid()
	n := b.Width()
	normal := trans == distmat.Normal

	step := func(k, nb int) {
		av := distmat.LockedRepartitionDiag(a, k, nb)
		bv := distmat.RepartitionCols(b, k, nb)

		a11 := distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.Star})
		a11.RedistributeFrom(&av.A11)
		x1 := distmat.New[T](g, distmat.Dist{Row: distmat.VC, Col: distmat.Star})
		x1.RedistributeFrom(&bv.A1)
		kernels.Trsm(distmat.Right, uplo, trans, diag, x1.LocalHeight(), nb, one[T](),
			a11.LockedLocalData(), a11.LDim(), x1.LocalData(), x1.LDim())
		bv.A1.RedistributeFrom(x1)

		var rest *distmat.DistMatrix[T]
		var panel *distmat.DistMatrix[T]
		switch {
		case uplo == distmat.Lower && normal:
			rest, panel = &bv.A0, &av.A10
		case uplo == distmat.Upper && !normal:
			rest, panel = &bv.A0, &av.A01
		case uplo == distmat.Lower:
			rest, panel = &bv.A2, &av.A21
		default:
			rest, panel = &bv.A2, &av.A12
		}
		if rest.Width() == 0 {
			return
		}
		var f *distmat.DistMatrix[T]
		if normal {
			f = distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.MR})
			f.SetColAlign(rest.ColAlign())
		} else {
			f = distmat.New[T](g, distmat.Dist{Row: distmat.MR, Col: distmat.Star})
			f.SetRowAlign(rest.ColAlign())
		}
		f.RedistributeFrom(panel)
		x1r := distmat.New[T](g, distmat.Dist{Row: distmat.MC, Col: distmat.Star})
		x1r.SetRowAlign(rest.RowAlign())
		x1r.RedistributeFrom(x1)
		kernels.Gemm(distmat.Normal, trans, rest.LocalHeight(), rest.LocalWidth(), nb,
			-one[T](), x1r.LockedLocalData(), x1r.LDim(), f.LockedLocalData(), f.LDim(),
			one[T](), rest.LocalData(), rest.LDim())
	}

	if (uplo == distmat.Lower) == normal {
		distmat.SweepReverse(n, bs, step)
	} else {
		distmat.Sweep(n, bs, step)
	}
}
