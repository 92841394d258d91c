package dblas

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/kernels"
	"github.com/gomlx/distla/types/scalars"
)

// Trmm computes B := alpha*op(A)*B (Left) or alpha*B*op(A) (Right) in
// place on B, with A triangular in the uplo triangle and B 2D-cyclic.
//
// The diagonal-block contribution is a local triangular multiply against a
// replicated A11, like Trsm. The cross term couples the panel of B with a
// band of B that a triangular multiply reads but does not write: every
// rank forms its partial products against a one-axis shadow of the
// off-diagonal panel of A, and a reduce-scatter folds the partials onto
// the owners of the panel of B. The sweep runs toward the band still
// holding original values.
func Trmm[T scalars.Scalar](side distmat.Side, uplo distmat.Uplo, trans distmat.Orientation,
	diag distmat.Diag, alpha T, a, b *distmat.DistMatrix[T], opts Options) {
	checkSameGrid("Trmm", a, b)
	if a.Height() != a.Width() {
		exceptions.Panicf("dblas.Trmm: triangular operand is %dx%d, not square", a.Height(), a.Width())
	}
	ext := b.Height()
	if side == distmat.Right {
		ext = b.Width()
	}
	if a.Height() != ext {
		exceptions.Panicf("dblas.Trmm: %s-side operand is %dx%d against a %dx%d B",
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
		trmmLeft(uplo, trans, diag, a, b, bs)
	} else {
		trmmRight(uplo, trans, diag, a, b, bs)
	}
}

func trmmLeft[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation,
	diag distmat.Diag, a, b *distmat.DistMatrix[T], bs int) {
	g := a.Grid()
	m := b.Height()
	normal := trans == distmat.Normal

	step := func(k, nb int) {
		av := distmat.LockedRepartitionDiag(a, k, nb)
		bv := distmat.RepartitionRows(b, k, nb)

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

		// Partial cross products are formed before B1 is overwritten,
		// folded in afterwards.
		var d1 *distmat.DistMatrix[T]
		if rest.Height() != 0 {
			var f *distmat.DistMatrix[T]
			if normal {
				f = distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.MC})
				f.SetColAlign(rest.RowAlign())
			} else {
				f = distmat.New[T](g, distmat.Dist{Row: distmat.MC, Col: distmat.Star})
				f.SetRowAlign(rest.RowAlign())
			}
			f.RedistributeFrom(panel)
			d1 = distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.MR})
			d1.SetColAlign(bv.A1.ColAlign())
			d1.Resize(nb, b.Width())
			kernels.Gemm(trans, distmat.Normal, nb, d1.LocalWidth(), rest.LocalHeight(),
				one[T](), f.LockedLocalData(), f.LDim(), rest.LockedLocalData(), rest.LDim(),
				scalars.FromFloat[T](0), d1.LocalData(), d1.LDim())
		}

		a11 := distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.Star})
		a11.RedistributeFrom(&av.A11)
		x1 := distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.VR})
		x1.RedistributeFrom(&bv.A1)
		kernels.Trmm(distmat.Left, uplo, trans, diag, nb, x1.LocalWidth(), one[T](),
			a11.LockedLocalData(), a11.LDim(), x1.LocalData(), x1.LDim())
		bv.A1.RedistributeFrom(x1)

		if d1 != nil {
			bv.A1.SumScatterUpdate(one[T](), d1)
		}
	}

	if (uplo == distmat.Lower) != normal {
		distmat.Sweep(m, bs, step)
	} else {
		distmat.SweepReverse(m, bs, step)
	}
}

func trmmRight[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation,
	diag distmat.Diag, a, b *distmat.DistMatrix[T], bs int) {
	g := a.Grid()
	n := b.Width()
	normal := trans == distmat.Normal

	step := func(k, nb int) {
		av := distmat.LockedRepartitionDiag(a, k, nb)
		bv := distmat.RepartitionCols(b, k, nb)

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

		var d1 *distmat.DistMatrix[T]
		if rest.Width() != 0 {
			var f *distmat.DistMatrix[T]
			if normal {
				f = distmat.New[T](g, distmat.Dist{Row: distmat.MR, Col: distmat.Star})
				f.SetRowAlign(rest.ColAlign())
			} else {
				f = distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.MR})
				f.SetColAlign(rest.ColAlign())
			}
			f.RedistributeFrom(panel)
			d1 = distmat.New[T](g, distmat.Dist{Row: distmat.MC, Col: distmat.Star})
			d1.SetRowAlign(bv.A1.RowAlign())
			d1.Resize(b.Height(), nb)
			kernels.Gemm(distmat.Normal, trans, d1.LocalHeight(), nb, rest.LocalWidth(),
				one[T](), rest.LockedLocalData(), rest.LDim(), f.LockedLocalData(), f.LDim(),
				scalars.FromFloat[T](0), d1.LocalData(), d1.LDim())
		}

		a11 := distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.Star})
		a11.RedistributeFrom(&av.A11)
		x1 := distmat.New[T](g, distmat.Dist{Row: distmat.VC, Col: distmat.Star})
		x1.RedistributeFrom(&bv.A1)
		kernels.Trmm(distmat.Right, uplo, trans, diag, x1.LocalHeight(), nb, one[T](),
			a11.LockedLocalData(), a11.LDim(), x1.LocalData(), x1.LDim())
		bv.A1.RedistributeFrom(x1)

		if d1 != nil {
			bv.A1.SumScatterUpdate(one[T](), d1)
		}
	}

	if (uplo == distmat.Lower) == normal {
		distmat.Sweep(n, bs, step)
	} else {
		distmat.SweepReverse(n, bs, step)
	}
}
