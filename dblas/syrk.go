package dblas

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/types/scalars"
)

// The rank-k family updates only the uplo triangle of a square 2D-cyclic
// C. Each panel step shadows the current slab of the factor twice, along
// the row axis of C and along its column axis, so that every rank can form
// its triangle entries from two purely local blocks; no partial sums cross
// the network beyond the two shadow redistributions.

// factorGetters shadows the factor slab x1 into accessors indexed by
// (local row of C, s) and (local col of C, s); for trans != Normal the
// slab is k×n and the shadows transpose the indexing.
func factorGetters[T scalars.Scalar](c, x1 *distmat.DistMatrix[T],
	trans distmat.Orientation) (r, s func(int, int) T) {
	g := c.Grid()
	if trans == distmat.Normal {
		rf := distmat.New[T](g, distmat.Dist{Row: distmat.MC, Col: distmat.Star})
		rf.SetRowAlign(c.RowAlign())
		rf.RedistributeFrom(x1)
		sf := distmat.New[T](g, distmat.Dist{Row: distmat.MR, Col: distmat.Star})
		sf.SetRowAlign(c.ColAlign())
		sf.RedistributeFrom(x1)
		return rf.LocalGet, sf.LocalGet
	}
	rf := distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.MC})
	rf.SetColAlign(c.RowAlign())
	rf.RedistributeFrom(x1)
	sf := distmat.New[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.MR})
	sf.SetColAlign(c.ColAlign())
	sf.RedistributeFrom(x1)
	return func(li, t int) T { return rf.LocalGet(t, li) },
		func(lj, t int) T { return sf.LocalGet(t, lj) }
}

// triUpdate adds alpha * r·s (summed over nb terms) to the uplo triangle
// of C.
func triUpdate[T scalars.Scalar](c *distmat.DistMatrix[T], uplo distmat.Uplo,
	nb int, alpha T, r, s func(int, int) T) {
	lh, lw := c.LocalHeight(), c.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		gj := c.GlobalCol(lj)
		for li := 0; li < lh; li++ {
			gi := c.GlobalRow(li)
			if (uplo == distmat.Lower && gi < gj) || (uplo == distmat.Upper && gi > gj) {
				continue
			}
			var acc T
			for t := 0; t < nb; t++ {
				acc += r(li, t) * s(lj, t)
			}
			c.LocalSet(li, lj, c.LocalGet(li, lj)+alpha*acc)
		}
	}
}

func conjGetter[T scalars.Scalar](f func(int, int) T) func(int, int) T {
	if !scalars.IsComplex[T]() {
		return f
	}
	return func(i, t int) T { return scalars.Conj(f(i, t)) }
}

func scaleTriangle[T scalars.Scalar](beta T, c *distmat.DistMatrix[T], uplo distmat.Uplo) {
	if beta == one[T]() {
		return
	}
	lh, lw := c.LocalHeight(), c.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		gj := c.GlobalCol(lj)
		for li := 0; li < lh; li++ {
			gi := c.GlobalRow(li)
			if (uplo == distmat.Lower && gi < gj) || (uplo == distmat.Upper && gi > gj) {
				continue
			}
			c.LocalSet(li, lj, beta*c.LocalGet(li, lj))
		}
	}
}

func checkRankK[T scalars.Scalar](op string, trans distmat.Orientation,
	c *distmat.DistMatrix[T], factors ...*distmat.DistMatrix[T]) (n, kExt int) {
	n = c.Height()
	if c.Width() != n {
		exceptions.Panicf("dblas.%s: C is %dx%d, not square", op, c.Height(), c.Width())
	}
	for _, f := range factors {
		fn, fk := f.Height(), f.Width()
		if trans != distmat.Normal {
			fn, fk = fk, fn
		}
		if fn != n {
			exceptions.Panicf("dblas.%s: factor is %dx%d against a %dx%d C with trans %s",
				op, f.Height(), f.Width(), n, n, trans)
		}
		kExt = fk
	}
	return n, kExt
}

// slab views the nb-wide band [k, k+nb) of the factor's contraction axis.
func slab[T scalars.Scalar](f *distmat.DistMatrix[T], trans distmat.Orientation,
	k, nb int) *distmat.DistMatrix[T] {
	if trans == distmat.Normal {
		return &distmat.LockedRepartitionCols(f, k, nb).A1
	}
	return &distmat.LockedRepartitionRows(f, k, nb).A1
}

// Syrk computes the uplo triangle of C := alpha*A*Aᵀ + beta*C (Normal) or
// C := alpha*Aᵀ*A + beta*C, blocked over the contraction dimension.
func Syrk[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation,
	alpha T, a *distmat.DistMatrix[T], beta T, c *distmat.DistMatrix[T], opts Options) {
	checkSameGrid("Syrk", a, c)
	_, kExt := checkRankK("Syrk", trans, c, a)
	scaleTriangle(beta, c, uplo)
	distmat.Sweep(kExt, opts.PanelWidth(), func(k, nb int) {
		r, s := factorGetters(c, slab(a, trans, k, nb), trans)
		triUpdate(c, uplo, nb, alpha, r, s)
	})
}

// Herk computes the uplo triangle of C := alpha*A*Aᴴ + beta*C (Normal) or
// C := alpha*Aᴴ*A + beta*C; alpha and beta are real so C stays Hermitian.
func Herk[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation,
	alpha float64, a *distmat.DistMatrix[T], beta float64, c *distmat.DistMatrix[T], opts Options) {
	checkSameGrid("Herk", a, c)
	_, kExt := checkRankK("Herk", trans, c, a)
	scaleTriangle(scalars.FromFloat[T](beta), c, uplo)
	al := scalars.FromFloat[T](alpha)
	distmat.Sweep(kExt, opts.PanelWidth(), func(k, nb int) {
		r, s := factorGetters(c, slab(a, trans, k, nb), trans)
		if trans == distmat.Normal {
			s = conjGetter(s)
		} else {
			r = conjGetter(r)
		}
		triUpdate(c, uplo, nb, al, r, s)
	})
}

// Syr2k computes the uplo triangle of C := alpha*(A*Bᵀ + B*Aᵀ) + beta*C
// (Normal) or the transposed pairing for trans == Transpose.
func Syr2k[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation,
	alpha T, a, b *distmat.DistMatrix[T], beta T, c *distmat.DistMatrix[T], opts Options) {
	checkSameGrid("Syr2k", a, b, c)
	_, kExt := checkRankK("Syr2k", trans, c, a, b)
	scaleTriangle(beta, c, uplo)
	distmat.Sweep(kExt, opts.PanelWidth(), func(k, nb int) {
		ra, sa := factorGetters(c, slab(a, trans, k, nb), trans)
		rb, sb := factorGetters(c, slab(b, trans, k, nb), trans)
		triUpdate(c, uplo, nb, alpha, ra, sb)
		triUpdate(c, uplo, nb, alpha, rb, sa)
	})
}

// Her2k computes the uplo triangle of C := alpha*A*Bᴴ + conj(alpha)*B*Aᴴ +
// beta*C (Normal) or the adjoint-ordered pairing; beta is real.
func Her2k[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation,
	alpha T, a, b *distmat.DistMatrix[T], beta float64, c *distmat.DistMatrix[T], opts Options) {
	checkSameGrid("Her2k", a, b, c)
	_, kExt := checkRankK("Her2k", trans, c, a, b)
	scaleTriangle(scalars.FromFloat[T](beta), c, uplo)
	conjAlpha := scalars.Conj(alpha)
	distmat.Sweep(kExt, opts.PanelWidth(), func(k, nb int) {
		ra, sa := factorGetters(c, slab(a, trans, k, nb), trans)
		rb, sb := factorGetters(c, slab(b, trans, k, nb), trans)
		if trans == distmat.Normal {
			triUpdate(c, uplo, nb, alpha, ra, conjGetter(sb))
			triUpdate(c, uplo, nb, conjAlpha, rb, conjGetter(sa))
		} else {
			triUpdate(c, uplo, nb, alpha, conjGetter(ra), sb)
			triUpdate(c, uplo, nb, conjAlpha, conjGetter(rb), sa)
		}
	})
}
