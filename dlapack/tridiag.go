package dlapack

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/distla/dblas"
	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/kernels"
	"github.com/gomlx/distla/types/scalars"
)

// Tridiag reduces the Hermitian (symmetric, for the real kinds) matrix
// stored in the uplo triangle of A to real tridiagonal form by unitary
// similarity. On return the diagonal and first off-diagonal of A hold the
// tridiagonal result, the rest of the triangle holds the Householder
// vectors, and t, which must use the [MD,*] scheme, is aligned with the
// off-diagonal and filled with the n-1 reflector scalars.
//
// Reflectors are generated panel by panel. Within a panel every rank keeps
// the accumulated V and W correction columns replicated, so only two
// operations touch the distribution per column: a Hermitian
// matrix-vector product against the untouched trailing matrix, and the
// write-back of the finished column. Each full panel then hits the
// trailing triangle with one distributed rank-2k update. Once the
// remaining block no longer spans a full panel it is gathered and reduced
// with the local kernel.
func Tridiag[T scalars.Scalar](uplo distmat.Uplo, a *distmat.DistMatrix[T],
	t *distmat.DistMatrix[T], opts dblas.Options) {
	if a.Height() != a.Width() {
		exceptions.Panicf("dlapack.Tridiag: matrix is %dx%d, not square", a.Height(), a.Width())
	}
	if t.Dist() != (distmat.Dist{Row: distmat.MD, Col: distmat.Star}) {
		exceptions.Panicf("dlapack.Tridiag: reflector scalars use scheme %s, want [MD,*]", t.Dist())
	}
	n := a.Height()
	taus := make([]T, max(n-1, 0))
	bs := opts.PanelWidth()

	if uplo == distmat.Lower {
		k := 0
		for n-k > bs+1 {
			panelTridiagLower(a, k, bs, taus[k:k+bs], opts)
			k += bs
		}
		lastBlockLocal(uplo, a, k, n-k, taus[k:])
		distmat.AlignWithDiag(t, a, -1)
	} else {
		m := n
		for m > bs+1 {
			panelTridiagUpper(a, m, bs, taus, opts)
			m -= bs
		}
		lastBlockLocal(uplo, a, 0, m, taus[:max(m-1, 0)])
		distmat.AlignWithDiag(t, a, 1)
	}

	t.Resize(max(n-1, 0), 1)
	t.SetFrom(func(i, j int) T { return taus[i] })
}

// lastBlockLocal reduces the remaining block at (k, k) on every rank at
// once from a replicated copy.
func lastBlockLocal[T scalars.Scalar](uplo distmat.Uplo, a *distmat.DistMatrix[T],
	k, m int, taus []T) {
	if m == 0 {
		return
	}
	var blk distmat.DistMatrix[T]
	blk.ViewOf(a, k, k, m, m)
	ss := distmat.New[T](a.Grid(), distmat.Dist{Row: distmat.Star, Col: distmat.Star})
	ss.RedistributeFrom(&blk)
	local := make([]T, max(m-1, 0))
	kernels.Tridiag(uplo, m, ss.LocalData(), ss.LDim(), local)
	blk.RedistributeFrom(ss)
	copy(taus, local)
}

func gatherColumn[T scalars.Scalar](v *distmat.DistMatrix[T]) []T {
	ss := distmat.New[T](v.Grid(), distmat.Dist{Row: distmat.Star, Col: distmat.Star})
	ss.RedistributeFrom(v)
	out := make([]T, ss.Height())
	copy(out, ss.LockedLocalData()[:ss.Height()])
	return out
}

func writeColumn[T scalars.Scalar](dst *distmat.DistMatrix[T], col []T) {
	ss := distmat.NewOfSize[T](dst.Grid(), distmat.Dist{Row: distmat.Star, Col: distmat.Star}, len(col), 1)
	ss.SetFrom(func(i, j int) T { return col[i] })
	dst.RedistributeFrom(ss)
}

// panelTridiagLower generates the reflectors for columns [k, k+nb) of a
// lower-stored reduction, updating those columns in place and leaving the
// rest of the trailing matrix to one deferred rank-2k update. Row indices
// of the replicated V and W columns are relative to the trailing block at
// (k, k).
func panelTridiagLower[T scalars.Scalar](a *distmat.DistMatrix[T], k, nb int,
	taus []T, opts dblas.Options) {
	g := a.Grid()
	n := a.Height()
	m := n - k
	V := make([][]T, nb)
	W := make([][]T, nb)

	for j := 0; j < nb; j++ {
		var colView distmat.DistMatrix[T]
		colView.ViewOf(a, k+j, k+j, m-j, 1)
		col := gatherColumn(&colView)
		// Deferred corrections from the panel's earlier reflectors.
		for t := 0; t < j; t++ {
			cw := scalars.Conj(W[t][j])
			cv := scalars.Conj(V[t][j])
			for r := j; r < m; r++ {
				col[r-j] -= V[t][r]*cw + W[t][r]*cv
			}
		}
		tau, beta := kernels.Householder(col[1], col[2:])
		col[1] = beta
		taus[j] = tau
		writeColumn(&colView, col)

		v := make([]T, m)
		v[j+1] = one[T]()
		copy(v[j+2:], col[2:])

		msub := m - j - 1
		var trail distmat.DistMatrix[T]
		trail.LockedViewOf(a, k+j+1, k+j+1, msub, msub)
		vss := distmat.NewOfSize[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.Star}, msub, 1)
		vss.SetFrom(func(i, _ int) T { return v[j+1+i] })
		yss := distmat.NewOfSize[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.Star}, msub, 1)
		dblas.Hemv(distmat.Lower, tau, &trail, vss, scalars.FromFloat[T](0), yss)

		w := make([]T, m)
		for i := 0; i < msub; i++ {
			w[j+1+i] = yss.LocalGet(i, 0)
		}
		for t := 0; t < j; t++ {
			var dw, dv T
			for r := j + 1; r < m; r++ {
				dw += scalars.Conj(W[t][r]) * v[r]
				dv += scalars.Conj(V[t][r]) * v[r]
			}
			for r := j + 1; r < m; r++ {
				w[r] -= tau * (V[t][r]*dw + W[t][r]*dv)
			}
		}
		var dot T
		for r := j + 1; r < m; r++ {
			dot += scalars.Conj(w[r]) * v[r]
		}
		half := tau * dot / scalars.FromFloat[T](2)
		for r := j + 1; r < m; r++ {
			w[r] -= half * v[r]
		}
		V[j], W[j] = v, w
	}

	mt := m - nb
	if mt == 0 {
		return
	}
	v2 := distmat.NewOfSize[T](g, distmat.Dist{Row: distmat.MC, Col: distmat.MR}, mt, nb)
	v2.SetFrom(func(i, t int) T { return V[t][i+nb] })
	w2 := distmat.NewOfSize[T](g, distmat.Dist{Row: distmat.MC, Col: distmat.MR}, mt, nb)
	w2.SetFrom(func(i, t int) T { return W[t][i+nb] })
	var trail distmat.DistMatrix[T]
	trail.ViewOf(a, k+nb, k+nb, mt, mt)
	dblas.Her2k(distmat.Lower, distmat.Normal, scalars.FromFloat[T](-1), v2, w2, 1, &trail, opts)
}

// panelTridiagUpper mirrors panelTridiagLower for the upper-stored
// reduction: it reduces the last nb columns of the leading m×m block,
// walking the columns from the end, with reflectors pointing up. V and W
// row indices coincide with global indices.
func panelTridiagUpper[T scalars.Scalar](a *distmat.DistMatrix[T], m, nb int,
	taus []T, opts dblas.Options) {
	g := a.Grid()
	V := make([][]T, nb)
	W := make([][]T, nb)

	for jj := 0; jj < nb; jj++ {
		j := m - 1 - jj
		var colView distmat.DistMatrix[T]
		colView.ViewOf(a, 0, j, j+1, 1)
		col := gatherColumn(&colView)
		for t := 0; t < jj; t++ {
			cw := scalars.Conj(W[t][j])
			cv := scalars.Conj(V[t][j])
			for r := 0; r <= j; r++ {
				col[r] -= V[t][r]*cw + W[t][r]*cv
			}
		}
		tau, beta := kernels.Householder(col[j-1], col[:j-1])
		col[j-1] = beta
		taus[j-1] = tau
		writeColumn(&colView, col)

		v := make([]T, m)
		copy(v, col[:j-1])
		v[j-1] = one[T]()

		var lead distmat.DistMatrix[T]
		lead.LockedViewOf(a, 0, 0, j, j)
		vss := distmat.NewOfSize[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.Star}, j, 1)
		vss.SetFrom(func(i, _ int) T { return v[i] })
		yss := distmat.NewOfSize[T](g, distmat.Dist{Row: distmat.Star, Col: distmat.Star}, j, 1)
		dblas.Hemv(distmat.Upper, tau, &lead, vss, scalars.FromFloat[T](0), yss)

		w := make([]T, m)
		for i := 0; i < j; i++ {
			w[i] = yss.LocalGet(i, 0)
		}
		for t := 0; t < jj; t++ {
			var dw, dv T
			for r := 0; r < j; r++ {
				dw += scalars.Conj(W[t][r]) * v[r]
				dv += scalars.Conj(V[t][r]) * v[r]
			}
			for r := 0; r < j; r++ {
				w[r] -= tau * (V[t][r]*dw + W[t][r]*dv)
			}
		}
		var dot T
		for r := 0; r < j; r++ {
			dot += scalars.Conj(w[r]) * v[r]
		}
		half := tau * dot / scalars.FromFloat[T](2)
		for r := 0; r < j; r++ {
			w[r] -= half * v[r]
		}
		V[jj], W[jj] = v, w
	}

	mt := m - nb
	if mt == 0 {
		return
	}
	v2 := distmat.NewOfSize[T](g, distmat.Dist{Row: distmat.MC, Col: distmat.MR}, mt, nb)
	v2.SetFrom(func(i, t int) T { return V[t][i] })
	w2 := distmat.NewOfSize[T](g, distmat.Dist{Row: distmat.MC, Col: distmat.MR}, mt, nb)
	w2.SetFrom(func(i, t int) T { return W[t][i] })
	var trail distmat.DistMatrix[T]
	trail.ViewOf(a, 0, 0, mt, mt)
	dblas.Her2k(distmat.Upper, distmat.Normal, scalars.FromFloat[T](-1), v2, w2, 1, &trail, opts)
}
