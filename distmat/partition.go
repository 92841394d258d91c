package distmat

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/distla/types/scalars"
)

// Panel sweeps: every blocked routine decomposes its matrices into an
// advancing panel plus the already-processed and not-yet-processed
// remainders, re-derived each iteration as the boundary slides. The sweep
// drivers own the boundary arithmetic; the repartition helpers produce the
// transient 3×1 / 1×3 / 3×3 grids of sub-views around the panel. Views own
// no storage, they alias the parent matrix.
//
// The final partial block has size min(blockSize, remaining): it is never
// padded.

// Sweep advances a partition boundary from 0 to extent, invoking step with
// the panel offset k and size nb = min(blockSize, extent-k) at each
// iteration. A zero extent performs no steps.
func Sweep(extent, blockSize int, step func(k, nb int)) {
	if blockSize <= 0 {
		exceptions.Panicf("distmat.Sweep: block size must be positive, got %d", blockSize)
	}
	for k := 0; k < extent; k += blockSize {
		step(k, min(blockSize, extent-k))
	}
}

// SweepReverse advances the boundary from extent down to 0, carving panels
// from the far edge: step sees the same (k, nb) panels as Sweep but in
// reverse order, starting with the partial block (if any) at the far edge
// and ending with a full block at k = 0.
func SweepReverse(extent, blockSize int, step func(k, nb int)) {
	if blockSize <= 0 {
		exceptions.Panicf("distmat.SweepReverse: block size must be positive, got %d", blockSize)
	}
	if extent <= 0 {
		return
	}
	// First (topmost) block absorbs the remainder so that all later
	// blocks are full-sized, mirroring the forward decomposition.
	first := extent % blockSize
	if first == 0 {
		first = blockSize
	}
	for k := extent - first; ; k -= blockSize {
		nb := blockSize
		if k == extent-first {
			nb = first
		}
		step(k, nb)
		if k == 0 {
			break
		}
	}
}

// RowViews is the 3×1 repartition of a matrix around a horizontal panel:
// A0 above, the panel A1, and A2 below.
type RowViews[T scalars.Scalar] struct {
	A0, A1, A2 DistMatrix[T]
}

// RepartitionRows views the three row bands [0,k), [k,k+nb), [k+nb,height)
// of a. The views are mutable.
func RepartitionRows[T scalars.Scalar](a *DistMatrix[T], k, nb int) *RowViews[T] {
	var v RowViews[T]
	v.A0.ViewOf(a, 0, 0, k, a.Width())
	v.A1.ViewOf(a, k, 0, nb, a.Width())
	v.A2.ViewOf(a, k+nb, 0, a.Height()-k-nb, a.Width())
	return &v
}

// LockedRepartitionRows is RepartitionRows with immutable views.
func LockedRepartitionRows[T scalars.Scalar](a *DistMatrix[T], k, nb int) *RowViews[T] {
	var v RowViews[T]
	v.A0.LockedViewOf(a, 0, 0, k, a.Width())
	v.A1.LockedViewOf(a, k, 0, nb, a.Width())
	v.A2.LockedViewOf(a, k+nb, 0, a.Height()-k-nb, a.Width())
	return &v
}

// ColViews is the 1×3 repartition of a matrix around a vertical panel:
// A0 to the left, the panel A1, and A2 to the right.
type ColViews[T scalars.Scalar] struct {
	A0, A1, A2 DistMatrix[T]
}

// RepartitionCols views the three column bands [0,k), [k,k+nb),
// [k+nb,width) of a.
func RepartitionCols[T scalars.Scalar](a *DistMatrix[T], k, nb int) *ColViews[T] {
	var v ColViews[T]
	v.A0.ViewOf(a, 0, 0, a.Height(), k)
	v.A1.ViewOf(a, 0, k, a.Height(), nb)
	v.A2.ViewOf(a, 0, k+nb, a.Height(), a.Width()-k-nb)
	return &v
}

// LockedRepartitionCols is RepartitionCols with immutable views.
func LockedRepartitionCols[T scalars.Scalar](a *DistMatrix[T], k, nb int) *ColViews[T] {
	var v ColViews[T]
	v.A0.LockedViewOf(a, 0, 0, a.Height(), k)
	v.A1.LockedViewOf(a, 0, k, a.Height(), nb)
	v.A2.LockedViewOf(a, 0, k+nb, a.Height(), a.Width()-k-nb)
	return &v
}

// DiagViews is the 3×3 repartition of a square matrix around a diagonal
// block A11 at offset (k, k):
//
//	A00 A01 A02
//	A10 A11 A12
//	A20 A21 A22
type DiagViews[T scalars.Scalar] struct {
	A00, A01, A02 DistMatrix[T]
	A10, A11, A12 DistMatrix[T]
	A20, A21, A22 DistMatrix[T]
}

// RepartitionDiag views the 3×3 decomposition of a around the nb×nb
// diagonal block at (k, k). The matrix must be square.
func RepartitionDiag[T scalars.Scalar](a *DistMatrix[T], k, nb int) *DiagViews[T] {
	return repartitionDiag(a, k, nb, false)
}

// LockedRepartitionDiag is RepartitionDiag with immutable views.
func LockedRepartitionDiag[T scalars.Scalar](a *DistMatrix[T], k, nb int) *DiagViews[T] {
	return repartitionDiag(a, k, nb, true)
}

func repartitionDiag[T scalars.Scalar](a *DistMatrix[T], k, nb int, locked bool) *DiagViews[T] {
	if a.Height() != a.Width() {
		exceptions.Panicf("distmat.RepartitionDiag: matrix is %dx%d, not square", a.Height(), a.Width())
	}
	n := a.Height()
	rest := n - k - nb
	var v DiagViews[T]
	views := []struct {
		m          *DistMatrix[T]
		i, j, h, w int
	}{
		{&v.A00, 0, 0, k, k}, {&v.A01, 0, k, k, nb}, {&v.A02, 0, k + nb, k, rest},
		{&v.A10, k, 0, nb, k}, {&v.A11, k, k, nb, nb}, {&v.A12, k, k + nb, nb, rest},
		{&v.A20, k + nb, 0, rest, k}, {&v.A21, k + nb, k, rest, nb}, {&v.A22, k + nb, k + nb, rest, rest},
	}
	for _, view := range views {
		if locked {
			view.m.LockedViewOf(a, view.i, view.j, view.h, view.w)
		} else {
			view.m.ViewOf(a, view.i, view.j, view.h, view.w)
		}
	}
	return &v
}
