// Package dblas implements blocked BLAS-like operations on matrices
// sharded over a two-dimensional process grid.
//
// Every routine is collective: all processes of the grid enter with the
// same global arguments and the same sequence of calls, and the internal
// redistributions pair up across ranks. The blocked routines sweep an
// advancing panel over the matrix, replicate the small blocks touched by
// the panel into shadow schemes chosen so the bulk update is a purely
// local kernel call, and fold partial results back with a reduce-scatter.
package dblas

import (
	"math"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/distla/comms"
	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/types/scalars"
)

// DefaultBlockSize is the algorithmic block size used when Options leaves
// BlockSize zero.
const DefaultBlockSize = 128

// Options tunes the blocked algorithms. The zero value picks defaults.
type Options struct {
	// BlockSize is the panel width of the blocked sweeps. The final
	// partial block is min(BlockSize, remaining); it is never padded.
	BlockSize int
}

// PanelWidth returns the block size in effect: BlockSize when set,
// DefaultBlockSize otherwise.
func (o Options) PanelWidth() int {
	if o.BlockSize > 0 {
		return o.BlockSize
	}
	return DefaultBlockSize
}

func one[T scalars.Scalar]() T { return scalars.FromFloat[T](1) }

func sum[T scalars.Scalar](a, b T) T { return a + b }

func checkSameGrid[T scalars.Scalar](op string, ms ...*distmat.DistMatrix[T]) {
	for _, m := range ms[1:] {
		if m.Grid() != ms[0].Grid() {
			exceptions.Panicf("dblas.%s: operands live on different grids", op)
		}
	}
}

// vectorLength returns the logical length of a width-1 or height-1 matrix.
func vectorLength[T scalars.Scalar](op string, x *distmat.DistMatrix[T]) int {
	if x.Width() == 1 {
		return x.Height()
	}
	if x.Height() == 1 {
		return x.Width()
	}
	exceptions.Panicf("dblas.%s: expected a vector, got %dx%d", op, x.Height(), x.Width())
	return 0
}

// replicateVector gathers a distributed vector into one dense local slice,
// identical on every rank.
func replicateVector[T scalars.Scalar](x *distmat.DistMatrix[T]) []T {
	ss := distmat.New[T](x.Grid(), distmat.Dist{Row: distmat.Star, Col: distmat.Star})
	ss.RedistributeFrom(x)
	n := ss.Height() * ss.Width()
	out := make([]T, n)
	if ss.Width() == 1 {
		copy(out, ss.LockedLocalData()[:n])
		return out
	}
	for j := 0; j < ss.Width(); j++ {
		out[j] = ss.LocalGet(0, j)
	}
	return out
}

// vectorIndex maps a local entry of a distributed vector to its global
// vector index.
func vectorIndex[T scalars.Scalar](x *distmat.DistMatrix[T], li, lj int) int {
	if x.Width() == 1 {
		return x.GlobalRow(li)
	}
	return x.GlobalCol(lj)
}

// Scal scales every entry of x in place: x := alpha*x. Purely local.
func Scal[T scalars.Scalar](alpha T, x *distmat.DistMatrix[T]) {
	lh, lw := x.LocalHeight(), x.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		for li := 0; li < lh; li++ {
			x.LocalSet(li, lj, alpha*x.LocalGet(li, lj))
		}
	}
}

// Axpy computes y := alpha*x + y. When x and y share a scheme and
// alignment the update is local; otherwise x is redistributed into y's
// scheme first.
func Axpy[T scalars.Scalar](alpha T, x, y *distmat.DistMatrix[T]) {
	checkSameGrid("Axpy", x, y)
	if x.Height() != y.Height() || x.Width() != y.Width() {
		exceptions.Panicf("dblas.Axpy: x is %dx%d, y is %dx%d", x.Height(), x.Width(), y.Height(), y.Width())
	}
	src := x
	if x.Dist() != y.Dist() || x.RowAlign() != y.RowAlign() || x.ColAlign() != y.ColAlign() {
		tmp := distmat.New[T](y.Grid(), y.Dist())
		tmp.SetRowAlign(y.RowAlign())
		tmp.SetColAlign(y.ColAlign())
		tmp.RedistributeFrom(x)
		src = tmp
	}
	lh, lw := y.LocalHeight(), y.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		for li := 0; li < lh; li++ {
			y.LocalSet(li, lj, y.LocalGet(li, lj)+alpha*src.LocalGet(li, lj))
		}
	}
}

func localSumSquares[T scalars.Scalar](x *distmat.DistMatrix[T]) float64 {
	var s float64
	lh, lw := x.LocalHeight(), x.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		for li := 0; li < lh; li++ {
			a := scalars.Abs(x.LocalGet(li, lj))
			s += a * a
		}
	}
	return s
}

// Nrm2 returns the Euclidean norm of a distributed vector, identical on
// every rank. For the standard 2D-cyclic scheme the combine runs over the
// owner axis and the scalar is broadcast along the other; any other scheme
// combines over the whole grid, discounting replicated copies.
func Nrm2[T scalars.Scalar](x *distmat.DistMatrix[T]) float64 {
	vectorLength("Nrm2", x)
	g := x.Grid()
	local := localSumSquares(x)
	twoD := distmat.Dist{Row: distmat.MC, Col: distmat.MR}
	if x.Dist() == twoD && x.Width() == 1 {
		// Only the owner process column holds entries; its column comm
		// sums them and the row comm spreads the scalar.
		colSum := comms.AllReduce(g.ColComm(), []float64{local}, sumFloat)[0]
		total := comms.Broadcast(g.RowComm(), []float64{colSum}, x.ColAlign())[0]
		return math.Sqrt(total)
	}
	if x.Dist() == twoD && x.Height() == 1 {
		rowSum := comms.AllReduce(g.RowComm(), []float64{local}, sumFloat)[0]
		total := comms.Broadcast(g.ColComm(), []float64{rowSum}, x.RowAlign())[0]
		return math.Sqrt(total)
	}
	dup := 1
	if x.Dist().Row != distmat.MD && x.Dist().Col != distmat.MD {
		dup = g.Size() / (x.RowStride() * x.ColStride())
	}
	total := comms.AllReduce(g.VCComm(), []float64{local}, sumFloat)[0]
	return math.Sqrt(total / float64(dup))
}

func sumFloat(a, b float64) float64 { return a + b }

// Gemv computes y := alpha*op(A)*x + beta*y for a 2D-cyclic A and
// distributed vectors x, y. Every rank accumulates the contribution of its
// local block of A against a replicated copy of x; a grid-wide all-reduce
// completes the sums and each holder of y applies its slice.
func Gemv[T scalars.Scalar](trans distmat.Orientation, alpha T,
	a *distmat.DistMatrix[T], x *distmat.DistMatrix[T], beta T, y *distmat.DistMatrix[T]) {
	checkSameGrid("Gemv", a, x, y)
	if a.Dist() != (distmat.Dist{Row: distmat.MC, Col: distmat.MR}) {
		exceptions.Panicf("dblas.Gemv: matrix scheme %s, want [MC,MR]", a.Dist())
	}
	opH, opW := a.Height(), a.Width()
	if trans != distmat.Normal {
		opH, opW = opW, opH
	}
	if n := vectorLength("Gemv", x); n != opW {
		exceptions.Panicf("dblas.Gemv: x has length %d, op(A) is %dx%d", n, opH, opW)
	}
	if n := vectorLength("Gemv", y); n != opH {
		exceptions.Panicf("dblas.Gemv: y has length %d, op(A) is %dx%d", n, opH, opW)
	}

	xv := replicateVector(x)
	partial := make([]T, opH)
	lh, lw := a.LocalHeight(), a.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		gj := a.GlobalCol(lj)
		for li := 0; li < lh; li++ {
			gi := a.GlobalRow(li)
			v := a.LocalGet(li, lj)
			switch trans {
			case distmat.Normal:
				partial[gi] += v * xv[gj]
			case distmat.Transpose:
				partial[gj] += v * xv[gi]
			default:
				partial[gj] += scalars.Conj(v) * xv[gi]
			}
		}
	}
	total := comms.AllReduce(a.Grid().VCComm(), partial, sum)

	ylh, ylw := y.LocalHeight(), y.LocalWidth()
	for lj := 0; lj < ylw; lj++ {
		for li := 0; li < ylh; li++ {
			k := vectorIndex(y, li, lj)
			y.LocalSet(li, lj, alpha*total[k]+beta*y.LocalGet(li, lj))
		}
	}
}

// Hemv computes y := alpha*A*x + beta*y where only the uplo triangle of
// the Hermitian (symmetric, for the real kinds) matrix A is stored. The
// mirrored triangle is folded in by contributing each strictly off-diagonal
// entry to both of the two sums it participates in.
func Hemv[T scalars.Scalar](uplo distmat.Uplo, alpha T,
	a *distmat.DistMatrix[T], x *distmat.DistMatrix[T], beta T, y *distmat.DistMatrix[T]) {
	checkSameGrid("Hemv", a, x, y)
	if a.Height() != a.Width() {
		exceptions.Panicf("dblas.Hemv: matrix is %dx%d, not square", a.Height(), a.Width())
	}
	n := a.Height()
	if l := vectorLength("Hemv", x); l != n {
		exceptions.Panicf("dblas.Hemv: x has length %d, A is %dx%d", l, n, n)
	}
	if l := vectorLength("Hemv", y); l != n {
		exceptions.Panicf("dblas.Hemv: y has length %d, A is %dx%d", l, n, n)
	}

	xv := replicateVector(x)
	partial := make([]T, n)
	lh, lw := a.LocalHeight(), a.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		gj := a.GlobalCol(lj)
		for li := 0; li < lh; li++ {
			gi := a.GlobalRow(li)
			switch {
			case gi == gj:
				d := scalars.FromFloat[T](scalars.Real(a.LocalGet(li, lj)))
				partial[gi] += d * xv[gi]
			case (uplo == distmat.Lower) == (gi > gj):
				v := a.LocalGet(li, lj)
				partial[gi] += v * xv[gj]
				partial[gj] += scalars.Conj(v) * xv[gi]
			}
		}
	}
	total := comms.AllReduce(a.Grid().VCComm(), partial, sum)

	ylh, ylw := y.LocalHeight(), y.LocalWidth()
	for lj := 0; lj < ylw; lj++ {
		for li := 0; li < ylh; li++ {
			k := vectorIndex(y, li, lj)
			y.LocalSet(li, lj, alpha*total[k]+beta*y.LocalGet(li, lj))
		}
	}
}
