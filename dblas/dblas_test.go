package dblas

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/grid"
	"github.com/gomlx/distla/gridtest"
	"github.com/gomlx/distla/kernels"
	"github.com/gomlx/distla/types/scalars"
)

var twoD = distmat.Dist{Row: distmat.MC, Col: distmat.MR}

// gather replicates a distributed matrix into a dense column-major buffer
// with leading dimension m.Height(), identical on every rank.
func gather[T scalars.Scalar](m *distmat.DistMatrix[T]) []T {
	ss := distmat.New[T](m.Grid(), distmat.Dist{Row: distmat.Star, Col: distmat.Star})
	ss.RedistributeFrom(m)
	h, w := ss.Height(), ss.Width()
	out := make([]T, h*w)
	for j := 0; j < w; j++ {
		for i := 0; i < h; i++ {
			out[j*h+i] = ss.LocalGet(i, j)
		}
	}
	return out
}

// dense builds the same global matrix a deterministic SetFrom would, as a
// local column-major buffer, so references never need communication.
func dense[T scalars.Scalar](height, width int, f func(i, j int) T) []T {
	out := make([]T, height*width)
	for j := 0; j < width; j++ {
		for i := 0; i < height; i++ {
			out[j*height+i] = f(i, j)
		}
	}
	return out
}

func requireClose[T scalars.Scalar](t *testing.T, want, got []T, tol float64, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for k := range want {
		require.InDelta(t, 0, scalars.Abs(want[k]-got[k]), tol, msgAndArgs...)
	}
}

func TestScal(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		x := distmat.NewOfSize[float64](g, twoD, 5, 3)
		x.SetToRandom(1)
		Scal(2.5, x)
		for lj := 0; lj < x.LocalWidth(); lj++ {
			for li := 0; li < x.LocalHeight(); li++ {
				want := 2.5 * distmat.GaussianEntry[float64](1, x.GlobalRow(li), x.GlobalCol(lj))
				require.InDelta(t, want, x.LocalGet(li, lj), 1e-14)
			}
		}
	})
}

func TestAxpy(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const h, w = 6, 4
		x := distmat.NewOfSize[float64](g, twoD, h, w)
		x.SetToRandom(2)
		y := distmat.NewOfSize[float64](g, twoD, h, w)
		y.SetToRandom(3)
		Axpy(-2.0, x, y)
		for lj := 0; lj < y.LocalWidth(); lj++ {
			for li := 0; li < y.LocalHeight(); li++ {
				i, j := y.GlobalRow(li), y.GlobalCol(lj)
				want := distmat.GaussianEntry[float64](3, i, j) - 2*distmat.GaussianEntry[float64](2, i, j)
				require.InDelta(t, want, y.LocalGet(li, lj), 1e-14)
			}
		}

		// Mismatched schemes route through a redistribution.
		xf := distmat.NewOfSize[float64](g, distmat.Dist{Row: distmat.MR, Col: distmat.MC}, h, w)
		xf.SetToRandom(2)
		y2 := distmat.NewOfSize[float64](g, twoD, h, w)
		y2.SetToRandom(3)
		Axpy(-2.0, xf, y2)
		want := gather(y)
		got := gather(y2)
		requireClose(t, want, got, 1e-14)
	})
}

func TestNrm2(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const n, seed = 9, 5
		ref := kernels.Nrm2(dense(n, 1, func(i, j int) float64 {
			return distmat.GaussianEntry[float64](seed, i, j)
		}))

		schemes := []distmat.Dist{
			twoD,
			{Row: distmat.VC, Col: distmat.Star},
			{Row: distmat.Star, Col: distmat.Star},
			{Row: distmat.MC, Col: distmat.Star},
			{Row: distmat.MD, Col: distmat.Star},
		}
		for _, dist := range schemes {
			x := distmat.NewOfSize[float64](g, dist, n, 1)
			x.SetToRandom(seed)
			require.InDelta(t, ref, Nrm2(x), 1e-12, "%s", dist)
		}

		// Row vector under the 2D scheme takes the mirrored fast path.
		row := distmat.NewOfSize[float64](g, twoD, 1, n)
		row.SetFrom(func(i, j int) float64 { return distmat.GaussianEntry[float64](seed, j, i) })
		require.InDelta(t, ref, Nrm2(row), 1e-12)
	})
}

func TestNrm2Complex(t *testing.T) {
	gridtest.OnGrid(t, 2, 2, func(t *testing.T, g *grid.Grid) {
		const n = 7
		x := distmat.NewOfSize[complex128](g, twoD, n, 1)
		x.SetToRandom(11)
		ref := kernels.Nrm2(dense(n, 1, func(i, j int) complex128 {
			return distmat.GaussianEntry[complex128](11, i, j)
		}))
		require.InDelta(t, ref, Nrm2(x), 1e-12)
	})
}

func TestGemv(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const m, n = 6, 4
		a := distmat.NewOfSize[float64](g, twoD, m, n)
		a.SetToRandom(21)
		aRef := dense(m, n, func(i, j int) float64 { return distmat.GaussianEntry[float64](21, i, j) })

		for _, trans := range []distmat.Orientation{distmat.Normal, distmat.Transpose} {
			xl, yl := n, m
			if trans != distmat.Normal {
				xl, yl = m, n
			}
			x := distmat.NewOfSize[float64](g, twoD, xl, 1)
			x.SetToRandom(22)
			y := distmat.NewOfSize[float64](g, twoD, yl, 1)
			y.SetToRandom(23)

			want := dense(yl, 1, func(i, j int) float64 { return distmat.GaussianEntry[float64](23, i, j) })
			xRef := dense(xl, 1, func(i, j int) float64 { return distmat.GaussianEntry[float64](22, i, j) })
			kernels.Gemv(trans, yl, xl, 1.5, aRef, m, xRef, -0.5, want)

			Gemv(trans, 1.5, a, x, -0.5, y)
			requireClose(t, want, gather(y), 1e-12, "%s", trans)
		}
	})
}

func TestGemvAdjointComplex(t *testing.T) {
	gridtest.OnGrid(t, 2, 3, func(t *testing.T, g *grid.Grid) {
		const m, n = 5, 4
		a := distmat.NewOfSize[complex128](g, twoD, m, n)
		a.SetToRandom(31)
		x := distmat.NewOfSize[complex128](g, twoD, m, 1)
		x.SetToRandom(32)
		y := distmat.NewOfSize[complex128](g, twoD, n, 1)
		y.Zero()

		aRef := dense(m, n, func(i, j int) complex128 { return distmat.GaussianEntry[complex128](31, i, j) })
		xRef := dense(m, 1, func(i, j int) complex128 { return distmat.GaussianEntry[complex128](32, i, j) })
		want := make([]complex128, n)
		kernels.Gemv(distmat.Adjoint, n, m, 1, aRef, m, xRef, 0, want)

		Gemv(distmat.Adjoint, complex(1, 0), a, x, complex(0, 0), y)
		requireClose(t, want, gather(y), 1e-12)
	})
}

func TestHemv(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const n, seed = 6, 41
		sym := func(i, j int) float64 {
			lo, hi := min(i, j), max(i, j)
			return distmat.GaussianEntry[float64](seed, lo, hi)
		}
		for _, uplo := range []distmat.Uplo{distmat.Lower, distmat.Upper} {
			// Poison the unread triangle so the routine provably ignores it.
			a := distmat.NewOfSize[float64](g, twoD, n, n)
			a.SetFrom(func(i, j int) float64 {
				stored := i >= j
				if uplo == distmat.Upper {
					stored = i <= j
				}
				if stored {
					return sym(i, j)
				}
				return 1e6
			})
			x := distmat.NewOfSize[float64](g, twoD, n, 1)
			x.SetToRandom(42)
			y := distmat.NewOfSize[float64](g, twoD, n, 1)
			y.SetToRandom(43)

			want := make([]float64, n)
			for i := 0; i < n; i++ {
				var s float64
				for j := 0; j < n; j++ {
					s += sym(i, j) * distmat.GaussianEntry[float64](42, j, 0)
				}
				want[i] = 2*s + distmat.GaussianEntry[float64](43, i, 0)
			}

			Hemv(uplo, 2.0, a, x, 1.0, y)
			requireClose(t, want, gather(y), 1e-11, "%s", uplo)
		}
	})
}

func TestHemvComplexHermitian(t *testing.T) {
	gridtest.OnGrid(t, 2, 2, func(t *testing.T, g *grid.Grid) {
		const n, seed = 5, 51
		herm := func(i, j int) complex128 {
			if i == j {
				return complex(real(distmat.GaussianEntry[complex128](seed, i, i)), 0)
			}
			lo, hi := min(i, j), max(i, j)
			v := distmat.GaussianEntry[complex128](seed, lo, hi)
			if i > j {
				return v
			}
			return scalars.Conj(v)
		}
		a := distmat.NewOfSize[complex128](g, twoD, n, n)
		a.SetFrom(func(i, j int) complex128 {
			if i >= j {
				return herm(i, j)
			}
			return complex(1e6, 1e6)
		})
		x := distmat.NewOfSize[complex128](g, twoD, n, 1)
		x.SetToRandom(52)
		y := distmat.NewOfSize[complex128](g, twoD, n, 1)
		y.Zero()

		want := make([]complex128, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				want[i] += herm(i, j) * distmat.GaussianEntry[complex128](52, j, 0)
			}
		}

		Hemv(distmat.Lower, complex(1, 0), a, x, complex(0, 0), y)
		requireClose(t, want, gather(y), 1e-11)
	})
}

func TestOptionsPanelWidth(t *testing.T) {
	require.Equal(t, DefaultBlockSize, Options{}.PanelWidth())
	require.Equal(t, 7, Options{BlockSize: 7}.PanelWidth())
}
