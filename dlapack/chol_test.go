package dlapack

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/distla/dblas"
	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/grid"
	"github.com/gomlx/distla/gridtest"
	"github.com/gomlx/distla/kernels"
	"github.com/gomlx/distla/types/scalars"
)

var twoD = distmat.Dist{Row: distmat.MC, Col: distmat.MR}

// spdEntry generates a reproducible symmetric positive definite matrix:
// Gaussian off-diagonals with the diagonal shifted by the extent.
func spdEntry(seed uint64, n int) func(i, j int) float64 {
	return func(i, j int) float64 {
		lo, hi := min(i, j), max(i, j)
		v := distmat.GaussianEntry[float64](seed, lo, hi)
		if i == j {
			return v + float64(n)
		}
		return v
	}
}

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

func dense[T scalars.Scalar](height, width int, f func(i, j int) T) []T {
	out := make([]T, height*width)
	for j := 0; j < width; j++ {
		for i := 0; i < height; i++ {
			out[j*height+i] = f(i, j)
		}
	}
	return out
}

func TestCholMatchesLocalKernel(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const n = 9
		f := spdEntry(101, n)
		for _, bs := range []int{2, 4, 16} {
			for _, uplo := range []distmat.Uplo{distmat.Lower, distmat.Upper} {
				tag := fmt.Sprintf("bs=%d %s", bs, uplo)
				a := distmat.NewOfSize[float64](g, twoD, n, n)
				a.SetFrom(f)

				want := dense(n, n, f)
				require.NoError(t, kernels.Chol(uplo, n, want, n))

				require.NoError(t, Chol(uplo, a, dblas.Options{BlockSize: bs}))
				got := gather(a)
				for j := 0; j < n; j++ {
					for i := 0; i < n; i++ {
						inside := i >= j
						if uplo == distmat.Upper {
							inside = i <= j
						}
						if inside {
							require.InDelta(t, want[j*n+i], got[j*n+i], 1e-10, "%s (%d,%d)", tag, i, j)
						} else {
							// The other triangle is untouched.
							require.Equal(t, f(i, j), got[j*n+i], "%s (%d,%d)", tag, i, j)
						}
					}
				}
			}
		}
	})
}

func TestCholComplexHermitian(t *testing.T) {
	gridtest.OnGrid(t, 2, 2, func(t *testing.T, g *grid.Grid) {
		const n = 6
		f := func(i, j int) complex128 {
			if i == j {
				return complex(float64(n)+real(distmat.GaussianEntry[complex128](102, i, i)), 0)
			}
			lo, hi := min(i, j), max(i, j)
			v := distmat.GaussianEntry[complex128](102, lo, hi)
			if i > j {
				return v
			}
			return scalars.Conj(v)
		}
		a := distmat.NewOfSize[complex128](g, twoD, n, n)
		a.SetFrom(f)
		require.NoError(t, Chol(distmat.Lower, a, dblas.Options{BlockSize: 2}))

		// L*Lᴴ reconstructs the lower triangle of the input.
		l := gather(a)
		for j := 0; j < n; j++ {
			for i := 0; i < j; i++ {
				l[j*n+i] = 0
			}
		}
		recon := make([]complex128, n*n)
		kernels.Gemm(distmat.Normal, distmat.Adjoint, n, n, n, complex(1, 0), l, n, l, n, complex(0, 0), recon, n)
		for j := 0; j < n; j++ {
			for i := j; i < n; i++ {
				require.InDelta(t, 0, scalars.Abs(f(i, j)-recon[j*n+i]), 1e-10, "(%d,%d)", i, j)
			}
		}
	})
}

func TestCholIndefinite(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const n = 5
		a := distmat.NewOfSize[float64](g, twoD, n, n)
		a.SetFrom(func(i, j int) float64 {
			if i == j {
				if i == 3 {
					return -2 // indefinite pivot
				}
				return 1
			}
			return 0
		})
		err := Chol(distmat.Lower, a, dblas.Options{BlockSize: 2})
		require.Error(t, err)
		require.Contains(t, err.Error(), "not positive definite")
	})
}

func TestCholSolve(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const n, nrhs = 8, 2
		opts := dblas.Options{BlockSize: 3}
		f := spdEntry(103, n)
		a := distmat.NewOfSize[float64](g, twoD, n, n)
		a.SetFrom(f)

		// b := A*x0 for a known x0, computed locally from the generators.
		aRef := dense(n, n, f)
		x0 := dense(n, nrhs, func(i, j int) float64 { return distmat.GaussianEntry[float64](104, i, j) })
		bRef := make([]float64, n*nrhs)
		kernels.Gemm(distmat.Normal, distmat.Normal, n, nrhs, n, 1, aRef, n, x0, n, 0, bRef, n)
		b := distmat.NewOfSize[float64](g, twoD, n, nrhs)
		b.SetFrom(func(i, j int) float64 { return bRef[j*n+i] })

		require.NoError(t, Chol(distmat.Lower, a, opts))
		dblas.Trsm(distmat.Left, distmat.Lower, distmat.Normal, distmat.NonUnit, 1, a, b, opts)
		dblas.Trsm(distmat.Left, distmat.Lower, distmat.Adjoint, distmat.NonUnit, 1, a, b, opts)

		got := gather(b)
		for k := range x0 {
			require.InDelta(t, x0[k], got[k], 1e-8)
		}
	})
}
