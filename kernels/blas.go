// Package kernels provides the sequential, single-process numerical kernels
// the distributed routines delegate to once their operands are co-located.
// Nothing in this package communicates; everything operates on column-major
// buffers with an explicit leading dimension, matching the local storage of
// distmat.DistMatrix.
//
// The kernels are generic over the four scalar kinds. They are written for
// correctness and clarity, not peak flops: the distributed layer treats them
// as black boxes and any BLAS-shaped implementation can replace them.
package kernels

import (
	"math"

	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/types/scalars"
)

// at reads entry (i, j) of op(A) for a stored column-major A.
func at[T scalars.Scalar](a []T, lda int, trans distmat.Orientation, i, j int) T {
	switch trans {
	case distmat.Normal:
		return a[j*lda+i]
	case distmat.Transpose:
		return a[i*lda+j]
	default:
		return scalars.Conj(a[i*lda+j])
	}
}

// Gemm computes C := alpha*op(A)*op(B) + beta*C with op(A) m×k and op(B)
// k×n.
func Gemm[T scalars.Scalar](transA, transB distmat.Orientation, m, n, k int,
	alpha T, a []T, lda int, b []T, ldb int, beta T, c []T, ldc int) {
	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			var sum T
			for s := 0; s < k; s++ {
				sum += at(a, lda, transA, i, s) * at(b, ldb, transB, s, j)
			}
			c[j*ldc+i] = alpha*sum + beta*c[j*ldc+i]
		}
	}
}

// Gemv computes y := alpha*op(A)*x + beta*y with op(A) m×n.
func Gemv[T scalars.Scalar](trans distmat.Orientation, m, n int,
	alpha T, a []T, lda int, x []T, beta T, y []T) {
	for i := 0; i < m; i++ {
		var sum T
		for j := 0; j < n; j++ {
			sum += at(a, lda, trans, i, j) * x[j]
		}
		y[i] = alpha*sum + beta*y[i]
	}
}

// effectiveLower reports whether op of a triangular matrix stored in the
// given triangle behaves as a lower-triangular matrix.
func effectiveLower(uplo distmat.Uplo, trans distmat.Orientation) bool {
	return (uplo == distmat.Lower) == (trans == distmat.Normal)
}

// triAt reads entry (i, j) of op(A) for a triangular A stored in the uplo
// triangle, honoring an implicit unit diagonal.
func triAt[T scalars.Scalar](a []T, lda int, uplo distmat.Uplo, trans distmat.Orientation,
	diag distmat.Diag, i, j int) T {
	if i == j && diag == distmat.Unit {
		return scalars.FromFloat[T](1)
	}
	return at(a, lda, trans, i, j)
}

// Trsm solves op(A)*X = alpha*B (Left) or X*op(A) = alpha*B (Right) in
// place on B (m×n), with A triangular.
func Trsm[T scalars.Scalar](side distmat.Side, uplo distmat.Uplo, trans distmat.Orientation,
	diag distmat.Diag, m, n int, alpha T, a []T, lda int, b []T, ldb int) {
	if side == distmat.Left {
		lower := effectiveLower(uplo, trans)
		for j := 0; j < n; j++ {
			col := b[j*ldb : j*ldb+m]
			for ii := 0; ii < m; ii++ {
				i := ii
				if !lower {
					i = m - 1 - ii
				}
				sum := alpha * col[i]
				if lower {
					for s := 0; s < i; s++ {
						sum -= triAt(a, lda, uplo, trans, diag, i, s) * col[s]
					}
				} else {
					for s := i + 1; s < m; s++ {
						sum -= triAt(a, lda, uplo, trans, diag, i, s) * col[s]
					}
				}
				if diag == distmat.NonUnit {
					sum /= triAt(a, lda, uplo, trans, distmat.NonUnit, i, i)
				}
				col[i] = sum
			}
		}
		return
	}
	// Right: solve row by row; row i of X satisfies X[i,:]*op(A) = alpha*B[i,:].
	lower := effectiveLower(uplo, trans)
	for i := 0; i < m; i++ {
		for jj := 0; jj < n; jj++ {
			j := n - 1 - jj
			if !lower {
				j = jj
			}
			sum := alpha * b[j*ldb+i]
			if lower {
				for s := j + 1; s < n; s++ {
					sum -= b[s*ldb+i] * triAt(a, lda, uplo, trans, diag, s, j)
				}
			} else {
				for s := 0; s < j; s++ {
					sum -= b[s*ldb+i] * triAt(a, lda, uplo, trans, diag, s, j)
				}
			}
			if diag == distmat.NonUnit {
				sum /= triAt(a, lda, uplo, trans, distmat.NonUnit, j, j)
			}
			b[j*ldb+i] = sum
		}
	}
}

// Trmm computes B := alpha*op(A)*B (Left) or alpha*B*op(A) (Right) in
// place on B (m×n), with A triangular.
func Trmm[T scalars.Scalar](side distmat.Side, uplo distmat.Uplo, trans distmat.Orientation,
	diag distmat.Diag, m, n int, alpha T, a []T, lda int, b []T, ldb int) {
	if side == distmat.Left {
		lower := effectiveLower(uplo, trans)
		for j := 0; j < n; j++ {
			col := b[j*ldb : j*ldb+m]
			// A lower op: row i uses rows <= i, so iterate bottom-up to
			// keep the inputs unmodified; mirrored for upper.
			for ii := 0; ii < m; ii++ {
				i := m - 1 - ii
				if !lower {
					i = ii
				}
				sum := triAt(a, lda, uplo, trans, diag, i, i) * col[i]
				if lower {
					for s := 0; s < i; s++ {
						sum += triAt(a, lda, uplo, trans, diag, i, s) * col[s]
					}
				} else {
					for s := i + 1; s < m; s++ {
						sum += triAt(a, lda, uplo, trans, diag, i, s) * col[s]
					}
				}
				col[i] = alpha * sum
			}
		}
		return
	}
	lower := effectiveLower(uplo, trans)
	for i := 0; i < m; i++ {
		for jj := 0; jj < n; jj++ {
			j := jj
			if !lower {
				j = n - 1 - jj
			}
			sum := b[j*ldb+i] * triAt(a, lda, uplo, trans, diag, j, j)
			if lower {
				for s := j + 1; s < n; s++ {
					sum += b[s*ldb+i] * triAt(a, lda, uplo, trans, diag, s, j)
				}
			} else {
				for s := 0; s < j; s++ {
					sum += b[s*ldb+i] * triAt(a, lda, uplo, trans, diag, s, j)
				}
			}
			b[j*ldb+i] = alpha * sum
		}
	}
}

// Syr2k computes the uplo triangle of C := alpha*(A*Bᵀ + B*Aᵀ) + beta*C
// for trans == Normal (A, B n×k), or C := alpha*(Aᵀ*B + Bᵀ*A) + beta*C for
// trans == Transpose (A, B k×n).
func Syr2k[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation, n, k int,
	alpha T, a []T, lda int, b []T, ldb int, beta T, c []T, ldc int) {
	rank2kTriangle(uplo, trans, distmat.Transpose, n, k, alpha, a, lda, b, ldb, alpha, beta, c, ldc)
}

// Her2k computes the uplo triangle of C := alpha*A*Bᴴ + conj(alpha)*B*Aᴴ +
// beta*C for trans == Normal, or the adjoint-ordered variant for trans ==
// Adjoint. beta is real for a Hermitian result.
func Her2k[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation, n, k int,
	alpha T, a []T, lda int, b []T, ldb int, beta float64, c []T, ldc int) {
	orient := distmat.Adjoint
	if trans == distmat.Transpose {
		orient = distmat.Transpose
	}
	rank2kTriangle(uplo, trans, orient, n, k, alpha, a, lda, b, ldb,
		scalars.Conj(alpha), scalars.FromFloat[T](beta), c, ldc)
}

// rank2kTriangle updates the uplo triangle of C with
// alphaAB*prod(A,B) + alphaBA*prod(B,A) + beta*C, where prod uses the
// conjugation behavior of orient on the second factor.
func rank2kTriangle[T scalars.Scalar](uplo distmat.Uplo, trans, orient distmat.Orientation, n, k int,
	alphaAB T, a []T, lda int, b []T, ldb int, alphaBA, beta T, c []T, ldc int) {
	conj := func(v T) T {
		if orient == distmat.Adjoint {
			return scalars.Conj(v)
		}
		return v
	}
	get := func(m []T, ld, i, s int) T {
		if trans == distmat.Normal {
			return m[s*ld+i] // (n×k) storage.
		}
		return m[i*ld+s] // (k×n) storage.
	}
	for j := 0; j < n; j++ {
		lo, hi := j, n
		if uplo == distmat.Upper {
			lo, hi = 0, j+1
		}
		for i := lo; i < hi; i++ {
			var ab, ba T
			for s := 0; s < k; s++ {
				if trans == distmat.Normal {
					ab += get(a, lda, i, s) * conj(get(b, ldb, j, s))
					ba += get(b, ldb, i, s) * conj(get(a, lda, j, s))
				} else {
					ab += conj(get(a, lda, i, s)) * get(b, ldb, j, s)
					ba += conj(get(b, ldb, i, s)) * get(a, lda, j, s)
				}
			}
			c[j*ldc+i] = alphaAB*ab + alphaBA*ba + beta*c[j*ldc+i]
		}
	}
}

// Syrk computes the uplo triangle of C := alpha*A*Aᵀ + beta*C (Normal,
// A n×k) or C := alpha*Aᵀ*A + beta*C (Transpose, A k×n).
func Syrk[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation, n, k int,
	alpha T, a []T, lda int, beta T, c []T, ldc int) {
	for j := 0; j < n; j++ {
		lo, hi := j, n
		if uplo == distmat.Upper {
			lo, hi = 0, j+1
		}
		for i := lo; i < hi; i++ {
			var sum T
			for s := 0; s < k; s++ {
				if trans == distmat.Normal {
					sum += a[s*lda+i] * a[s*lda+j]
				} else {
					sum += a[i*lda+s] * a[j*lda+s]
				}
			}
			c[j*ldc+i] = alpha*sum + beta*c[j*ldc+i]
		}
	}
}

// Herk computes the uplo triangle of C := alpha*A*Aᴴ + beta*C (Normal) or
// C := alpha*Aᴴ*A + beta*C (Adjoint); alpha and beta are real.
func Herk[T scalars.Scalar](uplo distmat.Uplo, trans distmat.Orientation, n, k int,
	alpha float64, a []T, lda int, beta float64, c []T, ldc int) {
	al, be := scalars.FromFloat[T](alpha), scalars.FromFloat[T](beta)
	for j := 0; j < n; j++ {
		lo, hi := j, n
		if uplo == distmat.Upper {
			lo, hi = 0, j+1
		}
		for i := lo; i < hi; i++ {
			var sum T
			for s := 0; s < k; s++ {
				if trans == distmat.Normal {
					sum += a[s*lda+i] * scalars.Conj(a[s*lda+j])
				} else {
					sum += scalars.Conj(a[i*lda+s]) * a[j*lda+s]
				}
			}
			c[j*ldc+i] = al*sum + be*c[j*ldc+i]
		}
	}
}

// Nrm2 returns the Euclidean norm of x as a float64; no overflow guard
// (the distributed Nrm2 combines per-process results itself).
func Nrm2[T scalars.Scalar](x []T) float64 {
	var sum float64
	for _, v := range x {
		a := scalars.Abs(v)
		sum += a * a
	}
	return math.Sqrt(sum)
}
