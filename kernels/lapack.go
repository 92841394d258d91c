package kernels

import (
	"math"

	"github.com/pkg/errors"

	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/types/scalars"
)

// Householder generates an elementary reflector H = I - tau*v*vᴴ zeroing x
// below alpha: H annihilates [alpha; x] into [beta; 0]. On return x holds
// the tail of v (v[0] == 1 implicit), and beta is real for the complex
// kinds. A zero x with real alpha yields tau == 0 (H == I).
func Householder[T scalars.Scalar](alpha T, x []T) (tau, beta T) {
	a := scalars.Complex(alpha)
	xnorm := Nrm2(x)
	if xnorm == 0 && imag(a) == 0 {
		return scalars.FromFloat[T](0), alpha
	}
	b := -math.Copysign(math.Sqrt(real(a)*real(a)+imag(a)*imag(a)+xnorm*xnorm), real(a))
	t := (complex(b, 0) - a) / complex(b, 0)
	scale := 1 / (a - complex(b, 0))
	for i, v := range x {
		x[i] = scalars.FromComplex[T](scale * scalars.Complex(v))
	}
	return scalars.FromComplex[T](t), scalars.FromFloat[T](b)
}

// Chol overwrites the uplo triangle of the n×n matrix a with its Cholesky
// factor (a = L*Lᴴ or a = Uᴴ*U). It returns an error when a pivot is not
// positive, i.e. the matrix is not positive definite; the factorization is
// abandoned at that pivot.
func Chol[T scalars.Scalar](uplo distmat.Uplo, n int, a []T, lda int) error {
	for j := 0; j < n; j++ {
		d := scalars.Real(a[j*lda+j])
		for k := 0; k < j; k++ {
			var v T
			if uplo == distmat.Lower {
				v = a[k*lda+j]
			} else {
				v = a[j*lda+k]
			}
			av := scalars.Abs(v)
			d -= av * av
		}
		if d <= 0 {
			return errors.Errorf("kernels.Chol: pivot %d is %g, matrix is not positive definite", j, d)
		}
		root := scalars.FromFloat[T](math.Sqrt(d))
		a[j*lda+j] = root
		if uplo == distmat.Lower {
			for i := j + 1; i < n; i++ {
				sum := a[j*lda+i]
				for k := 0; k < j; k++ {
					sum -= a[k*lda+i] * scalars.Conj(a[k*lda+j])
				}
				a[j*lda+i] = sum / root
			}
		} else {
			for i := j + 1; i < n; i++ {
				sum := a[i*lda+j]
				for k := 0; k < j; k++ {
					sum -= scalars.Conj(a[j*lda+k]) * a[i*lda+k]
				}
				a[i*lda+j] = sum / root
			}
		}
	}
	return nil
}

// hemvStored computes y := A*v for an n×n symmetric/Hermitian A of which
// only the uplo triangle of the buffer is valid.
func hemvStored[T scalars.Scalar](uplo distmat.Uplo, n int, a []T, lda int, v, y []T) {
	for i := 0; i < n; i++ {
		var sum T
		for j := 0; j < n; j++ {
			var aij T
			switch {
			case i == j:
				aij = scalars.FromFloat[T](scalars.Real(a[i*lda+i]))
			case (uplo == distmat.Lower) == (j < i):
				aij = at(a, lda, distmat.Normal, i, j)
			default:
				aij = scalars.Conj(at(a, lda, distmat.Normal, j, i))
			}
			sum += aij * v[j]
		}
		y[i] = sum
	}
}

// Tridiag reduces the symmetric/Hermitian n×n matrix stored in the uplo
// triangle of a to real tridiagonal form by a sequence of unblocked
// Householder similarity transforms, in the manner of the LAPACK *hetd2
// kernels. The tridiagonal result stays in a (diagonal and first
// off-diagonal); the reflector vectors are stored in the zeroed-out part of
// the triangle and their scalars in tau (length n-1).
func Tridiag[T scalars.Scalar](uplo distmat.Uplo, n int, a []T, lda int, tau []T) {
	if n <= 1 {
		return
	}
	if uplo == distmat.Lower {
		for i := 0; i < n-1; i++ {
			m := n - i - 1 // Trailing extent below the diagonal entry i.
			col := make([]T, m-1)
			for k := range col {
				col[k] = a[i*lda+i+2+k]
			}
			t, beta := Householder(a[i*lda+i+1], col)
			tau[i] = t
			applyTridiagStep(uplo, n, a, lda, i, t, beta, col)
		}
		return
	}
	// Upper: reduce from the bottom-right, reflectors above the diagonal.
	for i := n - 1; i > 0; i-- {
		col := make([]T, i-1)
		for k := range col {
			col[k] = a[i*lda+k]
		}
		t, beta := Householder(a[i*lda+i-1], col)
		tau[i-1] = t
		applyTridiagStep(uplo, n, a, lda, i, t, beta, col)
	}
}

// applyTridiagStep applies the two-sided update of one reduction step to
// the trailing (Lower) or leading (Upper) symmetric block and stores the
// reflector back into a.
func applyTridiagStep[T scalars.Scalar](uplo distmat.Uplo, n int, a []T, lda int,
	i int, tau, beta T, tail []T) {
	if uplo == distmat.Lower {
		m := n - i - 1
		v := make([]T, m)
		v[0] = scalars.FromFloat[T](1)
		copy(v[1:], tail)
		a[i*lda+i+1] = beta
		for k, vk := range tail {
			a[i*lda+i+2+k] = vk
		}
		if scalars.Abs(tau) == 0 {
			return
		}
		// Sub-block view of a starting at (i+1, i+1).
		sub := a[(i+1)*lda+i+1:]
		x := make([]T, m)
		hemvStored(uplo, m, sub, lda, v, x)
		for k := range x {
			x[k] *= tau
		}
		var dot T
		for k := range x {
			dot += scalars.Conj(x[k]) * v[k]
		}
		half := tau * dot / scalars.FromFloat[T](2)
		for k := range x {
			x[k] -= half * v[k]
		}
		her2Stored(uplo, m, sub, lda, v, x)
		return
	}
	v := make([]T, i)
	copy(v, tail)
	v[i-1] = scalars.FromFloat[T](1)
	a[i*lda+i-1] = beta
	for k, vk := range tail {
		a[i*lda+k] = vk
	}
	if scalars.Abs(tau) == 0 {
		return
	}
	x := make([]T, i)
	hemvStored(uplo, i, a, lda, v, x)
	for k := range x {
		x[k] *= tau
	}
	var dot T
	for k := range x {
		dot += scalars.Conj(x[k]) * v[k]
	}
	half := tau * dot / scalars.FromFloat[T](2)
	for k := range x {
		x[k] -= half * v[k]
	}
	her2Stored(uplo, i, a, lda, v, x)
}

// her2Stored applies A -= v*xᴴ + x*vᴴ to the uplo triangle of an n×n A.
func her2Stored[T scalars.Scalar](uplo distmat.Uplo, n int, a []T, lda int, v, x []T) {
	for j := 0; j < n; j++ {
		lo, hi := j, n
		if uplo == distmat.Upper {
			lo, hi = 0, j+1
		}
		for i := lo; i < hi; i++ {
			a[j*lda+i] -= v[i]*scalars.Conj(x[j]) + x[i]*scalars.Conj(v[j])
		}
	}
}
