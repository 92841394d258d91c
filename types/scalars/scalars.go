// Package scalars defines the scalar kinds distributed matrices are generic
// over (float32, float64, complex64 and complex128) plus the small set of
// kind-polymorphic helpers (conjugation, magnitude, conversion from real)
// the numeric code needs.
//
// Symmetric vs. Hermitian dispatch throughout the library keys on IsComplex:
// the real kinds select the symmetric local kernels, the complex kinds the
// Hermitian ones, with identical structure otherwise.
package scalars

import (
	"math"
	"math/cmplx"

	"golang.org/x/exp/constraints"
)

// Scalar is the constraint covering every element type a distributed matrix
// can hold.
type Scalar interface {
	~float32 | ~float64 | ~complex64 | ~complex128
}

// Float is the constraint covering the real kinds.
type Float = constraints.Float

// IsComplex reports whether T is one of the complex kinds.
func IsComplex[T Scalar]() bool {
	var zero T
	switch any(zero).(type) {
	case complex64, complex128:
		return true
	}
	return false
}

// Conj returns the complex conjugate of v; for the real kinds it is the
// identity.
func Conj[T Scalar](v T) T {
	switch x := any(v).(type) {
	case complex64:
		return any(complex(real(x), -imag(x))).(T)
	case complex128:
		return any(cmplx.Conj(x)).(T)
	}
	return v
}

// Abs returns |v| as a float64.
func Abs[T Scalar](v T) float64 {
	switch x := any(v).(type) {
	case float32:
		return math.Abs(float64(x))
	case float64:
		return math.Abs(x)
	case complex64:
		return cmplx.Abs(complex128(x))
	case complex128:
		return cmplx.Abs(x)
	}
	return 0 // Unreachable.
}

// Real returns the real part of v as a float64.
func Real[T Scalar](v T) float64 {
	switch x := any(v).(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	case complex64:
		return float64(real(x))
	case complex128:
		return real(x)
	}
	return 0 // Unreachable.
}

// FromFloat converts a real value to T (imaginary part zero for the complex
// kinds).
func FromFloat[T Scalar](v float64) T {
	var zero T
	switch any(zero).(type) {
	case float32:
		return any(float32(v)).(T)
	case float64:
		return any(v).(T)
	case complex64:
		return any(complex64(complex(v, 0))).(T)
	case complex128:
		return any(complex(v, 0)).(T)
	}
	return zero // Unreachable.
}

// FromComplex converts a complex value to T; converting a value with
// non-zero imaginary part to a real kind drops the imaginary part, which
// callers only do where it is mathematically zero.
func FromComplex[T Scalar](v complex128) T {
	var zero T
	switch any(zero).(type) {
	case float32:
		return any(float32(real(v))).(T)
	case float64:
		return any(real(v)).(T)
	case complex64:
		return any(complex64(v)).(T)
	case complex128:
		return any(v).(T)
	}
	return zero // Unreachable.
}

// Complex returns v as a complex128.
func Complex[T Scalar](v T) complex128 {
	switch x := any(v).(type) {
	case float32:
		return complex(float64(x), 0)
	case float64:
		return complex(x, 0)
	case complex64:
		return complex128(x)
	case complex128:
		return x
	}
	return 0 // Unreachable.
}

// Epsilon returns the relative machine precision of T's real base kind.
func Epsilon[T Scalar]() float64 {
	var zero T
	switch any(zero).(type) {
	case float32, complex64:
		return 0x1p-23
	}
	return 0x1p-52
}
