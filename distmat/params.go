package distmat

// Parameter enums shared by the triangular and rank-k routines. They live
// with the matrix type so that both the distributed and the local kernels
// speak the same vocabulary.

// Side selects which side a triangular operand multiplies from.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "Left"
	}
	return "Right"
}

// Uplo selects the stored triangle of a triangular or symmetric matrix.
type Uplo int

const (
	Lower Uplo = iota
	Upper
)

func (u Uplo) String() string {
	if u == Lower {
		return "Lower"
	}
	return "Upper"
}

// Orientation selects the transposition applied to an operand.
type Orientation int

const (
	Normal Orientation = iota
	Transpose
	Adjoint // Conjugate-transpose.
)

func (o Orientation) String() string {
	switch o {
	case Normal:
		return "Normal"
	case Transpose:
		return "Transpose"
	}
	return "Adjoint"
}

// Diag tells whether a triangular matrix has an implicit unit diagonal.
type Diag int

const (
	NonUnit Diag = iota
	Unit
)

func (d Diag) String() string {
	if d == NonUnit {
		return "NonUnit"
	}
	return "Unit"
}
