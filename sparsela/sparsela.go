// Package sparsela defines the boundary to a sparse-direct collaborator:
// a symbolic analysis of the sparsity structure followed by a numeric
// factorization and repeated solves. The dense reference implementation
// backs the contract with the dense Cholesky path so the boundary is
// testable without a sparse engine behind it.
package sparsela

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/distla/dblas"
	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/dlapack"
	"github.com/gomlx/distla/types/scalars"
)

// Pattern is the sparsity structure of a symmetric n×n matrix: for each
// column, the rows of its stored lower-triangle entries. The diagonal is
// implicit.
type Pattern struct {
	N       int
	Columns [][]int
}

// Check validates the structure.
func (p Pattern) Check() error {
	if p.N < 0 {
		return errors.Errorf("sparsela: negative dimension %d", p.N)
	}
	if len(p.Columns) != p.N {
		return errors.Errorf("sparsela: %d columns for dimension %d", len(p.Columns), p.N)
	}
	for j, rows := range p.Columns {
		for _, i := range rows {
			if i <= j || i >= p.N {
				return errors.Errorf("sparsela: entry (%d,%d) outside the strict lower triangle", i, j)
			}
		}
	}
	return nil
}

// SymbolicFactorizer analyzes a sparsity pattern into an elimination plan.
// Implementations may reorder; the plan is independent of numeric values
// and reusable across factorizations.
type SymbolicFactorizer[T scalars.Scalar] interface {
	Analyze(p Pattern) (NumericFactorizer[T], error)
}

// NumericFactorizer binds a plan to the values of one matrix.
type NumericFactorizer[T scalars.Scalar] interface {
	// Factor consumes the uplo=Lower values of the symmetric positive
	// definite A, which must conform to the analyzed pattern's
	// dimension. The matrix is not modified.
	Factor(a *distmat.DistMatrix[T], opts dblas.Options) (Factorization[T], error)
}

// Factorization solves against the factored matrix.
type Factorization[T scalars.Scalar] interface {
	// Solve overwrites each column of b with the corresponding solution.
	Solve(b *distmat.DistMatrix[T]) error
}

// DenseFactorizer is the reference implementation: it ignores the
// sparsity beyond validation and routes Factor/Solve through the dense
// distributed Cholesky.
type DenseFactorizer[T scalars.Scalar] struct{}

func (DenseFactorizer[T]) Analyze(p Pattern) (NumericFactorizer[T], error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	return &denseNumeric[T]{n: p.N}, nil
}

type denseNumeric[T scalars.Scalar] struct {
	n int
}

func (d *denseNumeric[T]) Factor(a *distmat.DistMatrix[T], opts dblas.Options) (Factorization[T], error) {
	if a.Height() != d.n || a.Width() != d.n {
		exceptions.Panicf("sparsela: matrix is %dx%d, analysis was for dimension %d",
			a.Height(), a.Width(), d.n)
	}
	l := distmat.New[T](a.Grid(), a.Dist())
	l.RedistributeFrom(a)
	if err := dlapack.Chol(distmat.Lower, l, opts); err != nil {
		return nil, errors.WithMessage(err, "sparsela: dense reference factorization failed")
	}
	return &denseFactorization[T]{l: l, opts: opts}, nil
}

type denseFactorization[T scalars.Scalar] struct {
	l    *distmat.DistMatrix[T]
	opts dblas.Options
}

func (f *denseFactorization[T]) Solve(b *distmat.DistMatrix[T]) error {
	if b.Height() != f.l.Height() {
		return errors.Errorf("sparsela: right-hand sides have %d rows, factor has %d", b.Height(), f.l.Height())
	}
	one := scalars.FromFloat[T](1)
	dblas.Trsm(distmat.Left, distmat.Lower, distmat.Normal, distmat.NonUnit, one, f.l, b, f.opts)
	dblas.Trsm(distmat.Left, distmat.Lower, distmat.Adjoint, distmat.NonUnit, one, f.l, b, f.opts)
	return nil
}
