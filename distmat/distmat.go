package distmat

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/distla/grid"
	"github.com/gomlx/distla/types/scalars"
)

// DistMatrix is one global height×width matrix sharded across a process
// grid under a distribution scheme pair.
//
// Every process holds the local entries its axis ranks own, in a
// column-major buffer with leading dimension ld. A view (created with
// ViewOf/LockedViewOf or the partition helpers) aliases a sub-rectangle of
// another matrix's buffer and must not outlive it; a locked view addition-
// ally rejects mutation.
//
// All methods that communicate are collective over the grid: every process
// must call them together, or the grid deadlocks.
type DistMatrix[T scalars.Scalar] struct {
	g    *grid.Grid
	dist Dist

	height, width int

	// rowAlign/colAlign are the shard indices owning global row/column 0;
	// rowShift/colShift are this process's first global row/column.
	rowAlign, colAlign int
	rowShift, colShift int
	// diagPath selects the grid diagonal an MD axis lives on.
	diagPath int

	constrainedRow, constrainedCol bool

	viewing, locked bool

	data []T
	ld   int
}

// New creates a zero-sized matrix with the given scheme pair on g, with
// free alignment 0 along both axes. Use Resize to give it an extent.
func New[T scalars.Scalar](g *grid.Grid, dist Dist) *DistMatrix[T] {
	if !dist.IsLegal() {
		exceptions.Panicf("distmat.New: scheme pair %s is not in the catalogue", dist)
	}
	m := &DistMatrix[T]{g: g, dist: dist}
	m.updateShifts()
	return m
}

// NewOfSize is New followed by Resize.
func NewOfSize[T scalars.Scalar](g *grid.Grid, dist Dist, height, width int) *DistMatrix[T] {
	m := New[T](g, dist)
	m.Resize(height, width)
	return m
}

// Grid returns the process grid the matrix is distributed over. The matrix
// never owns the grid.
func (m *DistMatrix[T]) Grid() *grid.Grid { return m.g }

// Dist returns the matrix's scheme pair.
func (m *DistMatrix[T]) Dist() Dist { return m.dist }

// Height returns the global number of rows.
func (m *DistMatrix[T]) Height() int { return m.height }

// Width returns the global number of columns.
func (m *DistMatrix[T]) Width() int { return m.width }

// RowAlign returns the shard index owning global row 0.
func (m *DistMatrix[T]) RowAlign() int { return m.rowAlign }

// ColAlign returns the shard index owning global column 0.
func (m *DistMatrix[T]) ColAlign() int { return m.colAlign }

// RowShift returns the first global row stored on this process.
func (m *DistMatrix[T]) RowShift() int { return m.rowShift }

// ColShift returns the first global column stored on this process.
func (m *DistMatrix[T]) ColShift() int { return m.colShift }

// DiagPath returns the grid diagonal an MD axis is placed on (0 when no
// axis is MD-distributed).
func (m *DistMatrix[T]) DiagPath() int { return m.diagPath }

// Viewing reports whether the matrix aliases another matrix's storage.
func (m *DistMatrix[T]) Viewing() bool { return m.viewing }

// Locked reports whether the matrix is an immutable view.
func (m *DistMatrix[T]) Locked() bool { return m.locked }

// RowStride returns the cyclic stride between consecutive local rows.
func (m *DistMatrix[T]) RowStride() int { return shards(m.dist.Row, m.g) }

// ColStride returns the cyclic stride between consecutive local columns.
func (m *DistMatrix[T]) ColStride() int { return shards(m.dist.Col, m.g) }

// rowRank/colRank are this process's shard indices along each axis, -1 when
// the process holds nothing along an MD axis.
func (m *DistMatrix[T]) rowRank() int {
	return axisRankAt(m.dist.Row, m.g, m.g.Row(), m.g.Col(), m.diagPath)
}

func (m *DistMatrix[T]) colRank() int {
	return axisRankAt(m.dist.Col, m.g, m.g.Row(), m.g.Col(), m.diagPath)
}

func (m *DistMatrix[T]) updateShifts() {
	m.rowShift = Shift(m.rowRank(), m.rowAlign, m.RowStride())
	m.colShift = Shift(m.colRank(), m.colAlign, m.ColStride())
}

// LocalHeight returns the number of global rows stored on this process.
func (m *DistMatrix[T]) LocalHeight() int {
	if m.rowRank() < 0 {
		return 0
	}
	return LocalLength(m.height, m.rowShift, m.RowStride())
}

// LocalWidth returns the number of global columns stored on this process.
func (m *DistMatrix[T]) LocalWidth() int {
	if m.colRank() < 0 {
		return 0
	}
	return LocalLength(m.width, m.colShift, m.ColStride())
}

// LDim returns the leading dimension of the local column-major buffer.
func (m *DistMatrix[T]) LDim() int { return m.ld }

// LocalData returns the local column-major buffer. Mutating it on a locked
// view panics.
func (m *DistMatrix[T]) LocalData() []T {
	if m.locked {
		exceptions.Panicf("distmat: LocalData on a locked view; use LockedLocalData")
	}
	return m.data
}

// LockedLocalData returns the local buffer for read-only use.
func (m *DistMatrix[T]) LockedLocalData() []T { return m.data }

// LocalGet returns local entry (i, j) of the local buffer.
func (m *DistMatrix[T]) LocalGet(i, j int) T { return m.data[j*m.ld+i] }

// LocalSet stores local entry (i, j). Panics on a locked view.
func (m *DistMatrix[T]) LocalSet(i, j int, v T) {
	if m.locked {
		exceptions.Panicf("distmat: LocalSet on a locked view")
	}
	m.data[j*m.ld+i] = v
}

// GlobalRow returns the global row index of local row li.
func (m *DistMatrix[T]) GlobalRow(li int) int { return m.rowShift + li*m.RowStride() }

// GlobalCol returns the global column index of local column lj.
func (m *DistMatrix[T]) GlobalCol(lj int) int { return m.colShift + lj*m.ColStride() }

// OwnsRow reports whether this process stores global row i, and at which
// local row.
func (m *DistMatrix[T]) OwnsRow(i int) (li int, ok bool) {
	r := m.rowRank()
	stride := m.RowStride()
	if r < 0 || ((m.rowAlign+i)%stride+stride)%stride != r {
		return 0, false
	}
	return (i - m.rowShift) / stride, true
}

// OwnsCol reports whether this process stores global column j, and at which
// local column.
func (m *DistMatrix[T]) OwnsCol(j int) (lj int, ok bool) {
	c := m.colRank()
	stride := m.ColStride()
	if c < 0 || ((m.colAlign+j)%stride+stride)%stride != c {
		return 0, false
	}
	return (j - m.colShift) / stride, true
}

// Resize reallocates local storage for a height×width global extent under
// the current scheme and alignment. No data is preserved: callers needing
// the old contents must copy or redistribute first. Resizing a view panics
// unless the extents are unchanged.
func (m *DistMatrix[T]) Resize(height, width int) {
	if height < 0 || width < 0 {
		exceptions.Panicf("distmat.Resize: negative extent %dx%d", height, width)
	}
	if m.viewing {
		if height != m.height || width != m.width {
			exceptions.Panicf("distmat.Resize: cannot resize a view from %dx%d to %dx%d",
				m.height, m.width, height, width)
		}
		return
	}
	m.height, m.width = height, width
	m.updateShifts()
	lh, lw := m.LocalHeight(), m.LocalWidth()
	m.ld = max(lh, 1)
	m.data = make([]T, m.ld*lw)
}

// Empty resets the matrix to 0x0 and releases local storage. A view merely
// detaches.
func (m *DistMatrix[T]) Empty() {
	m.height, m.width = 0, 0
	m.viewing, m.locked = false, false
	m.data, m.ld = nil, 0
	m.updateShifts()
}

// Zero overwrites every local entry with zero.
func (m *DistMatrix[T]) Zero() {
	if m.locked {
		exceptions.Panicf("distmat: Zero on a locked view")
	}
	var zero T
	lh, lw := m.LocalHeight(), m.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		col := m.data[lj*m.ld : lj*m.ld+lh]
		for i := range col {
			col[i] = zero
		}
	}
}

// assertSameGrid panics when two matrices do not share a grid; conversions
// and alignment across grids are illegal.
func assertSameGrid[T, S scalars.Scalar](a *DistMatrix[T], b *DistMatrix[S]) {
	if a.g != b.g {
		exceptions.Panicf("distmat: matrices are distributed over different grids")
	}
}
