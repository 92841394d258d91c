package distmat

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/distla/grid"
	"github.com/gomlx/distla/types/scalars"
)

// Alignment discipline: alignment is metadata fixed before a matrix is
// populated. Changing it afterwards silently invalidates local contents (the
// panel routines always align before resizing, never after). A matrix
// becomes alignment-constrained once aligned or viewed; re-aligning a
// constrained matrix to a conflicting value is a logic error.

// SetRowAlign fixes the shard owning global row 0 and marks the row axis
// alignment-constrained.
func (m *DistMatrix[T]) SetRowAlign(align int) {
	m.setAlign(align, m.rowAlign, m.constrainedRow, "row")
	m.rowAlign = align
	m.constrainedRow = true
	m.updateShifts()
}

// SetColAlign fixes the shard owning global column 0 and marks the column
// axis alignment-constrained.
func (m *DistMatrix[T]) SetColAlign(align int) {
	m.setAlign(align, m.colAlign, m.constrainedCol, "column")
	m.colAlign = align
	m.constrainedCol = true
	m.updateShifts()
}

func (m *DistMatrix[T]) setAlign(align, current int, constrained bool, axis string) {
	if m.viewing {
		exceptions.Panicf("distmat: cannot re-align a view")
	}
	if constrained && current != align {
		exceptions.Panicf("distmat: %s axis is alignment-constrained to %d, cannot re-align to %d",
			axis, current, align)
	}
}

// FreeAlignments lifts the alignment constraints, allowing a temporary to
// be re-aligned for the next panel iteration.
func (m *DistMatrix[T]) FreeAlignments() {
	if m.viewing {
		exceptions.Panicf("distmat: cannot free the alignments of a view")
	}
	m.constrainedRow, m.constrainedCol = false, false
}

// AlignRowsWith adopts other's row-axis alignment, translated to m's row
// scheme when the schemes differ but are compatible (a VC/VR axis may adopt
// from or donate to its 2D counterpart). Incompatible schemes are a no-op,
// matching the source algorithms' blanket AlignWith calls.
func (m *DistMatrix[T]) AlignRowsWith(other *DistMatrix[T]) {
	if a, ok := translateAlign(m.dist.Row, other.dist.Row, other.rowAlign, m.g); ok {
		m.SetRowAlign(a)
	}
}

// AlignColsWith adopts other's column-axis alignment; see AlignRowsWith.
func (m *DistMatrix[T]) AlignColsWith(other *DistMatrix[T]) {
	if a, ok := translateAlign(m.dist.Col, other.dist.Col, other.colAlign, m.g); ok {
		m.SetColAlign(a)
	}
}

// AlignWith adopts other's alignment along both axes, wherever the schemes
// are compatible.
func (m *DistMatrix[T]) AlignWith(other *DistMatrix[T]) {
	m.AlignRowsWith(other)
	m.AlignColsWith(other)
}

// translateAlign maps an alignment value from scheme `from` to scheme `to`.
// The second result is false when the schemes share no process axis (e.g.
// MC and MR), in which case no alignment is adopted.
func translateAlign(to, from Distribution, align int, g *grid.Grid) (int, bool) {
	if to == Star || from == Star || to == MD || from == MD {
		return 0, false
	}
	if to == from {
		return align, true
	}
	switch {
	case to == MC && (from == VC || from == VR):
		return align % g.Height(), true
	case to == MR && (from == VC || from == VR):
		return align % g.Width(), true
	case (to == VC || to == VR) && from == MC:
		return align % g.Height(), true
	case (to == VC || to == VR) && from == MR:
		return align % g.Width(), true
	}
	return 0, false
}

// AlignWithDiag aligns an MD-distributed axis of m with the diagonal of a
// at the given offset (negative offsets select sub-diagonals), so that
// diagonal entry k of a and entry k of m live on the same process.
func AlignWithDiag[T, S scalars.Scalar](m *DistMatrix[T], a *DistMatrix[S], offset int) {
	assertSameGrid(m, a)
	if m.dist.Row != MD && m.dist.Col != MD {
		exceptions.Panicf("distmat.AlignWithDiag: matrix is %s, not MD-distributed", m.dist)
	}
	g := m.g
	// Grid coordinates of the process owning diagonal entry 0.
	i, j := 0, 0
	if offset < 0 {
		i = -offset
	} else {
		j = offset
	}
	prow := ownerShard(a.rowAlign, i, shards(a.dist.Row, g))
	pcol := ownerShard(a.colAlign, j, shards(a.dist.Col, g))
	path, rank := grid.DiagPlacement(g.Height(), g.Width(), prow, pcol)
	m.diagPath = path
	if m.dist.Row == MD {
		m.SetRowAlign(rank)
	} else {
		m.SetColAlign(rank)
	}
}

// ownerShard returns the shard owning global index k under the given
// alignment and shard count.
func ownerShard(align, k, stride int) int {
	return ((align+k)%stride + stride) % stride
}
