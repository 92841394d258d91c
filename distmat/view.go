package distmat

import (
	"github.com/gomlx/exceptions"
)

// ViewOf turns m into a mutable alias over the height×width sub-rectangle
// of parent starting at global (i, j). The view shares parent's grid and
// scheme, derives its alignment and shifts for the sub-range, and owns no
// storage: it must not outlive parent, and mutations through it are visible
// in parent (and vice versa). Caller discipline, not the library, prevents
// concurrent use of overlapping regions.
//
// A sub-view of a cyclic distribution is always expressible: the view's
// local entries form a contiguous sub-block of parent's local buffer.
func (m *DistMatrix[T]) ViewOf(parent *DistMatrix[T], i, j, height, width int) {
	if parent.locked {
		exceptions.Panicf("distmat.ViewOf: parent is a locked view; use LockedViewOf")
	}
	m.viewOf(parent, i, j, height, width, false)
}

// LockedViewOf is ViewOf producing an immutable view: any mutation through
// it panics.
func (m *DistMatrix[T]) LockedViewOf(parent *DistMatrix[T], i, j, height, width int) {
	m.viewOf(parent, i, j, height, width, true)
}

// View aliases all of parent.
func (m *DistMatrix[T]) View(parent *DistMatrix[T]) {
	m.ViewOf(parent, 0, 0, parent.height, parent.width)
}

// LockedView aliases all of parent immutably.
func (m *DistMatrix[T]) LockedView(parent *DistMatrix[T]) {
	m.LockedViewOf(parent, 0, 0, parent.height, parent.width)
}

func (m *DistMatrix[T]) viewOf(parent *DistMatrix[T], i, j, height, width int, locked bool) {
	if i < 0 || j < 0 || height < 0 || width < 0 ||
		i+height > parent.height || j+width > parent.width {
		exceptions.Panicf("distmat: view (%d,%d) %dx%d out of bounds of %dx%d matrix",
			i, j, height, width, parent.height, parent.width)
	}
	rowStride, colStride := parent.RowStride(), parent.ColStride()

	m.g = parent.g
	m.dist = parent.dist
	m.diagPath = parent.diagPath
	m.height, m.width = height, width
	m.rowAlign = ownerShard(parent.rowAlign, i, rowStride)
	m.colAlign = ownerShard(parent.colAlign, j, colStride)
	m.constrainedRow, m.constrainedCol = true, true
	m.viewing = true
	m.locked = locked
	m.updateShifts()

	// The view's local entries are parent's local rows >= i and local
	// columns >= j: a contiguous sub-block at the same leading dimension.
	li0 := 0
	if parent.rowRank() >= 0 {
		li0 = LocalLength(i, parent.rowShift, rowStride)
	}
	lj0 := 0
	if parent.colRank() >= 0 {
		lj0 = LocalLength(j, parent.colShift, colStride)
	}
	m.ld = parent.ld
	offset := lj0*parent.ld + li0
	if offset < len(parent.data) {
		m.data = parent.data[offset:]
	} else {
		m.data = nil
	}
}
