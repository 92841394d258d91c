package distmat

import (
	"github.com/gomlx/exceptions"
	"golang.org/x/exp/rand"

	"github.com/gomlx/distla/comms"
	"github.com/gomlx/distla/types/scalars"
)

// ownerVCRank returns the lowest VC rank of a process holding global entry
// (i, j); with replicated axes several processes hold it, and the lowest
// rank is the canonical one (every process computes the same answer from
// metadata alone).
func (m *DistMatrix[T]) ownerVCRank(i, j int) int {
	g := m.g
	for vc := 0; vc < g.Size(); vc++ {
		prow, pcol := vc%g.Height(), vc/g.Height()
		if m.holdsAt(prow, pcol, i, j) {
			return vc
		}
	}
	exceptions.Panicf("distmat: no process owns entry (%d,%d) of a %s matrix", i, j, m.dist)
	return -1
}

// holdsAt reports whether the process at grid coordinates (prow, pcol)
// stores global entry (i, j) under m's metadata.
func (m *DistMatrix[T]) holdsAt(prow, pcol, i, j int) bool {
	r := axisRankAt(m.dist.Row, m.g, prow, pcol, m.diagPath)
	c := axisRankAt(m.dist.Col, m.g, prow, pcol, m.diagPath)
	if r < 0 || c < 0 {
		return false
	}
	return ownerShard(m.rowAlign, i, m.RowStride()) == r &&
		ownerShard(m.colAlign, j, m.ColStride()) == c
}

// Get returns global entry (i, j). Collective: every process of the grid
// must call it with the same indices; the owner broadcasts the value so
// every caller observes the same result. This is a synchronization point,
// not a cheap local read.
func (m *DistMatrix[T]) Get(i, j int) T {
	m.checkIndex(i, j)
	owner := m.ownerVCRank(i, j)
	var payload []T
	if m.g.Rank() == owner {
		li, _ := m.OwnsRow(i)
		lj, _ := m.OwnsCol(j)
		payload = []T{m.LocalGet(li, lj)}
	}
	return comms.Broadcast(m.g.VCComm(), payload, owner)[0]
}

// Set stores v at global entry (i, j). Collective: every process must call
// it with the same arguments; each process holding a replica stores the
// value locally and no communication occurs. A one-sided set from a single
// process cannot be expressed with this API.
func (m *DistMatrix[T]) Set(i, j int, v T) {
	m.checkIndex(i, j)
	if m.locked {
		exceptions.Panicf("distmat: Set on a locked view")
	}
	li, okRow := m.OwnsRow(i)
	lj, okCol := m.OwnsCol(j)
	if okRow && okCol {
		m.LocalSet(li, lj, v)
	}
}

// Update adds v to global entry (i, j); collective like Set.
func (m *DistMatrix[T]) Update(i, j int, v T) {
	m.checkIndex(i, j)
	if m.locked {
		exceptions.Panicf("distmat: Update on a locked view")
	}
	li, okRow := m.OwnsRow(i)
	lj, okCol := m.OwnsCol(j)
	if okRow && okCol {
		m.LocalSet(li, lj, m.LocalGet(li, lj)+v)
	}
}

func (m *DistMatrix[T]) checkIndex(i, j int) {
	if i < 0 || i >= m.height || j < 0 || j >= m.width {
		exceptions.Panicf("distmat: entry (%d,%d) out of bounds of %dx%d matrix",
			i, j, m.height, m.width)
	}
}

// SetFrom fills the matrix from a function of the global indices. Purely
// local (each process evaluates f on the entries it owns); with replicated
// axes all replicas agree because f is deterministic.
func (m *DistMatrix[T]) SetFrom(f func(i, j int) T) {
	if m.locked {
		exceptions.Panicf("distmat: SetFrom on a locked view")
	}
	lh, lw := m.LocalHeight(), m.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		j := m.GlobalCol(lj)
		for li := 0; li < lh; li++ {
			m.LocalSet(li, lj, f(m.GlobalRow(li), j))
		}
	}
}

// SetToIdentity zeroes the matrix and sets the main diagonal to one.
func (m *DistMatrix[T]) SetToIdentity() {
	m.SetFrom(func(i, j int) T {
		if i == j {
			return scalars.FromFloat[T](1)
		}
		var zero T
		return zero
	})
}

// SetToRandom fills the matrix with standard Gaussian entries, derived
// deterministically from seed and the global indices so that replicas (and
// every distribution of the same global matrix) agree without
// communication.
func (m *DistMatrix[T]) SetToRandom(seed uint64) {
	m.SetFrom(func(i, j int) T {
		return GaussianEntry[T](seed, i, j)
	})
}

// GaussianEntry is the deterministic entry generator behind SetToRandom,
// exposed so tests can rebuild the same global matrix under any scheme.
func GaussianEntry[T scalars.Scalar](seed uint64, i, j int) T {
	key := seed ^ uint64(i)*0x9E3779B97F4A7C15 ^ uint64(j)*0xC2B2AE3D27D4EB4F
	rng := rand.New(rand.NewSource(key))
	if scalars.IsComplex[T]() {
		return scalars.FromComplex[T](complex(rng.NormFloat64(), rng.NormFloat64()))
	}
	return scalars.FromFloat[T](rng.NormFloat64())
}

// MakeTrapezoidal zeroes every entry outside the trapezoid delimited by the
// diagonal at the given offset: with Lower, entries above it; with Upper,
// entries below it. Purely local.
func (m *DistMatrix[T]) MakeTrapezoidal(uplo Uplo, offset int) {
	if m.locked {
		exceptions.Panicf("distmat: MakeTrapezoidal on a locked view")
	}
	var zero T
	lh, lw := m.LocalHeight(), m.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		j := m.GlobalCol(lj)
		for li := 0; li < lh; li++ {
			i := m.GlobalRow(li)
			if (uplo == Lower && j > i+offset) || (uplo == Upper && j < i+offset) {
				m.LocalSet(li, lj, zero)
			}
		}
	}
}

// DiagLength returns the number of entries on the diagonal of a
// height×width matrix at the given offset.
func DiagLength(height, width, offset int) int {
	if offset >= 0 {
		return max(min(height, width-offset), 0)
	}
	return max(min(height+offset, width), 0)
}

// diagEntry maps diagonal position k at the given offset to matrix indices.
func diagEntry(k, offset int) (i, j int) {
	if offset >= 0 {
		return k, k + offset
	}
	return k - offset, k
}

// GetDiagonal extracts the diagonal at the given offset into the vector e,
// which is resized to the diagonal length. Collective; the result is
// replicated or sharded according to e's own scheme (typically [MD,*]
// aligned with the diagonal, so no data moves at all).
func (m *DistMatrix[T]) GetDiagonal(e *DistMatrix[T], offset int) {
	assertSameGrid(m, e)
	n := DiagLength(m.height, m.width, offset)
	e.Resize(n, 1)

	// Owners contribute their diagonal entries; a sum over the grid
	// replicates the diagonal everywhere, and e selects its share.
	contrib := make([]T, n)
	for k := 0; k < n; k++ {
		i, j := diagEntry(k, offset)
		li, okRow := m.OwnsRow(i)
		lj, okCol := m.OwnsCol(j)
		if okRow && okCol && m.g.Rank() == m.ownerVCRank(i, j) {
			contrib[k] = m.LocalGet(li, lj)
		}
	}
	full := comms.AllReduce(m.g.VCComm(), contrib, func(a, b T) T { return a + b })
	for k := 0; k < n; k++ {
		if li, ok := e.OwnsRow(k); ok {
			if _, okc := e.OwnsCol(0); okc {
				e.LocalSet(li, 0, full[k])
			}
		}
	}
}

// SetDiagonal overwrites the diagonal at the given offset from the vector
// e. Collective: e is replicated across the grid first, then the owners
// store locally.
func (m *DistMatrix[T]) SetDiagonal(e *DistMatrix[T], offset int) {
	assertSameGrid(m, e)
	if m.locked {
		exceptions.Panicf("distmat: SetDiagonal on a locked view")
	}
	n := DiagLength(m.height, m.width, offset)
	if e.Height() != n || e.Width() != 1 {
		exceptions.Panicf("distmat.SetDiagonal: diagonal has %d entries, vector is %dx%d",
			n, e.Height(), e.Width())
	}

	contrib := make([]T, n)
	for k := 0; k < n; k++ {
		li, okRow := e.OwnsRow(k)
		_, okCol := e.OwnsCol(0)
		if okRow && okCol && e.g.Rank() == e.ownerVCRank(k, 0) {
			contrib[k] = e.LocalGet(li, 0)
		}
	}
	full := comms.AllReduce(m.g.VCComm(), contrib, func(a, b T) T { return a + b })
	for k := 0; k < n; k++ {
		i, j := diagEntry(k, offset)
		li, okRow := m.OwnsRow(i)
		lj, okCol := m.OwnsCol(j)
		if okRow && okCol {
			m.LocalSet(li, lj, full[k])
		}
	}
}
