package distmat

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/distla/comms"
	"github.com/gomlx/distla/grid"
	"github.com/gomlx/distla/types/scalars"
)

// convScope names the communicator a registered conversion exchanges over;
// it encodes the dominant collective pattern of the conversion:
//
//   - scopeLocal: each process selects its shard locally (no communication);
//   - scopeCol / scopeRow: a gather (all-to-all restricted to the axis
//     group) along the grid column / row;
//   - scopeAll: an all-to-all across the whole grid.
//
// Alignment-only changes take a separate point-to-point ring-shift path and
// never consult this table.
type convScope int

const (
	scopeLocal convScope = iota
	scopeCol             // Exchange within this process's grid column.
	scopeRow             // Exchange within this process's grid row.
	scopeAll             // Exchange across the whole grid.
)

// conversionScopes is the dispatch table of legal scheme-pair conversions,
// keyed by {source, target}. A pair absent from the table has no conversion
// path and RedistributeFrom panics on it.
var conversionScopes = map[[2]Dist]convScope{}

func register(src, dst Dist, scope convScope) {
	conversionScopes[[2]Dist{src, dst}] = scope
}

func init() {
	ss := Dist{Star, Star}
	// Replicated source: every target selects its shard locally.
	for _, dst := range Catalogue {
		register(ss, dst, scopeLocal)
	}
	// Gather to fully replicated: over the comm spanning the sharded axes.
	register(Dist{MC, Star}, ss, scopeCol)
	register(Dist{Star, MC}, ss, scopeCol)
	register(Dist{MR, Star}, ss, scopeRow)
	register(Dist{Star, MR}, ss, scopeRow)
	for _, d := range []Dist{{MC, MR}, {MR, MC}, {VC, Star}, {Star, VC}, {VR, Star}, {Star, VR}, {MD, Star}, {Star, MD}} {
		register(d, ss, scopeAll)
	}
	register(ss, ss, scopeLocal)

	// Replicate one axis of the 2D-cyclic scheme.
	register(Dist{MC, MR}, Dist{MC, Star}, scopeRow)
	register(Dist{MC, MR}, Dist{Star, MR}, scopeCol)
	register(Dist{MC, Star}, Dist{MC, MR}, scopeLocal)
	register(Dist{Star, MR}, Dist{MC, MR}, scopeLocal)
	register(Dist{MR, MC}, Dist{MR, Star}, scopeCol)
	register(Dist{MR, MC}, Dist{Star, MC}, scopeRow)
	register(Dist{MR, Star}, Dist{MR, MC}, scopeLocal)
	register(Dist{Star, MC}, Dist{MR, MC}, scopeLocal)

	// Transposed-grid exchange: data hops across both axes.
	register(Dist{MC, MR}, Dist{MR, MC}, scopeAll)
	register(Dist{MR, MC}, Dist{MC, MR}, scopeAll)
	register(Dist{MC, MR}, Dist{MR, Star}, scopeAll)
	register(Dist{MC, MR}, Dist{Star, MC}, scopeAll)
	register(Dist{MR, Star}, Dist{MC, MR}, scopeAll)
	register(Dist{Star, MC}, Dist{MC, MR}, scopeAll)
	register(Dist{MR, MC}, Dist{MC, Star}, scopeAll)
	register(Dist{MR, MC}, Dist{Star, MR}, scopeAll)
	register(Dist{MC, Star}, Dist{MR, MC}, scopeAll)
	register(Dist{Star, MR}, Dist{MR, MC}, scopeAll)

	// Vector-cyclic ↔ 2D-cyclic. A VC (VR) axis refines MC (MR), so one
	// direction is local and the other gathers along the complementary
	// axis.
	register(Dist{MC, Star}, Dist{VC, Star}, scopeLocal)
	register(Dist{VC, Star}, Dist{MC, Star}, scopeRow)
	register(Dist{Star, MC}, Dist{Star, VC}, scopeLocal)
	register(Dist{Star, VC}, Dist{Star, MC}, scopeRow)
	register(Dist{MR, Star}, Dist{VR, Star}, scopeLocal)
	register(Dist{VR, Star}, Dist{MR, Star}, scopeCol)
	register(Dist{Star, MR}, Dist{Star, VR}, scopeLocal)
	register(Dist{Star, VR}, Dist{Star, MR}, scopeCol)
	register(Dist{MC, MR}, Dist{VC, Star}, scopeRow)
	register(Dist{VC, Star}, Dist{MC, MR}, scopeRow)
	register(Dist{MC, MR}, Dist{Star, VR}, scopeCol)
	register(Dist{Star, VR}, Dist{MC, MR}, scopeCol)

	register(Dist{MC, MR}, Dist{VR, Star}, scopeAll)
	register(Dist{VR, Star}, Dist{MC, MR}, scopeAll)
	register(Dist{MC, MR}, Dist{Star, VC}, scopeAll)
	register(Dist{Star, VC}, Dist{MC, MR}, scopeAll)

	// Reordering the linearization crosses the whole grid.
	register(Dist{VC, Star}, Dist{VR, Star}, scopeAll)
	register(Dist{VR, Star}, Dist{VC, Star}, scopeAll)
	register(Dist{Star, VC}, Dist{Star, VR}, scopeAll)
	register(Dist{Star, VR}, Dist{Star, VC}, scopeAll)
}

// RedistributeFrom converts src's sharding into m's scheme, resizing m to
// src's global extent and preserving global contents exactly (pure data
// movement; no scalar arithmetic). Collective over the grid.
//
// It panics when the grids differ or when no conversion is registered for
// the (src, m) scheme pair. Same-scheme conversions with differing
// alignment take the ring-shift path.
func (m *DistMatrix[T]) RedistributeFrom(src *DistMatrix[T]) {
	assertSameGrid(m, src)
	if m.locked {
		exceptions.Panicf("distmat: RedistributeFrom into a locked view")
	}
	if m == src {
		return
	}
	m.Resize(src.height, src.width)
	if m.height == 0 || m.width == 0 {
		return
	}
	if m.dist == src.dist {
		if m.rowAlign == src.rowAlign && m.colAlign == src.colAlign && m.diagPath == src.diagPath {
			m.localCopyFrom(src)
			return
		}
		m.shiftFrom(src)
		return
	}
	scope, ok := conversionScopes[[2]Dist{src.dist, m.dist}]
	if !ok {
		exceptions.Panicf("distmat: no conversion path registered for %s -> %s", src.dist, m.dist)
	}
	if scope == scopeLocal {
		if m.locallySelectable(src) {
			m.selectLocalFrom(src)
			return
		}
		klog.V(1).Infof("distmat: %s -> %s alignment skew, widening to full-grid exchange", src.dist, m.dist)
		m.exchangeFrom(src, scopeAll)
		return
	}
	// A narrower scope only works when the untouched axes line up; an
	// alignment skew escalates to the full grid.
	if scope != scopeAll && !m.scopeSatisfiable(src, scope) {
		klog.V(1).Infof("distmat: %s -> %s alignment skew, widening to full-grid exchange", src.dist, m.dist)
		scope = scopeAll
	}
	m.exchangeFrom(src, scope)
}

// locallySelectable reports, from metadata alone so that every rank takes
// the same branch, whether each process already holds all entries of its
// shard under m's scheme in its local shard of src.
func (m *DistMatrix[T]) locallySelectable(src *DistMatrix[T]) bool {
	return localAxisCompatible(src.dist.Row, m.dist.Row, src.rowAlign, m.rowAlign, m.g) &&
		localAxisCompatible(src.dist.Col, m.dist.Col, src.colAlign, m.colAlign, m.g)
}

func localAxisCompatible(srcD, dstD Distribution, srcAlign, dstAlign int, g *grid.Grid) bool {
	switch {
	case srcD == Star:
		return true
	case srcD == dstD:
		return srcAlign == dstAlign
	case srcD == MC && dstD == VC:
		return dstAlign%g.Height() == srcAlign
	case srcD == MR && dstD == VR:
		return dstAlign%g.Width() == srcAlign
	}
	return false
}

// selectLocalFrom fills m's shard from the co-resident entries of src.
func (m *DistMatrix[T]) selectLocalFrom(src *DistMatrix[T]) {
	lh, lw := m.LocalHeight(), m.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		slj, ok := src.OwnsCol(m.GlobalCol(lj))
		if !ok {
			exceptions.Panicf("distmat: %s -> %s local selection miss on column %d", src.dist, m.dist, m.GlobalCol(lj))
		}
		for li := 0; li < lh; li++ {
			sli, ok := src.OwnsRow(m.GlobalRow(li))
			if !ok {
				exceptions.Panicf("distmat: %s -> %s local selection miss on row %d", src.dist, m.dist, m.GlobalRow(li))
			}
			m.LocalSet(li, lj, src.LocalGet(sli, slj))
		}
	}
}

// localCopyFrom copies src's local buffer (identical metadata).
func (m *DistMatrix[T]) localCopyFrom(src *DistMatrix[T]) {
	lh, lw := m.LocalHeight(), m.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		copy(m.data[lj*m.ld:lj*m.ld+lh], src.data[lj*src.ld:lj*src.ld+lh])
	}
}

// axisComm returns the communicator enumerating the shards of an axis
// distribution (axis-comm rank == axis rank, by construction of the grid).
func axisComm(d Distribution, g *grid.Grid) *comms.Comm {
	switch d {
	case MC:
		return g.ColComm()
	case MR:
		return g.RowComm()
	case VC:
		return g.VCComm()
	case VR:
		return g.VRComm()
	case MD:
		return g.DiagComm()
	}
	return nil
}

// shiftFrom handles a same-scheme alignment change: every process's local
// block moves wholesale to the process whose shard assignment matches under
// the new alignment, one point-to-point send and receive per shifted axis,
// with wraparound.
func (m *DistMatrix[T]) shiftFrom(src *DistMatrix[T]) {
	if m.diagPath != src.diagPath {
		// Moving between diagonal paths crosses the whole grid.
		m.exchangeFrom(src, scopeAll)
		return
	}
	buf := packLocal(src)
	if m.dist.Row != Star && m.rowAlign != src.rowAlign {
		c := axisComm(m.dist.Row, m.g)
		stride := m.RowStride()
		delta := ((m.rowAlign-src.rowAlign)%stride + stride) % stride
		dst := (c.Rank() + delta) % stride
		from := (c.Rank() - delta + stride) % stride
		buf = comms.SendRecv(c, buf, dst, from)
	}
	if m.dist.Col != Star && m.colAlign != src.colAlign {
		c := axisComm(m.dist.Col, m.g)
		stride := m.ColStride()
		delta := ((m.colAlign-src.colAlign)%stride + stride) % stride
		dst := (c.Rank() + delta) % stride
		from := (c.Rank() - delta + stride) % stride
		buf = comms.SendRecv(c, buf, dst, from)
	}
	unpackLocal(m, buf)
}

func packLocal[T scalars.Scalar](m *DistMatrix[T]) []T {
	lh, lw := m.LocalHeight(), m.LocalWidth()
	buf := make([]T, 0, lh*lw)
	for lj := 0; lj < lw; lj++ {
		buf = append(buf, m.data[lj*m.ld:lj*m.ld+lh]...)
	}
	return buf
}

func unpackLocal[T scalars.Scalar](m *DistMatrix[T], buf []T) {
	lh, lw := m.LocalHeight(), m.LocalWidth()
	if len(buf) != lh*lw {
		exceptions.Panicf("distmat: shifted block has %d entries, local extent is %dx%d",
			len(buf), lh, lw)
	}
	for lj := 0; lj < lw; lj++ {
		copy(m.data[lj*m.ld:lj*m.ld+lh], buf[lj*lh:(lj+1)*lh])
	}
}

// scopeComm returns the exchange communicator for a scope together with a
// mapping from its peer ranks to grid coordinates.
func (m *DistMatrix[T]) scopeComm(scope convScope) (*comms.Comm, func(peer int) (prow, pcol int)) {
	g := m.g
	switch scope {
	case scopeCol:
		return g.ColComm(), func(peer int) (int, int) { return peer, g.Col() }
	case scopeRow:
		return g.RowComm(), func(peer int) (int, int) { return g.Row(), peer }
	default:
		return g.VCComm(), func(peer int) (int, int) { return peer % g.Height(), peer / g.Height() }
	}
}

// scopeSatisfiable reports, from metadata alone so that every rank takes
// the same branch, whether the scope's peer group can reach every entry of
// every target shard. The peer group spans one grid coordinate fully; on
// the other, fixed coordinate each matrix axis that src pins cyclically
// must be pinned the same way by m, or some rank's shard lives outside its
// peer group.
func (m *DistMatrix[T]) scopeSatisfiable(src *DistMatrix[T], scope convScope) bool {
	return axisScopeCompatible(src.dist.Row, m.dist.Row, src.rowAlign, m.rowAlign, scope, m.g) &&
		axisScopeCompatible(src.dist.Col, m.dist.Col, src.colAlign, m.colAlign, scope, m.g)
}

func axisScopeCompatible(srcD, dstD Distribution, srcAlign, dstAlign int, scope convScope, g *grid.Grid) bool {
	srcPins, srcAt := fixedCoordPin(srcD, srcAlign, scope, g)
	if !srcPins {
		// Replicated across the fixed coordinate: every peer group holds it.
		return true
	}
	dstPins, dstAt := fixedCoordPin(dstD, dstAlign, scope, g)
	return dstPins && srcAt == dstAt
}

// fixedCoordPin reports whether distribution d of one matrix axis pins the
// grid coordinate the scope does not span, and at which cyclic alignment.
// MC and VC place consecutive entries on consecutive grid rows, MR and VR
// on consecutive grid columns; the vector schemes reduce modulo the axis
// stride.
func fixedCoordPin(d Distribution, align int, scope convScope, g *grid.Grid) (bool, int) {
	switch scope {
	case scopeRow:
		if d == MC || d == VC {
			return true, align % g.Height()
		}
	case scopeCol:
		if d == MR || d == VR {
			return true, align % g.Width()
		}
	}
	return false, 0
}

// canonicalHolder returns the lowest scope-comm rank holding (gi, gj) under
// src's metadata, or -1 if no peer does. With replicated source axes the
// entry is held by several peers; the lowest rank is the one that sends.
func canonicalHolder[T scalars.Scalar](src *DistMatrix[T], c *comms.Comm, coords func(int) (int, int), gi, gj int) int {
	for peer := 0; peer < c.Size(); peer++ {
		prow, pcol := coords(peer)
		if src.holdsAt(prow, pcol, gi, gj) {
			return peer
		}
	}
	return -1
}

// exchangeFrom is the conversion engine: one batched all-to-all over the
// scope communicator. Both sides enumerate the exchanged entries in global
// column-major order from metadata alone, so only raw values travel.
func (m *DistMatrix[T]) exchangeFrom(src *DistMatrix[T], scope convScope) {
	c, coords := m.scopeComm(scope)
	n := c.Size()

	parts := make([][]T, n)
	slh, slw := src.LocalHeight(), src.LocalWidth()
	for lj := 0; lj < slw; lj++ {
		gj := src.GlobalCol(lj)
		for li := 0; li < slh; li++ {
			gi := src.GlobalRow(li)
			if canonicalHolder(src, c, coords, gi, gj) != c.Rank() {
				continue // A lower-ranked replica sends this entry.
			}
			v := src.LocalGet(li, lj)
			for peer := 0; peer < n; peer++ {
				prow, pcol := coords(peer)
				if m.holdsAt(prow, pcol, gi, gj) {
					parts[peer] = append(parts[peer], v)
				}
			}
		}
	}

	received := comms.AllToAll(c, parts)

	cursors := make([]int, n)
	lh, lw := m.LocalHeight(), m.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		gj := m.GlobalCol(lj)
		for li := 0; li < lh; li++ {
			gi := m.GlobalRow(li)
			sender := canonicalHolder(src, c, coords, gi, gj)
			if sender < 0 {
				exceptions.Panicf("distmat: %s -> %s conversion cannot reach entry (%d,%d) over its scope",
					src.dist, m.dist, gi, gj)
			}
			m.LocalSet(li, lj, received[sender][cursors[sender]])
			cursors[sender]++
		}
	}
}

// SumScatterUpdate performs m += alpha*d, where d holds per-process partial
// contributions replicated along one axis of the grid: a reduce-scatter
// along that axis sums the contributions and assigns each entry to its
// owner under m's scheme. d must conform to m's extent and be aligned with
// m along its sharded axis.
//
// Legal shapes for d: [m.RowScheme, *], [*, m.ColScheme], and [*, *].
func (m *DistMatrix[T]) SumScatterUpdate(alpha T, d *DistMatrix[T]) {
	assertSameGrid(m, d)
	if m.locked {
		exceptions.Panicf("distmat: SumScatterUpdate into a locked view")
	}
	if d.height != m.height || d.width != m.width {
		exceptions.Panicf("distmat.SumScatterUpdate: target is %dx%d, contributions are %dx%d",
			m.height, m.width, d.height, d.width)
	}
	var scope convScope
	switch {
	case d.dist == (Dist{m.dist.Row, Star}) && d.rowAlign == m.rowAlign:
		scope = scopeRow
	case d.dist == (Dist{Star, m.dist.Col}) && d.colAlign == m.colAlign:
		scope = scopeCol
	case d.dist == (Dist{Star, Star}):
		scope = scopeAll
	default:
		exceptions.Panicf("distmat.SumScatterUpdate: contributions %s do not match target %s along a replicated axis",
			d.dist, m.dist)
	}
	c, coords := m.scopeComm(scope)
	n := c.Size()

	parts := make([][]T, n)
	dlh, dlw := d.LocalHeight(), d.LocalWidth()
	for lj := 0; lj < dlw; lj++ {
		gj := d.GlobalCol(lj)
		for li := 0; li < dlh; li++ {
			gi := d.GlobalRow(li)
			v := d.LocalGet(li, lj)
			for peer := 0; peer < n; peer++ {
				prow, pcol := coords(peer)
				if m.holdsAt(prow, pcol, gi, gj) {
					parts[peer] = append(parts[peer], v)
				}
			}
		}
	}
	summed := comms.ReduceScatter(c, parts, func(a, b T) T { return a + b })

	cursor := 0
	lh, lw := m.LocalHeight(), m.LocalWidth()
	for lj := 0; lj < lw; lj++ {
		for li := 0; li < lh; li++ {
			m.LocalSet(li, lj, m.LocalGet(li, lj)+alpha*summed[cursor])
			cursor++
		}
	}
}
