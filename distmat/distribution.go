// Package distmat implements matrices sharded across a 2D process grid.
//
// A DistMatrix holds one global matrix whose row and column indices are each
// distributed under one of six schemes (see Distribution). The pair of
// schemes, together with an alignment per axis, fully determines which
// process owns every global entry and at which local offset: all processes
// compute ownership from metadata alone, without communication.
//
// Conversion between scheme pairs (RedistributeFrom) goes through a dispatch
// table of registered collective conversions; see redistribute.go.
package distmat

import (
	"fmt"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/distla/grid"
)

// Distribution is the rule sharding one axis of a matrix across the grid.
type Distribution int

const (
	// Star replicates the axis: every process holds the full extent.
	Star Distribution = iota
	// MC interleaves the axis across the grid's rows (the column-group
	// communicator).
	MC
	// MR interleaves the axis across the grid's columns (the row-group
	// communicator).
	MR
	// MD interleaves the axis along one diagonal path of the grid.
	MD
	// VC interleaves the axis across all processes in column-major order.
	VC
	// VR interleaves the axis across all processes in row-major order.
	VR
)

// String implements fmt.Stringer, using the traditional notation.
func (d Distribution) String() string {
	switch d {
	case Star:
		return "*"
	case MC:
		return "MC"
	case MR:
		return "MR"
	case MD:
		return "MD"
	case VC:
		return "VC"
	case VR:
		return "VR"
	}
	return fmt.Sprintf("Distribution(%d)", int(d))
}

// Dist is a full distribution scheme: Row shards the row index, Col the
// column index. The standard 2D-cyclic matrix is Dist{MC, MR}.
type Dist struct {
	Row, Col Distribution
}

func (d Dist) String() string {
	return fmt.Sprintf("[%s,%s]", d.Row, d.Col)
}

// Catalogue lists every legal scheme pair. A Dist outside this set cannot
// be given to New.
var Catalogue = []Dist{
	{MC, MR}, {MR, MC},
	{MC, Star}, {Star, MC},
	{MR, Star}, {Star, MR},
	{MD, Star}, {Star, MD},
	{VC, Star}, {Star, VC},
	{VR, Star}, {Star, VR},
	{Star, Star},
}

// IsLegal reports whether d is in the catalogue.
func (d Dist) IsLegal() bool {
	for _, legal := range Catalogue {
		if d == legal {
			return true
		}
	}
	return false
}

// shards returns the number of shards distribution d splits an axis into on
// grid g (the cyclic stride between consecutive local entries).
func shards(d Distribution, g *grid.Grid) int {
	switch d {
	case Star:
		return 1
	case MC:
		return g.Height()
	case MR:
		return g.Width()
	case MD:
		gg := gcd(g.Height(), g.Width())
		return g.Height() / gg * g.Width()
	case VC, VR:
		return g.Size()
	}
	exceptions.Panicf("distmat: unknown distribution %d", int(d))
	return 0
}

// axisRankAt returns the shard index of the process at grid coordinates
// (row, col) under distribution d, or -1 if that process holds no data
// along the axis (an MD axis on a process off the diagonal path).
func axisRankAt(d Distribution, g *grid.Grid, row, col, diagPath int) int {
	switch d {
	case Star:
		return 0
	case MC:
		return row
	case MR:
		return col
	case MD:
		path, rank := grid.DiagPlacement(g.Height(), g.Width(), row, col)
		if path != diagPath {
			return -1
		}
		return rank
	case VC:
		return col*g.Height() + row
	case VR:
		return row*g.Width() + col
	}
	exceptions.Panicf("distmat: unknown distribution %d", int(d))
	return -1
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// LocalLength is the standard cyclic local-length formula: the number of
// global indices in [0, extent) congruent to shift modulo stride.
func LocalLength(extent, shift, stride int) int {
	if extent <= shift {
		return 0
	}
	return (extent - shift + stride - 1) / stride
}

// Shift returns the first global index held by the process with the given
// axis rank under the given alignment and shard count.
func Shift(axisRank, align, stride int) int {
	if axisRank < 0 {
		return 0
	}
	return ((axisRank-align)%stride + stride) % stride
}
