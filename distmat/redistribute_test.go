package distmat

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/distla/grid"
	"github.com/gomlx/distla/gridtest"
	"github.com/gomlx/distla/types/scalars"
)

// requireGlobalContents checks every local entry of m against the
// deterministic generator, i.e. that m holds the matrix SetToRandom(seed)
// builds, whatever m's scheme.
func requireGlobalContents[T scalars.Scalar](t *testing.T, m *DistMatrix[T], seed uint64) {
	t.Helper()
	for lj := 0; lj < m.LocalWidth(); lj++ {
		for li := 0; li < m.LocalHeight(); li++ {
			i, j := m.GlobalRow(li), m.GlobalCol(lj)
			require.Equal(t, GaussianEntry[T](seed, i, j), m.LocalGet(li, lj),
				"%s entry (%d,%d)", m.Dist(), i, j)
		}
	}
}

// Every registered conversion must move the data without corrupting it:
// populate the source scheme, convert, and check the target holds the same
// global matrix bit for bit.
func TestRegisteredConversions(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const height, width, seed = 7, 5, 3
		// Conversions are collective, so every rank must walk the table in
		// the same order; map order differs per goroutine.
		pairs := make([][2]Dist, 0, len(conversionScopes))
		for pair := range conversionScopes {
			pairs = append(pairs, pair)
		}
		sort.Slice(pairs, func(i, j int) bool {
			return fmt.Sprintf("%s%s", pairs[i][0], pairs[i][1]) < fmt.Sprintf("%s%s", pairs[j][0], pairs[j][1])
		})
		for _, pair := range pairs {
			src := NewOfSize[float64](g, pair[0], height, width)
			src.SetToRandom(seed)
			dst := New[float64](g, pair[1])
			dst.RedistributeFrom(src)
			require.Equal(t, height, dst.Height())
			require.Equal(t, width, dst.Width())
			requireGlobalContents(t, dst, seed)
		}
	})
}

// Round-trip through every scheme of the catalogue and back to 2D-cyclic.
// MD schemes have no direct conversion from [MC,MR]; they route through the
// fully replicated scheme.
func TestCatalogueRoundTrip(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const height, width, seed = 9, 6, 17
		twoD := Dist{MC, MR}
		a := NewOfSize[complex128](g, twoD, height, width)
		a.SetToRandom(seed)
		for _, dist := range Catalogue {
			mid := New[complex128](g, dist)
			back := New[complex128](g, twoD)
			if dist.Row == MD || dist.Col == MD {
				repl := New[complex128](g, Dist{Star, Star})
				repl.RedistributeFrom(a)
				mid.RedistributeFrom(repl)
				requireGlobalContents(t, mid, seed)
				repl2 := New[complex128](g, Dist{Star, Star})
				repl2.RedistributeFrom(mid)
				back.RedistributeFrom(repl2)
			} else {
				mid.RedistributeFrom(a)
				requireGlobalContents(t, mid, seed)
				back.RedistributeFrom(mid)
			}
			requireGlobalContents(t, back, seed)
		}
	})
}

func TestRedistributeUnregisteredPanics(t *testing.T) {
	gridtest.OnGrid(t, 2, 2, func(t *testing.T, g *grid.Grid) {
		src := NewOfSize[float64](g, Dist{MC, MR}, 3, 3)
		dst := New[float64](g, Dist{MD, Star})
		require.Panics(t, func() { dst.RedistributeFrom(src) })
	})
}

// Same scheme, different alignment: the data takes the point-to-point
// ring-shift path and must arrive intact.
func TestAlignmentShift(t *testing.T) {
	gridtest.OnGrid(t, 2, 3, func(t *testing.T, g *grid.Grid) {
		const height, width, seed = 8, 7, 29
		a := NewOfSize[float64](g, Dist{MC, MR}, height, width)
		a.SetToRandom(seed)

		b := New[float64](g, Dist{MC, MR})
		b.SetRowAlign(1)
		b.SetColAlign(2)
		b.RedistributeFrom(a)
		// With row alignment 1, the process at grid row 1 holds global row 0.
		require.Equal(t, g.Row() == 1, b.RowShift() == 0)
		requireGlobalContents(t, b, seed)

		// And back to the free alignment.
		c := New[float64](g, Dist{MC, MR})
		c.RedistributeFrom(b)
		requireGlobalContents(t, c, seed)
	})
}

// A local conversion with skewed alignment silently widens to a full-grid
// exchange instead of selecting wrong entries.
func TestLocalConversionAlignmentEscalation(t *testing.T) {
	gridtest.OnGrid(t, 2, 2, func(t *testing.T, g *grid.Grid) {
		const height, width, seed = 6, 6, 31
		src := NewOfSize[float64](g, Dist{MC, Star}, height, width)
		src.SetToRandom(seed)

		dst := New[float64](g, Dist{MC, MR})
		dst.SetRowAlign(1) // conflicts with src's row alignment 0
		dst.RedistributeFrom(src)
		requireGlobalContents(t, dst, seed)

		// The VC refinement of MC is local only when the alignments agree
		// modulo the grid height.
		vc := New[float64](g, Dist{VC, Star})
		vc.SetRowAlign(3) // 3 % height(2) == 1 != src align 0
		vc.RedistributeFrom(src)
		requireGlobalContents(t, vc, seed)
	})
}

// An axis-scope conversion with skewed alignment on the fixed grid
// coordinate widens to a full-grid exchange. The escalation decision is
// metadata-only, so ranks whose local shard is empty take the same branch
// as the rest; a thin matrix leaves some ranks empty on purpose.
func TestAxisScopeAlignmentEscalation(t *testing.T) {
	gridtest.OnGrid(t, 2, 2, func(t *testing.T, g *grid.Grid) {
		const seed = 37
		src := NewOfSize[float64](g, Dist{MC, MR}, 1, 2)
		src.SetToRandom(seed)

		row := New[float64](g, Dist{MC, Star})
		row.SetRowAlign(1) // skewed on the grid-row coordinate RowComm fixes
		row.RedistributeFrom(src)
		requireGlobalContents(t, row, seed)

		col := New[float64](g, Dist{Star, MR})
		col.SetColAlign(1)
		col.RedistributeFrom(src)
		requireGlobalContents(t, col, seed)

		// The trailing-block view of a panel sweep carries a nonzero view
		// alignment into its [VC,*] shadow.
		big := NewOfSize[float64](g, Dist{MC, MR}, 6, 6)
		big.SetToRandom(seed)
		var tail DistMatrix[float64]
		tail.LockedViewOf(big, 3, 3, 3, 3)
		p := New[float64](g, Dist{VC, Star})
		p.RedistributeFrom(&tail)
		for lj := 0; lj < p.LocalWidth(); lj++ {
			for li := 0; li < p.LocalHeight(); li++ {
				i, j := p.GlobalRow(li), p.GlobalCol(lj)
				require.Equal(t, GaussianEntry[float64](seed, i+3, j+3), p.LocalGet(li, lj))
			}
		}
	})
}

func TestRedistributeResizesTarget(t *testing.T) {
	gridtest.OnGrid(t, 1, 2, func(t *testing.T, g *grid.Grid) {
		src := NewOfSize[float64](g, Dist{MC, MR}, 4, 3)
		src.SetToRandom(1)
		dst := NewOfSize[float64](g, Dist{Star, Star}, 9, 9)
		dst.RedistributeFrom(src)
		require.Equal(t, 4, dst.Height())
		require.Equal(t, 3, dst.Width())
		requireGlobalContents(t, dst, 1)
	})
}

func TestSumScatterUpdate(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const height, width = 6, 5
		const base, extra = uint64(41), uint64(43)
		cases := []struct {
			dist     Dist
			replicas func() int
		}{
			{Dist{MC, Star}, func() int { return g.Width() }},
			{Dist{Star, MR}, func() int { return g.Height() }},
			{Dist{Star, Star}, func() int { return g.Size() }},
		}
		for _, tc := range cases {
			m := NewOfSize[float64](g, Dist{MC, MR}, height, width)
			m.SetToRandom(base)
			d := NewOfSize[float64](g, tc.dist, height, width)
			d.SetToRandom(extra)

			// Every replica group member contributes the same value, so
			// the reduce sums it once per member.
			m.SumScatterUpdate(0.5, d)
			factor := 0.5 * float64(tc.replicas())
			for lj := 0; lj < m.LocalWidth(); lj++ {
				for li := 0; li < m.LocalHeight(); li++ {
					i, j := m.GlobalRow(li), m.GlobalCol(lj)
					want := GaussianEntry[float64](base, i, j) + factor*GaussianEntry[float64](extra, i, j)
					require.InDelta(t, want, m.LocalGet(li, lj), 1e-13, "%s entry (%d,%d)", tc.dist, i, j)
				}
			}
		}
	})
}

func TestSumScatterUpdateRejectsMismatchedShapes(t *testing.T) {
	gridtest.OnGrid(t, 2, 2, func(t *testing.T, g *grid.Grid) {
		m := NewOfSize[float64](g, Dist{MC, MR}, 4, 4)
		wrongDist := NewOfSize[float64](g, Dist{MR, Star}, 4, 4)
		require.Panics(t, func() { m.SumScatterUpdate(1, wrongDist) })
		wrongExtent := NewOfSize[float64](g, Dist{Star, Star}, 3, 4)
		require.Panics(t, func() { m.SumScatterUpdate(1, wrongExtent) })
	})
}
