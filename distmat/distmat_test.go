package distmat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/distla/comms"
	"github.com/gomlx/distla/grid"
	"github.com/gomlx/distla/gridtest"
)

func TestLocalLength(t *testing.T) {
	for _, tc := range []struct{ extent, shift, stride, want int }{
		{10, 0, 1, 10},
		{10, 0, 3, 4},  // 0 3 6 9
		{10, 1, 3, 3},  // 1 4 7
		{10, 2, 3, 3},  // 2 5 8
		{3, 3, 3, 0},   // shift beyond the extent
		{0, 0, 4, 0},
		{7, 2, 7, 1},
	} {
		require.Equal(t, tc.want, LocalLength(tc.extent, tc.shift, tc.stride),
			"extent=%d shift=%d stride=%d", tc.extent, tc.shift, tc.stride)
	}
}

func TestShift(t *testing.T) {
	require.Equal(t, 0, Shift(0, 0, 3))
	require.Equal(t, 2, Shift(2, 0, 3))
	require.Equal(t, 1, Shift(2, 1, 3))
	require.Equal(t, 2, Shift(0, 1, 3)) // wraps around
	require.Equal(t, 0, Shift(-1, 0, 3)) // off-path process holds nothing
}

func TestDiagLength(t *testing.T) {
	require.Equal(t, 4, DiagLength(4, 4, 0))
	require.Equal(t, 3, DiagLength(4, 4, 1))
	require.Equal(t, 3, DiagLength(4, 4, -1))
	require.Equal(t, 0, DiagLength(4, 4, 4))
	require.Equal(t, 4, DiagLength(6, 4, 0))
	require.Equal(t, 4, DiagLength(6, 4, -2))
	require.Equal(t, 2, DiagLength(4, 6, 4))
	require.Equal(t, 0, DiagLength(0, 5, 0))
}

func TestCatalogueLegality(t *testing.T) {
	for _, d := range Catalogue {
		require.True(t, d.IsLegal(), "%s", d)
	}
	require.False(t, Dist{MC, MC}.IsLegal())
	require.False(t, Dist{MD, MD}.IsLegal())
	require.False(t, Dist{VC, VR}.IsLegal())
	require.False(t, Dist{MC, VC}.IsLegal())
}

// Each global entry must be held by exactly the replication factor of the
// scheme: once per process pair of sharded axes, everywhere for Star axes.
func TestOwnershipPartition(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const height, width = 7, 5
		for _, dist := range Catalogue {
			m := NewOfSize[float64](g, dist, height, width)
			counts := make([]int, height*width)
			for j := 0; j < width; j++ {
				for i := 0; i < height; i++ {
					li, okRow := m.OwnsRow(i)
					lj, okCol := m.OwnsCol(j)
					if okRow && okCol {
						counts[j*height+i] = 1
						// Local coordinates map back to the same
						// global entry.
						require.Equal(t, i, m.GlobalRow(li), "%s", dist)
						require.Equal(t, j, m.GlobalCol(lj), "%s", dist)
					}
				}
			}
			total := comms.AllReduce(g.VCComm(), counts, func(a, b int) int { return a + b })
			replicas := g.Size() / (m.RowStride() * m.ColStride())
			if dist.Row == MD || dist.Col == MD {
				// An MD axis uses only one diagonal path of the grid.
				replicas = 1
			}
			for k, c := range total {
				require.Equal(t, replicas, c, "%s entry (%d,%d)", dist, k%height, k/height)
			}
		}
	})
}

func TestLocalExtentsSumToGlobal(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const height, width = 11, 6
		for _, dist := range Catalogue {
			m := NewOfSize[float32](g, dist, height, width)
			local := []int{m.LocalHeight() * m.LocalWidth()}
			total := comms.AllReduce(g.VCComm(), local, func(a, b int) int { return a + b })[0]
			replicas := g.Size() / (m.RowStride() * m.ColStride())
			if dist.Row == MD || dist.Col == MD {
				replicas = 1
			}
			require.Equal(t, height*width*replicas, total, "%s", dist)
		}
	})
}

func TestSetFromAndCollectiveGet(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const seed = 7
		for _, dist := range Catalogue {
			m := NewOfSize[float64](g, dist, 5, 4)
			m.SetToRandom(seed)
			for j := 0; j < 4; j++ {
				for i := 0; i < 5; i++ {
					require.Equal(t, GaussianEntry[float64](seed, i, j), m.Get(i, j), "%s", dist)
				}
			}
		}
	})
}

func TestSetUpdateGet(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		m := NewOfSize[float64](g, Dist{MC, MR}, 4, 4)
		m.Set(1, 2, 42)
		require.Equal(t, 42.0, m.Get(1, 2))
		require.Equal(t, 0.0, m.Get(2, 1))
		m.Update(1, 2, -2)
		require.Equal(t, 40.0, m.Get(1, 2))
	})
}

func TestSetToIdentity(t *testing.T) {
	gridtest.OnGrid(t, 2, 2, func(t *testing.T, g *grid.Grid) {
		m := NewOfSize[complex128](g, Dist{MC, MR}, 3, 5)
		m.SetToRandom(3)
		m.SetToIdentity()
		for j := 0; j < 5; j++ {
			for i := 0; i < 3; i++ {
				want := complex128(0)
				if i == j {
					want = 1
				}
				require.Equal(t, want, m.Get(i, j))
			}
		}
	})
}

func TestMakeTrapezoidal(t *testing.T) {
	gridtest.OnGrid(t, 2, 3, func(t *testing.T, g *grid.Grid) {
		const n, seed = 6, 11
		lower := NewOfSize[float64](g, Dist{MC, MR}, n, n)
		lower.SetToRandom(seed)
		lower.MakeTrapezoidal(Lower, 0)
		upper := NewOfSize[float64](g, Dist{MC, MR}, n, n)
		upper.SetToRandom(seed)
		upper.MakeTrapezoidal(Upper, 1)
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				v := GaussianEntry[float64](seed, i, j)
				if j > i {
					require.Equal(t, 0.0, lower.Get(i, j))
				} else {
					require.Equal(t, v, lower.Get(i, j))
				}
				if j < i+1 {
					require.Equal(t, 0.0, upper.Get(i, j))
				} else {
					require.Equal(t, v, upper.Get(i, j))
				}
			}
		}
	})
}

func TestResizeAndZeroAndEmpty(t *testing.T) {
	gridtest.OnGrid(t, 2, 2, func(t *testing.T, g *grid.Grid) {
		m := New[float64](g, Dist{MC, MR})
		require.Equal(t, 0, m.Height())
		m.Resize(5, 3)
		require.Equal(t, 5, m.Height())
		require.Equal(t, 3, m.Width())
		require.Equal(t, LocalLength(5, m.RowShift(), 2), m.LocalHeight())
		m.SetToRandom(1)
		m.Zero()
		for lj := 0; lj < m.LocalWidth(); lj++ {
			for li := 0; li < m.LocalHeight(); li++ {
				require.Equal(t, 0.0, m.LocalGet(li, lj))
			}
		}
		m.Empty()
		require.Equal(t, 0, m.Height())
		require.Equal(t, 0, m.Width())
		require.Equal(t, 0, m.LocalHeight())
	})
}

func TestViews(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const seed = 5
		a := NewOfSize[float64](g, Dist{MC, MR}, 8, 6)
		a.SetToRandom(seed)

		var v DistMatrix[float64]
		v.ViewOf(a, 3, 2, 4, 3)
		require.True(t, v.Viewing())
		require.Equal(t, 4, v.Height())
		require.Equal(t, 3, v.Width())
		for j := 0; j < 3; j++ {
			for i := 0; i < 4; i++ {
				require.Equal(t, a.Get(3+i, 2+j), v.Get(i, j))
			}
		}

		// Writes through the view land in the parent.
		v.Set(0, 0, 99)
		require.Equal(t, 99.0, a.Get(3, 2))

		// A view of a view composes offsets.
		var vv DistMatrix[float64]
		vv.ViewOf(&v, 1, 1, 2, 2)
		require.Equal(t, a.Get(4, 3), vv.Get(0, 0))
	})
}

func TestLockedViewRejectsMutation(t *testing.T) {
	gridtest.OnGrid(t, 1, 2, func(t *testing.T, g *grid.Grid) {
		a := NewOfSize[float64](g, Dist{MC, MR}, 4, 4)
		var v DistMatrix[float64]
		v.LockedViewOf(a, 0, 0, 2, 2)
		require.True(t, v.Locked())
		require.Panics(t, func() { v.Set(0, 0, 1) })
		require.Panics(t, func() { v.Zero() })
		require.Panics(t, func() { v.LocalData() })
		require.NotPanics(t, func() { _ = v.LockedLocalData() })
	})
}

func TestViewAlignment(t *testing.T) {
	gridtest.OnGrid(t, 2, 3, func(t *testing.T, g *grid.Grid) {
		a := NewOfSize[float64](g, Dist{MC, MR}, 9, 9)
		var v DistMatrix[float64]
		v.ViewOf(a, 3, 4, 4, 4)
		require.Equal(t, 3%2, v.RowAlign())
		require.Equal(t, 4%3, v.ColAlign())
		require.Panics(t, func() { v.SetRowAlign(0) })
	})
}

func TestAlignmentConstraint(t *testing.T) {
	gridtest.OnGrid(t, 2, 2, func(t *testing.T, g *grid.Grid) {
		m := New[float64](g, Dist{MC, MR})
		m.SetRowAlign(1)
		require.Equal(t, 1, m.RowAlign())
		require.NotPanics(t, func() { m.SetRowAlign(1) })
		require.Panics(t, func() { m.SetRowAlign(0) })
		m.FreeAlignments()
		require.NotPanics(t, func() { m.SetRowAlign(0) })
	})
}

func TestAlignWith(t *testing.T) {
	gridtest.OnGrid(t, 2, 3, func(t *testing.T, g *grid.Grid) {
		a := New[float64](g, Dist{MC, MR})
		a.SetRowAlign(1)
		a.SetColAlign(2)

		b := New[float64](g, Dist{MC, MR})
		b.AlignWith(a)
		require.Equal(t, 1, b.RowAlign())
		require.Equal(t, 2, b.ColAlign())

		// A VC axis adopts from MC modulo the grid height.
		c := New[float64](g, Dist{VC, Star})
		c.AlignRowsWith(a)
		require.Equal(t, 1, c.RowAlign())

		// MR and MC share no process axis, so nothing is adopted.
		d := New[float64](g, Dist{MR, Star})
		d.AlignRowsWith(a)
		require.Equal(t, 0, d.RowAlign())
	})
}

func TestGetSetDiagonal(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const n, seed = 6, 13
		a := NewOfSize[float64](g, Dist{MC, MR}, n, n)
		a.SetToRandom(seed)

		e := New[float64](g, Dist{MD, Star})
		AlignWithDiag(e, a, 0)
		a.GetDiagonal(e, 0)
		require.Equal(t, n, e.Height())
		for k := 0; k < n; k++ {
			require.Equal(t, GaussianEntry[float64](seed, k, k), e.Get(k, 0))
		}

		// Sub-diagonal extraction.
		sub := New[float64](g, Dist{MD, Star})
		AlignWithDiag(sub, a, -1)
		a.GetDiagonal(sub, -1)
		require.Equal(t, n-1, sub.Height())
		for k := 0; k < n-1; k++ {
			require.Equal(t, GaussianEntry[float64](seed, k+1, k), sub.Get(k, 0))
		}

		// Round-trip through SetDiagonal after scaling.
		for k := 0; k < n; k++ {
			e.Set(k, 0, float64(k)+1)
		}
		a.SetDiagonal(e, 0)
		for k := 0; k < n; k++ {
			require.Equal(t, float64(k)+1, a.Get(k, k))
		}
	})
}

// An MD vector aligned with a matrix diagonal must be co-resident with it:
// the process owning diagonal entry k of the matrix owns entry k of the
// vector.
func TestAlignWithDiagCoResidency(t *testing.T) {
	gridtest.OnGrids(t, func(t *testing.T, g *grid.Grid) {
		const n = 8
		a := NewOfSize[float64](g, Dist{MC, MR}, n, n)
		for _, offset := range []int{0, -1, 1, -2} {
			v := New[float64](g, Dist{MD, Star})
			AlignWithDiag(v, a, offset)
			v.Resize(DiagLength(n, n, offset), 1)
			for k := 0; k < v.Height(); k++ {
				i, j := diagEntry(k, offset)
				_, okRow := a.OwnsRow(i)
				_, okCol := a.OwnsCol(j)
				_, okV := v.OwnsRow(k)
				require.Equal(t, okRow && okCol, okV,
					"offset %d entry %d on grid %dx%d", offset, k, g.Height(), g.Width())
			}
		}
	})
}
