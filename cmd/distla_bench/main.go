// distla_bench exercises the distributed linear-algebra stack on an
// in-process grid and reports wall time and residuals per routine.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/distla/comms"
	"github.com/gomlx/distla/dblas"
	"github.com/gomlx/distla/distmat"
	"github.com/gomlx/distla/dlapack"
	"github.com/gomlx/distla/grid"
	"github.com/gomlx/distla/sparsela"
)

var (
	flagProcs = flag.Int("procs", 4, "Number of in-process ranks to spawn.")
	flagGridHeight = flag.Int("grid_height", 0, "Grid height; it must divide -procs. "+
		"0 picks the most-square factorization.")
	flagDim   = flag.Int("dim", 192, "Matrix extent for every benchmark.")
	flagRHS   = flag.Int("rhs", 8, "Right-hand-side count for the solve benchmarks.")
	flagBlock = flag.Int("block", 48, "Algorithmic block size of the panel sweeps.")
	flagSeed  = flag.Uint64("seed", 42, "Seed for the deterministic test matrices.")
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
)

func newReportTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				return oddRowStyle
			}
			return evenRowStyle
		}).
		Headers("Benchmark", "Extent", "Wall", "Local data", "Result")
}

type result struct {
	name, extent, wall, data, metric string
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagProcs <= 0 {
		klog.Errorf("-procs must be positive, got %d", *flagProcs)
		os.Exit(1)
	}
	if *flagGridHeight > 0 && *flagProcs%*flagGridHeight != 0 {
		klog.Errorf("-grid_height %d does not divide -procs %d", *flagGridHeight, *flagProcs)
		os.Exit(1)
	}

	results := runBenchmarks()

	table := newReportTable()
	for _, r := range results {
		table.Row(r.name, r.extent, r.wall, r.data, r.metric)
	}
	fmt.Println(table.Render())
}

func runBenchmarks() []result {
	n := *flagDim
	nrhs := *flagRHS
	opts := dblas.Options{BlockSize: *flagBlock}
	seed := *flagSeed

	var results []result
	bar := progressbar.Default(4, "benchmarks")

	must.M(comms.Run(*flagProcs, func(c *comms.Comm) {
		var g *grid.Grid
		if *flagGridHeight > 0 {
			g = must.M1(grid.NewWithHeight(c, *flagGridHeight))
		} else {
			g = grid.New(c)
		}
		root := g.Rank() == 0
		if root {
			klog.V(1).Infof("grid is %dx%d, extent %d, block %d", g.Height(), g.Width(), n, *flagBlock)
		}
		record := func(name string, start time.Time, localEntries int, metric string) {
			if !root {
				return
			}
			results = append(results, result{
				name:   name,
				extent: humanize.Comma(int64(n)),
				wall:   time.Since(start).Round(time.Millisecond).String(),
				data:   humanize.Bytes(uint64(localEntries) * 8),
				metric: metric,
			})
			must.M(bar.Add(1))
		}
		twoD := distmat.Dist{Row: distmat.MC, Col: distmat.MR}

		// Scheme round-trip: [MC,MR] -> [MR,MC] -> [MC,MR] must be
		// bit-for-bit.
		a := distmat.NewOfSize[float64](g, twoD, n, n)
		a.SetToRandom(seed)
		start := time.Now()
		flipped := distmat.New[float64](g, distmat.Dist{Row: distmat.MR, Col: distmat.MC})
		flipped.RedistributeFrom(a)
		back := distmat.New[float64](g, twoD)
		back.RedistributeFrom(flipped)
		var maxDiff float64
		for lj := 0; lj < a.LocalWidth(); lj++ {
			for li := 0; li < a.LocalHeight(); li++ {
				maxDiff = math.Max(maxDiff, math.Abs(a.LocalGet(li, lj)-back.LocalGet(li, lj)))
			}
		}
		maxDiff = comms.AllReduce(g.VCComm(), []float64{maxDiff}, math.Max)[0]
		record("Redistribute round-trip", start, a.LocalHeight()*a.LocalWidth(),
			fmt.Sprintf("max drift %g", maxDiff))

		// Trmm then Trsm against the same triangle recovers X.
		tri := distmat.NewOfSize[float64](g, twoD, n, n)
		tri.SetFrom(func(i, j int) float64 {
			switch {
			case i == j:
				return 2
			case i > j:
				return distmat.GaussianEntry[float64](seed+1, i, j) / float64(n)
			}
			return 0
		})
		x := distmat.NewOfSize[float64](g, twoD, n, nrhs)
		x.SetToRandom(seed + 2)
		b := distmat.New[float64](g, twoD)
		b.RedistributeFrom(x)
		start = time.Now()
		dblas.Trmm(distmat.Left, distmat.Lower, distmat.Normal, distmat.NonUnit, 1, tri, b, opts)
		dblas.Trsm(distmat.Left, distmat.Lower, distmat.Normal, distmat.NonUnit, 1, tri, b, opts)
		dblas.Axpy(-1, x, b)
		record("Trmm+Trsm round-trip", start, b.LocalHeight()*b.LocalWidth(),
			fmt.Sprintf("rel residual %.2e", frobenius(b)/frobenius(x)))

		// SPD solve through the sparse boundary's dense reference.
		spd := distmat.NewOfSize[float64](g, twoD, n, n)
		spd.SetFrom(func(i, j int) float64 {
			v := distmat.GaussianEntry[float64](seed+3, min(i, j), max(i, j))
			if i == j {
				return v + float64(n)
			}
			return v
		})
		rhs := distmat.NewOfSize[float64](g, twoD, n, nrhs)
		rhs.SetToRandom(seed + 4)
		sol := distmat.New[float64](g, twoD)
		sol.RedistributeFrom(rhs)
		rhsNorm := frobenius(rhs)
		start = time.Now()
		numeric := must.M1(sparsela.DenseFactorizer[float64]{}.Analyze(densePattern(n)))
		factored := must.M1(numeric.Factor(spd, opts))
		must.M(factored.Solve(sol))
		// Residual: rhs - spd*sol, column by column through Hemv.
		for j := 0; j < nrhs; j++ {
			var sc, rc distmat.DistMatrix[float64]
			sc.LockedViewOf(sol, 0, j, n, 1)
			rc.ViewOf(rhs, 0, j, n, 1)
			dblas.Hemv(distmat.Lower, -1, spd, &sc, 1, &rc)
		}
		record("Cholesky solve (sparsela dense ref)", start, spd.LocalHeight()*spd.LocalWidth(),
			fmt.Sprintf("rel residual %.2e", frobenius(rhs)/rhsNorm))

		// Tridiagonal reduction plus the spectral-norm estimate.
		sym := distmat.NewOfSize[float64](g, twoD, n, n)
		sym.SetFrom(func(i, j int) float64 {
			return distmat.GaussianEntry[float64](seed+5, min(i, j), max(i, j))
		})
		start = time.Now()
		est := must.M1(dlapack.TwoNormEstimate(sym, 0, 0))
		t := distmat.New[float64](g, distmat.Dist{Row: distmat.MD, Col: distmat.Star})
		dlapack.Tridiag(distmat.Lower, sym, t, opts)
		record("TwoNormEstimate + Tridiag", start, sym.LocalHeight()*sym.LocalWidth(),
			fmt.Sprintf("‖A‖₂ ≈ %.4g", est))
	}))
	return results
}

// frobenius is the Frobenius norm of a 2D-cyclic matrix (every entry owned
// once).
func frobenius(m *distmat.DistMatrix[float64]) float64 {
	var s float64
	for lj := 0; lj < m.LocalWidth(); lj++ {
		for li := 0; li < m.LocalHeight(); li++ {
			v := m.LocalGet(li, lj)
			s += v * v
		}
	}
	total := comms.AllReduce(m.Grid().VCComm(), []float64{s}, func(a, b float64) float64 { return a + b })
	return math.Sqrt(total[0])
}

func densePattern(n int) sparsela.Pattern {
	cols := make([][]int, n)
	for j := range cols {
		for i := j + 1; i < n; i++ {
			cols[j] = append(cols[j], i)
		}
	}
	return sparsela.Pattern{N: n, Columns: cols}
}
