// Package grid arranges the processes of a comms.Comm into a logical 2D
// lattice and derives the sub-communicators distributed matrices are built
// on: per-column groups (the "MC" axis), per-row groups ("MR"), diagonal
// groups ("MD"), and the two linearized enumerations of the full grid
// ("VC", column-major, and "VR", row-major).
//
// A Grid is created once per computation and is immutable. Matrices hold a
// reference to it but never own it.
package grid

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/distla/comms"
)

// Grid maps the ranks of a communicator onto a height×width lattice, in
// column-major order: rank r sits at row r%height, column r/height. Every
// rank computes the same shape deterministically: the shape is never
// communicated, so construction must be bit-reproducible across ranks.
type Grid struct {
	height, width int
	row, col      int

	vcComm   *comms.Comm // The full grid, column-major ranks (the base comm).
	vrComm   *comms.Comm // The full grid, row-major ranks.
	colComm  *comms.Comm // This process's grid column; ranks are row indices.
	rowComm  *comms.Comm // This process's grid row; ranks are column indices.
	diagComm *comms.Comm // This process's diagonal path.

	diagPath, diagRank int
}

// New builds a grid over comm using the most-square shape: the height is
// the largest divisor of comm.Size() not exceeding its square root.
func New(comm *comms.Comm) *Grid {
	g, err := NewWithHeight(comm, mostSquareHeight(comm.Size()))
	if err != nil {
		// The most-square height always divides the size.
		panic(err)
	}
	return g
}

// NewWithHeight builds a grid of the requested height. It fails if height
// does not divide comm.Size(). Collective: every rank of comm must call it
// with the same height.
func NewWithHeight(comm *comms.Comm, height int) (*Grid, error) {
	p := comm.Size()
	if height <= 0 || p%height != 0 {
		return nil, errors.Errorf("grid: height %d does not divide the number of processes %d", height, p)
	}
	g := &Grid{
		height: height,
		width:  p / height,
		row:    comm.Rank() % height,
		col:    comm.Rank() / height,
		vcComm: comm,
	}
	g.colComm = comm.Split(g.col, g.row)
	g.rowComm = comm.Split(g.row, g.col)
	g.vrComm = comm.Split(0, g.row*g.width+g.col)
	g.diagPath, g.diagRank = DiagPlacement(g.height, g.width, g.row, g.col)
	g.diagComm = comm.Split(g.diagPath, g.diagRank)
	klog.V(1).Infof("grid: %dx%d, process at (%d,%d), diag path %d rank %d",
		g.height, g.width, g.row, g.col, g.diagPath, g.diagRank)
	return g, nil
}

// mostSquareHeight picks the largest divisor of p not exceeding sqrt(p).
func mostSquareHeight(p int) int {
	h := 1
	for d := 1; d*d <= p; d++ {
		if p%d == 0 {
			h = d
		}
	}
	return h
}

// DiagPlacement computes which diagonal path the process (row, col) of a
// height×width grid belongs to and its position along that path. Walking
// the diagonal from (0, path), advancing both coordinates by one with
// wraparound, visits every process whose (col-row) mod gcd(height, width)
// equals path, exactly once per lcm(height, width) steps.
func DiagPlacement(height, width, row, col int) (path, rank int) {
	g := gcd(height, width)
	path = ((col-row)%g + g) % g
	lcm := height / g * width
	for k := 0; k < lcm; k++ {
		if k%height == row && (path+k)%width == col {
			return path, k
		}
	}
	// Unreachable: the walk covers the whole path class.
	return path, -1
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Height returns the number of grid rows.
func (g *Grid) Height() int { return g.height }

// Width returns the number of grid columns.
func (g *Grid) Width() int { return g.width }

// Size returns the total number of processes.
func (g *Grid) Size() int { return g.height * g.width }

// Row returns this process's grid row (its MC rank).
func (g *Grid) Row() int { return g.row }

// Col returns this process's grid column (its MR rank).
func (g *Grid) Col() int { return g.col }

// Rank returns this process's column-major linear rank (its VC rank).
func (g *Grid) Rank() int { return g.col*g.height + g.row }

// VRRank returns this process's row-major linear rank.
func (g *Grid) VRRank() int { return g.row*g.width + g.col }

// DiagPath returns which diagonal path this process sits on; paths partition
// the grid into gcd(height, width) classes.
func (g *Grid) DiagPath() int { return g.diagPath }

// DiagRank returns this process's position along its diagonal path.
func (g *Grid) DiagRank() int { return g.diagRank }

// ColComm returns the communicator of this process's grid column: height
// processes, ranked by grid row. This is the "MC" axis.
func (g *Grid) ColComm() *comms.Comm { return g.colComm }

// RowComm returns the communicator of this process's grid row: width
// processes, ranked by grid column. This is the "MR" axis.
func (g *Grid) RowComm() *comms.Comm { return g.rowComm }

// VCComm returns the full-grid communicator in column-major rank order.
func (g *Grid) VCComm() *comms.Comm { return g.vcComm }

// VRComm returns the full-grid communicator in row-major rank order.
func (g *Grid) VRComm() *comms.Comm { return g.vrComm }

// DiagComm returns the communicator of this process's diagonal path, ranked
// by position along the path.
func (g *Grid) DiagComm() *comms.Comm { return g.diagComm }
