// Package gridtest runs test bodies on every rank of an in-process grid.
//
// A buggy collective deadlocks rather than failing, so every run is bounded
// by a liveness deadline: the test fails when the ranks do not all return
// in time. Assertions inside a body may use require with the test's *T;
// a failed assertion aborts that rank like a panic would.
package gridtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/distla/comms"
	"github.com/gomlx/distla/grid"
)

// Deadline bounds one test body across all ranks.
const Deadline = 30 * time.Second

// OnWorld runs body on every rank of a fresh size-rank world.
func OnWorld(t *testing.T, size int, body func(t *testing.T, c *comms.Comm)) {
	t.Helper()
	await(t, func() error {
		return comms.Run(size, func(c *comms.Comm) {
			body(t, c)
		})
	})
}

// OnGrid runs body on every rank of a fresh height×width grid.
func OnGrid(t *testing.T, height, width int, body func(t *testing.T, g *grid.Grid)) {
	t.Helper()
	await(t, func() error {
		return comms.Run(height*width, func(c *comms.Comm) {
			g, err := grid.NewWithHeight(c, height)
			if err != nil {
				panic(err)
			}
			body(t, g)
		})
	})
}

// OnGrids runs body as one subtest per common grid shape, including the
// degenerate single-process grid and non-square shapes in both
// orientations.
func OnGrids(t *testing.T, body func(t *testing.T, g *grid.Grid)) {
	shapes := [][2]int{{1, 1}, {2, 2}, {1, 4}, {2, 3}, {3, 2}}
	for _, s := range shapes {
		t.Run(fmt.Sprintf("%dx%d", s[0], s[1]), func(t *testing.T) {
			OnGrid(t, s[0], s[1], body)
		})
	}
}

func await(t *testing.T, run func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- run() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(Deadline):
		t.Fatalf("gridtest: ranks still blocked after %v, assuming a deadlocked collective", Deadline)
	}
}
