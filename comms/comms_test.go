package comms

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runWorld runs body on a world of the given size, failing the test if any
// rank panics or the world wedges (a missed collective deadlocks forever).
func runWorld(t *testing.T, size int, body func(c *Comm)) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- Run(size, body) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatalf("world of %d did not finish within 30s, likely deadlocked", size)
	}
}

func TestSendRecvOrdering(t *testing.T) {
	runWorld(t, 2, func(c *Comm) {
		if c.Rank() == 0 {
			for i := 0; i < 5; i++ {
				c.Send([]int{i}, 1)
			}
			return
		}
		for i := 0; i < 5; i++ {
			got := c.Recv(0).([]int)
			require.Equal(t, []int{i}, got)
		}
	})
}

func TestSendToSelf(t *testing.T) {
	runWorld(t, 1, func(c *Comm) {
		c.Send([]string{"loop"}, 0)
		require.Equal(t, []string{"loop"}, c.Recv(0).([]string))
	})
}

func TestBroadcast(t *testing.T) {
	for _, size := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			runWorld(t, size, func(c *Comm) {
				root := size - 1
				var data []float64
				if c.Rank() == root {
					data = []float64{1, 2, 3}
				}
				got := Broadcast(c, data, root)
				require.Equal(t, []float64{1, 2, 3}, got)
			})
		})
	}
}

func TestGatherAndScatter(t *testing.T) {
	const size = 4
	runWorld(t, size, func(c *Comm) {
		gathered := Gather(c, []int{c.Rank() * 10}, 0)
		if c.Rank() == 0 {
			require.Len(t, gathered, size)
			for r := 0; r < size; r++ {
				require.Equal(t, []int{r * 10}, gathered[r])
			}
		} else {
			require.Nil(t, gathered)
		}

		var parts [][]int
		if c.Rank() == 0 {
			for r := 0; r < size; r++ {
				parts = append(parts, []int{r, r + 100})
			}
		}
		part := Scatter(c, parts, 0)
		require.Equal(t, []int{c.Rank(), c.Rank() + 100}, part)
	})
}

func TestAllGather(t *testing.T) {
	const size = 3
	runWorld(t, size, func(c *Comm) {
		got := AllGather(c, []int{c.Rank(), -c.Rank()})
		require.Len(t, got, size)
		for r := 0; r < size; r++ {
			require.Equal(t, []int{r, -r}, got[r])
		}
	})
}

func TestAllToAll(t *testing.T) {
	const size = 4
	runWorld(t, size, func(c *Comm) {
		parts := make([][]int, size)
		for dst := range parts {
			parts[dst] = []int{c.Rank()*size + dst}
		}
		got := AllToAll(c, parts)
		for src := 0; src < size; src++ {
			require.Equal(t, []int{src*size + c.Rank()}, got[src])
		}
	})
}

func TestReduceAndAllReduce(t *testing.T) {
	const size = 5
	sum := func(a, b int) int { return a + b }
	runWorld(t, size, func(c *Comm) {
		want := []int{size, (size - 1) * size / 2}
		got := Reduce(c, []int{1, c.Rank()}, sum, 2)
		if c.Rank() == 2 {
			require.Equal(t, want, got)
		} else {
			require.Nil(t, got)
		}
		require.Equal(t, want, AllReduce(c, []int{1, c.Rank()}, sum))
	})
}

func TestReduceScatter(t *testing.T) {
	const size = 3
	runWorld(t, size, func(c *Comm) {
		// Every rank contributes dst+rank for each destination dst; each
		// rank receives sum over ranks of (its rank + src rank).
		parts := make([][]int, size)
		for dst := range parts {
			parts[dst] = []int{dst + c.Rank()}
		}
		got := ReduceScatter(c, parts, func(a, b int) int { return a + b })
		require.Equal(t, []int{size*c.Rank() + (size-1)*size/2}, got)
	})
}

func TestSendRecvRing(t *testing.T) {
	const size = 6
	runWorld(t, size, func(c *Comm) {
		dst := (c.Rank() + 1) % size
		src := (c.Rank() + size - 1) % size
		got := SendRecv(c, []int{c.Rank()}, dst, src)
		require.Equal(t, []int{src}, got)
	})
}

func TestSplit(t *testing.T) {
	const size = 6
	runWorld(t, size, func(c *Comm) {
		// Even ranks form one group, odd ranks the other; negated keys
		// reverse the rank order within each group.
		sub := c.Split(c.Rank()%2, -c.Rank())
		require.Equal(t, size/2, sub.Size())
		wantRank := size/2 - 1 - c.Rank()/2
		require.Equal(t, wantRank, sub.Rank())

		// The sub-communicator must be usable for collectives on its own.
		parents := AllGather(sub, []int{c.Rank()})
		for i, p := range parents {
			require.Equal(t, c.Rank()%2, p[0]%2)
			require.Equal(t, size-2-2*i+c.Rank()%2, p[0])
		}

		// A second collective split from the same handles derives a
		// distinct communicator.
		again := c.Split(0, c.Rank())
		require.Equal(t, size, again.Size())
		require.Equal(t, c.Rank(), again.Rank())
	})
}

func TestRunReportsPanics(t *testing.T) {
	err := Run(3, func(c *Comm) {
		if c.Rank() == 1 {
			panic("boom")
		}
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "rank 1 panicked")
}
