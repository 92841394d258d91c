package comms

import (
	"github.com/gomlx/exceptions"
)

// Collectives: every function in this file must be called by all ranks of
// the communicator, in the same order. A rank that skips a call blocks the
// group forever. All payloads are slices; ownership of received slices
// belongs to the receiver.
//
// Implementations are linear (root loops over peers): the worlds here are
// in-process and small, so latency-optimal trees buy nothing.

// ReduceOp combines two values during a reduction. It must be associative
// and commutative and identical on every rank.
type ReduceOp[T any] func(a, b T) T

// Barrier blocks until every rank of c has entered it.
func Barrier(c *Comm) {
	AllGather(c, []struct{}{})
}

// Broadcast distributes root's data to every rank and returns it. The data
// argument is ignored on non-root ranks (conventionally nil there).
func Broadcast[T any](c *Comm, data []T, root int) []T {
	if c.rank == root {
		for dst := 0; dst < c.Size(); dst++ {
			if dst == root {
				continue
			}
			c.Send(data, dst)
		}
		return data
	}
	return c.Recv(root).([]T)
}

// Gather collects every rank's local slice at root. On root the result has
// one entry per rank (result[r] is rank r's contribution); on the other
// ranks it is nil.
func Gather[T any](c *Comm, local []T, root int) [][]T {
	if c.rank != root {
		c.Send(local, root)
		return nil
	}
	result := make([][]T, c.Size())
	result[root] = local
	for src := 0; src < c.Size(); src++ {
		if src == root {
			continue
		}
		result[src] = c.Recv(src).([]T)
	}
	return result
}

// AllGather collects every rank's local slice at every rank: result[r] is
// rank r's contribution, identical on all ranks.
func AllGather[T any](c *Comm, local []T) [][]T {
	for dst := 0; dst < c.Size(); dst++ {
		if dst == c.rank {
			continue
		}
		c.Send(local, dst)
	}
	result := make([][]T, c.Size())
	result[c.rank] = local
	for src := 0; src < c.Size(); src++ {
		if src == c.rank {
			continue
		}
		result[src] = c.Recv(src).([]T)
	}
	return result
}

// Scatter distributes parts[r] from root to each rank r and returns this
// rank's part. The parts argument is ignored on non-root ranks.
func Scatter[T any](c *Comm, parts [][]T, root int) []T {
	if c.rank == root {
		if len(parts) != c.Size() {
			exceptions.Panicf("comms.Scatter: got %d parts for a communicator of size %d",
				len(parts), c.Size())
		}
		for dst := 0; dst < c.Size(); dst++ {
			if dst == root {
				continue
			}
			c.Send(parts[dst], dst)
		}
		return parts[root]
	}
	return c.Recv(root).([]T)
}

// AllToAll exchanges parts[dst] from every rank to every rank dst. The
// result has one entry per rank: result[src] is the slice rank src destined
// to this rank.
func AllToAll[T any](c *Comm, parts [][]T) [][]T {
	if len(parts) != c.Size() {
		exceptions.Panicf("comms.AllToAll: got %d parts for a communicator of size %d",
			len(parts), c.Size())
	}
	for dst := 0; dst < c.Size(); dst++ {
		if dst == c.rank {
			continue
		}
		c.Send(parts[dst], dst)
	}
	result := make([][]T, c.Size())
	result[c.rank] = parts[c.rank]
	for src := 0; src < c.Size(); src++ {
		if src == c.rank {
			continue
		}
		result[src] = c.Recv(src).([]T)
	}
	return result
}

// Reduce combines the ranks' equally-sized slices elementwise with op,
// delivering the result at root (nil elsewhere). The local slice is not
// mutated.
func Reduce[T any](c *Comm, local []T, op ReduceOp[T], root int) []T {
	contributions := Gather(c, local, root)
	if c.rank != root {
		return nil
	}
	return reduceSlices(contributions, op)
}

// AllReduce combines the ranks' equally-sized slices elementwise with op
// and delivers the result to every rank.
func AllReduce[T any](c *Comm, local []T, op ReduceOp[T]) []T {
	return reduceSlices(AllGather(c, local), op)
}

// ReduceScatter combines contributions destined to each rank: every rank
// supplies parts[dst] for each destination dst, and receives the elementwise
// op-reduction of all ranks' parts destined to it.
func ReduceScatter[T any](c *Comm, parts [][]T, op ReduceOp[T]) []T {
	received := AllToAll(c, parts)
	return reduceSlices(received, op)
}

// SendRecv simultaneously sends to dst and receives from src; used for the
// ring shifts of alignment conversion. Safe against rendezvous because
// point-to-point sends are buffered.
func SendRecv[T any](c *Comm, send []T, dst, src int) []T {
	if dst == c.rank && src == c.rank {
		return send
	}
	c.Send(send, dst)
	return c.Recv(src).([]T)
}

func reduceSlices[T any](contributions [][]T, op ReduceOp[T]) []T {
	n := len(contributions[0])
	for _, contribution := range contributions {
		if len(contribution) != n {
			exceptions.Panicf("comms: reduction over ragged contributions: %d vs %d elements",
				len(contribution), n)
		}
	}
	result := make([]T, n)
	copy(result, contributions[0])
	for _, contribution := range contributions[1:] {
		for i, v := range contribution {
			result[i] = op(result[i], v)
		}
	}
	return result
}
