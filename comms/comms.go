// Package comms implements blocking, MPI-like message passing among a fixed
// set of cooperating in-process "processes" (goroutines), used as the
// communication substrate for distributed matrices.
//
// A World is created with a fixed number of processes. Each process receives
// its own *Comm handle, carrying its rank. Point-to-point sends are buffered
// and ordered per (sender, receiver) pair; collectives are blocking and must
// be entered by every member of the communicator, or the group deadlocks;
// there is no timeout or cancellation mechanism.
//
// Sub-communicators are derived with Comm.Split, following the usual
// color/key convention.
package comms

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// pairBuffer is the number of in-flight messages allowed per (sender,
// receiver) pair before a Send blocks. Collectives exchange at most a couple
// of messages per pair per call, so this never back-pressures in practice.
const pairBuffer = 32

// mesh holds the channel matrix for one communicator: mesh.chans[src][dst]
// carries messages from src to dst, in order.
type mesh struct {
	size  int
	chans [][]chan any
}

func newMesh(size int) *mesh {
	m := &mesh{size: size, chans: make([][]chan any, size)}
	for src := range m.chans {
		m.chans[src] = make([]chan any, size)
		for dst := range m.chans[src] {
			m.chans[src][dst] = make(chan any, pairBuffer)
		}
	}
	return m
}

// World owns the channel meshes shared by every process of one computation.
// It is created once (see Run or NewWorld) and shared by all ranks; the
// meshes for derived communicators are interned here so that every member of
// a Split observes the same channels.
type World struct {
	size   int
	meshes sync.Map // id string -> *mesh
}

// NewWorld creates the communication state for size processes.
// Most users want Run instead, which also spawns the processes.
func NewWorld(size int) *World {
	if size <= 0 {
		exceptions.Panicf("comms.NewWorld: world size must be positive, got %d", size)
	}
	w := &World{size: size}
	w.meshes.Store("w", newMesh(size))
	return w
}

// Size returns the number of processes in the world.
func (w *World) Size() int { return w.size }

// Comm returns the communicator handle for the given rank of the world.
// Each rank must use its own handle; handles are not safe for concurrent use
// by multiple goroutines.
func (w *World) Comm(rank int) *Comm {
	if rank < 0 || rank >= w.size {
		exceptions.Panicf("comms.World.Comm: rank %d out of range [0, %d)", rank, w.size)
	}
	m, _ := w.meshes.Load("w")
	return &Comm{world: w, id: "w", mesh: m.(*mesh), rank: rank}
}

// Comm is one process's handle into a communicator (the world or a
// sub-communicator created by Split). Rank and Size are local queries; every
// other method communicates.
type Comm struct {
	world *World
	id    string
	mesh  *mesh
	rank  int

	// splitSeq counts Split calls on this handle, so that repeated
	// collective splits derive distinct sub-communicators. All ranks
	// perform the same sequence of collective calls, hence agree on it.
	splitSeq int
}

// Rank returns this process's rank within the communicator, in [0, Size).
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of processes in the communicator.
func (c *Comm) Size() int { return c.mesh.size }

// Send delivers data to rank dst of this communicator. It blocks only if
// the per-pair buffer is full. Sending to oneself is allowed (buffered).
//
// Ownership of the payload transfers to the receiver; the sender must not
// mutate it afterwards.
func (c *Comm) Send(data any, dst int) {
	if dst < 0 || dst >= c.mesh.size {
		exceptions.Panicf("comms.Send: destination rank %d out of range [0, %d)", dst, c.mesh.size)
	}
	c.mesh.chans[c.rank][dst] <- data
}

// Recv blocks until a message from rank src arrives and returns its payload.
// Messages from one sender are received in the order they were sent.
func (c *Comm) Recv(src int) any {
	if src < 0 || src >= c.mesh.size {
		exceptions.Panicf("comms.Recv: source rank %d out of range [0, %d)", src, c.mesh.size)
	}
	return <-c.mesh.chans[src][c.rank]
}

// splitMember is exchanged during Split.
type splitMember struct {
	color, key, parentRank int
}

// Split partitions the communicator into disjoint sub-communicators, one per
// distinct color. Ranks within each sub-communicator are assigned by
// ascending (key, parent rank). Split is collective: every member of c must
// call it, with whatever color/key it chooses.
func (c *Comm) Split(color, key int) *Comm {
	seq := c.splitSeq
	c.splitSeq++

	members := AllGather(c, []splitMember{{color: color, key: key, parentRank: c.rank}})
	var group []splitMember
	for _, ms := range members {
		if ms[0].color == color {
			group = append(group, ms[0])
		}
	}
	sort.Slice(group, func(i, j int) bool {
		if group[i].key != group[j].key {
			return group[i].key < group[j].key
		}
		return group[i].parentRank < group[j].parentRank
	})
	newRank := -1
	for i, m := range group {
		if m.parentRank == c.rank {
			newRank = i
			break
		}
	}

	id := fmt.Sprintf("%s/%d.%d", c.id, seq, color)
	stored, _ := c.world.meshes.LoadOrStore(id, newMesh(len(group)))
	klog.V(2).Infof("comms: rank %d of %q split into %q as rank %d of %d",
		c.rank, c.id, id, newRank, len(group))
	return &Comm{world: c.world, id: id, mesh: stored.(*mesh), rank: newRank}
}

// Run creates a world of size processes and runs body once per rank, each on
// its own goroutine, passing the rank's communicator. It returns after every
// body returns. Panics raised by a body are gathered and returned as a
// single error (the computation is not recoverable at that point, but tests
// want the report rather than a crash).
func Run(size int, body func(c *Comm)) error {
	w := NewWorld(size)
	var wg sync.WaitGroup
	panics := make([]any, size)
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panics[rank] = r
				}
			}()
			body(w.Comm(rank))
		}(rank)
	}
	wg.Wait()
	for rank, p := range panics {
		if p != nil {
			return errors.Errorf("rank %d panicked: %v", rank, p)
		}
	}
	return nil
}
