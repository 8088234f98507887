package quic

import (
	"context"
	"hash/fnv"

	"golang.org/x/sync/errgroup"
)

// Dispatcher implements spec §5's "Datagrams for a QUIC connection are
// hashed to the owning thread" requirement and §4.4 lifecycle step 2 ("The
// newly created QUIC connection is handed to an accept continuation on a
// worker thread chosen by connection-id hashing; subsequent datagrams for
// this id are dispatched to that thread to preserve single-threaded
// state"). Each worker is a goroutine draining its own task channel,
// giving every connection a single affinity goroutine for its lifetime
// without a lock-free queue implementation of its own — Go channels
// already provide the "lock-free inter-thread queue" spec §5 calls for.
type Dispatcher struct {
	workers []chan func()
}

// NewDispatcher starts n worker goroutines, each draining its own queue
// until ctx is done. The workers are not supervised: a panic in a task is
// not recovered.
func NewDispatcher(ctx context.Context, n int) *Dispatcher {
	if n < 1 {
		n = 1
	}
	d := &Dispatcher{workers: make([]chan func(), n)}
	for i := range d.workers {
		ch := make(chan func(), 256)
		d.workers[i] = ch
		go d.drain(ctx, ch)
	}
	return d
}

func (d *Dispatcher) drain(ctx context.Context, ch chan func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-ch:
			task()
		}
	}
}

// WorkerFor hashes a connection id to a stable worker index, so that
// every call for the same id lands on the same goroutine for the
// connection's lifetime.
func (d *Dispatcher) WorkerFor(connID []byte) int {
	h := fnv.New32a()
	h.Write(connID)
	return int(h.Sum32() % uint32(len(d.workers)))
}

// Dispatch enqueues fn onto the worker owning connID. It never blocks the
// caller beyond the channel's buffer: a full worker queue indicates that
// worker is overloaded, which is a capacity-planning concern outside this
// package's scope.
func (d *Dispatcher) Dispatch(connID []byte, fn func()) {
	idx := d.WorkerFor(connID)
	d.workers[idx] <- fn
}

// RunAccepted fans out a slice of freshly-accepted connections across the
// dispatcher's workers using errgroup, matching the "accept continuation"
// language of spec §4.4 step 2 — each accept's continuation (here, fn)
// runs on its connection's affinity worker, and RunAccepted blocks until
// every continuation has returned.
func RunAccepted(ctx context.Context, d *Dispatcher, connIDs [][]byte, fn func(i int)) error {
	g, _ := errgroup.WithContext(ctx)
	for i, id := range connIDs {
		i, id := i, id
		g.Go(func() error {
			done := make(chan struct{})
			d.Dispatch(id, func() {
				fn(i)
				close(done)
			})
			<-done
			return nil
		})
	}
	return g.Wait()
}
