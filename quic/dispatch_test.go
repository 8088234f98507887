package quic

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkerForIsStablePerConnectionID(t *testing.T) {
	d := NewDispatcher(context.Background(), 8)
	id := []byte{1, 2, 3, 4}
	first := d.WorkerFor(id)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, d.WorkerFor(id))
	}
}

func TestDispatchRunsOnConsistentWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDispatcher(ctx, 4)

	id := []byte{9, 9, 9}
	var mu sync.Mutex
	var seen []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		d.Dispatch(id, func() {
			defer wg.Done()
			mu.Lock()
			seen = append(seen, d.WorkerFor(id))
			mu.Unlock()
		})
	}
	wg.Wait()

	first := seen[0]
	for _, w := range seen {
		require.Equal(t, first, w)
	}
}
