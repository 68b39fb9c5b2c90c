package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/universe/internal/ir"
)

func TestJobQueue_FIFO(t *testing.T) {
	q := newJobQueue()
	require.True(t, q.Enqueue(job{kernel: Kernel{Name: "a"}}))
	require.True(t, q.Enqueue(job{kernel: Kernel{Name: "b"}}))
	assert.Equal(t, 2, q.Len())

	j, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", j.kernel.Name)
	j, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "b", j.kernel.Name)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestJobQueue_CloseRejectsAndWakes(t *testing.T) {
	q := newJobQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(job{}))
	assert.True(t, q.Closed())

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Close")
	}
}

func TestPool_RunsEverySubmittedKernel(t *testing.T) {
	u := newTestUniverse(t)
	push(t, u, "items", map[ir.ColumnName]any{"qty": int64(0)})

	qty := Edit[int64]("items", "qty")
	inc := Kernel{
		Name:   "inc",
		Params: []Param{qty},
		Body: func(tx *Tx) error {
			qty.In(tx).Update(0, func(v *int64) { *v++ })
			return nil
		},
	}

	pool := u.NewPool(4)
	var done atomic.Int64
	for range 100 {
		require.NoError(t, pool.Submit(inc, func(err error) {
			assert.NoError(t, err)
			done.Add(1)
		}))
	}
	pool.Close()
	assert.ErrorIs(t, pool.Submit(inc, nil), ErrPoolClosed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pool.Run(ctx))

	assert.Equal(t, int64(100), done.Load())
	assert.Equal(t, 0, pool.Pending())
	assert.Equal(t, []int64{100}, column[int64](t, u, "items", "qty"))
}
