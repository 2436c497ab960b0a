package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounded_FIFO(t *testing.T) {
	q := New[int](10, DropOldest)

	for i := 0; i < 5; i++ {
		_, dropped, err := q.Push(i)
		require.NoError(t, err)
		assert.False(t, dropped)
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestBounded_DropOldestKeepsNewest(t *testing.T) {
	q := New[int](3, DropOldest)

	for i := 0; i < 3; i++ {
		_, _, err := q.Push(i)
		require.NoError(t, err)
	}

	evicted, dropped, err := q.Push(3)
	require.NoError(t, err)
	assert.True(t, dropped)
	assert.Equal(t, 0, evicted)

	assert.Equal(t, []int{1, 2, 3}, q.DrainTo(0))
	assert.Equal(t, int64(1), q.Stats().TotalDropped)
}

func TestBounded_DropNewRejectsIncoming(t *testing.T) {
	q := New[int](3, DropNew)

	for i := 0; i < 3; i++ {
		_, _, err := q.Push(i)
		require.NoError(t, err)
	}

	_, dropped, err := q.Push(3)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.False(t, dropped)

	assert.Equal(t, []int{0, 1, 2}, q.DrainTo(0))
}

func TestBounded_PushNeverBlocksWhenFull(t *testing.T) {
	for _, policy := range []Policy{DropOldest, DropNew} {
		t.Run(policy.String(), func(t *testing.T) {
			q := New[int](1, policy)
			done := make(chan struct{})

			go func() {
				defer close(done)
				for i := 0; i < 10000; i++ {
					q.Push(i)
				}
			}()

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("Push blocked on a full queue")
			}
			assert.Equal(t, 1, q.Len())
		})
	}
}

func TestBounded_WrapAround(t *testing.T) {
	q := New[int](4, DropOldest)

	next := 0
	for round := 0; round < 10; round++ {
		for i := 0; i < 3; i++ {
			q.Push(round*3 + i)
		}
		for i := 0; i < 3; i++ {
			v, ok := q.TryPop()
			require.True(t, ok)
			assert.Equal(t, next, v)
			next++
		}
	}
}

func TestBounded_CloseKeepsQueuedItems(t *testing.T) {
	q := New[string](4, DropOldest)
	q.Push("a")
	q.Push("b")

	q.Close()
	assert.True(t, q.Closed())

	_, _, err := q.Push("c")
	assert.ErrorIs(t, err, ErrClosed)

	assert.Equal(t, []string{"a", "b"}, q.DrainTo(0))
}

func TestBounded_Discard(t *testing.T) {
	q := New[int](4, DropOldest)
	q.Push(1)
	q.Push(2)

	assert.Equal(t, 2, q.Discard())
	assert.Equal(t, 0, q.Len())

	q.Push(3)
	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestBounded_ReadySignalsConsumer(t *testing.T) {
	q := New[int](128, DropNew)

	var wg sync.WaitGroup
	var got []int

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			for {
				v, ok := q.TryPop()
				if !ok {
					break
				}
				got = append(got, v)
			}
			if q.Closed() && q.Len() == 0 {
				return
			}
			<-q.Ready()
		}
	}()

	for i := 0; i < 100; i++ {
		_, _, err := q.Push(i)
		require.NoError(t, err)
	}
	q.Close()
	wg.Wait()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestBounded_MinimumCapacity(t *testing.T) {
	q := New[int](0, DropOldest)
	assert.Equal(t, 1, q.Cap())
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{in: "drop_oldest", want: DropOldest},
		{in: "DROP_OLDEST", want: DropOldest},
		{in: "drop_new", want: DropNew},
		{in: " drop-new ", want: DropNew},
		{in: "block", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
