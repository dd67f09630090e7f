package actor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePushPopFIFO(t *testing.T) {
	var q mpscQueue[int]

	q.push(1)
	q.push(2)
	q.push(3)

	v, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestQueueIsHeadResolvesPostAsyncIdentity(t *testing.T) {
	var q mpscQueue[int]

	n1 := q.push(10)
	assert.True(t, q.isHead(n1), "first push must be the head")

	n2 := q.push(20)
	assert.True(t, q.isHead(n1), "n1 is still head after a second push behind it")
	assert.False(t, q.isHead(n2), "n2 landed behind n1, not at the head")

	_, _ = q.pop()
	assert.True(t, q.isHead(n2), "after draining n1, n2 becomes head")
}

func TestQueueDrainReturnsAllInOrderAndEmpties(t *testing.T) {
	var q mpscQueue[int]
	for i := 0; i < 5; i++ {
		q.push(i)
	}

	out := q.drain()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, out)
	assert.True(t, q.empty())
	assert.Nil(t, q.drain())
}

// Two equal values pushed in sequence still get distinct node
// identities, per the Open Question on reference-uniqueness.
func TestQueueEqualValuesGetDistinctNodes(t *testing.T) {
	var q mpscQueue[int]

	n1 := q.push(7)
	n2 := q.push(7)

	assert.NotSame(t, n1, n2)
	assert.True(t, q.isHead(n1))
	assert.False(t, q.isHead(n2))
}

func TestQueueConcurrentPushersPreserveEachProducersOrder(t *testing.T) {
	var q mpscQueue[[2]int]
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for seq := 0; seq < perProducer; seq++ {
				q.push([2]int{producer, seq})
			}
		}(p)
	}
	wg.Wait()

	out := q.drain()
	require.Len(t, out, 4*perProducer)

	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for _, e := range out {
		assert.Greater(t, e[1], last[e[0]])
		last[e[0]] = e[1]
	}
}
