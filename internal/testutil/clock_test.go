package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_StepsFromEpoch(t *testing.T) {
	c := NewClock()

	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), c.Peek())
	assert.Equal(t, Epoch.Add(2*time.Second), c.Peek(), "Peek must not advance")
}

func TestClock_SameSequenceEveryRun(t *testing.T) {
	read := func() []time.Time {
		c := NewClock()
		return []time.Time{c.Now(), c.Now(), c.Now()}
	}
	assert.Equal(t, read(), read())
}

func TestFrozenClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFrozenClock(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start, c.Now())

	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestClock_ConcurrentReadsAreDistinct(t *testing.T) {
	c := NewClock()
	const n = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := c.Now()
			mu.Lock()
			seen[now] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	assert.Equal(t, Epoch.Add(n*time.Second), c.Peek())
}
