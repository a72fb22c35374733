package keyedlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryAcquireIsExclusivePerKey(t *testing.T) {
	l := New()

	assert.True(t, l.TryAcquire("tx-1"))
	assert.False(t, l.TryAcquire("tx-1"))
	assert.True(t, l.TryAcquire("tx-2"))

	l.Release("tx-1")
	assert.True(t, l.TryAcquire("tx-1"))
}

func TestReleaseUnheldIsNoop(t *testing.T) {
	l := New()

	l.Release("never-held")
	assert.False(t, l.Held("never-held"))
}

func TestConcurrentAcquireGrantsOnce(t *testing.T) {
	l := New()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire("tx-contended") {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.True(t, l.Held("tx-contended"))
}
