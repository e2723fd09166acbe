package spinlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockUnlockRoundTrip(t *testing.T) {
	lk := New("test")
	lk.Lock(1)
	assert.True(t, lk.Holding(1))
	lk.Unlock(1)
	assert.False(t, lk.Holding(1))
}

func TestTryLockFailsWhileHeld(t *testing.T) {
	lk := New("test")
	lk.Lock(1)
	defer lk.Unlock(1)

	assert.False(t, lk.TryLock(2))
}

func TestReacquireByHolderPanics(t *testing.T) {
	lk := New("test")
	lk.Lock(1)
	defer lk.Unlock(1)

	assert.Panics(t, func() { lk.Lock(1) })
}

func TestReleaseByNonHolderPanics(t *testing.T) {
	lk := New("test")
	lk.Lock(1)
	defer lk.Unlock(1)

	assert.Panics(t, func() { lk.Unlock(2) })
}

func TestConcurrentLockersSerialize(t *testing.T) {
	lk := New("counter")
	counter := 0
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(owner int64) {
			defer wg.Done()
			lk.Lock(owner)
			counter++
			lk.Unlock(owner)
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
