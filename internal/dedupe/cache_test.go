// ABOUTME: Tests for the redelivery dedupe cache.
// ABOUTME: Covers duplicate detection, expiry, and size-bounded eviction.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenFirstTimeFalseThenTrue(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	assert.False(t, c.Seen("msg_1"))
	assert.True(t, c.Seen("msg_1"))
	assert.False(t, c.Seen("msg_2"))
}

func TestExpiredKeyIsFresh(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	defer c.Close()

	assert.False(t, c.Seen("msg_1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Seen("msg_1"), "expired entries are treated as new")
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	for i := range 4 {
		c.Seen(fmt.Sprintf("msg_%d", i))
	}

	assert.False(t, c.Seen("msg_0"), "oldest key was evicted")
	assert.True(t, c.Seen("msg_3"))
}

func TestRefreshMovesKeyToBack(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	c.Seen("msg_0")
	c.Seen("msg_1")
	c.Seen("msg_2")
	c.Seen("msg_0") // refresh, msg_1 is now oldest
	c.Seen("msg_3") // evicts msg_1

	assert.True(t, c.Seen("msg_0"))
	assert.False(t, c.Seen("msg_1"))
}

func TestConcurrentSeenExactlyOneWinner(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	const workers = 50
	var wg sync.WaitGroup
	fresh := make(chan struct{}, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("msg_1") {
				fresh <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(fresh)

	assert.Len(t, fresh, 1, "exactly one caller processes the message")
}

func TestCloseIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
