// ABOUTME: Tests for the bounded TTL deduplication cache
// ABOUTME: Seen must be atomic check-and-mark; eviction bounds memory

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenChecksAndMarks(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("$evt1"), "first sighting is not a duplicate")
	assert.True(t, c.Seen("$evt1"), "second sighting is")
	assert.False(t, c.Seen("$evt2"))
}

func TestSeenConcurrentDeliveries(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	// Many goroutines race on the same id; exactly one may win.
	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("$contested") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestEvictionBoundsSize(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Seen(fmt.Sprintf("$evt%d", i))
	}

	c.mu.Lock()
	size := len(c.seen)
	c.mu.Unlock()
	assert.LessOrEqual(t, size, 3)

	// The oldest ids were evicted and count as fresh again.
	assert.False(t, c.Seen("$evt0"))
	// The newest survives.
	assert.True(t, c.Seen("$evt4"))
}

func TestExpiredEntriesAreFresh(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	assert.False(t, c.Seen("$evt1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Seen("$evt1"), "expired ids are treated as new")
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
