package coalescer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Many callers over a few namespaces: everyone succeeds, far fewer
// backing queries run than requests arrive, and the counters add up.
func TestCoalesceLargeScale(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}

	c := newTestCoalescer(testConfig())

	const (
		namespaces = 4
		callers    = 50
	)

	var executed atomic.Int64
	var failures atomic.Int64

	var wg sync.WaitGroup
	for n := 0; n < namespaces; n++ {
		ns := fmt.Sprintf("db.coll%d", n)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(version uint64) {
				defer wg.Done()
				result, err := c.Do(ns, version, func() ([]bsoncore.Document, error) {
					executed.Add(1)
					time.Sleep(20 * time.Millisecond)
					return []bsoncore.Document{chunkDoc(1)}, nil
				})
				if err != nil || len(result) != 1 {
					failures.Add(1)
				}
			}(uint64(1000 + i))
		}
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	// Far fewer executions than the 200 requests; a handful per
	// namespace is the normal worst case under scheduling jitter.
	assert.Less(t, executed.Load(), int64(namespaces*8))

	stats := c.Stats()
	assert.EqualValues(t, namespaces*callers, stats.TotalRequests)
	assert.Equal(t, stats.TotalRequests,
		stats.ActualQueries+stats.CoalescedRequests+stats.TimeoutRequests)
	assert.Greater(t, stats.CoalescingRate(), 0.5)
	assert.EqualValues(t, 0, stats.ActiveGroups)
}
