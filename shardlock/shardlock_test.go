package shardlock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

func keyDoc(v int32) bsoncore.Document {
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("k", v)
	return b.Build()
}

func TestAcquireEmptyKey(t *testing.T) {
	table := NewTable()
	g := table.Acquire("db.coll", nil)
	assert.Nil(t, g)
	g.Release() // nil guard releases as a no-op
	assert.Equal(t, 0, table.EntryCount())
}

func TestAcquireRelease(t *testing.T) {
	table := NewTable()

	g := table.Acquire("db.coll", keyDoc(1))
	assert.NotNil(t, g)
	assert.Equal(t, 1, table.EntryCount())

	g.Release()
	assert.Equal(t, 0, table.EntryCount())

	// Double release is a no-op.
	g.Release()
	assert.Equal(t, 0, table.EntryCount())
}

func TestMutualExclusionSameKey(t *testing.T) {
	table := NewTable()

	var holders int
	var maxHolders int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := table.Acquire("db.coll", keyDoc(42))
			mu.Lock()
			holders++
			if holders > maxHolders {
				maxHolders = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			g.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxHolders)
	assert.Equal(t, 0, table.EntryCount())
}

func TestIndependentKeysDoNotBlock(t *testing.T) {
	table := NewTable()

	g1 := table.Acquire("db.coll", keyDoc(1))

	acquired := make(chan struct{})
	go func() {
		g2 := table.Acquire("db.coll", keyDoc(2))
		close(acquired)
		g2.Release()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("different shard key blocked on a held lock")
	}

	g1.Release()
	assert.Equal(t, 0, table.EntryCount())
}

func TestNamespacesAreIndependent(t *testing.T) {
	table := NewTable()

	g1 := table.Acquire("db.a", keyDoc(1))
	g2 := table.Acquire("db.b", keyDoc(1))
	assert.Equal(t, 2, table.EntryCount())

	g1.Release()
	assert.Equal(t, 1, table.EntryCount())
	g2.Release()
	assert.Equal(t, 0, table.EntryCount())
}

func TestEntrySurvivesWhileReferenced(t *testing.T) {
	table := NewTable()

	g1 := table.Acquire("db.coll", keyDoc(7))

	released := make(chan struct{})
	go func() {
		g2 := table.Acquire("db.coll", keyDoc(7))
		g2.Release()
		close(released)
	}()

	// The waiter holds a reference, so the entry stays while it blocks.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, table.EntryCount())

	g1.Release()
	<-released
	assert.Equal(t, 0, table.EntryCount())
}
