// Package shardlock provides reference-counted mutexes keyed by
// (namespace, shard-key value). Operations that must serialise on the same
// shard-key value take one of these instead of a collection-wide lock.
package shardlock

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

var LockEntries = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "docshard",
	Subsystem: "shardlock",
	Name:      "entries",
})

type lockEntry struct {
	mu       sync.Mutex
	refCount uint32
}

// Table maps (namespace, shard-key bytes) to lock entries. A single mutex
// guards table mutation; the per-entry mutexes are independent and are
// always acquired after the table mutex has been released.
type Table struct {
	mu    sync.Mutex
	locks map[string]map[string]*lockEntry
}

func NewTable() *Table {
	return &Table{locks: make(map[string]map[string]*lockEntry)}
}

// Default is the process-wide table.
var Default = NewTable()

// Guard owns one held shard-key lock. Release returns it; releasing twice
// is a no-op. The nil Guard (returned for empty shard keys) releases as a
// no-op too.
type Guard struct {
	table *Table
	ns    string
	key   string
	entry *lockEntry
	done  bool
}

// Acquire locks the entry for (ns, shardKey), creating it on first use.
// An empty shard-key document needs no lock and yields a nil Guard.
// The shard-key bytes are copied in; callers may reuse their buffers.
func (t *Table) Acquire(ns string, shardKey bsoncore.Document) *Guard {
	if len(shardKey) == 0 {
		return nil
	}

	key := string(shardKey)

	t.mu.Lock()
	nsLocks, ok := t.locks[ns]
	if !ok {
		nsLocks = make(map[string]*lockEntry)
		t.locks[ns] = nsLocks
	}
	entry, ok := nsLocks[key]
	if !ok {
		entry = &lockEntry{}
		nsLocks[key] = entry
		LockEntries.Inc()
	}
	entry.refCount++
	t.mu.Unlock()

	entry.mu.Lock()

	return &Guard{table: t, ns: ns, key: key, entry: entry}
}

func Acquire(ns string, shardKey bsoncore.Document) *Guard {
	return Default.Acquire(ns, shardKey)
}

// Release unlocks the entry and drops its table reference, removing the
// entry (and an emptied namespace submap) when the last holder leaves.
func (g *Guard) Release() {
	if g == nil || g.done {
		return
	}
	g.done = true

	g.entry.mu.Unlock()

	g.table.mu.Lock()
	g.entry.refCount--
	if g.entry.refCount == 0 {
		nsLocks := g.table.locks[g.ns]
		delete(nsLocks, g.key)
		LockEntries.Dec()
		if len(nsLocks) == 0 {
			delete(g.table.locks, g.ns)
		}
	}
	g.table.mu.Unlock()
}

// ShardKey returns the locked shard-key document.
func (g *Guard) ShardKey() bsoncore.Document {
	if g == nil {
		return nil
	}
	return bsoncore.Document(g.key)
}

// Namespace returns the locked namespace.
func (g *Guard) Namespace() string {
	if g == nil {
		return ""
	}
	return g.ns
}

// EntryCount reports the number of live entries across all namespaces.
func (t *Table) EntryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, nsLocks := range t.locks {
		n += len(nsLocks)
	}
	return n
}
