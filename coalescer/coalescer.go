// Package coalescer collapses concurrent metadata queries against the
// config store. Callers asking for the same namespace within one query's
// latency share a single execution of the backing query: the first caller
// becomes the leader and runs it immediately, later callers wait for the
// leader's result. Followers opt out and run independently when their
// version is too far from the group's, when the group is full, or when the
// wait budget runs out.
package coalescer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/drpcorg/docshard/settings"
	"github.com/drpcorg/docshard/utils"
)

var (
	ErrShutdown    = errors.New("docshard: config query coalescer is shutting down")
	ErrWaitTimeout = errors.New("docshard: coalescing wait timed out")
)

// QueryFunc executes the backing query. Its result is shared as-is between
// every caller of the group; callers must treat it as read-only.
type QueryFunc func() ([]bsoncore.Document, error)

type Config struct {
	// MaxWaitTime bounds one wait slice; a follower whose slice expires
	// may promote itself to leader.
	MaxWaitTime time.Duration

	// MaxTotalWaitTime bounds the whole wait; past it the follower gives
	// up with ErrWaitTimeout.
	MaxTotalWaitTime time.Duration

	// MaxWaitersPerGroup caps a group; extra callers run independently.
	MaxWaitersPerGroup int

	// MaxVersionGap caps the version spread a group may absorb; callers
	// outside it run independently.
	MaxVersionGap uint64
}

// ConfigFromSettings snapshots the coalescer server parameters.
func ConfigFromSettings() Config {
	return Config{
		MaxWaitTime:        time.Duration(settings.CoalescerMaxWaitMS.Load()) * time.Millisecond,
		MaxTotalWaitTime:   time.Duration(settings.CoalescerMaxTotalWaitMS.Load()) * time.Millisecond,
		MaxWaitersPerGroup: int(settings.CoalescerMaxWaiters.Load()),
		MaxVersionGap:      uint64(settings.CoalescerMaxVersionGap.Load()),
	}
}

// waiterState is co-owned by the caller and the group. Either side may
// outlive the other; the group writes result and err before the release
// store of done, the caller reads them after the acquire load.
type waiterState struct {
	requestedVersion uint64
	result           []bsoncore.Document
	err              error
	done             atomic.Bool
	ready            chan struct{}
}

type coalescingGroup struct {
	ns         string
	generation uint64
	minVersion uint64
	maxVersion uint64

	queryInProgress bool
	queryCompleted  bool

	waiters []*waiterState
}

func (g *coalescingGroup) removeWaiter(st *waiterState) {
	for i, w := range g.waiters {
		if w == st {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return
		}
	}
}

type Coalescer struct {
	config func() Config
	log    utils.Logger

	mu             sync.Mutex
	groups         map[string]*coalescingGroup
	nextGeneration uint64
	shutdown       bool

	totalRequests *xsync.Counter

	statsMu           sync.Mutex
	actualQueries     uint64
	coalescedRequests uint64
	timeoutRequests   uint64
	overflowRequests  uint64
	versionGapSkipped uint64
}

// New builds a coalescer whose limits track the server parameters.
func New(log utils.Logger) *Coalescer {
	return NewWithConfig(nil, log)
}

// NewWithConfig pins the limits; pass nil to track the server parameters.
func NewWithConfig(cfg *Config, log utils.Logger) *Coalescer {
	c := &Coalescer{
		log:           log,
		groups:        make(map[string]*coalescingGroup),
		totalRequests: xsync.NewCounter(),
	}
	if cfg != nil {
		fixed := *cfg
		c.config = func() Config { return fixed }
	} else {
		c.config = ConfigFromSettings
	}
	return c
}

// IsEnabled reports the feature gate; callers consult it before routing
// queries through Do.
func IsEnabled() bool {
	return settings.CoalescerEnabled.Load()
}

// Do executes fn at most once per live namespace group, delivering its
// result to every participating caller. It blocks until a result, a
// timeout, an overflow or version-gap opt-out (both of which run fn
// independently), or shutdown.
func (c *Coalescer) Do(ns string, requestVersion uint64, fn QueryFunc) ([]bsoncore.Document, error) {
	cfg := c.config()

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil, ErrShutdown
	}
	c.totalRequests.Inc()
	requestsTotal.Inc()

	st := &waiterState{requestedVersion: requestVersion, ready: make(chan struct{})}

	group, ok := c.groups[ns]
	if !ok {
		return c.runAsLeader(ns, requestVersion, st, fn)
	}

	// The generation pins the group: if it is erased and a new one is
	// installed under the same namespace while we are off the lock, the
	// stamp no longer matches and we leave the newcomer alone.
	generation := group.generation

	newMin := min(group.minVersion, requestVersion)
	newMax := max(group.maxVersion, requestVersion)
	if newMax-newMin > cfg.MaxVersionGap {
		c.mu.Unlock()
		c.countIndependent(&c.versionGapSkipped, versionGapSkippedTotal)
		c.log.Debug("coalescer: version gap too large, executing independent query", "ns", ns)
		return fn()
	}

	if len(group.waiters) >= cfg.MaxWaitersPerGroup {
		c.mu.Unlock()
		c.countIndependent(&c.overflowRequests, overflowTotal)
		c.log.Debug("coalescer: group overflow, executing independent query", "ns", ns)
		return fn()
	}

	group.minVersion = newMin
	group.maxVersion = newMax
	group.waiters = append(group.waiters, st)
	c.mu.Unlock()

	c.statsMu.Lock()
	c.coalescedRequests++
	c.statsMu.Unlock()

	return c.waitAsFollower(ns, generation, st, fn, cfg)
}

func (c *Coalescer) runAsLeader(ns string, requestVersion uint64, st *waiterState, fn QueryFunc) ([]bsoncore.Document, error) {
	c.nextGeneration++
	generation := c.nextGeneration

	group := &coalescingGroup{
		ns:              ns,
		generation:      generation,
		minVersion:      requestVersion,
		maxVersion:      requestVersion,
		queryInProgress: true,
		waiters:         []*waiterState{st},
	}
	c.groups[ns] = group
	activeGroups.Set(float64(len(c.groups)))
	c.mu.Unlock()

	c.log.Debug("coalescer: leader executing query", "ns", ns)
	result, err := fn()

	if derr := c.distribute(ns, generation, result, err); derr != nil {
		return nil, derr
	}

	if st.err != nil {
		return nil, st.err
	}
	if st.result != nil {
		return st.result, nil
	}
	return []bsoncore.Document{}, nil
}

// distribute publishes (result, err) to every waiter of the group, if it is
// still the same group, and erases it. Only shutdown is returned as an
// error; a generation mismatch means another leader already served our
// waiter and there is nothing left to do.
func (c *Coalescer) distribute(ns string, generation uint64, result []bsoncore.Document, err error) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return ErrShutdown
	}

	group, ok := c.groups[ns]
	if ok && group.generation == generation {
		group.queryCompleted = true
		for _, w := range group.waiters {
			w.result = result
			w.err = err
			w.done.Store(true)
			close(w.ready)
		}
		delete(c.groups, ns)
		activeGroups.Set(float64(len(c.groups)))

		c.statsMu.Lock()
		c.actualQueries++
		c.statsMu.Unlock()
		actualQueriesTotal.Inc()
	}
	c.mu.Unlock()
	return nil
}

func (c *Coalescer) waitAsFollower(ns string, generation uint64, st *waiterState, fn QueryFunc, cfg Config) ([]bsoncore.Document, error) {
	deadline := time.Now().Add(cfg.MaxTotalWaitTime)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.abandonWait(ns, generation, st)
			c.statsMu.Lock()
			c.timeoutRequests++
			c.coalescedRequests--
			c.statsMu.Unlock()
			timeoutTotal.Inc()
			return nil, ErrWaitTimeout
		}

		slice := cfg.MaxWaitTime
		if remaining < slice {
			slice = remaining
		}

		select {
		case <-st.ready:
			coalescedTotal.Inc()
			if st.err != nil {
				return nil, st.err
			}
			if !st.done.Load() {
				// The group vanished without writing our state; the
				// query that covered us was distributed elsewhere.
				return []bsoncore.Document{}, nil
			}
			if st.result != nil {
				return st.result, nil
			}
			return []bsoncore.Document{}, nil

		case <-time.After(slice):
			result, promoted, err := c.tryPromote(ns, generation, st, fn)
			if promoted {
				return result, err
			}
		}
	}
}

// tryPromote upgrades a stalled follower to leader when the group has no
// query running and none completed.
func (c *Coalescer) tryPromote(ns string, generation uint64, st *waiterState, fn QueryFunc) ([]bsoncore.Document, bool, error) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil, true, ErrShutdown
	}

	group, ok := c.groups[ns]
	if !ok || group.generation != generation || group.queryInProgress || group.queryCompleted {
		c.mu.Unlock()
		return nil, false, nil
	}

	group.queryInProgress = true
	group.removeWaiter(st)
	c.mu.Unlock()

	// This caller stops being a coalesced request the moment it runs the
	// query itself.
	c.statsMu.Lock()
	c.coalescedRequests--
	c.statsMu.Unlock()

	c.log.Debug("coalescer: follower promoted to leader", "ns", ns)
	result, err := fn()

	if derr := c.distribute(ns, generation, result, err); derr != nil {
		return nil, true, derr
	}
	return result, true, err
}

func (c *Coalescer) abandonWait(ns string, generation uint64, st *waiterState) {
	c.mu.Lock()
	if group, ok := c.groups[ns]; ok && group.generation == generation {
		group.removeWaiter(st)
	}
	c.mu.Unlock()
}

func (c *Coalescer) countIndependent(counter *uint64, vec interface{ Inc() }) {
	c.statsMu.Lock()
	*counter++
	c.actualQueries++
	c.statsMu.Unlock()
	vec.Inc()
	actualQueriesTotal.Inc()
}

// Shutdown fails every waiter with ErrShutdown and clears the registry.
// Subsequent Do calls return ErrShutdown immediately; calling Shutdown
// again is a no-op.
func (c *Coalescer) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return
	}
	c.shutdown = true

	// The waiter state is co-owned, so writing through it is safe even
	// for callers that already gave up.
	for _, group := range c.groups {
		for _, w := range group.waiters {
			w.err = ErrShutdown
			w.done.Store(true)
			close(w.ready)
		}
	}
	c.groups = make(map[string]*coalescingGroup)
	activeGroups.Set(0)
}

func (c *Coalescer) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}
