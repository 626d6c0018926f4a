package coalescer

import "github.com/prometheus/client_golang/prometheus"

var requestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "docshard",
	Subsystem: "coalescer",
	Name:      "requests",
})

var actualQueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "docshard",
	Subsystem: "coalescer",
	Name:      "actual_queries",
})

var coalescedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "docshard",
	Subsystem: "coalescer",
	Name:      "coalesced_requests",
})

var timeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "docshard",
	Subsystem: "coalescer",
	Name:      "timeout_requests",
})

var overflowTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "docshard",
	Subsystem: "coalescer",
	Name:      "overflow_requests",
})

var versionGapSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "docshard",
	Subsystem: "coalescer",
	Name:      "version_gap_skipped_requests",
})

var activeGroups = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "docshard",
	Subsystem: "coalescer",
	Name:      "active_groups",
})

// Collectors returns the coalescer metrics for registration with a
// prometheus registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		requestsTotal, actualQueriesTotal, coalescedTotal,
		timeoutTotal, overflowTotal, versionGapSkippedTotal, activeGroups,
	}
}

// Stats is a point-in-time snapshot of the coalescer's counters.
type Stats struct {
	TotalRequests             uint64
	ActualQueries             uint64
	CoalescedRequests         uint64
	TimeoutRequests           uint64
	OverflowRequests          uint64
	VersionGapSkippedRequests uint64
	ActiveGroups              uint64
}

// CoalescingRate is the share of requests that reused another caller's
// query.
func (s Stats) CoalescingRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.CoalescedRequests) / float64(s.TotalRequests)
}

func (c *Coalescer) Stats() Stats {
	c.mu.Lock()
	active := uint64(len(c.groups))
	c.mu.Unlock()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return Stats{
		TotalRequests:             uint64(c.totalRequests.Value()),
		ActualQueries:             c.actualQueries,
		CoalescedRequests:         c.coalescedRequests,
		TimeoutRequests:           c.timeoutRequests,
		OverflowRequests:          c.overflowRequests,
		VersionGapSkippedRequests: c.versionGapSkipped,
		ActiveGroups:              active,
	}
}

// ResetStats zeroes the snapshot counters. The prometheus collectors are
// monotonic and unaffected.
func (c *Coalescer) ResetStats() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.totalRequests.Reset()
	c.actualQueries = 0
	c.coalescedRequests = 0
	c.timeoutRequests = 0
	c.overflowRequests = 0
	c.versionGapSkipped = 0
}
