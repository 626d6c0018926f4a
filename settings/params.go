package settings

// Coalescer tunables. The window parameter is validated and kept for
// compatibility with deployments that set it, but the coalescer executes
// the leader query immediately instead of sleeping out a window.
var (
	CoalescerEnabled = NewBoolParameter("configQueryCoalescerEnabled", false)

	CoalescerWindowMS = NewIntParameter("configQueryCoalescerWindowMS", 5, 1, 1000)

	CoalescerMaxWaitMS = NewIntParameter("configQueryCoalescerMaxWaitMS", 100, 10, 60000)

	CoalescerMaxWaiters = NewIntParameter("configQueryCoalescerMaxWaiters", 1000, 1, 100000)

	CoalescerMaxVersionGap = NewIntParameter("configQueryCoalescerMaxVersionGap", 500, 1, 100000)

	CoalescerMaxTotalWaitMS = NewIntParameter("configQueryCoalescerMaxTotalWaitMS", 5000, 100, 600000)
)

// DocumentIntegrityVerification gates hash verification on document writes.
var DocumentIntegrityVerification = NewBoolParameter("documentIntegrityVerification", false)
