package uploads

import "sync/atomic"

// Stats is a snapshot of orchestrator counters since start.
type Stats struct {
	Initiated           int64 `json:"initiated"`
	Completed           int64 `json:"completed"`
	Aborted             int64 `json:"aborted"`
	Expired             int64 `json:"expired"`
	PartCountMismatches int64 `json:"part_count_mismatches"`
	InitiationFailures  int64 `json:"initiation_failures"`
	CompletionFailures  int64 `json:"completion_failures"`
	CompensatingAborts  int64 `json:"compensating_aborts"`
	AbortFailures       int64 `json:"abort_failures"`
	StaleUploadsAborted int64 `json:"stale_uploads_aborted"`
}

type counters struct {
	initiated           atomic.Int64
	completed           atomic.Int64
	aborted             atomic.Int64
	expired             atomic.Int64
	partCountMismatches atomic.Int64
	initiationFailures  atomic.Int64
	completionFailures  atomic.Int64
	compensatingAborts  atomic.Int64
	abortFailures       atomic.Int64
	staleUploadsAborted atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Initiated:           c.initiated.Load(),
		Completed:           c.completed.Load(),
		Aborted:             c.aborted.Load(),
		Expired:             c.expired.Load(),
		PartCountMismatches: c.partCountMismatches.Load(),
		InitiationFailures:  c.initiationFailures.Load(),
		CompletionFailures:  c.completionFailures.Load(),
		CompensatingAborts:  c.compensatingAborts.Load(),
		AbortFailures:       c.abortFailures.Load(),
		StaleUploadsAborted: c.staleUploadsAborted.Load(),
	}
}
