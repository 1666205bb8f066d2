package sync

// Sync lifecycle events posted on the bus. Every event names the sync it
// belongs to; controllers remember the id returned by SyncAll/Sync and
// surface failures only for syncs they initiated themselves. Background
// syncs fail silently and are retried on the next scheduled interval.

// StartedEvent marks the transition into SYNCING.
type StartedEvent struct {
	ID   uint64
	Full bool
}

// ProgressEvent reports phase completion.
type ProgressEvent struct {
	ID      uint64
	Percent int
	Label   string
}

// SucceededEvent is posted after all phases applied and all dependent
// caches were rebuilt: consumers reading the forest on this event see
// fresh data.
type SucceededEvent struct {
	ID   uint64
	Full bool
}

// FailedEvent is the terminal event of a failed sync.
type FailedEvent struct {
	ID   uint64
	Full bool
	Err  error
}

// CanceledEvent is the terminal event of a canceled sync. User intent to
// cancel wins: it is posted even when the data finished applying before
// the cancellation was observed.
type CanceledEvent struct {
	ID   uint64
	Full bool
}
