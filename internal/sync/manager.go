// Package sync reconciles the local store with the remote record server.
// A sync runs as IDLE -> SYNCING -> {SUCCEEDED, FAILED, CANCELED}: phases
// pull per-resource deltas, apply them locally, then rebuild the dependent
// caches before the terminal success event is posted, so consumers reading
// on SyncSucceeded always see fresh data.
package sync

import (
	"context"
	stdsync "sync"
	"time"

	"cliniccore/internal/events"
	"cliniccore/internal/forest"
	"cliniccore/internal/logging"
	"cliniccore/internal/store"
)

// Manager runs at most one sync at a time. Requests while a sync is in
// flight are coalesced onto the running sync and receive its id.
type Manager struct {
	store    store.Store
	server   Server
	bus      *events.Bus
	provider *forest.Provider
	log      logging.Logger
	metrics  *Metrics

	mu        stdsync.Mutex
	syncing   bool
	currentID uint64
	cancel    context.CancelFunc
	canceled  bool
	seq       uint64
	wg        stdsync.WaitGroup
}

// NewManager wires the sync engine. provider, log and metrics may be nil.
func NewManager(st store.Store, server Server, bus *events.Bus, provider *forest.Provider, log logging.Logger, metrics *Metrics) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{store: st, server: server, bus: bus, provider: provider, log: log, metrics: metrics}
}

// SyncAll starts a full from-scratch sync and returns its id. If a sync is
// already in flight its id is returned instead.
func (m *Manager) SyncAll() uint64 { return m.start(true) }

// Sync starts an incremental sync from the stored token and returns its
// id, coalescing onto any in-flight sync.
func (m *Manager) Sync() uint64 { return m.start(false) }

// Cancel requests cancellation of the in-flight sync, if any. The sync
// still terminates with a CanceledEvent even when its data finished
// applying first: the user's intent to cancel wins.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncing && m.cancel != nil {
		m.canceled = true
		m.cancel()
	}
}

// IsSyncing reports whether a sync is in flight.
func (m *Manager) IsSyncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncing
}

// Wait blocks until any in-flight sync has posted its terminal event.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) start(full bool) uint64 {
	m.mu.Lock()
	if m.syncing {
		id := m.currentID
		m.mu.Unlock()
		return id
	}
	m.seq++
	id := m.seq
	ctx, cancel := context.WithCancel(context.Background())
	m.syncing = true
	m.currentID = id
	m.cancel = cancel
	m.canceled = false
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, cancel, id, full)
	return id
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, id uint64, full bool) {
	defer m.wg.Done()
	defer cancel()
	started := time.Now()
	m.bus.Post(StartedEvent{ID: id, Full: full})

	records, err := m.execute(ctx, id, full)

	m.mu.Lock()
	canceled := m.canceled
	m.syncing = false
	m.cancel = nil
	m.mu.Unlock()

	switch {
	case canceled || ctx.Err() != nil:
		m.log.Info("sync canceled", "sync_id", id, "full", full)
		m.metrics.observe("canceled", started, records)
		m.bus.Post(CanceledEvent{ID: id, Full: full})
	case err != nil:
		m.log.Warn("sync failed", "sync_id", id, "full", full, "error", err)
		m.metrics.observe("failed", started, records)
		m.bus.Post(FailedEvent{ID: id, Full: full, Err: err})
	default:
		m.log.Info("sync succeeded", "sync_id", id, "full", full, "records", records)
		m.metrics.observe("succeeded", started, records)
		m.bus.Post(SucceededEvent{ID: id, Full: full})
	}
}

// execute runs the sync phases and returns the number of records applied.
func (m *Manager) execute(ctx context.Context, id uint64, full bool) (int, error) {
	state, err := m.store.SyncState(ctx)
	if err != nil {
		return 0, err
	}
	since := state.SyncToken
	if full {
		// Start of a full sync: record the start and clear the end, so an
		// interruption leaves the store looking never synced.
		now := time.Now().UTC()
		state.FullSyncStart = &now
		state.FullSyncEnd = nil
		state.SyncToken = ""
		if err := m.store.SetSyncState(ctx, state); err != nil {
			return 0, err
		}
		since = ""
	}

	total := 0
	token := since
	phases := []struct {
		label string
		apply func() (int, string, error)
	}{
		{"locations", func() (int, string, error) {
			d, err := m.server.LocationDelta(ctx, since)
			if err != nil {
				return 0, "", err
			}
			if full {
				err = m.store.ReplaceLocations(ctx, d.Upserts)
			} else if err = m.store.UpsertLocations(ctx, d.Upserts); err == nil {
				err = m.store.DeleteLocations(ctx, d.Deleted)
			}
			return len(d.Upserts) + len(d.Deleted), d.Token, err
		}},
		{"patients", func() (int, string, error) {
			d, err := m.server.PatientDelta(ctx, since)
			if err != nil {
				return 0, "", err
			}
			if full {
				err = m.store.ReplacePatients(ctx, d.Upserts)
			} else if err = m.store.UpsertPatients(ctx, d.Upserts); err == nil {
				err = m.store.DeletePatients(ctx, d.Deleted)
			}
			return len(d.Upserts) + len(d.Deleted), d.Token, err
		}},
		{"orders", func() (int, string, error) {
			d, err := m.server.OrderDelta(ctx, since)
			if err != nil {
				return 0, "", err
			}
			if full {
				err = m.store.ReplaceOrders(ctx, d.Upserts)
			} else if err = m.store.UpsertOrders(ctx, d.Upserts); err == nil {
				err = m.store.DeleteOrders(ctx, d.Deleted)
			}
			return len(d.Upserts) + len(d.Deleted), d.Token, err
		}},
		{"encounters", func() (int, string, error) {
			d, err := m.server.EncounterDelta(ctx, since)
			if err != nil {
				return 0, "", err
			}
			if full {
				err = m.store.ReplaceEncounters(ctx, d.Upserts)
			} else {
				err = m.store.AddEncounters(ctx, d.Upserts)
			}
			return len(d.Upserts), d.Token, err
		}},
	}
	for i, ph := range phases {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, tok, err := ph.apply()
		if err != nil {
			return total, err
		}
		total += n
		if tok != "" {
			token = tok
		}
		m.bus.Post(ProgressEvent{ID: id, Percent: (i + 1) * 100 / (len(phases) + 1), Label: ph.label})
	}

	if err := ctx.Err(); err != nil {
		return total, err
	}
	if err := m.denormalizeAll(ctx); err != nil {
		return total, err
	}
	m.bus.Post(ProgressEvent{ID: id, Percent: 100, Label: "observations"})

	// Dependent caches are rebuilt before the terminal event goes out.
	if m.provider != nil {
		if err := m.provider.Rebuild(ctx); err != nil {
			return total, err
		}
		if err := m.provider.UpdatePatientCounts(ctx); err != nil {
			return total, err
		}
	}

	// Re-read the state rather than writing back our copy: a data wipe
	// mid-sync cleared the start timestamp and must stay looking unsynced.
	state, err = m.store.SyncState(ctx)
	if err != nil {
		return total, err
	}
	state.SyncToken = token
	if full {
		now := time.Now().UTC()
		state.FullSyncEnd = &now
	}
	if err := m.store.SetSyncState(ctx, state); err != nil {
		return total, err
	}
	return total, nil
}

func (m *Manager) denormalizeAll(ctx context.Context) error {
	uuids, err := m.store.PatientUUIDsWithObs(ctx)
	if err != nil {
		return err
	}
	for _, uuid := range uuids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.store.DenormalizeObservations(ctx, uuid); err != nil {
			return err
		}
	}
	return nil
}
