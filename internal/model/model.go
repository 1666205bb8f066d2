// Package model provides AppModel, the façade mediating every local-store
// read and write. Each operation runs off the calling goroutine, posts
// exactly one terminal event (success or failure) on the supplied bus, and
// hands resource ownership to that event; the bus's cleanup subscriber
// closes anything nobody consumed.
package model

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cliniccore/internal/attach"
	"cliniccore/internal/events"
	"cliniccore/internal/forest"
	"cliniccore/internal/logging"
	"cliniccore/internal/store"
	"cliniccore/pkg/domain"
)

// AppModel issues asynchronous operations against the local store. Results
// are delivered through a single dispatcher goroutine, so events are
// observed in the order they were posted and consumers keep a
// single-threaded view of the model.
type AppModel struct {
	store    store.Store
	provider *forest.Provider
	attach   attach.Store // optional archival of raw encounter payloads
	log      logging.Logger

	opSeq    atomic.Uint64
	dispatch chan func()
	tasks    sync.WaitGroup
	wg       sync.WaitGroup

	closeOnce sync.Once
}

// New constructs an AppModel and starts its dispatcher. The attachment
// store may be nil, disabling payload archival.
func New(st store.Store, provider *forest.Provider, att attach.Store, log logging.Logger) *AppModel {
	if log == nil {
		log = logging.Nop()
	}
	m := &AppModel{
		store:    st,
		provider: provider,
		attach:   att,
		log:      log,
		dispatch: make(chan func(), 64),
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for fn := range m.dispatch {
			fn()
		}
	}()
	return m
}

// Close waits for in-flight operations to finish and their events to be
// delivered, then stops the dispatcher. Operations issued after Close
// starts are not permitted.
func (m *AppModel) Close() {
	m.closeOnce.Do(func() {
		m.tasks.Wait()
		close(m.dispatch)
		m.wg.Wait()
	})
}

// run executes task in the background and delivers the event it returns
// through the dispatcher. A fresh cleanup subscriber is registered before
// the task is issued and released once the terminal event has been posted.
// The tasks group keeps Close from closing the dispatch channel while a
// task goroutine still has a send pending.
func (m *AppModel) run(bus *events.Bus, task func(op uint64) any) uint64 {
	op := m.opSeq.Add(1)
	cleanup := events.NewCleanup(bus, op)
	m.tasks.Add(1)
	go func() {
		defer m.tasks.Done()
		ev := task(op)
		m.dispatch <- func() {
			bus.Post(ev)
			cleanup.Release()
		}
	}()
	return op
}

// LoadPatients queries patients matching the filter and free-text
// constraint and posts a PatientsLoadedEvent carrying the result cursor.
func (m *AppModel) LoadPatients(ctx context.Context, bus *events.Bus, filter domain.PatientFilter, constraint string) uint64 {
	if filter == nil {
		filter = domain.AllFilter{}
	}
	combined := domain.AllOf(filter, domain.SearchFilter(constraint))
	return m.run(bus, func(op uint64) any {
		cur, err := m.store.QueryPatients(ctx, combined)
		if err != nil {
			return CrudFailedEvent{Op: op, Operation: "loadPatients", Err: err}
		}
		return PatientsLoadedEvent{Op: op, Cursor: cur}
	})
}

// LoadSinglePatient posts a SinglePatientLoadedEvent; a missing uuid yields
// an event with a nil Patient rather than a failure.
func (m *AppModel) LoadSinglePatient(ctx context.Context, bus *events.Bus, patientUUID string) uint64 {
	return m.run(bus, func(op uint64) any {
		p, err := m.store.GetPatient(ctx, patientUUID)
		if err != nil {
			return CrudFailedEvent{Op: op, Operation: "loadSinglePatient", Err: err}
		}
		return SinglePatientLoadedEvent{Op: op, Patient: p}
	})
}

// AddPatient stores a new patient, assigning a uuid when absent, and
// refreshes the forest's patient counts.
func (m *AppModel) AddPatient(ctx context.Context, bus *events.Bus, p domain.Patient) uint64 {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	p.UpdatedAt = time.Now().UTC()
	return m.run(bus, func(op uint64) any {
		if err := m.store.UpsertPatients(ctx, []domain.Patient{p}); err != nil {
			return CrudFailedEvent{Op: op, Operation: "addPatient", Err: err}
		}
		m.refreshCounts(ctx)
		return PatientCreatedEvent{Op: op, Patient: p}
	})
}

// UpdatePatient stores changed patient fields and refreshes the forest's
// patient counts, since the assigned location may have moved.
func (m *AppModel) UpdatePatient(ctx context.Context, bus *events.Bus, p domain.Patient) uint64 {
	p.UpdatedAt = time.Now().UTC()
	return m.run(bus, func(op uint64) any {
		if err := m.store.UpsertPatients(ctx, []domain.Patient{p}); err != nil {
			return CrudFailedEvent{Op: op, Operation: "updatePatient", Err: err}
		}
		m.refreshCounts(ctx)
		return PatientUpdatedEvent{Op: op, Patient: p}
	})
}

// AddOrder stores a new treatment order.
func (m *AppModel) AddOrder(ctx context.Context, bus *events.Bus, o domain.Order) uint64 {
	if o.UUID == "" {
		o.UUID = uuid.NewString()
	}
	return m.run(bus, func(op uint64) any {
		if err := m.store.UpsertOrders(ctx, []domain.Order{o}); err != nil {
			return CrudFailedEvent{Op: op, Operation: "addOrder", Err: err}
		}
		return OrderAddedEvent{Op: op, Order: o}
	})
}

// DeleteOrder removes an order by uuid.
func (m *AppModel) DeleteOrder(ctx context.Context, bus *events.Bus, orderUUID string) uint64 {
	return m.run(bus, func(op uint64) any {
		if err := m.store.DeleteOrders(ctx, []string{orderUUID}); err != nil {
			return CrudFailedEvent{Op: op, Operation: "deleteOrder", Err: err}
		}
		return OrderDeletedEvent{Op: op, UUID: orderUUID}
	})
}

// AddEncounter stores an encounter with its observations, refreshes the
// patient's denormalized observations, and archives the raw submitted
// payload when an attachment store is configured.
func (m *AppModel) AddEncounter(ctx context.Context, bus *events.Bus, enc domain.Encounter, payload []byte) uint64 {
	if enc.UUID == "" {
		enc.UUID = uuid.NewString()
	}
	for i := range enc.Observations {
		if enc.Observations[i].UUID == "" {
			enc.Observations[i].UUID = uuid.NewString()
		}
	}
	return m.run(bus, func(op uint64) any {
		if err := m.store.AddEncounters(ctx, []domain.Encounter{enc}); err != nil {
			return CrudFailedEvent{Op: op, Operation: "addEncounter", Err: err}
		}
		if err := m.store.DenormalizeObservations(ctx, enc.PatientUUID); err != nil {
			return CrudFailedEvent{Op: op, Operation: "addEncounter", Err: err}
		}
		if m.attach != nil && len(payload) > 0 {
			if err := attach.ArchiveEncounterPayload(ctx, m.attach, enc.UUID, payload); err != nil {
				// Archival is best-effort; the encounter itself is stored.
				m.log.Warn("archive encounter payload failed", "encounter_uuid", enc.UUID, "error", err)
			}
		}
		return EncounterAddedEvent{Op: op, Encounter: enc}
	})
}

// AddObservationEncounter wraps ad hoc observations in a new encounter for
// the patient, timestamped now.
func (m *AppModel) AddObservationEncounter(ctx context.Context, bus *events.Bus, patientUUID string, obs []domain.Obs) uint64 {
	enc := domain.Encounter{
		PatientUUID:  patientUUID,
		Time:         time.Now().UTC(),
		Observations: obs,
	}
	return m.AddEncounter(ctx, bus, enc, nil)
}

// DeleteObs voids an observation and refreshes the patient's denormalized
// observations.
func (m *AppModel) DeleteObs(ctx context.Context, bus *events.Bus, obsUUID, patientUUID string) uint64 {
	return m.run(bus, func(op uint64) any {
		if err := m.store.DeleteObs(ctx, obsUUID); err != nil {
			return CrudFailedEvent{Op: op, Operation: "deleteObs", Err: err}
		}
		if err := m.store.DenormalizeObservations(ctx, patientUUID); err != nil {
			return CrudFailedEvent{Op: op, Operation: "deleteObs", Err: err}
		}
		return ObsDeletedEvent{Op: op, UUID: obsUUID}
	})
}

// DenormalizeObservations recomputes the latest-observation table for one
// patient.
func (m *AppModel) DenormalizeObservations(ctx context.Context, bus *events.Bus, patientUUID string) uint64 {
	return m.run(bus, func(op uint64) any {
		if err := m.store.DenormalizeObservations(ctx, patientUUID); err != nil {
			return CrudFailedEvent{Op: op, Operation: "denormalizeObservations", Err: err}
		}
		return ObsDenormalizedEvent{Op: op, PatientUUID: patientUUID}
	})
}

// IsReady reports whether a complete full sync has ever finished. It is a
// synchronous read of two small persisted fields and safe to call from any
// goroutine that may do I/O.
func (m *AppModel) IsReady(ctx context.Context) bool {
	state, err := m.store.SyncState(ctx)
	if err != nil {
		m.log.Warn("read sync state failed", "error", err)
		return false
	}
	return state.Ready()
}

// IsFullModelAvailable is an alias for IsReady, matching the consumer-side
// vocabulary.
func (m *AppModel) IsFullModelAvailable(ctx context.Context) bool { return m.IsReady(ctx) }

// Reset wipes all local data and process-wide caches. Used on logout and
// account switch.
func (m *AppModel) Reset(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	if m.provider != nil {
		m.provider.Dispose()
	}
	return nil
}

func (m *AppModel) refreshCounts(ctx context.Context) {
	if m.provider == nil {
		return
	}
	if err := m.provider.UpdatePatientCounts(ctx); err != nil {
		m.log.Warn("refresh patient counts failed", "error", err)
	}
}
