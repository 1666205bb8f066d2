package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"cliniccore/internal/cursor"
	"cliniccore/pkg/domain"
)

// Memory is an in-memory Store for tests and ephemeral environments. It
// mirrors the SQL drivers' observable behavior, including patient ordering,
// using the filters' predicate side instead of their SQL side.
type Memory struct {
	mu         sync.RWMutex
	locations  map[string]domain.LocationRecord
	patients   map[string]domain.Patient
	orders     map[string]domain.Order
	encounters map[string]domain.Encounter
	obs        map[string]domain.Obs
	obsLatest  map[string]map[string]domain.Obs // patient -> concept -> obs
	syncState  domain.SyncState
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{}
	m.reset()
	return m
}

func (m *Memory) reset() {
	m.locations = make(map[string]domain.LocationRecord)
	m.patients = make(map[string]domain.Patient)
	m.orders = make(map[string]domain.Order)
	m.encounters = make(map[string]domain.Encounter)
	m.obs = make(map[string]domain.Obs)
	m.obsLatest = make(map[string]map[string]domain.Obs)
	m.syncState = domain.SyncState{}
}

// --- Locations ---

func (m *Memory) LocationRecords(_ context.Context) ([]domain.LocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := m.countsLocked()
	out := make([]domain.LocationRecord, 0, len(m.locations))
	for _, rec := range m.locations {
		rec.NumPatients = counts[rec.UUID]
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) PatientCountsByLocation(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countsLocked(), nil
}

func (m *Memory) countsLocked() map[string]int {
	counts := make(map[string]int)
	for _, p := range m.patients {
		if p.LocationUUID != "" {
			counts[p.LocationUUID]++
		}
	}
	return counts
}

func (m *Memory) UpsertLocations(_ context.Context, recs []domain.LocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		r.NumPatients = 0
		m.locations[r.UUID] = r
	}
	return nil
}

func (m *Memory) DeleteLocations(_ context.Context, uuids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uuid := range uuids {
		delete(m.locations, uuid)
	}
	return nil
}

func (m *Memory) ReplaceLocations(ctx context.Context, recs []domain.LocationRecord) error {
	m.mu.Lock()
	m.locations = make(map[string]domain.LocationRecord)
	m.mu.Unlock()
	return m.UpsertLocations(ctx, recs)
}

// --- Patients ---

func (m *Memory) QueryPatients(_ context.Context, filter domain.PatientFilter) (cursor.TypedCursor[*domain.Patient], error) {
	if filter == nil {
		filter = domain.AllFilter{}
	}
	m.mu.RLock()
	var rows []*domain.Patient
	for _, p := range m.patients {
		p := p
		if filter.Matches(&p) {
			rows = append(rows, &p)
		}
	}
	m.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool { return patientLess(rows[i], rows[j]) })
	return cursor.FromSlice(rows), nil
}

// patientLess mirrors the SQL drivers' ORDER BY.
func patientLess(a, b *domain.Patient) bool {
	if c := strings.Compare(strings.ToLower(a.FamilyName), strings.ToLower(b.FamilyName)); c != 0 {
		return c < 0
	}
	if c := strings.Compare(strings.ToLower(a.GivenName), strings.ToLower(b.GivenName)); c != 0 {
		return c < 0
	}
	if c := strings.Compare(a.ID, b.ID); c != 0 {
		return c < 0
	}
	return a.UUID < b.UUID
}

func (m *Memory) GetPatient(_ context.Context, uuid string) (*domain.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[uuid]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) UpsertPatients(_ context.Context, ps []domain.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		m.patients[p.UUID] = p
	}
	return nil
}

func (m *Memory) DeletePatients(_ context.Context, uuids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uuid := range uuids {
		delete(m.patients, uuid)
	}
	return nil
}

func (m *Memory) ReplacePatients(ctx context.Context, ps []domain.Patient) error {
	m.mu.Lock()
	m.patients = make(map[string]domain.Patient)
	m.mu.Unlock()
	return m.UpsertPatients(ctx, ps)
}

// --- Orders ---

func (m *Memory) OrdersForPatient(_ context.Context, patientUUID string) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.PatientUUID == patientUUID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].UUID < out[j].UUID
	})
	return out, nil
}

func (m *Memory) UpsertOrders(_ context.Context, os []domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range os {
		m.orders[o.UUID] = o
	}
	return nil
}

func (m *Memory) DeleteOrders(_ context.Context, uuids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uuid := range uuids {
		delete(m.orders, uuid)
	}
	return nil
}

func (m *Memory) ReplaceOrders(ctx context.Context, os []domain.Order) error {
	m.mu.Lock()
	m.orders = make(map[string]domain.Order)
	m.mu.Unlock()
	return m.UpsertOrders(ctx, os)
}

// --- Encounters and observations ---

func (m *Memory) AddEncounters(_ context.Context, encs []domain.Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, enc := range encs {
		stored := enc
		stored.Observations = nil
		m.encounters[enc.UUID] = stored
		for _, o := range enc.Observations {
			o.PatientUUID = enc.PatientUUID
			o.EncounterUUID = enc.UUID
			m.obs[o.UUID] = o
		}
	}
	return nil
}

func (m *Memory) ReplaceEncounters(ctx context.Context, encs []domain.Encounter) error {
	m.mu.Lock()
	m.encounters = make(map[string]domain.Encounter)
	m.obs = make(map[string]domain.Obs)
	m.obsLatest = make(map[string]map[string]domain.Obs)
	m.mu.Unlock()
	return m.AddEncounters(ctx, encs)
}

func (m *Memory) DeleteObs(_ context.Context, obsUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.obs[obsUUID]; ok {
		o.Voided = true
		m.obs[obsUUID] = o
	}
	return nil
}

func (m *Memory) LatestObs(_ context.Context, patientUUID string) ([]domain.Obs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Obs
	for _, o := range m.obsLatest[patientUUID] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConceptUUID < out[j].ConceptUUID })
	return out, nil
}

func (m *Memory) DenormalizeObservations(_ context.Context, patientUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Obs
	for _, o := range m.obs {
		if o.PatientUUID == patientUUID && !o.Voided {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Time.Equal(all[j].Time) {
			return all[i].Time.Before(all[j].Time)
		}
		return all[i].UUID < all[j].UUID
	})
	latest := make(map[string]domain.Obs)
	for _, o := range all {
		latest[o.ConceptUUID] = o
	}
	m.obsLatest[patientUUID] = latest
	return nil
}

func (m *Memory) PatientUUIDsWithObs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, o := range m.obs {
		if !seen[o.PatientUUID] {
			seen[o.PatientUUID] = true
			out = append(out, o.PatientUUID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- Sync state and lifecycle ---

func (m *Memory) SyncState(_ context.Context) (domain.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.syncState, nil
}

func (m *Memory) SetSyncState(_ context.Context, s domain.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncState = s
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

func (m *Memory) Close() error { return nil }
