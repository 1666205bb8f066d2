package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"golang.org/x/text/language"

	"cliniccore/internal/events"
	"cliniccore/internal/forest"
	"cliniccore/internal/store"
	"cliniccore/pkg/domain"
)

// fakeServer serves canned deltas. An optional gate blocks the first phase
// until released, and an optional failure is injected into the patients
// phase.
type fakeServer struct {
	mu         stdsync.Mutex
	locations  LocationDelta
	patients   PatientDelta
	orders     OrderDelta
	encounters EncounterDelta
	patientErr error
	gate       chan struct{}
	pulls      int
}

func (s *fakeServer) LocationDelta(ctx context.Context, since string) (LocationDelta, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return LocationDelta{}, ctx.Err()
		}
	}
	s.mu.Lock()
	s.pulls++
	s.mu.Unlock()
	return s.locations, nil
}

func (s *fakeServer) PatientDelta(context.Context, string) (PatientDelta, error) {
	if s.patientErr != nil {
		return PatientDelta{}, s.patientErr
	}
	return s.patients, nil
}

func (s *fakeServer) OrderDelta(context.Context, string) (OrderDelta, error) {
	return s.orders, nil
}

func (s *fakeServer) EncounterDelta(context.Context, string) (EncounterDelta, error) {
	return s.encounters, nil
}

func snapshotServer() *fakeServer {
	return &fakeServer{
		locations: LocationDelta{
			Upserts: []domain.LocationRecord{
				{UUID: "ward-1", Name: "Ward 1"},
				{UUID: "bed-1", ParentUUID: "ward-1", Name: "Bed 1"},
			},
			Token: "tok-1",
		},
		patients: PatientDelta{
			Upserts: []domain.Patient{
				{UUID: "p1", ID: "MSF.1", GivenName: "Alice", FamilyName: "Smith", LocationUUID: "bed-1"},
			},
			Token: "tok-2",
		},
		encounters: EncounterDelta{
			Upserts: []domain.Encounter{
				{
					UUID: "e1", PatientUUID: "p1", Time: time.Now().UTC(),
					Observations: []domain.Obs{
						{UUID: "ob1", ConceptUUID: "temp", Type: "numeric", Value: "38.2", Time: time.Now().UTC()},
					},
				},
			},
			Token: "tok-3",
		},
	}
}

// terminal subscribes to every terminal sync event and reports which one
// arrived.
type terminal struct {
	ch chan any
}

func watchTerminal(bus *events.Bus) *terminal {
	w := &terminal{ch: make(chan any, 4)}
	events.Subscribe(bus, func(ev SucceededEvent) { w.ch <- ev })
	events.Subscribe(bus, func(ev FailedEvent) { w.ch <- ev })
	events.Subscribe(bus, func(ev CanceledEvent) { w.ch <- ev })
	return w
}

func (w *terminal) next(t *testing.T) any {
	t.Helper()
	select {
	case ev := <-w.ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal sync event")
		panic("unreachable")
	}
}

func TestFullSyncSucceeds(t *testing.T) {
	st := store.NewMemory()
	bus := events.NewBus()
	provider := forest.NewProvider(st, nil)
	ctx := context.Background()

	// Prime a forest so the post-sync rebuild has something to replace.
	if _, err := provider.GetForest(ctx, language.English); err != nil {
		t.Fatalf("prime forest: %v", err)
	}

	var started []uint64
	events.Subscribe(bus, func(ev StartedEvent) { started = append(started, ev.ID) })
	w := watchTerminal(bus)

	m := NewManager(st, snapshotServer(), bus, provider, nil, nil)
	id := m.SyncAll()
	ev := w.next(t)
	ok, isOK := ev.(SucceededEvent)
	if !isOK {
		t.Fatalf("terminal event = %#v, want SucceededEvent", ev)
	}
	if ok.ID != id || !ok.Full {
		t.Fatalf("succeeded event = %+v, want id %d full", ok, id)
	}
	if len(started) != 1 || started[0] != id {
		t.Fatalf("started events = %v", started)
	}

	// Data landed.
	p, err := st.GetPatient(ctx, "p1")
	if err != nil || p == nil {
		t.Fatalf("patient after sync = %v, err %v", p, err)
	}
	latest, err := st.LatestObs(ctx, "p1")
	if err != nil || len(latest) != 1 || latest[0].Value != "38.2" {
		t.Fatalf("denormalized obs = %+v, err %v", latest, err)
	}

	// Readiness and token recorded.
	state, err := st.SyncState(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !state.Ready() {
		t.Fatalf("state after full sync = %+v, want ready", state)
	}
	if state.SyncToken != "tok-3" {
		t.Fatalf("token = %q, want the last phase's", state.SyncToken)
	}

	// Forest was rebuilt before the success event; by now it must show the
	// synced locations and counts.
	f, err := provider.GetForest(ctx, language.English)
	if err != nil {
		t.Fatalf("forest: %v", err)
	}
	if f.Size() != 2 || f.TotalPatients() != 1 {
		t.Fatalf("forest size %d, patients %d", f.Size(), f.TotalPatients())
	}
}

func TestForestRebuiltBeforeSuccessEvent(t *testing.T) {
	st := store.NewMemory()
	bus := events.NewBus()
	provider := forest.NewProvider(st, nil)
	ctx := context.Background()
	if _, err := provider.GetForest(ctx, language.English); err != nil {
		t.Fatalf("prime forest: %v", err)
	}

	sizeAtSuccess := make(chan int, 1)
	events.Subscribe(bus, func(SucceededEvent) {
		f, err := provider.GetForest(ctx, language.English)
		if err != nil {
			sizeAtSuccess <- -1
			return
		}
		sizeAtSuccess <- f.Size()
	})

	m := NewManager(st, snapshotServer(), bus, provider, nil, nil)
	m.SyncAll()
	m.Wait()
	select {
	case n := <-sizeAtSuccess:
		if n != 2 {
			t.Fatalf("forest size observed inside the success handler = %d, want 2", n)
		}
	default:
		t.Fatal("success event never delivered")
	}
}

func TestFailedSyncLeavesNotReady(t *testing.T) {
	st := store.NewMemory()
	bus := events.NewBus()
	srv := snapshotServer()
	srv.patientErr = errors.New("server 502")
	w := watchTerminal(bus)

	m := NewManager(st, srv, bus, nil, nil, nil)
	id := m.SyncAll()
	ev := w.next(t)
	failed, isFailed := ev.(FailedEvent)
	if !isFailed {
		t.Fatalf("terminal event = %#v, want FailedEvent", ev)
	}
	if failed.ID != id || !errors.Is(failed.Err, srv.patientErr) {
		t.Fatalf("failed event = %+v", failed)
	}

	state, err := st.SyncState(context.Background())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Ready() {
		t.Fatal("interrupted full sync must leave the store not ready")
	}
	if state.FullSyncStart == nil {
		t.Fatal("full sync start should have been recorded")
	}
	if state.FullSyncEnd != nil {
		t.Fatal("full sync end must not be recorded on failure")
	}
}

func TestIncrementalSyncUsesStoredToken(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Hour)
	end := start.Add(time.Minute)
	if err := st.SetSyncState(ctx, domain.SyncState{FullSyncStart: &start, FullSyncEnd: &end, SyncToken: "tok-old"}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	if err := st.UpsertPatients(ctx, []domain.Patient{{UUID: "p-old", FamilyName: "Old"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var sinces []string
	srv := &fakeServer{
		patients: PatientDelta{
			Upserts: []domain.Patient{{UUID: "p-new", FamilyName: "New"}},
			Deleted: []string{"p-old"},
			Token:   "tok-new",
		},
	}
	wrapped := serverFunc{
		inner: srv,
		onPatients: func(since string) {
			sinces = append(sinces, since)
		},
	}

	bus := events.NewBus()
	w := watchTerminal(bus)
	m := NewManager(st, wrapped, bus, nil, nil, nil)
	m.Sync()
	if _, ok := w.next(t).(SucceededEvent); !ok {
		t.Fatal("incremental sync should succeed")
	}

	if len(sinces) != 1 || sinces[0] != "tok-old" {
		t.Fatalf("server saw since tokens %v, want the stored token", sinces)
	}
	if p, _ := st.GetPatient(ctx, "p-old"); p != nil {
		t.Fatal("incremental delete not applied")
	}
	if p, _ := st.GetPatient(ctx, "p-new"); p == nil {
		t.Fatal("incremental upsert not applied")
	}
	state, _ := st.SyncState(ctx)
	if state.SyncToken != "tok-new" {
		t.Fatalf("token = %q, want advanced", state.SyncToken)
	}
	if !state.Ready() {
		t.Fatal("incremental sync must not clear readiness")
	}
}

// serverFunc wraps a Server to observe the since argument.
type serverFunc struct {
	inner      Server
	onPatients func(since string)
}

func (s serverFunc) LocationDelta(ctx context.Context, since string) (LocationDelta, error) {
	return s.inner.LocationDelta(ctx, since)
}

func (s serverFunc) PatientDelta(ctx context.Context, since string) (PatientDelta, error) {
	if s.onPatients != nil {
		s.onPatients(since)
	}
	return s.inner.PatientDelta(ctx, since)
}

func (s serverFunc) OrderDelta(ctx context.Context, since string) (OrderDelta, error) {
	return s.inner.OrderDelta(ctx, since)
}

func (s serverFunc) EncounterDelta(ctx context.Context, since string) (EncounterDelta, error) {
	return s.inner.EncounterDelta(ctx, since)
}

func TestConcurrentSyncsCoalesce(t *testing.T) {
	st := store.NewMemory()
	bus := events.NewBus()
	srv := snapshotServer()
	srv.gate = make(chan struct{})
	w := watchTerminal(bus)

	m := NewManager(st, srv, bus, nil, nil, nil)
	id1 := m.SyncAll()
	if !m.IsSyncing() {
		t.Fatal("manager should report in-flight sync")
	}
	id2 := m.Sync()
	id3 := m.SyncAll()
	if id2 != id1 || id3 != id1 {
		t.Fatalf("coalesced ids = %d/%d/%d, want all %d", id1, id2, id3, id1)
	}
	close(srv.gate)
	if _, ok := w.next(t).(SucceededEvent); !ok {
		t.Fatal("gated sync should succeed once released")
	}
	m.Wait()

	srv.mu.Lock()
	pulls := srv.pulls
	srv.mu.Unlock()
	if pulls != 1 {
		t.Fatalf("server pulled %d times, want the one coalesced sync", pulls)
	}

	// After completion a new sync gets a new id.
	srv.gate = nil
	id4 := m.Sync()
	if id4 == id1 {
		t.Fatal("completed sync id should not be reused")
	}
	w.next(t)
	m.Wait()
}

func TestCancelWins(t *testing.T) {
	st := store.NewMemory()
	bus := events.NewBus()
	srv := snapshotServer()
	srv.gate = make(chan struct{})
	w := watchTerminal(bus)

	m := NewManager(st, srv, bus, nil, nil, nil)
	id := m.SyncAll()
	m.Cancel()
	close(srv.gate)

	ev := w.next(t)
	canceled, isCanceled := ev.(CanceledEvent)
	if !isCanceled {
		t.Fatalf("terminal event = %#v, want CanceledEvent", ev)
	}
	if canceled.ID != id {
		t.Fatalf("canceled id = %d, want %d", canceled.ID, id)
	}
	state, _ := st.SyncState(context.Background())
	if state.Ready() {
		t.Fatal("canceled full sync must leave the store not ready")
	}
	if m.IsSyncing() {
		t.Fatal("manager should be idle after cancellation")
	}
}

func TestCancelWithoutSyncIsNoop(t *testing.T) {
	m := NewManager(store.NewMemory(), snapshotServer(), events.NewBus(), nil, nil, nil)
	m.Cancel()
	if m.IsSyncing() {
		t.Fatal("idle manager should stay idle")
	}
}

func TestProgressEventsAdvance(t *testing.T) {
	bus := events.NewBus()
	var percents []int
	events.Subscribe(bus, func(ev ProgressEvent) { percents = append(percents, ev.Percent) })
	w := watchTerminal(bus)

	m := NewManager(store.NewMemory(), snapshotServer(), bus, nil, nil, nil)
	m.SyncAll()
	if _, ok := w.next(t).(SucceededEvent); !ok {
		t.Fatal("sync should succeed")
	}
	m.Wait()

	if len(percents) == 0 {
		t.Fatal("no progress events")
	}
	last := 0
	for _, p := range percents {
		if p < last {
			t.Fatalf("progress went backwards: %v", percents)
		}
		last = p
	}
	if last != 100 {
		t.Fatalf("final progress = %d, want 100", last)
	}
}

func TestSchedulerTicksCoalesce(t *testing.T) {
	st := store.NewMemory()
	bus := events.NewBus()
	done := make(chan struct{}, 16)
	events.Subscribe(bus, func(SucceededEvent) {
		select {
		case done <- struct{}{}:
		default:
		}
	})

	m := NewManager(st, snapshotServer(), bus, nil, nil, nil)
	s := NewScheduler(m, 10*time.Millisecond, nil)
	s.Start()
	s.Start() // second start is a no-op
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never triggered a sync")
	}
	s.Stop()
	s.Stop() // second stop is a no-op
	m.Wait()
}

func TestSchedulerConcurrentStartStop(t *testing.T) {
	st := store.NewMemory()
	m := NewManager(st, snapshotServer(), events.NewBus(), nil, nil, nil)
	s := NewScheduler(m, time.Hour, nil)

	var wg stdsync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.Start()
				s.Stop()
			}
		}()
	}
	wg.Wait()
	s.Stop()
	m.Wait()
}
