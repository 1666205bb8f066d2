package forest

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/text/language"

	"cliniccore/pkg/domain"
)

// fakeSource is a RecordSource whose rows can be swapped between calls.
type fakeSource struct {
	records []domain.LocationRecord
	counts  map[string]int
	err     error
	loads   int
}

func (s *fakeSource) LocationRecords(context.Context) ([]domain.LocationRecord, error) {
	s.loads++
	return s.records, s.err
}

func (s *fakeSource) PatientCountsByLocation(context.Context) (map[string]int, error) {
	return s.counts, s.err
}

func TestProviderMemoizesPerLocale(t *testing.T) {
	src := &fakeSource{records: testRecords()}
	p := NewProvider(src, nil)
	ctx := context.Background()

	en1, err := p.GetForest(ctx, language.English)
	if err != nil {
		t.Fatalf("GetForest: %v", err)
	}
	en2, err := p.GetForest(ctx, language.English)
	if err != nil {
		t.Fatalf("GetForest: %v", err)
	}
	if en1 != en2 {
		t.Fatal("same locale should return the memoized forest")
	}
	if src.loads != 1 {
		t.Fatalf("record source loaded %d times, want 1", src.loads)
	}
	fr, err := p.GetForest(ctx, language.French)
	if err != nil {
		t.Fatalf("GetForest(fr): %v", err)
	}
	if fr == en1 {
		t.Fatal("distinct locales should get distinct forests")
	}
}

func TestProviderRebuildReplacesAndNotifies(t *testing.T) {
	src := &fakeSource{records: testRecords()}
	p := NewProvider(src, nil)
	ctx := context.Background()

	old, err := p.GetForest(ctx, language.English)
	if err != nil {
		t.Fatalf("GetForest: %v", err)
	}
	var replaced []*Forest
	p.SetOnReplaced(func(f *Forest) { replaced = append(replaced, f) })

	src.records = append(testRecords(), domain.LocationRecord{
		UUID: "zone-x", Name: "X Zone",
	})
	if err := p.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if len(replaced) != 1 {
		t.Fatalf("on-replaced fired %d times, want 1", len(replaced))
	}
	if replaced[0] == old {
		t.Fatal("rebuild should produce a new forest")
	}
	now, err := p.GetForest(ctx, language.English)
	if err != nil {
		t.Fatalf("GetForest: %v", err)
	}
	if now != replaced[0] || now.Get("zone-x") == nil {
		t.Fatal("cached forest should be the rebuilt one")
	}
}

func TestProviderRebuildWithoutCacheIsNoop(t *testing.T) {
	src := &fakeSource{records: testRecords()}
	p := NewProvider(src, nil)
	if err := p.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if src.loads != 0 {
		t.Fatal("rebuild with nothing cached should not touch the source")
	}
}

func TestProviderUpdatePatientCounts(t *testing.T) {
	src := &fakeSource{records: testRecords()}
	p := NewProvider(src, nil)
	ctx := context.Background()

	f, err := p.GetForest(ctx, language.English)
	if err != nil {
		t.Fatalf("GetForest: %v", err)
	}
	fired := false
	p.SetOnReplaced(func(*Forest) { fired = true })

	src.counts = map[string]int{"bed-2": 10}
	if err := p.UpdatePatientCounts(ctx); err != nil {
		t.Fatalf("UpdatePatientCounts: %v", err)
	}
	if fired {
		t.Fatal("count refresh must not fire the on-replaced listener")
	}
	if got := f.TotalPatients(); got != 10 {
		t.Fatalf("TotalPatients = %d, want patched 10", got)
	}
}

func TestProviderSourceErrorPropagates(t *testing.T) {
	boom := errors.New("disk gone")
	p := NewProvider(&fakeSource{err: boom}, nil)
	if _, err := p.GetForest(context.Background(), language.English); !errors.Is(err, boom) {
		t.Fatalf("GetForest error = %v, want wrapped %v", err, boom)
	}
}

func TestProviderDispose(t *testing.T) {
	src := &fakeSource{records: testRecords()}
	p := NewProvider(src, nil)
	ctx := context.Background()
	if _, err := p.GetForest(ctx, language.English); err != nil {
		t.Fatalf("GetForest: %v", err)
	}
	p.Dispose()
	if _, err := p.GetForest(ctx, language.English); err != nil {
		t.Fatalf("GetForest after dispose: %v", err)
	}
	if src.loads != 2 {
		t.Fatalf("record source loaded %d times, want rebuild after dispose", src.loads)
	}
}
