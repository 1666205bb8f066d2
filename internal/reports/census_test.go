package reports

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"

	"cliniccore/internal/attach"
	"cliniccore/internal/forest"
	"cliniccore/pkg/domain"
)

type censusSource struct {
	records []domain.LocationRecord
}

func (s censusSource) LocationRecords(context.Context) ([]domain.LocationRecord, error) {
	return s.records, nil
}

func (s censusSource) PatientCountsByLocation(context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, r := range s.records {
		if r.NumPatients > 0 {
			counts[r.UUID] = r.NumPatients
		}
	}
	return counts, nil
}

func censusRecords() []domain.LocationRecord {
	return []domain.LocationRecord{
		{UUID: "zone", Name: "Confirmed Zone"},
		{UUID: "ward", ParentUUID: "zone", Name: "Ward 1", NumPatients: 2},
		{UUID: "bed", ParentUUID: "ward", Name: "Bed 1", NumPatients: 1},
	}
}

func TestCensusReportLayout(t *testing.T) {
	f := forest.Build(censusRecords(), language.English, nil)
	data, err := CensusReport(f, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer wb.Close()

	cell := func(addr string) string {
		t.Helper()
		v, err := wb.GetCellValue("Census", addr)
		if err != nil {
			t.Fatalf("read %s: %v", addr, err)
		}
		return v
	}

	if cell("A1") != "Location" || cell("C1") != "Patients in subtree" {
		t.Fatalf("header row = %q / %q", cell("A1"), cell("C1"))
	}
	// Rows follow depth-first order with indentation by depth.
	if cell("A2") != "Confirmed Zone" {
		t.Fatalf("A2 = %q", cell("A2"))
	}
	if got := cell("A3"); strings.TrimSpace(got) != "Ward 1" || !strings.HasPrefix(got, " ") {
		t.Fatalf("A3 = %q, want indented Ward 1", got)
	}
	if got := cell("A4"); strings.TrimSpace(got) != "Bed 1" {
		t.Fatalf("A4 = %q", got)
	}
	if cell("B3") != "2" || cell("C3") != "3" {
		t.Fatalf("ward counts = %q here, %q subtree; want 2 and 3", cell("B3"), cell("C3"))
	}
	if cell("C2") != "3" {
		t.Fatalf("zone subtree = %q, want 3", cell("C2"))
	}
	if cell("A5") != "Total" || cell("B5") != "3" {
		t.Fatalf("total row = %q / %q", cell("A5"), cell("B5"))
	}
}

func TestStoreCensusReport(t *testing.T) {
	provider := forest.NewProvider(censusSource{records: censusRecords()}, nil)
	store := attach.NewMemory()
	ctx := context.Background()

	key, err := StoreCensusReport(ctx, provider, language.English, store)
	if err != nil {
		t.Fatalf("store census: %v", err)
	}
	if !strings.HasPrefix(key, "reports/census-") || !strings.HasSuffix(key, ".xlsx") {
		t.Fatalf("key = %q", key)
	}
	info, data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(data) == 0 || info.Size == 0 {
		t.Fatal("stored workbook is empty")
	}
	if _, err := excelize.OpenReader(bytes.NewReader(data)); err != nil {
		t.Fatalf("stored bytes are not a workbook: %v", err)
	}
}
