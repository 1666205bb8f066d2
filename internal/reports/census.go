// Package reports renders workbook reports from the local data model.
package reports

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"

	"cliniccore/internal/attach"
	"cliniccore/internal/forest"
)

const censusSheet = "Census"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CensusReport renders a per-location patient census workbook: one row per
// location in display order, indented by depth, with the count at the
// location and the count for its whole subtree.
func CensusReport(f *forest.Forest, generated time.Time) ([]byte, error) {
	wb := excelize.NewFile()
	defer wb.Close()
	wb.SetSheetName(wb.GetSheetName(0), censusSheet)

	header, err := wb.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("census style: %w", err)
	}
	cells := [][]any{
		{"Location", "Patients here", "Patients in subtree"},
	}
	for _, node := range f.AllNodes() {
		indent := strings.Repeat("    ", f.Depth(node))
		cells = append(cells, []any{
			indent + node.Name,
			f.CountPatientsAt(node),
			f.CountPatientsIn(node),
		})
	}
	cells = append(cells, []any{"Total", f.TotalPatients(), f.TotalPatients()})
	for i, row := range cells {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, fmt.Errorf("census cell: %w", err)
		}
		if err := wb.SetSheetRow(censusSheet, addr, &row); err != nil {
			return nil, fmt.Errorf("census row %d: %w", i+1, err)
		}
	}
	if err := wb.SetRowStyle(censusSheet, 1, 1, header); err != nil {
		return nil, fmt.Errorf("census header: %w", err)
	}
	if err := wb.SetColWidth(censusSheet, "A", "A", 40); err != nil {
		return nil, fmt.Errorf("census layout: %w", err)
	}
	footer := fmt.Sprintf("Generated %s (%s)", generated.UTC().Format(time.RFC3339), f.Locale())
	if err := wb.SetCellValue(censusSheet, fmt.Sprintf("A%d", len(cells)+2), footer); err != nil {
		return nil, fmt.Errorf("census footer: %w", err)
	}

	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		return nil, fmt.Errorf("census write: %w", err)
	}
	return buf.Bytes(), nil
}

// CensusKey is the attachment key a stored census report lands under.
func CensusKey(generated time.Time) string {
	return "reports/census-" + generated.UTC().Format("20060102-150405") + ".xlsx"
}

// StoreCensusReport renders the census for the provider's forest in the
// given locale and saves it to the attachment store. Returns the stored key.
func StoreCensusReport(ctx context.Context, p *forest.Provider, locale language.Tag, store attach.Store) (string, error) {
	f, err := p.GetForest(ctx, locale)
	if err != nil {
		return "", err
	}
	now := time.Now()
	data, err := CensusReport(f, now)
	if err != nil {
		return "", err
	}
	key := CensusKey(now)
	if _, err := store.Put(ctx, key, data, xlsxContentType); err != nil {
		return "", fmt.Errorf("store census: %w", err)
	}
	return key, nil
}
