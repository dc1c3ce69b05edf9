package local

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Item is one input record: a company (name or website) to add to an Extruct table.
type Item struct {
	// Index is the zero-based position of the record in the input.
	Index   int
	TableID string
	Company string
}

var companyColumns = []string{"company", "input", "company_input"}

// ReadItemsCSV reads items from a CSV file with a "company" column (aliases "input" and
// "company_input") and an optional "table_id" column. Rows with an empty table_id use
// defaultTableID.
func ReadItemsCSV(r io.Reader, defaultTableID string) ([]Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	companyIdx := columnIndex(header, companyColumns...)
	if companyIdx < 0 {
		return nil, fmt.Errorf("missing required column %q", "company")
	}
	tableIdx := columnIndex(header, "table_id")
	defaultTableID = strings.TrimSpace(defaultTableID)

	var items []Item
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if companyIdx >= len(rec) {
			return nil, fmt.Errorf("line %d: row has %d columns, want at least %d", line, len(rec), companyIdx+1)
		}
		company := strings.TrimSpace(rec[companyIdx])
		if company == "" {
			return nil, fmt.Errorf("line %d: empty company", line)
		}
		tableID := defaultTableID
		if tableIdx >= 0 && tableIdx < len(rec) && strings.TrimSpace(rec[tableIdx]) != "" {
			tableID = strings.TrimSpace(rec[tableIdx])
		}
		if tableID == "" {
			return nil, fmt.Errorf("line %d: no table_id and no default table id", line)
		}
		items = append(items, Item{Index: len(items), TableID: tableID, Company: company})
	}
	return items, nil
}

func columnIndex(header []string, names ...string) int {
	for _, name := range names {
		for i, col := range header {
			col = strings.TrimPrefix(col, "\ufeff")
			if strings.EqualFold(strings.TrimSpace(col), name) {
				return i
			}
		}
	}
	return -1
}
