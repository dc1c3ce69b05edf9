package local

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/schema"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// OutputRecord is the serialized result of one item.
type OutputRecord struct {
	Item      int            `json:"item"`
	TableID   string         `json:"table_id"`
	Company   string         `json:"company"`
	RowID     string         `json:"row_id,omitempty"`
	Status    string         `json:"status"`
	RunStatus string         `json:"run_status,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// WriteJSONL writes one JSON object per line.
func WriteJSONL(w io.Writer, records []OutputRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return nil
}

// WriteCSV writes records using the result contract's column order. The data column
// holds compact JSON.
func WriteCSV(w io.Writer, records []OutputRecord) error {
	contract := schema.OutputContract{Format: schema.OutputFormatCSV, Fields: schema.ResultFields}

	cw := csv.NewWriter(w)
	if err := cw.Write(contract.Names()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		data := ""
		if len(rec.Data) > 0 {
			b, err := json.Marshal(rec.Data)
			if err != nil {
				return fmt.Errorf("encode data of record %d: %w", i, err)
			}
			data = string(b)
		}
		row := []string{
			strconv.Itoa(rec.Item),
			rec.TableID,
			rec.Company,
			rec.RowID,
			rec.Status,
			rec.RunStatus,
			rec.Error,
			data,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write dispatches on format.
func Write(w io.Writer, format schema.OutputFormat, records []OutputRecord) error {
	switch format {
	case schema.OutputFormatCSV:
		return WriteCSV(w, records)
	case schema.OutputFormatJSONL, "":
		return WriteJSONL(w, records)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
