package schema

import (
	"fmt"
	"strings"
)

// OutputFormat captures how result records are serialized.
type OutputFormat string

const (
	OutputFormatJSONL OutputFormat = "jsonl"
	OutputFormatCSV   OutputFormat = "csv"
)

// Field captures the minimal behavior-relevant schema fields.
type Field struct {
	Name     string
	Type     string
	Nullable bool
}

// OutputContract is the logical schema of one enrichment result record.
type OutputContract struct {
	Format OutputFormat
	Fields []Field
}

// ResultFields is the column order used by every output writer.
var ResultFields = []Field{
	{Name: "item", Type: "integer"},
	{Name: "table_id", Type: "string"},
	{Name: "company", Type: "string"},
	{Name: "row_id", Type: "string", Nullable: true},
	{Name: "status", Type: "string"},
	{Name: "run_status", Type: "string", Nullable: true},
	{Name: "error", Type: "string", Nullable: true},
	{Name: "data", Type: "json", Nullable: true},
}

// Names returns the field names in contract order.
func (c OutputContract) Names() []string {
	out := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		out = append(out, f.Name)
	}
	return out
}

// NormalizeFormat maps user input to a supported output format.
// Empty input selects JSONL.
func NormalizeFormat(raw string) (OutputFormat, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	switch s {
	case "", "jsonl", "json", "ndjson":
		return OutputFormatJSONL, nil
	case "csv":
		return OutputFormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want jsonl or csv)", raw)
	}
}

// FormatForPath guesses the format from a file extension, falling back to JSONL.
func FormatForPath(path string) OutputFormat {
	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(path)), ".csv") {
		return OutputFormatCSV
	}
	return OutputFormatJSONL
}
