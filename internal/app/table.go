package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/tidwall/pretty"

	"github.com/shpitdev/extruct-enrichment/internal/enrich"
	"github.com/shpitdev/extruct-enrichment/pkg/extruct"
)

// TableFetcher reads table content. *enrich.Enricher implements it.
type TableFetcher interface {
	FetchTable(ctx context.Context, tableID string, q extruct.DataQuery) (extruct.TableData, error)
}

var _ TableFetcher = (*enrich.Enricher)(nil)

var prettyOptions = &pretty.Options{Width: 100, Prefix: "", Indent: "  ", SortKeys: false}

// RunEnrichCompany enriches a single company and writes its output record as indented JSON.
func RunEnrichCompany(ctx context.Context, enricher CompanyEnricher, item enrich.Item, w io.Writer) error {
	out, err := enricher.EnrichCompany(ctx, item)
	if err != nil {
		return err
	}
	return writePretty(w, toRecord(item, out, nil))
}

// RunFetchTable writes the current table content as indented JSON, exactly as the API returned it.
func RunFetchTable(ctx context.Context, fetcher TableFetcher, tableID string, q extruct.DataQuery, w io.Writer) error {
	data, err := fetcher.FetchTable(ctx, tableID, q)
	if err != nil {
		return err
	}
	if len(data.Raw) > 0 {
		_, err = w.Write(pretty.PrettyOptions(data.Raw, prettyOptions))
		return err
	}
	return writePretty(w, map[string]any{"rows": data.Rows})
}

// PingResult echoes a message; it checks the CLI wiring without touching the API.
type PingResult struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Success   bool   `json:"success"`
}

// RunPing writes a PingResult for message at now.
func RunPing(w io.Writer, message string, now time.Time) error {
	return writePretty(w, PingResult{
		Message:   message,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Success:   true,
	})
}

func writePretty(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = w.Write(pretty.PrettyOptions(b, prettyOptions))
	return err
}
