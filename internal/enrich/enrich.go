package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shpitdev/extruct-enrichment/pkg/extruct"
	"github.com/shpitdev/extruct-enrichment/pkg/jobwait"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/core"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/redact"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxWait      = 15 * time.Minute
)

// API is the subset of the Extruct client used by the enrichment operations.
type API interface {
	AddRows(ctx context.Context, tableID string, inputs []string, run bool) ([]extruct.Row, error)
	RunStatus(ctx context.Context, tableID string) (jobwait.Status, error)
	GetRow(ctx context.Context, tableID, rowID string) (extruct.Record, error)
	GetTableData(ctx context.Context, tableID string, q extruct.DataQuery) (extruct.TableData, error)
}

var _ API = (*extruct.Client)(nil)

// Item is one company to enrich in one table.
type Item struct {
	Index   int
	TableID string
	Company string
}

// Output is the result of enriching one item.
type Output struct {
	Item      Item
	RowID     string
	RunStatus jobwait.Status
	Record    extruct.Record
}

// Options configures the wait for enrichment to finish.
type Options struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	// Clock drives the poll timer. Nil means the wall clock.
	Clock  clock.Clock
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Enricher adds companies to Extruct tables and waits for their enrichment.
type Enricher struct {
	api  API
	wait jobwait.Options
	log  *slog.Logger
}

func New(api API, opts Options) *Enricher {
	opts = opts.withDefaults()
	return &Enricher{
		api: api,
		wait: jobwait.Options{
			Interval: opts.PollInterval,
			Deadline: opts.MaxWait,
			Clock:    opts.Clock,
		},
		log: opts.Logger,
	}
}

// EnrichCompany adds the company as a new row with run enabled, waits until the table
// stops running, and returns the row.
//
// Errors before the row exists are *core.TransientError when resubmitting is safe.
// Errors after the row exists are *core.PermanentError: a retry would add a duplicate row.
func (e *Enricher) EnrichCompany(ctx context.Context, item Item) (Output, error) {
	out := Output{Item: item}
	tableID := strings.TrimSpace(item.TableID)
	company := strings.TrimSpace(item.Company)
	if tableID == "" {
		return out, fmt.Errorf("table id is required")
	}
	if company == "" {
		return out, fmt.Errorf("company is required")
	}
	log := e.log.With("item", item.Index, "table_id", tableID)

	rows, err := e.api.AddRows(ctx, tableID, []string{company}, true)
	if err != nil {
		if extruct.IsNotFound(err) {
			return out, fmt.Errorf("add row: table %s not found: %w", tableID, err)
		}
		err = fmt.Errorf("add row: %w", err)
		if extruct.IsRetryableSubmit(err) && ctx.Err() == nil {
			return out, &core.TransientError{Err: err}
		}
		return out, err
	}
	if len(rows) == 0 || rows[0].ID == "" {
		// The request was accepted, so a row may exist without an id we can poll.
		return out, &core.PermanentError{Err: fmt.Errorf("add row: %w", extruct.ErrMissingRowID)}
	}
	out.RowID = rows[0].ID
	log = log.With("row_id", out.RowID)
	log.Info("row added, waiting for enrichment",
		"poll_interval", e.wait.Interval, "max_wait", e.wait.Deadline)

	start := time.Now()
	polls := 0
	fetch := func(ctx context.Context) (jobwait.Status, error) {
		polls++
		st, err := e.api.RunStatus(ctx, tableID)
		if err != nil {
			log.Warn("run status poll failed", "poll", polls, "err", redact.Error(err))
			return "", err
		}
		log.Debug("run status", "poll", polls, "status", string(st))
		return st, nil
	}

	status, err := jobwait.Wait(ctx, fetch, e.wait)
	if err != nil {
		var te *jobwait.TimeoutError
		if errors.As(err, &te) {
			err = fmt.Errorf("enrichment did not finish within %s; check table %s manually for row %s: %w",
				te.Deadline, tableID, out.RowID, err)
		} else {
			err = fmt.Errorf("wait for row %s: %w", out.RowID, err)
		}
		return out, &core.PermanentError{Err: err}
	}
	out.RunStatus = status
	log.Info("enrichment finished", "status", string(status), "polls", polls,
		"elapsed", time.Since(start).Round(time.Millisecond))

	rec, err := e.api.GetRow(ctx, tableID, out.RowID)
	if err != nil {
		return out, &core.PermanentError{Err: fmt.Errorf("get row %s: %w", out.RowID, err)}
	}
	out.Record = rec
	return out, nil
}

// FetchTable returns the current content of a table.
func (e *Enricher) FetchTable(ctx context.Context, tableID string, q extruct.DataQuery) (extruct.TableData, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return extruct.TableData{}, fmt.Errorf("table id is required")
	}
	data, err := e.api.GetTableData(ctx, tableID, q)
	if err != nil {
		return extruct.TableData{}, fmt.Errorf("fetch table %s: %w", tableID, err)
	}
	e.log.Debug("table fetched", "table_id", tableID, "rows", len(data.Rows))
	return data, nil
}

// Data returns the enrichment payload of the row: its "data" object when present,
// otherwise the whole record.
func (o Output) Data() map[string]any {
	if o.Record == nil {
		return nil
	}
	if d, ok := o.Record["data"].(map[string]any); ok {
		return d
	}
	return map[string]any(o.Record)
}
